package filegate

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/sync/semaphore"
)

func TestNewRejectsMissingDir(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Fatal("expected error for missing base directory")
	}
}

func TestFullPathRejectsAbsolute(t *testing.T) {
	g, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.FullPath("/etc/passwd"); err == nil {
		t.Fatal("expected error for absolute relative-path")
	}
}

func TestOpenCreateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	g, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	w, err := g.Create(ctx, "out.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	// Close is safe to call twice and only releases once.
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if !g.ExistsFile("out.txt") {
		t.Fatal("expected out.txt to exist")
	}

	r, err := g.Open(ctx, "out.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	buf := make([]byte, 5)
	if _, err := r.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q", buf)
	}
}

// TestDescriptorPressure is the spec's S6 scenario: 10000 trivial
// sources under a small concurrent-open budget complete without error.
func TestDescriptorPressure(t *testing.T) {
	dir := t.TempDir()
	const n = 10000
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, "f"+strconv.Itoa(i))
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	g, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	g.sem = semaphore.NewWeighted(64)

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := g.Open(ctx, "f"+strconv.Itoa(i))
			if err != nil {
				errs <- err
				return
			}
			defer h.Close()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected open error under descriptor pressure: %v", err)
	}
}
