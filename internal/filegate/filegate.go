// Package filegate provides bounded concurrent file access against an
// OS file-descriptor budget, for use by the Kbuild crawler which may
// have thousands of directories in flight at once.
package filegate

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kquery/kquery/internal/kqerr"
)

// descriptorHeadroom is reserved below the soft RLIMIT_NOFILE to leave
// room for stdio, the codec writer, and anything else the process holds
// open outside the gate.
const descriptorHeadroom = 10

// fallbackBudget is used when the process's descriptor limit cannot be
// read (e.g. unsupported platform).
const fallbackBudget = 256

// Gate bounds concurrent file opens against a base directory.
type Gate struct {
	dir string
	sem *semaphore.Weighted
}

// New creates a Gate rooted at dir, sized from the process's soft
// RLIMIT_NOFILE minus a small headroom.
func New(dir string) (*Gate, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, kqerr.Wrap(kqerr.Config, dir, "source root does not exist", err)
	}
	if !info.IsDir() {
		return nil, kqerr.New(kqerr.Config, dir, "source root is not a directory")
	}

	budget := descriptorBudget()
	return &Gate{dir: dir, sem: semaphore.NewWeighted(int64(budget))}, nil
}

// BaseDir returns the gate's base directory.
func (g *Gate) BaseDir() string {
	return g.dir
}

// FullPath joins a relative path onto the gate's base directory,
// rejecting absolute paths.
func (g *Gate) FullPath(relative string) (string, error) {
	if filepath.IsAbs(relative) {
		return "", kqerr.New(kqerr.Config, relative, "path must be relative")
	}
	return filepath.Join(g.dir, relative), nil
}

// ExistsFile reports whether relative names a regular file under the
// base directory.
func (g *Gate) ExistsFile(relative string) bool {
	full, err := g.FullPath(relative)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.Mode().IsRegular()
}

// ExistsDir reports whether relative names a directory under the base
// directory.
func (g *Gate) ExistsDir(relative string) bool {
	full, err := g.FullPath(relative)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.IsDir()
}

// Mtime returns the modification time of relative, or the zero time if
// it cannot be probed.
func (g *Gate) Mtime(relative string) (time.Time, bool) {
	full, err := g.FullPath(relative)
	if err != nil {
		return time.Time{}, false
	}
	info, err := os.Stat(full)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// ReadHandle is a permit-holding open file, safe to Read, Seek, and
// Close from a single goroutine.
type ReadHandle struct {
	*os.File
	release func()
	once    sync.Once
}

// Close releases the file and the descriptor permit exactly once.
func (h *ReadHandle) Close() error {
	var err error
	h.once.Do(func() {
		err = h.File.Close()
		h.release()
	})
	return err
}

var _ io.ReadSeekCloser = (*ReadHandle)(nil)

// Open acquires a descriptor permit and opens relative for reading.
func (g *Gate) Open(ctx context.Context, relative string) (*ReadHandle, error) {
	full, err := g.FullPath(relative)
	if err != nil {
		return nil, err
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, kqerr.Wrap(kqerr.IO, relative, "waiting for descriptor budget", err)
	}

	f, err := os.Open(full)
	if err != nil {
		g.sem.Release(1)
		return nil, kqerr.Wrap(kqerr.IO, relative, "open failed", err)
	}

	return &ReadHandle{File: f, release: func() { g.sem.Release(1) }}, nil
}

// WriteHandle is a permit-holding created file, safe to Write and Close.
type WriteHandle struct {
	*os.File
	release func()
	once    sync.Once
}

// Close flushes, closes, and releases the descriptor permit exactly
// once, regardless of whether a prior write errored.
func (h *WriteHandle) Close() error {
	var err error
	h.once.Do(func() {
		err = h.File.Close()
		h.release()
	})
	return err
}

var _ io.WriteCloser = (*WriteHandle)(nil)

// Create acquires a descriptor permit and creates/truncates relative
// for writing.
func (g *Gate) Create(ctx context.Context, relative string) (*WriteHandle, error) {
	full, err := g.FullPath(relative)
	if err != nil {
		return nil, err
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, kqerr.Wrap(kqerr.IO, relative, "waiting for descriptor budget", err)
	}

	f, err := os.Create(full)
	if err != nil {
		g.sem.Release(1)
		return nil, kqerr.Wrap(kqerr.IO, relative, "create failed", err)
	}

	return &WriteHandle{File: f, release: func() { g.sem.Release(1) }}, nil
}
