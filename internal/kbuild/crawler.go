// Package kbuild implements the directory crawler: starting from a
// source root, it walks Kbuild/Makefile composition the way kbuild
// itself does, dispatching one task per subdirectory and merging every
// C source it discovers into a metadata.Store.
package kbuild

import (
	"context"
	"io"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/kquery/kquery/internal/cscan"
	"github.com/kquery/kquery/internal/filegate"
	"github.com/kquery/kquery/internal/kqerr"
	"github.com/kquery/kquery/internal/log"
	"github.com/kquery/kquery/internal/makefile"
	"github.com/kquery/kquery/internal/metadata"
)

// shared is the state every frame of the crawl reads and writes.
// gate is already safe for concurrent use; doneFiles and the store
// each get their own lock since they're mutated from many goroutines.
type shared struct {
	gate   *filegate.Gate
	logger log.Logger

	filesMu   sync.Mutex
	doneFiles map[string]bool

	storeMu sync.Mutex
	store   *metadata.Store
}

// markProcessed claims path for the caller, returning false if some
// other frame already claimed it first.
func (s *shared) markProcessed(path string) bool {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	if s.doneFiles[path] {
		return false
	}
	s.doneFiles[path] = true
	return true
}

// frame is one unit of dispatched work: a directory to crawl under an
// accumulated condition chain.
type frame struct {
	shared     *shared
	dir        string
	conditions *Conditions
}

// op is a message on the crawler's dispatch channel: either a new
// frame to run, or a completion report for one already dispatched.
type op struct {
	add    *frame
	done   error
	isDone bool
}

// Crawl indexes the source tree rooted at gate's base directory,
// returning the fully derived metadata store. Discovery fans out
// through a bounded channel sized to the available parallelism; each
// dispatched directory is tracked by a counter that returns to zero
// exactly when every frame (and everything it spawned) has finished.
//
// If any frame reports a fatal error, that error is remembered and the
// crawl's context is cancelled so frames still running can notice at
// their next suspension point, but the dispatch loop keeps draining
// completions until the counter reaches zero rather than tearing down
// immediately. The first fatal error is what Crawl returns.
func Crawl(ctx context.Context, gate *filegate.Gate, logger log.Logger) (*metadata.Store, error) {
	if logger == nil {
		logger = log.NewNoop()
	}

	st := &shared{
		gate:      gate,
		logger:    logger,
		doneFiles: make(map[string]bool),
		store:     metadata.New(),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	capacity := runtime.GOMAXPROCS(0)
	if capacity < 1 {
		capacity = 1
	}
	ops := make(chan op, capacity)

	root := &frame{shared: st, dir: "", conditions: nil}

	pending := 1
	go dispatch(ctx, root, ops)

	var firstErr error
	for pending > 0 {
		o := <-ops
		if o.isDone {
			pending--
			if o.done != nil && firstErr == nil {
				firstErr = o.done
				cancel()
			}
			continue
		}
		pending++
		go dispatch(ctx, o.add, ops)
	}

	if firstErr != nil {
		return nil, firstErr
	}

	st.store.Derive()
	return st.store, nil
}

// dispatch runs one frame and reports its outcome on ops.
func dispatch(ctx context.Context, f *frame, ops chan op) {
	err := f.processDir(ctx, ops)
	ops <- op{done: err, isDone: true}
}

// processDir picks the first of "Kbuild", "Makefile" that exists in
// f.dir, claims it against the shared processed-files set so no other
// frame repeats the work, and parses it. A directory with neither file
// is logged and otherwise ignored — the crawl doesn't treat a leaf
// directory as an error.
func (f *frame) processDir(ctx context.Context, ops chan op) error {
	if ctx.Err() != nil {
		return nil
	}

	for _, name := range [...]string{"Kbuild", "Makefile"} {
		rel := filepath.Join(f.dir, name)
		if !f.shared.gate.ExistsFile(rel) {
			continue
		}
		if !f.shared.markProcessed(rel) {
			return nil
		}
		return f.processMakefile(ctx, rel, ops)
	}

	f.shared.logger.Warn("no Kbuild or Makefile in directory", "dir", f.dir)
	return nil
}

// processMakefile drives one Kbuild/Makefile file to completion,
// maintaining a stack of condition chains for nested if/else-if/endif
// and dispatching each Var statement's elements to either object
// resolution or a freshly scheduled subdirectory frame.
func (f *frame) processMakefile(ctx context.Context, path string, ops chan op) error {
	file, err := f.shared.gate.Open(ctx, path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := makefile.New(file)
	stack := []*Conditions{f.conditions}

	for {
		if ctx.Err() != nil {
			return nil
		}

		stmt, err := reader.Next()
		if err != nil {
			return kqerr.Wrap(kqerr.IO, path, "read makefile", err)
		}
		if stmt == nil {
			return nil
		}

		switch stmt.Kind {
		case makefile.KindVar:
			effective := stack[len(stack)-1]
			for _, c := range stmt.Conditions {
				effective = effective.Add(c)
			}
			for _, el := range stmt.Elements {
				if strings.HasSuffix(el, ".o") {
					name := strings.TrimSuffix(el, ".o")
					if err := f.addObject(ctx, name, effective); err != nil {
						return err
					}
					continue
				}

				child := &frame{
					shared:     f.shared,
					dir:        filepath.Join(f.dir, el),
					conditions: effective,
				}
				select {
				case ops <- op{add: child}:
				case <-ctx.Done():
					return nil
				}
			}

		case makefile.KindIf:
			eff := stack[len(stack)-1]
			for _, c := range stmt.Conditions {
				eff = eff.Add(c)
			}
			stack = append(stack, eff)

		case makefile.KindElseIf:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			eff := stack[len(stack)-1]
			for _, c := range stmt.Conditions {
				eff = eff.Add(c)
			}
			stack = append(stack, eff)

		case makefile.KindEndIf:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		}
	}
}

// addObject resolves name under f.dir against the .c/.S extensions, in
// that order. A .c hit is read and scanned; its SourceRecord is merged
// into the store under conditions. A .S hit ends resolution with
// nothing to merge (the C scanner has nothing to offer it). Neither
// existing is logged as a warning, matching the rest of the crawler's
// "missing composition target" policy — it is not a fatal error.
func (f *frame) addObject(ctx context.Context, name string, conditions *Conditions) error {
	for _, ext := range [...]string{"c", "S"} {
		rel := filepath.Join(f.dir, name+"."+ext)
		if !f.shared.gate.ExistsFile(rel) {
			continue
		}
		if ext != "c" {
			return nil
		}

		file, err := f.shared.gate.Open(ctx, rel)
		if err != nil {
			return err
		}
		data, readErr := io.ReadAll(file)
		closeErr := file.Close()
		if readErr != nil {
			return kqerr.Wrap(kqerr.IO, rel, "read source file", readErr)
		}
		if closeErr != nil {
			return kqerr.Wrap(kqerr.IO, rel, "close source file", closeErr)
		}

		result := cscan.Scan(string(data))

		f.shared.storeMu.Lock()
		f.shared.store.MergeSource(rel, conditions.Set(), result)
		f.shared.storeMu.Unlock()
		return nil
	}

	f.shared.logger.Warn("no source file for object", "name", name, "dir", f.dir)
	return nil
}
