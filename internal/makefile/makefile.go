// Package makefile implements the line-oriented Makefile/Kbuild
// statement reader: line splicing, statement classification,
// module-composition resolution, and forward-reference orphan
// buffering. It does not interpret Make's grammar in general — only
// the conditional directives and `<prefix>-<key> = <elements>`
// assignment shape Kbuild files use.
package makefile

import (
	"bufio"
	"io"
	"strings"

	"github.com/kquery/kquery/internal/log"
)

// rootPrefixes are the Var prefixes that introduce module-composition
// entries (an element "<m>.o" maps m to this statement's conditions).
var rootPrefixes = map[string]bool{
	"obj":    true,
	"lib":    true,
	"subdir": true,
	"core":   true,
	"drivers": true,
}

// StmtKind identifies the shape of a parsed MakeStatement.
type StmtKind int

const (
	// KindVar is a `<prefix>-<key> = <elements>` assignment.
	KindVar StmtKind = iota
	// KindIf is an `ifdef`/`ifndef`/`ifeq`/`ifneq` directive.
	KindIf
	// KindElseIf is an `else ifdef`/... directive.
	KindElseIf
	// KindEndIf is an `endif` directive.
	KindEndIf
)

// Statement is one parsed line from a Makefile/Kbuild file.
type Statement struct {
	Kind       StmtKind
	Prefix     string   // set for KindVar
	Conditions []string // CONFIG_ names, prefix stripped
	Elements   []string // object/subdirectory names, set for KindVar
}

type orphan struct {
	elements   []string
	conditions []string
}

// Reader is a lazy, stateful reader of Statements from a single
// Makefile/Kbuild file.
type Reader struct {
	lines *bufio.Scanner

	// modules maps a composition-module name ("foo" from "foo.o") to
	// the conditions under which it was declared a root object.
	modules map[string][]string

	// orphans buffers Var statements whose prefix isn't yet a known
	// composition module, keyed by prefix, FIFO order.
	orphans map[string][]orphan

	// pendingPrefix names the prefix whose buffered orphans are
	// currently being replayed, so Next can yield them one at a time.
	pendingPrefix string
}

// New builds a Reader over r, which should be positioned at the start
// of a Makefile/Kbuild file's content.
func New(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{
		lines:   scanner,
		modules: make(map[string][]string),
		orphans: make(map[string][]orphan),
	}
}

// Next returns the next Statement, or (nil, nil) at end of file.
func (r *Reader) Next() (*Statement, error) {
	if r.pendingPrefix != "" {
		if stmt := r.drainOrphan(r.pendingPrefix); stmt != nil {
			return stmt, nil
		}
		r.pendingPrefix = ""
	}

	var full strings.Builder
	haveContinuation := false

	for r.lines.Scan() {
		line := r.lines.Text()

		if rest, ok := strings.CutSuffix(line, "\\"); ok {
			full.WriteString(rest)
			haveContinuation = true
			continue
		}

		var logical string
		if haveContinuation {
			full.WriteString(line)
			logical = full.String()
			full.Reset()
			haveContinuation = false
		} else {
			logical = line
		}

		stmt, ok := parseLine(logical)
		if !ok {
			if t := strings.TrimSpace(logical); t != "" && !strings.HasPrefix(t, "#") {
				log.Default().Debug("skipping unrecognised makefile line", "line", t)
			}
			continue
		}

		if stmt.Kind != KindVar {
			return stmt, nil
		}

		if rootPrefixes[stmt.Prefix] {
			for _, el := range stmt.Elements {
				module, ok := strings.CutSuffix(el, ".o")
				if !ok {
					continue
				}
				if _, pending := r.orphans[module]; pending {
					r.pendingPrefix = module
				}
				r.modules[module] = append([]string(nil), stmt.Conditions...)
			}
			return stmt, nil
		}

		if composed, known := r.modules[stmt.Prefix]; known {
			stmt.Conditions = append(stmt.Conditions, composed...)
			return stmt, nil
		}

		r.orphans[stmt.Prefix] = append(r.orphans[stmt.Prefix], orphan{
			elements:   stmt.Elements,
			conditions: stmt.Conditions,
		})
	}

	if err := r.lines.Err(); err != nil {
		return nil, err
	}

	if r.pendingPrefix != "" {
		if stmt := r.drainOrphan(r.pendingPrefix); stmt != nil {
			return stmt, nil
		}
		r.pendingPrefix = ""
	}

	return nil, nil
}

// drainOrphan pops and returns the next buffered orphan Var for prefix
// with the composition's conditions appended, or nil once exhausted.
func (r *Reader) drainOrphan(prefix string) *Statement {
	queue, ok := r.orphans[prefix]
	if !ok || len(queue) == 0 {
		delete(r.orphans, prefix)
		return nil
	}

	o := queue[0]
	r.orphans[prefix] = queue[1:]
	if len(r.orphans[prefix]) == 0 {
		delete(r.orphans, prefix)
	}

	conditions := append(append([]string(nil), o.conditions...), r.modules[prefix]...)
	return &Statement{
		Kind:       KindVar,
		Prefix:     prefix,
		Conditions: conditions,
		Elements:   o.elements,
	}
}
