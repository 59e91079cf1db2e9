// Package metadata holds the indexed entity model: per-source records,
// the two reverse indices derived from them, and a codec/persistence
// layer for writing and rediscovering the index file.
package metadata

import (
	"sort"

	"github.com/kquery/kquery/internal/cscan"
)

// Param is one module_param* declaration. Field tags give the on-disk
// compact keys shared by every coding.
type Param struct {
	Type        string `json:"t" cbor:"t"`
	Perm        uint16 `json:"p" cbor:"p"`
	Description string `json:"d" cbor:"d"`
}

// Module holds MODULE_* annotations for a source file.
type Module struct {
	Authors     []string         `json:"a" cbor:"a"`
	Description string           `json:"d" cbor:"d"`
	License     string           `json:"l" cbor:"l"`
	Aliases     []string         `json:"s" cbor:"s"`
	Params      map[string]Param `json:"p" cbor:"p"`
}

// Source is one discovered C source's record.
type Source struct {
	ConfigOpts StringSet `json:"o" cbor:"o"`
	CompatStrs StringSet `json:"s" cbor:"s"`
	Module     *Module   `json:"m,omitempty" cbor:"m,omitempty"`
}

func newSource() *Source {
	return &Source{ConfigOpts: NewStringSet(), CompatStrs: NewStringSet()}
}

// ConfigOpt is the reverse-index entry for a CONFIG_ option.
type ConfigOpt struct {
	Sources map[string]struct{}
}

// CompatStr is the reverse-index entry for a compatible string. Per
// spec, only one source is retained — last writer wins if the same
// string turns up under multiple sources.
type CompatStr struct {
	Source string
}

// Store is the in-memory entity model: the authoritative source map
// plus the two maps derived from it.
type Store struct {
	Sources    map[string]*Source
	ConfigOpts map[string]*ConfigOpt
	CompatStrs map[string]*CompatStr
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		Sources:    make(map[string]*Source),
		ConfigOpts: make(map[string]*ConfigOpt),
		CompatStrs: make(map[string]*CompatStr),
	}
}

// EnsureSource returns the Source for path, creating an empty one if
// absent.
func (s *Store) EnsureSource(path string) *Source {
	src, ok := s.Sources[path]
	if !ok {
		src = newSource()
		s.Sources[path] = src
	}
	return src
}

// MergeSource merges data produced for path (by the C scanner, plus the
// condition set accumulated by the crawler) into the store: config_opts
// and compat_strs are set-unioned, and a non-nil incoming module record
// replaces whatever is already present — the input is expected to
// produce at most one module record per source.
func (s *Store) MergeSource(path string, configOpts []string, scanned cscan.Result) {
	src := s.EnsureSource(path)

	for _, opt := range configOpts {
		src.ConfigOpts.Add(opt)
	}
	for compat := range scanned.CompatStrs {
		src.CompatStrs.Add(compat)
	}
	if scanned.Module != nil {
		src.Module = convertModule(scanned.Module)
	}
}

func convertModule(m *cscan.Module) *Module {
	params := make(map[string]Param, len(m.Params))
	for name, p := range m.Params {
		params[name] = Param{Type: p.Type, Perm: p.Perm, Description: p.Description}
	}
	return &Module{
		Authors:     append([]string(nil), m.Authors...),
		Description: m.Description,
		License:     m.License,
		Aliases:     append([]string(nil), m.Aliases...),
		Params:      params,
	}
}

// Derive rebuilds ConfigOpts and CompatStrs from scratch out of
// Sources. It must be called after any load or bulk mutation of the
// source map, and never run concurrently with writes to Sources.
func (s *Store) Derive() {
	s.ConfigOpts = make(map[string]*ConfigOpt)
	s.CompatStrs = make(map[string]*CompatStr)

	// Deterministic source-path order so that, if the same compat
	// string legitimately appears under more than one source, the
	// "last writer wins" tie-break is at least stable across runs.
	paths := make([]string, 0, len(s.Sources))
	for path := range s.Sources {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		src := s.Sources[path]
		for opt := range src.ConfigOpts {
			entry, ok := s.ConfigOpts[opt]
			if !ok {
				entry = &ConfigOpt{Sources: make(map[string]struct{})}
				s.ConfigOpts[opt] = entry
			}
			entry.Sources[path] = struct{}{}
		}
		for compat := range src.CompatStrs {
			s.CompatStrs[compat] = &CompatStr{Source: path}
		}
	}
}

// Sorted returns path's known config_opts/compat_strs in canonical
// (sorted) order, or ok=false if path isn't indexed.
func (s *Store) Sorted(path string) (configOpts, compatStrs []string, ok bool) {
	src, exists := s.Sources[path]
	if !exists {
		return nil, nil, false
	}
	return src.ConfigOpts.Sorted(), src.CompatStrs.Sorted(), true
}
