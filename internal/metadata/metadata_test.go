package metadata

import (
	"testing"

	"github.com/kquery/kquery/internal/cscan"
)

func TestDeriveReverseIndices(t *testing.T) {
	s := New()
	s.MergeSource("bar.c", []string{"FOO"}, cscan.Result{
		CompatStrs: map[string]bool{"vendor,thing": true},
		Module:     &cscan.Module{License: "GPL", Params: map[string]*cscan.Param{}},
	})
	s.Derive()

	// Property 1: every (config_opt, source) pair in ConfigOpts is
	// reflected in that source's record, and vice versa.
	for opt, entry := range s.ConfigOpts {
		for path := range entry.Sources {
			if !s.Sources[path].ConfigOpts.Has(opt) {
				t.Fatalf("config_opts[%s] names %s but source doesn't have it", opt, path)
			}
		}
	}
	for path, src := range s.Sources {
		for opt := range src.ConfigOpts {
			if _, ok := s.ConfigOpts[opt].Sources[path]; !ok {
				t.Fatalf("source %s has config_opt %s not reflected in reverse index", path, opt)
			}
		}
	}

	// Property 2: every (compat_str, source) pair.
	for compat, entry := range s.CompatStrs {
		if !s.Sources[entry.Source].CompatStrs.Has(compat) {
			t.Fatalf("compat_strs[%s] names %s but source doesn't have it", compat, entry.Source)
		}
	}

	if _, ok := s.ConfigOpts["FOO"]; !ok {
		t.Fatal("expected FOO in config_opts")
	}
	if s.CompatStrs["vendor,thing"].Source != "bar.c" {
		t.Fatalf("compat_strs[vendor,thing] = %+v", s.CompatStrs["vendor,thing"])
	}
}

func TestRoundTripAllCodings(t *testing.T) {
	s := New()
	s.MergeSource("a.c", []string{"A", "B"}, cscan.Result{
		CompatStrs: map[string]bool{"vendor,a": true},
	})
	s.MergeSource("b.c", nil, cscan.Result{
		Module: &cscan.Module{
			Description: "driver",
			Authors:     []string{"Jane Doe"},
			License:     "GPL",
			Aliases:     []string{"platform:b"},
			Params: map[string]*cscan.Param{
				"debug": {Name: "debug", Type: "int", Perm: 0644, Description: "enable debug"},
			},
		},
	})
	s.Derive()

	combos := []Options{
		{Coding: JSON, Compress: NoCompress},
		{Coding: JSON, Compress: LZ4},
		{Coding: JSONPretty, Compress: NoCompress},
		{Coding: CBOR, Compress: NoCompress},
		{Coding: CBOR, Compress: LZ4},
	}

	for _, opts := range combos {
		data, err := ToRaw(s, opts)
		if err != nil {
			t.Fatalf("%+v: ToRaw: %v", opts, err)
		}
		got, err := FromRaw(data, opts)
		if err != nil {
			t.Fatalf("%+v: FromRaw: %v", opts, err)
		}

		if len(got.Sources) != len(s.Sources) {
			t.Fatalf("%+v: got %d sources, want %d", opts, len(got.Sources), len(s.Sources))
		}
		gotA := got.Sources["a.c"]
		if gotA == nil || !gotA.ConfigOpts.Has("A") || !gotA.ConfigOpts.Has("B") {
			t.Fatalf("%+v: a.c config_opts = %+v", opts, gotA)
		}
		gotB := got.Sources["b.c"]
		if gotB == nil || gotB.Module == nil || gotB.Module.License != "GPL" {
			t.Fatalf("%+v: b.c module = %+v", opts, gotB)
		}
		if gotB.Module.Params["debug"].Perm != 0644 {
			t.Fatalf("%+v: debug param perm = %o", opts, gotB.Module.Params["debug"].Perm)
		}

		// Property 3: reverse maps recomputed from the round-tripped
		// source map have the same sizes as what Derive produced
		// originally.
		if len(got.ConfigOpts) != len(s.ConfigOpts) || len(got.CompatStrs) != len(s.CompatStrs) {
			t.Fatalf("%+v: reverse index sizes differ after round trip", opts)
		}
	}
}

func TestIdempotentSerialisation(t *testing.T) {
	s := New()
	s.MergeSource("x.c", []string{"X"}, cscan.Result{})
	s.Derive()

	opts := Options{Coding: JSON, Compress: NoCompress}
	first, err := ToRaw(s, opts)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ToRaw(s, opts)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("serialisation not idempotent:\n%s\nvs\n%s", first, second)
	}
}

func TestFileNamesAndOptionsFromFileName(t *testing.T) {
	cases := []struct {
		opts Options
		name string
	}{
		{Options{Coding: JSON, Compress: NoCompress}, "kquery.json"},
		{Options{Coding: CBOR, Compress: NoCompress}, "kquery.cbor"},
		{Options{Coding: JSONPretty, Compress: LZ4}, "kquery.json.lz4"},
		{Options{Coding: CBOR, Compress: LZ4}, "kquery.cbor.lz4"},
	}
	for _, c := range cases {
		if got := c.opts.FileName(); got != c.name {
			t.Fatalf("FileName(%+v) = %q, want %q", c.opts, got, c.name)
		}
		got, err := OptionsFromFileName(c.name)
		if err != nil {
			t.Fatalf("OptionsFromFileName(%q): %v", c.name, err)
		}
		if got.Compress != c.opts.Compress {
			t.Fatalf("OptionsFromFileName(%q).Compress = %v, want %v", c.name, got.Compress, c.opts.Compress)
		}
	}
}

func TestEmptyStoreHasEmptyReverseIndices(t *testing.T) {
	s := New()
	s.Derive()
	if len(s.ConfigOpts) != 0 || len(s.CompatStrs) != 0 {
		t.Fatalf("expected empty reverse indices, got %+v / %+v", s.ConfigOpts, s.CompatStrs)
	}
}
