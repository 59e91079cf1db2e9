package kbuild

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/kquery/kquery/internal/filegate"
	"github.com/kquery/kquery/internal/log"
	"github.com/kquery/kquery/internal/metadata"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func crawl(t *testing.T, dir string) *metadata.Store {
	t.Helper()
	gate, err := filegate.New(dir)
	if err != nil {
		t.Fatalf("filegate.New: %v", err)
	}
	store, err := Crawl(context.Background(), gate, log.NewNoop())
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	return store
}

func configsFor(t *testing.T, store *metadata.Store, path string) []string {
	t.Helper()
	cfgs, _, ok := store.Sorted(path)
	if !ok {
		t.Fatalf("no source record for %s", path)
	}
	return cfgs
}

func TestBasicVarConfigAndLicense(t *testing.T) {
	// S1: a root Makefile gates one object on a CONFIG_, and that
	// object carries a MODULE_LICENSE annotation.
	dir := writeTree(t, map[string]string{
		"Makefile": "obj-$(CONFIG_FOO) += driver.o\n",
		"driver.c": `MODULE_LICENSE("GPL");` + "\n",
	})
	store := crawl(t, dir)

	cfgs := configsFor(t, store, "driver.c")
	if len(cfgs) != 1 || cfgs[0] != "FOO" {
		t.Fatalf("driver.c config_opts = %v, want [FOO]", cfgs)
	}
	if store.Sources["driver.c"].Module == nil || store.Sources["driver.c"].Module.License != "GPL" {
		t.Fatalf("driver.c module = %+v", store.Sources["driver.c"].Module)
	}
}

func TestNestedSubdirPropagatesConditions(t *testing.T) {
	// S2: a subdirectory's condition is combined with its parent's.
	dir := writeTree(t, map[string]string{
		"Makefile":     "obj-$(CONFIG_OUTER) += sub/\n",
		"sub/Makefile": "obj-$(CONFIG_INNER) += leaf.o\n",
		"sub/leaf.c":   "static int x;\n",
	})
	store := crawl(t, dir)

	cfgs := configsFor(t, store, filepath.Join("sub", "leaf.c"))
	sort.Strings(cfgs)
	if len(cfgs) != 2 || cfgs[0] != "INNER" || cfgs[1] != "OUTER" {
		t.Fatalf("leaf.c config_opts = %v, want [INNER OUTER]", cfgs)
	}
}

func TestCompositionBackwardReference(t *testing.T) {
	// S3: obj-$(CONFIG_M) += m.o declared before m-y := a.o b.o.
	dir := writeTree(t, map[string]string{
		"Makefile": "obj-$(CONFIG_M) += m.o\nm-y := a.o b.o\n",
		"a.c":      "static int a;\n",
		"b.c":      "static int b;\n",
	})
	store := crawl(t, dir)

	for _, name := range []string{"a.c", "b.c"} {
		cfgs := configsFor(t, store, name)
		if len(cfgs) != 1 || cfgs[0] != "M" {
			t.Fatalf("%s config_opts = %v, want [M]", name, cfgs)
		}
	}
}

func TestCompositionForwardReference(t *testing.T) {
	// S4: m-y := a.o b.o declared before obj-$(CONFIG_M) += m.o.
	dir := writeTree(t, map[string]string{
		"Makefile": "m-y := a.o b.o\nobj-$(CONFIG_M) += m.o\n",
		"a.c":      "static int a;\n",
		"b.c":      "static int b;\n",
	})
	store := crawl(t, dir)

	for _, name := range []string{"a.c", "b.c"} {
		cfgs := configsFor(t, store, name)
		if len(cfgs) != 1 || cfgs[0] != "M" {
			t.Fatalf("%s config_opts = %v, want [M]", name, cfgs)
		}
	}
}

func TestModuleParamsAndCompatStrings(t *testing.T) {
	// S5: module_param and .compatible strings turn up on the right
	// source record.
	dir := writeTree(t, map[string]string{
		"Makefile": "obj-y += drv.o\n",
		"drv.c": `
static int debug;
module_param(debug, int, S_IRUGO | S_IWUSR);
MODULE_DESCRIPTION("a driver");

static const struct of_device_id ids[] = {
	{ .compatible = "vendor,widget" },
	{},
};
`,
	})
	store := crawl(t, dir)

	src := store.Sources["drv.c"]
	if src == nil {
		t.Fatal("expected drv.c source record")
	}
	if !src.CompatStrs.Has("vendor,widget") {
		t.Fatalf("compat_strs = %v, want vendor,widget present", src.CompatStrs.Sorted())
	}
	if src.Module == nil || src.Module.Params["debug"].Type != "int" {
		t.Fatalf("module params = %+v", src.Module)
	}
	if _, ok := store.CompatStrs["vendor,widget"]; !ok {
		t.Fatal("expected vendor,widget in reverse index")
	}
}

func TestAssemblyOnlyObjectYieldsNoSourceRecord(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"Makefile": "obj-y += entry.o\n",
		"entry.S":  "# nothing to scan\n",
	})
	store := crawl(t, dir)

	if len(store.Sources) != 0 {
		t.Fatalf("expected no source records, got %+v", store.Sources)
	}
}

func TestMissingObjectIsNotFatal(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"Makefile": "obj-y += ghost.o\n",
	})
	gate, err := filegate.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Crawl(context.Background(), gate, log.NewNoop()); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
}

func TestDirectoryWithoutMakefileIsNotFatal(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"Makefile":   "obj-y += sub/\n",
		"sub/README": "no build file here\n",
	})
	store := crawl(t, dir)

	if len(store.Sources) != 0 {
		t.Fatalf("expected no source records, got %+v", store.Sources)
	}
}

func TestEmptyTreeYieldsEmptyStore(t *testing.T) {
	store := crawl(t, t.TempDir())
	if len(store.Sources) != 0 || len(store.ConfigOpts) != 0 || len(store.CompatStrs) != 0 {
		t.Fatalf("expected a fully empty store, got %+v", store)
	}
}

func TestCommentsOnlyMakefileYieldsEmptyStore(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"Makefile": "# nothing but comments\n\n# and blank lines\n",
	})
	store := crawl(t, dir)

	if len(store.Sources) != 0 {
		t.Fatalf("expected no source records, got %+v", store.Sources)
	}
}

func TestKbuildPreferredOverMakefile(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"Kbuild":          "obj-y += from_kbuild.o\n",
		"Makefile":        "obj-y += from_makefile.o\n",
		"from_kbuild.c":   "static int a;\n",
		"from_makefile.c": "static int b;\n",
	})
	store := crawl(t, dir)

	if _, ok := store.Sources["from_kbuild.c"]; !ok {
		t.Fatal("expected from_kbuild.c to be indexed")
	}
	if _, ok := store.Sources["from_makefile.c"]; ok {
		t.Fatal("did not expect from_makefile.c to be indexed once Kbuild wins")
	}
}
