package cscan

import "testing"

func TestCompatibleStrings(t *testing.T) {
	src := `
static const struct of_device_id foo_ids[] = {
	{ .compatible = "vendor,foo" },
	{ .compatible = "vendor,bar" },
	{},
};
`
	res := Scan(src)
	if !res.CompatStrs["vendor,foo"] || !res.CompatStrs["vendor,bar"] {
		t.Fatalf("compat strs = %v", res.CompatStrs)
	}
	if len(res.CompatStrs) != 2 {
		t.Fatalf("expected exactly 2 compat strings, got %v", res.CompatStrs)
	}
}

func TestModuleAnnotations(t *testing.T) {
	src := `
MODULE_DESCRIPTION("a test driver");
MODULE_AUTHOR("Jane Doe");
MODULE_AUTHOR("John Roe");
MODULE_LICENSE("GPL");
MODULE_ALIAS("platform:foo");
`
	res := Scan(src)
	if res.Module == nil {
		t.Fatal("expected a non-nil module")
	}
	if res.Module.Description != "a test driver" {
		t.Fatalf("description = %q", res.Module.Description)
	}
	if res.Module.License != "GPL" {
		t.Fatalf("license = %q", res.Module.License)
	}
	if len(res.Module.Authors) != 2 || res.Module.Authors[0] != "Jane Doe" || res.Module.Authors[1] != "John Roe" {
		t.Fatalf("authors = %v", res.Module.Authors)
	}
	if len(res.Module.Aliases) != 1 || res.Module.Aliases[0] != "platform:foo" {
		t.Fatalf("aliases = %v", res.Module.Aliases)
	}
}

func TestModuleParam(t *testing.T) {
	src := `module_param(debug, int, S_IRUGO | S_IWUSR);
MODULE_PARM_DESC(debug, "enable debug logging");
`
	res := Scan(src)
	if res.Module == nil {
		t.Fatal("expected a non-nil module")
	}
	p, ok := res.Module.Params["debug"]
	if !ok {
		t.Fatalf("expected a debug param, got %v", res.Module.Params)
	}
	if p.Type != "int" {
		t.Fatalf("type = %q", p.Type)
	}
	want := ModeFromID("S_IRUGO") | ModeFromID("S_IWUSR")
	if p.Perm != want {
		t.Fatalf("perm = %o, want %o", p.Perm, want)
	}
	if p.Description != "enable debug logging" {
		t.Fatalf("description = %q", p.Description)
	}
}

func TestModuleParamNamed(t *testing.T) {
	src := `module_param_named(level, debug_level, int, 0644);`
	res := Scan(src)
	if res.Module == nil {
		t.Fatal("expected a non-nil module")
	}
	p, ok := res.Module.Params["level"]
	if !ok {
		t.Fatalf("expected a level param, got %v", res.Module.Params)
	}
	if p.Type != "int" {
		t.Fatalf("type = %q", p.Type)
	}
	if p.Perm != 0644 {
		t.Fatalf("perm = %o, want 0644", p.Perm)
	}
}

func TestNoAnnotationsYieldsNilModule(t *testing.T) {
	res := Scan("int main(void) { return 0; }\n")
	if res.Module != nil {
		t.Fatalf("expected nil module, got %+v", res.Module)
	}
	if len(res.CompatStrs) != 0 {
		t.Fatalf("expected no compat strs, got %v", res.CompatStrs)
	}
}

func TestModeFromID(t *testing.T) {
	if ModeFromID("S_IRUGO") != 0444 {
		t.Fatalf("S_IRUGO = %o", ModeFromID("S_IRUGO"))
	}
	if ModeFromID("NOT_A_MODE") != 0 {
		t.Fatalf("expected 0 for unrecognised id")
	}
}
