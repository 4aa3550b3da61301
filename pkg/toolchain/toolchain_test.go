package toolchain //nolint:testpackage // tests replace lookPath

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"asyncbuild/pkg/protocol"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	//nolint:gosec // test file permissions are acceptable
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newCatalog(t *testing.T, installed ...string) *Catalog {
	t.Helper()
	c, err := NewCatalog("")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	c.lookPath = func(bin string) (string, error) {
		for _, b := range installed {
			if b == bin {
				return "/usr/bin/" + bin, nil
			}
		}
		return "", errors.New("not found")
	}
	return c
}

func TestBuiltinProfilesValidate(t *testing.T) {
	for _, p := range Profiles() {
		if err := p.Validate(); err != nil {
			t.Errorf("%s: %v", p.Language, err)
		}
	}
}

func TestProfileValidate_Errors(t *testing.T) {
	base := Profile{
		Language: "x",
		Detect:   func(string) bool { return true },
		Commands: []CommandSpec{{Name: "build", Program: "make"}},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}

	noLang := base
	noLang.Language = ""
	if err := noLang.Validate(); err == nil || !strings.Contains(err.Error(), "Language") {
		t.Errorf("expected Language error, got %v", err)
	}

	dup := base
	dup.Commands = []CommandSpec{{Name: "build", Program: "make"}, {Name: "build", Program: "make"}}
	if err := dup.Validate(); err == nil {
		t.Error("expected duplicate command error")
	}
}

func TestProfilesShareToolNames(t *testing.T) {
	cargo, golang := CargoProfile(), GoProfile()
	for _, cmd := range cargo.Commands {
		other, ok := golang.Command(cmd.Name)
		if !ok {
			t.Errorf("go profile lacks %q", cmd.Name)
			continue
		}
		if other.Quick != cmd.Quick {
			t.Errorf("%q: quick flag differs between profiles", cmd.Name)
		}
	}
}

func TestQuickCommands(t *testing.T) {
	c := newCatalog(t)
	for _, name := range []string{"tree", "version", "metadata", "update"} {
		if !c.IsQuick(name) {
			t.Errorf("expected %q to be quick", name)
		}
	}
	for _, name := range []string{"build", "test", "audit"} {
		if c.IsQuick(name) {
			t.Errorf("expected %q to be long-running", name)
		}
	}
}

func TestResolve_DetectsProfileByManifest(t *testing.T) {
	c := newCatalog(t)

	rust := t.TempDir()
	writeFile(t, rust, "Cargo.toml", "[package]\nname = \"demo\"\nversion = \"0.1.0\"\n")
	inv, err := c.Resolve(rust, "build", []string{"--release"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if inv.Program != "cargo" || strings.Join(inv.Args, " ") != "build --release" {
		t.Errorf("unexpected invocation %+v", inv)
	}
	if !strings.Contains(inv.Description, "demo") {
		t.Errorf("expected package name in description, got %q", inv.Description)
	}

	gomod := t.TempDir()
	writeFile(t, gomod, "go.mod", "module example.com/demo\n\ngo 1.22\n")
	inv, err = c.Resolve(gomod, "test", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if inv.Language != "go" || strings.Join(inv.Args, " ") != "test ./..." {
		t.Errorf("unexpected invocation %+v", inv)
	}
	if !strings.Contains(inv.Description, "example.com/demo") {
		t.Errorf("expected module path in description, got %q", inv.Description)
	}
}

func TestResolve_DefaultsDroppedWhenArgsGiven(t *testing.T) {
	c := newCatalog(t)
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module m\n")

	inv, err := c.Resolve(dir, "test", []string{"-run", "TestX", "./pkg/..."})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(inv.Args, " "); got != "test -run TestX ./pkg/..." {
		t.Errorf("args = %q", got)
	}
}

func TestResolve_ArgSuffixAndRequiredArgs(t *testing.T) {
	c := newCatalog(t)
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module m\n")

	inv, err := c.Resolve(dir, "remove", []string{"github.com/x/y"})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(inv.Args, " "); got != "get github.com/x/y@none" {
		t.Errorf("args = %q", got)
	}

	_, err = c.Resolve(dir, "add", nil)
	var argsErr *ArgsRequiredError
	if !errors.As(err, &argsErr) {
		t.Fatalf("expected ArgsRequiredError, got %v", err)
	}
}

func TestResolve_MissingOptionalTool(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", "[package]\nname = \"demo\"\n")

	_, err := newCatalog(t).Resolve(dir, "audit", nil)
	var missing *MissingToolError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingToolError, got %v", err)
	}
	if !strings.Contains(err.Error(), "cargo-audit is not installed") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !strings.Contains(err.Error(), "cargo install cargo-audit") {
		t.Errorf("expected install hint in %q", err.Error())
	}

	if _, err := newCatalog(t, "cargo-audit").Resolve(dir, "audit", nil); err != nil {
		t.Errorf("expected audit to resolve when installed, got %v", err)
	}
}

func TestResolve_UnknownTool(t *testing.T) {
	_, err := newCatalog(t).Resolve(t.TempDir(), "deploy", nil)
	var unknown *protocol.UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownToolError, got %v", err)
	}
}

func TestResolve_ProjectOverrides(t *testing.T) {
	c := newCatalog(t)
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", "[package]\nname = \"demo\"\n")
	writeFile(t, dir, protocol.ProjectConfigFile, `language: go
commands:
  test:
    args: ["test", "-race", "./..."]
    env: ["CGO_ENABLED=1"]
`)

	inv, err := c.Resolve(dir, "test", nil)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Language != "go" {
		t.Errorf("expected forced go profile, got %s", inv.Language)
	}
	if got := strings.Join(inv.Args, " "); got != "test -race ./..." {
		t.Errorf("args = %q", got)
	}
	if len(inv.Env) != 1 || inv.Env[0] != "CGO_ENABLED=1" {
		t.Errorf("env = %v", inv.Env)
	}
}

func TestResolve_BadProjectConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, protocol.ProjectConfigFile, "commands: [not, a, map\n")
	if _, err := newCatalog(t).Resolve(dir, "build", nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestResolve_FallbackProfile(t *testing.T) {
	c, err := NewCatalog("go")
	if err != nil {
		t.Fatal(err)
	}
	inv, err := c.Resolve(t.TempDir(), "version", nil)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Program != "go" || !inv.Quick {
		t.Errorf("unexpected invocation %+v", inv)
	}

	if _, err := NewCatalog("cobol"); err == nil {
		t.Error("expected unknown default language error")
	}
}

func TestProjectName_Workspace(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", "[workspace]\nmembers = [\"a\", \"b\"]\n")
	if got := ProjectName(dir); got != "workspace (2 members)" {
		t.Errorf("ProjectName = %q", got)
	}
}
