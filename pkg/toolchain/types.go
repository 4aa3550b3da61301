// Package toolchain is the declarative catalog of build-tool commands.
// Each profile describes, for one language toolchain, which program and
// arguments implement each generic tool name (build, test, lint, ...),
// which commands are quick enough to always run synchronously, and which
// depend on optional external binaries.
package toolchain

import "fmt"

// Tool describes an optional external binary a command depends on.
type Tool struct {
	Name        string // display name (e.g. "cargo-audit")
	Binary      string // executable looked up on PATH
	InstallHint string // how to install (e.g. "cargo install cargo-audit")
}

// CommandSpec maps one generic tool name onto a program invocation.
type CommandSpec struct {
	Name         string   // tool name exposed to callers (e.g. "build")
	Description  string   // one-line description for tool listings
	Program      string   // executable (e.g. "cargo")
	Args         []string // fixed leading arguments (e.g. ["build"])
	Defaults     []string // appended only when the caller passes no args
	Env          []string // extra KEY=VALUE pairs
	ArgSuffix    string   // appended to every caller arg (e.g. "@none")
	ArgsRequired bool     // caller must pass at least one arg
	Quick        bool     // always runs synchronously
	Requires     *Tool    // optional binary checked before running
}

// Profile describes the command catalog for one toolchain.
type Profile struct {
	Language string            // canonical name (e.g. "rust", "go")
	Manifest string            // file that marks a project (e.g. "Cargo.toml")
	Detect   func(string) bool // returns true if the project root uses this toolchain
	Commands []CommandSpec
}

// Validate checks that required fields are set. Returns an error describing
// the first problem found.
func (p Profile) Validate() error {
	if p.Language == "" {
		return fmt.Errorf("toolchain: Language is required")
	}
	if p.Detect == nil {
		return fmt.Errorf("toolchain: Detect function is required")
	}
	if len(p.Commands) == 0 {
		return fmt.Errorf("toolchain: %s profile has no Commands", p.Language)
	}
	seen := make(map[string]bool, len(p.Commands))
	for _, c := range p.Commands {
		if c.Name == "" || c.Program == "" {
			return fmt.Errorf("toolchain: %s profile has a command without Name or Program", p.Language)
		}
		if seen[c.Name] {
			return fmt.Errorf("toolchain: %s profile defines %q twice", p.Language, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// Command returns the spec for a tool name.
func (p Profile) Command(name string) (CommandSpec, bool) {
	for _, c := range p.Commands {
		if c.Name == name {
			return c, true
		}
	}
	return CommandSpec{}, false
}

// MissingToolError reports that an optional binary a command needs is not
// installed.
type MissingToolError struct {
	Command string
	Tool    Tool
}

func (e *MissingToolError) Error() string {
	return fmt.Sprintf("%s is not installed. Install it with: %s", e.Tool.Name, e.Tool.InstallHint)
}

// ArgsRequiredError reports a command invoked without its mandatory args.
type ArgsRequiredError struct {
	Command string
}

func (e *ArgsRequiredError) Error() string {
	return fmt.Sprintf("%s requires at least one argument in args", e.Command)
}
