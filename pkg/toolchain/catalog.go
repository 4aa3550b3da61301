package toolchain

import (
	"fmt"
	"os/exec"
	"sort"

	"asyncbuild/pkg/protocol"
)

// Invocation is a fully resolved command ready to hand to a worker.
type Invocation struct {
	Tool        string // generic tool name
	Language    string
	Program     string
	Args        []string
	Env         []string
	Quick       bool
	Description string
}

// Catalog resolves tool names against the profile that fits a project.
type Catalog struct {
	profiles []Profile
	fallback Profile
	lookPath func(string) (string, error)
}

// NewCatalog builds a catalog. defaultLanguage selects the profile used
// when no manifest is detected; empty means the first profile.
func NewCatalog(defaultLanguage string, profiles ...Profile) (*Catalog, error) {
	if len(profiles) == 0 {
		profiles = Profiles()
	}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	c := &Catalog{profiles: profiles, fallback: profiles[0], lookPath: exec.LookPath}
	if defaultLanguage != "" {
		p, ok := c.profile(defaultLanguage)
		if !ok {
			return nil, fmt.Errorf("toolchain: unknown default language %q", defaultLanguage)
		}
		c.fallback = p
	}
	return c, nil
}

func (c *Catalog) profile(language string) (Profile, bool) {
	for _, p := range c.profiles {
		if p.Language == language {
			return p, true
		}
	}
	return Profile{}, false
}

// Default returns the fallback profile.
func (c *Catalog) Default() Profile { return c.fallback }

// ToolNames returns the union of tool names across profiles, sorted.
func (c *Catalog) ToolNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, p := range c.profiles {
		for _, cmd := range p.Commands {
			if !seen[cmd.Name] {
				seen[cmd.Name] = true
				names = append(names, cmd.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// Spec returns the spec for name from the default profile, falling back to
// any profile that defines it.
func (c *Catalog) Spec(name string) (CommandSpec, bool) {
	if spec, ok := c.fallback.Command(name); ok {
		return spec, true
	}
	for _, p := range c.profiles {
		if spec, ok := p.Command(name); ok {
			return spec, true
		}
	}
	return CommandSpec{}, false
}

// IsQuick reports whether name always runs synchronously.
func (c *Catalog) IsQuick(name string) bool {
	spec, ok := c.Spec(name)
	return ok && spec.Quick
}

// Detect returns the profile for projectRoot: the project config's forced
// language, else the first profile whose manifest is present, else the
// default.
func (c *Catalog) Detect(projectRoot string, cfg ProjectConfig) Profile {
	if cfg.Language != "" {
		if p, ok := c.profile(cfg.Language); ok {
			return p
		}
	}
	for _, p := range c.profiles {
		if p.Detect(projectRoot) {
			return p
		}
	}
	return c.fallback
}

// Resolve turns a tool call into an Invocation for projectRoot. It returns
// *protocol.UnknownToolError for names no profile defines,
// *ArgsRequiredError when mandatory args are missing and *MissingToolError
// when an optional binary is not installed.
func (c *Catalog) Resolve(projectRoot, name string, extra []string) (Invocation, error) {
	if _, ok := c.Spec(name); !ok {
		return Invocation{}, &protocol.UnknownToolError{Tool: name}
	}
	cfg, err := LoadProjectConfig(projectRoot)
	if err != nil {
		return Invocation{}, err
	}
	profile := c.Detect(projectRoot, cfg)
	spec, ok := profile.Command(name)
	if !ok {
		return Invocation{}, fmt.Errorf("%s projects have no %q command", profile.Language, name)
	}
	if override, ok := cfg.Commands[name]; ok {
		spec = override.apply(spec)
	}

	if spec.ArgsRequired && len(extra) == 0 {
		return Invocation{}, &ArgsRequiredError{Command: name}
	}
	if spec.Requires != nil {
		if _, err := c.lookPath(spec.Requires.Binary); err != nil {
			return Invocation{}, &MissingToolError{Command: name, Tool: *spec.Requires}
		}
	}

	args := append([]string{}, spec.Args...)
	if len(extra) == 0 {
		args = append(args, spec.Defaults...)
	}
	for _, a := range extra {
		args = append(args, a+spec.ArgSuffix)
	}

	desc := protocol.FormatCommandLine(spec.Program, args)
	if project := ProjectName(projectRoot); project != "" {
		desc = fmt.Sprintf("%s (%s)", desc, project)
	}
	return Invocation{
		Tool:        name,
		Language:    profile.Language,
		Program:     spec.Program,
		Args:        args,
		Env:         spec.Env,
		Quick:       spec.Quick,
		Description: desc,
	}, nil
}
