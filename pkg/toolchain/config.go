package toolchain

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"asyncbuild/pkg/protocol"
)

// ProjectConfig is the per-project .asyncbuild.yaml override file.
type ProjectConfig struct {
	Language string                     `yaml:"language,omitempty"` // force a profile
	Commands map[string]CommandOverride `yaml:"commands,omitempty"`
}

// CommandOverride replaces parts of one command spec for a project.
type CommandOverride struct {
	Program string   `yaml:"program,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	Env     []string `yaml:"env,omitempty"`
}

// LoadProjectConfig reads .asyncbuild.yaml from projectRoot. A missing file
// yields an empty config and no error.
func LoadProjectConfig(projectRoot string) (ProjectConfig, error) {
	path := filepath.Join(projectRoot, protocol.ProjectConfigFile)
	//nolint:gosec // path is constructed from projectRoot parameter
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ProjectConfig{}, nil
	}
	if err != nil {
		return ProjectConfig{}, fmt.Errorf("read %s: %w", path, err)
	}
	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ProjectConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// apply overlays the override onto spec.
func (o CommandOverride) apply(spec CommandSpec) CommandSpec {
	if o.Program != "" {
		spec.Program = o.Program
	}
	if len(o.Args) > 0 {
		spec.Args = o.Args
		spec.Defaults = nil
	}
	if len(o.Env) > 0 {
		spec.Env = append(append([]string{}, spec.Env...), o.Env...)
	}
	return spec
}

// ProjectName reads the package or module name from the project manifest.
// Returns "" when there is none.
func ProjectName(projectRoot string) string {
	if name := cargoPackageName(projectRoot); name != "" {
		return name
	}
	return goModulePath(projectRoot)
}

func cargoPackageName(projectRoot string) string {
	//nolint:gosec // path is constructed from projectRoot parameter
	data, err := os.ReadFile(filepath.Join(projectRoot, "Cargo.toml"))
	if err != nil {
		return ""
	}
	var manifest struct {
		Package struct {
			Name string `toml:"name"`
		} `toml:"package"`
		Workspace *struct {
			Members []string `toml:"members"`
		} `toml:"workspace"`
	}
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return ""
	}
	if manifest.Package.Name == "" && manifest.Workspace != nil {
		return fmt.Sprintf("workspace (%d members)", len(manifest.Workspace.Members))
	}
	return manifest.Package.Name
}

func goModulePath(projectRoot string) string {
	//nolint:gosec // path is constructed from projectRoot parameter
	data, err := os.ReadFile(filepath.Join(projectRoot, "go.mod"))
	if err != nil {
		return ""
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if mod, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "module "); ok {
			return strings.Trim(strings.TrimSpace(mod), `"`)
		}
	}
	return ""
}
