package toolchain

import (
	"os"
	"path/filepath"
)

// CargoProfile returns the catalog for Rust projects built with cargo.
func CargoProfile() Profile {
	clippy := &Tool{Name: "clippy", Binary: "cargo-clippy", InstallHint: "rustup component add clippy"}
	rustfmt := &Tool{Name: "rustfmt", Binary: "cargo-fmt", InstallHint: "rustup component add rustfmt"}

	return Profile{
		Language: "rust",
		Manifest: "Cargo.toml",
		Detect:   manifestDetector("Cargo.toml"),
		Commands: []CommandSpec{
			{Name: "build", Description: "Compile the package", Program: "cargo", Args: []string{"build"}},
			{Name: "test", Description: "Run the test suite", Program: "cargo", Args: []string{"test"}},
			{Name: "check", Description: "Type-check without producing binaries", Program: "cargo", Args: []string{"check"}},
			{Name: "lint", Description: "Run clippy lints", Program: "cargo", Args: []string{"clippy"}, Requires: clippy},
			{Name: "format", Description: "Format sources with rustfmt", Program: "cargo", Args: []string{"fmt"}, Requires: rustfmt},
			{
				Name: "audit", Description: "Scan dependencies for security advisories", Program: "cargo", Args: []string{"audit"},
				Requires: &Tool{Name: "cargo-audit", Binary: "cargo-audit", InstallHint: "cargo install cargo-audit"},
			},
			{Name: "run", Description: "Build and run the main binary", Program: "cargo", Args: []string{"run"}},
			{Name: "doc", Description: "Build documentation", Program: "cargo", Args: []string{"doc"}, Defaults: []string{"--no-deps"}},
			{Name: "clean", Description: "Remove build artifacts", Program: "cargo", Args: []string{"clean"}},
			{Name: "bench", Description: "Run benchmarks", Program: "cargo", Args: []string{"bench"}},
			{Name: "fix", Description: "Apply compiler suggestions", Program: "cargo", Args: []string{"fix"}, Defaults: []string{"--allow-dirty"}},
			{Name: "add", Description: "Add dependencies", Program: "cargo", Args: []string{"add"}, ArgsRequired: true},
			{Name: "remove", Description: "Remove dependencies", Program: "cargo", Args: []string{"remove"}, ArgsRequired: true},
			{Name: "tree", Description: "Show the dependency tree", Program: "cargo", Args: []string{"tree"}, Quick: true},
			{Name: "version", Description: "Show the toolchain version", Program: "cargo", Args: []string{"--version"}, Quick: true},
			{
				Name: "metadata", Description: "Print package metadata as JSON", Program: "cargo",
				Args: []string{"metadata", "--format-version", "1"}, Defaults: []string{"--no-deps"}, Quick: true,
			},
			{Name: "update", Description: "Update the lockfile", Program: "cargo", Args: []string{"update"}, Quick: true},
		},
	}
}

// GoProfile returns the catalog for Go modules.
func GoProfile() Profile {
	return Profile{
		Language: "go",
		Manifest: "go.mod",
		Detect:   manifestDetector("go.mod"),
		Commands: []CommandSpec{
			{Name: "build", Description: "Compile all packages", Program: "go", Args: []string{"build"}, Defaults: []string{"./..."}},
			{Name: "test", Description: "Run the test suite", Program: "go", Args: []string{"test"}, Defaults: []string{"./..."}},
			{Name: "check", Description: "Run go vet", Program: "go", Args: []string{"vet"}, Defaults: []string{"./..."}},
			{
				Name: "lint", Description: "Run golangci-lint", Program: "golangci-lint", Args: []string{"run"},
				Requires: &Tool{
					Name: "golangci-lint", Binary: "golangci-lint",
					InstallHint: "go install github.com/golangci/golangci-lint/cmd/golangci-lint@latest",
				},
			},
			{Name: "format", Description: "Format sources with gofmt", Program: "gofmt", Args: []string{"-l", "-w"}, Defaults: []string{"."}},
			{
				Name: "audit", Description: "Scan for known vulnerabilities", Program: "govulncheck", Defaults: []string{"./..."},
				Requires: &Tool{Name: "govulncheck", Binary: "govulncheck", InstallHint: "go install golang.org/x/vuln/cmd/govulncheck@latest"},
			},
			{Name: "run", Description: "Build and run the main package", Program: "go", Args: []string{"run"}, Defaults: []string{"."}},
			{Name: "doc", Description: "Show package documentation", Program: "go", Args: []string{"doc"}},
			{Name: "clean", Description: "Remove cached build artifacts", Program: "go", Args: []string{"clean"}, Defaults: []string{"-cache"}},
			{Name: "bench", Description: "Run benchmarks", Program: "go", Args: []string{"test", "-run", "^$", "-bench", "."}, Defaults: []string{"./..."}},
			{Name: "fix", Description: "Apply go fix rewrites", Program: "go", Args: []string{"fix"}, Defaults: []string{"./..."}},
			{Name: "add", Description: "Add dependencies", Program: "go", Args: []string{"get"}, ArgsRequired: true},
			{Name: "remove", Description: "Remove dependencies", Program: "go", Args: []string{"get"}, ArgSuffix: "@none", ArgsRequired: true},
			{Name: "tree", Description: "Print the module graph", Program: "go", Args: []string{"mod", "graph"}, Quick: true},
			{Name: "version", Description: "Show the toolchain version", Program: "go", Args: []string{"version"}, Quick: true},
			{Name: "metadata", Description: "Print module metadata as JSON", Program: "go", Args: []string{"list", "-m", "-json"}, Quick: true},
			{Name: "update", Description: "Tidy go.mod and go.sum", Program: "go", Args: []string{"mod", "tidy"}, Quick: true},
		},
	}
}

// Profiles returns every built-in profile.
func Profiles() []Profile {
	return []Profile{CargoProfile(), GoProfile()}
}

func manifestDetector(manifest string) func(string) bool {
	return func(projectRoot string) bool {
		_, err := os.Stat(filepath.Join(projectRoot, manifest))
		return err == nil
	}
}
