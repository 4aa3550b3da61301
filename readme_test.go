package main

import (
	"os"
	"strings"
	"testing"

	"asyncbuild/internal/config"
	"asyncbuild/pkg/protocol"
)

func TestREADMEDocumentsControlTools(t *testing.T) {
	content, err := os.ReadFile("README.md")
	if err != nil {
		t.Fatalf("Failed to read README.md: %v", err)
	}
	readmeText := string(content)

	if !strings.Contains(readmeText, "## Tools") {
		t.Error("README.md missing ## Tools section")
	}
	for _, tool := range []string{protocol.ToolSleep, protocol.ToolStatus, protocol.ToolWait, protocol.ToolCancel, protocol.ToolStats} {
		if !strings.Contains(readmeText, "`"+tool+"`") {
			t.Errorf("README.md does not document the %s tool", tool)
		}
	}
	if !strings.Contains(readmeText, protocol.ProjectConfigFile) {
		t.Errorf("README.md does not mention %s", protocol.ProjectConfigFile)
	}
}

func TestREADMEDocumentsEnvironment(t *testing.T) {
	content, err := os.ReadFile("README.md")
	if err != nil {
		t.Fatalf("Failed to read README.md: %v", err)
	}
	readmeText := string(content)

	if !strings.Contains(readmeText, "## Configuration") {
		t.Error("README.md missing ## Configuration section")
	}

	// Every variable ApplyEnv reads must be listed.
	seen := map[string]bool{}
	cfg := config.Default()
	_ = cfg.ApplyEnv(func(key string) (string, bool) {
		seen[key] = true
		return "", false
	})
	seen[config.EnvConfigPath] = true
	if len(seen) < 2 {
		t.Fatalf("expected ApplyEnv to consult variables, saw %v", seen)
	}
	for key := range seen {
		if !strings.Contains(readmeText, "`"+key+"`") {
			t.Errorf("README.md does not document %s", key)
		}
	}
}
