package main

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"asyncbuild/pkg/protocol"
	"asyncbuild/pkg/toolchain"
)

// newToolsCmd creates the "asyncbuild tools" subcommand.
func newToolsCmd(opts *rootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools served for a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			root, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolve dir: %w", err)
			}
			catalog, err := toolchain.NewCatalog(cfg.Server.Toolchain)
			if err != nil {
				return err
			}
			project, err := toolchain.LoadProjectConfig(root)
			if err != nil {
				return err
			}
			profile := catalog.Detect(root, project)

			w := cmd.OutOrStdout()
			pal := newPalette(w)
			fmt.Fprintf(w, "%s %s\n", pal.render(pal.header, "Toolchain:"), profile.Language)
			if name := toolchain.ProjectName(root); name != "" {
				fmt.Fprintf(w, "%s %s\n", pal.render(pal.header, "Project:"), name)
			}
			fmt.Fprintln(w)

			disabled := func(name string) bool { return slices.Contains(cfg.Server.DisabledTools, name) }
			for _, spec := range profile.Commands {
				mode := "async-capable"
				if spec.Quick {
					mode = "sync"
				}
				line := fmt.Sprintf("%-10s %-14s %s", spec.Name, mode, spec.Description)
				if disabled(spec.Name) {
					line = pal.render(pal.muted, line+" (disabled)")
				}
				fmt.Fprintln(w, line)
			}
			for _, name := range []string{protocol.ToolSleep, protocol.ToolStatus, protocol.ToolWait, protocol.ToolCancel, protocol.ToolStats} {
				line := fmt.Sprintf("%-10s %-14s", name, "control")
				if disabled(name) {
					line = pal.render(pal.muted, line+" (disabled)")
				}
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "C", ".", "project directory used for toolchain detection")
	return cmd
}
