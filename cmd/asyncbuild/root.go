package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"asyncbuild/internal/appversion"
	"asyncbuild/internal/config"
)

// rootOptions are the persistent flags shared by every subcommand. Flags
// override the config file and ASYNCBUILD_* variables.
type rootOptions struct {
	configPath  string
	logLevel    string
	synchronous bool
	disabled    []string
	toolchain   string
	eventLog    string
}

// newRootCmd creates the root asyncbuild command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "asyncbuild",
		Short: "Async build-tool server for MCP clients",
		Long: "asyncbuild runs build-tool commands for MCP clients, synchronously or as\n" +
			"tracked background operations that can be waited on and report progress.",
		Version:       fmt.Sprintf("asyncbuild %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default $ASYNCBUILD_CONFIG or ~/.config/asyncbuild/config.toml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&opts.synchronous, "synchronous", false, "never run operations in the background")
	pf.StringSliceVar(&opts.disabled, "disable-tool", nil, "tool to disable (repeatable or comma-separated)")
	pf.StringVar(&opts.toolchain, "toolchain", "", "profile used when no manifest is found (rust, go)")
	pf.StringVar(&opts.eventLog, "event-log", "", "SQLite file recording operation events")

	cmd.AddCommand(
		newServeCmd(opts),
		newCallCmd(opts),
		newEventsCmd(opts),
		newToolsCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig resolves file, environment and flag settings, in that order.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	path, err := config.ResolvePath(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Server.LogLevel = opts.logLevel
	}
	if flags.Changed("synchronous") {
		cfg.Server.Synchronous = opts.synchronous
	}
	if flags.Changed("disable-tool") {
		cfg.Server.DisabledTools = opts.disabled
	}
	if flags.Changed("toolchain") {
		cfg.Server.Toolchain = opts.toolchain
	}
	if flags.Changed("event-log") {
		cfg.Server.EventLog = opts.eventLog
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "asyncbuild %s\n", appversion.String())
		},
	}
}
