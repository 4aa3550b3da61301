package main

import (
	"github.com/spf13/cobra"

	"asyncbuild/internal/appversion"
	"asyncbuild/internal/logging"
	"asyncbuild/internal/mcpserver"
)

// newServeCmd creates the "asyncbuild serve" subcommand.
func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve build tools over MCP on stdin/stdout",
		Long: "Speaks the Model Context Protocol on stdin/stdout until the client disconnects.\n" +
			"Logs go to stderr.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger, err := logging.Init(logging.Options{Level: cfg.Server.LogLevel})
			if err != nil {
				return err
			}

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // shutdown errors are logged by the components

			srv := mcpserver.New(a.d, a.notifier, logger, mcpserver.Options{Version: appversion.String()})
			return srv.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
