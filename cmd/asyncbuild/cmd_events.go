package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"asyncbuild/pkg/eventlog"
	"asyncbuild/pkg/protocol"
)

// eventsConfig holds configuration for the events command.
type eventsConfig struct {
	db          string
	operationID string
	kind        string
	since       time.Duration
	limit       int
}

// newEventsCmd creates the "asyncbuild events" subcommand.
func newEventsCmd(opts *rootOptions) *cobra.Command {
	var cfg eventsConfig

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recorded operation events",
		Long: "Reads the event log written by a server started with --event-log\n" +
			"(or [server] event_log) and prints matching events oldest first.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := cfg.db
			if path == "" {
				conf, err := loadConfig(cmd, opts)
				if err != nil {
					return err
				}
				path = conf.Server.EventLog
			}
			if path == "" {
				path = eventlog.DefaultDBPath()
			}

			r, err := eventlog.NewReader(path)
			if err != nil {
				return fmt.Errorf("open event log %s: %w", path, err)
			}
			defer r.Close() //nolint:errcheck // read-only handle

			q := eventlog.QueryOpts{OperationID: cfg.operationID, Kind: cfg.kind, Limit: cfg.limit}
			if cfg.since > 0 {
				after := time.Now().Add(-cfg.since)
				q.After = &after
			}
			events, err := r.Query(cmd.Context(), q)
			if err != nil {
				return err
			}
			printEventTable(cmd.OutOrStdout(), events)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.db, "db", "", "event database (default: configured event log or ~/.asyncbuild/events.db)")
	cmd.Flags().StringVar(&cfg.operationID, "op", "", "only events of this operation")
	cmd.Flags().StringVar(&cfg.kind, "kind", "", "only events of this kind (started, progress, completed)")
	cmd.Flags().DurationVar(&cfg.since, "since", 0, "only events newer than this (e.g. 10m)")
	cmd.Flags().IntVar(&cfg.limit, "limit", 50, "maximum number of events (0 = all)")
	return cmd
}

// printEventTable prints events oldest first. Query returns newest first.
func printEventTable(w io.Writer, events []eventlog.Event) {
	pal := newPalette(w)
	if len(events) == 0 {
		fmt.Fprintln(w, pal.render(pal.muted, "no events"))
		return
	}
	fmt.Fprintln(w, pal.render(pal.header, fmt.Sprintf("%-23s  %-9s  %-20s  %-8s  %-9s  %s",
		"TIME", "KIND", "OPERATION", "COMMAND", "STATE", "MESSAGE")))
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		state := pal.state(protocol.OperationState(e.State)) + strings.Repeat(" ", max(0, 9-len(e.State)))
		fmt.Fprintf(w, "%-23s  %-9s  %-20s  %-8s  %s  %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05.000"),
			e.Kind,
			pal.render(pal.id, fmt.Sprintf("%-20s", e.OperationID)),
			e.Command,
			state,
			e.Message)
	}
}
