package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"asyncbuild/internal/logging"
	"asyncbuild/pkg/dispatcher"
	"asyncbuild/pkg/notify"
	"asyncbuild/pkg/protocol"
)

// cliSession is the notifier session the call command binds to.
const cliSession = "cli"

// callConfig holds configuration for the call command.
type callConfig struct {
	dir        string
	async      bool
	durationMS int64
	id         string
}

// newCallCmd creates the "asyncbuild call" subcommand.
func newCallCmd(opts *rootOptions) *cobra.Command {
	var cfg callConfig

	cmd := &cobra.Command{
		Use:   "call <tool> [args...]",
		Short: "Run one tool locally, the way an MCP client would",
		Long: "Runs a build tool (or sleep) through the same dispatcher the server uses.\n" +
			"With --async the tool runs in the background, lifecycle events are printed\n" +
			"as they arrive and the command waits for the final result.",
		Example: "  asyncbuild call build --dir ./myproject\n" +
			"  asyncbuild call add --dir . serde tokio\n" +
			"  asyncbuild call sleep --duration-ms 1500 --async",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, opts, cfg, args[0], args[1:])
		},
	}

	cmd.Flags().StringVarP(&cfg.dir, "dir", "C", ".", "working directory of the project")
	cmd.Flags().BoolVar(&cfg.async, "async", false, "run in the background and wait for completion")
	cmd.Flags().Int64Var(&cfg.durationMS, "duration-ms", 1000, "sleep duration (sleep tool only)")
	cmd.Flags().StringVar(&cfg.id, "id", "", "operation id to propose (sleep tool only)")
	return cmd
}

func runCall(cmd *cobra.Command, opts *rootOptions, cc callConfig, tool string, extra []string) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	level := "warn"
	if cmd.Flags().Changed("log-level") {
		level = cfg.Server.LogLevel
	}
	logger, err := logging.Build(logging.Options{Level: level})
	if err != nil {
		return err
	}
	cfg.Notify.LogEvents = false

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck // shutdown errors are logged by the components

	dir, err := filepath.Abs(cc.dir)
	if err != nil {
		return fmt.Errorf("resolve dir: %w", err)
	}

	out := cmd.OutOrStdout()
	pal := newPalette(out)

	sender := notify.NewChannelSender(8)
	a.notifier.BindSession(cliSession, sender)
	var printed sync.WaitGroup
	printed.Add(1)
	go func() {
		defer printed.Done()
		printEvents(cmd.ErrOrStderr(), newPalette(cmd.ErrOrStderr()), sender.Events())
	}()
	defer func() {
		// Completion events are published after the registry settles.
		a.d.Close()
		a.notifier.UnbindSession(cliSession)
		sender.Close()
		printed.Wait()
	}()

	c := dispatcher.Call{
		Tool:             tool,
		SessionID:        cliSession,
		WorkingDirectory: dir,
		Args:             extra,
	}
	if cc.async {
		c.EnableAsyncNotification = &cc.async
	}
	if tool == protocol.ToolSleep {
		c.Duration = time.Duration(cc.durationMS) * time.Millisecond
		c.OperationID = cc.id
		c.WorkingDirectory = ""
	}

	reply, err := a.d.Invoke(cmd.Context(), c)
	if err != nil {
		return err
	}
	printReply(out, pal, reply.Text, reply.IsError)
	if reply.Mode != protocol.ModeBackground {
		if reply.IsError {
			return errors.New(tool + " failed")
		}
		return nil
	}

	res, err := a.d.Wait(cmd.Context(), []string{reply.OperationID}, 0)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	state := res.Outcomes[0].Snapshot.State
	printReply(out, pal, res.Text, state != protocol.StateCompleted)
	if state != protocol.StateCompleted {
		return fmt.Errorf("%s %s", tool, state)
	}
	return nil
}

// printReply styles the first line of a reply by outcome.
func printReply(w io.Writer, pal palette, text string, failed bool) {
	first, rest, _ := strings.Cut(text, "\n")
	style := pal.ok
	if failed {
		style = pal.fail
	}
	fmt.Fprintln(w, pal.render(style, first))
	if rest != "" {
		fmt.Fprintln(w, rest)
	}
}

func printEvents(w io.Writer, pal palette, events <-chan protocol.Event) {
	for ev := range events {
		fmt.Fprintf(w, "%s %s %s %s\n",
			pal.render(pal.muted, ev.Time.Format("15:04:05.000")),
			pal.render(pal.id, ev.OperationID),
			pal.render(pal.header, string(ev.Kind)),
			ev.Message)
	}
}
