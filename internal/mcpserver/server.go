// Package mcpserver exposes the dispatcher as MCP tools over stdio. It owns
// argument decoding and the mapping of replies and errors onto tool
// results; every decision about execution stays in the dispatcher.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"asyncbuild/pkg/dispatcher"
	"asyncbuild/pkg/notify"
	"asyncbuild/pkg/protocol"
)

// instructions is advertised to clients at initialization.
const instructions = `Build-tool commands run synchronously by default. Pass enable_async_notification=true to run a long command in the background: the reply carries an operation ID immediately and, when the request carries a progress token, progress notifications report its start and finish.
Start every independent operation first, do other work, then call wait once with all of their IDs in operation_ids. Use status for a non-blocking check instead of polling in a loop.`

// Options configure the protocol surface.
type Options struct {
	Name    string // defaults to protocol.ServerName
	Version string
}

// Server adapts a dispatcher to an MCP server.
type Server struct {
	d        *dispatcher.Dispatcher
	notifier *notify.Notifier
	log      *zap.Logger
	mcp      *server.MCPServer

	tools    []string
	handlers map[string]server.ToolHandlerFunc
}

// New registers one MCP tool per enabled dispatcher tool and binds a
// progress sender to every client session as it connects.
func New(d *dispatcher.Dispatcher, n *notify.Notifier, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Name == "" {
		opts.Name = protocol.ServerName
	}
	s := &Server{
		d:        d,
		notifier: n,
		log:      logger.Named("mcp"),
		handlers: make(map[string]server.ToolHandlerFunc),
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, session server.ClientSession) {
		id := session.SessionID()
		s.notifier.BindSession(id, NewProgressSender(s.mcp, id))
		s.log.Debug("session registered", zap.String("session", id))
	})
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.notifier.UnbindSession(session.SessionID())
		s.log.Debug("session unregistered", zap.String("session", session.SessionID()))
	})

	s.mcp = server.NewMCPServer(opts.Name, opts.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
		server.WithHooks(hooks),
	)

	for _, name := range d.Tools() {
		tool, handler := s.define(name)
		s.mcp.AddTool(tool, handler)
		s.handlers[name] = handler
		s.tools = append(s.tools, name)
	}
	return s
}

// ToolNames lists the registered tools, sorted.
func (s *Server) ToolNames() []string { return append([]string(nil), s.tools...) }

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Serve speaks MCP over in/out until ctx is cancelled or in reaches EOF.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.log))
	s.log.Info("serving over stdio", zap.Strings("tools", s.tools))
	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}

// --- tool definitions ---

func (s *Server) define(name string) (mcp.Tool, server.ToolHandlerFunc) {
	switch name {
	case protocol.ToolStatus:
		return mcp.NewTool(name,
			mcp.WithDescription("Non-blocking snapshot of a background operation. Prefer wait over repeated status calls."),
			mcp.WithString("operation_id", mcp.Required(), mcp.Description("ID returned when the operation started")),
		), s.handleStatus
	case protocol.ToolWait:
		return mcp.NewTool(name,
			mcp.WithDescription("Block until every listed background operation finishes and return their full output. "+
				"Pass every ID you need in one call."),
			mcp.WithArray("operation_ids", mcp.Required(),
				mcp.Description("Operation IDs to wait for; must not be empty"),
				mcp.Items(map[string]any{"type": "string"})),
		), s.handleWait
	case protocol.ToolCancel:
		return mcp.NewTool(name,
			mcp.WithDescription("Request cancellation of a running background operation."),
			mcp.WithString("operation_id", mcp.Required(), mcp.Description("Operation to cancel")),
		), s.handleCancel
	case protocol.ToolStats:
		return mcp.NewTool(name,
			mcp.WithDescription("Operation and worker pool statistics."),
		), s.handleStats
	case protocol.ToolSleep:
		return mcp.NewTool(name,
			mcp.WithDescription("Sleep for duration_ms. Diagnostic tool for exercising background execution."+asyncAddendum),
			mcp.WithNumber("duration_ms", mcp.Required(), mcp.Description("Milliseconds to sleep")),
			mcp.WithString("operation_id", mcp.Description("Optional caller-chosen operation ID; must never have been used")),
			mcp.WithBoolean("enable_async_notification", mcp.Description("Run in the background and notify on completion")),
		), s.handleSleep
	}

	desc := "Run " + name
	quick := false
	if spec, ok := s.d.Catalog().Spec(name); ok {
		desc = spec.Description
		quick = spec.Quick
	}
	opts := []mcp.ToolOption{
		mcp.WithString("working_directory", mcp.Required(), mcp.Description("Project directory to run in")),
		mcp.WithArray("args", mcp.Description("Extra arguments passed to the command"), mcp.Items(map[string]any{"type": "string"})),
	}
	if quick {
		desc += ". Always runs synchronously."
	} else {
		desc += "." + asyncAddendum
		opts = append(opts, mcp.WithBoolean("enable_async_notification",
			mcp.Description("Run in the background and notify on completion")))
	}
	opts = append([]mcp.ToolOption{mcp.WithDescription(desc)}, opts...)
	return mcp.NewTool(name, opts...), s.handleBuildTool(name)
}

const asyncAddendum = " Set enable_async_notification=true for long runs: you get an operation ID at once, " +
	"can keep working, and collect the result with wait(operation_ids=[...])."

// --- handlers ---

func (s *Server) handleBuildTool(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args protocol.ToolRequest
		if err := protocol.DecodeArguments(req.GetArguments(), &args); err != nil {
			return errorResult(err), nil
		}
		reply, err := s.d.Invoke(ctx, dispatcher.Call{
			Tool:                    name,
			SessionID:               sessionID(ctx),
			WorkingDirectory:        args.WorkingDirectory,
			Args:                    args.Args,
			EnableAsyncNotification: args.EnableAsyncNotification,
			ProgressToken:           progressToken(req),
		})
		return s.result(name, reply, err), nil
	}
}

func (s *Server) handleSleep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args protocol.SleepRequest
	if err := protocol.DecodeArguments(req.GetArguments(), &args); err != nil {
		return errorResult(err), nil
	}
	reply, err := s.d.Invoke(ctx, dispatcher.Call{
		Tool:                    protocol.ToolSleep,
		SessionID:               sessionID(ctx),
		Duration:                time.Duration(args.DurationMS) * time.Millisecond,
		OperationID:             args.OperationID,
		EnableAsyncNotification: args.EnableAsyncNotification,
		ProgressToken:           progressToken(req),
	})
	return s.result(protocol.ToolSleep, reply, err), nil
}

func (s *Server) handleStatus(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args protocol.StatusRequest
	if err := protocol.DecodeArguments(req.GetArguments(), &args); err != nil {
		return errorResult(err), nil
	}
	reply, err := s.d.Status(args.OperationID)
	return s.result(protocol.ToolStatus, reply, err), nil
}

func (s *Server) handleCancel(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args protocol.StatusRequest
	if err := protocol.DecodeArguments(req.GetArguments(), &args); err != nil {
		return errorResult(err), nil
	}
	reply, err := s.d.Cancel(args.OperationID)
	return s.result(protocol.ToolCancel, reply, err), nil
}

func (s *Server) handleStats(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct{}
	if err := protocol.DecodeArguments(req.GetArguments(), &args); err != nil {
		return errorResult(err), nil
	}
	reply, err := s.d.Stats()
	return s.result(protocol.ToolStats, reply, err), nil
}

// handleWait observes for the dispatcher's configured wait timeout, cut
// short by the request's own deadline.
func (s *Server) handleWait(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args protocol.WaitRequest
	if err := protocol.DecodeArguments(req.GetArguments(), &args); err != nil {
		return errorResult(err), nil
	}
	reply, err := s.d.Wait(ctx, args.OperationIDs, 0)
	if err != nil {
		s.log.Info("wait rejected", zap.Error(err))
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(reply.Text), nil
}

func (s *Server) result(tool string, reply dispatcher.Reply, err error) *mcp.CallToolResult {
	if err != nil {
		s.log.Info("tool call rejected", zap.String("tool", tool), zap.Error(err))
		return errorResult(err)
	}
	if reply.IsError {
		return mcp.NewToolResultError(reply.Text)
	}
	return mcp.NewToolResultText(reply.Text)
}

func errorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

func sessionID(ctx context.Context) string {
	if cs := server.ClientSessionFromContext(ctx); cs != nil {
		return cs.SessionID()
	}
	return ""
}

func progressToken(req mcp.CallToolRequest) any {
	if req.Params.Meta == nil {
		return nil
	}
	if tok := req.Params.Meta.ProgressToken; tok != nil {
		return tok
	}
	return nil
}
