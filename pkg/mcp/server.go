package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/renvik/presend/internal/hook"
	"github.com/renvik/presend/internal/sender"
	"github.com/renvik/presend/internal/validation"
	"github.com/renvik/presend/internal/variables"
)

// PresendServerDeps holds the dependencies for creating a PresendServer.
type PresendServerDeps struct {
	Hook      *hook.Hook
	Sender    *sender.Sender
	Store     variables.Store
	Validator validation.Validator
	Logger    *slog.Logger
}

// PresendServer wraps an MCP server with request-rendering tool handlers.
type PresendServer struct {
	hook      *hook.Hook
	sender    *sender.Sender
	store     variables.Store
	validator validation.Validator
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewPresendServer creates a new PresendServer with all 4 tools registered.
func NewPresendServer(deps PresendServerDeps) *PresendServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &PresendServer{
		hook:      deps.Hook,
		sender:    deps.Sender,
		store:     deps.Store,
		validator: deps.Validator,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"presend",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Presend renders HTTP request templates before they are sent. Use presend.render to expand ${{...}} expressions in a request, presend.eval to evaluate a single expression, presend.send to render and execute a request, and presend.vars to manage the variable store."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *PresendServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *PresendServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *PresendServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: renderTool(), Handler: s.handleRender},
		{Tool: evalTool(), Handler: s.handleEval},
		{Tool: sendTool(), Handler: s.handleSend},
		{Tool: varsTool(), Handler: s.handleVars},
	}
}

// --- Tool definitions ---

func renderTool() mcp.Tool {
	return mcp.NewTool("presend.render",
		mcp.WithDescription("Render a request template: expand ${{...}} expressions in url, method, headers, and payload against the variable context"),
		mcp.WithString("name", mcp.Description("Request name, for log correlation")),
		mcp.WithString("url", mcp.Description("Request URL template")),
		mcp.WithString("method", mcp.Description("HTTP method template")),
		mcp.WithString("headers", mcp.Description("Headers template, a JSON object of string values")),
		mcp.WithString("payload", mcp.Description("Body template")),
		mcp.WithObject("overrides", mcp.Description("Variable overrides for this render, highest precedence")),
	)
}

func evalTool() mcp.Tool {
	return mcp.NewTool("presend.eval",
		mcp.WithDescription("Evaluate a single template string. A string that is exactly one ${{...}} fragment returns the raw value; mixed text returns the spliced string"),
		mcp.WithString("value", mcp.Required(), mcp.Description("Template string to evaluate")),
	)
}

func sendTool() mcp.Tool {
	return mcp.NewTool("presend.send",
		mcp.WithDescription("Render a request template and execute it over HTTP, returning status, headers, and body"),
		mcp.WithString("name", mcp.Description("Request name, for log correlation")),
		mcp.WithString("url", mcp.Required(), mcp.Description("Request URL template")),
		mcp.WithString("method", mcp.Description("HTTP method template (default GET)")),
		mcp.WithString("headers", mcp.Description("Headers template, a JSON object of string values")),
		mcp.WithString("payload", mcp.Description("Body template")),
		mcp.WithObject("overrides", mcp.Description("Variable overrides for this render, highest precedence")),
	)
}

func varsTool() mcp.Tool {
	return mcp.NewTool("presend.vars",
		mcp.WithDescription("Manage the variable store backing the rendering context"),
		mcp.WithString("op", mcp.Required(),
			mcp.Enum("get", "set", "delete", "list"),
			mcp.Description("Operation to perform"),
		),
		mcp.WithString("name", mcp.Description("Variable name (required for get, set, delete)")),
		mcp.WithString("value", mcp.Description("Variable value as JSON; plain text is stored as a string (required for set)")),
	)
}
