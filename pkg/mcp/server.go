package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/xiongQvQ/ZenGrowth/internal/journal"
	"github.com/xiongQvQ/ZenGrowth/internal/orchestrator"
	"github.com/xiongQvQ/ZenGrowth/internal/router"
	"github.com/xiongQvQ/ZenGrowth/internal/scheduler"
)

// ZenGrowthServerDeps holds the dependencies for creating a ZenGrowthServer.
// Scheduler and Archive are optional; the corresponding tool surfaces
// degrade gracefully when they are nil.
type ZenGrowthServerDeps struct {
	Orchestrator *orchestrator.Orchestrator
	Router       *router.Router
	Scheduler    *scheduler.Scheduler
	Archive      *journal.LibSQL
	Logger       *slog.Logger
}

// ZenGrowthServer wraps an MCP server with zengrowth-specific tool handlers.
type ZenGrowthServer struct {
	orchestrator *orchestrator.Orchestrator
	router       *router.Router
	scheduler    *scheduler.Scheduler
	archive      *journal.LibSQL
	logger       *slog.Logger
	mcpServer    *server.MCPServer
}

// NewZenGrowthServer creates a new ZenGrowthServer with all 6 tools registered.
func NewZenGrowthServer(deps ZenGrowthServerDeps) *ZenGrowthServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &ZenGrowthServer{
		orchestrator: deps.Orchestrator,
		router:       deps.Router,
		scheduler:    deps.Scheduler,
		archive:      deps.Archive,
		logger:       logger,
	}

	mcpSrv := server.NewMCPServer(
		"zengrowth",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("ZenGrowth runs dependency-aware business analytics workflows over user behavior data. Use zengrowth.run to execute the workflow, zengrowth.status to check task states and schedules, zengrowth.task to run a single task, zengrowth.providers to inspect LLM provider health and circuits, zengrowth.invoke to send a prompt through the fallback router, and zengrowth.history to list past runs and fallback events."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *ZenGrowthServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ZenGrowthServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 6 registered MCP tools as ServerTool entries.
func (s *ZenGrowthServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: taskTool(), Handler: s.handleTask},
		{Tool: providersTool(), Handler: s.handleProviders},
		{Tool: invokeTool(), Handler: s.handleInvoke},
		{Tool: historyTool(), Handler: s.handleHistory},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("zengrowth.run",
		mcp.WithDescription("Execute the registered analytics workflow"),
		mcp.WithString("mode",
			mcp.Enum("sequential", "parallel"),
			mcp.Description("Execution mode (default: sequential)"),
		),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("zengrowth.status",
		mcp.WithDescription("Get task states grouped by status, the last run, and configured schedules"),
	)
}

func taskTool() mcp.Tool {
	return mcp.NewTool("zengrowth.task",
		mcp.WithDescription("Execute a single task with its dependency and condition gates applied"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task to execute")),
		mcp.WithObject("params", mcp.Description("Extra parameters merged over the task's context map")),
	)
}

func providersTool() mcp.Tool {
	return mcp.NewTool("zengrowth.providers",
		mcp.WithDescription("List LLM providers with masked config, health, circuit state, and call metrics"),
		mcp.WithString("check", mcp.Description("Run a live health probe against every provider first (default: false)")),
	)
}

func invokeTool() mcp.Tool {
	return mcp.NewTool("zengrowth.invoke",
		mcp.WithDescription("Send a prompt through the provider fallback chain"),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("User prompt")),
		mcp.WithString("system", mcp.Description("System prompt")),
		mcp.WithString("model", mcp.Description("Model override for the serving provider")),
		mcp.WithString("provider", mcp.Description("Preferred provider to try first")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("zengrowth.history",
		mcp.WithDescription("List recent workflow runs or provider fallback events"),
		mcp.WithString("resource",
			mcp.Enum("runs", "fallbacks"),
			mcp.Description("Record type to list (default: runs)"),
		),
		mcp.WithString("archived", mcp.Description("Read from the libSQL archive instead of the in-memory ring (default: false)")),
		mcp.WithObject("filter", mcp.Description("Filter criteria (limit)")),
	)
}
