// Package mcp exposes the grid to agents over the Model Context Protocol.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/salesgrid/salesgrid/internal/expressions"
	"github.com/salesgrid/salesgrid/internal/preview"
	"github.com/salesgrid/salesgrid/internal/store"
	"github.com/salesgrid/salesgrid/internal/validation"
)

// GridServerDeps holds the dependencies for creating a GridServer.
type GridServerDeps struct {
	Store     store.Store
	Previewer *preview.Previewer
	Validator *validation.Validator
	Filters   *expressions.CELEngine
	Logger    *slog.Logger
}

// GridServer wraps an MCP server with grid-specific tool handlers.
type GridServer struct {
	store     store.Store
	previewer *preview.Previewer
	validator *validation.Validator
	filters   *expressions.CELEngine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewGridServer creates a new GridServer with all 5 tools registered.
func NewGridServer(deps GridServerDeps) *GridServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &GridServer{
		store:     deps.Store,
		previewer: deps.Previewer,
		validator: deps.Validator,
		filters:   deps.Filters,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"salesgrid",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Salesgrid manages dynamic sales tables with formula and enrichment columns. Use grid.evaluate to run a formula against an ad-hoc context, grid.preview to compute derived cells for stored rows, grid.define_column to validate and persist a column definition, grid.query to list tables/columns/rows with optional CEL row filters, and grid.refresh to recompute a column or table now."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *GridServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *GridServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *GridServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: evaluateTool(), Handler: s.handleEvaluate},
		{Tool: previewTool(), Handler: s.handlePreview},
		{Tool: defineColumnTool(), Handler: s.handleDefineColumn},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: refreshTool(), Handler: s.handleRefresh},
	}
}

// --- Tool definitions ---

func evaluateTool() mcp.Tool {
	return mcp.NewTool("grid.evaluate",
		mcp.WithDescription("Evaluate a formula expression against an ad-hoc context map. @key references resolve against the context; missing keys resolve to empty values. Always returns a string."),
		mcp.WithString("expression", mcp.Required(), mcp.Description("Formula expression, e.g. IF(@status = \"won\", @revenue, 0)")),
		mcp.WithObject("context", mcp.Description("Context map of column key to cell value")),
	)
}

func previewTool() mcp.Tool {
	return mcp.NewTool("grid.preview",
		mcp.WithDescription("Compute derived cell values for stored rows. Give row_id for one row's derived columns, or column_key for one column across all rows."),
		mcp.WithString("table_id", mcp.Required(), mcp.Description("ID of the table")),
		mcp.WithString("row_id", mcp.Description("Row to preview (all derived columns)")),
		mcp.WithString("column_key", mcp.Description("Column to preview (across all rows)")),
	)
}

func defineColumnTool() mcp.Tool {
	return mcp.NewTool("grid.define_column",
		mcp.WithDescription("Validate and persist a column definition. Reusing an existing key updates that column. A refresh cron spec schedules recomputation."),
		mcp.WithString("table_id", mcp.Required(), mcp.Description("ID of the table")),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Column definition: key, name, kind (data|formula|enrichment), formula, extract, refresh")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("grid.query",
		mcp.WithDescription("Query tables, columns, rows, or trigger events"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("tables", "columns", "rows", "trigger_events"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (table_id, filter — a CEL expression over row/table for rows, rule_id, since, limit)")),
	)
}

func refreshTool() mcp.Tool {
	return mcp.NewTool("grid.refresh",
		mcp.WithDescription("Recompute derived columns now and persist the results. Give column_key for one column, omit it for every derived column of the table."),
		mcp.WithString("table_id", mcp.Required(), mcp.Description("ID of the table")),
		mcp.WithString("column_key", mcp.Description("Column to recompute (default: all derived columns)")),
	)
}
