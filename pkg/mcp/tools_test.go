package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesgrid/salesgrid/internal/enrichment"
	"github.com/salesgrid/salesgrid/internal/expressions"
	"github.com/salesgrid/salesgrid/internal/preview"
	"github.com/salesgrid/salesgrid/internal/store"
	"github.com/salesgrid/salesgrid/internal/validation"
	"github.com/salesgrid/salesgrid/pkg/schema"
)

// --- Fixture ---

type fixture struct {
	store  *store.LibSQLStore
	server *GridServer
	table  *schema.Table
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "mcp.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	jq := expressions.NewGoJQEngine()
	validator, err := validation.NewValidator(jq)
	require.NoError(t, err)
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)

	previewer := preview.NewPreviewer(s, enrichment.NewExtractor(jq, nil), nil, 4)

	table := &schema.Table{ID: uuid.NewString(), Name: "deals"}
	require.NoError(t, s.CreateTable(context.Background(), table))

	return &fixture{
		store: s,
		server: NewGridServer(GridServerDeps{
			Store:     s,
			Previewer: previewer,
			Validator: validator,
			Filters:   cel,
		}),
		table: table,
	}
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

// decodeResult unmarshals a successful tool result's JSON text into out.
func decodeResult(t *testing.T, result *mcp.CallToolResult, out any) {
	t.Helper()
	require.False(t, result.IsError, "tool returned error: %+v", result.Content)
	require.NotEmpty(t, result.Content)
	text := mcp.GetTextFromContent(result.Content[0])
	require.NoError(t, json.Unmarshal([]byte(text), out))
}

// --- grid.evaluate ---

func TestEvaluateTool(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		expression string
		context    map[string]any
		want       string
	}{
		{"join", `@first_name & " " & @last_name`, map[string]any{"first_name": "Ada", "last_name": "Lovelace"}, "Ada Lovelace"},
		{"if won", `IF(@status = "won", @revenue, 0)`, map[string]any{"status": "won", "revenue": 500}, "500"},
		{"arithmetic", `@a * @b`, map[string]any{"a": 2.5, "b": 12}, "30"},
		{"division by zero", `@a / @b`, map[string]any{"a": 1, "b": 0}, "ERR:DIV/0"},
		{"concat skips blanks", `CONCAT(@a, @b, @c)`, map[string]any{"a": "x", "b": "", "c": "N/A"}, "x"},
		{"no context", `"hello"`, nil, "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := buildRequest("grid.evaluate", map[string]any{
				"expression": tt.expression,
				"context":    tt.context,
			})
			result, err := f.server.handleEvaluate(context.Background(), req)
			require.NoError(t, err)

			var out struct {
				Result string `json:"result"`
			}
			decodeResult(t, result, &out)
			assert.Equal(t, tt.want, out.Result)
		})
	}
}

func TestEvaluateToolMissingExpression(t *testing.T) {
	f := newFixture(t)
	result, err := f.server.handleEvaluate(context.Background(), buildRequest("grid.evaluate", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- grid.preview ---

func TestPreviewToolRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	col := &schema.Column{
		ID: uuid.NewString(), TableID: f.table.ID, Key: "full_name", Name: "Full Name",
		Kind: schema.ColumnKindFormula, Formula: `@first_name & " " & @last_name`,
	}
	require.NoError(t, f.store.CreateColumn(ctx, col))

	row := &schema.Row{
		ID: uuid.NewString(), TableID: f.table.ID,
		Cells: map[string]any{"first_name": "Jane", "last_name": "Doe"},
	}
	require.NoError(t, f.store.CreateRow(ctx, row))

	result, err := f.server.handlePreview(ctx, buildRequest("grid.preview", map[string]any{
		"table_id": f.table.ID,
		"row_id":   row.ID,
	}))
	require.NoError(t, err)

	var out struct {
		RowID string            `json:"row_id"`
		Cells map[string]string `json:"cells"`
	}
	decodeResult(t, result, &out)
	assert.Equal(t, row.ID, out.RowID)
	assert.Equal(t, "Jane Doe", out.Cells["full_name"])
}

func TestPreviewToolArgumentRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Neither row_id nor column_key.
	result, err := f.server.handlePreview(ctx, buildRequest("grid.preview", map[string]any{"table_id": f.table.ID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	// Both at once.
	result, err = f.server.handlePreview(ctx, buildRequest("grid.preview", map[string]any{
		"table_id": f.table.ID, "row_id": "r", "column_key": "c",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- grid.define_column ---

func TestDefineColumnTool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.server.handleDefineColumn(ctx, buildRequest("grid.define_column", map[string]any{
		"table_id": f.table.ID,
		"definition": map[string]any{
			"key":     "greeting",
			"kind":    "formula",
			"formula": `CONCAT("Hi ", @name)`,
		},
	}))
	require.NoError(t, err)

	var out struct {
		OK     bool          `json:"ok"`
		Column schema.Column `json:"column"`
	}
	decodeResult(t, result, &out)
	assert.True(t, out.OK)
	assert.Equal(t, "greeting", out.Column.Key)

	stored, err := f.store.GetColumnByKey(ctx, f.table.ID, "greeting")
	require.NoError(t, err)
	assert.Equal(t, schema.ColumnKindFormula, stored.Kind)
}

func TestDefineColumnToolInvalidDefinition(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleDefineColumn(context.Background(), buildRequest("grid.define_column", map[string]any{
		"table_id": f.table.ID,
		"definition": map[string]any{
			"key":  "bad key!",
			"kind": "formula",
		},
	}))
	require.NoError(t, err)

	var out struct {
		OK     bool                     `json:"ok"`
		Errors []schema.ValidationIssue `json:"errors"`
	}
	decodeResult(t, result, &out)
	assert.False(t, out.OK)
	assert.NotEmpty(t, out.Errors)
}

func TestDefineColumnToolUpdatesExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	define := func(formulaText string) {
		result, err := f.server.handleDefineColumn(ctx, buildRequest("grid.define_column", map[string]any{
			"table_id": f.table.ID,
			"definition": map[string]any{
				"key": "score", "kind": "formula", "formula": formulaText,
			},
		}))
		require.NoError(t, err)
		require.False(t, result.IsError)
	}

	define(`"1"`)
	define(`"2"`)

	cols, err := f.store.ListColumns(ctx, f.table.ID)
	require.NoError(t, err)
	require.Len(t, cols, 1, "redefining a key updates in place")
	assert.Equal(t, `"2"`, cols[0].Formula)
}

func TestDefineColumnToolKindChangeRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	col := &schema.Column{ID: uuid.NewString(), TableID: f.table.ID, Key: "status", Name: "Status", Kind: schema.ColumnKindData}
	require.NoError(t, f.store.CreateColumn(ctx, col))

	result, err := f.server.handleDefineColumn(ctx, buildRequest("grid.define_column", map[string]any{
		"table_id": f.table.ID,
		"definition": map[string]any{
			"key": "status", "kind": "formula", "formula": `"x"`,
		},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDefineColumnToolSchedulesRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.server.handleDefineColumn(ctx, buildRequest("grid.define_column", map[string]any{
		"table_id": f.table.ID,
		"definition": map[string]any{
			"key": "size", "kind": "enrichment", "extract": ".company.size", "refresh": "@hourly",
		},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	refreshes, err := f.store.ListScheduledRefreshes(ctx, true)
	require.NoError(t, err)
	require.Len(t, refreshes, 1)
	assert.Equal(t, "size", refreshes[0].ColumnKey)
	assert.Equal(t, "@hourly", refreshes[0].CronSpec)

	// Redefining with a new spec updates the existing schedule.
	result, err = f.server.handleDefineColumn(ctx, buildRequest("grid.define_column", map[string]any{
		"table_id": f.table.ID,
		"definition": map[string]any{
			"key": "size", "kind": "enrichment", "extract": ".company.size", "refresh": "0 * * * *",
		},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	refreshes, err = f.store.ListScheduledRefreshes(ctx, true)
	require.NoError(t, err)
	require.Len(t, refreshes, 1)
	assert.Equal(t, "0 * * * *", refreshes[0].CronSpec)
}

// --- grid.query ---

func TestQueryToolTablesAndColumns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	col := &schema.Column{ID: uuid.NewString(), TableID: f.table.ID, Key: "status", Name: "Status", Kind: schema.ColumnKindData}
	require.NoError(t, f.store.CreateColumn(ctx, col))

	result, err := f.server.handleQuery(ctx, buildRequest("grid.query", map[string]any{"resource": "tables"}))
	require.NoError(t, err)
	var tablesOut struct {
		Tables []schema.Table `json:"tables"`
	}
	decodeResult(t, result, &tablesOut)
	require.Len(t, tablesOut.Tables, 1)
	assert.Equal(t, "deals", tablesOut.Tables[0].Name)

	result, err = f.server.handleQuery(ctx, buildRequest("grid.query", map[string]any{
		"resource": "columns",
		"filter":   map[string]any{"table_id": f.table.ID},
	}))
	require.NoError(t, err)
	var colsOut struct {
		Columns []schema.Column `json:"columns"`
	}
	decodeResult(t, result, &colsOut)
	require.Len(t, colsOut.Columns, 1)
	assert.Equal(t, "status", colsOut.Columns[0].Key)
}

func TestQueryToolRowsWithCELFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, status := range []string{"won", "lost", "won"} {
		row := &schema.Row{ID: uuid.NewString(), TableID: f.table.ID, Cells: map[string]any{"status": status}}
		require.NoError(t, f.store.CreateRow(ctx, row))
	}

	result, err := f.server.handleQuery(ctx, buildRequest("grid.query", map[string]any{
		"resource": "rows",
		"filter":   map[string]any{"table_id": f.table.ID, "filter": `row.status == "won"`},
	}))
	require.NoError(t, err)

	var out struct {
		Rows []schema.Row `json:"rows"`
	}
	decodeResult(t, result, &out)
	assert.Len(t, out.Rows, 2)
}

func TestQueryToolBadFilterSurfaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	row := &schema.Row{ID: uuid.NewString(), TableID: f.table.ID, Cells: map[string]any{"status": "won"}}
	require.NoError(t, f.store.CreateRow(ctx, row))

	result, err := f.server.handleQuery(ctx, buildRequest("grid.query", map[string]any{
		"resource": "rows",
		"filter":   map[string]any{"table_id": f.table.ID, "filter": `row.status ==`},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryToolUnknownResource(t *testing.T) {
	f := newFixture(t)
	result, err := f.server.handleQuery(context.Background(), buildRequest("grid.query", map[string]any{"resource": "widgets"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- grid.refresh ---

func TestRefreshTool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	col := &schema.Column{
		ID: uuid.NewString(), TableID: f.table.ID, Key: "total", Name: "Total",
		Kind: schema.ColumnKindFormula, Formula: `@price * @qty`,
	}
	require.NoError(t, f.store.CreateColumn(ctx, col))

	row := &schema.Row{ID: uuid.NewString(), TableID: f.table.ID, Cells: map[string]any{"price": float64(3), "qty": float64(5)}}
	require.NoError(t, f.store.CreateRow(ctx, row))

	result, err := f.server.handleRefresh(ctx, buildRequest("grid.refresh", map[string]any{
		"table_id":   f.table.ID,
		"column_key": "total",
	}))
	require.NoError(t, err)

	var out struct {
		OK          bool `json:"ok"`
		RowsUpdated int  `json:"rows_updated"`
	}
	decodeResult(t, result, &out)
	assert.True(t, out.OK)
	assert.Equal(t, 1, out.RowsUpdated)

	stored, err := f.store.GetRow(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "15", stored.Cells["total"])
}

func TestRefreshToolWholeTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	col := &schema.Column{
		ID: uuid.NewString(), TableID: f.table.ID, Key: "label", Name: "Label",
		Kind: schema.ColumnKindFormula, Formula: `CONCAT(@stage, "!")`,
	}
	require.NoError(t, f.store.CreateColumn(ctx, col))
	row := &schema.Row{ID: uuid.NewString(), TableID: f.table.ID, Cells: map[string]any{"stage": "demo"}}
	require.NoError(t, f.store.CreateRow(ctx, row))

	result, err := f.server.handleRefresh(ctx, buildRequest("grid.refresh", map[string]any{
		"table_id": f.table.ID,
	}))
	require.NoError(t, err)

	var out struct {
		OK          bool `json:"ok"`
		RowsUpdated int  `json:"rows_updated"`
	}
	decodeResult(t, result, &out)
	assert.True(t, out.OK)
	assert.Equal(t, 1, out.RowsUpdated)
}
