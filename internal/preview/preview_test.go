package preview

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesgrid/salesgrid/internal/enrichment"
	"github.com/salesgrid/salesgrid/internal/expressions"
	"github.com/salesgrid/salesgrid/internal/store"
	"github.com/salesgrid/salesgrid/internal/triggers"
	"github.com/salesgrid/salesgrid/pkg/schema"
)

type fixture struct {
	store     *store.LibSQLStore
	previewer *Previewer
	table     *schema.Table
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "preview.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	ex := enrichment.NewExtractor(expressions.NewGoJQEngine(), nil)

	table := &schema.Table{ID: uuid.NewString(), Name: "deals"}
	require.NoError(t, s.CreateTable(context.Background(), table))

	return &fixture{
		store:     s,
		previewer: NewPreviewer(s, ex, nil, 4),
		table:     table,
	}
}

func (f *fixture) addColumn(t *testing.T, key string, kind schema.ColumnKind, expr string) *schema.Column {
	t.Helper()
	col := &schema.Column{ID: uuid.NewString(), TableID: f.table.ID, Key: key, Name: key, Kind: kind}
	switch kind {
	case schema.ColumnKindFormula:
		col.Formula = expr
	case schema.ColumnKindEnrichment:
		col.Extract = expr
	}
	require.NoError(t, f.store.CreateColumn(context.Background(), col))
	return col
}

func (f *fixture) addRow(t *testing.T, cells map[string]any) *schema.Row {
	t.Helper()
	row := &schema.Row{ID: uuid.NewString(), TableID: f.table.ID, Cells: cells}
	require.NoError(t, f.store.CreateRow(context.Background(), row))
	return row
}

// staticEngine returns the same value for every expression.
type staticEngine struct{ value any }

func (e *staticEngine) Name() string { return "static" }

func (e *staticEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	return e.value, nil
}

func TestComputeRowUsesConfiguredEngine(t *testing.T) {
	f := newFixture(t)
	col := f.addColumn(t, "score", schema.ColumnKindFormula, `@a + @b`)
	row := &schema.Row{Cells: map[string]any{"a": float64(1), "b": float64(2)}}

	f.previewer.WithFormulaEngine(&staticEngine{value: "fixed"})
	got := f.previewer.ComputeRow(context.Background(), []*schema.Column{col}, row)
	assert.Equal(t, map[string]string{"score": "fixed"}, got)
}

func TestPreviewRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addColumn(t, "first_name", schema.ColumnKindData, "")
	f.addColumn(t, "last_name", schema.ColumnKindData, "")
	f.addColumn(t, "full_name", schema.ColumnKindFormula, `@first_name & " " & @last_name`)
	f.addColumn(t, "bonus", schema.ColumnKindFormula, `IF(@status = "won", @revenue, 0)`)

	row := f.addRow(t, map[string]any{
		"first_name": "Ada", "last_name": "Lovelace",
		"status": "won", "revenue": float64(500),
	})

	got, err := f.previewer.PreviewRow(ctx, f.table.ID, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got["full_name"])
	assert.Equal(t, "500", got["bonus"])
	assert.NotContains(t, got, "first_name", "data columns are not computed")
}

func TestPreviewRowWrongTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := &schema.Table{ID: uuid.NewString(), Name: "other"}
	require.NoError(t, f.store.CreateTable(ctx, other))
	row := &schema.Row{ID: uuid.NewString(), TableID: other.ID}
	require.NoError(t, f.store.CreateRow(ctx, row))

	_, err := f.previewer.PreviewRow(ctx, f.table.ID, row.ID)
	var ge *schema.GridError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, schema.ErrCodeNotFound, ge.Code)
}

func TestPreviewColumn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addColumn(t, "margin", schema.ColumnKindFormula, `@revenue - @cost`)

	r1 := f.addRow(t, map[string]any{"revenue": float64(100), "cost": float64(40)})
	r2 := f.addRow(t, map[string]any{"revenue": float64(10), "cost": float64(0)})

	got, err := f.previewer.PreviewColumn(ctx, f.table.ID, "margin")
	require.NoError(t, err)
	assert.Equal(t, "60", got[r1.ID])
	assert.Equal(t, "10", got[r2.ID])
}

func TestPreviewColumnDataColumnRejected(t *testing.T) {
	f := newFixture(t)
	f.addColumn(t, "status", schema.ColumnKindData, "")

	_, err := f.previewer.PreviewColumn(context.Background(), f.table.ID, "status")
	var ge *schema.GridError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, schema.ErrCodeValidation, ge.Code)
}

func TestPreviewEnrichmentColumn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addColumn(t, "headcount", schema.ColumnKindEnrichment, ".company.employees")

	r1 := f.addRow(t, map[string]any{"company": map[string]any{"employees": float64(250)}})
	r2 := f.addRow(t, map[string]any{"company": map[string]any{}})

	got, err := f.previewer.PreviewColumn(ctx, f.table.ID, "headcount")
	require.NoError(t, err)
	assert.Equal(t, "250", got[r1.ID])
	assert.Equal(t, "N/A", got[r2.ID])
}

func TestRefreshColumnPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addColumn(t, "total", schema.ColumnKindFormula, `@price * @qty`)
	row := f.addRow(t, map[string]any{"price": float64(3), "qty": float64(4)})

	n, err := f.previewer.RefreshColumn(ctx, f.table.ID, "total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.store.GetRow(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "12", stored.Cells["total"])
	assert.Equal(t, float64(3), stored.Cells["price"], "source cells survive the refresh")

	// Second refresh changes nothing.
	n, err = f.previewer.RefreshColumn(ctx, f.table.ID, "total")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRefreshTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addColumn(t, "greeting", schema.ColumnKindFormula, `CONCAT("Hi ", @name)`)
	f.addColumn(t, "size", schema.ColumnKindEnrichment, ".firmographics.size")

	r1 := f.addRow(t, map[string]any{"name": "Jane", "firmographics": map[string]any{"size": "mid-market"}})
	f.addRow(t, map[string]any{"name": "", "firmographics": map[string]any{}})

	n, err := f.previewer.RefreshTable(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stored, err := f.store.GetRow(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hi Jane", stored.Cells["greeting"])
	assert.Equal(t, "mid-market", stored.Cells["size"])
}

func TestRefreshDispatchesTriggers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addColumn(t, "total", schema.ColumnKindFormula, `@price * @qty`)
	row := f.addRow(t, map[string]any{"price": float64(3), "qty": float64(4)})

	rule := &schema.TriggerRule{
		ID:        uuid.NewString(),
		TableID:   f.table.ID,
		Name:      "big deal",
		Condition: `total == "12"`,
		Enabled:   true,
	}
	require.NoError(t, f.store.CreateTriggerRule(ctx, rule))

	dispatcher := triggers.NewDispatcher(f.store, expressions.NewExprEngine(), nil)
	f.previewer.WithRowListener(dispatcher)

	n, err := f.previewer.RefreshColumn(ctx, f.table.ID, "total")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	events, err := f.store.ListTriggerEvents(ctx, f.table.ID, store.TriggerEventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, rule.ID, events[0].RuleID)
	assert.Equal(t, row.ID, events[0].RowID)

	// An idempotent second refresh changes no cells, so nothing re-fires.
	n, err = f.previewer.RefreshColumn(ctx, f.table.ID, "total")
	require.NoError(t, err)
	require.Equal(t, 0, n)

	events, err = f.store.ListTriggerEvents(ctx, f.table.ID, store.TriggerEventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRefreshTableNoDerivedColumns(t *testing.T) {
	f := newFixture(t)
	f.addColumn(t, "status", schema.ColumnKindData, "")
	f.addRow(t, map[string]any{"status": "won"})

	n, err := f.previewer.RefreshTable(context.Background(), f.table.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
