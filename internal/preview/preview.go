// Package preview computes the values of derived columns the way the table
// UI shows them: per row, as strings, never failing the whole row because one
// cell misbehaves.
package preview

import (
	"context"
	"log/slog"
	"sync"

	"github.com/salesgrid/salesgrid/internal/enrichment"
	"github.com/salesgrid/salesgrid/internal/expressions"
	"github.com/salesgrid/salesgrid/internal/logging"
	"github.com/salesgrid/salesgrid/internal/store"
	"github.com/salesgrid/salesgrid/pkg/schema"
)

// DefaultWorkers caps concurrent per-row recomputes during a refresh.
const DefaultWorkers = 8

// RowListener is notified after a refresh rewrites a row's cells. Satisfied
// by the trigger dispatcher.
type RowListener interface {
	RowChanged(ctx context.Context, row *schema.Row) ([]*store.TriggerEvent, error)
}

// Previewer evaluates formula and enrichment columns over stored rows.
type Previewer struct {
	store     store.Store
	extractor *enrichment.Extractor
	formulas  expressions.Engine
	listener  RowListener
	logger    *slog.Logger
	workers   int
}

// NewPreviewer creates a previewer. workers bounds refresh concurrency;
// values <= 0 fall back to DefaultWorkers.
func NewPreviewer(st store.Store, ex *enrichment.Extractor, logger *slog.Logger, workers int) *Previewer {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Previewer{
		store:     st,
		extractor: ex,
		formulas:  expressions.NewFormulaEngine(),
		logger:    logger,
		workers:   workers,
	}
}

// WithRowListener registers a listener for persisted cell changes.
func (p *Previewer) WithRowListener(l RowListener) *Previewer {
	p.listener = l
	return p
}

// WithFormulaEngine swaps the engine used for formula columns.
func (p *Previewer) WithFormulaEngine(e expressions.Engine) *Previewer {
	p.formulas = e
	return p
}

// ComputeRow evaluates every derived column against the row and returns the
// results keyed by column key. Data columns are skipped. The row itself is
// not mutated.
func (p *Previewer) ComputeRow(ctx context.Context, cols []*schema.Column, row *schema.Row) map[string]string {
	out := make(map[string]string)

	for _, col := range cols {
		switch col.Kind {
		case schema.ColumnKindFormula:
			value, err := p.formulas.Evaluate(ctx, col.Formula, row.Cells)
			if err != nil {
				logging.LogWith(ctx, p.logger).WarnContext(ctx, "formula engine failed",
					"column_key", col.Key, "error", err)
				continue
			}
			out[col.Key] = expressions.StringifyCell(value)
		case schema.ColumnKindEnrichment:
			if p.extractor == nil {
				continue
			}
			out[col.Key] = p.extractor.ExtractColumn(ctx, col, row)
		}
	}
	return out
}

// PreviewRow evaluates all derived columns of one stored row.
func (p *Previewer) PreviewRow(ctx context.Context, tableID, rowID string) (map[string]string, error) {
	ctx = logging.WithIDs(ctx, tableID, "", rowID)

	cols, err := p.store.ListColumns(ctx, tableID)
	if err != nil {
		return nil, err
	}
	row, err := p.store.GetRow(ctx, rowID)
	if err != nil {
		return nil, err
	}
	if row.TableID != tableID {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "row %q not found in table %q", rowID, tableID)
	}
	return p.ComputeRow(ctx, cols, row), nil
}

// PreviewColumn evaluates one derived column across all rows of a table and
// returns the results keyed by row ID. Rows are computed concurrently on a
// bounded pool.
func (p *Previewer) PreviewColumn(ctx context.Context, tableID, columnKey string) (map[string]string, error) {
	ctx = logging.WithIDs(ctx, tableID, columnKey, "")

	col, err := p.store.GetColumnByKey(ctx, tableID, columnKey)
	if err != nil {
		return nil, err
	}
	if col.Kind == schema.ColumnKindData {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"column %q is a data column, nothing to compute", columnKey).WithColumn(columnKey)
	}

	rows, err := p.store.ListRows(ctx, tableID, store.RowFilter{})
	if err != nil {
		return nil, err
	}

	cols := []*schema.Column{col}
	results := make(map[string]string, len(rows))
	var mu sync.Mutex

	pool := NewPool(p.workers)
	defer pool.Shutdown()

	for _, row := range rows {
		row := row
		err := pool.Submit(ctx, func(ctx context.Context) error {
			computed := p.ComputeRow(ctx, cols, row)
			mu.Lock()
			results[row.ID] = computed[columnKey]
			mu.Unlock()
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	pool.Wait()

	return results, nil
}

// RefreshColumn recomputes one derived column across a table and persists the
// results back into each row's cells. Returns the number of rows whose cell
// value changed.
func (p *Previewer) RefreshColumn(ctx context.Context, tableID, columnKey string) (int, error) {
	ctx = logging.WithIDs(ctx, tableID, columnKey, "")

	results, err := p.PreviewColumn(ctx, tableID, columnKey)
	if err != nil {
		return 0, err
	}
	return p.persistCells(ctx, tableID, func(row *schema.Row) map[string]string {
		if value, ok := results[row.ID]; ok {
			return map[string]string{columnKey: value}
		}
		return nil
	})
}

// RefreshTable recomputes every derived column of every row and persists the
// results. Returns the number of rows updated.
func (p *Previewer) RefreshTable(ctx context.Context, tableID string) (int, error) {
	ctx = logging.WithTableID(ctx, tableID)

	cols, err := p.store.ListColumns(ctx, tableID)
	if err != nil {
		return 0, err
	}
	var derived []*schema.Column
	for _, col := range cols {
		if col.Kind != schema.ColumnKindData {
			derived = append(derived, col)
		}
	}
	if len(derived) == 0 {
		return 0, nil
	}

	return p.persistCells(ctx, tableID, func(row *schema.Row) map[string]string {
		return p.ComputeRow(ctx, derived, row)
	})
}

// persistCells applies compute to each row and writes back any changed cells.
func (p *Previewer) persistCells(ctx context.Context, tableID string, compute func(*schema.Row) map[string]string) (int, error) {
	rows, err := p.store.ListRows(ctx, tableID, store.RowFilter{})
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, row := range rows {
		computed := compute(row)
		if len(computed) == 0 {
			continue
		}

		changed := false
		for key, value := range computed {
			if prev, ok := row.Cells[key].(string); !ok || prev != value {
				changed = true
			}
		}
		if !changed {
			continue
		}

		cells := make(map[string]any, len(row.Cells)+len(computed))
		for k, v := range row.Cells {
			cells[k] = v
		}
		for k, v := range computed {
			cells[k] = v
		}

		if err := p.store.UpdateRowCells(ctx, row.ID, cells); err != nil {
			logging.LogWith(ctx, p.logger).WarnContext(ctx, "persist recomputed cells failed",
				"row_id", row.ID, "error", err)
			continue
		}
		updated++

		if p.listener != nil {
			row.Cells = cells
			if _, err := p.listener.RowChanged(ctx, row); err != nil {
				// The cells are already persisted; a broken rule must not
				// fail the refresh.
				logging.LogWith(ctx, p.logger).WarnContext(ctx, "row change listener failed",
					"row_id", row.ID, "error", err)
			}
		}
	}

	logging.LogWith(ctx, p.logger).InfoContext(ctx, "refresh complete", "rows_updated", updated)
	return updated, nil
}
