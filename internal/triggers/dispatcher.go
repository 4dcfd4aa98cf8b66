// Package triggers matches changed rows against agent trigger rules and
// records the firings in an append-only event log.
package triggers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/salesgrid/salesgrid/internal/expressions"
	"github.com/salesgrid/salesgrid/internal/logging"
	"github.com/salesgrid/salesgrid/internal/store"
	"github.com/salesgrid/salesgrid/pkg/schema"
)

// Dispatcher evaluates enabled trigger rules against row changes.
type Dispatcher struct {
	store  store.Store
	engine *expressions.ExprEngine
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(st store.Store, engine *expressions.ExprEngine, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: st, engine: engine, logger: logger}
}

// firedPayload is what gets recorded for each firing: the rule's configured
// action plus a snapshot of the cells that satisfied the condition.
type firedPayload struct {
	Action json.RawMessage `json:"action,omitempty"`
	Cells  map[string]any  `json:"cells,omitempty"`
}

// RowChanged evaluates every enabled rule of the row's table against the
// row's cells and appends one trigger event per matching rule. Returns the
// events that fired.
//
// A rule whose condition fails to compile or evaluate fires nothing and is
// logged at warn level; other rules still run. Row edits must never be
// blocked by a broken rule.
func (d *Dispatcher) RowChanged(ctx context.Context, row *schema.Row) ([]*store.TriggerEvent, error) {
	ctx = logging.WithIDs(ctx, row.TableID, "", row.ID)

	rules, err := d.store.ListTriggerRules(ctx, row.TableID, true)
	if err != nil {
		return nil, err
	}

	var fired []*store.TriggerEvent
	for _, rule := range rules {
		matched, err := d.engine.EvaluateBool(ctx, rule.Condition, row.Cells)
		if err != nil {
			logging.LogWith(ctx, d.logger).WarnContext(ctx, "trigger condition failed",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"error", err)
			continue
		}
		if !matched {
			continue
		}

		payload, err := json.Marshal(firedPayload{Action: rule.Action, Cells: row.Cells})
		if err != nil {
			return fired, schema.NewErrorf(schema.ErrCodeTrigger,
				"marshal payload for rule %s", rule.ID).WithCause(err)
		}

		event := &store.TriggerEvent{
			TableID: row.TableID,
			RuleID:  rule.ID,
			RowID:   row.ID,
			Payload: payload,
		}
		if err := d.store.AppendTriggerEvent(ctx, event); err != nil {
			return fired, schema.NewErrorf(schema.ErrCodeTrigger,
				"append event for rule %s", rule.ID).WithCause(err)
		}

		logging.LogWith(ctx, d.logger).InfoContext(ctx, "trigger fired",
			"rule_id", rule.ID,
			"rule_name", rule.Name,
			"sequence", event.Sequence)
		fired = append(fired, event)
	}

	return fired, nil
}
