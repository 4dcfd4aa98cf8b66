package store

import (
	"context"

	"github.com/salesgrid/salesgrid/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Tables
	CreateTable(ctx context.Context, table *schema.Table) error
	GetTable(ctx context.Context, id string) (*schema.Table, error)
	ListTables(ctx context.Context) ([]*schema.Table, error)
	DeleteTable(ctx context.Context, id string) error

	// Columns
	CreateColumn(ctx context.Context, col *schema.Column) error
	GetColumn(ctx context.Context, id string) (*schema.Column, error)
	GetColumnByKey(ctx context.Context, tableID, key string) (*schema.Column, error)
	ListColumns(ctx context.Context, tableID string) ([]*schema.Column, error)
	UpdateColumn(ctx context.Context, id string, update ColumnUpdate) error
	DeleteColumn(ctx context.Context, id string) error

	// Rows
	CreateRow(ctx context.Context, row *schema.Row) error
	GetRow(ctx context.Context, id string) (*schema.Row, error)
	ListRows(ctx context.Context, tableID string, filter RowFilter) ([]*schema.Row, error)
	UpdateRowCells(ctx context.Context, id string, cells map[string]any) error
	DeleteRow(ctx context.Context, id string) error

	// Trigger rules
	CreateTriggerRule(ctx context.Context, rule *schema.TriggerRule) error
	GetTriggerRule(ctx context.Context, id string) (*schema.TriggerRule, error)
	ListTriggerRules(ctx context.Context, tableID string, enabledOnly bool) ([]*schema.TriggerRule, error)
	SetTriggerRuleEnabled(ctx context.Context, id string, enabled bool) error
	DeleteTriggerRule(ctx context.Context, id string) error

	// Trigger firing log (append-only)
	AppendTriggerEvent(ctx context.Context, event *TriggerEvent) error
	ListTriggerEvents(ctx context.Context, tableID string, filter TriggerEventFilter) ([]*TriggerEvent, error)

	// Scheduled refreshes
	CreateScheduledRefresh(ctx context.Context, refresh *ScheduledRefresh) error
	GetScheduledRefresh(ctx context.Context, id string) (*ScheduledRefresh, error)
	ListScheduledRefreshes(ctx context.Context, enabledOnly bool) ([]*ScheduledRefresh, error)
	UpdateScheduledRefresh(ctx context.Context, id string, update ScheduledRefreshUpdate) error
	DeleteScheduledRefresh(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
