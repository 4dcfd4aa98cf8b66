package store

import (
	"encoding/json"
	"time"
)

// TriggerEvent is an immutable entry in the trigger firing log, appended
// whenever a rule's condition matches a changed row.
type TriggerEvent struct {
	ID       int64           `json:"id"`
	TableID  string          `json:"table_id"`
	RuleID   string          `json:"rule_id"`
	RowID    string          `json:"row_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	FiredAt  time.Time       `json:"fired_at"`
	Sequence int64           `json:"sequence"`
}

// ScheduledRefresh recomputes a computed column (or a whole table when
// ColumnKey is empty) on a cron schedule.
type ScheduledRefresh struct {
	ID        string     `json:"id"`
	TableID   string     `json:"table_id"`
	ColumnKey string     `json:"column_key,omitempty"`
	CronSpec  string     `json:"cron_spec"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ColumnUpdate carries the mutable column fields; nil pointers leave the
// stored value untouched.
type ColumnUpdate struct {
	Name     *string
	Formula  *string
	Extract  *string
	Position *int
}

// ScheduledRefreshUpdate carries the mutable refresh fields.
type ScheduledRefreshUpdate struct {
	CronSpec  *string
	Enabled   *bool
	LastRunAt *time.Time
}

// RowFilter narrows and pages row listings.
type RowFilter struct {
	Limit  int
	Offset int
}

// TriggerEventFilter narrows trigger event listings.
type TriggerEventFilter struct {
	RuleID string
	Since  int64 // only events with sequence > Since
	Limit  int
}
