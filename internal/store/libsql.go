package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/salesgrid/salesgrid/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "open libsql at %s", dbPath).WithCause(err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, s.db); err != nil {
		return schema.NewError(schema.ErrCodeStore, "run migrations").WithCause(err)
	}
	return nil
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return schema.NewError(schema.ErrCodeStore, "vacuum").WithCause(err)
	}
	return nil
}

// --- Tables ---

func (s *LibSQLStore) CreateTable(ctx context.Context, table *schema.Table) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO grid_tables (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		table.ID, table.Name, timeOrNow(table.CreatedAt), timeOrNow(table.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetTable(ctx context.Context, id string) (*schema.Table, error) {
	t := &schema.Table{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM grid_tables WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("table", id)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *LibSQLStore) ListTables(ctx context.Context) ([]*schema.Table, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM grid_tables ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []*schema.Table
	for rows.Next() {
		t := &schema.Table{}
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (s *LibSQLStore) DeleteTable(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM grid_tables WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "table", id)
}

// --- Columns ---

func (s *LibSQLStore) CreateColumn(ctx context.Context, col *schema.Column) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO grid_columns (id, table_id, key, name, kind, formula, extract, position, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		col.ID, col.TableID, col.Key, col.Name, string(col.Kind),
		nullStr(col.Formula), nullStr(col.Extract), col.Position,
		timeOrNow(col.CreatedAt), timeOrNow(col.UpdatedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"column key %q already exists in table %s", col.Key, col.TableID).WithCause(err)
	}
	return err
}

const columnFields = `id, table_id, key, name, kind, formula, extract, position, created_at, updated_at`

func scanColumn(scan func(...any) error) (*schema.Column, error) {
	c := &schema.Column{}
	var kind string
	var formula, extract sql.NullString
	if err := scan(&c.ID, &c.TableID, &c.Key, &c.Name, &kind,
		&formula, &extract, &c.Position, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Kind = schema.ColumnKind(kind)
	c.Formula = formula.String
	c.Extract = extract.String
	return c, nil
}

func (s *LibSQLStore) GetColumn(ctx context.Context, id string) (*schema.Column, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columnFields+` FROM grid_columns WHERE id = ?`, id)
	c, err := scanColumn(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("column", id)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *LibSQLStore) GetColumnByKey(ctx context.Context, tableID, key string) (*schema.Column, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columnFields+` FROM grid_columns WHERE table_id = ? AND key = ?`, tableID, key)
	c, err := scanColumn(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("column", key)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *LibSQLStore) ListColumns(ctx context.Context, tableID string) ([]*schema.Column, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columnFields+` FROM grid_columns WHERE table_id = ? ORDER BY position ASC, created_at ASC`, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []*schema.Column
	for rows.Next() {
		c, err := scanColumn(rows.Scan)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (s *LibSQLStore) UpdateColumn(ctx context.Context, id string, update ColumnUpdate) error {
	var sets []string
	var args []any

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Formula != nil {
		sets = append(sets, "formula = ?")
		args = append(args, nullStr(*update.Formula))
	}
	if update.Extract != nil {
		sets = append(sets, "extract = ?")
		args = append(args, nullStr(*update.Extract))
	}
	if update.Position != nil {
		sets = append(sets, "position = ?")
		args = append(args, *update.Position)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE grid_columns SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "column", id)
}

func (s *LibSQLStore) DeleteColumn(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM grid_columns WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "column", id)
}

// --- Rows ---

func (s *LibSQLStore) CreateRow(ctx context.Context, row *schema.Row) error {
	cells, err := marshalMapOrDefault(row.Cells)
	if err != nil {
		return fmt.Errorf("marshal cells: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO grid_rows (id, table_id, cells, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		row.ID, row.TableID, string(cells), timeOrNow(row.CreatedAt), timeOrNow(row.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetRow(ctx context.Context, id string) (*schema.Row, error) {
	r := &schema.Row{}
	var cellsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, table_id, cells, created_at, updated_at FROM grid_rows WHERE id = ?`, id,
	).Scan(&r.ID, &r.TableID, &cellsJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("row", id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cellsJSON), &r.Cells); err != nil {
		return nil, fmt.Errorf("unmarshal cells: %w", err)
	}
	return r, nil
}

func (s *LibSQLStore) ListRows(ctx context.Context, tableID string, filter RowFilter) ([]*schema.Row, error) {
	query := `SELECT id, table_id, cells, created_at, updated_at FROM grid_rows WHERE table_id = ? ORDER BY created_at ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.Row
	for rows.Next() {
		r := &schema.Row{}
		var cellsJSON string
		if err := rows.Scan(&r.ID, &r.TableID, &cellsJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cellsJSON), &r.Cells); err != nil {
			return nil, fmt.Errorf("unmarshal cells for row %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) UpdateRowCells(ctx context.Context, id string, cells map[string]any) error {
	cellsJSON, err := marshalMapOrDefault(cells)
	if err != nil {
		return fmt.Errorf("marshal cells: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE grid_rows SET cells = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(cellsJSON), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "row", id)
}

func (s *LibSQLStore) DeleteRow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM grid_rows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "row", id)
}

// --- Trigger rules ---

func (s *LibSQLStore) CreateTriggerRule(ctx context.Context, rule *schema.TriggerRule) error {
	action, err := nullableJSON(rule.Action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trigger_rules (id, table_id, name, condition, action, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.TableID, rule.Name, rule.Condition, action, boolToInt(rule.Enabled),
		timeOrNow(rule.CreatedAt), timeOrNow(rule.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetTriggerRule(ctx context.Context, id string) (*schema.TriggerRule, error) {
	r := &schema.TriggerRule{}
	var action sql.NullString
	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, table_id, name, condition, action, enabled, created_at, updated_at
		 FROM trigger_rules WHERE id = ?`, id,
	).Scan(&r.ID, &r.TableID, &r.Name, &r.Condition, &action, &enabled, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("trigger rule", id)
	}
	if err != nil {
		return nil, err
	}
	r.Action = jsonOrNil(action)
	r.Enabled = enabled != 0
	return r, nil
}

func (s *LibSQLStore) ListTriggerRules(ctx context.Context, tableID string, enabledOnly bool) ([]*schema.TriggerRule, error) {
	query := `SELECT id, table_id, name, condition, action, enabled, created_at, updated_at
		 FROM trigger_rules WHERE table_id = ?`
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*schema.TriggerRule
	for rows.Next() {
		r := &schema.TriggerRule{}
		var action sql.NullString
		var enabled int
		if err := rows.Scan(&r.ID, &r.TableID, &r.Name, &r.Condition, &action, &enabled, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Action = jsonOrNil(action)
		r.Enabled = enabled != 0
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *LibSQLStore) SetTriggerRuleEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trigger_rules SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		boolToInt(enabled), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "trigger rule", id)
}

func (s *LibSQLStore) DeleteTriggerRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trigger_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "trigger rule", id)
}

// --- Trigger firing log ---

// AppendTriggerEvent appends an event with a monotonically increasing
// per-table sequence. The sequence read and the insert run in one
// transaction so concurrent writers cannot interleave.
func (s *LibSQLStore) AppendTriggerEvent(ctx context.Context, event *TriggerEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "begin trigger event tx").WithCause(err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM trigger_events WHERE table_id = ?`, event.TableID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.FiredAt.IsZero() {
		event.FiredAt = time.Now().UTC()
	}

	payload, err := nullableJSON(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO trigger_events (table_id, rule_id, row_id, payload, fired_at, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.TableID, event.RuleID, event.RowID, payload, event.FiredAt, seq,
	)
	if err != nil {
		return fmt.Errorf("insert trigger event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return schema.NewError(schema.ErrCodeStore, "commit trigger event").WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) ListTriggerEvents(ctx context.Context, tableID string, filter TriggerEventFilter) ([]*TriggerEvent, error) {
	where := []string{"table_id = ?"}
	args := []any{tableID}

	if filter.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, filter.RuleID)
	}
	if filter.Since > 0 {
		where = append(where, "sequence > ?")
		args = append(args, filter.Since)
	}

	query := `SELECT id, table_id, rule_id, row_id, payload, fired_at, sequence FROM trigger_events WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY sequence ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*TriggerEvent
	for rows.Next() {
		e := &TriggerEvent{}
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TableID, &e.RuleID, &e.RowID, &payload, &e.FiredAt, &e.Sequence); err != nil {
			return nil, err
		}
		e.Payload = jsonOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Scheduled refreshes ---

func (s *LibSQLStore) CreateScheduledRefresh(ctx context.Context, refresh *ScheduledRefresh) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_refreshes (id, table_id, column_key, cron_spec, enabled, last_run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		refresh.ID, refresh.TableID, nullStr(refresh.ColumnKey), refresh.CronSpec,
		boolToInt(refresh.Enabled), nullTime(refresh.LastRunAt),
		timeOrNow(refresh.CreatedAt), timeOrNow(refresh.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetScheduledRefresh(ctx context.Context, id string) (*ScheduledRefresh, error) {
	r := &ScheduledRefresh{}
	var columnKey sql.NullString
	var enabled int
	var lastRun sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, table_id, column_key, cron_spec, enabled, last_run_at, created_at, updated_at
		 FROM scheduled_refreshes WHERE id = ?`, id,
	).Scan(&r.ID, &r.TableID, &columnKey, &r.CronSpec, &enabled, &lastRun, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled refresh", id)
	}
	if err != nil {
		return nil, err
	}
	r.ColumnKey = columnKey.String
	r.Enabled = enabled != 0
	if lastRun.Valid {
		r.LastRunAt = &lastRun.Time
	}
	return r, nil
}

func (s *LibSQLStore) ListScheduledRefreshes(ctx context.Context, enabledOnly bool) ([]*ScheduledRefresh, error) {
	query := `SELECT id, table_id, column_key, cron_spec, enabled, last_run_at, created_at, updated_at
		 FROM scheduled_refreshes`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refreshes []*ScheduledRefresh
	for rows.Next() {
		r := &ScheduledRefresh{}
		var columnKey sql.NullString
		var enabled int
		var lastRun sql.NullTime
		if err := rows.Scan(&r.ID, &r.TableID, &columnKey, &r.CronSpec, &enabled, &lastRun, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.ColumnKey = columnKey.String
		r.Enabled = enabled != 0
		if lastRun.Valid {
			r.LastRunAt = &lastRun.Time
		}
		refreshes = append(refreshes, r)
	}
	return refreshes, rows.Err()
}

func (s *LibSQLStore) UpdateScheduledRefresh(ctx context.Context, id string, update ScheduledRefreshUpdate) error {
	var sets []string
	var args []any

	if update.CronSpec != nil {
		sets = append(sets, "cron_spec = ?")
		args = append(args, *update.CronSpec)
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_refreshes SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled refresh", id)
}

func (s *LibSQLStore) DeleteScheduledRefresh(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_refreshes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled refresh", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.GridError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func nullableJSON(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return string(raw), nil
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*LibSQLStore)(nil)
