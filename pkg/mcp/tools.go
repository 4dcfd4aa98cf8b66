package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/salesgrid/salesgrid/internal/expressions"
	"github.com/salesgrid/salesgrid/internal/formula"
	"github.com/salesgrid/salesgrid/internal/store"
	"github.com/salesgrid/salesgrid/pkg/schema"
)

// handleEvaluate runs a formula against an ad-hoc context map.
func (s *GridServer) handleEvaluate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expression, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError("expression is required"), nil
	}

	fctx := expressions.StringifyContext(mcp.ParseStringMap(req, "context", nil))

	return marshalResult(map[string]any{
		"result": formula.Evaluate(expression, fctx),
	})
}

// handlePreview computes derived cells for one row or one column.
func (s *GridServer) handlePreview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tableID, err := req.RequireString("table_id")
	if err != nil {
		return mcp.NewToolResultError("table_id is required"), nil
	}
	rowID := req.GetString("row_id", "")
	columnKey := req.GetString("column_key", "")

	switch {
	case rowID != "" && columnKey != "":
		return mcp.NewToolResultError("give either row_id or column_key, not both"), nil

	case rowID != "":
		cells, prevErr := s.previewer.PreviewRow(ctx, tableID, rowID)
		if prevErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("preview failed: %v", prevErr)), nil
		}
		return marshalResult(map[string]any{"row_id": rowID, "cells": cells})

	case columnKey != "":
		values, prevErr := s.previewer.PreviewColumn(ctx, tableID, columnKey)
		if prevErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("preview failed: %v", prevErr)), nil
		}
		return marshalResult(map[string]any{"column_key": columnKey, "values": values})

	default:
		return mcp.NewToolResultError("row_id or column_key is required"), nil
	}
}

// handleDefineColumn validates a column definition and persists it.
func (s *GridServer) handleDefineColumn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tableID, err := req.RequireString("table_id")
	if err != nil {
		return mcp.NewToolResultError("table_id is required"), nil
	}

	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	// Marshal then unmarshal to get a proper ColumnDefinition.
	defBytes, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}
	var def schema.ColumnDefinition
	if unmarshalErr := json.Unmarshal(defBytes, &def); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", unmarshalErr)), nil
	}

	if _, tblErr := s.store.GetTable(ctx, tableID); tblErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("table lookup failed: %v", tblErr)), nil
	}

	existing, listErr := s.store.ListColumns(ctx, tableID)
	if listErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list columns failed: %v", listErr)), nil
	}

	result := s.validator.ValidateDefinition(&def, existing)
	if !result.Valid() {
		return marshalResult(map[string]any{
			"ok":       false,
			"errors":   result.Errors,
			"warnings": result.Warnings,
		})
	}

	col, applyErr := s.applyDefinition(ctx, tableID, &def, existing)
	if applyErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("persist failed: %v", applyErr)), nil
	}

	if def.Refresh != "" {
		if schedErr := s.ensureRefresh(ctx, tableID, def.Key, def.Refresh); schedErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("column saved but refresh schedule failed: %v", schedErr)), nil
		}
	}

	return marshalResult(map[string]any{
		"ok":       true,
		"column":   col,
		"warnings": result.Warnings,
	})
}

// applyDefinition creates the column, or updates it when the key already exists.
func (s *GridServer) applyDefinition(ctx context.Context, tableID string, def *schema.ColumnDefinition, existing []*schema.Column) (*schema.Column, error) {
	name := def.Name
	if name == "" {
		name = def.Key
	}
	kind := def.Kind
	if kind == "" {
		kind = schema.ColumnKindData
	}

	for _, col := range existing {
		if col.Key != def.Key {
			continue
		}
		if col.Kind != kind {
			return nil, schema.NewErrorf(schema.ErrCodeConflict,
				"column %q is a %s column; kind changes require delete and recreate", def.Key, col.Kind).
				WithColumn(def.Key)
		}
		update := store.ColumnUpdate{Name: &name, Formula: &def.Formula, Extract: &def.Extract}
		if err := s.store.UpdateColumn(ctx, col.ID, update); err != nil {
			return nil, err
		}
		return s.store.GetColumn(ctx, col.ID)
	}

	col := &schema.Column{
		ID:       uuid.NewString(),
		TableID:  tableID,
		Key:      def.Key,
		Name:     name,
		Kind:     kind,
		Formula:  def.Formula,
		Extract:  def.Extract,
		Position: len(existing),
	}
	if err := s.store.CreateColumn(ctx, col); err != nil {
		return nil, err
	}
	return col, nil
}

// ensureRefresh creates or updates the scheduled refresh for a column.
func (s *GridServer) ensureRefresh(ctx context.Context, tableID, columnKey, cronSpec string) error {
	refreshes, err := s.store.ListScheduledRefreshes(ctx, false)
	if err != nil {
		return err
	}
	for _, r := range refreshes {
		if r.TableID == tableID && r.ColumnKey == columnKey {
			enabled := true
			return s.store.UpdateScheduledRefresh(ctx, r.ID, store.ScheduledRefreshUpdate{
				CronSpec: &cronSpec,
				Enabled:  &enabled,
			})
		}
	}
	return s.store.CreateScheduledRefresh(ctx, &store.ScheduledRefresh{
		ID:        uuid.NewString(),
		TableID:   tableID,
		ColumnKey: columnKey,
		CronSpec:  cronSpec,
		Enabled:   true,
	})
}

// handleQuery lists tables, columns, rows, or trigger events.
func (s *GridServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "tables":
		tables, listErr := s.store.ListTables(ctx)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"tables": tables})
	case "columns":
		return s.queryColumns(ctx, filter)
	case "rows":
		return s.queryRows(ctx, filter)
	case "trigger_events":
		return s.queryTriggerEvents(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

func (s *GridServer) queryColumns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	tableID, ok := filter["table_id"].(string)
	if !ok || tableID == "" {
		return mcp.NewToolResultError("column query requires 'table_id' in filter"), nil
	}

	columns, err := s.store.ListColumns(ctx, tableID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"columns": columns})
}

func (s *GridServer) queryRows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	tableID, ok := filter["table_id"].(string)
	if !ok || tableID == "" {
		return mcp.NewToolResultError("row query requires 'table_id' in filter"), nil
	}

	rows, err := s.store.ListRows(ctx, tableID, store.RowFilter{
		Limit: extractInt(filter, "limit", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	// Optional CEL row filter, e.g. `row.status == "won"`.
	if celFilter, ok := filter["filter"].(string); ok && celFilter != "" {
		table, tblErr := s.store.GetTable(ctx, tableID)
		if tblErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", tblErr)), nil
		}
		matched := rows[:0]
		for _, row := range rows {
			pass, matchErr := s.filters.Matches(ctx, celFilter, row, table)
			if matchErr != nil {
				return mcp.NewToolResultError(fmt.Sprintf("row filter failed: %v", matchErr)), nil
			}
			if pass {
				matched = append(matched, row)
			}
		}
		rows = matched
	}

	return marshalResult(map[string]any{"rows": rows})
}

func (s *GridServer) queryTriggerEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	tableID, ok := filter["table_id"].(string)
	if !ok || tableID == "" {
		return mcp.NewToolResultError("trigger event query requires 'table_id' in filter"), nil
	}

	ef := store.TriggerEventFilter{
		Limit: extractInt(filter, "limit", 100),
	}
	if ruleID, ok := filter["rule_id"].(string); ok {
		ef.RuleID = ruleID
	}
	ef.Since = int64(extractInt(filter, "since", 0))

	events, err := s.store.ListTriggerEvents(ctx, tableID, ef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// handleRefresh recomputes a column or whole table now.
func (s *GridServer) handleRefresh(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tableID, err := req.RequireString("table_id")
	if err != nil {
		return mcp.NewToolResultError("table_id is required"), nil
	}
	columnKey := req.GetString("column_key", "")

	started := time.Now()
	var updated int
	var refreshErr error
	if columnKey != "" {
		updated, refreshErr = s.previewer.RefreshColumn(ctx, tableID, columnKey)
	} else {
		updated, refreshErr = s.previewer.RefreshTable(ctx, tableID)
	}
	if refreshErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("refresh failed: %v", refreshErr)), nil
	}

	return marshalResult(map[string]any{
		"ok":           true,
		"rows_updated": updated,
		"took_ms":      time.Since(started).Milliseconds(),
	})
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
