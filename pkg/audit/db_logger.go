package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/adminboard/pkg/storage/sqldb"
)

// DBLogger stores audit events in the audit_events table
type DBLogger struct {
	db *sqldb.DB
}

// NewDBLogger creates a database-backed audit logger. The schema comes
// from sqldb migrations.
func NewDBLogger(db *sqldb.DB) (*DBLogger, error) {
	if db == nil || db.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var details interface{}
	if len(event.Details) > 0 {
		raw, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
		details = string(raw)
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_events
			(occurred_at, event_type, actor_uid, actor_role, resource, resource_id, outcome, message, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.Timestamp.UnixMilli(), string(event.EventType), event.Actor.UID, event.Actor.Role,
		string(event.ResourceType), event.ResourceID, string(event.Status), event.Message, details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns events newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.EventType != "" {
		add("event_type = $%d", string(filter.EventType))
	}
	if filter.ActorUID != "" {
		add("actor_uid = $%d", filter.ActorUID)
	}
	if filter.ResourceType != "" {
		add("resource = $%d", string(filter.ResourceType))
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.Since != nil {
		add("occurred_at >= $%d", filter.Since.UnixMilli())
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT id, occurred_at, event_type, actor_uid, actor_role, resource, resource_id, outcome, message, details FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT %d OFFSET %d", limit, max(filter.Offset, 0))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e          Event
			occurredAt int64
			eventType  string
			resource   string
			outcome    string
			details    sql.NullString
		)
		if err := rows.Scan(&e.ID, &occurredAt, &eventType, &e.Actor.UID, &e.Actor.Role,
			&resource, &e.ResourceID, &outcome, &e.Message, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Timestamp = time.UnixMilli(occurredAt).UTC()
		e.EventType = EventType(eventType)
		e.ResourceType = ResourceType(resource)
		e.Status = EventStatus(outcome)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (l *DBLogger) Close() error { return nil }
