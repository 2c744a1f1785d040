package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/phasegate/internal/domain/event"
)

// AuditLog implements auditlog.Store using PostgreSQL. The audit_events
// table rejects UPDATE and DELETE through a trigger.
type AuditLog struct {
	pool *pgxpool.Pool
}

// NewAuditLog creates a new AuditLog backed by the given connection pool.
func NewAuditLog(pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{pool: pool}
}

// Append inserts e and returns once the row is committed.
func (a *AuditLog) Append(ctx context.Context, e *event.Entry) error {
	payload := []byte(e.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := a.pool.Exec(ctx,
		`INSERT INTO audit_events (id, occurred_at, event_type, event_source, project_id, task_id, hitl_request_id, request_id, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Timestamp, string(e.Type), string(e.Source), e.ProjectID, e.TaskID, e.HITLRequestID, e.RequestID, payload)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

const auditColumns = `id, occurred_at, event_type, event_source, project_id, task_id, hitl_request_id, request_id, payload`

// Query returns entries matching f, newest first.
func (a *AuditLog) Query(ctx context.Context, f event.Filter) (*event.Page, error) {
	f.Normalize()

	args := []any{}
	conditions := []string{"TRUE"}
	argIdx := 1
	add := func(cond string, v any) {
		conditions = append(conditions, fmt.Sprintf(cond, argIdx))
		args = append(args, v)
		argIdx++
	}

	if f.ProjectID != "" {
		add("project_id = $%d", f.ProjectID)
	}
	if f.TaskID != "" {
		add("task_id = $%d", f.TaskID)
	}
	if f.HITLRequestID != "" {
		add("hitl_request_id = $%d", f.HITLRequestID)
	}
	if f.Source != "" {
		add("event_source = $%d", string(f.Source))
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		add("event_type = ANY($%d)", types)
	}
	if f.After != nil {
		add("occurred_at > $%d", *f.After)
	}
	if f.Before != nil {
		add("occurred_at < $%d", *f.Before)
	}

	// Fetch limit+1 to detect hasMore.
	query := fmt.Sprintf(`SELECT %s FROM audit_events WHERE %s ORDER BY seq DESC LIMIT $%d OFFSET $%d`,
		auditColumns, strings.Join(conditions, " AND "), argIdx, argIdx+1)
	args = append(args, f.Limit+1, f.Offset)

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	entries := make([]event.Entry, 0, f.Limit)
	for rows.Next() {
		var (
			e       event.Entry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Type, &e.Source, &e.ProjectID, &e.TaskID, &e.HITLRequestID, &e.RequestID, &payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Payload = payload
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(entries) > f.Limit
	if hasMore {
		entries = entries[:f.Limit]
	}
	return &event.Page{Entries: entries, HasMore: hasMore}, nil
}
