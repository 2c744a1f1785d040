package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/phasegate/internal/domain/hitl"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- HITL requests ---

const hitlColumns = `id, project_id, task_id, agent_type, request_type, status, priority, title, description,
	context, options, response, response_data, comment, responded_by, escalated_to, escalation_reason,
	escalation_count, version, created_at, updated_at, expires_at, responded_at, escalated_at`

func scanHITLRequest(row scannable) (hitl.Request, error) {
	var (
		r                       hitl.Request
		ctxJSON, resp, respData []byte
	)
	err := row.Scan(
		&r.ID, &r.ProjectID, &r.TaskID, &r.AgentType, &r.Type, &r.Status, &r.Priority, &r.Title, &r.Description,
		&ctxJSON, &r.Options, &resp, &respData, &r.Comment, &r.RespondedBy, &r.EscalatedTo, &r.EscalationReason,
		&r.EscalationCount, &r.Version, &r.CreatedAt, &r.UpdatedAt, &r.ExpiresAt, &r.RespondedAt, &r.EscalatedAt,
	)
	if err != nil {
		return r, err
	}
	r.Context, r.Response, r.ResponseData = ctxJSON, resp, respData
	return r, nil
}

func (s *Store) CreateHITLRequest(ctx context.Context, r *hitl.Request) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO hitl_requests (id, project_id, task_id, agent_type, request_type, status, priority, title, description,
			context, options, created_at, updated_at, expires_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)`,
		r.ID, r.ProjectID, r.TaskID, r.AgentType, string(r.Type), string(r.Status), string(r.Priority), r.Title, r.Description,
		nullJSON(r.Context), pgTextArray(r.Options), r.CreatedAt, r.UpdatedAt, r.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create hitl request: %w", err)
	}
	r.Version = 1
	return nil
}

func (s *Store) GetHITLRequest(ctx context.Context, id string) (*hitl.Request, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+hitlColumns+` FROM hitl_requests WHERE id = $1`, id)
	r, err := scanHITLRequest(row)
	if err != nil {
		return nil, notFoundWrap(err, "get hitl request %s", id)
	}
	return &r, nil
}

func (s *Store) ListHITLRequests(ctx context.Context, f hitl.ListFilter) ([]hitl.Request, error) {
	f.Normalize()

	args := []any{}
	conditions := []string{"TRUE"}
	argIdx := 1
	if f.ProjectID != "" {
		conditions = append(conditions, fmt.Sprintf("project_id = $%d", argIdx))
		args = append(args, f.ProjectID)
		argIdx++
	}
	if f.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(f.Status))
		argIdx++
	}
	query := fmt.Sprintf(`SELECT %s FROM hitl_requests WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		hitlColumns, strings.Join(conditions, " AND "), argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	return s.queryHITLRequests(ctx, "list hitl requests", query, args...)
}

func (s *Store) ListDueHITLRequests(ctx context.Context, now time.Time, limit int) ([]hitl.Request, error) {
	return s.queryHITLRequests(ctx, "list due hitl requests",
		`SELECT `+hitlColumns+` FROM hitl_requests
		 WHERE status IN ('pending', 'escalated') AND expires_at IS NOT NULL AND expires_at <= $1
		 ORDER BY expires_at ASC LIMIT $2`, now, limit)
}

func (s *Store) queryHITLRequests(ctx context.Context, op, query string, args ...any) ([]hitl.Request, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []hitl.Request
	for rows.Next() {
		r, err := scanHITLRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return orEmpty(out), nil
}

func (s *Store) UpdateHITLRequest(ctx context.Context, r *hitl.Request) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE hitl_requests SET status = $2, response = $3, response_data = $4, comment = $5, responded_by = $6,
			escalated_to = $7, escalation_reason = $8, escalation_count = $9, updated_at = $10,
			responded_at = $11, escalated_at = $12, version = version + 1
		 WHERE id = $1 AND version = $13`,
		r.ID, string(r.Status), nullJSON(r.Response), nullJSON(r.ResponseData), r.Comment, r.RespondedBy,
		r.EscalatedTo, r.EscalationReason, r.EscalationCount, r.UpdatedAt,
		r.RespondedAt, r.EscalatedAt, r.Version)
	if err := execExpectVersion(tag, err, "update hitl request %s", r.ID); err != nil {
		return err
	}
	r.Version++
	return nil
}
