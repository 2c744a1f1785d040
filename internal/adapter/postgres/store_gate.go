package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/phasegate/internal/domain/gate"
)

const gateColumns = `id, project_id, phase, name, criteria, metrics, passing_score, warning_score, overall_score,
	status, computed_status, waived_by, waiver_reason, waived_at, evaluated_at, version, created_at, updated_at`

func scanGate(row scannable) (gate.QualityGate, error) {
	var (
		g                 gate.QualityGate
		criteria, metrics []byte
	)
	err := row.Scan(
		&g.ID, &g.ProjectID, &g.Phase, &g.Name, &criteria, &metrics, &g.PassingScore, &g.WarningScore, &g.OverallScore,
		&g.Status, &g.ComputedStatus, &g.WaivedBy, &g.WaiverReason, &g.WaivedAt, &g.EvaluatedAt, &g.Version, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return g, err
	}
	if err := json.Unmarshal(criteria, &g.Criteria); err != nil {
		return g, fmt.Errorf("unmarshal criteria: %w", err)
	}
	if err := json.Unmarshal(metrics, &g.Metrics); err != nil {
		return g, fmt.Errorf("unmarshal metrics: %w", err)
	}
	return g, nil
}

func marshalGateParts(g *gate.QualityGate) (criteria, metrics []byte, err error) {
	criteria, err = json.Marshal(orEmpty(g.Criteria))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal criteria: %w", err)
	}
	metrics, err = json.Marshal(orEmpty(g.Metrics))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal metrics: %w", err)
	}
	return criteria, metrics, nil
}

func (s *Store) CreateQualityGate(ctx context.Context, g *gate.QualityGate) error {
	criteria, metrics, err := marshalGateParts(g)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO quality_gates (id, project_id, phase, name, criteria, metrics, passing_score, warning_score, status, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)`,
		g.ID, g.ProjectID, g.Phase, g.Name, criteria, metrics, g.PassingScore, g.WarningScore, string(g.Status), g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create quality gate: %w", err)
	}
	g.Version = 1
	return nil
}

func (s *Store) GetQualityGate(ctx context.Context, id string) (*gate.QualityGate, error) {
	g, err := scanGate(s.pool.QueryRow(ctx, `SELECT `+gateColumns+` FROM quality_gates WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get quality gate %s", id)
	}
	return &g, nil
}

func (s *Store) ListQualityGates(ctx context.Context, projectID string) ([]gate.QualityGate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+gateColumns+` FROM quality_gates WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list quality gates: %w", err)
	}
	defer rows.Close()

	var out []gate.QualityGate
	for rows.Next() {
		g, err := scanGate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quality gate: %w", err)
		}
		out = append(out, g)
	}
	return orEmpty(out), rows.Err()
}

func (s *Store) UpdateQualityGate(ctx context.Context, g *gate.QualityGate) error {
	criteria, metrics, err := marshalGateParts(g)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE quality_gates SET criteria = $2, metrics = $3, overall_score = $4, status = $5, computed_status = $6,
			waived_by = $7, waiver_reason = $8, waived_at = $9, evaluated_at = $10, updated_at = $11, version = version + 1
		 WHERE id = $1 AND version = $12`,
		g.ID, criteria, metrics, g.OverallScore, string(g.Status), string(g.ComputedStatus),
		g.WaivedBy, g.WaiverReason, g.WaivedAt, g.EvaluatedAt, g.UpdatedAt, g.Version)
	if err := execExpectVersion(tag, err, "update quality gate %s", g.ID); err != nil {
		return err
	}
	g.Version++
	return nil
}
