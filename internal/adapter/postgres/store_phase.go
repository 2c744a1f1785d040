package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CurrentPhase returns the project's active phase, or "" when none is set.
func (s *Store) CurrentPhase(ctx context.Context, projectID string) (string, error) {
	var phase string
	err := s.pool.QueryRow(ctx, `SELECT phase FROM project_phases WHERE project_id = $1`, projectID).Scan(&phase)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get phase %s: %w", projectID, err)
	}
	return phase, nil
}

// SetPhase upserts the project's phase. An empty phase clears it.
func (s *Store) SetPhase(ctx context.Context, projectID, phase string) error {
	if phase == "" {
		if _, err := s.pool.Exec(ctx, `DELETE FROM project_phases WHERE project_id = $1`, projectID); err != nil {
			return fmt.Errorf("clear phase %s: %w", projectID, err)
		}
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO project_phases (project_id, phase, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (project_id) DO UPDATE SET phase = EXCLUDED.phase, updated_at = now()`,
		projectID, phase)
	if err != nil {
		return fmt.Errorf("set phase %s: %w", projectID, err)
	}
	return nil
}
