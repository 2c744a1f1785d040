package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/phasegate/internal/domain/hitl"
)

func (s *Store) GetHITLCounter(ctx context.Context, projectID string) (*hitl.Counter, error) {
	var c hitl.Counter
	err := s.pool.QueryRow(ctx,
		`SELECT project_id, limit_value, status, version, updated_at FROM hitl_counters WHERE project_id = $1`, projectID,
	).Scan(&c.ProjectID, &c.Limit, &c.Status, &c.Version, &c.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get hitl counter %s", projectID)
	}
	return &c, nil
}

// SaveHITLCounter inserts the row when c.Version is zero and updates it
// under optimistic locking otherwise.
func (s *Store) SaveHITLCounter(ctx context.Context, c *hitl.Counter) error {
	if c.Version == 0 {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO hitl_counters (project_id, limit_value, status, version, updated_at)
			 VALUES ($1, $2, $3, 1, $4) ON CONFLICT (project_id) DO NOTHING`,
			c.ProjectID, c.Limit, string(c.Status), nullTime(c.UpdatedAt))
		if err := execExpectVersion(tag, err, "insert hitl counter %s", c.ProjectID); err != nil {
			return err
		}
		c.Version = 1
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE hitl_counters SET limit_value = $2, status = $3, updated_at = $4, version = version + 1
		 WHERE project_id = $1 AND version = $5`,
		c.ProjectID, c.Limit, string(c.Status), nullTime(c.UpdatedAt), c.Version)
	if err := execExpectVersion(tag, err, "update hitl counter %s", c.ProjectID); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	c.Version++
	return nil
}
