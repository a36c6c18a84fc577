package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/promptshield/promptshield/pkg/models"
)

// BaselineStore manages baseline records. A baseline may only reference a
// Completed execution, and its tag is unique across live baselines.
type BaselineStore struct {
	db *sql.DB
}

// NewBaselineStore creates a new BaselineStore.
func NewBaselineStore(db *sql.DB) *BaselineStore {
	return &BaselineStore{db: db}
}

// CreateBaseline persists a new baseline after verifying the referenced
// execution is Completed.
func (s *BaselineStore) CreateBaseline(ctx context.Context, req models.CreateBaselineRequest) (*models.Baseline, error) {
	var status models.ExecutionStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = $1`, req.ExecutionID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	if status != models.StatusCompleted {
		return nil, NewValidationError("execution_id", "execution must be completed")
	}

	b := &models.Baseline{
		ID:          uuid.New().String(),
		ExecutionID: req.ExecutionID,
		Name:        req.Name,
		Tag:         req.Tag,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO baselines (id, execution_id, name, tag, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.ExecutionID, b.Name, b.Tag, b.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: tag already in use", ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create baseline: %w", err)
	}
	return b, nil
}

// GetBaseline retrieves a baseline by ID.
func (s *BaselineStore) GetBaseline(ctx context.Context, id string) (*models.Baseline, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, execution_id, name, tag, created_at FROM baselines WHERE id = $1`, id)
	return scanBaseline(row)
}

// GetBaselineByTag retrieves a baseline by its unique tag.
func (s *BaselineStore) GetBaselineByTag(ctx context.Context, tag string) (*models.Baseline, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, execution_id, name, tag, created_at FROM baselines WHERE tag = $1`, tag)
	return scanBaseline(row)
}

// ListBaselines returns all baselines, newest first.
func (s *BaselineStore) ListBaselines(ctx context.Context) ([]*models.Baseline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, name, tag, created_at FROM baselines ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list baselines: %w", err)
	}
	defer rows.Close()

	var out []*models.Baseline
	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBaseline removes a baseline. Deletion is rejected while any drift
// comparison references the baseline's execution.
func (s *BaselineStore) DeleteBaseline(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := scanBaseline(tx.QueryRowContext(ctx, `
		SELECT id, execution_id, name, tag, created_at FROM baselines WHERE id = $1`, id))
	if err != nil {
		return err
	}

	var refs int
	if err := tx.QueryRowContext(ctx, `
		SELECT count(*) FROM drift_comparisons WHERE baseline_execution_id = $1`, b.ExecutionID).Scan(&refs); err != nil {
		return fmt.Errorf("failed to check drift references: %w", err)
	}
	if refs > 0 {
		return ErrBaselineReferenced
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM baselines WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete baseline: %w", err)
	}
	return tx.Commit()
}

func scanBaseline(row scanner) (*models.Baseline, error) {
	var b models.Baseline
	var tag sql.NullString
	err := row.Scan(&b.ID, &b.ExecutionID, &b.Name, &tag, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan baseline: %w", err)
	}
	b.Tag = nullString(tag)
	return &b, nil
}
