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

// DriftStore manages drift comparisons and their findings. A comparison is
// idempotent per (current, baseline) pair: re-running replaces prior findings.
type DriftStore struct {
	db *sql.DB
}

// NewDriftStore creates a new DriftStore.
func NewDriftStore(db *sql.DB) *DriftStore {
	return &DriftStore{db: db}
}

// UpsertComparison creates or resets the comparison row for a pair, returning
// it in Requested state with score and grade cleared.
func (s *DriftStore) UpsertComparison(ctx context.Context, currentID, baselineID string) (*models.DriftComparison, error) {
	c := &models.DriftComparison{
		ID:                  uuid.New().String(),
		CurrentExecutionID:  currentID,
		BaselineExecutionID: baselineID,
		Status:              models.ComparisonRequested,
		CreatedAt:           time.Now().UTC(),
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO drift_comparisons (id, current_execution_id, baseline_execution_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (current_execution_id, baseline_execution_id)
		DO UPDATE SET status = EXCLUDED.status, drift_score = NULL, drift_grade = NULL, created_at = EXCLUDED.created_at
		RETURNING id`,
		c.ID, c.CurrentExecutionID, c.BaselineExecutionID, c.Status, c.CreatedAt,
	)
	if err := row.Scan(&c.ID); err != nil {
		return nil, fmt.Errorf("failed to upsert drift comparison: %w", err)
	}
	return c, nil
}

// SetComparisonStatus advances the comparison state machine.
func (s *DriftStore) SetComparisonStatus(ctx context.Context, id string, status models.DriftComparisonStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE drift_comparisons SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update comparison status: %w", err)
	}
	return nil
}

// Aggregate marks the comparison Aggregated with its unified score and grade.
func (s *DriftStore) Aggregate(ctx context.Context, id string, score float64, grade string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE drift_comparisons SET status = $1, drift_score = $2, drift_grade = $3 WHERE id = $4`,
		models.ComparisonAggregated, score, grade, id,
	)
	if err != nil {
		return fmt.Errorf("failed to aggregate comparison: %w", err)
	}
	return nil
}

// LatestComparison returns the most recent aggregated comparison whose
// current side is the given execution, or ErrNotFound.
func (s *DriftStore) LatestComparison(ctx context.Context, currentID string) (*models.DriftComparison, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, current_execution_id, baseline_execution_id, status, drift_score, drift_grade, created_at
		FROM drift_comparisons
		WHERE current_execution_id = $1 AND status = $2
		ORDER BY created_at DESC LIMIT 1`,
		currentID, models.ComparisonAggregated,
	)
	var c models.DriftComparison
	var score sql.NullFloat64
	var grade sql.NullString
	err := row.Scan(&c.ID, &c.CurrentExecutionID, &c.BaselineExecutionID, &c.Status, &score, &grade, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan drift comparison: %w", err)
	}
	c.DriftScore = nullFloat(score)
	c.DriftGrade = nullString(grade)
	return &c, nil
}

// ReplaceFindings atomically replaces all drift findings for a pair with the
// given set, writing back DB-assigned ids.
func (s *DriftStore) ReplaceFindings(ctx context.Context, currentID, baselineID string, findings []*models.DriftFinding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM drift_findings WHERE current_execution_id = $1 AND baseline_execution_id = $2`,
		currentID, baselineID); err != nil {
		return fmt.Errorf("failed to clear prior drift findings: %w", err)
	}

	for _, f := range findings {
		details, err := marshalJSON(f.Details)
		if err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `
			INSERT INTO drift_findings (current_execution_id, baseline_execution_id, channel, metric, value, threshold, severity, confidence, details)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at`,
			f.CurrentExecutionID, f.BaselineExecutionID, f.Channel, f.Metric,
			f.Value, f.Threshold, f.Severity, f.Confidence, details,
		)
		if err := row.Scan(&f.ID, &f.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert drift finding: %w", err)
		}
	}

	return tx.Commit()
}

// ListDriftFindings returns all drift findings for a pair, ordered by id.
func (s *DriftStore) ListDriftFindings(ctx context.Context, currentID, baselineID string) ([]*models.DriftFinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, current_execution_id, baseline_execution_id, channel, metric, value, threshold, severity, confidence, details, created_at
		FROM drift_findings
		WHERE current_execution_id = $1 AND baseline_execution_id = $2
		ORDER BY id`,
		currentID, baselineID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list drift findings: %w", err)
	}
	defer rows.Close()

	var out []*models.DriftFinding
	for rows.Next() {
		var f models.DriftFinding
		var confidence sql.NullFloat64
		var details []byte
		if err := rows.Scan(&f.ID, &f.CurrentExecutionID, &f.BaselineExecutionID, &f.Channel, &f.Metric,
			&f.Value, &f.Threshold, &f.Severity, &confidence, &details, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan drift finding: %w", err)
		}
		f.Confidence = nullFloat(confidence)
		if err := unmarshalJSON(details, &f.Details); err != nil {
			return nil, fmt.Errorf("failed to decode drift finding details: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
