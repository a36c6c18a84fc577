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

// ExecutionStore manages execution rows and their status state machine.
// Status changes go through compare-and-set updates so concurrent engines
// cannot double-claim or resurrect a terminal execution.
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

const executionColumns = `id, pipeline_id, llm_config_id, status, started_at, completed_at, error_message, created_at`

// CreateExecution inserts a new Pending execution for the pipeline.
func (s *ExecutionStore) CreateExecution(ctx context.Context, pipelineID, llmConfigID string) (*models.Execution, error) {
	exec := &models.Execution{
		ID:          uuid.New().String(),
		PipelineID:  pipelineID,
		LLMConfigID: llmConfigID,
		Status:      models.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, pipeline_id, llm_config_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		exec.ID, exec.PipelineID, exec.LLMConfigID, exec.Status, exec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	return exec, nil
}

// GetExecution retrieves an execution by ID.
func (s *ExecutionStore) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	return scanExecution(row)
}

// ClaimPending atomically claims the oldest pending execution, transitioning
// it to Running and stamping started_at. Returns ErrNotFound when the queue
// is empty. FOR UPDATE SKIP LOCKED keeps concurrent pollers from fighting
// over the same row.
func (s *ExecutionStore) ClaimPending(ctx context.Context) (*models.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE executions SET status = $1, started_at = now()
		WHERE id = (
			SELECT id FROM executions
			WHERE status = $2
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+executionColumns,
		models.StatusRunning, models.StatusPending,
	)
	exec, err := scanExecution(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	return exec, err
}

// Transition performs a compare-and-set status update. completed_at is
// stamped when the new status is terminal. Returns ErrInvalidTransition when
// the execution is not in the expected state any more.
func (s *ExecutionStore) Transition(ctx context.Context, id string, from, to models.ExecutionStatus, errorMessage *string) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}

	query := `UPDATE executions SET status = $1, error_message = $2 WHERE id = $3 AND status = $4`
	if to == models.StatusRunning {
		query = `UPDATE executions SET status = $1, error_message = $2, started_at = now() WHERE id = $3 AND status = $4`
	} else if to.IsTerminal() {
		query = `UPDATE executions SET status = $1, error_message = $2, completed_at = now() WHERE id = $3 AND status = $4`
	}

	res, err := s.db.ExecContext(ctx, query, to, errorMessage, id, from)
	if err != nil {
		return fmt.Errorf("failed to transition execution %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: execution %s is not %s", ErrInvalidTransition, id, from)
	}
	return nil
}

// PreviousCompleted returns the most recent Completed execution sharing the
// given pipeline and LLM config, created strictly before the reference
// execution. Returns ErrNotFound if none exists.
func (s *ExecutionStore) PreviousCompleted(ctx context.Context, ref *models.Execution) (*models.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE status = $1 AND pipeline_id = $2 AND llm_config_id = $3
		  AND created_at < $4 AND id <> $5
		ORDER BY created_at DESC
		LIMIT 1`,
		models.StatusCompleted, ref.PipelineID, ref.LLMConfigID, ref.CreatedAt, ref.ID,
	)
	return scanExecution(row)
}

// CountByStatus returns the number of executions in the given status.
func (s *ExecutionStore) CountByStatus(ctx context.Context, status models.ExecutionStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM executions WHERE status = $1`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return n, nil
}

// DeleteExecution removes an execution and its findings. Deletion is rejected
// while a baseline references the execution.
func (s *ExecutionStore) DeleteExecution(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var refs int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM baselines WHERE execution_id = $1`, id).Scan(&refs); err != nil {
		return fmt.Errorf("failed to check baseline references: %w", err)
	}
	if refs > 0 {
		return ErrExecutionReferenced
	}

	for _, q := range []string{
		`DELETE FROM agent_traces WHERE finding_id IN (SELECT id FROM findings WHERE execution_id = $1)`,
		`DELETE FROM embeddings WHERE finding_id IN (SELECT id FROM findings WHERE execution_id = $1)`,
		`DELETE FROM findings WHERE execution_id = $1`,
		`DELETE FROM drift_findings WHERE current_execution_id = $1 OR baseline_execution_id = $1`,
		`DELETE FROM drift_comparisons WHERE current_execution_id = $1 OR baseline_execution_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("failed to delete execution artifacts: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func scanExecution(row scanner) (*models.Execution, error) {
	var exec models.Execution
	var startedAt, completedAt sql.NullTime
	var errorMessage sql.NullString
	err := row.Scan(&exec.ID, &exec.PipelineID, &exec.LLMConfigID, &exec.Status,
		&startedAt, &completedAt, &errorMessage, &exec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}
	if startedAt.Valid {
		exec.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}
	exec.ErrorMessage = nullString(errorMessage)
	return &exec, nil
}
