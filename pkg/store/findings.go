package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/promptshield/promptshield/pkg/models"
)

// FindingStore manages findings and their owned artifacts (embeddings and
// agent traces). Inserts are guarded so nothing lands on an execution that
// already reached a terminal state.
type FindingStore struct {
	db *sql.DB
}

// NewFindingStore creates a new FindingStore.
func NewFindingStore(db *sql.DB) *FindingStore {
	return &FindingStore{db: db}
}

// InsertFinding persists a normalized finding. The insert only succeeds while
// the owning execution is Running, which enforces state monotonicity at the
// storage layer. The DB-assigned id is written back into f.
func (s *FindingStore) InsertFinding(ctx context.Context, f *models.Finding) error {
	metadata, err := marshalJSON(f.Metadata)
	if err != nil {
		return err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO findings (execution_id, library, test_category, severity, risk_type, evidence_prompt, evidence_response, confidence, metadata)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		WHERE EXISTS (SELECT 1 FROM executions WHERE id = $1 AND status = $10)
		RETURNING id, created_at`,
		f.ExecutionID, f.Library, f.TestCategory, f.Severity, f.RiskType,
		f.EvidencePrompt, f.EvidenceResponse, f.Confidence, metadata,
		models.StatusRunning,
	)
	if err := row.Scan(&f.ID, &f.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrExecutionNotRunning, f.ExecutionID)
		}
		return fmt.Errorf("failed to insert finding: %w", err)
	}
	return nil
}

// ListFindings returns findings for an execution, optionally filtered.
func (s *FindingStore) ListFindings(ctx context.Context, executionID string, filter models.FindingFilter) ([]*models.Finding, error) {
	query := `
		SELECT id, execution_id, library, test_category, severity, risk_type, evidence_prompt, evidence_response, confidence, metadata, created_at
		FROM findings WHERE execution_id = $1`
	args := []any{executionID}

	if filter.Severity != "" {
		args = append(args, filter.Severity)
		query += ` AND severity = $` + strconv.Itoa(len(args))
	}
	if filter.Library != "" {
		args = append(args, filter.Library)
		query += ` AND library = $` + strconv.Itoa(len(args))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += ` AND test_category = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var out []*models.Finding
	for rows.Next() {
		var f models.Finding
		var confidence sql.NullFloat64
		var metadata []byte
		if err := rows.Scan(&f.ID, &f.ExecutionID, &f.Library, &f.TestCategory, &f.Severity,
			&f.RiskType, &f.EvidencePrompt, &f.EvidenceResponse, &confidence, &metadata, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.Confidence = nullFloat(confidence)
		if err := unmarshalJSON(metadata, &f.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode finding metadata: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// SeverityCounts aggregates finding counts per severity for an execution.
func (s *FindingStore) SeverityCounts(ctx context.Context, executionID string) (map[models.Severity]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT severity, count(*) FROM findings WHERE execution_id = $1 GROUP BY severity`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count severities: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Severity]int)
	for rows.Next() {
		var sev models.Severity
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, fmt.Errorf("failed to scan severity count: %w", err)
		}
		counts[sev] = n
	}
	return counts, rows.Err()
}

// InsertEmbedding persists a finding's embedding vector. At most one
// embedding may exist per finding; the owning execution must still be Running.
func (s *FindingStore) InsertEmbedding(ctx context.Context, e *models.Embedding) error {
	vector, err := marshalJSON(e.Vector)
	if err != nil {
		return err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO embeddings (finding_id, model_name, vector)
		SELECT $1, $2, $3
		WHERE EXISTS (
			SELECT 1 FROM findings f JOIN executions e ON e.id = f.execution_id
			WHERE f.id = $1 AND e.status = $4
		)
		RETURNING id`,
		e.FindingID, e.ModelName, vector, models.StatusRunning,
	)
	if err := row.Scan(&e.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: finding %d", ErrExecutionNotRunning, e.FindingID)
		}
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert embedding: %w", err)
	}
	return nil
}

// ListEmbeddings returns all embeddings for an execution's findings.
func (s *FindingStore) ListEmbeddings(ctx context.Context, executionID string) ([]*models.Embedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.finding_id, e.model_name, e.vector
		FROM embeddings e JOIN findings f ON f.id = e.finding_id
		WHERE f.execution_id = $1 ORDER BY e.id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer rows.Close()

	var out []*models.Embedding
	for rows.Next() {
		var e models.Embedding
		var vector []byte
		if err := rows.Scan(&e.ID, &e.FindingID, &e.ModelName, &vector); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		if err := unmarshalJSON(vector, &e.Vector); err != nil {
			return nil, fmt.Errorf("failed to decode embedding vector: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// InsertAgentTrace persists an extracted agent trace. Re-extraction of the
// same finding overwrites the previous trace (derived data).
func (s *FindingStore) InsertAgentTrace(ctx context.Context, t *models.AgentTrace) error {
	calls, err := marshalJSON(t.Calls)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_traces (finding_id, calls) VALUES ($1, $2)
		ON CONFLICT (finding_id) DO UPDATE SET calls = EXCLUDED.calls`,
		t.FindingID, calls,
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent trace: %w", err)
	}
	return nil
}

// ListAgentTraces returns all agent traces for an execution's findings.
func (s *FindingStore) ListAgentTraces(ctx context.Context, executionID string) ([]*models.AgentTrace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.finding_id, t.calls
		FROM agent_traces t JOIN findings f ON f.id = t.finding_id
		WHERE f.execution_id = $1 ORDER BY t.finding_id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent traces: %w", err)
	}
	defer rows.Close()

	var out []*models.AgentTrace
	for rows.Next() {
		var t models.AgentTrace
		var calls []byte
		if err := rows.Scan(&t.FindingID, &calls); err != nil {
			return nil, fmt.Errorf("failed to scan agent trace: %w", err)
		}
		if err := unmarshalJSON(calls, &t.Calls); err != nil {
			return nil, fmt.Errorf("failed to decode agent trace calls: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
