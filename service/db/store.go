package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/nftstake/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// ErrSubmissionNotFound is returned when no submission has the requested signature.
var ErrSubmissionNotFound = errors.New("submission not found")

const submissionsTable = "stake_submissions"

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no query metrics are recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Migrate creates the tables and indexes the store needs. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Submission is a staking transaction sent to the cluster and tracked until it settles.
type Submission struct {
	Signature string
	Owner     string
	Action    string // "init", "stake" or "withdraw"
	Mint      *string
	UserPool  string
	Status    string
	Slot      *int64
	Error     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateSubmissionParams contains the parameters for recording a submission.
type CreateSubmissionParams struct {
	Signature string
	Owner     string
	Action    string
	Mint      *string
	UserPool  string
	Status    string
}

// UpdateSubmissionStatusParams contains the observed status of a submission.
type UpdateSubmissionStatusParams struct {
	Signature string
	Status    string
	Slot      *int64
	Error     *string
}

// ListSubmissionsByOwnerParams contains pagination parameters.
type ListSubmissionsByOwnerParams struct {
	Owner  string
	Limit  int32
	Offset int32
}

const submissionColumns = `signature, owner, action, mint, user_pool, status, slot, error, created_at, updated_at`

// CreateSubmission inserts a new submission. Resubmitting a known signature
// returns the existing row unchanged.
func (s *Store) CreateSubmission(ctx context.Context, params CreateSubmissionParams) (*Submission, error) {
	status := params.Status
	if status == "" {
		status = "submitted"
	}

	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO stake_submissions (signature, owner, action, mint, user_pool, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (signature) DO UPDATE SET signature = EXCLUDED.signature
		RETURNING `+submissionColumns,
		params.Signature, params.Owner, params.Action, params.Mint, params.UserPool, status,
	)
	sub, err := scanSubmission(row)
	s.record("create_submission", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create submission: %w", err)
	}
	return sub, nil
}

// GetSubmission retrieves a submission by signature.
func (s *Store) GetSubmission(ctx context.Context, signature string) (*Submission, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM stake_submissions WHERE signature = $1`,
		signature,
	)
	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		s.record("get_submission", start, nil)
		return nil, ErrSubmissionNotFound
	}
	s.record("get_submission", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return sub, nil
}

// UpdateSubmissionStatus sets the status, slot and error of a submission.
// A nil Slot leaves the stored slot unchanged.
func (s *Store) UpdateSubmissionStatus(ctx context.Context, params UpdateSubmissionStatusParams) (*Submission, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE stake_submissions
		SET status = $2,
		    slot = COALESCE($3, slot),
		    error = $4,
		    updated_at = NOW()
		WHERE signature = $1
		RETURNING `+submissionColumns,
		params.Signature, params.Status, params.Slot, params.Error,
	)
	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		s.record("update_submission_status", start, nil)
		return nil, ErrSubmissionNotFound
	}
	s.record("update_submission_status", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to update submission status: %w", err)
	}
	return sub, nil
}

// ListSubmissionsByOwner returns an owner's submissions, newest first.
func (s *Store) ListSubmissionsByOwner(ctx context.Context, params ListSubmissionsByOwnerParams) ([]*Submission, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+submissionColumns+`
		FROM stake_submissions
		WHERE owner = $1
		ORDER BY created_at DESC, signature
		LIMIT $2 OFFSET $3`,
		params.Owner, params.Limit, params.Offset,
	)
	if err != nil {
		s.record("list_submissions_by_owner", start, err)
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	subs, err := collectSubmissions(rows)
	s.record("list_submissions_by_owner", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return subs, nil
}

// ListPendingSubmissions returns submissions that have not settled and were
// created before olderThan, oldest first.
func (s *Store) ListPendingSubmissions(ctx context.Context, olderThan time.Time, limit int32) ([]*Submission, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+submissionColumns+`
		FROM stake_submissions
		WHERE status IN ('submitted', 'processed') AND created_at < $1
		ORDER BY created_at
		LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		s.record("list_pending_submissions", start, err)
		return nil, fmt.Errorf("failed to list pending submissions: %w", err)
	}
	subs, err := collectSubmissions(rows)
	s.record("list_pending_submissions", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending submissions: %w", err)
	}
	return subs, nil
}

func scanSubmission(row pgx.Row) (*Submission, error) {
	var sub Submission
	err := row.Scan(
		&sub.Signature,
		&sub.Owner,
		&sub.Action,
		&sub.Mint,
		&sub.UserPool,
		&sub.Status,
		&sub.Slot,
		&sub.Error,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func collectSubmissions(rows pgx.Rows) ([]*Submission, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Submission, error) {
		return scanSubmission(row)
	})
}

func (s *Store) record(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordDBQuery(operation, submissionsTable, time.Since(start).Seconds(), err)
}
