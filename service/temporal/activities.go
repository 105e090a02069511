package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/nftstake/service/db"
	"github.com/brojonat/nftstake/service/metrics"
	natspkg "github.com/brojonat/nftstake/service/nats"
	"github.com/brojonat/nftstake/service/staking"
	solanago "github.com/gagliardetto/solana-go"
)

// CheckSignatureStatusInput contains parameters for the CheckSignatureStatus activity.
type CheckSignatureStatusInput struct {
	Signature string `json:"signature"`
}

// CheckSignatureStatusResult is the cluster's current view of a signature.
type CheckSignatureStatusResult struct {
	Status        string  `json:"status"`
	Slot          *int64  `json:"slot,omitempty"`
	Confirmations *uint64 `json:"confirmations,omitempty"`
	Error         *string `json:"error,omitempty"`
}

// RecordSubmissionStatusInput contains parameters for the RecordSubmissionStatus activity.
type RecordSubmissionStatusInput struct {
	Signature string  `json:"signature"`
	Status    string  `json:"status"`
	Slot      *int64  `json:"slot,omitempty"`
	Error     *string `json:"error,omitempty"`
}

// PublishStakingEventInput contains parameters for the PublishStakingEvent activity.
type PublishStakingEventInput struct {
	Submission *db.Submission `json:"submission"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	UpdateSubmissionStatus(context.Context, db.UpdateSubmissionStatusParams) (*db.Submission, error)
}

// StatusCheckerInterface looks up signature statuses on chain.
type StatusCheckerInterface interface {
	SignatureStatus(ctx context.Context, sig solanago.Signature) (*staking.SignatureStatus, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishStakingEvent(ctx context.Context, event *natspkg.StakingEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	store     StoreInterface
	checker   StatusCheckerInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded. If publisher is nil,
// PublishStakingEvent is a no-op.
func NewActivities(
	store StoreInterface,
	checker StatusCheckerInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		checker:   checker,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// CheckSignatureStatus asks the cluster for the status of a signature.
func (a *Activities) CheckSignatureStatus(ctx context.Context, input CheckSignatureStatusInput) (*CheckSignatureStatusResult, error) {
	start := time.Now()
	defer a.recordDuration("CheckSignatureStatus", start)

	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	status, err := a.checker.SignatureStatus(ctx, sig)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to check signature status",
			"signature", input.Signature,
			"error", err,
		)
		return nil, fmt.Errorf("failed to check signature status: %w", err)
	}

	result := &CheckSignatureStatusResult{
		Status:        string(status.Status),
		Confirmations: status.Confirmations,
	}
	if status.Slot > 0 {
		slot := int64(status.Slot)
		result.Slot = &slot
	}
	if status.Err != "" {
		errMsg := status.Err
		result.Error = &errMsg
	}

	a.logger.DebugContext(ctx, "checked signature status",
		"signature", input.Signature,
		"status", result.Status,
	)

	return result, nil
}

// RecordSubmissionStatus writes a status change to the submissions table.
func (a *Activities) RecordSubmissionStatus(ctx context.Context, input RecordSubmissionStatusInput) (*db.Submission, error) {
	start := time.Now()
	defer a.recordDuration("RecordSubmissionStatus", start)

	sub, err := a.store.UpdateSubmissionStatus(ctx, db.UpdateSubmissionStatusParams{
		Signature: input.Signature,
		Status:    input.Status,
		Slot:      input.Slot,
		Error:     input.Error,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to record submission status",
			"signature", input.Signature,
			"status", input.Status,
			"error", err,
		)
		return nil, fmt.Errorf("failed to record submission status: %w", err)
	}

	if a.metrics != nil && staking.SubmissionStatus(sub.Status).Settled() {
		a.metrics.RecordSubmissionOutcome(sub.Action, sub.Status)
		a.metrics.RecordWorkflowDuration(ConfirmSubmissionWorkflowName, sub.Status, time.Since(sub.CreatedAt).Seconds())
	}

	a.logger.InfoContext(ctx, "submission status recorded",
		"signature", sub.Signature,
		"owner", sub.Owner,
		"action", sub.Action,
		"status", sub.Status,
	)

	return sub, nil
}

// PublishStakingEvent publishes a submission's current state to NATS.
func (a *Activities) PublishStakingEvent(ctx context.Context, input PublishStakingEventInput) error {
	start := time.Now()
	defer a.recordDuration("PublishStakingEvent", start)

	if a.publisher == nil {
		a.logger.DebugContext(ctx, "no publisher configured, skipping staking event")
		return nil
	}
	if input.Submission == nil {
		return fmt.Errorf("submission is required")
	}

	event := natspkg.FromSubmission(input.Submission)
	if err := a.publisher.PublishStakingEvent(ctx, event); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish staking event",
			"signature", event.Signature,
			"error", err,
		)
		return fmt.Errorf("failed to publish staking event: %w", err)
	}
	return nil
}

func (a *Activities) recordDuration(activity string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, time.Since(start).Seconds())
	}
}
