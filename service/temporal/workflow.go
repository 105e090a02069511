package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/nftstake/service/db"
	"github.com/brojonat/nftstake/service/staking"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

const (
	// ConfirmSubmissionWorkflowName is the registered workflow type.
	ConfirmSubmissionWorkflowName = "ConfirmSubmissionWorkflow"

	defaultConfirmPollInterval = 2 * time.Second
	defaultConfirmTimeout      = 2 * time.Minute

	// confirmationTimeoutError is recorded when a signature never settles.
	confirmationTimeoutError = "confirmation timeout"
)

// ConfirmSubmissionInput identifies a submitted transaction to track.
type ConfirmSubmissionInput struct {
	Signature    string        `json:"signature"`
	Owner        string        `json:"owner"`
	Action       string        `json:"action"`
	PollInterval time.Duration `json:"poll_interval"`
	Timeout      time.Duration `json:"timeout"`
}

// ConfirmSubmissionResult is the settled state of a submission.
type ConfirmSubmissionResult struct {
	Signature string  `json:"signature"`
	Status    string  `json:"status"`
	Slot      *int64  `json:"slot,omitempty"`
	Polls     int     `json:"polls"`
	Error     *string `json:"error,omitempty"`
}

// ConfirmSubmissionWorkflow polls the cluster for a signature until it is
// confirmed, finalized or failed, or until the timeout elapses. Every status
// change is written to the submissions table and published to NATS.
// A signature that never settles is recorded as failed with "confirmation timeout".
func ConfirmSubmissionWorkflow(ctx workflow.Context, input ConfirmSubmissionInput) (*ConfirmSubmissionResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ConfirmSubmissionWorkflow started",
		"signature", input.Signature,
		"action", input.Action,
	)

	pollInterval := input.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultConfirmPollInterval
	}
	timeout := input.Timeout
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}

	result := &ConfirmSubmissionResult{
		Signature: input.Signature,
		Status:    string(staking.StatusSubmitted),
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})

	deadline := workflow.Now(ctx).Add(timeout)

	for {
		var status *CheckSignatureStatusResult
		err := workflow.ExecuteActivity(ctx, a.CheckSignatureStatus, CheckSignatureStatusInput{
			Signature: input.Signature,
		}).Get(ctx, &status)
		if err != nil {
			errMsg := fmt.Sprintf("failed to check signature status: %v", err)
			result.Error = &errMsg
			return result, fmt.Errorf("failed to check signature status: %w", err)
		}
		result.Polls++

		next := RecordSubmissionStatusInput{
			Signature: input.Signature,
			Status:    status.Status,
			Slot:      status.Slot,
			Error:     status.Error,
		}

		settled := staking.SubmissionStatus(status.Status).Settled()
		if !settled && !workflow.Now(ctx).Before(deadline) {
			logger.Warn("signature did not settle before timeout",
				"signature", input.Signature,
				"last_status", status.Status,
			)
			errMsg := confirmationTimeoutError
			next.Status = string(staking.StatusFailed)
			next.Error = &errMsg
			settled = true
		}

		if next.Status != result.Status {
			if err := recordAndPublish(ctx, next); err != nil {
				errMsg := err.Error()
				result.Error = &errMsg
				return result, err
			}
			result.Status = next.Status
			result.Slot = next.Slot
			result.Error = next.Error
		}

		if settled {
			break
		}

		if err := workflow.Sleep(ctx, pollInterval); err != nil {
			return result, fmt.Errorf("confirmation sleep interrupted: %w", err)
		}
	}

	logger.Info("ConfirmSubmissionWorkflow finished",
		"signature", input.Signature,
		"status", result.Status,
		"polls", result.Polls,
	)

	return result, nil
}

// recordAndPublish persists a status change. Confirmed and terminal statuses
// are also published; a publish failure is logged and does not fail the
// workflow.
func recordAndPublish(ctx workflow.Context, input RecordSubmissionStatusInput) error {
	logger := workflow.GetLogger(ctx)

	var sub *db.Submission
	err := workflow.ExecuteActivity(ctx, a.RecordSubmissionStatus, input).Get(ctx, &sub)
	if err != nil {
		return fmt.Errorf("failed to record submission status: %w", err)
	}

	if !staking.SubmissionStatus(input.Status).Settled() {
		return nil
	}

	err = workflow.ExecuteActivity(ctx, a.PublishStakingEvent, PublishStakingEventInput{
		Submission: sub,
	}).Get(ctx, nil)
	if err != nil {
		logger.Warn("failed to publish staking event",
			"signature", input.Signature,
			"status", input.Status,
			"error", err,
		)
	}
	return nil
}
