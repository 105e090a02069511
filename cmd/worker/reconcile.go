package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/nftstake/service/db"
	"github.com/brojonat/nftstake/service/temporal"
)

const reconcileBatchSize = 100

type pendingLister interface {
	ListPendingSubmissions(ctx context.Context, olderThan time.Time, limit int32) ([]*db.Submission, error)
}

// reconciler restarts confirmation tracking for submissions that stayed
// unsettled past the confirmation timeout, e.g. after a worker outage.
type reconciler struct {
	store    pendingLister
	starter  temporal.ConfirmationStarter
	staleFor time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Run reconciles once immediately and then every interval until ctx is done.
func (r *reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.reconcileOnce(ctx); err != nil {
			r.logger.Warn("reconcile pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// reconcileOnce restarts one batch and returns how many were restarted.
func (r *reconciler) reconcileOnce(ctx context.Context) (int, error) {
	pending, err := r.store.ListPendingSubmissions(ctx, r.now().Add(-r.staleFor), reconcileBatchSize)
	if err != nil {
		return 0, err
	}

	restarted := 0
	for _, sub := range pending {
		workflowID, err := r.starter.StartConfirmation(ctx, temporal.ConfirmSubmissionInput{
			Signature: sub.Signature,
			Owner:     sub.Owner,
			Action:    sub.Action,
		})
		if err != nil {
			r.logger.Error("failed to restart confirmation",
				"signature", sub.Signature,
				"error", err,
			)
			continue
		}
		restarted++
		r.logger.Info("restarted confirmation",
			"signature", sub.Signature,
			"status", sub.Status,
			"workflow_id", workflowID,
		)
	}
	return restarted, nil
}
