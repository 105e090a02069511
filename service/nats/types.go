package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/nftstake/service/db"
)

// StakingEvent is published to "staking.{owner}" whenever a tracked
// submission changes status.
type StakingEvent struct {
	Signature string  `json:"signature"`
	Owner     string  `json:"owner"`
	Action    string  `json:"action"`
	Mint      *string `json:"mint,omitempty"`
	UserPool  string  `json:"user_pool"`

	Status string  `json:"status"`
	Slot   *int64  `json:"slot,omitempty"`
	Error  *string `json:"error,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject an event for owner is published on.
func Subject(owner string) string {
	return fmt.Sprintf("%s.%s", subjectPrefix, owner)
}

// FromSubmission converts a stored submission to a StakingEvent for publishing.
func FromSubmission(sub *db.Submission) *StakingEvent {
	return &StakingEvent{
		Signature:   sub.Signature,
		Owner:       sub.Owner,
		Action:      sub.Action,
		Mint:        sub.Mint,
		UserPool:    sub.UserPool,
		Status:      sub.Status,
		Slot:        sub.Slot,
		Error:       sub.Error,
		SubmittedAt: sub.CreatedAt,
		PublishedAt: time.Now().UTC(),
	}
}
