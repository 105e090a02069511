package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/nftstake/service/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "staking.Owner111", Subject("Owner111"))
}

func TestFromSubmission(t *testing.T) {
	mint := "Mint111"
	slot := int64(42)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	event := FromSubmission(&db.Submission{
		Signature: "sig1",
		Owner:     "owner1",
		Action:    "stake",
		Mint:      &mint,
		UserPool:  "pool1",
		Status:    "confirmed",
		Slot:      &slot,
		CreatedAt: created,
	})

	assert.Equal(t, "sig1", event.Signature)
	assert.Equal(t, "owner1", event.Owner)
	assert.Equal(t, "confirmed", event.Status)
	assert.Equal(t, &mint, event.Mint)
	assert.Equal(t, created, event.SubmittedAt)
	assert.WithinDuration(t, time.Now(), event.PublishedAt, 5*time.Second)

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"user_pool":"pool1"`)
	assert.NotContains(t, string(data), `"error"`)
}

func TestMockPublisher(t *testing.T) {
	ctx := context.Background()
	m := NewMockPublisher()

	require.NoError(t, m.PublishStakingEvent(ctx, &StakingEvent{Signature: "a", Owner: "o1"}))
	require.NoError(t, m.PublishStakingEvent(ctx, &StakingEvent{Signature: "b", Owner: "o2"}))
	assert.Len(t, m.GetPublishedEvents(), 2)
	assert.Len(t, m.GetPublishedEventsForOwner("o1"), 1)

	m.SetPublishError(errors.New("nats down"))
	assert.Error(t, m.PublishStakingEvent(ctx, &StakingEvent{Signature: "c", Owner: "o1"}))
	assert.Len(t, m.GetPublishedEvents(), 2)

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
}
