package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	j := New("/inbox/Dell Keyboard")

	assert.Len(t, j.ID, 8)
	assert.Equal(t, "Dell Keyboard", j.FolderName)
	assert.Equal(t, StatePending, j.State)
	assert.Equal(t, StageDrafting, j.Stage)
	assert.False(t, j.CreatedAt.IsZero())

	other := New("/inbox/Dell Keyboard")
	assert.NotEqual(t, j.ID, other.ID, "IDs are unique per submission")
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StatePending, StateRunning, true},
		{StatePending, StatePaused, true},
		{StatePending, StateCancelled, true},
		{StatePaused, StatePending, true},
		{StatePaused, StateCancelled, true},
		{StateRunning, StateSucceeded, true},
		{StateRunning, StateSucceededDraft, true},
		{StateRunning, StateFailed, true},
		{StateRunning, StateCancelled, true},
		{StateFailed, StatePending, true},

		{StateSucceeded, StateRunning, false},
		{StateSucceededDraft, StatePending, false},
		{StateCancelled, StatePending, false},
		{StatePending, StateSucceeded, false},
		{StatePaused, StateRunning, false},
	}

	for _, c := range cases {
		assert.Equalf(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTerminal(t *testing.T) {
	terminal := []State{StateSucceeded, StateSucceededDraft, StateFailed, StateCancelled}
	for _, s := range terminal {
		j := &Job{State: s}
		assert.Truef(t, j.Terminal(), "%s should be terminal", s)
	}

	for _, s := range []State{StatePending, StateRunning, StatePaused} {
		j := &Job{State: s}
		assert.Falsef(t, j.Terminal(), "%s should not be terminal", s)
	}
}

func TestCanRetry(t *testing.T) {
	assert.True(t, (&Job{State: StateFailed}).CanRetry())
	assert.False(t, (&Job{State: StateSucceededDraft}).CanRetry())
	assert.False(t, (&Job{State: StateCancelled}).CanRetry())
	assert.False(t, (&Job{State: StateRunning}).CanRetry())
}

func TestNextStage(t *testing.T) {
	assert.Equal(t, StageCategory, NextStage(StageDrafting))
	assert.Equal(t, StageImages, NextStage(StageCategory))
	assert.Equal(t, StagePublish, NextStage(StageOffer))
	assert.Equal(t, StageDone, NextStage(StagePublish))
	assert.Equal(t, StageDone, NextStage(StageDone))
}

func TestBackoff(t *testing.T) {
	base := time.Second
	max := 5 * time.Minute

	assert.Equal(t, time.Second, Backoff(1, base, max))
	assert.Equal(t, 2*time.Second, Backoff(2, base, max))
	assert.Equal(t, 4*time.Second, Backoff(3, base, max))
	assert.Equal(t, 8*time.Second, Backoff(4, base, max))

	// Far past the cap.
	assert.Equal(t, max, Backoff(30, base, max))
}

func TestClone(t *testing.T) {
	j := New("/inbox/widget")
	j.Result = &Result{SKU: "DC-AABBCCDD", OfferID: "offer-1"}
	j.Error = &JobError{Kind: KindTransient, Stage: StageOffer, Message: "timeout"}
	j.Timing = map[string]float64{"drafting": 1.5}
	j.Checkpoint = &Checkpoint{ImageURLs: []string{"https://img/1"}}
	now := time.Now()
	j.StartedAt = &now

	c := j.Clone()
	require.NotSame(t, j, c)

	c.Result.OfferID = "offer-2"
	c.Error.Message = "changed"
	c.Timing["drafting"] = 9
	c.Checkpoint.ImageURLs[0] = "https://img/other"

	assert.Equal(t, "offer-1", j.Result.OfferID)
	assert.Equal(t, "timeout", j.Error.Message)
	assert.Equal(t, 1.5, j.Timing["drafting"])
	assert.Equal(t, "https://img/1", j.Checkpoint.ImageURLs[0])
}
