package queue

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamw/Draft-Commander/internal/jobs"
	"github.com/adamw/Draft-Commander/internal/marketplace"
	"github.com/adamw/Draft-Commander/internal/pipeline"
	"github.com/adamw/Draft-Commander/internal/store"
	"github.com/adamw/Draft-Commander/internal/templates"
)

type stubDrafter struct{}

func (stubDrafter) Draft(ctx context.Context, images []string) (marketplace.DraftResult, error) {
	return marketplace.DraftResult{Title: "Stub Listing", Description: "<p>stub</p>"}, nil
}

type stubClient struct{}

func (stubClient) SuggestCategory(ctx context.Context, query string) (marketplace.Category, error) {
	return marketplace.Category{ID: "1", Name: "Stub", RequiredAspects: map[string]string{}}, nil
}

func (stubClient) UploadImage(ctx context.Context, path string) (string, error) {
	return "https://images.example/" + filepath.Base(path), nil
}

func (stubClient) UpsertInventoryItem(ctx context.Context, sku string, item marketplace.InventoryItem) error {
	return nil
}

func (stubClient) CreateOffer(ctx context.Context, offer marketplace.Offer) (string, error) {
	return "offer-777", nil
}

func (stubClient) PublishOffer(ctx context.Context, offerID string) (string, error) {
	return "listing-777", nil
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *templates.Store) {
	t.Helper()
	base := t.TempDir()

	st, err := store.NewFileStore(filepath.Join(base, "queue_state.json"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tpl, err := templates.NewStore(filepath.Join(base, "templates.json"))
	require.NoError(t, err)

	exec := pipeline.NewExecutor(stubDrafter{}, stubClient{}, pipeline.Config{
		MaxAttempts:    2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
		StageTimeout:   5 * time.Second,
	})

	return NewManager(st, exec, tpl, cfg), tpl
}

func photoFolder(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01.jpg"), []byte("img"), 0o644))
	return dir
}

func TestEnqueueRejectsFoldersWithoutImages(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	empty := t.TempDir()
	_, err := m.Enqueue(empty, Options{})
	assert.Error(t, err)

	_, err = m.Enqueue(filepath.Join(empty, "missing"), Options{})
	assert.Error(t, err)
}

func TestEnqueueAppliesDefaultTemplate(t *testing.T) {
	m, tpl := newTestManager(t, Config{})

	job, err := m.Enqueue(photoFolder(t, "sensor"), Options{})
	require.NoError(t, err)

	// The seeded default template pre-fills price and condition.
	assert.Equal(t, "1", job.TemplateID)
	assert.Equal(t, "79.99", job.Price)
	assert.Equal(t, "USED_EXCELLENT", job.Condition)

	used, err := tpl.Get("1")
	require.NoError(t, err)
	assert.Equal(t, 1, used.UsageCount)
}

func TestEnqueueOptionsOverrideTemplate(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxAttempts: 3})

	auto := true
	job, err := m.Enqueue(photoFolder(t, "sensor"), Options{
		TemplateID:  "2",
		Price:       "5.00",
		Condition:   "NEW",
		AutoPublish: &auto,
		MaxAttempts: 7,
	})
	require.NoError(t, err)

	assert.Equal(t, "2", job.TemplateID)
	assert.Equal(t, "5.00", job.Price, "explicit price wins over the template's")
	assert.Equal(t, "NEW", job.Condition)
	assert.True(t, job.AutoPublish)
	assert.Equal(t, 7, job.MaxAttempts)
}

func TestEnqueueReturnsUniquePendingJobs(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	a, err := m.Enqueue(photoFolder(t, "one"), Options{})
	require.NoError(t, err)
	b, err := m.Enqueue(photoFolder(t, "two"), Options{})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, jobs.StatePending, a.State)
	assert.Equal(t, jobs.StatePending, b.State)
}

func TestPauseParksPendingJobs(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	job, err := m.Enqueue(photoFolder(t, "parked"), Options{})
	require.NoError(t, err)

	m.Pause()
	m.Pause() // twice is the same as once
	assert.True(t, m.Paused())

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatePaused, got.State)

	m.Resume()
	assert.False(t, m.Paused())

	got, err = m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatePending, got.State)
}

func TestResumeWithoutPauseIsNoOp(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	job, err := m.Enqueue(photoFolder(t, "steady"), Options{})
	require.NoError(t, err)

	m.Resume()
	assert.False(t, m.Paused())

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatePending, got.State)
}

func TestCancelPendingJob(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	job, err := m.Enqueue(photoFolder(t, "doomed"), Options{})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(job.ID))

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateCancelled, got.State)
	require.NotNil(t, got.Error)
	assert.Equal(t, jobs.KindCancelled, got.Error.Kind)

	// Cancelling again is rejected: the job is terminal.
	assert.Error(t, m.Cancel(job.ID))
}

func TestCancelRunningJobSetsFlag(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	job, err := m.Enqueue(photoFolder(t, "inflight"), Options{})
	require.NoError(t, err)

	// Claim it the way a worker would.
	claimed, err := m.store.ClaimPending()
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)

	require.NoError(t, m.Cancel(job.ID))

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateRunning, got.State, "running jobs are not yanked mid-stage")
	assert.True(t, got.CancelRequested)
}

func TestCancelUnknownJob(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	assert.ErrorIs(t, m.Cancel("NOPE1234"), store.ErrNotFound)
}

func TestRetryOnlyFailedJobs(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	job, err := m.Enqueue(photoFolder(t, "flaky"), Options{})
	require.NoError(t, err)

	assert.Error(t, m.Retry(job.ID), "pending jobs cannot be retried")

	failed, err := m.Get(job.ID)
	require.NoError(t, err)
	failed.State = jobs.StateFailed
	failed.Stage = jobs.StageOffer
	failed.Attempts = 2
	failed.Error = &jobs.JobError{Kind: jobs.KindTransient, Stage: jobs.StageOffer, Message: "timeout"}
	now := time.Now()
	failed.CompletedAt = &now
	require.NoError(t, m.store.Put(failed))

	require.NoError(t, m.Retry(job.ID))

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatePending, got.State)
	assert.Equal(t, jobs.StageOffer, got.Stage, "retry resumes at the failed stage")
	assert.Zero(t, got.Attempts)
	assert.Nil(t, got.Error)
	assert.Nil(t, got.CompletedAt)
}

func TestStats(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	a, err := m.Enqueue(photoFolder(t, "one"), Options{})
	require.NoError(t, err)
	_, err = m.Enqueue(photoFolder(t, "two"), Options{})
	require.NoError(t, err)
	require.NoError(t, m.Cancel(a.ID))

	stats, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats["total"])
	assert.Equal(t, 1, stats["pending"])
	assert.Equal(t, 1, stats["cancelled"])
}

func TestWorkersDrainQueue(t *testing.T) {
	m, _ := newTestManager(t, Config{
		WorkerCount:        2,
		PollInterval:       5 * time.Millisecond,
		DefaultAutoPublish: true,
	})

	var submitted []string
	for _, name := range []string{"one", "two", "three"} {
		job, err := m.Enqueue(photoFolder(t, name), Options{})
		require.NoError(t, err)
		submitted = append(submitted, job.ID)
	}

	m.Start()
	defer m.Stop()

	deadline := time.After(5 * time.Second)
	for {
		done := 0
		for _, id := range submitted {
			job, err := m.Get(id)
			require.NoError(t, err)
			if job.Terminal() {
				done++
			}
		}
		if done == len(submitted) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("queue did not drain in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	for _, id := range submitted {
		job, err := m.Get(id)
		require.NoError(t, err)
		assert.Equal(t, jobs.StateSucceeded, job.State)
		require.NotNil(t, job.Result)
		assert.Equal(t, "listing-777", job.Result.ListingID)
		assert.Equal(t, jobs.StageDone, job.Stage)
	}
}

// gatedDrafter blocks inside the drafting stage until released, so a test
// can act while the job is provably mid-stage.
type gatedDrafter struct {
	started chan struct{}
	release chan struct{}
}

func (d *gatedDrafter) Draft(ctx context.Context, images []string) (marketplace.DraftResult, error) {
	d.started <- struct{}{}
	<-d.release
	return marketplace.DraftResult{Title: "Gated Listing", Description: "<p>gated</p>"}, nil
}

func TestCancelDuringStageHonoredAtBoundary(t *testing.T) {
	base := t.TempDir()
	st, err := store.NewFileStore(filepath.Join(base, "queue_state.json"))
	require.NoError(t, err)
	tpl, err := templates.NewStore(filepath.Join(base, "templates.json"))
	require.NoError(t, err)

	drafter := &gatedDrafter{started: make(chan struct{}, 1), release: make(chan struct{})}
	var once sync.Once
	releaseStage := func() { once.Do(func() { close(drafter.release) }) }
	t.Cleanup(releaseStage) // a failed assertion must not leave Stop waiting on the gate
	exec := pipeline.NewExecutor(drafter, stubClient{}, pipeline.Config{
		MaxAttempts:    2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
		StageTimeout:   5 * time.Second,
	})
	m := NewManager(st, exec, tpl, Config{
		WorkerCount:        1,
		PollInterval:       5 * time.Millisecond,
		DefaultAutoPublish: true,
	})

	job, err := m.Enqueue(photoFolder(t, "inflight"), Options{})
	require.NoError(t, err)

	m.Start()
	defer m.Stop()

	select {
	case <-drafter.started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached the drafting stage")
	}

	// Cancel while the stage is in flight, then let it finish. The flag must
	// survive the progress write at the stage boundary so the job ends
	// Cancelled, not Succeeded.
	require.NoError(t, m.Cancel(job.ID))

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateRunning, got.State)
	assert.True(t, got.CancelRequested)

	releaseStage()

	deadline := time.After(5 * time.Second)
	for {
		got, err = m.Get(job.ID)
		require.NoError(t, err)
		if got.Terminal() {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never reached a terminal state, still %s", got.State)
		case <-time.After(10 * time.Millisecond):
		}
	}

	assert.Equal(t, jobs.StateCancelled, got.State)
	require.NotNil(t, got.Error)
	assert.Equal(t, jobs.KindCancelled, got.Error.Kind)
}

func TestOnUpdateNotifies(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	updates := make(chan *jobs.Job, 16)
	m.OnUpdate(func(j *jobs.Job) { updates <- j })

	job, err := m.Enqueue(photoFolder(t, "watched"), Options{})
	require.NoError(t, err)

	select {
	case got := <-updates:
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, jobs.StatePending, got.State)
	default:
		t.Fatal("expected a submission notification")
	}
}
