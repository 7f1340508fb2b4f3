// Package queue owns job state transitions: ingestion, FIFO dispatch to a
// bounded worker pool, pause/resume, cooperative cancellation, and operator
// retry. The pipeline executor only proposes outcomes; every transition is
// applied here, through the job store.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adamw/Draft-Commander/internal/jobs"
	"github.com/adamw/Draft-Commander/internal/logger"
	"github.com/adamw/Draft-Commander/internal/metrics"
	"github.com/adamw/Draft-Commander/internal/pipeline"
	"github.com/adamw/Draft-Commander/internal/store"
	"github.com/adamw/Draft-Commander/internal/templates"
)

// Options control a single submission.
type Options struct {
	TemplateID  string
	AutoPublish *bool
	Price       string
	Condition   string
	MaxAttempts int
}

// Config holds the manager's tunables.
type Config struct {
	WorkerCount        int
	PollInterval       time.Duration
	MaxAttempts        int
	DefaultAutoPublish bool
}

// Manager orchestrates the job queue.
type Manager struct {
	store     store.JobStore
	exec      *pipeline.Executor
	templates *templates.Store
	cfg       Config

	mu     sync.Mutex
	paused bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// onUpdate is invoked with a job snapshot after every persisted change,
	// for live status consumers (websocket hub). May be nil.
	onUpdate func(*jobs.Job)
}

func NewManager(st store.JobStore, exec *pipeline.Executor, tpl *templates.Store, cfg Config) *Manager {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     st,
		exec:      exec,
		templates: tpl,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// OnUpdate registers the job-update callback. Call before Start.
func (m *Manager) OnUpdate(fn func(*jobs.Job)) {
	m.onUpdate = fn
}

// Start launches the dispatch workers.
func (m *Manager) Start() {
	logger.Logger.Info().Int("worker_count", m.cfg.WorkerCount).Msg("Starting queue workers")
	metrics.ActiveWorkers.Set(float64(m.cfg.WorkerCount))

	for i := 0; i < m.cfg.WorkerCount; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
}

// Stop shuts the workers down, waiting for in-flight jobs to finish their
// current stage.
func (m *Manager) Stop() {
	logger.Logger.Info().Msg("Stopping queue workers")
	m.cancel()
	m.wg.Wait()
	metrics.ActiveWorkers.Set(0)
	logger.Logger.Info().Msg("Queue workers stopped")
}

// Enqueue validates the source folder, builds a Pending job (pre-filled from
// a template when one applies), persists it, and returns immediately.
func (m *Manager) Enqueue(source string, opts Options) (*jobs.Job, error) {
	images, err := pipeline.ListImages(source, 0)
	if err != nil {
		return nil, fmt.Errorf("unreadable source folder: %w", err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("source folder %s contains no images", source)
	}

	job := jobs.New(source)
	job.MaxAttempts = m.cfg.MaxAttempts
	if opts.MaxAttempts > 0 {
		job.MaxAttempts = opts.MaxAttempts
	}
	job.AutoPublish = m.cfg.DefaultAutoPublish
	if opts.AutoPublish != nil {
		job.AutoPublish = *opts.AutoPublish
	}

	m.applyTemplate(job, opts.TemplateID)
	if opts.Price != "" {
		job.Price = opts.Price
	}
	if opts.Condition != "" {
		job.Condition = opts.Condition
	}

	if err := m.store.Put(job); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	metrics.JobsSubmittedTotal.Inc()
	m.updateQueueDepth()
	log := logger.WithJobID(job.ID)
	log.Info().Str("folder", job.FolderName).Bool("auto_publish", job.AutoPublish).Msg("Job submitted")
	m.notify(job)
	return job.Clone(), nil
}

// applyTemplate pre-fills listing fields from the named template, or from
// the default template when none is named. Applying a template counts as a
// use.
func (m *Manager) applyTemplate(job *jobs.Job, templateID string) {
	if m.templates == nil {
		return
	}
	if templateID == "" {
		d := m.templates.Default()
		if d == nil {
			return
		}
		templateID = d.ID
	}

	fields, err := m.templates.Use(templateID)
	if err != nil {
		logger.WithJobID(job.ID).Warn().Err(err).Str("template_id", templateID).Msg("Template not applied")
		return
	}
	job.TemplateID = templateID
	if v := fields["default_price"]; v != "" {
		job.Price = v
	}
	if v := fields["condition"]; v != "" {
		job.Condition = v
	}
}

// Pause stops dispatching and parks Pending jobs as Paused. Jobs already
// Running finish their pipeline undisturbed. Calling Pause twice is the same
// as calling it once.
func (m *Manager) Pause() {
	m.mu.Lock()
	if m.paused {
		m.mu.Unlock()
		return
	}
	m.paused = true
	m.mu.Unlock()

	m.transitionAll(jobs.StatePending, jobs.StatePaused)
	logger.Logger.Info().Msg("Queue paused")
}

// Resume re-enables dispatch and returns Paused jobs to Pending. Without a
// prior Pause it is a no-op.
func (m *Manager) Resume() {
	m.mu.Lock()
	if !m.paused {
		m.mu.Unlock()
		return
	}
	m.paused = false
	m.mu.Unlock()

	m.transitionAll(jobs.StatePaused, jobs.StatePending)
	logger.Logger.Info().Msg("Queue resumed")
}

// Paused reports whether dispatch is currently paused.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Cancel cancels a job. Pending and Paused jobs transition immediately;
// Running jobs get a cancellation request honored at the next stage
// boundary. Terminal jobs cannot be cancelled. The decision runs inside the
// store's Update so it cannot race a worker claiming or finishing the job.
func (m *Manager) Cancel(id string) error {
	job, err := m.store.Update(id, func(j *jobs.Job) error {
		switch j.State {
		case jobs.StatePending, jobs.StatePaused:
			j.State = jobs.StateCancelled
			j.Error = &jobs.JobError{Kind: jobs.KindCancelled, Stage: j.Stage, Message: "cancelled by operator"}
			now := time.Now()
			j.CompletedAt = &now
			return nil
		case jobs.StateRunning:
			j.CancelRequested = true
			return nil
		default:
			return fmt.Errorf("job %s is already %s", id, j.State)
		}
	})
	if err != nil {
		return err
	}

	if job.State == jobs.StateCancelled {
		metrics.JobsCancelledTotal.Inc()
		m.updateQueueDepth()
		logger.WithJobID(id).Info().Msg("Job cancelled")
		m.notify(job)
		return nil
	}
	logger.WithJobID(id).Info().Msg("Cancellation requested, will stop at next stage boundary")
	return nil
}

// Retry re-queues a Failed job at its current stage with a fresh attempt
// budget.
func (m *Manager) Retry(id string) error {
	job, err := m.store.Update(id, func(j *jobs.Job) error {
		if !j.CanRetry() {
			return fmt.Errorf("job %s is %s, only failed jobs can be retried", id, j.State)
		}
		j.State = jobs.StatePending
		j.Attempts = 0
		j.Error = nil
		j.CancelRequested = false
		j.CompletedAt = nil
		return nil
	})
	if err != nil {
		return err
	}

	m.updateQueueDepth()
	logger.WithJobID(id).Info().Str("stage", string(job.Stage)).Msg("Job re-queued for retry")
	m.notify(job)
	return nil
}

// Get returns a job snapshot.
func (m *Manager) Get(id string) (*jobs.Job, error) {
	return m.store.Get(id)
}

// List returns job snapshots matching the filter.
func (m *Manager) List(f store.Filter) ([]*jobs.Job, error) {
	return m.store.List(f)
}

// Stats returns per-state job counts.
func (m *Manager) Stats() (map[string]int, error) {
	all, err := m.store.List(store.Filter{})
	if err != nil {
		return nil, err
	}
	stats := map[string]int{"total": len(all)}
	for _, j := range all {
		stats[string(j.State)]++
	}
	return stats, nil
}

func (m *Manager) worker(id int) {
	defer m.wg.Done()

	log := logger.Logger.With().Int("worker_id", id).Logger()
	log.Info().Msg("Worker started")

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			log.Info().Msg("Worker shutting down")
			return
		case <-ticker.C:
			if m.Paused() {
				continue
			}
			job, err := m.store.ClaimPending()
			if err != nil {
				log.Error().Err(err).Msg("Error claiming pending job")
				continue
			}
			if job != nil {
				m.process(&log, job)
			}
		}
	}
}

// process runs one claimed job through the executor and applies the
// proposed outcome.
func (m *Manager) process(log *zerolog.Logger, job *jobs.Job) {
	log.Info().
		Str("job_id", job.ID).
		Str("folder", job.FolderName).
		Str("stage", string(job.Stage)).
		Msg("Processing job")
	m.updateQueueDepth()
	m.notify(job)

	outcome := m.exec.Run(m.ctx, job,
		func() bool { return m.cancelRequested(job.ID) },
		func(j *jobs.Job) {
			// Durable progress between stages, merged into the stored record
			// so a cancellation request that arrived mid-stage survives the
			// write. A failed write is logged but does not stop the
			// pipeline; the terminal write below decides whether the job's
			// fate survived.
			snap := j.Clone()
			if _, err := m.store.Update(snap.ID, func(stored *jobs.Job) error {
				stored.Stage = snap.Stage
				stored.Attempts = snap.Attempts
				stored.Timing = snap.Timing
				stored.Checkpoint = snap.Checkpoint
				stored.Result = snap.Result
				return nil
			}); err != nil {
				logger.WithJobID(j.ID).Error().Err(err).Msg("Stage progress not persisted")
			}
			m.notify(j)
		})

	m.applyOutcome(job, outcome)
}

func (m *Manager) applyOutcome(job *jobs.Job, outcome pipeline.Outcome) {
	log := logger.WithJobID(job.ID)
	snap := job.Clone()

	stored, err := m.store.Update(snap.ID, func(j *jobs.Job) error {
		state := outcome.State
		if !jobs.CanTransition(j.State, state) {
			log.Error().
				Str("from", string(j.State)).
				Str("to", string(state)).
				Msg("Executor proposed an illegal transition")
			if j.Terminal() {
				return fmt.Errorf("job %s is already %s", j.ID, j.State)
			}
			state = jobs.StateFailed
		}
		j.State = state
		j.Stage = snap.Stage
		j.Error = outcome.Err
		j.Timing = snap.Timing
		j.Checkpoint = snap.Checkpoint
		if outcome.Result != (jobs.Result{}) {
			res := outcome.Result
			j.Result = &res
		}
		now := time.Now()
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		// The operator is warned that the terminal state may not survive a
		// restart.
		log.Error().Err(err).Str("state", string(outcome.State)).Msg("Terminal state not persisted")
		return
	}
	job = stored

	switch job.State {
	case jobs.StateSucceeded:
		metrics.JobsPublishedTotal.Inc()
		listing := ""
		if job.Result != nil {
			listing = job.Result.ListingID
		}
		log.Info().Str("listing_id", listing).Msg("Job completed")
	case jobs.StateSucceededDraft:
		metrics.JobsDraftedTotal.Inc()
		offer := ""
		if job.Result != nil {
			offer = job.Result.OfferID
		}
		log.Info().Str("offer_id", offer).Msg("Job completed as unpublished draft")
	case jobs.StateFailed:
		metrics.JobsFailedTotal.Inc()
		log.Error().Interface("error", job.Error).Msg("Job failed")
	case jobs.StateCancelled:
		metrics.JobsCancelledTotal.Inc()
		log.Info().Msg("Job cancelled")
	}

	m.updateQueueDepth()
	m.notify(job)
}

func (m *Manager) cancelRequested(id string) bool {
	j, err := m.store.Get(id)
	return err == nil && j.CancelRequested
}

// transitionAll moves every job in from-state to to-state. Each move
// re-checks the state inside the store's Update, so a job claimed by a
// worker between the List and the write is skipped, not clobbered.
func (m *Manager) transitionAll(from, to jobs.State) {
	list, err := m.store.List(store.Filter{States: []jobs.State{from}})
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Cannot list jobs for bulk transition")
		return
	}
	for _, j := range list {
		updated, err := m.store.Update(j.ID, func(stored *jobs.Job) error {
			if stored.State != from {
				return fmt.Errorf("job %s moved to %s", stored.ID, stored.State)
			}
			stored.State = to
			return nil
		})
		if err != nil {
			logger.WithJobID(j.ID).Warn().Err(err).Msg("Bulk transition skipped")
			continue
		}
		m.notify(updated)
	}
	m.updateQueueDepth()
}

func (m *Manager) updateQueueDepth() {
	list, err := m.store.List(store.Filter{States: []jobs.State{jobs.StatePending}})
	if err != nil {
		return
	}
	metrics.QueueDepth.Set(float64(len(list)))
}

func (m *Manager) notify(job *jobs.Job) {
	if m.onUpdate != nil {
		m.onUpdate(job.Clone())
	}
}
