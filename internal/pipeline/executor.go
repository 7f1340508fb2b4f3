// Package pipeline advances a single job through the listing stages. The
// executor proposes outcomes; it never writes to the job store itself, so
// the queue manager stays the only owner of state transitions.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/adamw/Draft-Commander/internal/jobs"
	"github.com/adamw/Draft-Commander/internal/logger"
	"github.com/adamw/Draft-Commander/internal/marketplace"
	"github.com/adamw/Draft-Commander/internal/metrics"
)

// Config holds the executor's tunables. Retry parameters apply per stage.
type Config struct {
	MaxAttempts      int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	StageTimeout     time.Duration
	MaxImages        int
	DefaultPrice     string
	DefaultCondition string
}

// Outcome is the terminal result the executor proposes to the manager.
type Outcome struct {
	State  jobs.State
	Result jobs.Result
	Err    *jobs.JobError
}

// Executor runs the stage machine against the external collaborators.
type Executor struct {
	drafter marketplace.Drafter
	client  marketplace.Client
	cfg     Config
}

func NewExecutor(drafter marketplace.Drafter, client marketplace.Client, cfg Config) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 5 * time.Minute
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 2 * time.Minute
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 12
	}
	return &Executor{drafter: drafter, client: client, cfg: cfg}
}

// run carries the intermediate pipeline state between stages.
type run struct {
	images    []string
	draft     marketplace.DraftResult
	category  marketplace.Category
	imageURLs []string
	sku       string
	offerID   string
	listingID string
}

// Run advances the job from its current stage to a terminal outcome.
// cancelled is polled at stage boundaries only — an in-flight remote call is
// allowed to finish or time out before cancellation is honored. advance is
// invoked after every successful stage so the manager can persist progress.
func (e *Executor) Run(ctx context.Context, job *jobs.Job, cancelled func() bool, advance func(*jobs.Job)) Outcome {
	log := logger.WithJobID(job.ID)
	r := restoreRun(job)

	start := stageIndex(job.Stage)
	for i := start; i < len(jobs.Stages); i++ {
		stage := jobs.Stages[i]

		if ctx.Err() != nil || cancelled() {
			log.Info().Str("stage", string(stage)).Msg("Cancellation honored at stage boundary")
			return Outcome{
				State:  jobs.StateCancelled,
				Result: r.result(),
				Err:    &jobs.JobError{Kind: jobs.KindCancelled, Stage: stage, Message: "cancelled by operator"},
			}
		}

		job.Stage = stage
		started := time.Now()
		err := e.runStage(ctx, job, stage, r)
		elapsed := time.Since(started)
		metrics.StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())

		if job.Timing == nil {
			job.Timing = map[string]float64{}
		}
		job.Timing[string(stage)] = elapsed.Seconds()

		if err != nil {
			kind := classify(err)

			// A publish failure must not discard the inventory item and
			// offer that already exist: report partial success with the
			// offer ID instead of a hard failure.
			if stage == jobs.StagePublish {
				log.Warn().Err(err).Str("offer_id", r.offerID).Msg("Publish rejected, keeping offer as draft")
				return Outcome{
					State:  jobs.StateSucceededDraft,
					Result: r.result(),
					Err:    &jobs.JobError{Kind: jobs.KindPublishRejected, Stage: stage, Message: err.Error()},
				}
			}

			log.Error().Err(err).
				Str("stage", string(stage)).
				Str("kind", string(kind)).
				Int("attempts", job.Attempts).
				Msg("Stage failed")
			return Outcome{
				State:  jobs.StateFailed,
				Result: r.result(),
				Err:    &jobs.JobError{Kind: kind, Stage: stage, Message: err.Error()},
			}
		}

		next := jobs.NextStage(stage)
		log.Info().
			Str("from_stage", string(stage)).
			Str("to_stage", string(next)).
			Str("state", string(jobs.StateRunning)).
			Float64("elapsed", elapsed.Seconds()).
			Msg("Stage complete")

		if stage == jobs.StageOffer && !job.AutoPublish {
			// Draft-only request: the offer exists, publication was never
			// asked for.
			return Outcome{State: jobs.StateSucceeded, Result: r.result()}
		}

		job.Stage = next
		job.Attempts = 0
		r.checkpoint(job)
		advance(job)
	}

	return Outcome{State: jobs.StateSucceeded, Result: r.result()}
}

// runStage executes one stage with the per-stage retry budget. The job's own
// MaxAttempts wins over the executor default when set. Transient failures
// back off exponentially (capped) and retry; anything else fails the stage
// on the first attempt.
func (e *Executor) runStage(ctx context.Context, job *jobs.Job, stage jobs.Stage, r *run) error {
	attempts := e.cfg.MaxAttempts
	if job.MaxAttempts > 0 {
		attempts = job.MaxAttempts
	}

	backoff := retry.WithCappedDuration(e.cfg.RetryMaxDelay, retry.NewExponential(e.cfg.RetryBaseDelay))
	backoff = retry.WithMaxRetries(uint64(attempts-1), backoff)

	job.Attempts = 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		job.Attempts++

		sctx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
		defer cancel()

		err := e.execStage(sctx, job, stage, r)
		if err == nil {
			return nil
		}
		if marketplace.IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (e *Executor) execStage(ctx context.Context, job *jobs.Job, stage jobs.Stage, r *run) error {
	switch stage {
	case jobs.StageDrafting:
		return e.stageDrafting(ctx, job, r)
	case jobs.StageCategory:
		return e.stageCategory(ctx, r)
	case jobs.StageImages:
		return e.stageImages(ctx, job, r)
	case jobs.StageInventory:
		return e.stageInventory(ctx, job, r)
	case jobs.StageOffer:
		return e.stageOffer(ctx, job, r)
	case jobs.StagePublish:
		return e.stagePublish(ctx, r)
	default:
		return fmt.Errorf("unknown stage: %s", stage)
	}
}

func (e *Executor) stageDrafting(ctx context.Context, job *jobs.Job, r *run) error {
	images, err := ListImages(job.Source, e.cfg.MaxImages)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("no images in source folder %s", job.Source)
	}
	r.images = images

	draft, err := e.drafter.Draft(ctx, images)
	if err != nil {
		return err
	}
	if draft.Title == "" {
		draft.Title = fallbackTitle(job.FolderName)
	}
	if draft.Description == "" {
		draft.Description = "<p>" + draft.Title + "</p><p>Please see photos for details.</p>"
	}
	r.draft = draft
	return nil
}

func (e *Executor) stageCategory(ctx context.Context, r *run) error {
	category, err := e.client.SuggestCategory(ctx, r.draft.Title)
	if err != nil {
		return err
	}
	r.category = category
	return nil
}

func (e *Executor) stageImages(ctx context.Context, job *jobs.Job, r *run) error {
	// Resumed jobs re-list the folder; image discovery is local and cheap.
	if len(r.images) == 0 {
		images, err := ListImages(job.Source, e.cfg.MaxImages)
		if err != nil {
			return err
		}
		r.images = images
	}

	urls := make([]string, 0, len(r.images))
	for _, img := range r.images {
		url, err := e.client.UploadImage(ctx, img)
		if err != nil {
			return err
		}
		urls = append(urls, url)
	}
	r.imageURLs = urls
	return nil
}

func (e *Executor) stageInventory(ctx context.Context, job *jobs.Job, r *run) error {
	if r.sku == "" {
		r.sku = "DC-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	}

	aspects := make(map[string][]string, len(r.category.RequiredAspects))
	for name, fallback := range r.category.RequiredAspects {
		if v, ok := r.draft.ItemSpecifics[name]; ok && v != "" {
			aspects[name] = []string{v}
		} else {
			aspects[name] = []string{fallback}
		}
	}
	for name, v := range r.draft.ItemSpecifics {
		if _, ok := aspects[name]; !ok && v != "" {
			aspects[name] = []string{v}
		}
	}
	if _, ok := aspects["Brand"]; !ok {
		aspects["Brand"] = []string{"Unbranded"}
	}

	condition := r.draft.Condition
	if condition == "" {
		condition = job.Condition
	}
	if condition == "" {
		condition = e.cfg.DefaultCondition
	}

	title := r.draft.Title
	if utf8.RuneCountInString(title) > 80 {
		title = string([]rune(title)[:80])
	}

	return e.client.UpsertInventoryItem(ctx, r.sku, marketplace.InventoryItem{
		Title:       title,
		Description: r.draft.Description,
		Condition:   condition,
		Aspects:     aspects,
		ImageURLs:   r.imageURLs,
		Quantity:    1,
	})
}

func (e *Executor) stageOffer(ctx context.Context, job *jobs.Job, r *run) error {
	price := job.Price
	if price == "" {
		price = r.draft.SuggestedPrice
	}
	if price == "" {
		price = e.cfg.DefaultPrice
	}

	offerID, err := e.client.CreateOffer(ctx, marketplace.Offer{
		SKU:        r.sku,
		CategoryID: r.category.ID,
		Price:      price,
		Currency:   "USD",
		Quantity:   1,
	})
	if err != nil {
		return err
	}
	r.offerID = offerID
	return nil
}

func (e *Executor) stagePublish(ctx context.Context, r *run) error {
	listingID, err := e.client.PublishOffer(ctx, r.offerID)
	if err != nil {
		return err
	}
	r.listingID = listingID
	return nil
}

func (r *run) result() jobs.Result {
	return jobs.Result{SKU: r.sku, OfferID: r.offerID, ListingID: r.listingID}
}

// checkpoint stores the intermediate results on the job so a later resume
// can pick up at the current stage instead of redoing remote work.
func (r *run) checkpoint(job *jobs.Job) {
	cp := &jobs.Checkpoint{ImageURLs: r.imageURLs}
	if r.draft.Title != "" {
		d := r.draft
		cp.Draft = &d
	}
	if r.category.ID != "" {
		c := r.category
		cp.Category = &c
	}
	job.Checkpoint = cp
	if r.sku != "" || r.offerID != "" || r.listingID != "" {
		res := r.result()
		job.Result = &res
	}
}

// restoreRun rebuilds the pipeline state from a job's persisted checkpoint.
func restoreRun(job *jobs.Job) *run {
	r := &run{}
	if cp := job.Checkpoint; cp != nil {
		if cp.Draft != nil {
			r.draft = *cp.Draft
		}
		if cp.Category != nil {
			r.category = *cp.Category
		}
		r.imageURLs = cp.ImageURLs
	}
	if job.Result != nil {
		r.sku = job.Result.SKU
		r.offerID = job.Result.OfferID
		r.listingID = job.Result.ListingID
	}
	return r
}

// classify maps any collaborator error into the error taxonomy. Transient
// failures are retried by runStage; everything else is treated as a
// validation failure that retrying cannot fix.
func classify(err error) jobs.ErrorKind {
	if marketplace.IsTransient(err) {
		return jobs.KindTransient
	}
	return jobs.KindValidation
}

func stageIndex(s jobs.Stage) int {
	for i, st := range jobs.Stages {
		if st == s {
			return i
		}
	}
	return 0
}

func fallbackTitle(folderName string) string {
	words := strings.FieldsFunc(folderName, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
