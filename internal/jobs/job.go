package jobs

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adamw/Draft-Commander/internal/marketplace"
)

// State represents the lifecycle state of a job.
type State string

const (
	StatePending        State = "pending"
	StateRunning        State = "running"
	StateSucceeded      State = "succeeded"
	StateSucceededDraft State = "succeeded_draft"
	StateFailed         State = "failed"
	StatePaused         State = "paused"
	StateCancelled      State = "cancelled"
)

// Stage represents the pipeline step currently in progress or last completed.
type Stage string

const (
	StageDrafting  Stage = "drafting"
	StageCategory  Stage = "category"
	StageImages    Stage = "image_upload"
	StageInventory Stage = "inventory"
	StageOffer     Stage = "offer"
	StagePublish   Stage = "publish"
	StageDone      Stage = "done"
)

// Stages is the pipeline order. StageDone is not an executable stage.
var Stages = []Stage{StageDrafting, StageCategory, StageImages, StageInventory, StageOffer, StagePublish}

// ErrorKind classifies a job failure.
type ErrorKind string

const (
	KindTransient       ErrorKind = "transient"
	KindValidation      ErrorKind = "validation"
	KindPersistence     ErrorKind = "persistence"
	KindPublishRejected ErrorKind = "publish_rejected"
	KindCancelled       ErrorKind = "cancelled"
)

// JobError is the recorded failure detail of a job.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
}

// Result holds the marketplace artifacts produced by a job.
type Result struct {
	SKU       string `json:"sku,omitempty"`
	OfferID   string `json:"offer_id,omitempty"`
	ListingID string `json:"listing_id,omitempty"`
}

// Checkpoint is the durable intermediate state of a partially executed
// pipeline.
type Checkpoint struct {
	Draft     *marketplace.DraftResult `json:"draft,omitempty"`
	Category  *marketplace.Category    `json:"category,omitempty"`
	ImageURLs []string                 `json:"image_urls,omitempty"`
}

// Job represents one request to turn a folder of photos into a listing.
type Job struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	FolderName string `json:"folder_name"`

	State State `json:"state"`
	Stage Stage `json:"stage"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	TemplateID  string `json:"template_id,omitempty"`
	AutoPublish bool   `json:"auto_publish"`
	Price       string `json:"price,omitempty"`
	Condition   string `json:"condition,omitempty"`

	CancelRequested bool `json:"cancel_requested,omitempty"`

	Result *Result   `json:"result,omitempty"`
	Error  *JobError `json:"error,omitempty"`

	// Checkpoint carries intermediate pipeline results so a job re-enqueued
	// at its current stage can resume without redoing earlier stages.
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`

	// Timing records elapsed seconds per completed stage.
	Timing map[string]float64 `json:"timing,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a Pending job for the given source folder.
func New(source string) *Job {
	now := time.Now()
	return &Job{
		ID:         strings.ToUpper(uuid.New().String()[:8]),
		Source:     source,
		FolderName: filepath.Base(source),
		State:      StatePending,
		Stage:      StageDrafting,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// String returns a string representation of the job.
func (j *Job) String() string {
	return fmt.Sprintf("Job{ID: %s, Folder: %s, State: %s, Stage: %s, Attempts: %d/%d}",
		j.ID, j.FolderName, j.State, j.Stage, j.Attempts, j.MaxAttempts)
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	switch j.State {
	case StateSucceeded, StateSucceededDraft, StateFailed, StateCancelled:
		return true
	}
	return false
}

// CanRetry reports whether an operator retry is allowed.
func (j *Job) CanRetry() bool {
	return j.State == StateFailed
}

// Clone returns a deep copy so callers can read a snapshot without holding
// any store lock.
func (j *Job) Clone() *Job {
	c := *j
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.Timing != nil {
		c.Timing = make(map[string]float64, len(j.Timing))
		for k, v := range j.Timing {
			c.Timing[k] = v
		}
	}
	if j.Checkpoint != nil {
		cp := Checkpoint{}
		if j.Checkpoint.Draft != nil {
			d := *j.Checkpoint.Draft
			d.ItemSpecifics = copyMap(j.Checkpoint.Draft.ItemSpecifics)
			cp.Draft = &d
		}
		if j.Checkpoint.Category != nil {
			cat := *j.Checkpoint.Category
			cat.RequiredAspects = copyMap(j.Checkpoint.Category.RequiredAspects)
			cp.Category = &cat
		}
		cp.ImageURLs = append([]string(nil), j.Checkpoint.ImageURLs...)
		c.Checkpoint = &cp
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var allowedTransitions = map[State]map[State]bool{
	StatePending: {
		StateRunning:   true,
		StatePaused:    true,
		StateCancelled: true,
	},
	StateRunning: {
		StateSucceeded:      true,
		StateSucceededDraft: true,
		StateFailed:         true,
		StatePaused:         true,
		StateCancelled:      true,
	},
	StatePaused: {
		StatePending:   true,
		StateCancelled: true,
	},
	StateFailed: {
		// Operator retry re-queues a failed job.
		StatePending: true,
	},
}

// CanTransition reports whether moving from one state to another is legal.
// Terminal states other than Failed admit no outgoing transitions.
func CanTransition(from, to State) bool {
	return allowedTransitions[from][to]
}

// NextStage returns the stage following s in pipeline order, or StageDone.
func NextStage(s Stage) Stage {
	for i, st := range Stages {
		if st == s && i+1 < len(Stages) {
			return Stages[i+1]
		}
	}
	return StageDone
}

// Backoff returns the delay before retry attempt n (1-based) using capped
// exponential growth: 2^(n-1) * base.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
