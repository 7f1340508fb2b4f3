package store

import (
	"errors"
	"time"

	"github.com/adamw/Draft-Commander/internal/jobs"
)

// ErrNotFound is returned when no job exists for the requested ID.
var ErrNotFound = errors.New("job not found")

// Filter selects jobs for List. Zero values match everything.
type Filter struct {
	States        []jobs.State
	CreatedAfter  time.Time
	CreatedBefore time.Time
	// Reverse sorts newest-first instead of the default created_at ascending.
	Reverse bool
}

// Match reports whether a job passes the filter.
func (f Filter) Match(j *jobs.Job) bool {
	if len(f.States) > 0 {
		ok := false
		for _, s := range f.States {
			if j.State == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.CreatedAfter.IsZero() && j.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && j.CreatedAt.After(f.CreatedBefore) {
		return false
	}
	return true
}

// JobStore is durable keyed storage of job records.
//
// Put persists before returning; a Put error means the caller must not assume
// the update survived. ClaimPending atomically selects the oldest Pending job
// and marks it Running; it is the mutual-exclusion point guaranteeing
// at-most-one worker per job. Update applies fn to the stored record under
// the store's exclusive lock and persists the result, returning a snapshot;
// fn sees the current stored state, so read-modify-write sequences through
// Update cannot interleave with a concurrent claim or another Update. An
// error from fn aborts the update and leaves the record untouched.
type JobStore interface {
	Put(job *jobs.Job) error
	Get(id string) (*jobs.Job, error)
	List(f Filter) ([]*jobs.Job, error)
	ClaimPending() (*jobs.Job, error)
	Update(id string, fn func(*jobs.Job) error) (*jobs.Job, error)
	Close() error
}
