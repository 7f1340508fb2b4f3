package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/adamw/Draft-Commander/internal/jobs"
	"github.com/adamw/Draft-Commander/internal/logger"
)

// FileStore keeps the full job set in memory and persists it to a single
// JSON state file. Writes go to a temp file followed by an atomic rename so
// a crash mid-write never leaves a truncated state file behind.
type FileStore struct {
	mu   sync.Mutex
	path string
	jobs map[string]*jobs.Job
}

type fileState struct {
	SavedAt time.Time   `json:"saved_at"`
	Jobs    []*jobs.Job `json:"jobs"`
}

// NewFileStore loads (or creates) the state file at path. A corrupt or
// unreadable file is logged and replaced by an empty queue rather than
// refusing to start. Jobs that were Running when the previous process died
// are reset to Pending so they get picked up again.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	s := &FileStore{path: path, jobs: make(map[string]*jobs.Job)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		logger.Logger.Error().Err(err).Str("path", path).Msg("Cannot read queue state, starting empty")
		return s, nil
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Logger.Error().Err(err).Str("path", path).Msg("Corrupted queue state file, starting empty")
		return s, nil
	}

	reset := 0
	for _, j := range state.Jobs {
		if j.State == jobs.StateRunning {
			j.State = jobs.StatePending
			j.UpdatedAt = time.Now()
			reset++
		}
		s.jobs[j.ID] = j
	}
	logger.Logger.Info().Int("jobs", len(s.jobs)).Int("reset", reset).Msg("Loaded queue state")
	return s, nil
}

// Put inserts or replaces a job and persists the full state before returning.
func (s *FileStore) Put(job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.UpdatedAt = time.Now()
	s.jobs[job.ID] = job.Clone()
	return s.persistLocked()
}

// Get returns a snapshot of the job or ErrNotFound.
func (s *FileStore) Get(id string) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

// List returns snapshots matching the filter, ordered by created_at ascending
// unless the filter reverses the sort.
func (s *FileStore) List(f Filter) ([]*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*jobs.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if f.Match(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if f.Reverse {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

// ClaimPending marks the oldest Pending job Running and returns a snapshot of
// it, or nil when no job is dispatchable. The check-and-mark happens under
// the store lock, so concurrent claimers can never both win the same job.
func (s *FileStore) ClaimPending() (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *jobs.Job
	for _, j := range s.jobs {
		if j.State != jobs.StatePending {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}

	now := time.Now()
	oldest.State = jobs.StateRunning
	oldest.StartedAt = &now
	oldest.UpdatedAt = now
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return oldest.Clone(), nil
}

// Update applies fn to the stored record under the store lock and persists
// the result. fn runs against a copy, so an error from fn leaves the stored
// job untouched.
func (s *FileStore) Update(id string, fn func(*jobs.Job) error) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	c := j.Clone()
	if err := fn(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Now()
	s.jobs[id] = c
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

func (s *FileStore) Close() error { return nil }

// persistLocked rewrites the state file. Caller holds the lock; the write is
// local and small, so holding it across the I/O is acceptable.
func (s *FileStore) persistLocked() error {
	list := make([]*jobs.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		list = append(list, j)
	}
	sort.Slice(list, func(a, b int) bool { return list[a].CreatedAt.Before(list[b].CreatedAt) })

	data, err := json.MarshalIndent(fileState{SavedAt: time.Now(), Jobs: list}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".queue-state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
