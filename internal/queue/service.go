package queue

import (
	"github.com/adamw/Draft-Commander/internal/jobs"
	"github.com/adamw/Draft-Commander/internal/store"
)

// Service is the narrow entry point the API server, CLI, and NATS consumer
// share. Mutations take effect before the call returns; pipeline progress is
// asynchronous.
type Service struct {
	manager *Manager
}

func NewService(m *Manager) *Service {
	return &Service{manager: m}
}

// Submit enqueues a source folder and returns the new job's ID.
func (s *Service) Submit(folder string, opts Options) (string, error) {
	job, err := s.manager.Enqueue(folder, opts)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// Status returns the most recently durable snapshot of a job.
func (s *Service) Status(id string) (*jobs.Job, error) {
	return s.manager.Get(id)
}

// List returns job snapshots matching the filter.
func (s *Service) List(f store.Filter) ([]*jobs.Job, error) {
	return s.manager.List(f)
}

func (s *Service) Pause()  { s.manager.Pause() }
func (s *Service) Resume() { s.manager.Resume() }

func (s *Service) Paused() bool { return s.manager.Paused() }

// Retry re-queues a failed job with a fresh attempt budget.
func (s *Service) Retry(id string) error { return s.manager.Retry(id) }

// Cancel cancels a job, cooperatively if it is running.
func (s *Service) Cancel(id string) error { return s.manager.Cancel(id) }

// Stats returns per-state job counts.
func (s *Service) Stats() (map[string]int, error) { return s.manager.Stats() }
