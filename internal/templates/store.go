// Package templates manages reusable listing presets persisted as a single
// JSON collection: loaded fully at startup, rewritten fully on each mutation.
package templates

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adamw/Draft-Commander/internal/logger"
)

// ErrNotFound is returned when no template exists for the requested ID.
var ErrNotFound = errors.New("template not found")

// Template is a reusable listing field preset.
type Template struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Fields      map[string]string `json:"fields"`
	IsDefault   bool              `json:"isDefault"`
	IsFavorite  bool              `json:"isFavorite"`
	UsageCount  int               `json:"usageCount"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Patch is a partial template update. Nil fields are left unchanged.
type Patch struct {
	Name        *string           `json:"name,omitempty"`
	Category    *string           `json:"category,omitempty"`
	Description *string           `json:"description,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	IsDefault   *bool             `json:"isDefault,omitempty"`
	IsFavorite  *bool             `json:"isFavorite,omitempty"`
}

// Store is a thread-safe template collection backed by one JSON file.
// The single-default invariant (at most one IsDefault template) is enforced
// inside the store lock.
type Store struct {
	mu        sync.Mutex
	path      string
	templates []*Template
}

// NewStore loads the collection from path. A corrupt or unreadable file is
// logged and replaced with an empty collection; an empty backing store is
// seeded once with the built-in starter set.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create templates directory: %w", err)
	}

	s := &Store{path: path}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run.
	case err != nil:
		logger.Logger.Error().Err(err).Str("path", path).Msg("Cannot read templates, starting empty")
	default:
		if jsonErr := json.Unmarshal(data, &s.templates); jsonErr != nil {
			logger.Logger.Error().Err(jsonErr).Str("path", path).Msg("Corrupted templates file, starting empty")
			s.templates = nil
		}
	}

	if len(s.templates) == 0 {
		s.templates = seedTemplates()
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		logger.Logger.Info().Int("count", len(s.templates)).Msg("Seeded starter templates")
	}
	return s, nil
}

// Add appends a template, assigning an ID if absent. Setting IsDefault clears
// the flag on every existing template first.
func (s *Store) Add(t *Template) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()[:8]
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Fields == nil {
		t.Fields = map[string]string{}
	}
	if t.IsDefault {
		s.clearDefaultsLocked()
	}
	s.templates = append(s.templates, t)
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return cloneTemplate(t), nil
}

// Update merges a patch into the template with the given ID.
func (s *Store) Update(id string, p Patch) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(id)
	if t == nil {
		return nil, ErrNotFound
	}

	if p.IsDefault != nil && *p.IsDefault && !t.IsDefault {
		s.clearDefaultsLocked()
	}
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Fields != nil {
		t.Fields = p.Fields
	}
	if p.IsDefault != nil {
		t.IsDefault = *p.IsDefault
	}
	if p.IsFavorite != nil {
		t.IsFavorite = *p.IsFavorite
	}
	t.UpdatedAt = time.Now()

	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return cloneTemplate(t), nil
}

// Delete removes a template by ID and reports whether one was removed.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.templates {
		if t.ID == id {
			s.templates = append(s.templates[:i], s.templates[i+1:]...)
			if err := s.persistLocked(); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// Get returns a copy of the template with the given ID.
func (s *Store) Get(id string) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(id)
	if t == nil {
		return nil, ErrNotFound
	}
	return cloneTemplate(t), nil
}

// GetAll returns copies of all templates in insertion order.
func (s *Store) GetAll() []*Template {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Template, len(s.templates))
	for i, t := range s.templates {
		out[i] = cloneTemplate(t)
	}
	return out
}

// Default returns the current default template, or nil.
func (s *Store) Default() *Template {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.templates {
		if t.IsDefault {
			return cloneTemplate(t)
		}
	}
	return nil
}

// Use returns the template's field map and bumps its usage count.
func (s *Store) Use(id string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(id)
	if t == nil {
		return nil, ErrNotFound
	}
	t.UsageCount++
	t.UpdatedAt = time.Now()
	if err := s.persistLocked(); err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(t.Fields))
	for k, v := range t.Fields {
		fields[k] = v
	}
	return fields, nil
}

func (s *Store) findLocked(id string) *Template {
	for _, t := range s.templates {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *Store) clearDefaultsLocked() {
	for _, t := range s.templates {
		t.IsDefault = false
	}
}

// persistLocked rewrites the collection with a temp file + rename so a crash
// cannot leave a partially written file.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.templates, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal templates: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".templates-*")
	if err != nil {
		return fmt.Errorf("create temp templates file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp templates file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp templates file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace templates file: %w", err)
	}
	return nil
}

func cloneTemplate(t *Template) *Template {
	c := *t
	c.Fields = make(map[string]string, len(t.Fields))
	for k, v := range t.Fields {
		c.Fields[k] = v
	}
	return &c
}

func seedTemplates() []*Template {
	now := time.Now()
	return []*Template{
		{
			ID:          "1",
			Name:        "Industrial Electronics",
			Category:    "Electronics",
			Description: "For sensors, controllers, and industrial components",
			Fields: map[string]string{
				"condition":     "USED_EXCELLENT",
				"default_price": "79.99",
				"returns":       "30 days",
				"shipping":      "USPS Priority",
			},
			IsDefault:  true,
			IsFavorite: true,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		{
			ID:          "2",
			Name:        "Vintage Computer Parts",
			Category:    "Computers",
			Description: "Retro computing hardware and peripherals",
			Fields: map[string]string{
				"condition":     "FOR_PARTS_OR_NOT_WORKING",
				"default_price": "29.99",
				"returns":       "No Returns",
				"shipping":      "Calculated",
			},
			IsFavorite: true,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		{
			ID:          "3",
			Name:        "Office Equipment",
			Category:    "Business & Industrial",
			Description: "Printers, scanners, and office hardware",
			Fields: map[string]string{
				"condition":     "USED_GOOD",
				"default_price": "39.99",
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}
