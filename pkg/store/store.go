// Package store persists run records in a single JSON file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-framescribe/pkg/pipeline"
)

// ErrNotFound is returned when no run has the requested ID.
var ErrNotFound = errors.New("store: run not found")

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Run is one stored run: its outcome and, when it produced one, its report.
type Run struct {
	ID        string           `json:"id"`
	Source    string           `json:"source"`
	Input     string           `json:"input,omitempty"`
	Status    string           `json:"status"`
	ErrorKind string           `json:"error_kind,omitempty"`
	Error     string           `json:"error,omitempty"`
	Report    *pipeline.Report `json:"report,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewRun records the outcome of a run. A nil report with a nil error is a
// run still in progress.
func NewRun(source, input string, rep *pipeline.Report, err error) *Run {
	r := &Run{Source: source, Input: input, Status: StatusRunning}
	r.Finish(rep, err)
	return r
}

// Finish sets the run's outcome.
func (r *Run) Finish(rep *pipeline.Report, err error) {
	switch {
	case err != nil:
		r.Status = StatusFailed
		r.Error = err.Error()
		if k := pipeline.KindOf(err); k != 0 {
			r.ErrorKind = k.String()
		}
		if id := pipeline.RunIDOf(err); id != uuid.Nil && r.ID == "" {
			r.ID = id.String()
		}
	case rep != nil:
		r.Report = rep
		r.Status = StatusOK
		if rep.SourceErr != "" || len(rep.Failed) > 0 {
			r.Status = StatusPartial
		}
		if r.ID == "" {
			r.ID = rep.RunID.String()
		}
	}
}

// Store is the run repository used by the HTTP API.
type Store interface {
	// Save creates or updates a run.
	Save(run *Run) error

	// Get retrieves a run by ID.
	Get(id string) (*Run, error)

	// List returns all runs, newest first.
	List() ([]*Run, error)

	// Delete removes a run by ID.
	Delete(id string) error

	// Search finds runs whose frame content contains query.
	Search(query string) ([]*Run, error)

	// Count returns the number of stored runs.
	Count() int
}

// JSONStore implements Store using a JSON file for persistence.
type JSONStore struct {
	path string
	runs map[string]*Run
	mu   sync.RWMutex
}

type storeData struct {
	Version   int    `json:"version"`
	UpdatedAt string `json:"updated_at"`
	Runs      []*Run `json:"runs"`
}

const currentVersion = 1

// NewJSONStore opens the store at path. The file is created on first save.
func NewJSONStore(path string) (*JSONStore, error) {
	s := &JSONStore{
		path: path,
		runs: make(map[string]*Run),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("failed to load store: %w", err)
		}
	}
	return s, nil
}

// NewDefaultStore opens the store at ~/.framescribe/runs.json.
func NewDefaultStore() (*JSONStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return NewJSONStore(filepath.Join(home, ".framescribe", "runs.json"))
}

func (s *JSONStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var stored storeData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	if stored.Version > currentVersion {
		return fmt.Errorf("unsupported store version %d", stored.Version)
	}

	s.runs = make(map[string]*Run, len(stored.Runs))
	for _, r := range stored.Runs {
		s.runs[r.ID] = r
	}
	return nil
}

// save writes the store to disk. Callers hold mu.
func (s *JSONStore) save() error {
	stored := storeData{
		Version:   currentVersion,
		UpdatedAt: time.Now().Format(time.RFC3339),
		Runs:      s.sorted(),
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	// Write to a temp file, then rename.
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// sorted returns the runs newest first. Callers hold mu.
func (s *JSONStore) sorted() []*Run {
	runs := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs
}

// Save creates or updates a run.
func (s *JSONStore) Save(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	s.runs[run.ID] = run
	return s.save()
}

// Get retrieves a run by ID.
func (s *JSONStore) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, nil
}

// List returns all runs, newest first.
func (s *JSONStore) List() ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(), nil
}

// Delete removes a run by ID.
func (s *JSONStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.runs, id)
	return s.save()
}

// Search finds runs with a frame whose content contains query, case-insensitively.
func (s *JSONStore) Search(query string) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var results []*Run
	for _, r := range s.sorted() {
		if r.Report == nil {
			continue
		}
		for _, f := range r.Report.Frames {
			if strings.Contains(strings.ToLower(f.Content), q) {
				results = append(results, r)
				break
			}
		}
	}
	return results, nil
}

// Count returns the number of stored runs.
func (s *JSONStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Path returns the file path of the store.
func (s *JSONStore) Path() string {
	return s.path
}
