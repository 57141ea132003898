package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pingsantohq/pingmesh/internal/probe"
)

// RunSummary is the persisted outcome of one simulation run.
type RunSummary struct {
	RunID      string      `json:"run_id"`
	Scenario   string      `json:"scenario"`
	OutputDir  string      `json:"output_dir"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	DurationNs int64       `json:"duration_ns"`
	Pairs      []PairStats `json:"pairs,omitempty"`
	Links      []LinkStats `json:"links,omitempty"`
}

// PairStats is the probe summary of one directed pair.
type PairStats struct {
	From int `json:"from"`
	To   int `json:"to"`
	probe.Summary
}

// LinkStats is the run-wide utilization of one directed link.
type LinkStats struct {
	From        int     `json:"from"`
	To          int     `json:"to"`
	BusyNs      int64   `json:"busy_ns"`
	Utilization float64 `json:"utilization"`
	Dropped     int64   `json:"dropped"`
}

// ErrRunNotFound signals the absence of the requested run.
var ErrRunNotFound = errors.New("run not found")

// Store persists run summaries. ListRuns returns headers only; Pairs and
// Links are filled by GetRun and LatestRun.
type Store interface {
	SaveRun(ctx context.Context, run RunSummary) error
	GetRun(ctx context.Context, runID string) (RunSummary, string, error)
	LatestRun(ctx context.Context) (RunSummary, string, error)
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
}

// NewMemoryStore returns an in-memory implementation for single-process use and tests.
func NewMemoryStore() Store {
	return &memoryStore{runs: map[string]RunSummary{}}
}

type memoryStore struct {
	mu    sync.RWMutex
	runs  map[string]RunSummary
	order []string
}

func (m *memoryStore) SaveRun(ctx context.Context, run RunSummary) error {
	if strings.TrimSpace(run.RunID) == "" {
		return errors.New("run_id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.RunID]; !exists {
		m.order = append(m.order, run.RunID)
	}
	m.runs[run.RunID] = run
	return nil
}

func (m *memoryStore) GetRun(ctx context.Context, runID string) (RunSummary, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return RunSummary{}, "", fmt.Errorf("get run %q: %w", runID, ErrRunNotFound)
	}
	return run, computeETag(run), nil
}

func (m *memoryStore) LatestRun(ctx context.Context) (RunSummary, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := m.sortedLocked()
	if len(runs) == 0 {
		return RunSummary{}, "", ErrRunNotFound
	}
	return runs[0], computeETag(runs[0]), nil
}

func (m *memoryStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := m.sortedLocked()
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	for i := range runs {
		runs[i].Pairs, runs[i].Links = nil, nil
	}
	return runs, nil
}

// sortedLocked orders runs newest first; ties keep insertion order reversed.
func (m *memoryStore) sortedLocked() []RunSummary {
	runs := make([]RunSummary, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		runs = append(runs, m.runs[m.order[i]])
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].FinishedAt.After(runs[j].FinishedAt)
	})
	return runs
}

func computeETag(run RunSummary) string {
	payload, _ := json.Marshal(run)
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("\"%s\"", hex.EncodeToString(sum[:]))
}
