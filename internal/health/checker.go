// Package health evaluates whether the API has fresh run data to serve.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pingsantohq/pingmesh/internal/metrics"
	"github.com/pingsantohq/pingmesh/internal/store"
)

const (
	categoryStoreUnavailable = "STORE_UNAVAILABLE"
	categoryRunPending       = "RUN_PENDING"
	categoryRunStale         = "RUN_STALE"
	categoryRunFailed        = "RUN_FAILED"
)

const (
	severityInfo     = "info"
	severityWarning  = "warning"
	severityCritical = "critical"
)

// Pinger is implemented by stores backed by a remote database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker evaluates readiness conditions for the API.
type Checker struct {
	store      store.Store
	recorder   metrics.ReadinessRecorder
	staleAfter time.Duration

	mu         sync.RWMutex
	runErr     string
	lastRunErr time.Time
}

// NewChecker constructs a readiness checker. staleAfter <= 0 disables the
// staleness check.
func NewChecker(st store.Store, rec metrics.ReadinessRecorder, staleAfter time.Duration) *Checker {
	if rec == nil {
		rec = metrics.NoopReadinessRecorder{}
	}
	return &Checker{store: st, recorder: rec, staleAfter: staleAfter}
}

// ObserveRun records the outcome of a run executed by this process.
func (c *Checker) ObserveRun(ts time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.runErr = err.Error()
		c.lastRunErr = ts
		return
	}
	c.runErr = ""
	c.lastRunErr = time.Time{}
}

// Ready evaluates all readiness conditions and returns the overall status and reasons for failure.
func (c *Checker) Ready(ctx context.Context, now time.Time) (bool, []string) {
	reasons := make([]string, 0, 3)
	categories := make([]metrics.ReadinessCategory, 0, 3)
	fail := func(reason, name, severity string) {
		reasons = append(reasons, reason)
		categories = append(categories, metrics.ReadinessCategory{Name: name, Severity: severity})
	}

	storeOK := true
	if p, ok := c.store.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			fail(fmt.Sprintf("run store unreachable: %v", err), categoryStoreUnavailable, severityCritical)
			storeOK = false
		}
	}
	if storeOK && c.store != nil {
		run, _, err := c.store.LatestRun(ctx)
		switch {
		case errors.Is(err, store.ErrRunNotFound):
			fail("no run recorded yet", categoryRunPending, severityInfo)
		case err != nil:
			fail(fmt.Sprintf("run store query failed: %v", err), categoryStoreUnavailable, severityCritical)
		case c.staleAfter > 0 && now.Sub(run.FinishedAt) > c.staleAfter:
			fail(fmt.Sprintf("latest run stale (%s)", now.Sub(run.FinishedAt).Round(time.Second)), categoryRunStale, severityWarning)
		}
	}

	c.mu.RLock()
	runErr := c.runErr
	c.mu.RUnlock()
	if runErr != "" {
		fail(fmt.Sprintf("last run failed: %s", runErr), categoryRunFailed, severityCritical)
	}

	ready := len(reasons) == 0
	c.recorder.ObserveReadiness(ready, categories)
	if !ready {
		return false, reasons
	}
	return true, nil
}
