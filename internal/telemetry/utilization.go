package telemetry

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/pingsantohq/pingmesh/internal/netsim"
	"github.com/pingsantohq/pingmesh/internal/sim"
)

var errAlreadyFinalized = errors.New("already finalized")

// UtilizationTracker samples each link's cumulative busy time on a fixed
// tick. Every tick becomes one interval holding the busy ns spent in it.
type UtilizationTracker struct {
	clock    sim.Clock
	net      *netsim.Network
	links    []netsim.Link
	interval int64
	rec      *recorder[int64]

	lastBusy []int64
	tickAt   int64
	next     sim.EventID
	armed    bool
	done     bool
}

func NewUtilizationTracker(clock sim.Clock, net *netsim.Network, links []netsim.Link, intervalNs int64, opts ...Option) (*UtilizationTracker, error) {
	if intervalNs <= 0 {
		return nil, fmt.Errorf("utilization interval must be positive, got %d", intervalNs)
	}
	rec, err := newRecorder[int64]("utilization", links, buildOptions(opts), true)
	if err != nil {
		return nil, err
	}
	u := &UtilizationTracker{
		clock:    clock,
		net:      net,
		links:    append([]netsim.Link(nil), links...),
		interval: intervalNs,
		rec:      rec,
		lastBusy: make([]int64, len(links)),
	}
	return u, nil
}

func (u *UtilizationTracker) Interval() int64 { return u.interval }

// Start arms the first sampling tick one interval from now.
func (u *UtilizationTracker) Start() {
	if u.armed || u.done {
		return
	}
	u.tickAt = u.clock.Now()
	for i, l := range u.links {
		u.lastBusy[i] = u.net.BusyTime(l.ID)
	}
	u.arm()
}

func (u *UtilizationTracker) arm() {
	u.next = u.clock.ScheduleAfter(u.interval, u.tick)
	u.armed = true
}

func (u *UtilizationTracker) tick() {
	u.armed = false
	u.sample()
	u.arm()
}

// sample closes the window [tickAt, now) for every link.
func (u *UtilizationTracker) sample() {
	now := u.clock.Now()
	for i, l := range u.links {
		busy := u.net.BusyTime(l.ID)
		u.rec.update(i, u.tickAt, busy-u.lastBusy[i])
		u.lastBusy[i] = busy
	}
	u.tickAt = now
}

// Finalize records the trailing partial tick and seals every timeline. It
// must run once the clock has reached end.
func (u *UtilizationTracker) Finalize(end int64) ([]LinkSeries, error) {
	if u.done {
		return nil, fmt.Errorf("utilization tracker: %w", errAlreadyFinalized)
	}
	if now := u.clock.Now(); now != end {
		return nil, fmt.Errorf("finalize utilization at %d while clock is at %d", end, now)
	}
	if u.armed {
		u.clock.Cancel(u.next)
		u.armed = false
	}
	u.done = true
	if u.tickAt < end {
		u.sample()
	}

	out := make([]LinkSeries, len(u.links))
	var err error
	for i, l := range u.links {
		busy, ferr := u.rec.finalize(i, end)
		if ferr != nil {
			err = multierr.Append(err, ferr)
			continue
		}
		out[i] = LinkSeries{Link: l, Busy: busy}
	}
	err = multierr.Append(err, u.rec.close())
	if err != nil {
		return nil, fmt.Errorf("finalize utilization tracker: %w", err)
	}
	return out, nil
}

func (u *UtilizationTracker) SpoolBytes() int64 {
	return u.rec.spoolBytes()
}

// Close cancels the pending tick and releases spool handles.
func (u *UtilizationTracker) Close() error {
	if u.armed {
		u.clock.Cancel(u.next)
		u.armed = false
	}
	u.done = true
	return u.rec.close()
}
