package telemetry

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/pingsantohq/pingmesh/internal/intervallog"
	"github.com/pingsantohq/pingmesh/internal/metrics"
	"github.com/pingsantohq/pingmesh/internal/netsim"
	"github.com/pingsantohq/pingmesh/internal/sim"
)

// queueSample is one observation of a link queue. Packets and bytes share a
// single log so both timelines break at the same instants.
type queueSample struct {
	Packets int64 `json:"packets"`
	Bytes   int64 `json:"bytes"`
}

// QueueTracker follows the output queue of each selected link in packets and
// bytes.
type QueueTracker struct {
	clock   sim.Clock
	net     *netsim.Network
	links   []netsim.Link
	slots   map[int]int
	drops   []int64
	rec     *recorder[queueSample]
	metrics metrics.LinkRecorder
	done    bool
}

// NewQueueTracker records the current occupancy of every link at clock.Now()
// and subscribes to the network's queue events.
func NewQueueTracker(clock sim.Clock, net *netsim.Network, links []netsim.Link, opts ...Option) (*QueueTracker, error) {
	o := buildOptions(opts)
	rec, err := newRecorder[queueSample]("queue", links, o, false)
	if err != nil {
		return nil, err
	}
	q := &QueueTracker{
		clock:   clock,
		net:     net,
		links:   append([]netsim.Link(nil), links...),
		slots:   make(map[int]int, len(links)),
		drops:   make([]int64, len(links)),
		rec:     rec,
		metrics: o.links,
	}
	now := clock.Now()
	for i, l := range links {
		q.slots[l.ID] = i
		pk, by := net.QueueLength(l.ID)
		q.rec.update(i, now, queueSample{Packets: pk, Bytes: by})
		q.drops[i] = net.Stats(l.ID).Dropped
	}
	net.Observe(q)
	return q, nil
}

// QueueChanged implements netsim.QueueObserver.
func (q *QueueTracker) QueueChanged(linkID int, packets, bytes int64) {
	slot, ok := q.slots[linkID]
	if !ok || q.done {
		return
	}
	q.rec.update(slot, q.clock.Now(), queueSample{Packets: packets, Bytes: bytes})

	label := linkLabel(q.links[slot])
	q.metrics.ObserveQueueDepth(label, packets, bytes)
	if dropped := q.net.Stats(linkID).Dropped; dropped > q.drops[slot] {
		for ; q.drops[slot] < dropped; q.drops[slot]++ {
			q.metrics.IncQueueDrops(label)
		}
	}
}

// Finalize seals every timeline at end and returns one series per link in
// selection order.
func (q *QueueTracker) Finalize(end int64) ([]LinkSeries, error) {
	if q.done {
		return nil, fmt.Errorf("queue tracker: %w", errAlreadyFinalized)
	}
	q.done = true
	out := make([]LinkSeries, len(q.links))
	var err error
	for i, l := range q.links {
		samples, ferr := q.rec.finalize(i, end)
		if ferr != nil {
			err = multierr.Append(err, ferr)
			continue
		}
		pk, by := splitSamples(samples)
		out[i] = LinkSeries{Link: l, Packets: pk, Bytes: by, Dropped: q.net.Stats(l.ID).Dropped}
	}
	err = multierr.Append(err, q.rec.close())
	if err != nil {
		return nil, fmt.Errorf("finalize queue tracker: %w", err)
	}
	return out, nil
}

// SpoolBytes reports how much the tracker has streamed to disk.
func (q *QueueTracker) SpoolBytes() int64 {
	return q.rec.spoolBytes()
}

// Close releases spool handles without sealing the timelines. It is used
// when a run aborts and is safe after Finalize.
func (q *QueueTracker) Close() error {
	q.done = true
	return q.rec.close()
}

// splitSamples projects the joint timeline onto its two series. Adjacent
// entries may repeat a value when only the other series changed.
func splitSamples(samples []intervallog.Entry[queueSample]) (packets, bytes []intervallog.Entry[int64]) {
	if samples == nil {
		return nil, nil
	}
	packets = make([]intervallog.Entry[int64], len(samples))
	bytes = make([]intervallog.Entry[int64], len(samples))
	for i, e := range samples {
		packets[i] = intervallog.Entry[int64]{Start: e.Start, End: e.End, Value: e.Value.Packets}
		bytes[i] = intervallog.Entry[int64]{Start: e.Start, End: e.End, Value: e.Value.Bytes}
	}
	return packets, bytes
}
