package scheduler

import (
	"errors"
	"fmt"

	"github.com/pingsantohq/pingmesh/internal/netsim"
	"github.com/pingsantohq/pingmesh/internal/pairs"
	"github.com/pingsantohq/pingmesh/internal/probe"
	"github.com/pingsantohq/pingmesh/internal/sim"
)

// ErrExternalStop is returned when a probe agent is stopped by anything
// other than Scheduler.Teardown. Partial records would skew statistics.
var ErrExternalStop = errors.New("probe agent stopped outside scheduler teardown")

// Agent is a simulated probe endpoint application.
type Agent interface {
	Start()
	Stop() error
	Receive(p netsim.Packet)
}

// State is the lifecycle of a source agent.
type State int

const (
	Idle State = iota
	Armed
	Sending
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Sending:
		return "sending"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// source sends one periodic echo request stream for a single pair.
type source struct {
	owner  *Scheduler
	pair   pairs.Pair
	label  string
	offset int64

	state   State
	records []probe.Record
	next    sim.EventID
	armed   bool
}

func (a *source) Start() {
	a.state = Armed
	a.schedule(a.offset)
}

func (a *source) schedule(delay int64) {
	a.next = a.owner.clock.ScheduleAfter(delay, a.fire)
	a.armed = true
}

func (a *source) fire() {
	a.armed = false
	if a.state == Closed {
		return
	}
	a.state = Sending
	now := a.owner.clock.Now()
	seq := uint64(len(a.records))
	a.records = append(a.records, probe.NewRecord(seq, now))
	a.owner.transport.Send(netsim.Packet{
		Src:       a.pair.From,
		Dst:       a.pair.To,
		SizeBytes: a.owner.cfg.PayloadBytes,
		Payload:   probe.Message{Kind: probe.Request, Seq: seq, SendTs: now, ReplyTs: probe.NotYet},
	})
	a.owner.recorder.IncProbesSent(a.label)
	a.schedule(a.owner.cfg.IntervalNs)
}

func (a *source) Receive(p netsim.Packet) {
	msg, ok := p.Payload.(probe.Message)
	if !ok || msg.Kind != probe.Reply || a.state == Closed {
		return
	}
	if msg.Seq >= uint64(len(a.records)) {
		return
	}
	rec := &a.records[msg.Seq]
	if rec.ReplyTs != probe.NotYet {
		return
	}
	now := a.owner.clock.Now()
	if msg.ReplyTs < rec.SendTs || now < msg.ReplyTs {
		panic(fmt.Errorf("pair %s seq %d: reply timestamps out of order (send %d reply %d recv %d)",
			a.label, msg.Seq, rec.SendTs, msg.ReplyTs, now))
	}
	rec.ReplyTs = msg.ReplyTs
	rec.RecvTs = now
	a.owner.recorder.IncProbesArrived(a.label)
	a.owner.recorder.ObserveRTT(a.label, rec.RTT())
}

func (a *source) Stop() error {
	if !a.owner.tearingDown {
		return fmt.Errorf("stop source %s: %w", a.label, ErrExternalStop)
	}
	if a.armed {
		a.owner.clock.Cancel(a.next)
		a.armed = false
	}
	a.state = Closed
	return nil
}

// sink echoes every request it receives. One sink serves every pair that
// targets its node.
type sink struct {
	owner   *Scheduler
	node    int
	stopped bool
	echoed  int64
}

func (a *sink) Start() {}

func (a *sink) Receive(p netsim.Packet) {
	msg, ok := p.Payload.(probe.Message)
	if !ok || msg.Kind != probe.Request || a.stopped {
		return
	}
	a.echoed++
	a.owner.transport.Send(netsim.Packet{
		Src:       a.node,
		Dst:       p.Src,
		SizeBytes: p.SizeBytes,
		Payload: probe.Message{
			Kind:    probe.Reply,
			Seq:     msg.Seq,
			SendTs:  msg.SendTs,
			ReplyTs: a.owner.clock.Now(),
		},
	})
}

func (a *sink) Stop() error {
	if !a.owner.tearingDown {
		return fmt.Errorf("stop sink %d: %w", a.node, ErrExternalStop)
	}
	a.stopped = true
	return nil
}
