// Package scheduler drives periodic echo probes for a set of directed pairs
// on a simulated clock.
package scheduler

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pingsantohq/pingmesh/internal/metrics"
	"github.com/pingsantohq/pingmesh/internal/netsim"
	"github.com/pingsantohq/pingmesh/internal/pairs"
	"github.com/pingsantohq/pingmesh/internal/probe"
	"github.com/pingsantohq/pingmesh/internal/sim"
)

const defaultPayloadBytes = 64

// Transport carries probe packets between endpoints. *netsim.Network
// satisfies it.
type Transport interface {
	Attach(node int, h netsim.Handler) error
	Send(p netsim.Packet)
}

type Config struct {
	IntervalNs   int64
	PayloadBytes int64
	// NumEndpoints is the size of the endpoint set and sets the stagger step.
	NumEndpoints int
}

type Dependencies struct {
	Logger   *zap.SugaredLogger
	Recorder metrics.ProbeRecorder
}

type Scheduler struct {
	clock     sim.Clock
	transport Transport
	cfg       Config
	logger    *zap.SugaredLogger
	recorder  metrics.ProbeRecorder

	pairs   []pairs.Pair
	sources map[pairs.Pair]*source
	sinks   map[int]*sink
	agents  []Agent

	started     bool
	tearingDown bool
	closed      bool
}

// New instantiates one source agent per pair and one sink per distinct
// destination, computes stagger offsets and attaches to the transport.
// pairsSorted must be the output of pairs.Build.
func New(clock sim.Clock, transport Transport, pairsSorted []pairs.Pair, cfg Config, deps Dependencies) (*Scheduler, error) {
	if clock == nil || transport == nil {
		return nil, errors.New("scheduler requires a clock and a transport")
	}
	if cfg.IntervalNs <= 0 {
		return nil, fmt.Errorf("probe interval must be positive, got %d", cfg.IntervalNs)
	}
	if cfg.PayloadBytes <= 0 {
		cfg.PayloadBytes = defaultPayloadBytes
	}
	if len(pairsSorted) > 0 && cfg.NumEndpoints < 2 {
		return nil, fmt.Errorf("stagger needs at least two endpoints, got %d", cfg.NumEndpoints)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NoopProbeRecorder{}
	}

	s := &Scheduler{
		clock:     clock,
		transport: transport,
		cfg:       cfg,
		logger:    deps.Logger,
		recorder:  deps.Recorder,
		pairs:     append([]pairs.Pair(nil), pairsSorted...),
		sources:   make(map[pairs.Pair]*source, len(pairsSorted)),
		sinks:     make(map[int]*sink),
	}

	offsets := StaggerOffsets(s.pairs, cfg.IntervalNs, cfg.NumEndpoints)
	for i, p := range s.pairs {
		if _, dup := s.sources[p]; dup {
			return nil, &pairs.InvalidPairError{Pair: p.String(), Reason: "duplicate pair"}
		}
		src := &source{owner: s, pair: p, label: p.String(), offset: offsets[i]}
		s.sources[p] = src
		s.agents = append(s.agents, src)
		if _, ok := s.sinks[p.To]; !ok {
			sk := &sink{owner: s, node: p.To}
			s.sinks[p.To] = sk
			s.agents = append(s.agents, sk)
		}
	}

	attached := make(map[int]struct{})
	for _, p := range s.pairs {
		for _, node := range []int{p.From, p.To} {
			if _, ok := attached[node]; ok {
				continue
			}
			if err := transport.Attach(node, s.deliver(node)); err != nil {
				return nil, fmt.Errorf("attach probe agents to node %d: %w", node, err)
			}
			attached[node] = struct{}{}
		}
	}
	return s, nil
}

// StaggerOffsets returns the first-send delay of each pair. Pairs are grouped
// by source in the given order; the m-th pair of a group waits
// m * (interval / (numEndpoints-1)).
func StaggerOffsets(sorted []pairs.Pair, intervalNs int64, numEndpoints int) []int64 {
	out := make([]int64, len(sorted))
	if numEndpoints < 2 {
		return out
	}
	step := intervalNs / int64(numEndpoints-1)
	m := int64(0)
	for i, p := range sorted {
		if i > 0 && sorted[i-1].From != p.From {
			m = 0
		}
		out[i] = m * step
		m++
	}
	return out
}

func (s *Scheduler) deliver(node int) netsim.Handler {
	return func(p netsim.Packet) {
		msg, ok := p.Payload.(probe.Message)
		if !ok {
			return
		}
		switch msg.Kind {
		case probe.Request:
			if sk, ok := s.sinks[node]; ok {
				sk.Receive(p)
			}
		case probe.Reply:
			if src, ok := s.sources[pairs.Pair{From: node, To: p.Src}]; ok {
				src.Receive(p)
			}
		}
	}
}

// Start arms every agent. Each source fires its first probe after its
// stagger offset.
func (s *Scheduler) Start() error {
	if s.closed {
		return errors.New("scheduler already torn down")
	}
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true
	for _, a := range s.agents {
		a.Start()
	}
	s.logger.Infof("scheduler armed %d pairs towards %d sinks every %dns", len(s.pairs), len(s.sinks), s.cfg.IntervalNs)
	return nil
}

// Teardown cancels every pending probe and stops all agents. Calling it more
// than once is a no-op.
func (s *Scheduler) Teardown() error {
	if s.closed {
		return nil
	}
	s.tearingDown = true
	var err error
	for _, a := range s.agents {
		err = multierr.Append(err, a.Stop())
	}
	s.tearingDown = false
	s.closed = true
	s.logger.Infof("scheduler stopped %d agents", len(s.agents))
	return err
}

// Agents exposes the agent handles in creation order.
func (s *Scheduler) Agents() []Agent {
	return append([]Agent(nil), s.agents...)
}

func (s *Scheduler) Pairs() []pairs.Pair {
	return append([]pairs.Pair(nil), s.pairs...)
}

// Offsets returns the stagger offset of each pair, aligned with Pairs.
func (s *Scheduler) Offsets() []int64 {
	out := make([]int64, len(s.pairs))
	for i, p := range s.pairs {
		out[i] = s.sources[p].offset
	}
	return out
}

// Records returns a copy of the raw measurements for a pair.
func (s *Scheduler) Records(p pairs.Pair) ([]probe.Record, bool) {
	src, ok := s.sources[p]
	if !ok {
		return nil, false
	}
	return append([]probe.Record(nil), src.records...), true
}

func (s *Scheduler) State(p pairs.Pair) (State, bool) {
	src, ok := s.sources[p]
	if !ok {
		return Idle, false
	}
	return src.state, true
}
