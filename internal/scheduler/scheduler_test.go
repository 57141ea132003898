package scheduler

import (
	"errors"
	"testing"

	"github.com/pingsantohq/pingmesh/internal/netsim"
	"github.com/pingsantohq/pingmesh/internal/pairs"
	"github.com/pingsantohq/pingmesh/internal/probe"
	"github.com/pingsantohq/pingmesh/internal/sim"
)

const tenGbps = 10_000_000_000

// sixNodeNetwork lays out 0-1-2-3-4-5 with 50ms on the first two hops.
func sixNodeNetwork(t *testing.T, k *sim.Kernel) *netsim.Network {
	t.Helper()
	specs := []netsim.LinkSpec{
		{A: 0, B: 1, DelayNs: 50 * sim.Millisecond, RateBps: tenGbps},
		{A: 1, B: 2, DelayNs: 50 * sim.Millisecond, RateBps: tenGbps},
		{A: 2, B: 3, DelayNs: sim.Millisecond, RateBps: tenGbps},
		{A: 3, B: 4, DelayNs: sim.Millisecond, RateBps: tenGbps},
		{A: 4, B: 5, DelayNs: sim.Millisecond, RateBps: tenGbps},
	}
	topo, err := netsim.NewTopology(6, nil, specs)
	if err != nil {
		t.Fatalf("topology: %v", err)
	}
	return netsim.NewNetwork(k, topo)
}

func buildPairs(t *testing.T, raw string, topo *netsim.Topology) []pairs.Pair {
	t.Helper()
	spec, err := pairs.ParseSpec(raw)
	if err != nil {
		t.Fatalf("parse pairs: %v", err)
	}
	out, err := pairs.Build(spec, topo.Endpoints(), topo, pairs.Shard{})
	if err != nil {
		t.Fatalf("build pairs: %v", err)
	}
	return out
}

func within(got, want, tol int64) bool {
	d := got - want
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func TestStaggerSpreadsCoSourcedPairs(t *testing.T) {
	k := sim.NewKernel()
	net := sixNodeNetwork(t, k)
	ps := buildPairs(t, "set(0->5, 0->1, 0->3, 0->2, 0->4, 3->1)", net.Topology())

	s, err := New(k, net, ps, Config{IntervalNs: 100 * sim.Millisecond, NumEndpoints: 6}, Dependencies{})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	offsets := s.Offsets()
	want := []int64{0, 20 * sim.Millisecond, 40 * sim.Millisecond, 60 * sim.Millisecond, 80 * sim.Millisecond, 0}
	if len(offsets) != len(want) {
		t.Fatalf("expected %d offsets got %d", len(want), len(offsets))
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Fatalf("pair %s: expected offset %d got %d", s.Pairs()[i], want[i], offsets[i])
		}
	}

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := k.Run(sim.Second); err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, p := range s.Pairs() {
		recs, _ := s.Records(p)
		if len(recs) == 0 {
			t.Fatalf("pair %s sent nothing", p)
		}
		if recs[0].SendTs != want[i] {
			t.Fatalf("pair %s: expected first send at %d got %d", p, want[i], recs[0].SendTs)
		}
	}
}

func TestTwoHopScenarioLatencies(t *testing.T) {
	k := sim.NewKernel()
	net := sixNodeNetwork(t, k)
	ps := buildPairs(t, "set(0->2)", net.Topology())

	s, err := New(k, net, ps, Config{IntervalNs: 100 * sim.Millisecond, NumEndpoints: 6}, Dependencies{})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := k.Run(5 * sim.Second); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := s.Teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}

	recs, ok := s.Records(pairs.Pair{From: 0, To: 2})
	if !ok {
		t.Fatalf("expected records for 0->2")
	}
	if len(recs) != 50 {
		t.Fatalf("expected 50 sequence numbers got %d", len(recs))
	}
	arrived := 0
	for i, r := range recs {
		if r.Seq != uint64(i) {
			t.Fatalf("expected seq %d got %d", i, r.Seq)
		}
		if !r.Arrived() {
			continue
		}
		arrived++
		if !within(r.There(), 100*sim.Millisecond, 500) {
			t.Fatalf("seq %d: one-way latency %d outside 100ms±500ns", r.Seq, r.There())
		}
		if !within(r.RTT(), 200*sim.Millisecond, 500) {
			t.Fatalf("seq %d: rtt %d outside 200ms±500ns", r.Seq, r.RTT())
		}
	}
	if arrived != 48 {
		t.Fatalf("expected 48 replies before the end of the run got %d", arrived)
	}
	if st, _ := s.State(pairs.Pair{From: 0, To: 2}); st != Closed {
		t.Fatalf("expected closed state got %s", st)
	}
}

func TestNoArrivalScenarioLeavesSentinels(t *testing.T) {
	k := sim.NewKernel()
	net := sixNodeNetwork(t, k)
	ps := buildPairs(t, "set(0->2)", net.Topology())

	s, err := New(k, net, ps, Config{IntervalNs: 10 * sim.Millisecond, NumEndpoints: 6}, Dependencies{})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := k.Run(50 * sim.Millisecond); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := s.Teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}

	recs, _ := s.Records(pairs.Pair{From: 0, To: 2})
	if len(recs) != 5 {
		t.Fatalf("expected 5 probes got %d", len(recs))
	}
	for _, r := range recs {
		if r.ReplyTs != probe.NotYet || r.RecvTs != probe.NotYet {
			t.Fatalf("seq %d: expected no reply got %+v", r.Seq, r)
		}
	}
	if label := probe.Summarize(recs).ArrivalLabel(); label != "0/5 (0%)" {
		t.Fatalf("expected 0/5 (0%%) got %s", label)
	}
}

func TestSharedSinkServesEveryPair(t *testing.T) {
	k := sim.NewKernel()
	net := sixNodeNetwork(t, k)
	ps := buildPairs(t, "set(0->2, 1->2, 3->2)", net.Topology())

	s, err := New(k, net, ps, Config{IntervalNs: 100 * sim.Millisecond, NumEndpoints: 6}, Dependencies{})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if got := len(s.Agents()); got != 4 {
		t.Fatalf("expected 3 sources and 1 sink got %d agents", got)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := k.Run(sim.Second); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, p := range s.Pairs() {
		recs, _ := s.Records(p)
		if probe.Summarize(recs).Arrived == 0 {
			t.Fatalf("pair %s received no replies", p)
		}
	}
}

func TestTeardownCancelsAndIsIdempotent(t *testing.T) {
	k := sim.NewKernel()
	net := sixNodeNetwork(t, k)
	ps := buildPairs(t, "set(0->1)", net.Topology())

	s, err := New(k, net, ps, Config{IntervalNs: 100 * sim.Millisecond, NumEndpoints: 6}, Dependencies{})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := k.Run(250 * sim.Millisecond); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := s.Teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if err := s.Teardown(); err != nil {
		t.Fatalf("second teardown: %v", err)
	}
	if err := k.Run(sim.Second); err != nil {
		t.Fatalf("run after teardown: %v", err)
	}
	recs, _ := s.Records(pairs.Pair{From: 0, To: 1})
	if len(recs) != 3 {
		t.Fatalf("expected no sends after teardown, got %d records", len(recs))
	}
	if err := s.Start(); err == nil {
		t.Fatalf("expected start after teardown to fail")
	}
}

func TestExternalStopIsRejected(t *testing.T) {
	k := sim.NewKernel()
	net := sixNodeNetwork(t, k)
	ps := buildPairs(t, "set(0->1)", net.Topology())

	s, err := New(k, net, ps, Config{IntervalNs: 100 * sim.Millisecond, NumEndpoints: 6}, Dependencies{})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, a := range s.Agents() {
		if err := a.Stop(); !errors.Is(err, ErrExternalStop) {
			t.Fatalf("expected ErrExternalStop got %v", err)
		}
	}
	if st, _ := s.State(pairs.Pair{From: 0, To: 1}); st != Armed {
		t.Fatalf("expected agent to stay armed got %s", st)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	k := sim.NewKernel()
	net := sixNodeNetwork(t, k)
	ps := []pairs.Pair{{From: 0, To: 1}}

	if _, err := New(k, net, ps, Config{IntervalNs: 0, NumEndpoints: 6}, Dependencies{}); err == nil {
		t.Fatalf("expected error for zero interval")
	}
	if _, err := New(k, net, ps, Config{IntervalNs: 10, NumEndpoints: 1}, Dependencies{}); err == nil {
		t.Fatalf("expected error for single endpoint")
	}
	dup := []pairs.Pair{{From: 0, To: 1}, {From: 0, To: 1}}
	var invalid *pairs.InvalidPairError
	if _, err := New(k, net, dup, Config{IntervalNs: 10, NumEndpoints: 6}, Dependencies{}); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidPairError got %v", err)
	}
}
