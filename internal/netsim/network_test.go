package netsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pingsantohq/pingmesh/internal/sim"
)

func lineTopology(t *testing.T, rate int64, queue int) *Topology {
	t.Helper()
	topo, err := NewTopology(3, nil, []LinkSpec{
		{A: 0, B: 1, DelayNs: 10 * sim.Millisecond, RateBps: rate, QueuePackets: queue},
		{A: 1, B: 2, DelayNs: 10 * sim.Millisecond, RateBps: rate, QueuePackets: queue},
	})
	require.NoError(t, err)
	return topo
}

func TestTopologyRejectsBadInput(t *testing.T) {
	_, err := NewTopology(0, nil, nil)
	assert.Error(t, err)
	_, err = NewTopology(2, []int{0, 2}, nil)
	assert.Error(t, err)
	_, err = NewTopology(2, nil, []LinkSpec{{A: 0, B: 0, RateBps: 1}})
	assert.Error(t, err)
	_, err = NewTopology(2, nil, []LinkSpec{{A: 0, B: 1, RateBps: 1}, {A: 1, B: 0, RateBps: 1}})
	assert.Error(t, err)
	_, err = NewTopology(2, nil, []LinkSpec{{A: 0, B: 1}})
	assert.Error(t, err)
}

func TestTopologyRoutesShortestHop(t *testing.T) {
	topo := lineTopology(t, 1_000_000_000, 10)
	first := topo.NextLink(0, 2)
	require.GreaterOrEqual(t, first, 0)
	assert.Equal(t, 1, topo.Link(first).To)
	second := topo.NextLink(1, 2)
	assert.Equal(t, 2, topo.Link(second).To)
	assert.Equal(t, -1, topo.NextLink(2, 2))

	id, ok := topo.LinkID(1, 0)
	require.True(t, ok)
	assert.Equal(t, 0, topo.Link(id).To)
	assert.Equal(t, []int{0, 1, 2}, topo.Endpoints())
}

func TestNetworkDeliversWithDelay(t *testing.T) {
	k := sim.NewKernel()
	topo := lineTopology(t, 8_000_000_000, 10) // 1 byte per ns
	net := NewNetwork(k, topo)

	var arrivedAt sim.Time = -1
	require.NoError(t, net.Attach(2, func(p Packet) { arrivedAt = k.Now() }))
	net.Send(Packet{Src: 0, Dst: 2, SizeBytes: 100})

	require.NoError(t, k.Run(sim.Second))
	assert.Equal(t, 2*(10*sim.Millisecond+100), arrivedAt)

	l01, _ := topo.LinkID(0, 1)
	assert.Equal(t, LinkStats{Transmitted: 1, BusyNs: 100}, net.Stats(l01))
}

type queueEvent struct {
	at      sim.Time
	link    int
	packets int64
	bytes   int64
}

type captureObserver struct {
	clock  sim.Clock
	events []queueEvent
}

func (c *captureObserver) QueueChanged(link int, packets, bytes int64) {
	c.events = append(c.events, queueEvent{at: c.clock.Now(), link: link, packets: packets, bytes: bytes})
}

func TestNetworkQueuesAndDrops(t *testing.T) {
	k := sim.NewKernel()
	topo := lineTopology(t, 8_000_000_000, 2)
	net := NewNetwork(k, topo)
	obs := &captureObserver{clock: k}
	net.Observe(obs)

	for i := 0; i < 4; i++ {
		net.Send(Packet{Src: 0, Dst: 1, SizeBytes: 50})
	}
	l01, _ := topo.LinkID(0, 1)
	packets, bytes := net.QueueLength(l01)
	assert.Equal(t, int64(2), packets)
	assert.Equal(t, int64(100), bytes)
	assert.Equal(t, int64(1), net.Stats(l01).Dropped)
	assert.Zero(t, net.BusyTime(l01))

	require.NoError(t, k.Run(sim.Second))
	packets, _ = net.QueueLength(l01)
	assert.Zero(t, packets)
	assert.Equal(t, int64(3), net.Stats(l01).Transmitted)
	assert.Equal(t, int64(150), net.BusyTime(l01))
	require.NotEmpty(t, obs.events)
	last := obs.events[len(obs.events)-1]
	assert.Equal(t, int64(0), last.packets)
}
