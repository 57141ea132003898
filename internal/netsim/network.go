package netsim

import (
	"fmt"

	"github.com/pingsantohq/pingmesh/internal/sim"
)

// Packet is a unit of traffic carried hop by hop from Src to Dst.
type Packet struct {
	Src, Dst  int
	SizeBytes int64
	Payload   any
}

// Handler consumes packets delivered to an attached node.
type Handler func(Packet)

// QueueObserver is notified after every mutation of a link's output queue.
type QueueObserver interface {
	QueueChanged(linkID int, packets int64, bytes int64)
}

// LinkStats summarises the traffic a directed link carried.
type LinkStats struct {
	Transmitted int64
	Dropped     int64
	BusyNs      int64
}

type port struct {
	link      Link
	queue     []Packet
	bytes     int64
	busy      bool
	busySince int64
	busyTotal int64
	sent      int64
	drops     int64
}

// Network forwards packets over a Topology. Each directed link has a FIFO
// output queue with tail drop and serialises one packet at a time.
type Network struct {
	clock     sim.Clock
	topo      *Topology
	ports     []*port
	handlers  []Handler
	observers []QueueObserver
	unrouted  int64
}

func NewNetwork(clock sim.Clock, topo *Topology) *Network {
	n := &Network{
		clock:    clock,
		topo:     topo,
		ports:    make([]*port, len(topo.links)),
		handlers: make([]Handler, topo.numNodes),
	}
	for i, l := range topo.links {
		n.ports[i] = &port{link: l}
	}
	return n
}

func (n *Network) Topology() *Topology { return n.topo }

// Attach installs the delivery handler for node. Packets addressed to a node
// without a handler are discarded on arrival.
func (n *Network) Attach(node int, h Handler) error {
	if node < 0 || node >= n.topo.numNodes {
		return fmt.Errorf("attach handler: node %d out of range", node)
	}
	if !n.topo.isEndpoint[node] {
		return fmt.Errorf("attach handler: node %d is not an endpoint", node)
	}
	n.handlers[node] = h
	return nil
}

func (n *Network) Observe(obs QueueObserver) {
	n.observers = append(n.observers, obs)
}

// Send injects p at its source node.
func (n *Network) Send(p Packet) {
	if p.Src == p.Dst {
		n.clock.ScheduleAfter(0, func() { n.arrive(p.Dst, p) })
		return
	}
	n.forward(p.Src, p)
}

// QueueLength returns the packets and bytes waiting in a link's output queue.
func (n *Network) QueueLength(linkID int) (int64, int64) {
	pt := n.ports[linkID]
	return int64(len(pt.queue)), pt.bytes
}

// BusyTime returns the cumulative time the link spent serialising packets up to now.
func (n *Network) BusyTime(linkID int) int64 {
	pt := n.ports[linkID]
	if pt.busy {
		return pt.busyTotal + n.clock.Now() - pt.busySince
	}
	return pt.busyTotal
}

func (n *Network) Stats(linkID int) LinkStats {
	pt := n.ports[linkID]
	return LinkStats{Transmitted: pt.sent, Dropped: pt.drops, BusyNs: n.BusyTime(linkID)}
}

// Unrouted counts packets discarded because no route to their destination existed.
func (n *Network) Unrouted() int64 { return n.unrouted }

func (n *Network) forward(node int, p Packet) {
	lid := n.topo.NextLink(node, p.Dst)
	if lid < 0 {
		n.unrouted++
		return
	}
	pt := n.ports[lid]
	if len(pt.queue) >= pt.link.QueuePackets {
		pt.drops++
		n.notify(pt)
		return
	}
	pt.queue = append(pt.queue, p)
	pt.bytes += p.SizeBytes
	n.notify(pt)
	if !pt.busy {
		n.transmitNext(pt)
	}
}

func (n *Network) transmitNext(pt *port) {
	if len(pt.queue) == 0 {
		return
	}
	p := pt.queue[0]
	pt.queue[0] = Packet{}
	pt.queue = pt.queue[1:]
	pt.bytes -= p.SizeBytes
	n.notify(pt)

	tx := serialization(p.SizeBytes, pt.link.RateBps)
	pt.busy = true
	pt.busySince = n.clock.Now()
	n.clock.ScheduleAfter(tx, func() {
		pt.busyTotal += tx
		pt.busy = false
		pt.sent++
		next := pt.link.To
		n.clock.ScheduleAfter(pt.link.DelayNs, func() { n.arrive(next, p) })
		n.transmitNext(pt)
	})
}

func (n *Network) arrive(node int, p Packet) {
	if node != p.Dst {
		n.forward(node, p)
		return
	}
	if h := n.handlers[node]; h != nil {
		h(p)
	}
}

func (n *Network) notify(pt *port) {
	for _, obs := range n.observers {
		obs.QueueChanged(pt.link.ID, int64(len(pt.queue)), pt.bytes)
	}
}

func serialization(sizeBytes, rateBps int64) int64 {
	if sizeBytes <= 0 {
		return 0
	}
	return sizeBytes * 8 * int64(sim.Second) / rateBps
}
