// Package netsim is a minimal store-and-forward packet network driven by a
// sim.Clock. Nodes and links live in index-addressed arenas; everything else
// refers to them by integer id.
package netsim

import (
	"fmt"
	"sort"
)

// LinkSpec describes a bidirectional link; it expands into two directed links.
type LinkSpec struct {
	A, B         int
	DelayNs      int64
	RateBps      int64
	QueuePackets int
}

// Link is one direction of a LinkSpec.
type Link struct {
	ID           int
	From, To     int
	DelayNs      int64
	RateBps      int64
	QueuePackets int
}

// Topology owns nodes, endpoints and directed links by index.
type Topology struct {
	numNodes   int
	endpoints  []int
	isEndpoint []bool
	links      []Link
	byPair     map[[2]int]int
	out        [][]int
	nextHop    [][]int
}

// NewTopology validates the inputs and precomputes shortest-hop routing.
// A nil endpoints slice makes every node an endpoint.
func NewTopology(numNodes int, endpoints []int, specs []LinkSpec) (*Topology, error) {
	if numNodes <= 0 {
		return nil, fmt.Errorf("topology needs at least one node, got %d", numNodes)
	}
	t := &Topology{
		numNodes:   numNodes,
		isEndpoint: make([]bool, numNodes),
		byPair:     make(map[[2]int]int, 2*len(specs)),
		out:        make([][]int, numNodes),
	}

	if endpoints == nil {
		for i := 0; i < numNodes; i++ {
			endpoints = append(endpoints, i)
		}
	}
	for _, id := range endpoints {
		if id < 0 || id >= numNodes {
			return nil, fmt.Errorf("endpoint %d out of range [0,%d)", id, numNodes)
		}
		if t.isEndpoint[id] {
			return nil, fmt.Errorf("endpoint %d listed twice", id)
		}
		t.isEndpoint[id] = true
		t.endpoints = append(t.endpoints, id)
	}
	sort.Ints(t.endpoints)

	for _, spec := range specs {
		if spec.A < 0 || spec.A >= numNodes || spec.B < 0 || spec.B >= numNodes {
			return nil, fmt.Errorf("link %d-%d references unknown node", spec.A, spec.B)
		}
		if spec.A == spec.B {
			return nil, fmt.Errorf("link %d-%d is a self loop", spec.A, spec.B)
		}
		if spec.RateBps <= 0 {
			return nil, fmt.Errorf("link %d-%d needs a positive rate", spec.A, spec.B)
		}
		if spec.DelayNs < 0 {
			return nil, fmt.Errorf("link %d-%d has negative delay", spec.A, spec.B)
		}
		for _, dir := range [][2]int{{spec.A, spec.B}, {spec.B, spec.A}} {
			if _, dup := t.byPair[dir]; dup {
				return nil, fmt.Errorf("link %d-%d defined twice", spec.A, spec.B)
			}
			queue := spec.QueuePackets
			if queue <= 0 {
				queue = 100
			}
			id := len(t.links)
			t.links = append(t.links, Link{
				ID:           id,
				From:         dir[0],
				To:           dir[1],
				DelayNs:      spec.DelayNs,
				RateBps:      spec.RateBps,
				QueuePackets: queue,
			})
			t.byPair[dir] = id
			t.out[dir[0]] = append(t.out[dir[0]], id)
		}
	}
	for _, ids := range t.out {
		sort.Slice(ids, func(i, j int) bool { return t.links[ids[i]].To < t.links[ids[j]].To })
	}
	t.computeRoutes()
	return t, nil
}

func (t *Topology) NumNodes() int { return t.numNodes }

// Endpoints returns the endpoint ids in ascending order.
func (t *Topology) Endpoints() []int {
	return append([]int(nil), t.endpoints...)
}

func (t *Topology) IsEndpoint(id int) bool {
	return id >= 0 && id < t.numNodes && t.isEndpoint[id]
}

// Links returns every directed link ordered by id.
func (t *Topology) Links() []Link {
	return append([]Link(nil), t.links...)
}

func (t *Topology) Link(id int) Link {
	return t.links[id]
}

// LinkID looks up the directed link from -> to.
func (t *Topology) LinkID(from, to int) (int, bool) {
	id, ok := t.byPair[[2]int{from, to}]
	return id, ok
}

// NextLink returns the outbound link at node toward dst, or -1 when dst is unreachable.
func (t *Topology) NextLink(node, dst int) int {
	return t.nextHop[dst][node]
}

// computeRoutes runs a BFS from every destination over reversed edges. Ties
// resolve to the lowest neighbour id so routing is deterministic.
func (t *Topology) computeRoutes() {
	in := make([][]int, t.numNodes)
	for _, l := range t.links {
		in[l.To] = append(in[l.To], l.ID)
	}
	for _, ids := range in {
		sort.Slice(ids, func(i, j int) bool { return t.links[ids[i]].From < t.links[ids[j]].From })
	}

	t.nextHop = make([][]int, t.numNodes)
	for dst := 0; dst < t.numNodes; dst++ {
		hop := make([]int, t.numNodes)
		dist := make([]int, t.numNodes)
		for i := range hop {
			hop[i] = -1
			dist[i] = -1
		}
		dist[dst] = 0
		frontier := []int{dst}
		for len(frontier) > 0 {
			var next []int
			for _, v := range frontier {
				for _, lid := range in[v] {
					u := t.links[lid].From
					if dist[u] >= 0 {
						continue
					}
					dist[u] = dist[v] + 1
					hop[u] = lid
					next = append(next, u)
				}
			}
			sort.Ints(next)
			frontier = next
		}
		t.nextHop[dst] = hop
	}
}
