// Package telemetry records per-link queue occupancy and utilization
// timelines from a simulated network.
package telemetry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pingsantohq/pingmesh/internal/netsim"
	"github.com/pingsantohq/pingmesh/internal/pairs"
)

// Selection picks the directed links a tracker follows.
type Selection struct {
	All   bool
	Links []string
}

// UnknownLinkError names a selected link missing from the topology.
type UnknownLinkError struct {
	Link string
}

func (e *UnknownLinkError) Error() string {
	return fmt.Sprintf("unknown link %q", e.Link)
}

// ParseSelection accepts "all" or "set(a->b, ...)".
func ParseSelection(raw string) (Selection, error) {
	spec, err := pairs.ParseSpec(raw)
	if err != nil {
		return Selection{}, fmt.Errorf("link selection: %w", err)
	}
	return Selection{All: spec.All, Links: spec.Pairs}, nil
}

// Resolve maps the selection onto topology links, ordered by link id.
func (s Selection) Resolve(topo *netsim.Topology) ([]netsim.Link, error) {
	if s.All {
		return topo.Links(), nil
	}
	seen := make(map[int]struct{}, len(s.Links))
	out := make([]netsim.Link, 0, len(s.Links))
	for _, raw := range s.Links {
		p, err := pairs.Parse(raw)
		if err != nil {
			return nil, &UnknownLinkError{Link: strings.TrimSpace(raw)}
		}
		id, ok := topo.LinkID(p.From, p.To)
		if !ok {
			return nil, &UnknownLinkError{Link: p.String()}
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, topo.Link(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func linkLabel(l netsim.Link) string {
	return fmt.Sprintf("%d->%d", l.From, l.To)
}
