// Package pairs builds the sorted set of directed endpoint pairs to probe.
package pairs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Pair is an ordered (From, To) endpoint combination.
type Pair struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (p Pair) String() string {
	return fmt.Sprintf("%d->%d", p.From, p.To)
}

// Less orders pairs by (From, To).
func (p Pair) Less(o Pair) bool {
	if p.From == o.From {
		return p.To < o.To
	}
	return p.From < o.From
}

// Membership answers whether a node may source or sink probes.
type Membership interface {
	IsEndpoint(id int) bool
}

// Spec selects either every ordered endpoint pair or an explicit list.
type Spec struct {
	All   bool
	Pairs []string
}

// Shard restricts "all" mode to pairs whose source belongs to this
// execution shard (source % Count == Index). The zero value keeps everything.
type Shard struct {
	Index int
	Count int
}

func (s Shard) owns(node int) bool {
	if s.Count <= 1 {
		return true
	}
	return node%s.Count == s.Index
}

// InvalidPairError is a configuration error for one explicit pair.
type InvalidPairError struct {
	Pair   string
	Reason string
}

func (e *InvalidPairError) Error() string {
	return fmt.Sprintf("invalid pair %q: %s", e.Pair, e.Reason)
}

// ParseSpec accepts "all", "set(a->b, c->d)" or an empty string meaning no pairs.
func ParseSpec(raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Spec{}, nil
	case strings.EqualFold(raw, "all"):
		return Spec{All: true}, nil
	case strings.HasPrefix(raw, "set(") && strings.HasSuffix(raw, ")"):
		body := strings.TrimSpace(raw[len("set(") : len(raw)-1])
		if body == "" {
			return Spec{}, nil
		}
		parts := strings.Split(body, ",")
		spec := Spec{Pairs: make([]string, 0, len(parts))}
		for _, p := range parts {
			spec.Pairs = append(spec.Pairs, strings.TrimSpace(p))
		}
		return spec, nil
	default:
		return Spec{}, fmt.Errorf("pair selection %q: expected \"all\" or \"set(a->b, ...)\"", raw)
	}
}

// Parse reads a single "a->b" pair without validating membership.
func Parse(raw string) (Pair, error) {
	from, to, ok := strings.Cut(raw, "->")
	if !ok {
		return Pair{}, &InvalidPairError{Pair: raw, Reason: "expected a->b"}
	}
	a, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return Pair{}, &InvalidPairError{Pair: raw, Reason: "source is not an integer"}
	}
	b, err := strconv.Atoi(strings.TrimSpace(to))
	if err != nil {
		return Pair{}, &InvalidPairError{Pair: raw, Reason: "destination is not an integer"}
	}
	return Pair{From: a, To: b}, nil
}

// Build materialises the pair set sorted ascending by (From, To). Explicit
// pairs must be distinct endpoints and may not repeat.
func Build(spec Spec, endpoints []int, members Membership, shard Shard) ([]Pair, error) {
	if shard.Count > 1 && (shard.Index < 0 || shard.Index >= shard.Count) {
		return nil, fmt.Errorf("shard index %d outside [0,%d)", shard.Index, shard.Count)
	}

	var out []Pair
	if spec.All {
		for _, i := range endpoints {
			if !shard.owns(i) {
				continue
			}
			for _, j := range endpoints {
				if i != j {
					out = append(out, Pair{From: i, To: j})
				}
			}
		}
	} else {
		seen := make(map[Pair]struct{}, len(spec.Pairs))
		for _, raw := range spec.Pairs {
			p, err := Parse(raw)
			if err != nil {
				return nil, err
			}
			if p.From == p.To {
				return nil, &InvalidPairError{Pair: raw, Reason: "source equals destination"}
			}
			if !members.IsEndpoint(p.From) {
				return nil, &InvalidPairError{Pair: raw, Reason: fmt.Sprintf("%d is not a valid endpoint", p.From)}
			}
			if !members.IsEndpoint(p.To) {
				return nil, &InvalidPairError{Pair: raw, Reason: fmt.Sprintf("%d is not a valid endpoint", p.To)}
			}
			if _, dup := seen[p]; dup {
				return nil, &InvalidPairError{Pair: raw, Reason: "duplicate pair"}
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}
