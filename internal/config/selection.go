package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/pingmesh/internal/pairs"
	"github.com/pingsantohq/pingmesh/internal/telemetry"
)

// Selection is a YAML value naming either everything ("all") or an explicit
// list of "a->b" items, given as "set(a->b, ...)" or a YAML sequence.
type Selection struct {
	All   bool
	Items []string
	set   bool
}

func All() Selection { return Selection{All: true, set: true} }

// Items builds an explicit selection.
func Items(items ...string) Selection {
	return Selection{Items: items, set: true}
}

func (s *Selection) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		spec, err := pairs.ParseSpec(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*s = Selection{All: spec.All, Items: spec.Pairs, set: true}
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*s = Selection{Items: items, set: true}
	default:
		return fmt.Errorf("line %d: selection must be \"all\", \"set(...)\" or a list", node.Line)
	}
	return nil
}

func (s Selection) MarshalYAML() (interface{}, error) {
	if s.All {
		return "all", nil
	}
	if s.Items == nil {
		return []string{}, nil
	}
	return s.Items, nil
}

func (s Selection) PairSpec() pairs.Spec {
	return pairs.Spec{All: s.All, Pairs: append([]string(nil), s.Items...)}
}

func (s Selection) Links() telemetry.Selection {
	return telemetry.Selection{All: s.All, Links: append([]string(nil), s.Items...)}
}
