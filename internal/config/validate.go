package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field constraints and the cross references between the
// topology and the rest of the scenario.
func Validate(cfg Config) error {
	if err := structValidator().Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid scenario: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid scenario: %w", err)
	}

	nodes := cfg.Topology.Nodes
	for _, ep := range cfg.Topology.Endpoints {
		if ep >= nodes {
			return fmt.Errorf("invalid scenario: endpoint %d outside [0,%d)", ep, nodes)
		}
	}
	for i, l := range cfg.Topology.Links {
		if l.A >= nodes || l.B >= nodes {
			return fmt.Errorf("invalid scenario: link %d (%d-%d) references a node outside [0,%d)", i, l.A, l.B, nodes)
		}
		if l.RateBps() <= 0 {
			return fmt.Errorf("invalid scenario: link %d rate below 1 bps", i)
		}
	}
	shard := cfg.Pingmesh.Shard
	if shard.Count > 1 && shard.Index >= shard.Count {
		return fmt.Errorf("invalid scenario: shard index %d outside [0,%d)", shard.Index, shard.Count)
	}
	return nil
}
