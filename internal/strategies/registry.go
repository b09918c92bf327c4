// Package strategies wires together the Analysis Strategy
// implementations and exposes a Registry the Analysis Engine uses to
// find the one that handles a given request kind.
package strategies

import (
	"fmt"

	"github.com/kestrelsec/intelgraph/internal/capability"
	"github.com/kestrelsec/intelgraph/internal/domain"
	"github.com/kestrelsec/intelgraph/internal/strategies/anomalydetection"
	"github.com/kestrelsec/intelgraph/internal/strategies/centrality"
	"github.com/kestrelsec/intelgraph/internal/strategies/communitydetection"
	"github.com/kestrelsec/intelgraph/internal/strategies/entityextraction"
	"github.com/kestrelsec/intelgraph/internal/strategies/pathfinding"
	"github.com/kestrelsec/intelgraph/internal/strategies/relationshipmapping"
)

// Registry holds every registered Strategy and dispatches by Kind,
// returning the first strategy whose CanHandle reports true. Unlike a
// fixed mode-to-struct switch, new strategies can be added at runtime
// via Register.
type Registry struct {
	strategies []capability.Strategy
}

// NewRegistry builds a registry pre-populated with the six built-in
// strategies.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(entityextraction.New())
	r.Register(relationshipmapping.New())
	r.Register(communitydetection.New())
	r.Register(anomalydetection.New())
	r.Register(pathfinding.New())
	r.Register(centrality.New())
	return r
}

// Register appends a strategy to the registry. Strategies are tried
// in registration order, so a later Register call for a kind already
// handled by an earlier strategy will never be reached.
func (r *Registry) Register(s capability.Strategy) {
	r.strategies = append(r.strategies, s)
}

// All returns every registered strategy, in registration order, for
// callers (such as the Analysis Engine constructor) that want a flat
// dispatch list rather than going through Resolve.
func (r *Registry) All() []capability.Strategy {
	return append([]capability.Strategy{}, r.strategies...)
}

// Resolve returns the first registered strategy that can handle kind.
func (r *Registry) Resolve(kind domain.Kind) (capability.Strategy, error) {
	for _, s := range r.strategies {
		if s.CanHandle(kind) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("no strategy registered for analysis kind %q", kind)
}
