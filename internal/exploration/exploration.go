// Package exploration implements the Investigation Pipeline's
// exploration strategies: advisory phase planners that suggest what to
// investigate next given the entities discovered so far. The pipeline
// may consult a Planner between scheduling rounds, or ignore it
// entirely when the caller supplies an explicit phase list.
package exploration

import (
	"sort"

	"github.com/kestrelsec/intelgraph/internal/domain"
)

// State is the planner-visible slice of an Investigation: the seed
// context plus every entity discovered so far.
type State struct {
	InitialContext map[string]any
	Entities       map[string]*domain.Entity
}

// PlannedPhase is the phase a Planner proposes scheduling next. Kind
// is the zero value for non-analysis planning actions (see
// HypothesisDriven's "generate_hypotheses" step), in which case Action
// names the action the caller should take instead of dispatching
// through the Analysis Engine.
type PlannedPhase struct {
	Name       string
	Kind       domain.Kind
	Action     string
	Parameters map[string]any
}

// Planner proposes the next phase to run given the current
// investigation state and the phases already completed.
type Planner interface {
	Name() string
	// PlanNextPhase returns the next phase to schedule, or ok == false
	// when the planner has nothing left to propose.
	PlanNextPhase(state State, completedPhases map[string]bool) (phase *PlannedPhase, ok bool)
}

// sortedEntityIDs returns state.Entities' keys in ascending order, so
// planners that walk the entity set produce a deterministic phase
// sequence rather than one that depends on Go's randomized map
// iteration.
func sortedEntityIDs(entities map[string]*domain.Entity) []string {
	ids := make([]string, 0, len(entities))
	for id := range entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// depthOf reads an entity's discovery depth from its "depth" property,
// defaulting to def when absent or not numeric.
func depthOf(e *domain.Entity, def int) int {
	if e == nil || e.Properties == nil {
		return def
	}
	switch v := e.Properties["depth"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}
