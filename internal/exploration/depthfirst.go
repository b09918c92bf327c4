package exploration

import (
	"fmt"

	"github.com/kestrelsec/intelgraph/internal/domain"
)

// DefaultDepthFirstMaxDepth mirrors the reference planner's default
// exploration depth.
const DefaultDepthFirstMaxDepth = 5

type stackEntry struct {
	entityID string
	depth    int
}

// DepthFirst follows one branch of discovered entities to its depth
// limit before backtracking, using a LIFO stack rather than
// BreadthFirst's ring-by-ring traversal.
type DepthFirst struct {
	maxDepth int
	stack    []stackEntry
	pushed   map[string]bool
}

// NewDepthFirst builds a DepthFirst planner. maxDepth <= 0 falls back
// to DefaultDepthFirstMaxDepth.
func NewDepthFirst(maxDepth int) *DepthFirst {
	if maxDepth <= 0 {
		maxDepth = DefaultDepthFirstMaxDepth
	}
	return &DepthFirst{maxDepth: maxDepth, pushed: make(map[string]bool)}
}

func (d *DepthFirst) Name() string { return "depth_first" }

func (d *DepthFirst) PlanNextPhase(state State, completed map[string]bool) (*PlannedPhase, bool) {
	if len(state.Entities) == 0 && len(d.stack) == 0 {
		return &PlannedPhase{
			Name:       "initial_extraction",
			Kind:       domain.KindEntityExtraction,
			Parameters: state.InitialContext,
		}, true
	}

	for _, id := range sortedEntityIDs(state.Entities) {
		if d.pushed[id] {
			continue
		}
		depth := depthOf(state.Entities[id], 0)
		d.pushed[id] = true
		if depth < d.maxDepth {
			d.stack = append(d.stack, stackEntry{entityID: id, depth: depth})
		}
	}

	for len(d.stack) > 0 {
		top := d.stack[len(d.stack)-1]
		d.stack = d.stack[:len(d.stack)-1]

		name := fmt.Sprintf("explore_%s_depth_%d", top.entityID, top.depth)
		if completed[name] {
			continue
		}
		return &PlannedPhase{
			Name: name,
			Kind: domain.KindEntityExtraction,
			Parameters: map[string]any{
				"entity_id": top.entityID,
				"context":   fmt.Sprintf("Explore connections of %s", top.entityID),
				"depth":     top.depth + 1,
			},
		}, true
	}
	return nil, false
}
