package exploration

import (
	"fmt"

	"github.com/kestrelsec/intelgraph/internal/domain"
)

// DefaultBreadthFirstMaxDepth mirrors the reference planner's default
// exploration radius.
const DefaultBreadthFirstMaxDepth = 3

// BreadthFirst visits every entity discovered at the current depth
// before advancing to the next depth, so the investigation widens
// outward one ring at a time.
type BreadthFirst struct {
	maxDepth     int
	currentDepth int
}

// NewBreadthFirst builds a BreadthFirst planner. maxDepth <= 0 falls
// back to DefaultBreadthFirstMaxDepth.
func NewBreadthFirst(maxDepth int) *BreadthFirst {
	if maxDepth <= 0 {
		maxDepth = DefaultBreadthFirstMaxDepth
	}
	return &BreadthFirst{maxDepth: maxDepth}
}

func (b *BreadthFirst) Name() string { return "breadth_first" }

// CurrentDepth reports the ring the planner is currently exhausting.
func (b *BreadthFirst) CurrentDepth() int { return b.currentDepth }

func (b *BreadthFirst) PlanNextPhase(state State, completed map[string]bool) (*PlannedPhase, bool) {
	if len(state.Entities) == 0 && b.currentDepth == 0 {
		return &PlannedPhase{
			Name:       "initial_extraction",
			Kind:       domain.KindEntityExtraction,
			Parameters: state.InitialContext,
		}, true
	}

	entitiesByDepth := make(map[int][]string)
	for _, id := range sortedEntityIDs(state.Entities) {
		depth := depthOf(state.Entities[id], 0)
		entitiesByDepth[depth] = append(entitiesByDepth[depth], id)
	}

	for b.currentDepth < b.maxDepth {
		for _, id := range entitiesByDepth[b.currentDepth] {
			name := fmt.Sprintf("explore_%s_depth_%d", id, b.currentDepth)
			if completed[name] {
				continue
			}
			return &PlannedPhase{
				Name: name,
				Kind: domain.KindEntityExtraction,
				Parameters: map[string]any{
					"entity_id": id,
					"context":   fmt.Sprintf("Explore connections of %s", id),
				},
			}, true
		}
		b.currentDepth++
	}
	return nil, false
}
