package exploration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/intelgraph/internal/domain"
)

func TestBreadthFirstStartsWithInitialExtraction(t *testing.T) {
	b := NewBreadthFirst(0)
	phase, ok := b.PlanNextPhase(State{InitialContext: map[string]any{"q": "who"}}, map[string]bool{})
	require.True(t, ok)
	assert.Equal(t, "initial_extraction", phase.Name)
	assert.Equal(t, domain.KindEntityExtraction, phase.Kind)
}

func TestBreadthFirstVisitsCurrentDepthBeforeAdvancing(t *testing.T) {
	b := NewBreadthFirst(3)
	entities := map[string]*domain.Entity{
		"a": {ID: "a", Properties: map[string]any{"depth": 0}},
		"b": {ID: "b", Properties: map[string]any{"depth": 0}},
		"c": {ID: "c", Properties: map[string]any{"depth": 1}},
	}
	state := State{Entities: entities}
	completed := map[string]bool{}

	phase, ok := b.PlanNextPhase(state, completed)
	require.True(t, ok)
	assert.Equal(t, "explore_a_depth_0", phase.Name)
	completed[phase.Name] = true

	phase, ok = b.PlanNextPhase(state, completed)
	require.True(t, ok)
	assert.Equal(t, "explore_b_depth_0", phase.Name)
	completed[phase.Name] = true

	// depth 0 exhausted, advances to depth 1 before returning c
	phase, ok = b.PlanNextPhase(state, completed)
	require.True(t, ok)
	assert.Equal(t, "explore_c_depth_1", phase.Name)
	assert.Equal(t, 1, b.CurrentDepth())
}

func TestBreadthFirstStopsAtMaxDepth(t *testing.T) {
	b := NewBreadthFirst(1)
	entities := map[string]*domain.Entity{
		"a": {ID: "a", Properties: map[string]any{"depth": 2}},
	}
	_, ok := b.PlanNextPhase(State{Entities: entities}, map[string]bool{})
	assert.False(t, ok)
}
