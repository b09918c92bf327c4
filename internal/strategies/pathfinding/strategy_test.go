package pathfinding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/intelgraph/internal/domain"
	"github.com/kestrelsec/intelgraph/internal/graphstore"
	"github.com/kestrelsec/intelgraph/internal/llmprovider"
)

func seedChain(t *testing.T, g *graphstore.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, g.AddEntity(context.Background(), &domain.Entity{
			ID: id, Name: id, Type: "node", Confidence: 1, Timestamp: time.Now(),
		}))
	}
	for i := 0; i < len(ids)-1; i++ {
		require.NoError(t, g.AddRelationship(context.Background(), &domain.Relationship{
			ID: "r" + ids[i] + ids[i+1], SourceID: ids[i], TargetID: ids[i+1], Type: "link", Confidence: 1, Timestamp: time.Now(),
		}))
	}
}

func TestCanHandle(t *testing.T) {
	s := New()
	assert.True(t, s.CanHandle(domain.KindPathFinding))
	assert.False(t, s.CanHandle(domain.KindAnomalyDetection))
}

func TestAnalyzeRequiresSourceAndTarget(t *testing.T) {
	s := New()
	req := domain.AnalysisRequest{Kind: domain.KindPathFinding}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), graphstore.New())
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestAnalyzeSinglePath(t *testing.T) {
	g := graphstore.New()
	seedChain(t, g, "a", "b", "c")

	s := New()
	req := domain.AnalysisRequest{
		Kind:       domain.KindPathFinding,
		Parameters: map[string]any{"source_id": "a", "target_id": "c"},
	}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), g)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, 2, result.Data["path_length"])
}

func TestAnalyzeNoPathFound(t *testing.T) {
	g := graphstore.New()
	seedChain(t, g, "a", "b")
	require.NoError(t, g.AddEntity(context.Background(), &domain.Entity{ID: "z", Name: "z", Type: "node", Confidence: 1, Timestamp: time.Now()}))

	s := New()
	req := domain.AnalysisRequest{
		Kind:       domain.KindPathFinding,
		Parameters: map[string]any{"source_id": "a", "target_id": "z"},
	}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), g)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestAnalyzeFindAll(t *testing.T) {
	g := graphstore.New()
	seedChain(t, g, "a", "b", "c", "d")

	s := New()
	req := domain.AnalysisRequest{
		Kind: domain.KindPathFinding,
		Parameters: map[string]any{
			"source_id": "a", "target_id": "d", "find_all": true, "max_length": 5, "max_paths": 3,
		},
	}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), g)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.GreaterOrEqual(t, result.Data["num_paths"], 1)
}
