package centrality

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

func seedHub(t *testing.T, g *graphstore.Store) {
	t.Helper()
	for _, id := range []string{"hub", "a", "b", "c"} {
		require.NoError(t, g.AddEntity(context.Background(), &domain.Entity{ID: id, Name: id, Type: "node", Confidence: 1, Timestamp: time.Now()}))
	}
	for _, leaf := range []string{"a", "b", "c"} {
		require.NoError(t, g.AddRelationship(context.Background(), &domain.Relationship{
			ID: "r" + leaf, SourceID: "hub", TargetID: leaf, Type: "link", Confidence: 1, Timestamp: time.Now(),
		}))
	}
}

func TestCanHandle(t *testing.T) {
	s := New()
	assert.True(t, s.CanHandle(domain.KindCentralityAnalysis))
	assert.False(t, s.CanHandle(domain.KindPathFinding))
}

func TestAnalyzeRequiresEntities(t *testing.T) {
	s := New()
	req := domain.AnalysisRequest{Kind: domain.KindCentralityAnalysis}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), graphstore.New())
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestAnalyzeDegreeCentrality(t *testing.T) {
	g := graphstore.New()
	seedHub(t, g)

	s := New()
	req := domain.AnalysisRequest{Kind: domain.KindCentralityAnalysis}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), g)
	require.NoError(t, err)
	require.True(t, result.Success)

	scores := result.Data["centrality_scores"].([]map[string]any)
	require.NotEmpty(t, scores)
	assert.Equal(t, "hub", scores[0]["entity_id"])
}

func TestAnalyzeBetweennessAndKeyPlayers(t *testing.T) {
	g := graphstore.New()
	seedHub(t, g)

	s := New()
	req := domain.AnalysisRequest{
		Kind: domain.KindCentralityAnalysis,
		Parameters: map[string]any{
			"metrics":              []string{"degree", "betweenness"},
			"identify_key_players": true,
			"top_k":                2,
			"directed":             false,
		},
	}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), g)
	require.NoError(t, err)
	require.True(t, result.Success)

	keyPlayers := result.Data["key_players"].([]map[string]any)
	require.Len(t, keyPlayers, 2)
	assert.Equal(t, 1, keyPlayers[0]["rank"])
	assert.Equal(t, "hub", keyPlayers[0]["entity_id"])
}

func TestAnalyzeClosenessCentrality(t *testing.T) {
	g := graphstore.New()
	seedHub(t, g)

	s := New()
	req := domain.AnalysisRequest{
		Kind:       domain.KindCentralityAnalysis,
		Parameters: map[string]any{"metrics": []string{"closeness"}, "directed": false},
	}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), g)
	require.NoError(t, err)
	require.True(t, result.Success)
}
