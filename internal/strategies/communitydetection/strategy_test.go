package communitydetection

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

func seedEntity(t *testing.T, g *graphstore.Store, id, name, typ string) {
	t.Helper()
	require.NoError(t, g.AddEntity(context.Background(), &domain.Entity{
		ID: id, Name: name, Type: typ, Confidence: 1.0, Timestamp: time.Now(),
	}))
}

func seedRel(t *testing.T, g *graphstore.Store, id, from, to string) {
	t.Helper()
	require.NoError(t, g.AddRelationship(context.Background(), &domain.Relationship{
		ID: id, SourceID: from, TargetID: to, Type: "knows", Confidence: 1.0, Timestamp: time.Now(),
	}))
}

func TestCanHandle(t *testing.T) {
	s := New()
	assert.True(t, s.CanHandle(domain.KindCommunityDetection))
	assert.False(t, s.CanHandle(domain.KindPathFinding))
}

func TestAnalyzeRequiresEntities(t *testing.T) {
	s := New()
	g := graphstore.New()
	req := domain.AnalysisRequest{Kind: domain.KindCommunityDetection}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), g)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

// buildTwoCliques seeds two well-separated triangles connected by a
// single bridge edge, the textbook case for community detection.
func buildTwoCliques(t *testing.T, g *graphstore.Store) {
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		seedEntity(t, g, id, id, "person")
	}
	seedRel(t, g, "r1", "a", "b")
	seedRel(t, g, "r2", "b", "c")
	seedRel(t, g, "r3", "a", "c")
	seedRel(t, g, "r4", "d", "e")
	seedRel(t, g, "r5", "e", "f")
	seedRel(t, g, "r6", "d", "f")
	seedRel(t, g, "r7", "c", "d")
}

func TestAnalyzeLouvainFindsCommunities(t *testing.T) {
	g := graphstore.New()
	buildTwoCliques(t, g)

	s := New()
	req := domain.AnalysisRequest{Kind: domain.KindCommunityDetection}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), g)
	require.NoError(t, err)
	require.True(t, result.Success)

	communities := result.Data["communities"].([]map[string]any)
	assert.GreaterOrEqual(t, len(communities), 1)

	total := 0
	for _, c := range communities {
		total += c["size"].(int)
	}
	assert.Equal(t, 6, total)
}

func TestAnalyzeConnectedComponentsFallback(t *testing.T) {
	g := graphstore.New()
	buildTwoCliques(t, g)

	s := New()
	req := domain.AnalysisRequest{
		Kind:       domain.KindCommunityDetection,
		Parameters: map[string]any{"algorithm": "connected_components"},
	}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), g)
	require.NoError(t, err)
	require.True(t, result.Success)

	communities := result.Data["communities"].([]map[string]any)
	require.Len(t, communities, 1)
	assert.Equal(t, 6, communities[0]["size"])
}

func TestAnalyzeHierarchical(t *testing.T) {
	g := graphstore.New()
	buildTwoCliques(t, g)

	s := New()
	req := domain.AnalysisRequest{
		Kind:       domain.KindCommunityDetection,
		Parameters: map[string]any{"algorithm": "hierarchical", "max_levels": 2},
	}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), g)
	require.NoError(t, err)
	require.True(t, result.Success)

	hierarchy := result.Data["hierarchy"].(map[string]any)
	assert.GreaterOrEqual(t, hierarchy["num_levels"].(int), 0)
}

func TestConnectedComponentsIsolatedNodes(t *testing.T) {
	adj := adjacency{"x": {}, "y": {}}
	communities := connectedComponents(adj)
	assert.Len(t, communities, 2)
}

func TestCalculateDensitySingleNode(t *testing.T) {
	assert.Equal(t, 1.0, calculateDensity([]string{"a"}, adjacency{"a": {}}))
}
