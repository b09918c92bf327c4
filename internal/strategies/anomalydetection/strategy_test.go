package anomalydetection

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

func seedEntityWithProp(t *testing.T, g *graphstore.Store, id string, value float64) {
	t.Helper()
	require.NoError(t, g.AddEntity(context.Background(), &domain.Entity{
		ID: id, Name: id, Type: "account", Confidence: 1.0, Timestamp: time.Now(),
		Properties: map[string]any{"balance": value},
	}))
}

func TestCanHandle(t *testing.T) {
	s := New()
	assert.True(t, s.CanHandle(domain.KindAnomalyDetection))
	assert.False(t, s.CanHandle(domain.KindCommunityDetection))
}

func TestAnalyzeStatisticalOutlier(t *testing.T) {
	g := graphstore.New()
	for i := 0; i < 9; i++ {
		seedEntityWithProp(t, g, string(rune('a'+i)), 10)
	}
	seedEntityWithProp(t, g, "outlier", 2000)

	s := New()
	req := domain.AnalysisRequest{Kind: domain.KindAnomalyDetection}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), g)
	require.NoError(t, err)
	require.True(t, result.Success)

	anomalies := result.Data["anomalies"].([]map[string]any)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "outlier", anomalies[0]["entity_id"])
}

func TestAnalyzeStatisticalNoEntities(t *testing.T) {
	s := New()
	req := domain.AnalysisRequest{Kind: domain.KindAnomalyDetection}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), graphstore.New())
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Empty(t, result.Data["anomalies"])
}

func TestAnalyzeGraphDegreeAnomaly(t *testing.T) {
	g := graphstore.New()
	for _, id := range []string{"hub", "a", "b", "c", "d"} {
		require.NoError(t, g.AddEntity(context.Background(), &domain.Entity{ID: id, Name: id, Type: "node", Confidence: 1, Timestamp: time.Now()}))
	}
	for i, leaf := range []string{"a", "b", "c", "d"} {
		require.NoError(t, g.AddRelationship(context.Background(), &domain.Relationship{
			ID: "r" + leaf, SourceID: "hub", TargetID: leaf, Type: "link", Confidence: 1, Timestamp: time.Now(),
		}))
		_ = i
	}

	s := New()
	req := domain.AnalysisRequest{
		Kind:       domain.KindAnomalyDetection,
		Parameters: map[string]any{"method": "graph", "metrics": []string{"degree"}, "threshold": 1.0},
	}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), g)
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestAnalyzePatternMethod(t *testing.T) {
	g := graphstore.New()
	seedEntityWithProp(t, g, "a", 1)

	s := New()
	req := domain.AnalysisRequest{
		Kind:       domain.KindAnomalyDetection,
		Parameters: map[string]any{"method": "pattern"},
	}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), g)
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestAnalyzePatternMethodHandlesMalformedResponse(t *testing.T) {
	g := graphstore.New()
	seedEntityWithProp(t, g, "a", 1)
	entities, err := g.GetEntities(context.Background(), nil, 100)
	require.NoError(t, err)

	prompt := buildPatternPrompt(entities)
	provider := llmprovider.NewFixtureProvider("m").WithFixture(prompt, "not valid json")

	s := New()
	req := domain.AnalysisRequest{
		Kind:       domain.KindAnomalyDetection,
		Parameters: map[string]any{"method": "pattern"},
	}
	result, err := s.Analyze(context.Background(), req, provider, g)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "parse")
}
