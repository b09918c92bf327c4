package relationshipmapping

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

func TestCanHandle(t *testing.T) {
	s := New()
	assert.True(t, s.CanHandle(domain.KindRelationshipMapping))
	assert.False(t, s.CanHandle(domain.KindCentralityAnalysis))
}

func TestAnalyzeRequiresTwoEntities(t *testing.T) {
	g := graphstore.New()
	seedEntity(t, g, "a", "Alice", "person")

	s := New()
	req := domain.AnalysisRequest{Kind: domain.KindRelationshipMapping, Parameters: map[string]any{"entity_ids": []string{"a"}}}
	result, err := s.Analyze(context.Background(), req, llmprovider.NewFixtureProvider("m"), g)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestAnalyzeMapsRelationships(t *testing.T) {
	g := graphstore.New()
	seedEntity(t, g, "a", "Alice", "person")
	seedEntity(t, g, "b", "Bob", "person")

	req := domain.AnalysisRequest{Kind: domain.KindRelationshipMapping, Parameters: map[string]any{"entity_ids": []string{"a", "b"}}}
	entities, err := g.GetEntities(context.Background(), nil, 0)
	require.NoError(t, err)
	prompt := buildMappingPrompt(entities, defaultRelationshipTypes, false, nil)

	fixture := `{"relationships":[{"source":"Alice","target":"Bob","type":"knows","properties":{},"confidence":0.8}]}`
	provider := llmprovider.NewFixtureProvider("m").WithFixture(prompt, fixture)

	s := New()
	result, err := s.Analyze(context.Background(), req, provider, g)
	require.NoError(t, err)
	require.True(t, result.Success)

	rels := result.Data["relationships"].([]map[string]any)
	require.Len(t, rels, 1)
	assert.Equal(t, "knows", rels[0]["type"])

	stored, err := g.GetRelationships(context.Background(), "a", "", 0)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestAnalyzeSkipsUnknownEntityNames(t *testing.T) {
	g := graphstore.New()
	seedEntity(t, g, "a", "Alice", "person")
	seedEntity(t, g, "b", "Bob", "person")

	entities, err := g.GetEntities(context.Background(), nil, 0)
	require.NoError(t, err)
	prompt := buildMappingPrompt(entities, defaultRelationshipTypes, false, nil)

	fixture := `{"relationships":[{"source":"Ghost","target":"Bob","type":"knows","confidence":0.5}]}`
	provider := llmprovider.NewFixtureProvider("m")
	provider.WithFixture(prompt, fixture)

	s := New()
	req := domain.AnalysisRequest{Kind: domain.KindRelationshipMapping}
	// The response names "Ghost", which is not among the loaded
	// entities, so the relationship is skipped rather than stored.
	result, err := s.Analyze(context.Background(), req, provider, g)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Data["relationships"])
}
