package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelsec/intelgraph/internal/cachestore"
	"github.com/kestrelsec/intelgraph/internal/capability"
	"github.com/kestrelsec/intelgraph/internal/domain"
	"github.com/kestrelsec/intelgraph/internal/engine"
	"github.com/kestrelsec/intelgraph/internal/graphstore"
	"github.com/kestrelsec/intelgraph/internal/llmprovider"
	"github.com/kestrelsec/intelgraph/internal/pipeline"
)

type stubStrategy struct{ kind domain.Kind }

func (s *stubStrategy) CanHandle(kind domain.Kind) bool { return kind == s.kind }
func (s *stubStrategy) Analyze(ctx context.Context, request domain.AnalysisRequest, _ capability.LLMProvider, _ capability.GraphBackend) (*domain.AnalysisResult, error) {
	return &domain.AnalysisResult{Request: request, Success: true, Timestamp: time.Now().UTC()}, nil
}

type erroringGraph struct{ *graphstore.Store }

func newErroringGraph() *erroringGraph {
	return &erroringGraph{Store: graphstore.New()}
}

func (e *erroringGraph) GetEntities(ctx context.Context, filter *capability.EntityFilter, limit int) ([]*domain.Entity, error) {
	return nil, errors.New("backend down")
}

func newHarness(t *testing.T, strategies []capability.Strategy, graph capability.GraphBackend, cache capability.Cache) *Checker {
	t.Helper()
	eng := engine.New(llmprovider.NewFixtureProvider("m"), graph, cache, strategies, engine.Config{}, zap.NewNop())
	pl := pipeline.New(eng, pipeline.Config{}, zap.NewNop())
	return New(eng, pl, graph, cache, zap.NewNop())
}

func TestCheckAllHealthyWhenEverythingWorks(t *testing.T) {
	checker := newHarness(t, []capability.Strategy{&stubStrategy{kind: domain.KindEntityExtraction}}, graphstore.New(), cachestore.New(10))

	status, checks := checker.CheckAll(context.Background())
	assert.Equal(t, StatusHealthy, status)
	assert.Len(t, checks, 3)
	for _, c := range checks {
		assert.Equal(t, StatusHealthy, c.Status)
	}
}

func TestCheckAllSkipsCacheWhenNil(t *testing.T) {
	checker := newHarness(t, []capability.Strategy{&stubStrategy{kind: domain.KindEntityExtraction}}, graphstore.New(), nil)

	_, checks := checker.CheckAll(context.Background())
	require.Len(t, checks, 2)
	for _, c := range checks {
		assert.NotEqual(t, "cache", c.Name)
	}
}

func TestCheckAllUnhealthyWithNoStrategies(t *testing.T) {
	checker := newHarness(t, nil, graphstore.New(), cachestore.New(10))

	status, checks := checker.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status)

	var strategiesCheck Check
	for _, c := range checks {
		if c.Name == "strategies" {
			strategiesCheck = c
		}
	}
	assert.Equal(t, StatusUnhealthy, strategiesCheck.Status)
}

func TestCheckAllUnhealthyWhenGraphBackendErrors(t *testing.T) {
	graph := newErroringGraph()
	checker := newHarness(t, []capability.Strategy{&stubStrategy{kind: domain.KindEntityExtraction}}, graph, nil)

	status, checks := checker.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status)

	var graphCheck Check
	for _, c := range checks {
		if c.Name == "graph_backend" {
			graphCheck = c
		}
	}
	assert.Equal(t, StatusUnhealthy, graphCheck.Status)
}
