package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/intelgraph/internal/capability"
	"github.com/kestrelsec/intelgraph/internal/domain"
	"github.com/kestrelsec/intelgraph/internal/engine"
	"github.com/kestrelsec/intelgraph/internal/graphstore"
	"github.com/kestrelsec/intelgraph/internal/llmprovider"
)

// recordingStrategy stamps entry/exit timestamps for every call it
// handles, so tests can assert concurrent phases actually overlapped.
type recordingStrategy struct {
	kind  domain.Kind
	delay time.Duration
	mu    sync.Mutex
	logs  []interval
	fn    func(request domain.AnalysisRequest) *domain.AnalysisResult
}

type interval struct {
	start, end time.Time
}

func (s *recordingStrategy) CanHandle(kind domain.Kind) bool { return kind == s.kind }

func (s *recordingStrategy) Analyze(ctx context.Context, request domain.AnalysisRequest, _ capability.LLMProvider, _ capability.GraphBackend) (*domain.AnalysisResult, error) {
	start := time.Now()
	delay := s.delay
	if delay == 0 {
		delay = 20 * time.Millisecond
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	end := time.Now()

	s.mu.Lock()
	s.logs = append(s.logs, interval{start: start, end: end})
	s.mu.Unlock()

	if s.fn != nil {
		return s.fn(request), nil
	}
	return &domain.AnalysisResult{Request: request, Success: true, Timestamp: time.Now().UTC()}, nil
}

func newEngine(strategies ...capability.Strategy) *engine.Engine {
	return engine.New(llmprovider.NewFixtureProvider("m"), graphstore.New(), nil, strategies, engine.Config{}, nil)
}

func TestInvestigateDefaultPhasesSequential(t *testing.T) {
	extract := &recordingStrategy{kind: domain.KindEntityExtraction}
	mapping := &recordingStrategy{kind: domain.KindRelationshipMapping}
	analyze := &recordingStrategy{kind: domain.KindCommunityDetection}

	eng := newEngine(extract, mapping, analyze)
	p := New(eng, Config{}, nil)

	view := p.Investigate(context.Background(), map[string]any{}, []string{"map the network"}, nil)

	require.Len(t, view.Phases, 3)
	assert.Equal(t, "extract", view.Phases[0].Name)
	assert.Equal(t, "map", view.Phases[1].Name)
	assert.Equal(t, "analyze", view.Phases[2].Name)
	assert.Equal(t, string(domain.StatusCompleted), view.Status)
}

func TestInvestigateSkipsPhaseWithUnmetDependency(t *testing.T) {
	extract := &recordingStrategy{kind: domain.KindEntityExtraction}
	eng := newEngine(extract)
	p := New(eng, Config{}, nil)

	view := p.Investigate(context.Background(), nil, nil, []PhaseSpec{
		{Name: "orphan", Kind: domain.KindRelationshipMapping, DependsOn: []string{"missing"}},
	})

	require.Len(t, view.Phases, 1)
	assert.Equal(t, string(domain.PhaseSkipped), string(view.Phases[0].Status))
}

func TestInvestigateParallelPhasesOverlap(t *testing.T) {
	extractA := &recordingStrategy{kind: domain.KindEntityExtraction}
	extractB := &recordingStrategy{kind: domain.KindCentralityAnalysis}
	mapping := &recordingStrategy{kind: domain.KindRelationshipMapping}

	eng := newEngine(extractA, extractB, mapping)
	p := New(eng, Config{EnableParallel: true}, nil)

	view := p.Investigate(context.Background(), nil, nil, []PhaseSpec{
		{Name: "a", Kind: domain.KindEntityExtraction},
		{Name: "b", Kind: domain.KindCentralityAnalysis},
		{Name: "merge", Kind: domain.KindRelationshipMapping, DependsOn: []string{"a", "b"}},
	})

	require.Len(t, view.Phases, 3)
	require.Len(t, extractA.logs, 1)
	require.Len(t, extractB.logs, 1)
	require.Len(t, mapping.logs, 1)

	assert.True(t, extractA.logs[0].start.Before(mapping.logs[0].start))
	assert.True(t, extractB.logs[0].start.Before(mapping.logs[0].start))
	// The two independent phases' windows overlap.
	assert.True(t, extractA.logs[0].start.Before(extractB.logs[0].end))
	assert.True(t, extractB.logs[0].start.Before(extractA.logs[0].end))
}

func TestInvestigateAdaptiveInjection(t *testing.T) {
	anomalyDetected := false
	trigger := &recordingStrategy{
		kind: domain.KindCommunityDetection,
		fn: func(request domain.AnalysisRequest) *domain.AnalysisResult {
			return &domain.AnalysisResult{
				Request:  request,
				Success:  true,
				Metadata: map[string]any{"anomaly_detected": true},
				Timestamp: time.Now().UTC(),
			}
		},
	}
	anomaly := &recordingStrategy{
		kind: domain.KindAnomalyDetection,
		fn: func(request domain.AnalysisRequest) *domain.AnalysisResult {
			anomalyDetected = true
			return &domain.AnalysisResult{Request: request, Success: true, Timestamp: time.Now().UTC()}
		},
	}

	eng := newEngine(trigger, anomaly)
	p := New(eng, Config{Adaptive: true}, nil)

	view := p.Investigate(context.Background(), nil, nil, []PhaseSpec{
		{Name: "analyze", Kind: domain.KindCommunityDetection},
	})

	require.Len(t, view.Phases, 2)
	assert.Equal(t, "adaptive_analyze", view.Phases[1].Name)
	assert.Equal(t, 1, view.AdaptiveActions)
	assert.True(t, anomalyDetected)
}

func TestInvestigateContinueOnErrorMarksCompletedWithErrors(t *testing.T) {
	eng := newEngine() // no strategies registered, every phase fails
	p := New(eng, Config{ContinueOnError: true}, nil)

	view := p.Investigate(context.Background(), nil, nil, []PhaseSpec{
		{Name: "a", Kind: domain.KindEntityExtraction},
		{Name: "b", Kind: domain.KindRelationshipMapping, DependsOn: []string{"a"}},
	})

	assert.Equal(t, string(domain.StatusCompletedWithErrors), view.Status)
	assert.NotEmpty(t, view.Errors)
}

func TestInvestigateHaltsOnFailureWithoutContinueOnError(t *testing.T) {
	eng := newEngine() // no strategies registered
	p := New(eng, Config{}, nil)

	view := p.Investigate(context.Background(), nil, nil, []PhaseSpec{
		{Name: "a", Kind: domain.KindEntityExtraction},
		{Name: "b", Kind: domain.KindRelationshipMapping, DependsOn: []string{"a"}},
	})

	assert.Equal(t, string(domain.StatusFailed), view.Status)
}

func TestAddEvidenceAppendsAndStampsTimestamp(t *testing.T) {
	eng := newEngine(&recordingStrategy{kind: domain.KindEntityExtraction})
	p := New(eng, Config{}, nil)

	view := p.Investigate(context.Background(), nil, nil, []PhaseSpec{
		{Name: "extract", Kind: domain.KindEntityExtraction},
	})

	ok := p.AddEvidence(context.Background(), view.InvestigationID, domain.Evidence{Body: "a tip from a source"})
	require.True(t, ok)

	got, found := p.GetInvestigation(view.InvestigationID)
	require.True(t, found)
	require.Len(t, got.Evidence, 1)
	assert.False(t, got.Evidence[0].Timestamp.IsZero())
}

func TestAddEvidenceUnknownInvestigation(t *testing.T) {
	p := New(newEngine(), Config{}, nil)
	ok := p.AddEvidence(context.Background(), "does-not-exist", domain.Evidence{Body: "x"})
	assert.False(t, ok)
}

func TestSaveAndLoadStateRoundTrips(t *testing.T) {
	eng := newEngine(&recordingStrategy{kind: domain.KindEntityExtraction})
	p := New(eng, Config{EnablePersistence: true}, nil)

	view := p.Investigate(context.Background(), map[string]any{"case": "alpha"}, []string{"find the source"}, []PhaseSpec{
		{Name: "extract", Kind: domain.KindEntityExtraction},
	})

	snap, ok := p.SaveState(view.InvestigationID)
	require.True(t, ok)

	fresh := New(newEngine(), Config{EnablePersistence: true}, nil)
	require.True(t, fresh.LoadState(snap))

	restored, found := fresh.GetInvestigation(view.InvestigationID)
	require.True(t, found)
	assert.Equal(t, view.Status, restored.Status)
	assert.Equal(t, view.Objectives, restored.Objectives)
	require.Len(t, restored.Phases, 1)
	assert.Equal(t, "extract", restored.Phases[0].Name)
}

func TestSaveStateDisabledByDefault(t *testing.T) {
	p := New(newEngine(), Config{}, nil)
	view := p.Investigate(context.Background(), nil, nil, []PhaseSpec{})
	_, ok := p.SaveState(view.InvestigationID)
	assert.False(t, ok)
}

func TestInvestigateTimesOut(t *testing.T) {
	slow := &recordingStrategy{kind: domain.KindEntityExtraction, delay: 1200 * time.Millisecond}
	eng := engine.New(llmprovider.NewFixtureProvider("m"), graphstore.New(), nil, []capability.Strategy{slow}, engine.Config{}, nil)
	p := New(eng, Config{TimeoutSeconds: 1}, nil)

	view := p.Investigate(context.Background(), nil, nil, []PhaseSpec{
		{Name: "extract", Kind: domain.KindEntityExtraction},
	})
	assert.Equal(t, string(domain.StatusTimeout), view.Status)
	require.NotEmpty(t, view.Errors)
	assert.Contains(t, view.Errors[0], "timed out")
}

func TestInvestigateWithinDeadlineSucceeds(t *testing.T) {
	fast := &recordingStrategy{kind: domain.KindEntityExtraction, delay: 5 * time.Millisecond}
	eng := engine.New(llmprovider.NewFixtureProvider("m"), graphstore.New(), nil, []capability.Strategy{fast}, engine.Config{}, nil)
	p := New(eng, Config{TimeoutSeconds: 1}, nil)

	view := p.Investigate(context.Background(), nil, nil, []PhaseSpec{
		{Name: "extract", Kind: domain.KindEntityExtraction},
	})
	assert.Equal(t, string(domain.StatusCompleted), view.Status)
}
