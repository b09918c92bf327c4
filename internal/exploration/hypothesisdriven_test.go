package exploration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/intelgraph/internal/domain"
	"github.com/kestrelsec/intelgraph/internal/llmprovider"
)

func TestGenerateHypothesesParsesLLMResponse(t *testing.T) {
	ctx := map[string]any{"case": "alpha"}
	prompt, err := hypothesisPrompt(ctx)
	require.NoError(t, err)

	fixture := llmprovider.NewFixtureProvider("m").WithFixture(prompt, `{"hypotheses": [
		{"id": "h1", "description": "a relationship exists between A and B", "confidence": 0.6, "required_evidence": ["relationships"]},
		{"id": "h2", "description": "an anomaly in login timing", "confidence": 0.4, "required_evidence": ["anomalies"]}
	]}`)

	h := NewHypothesisDriven(fixture)
	got, err := h.GenerateHypotheses(context.Background(), ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "h1", got[0].ID)
	assert.Equal(t, "h2", got[1].ID)
}

func TestGenerateHypothesesReturnsErrorOnMalformedResponse(t *testing.T) {
	ctx := map[string]any{"case": "alpha"}
	prompt, err := hypothesisPrompt(ctx)
	require.NoError(t, err)

	fixture := llmprovider.NewFixtureProvider("m").WithFixture(prompt, "not valid json")

	h := NewHypothesisDriven(fixture)
	got, err := h.GenerateHypotheses(context.Background(), ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
	assert.Nil(t, got)
	assert.Empty(t, h.Hypotheses())
}

func TestPlanNextPhaseGeneratesThenTestsHypotheses(t *testing.T) {
	h := NewHypothesisDriven(llmprovider.NewFixtureProvider("m"))
	state := State{InitialContext: map[string]any{"case": "alpha"}}
	completed := map[string]bool{}

	phase, ok := h.PlanNextPhase(state, completed)
	require.True(t, ok)
	assert.Equal(t, "hypothesis_generation", phase.Name)
	assert.Equal(t, "generate_hypotheses", phase.Action)
	completed[phase.Name] = true

	h.hypotheses = []Hypothesis{
		{ID: "h1", Description: "a relationship between two actors", RequiredEvidence: []string{"relationships"}},
		{ID: "h2", Description: "an anomaly in access patterns", RequiredEvidence: []string{"anomalies"}},
	}

	phase, ok = h.PlanNextPhase(state, completed)
	require.True(t, ok)
	assert.Equal(t, "test_hypothesis_h1", phase.Name)
	assert.Equal(t, domain.KindRelationshipMapping, phase.Kind)

	phase, ok = h.PlanNextPhase(state, completed)
	require.True(t, ok)
	assert.Equal(t, "test_hypothesis_h2", phase.Name)
	assert.Equal(t, domain.KindAnomalyDetection, phase.Kind)

	_, ok = h.PlanNextPhase(state, completed)
	assert.False(t, ok)
}

func TestUpdateHypothesesConfirmsWhenEvidencePresent(t *testing.T) {
	h := NewHypothesisDriven(llmprovider.NewFixtureProvider("m"))
	h.hypotheses = []Hypothesis{
		{ID: "h1", RequiredEvidence: []string{"relationships"}},
	}

	h.UpdateHypotheses("h1", &domain.AnalysisResult{
		Success: true,
		Data:    map[string]any{"relationships": []map[string]any{{"id": "r1"}}},
	})

	require.NotNil(t, h.hypotheses[0].Confirmed)
	assert.True(t, *h.hypotheses[0].Confirmed)
}

func TestUpdateHypothesesRefutesWhenEvidenceMissing(t *testing.T) {
	h := NewHypothesisDriven(llmprovider.NewFixtureProvider("m"))
	h.hypotheses = []Hypothesis{
		{ID: "h1", RequiredEvidence: []string{"relationships"}},
	}

	h.UpdateHypotheses("h1", &domain.AnalysisResult{Success: true, Data: map[string]any{}})

	require.NotNil(t, h.hypotheses[0].Confirmed)
	assert.False(t, *h.hypotheses[0].Confirmed)
}
