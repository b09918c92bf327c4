package exploration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kestrelsec/intelgraph/internal/capability"
	"github.com/kestrelsec/intelgraph/internal/domain"
)

// Hypothesis is a testable claim about the entities under
// investigation, generated up front and confirmed or refuted as
// evidence-gathering phases complete.
type Hypothesis struct {
	ID               string   `json:"id"`
	Description      string   `json:"description"`
	Confidence       float64  `json:"confidence"`
	RequiredEvidence []string `json:"required_evidence"`
	Confirmed        *bool    `json:"confirmed,omitempty"`
}

// HypothesisDriven is a composite planner: unlike BreadthFirst and
// DepthFirst it owns an LLMProvider directly rather than depending on
// the pipeline to supply analysis results, since hypothesis generation
// is itself an LLM call rather than a graph traversal.
type HypothesisDriven struct {
	llm        capability.LLMProvider
	hypotheses []Hypothesis
	tested     map[string]bool
}

// NewHypothesisDriven builds a HypothesisDriven planner backed by llm.
func NewHypothesisDriven(llm capability.LLMProvider) *HypothesisDriven {
	return &HypothesisDriven{llm: llm, tested: make(map[string]bool)}
}

func (h *HypothesisDriven) Name() string { return "hypothesis_driven" }

// Hypotheses returns the current hypothesis set, generated lazily by
// the first GenerateHypotheses call.
func (h *HypothesisDriven) Hypotheses() []Hypothesis { return h.hypotheses }

// GenerateHypotheses asks the LLM for 2-3 testable hypotheses about
// context and records them for later phase planning.
func (h *HypothesisDriven) GenerateHypotheses(ctx context.Context, context_ map[string]any) ([]Hypothesis, error) {
	prompt, err := hypothesisPrompt(context_)
	if err != nil {
		return nil, err
	}

	response, err := h.llm.Complete(ctx, prompt, hypothesisSystemPrompt(), 0.5, 0, capability.ResponseFormat{Type: "json_object"})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Hypotheses []Hypothesis `json:"hypotheses"`
	}
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse LLM response: %w", err)
	}

	h.hypotheses = parsed.Hypotheses
	return h.hypotheses, nil
}

func hypothesisSystemPrompt() string {
	return "You are an investigative analyst proposing testable hypotheses from partial evidence. Be specific and falsifiable."
}

func hypothesisPrompt(context_ map[string]any) (string, error) {
	contextJSON, err := json.Marshal(context_)
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}
	return fmt.Sprintf(`Given this investigation context, generate 2-3 testable hypotheses
about what might be happening. For each hypothesis provide an id, a
description, a confidence between 0 and 1, and the kinds of evidence
that would confirm it.

Context:
%s

Respond as JSON: {"hypotheses": [{"id": "...", "description": "...", "confidence": 0.0, "required_evidence": ["..."]}]}`, string(contextJSON)), nil
}

// PlanNextPhase proposes a hypothesis-generation phase first, then one
// test phase per untested hypothesis, routed to an analysis kind by
// keyword match on the hypothesis description.
func (h *HypothesisDriven) PlanNextPhase(state State, completed map[string]bool) (*PlannedPhase, bool) {
	if len(h.hypotheses) == 0 && !completed["hypothesis_generation"] {
		return &PlannedPhase{
			Name:       "hypothesis_generation",
			Action:     "generate_hypotheses",
			Parameters: state.InitialContext,
		}, true
	}

	for _, hyp := range h.hypotheses {
		if h.tested[hyp.ID] {
			continue
		}
		h.tested[hyp.ID] = true
		return &PlannedPhase{
			Name: fmt.Sprintf("test_hypothesis_%s", hyp.ID),
			Kind: kindForHypothesis(hyp),
			Parameters: map[string]any{
				"hypothesis": hyp,
			},
		}, true
	}
	return nil, false
}

// kindForHypothesis routes a hypothesis to the analysis kind most
// likely to gather the evidence it describes, falling back to entity
// extraction when nothing more specific matches.
func kindForHypothesis(hyp Hypothesis) domain.Kind {
	description := strings.ToLower(hyp.Description)
	switch {
	case strings.Contains(description, "relationship"):
		return domain.KindRelationshipMapping
	case strings.Contains(description, "anomaly"):
		return domain.KindAnomalyDetection
	case strings.Contains(description, "community"):
		return domain.KindCommunityDetection
	default:
		return domain.KindEntityExtraction
	}
}

// UpdateHypotheses marks the hypothesis identified by hypothesisID as
// confirmed or refuted based on whether result actually produced the
// kind of evidence the hypothesis required.
func (h *HypothesisDriven) UpdateHypotheses(hypothesisID string, result *domain.AnalysisResult) {
	for i := range h.hypotheses {
		if h.hypotheses[i].ID != hypothesisID {
			continue
		}
		confirmed := evaluateHypothesis(h.hypotheses[i], result)
		h.hypotheses[i].Confirmed = &confirmed
		return
	}
}

// evaluateHypothesis checks result.Data for at least one of the
// required evidence kinds the hypothesis named.
func evaluateHypothesis(hyp Hypothesis, result *domain.AnalysisResult) bool {
	if result == nil || !result.Success || len(hyp.RequiredEvidence) == 0 {
		return false
	}
	for _, kind := range hyp.RequiredEvidence {
		if v, ok := result.Data[kind]; ok {
			if items, ok := v.([]any); ok && len(items) > 0 {
				return true
			}
			if items, ok := v.([]map[string]any); ok && len(items) > 0 {
				return true
			}
		}
	}
	return false
}
