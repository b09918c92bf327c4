// Package relationshipmapping implements the relationship mapping
// Analysis Strategy: given a set of entities, asks an LLM to surface
// (and optionally infer) relationships between them.
package relationshipmapping

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kestrelsec/intelgraph/internal/capability"
	"github.com/kestrelsec/intelgraph/internal/domain"
)

var defaultRelationshipTypes = []string{
	"works_for", "manages", "owns", "partners_with",
	"related_to", "knows", "located_in", "part_of",
	"connected_to", "influences", "depends_on",
}

// Strategy maps relationships between a set of entities.
type Strategy struct{}

// New creates a relationship mapping strategy.
func New() *Strategy { return &Strategy{} }

var _ capability.Strategy = (*Strategy)(nil)

// CanHandle reports whether kind is relationship_mapping.
func (s *Strategy) CanHandle(kind domain.Kind) bool {
	return kind == domain.KindRelationshipMapping
}

type extractedRelationship struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Confidence float64        `json:"confidence"`
}

type mappingResponse struct {
	Relationships []extractedRelationship `json:"relationships"`
}

// Analyze discovers relationships among request.Parameters["entity_ids"]
// (or, if empty, up to 100 entities from the graph) and stores them.
func (s *Strategy) Analyze(ctx context.Context, request domain.AnalysisRequest, llm capability.LLMProvider, graph capability.GraphBackend) (*domain.AnalysisResult, error) {
	start := time.Now()

	entityIDs := domain.ParamStringSlice(request.Parameters, "entity_ids")
	inferImplicit := domain.ParamBool(request.Parameters, "infer_implicit", false)
	relationshipTypes := domain.ParamStringSlice(request.Constraints, "relationship_types")
	if len(relationshipTypes) == 0 {
		relationshipTypes = defaultRelationshipTypes
	}

	entities, err := s.loadEntities(ctx, entityIDs, graph)
	if err != nil {
		return nil, err
	}
	if len(entities) < 2 {
		return domain.Failure(request, "Need at least 2 entities to map relationships"), nil
	}

	prompt := buildMappingPrompt(entities, relationshipTypes, inferImplicit, request.Context)
	response, err := llm.Complete(ctx, prompt, systemPrompt(), 0.4, 0, capability.ResponseFormat{Type: "json_object"})
	if err != nil {
		return nil, err
	}

	var parsed mappingResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return domain.Failure(request, fmt.Sprintf("Failed to parse LLM response: %v", err)), nil
	}

	lookup := make(map[string]*domain.Entity, len(entities))
	for _, e := range entities {
		lookup[e.Name] = e
	}

	var stored []map[string]any
	for _, rd := range parsed.Relationships {
		sourceEntity, ok1 := lookup[rd.Source]
		targetEntity, ok2 := lookup[rd.Target]
		if !ok1 || !ok2 {
			continue
		}

		rel := relationshipFromExtracted(rd, sourceEntity.ID, targetEntity.ID)
		if err := graph.AddRelationship(ctx, rel); err != nil {
			continue
		}
		stored = append(stored, relationshipToMap(rel))
	}

	return &domain.AnalysisResult{
		Request: request,
		Success: true,
		Data:    map[string]any{"relationships": stored},
		Metadata: map[string]any{
			"relationships_found":  len(parsed.Relationships),
			"relationships_stored": len(stored),
			"entities_analyzed":    len(entities),
			"inferred_implicit":    inferImplicit,
		},
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (s *Strategy) loadEntities(ctx context.Context, entityIDs []string, graph capability.GraphBackend) ([]*domain.Entity, error) {
	if len(entityIDs) == 0 {
		return graph.GetEntities(ctx, nil, 100)
	}
	var entities []*domain.Entity
	for _, id := range entityIDs {
		e, err := graph.GetEntity(ctx, id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			entities = append(entities, e)
		}
	}
	return entities, nil
}

func buildMappingPrompt(entities []*domain.Entity, relationshipTypes []string, inferImplicit bool, ctxData map[string]any) string {
	lines := make([]string, 0, len(entities))
	for _, e := range entities {
		line := fmt.Sprintf("- %s (%s)", e.Name, e.Type)
		if len(e.Properties) > 0 {
			b, _ := json.Marshal(e.Properties)
			line += fmt.Sprintf(" - Properties: %s", string(b))
		}
		lines = append(lines, line)
	}

	var implicitInstruction string
	if inferImplicit {
		implicitInstruction = `
Also infer implicit relationships based on:
- Shared properties or attributes
- Common patterns or behaviors
- Logical connections that may not be explicitly stated`
	}

	var contextStr string
	if len(ctxData) > 0 {
		b, _ := json.MarshalIndent(ctxData, "", "  ")
		contextStr = "\n\nAdditional context:\n" + string(b)
	}

	return fmt.Sprintf(`Analyze the following entities and identify relationships between them.

Entities:
%s
%s

Focus on these relationship types: %s
%s

For each relationship, provide:
- source: The source entity name
- target: The target entity name
- type: The relationship type
- properties: A dictionary of relationship properties
- confidence: A confidence score between 0 and 1

Return the result as a JSON object with a "relationships" array.`,
		strings.Join(lines, "\n"), contextStr, strings.Join(relationshipTypes, ", "), implicitInstruction)
}

func systemPrompt() string {
	return `You are an expert at identifying relationships between entities.
Analyze the entities carefully and identify meaningful connections.
Consider both explicit relationships and implicit connections based on shared attributes.
Be thoughtful about directionality - ensure source and target are correctly assigned.`
}

func relationshipFromExtracted(data extractedRelationship, sourceID, targetID string) *domain.Relationship {
	confidence := data.Confidence
	if confidence == 0 {
		confidence = 1.0
	}
	return &domain.Relationship{
		ID:         fmt.Sprintf("%s_%s_%s_%s", sourceID, targetID, data.Type, randomSuffix()),
		SourceID:   sourceID,
		TargetID:   targetID,
		Type:       data.Type,
		Properties: data.Properties,
		Confidence: confidence,
		Timestamp:  time.Now().UTC(),
	}
}

// randomSuffix mints an 8-hex-character disambiguator so repeated
// relationships of the same type between the same pair get distinct
// IDs, rather than silently overwriting one another.
func randomSuffix() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b[:])
}

func relationshipToMap(r *domain.Relationship) map[string]any {
	return map[string]any{
		"id":         r.ID,
		"source_id":  r.SourceID,
		"target_id":  r.TargetID,
		"type":       r.Type,
		"properties": r.Properties,
		"confidence": r.Confidence,
	}
}
