// Package entityextraction implements the entity extraction Analysis
// Strategy: pulling structured entities out of unstructured text via
// an LLM, with optional deduplication against the graph backend.
package entityextraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kestrelsec/intelgraph/internal/capability"
	"github.com/kestrelsec/intelgraph/internal/domain"
)

var defaultEntityTypes = []string{
	"person", "organization", "location", "project",
	"event", "product", "technology", "concept",
}

// Strategy extracts entities from free text.
type Strategy struct{}

// New creates an entity extraction strategy.
func New() *Strategy { return &Strategy{} }

var _ capability.Strategy = (*Strategy)(nil)

// CanHandle reports whether kind is entity_extraction.
func (s *Strategy) CanHandle(kind domain.Kind) bool {
	return kind == domain.KindEntityExtraction
}

type extractedEntity struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Confidence float64        `json:"confidence"`
}

type extractionResponse struct {
	Entities []extractedEntity `json:"entities"`
}

// Analyze extracts entities from request.Parameters["text"] and stores
// them in graph, merging into an existing similarly-named entity when
// deduplication is requested.
func (s *Strategy) Analyze(ctx context.Context, request domain.AnalysisRequest, llm capability.LLMProvider, graph capability.GraphBackend) (*domain.AnalysisResult, error) {
	start := time.Now()

	text := domain.ParamString(request.Parameters, "text")
	if text == "" {
		return domain.Failure(request, "No text provided for entity extraction"), nil
	}

	entityTypes := domain.ParamStringSlice(request.Parameters, "entity_types")
	if len(entityTypes) == 0 {
		entityTypes = defaultEntityTypes
	}
	deduplicate := domain.ParamBool(request.Parameters, "deduplicate", true)
	source := domain.ParamString(request.Context, "source")

	prompt := buildExtractionPrompt(text, entityTypes, request.Context)
	response, err := llm.Complete(ctx, prompt, systemPrompt(), 0.3, 0, capability.ResponseFormat{Type: "json_object"})
	if err != nil {
		return nil, err
	}

	var parsed extractionResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return domain.Failure(request, fmt.Sprintf("Failed to parse LLM response: %v", err)), nil
	}

	var stored []map[string]any
	mergedCount := 0

	for _, ed := range parsed.Entities {
		entity := entityFromExtracted(ed, source)

		if deduplicate {
			existing, findErr := findSimilarEntity(ctx, entity, graph)
			if findErr == nil && existing != nil {
				entity = mergeEntities(existing, entity)
				mergedCount++
			}
		}

		if err := graph.AddEntity(ctx, entity); err != nil {
			continue
		}
		stored = append(stored, entityToMap(entity))
	}

	return &domain.AnalysisResult{
		Request: request,
		Success: true,
		Data:    map[string]any{"entities": stored},
		Metadata: map[string]any{
			"entities_extracted": len(parsed.Entities),
			"entities_stored":    len(stored),
			"merged_count":       mergedCount,
			"entity_types":       entityTypes,
		},
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}, nil
}

func buildExtractionPrompt(text string, entityTypes []string, ctxData map[string]any) string {
	var contextStr string
	if len(ctxData) > 0 {
		b, _ := json.MarshalIndent(ctxData, "", "  ")
		contextStr = "\n\nAdditional context:\n" + string(b)
	}

	return fmt.Sprintf(`Extract entities from the following text. Focus on identifying %s.

Text:
%s
%s

For each entity, provide:
- name: The entity's name as it appears in the text
- type: One of %s
- properties: A dictionary of relevant attributes
- confidence: A confidence score between 0 and 1

Return the result as a JSON object with an "entities" array.`,
		strings.Join(entityTypes, ", "), text, contextStr, strings.Join(entityTypes, ", "))
}

func systemPrompt() string {
	return `You are an expert at extracting structured entities from unstructured text.
Focus on identifying key entities and their properties accurately.
Be conservative - only extract entities that are clearly mentioned in the text.
Provide confidence scores that reflect the clarity of the entity reference.`
}

var titleCaser = cases.Title(language.Und)

// entityFromExtracted derives a deterministic entity ID from the
// entity's type and normalized name, so repeated extractions of the
// same named entity converge on one node.
func entityFromExtracted(data extractedEntity, source string) *domain.Entity {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(data.Name), " ", "_"))
	id := fmt.Sprintf("%s_%s", data.Type, normalized)

	confidence := data.Confidence
	if confidence == 0 {
		confidence = 1.0
	}

	return &domain.Entity{
		ID:         id,
		Name:       titleCaser.String(data.Name),
		Type:       data.Type,
		Properties: data.Properties,
		Confidence: confidence,
		Source:     source,
		Timestamp:  time.Now().UTC(),
	}
}

func findSimilarEntity(ctx context.Context, e *domain.Entity, graph capability.GraphBackend) (*domain.Entity, error) {
	results, err := graph.SearchEntities(ctx, map[string]any{"name": e.Name, "type": e.Type})
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results[0], nil
	}
	return nil, nil
}

// mergeEntities combines properties from new into existing, preferring
// new values on conflict, and blends confidence as a 0.7/0.3 weighted
// average favoring the established entity.
func mergeEntities(existing, newEntity *domain.Entity) *domain.Entity {
	merged := make(map[string]any, len(existing.Properties)+len(newEntity.Properties))
	for k, v := range existing.Properties {
		merged[k] = v
	}
	for k, v := range newEntity.Properties {
		merged[k] = v
	}

	confidence := existing.Confidence*0.7 + newEntity.Confidence*0.3
	if confidence > 1.0 {
		confidence = 1.0
	}

	source := existing.Source
	if source == "" {
		source = newEntity.Source
	}

	return &domain.Entity{
		ID:         existing.ID,
		Name:       existing.Name,
		Type:       existing.Type,
		Properties: merged,
		Confidence: confidence,
		Source:     source,
		Timestamp:  existing.Timestamp,
	}
}

func entityToMap(e *domain.Entity) map[string]any {
	return map[string]any{
		"id":         e.ID,
		"name":       e.Name,
		"type":       e.Type,
		"properties": e.Properties,
		"confidence": e.Confidence,
		"source":     e.Source,
	}
}
