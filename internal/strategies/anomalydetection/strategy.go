// Package anomalydetection implements the anomaly detection Analysis
// Strategy: statistical z-score outliers over numeric entity
// properties, LLM-driven pattern anomalies, and graph-structural
// anomalies (degree and sampled betweenness).
package anomalydetection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kestrelsec/intelgraph/internal/capability"
	"github.com/kestrelsec/intelgraph/internal/domain"
)

// errMalformedLLMResponse marks a detection method's error as a JSON
// parse failure on the LLM's response rather than an infra failure, so
// Analyze can report it as a graceful domain.Failure instead of a raw
// error.
var errMalformedLLMResponse = errors.New("failed to parse LLM response")

// Strategy detects anomalies among entities and relationships.
type Strategy struct{}

// New creates an anomaly detection strategy.
func New() *Strategy { return &Strategy{} }

var _ capability.Strategy = (*Strategy)(nil)

// CanHandle reports whether kind is anomaly_detection.
func (s *Strategy) CanHandle(kind domain.Kind) bool {
	return kind == domain.KindAnomalyDetection
}

// Analyze dispatches to the requested detection method ("statistical"
// default, "pattern", or "graph").
func (s *Strategy) Analyze(ctx context.Context, request domain.AnalysisRequest, llm capability.LLMProvider, graph capability.GraphBackend) (*domain.AnalysisResult, error) {
	start := time.Now()

	entityType := domain.ParamString(request.Parameters, "entity_type")
	method := domain.ParamString(request.Parameters, "method")
	if method == "" {
		method = "statistical"
	}
	threshold := domain.ParamFloat(request.Parameters, "threshold", 2.0)
	contextWindow := domain.ParamInt(request.Parameters, "context_window", 100)
	metrics := domain.ParamStringSlice(request.Parameters, "metrics")
	if len(metrics) == 0 {
		metrics = []string{"degree"}
	}

	var anomalies []map[string]any
	var err error

	switch method {
	case "pattern":
		anomalies, err = s.detectPatternAnomalies(ctx, graph, llm, entityType, contextWindow)
	case "graph":
		anomalies, err = s.detectGraphAnomalies(ctx, graph, metrics, threshold)
	default:
		anomalies, err = s.detectStatisticalAnomalies(ctx, graph, entityType, threshold)
	}
	if err != nil {
		if errors.Is(err, errMalformedLLMResponse) {
			return domain.Failure(request, err.Error()), nil
		}
		return nil, err
	}

	return &domain.AnalysisResult{
		Request: request,
		Success: true,
		Data:    map[string]any{"anomalies": anomalies},
		Metadata: map[string]any{
			"method":           method,
			"entity_type":      entityType,
			"anomalies_found":  len(anomalies),
			"threshold":        threshold,
			"anomaly_detected": len(anomalies) > 0,
		},
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (s *Strategy) detectStatisticalAnomalies(ctx context.Context, graph capability.GraphBackend, entityType string, threshold float64) ([]map[string]any, error) {
	entities, err := graph.GetEntities(ctx, nil, 0)
	if err != nil {
		return nil, err
	}
	entities = filterByType(entities, entityType)
	if len(entities) == 0 {
		return nil, nil
	}

	type sample struct {
		entity *domain.Entity
		value  float64
	}
	numericProperties := make(map[string][]sample)
	propertyOrder := make([]string, 0)

	for _, e := range entities {
		propNames := make([]string, 0, len(e.Properties))
		for name := range e.Properties {
			propNames = append(propNames, name)
		}
		sort.Strings(propNames)
		for _, name := range propNames {
			value, ok := numericValue(e.Properties[name])
			if !ok {
				continue
			}
			if _, seen := numericProperties[name]; !seen {
				propertyOrder = append(propertyOrder, name)
			}
			numericProperties[name] = append(numericProperties[name], sample{entity: e, value: value})
		}
	}
	sort.Strings(propertyOrder)

	var anomalies []map[string]any
	for _, propName := range propertyOrder {
		samples := numericProperties[propName]
		if len(samples) < 3 {
			continue
		}

		values := make([]float64, len(samples))
		for i, sp := range samples {
			values[i] = sp.value
		}
		mean := meanOf(values)
		stdev := stdevOf(values, mean)
		if stdev == 0 {
			continue
		}

		for _, sp := range samples {
			z := math.Abs((sp.value - mean) / stdev)
			if z > threshold {
				anomalies = append(anomalies, map[string]any{
					"entity_id":   sp.entity.ID,
					"entity_name": sp.entity.Name,
					"entity_type": sp.entity.Type,
					"property":    propName,
					"value":       sp.value,
					"z_score":     z,
					"mean":        mean,
					"stdev":       stdev,
					"type":        "statistical_outlier",
				})
			}
		}
	}
	return anomalies, nil
}

func (s *Strategy) detectPatternAnomalies(ctx context.Context, graph capability.GraphBackend, llm capability.LLMProvider, entityType string, contextWindow int) ([]map[string]any, error) {
	entities, err := graph.GetEntities(ctx, nil, contextWindow)
	if err != nil {
		return nil, err
	}
	entities = filterByType(entities, entityType)
	if len(entities) == 0 {
		return nil, nil
	}

	prompt := buildPatternPrompt(entities)
	response, err := llm.Complete(ctx, prompt, patternSystemPrompt(), 0.4, 0, capability.ResponseFormat{Type: "json_object"})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Anomalies []map[string]any `json:"anomalies"`
	}
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedLLMResponse, err)
	}
	return parsed.Anomalies, nil
}

func (s *Strategy) detectGraphAnomalies(ctx context.Context, graph capability.GraphBackend, metrics []string, threshold float64) ([]map[string]any, error) {
	entities, err := graph.GetEntities(ctx, nil, 0)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	relationships, err := graph.GetRelationships(ctx, "", "", 0)
	if err != nil {
		return nil, err
	}

	metricSet := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		metricSet[m] = true
	}

	var anomalies []map[string]any
	if metricSet["degree"] {
		anomalies = append(anomalies, detectDegreeAnomalies(entities, relationships, threshold)...)
	}
	if metricSet["centrality"] {
		anomalies = append(anomalies, detectCentralityAnomalies(entities, relationships, threshold)...)
	}
	return anomalies, nil
}

func detectDegreeAnomalies(entities []*domain.Entity, relationships []*domain.Relationship, threshold float64) []map[string]any {
	degree := make(map[string]int)
	for _, rel := range relationships {
		degree[rel.SourceID]++
		degree[rel.TargetID]++
	}
	for _, e := range entities {
		if _, ok := degree[e.ID]; !ok {
			degree[e.ID] = 0
		}
	}
	if len(degree) < 3 {
		return nil
	}

	ids := make([]string, 0, len(degree))
	for id := range degree {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	values := make([]float64, len(ids))
	for i, id := range ids {
		values[i] = float64(degree[id])
	}
	mean := meanOf(values)
	stdev := stdevOf(values, mean)
	if stdev == 0 {
		return nil
	}

	lookup := make(map[string]*domain.Entity, len(entities))
	for _, e := range entities {
		lookup[e.ID] = e
	}

	var anomalies []map[string]any
	for _, id := range ids {
		d := float64(degree[id])
		z := math.Abs((d - mean) / stdev)
		if z <= threshold {
			continue
		}
		e, ok := lookup[id]
		if !ok {
			continue
		}
		anomalies = append(anomalies, map[string]any{
			"entity_id":   id,
			"entity_name": e.Name,
			"entity_type": e.Type,
			"metric":      "degree",
			"value":       degree[id],
			"z_score":     z,
			"mean":        mean,
			"stdev":       stdev,
			"type":        "graph_anomaly",
		})
	}
	return anomalies
}

// detectCentralityAnomalies approximates betweenness by sampling up to
// 20 entities (in deterministic sorted order, rather than the reference
// implementation's random sample, so results are reproducible) and
// counting how often each other node falls strictly between a sampled
// pair's shortest path.
func detectCentralityAnomalies(entities []*domain.Entity, relationships []*domain.Relationship, threshold float64) []map[string]any {
	adjacency := make(map[string]map[string]bool)
	for _, rel := range relationships {
		if adjacency[rel.SourceID] == nil {
			adjacency[rel.SourceID] = make(map[string]bool)
		}
		if adjacency[rel.TargetID] == nil {
			adjacency[rel.TargetID] = make(map[string]bool)
		}
		adjacency[rel.SourceID][rel.TargetID] = true
		adjacency[rel.TargetID][rel.SourceID] = true
	}

	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}
	sort.Strings(ids)

	sampleSize := len(ids)
	if sampleSize > 20 {
		sampleSize = 20
	}
	sampled := ids[:sampleSize]

	betweenness := make(map[string]int)
	for i, source := range sampled {
		for _, target := range sampled[i+1:] {
			path := bfsShortestPath(source, target, adjacency)
			if len(path) > 2 {
				for _, node := range path[1 : len(path)-1] {
					betweenness[node]++
				}
			}
		}
	}

	if len(betweenness) < 3 {
		return nil
	}

	betweenIDs := make([]string, 0, len(betweenness))
	for id := range betweenness {
		betweenIDs = append(betweenIDs, id)
	}
	sort.Strings(betweenIDs)

	values := make([]float64, len(betweenIDs))
	for i, id := range betweenIDs {
		values[i] = float64(betweenness[id])
	}
	mean := meanOf(values)
	stdev := stdevOf(values, mean)
	if stdev == 0 {
		stdev = 1
	}
	if stdev == 0 {
		return nil
	}

	lookup := make(map[string]*domain.Entity, len(entities))
	for _, e := range entities {
		lookup[e.ID] = e
	}

	var anomalies []map[string]any
	for _, id := range betweenIDs {
		v := float64(betweenness[id])
		z := math.Abs((v - mean) / stdev)
		if z <= threshold {
			continue
		}
		e, ok := lookup[id]
		if !ok {
			continue
		}
		anomalies = append(anomalies, map[string]any{
			"entity_id":   id,
			"entity_name": e.Name,
			"entity_type": e.Type,
			"metric":      "betweenness_centrality",
			"value":       betweenness[id],
			"z_score":     z,
			"mean":        mean,
			"stdev":       stdev,
			"type":        "graph_anomaly",
		})
	}
	return anomalies
}

func bfsShortestPath(source, target string, adjacency map[string]map[string]bool) []string {
	if source == target {
		return []string{source}
	}

	visited := map[string]bool{source: true}
	type item struct {
		node string
		path []string
	}
	queue := []item{{node: source, path: []string{source}}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		neighbors := make([]string, 0, len(adjacency[current.node]))
		for n := range adjacency[current.node] {
			neighbors = append(neighbors, n)
		}
		sort.Strings(neighbors)

		for _, neighbor := range neighbors {
			if visited[neighbor] {
				continue
			}
			visited[neighbor] = true
			newPath := append(append([]string{}, current.path...), neighbor)
			if neighbor == target {
				return newPath
			}
			queue = append(queue, item{node: neighbor, path: newPath})
		}
	}
	return nil
}

func filterByType(entities []*domain.Entity, entityType string) []*domain.Entity {
	if entityType == "" {
		return entities
	}
	filtered := make([]*domain.Entity, 0, len(entities))
	for _, e := range entities {
		if e.Type == entityType {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdevOf(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSquares float64
	for _, v := range values {
		d := v - mean
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}

func buildPatternPrompt(entities []*domain.Entity) string {
	limit := len(entities)
	if limit > 50 {
		limit = 50
	}

	lines := make([]string, 0, limit)
	for _, e := range entities[:limit] {
		b, _ := json.Marshal(map[string]any{
			"id": e.ID, "name": e.Name, "type": e.Type, "properties": e.Properties,
		})
		lines = append(lines, string(b))
	}

	return fmt.Sprintf(`Analyze the following entities and identify any that exhibit anomalous patterns:

Entities:
%s

Look for:
- Entities with unusual property combinations
- Behavioral anomalies based on entity type
- Entities that don't fit expected patterns
- Suspicious or outlier characteristics

For each anomaly found, provide:
- entity_id: The ID of the anomalous entity
- type: The type of anomaly (e.g., "behavioral", "property_mismatch", "suspicious_pattern")
- description: A clear description of why this is anomalous
- confidence: Confidence score (0-1)

Return the result as a JSON object with an "anomalies" array.`, strings.Join(lines, "\n"))
}

func patternSystemPrompt() string {
	return `You are an expert at detecting anomalies and unusual patterns in data.
Focus on identifying entities that deviate from normal patterns or expected behavior.
Be thorough but avoid false positives - only flag clear anomalies.
Consider the context and entity type when determining what constitutes normal behavior.`
}
