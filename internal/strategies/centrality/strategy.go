// Package centrality implements the centrality analysis Analysis
// Strategy: degree, Brandes betweenness, and BFS closeness centrality
// over the entity graph, with an optional key-player composite score.
package centrality

import (
	"context"
	"sort"
	"time"

	"github.com/kestrelsec/intelgraph/internal/capability"
	"github.com/kestrelsec/intelgraph/internal/domain"
)

// Strategy ranks entities by their structural importance in the graph.
type Strategy struct{}

// New creates a centrality analysis strategy.
func New() *Strategy { return &Strategy{} }

var _ capability.Strategy = (*Strategy)(nil)

// CanHandle reports whether kind is centrality_analysis.
func (s *Strategy) CanHandle(kind domain.Kind) bool {
	return kind == domain.KindCentralityAnalysis
}

// Analyze computes the requested centrality metrics ("degree" default;
// "betweenness" and "closeness" also supported) for every entity.
func (s *Strategy) Analyze(ctx context.Context, request domain.AnalysisRequest, _ capability.LLMProvider, graph capability.GraphBackend) (*domain.AnalysisResult, error) {
	start := time.Now()

	metrics := domain.ParamStringSlice(request.Parameters, "metrics")
	if len(metrics) == 0 {
		metrics = []string{"degree"}
	}
	normalize := domain.ParamBool(request.Parameters, "normalize", false)
	directed := domain.ParamBool(request.Parameters, "directed", true)
	identifyKeyPlayers := domain.ParamBool(request.Parameters, "identify_key_players", false)
	topK := domain.ParamInt(request.Parameters, "top_k", 10)

	entities, err := graph.GetEntities(ctx, nil, 0)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return domain.Failure(request, "No entities found in graph"), nil
	}
	relationships, err := graph.GetRelationships(ctx, "", "", 0)
	if err != nil {
		return nil, err
	}

	entityLookup := make(map[string]*domain.Entity, len(entities))
	entityIDs := make([]string, 0, len(entities))
	for _, e := range entities {
		entityLookup[e.ID] = e
		entityIDs = append(entityIDs, e.ID)
	}
	sort.Strings(entityIDs)

	metricSet := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		metricSet[m] = true
	}

	scoresByEntity := make(map[string]map[string]float64)
	ensureScoreMap := func(id string) map[string]float64 {
		if scoresByEntity[id] == nil {
			scoresByEntity[id] = make(map[string]float64)
		}
		return scoresByEntity[id]
	}

	if metricSet["degree"] {
		for id, score := range degreeCentrality(entityIDs, relationships, directed, normalize) {
			ensureScoreMap(id)["degree"] = score
		}
	}
	if metricSet["betweenness"] {
		for id, score := range betweennessCentrality(entityIDs, relationships, directed, normalize) {
			ensureScoreMap(id)["betweenness"] = score
		}
	}
	if metricSet["closeness"] {
		for id, score := range closenessCentrality(entityIDs, relationships, directed, normalize) {
			ensureScoreMap(id)["closeness"] = score
		}
	}

	scoredIDs := make([]string, 0, len(scoresByEntity))
	for id := range scoresByEntity {
		scoredIDs = append(scoredIDs, id)
	}
	sort.Strings(scoredIDs)

	centralityScores := make([]map[string]any, 0, len(scoredIDs))
	for _, id := range scoredIDs {
		e, ok := entityLookup[id]
		if !ok {
			continue
		}
		entry := map[string]any{
			"entity_id":   id,
			"entity_name": e.Name,
			"entity_type": e.Type,
		}
		for metric, score := range scoresByEntity[id] {
			entry[metric] = score
		}
		centralityScores = append(centralityScores, entry)
	}

	if len(centralityScores) > 0 && len(metrics) > 0 {
		primary := metrics[0]
		sort.SliceStable(centralityScores, func(i, j int) bool {
			return floatOf(centralityScores[i][primary]) > floatOf(centralityScores[j][primary])
		})
	}

	data := map[string]any{"centrality_scores": centralityScores}
	if identifyKeyPlayers {
		data["key_players"] = identifyKeyPlayersFn(centralityScores, metrics, topK)
	}

	return &domain.AnalysisResult{
		Request: request,
		Success: true,
		Data:    data,
		Metadata: map[string]any{
			"metrics":            metrics,
			"num_entities":       len(entities),
			"num_relationships":  len(relationships),
			"normalized":         normalize,
			"directed":           directed,
		},
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}, nil
}

func floatOf(v any) float64 {
	f, _ := v.(float64)
	return f
}

func degreeCentrality(entityIDs []string, relationships []*domain.Relationship, directed, normalize bool) map[string]float64 {
	degree := make(map[string]float64)
	for _, id := range entityIDs {
		degree[id] = 0
	}

	if directed {
		inDegree := make(map[string]int)
		outDegree := make(map[string]int)
		for _, rel := range relationships {
			outDegree[rel.SourceID]++
			inDegree[rel.TargetID]++
		}
		for _, id := range entityIDs {
			degree[id] = float64(inDegree[id] + outDegree[id])
		}
	} else {
		for _, rel := range relationships {
			degree[rel.SourceID]++
			degree[rel.TargetID]++
		}
	}

	if normalize && len(entityIDs) > 1 {
		maxPossible := float64(len(entityIDs) - 1)
		if directed {
			maxPossible *= 2
		}
		for id := range degree {
			degree[id] /= maxPossible
		}
	}
	return degree
}

func buildDirectedAdjacency(relationships []*domain.Relationship, directed bool) map[string]map[string]bool {
	adj := make(map[string]map[string]bool)
	add := func(from, to string) {
		if adj[from] == nil {
			adj[from] = make(map[string]bool)
		}
		adj[from][to] = true
	}
	for _, rel := range relationships {
		add(rel.SourceID, rel.TargetID)
		if !directed {
			add(rel.TargetID, rel.SourceID)
		}
	}
	return adj
}

func sortedNeighbors(adj map[string]map[string]bool, node string) []string {
	neighbors := make([]string, 0, len(adj[node]))
	for n := range adj[node] {
		neighbors = append(neighbors, n)
	}
	sort.Strings(neighbors)
	return neighbors
}

// betweennessCentrality runs Brandes' algorithm (BFS variant for
// unweighted graphs) once per source node, accumulating dependency
// scores along every shortest-path DAG.
func betweennessCentrality(entityIDs []string, relationships []*domain.Relationship, directed, normalize bool) map[string]float64 {
	adj := buildDirectedAdjacency(relationships, directed)
	betweenness := make(map[string]float64)
	for _, id := range entityIDs {
		betweenness[id] = 0
	}

	for _, source := range entityIDs {
		var stack []string
		pred := make(map[string][]string)
		sigma := map[string]int{source: 1}
		dist := map[string]int{source: 0}
		queue := []string{source}

		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)

			for _, w := range sortedNeighbors(adj, v) {
				if _, ok := dist[w]; !ok {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					pred[w] = append(pred[w], v)
				}
			}
		}

		delta := make(map[string]float64)
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range pred[w] {
				delta[v] += (float64(sigma[v]) / float64(sigma[w])) * (1 + delta[w])
			}
			if w != source {
				betweenness[w] += delta[w]
			}
		}
	}

	n := len(entityIDs)
	if normalize && n > 2 {
		var norm float64
		if directed {
			norm = 1.0 / float64((n-1)*(n-2))
		} else {
			norm = 0.5 / float64((n-1)*(n-2))
		}
		for id := range betweenness {
			betweenness[id] *= norm
		}
	}
	return betweenness
}

func closenessCentrality(entityIDs []string, relationships []*domain.Relationship, directed, normalize bool) map[string]float64 {
	adj := buildDirectedAdjacency(relationships, directed)
	closeness := make(map[string]float64)

	for _, source := range entityIDs {
		distances := bfsDistances(source, adj, entityIDs)

		var totalDistance int
		reachable := 0
		for _, d := range distances {
			totalDistance += d
			if d > 0 {
				reachable++
			}
		}

		if totalDistance > 0 {
			c := float64(reachable) / float64(totalDistance)
			if normalize && len(entityIDs) > 1 {
				c *= float64(reachable) / float64(len(entityIDs)-1)
			}
			closeness[source] = c
		} else {
			closeness[source] = 0.0
		}
	}
	return closeness
}

func bfsDistances(source string, adj map[string]map[string]bool, allNodes []string) map[string]int {
	distances := map[string]int{source: 0}
	queue := []string{source}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, neighbor := range sortedNeighbors(adj, node) {
			if _, ok := distances[neighbor]; !ok {
				distances[neighbor] = distances[node] + 1
				queue = append(queue, neighbor)
			}
		}
	}

	for _, node := range allNodes {
		if _, ok := distances[node]; !ok {
			distances[node] = len(allNodes)
		}
	}
	return distances
}

func identifyKeyPlayersFn(centralityScores []map[string]any, metrics []string, topK int) []map[string]any {
	if len(centralityScores) == 0 || len(metrics) == 0 {
		return nil
	}

	type scored struct {
		entry      map[string]any
		composite  float64
	}
	scoredEntries := make([]scored, 0, len(centralityScores))
	for _, entry := range centralityScores {
		var composite float64
		for _, metric := range metrics {
			if v, ok := entry[metric]; ok {
				composite += floatOf(v)
			}
		}
		composite /= float64(len(metrics))

		withComposite := make(map[string]any, len(entry)+1)
		for k, v := range entry {
			withComposite[k] = v
		}
		withComposite["composite_score"] = composite
		scoredEntries = append(scoredEntries, scored{entry: withComposite, composite: composite})
	}

	sort.SliceStable(scoredEntries, func(i, j int) bool { return scoredEntries[i].composite > scoredEntries[j].composite })

	limit := topK
	if limit > len(scoredEntries) {
		limit = len(scoredEntries)
	}

	keyPlayers := make([]map[string]any, 0, limit)
	for i := 0; i < limit; i++ {
		entry := scoredEntries[i].entry
		keyPlayer := map[string]any{
			"rank":            i + 1,
			"entity_id":       entry["entity_id"],
			"entity_name":     entry["entity_name"],
			"entity_type":     entry["entity_type"],
			"composite_score": entry["composite_score"],
		}
		for _, metric := range metrics {
			if v, ok := entry[metric]; ok {
				keyPlayer[metric+"_score"] = v
			}
		}
		keyPlayers = append(keyPlayers, keyPlayer)
	}
	return keyPlayers
}
