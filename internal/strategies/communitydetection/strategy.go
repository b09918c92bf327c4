// Package communitydetection implements the community detection
// Analysis Strategy: a simplified Louvain-style modularity-optimizing
// partition, with a hierarchical variant and a connected-components
// fallback for any other algorithm name.
package communitydetection

import (
	"context"
	"sort"
	"time"

	"github.com/kestrelsec/intelgraph/internal/capability"
	"github.com/kestrelsec/intelgraph/internal/domain"
)

// Strategy detects communities in the entity graph.
type Strategy struct{}

// New creates a community detection strategy.
func New() *Strategy { return &Strategy{} }

var _ capability.Strategy = (*Strategy)(nil)

// CanHandle reports whether kind is community_detection.
func (s *Strategy) CanHandle(kind domain.Kind) bool {
	return kind == domain.KindCommunityDetection
}

// adjacency maps a node to its undirected neighbor weights.
type adjacency map[string]map[string]float64

// Analyze partitions the graph's entities into communities using the
// requested algorithm ("louvain" default, "hierarchical", or anything
// else falling back to connected components).
func (s *Strategy) Analyze(ctx context.Context, request domain.AnalysisRequest, _ capability.LLMProvider, graph capability.GraphBackend) (*domain.AnalysisResult, error) {
	start := time.Now()

	algorithm := domain.ParamString(request.Parameters, "algorithm")
	if algorithm == "" {
		algorithm = "louvain"
	}
	useWeights := domain.ParamBool(request.Parameters, "use_weights", false)
	weightProperty := domain.ParamString(request.Parameters, "weight_property")
	if weightProperty == "" {
		weightProperty = "weight"
	}
	maxLevels := domain.ParamInt(request.Parameters, "max_levels", 3)

	entities, err := graph.GetEntities(ctx, nil, 0)
	if err != nil {
		return nil, err
	}
	relationships, err := graph.GetRelationships(ctx, "", "", 0)
	if err != nil {
		return nil, err
	}

	if len(entities) == 0 {
		return domain.Failure(request, "No entities found in graph"), nil
	}

	adj := buildAdjacency(entities, relationships, useWeights, weightProperty)

	if algorithm == "hierarchical" {
		hierarchy := hierarchicalCommunities(adj, maxLevels)
		return &domain.AnalysisResult{
			Request: request,
			Success: true,
			Data:    hierarchy,
			Metadata: map[string]any{
				"algorithm":          algorithm,
				"num_entities":       len(entities),
				"num_relationships":  len(relationships),
			},
			DurationMS: time.Since(start).Milliseconds(),
			Timestamp:  time.Now().UTC(),
		}, nil
	}

	var communities map[string][]string
	if algorithm == "louvain" {
		communities = louvainCommunities(adj)
	} else {
		communities = connectedComponents(adj)
	}

	entityLookup := make(map[string]*domain.Entity, len(entities))
	for _, e := range entities {
		entityLookup[e.ID] = e
	}

	communityIDs := make([]string, 0, len(communities))
	for id := range communities {
		communityIDs = append(communityIDs, id)
	}
	sort.Strings(communityIDs)

	type communityEntry struct {
		ID      string           `json:"id"`
		Members []map[string]any `json:"members"`
		Size    int              `json:"size"`
		Density float64          `json:"density"`
	}

	entries := make([]communityEntry, 0, len(communityIDs))
	for _, id := range communityIDs {
		memberIDs := communities[id]
		sort.Strings(memberIDs)

		var members []map[string]any
		for _, memberID := range memberIDs {
			if e, ok := entityLookup[memberID]; ok {
				members = append(members, map[string]any{"id": e.ID, "name": e.Name, "type": e.Type})
			}
		}

		entries = append(entries, communityEntry{
			ID:      id,
			Members: members,
			Size:    len(members),
			Density: calculateDensity(memberIDs, adj),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Size > entries[j].Size })

	communityData := make([]map[string]any, len(entries))
	for i, e := range entries {
		communityData[i] = map[string]any{"id": e.ID, "members": e.Members, "size": e.Size, "density": e.Density}
	}

	return &domain.AnalysisResult{
		Request: request,
		Success: true,
		Data:    map[string]any{"communities": communityData},
		Metadata: map[string]any{
			"algorithm":          algorithm,
			"num_communities":    len(communityData),
			"num_entities":       len(entities),
			"num_relationships":  len(relationships),
			"modularity":         calculateModularity(communities, adj),
		},
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}, nil
}

func buildAdjacency(entities []*domain.Entity, relationships []*domain.Relationship, useWeights bool, weightProperty string) adjacency {
	adj := make(adjacency)

	for _, rel := range relationships {
		weight := 1.0
		if useWeights {
			weight = rel.Weight(weightProperty)
		}
		if adj[rel.SourceID] == nil {
			adj[rel.SourceID] = make(map[string]float64)
		}
		if adj[rel.TargetID] == nil {
			adj[rel.TargetID] = make(map[string]float64)
		}
		adj[rel.SourceID][rel.TargetID] = weight
		adj[rel.TargetID][rel.SourceID] = weight
	}

	for _, e := range entities {
		if _, ok := adj[e.ID]; !ok {
			adj[e.ID] = make(map[string]float64)
		}
	}
	return adj
}

// sortedNodes returns adj's node keys in deterministic order.
func sortedNodes(adj adjacency) []string {
	nodes := make([]string, 0, len(adj))
	for n := range adj {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

// louvainCommunities runs the simplified greedy-move Louvain pass: each
// node repeatedly considers moving into a neighboring community if
// doing so increases modularity gain, until no move improves anything
// or max_iterations is reached.
func louvainCommunities(adj adjacency) map[string][]string {
	nodes := sortedNodes(adj)
	nodeCommunity := make(map[string]string, len(nodes))
	for _, n := range nodes {
		nodeCommunity[n] = n
	}

	const maxIterations = 100
	improved := true
	for iteration := 0; improved && iteration < maxIterations; iteration++ {
		improved = false

		for _, node := range nodes {
			currentCommunity := nodeCommunity[node]

			neighborCommunities := make(map[string]bool)
			neighborIDs := make([]string, 0, len(adj[node]))
			for neighbor := range adj[node] {
				neighborIDs = append(neighborIDs, neighbor)
			}
			sort.Strings(neighborIDs)
			for _, neighbor := range neighborIDs {
				neighborCommunities[nodeCommunity[neighbor]] = true
			}

			candidates := make([]string, 0, len(neighborCommunities))
			for c := range neighborCommunities {
				candidates = append(candidates, c)
			}
			sort.Strings(candidates)

			bestCommunity := currentCommunity
			bestGain := 0.0
			for _, community := range candidates {
				if community == currentCommunity {
					continue
				}
				gain := modularityGain(node, community, adj, nodeCommunity)
				if gain > bestGain {
					bestGain = gain
					bestCommunity = community
				}
			}

			if bestCommunity != currentCommunity {
				nodeCommunity[node] = bestCommunity
				improved = true
			}
		}
	}

	grouped := make(map[string][]string)
	for _, node := range nodes {
		c := nodeCommunity[node]
		grouped[c] = append(grouped[c], node)
	}

	groupKeys := make([]string, 0, len(grouped))
	for k := range grouped {
		groupKeys = append(groupKeys, k)
	}
	sort.Strings(groupKeys)

	final := make(map[string][]string, len(grouped))
	for i, k := range groupKeys {
		members := grouped[k]
		sort.Strings(members)
		final[communityName(i)] = members
	}
	return final
}

func communityName(i int) string {
	return "community_" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

// totalWeight sums every edge weight, double-counted (both endpoints'
// adjacency lists), then halves the sum — matching the reference's
// sum-then-divide-by-two convention for an undirected graph.
func totalWeight(adj adjacency) float64 {
	var sum float64
	for _, neighbors := range adj {
		for _, w := range neighbors {
			sum += w
		}
	}
	return sum / 2
}

func nodeDegree(adj adjacency, node string) float64 {
	var sum float64
	for _, w := range adj[node] {
		sum += w
	}
	return sum
}

func modularityGain(node, targetCommunity string, adj adjacency, nodeCommunity map[string]string) float64 {
	var internalWeight float64
	for neighbor, weight := range adj[node] {
		if nodeCommunity[neighbor] == targetCommunity {
			internalWeight += weight
		}
	}

	nodeDeg := nodeDegree(adj, node)
	var communityDegree float64
	for n, c := range nodeCommunity {
		if c == targetCommunity {
			communityDegree += nodeDegree(adj, n)
		}
	}

	total := totalWeight(adj)
	if total == 0 {
		return 0
	}

	return (internalWeight / total) - (nodeDeg * communityDegree / (2 * total * total))
}

func calculateModularity(communities map[string][]string, adj adjacency) float64 {
	total := totalWeight(adj)
	if total == 0 {
		return 0
	}

	nodeCommunity := make(map[string]string)
	for commID, members := range communities {
		for _, m := range members {
			nodeCommunity[m] = commID
		}
	}

	var modularity float64
	for node, neighbors := range adj {
		for neighbor, weight := range neighbors {
			if nodeCommunity[node] != nodeCommunity[neighbor] {
				continue
			}
			nodeDeg := nodeDegree(adj, node)
			neighborDeg := nodeDegree(adj, neighbor)
			expected := (nodeDeg * neighborDeg) / (2 * total)
			modularity += (weight - expected) / (2 * total)
		}
	}
	return modularity
}

func calculateDensity(memberIDs []string, adj adjacency) float64 {
	if len(memberIDs) <= 1 {
		return 1.0
	}

	memberSet := make(map[string]bool, len(memberIDs))
	for _, m := range memberIDs {
		memberSet[m] = true
	}

	internalEdges := 0
	for _, node := range memberIDs {
		for neighbor := range adj[node] {
			if memberSet[neighbor] {
				internalEdges++
			}
		}
	}
	internalEdges /= 2

	n := float64(len(memberIDs))
	maxEdges := n * (n - 1) / 2
	if maxEdges == 0 {
		return 0
	}
	return float64(internalEdges) / maxEdges
}

func connectedComponents(adj adjacency) map[string][]string {
	nodes := sortedNodes(adj)
	visited := make(map[string]bool)
	communities := make(map[string][]string)
	communityID := 0

	for _, node := range nodes {
		if visited[node] {
			continue
		}
		var component []string
		queue := []string{node}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			if visited[current] {
				continue
			}
			visited[current] = true
			component = append(component, current)

			neighbors := make([]string, 0, len(adj[current]))
			for n := range adj[current] {
				neighbors = append(neighbors, n)
			}
			sort.Strings(neighbors)
			for _, n := range neighbors {
				if !visited[n] {
					queue = append(queue, n)
				}
			}
		}
		sort.Strings(component)
		communities[communityName(communityID)] = component
		communityID++
	}
	return communities
}

func hierarchicalCommunities(adj adjacency, maxLevels int) map[string]any {
	type levelCommunity struct {
		ID      string   `json:"id"`
		Members []string `json:"members"`
		Size    int      `json:"size"`
	}
	type level struct {
		Level      int              `json:"level"`
		Communities []levelCommunity `json:"communities"`
	}

	var levels []level
	current := adj

	for lvl := 0; lvl < maxLevels; lvl++ {
		communities := louvainCommunities(current)
		if len(communities) == 1 {
			break
		}

		ids := make([]string, 0, len(communities))
		for id := range communities {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		lc := make([]levelCommunity, 0, len(ids))
		for _, id := range ids {
			members := communities[id]
			lc = append(lc, levelCommunity{ID: id, Members: members, Size: len(members)})
		}
		levels = append(levels, level{Level: lvl, Communities: lc})

		if lvl < maxLevels-1 {
			current = buildSuperGraph(communities, current)
			if len(current) <= 1 {
				break
			}
		}
	}

	return map[string]any{
		"hierarchy": map[string]any{
			"levels":     levels,
			"num_levels": len(levels),
		},
	}
}

func buildSuperGraph(communities map[string][]string, original adjacency) adjacency {
	nodeToCommunity := make(map[string]string)
	for commID, members := range communities {
		for _, m := range members {
			nodeToCommunity[m] = commID
		}
	}

	super := make(adjacency)
	nodes := sortedNodes(original)
	for _, node := range nodes {
		nodeComm := nodeToCommunity[node]
		neighbors := make([]string, 0, len(original[node]))
		for n := range original[node] {
			neighbors = append(neighbors, n)
		}
		sort.Strings(neighbors)
		for _, neighbor := range neighbors {
			weight := original[node][neighbor]
			neighborComm := nodeToCommunity[neighbor]
			if nodeComm == neighborComm {
				continue
			}
			if super[nodeComm] == nil {
				super[nodeComm] = make(map[string]float64)
			}
			super[nodeComm][neighborComm] += weight
		}
	}
	return super
}
