// Package pathfinding implements the path finding Analysis Strategy:
// locating a single shortest path between two entities, or several
// distinct paths of increasing length, delegating the actual traversal
// to the graph backend's FindPath.
package pathfinding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kestrelsec/intelgraph/internal/capability"
	"github.com/kestrelsec/intelgraph/internal/domain"
)

// Strategy finds paths between two entities.
type Strategy struct{}

// New creates a path finding strategy.
func New() *Strategy { return &Strategy{} }

var _ capability.Strategy = (*Strategy)(nil)

// CanHandle reports whether kind is path_finding.
func (s *Strategy) CanHandle(kind domain.Kind) bool {
	return kind == domain.KindPathFinding
}

// Analyze locates a path (or, with find_all, several paths of
// increasing length) between request.Parameters["source_id"] and
// ["target_id"].
func (s *Strategy) Analyze(ctx context.Context, request domain.AnalysisRequest, _ capability.LLMProvider, graph capability.GraphBackend) (*domain.AnalysisResult, error) {
	start := time.Now()

	sourceID := domain.ParamString(request.Parameters, "source_id")
	targetID := domain.ParamString(request.Parameters, "target_id")
	maxLength := domain.ParamInt(request.Parameters, "max_length", 10)
	findAll := domain.ParamBool(request.Parameters, "find_all", false)
	maxPaths := domain.ParamInt(request.Parameters, "max_paths", 5)

	if sourceID == "" || targetID == "" {
		return domain.Failure(request, "Both source_id and target_id are required"), nil
	}

	avoidEntityTypes := domain.ParamStringSlice(request.Constraints, "avoid_entity_types")
	preferRelationshipTypes := domain.ParamStringSlice(request.Constraints, "prefer_relationship_types")

	var data map[string]any

	if findAll {
		paths, err := findMultiplePaths(ctx, graph, sourceID, targetID, maxLength, maxPaths, avoidEntityTypes)
		if err != nil {
			return nil, err
		}

		formattedPaths := make([]map[string]any, 0, len(paths))
		for _, path := range paths {
			formattedPaths = append(formattedPaths, map[string]any{
				"path":   formatPath(path),
				"length": len(path) - 1,
			})
		}
		data = map[string]any{"paths": formattedPaths, "num_paths": len(formattedPaths)}
	} else {
		path, err := graph.FindPath(ctx, sourceID, targetID, maxLength)
		if err != nil {
			return nil, err
		}
		if len(path) == 0 {
			return domain.Failure(request, fmt.Sprintf("No path found from %s to %s", sourceID, targetID)), nil
		}

		if len(avoidEntityTypes) > 0 {
			path = filterPathByConstraints(path, avoidEntityTypes)
		}

		data = map[string]any{"path": formatPath(path), "path_length": len(path) - 1}
	}

	return &domain.AnalysisResult{
		Request: request,
		Success: true,
		Data:    data,
		Metadata: map[string]any{
			"source_id":            sourceID,
			"target_id":            targetID,
			"max_length":           maxLength,
			"constraints_applied":  len(avoidEntityTypes) > 0 || len(preferRelationshipTypes) > 0,
		},
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}, nil
}

// findMultiplePaths tries increasing path lengths, skipping any path
// whose entity-ID sequence has already been seen and any path that
// violates avoidEntityTypes. This is intentionally not a true
// k-shortest-paths search (no edge blocking / Yen's algorithm) — it
// mirrors the simplified increasing-length probe the graph backend's
// FindPath contract supports.
func findMultiplePaths(ctx context.Context, graph capability.GraphBackend, sourceID, targetID string, maxLength, maxPaths int, avoidEntityTypes []string) ([][]*domain.Entity, error) {
	var paths [][]*domain.Entity
	seen := make(map[string]bool)

	for length := 2; length <= maxLength; length++ {
		path, err := graph.FindPath(ctx, sourceID, targetID, length)
		if err != nil {
			return nil, err
		}
		if len(path) == 0 {
			continue
		}

		key := pathKey(path)
		if seen[key] {
			continue
		}
		seen[key] = true

		if !pathMeetsConstraints(path, avoidEntityTypes) {
			continue
		}

		paths = append(paths, path)
		if len(paths) >= maxPaths {
			break
		}
	}
	return paths, nil
}

func pathKey(path []*domain.Entity) string {
	ids := make([]string, len(path))
	for i, e := range path {
		ids[i] = e.ID
	}
	return strings.Join(ids, "\x00")
}

func pathMeetsConstraints(path []*domain.Entity, avoidEntityTypes []string) bool {
	if len(avoidEntityTypes) == 0 {
		return true
	}
	avoid := make(map[string]bool, len(avoidEntityTypes))
	for _, t := range avoidEntityTypes {
		avoid[t] = true
	}
	for _, e := range path {
		if avoid[e.Type] {
			return false
		}
	}
	return true
}

func filterPathByConstraints(path []*domain.Entity, avoidEntityTypes []string) []*domain.Entity {
	avoid := make(map[string]bool, len(avoidEntityTypes))
	for _, t := range avoidEntityTypes {
		avoid[t] = true
	}
	filtered := make([]*domain.Entity, 0, len(path))
	for _, e := range path {
		if !avoid[e.Type] {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

func formatPath(path []*domain.Entity) []map[string]any {
	formatted := make([]map[string]any, 0, len(path))
	for _, e := range path {
		formatted = append(formatted, map[string]any{
			"id":         e.ID,
			"name":       e.Name,
			"type":       e.Type,
			"properties": e.Properties,
		})
	}
	return formatted
}
