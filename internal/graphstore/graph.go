// Package graphstore implements an in-memory directed property graph
// satisfying capability.GraphBackend: entities as nodes, relationships
// as directed edges, with BFS-based traversal, pathfinding, and
// subgraph extraction.
package graphstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kestrelsec/intelgraph/internal/capability"
	"github.com/kestrelsec/intelgraph/internal/domain"
	"github.com/kestrelsec/intelgraph/internal/errs"
)

// edgeKey uniquely identifies one directed edge by endpoint pair; a
// node pair may carry at most one relationship in this backend, the
// same restriction the reference NetworkX adjacency model imposes.
type edgeKey struct {
	from, to string
}

// Store is a mutex-guarded, map-of-maps in-memory graph.
type Store struct {
	mu sync.RWMutex

	entities      map[string]*domain.Entity
	out           map[string]map[string]*domain.Relationship // from -> to -> rel
	in            map[string]map[string]*domain.Relationship // to -> from -> rel
	relationships map[edgeKey]*domain.Relationship
}

// New creates an empty graph.
func New() *Store {
	return &Store{
		entities:      make(map[string]*domain.Entity),
		out:           make(map[string]map[string]*domain.Relationship),
		in:            make(map[string]map[string]*domain.Relationship),
		relationships: make(map[edgeKey]*domain.Relationship),
	}
}

var _ capability.GraphBackend = (*Store)(nil)

// AddEntity inserts or overwrites an entity node.
func (s *Store) AddEntity(_ context.Context, e *domain.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entities[e.ID] = &cp
	if _, ok := s.out[e.ID]; !ok {
		s.out[e.ID] = make(map[string]*domain.Relationship)
	}
	if _, ok := s.in[e.ID]; !ok {
		s.in[e.ID] = make(map[string]*domain.Relationship)
	}
	return nil
}

// AddRelationship inserts a directed edge. Both endpoints must already
// exist as entities.
func (s *Store) AddRelationship(_ context.Context, r *domain.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[r.SourceID]; !ok {
		return errs.NewGraphRejected(fmt.Sprintf("source entity %q not found", r.SourceID))
	}
	if _, ok := s.entities[r.TargetID]; !ok {
		return errs.NewGraphRejected(fmt.Sprintf("target entity %q not found", r.TargetID))
	}

	cp := *r
	s.out[r.SourceID][r.TargetID] = &cp
	s.in[r.TargetID][r.SourceID] = &cp
	s.relationships[edgeKey{r.SourceID, r.TargetID}] = &cp
	return nil
}

// GetEntity returns the entity by id, or nil if absent.
func (s *Store) GetEntity(_ context.Context, id string) (*domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func matchesFilter(e *domain.Entity, filter *capability.EntityFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Type != "" && e.Type != filter.Type {
		return false
	}
	for k, v := range filter.Properties {
		if e.Properties == nil {
			return false
		}
		if e.Properties[k] != v {
			return false
		}
	}
	return true
}

// GetEntities returns entities matching filter, up to limit (0 means
// unbounded). Iteration order is by entity ID for determinism.
func (s *Store) GetEntities(_ context.Context, filter *capability.EntityFilter, limit int) ([]*domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var results []*domain.Entity
	for _, id := range ids {
		e := s.entities[id]
		if !matchesFilter(e, filter) {
			continue
		}
		cp := *e
		results = append(results, &cp)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// GetRelationships returns relationships touching entityID (or all
// relationships, if entityID is empty), optionally filtered by type.
func (s *Store) GetRelationships(_ context.Context, entityID, relType string, limit int) ([]*domain.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []edgeKey
	if entityID == "" {
		for k := range s.relationships {
			keys = append(keys, k)
		}
	} else {
		for to := range s.out[entityID] {
			keys = append(keys, edgeKey{entityID, to})
		}
		for from := range s.in[entityID] {
			keys = append(keys, edgeKey{from, entityID})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		return keys[i].to < keys[j].to
	})

	var results []*domain.Relationship
	seen := make(map[edgeKey]bool)
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		r, ok := s.relationships[k]
		if !ok {
			continue
		}
		if relType != "" && r.Type != relType {
			continue
		}
		cp := *r
		results = append(results, &cp)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// SearchEntities matches entities against criteria. Keys of the form
// "properties.X" match nested property values; any other key matches a
// direct attribute (name, type).
func (s *Store) SearchEntities(_ context.Context, criteria map[string]any) ([]*domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var results []*domain.Entity
	for _, id := range ids {
		e := s.entities[id]
		match := true
		for k, v := range criteria {
			if propKey, ok := strings.CutPrefix(k, "properties."); ok {
				if e.Properties == nil || e.Properties[propKey] != v {
					match = false
					break
				}
				continue
			}
			switch k {
			case "name":
				if e.Name != v {
					match = false
				}
			case "type":
				if e.Type != v {
					match = false
				}
			case "source":
				if e.Source != v {
					match = false
				}
			default:
				match = false
			}
			if !match {
				break
			}
		}
		if match {
			cp := *e
			results = append(results, &cp)
		}
	}
	return results, nil
}

// GetNeighbors returns the neighbors of entityID reached along outgoing
// edges, incoming edges, or both, as direction selects, optionally
// filtered to one relationship type.
func (s *Store) GetNeighbors(_ context.Context, entityID, relType string, direction capability.Direction) ([]*domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[entityID]; !ok {
		return nil, nil
	}

	seen := make(map[string]bool)
	var neighborIDs []string
	add := func(id string, r *domain.Relationship) {
		if relType != "" && r.Type != relType {
			return
		}
		if !seen[id] {
			seen[id] = true
			neighborIDs = append(neighborIDs, id)
		}
	}

	if direction == capability.DirectionOut || direction == capability.DirectionBoth {
		for to, r := range s.out[entityID] {
			add(to, r)
		}
	}
	if direction == capability.DirectionIn || direction == capability.DirectionBoth {
		for from, r := range s.in[entityID] {
			add(from, r)
		}
	}

	sort.Strings(neighborIDs)
	result := make([]*domain.Entity, 0, len(neighborIDs))
	for _, id := range neighborIDs {
		if e, ok := s.entities[id]; ok {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

// FindPath returns the shortest (fewest-hops) path from "from" to "to"
// as an ordered entity list via breadth-first search over the
// undirected view of the graph, or nil if no path of at most maxLength
// entities (maxLength-1 hops) exists (0 means unbounded). This mirrors nx.shortest_path's unweighted
// BFS behavior rather than Dijkstra, since relationship weight is not
// part of the traversal contract (spec §5.5).
func (s *Store) FindPath(_ context.Context, from, to string, maxLength int) ([]*domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[from]; !ok {
		return nil, nil
	}
	if _, ok := s.entities[to]; !ok {
		return nil, nil
	}
	if from == to {
		e := s.entities[from]
		cp := *e
		return []*domain.Entity{&cp}, nil
	}

	type queueItem struct {
		id   string
		path []string
	}
	visited := map[string]bool{from: true}
	queue := []queueItem{{id: from, path: []string{from}}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if maxLength > 0 && len(item.path) >= maxLength {
			continue
		}

		neighbors := make(map[string]bool)
		for n := range s.out[item.id] {
			neighbors[n] = true
		}
		for n := range s.in[item.id] {
			neighbors[n] = true
		}
		ids := make([]string, 0, len(neighbors))
		for n := range neighbors {
			ids = append(ids, n)
		}
		sort.Strings(ids)

		for _, n := range ids {
			if visited[n] {
				continue
			}
			visited[n] = true
			newPath := append(append([]string(nil), item.path...), n)
			if n == to {
				return s.entitiesForIDsLocked(newPath), nil
			}
			queue = append(queue, queueItem{id: n, path: newPath})
		}
	}
	return nil, nil
}

func (s *Store) entitiesForIDsLocked(ids []string) []*domain.Entity {
	result := make([]*domain.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.entities[id]; ok {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result
}

// DeleteEntity removes an entity and every relationship touching it.
func (s *Store) DeleteEntity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[id]; !ok {
		return nil
	}
	for to := range s.out[id] {
		delete(s.in[to], id)
		delete(s.relationships, edgeKey{id, to})
	}
	for from := range s.in[id] {
		delete(s.out[from], id)
		delete(s.relationships, edgeKey{from, id})
	}
	delete(s.out, id)
	delete(s.in, id)
	delete(s.entities, id)
	return nil
}

// GetSubgraph explores outward from seedIDs up to maxDepth hops,
// returning every visited entity and every edge crossed along the way.
func (s *Store) GetSubgraph(_ context.Context, seedIDs []string, maxDepth int) (*capability.Subgraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type queueItem struct {
		id    string
		depth int
	}
	var queue []queueItem
	for _, id := range seedIDs {
		if _, ok := s.entities[id]; ok {
			queue = append(queue, queueItem{id: id, depth: 0})
		}
	}

	visitedEntities := make(map[string]bool)
	visitedEdges := make(map[edgeKey]bool)
	result := &capability.Subgraph{}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if visitedEntities[item.id] {
			continue
		}
		visitedEntities[item.id] = true

		if e, ok := s.entities[item.id]; ok {
			cp := *e
			result.Entities = append(result.Entities, &cp)
		}

		if item.depth >= maxDepth {
			continue
		}

		toIDs := make([]string, 0, len(s.out[item.id]))
		for to := range s.out[item.id] {
			toIDs = append(toIDs, to)
		}
		sort.Strings(toIDs)
		for _, to := range toIDs {
			key := edgeKey{item.id, to}
			if !visitedEdges[key] {
				visitedEdges[key] = true
				cp := *s.out[item.id][to]
				result.Relationships = append(result.Relationships, &cp)
			}
			if !visitedEntities[to] {
				queue = append(queue, queueItem{id: to, depth: item.depth + 1})
			}
		}

		fromIDs := make([]string, 0, len(s.in[item.id]))
		for from := range s.in[item.id] {
			fromIDs = append(fromIDs, from)
		}
		sort.Strings(fromIDs)
		for _, from := range fromIDs {
			key := edgeKey{from, item.id}
			if !visitedEdges[key] {
				visitedEdges[key] = true
				cp := *s.in[item.id][from]
				result.Relationships = append(result.Relationships, &cp)
			}
			if !visitedEntities[from] {
				queue = append(queue, queueItem{id: from, depth: item.depth + 1})
			}
		}
	}

	return result, nil
}

// ExecuteQuery is unsupported by this backend; it returns an empty
// result rather than an error, matching the reference NetworkX
// backend's stance that ad hoc queries need a real graph database.
func (s *Store) ExecuteQuery(_ context.Context, _ string) ([]map[string]any, error) {
	return []map[string]any{}, nil
}

// Clear removes every entity and relationship.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = make(map[string]*domain.Entity)
	s.out = make(map[string]map[string]*domain.Relationship)
	s.in = make(map[string]map[string]*domain.Relationship)
	s.relationships = make(map[edgeKey]*domain.Relationship)
}

// Size returns the entity and relationship counts.
func (s *Store) Size() (entities, relationships int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), len(s.relationships)
}
