// Package capability defines the narrow external-collaborator
// contracts the core analytical runtime depends on: an LLM oracle, a
// graph backend, and a cache. Strategies and the engine only ever see
// these interfaces — never a concrete backend.
package capability

import (
	"context"

	"github.com/kestrelsec/intelgraph/internal/domain"
)

// ResponseFormat hints to an LLMProvider that the returned text must
// be parseable JSON.
type ResponseFormat struct {
	Type string // "json_object" or "" for free text
}

// FunctionCall is the result of a function-calling completion.
type FunctionCall struct {
	Function  string
	Arguments map[string]any
}

// FunctionSpec describes one callable function offered to the LLM in
// a CompleteWithFunctions call.
type FunctionSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// LLMProvider is the capability interface for a large-language-model
// oracle. Implementations MAY be backed by a real vendor SDK or, for
// tests and demonstration, a deterministic fixture.
type LLMProvider interface {
	// Complete returns free-text or (if format.Type == "json_object")
	// JSON-text completion for prompt.
	Complete(ctx context.Context, prompt, systemPrompt string, temperature float64, maxTokens int, format ResponseFormat) (string, error)
	// CompleteWithFunctions asks the model to pick one of functions and
	// supply arguments for it.
	CompleteWithFunctions(ctx context.Context, prompt string, functions []FunctionSpec, systemPrompt string, temperature float64) (FunctionCall, error)
	// EstimateTokens approximates the token cost of text.
	EstimateTokens(text string) int
	// Model identifies the backing model, used by the rate limiter to
	// key per-model token buckets.
	Model() string
}

// Direction constrains GraphBackend.GetNeighbors.
type Direction string

const (
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
	DirectionBoth Direction = "both"
)

// Subgraph is the result of GetSubgraph: every entity and relationship
// reachable from a seed set within a depth bound.
type Subgraph struct {
	Entities      []*domain.Entity
	Relationships []*domain.Relationship
}

// EntityFilter narrows GetEntities/GetRelationships results.
type EntityFilter struct {
	Type       string
	Properties map[string]any
}

// GraphBackend is the capability interface for the property graph.
// All operations may fail; failures surface as *errs.Error, never as
// a panic that crosses a strategy boundary.
type GraphBackend interface {
	AddEntity(ctx context.Context, e *domain.Entity) error
	AddRelationship(ctx context.Context, r *domain.Relationship) error
	GetEntity(ctx context.Context, id string) (*domain.Entity, error)
	GetEntities(ctx context.Context, filter *EntityFilter, limit int) ([]*domain.Entity, error)
	GetRelationships(ctx context.Context, entityID, relType string, limit int) ([]*domain.Relationship, error)
	// SearchEntities matches entities against criteria. Keys of the
	// form "properties.X" query nested property values; any other key
	// matches a direct entity attribute (name, type).
	SearchEntities(ctx context.Context, criteria map[string]any) ([]*domain.Entity, error)
	GetNeighbors(ctx context.Context, entityID, relType string, direction Direction) ([]*domain.Entity, error)
	// FindPath returns the shortest path between from and to, or nil if
	// none exists within maxLength (0 means unbounded).
	FindPath(ctx context.Context, from, to string, maxLength int) ([]*domain.Entity, error)
	DeleteEntity(ctx context.Context, id string) error
	GetSubgraph(ctx context.Context, seedIDs []string, maxDepth int) (*Subgraph, error)
	// ExecuteQuery runs an opaque backend-specific query. Backends that
	// do not support it return an empty slice, not an error.
	ExecuteQuery(ctx context.Context, query string) ([]map[string]any, error)
}

// Cache is the capability interface for the analysis/LLM result
// cache. TTL is in seconds; zero means "until evicted".
type Cache interface {
	Get(ctx context.Context, key string) (value any, found bool, err error)
	Set(ctx context.Context, key string, value any, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Strategy is an Analysis Strategy: a stateless, reentrant algorithmic
// worker for one or more Kinds. Concurrent Analyze calls on the same
// Strategy MUST be safe.
type Strategy interface {
	// CanHandle reports whether this strategy handles kind. The Engine
	// scans registered strategies in registration order and dispatches
	// to the first match.
	CanHandle(kind domain.Kind) bool
	Analyze(ctx context.Context, request domain.AnalysisRequest, llm LLMProvider, graph GraphBackend) (*domain.AnalysisResult, error)
}
