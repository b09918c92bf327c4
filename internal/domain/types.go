// Package domain defines the core data model of the investigative
// intelligence engine: entities and relationships discovered in a
// property graph, the requests and results that flow through the
// Analysis Engine, and the investigations and phases orchestrated by
// the Investigation Pipeline.
package domain

import (
	"encoding/json"
	"time"
)

// Kind identifies an analysis strategy. It is an open set: callers may
// register strategies for kinds not listed here.
type Kind string

const (
	KindEntityExtraction    Kind = "entity_extraction"
	KindRelationshipMapping Kind = "relationship_mapping"
	KindCommunityDetection  Kind = "community_detection"
	KindAnomalyDetection    Kind = "anomaly_detection"
	KindPathFinding         Kind = "path_finding"
	KindCentralityAnalysis  Kind = "centrality_analysis"
)

// Entity is a node in the property graph: a stable identity plus a
// semantic record.
type Entity struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Confidence float64        `json:"confidence"`
	Source     string         `json:"source,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Relationship is a directed edge between two entities.
type Relationship struct {
	ID         string         `json:"id"`
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Confidence float64        `json:"confidence"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Weight returns the relationship's property named by property,
// defaulting to 1.0 when absent or not numeric.
func (r *Relationship) Weight(property string) float64 {
	if r.Properties == nil {
		return 1.0
	}
	v, ok := r.Properties[property]
	if !ok {
		return 1.0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 1.0
	}
}

// AnalysisRequest is the input to the Analysis Engine.
type AnalysisRequest struct {
	Kind        Kind           `json:"kind"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Constraints map[string]any `json:"constraints,omitempty"`
}

// AnalysisResult is the output of a strategy invocation.
type AnalysisResult struct {
	Request    AnalysisRequest `json:"request"`
	Success    bool            `json:"success"`
	Data       map[string]any  `json:"data,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Errors     []string        `json:"errors,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Failure builds a failure AnalysisResult carrying a single error
// message, the shape every strategy and the Engine itself converge on
// when something goes wrong.
func Failure(req AnalysisRequest, message string) *AnalysisResult {
	return &AnalysisResult{
		Request:   req,
		Success:   false,
		Errors:    []string{message},
		Timestamp: time.Now().UTC(),
	}
}

// ParamString reads a string parameter, returning "" if absent or of
// the wrong type.
func ParamString(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// ParamBool reads a bool parameter with a default.
func ParamBool(params map[string]any, key string, def bool) bool {
	if params == nil {
		return def
	}
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

// ParamInt reads an int-ish parameter with a default.
func ParamInt(params map[string]any, key string, def int) int {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// ParamFloat reads a float-ish parameter with a default.
func ParamFloat(params map[string]any, key string, def float64) float64 {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

// ParamStringSlice reads a []string-ish parameter.
func ParamStringSlice(params map[string]any, key string) []string {
	if params == nil {
		return nil
	}
	raw, ok := params[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// InvestigationStatus is the lifecycle state of an Investigation.
type InvestigationStatus string

const (
	StatusRunning             InvestigationStatus = "running"
	StatusCompleted           InvestigationStatus = "completed"
	StatusCompletedWithErrors InvestigationStatus = "completed_with_errors"
	StatusFailed              InvestigationStatus = "failed"
	StatusTimeout             InvestigationStatus = "timeout"
)

// PhaseStatus is the lifecycle state of a single InvestigationPhase.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
	PhaseSkipped   PhaseStatus = "skipped"
	PhaseCancelled PhaseStatus = "cancelled"
)

// InvestigationPhase is one node in an investigation's dependency DAG:
// exactly one strategy invocation.
type InvestigationPhase struct {
	Name        string          `json:"name"`
	Kind        Kind            `json:"kind"`
	DependsOn   []string        `json:"depends_on,omitempty"`
	Parameters  map[string]any  `json:"parameters,omitempty"`
	Status      PhaseStatus     `json:"status"`
	Result      *AnalysisResult `json:"result,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Evidence is a piece of source material fed into a running
// investigation after it has started.
type Evidence struct {
	Body      string         `json:"body"`
	Source    string         `json:"source,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Investigation is the accumulating state of one analyst workflow.
type Investigation struct {
	ID                   string                    `json:"id"`
	InitialContext       map[string]any            `json:"initial_context,omitempty"`
	Objectives           []string                  `json:"objectives,omitempty"`
	Phases               []*InvestigationPhase     `json:"phases"`
	Evidence             []Evidence                `json:"evidence,omitempty"`
	Status               InvestigationStatus       `json:"status"`
	CreatedAt            time.Time                 `json:"created_at"`
	CompletedAt          *time.Time                `json:"completed_at,omitempty"`
	EntitiesDiscovered   map[string]*Entity        `json:"entities_discovered,omitempty"`
	RelationshipsFound   []*Relationship           `json:"relationships_discovered,omitempty"`
	Findings             map[string]map[string]any `json:"findings,omitempty"`
	Errors               []string                  `json:"errors,omitempty"`
	AdaptiveActionsCount int                       `json:"adaptive_actions_count"`
}

// NewInvestigation allocates an Investigation ready for scheduling.
func NewInvestigation(id string, initialContext map[string]any, objectives []string) *Investigation {
	return &Investigation{
		ID:                 id,
		InitialContext:     initialContext,
		Objectives:         objectives,
		Phases:             nil,
		Status:             StatusRunning,
		CreatedAt:          time.Now().UTC(),
		EntitiesDiscovered: make(map[string]*Entity),
		Findings:           make(map[string]map[string]any),
	}
}

// Phase looks up a phase by name.
func (inv *Investigation) Phase(name string) *InvestigationPhase {
	for _, p := range inv.Phases {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// MergeEntity inserts e into the discovered-entity map, replacing any
// existing record with the same id, so each id appears at most once.
// The replaced record's properties are not combined with e's.
func (inv *Investigation) MergeEntity(e *Entity) {
	if inv.EntitiesDiscovered == nil {
		inv.EntitiesDiscovered = make(map[string]*Entity)
	}
	inv.EntitiesDiscovered[e.ID] = e
}

// EntityIDs returns the ids of every discovered entity, in
// unspecified order.
func (inv *Investigation) EntityIDs() []string {
	ids := make([]string, 0, len(inv.EntitiesDiscovered))
	for id := range inv.EntitiesDiscovered {
		ids = append(ids, id)
	}
	return ids
}

// AddError appends a message to the investigation's error log.
func (inv *Investigation) AddError(message string) {
	inv.Errors = append(inv.Errors, message)
}

// View is the stable external shape of `GetInvestigation`/`Investigate`
// (spec §6). It is distinct from Investigation because it is meant to
// be read-only and safe to serialize to a caller without exposing
// internal pointers.
type View struct {
	InvestigationID    string         `json:"investigation_id"`
	Status             string         `json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	Objectives         []string       `json:"objectives"`
	Phases             []PhaseView    `json:"phases"`
	TotalEntities      int            `json:"total_entities"`
	TotalRelationships int            `json:"total_relationships"`
	Errors             []string       `json:"errors"`
	AdaptiveActions    int            `json:"adaptive_actions"`
	Strategy           string         `json:"strategy,omitempty"`
	Hypotheses         []any          `json:"hypotheses,omitempty"`
	MaxDepthReached    int            `json:"max_depth_reached,omitempty"`
	Evidence           []Evidence     `json:"evidence,omitempty"`
	Extra              map[string]any `json:"-"`
}

// PhaseView is the external shape of a single phase within a View.
type PhaseView struct {
	Name        string         `json:"name"`
	Kind        Kind           `json:"kind"`
	Status      PhaseStatus    `json:"status"`
	Success     bool           `json:"success"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Errors      []string       `json:"errors,omitempty"`
}

// ToView projects an Investigation into its stable external shape.
// includeEvidence controls whether the evidence log is attached (only
// GetInvestigation returns it, per spec §6).
func (inv *Investigation) ToView(includeEvidence bool) *View {
	v := &View{
		InvestigationID:    inv.ID,
		Status:             string(inv.Status),
		CreatedAt:          inv.CreatedAt,
		CompletedAt:        inv.CompletedAt,
		Objectives:         inv.Objectives,
		TotalEntities:      len(inv.EntitiesDiscovered),
		TotalRelationships: len(inv.RelationshipsFound),
		Errors:             inv.Errors,
		AdaptiveActions:    inv.AdaptiveActionsCount,
	}
	for _, p := range inv.Phases {
		pv := PhaseView{
			Name:        p.Name,
			Kind:        p.Kind,
			Status:      p.Status,
			StartedAt:   p.StartedAt,
			CompletedAt: p.CompletedAt,
		}
		if p.Result != nil {
			pv.Success = p.Result.Success
			pv.Data = p.Result.Data
			pv.Errors = p.Result.Errors
		}
		v.Phases = append(v.Phases, pv)
	}
	if includeEvidence {
		v.Evidence = inv.Evidence
	}
	return v
}

// MarshalResult is a convenience wrapper confirming the round-trip
// contract required by spec §8: json.Marshal then json.Unmarshal of an
// AnalysisResult must be the identity on the documented field subset.
func MarshalResult(r *AnalysisResult) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalResult is the inverse of MarshalResult.
func UnmarshalResult(data []byte) (*AnalysisResult, error) {
	var r AnalysisResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
