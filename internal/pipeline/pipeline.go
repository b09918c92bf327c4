// Package pipeline implements the Investigation Pipeline: a
// multi-phase DAG executor that drives the Analysis Engine on behalf
// of an accumulating Investigation, weaving parameters between phases,
// optionally injecting adaptive follow-up phases, and exposing
// snapshot/restore for persistence.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrelsec/intelgraph/internal/domain"
	"github.com/kestrelsec/intelgraph/internal/engine"
	"github.com/kestrelsec/intelgraph/internal/errs"
	"github.com/kestrelsec/intelgraph/internal/obsmetrics"
	"github.com/kestrelsec/intelgraph/internal/tracing"
)

// PhaseSpec describes one phase to schedule, the caller-facing
// counterpart of domain.InvestigationPhase before it has run.
type PhaseSpec struct {
	Name       string
	Kind       domain.Kind
	DependsOn  []string
	Parameters map[string]any
}

// Config controls optional Pipeline behavior.
type Config struct {
	Adaptive          bool
	ContinueOnError   bool
	TimeoutSeconds    int // 0 means no investigation-wide deadline
	EnableParallel    bool
	EnablePersistence bool
	CollectMetrics    bool
}

// Pipeline orchestrates multi-phase investigations against an Analysis
// Engine.
type Pipeline struct {
	engine *engine.Engine
	cfg    Config
	logger *zap.Logger

	mu             sync.RWMutex
	investigations map[string]*domain.Investigation

	metrics *obsmetrics.PipelineMetrics
}

// New builds a Pipeline driving eng. logger may be nil, in which case
// a no-op logger is used.
func New(eng *engine.Engine, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		engine:         eng,
		cfg:            cfg,
		logger:         logger,
		investigations: make(map[string]*domain.Investigation),
	}
	if cfg.CollectMetrics {
		p.metrics = obsmetrics.NewPipelineMetrics()
	}
	return p
}

// Metrics returns the pipeline's metrics collector, or nil if
// Config.CollectMetrics was false.
func (p *Pipeline) Metrics() *obsmetrics.PipelineMetrics { return p.metrics }

// ActiveInvestigations reports how many investigations are currently
// in the "running" state, for health reporting.
func (p *Pipeline) ActiveInvestigations() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	count := 0
	for _, inv := range p.investigations {
		if inv.Status == domain.StatusRunning {
			count++
		}
	}
	return count
}

// Investigate runs a multi-phase investigation to completion (or until
// its configured deadline) and returns its external view. If phases is
// empty, a default extract -> map -> analyze chain is installed.
func (p *Pipeline) Investigate(ctx context.Context, initialContext map[string]any, objectives []string, phases []PhaseSpec) *domain.View {
	investigation := domain.NewInvestigation(uuid.NewString(), initialContext, objectives)

	p.mu.Lock()
	p.investigations[investigation.ID] = investigation
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordInvestigationStarted()
	}

	ctx, span := tracing.InvestigationSpan(ctx, investigation.ID)
	defer span.End()

	if len(phases) == 0 {
		phases = defaultPhases()
	}
	for _, spec := range phases {
		investigation.Phases = append(investigation.Phases, &domain.InvestigationPhase{
			Name:       spec.Name,
			Kind:       spec.Kind,
			DependsOn:  spec.DependsOn,
			Parameters: spec.Parameters,
			Status:     domain.PhasePending,
		})
	}

	p.runInvestigation(ctx, investigation)

	if p.metrics != nil {
		p.metrics.RecordInvestigationTerminal(string(investigation.Status), investigation.Status == domain.StatusCompleted)
	}

	e := p.terminalError(investigation)
	if e != nil {
		tracing.RecordError(span, e)
	} else {
		tracing.SetSuccess(span)
	}

	return investigation.ToView(false)
}

func defaultPhases() []PhaseSpec {
	return []PhaseSpec{
		{Name: "extract", Kind: domain.KindEntityExtraction},
		{Name: "map", Kind: domain.KindRelationshipMapping, DependsOn: []string{"extract"}},
		{Name: "analyze", Kind: domain.KindCommunityDetection, DependsOn: []string{"extract", "map"}},
	}
}

func (p *Pipeline) terminalError(investigation *domain.Investigation) error {
	if investigation.Status == domain.StatusFailed || investigation.Status == domain.StatusTimeout {
		if len(investigation.Errors) > 0 {
			return fmt.Errorf("%s", investigation.Errors[len(investigation.Errors)-1])
		}
	}
	return nil
}

// runInvestigation executes the scheduled phases and sets the
// investigation's terminal status. Honors Config.TimeoutSeconds as an
// investigation-wide deadline.
func (p *Pipeline) runInvestigation(ctx context.Context, investigation *domain.Investigation) {
	if p.cfg.TimeoutSeconds > 0 {
		deadline := time.Duration(p.cfg.TimeoutSeconds) * time.Second
		runCtx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()

		done := make(chan struct{})
		go func() {
			p.schedule(runCtx, investigation)
			close(done)
		}()

		select {
		case <-done:
		case <-runCtx.Done():
		}
		// The deadline firing takes precedence over whatever the
		// in-flight phase managed to report by the time it noticed
		// cancellation: both channels can be ready simultaneously, and
		// select's choice between them is not ordered by which closed
		// first.
		if runCtx.Err() != nil {
			investigation.Status = domain.StatusTimeout
			investigation.AddError(fmt.Sprintf("Investigation timed out after %d seconds", p.cfg.TimeoutSeconds))
			now := time.Now().UTC()
			investigation.CompletedAt = &now
			return
		}
	} else {
		p.schedule(ctx, investigation)
	}

	p.finalizeStatus(investigation)
}

func (p *Pipeline) schedule(ctx context.Context, investigation *domain.Investigation) {
	if p.cfg.EnableParallel {
		p.executeParallel(ctx, investigation)
	} else {
		p.executeSequential(ctx, investigation)
	}
}

func (p *Pipeline) finalizeStatus(investigation *domain.Investigation) {
	failed := false
	for _, ph := range investigation.Phases {
		if ph.Status == domain.PhaseFailed {
			failed = true
			break
		}
	}
	switch {
	case failed && !p.cfg.ContinueOnError:
		investigation.Status = domain.StatusFailed
	case failed:
		investigation.Status = domain.StatusCompletedWithErrors
	default:
		investigation.Status = domain.StatusCompleted
	}
	now := time.Now().UTC()
	investigation.CompletedAt = &now
}

// executeSequential runs phases in declaration order, skipping any
// phase whose dependencies are not all completed.
func (p *Pipeline) executeSequential(ctx context.Context, investigation *domain.Investigation) {
	completed := make(map[string]bool)

	for i, phase := range investigation.Phases {
		if ctx.Err() != nil {
			return
		}
		if !dependenciesMet(phase.DependsOn, completed) {
			phase.Status = domain.PhaseSkipped
			phase.Result = domain.Failure(domain.AnalysisRequest{Kind: phase.Kind, Parameters: phase.Parameters}, "Dependencies not met")
			continue
		}

		p.executePhase(ctx, investigation, phase)

		if phase.Status == domain.PhaseCompleted {
			completed[phase.Name] = true
		} else if !p.cfg.ContinueOnError {
			for _, rest := range investigation.Phases[i+1:] {
				if rest.Status == domain.PhasePending {
					rest.Status = domain.PhaseCancelled
				}
			}
			return
		}

		if p.cfg.Adaptive && anomalyDetected(phase.Result) {
			p.triggerAdaptivePhase(ctx, investigation, phase)
		}
	}
}

// executeParallel repeatedly computes the ready set of pending phases
// (those whose dependencies are all completed), snapshots it into an
// owned slice, and launches every ready phase concurrently before
// moving to the next round. Snapshotting avoids mutating the pending
// list while a round's goroutines are still reading it.
func (p *Pipeline) executeParallel(ctx context.Context, investigation *domain.Investigation) {
	completed := make(map[string]bool)
	pending := append([]*domain.InvestigationPhase{}, investigation.Phases...)

	for len(pending) > 0 {
		if ctx.Err() != nil {
			return
		}

		var ready []*domain.InvestigationPhase
		var stillPending []*domain.InvestigationPhase
		for _, phase := range pending {
			if dependenciesMet(phase.DependsOn, completed) {
				ready = append(ready, phase)
			} else {
				stillPending = append(stillPending, phase)
			}
		}

		if len(ready) == 0 {
			investigation.AddError(errs.NewCyclicDependency("no phases ready to execute").Error())
			return
		}

		var wg sync.WaitGroup
		for _, phase := range ready {
			wg.Add(1)
			go func(phase *domain.InvestigationPhase) {
				defer wg.Done()
				p.executePhase(ctx, investigation, phase)
			}(phase)
		}
		wg.Wait()

		cancelRest := false
		for _, phase := range ready {
			if phase.Status == domain.PhaseCompleted {
				completed[phase.Name] = true
			}
			if phase.Status == domain.PhaseFailed && !p.cfg.ContinueOnError {
				cancelRest = true
			}
			if p.cfg.Adaptive && anomalyDetected(phase.Result) {
				p.triggerAdaptivePhase(ctx, investigation, phase)
			}
		}

		if cancelRest {
			for _, phase := range stillPending {
				phase.Status = domain.PhaseCancelled
			}
			return
		}

		pending = stillPending
	}
}

func dependenciesMet(dependsOn []string, completed map[string]bool) bool {
	for _, dep := range dependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

func anomalyDetected(result *domain.AnalysisResult) bool {
	if result == nil || result.Metadata == nil {
		return false
	}
	v, ok := result.Metadata["anomaly_detected"].(bool)
	return ok && v
}

// executePhase runs a single phase through the Analysis Engine,
// records its result on the phase, and folds any discovered entities
// and relationships back into the investigation.
func (p *Pipeline) executePhase(ctx context.Context, investigation *domain.Investigation, phase *domain.InvestigationPhase) {
	ctx, span := tracing.PhaseSpan(ctx, investigation.ID, phase.Name)
	defer span.End()

	started := time.Now().UTC()
	phase.Status = domain.PhaseRunning
	phase.StartedAt = &started

	p.mu.RLock()
	params := p.buildPhaseParameters(investigation, phase)
	p.mu.RUnlock()
	request := domain.AnalysisRequest{
		Kind:       phase.Kind,
		Parameters: params,
		Context:    investigation.InitialContext,
	}

	result, err := p.engine.Analyze(ctx, request)
	p.mu.Lock()
	defer p.mu.Unlock()
	completed := time.Now().UTC()
	phase.CompletedAt = &completed

	if err != nil {
		phase.Status = domain.PhaseFailed
		phase.Result = domain.Failure(request, err.Error())
		investigation.AddError(fmt.Sprintf("Phase %s failed: %v", phase.Name, err))
		tracing.RecordError(span, err)
		p.recordPhaseMetric(false)
		return
	}

	phase.Result = result
	if result.Success {
		phase.Status = domain.PhaseCompleted
		p.processPhaseResult(investigation, phase, result)
		tracing.SetSuccess(span)
	} else {
		phase.Status = domain.PhaseFailed
		investigation.Errors = append(investigation.Errors, result.Errors...)
	}
	p.recordPhaseMetric(result.Success)
}

func (p *Pipeline) recordPhaseMetric(success bool) {
	if p.metrics != nil {
		p.metrics.RecordPhase(success)
	}
}

// buildPhaseParameters decorates a phase's own parameters with context
// accumulated from prior phases: RelationshipMapping inherits the
// discovered entity ids, AnomalyDetection infers an entity_type from
// discovered entities when one was not supplied.
func (p *Pipeline) buildPhaseParameters(investigation *domain.Investigation, phase *domain.InvestigationPhase) map[string]any {
	params := make(map[string]any, len(phase.Parameters)+1)
	for k, v := range phase.Parameters {
		params[k] = v
	}

	switch phase.Kind {
	case domain.KindRelationshipMapping:
		if _, ok := params["entity_ids"]; !ok {
			params["entity_ids"] = investigation.EntityIDs()
		}
	case domain.KindAnomalyDetection:
		if _, ok := params["entity_type"]; !ok {
			if t := firstDiscoveredType(investigation); t != "" {
				params["entity_type"] = t
			}
		}
	}

	return params
}

// firstDiscoveredType returns one entity type present among the
// investigation's discovered entities, chosen deterministically (the
// lexicographically smallest type) rather than via map iteration
// order.
func firstDiscoveredType(investigation *domain.Investigation) string {
	var best string
	for _, e := range investigation.EntitiesDiscovered {
		if best == "" || e.Type < best {
			best = e.Type
		}
	}
	return best
}

// processPhaseResult folds a successful phase's entities and
// relationships into the investigation's accumulating state and
// records the phase's raw data under its findings.
func (p *Pipeline) processPhaseResult(investigation *domain.Investigation, phase *domain.InvestigationPhase, result *domain.AnalysisResult) {
	if result.Data == nil {
		return
	}

	if raw, ok := result.Data["entities"]; ok {
		for _, e := range entitiesFromData(raw) {
			investigation.MergeEntity(e)
		}
	}

	if raw, ok := result.Data["relationships"]; ok {
		investigation.RelationshipsFound = append(investigation.RelationshipsFound, relationshipsFromData(raw)...)
	}

	if investigation.Findings == nil {
		investigation.Findings = make(map[string]map[string]any)
	}
	investigation.Findings[phase.Name] = result.Data
}

// asMapSlice normalizes a Data field into []map[string]any. Strategies
// build these slices directly as []map[string]any; a result that has
// round-tripped through a JSON-backed cache decodes them as []any of
// map[string]any instead, so both shapes are accepted.
func asMapSlice(raw any) []map[string]any {
	switch v := raw.(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func entitiesFromData(raw any) []*domain.Entity {
	items := asMapSlice(raw)
	entities := make([]*domain.Entity, 0, len(items))
	for _, m := range items {
		id, _ := m["id"].(string)
		if id == "" {
			continue
		}
		name, _ := m["name"].(string)
		typ, _ := m["type"].(string)
		confidence, _ := m["confidence"].(float64)
		source, _ := m["source"].(string)
		properties, _ := m["properties"].(map[string]any)
		entities = append(entities, &domain.Entity{
			ID:         id,
			Name:       name,
			Type:       typ,
			Properties: properties,
			Confidence: confidence,
			Source:     source,
			Timestamp:  time.Now().UTC(),
		})
	}
	return entities
}

func relationshipsFromData(raw any) []*domain.Relationship {
	items := asMapSlice(raw)
	rels := make([]*domain.Relationship, 0, len(items))
	for _, m := range items {
		id, _ := m["id"].(string)
		if id == "" {
			continue
		}
		sourceID, _ := m["source_id"].(string)
		targetID, _ := m["target_id"].(string)
		typ, _ := m["type"].(string)
		confidence, _ := m["confidence"].(float64)
		properties, _ := m["properties"].(map[string]any)
		rels = append(rels, &domain.Relationship{
			ID:         id,
			SourceID:   sourceID,
			TargetID:   targetID,
			Type:       typ,
			Properties: properties,
			Confidence: confidence,
			Timestamp:  time.Now().UTC(),
		})
	}
	return rels
}

// triggerAdaptivePhase appends and immediately executes a new
// AnomalyDetection phase in response to a triggering phase's anomaly
// signal.
func (p *Pipeline) triggerAdaptivePhase(ctx context.Context, investigation *domain.Investigation, trigger *domain.InvestigationPhase) {
	investigation.AdaptiveActionsCount++

	var triggerData map[string]any
	if trigger.Result != nil {
		triggerData = trigger.Result.Data
	}

	adaptive := &domain.InvestigationPhase{
		Name: fmt.Sprintf("adaptive_%s", trigger.Name),
		Kind: domain.KindAnomalyDetection,
		Parameters: map[string]any{
			"triggered_by": trigger.Name,
			"context":      triggerData,
		},
		Status: domain.PhasePending,
	}
	investigation.Phases = append(investigation.Phases, adaptive)

	if p.metrics != nil {
		p.metrics.RecordAdaptivePhase()
	}

	p.executePhase(ctx, investigation, adaptive)
}

// AddEvidence appends evidence to a running investigation, stamping a
// timestamp if absent. In adaptive mode, on a still-running
// investigation, synthesizes and immediately runs a follow-up
// EntityExtraction phase over the evidence body.
func (p *Pipeline) AddEvidence(ctx context.Context, investigationID string, evidence domain.Evidence) bool {
	p.mu.RLock()
	investigation, ok := p.investigations[investigationID]
	p.mu.RUnlock()
	if !ok {
		p.logger.Error("investigation not found", zap.String("investigation_id", investigationID))
		return false
	}

	if evidence.Timestamp.IsZero() {
		evidence.Timestamp = time.Now().UTC()
	}
	investigation.Evidence = append(investigation.Evidence, evidence)

	if p.cfg.Adaptive && investigation.Status == domain.StatusRunning {
		phase := &domain.InvestigationPhase{
			Name: fmt.Sprintf("evidence_analysis_%d", len(investigation.Evidence)),
			Kind: domain.KindEntityExtraction,
			Parameters: map[string]any{
				"text": evidence.Body,
			},
			Status: domain.PhasePending,
		}
		investigation.Phases = append(investigation.Phases, phase)
		p.executePhase(ctx, investigation, phase)
	}

	return true
}

// GetInvestigation returns the current view of an investigation,
// including its evidence log.
func (p *Pipeline) GetInvestigation(id string) (*domain.View, bool) {
	p.mu.RLock()
	investigation, ok := p.investigations[id]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return investigation.ToView(true), true
}

// Snapshot is the serializable persisted form of an Investigation.
type Snapshot struct {
	ID                   string                     `json:"id"`
	InitialContext       map[string]any             `json:"initial_context,omitempty"`
	Objectives           []string                   `json:"objectives,omitempty"`
	Status               domain.InvestigationStatus `json:"status"`
	CreatedAt            time.Time                  `json:"created_at"`
	Entities             map[string]*domain.Entity  `json:"entities,omitempty"`
	Relationships        []*domain.Relationship     `json:"relationships,omitempty"`
	Findings             map[string]map[string]any  `json:"findings,omitempty"`
	Evidence             []domain.Evidence          `json:"evidence,omitempty"`
	Errors               []string                   `json:"errors,omitempty"`
	AdaptiveActionsCount int                        `json:"adaptive_actions_count"`
	Phases               []PhaseSnapshot            `json:"phases"`
}

// PhaseSnapshot is the serializable persisted form of one
// InvestigationPhase.
type PhaseSnapshot struct {
	Name       string                 `json:"name"`
	Kind       domain.Kind            `json:"kind"`
	DependsOn  []string               `json:"depends_on,omitempty"`
	Parameters map[string]any         `json:"parameters,omitempty"`
	Status     domain.PhaseStatus     `json:"status"`
	Result     *domain.AnalysisResult `json:"result,omitempty"`
}

// SaveState serializes an investigation's full accumulated state for
// persistence. Returns false (no snapshot) when persistence is
// disabled or the investigation is unknown.
func (p *Pipeline) SaveState(id string) (*Snapshot, bool) {
	if !p.cfg.EnablePersistence {
		return nil, false
	}
	p.mu.RLock()
	investigation, ok := p.investigations[id]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}

	snap := &Snapshot{
		ID:                   investigation.ID,
		InitialContext:       investigation.InitialContext,
		Objectives:           investigation.Objectives,
		Status:               investigation.Status,
		CreatedAt:            investigation.CreatedAt,
		Entities:             investigation.EntitiesDiscovered,
		Relationships:        investigation.RelationshipsFound,
		Findings:             investigation.Findings,
		Evidence:             investigation.Evidence,
		Errors:               investigation.Errors,
		AdaptiveActionsCount: investigation.AdaptiveActionsCount,
	}
	for _, ph := range investigation.Phases {
		snap.Phases = append(snap.Phases, PhaseSnapshot{
			Name:       ph.Name,
			Kind:       ph.Kind,
			DependsOn:  ph.DependsOn,
			Parameters: ph.Parameters,
			Status:     ph.Status,
			Result:     ph.Result,
		})
	}
	return snap, true
}

// LoadState restores an investigation from a snapshot produced by
// SaveState into a fresh pipeline. Returns false when persistence is
// disabled or the snapshot is malformed.
func (p *Pipeline) LoadState(snap *Snapshot) bool {
	if !p.cfg.EnablePersistence {
		return false
	}
	if snap == nil || snap.ID == "" {
		p.logger.Error("cannot load investigation snapshot", zap.Error(errs.NewCorruptSnapshot("missing id")))
		return false
	}

	investigation := &domain.Investigation{
		ID:                   snap.ID,
		InitialContext:       snap.InitialContext,
		Objectives:           snap.Objectives,
		Status:               snap.Status,
		CreatedAt:            snap.CreatedAt,
		EntitiesDiscovered:   snap.Entities,
		RelationshipsFound:   snap.Relationships,
		Findings:             snap.Findings,
		Evidence:             snap.Evidence,
		Errors:               snap.Errors,
		AdaptiveActionsCount: snap.AdaptiveActionsCount,
	}
	if investigation.EntitiesDiscovered == nil {
		investigation.EntitiesDiscovered = make(map[string]*domain.Entity)
	}
	if investigation.Findings == nil {
		investigation.Findings = make(map[string]map[string]any)
	}

	for _, ph := range snap.Phases {
		investigation.Phases = append(investigation.Phases, &domain.InvestigationPhase{
			Name:       ph.Name,
			Kind:       ph.Kind,
			DependsOn:  ph.DependsOn,
			Parameters: ph.Parameters,
			Status:     ph.Status,
			Result:     ph.Result,
		})
	}

	p.mu.Lock()
	p.investigations[investigation.ID] = investigation
	p.mu.Unlock()
	return true
}
