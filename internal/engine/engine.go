// Package engine implements the Analysis Engine: the orchestration
// layer that turns an AnalysisRequest into an AnalysisResult by
// finding the registered strategy that handles its Kind, optionally
// checking a result cache first, enforcing a per-call deadline, and
// recording metrics and trace spans around every call.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelsec/intelgraph/internal/capability"
	"github.com/kestrelsec/intelgraph/internal/domain"
	"github.com/kestrelsec/intelgraph/internal/errs"
	"github.com/kestrelsec/intelgraph/internal/obsmetrics"
	"github.com/kestrelsec/intelgraph/internal/tracing"
)

// PreProcessHook rewrites a request before dispatch.
type PreProcessHook func(domain.AnalysisRequest) domain.AnalysisRequest

// PostProcessHook rewrites a result before it is returned to the
// caller. Runs on both cache hits and freshly computed results.
type PostProcessHook func(*domain.AnalysisResult) *domain.AnalysisResult

// Config controls optional Engine behavior.
type Config struct {
	EnableCaching    bool
	CacheTTLSeconds  int // defaults to 3600 when EnableCaching and unset
	TimeoutSeconds   int // 0 means no per-call deadline
	CollectMetrics   bool
	PreProcessHook   PreProcessHook
	PostProcessHook  PostProcessHook
}

// Engine orchestrates analysis strategies against an LLM provider and
// a graph backend.
type Engine struct {
	llm   capability.LLMProvider
	graph capability.GraphBackend
	cache capability.Cache

	mu         sync.RWMutex
	strategies []capability.Strategy

	cfg     Config
	metrics *obsmetrics.EngineMetrics
	logger  *zap.Logger
}

// New builds an Engine. strategies may be nil; use AddStrategy to
// populate it afterward. logger may be nil, in which case a no-op
// logger is used.
func New(llm capability.LLMProvider, graph capability.GraphBackend, cache capability.Cache, strategies []capability.Strategy, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		llm:        llm,
		graph:      graph,
		cache:      cache,
		strategies: append([]capability.Strategy{}, strategies...),
		cfg:        cfg,
		logger:     logger,
	}
	if cfg.CollectMetrics {
		e.metrics = obsmetrics.NewEngineMetrics()
	}
	return e
}

// Metrics returns the engine's metrics collector, or nil if
// Config.CollectMetrics was false.
func (e *Engine) Metrics() *obsmetrics.EngineMetrics { return e.metrics }

// AddStrategy registers a new strategy, tried after every
// already-registered strategy.
func (e *Engine) AddStrategy(s capability.Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies = append(e.strategies, s)
}

// RemoveStrategy removes the first occurrence of s, if present.
func (e *Engine) RemoveStrategy(s capability.Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.strategies {
		if existing == s {
			e.strategies = append(e.strategies[:i], e.strategies[i+1:]...)
			return
		}
	}
}

// StrategyCount reports how many strategies are currently registered,
// for health reporting.
func (e *Engine) StrategyCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.strategies)
}

func (e *Engine) findStrategy(kind domain.Kind) capability.Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, s := range e.strategies {
		if s.CanHandle(kind) {
			return s
		}
	}
	return nil
}

// Analyze executes a single analysis request: optional pre-processing,
// a cache lookup, strategy dispatch (racing the configured deadline if
// any), metrics recording, and optional post-processing.
func (e *Engine) Analyze(ctx context.Context, request domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	start := time.Now()
	ctx, span := tracing.AnalysisSpan(ctx, string(request.Kind))
	defer span.End()

	if e.cfg.PreProcessHook != nil {
		request = e.cfg.PreProcessHook(request)
	}

	if e.cfg.EnableCaching && e.cache != nil {
		key := cacheKey(request)
		if cached, found, err := e.cache.Get(ctx, key); err == nil && found {
			result, convErr := toResult(cached)
			if convErr == nil {
				e.logger.Debug("analysis cache hit", zap.String("kind", string(request.Kind)))
				e.recordMetrics(request.Kind, result.Success, true, time.Since(start))
				tracing.SetSuccess(span)
				return e.postProcess(result), nil
			}
		}
	}

	strategy := e.findStrategy(request.Kind)
	if strategy == nil {
		err := errs.NewNoStrategy(string(request.Kind))
		e.logger.Error("no strategy found", zap.String("kind", string(request.Kind)))
		result := errorResult(request, start, err.Error())
		e.recordMetrics(request.Kind, false, false, time.Since(start))
		tracing.RecordError(span, err)
		return e.postProcess(result), nil
	}

	result, err := e.runStrategy(ctx, strategy, request, start)
	if err != nil {
		tracing.RecordError(span, err)
	} else {
		tracing.SetSuccess(span)
	}

	e.recordMetrics(request.Kind, result.Success, false, time.Since(start))

	if e.cfg.EnableCaching && e.cache != nil && result.Success {
		ttl := e.cfg.CacheTTLSeconds
		if ttl == 0 {
			ttl = 3600
		}
		if b, marshalErr := domain.MarshalResult(result); marshalErr == nil {
			_ = e.cache.Set(ctx, cacheKey(request), string(b), ttl)
		}
	}

	return e.postProcess(result), nil
}

// runStrategy invokes strategy.Analyze, racing ctx and the configured
// per-call timeout. A strategy error, a recovered strategy panic, or a
// timeout (a Resource error) yields a failure result, returned together
// with that error.
func (e *Engine) runStrategy(ctx context.Context, strategy capability.Strategy, request domain.AnalysisRequest, start time.Time) (*domain.AnalysisResult, error) {
	analyze := func(ctx context.Context) (result *domain.AnalysisResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				result, err = nil, fmt.Errorf("strategy panicked: %v", r)
			}
		}()
		return strategy.Analyze(ctx, request, e.llm, e.graph)
	}

	if e.cfg.TimeoutSeconds <= 0 {
		result, err := analyze(ctx)
		if err != nil {
			return errorResult(request, start, fmt.Sprintf("Analysis failed: %v", err)), err
		}
		return result, nil
	}

	deadline := time.Duration(e.cfg.TimeoutSeconds) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type outcome struct {
		result *domain.AnalysisResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := analyze(callCtx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return errorResult(request, start, fmt.Sprintf("Analysis failed: %v", o.err)), o.err
		}
		return o.result, nil
	case <-callCtx.Done():
		err := errs.NewDeadlineExceeded("Analysis", float64(e.cfg.TimeoutSeconds))
		e.logger.Error("analysis timed out", zap.String("kind", string(request.Kind)), zap.Int("timeout_seconds", e.cfg.TimeoutSeconds))
		return errorResult(request, start, err.Error()), err
	}
}

func (e *Engine) postProcess(result *domain.AnalysisResult) *domain.AnalysisResult {
	if e.cfg.PostProcessHook != nil {
		return e.cfg.PostProcessHook(result)
	}
	return result
}

func (e *Engine) recordMetrics(kind domain.Kind, success, cacheHit bool, latency time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordRequest(string(kind), success, cacheHit, latency)
	}
}

// AnalyzeBatch runs every request concurrently and returns results in
// the same order as requests. A panic or error in one request never
// prevents the others from completing.
func (e *Engine) AnalyzeBatch(ctx context.Context, requests []domain.AnalysisRequest) []*domain.AnalysisResult {
	results := make([]*domain.AnalysisResult, len(requests))

	var wg sync.WaitGroup
	for i, request := range requests {
		wg.Add(1)
		go func(i int, request domain.AnalysisRequest) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = domain.Failure(request, fmt.Sprintf("Batch execution failed: %v", r))
				}
			}()
			result, err := e.Analyze(ctx, request)
			if err != nil {
				results[i] = domain.Failure(request, fmt.Sprintf("Batch execution failed: %v", err))
				return
			}
			results[i] = result
		}(i, request)
	}
	wg.Wait()

	return results
}

func errorResult(request domain.AnalysisRequest, start time.Time, message string) *domain.AnalysisResult {
	return &domain.AnalysisResult{
		Request:    request,
		Success:    false,
		Errors:     []string{message},
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
}

// cacheKey derives a deterministic SHA-256 key from the request's
// kind, parameters, context, and constraints, matching the canonical
// sorted-JSON key derivation used throughout the codebase.
func cacheKey(request domain.AnalysisRequest) string {
	keyData := map[string]any{
		"kind":        string(request.Kind),
		"parameters":  request.Parameters,
		"context":     request.Context,
		"constraints": request.Constraints,
	}
	b, _ := json.Marshal(keyData)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func toResult(cached any) (*domain.AnalysisResult, error) {
	switch v := cached.(type) {
	case string:
		return domain.UnmarshalResult([]byte(v))
	case *domain.AnalysisResult:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return domain.UnmarshalResult(b)
	}
}
