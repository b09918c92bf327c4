package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelsec/intelgraph/internal/capability"
	"github.com/kestrelsec/intelgraph/internal/engine"
	"github.com/kestrelsec/intelgraph/internal/pipeline"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check result
type Check struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Checker performs health checks against the Analysis Engine, the
// Investigation Pipeline, and the capabilities they depend on.
type Checker struct {
	engine   *engine.Engine
	pipeline *pipeline.Pipeline
	graph    capability.GraphBackend
	cache    capability.Cache
	logger   *zap.Logger
}

// New creates a new health checker. cache may be nil when caching is
// disabled; the cache check is skipped in that case.
func New(eng *engine.Engine, pl *pipeline.Pipeline, graph capability.GraphBackend, cache capability.Cache, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{engine: eng, pipeline: pl, graph: graph, cache: cache, logger: logger}
}

// StrategyCount reports how many Analysis Strategies the underlying
// engine currently has registered, for the readiness endpoint.
func (c *Checker) StrategyCount() int {
	return c.engine.StrategyCount()
}

// ActiveInvestigations reports how many investigations the underlying
// pipeline currently has in the "running" state, for the liveness and
// readiness endpoints.
func (c *Checker) ActiveInvestigations() int {
	return c.pipeline.ActiveInvestigations()
}

// CheckAll performs all health checks.
func (c *Checker) CheckAll(ctx context.Context) (Status, []Check) {
	checks := []Check{c.checkStrategies(), c.checkGraphBackend(ctx)}
	if c.cache != nil {
		checks = append(checks, c.checkCache(ctx))
	}

	overallStatus := StatusHealthy
	for _, check := range checks {
		if check.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
			break
		} else if check.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return overallStatus, checks
}

// checkStrategies verifies at least one Analysis Strategy is
// registered with the engine; an engine with no strategies can accept
// requests but will fail every one of them.
func (c *Checker) checkStrategies() Check {
	start := time.Now()
	check := Check{Name: "strategies", Timestamp: start}

	count := c.engine.StrategyCount()
	check.Duration = time.Since(start)

	if count == 0 {
		check.Status = StatusUnhealthy
		check.Message = "no analysis strategies registered"
		c.logger.Error("Health check failed: strategies", zap.Duration("duration", check.Duration))
		return check
	}

	check.Status = StatusHealthy
	check.Message = fmt.Sprintf("%d strategies registered, %d investigations active", count, c.pipeline.ActiveInvestigations())
	c.logger.Debug("Health check passed: strategies", zap.Duration("duration", check.Duration))
	return check
}

// checkGraphBackend verifies the graph backend accepts reads.
func (c *Checker) checkGraphBackend(ctx context.Context) Check {
	start := time.Now()
	check := Check{Name: "graph_backend", Timestamp: start}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.graph.GetEntities(checkCtx, nil, 1)
	check.Duration = time.Since(start)

	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("graph backend unreachable: %v", err)
		c.logger.Warn("Health check failed: graph backend", zap.Error(err), zap.Duration("duration", check.Duration))
		return check
	}
	if check.Duration > 3*time.Second {
		check.Status = StatusDegraded
		check.Message = "graph backend responding slowly"
		return check
	}

	check.Status = StatusHealthy
	check.Message = "graph backend reachable"
	c.logger.Debug("Health check passed: graph backend", zap.Duration("duration", check.Duration))
	return check
}

// checkCache verifies the result cache accepts round-trip writes.
func (c *Checker) checkCache(ctx context.Context) Check {
	start := time.Now()
	check := Check{Name: "cache", Timestamp: start}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	const probeKey = "__health_probe__"
	err := c.cache.Set(checkCtx, probeKey, start.UnixNano(), 5)
	if err == nil {
		_, _, err = c.cache.Get(checkCtx, probeKey)
	}
	check.Duration = time.Since(start)

	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("cache round-trip failed: %v", err)
		c.logger.Warn("Health check failed: cache", zap.Error(err), zap.Duration("duration", check.Duration))
		return check
	}

	check.Status = StatusHealthy
	check.Message = "cache reachable"
	c.logger.Debug("Health check passed: cache", zap.Duration("duration", check.Duration))
	return check
}
