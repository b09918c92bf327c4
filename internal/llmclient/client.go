// Package llmclient wraps a capability.LLMProvider with caching, a
// dual-bucket rate limiter, and retry-with-jitter, per spec §4.4.
package llmclient

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kestrelsec/intelgraph/internal/capability"
	"github.com/kestrelsec/intelgraph/internal/obsmetrics"
)

// Config controls retry and rate-limit behavior.
type Config struct {
	RequestsPerMinute int
	TokensPerMinute   int
	RetryAttempts     int
	RetryDelayMin     time.Duration
	RetryDelayMax     time.Duration
	CacheTTLSeconds   int
}

// DefaultConfig returns sane defaults matching the reference client.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 50,
		TokensPerMinute:   40000,
		RetryAttempts:     3,
		RetryDelayMin:     500 * time.Millisecond,
		RetryDelayMax:     30 * time.Second,
		CacheTTLSeconds:   3600,
	}
}

// Client wraps an LLMProvider with caching, rate limiting, and retry.
type Client struct {
	provider capability.LLMProvider
	cache    capability.Cache
	cfg      Config
	metrics  *obsmetrics.LLMClientMetrics

	limitersMu sync.Mutex
	limiters   map[string]*RateLimiter
}

// New creates a Client. cache and metrics may be nil.
func New(provider capability.LLMProvider, cache capability.Cache, cfg Config, metrics *obsmetrics.LLMClientMetrics) *Client {
	return &Client{
		provider: provider,
		cache:    cache,
		cfg:      cfg,
		metrics:  metrics,
		limiters: make(map[string]*RateLimiter),
	}
}

// AsProvider adapts Client to capability.LLMProvider, using
// cfg.CacheTTLSeconds as the cache lifetime for every completion. Use
// this to hand a rate-limited, cached LLM client to code (the Analysis
// Engine, the exploration planners) written against the narrower
// capability interface rather than Client's own richer signature.
func (c *Client) AsProvider() capability.LLMProvider { return provider{c} }

type provider struct{ c *Client }

func (p provider) Complete(ctx context.Context, prompt, systemPrompt string, temperature float64, maxTokens int, format capability.ResponseFormat) (string, error) {
	return p.c.Complete(ctx, prompt, systemPrompt, temperature, maxTokens, format, p.c.cfg.CacheTTLSeconds)
}

func (p provider) CompleteWithFunctions(ctx context.Context, prompt string, functions []capability.FunctionSpec, systemPrompt string, temperature float64) (capability.FunctionCall, error) {
	return p.c.CompleteWithFunctions(ctx, prompt, functions, systemPrompt, temperature)
}

func (p provider) EstimateTokens(text string) int { return p.c.provider.EstimateTokens(text) }

func (p provider) Model() string { return p.c.provider.Model() }

func (c *Client) limiterFor(model string) *RateLimiter {
	if model == "" {
		model = "default"
	}
	c.limitersMu.Lock()
	defer c.limitersMu.Unlock()
	l, ok := c.limiters[model]
	if !ok {
		l = NewRateLimiter(c.cfg.RequestsPerMinute, c.cfg.TokensPerMinute)
		c.limiters[model] = l
	}
	return l
}

// cacheKey derives the deterministic key for one completion request, a
// SHA-256 hash of the canonical-JSON request shape, matching the
// content (not construction order) the reference client hashes.
func cacheKey(prompt, systemPrompt string, temperature float64, model string) string {
	data := map[string]any{
		"prompt":        prompt,
		"system_prompt": systemPrompt,
		"temperature":   temperature,
		"model":         model,
	}
	if model == "" {
		data["model"] = "default"
	}
	b, _ := json.Marshal(data)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Complete returns a completion for prompt, serving from cache when
// possible and rate-limiting otherwise. cacheTTLSeconds <= 0 disables
// caching for this call.
func (c *Client) Complete(ctx context.Context, prompt, systemPrompt string, temperature float64, maxTokens int, format capability.ResponseFormat, cacheTTLSeconds int) (string, error) {
	model := c.provider.Model()

	if c.cache != nil && cacheTTLSeconds > 0 {
		key := cacheKey(prompt, systemPrompt, temperature, model)
		if cached, found, err := c.cache.Get(ctx, key); err == nil && found {
			if c.metrics != nil {
				c.metrics.RecordCompletion(true)
			}
			if s, ok := cached.(string); ok {
				return s, nil
			}
		}
	}

	tokens := c.provider.EstimateTokens(prompt)
	if systemPrompt != "" {
		tokens += c.provider.EstimateTokens(systemPrompt)
	}

	wait := c.limiterFor(model).WaitIfNeeded(tokens)
	if c.metrics != nil {
		c.metrics.RecordRateLimitWait(wait)
	}

	response, err := c.completeWithRetry(ctx, prompt, systemPrompt, temperature, maxTokens, format)
	if err != nil {
		return "", err
	}

	if c.metrics != nil {
		c.metrics.RecordCompletion(false)
	}

	if c.cache != nil && cacheTTLSeconds > 0 {
		key := cacheKey(prompt, systemPrompt, temperature, model)
		_ = c.cache.Set(ctx, key, response, cacheTTLSeconds)
	}
	return response, nil
}

// CompleteWithFunctions asks the model to select among functions. No
// caching applies — function-calling results depend on the caller's
// function set, which rarely repeats identically enough to cache.
func (c *Client) CompleteWithFunctions(ctx context.Context, prompt string, functions []capability.FunctionSpec, systemPrompt string, temperature float64) (capability.FunctionCall, error) {
	model := c.provider.Model()

	tokens := c.provider.EstimateTokens(prompt)
	if systemPrompt != "" {
		tokens += c.provider.EstimateTokens(systemPrompt)
	}
	functionsJSON, _ := json.Marshal(functions)
	tokens += len(functionsJSON) / 4

	wait := c.limiterFor(model).WaitIfNeeded(tokens)
	if c.metrics != nil {
		c.metrics.RecordRateLimitWait(wait)
	}

	var result capability.FunctionCall
	err := c.retry(ctx, func() error {
		var callErr error
		result, callErr = c.provider.CompleteWithFunctions(ctx, prompt, functions, systemPrompt, temperature)
		return callErr
	})
	if err != nil {
		return capability.FunctionCall{}, err
	}
	if c.metrics != nil {
		c.metrics.RecordCompletion(false)
	}
	return result, nil
}

func (c *Client) completeWithRetry(ctx context.Context, prompt, systemPrompt string, temperature float64, maxTokens int, format capability.ResponseFormat) (string, error) {
	var result string
	err := c.retry(ctx, func() error {
		var callErr error
		result, callErr = c.provider.Complete(ctx, prompt, systemPrompt, temperature, maxTokens, format)
		return callErr
	})
	return result, err
}

// retry runs fn up to cfg.RetryAttempts additional times on failure,
// waiting an exponentially growing, jittered delay between attempts.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	attempts := c.cfg.RetryAttempts
	if attempts < 0 {
		attempts = 0
	}

	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			wait := c.retryWait(attempt)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			if c.metrics != nil {
				c.metrics.RecordRetry()
			}
		}

		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("llm completion failed after %d attempts: %w", attempts+1, lastErr)
}

// retryWait computes exponential backoff with jitter, capped at
// RetryDelayMax. Jitter is a random 0-25% addition to the base wait,
// to spread out simultaneous retries across concurrent callers.
func (c *Client) retryWait(attempt int) time.Duration {
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	if shift < 0 {
		shift = 0
	}
	base := c.cfg.RetryDelayMin * time.Duration(int64(1)<<shift)
	if base > c.cfg.RetryDelayMax {
		base = c.cfg.RetryDelayMax
	}
	return base + cryptoJitter(base/4)
}

// cryptoJitter returns a random duration in [0, max), using crypto/rand
// instead of math/rand so backoff timing isn't predictable to a caller
// racing against the client.
func cryptoJitter(maxVal time.Duration) time.Duration {
	if maxVal <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	b[7] &= 0x7F
	var n int64
	for i := 0; i < 8; i++ {
		n |= int64(b[i]) << (8 * i)
	}
	return time.Duration(n % int64(maxVal))
}
