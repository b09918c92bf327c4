package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/intelgraph/internal/cachestore"
	"github.com/kestrelsec/intelgraph/internal/capability"
	"github.com/kestrelsec/intelgraph/internal/llmprovider"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 1_000_000
	cfg.TokensPerMinute = 1_000_000
	cfg.RetryDelayMin = time.Millisecond
	cfg.RetryDelayMax = 2 * time.Millisecond
	return cfg
}

func TestCompleteCachesResponse(t *testing.T) {
	ctx := context.Background()
	provider := llmprovider.NewFixtureProvider("m1").WithFixture("hello", "cached-response")
	cache := cachestore.New(10)
	client := New(provider, cache, fastConfig(), nil)

	resp1, err := client.Complete(ctx, "hello", "", 0.7, 0, capability.ResponseFormat{}, 3600)
	require.NoError(t, err)
	assert.Equal(t, "cached-response", resp1)

	resp2, err := client.Complete(ctx, "hello", "", 0.7, 0, capability.ResponseFormat{}, 3600)
	require.NoError(t, err)
	assert.Equal(t, "cached-response", resp2)

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Hits)
}

func TestCompleteSkipsCacheWhenTTLZero(t *testing.T) {
	ctx := context.Background()
	provider := llmprovider.NewFixtureProvider("m1").WithFixture("hello", "resp")
	cache := cachestore.New(10)
	client := New(provider, cache, fastConfig(), nil)

	_, err := client.Complete(ctx, "hello", "", 0.7, 0, capability.ResponseFormat{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, cache.Stats().Size)
}

type failingProvider struct {
	capability.LLMProvider
	failuresRemaining int
}

func (f *failingProvider) Complete(ctx context.Context, prompt, systemPrompt string, temperature float64, maxTokens int, format capability.ResponseFormat) (string, error) {
	if f.failuresRemaining > 0 {
		f.failuresRemaining--
		return "", errors.New("transient failure")
	}
	return "ok", nil
}

func (f *failingProvider) EstimateTokens(text string) int { return 1 }
func (f *failingProvider) Model() string                  { return "failing" }

func TestCompleteRetriesOnFailure(t *testing.T) {
	ctx := context.Background()
	provider := &failingProvider{failuresRemaining: 2}
	client := New(provider, nil, fastConfig(), nil)

	resp, err := client.Complete(ctx, "anything", "", 0.7, 0, capability.ResponseFormat{}, 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestCompleteExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	provider := &failingProvider{failuresRemaining: 100}
	cfg := fastConfig()
	cfg.RetryAttempts = 1
	client := New(provider, nil, cfg, nil)

	_, err := client.Complete(ctx, "anything", "", 0.7, 0, capability.ResponseFormat{}, 0)
	assert.Error(t, err)
}

func TestCompleteWithFunctions(t *testing.T) {
	ctx := context.Background()
	provider := llmprovider.NewFixtureProvider("m1").WithFunctionCall("extract", "extract_entities", map[string]any{"n": 1})
	client := New(provider, nil, fastConfig(), nil)

	call, err := client.CompleteWithFunctions(ctx, "please extract things", []capability.FunctionSpec{{Name: "extract_entities"}}, "", 0.7)
	require.NoError(t, err)
	assert.Equal(t, "extract_entities", call.Function)
}

func TestCacheKeyDeterministic(t *testing.T) {
	k1 := cacheKey("p", "s", 0.5, "m")
	k2 := cacheKey("p", "s", 0.5, "m")
	k3 := cacheKey("p", "s", 0.6, "m")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
