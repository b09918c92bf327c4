package llmprovider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/intelgraph/internal/capability"
)

func TestFixtureProviderExactMatch(t *testing.T) {
	p := NewFixtureProvider("test-model").WithFixture("hello", "world")
	resp, err := p.Complete(context.Background(), "hello", "", 0.7, 0, capability.ResponseFormat{})
	require.NoError(t, err)
	assert.Equal(t, "world", resp)
}

func TestFixtureProviderFallback(t *testing.T) {
	p := NewFixtureProvider("test-model")
	resp, err := p.Complete(context.Background(), "anything", "", 0.7, 0, capability.ResponseFormat{Type: "json_object"})
	require.NoError(t, err)
	assert.Contains(t, resp, "fixture_response")
}

func TestFixtureProviderFunctionCall(t *testing.T) {
	p := NewFixtureProvider("test-model").WithFunctionCall("extract", "extract_entities", map[string]any{"count": 3})
	call, err := p.CompleteWithFunctions(context.Background(), "please extract entities", nil, "", 0.7)
	require.NoError(t, err)
	assert.Equal(t, "extract_entities", call.Function)
	assert.Equal(t, 3, call.Arguments["count"])
}

func TestFixtureProviderEstimateTokens(t *testing.T) {
	p := NewFixtureProvider("test-model")
	assert.GreaterOrEqual(t, p.EstimateTokens("abcd"), 1)
	assert.Equal(t, 1, p.EstimateTokens(""))
}

func TestFactoryUnknownProvider(t *testing.T) {
	_, err := New("not-a-real-vendor", "")
	assert.Error(t, err)
}

func TestFactoryFixture(t *testing.T) {
	provider, err := New("fixture", "my-model")
	require.NoError(t, err)
	assert.Equal(t, "my-model", provider.Model())
}
