// Package llmprovider supplies capability.LLMProvider implementations.
// A real deployment would wire a vendor SDK here; this package ships a
// deterministic fixture provider suited to tests and to running the
// rest of the system without a live LLM dependency, since which vendor
// backs the provider is explicitly out of scope (spec §9).
package llmprovider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/kestrelsec/intelgraph/internal/capability"
)

// FixtureProvider returns canned completions keyed by a deterministic
// hash of the prompt, so the same prompt always yields the same
// response within a process — useful for reproducible tests and demos
// that don't have network access to a real vendor.
type FixtureProvider struct {
	model string

	mu        sync.RWMutex
	fixtures  map[string]string // prompt hash -> response
	fallback  string
	functions []fixtureFunctionCall
}

type fixtureFunctionCall struct {
	match    string // substring match on prompt; "" matches any prompt
	function string
	args     map[string]any
}

// NewFixtureProvider creates a fixture provider for model. If no
// fixture matches a given prompt, Complete returns a stock response
// describing the prompt's shape rather than failing, so pipelines can
// run to completion during development.
func NewFixtureProvider(model string) *FixtureProvider {
	return &FixtureProvider{
		model:    model,
		fixtures: make(map[string]string),
		fallback: `{"result":"fixture_response","status":"ok"}`,
	}
}

var _ capability.LLMProvider = (*FixtureProvider)(nil)

// WithFixture registers an exact-match canned response for prompt.
func (p *FixtureProvider) WithFixture(prompt, response string) *FixtureProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fixtures[hashPrompt(prompt)] = response
	return p
}

// WithFunctionCall registers a canned function-call result returned
// whenever a prompt contains match (or always, if match is empty).
func (p *FixtureProvider) WithFunctionCall(match, function string, args map[string]any) *FixtureProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.functions = append(p.functions, fixtureFunctionCall{match: match, function: function, args: args})
	return p
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// Complete returns the registered fixture for prompt, or the fallback
// response if none matches.
func (p *FixtureProvider) Complete(_ context.Context, prompt, _ string, _ float64, _ int, format capability.ResponseFormat) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if resp, ok := p.fixtures[hashPrompt(prompt)]; ok {
		return resp, nil
	}
	if format.Type == "json_object" {
		return p.fallback, nil
	}
	return fmt.Sprintf("fixture completion for a %d-character prompt", len(prompt)), nil
}

// CompleteWithFunctions returns the first registered function call
// whose match string is a substring of prompt (or has no match
// requirement), or an empty call naming no function if none apply.
func (p *FixtureProvider) CompleteWithFunctions(_ context.Context, prompt string, functions []capability.FunctionSpec, _ string, _ float64) (capability.FunctionCall, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, fc := range p.functions {
		if fc.match == "" || strings.Contains(prompt, fc.match) {
			return capability.FunctionCall{Function: fc.function, Arguments: fc.args}, nil
		}
	}
	if len(functions) > 0 {
		return capability.FunctionCall{Function: functions[0].Name, Arguments: map[string]any{}}, nil
	}
	return capability.FunctionCall{}, nil
}

// EstimateTokens approximates token count as one token per four
// characters, the same rough heuristic the reference providers use
// when a precise tokenizer isn't available.
func (p *FixtureProvider) EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// Model returns the configured model name.
func (p *FixtureProvider) Model() string { return p.model }

// CanonicalCacheKeyInput mirrors the deterministic cache-key input
// shape used by llmclient; exported here so callers building their own
// fixtures can match keys exactly without importing llmclient.
// encoding/json sorts map keys when marshaling, so this is stable.
func CanonicalCacheKeyInput(prompt, systemPrompt string, temperature float64, model string) string {
	data := map[string]any{
		"prompt":        prompt,
		"system_prompt": systemPrompt,
		"temperature":   temperature,
		"model":         model,
	}
	b, _ := json.Marshal(data)
	return string(b)
}
