package llmprovider

import (
	"fmt"
	"strings"

	"github.com/kestrelsec/intelgraph/internal/capability"
)

// New builds an LLMProvider for providerType and model. Only "fixture"
// is implemented: this repository's capability boundary is the
// LLMProvider interface itself, and wiring a specific commercial
// vendor is explicitly out of scope. Unknown provider types are an
// error rather than a silent fallback, so misconfiguration surfaces at
// startup instead of producing fixture answers unexpectedly.
func New(providerType, model string) (capability.LLMProvider, error) {
	switch strings.ToLower(providerType) {
	case "fixture", "":
		if model == "" {
			model = "fixture-default"
		}
		return NewFixtureProvider(model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider type: %q", providerType)
	}
}
