package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/intelgraph/internal/domain"
)

func TestRegistryResolvesBuiltins(t *testing.T) {
	r := NewRegistry()

	for _, kind := range []domain.Kind{
		domain.KindEntityExtraction,
		domain.KindRelationshipMapping,
		domain.KindCommunityDetection,
		domain.KindAnomalyDetection,
		domain.KindPathFinding,
		domain.KindCentralityAnalysis,
	} {
		s, err := r.Resolve(kind)
		require.NoError(t, err)
		assert.True(t, s.CanHandle(kind))
	}
}

func TestRegistryUnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(domain.Kind("unknown"))
	assert.Error(t, err)
}
