package errs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNoStrategy(t *testing.T) {
	err := NewNoStrategy("path_finding")
	assert.Equal(t, KindConfiguration, err.Kind)
	assert.Contains(t, err.Message, "No strategy found for analysis type: path_finding")
}

func TestErrorImplementsError(t *testing.T) {
	var err error = New(KindContract, CodeMissingParameter, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contract")
	assert.Contains(t, err.Error(), "MISSING_PARAMETER")
}

func TestToJSONRoundTrips(t *testing.T) {
	e := NewMissingParameter("text").WithDetails(map[string]any{"field": "text"})
	js := e.ToJSON()
	assert.Contains(t, js, `"kind":"contract"`)
	assert.Contains(t, js, `"code":"MISSING_PARAMETER"`)
}

func TestNewDeadlineExceeded(t *testing.T) {
	err := NewDeadlineExceeded("Analysis", 1)
	assert.Equal(t, KindResource, err.Kind)
	assert.Contains(t, err.Message, "timed out after 1 seconds")
}
