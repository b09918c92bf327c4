package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestLogger(enabled bool) *Logger {
	return NewLogger(zap.NewNop(), enabled)
}

func TestLogDisabledIsNoop(t *testing.T) {
	l := newTestLogger(false)
	l.Log(context.Background(), Entry{Operation: "analyze"})
	assert.Empty(t, l.GetRecentEntries(10))
}

func TestLogAnalysisRecordsEntry(t *testing.T) {
	l := newTestLogger(true)
	l.LogAnalysis(context.Background(), "entity_extraction", true, 50*time.Millisecond, "")

	entries := l.GetRecentEntries(10)
	assert.Len(t, entries, 1)
	assert.Equal(t, "analyze", entries[0].Operation)
	assert.Equal(t, "entity_extraction", entries[0].Kind)
	assert.True(t, entries[0].Success)
}

func TestLogPhaseTagsInvestigation(t *testing.T) {
	l := newTestLogger(true)
	l.LogPhase(context.Background(), "inv-1", "explore_e1_depth_0", "entity_extraction", false, 10*time.Millisecond, "strategy timed out")

	entries := l.GetEntriesByInvestigation("inv-1")
	assert.Len(t, entries, 1)
	assert.Equal(t, "phase", entries[0].Operation)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "strategy timed out", entries[0].ErrorMessage)
}

func TestLogRedactsSensitiveMetadata(t *testing.T) {
	l := newTestLogger(true)
	l.Log(context.Background(), Entry{
		Operation: "analyze",
		Success:   true,
		Metadata: map[string]any{
			"api_key": "sk-abcdefghijklmnopqrstuvwxyz",
			"note":    "plain text",
		},
	})

	entries := l.GetRecentEntries(1)
	assert.Equal(t, "***REDACTED***", entries[0].Metadata["api_key"])
	assert.Equal(t, "plain text", entries[0].Metadata["note"])
}

func TestGetRecentEntriesOrdersNewestFirst(t *testing.T) {
	l := newTestLogger(true)
	l.LogAnalysis(context.Background(), "entity_extraction", true, 0, "")
	l.LogAnalysis(context.Background(), "path_finding", true, 0, "")

	entries := l.GetRecentEntries(2)
	assert.Equal(t, "path_finding", entries[0].Kind)
	assert.Equal(t, "entity_extraction", entries[1].Kind)
}

func TestGetRecentEntriesCapsAtMaxEntries(t *testing.T) {
	l := newTestLogger(true)
	l.maxEntries = 3
	for i := 0; i < 5; i++ {
		l.LogAnalysis(context.Background(), "entity_extraction", true, 0, "")
	}
	assert.Len(t, l.GetRecentEntries(100), 3)
}

func TestGetStatsComputesSuccessRateAndAverage(t *testing.T) {
	l := newTestLogger(true)
	l.LogAnalysis(context.Background(), "entity_extraction", true, 100*time.Millisecond, "")
	l.LogAnalysis(context.Background(), "entity_extraction", false, 200*time.Millisecond, "boom")

	stats := l.GetStats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.InDelta(t, 50.0, stats.SuccessRate, 0.001)
	assert.Equal(t, 150*time.Millisecond, stats.AverageDuration)
	assert.Equal(t, 2, stats.OperationCounts["analyze"])
}

func TestClearEmptiesBuffer(t *testing.T) {
	l := newTestLogger(true)
	l.LogAnalysis(context.Background(), "entity_extraction", true, 0, "")
	l.Clear()
	assert.Empty(t, l.GetRecentEntries(10))
}

func TestIsEnabled(t *testing.T) {
	assert.True(t, newTestLogger(true).IsEnabled())
	assert.False(t, newTestLogger(false).IsEnabled())
}
