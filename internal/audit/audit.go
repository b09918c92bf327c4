// Package audit provides an audit trail of analysis and investigation
// executions: which strategy ran, on what phase, with what outcome.
// This supports debugging and compliance review of an investigation
// after the fact.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelsec/intelgraph/internal/redact"
	"github.com/kestrelsec/intelgraph/internal/tracing"
)

// Entry represents a single audited operation.
type Entry struct {
	Timestamp      time.Time      `json:"timestamp"`
	TraceID        string         `json:"trace_id"`
	SpanID         string         `json:"span_id,omitempty"`
	Operation      string         `json:"operation"` // "analyze" or "investigate" or "phase"
	Kind           string         `json:"kind,omitempty"`
	InvestigationID string        `json:"investigation_id,omitempty"`
	PhaseName      string         `json:"phase_name,omitempty"`
	Success        bool           `json:"success"`
	Duration       time.Duration  `json:"duration_ns"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Logger records audit entries to structured logs and an in-memory
// ring buffer for later inspection.
type Logger struct {
	enabled bool
	logger  *zap.Logger

	mu         sync.RWMutex
	entries    []Entry
	maxEntries int
}

// NewLogger creates an audit logger. When enabled is false, Log is a
// no-op.
func NewLogger(logger *zap.Logger, enabled bool) *Logger {
	return &Logger{
		enabled:    enabled,
		logger:     logger.Named("audit"),
		entries:    make([]Entry, 0, 1000),
		maxEntries: 1000,
	}
}

// Log records entry, enriching it with trace context and masking any
// sensitive-looking values in its metadata.
func (l *Logger) Log(ctx context.Context, entry Entry) {
	if !l.enabled {
		return
	}

	traceInfo := tracing.FromContext(ctx)
	if traceInfo.TraceID != "" {
		entry.TraceID = traceInfo.TraceID
	}
	if traceInfo.SpanID != "" {
		entry.SpanID = traceInfo.SpanID
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Metadata != nil {
		entry.Metadata = redact.MaskMap(entry.Metadata)
	}

	fields := []zap.Field{
		zap.Time("timestamp", entry.Timestamp),
		zap.String("trace_id", entry.TraceID),
		zap.String("operation", entry.Operation),
		zap.Bool("success", entry.Success),
		zap.Duration("duration", entry.Duration),
	}
	if entry.Kind != "" {
		fields = append(fields, zap.String("kind", entry.Kind))
	}
	if entry.InvestigationID != "" {
		fields = append(fields, zap.String("investigation_id", entry.InvestigationID))
	}
	if entry.PhaseName != "" {
		fields = append(fields, zap.String("phase_name", entry.PhaseName))
	}
	if entry.ErrorMessage != "" {
		fields = append(fields, zap.String("error_message", entry.ErrorMessage))
	}
	l.logger.Info("audit", fields...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) >= l.maxEntries {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, entry)
}

// LogAnalysis is a convenience wrapper for one Engine.Analyze call.
func (l *Logger) LogAnalysis(ctx context.Context, kind string, success bool, duration time.Duration, errMsg string) {
	l.Log(ctx, Entry{Operation: "analyze", Kind: kind, Success: success, Duration: duration, ErrorMessage: errMsg})
}

// LogPhase is a convenience wrapper for one phase execution within an
// investigation.
func (l *Logger) LogPhase(ctx context.Context, investigationID, phaseName, kind string, success bool, duration time.Duration, errMsg string) {
	l.Log(ctx, Entry{
		Operation:       "phase",
		Kind:            kind,
		InvestigationID: investigationID,
		PhaseName:       phaseName,
		Success:         success,
		Duration:        duration,
		ErrorMessage:    errMsg,
	})
}

// GetRecentEntries returns the most recent entries, newest first.
func (l *Logger) GetRecentEntries(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	start := len(l.entries) - limit
	if start < 0 {
		start = 0
	}
	result := make([]Entry, limit)
	copy(result, l.entries[start:])
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// GetEntriesByInvestigation returns every entry tagged with
// investigationID.
func (l *Logger) GetEntriesByInvestigation(investigationID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []Entry
	for _, e := range l.entries {
		if e.InvestigationID == investigationID {
			result = append(result, e)
		}
	}
	return result
}

// Stats summarizes the audit trail.
type Stats struct {
	TotalEntries    int            `json:"total_entries"`
	SuccessRate     float64        `json:"success_rate_pct"`
	AverageDuration time.Duration  `json:"average_duration"`
	OperationCounts map[string]int `json:"operation_counts"`
}

// GetStats computes aggregate statistics over the in-memory buffer.
func (l *Logger) GetStats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{TotalEntries: len(l.entries), OperationCounts: make(map[string]int)}
	var successCount int
	var totalDuration time.Duration
	for _, e := range l.entries {
		stats.OperationCounts[e.Operation]++
		if e.Success {
			successCount++
		}
		totalDuration += e.Duration
	}
	if len(l.entries) > 0 {
		stats.SuccessRate = float64(successCount) / float64(len(l.entries)) * 100
		stats.AverageDuration = totalDuration / time.Duration(len(l.entries))
	}
	return stats
}

// ToJSON renders Stats as an indented JSON string.
func (s Stats) ToJSON() string {
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

// Clear empties the in-memory buffer (used in tests).
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

// IsEnabled reports whether audit logging is active.
func (l *Logger) IsEnabled() bool {
	return l.enabled
}
