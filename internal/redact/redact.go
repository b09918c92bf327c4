// Package redact masks sensitive-looking values before they reach an
// audit entry or a log line: entity properties that look like
// credentials, secrets, or tokens extracted alongside legitimate
// investigative data.
package redact

import (
	"regexp"
	"strings"
)

// SensitivePatterns match common credential shapes embedded in free
// text (an entity's properties may legitimately contain prose lifted
// from a transcript that happens to quote a password or API key).
var SensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)[=:]["']?([a-zA-Z0-9_-]{20,})["']?`),
	regexp.MustCompile(`(?i)(bearer\s+)([a-zA-Z0-9_.-]{20,})`),
	regexp.MustCompile(`(?i)(password|passwd|pwd)[=:]["']?([^"'\s&]+)["']?`),
	regexp.MustCompile(`(?i)(secret|token)[=:]["']?([a-zA-Z0-9_-]{16,})["']?`),
}

// sensitiveFieldNames flags a map key as sensitive by name alone, even
// when its value does not match a pattern.
var sensitiveFieldNames = []string{
	"password", "passwd", "pwd",
	"secret", "token", "key", "apikey", "api_key",
	"authorization", "auth", "credential",
}

// MaskString replaces every pattern match in s with a redacted form
// that preserves the key name but not the value.
func MaskString(s string) string {
	result := s
	for _, pattern := range SensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			parts := pattern.FindStringSubmatch(match)
			if len(parts) >= 2 {
				return parts[1] + "***REDACTED***"
			}
			return "***REDACTED***"
		})
	}
	return result
}

// IsSensitiveField reports whether a field name suggests its value
// should never be logged verbatim.
func IsSensitiveField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, name := range sensitiveFieldNames {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

// MaskValue redacts v if it is a string and either key is a sensitive
// field name or v matches a sensitive pattern, or recurses into
// maps/slices; other types pass through unchanged.
func MaskValue(key string, v any) any {
	switch val := v.(type) {
	case string:
		if IsSensitiveField(key) {
			return "***REDACTED***"
		}
		return MaskString(val)
	case map[string]any:
		return MaskMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = MaskValue("", item)
		}
		return out
	default:
		return v
	}
}

// MaskMap returns a shallow copy of m with every value passed through
// MaskValue.
func MaskMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = MaskValue(k, v)
	}
	return out
}
