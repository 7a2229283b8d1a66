package action

import (
	"regexp"

	"go.uber.org/zap"
)

// injection patterns stripped from every typed or selected payload before it
// reaches a page. Compiled once; matching is case-insensitive.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`),
	regexp.MustCompile(`(?is)<script\b[^>]*/?>`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)vbscript\s*:`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+)`),
	regexp.MustCompile(`(?is)<(?:iframe|frame|object|embed)\b[^>]*>(?:.*?</(?:iframe|frame|object|embed)\s*>)?`),
}

// redacted replaces sensitive values in every log line.
const redacted = "[REDACTED]"

// sanitize strips injection payloads from input. When more than half the
// input is removed it logs a warning; sensitive inputs are never echoed.
func sanitize(input string, sensitive bool, logger *zap.Logger) string {
	out := input
	for _, p := range injectionPatterns {
		out = p.ReplaceAllString(out, "")
	}
	if len(input) > 0 && len(out)*2 < len(input) {
		fields := []zap.Field{
			zap.Int("original_len", len(input)),
			zap.Int("sanitized_len", len(out)),
		}
		if sensitive {
			fields = append(fields, zap.String("value", redacted))
		} else {
			fields = append(fields, zap.String("value", input))
		}
		logger.Warn("sanitizer removed most of the input", fields...)
	}
	return out
}
