package logger

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// sensitivePatterns match credentials embedded in free-form values such as
// request URLs or error messages.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(token\s+)([A-Za-z0-9\-._~+/]{8,}=*)`),
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-._~+/]+=*)`),
	regexp.MustCompile(`(?i)((api[_-]?key|access[_-]?token|secret|passw(or)?d)[\s:=]+)([^;,&\s]{5,})`),
}

// sensitiveKeywords mark field keys whose whole value is dropped.
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "credential", "token", "authorization", "api_key", "apikey", "cookie",
}

// RedactSensitiveData replaces credentials found in input with [REDACTED].
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range sensitivePatterns {
		input = pattern.ReplaceAllString(input, "${1}"+redacted)
	}
	return input
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// redactField drops sensitive values entirely and scrubs string values.
func redactField(f Field) Field {
	s, ok := f.Value.(string)
	if !ok {
		return f
	}
	if s != "" && isSensitiveKey(f.Key) {
		return Field{Key: f.Key, Value: redacted}
	}
	return Field{Key: f.Key, Value: RedactSensitiveData(s)}
}
