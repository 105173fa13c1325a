package logger

import (
	"log/slog"
	"strings"
)

// Value prefixes of QueryDeck-issued secrets.
var sensitiveValuePrefixes = []string{
	"qdst_", // caller session token
	"qdsk_", // gateway server key
}

// Key fragments that mark an attribute as sensitive.
var sensitiveKeyPatterns = []string{
	"password",
	"passphrase",
	"secret",
	"token",
	"credential",
	"auth",
	"bearer",
	"key",
}

const redactedValue = "***REDACTED***"

// redactSensitive rewrites string attributes whose value or key marks them as
// sensitive. Groups are walked recursively.
func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindLogValuer {
		a.Value = a.Value.Resolve()
	}

	switch a.Value.Kind() {
	case slog.KindString:
		strVal := a.Value.String()
		for _, prefix := range sensitiveValuePrefixes {
			if strings.HasPrefix(strVal, prefix) {
				return slog.String(a.Key, maskValue(strVal, prefix))
			}
		}
		if strVal != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

// maskValue keeps the prefix and three characters on each end.
func maskValue(value, prefix string) string {
	body := value[len(prefix):]
	if len(body) <= 6 {
		return prefix + "***"
	}
	return prefix + body[:3] + "..." + body[len(body)-3:]
}

// RedactString masks value if it carries a known secret prefix.
func RedactString(value string) string {
	for _, prefix := range sensitiveValuePrefixes {
		if strings.HasPrefix(value, prefix) {
			return maskValue(value, prefix)
		}
	}
	return value
}

// IsSensitiveKey checks if a key name suggests sensitive content.
// Keys ending in "_id" are identifiers and never redacted.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	if strings.HasSuffix(keyLower, "_id") || keyLower == "id" {
		return false
	}
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}
