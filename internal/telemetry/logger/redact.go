package logger

import (
	"log/slog"
	"regexp"
	"strings"
)

// sensitiveWords mark an attribute key as secret when they appear as one of
// its words, so encryption_key and owner_token match while keyspace does not.
var sensitiveWords = map[string]bool{
	"password":   true,
	"secret":     true,
	"token":      true,
	"key":        true,
	"credential": true,
	"auth":       true,
}

// dsnPassword matches the password of a URL-style DSN: scheme://user:pass@.
var dsnPassword = regexp.MustCompile(`(://[^:/@\s]*:)([^@\s]+)(@)`)

const redactedValue = "***REDACTED***"

// redactSensitive is the handler's ReplaceAttr. Secret-looking keys lose
// their value and DSN passwords are masked in any string. Groups are
// walked recursively.
func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		s := a.Value.String()
		if s != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
		if masked := MaskDSN(s); masked != s {
			return slog.String(a.Key, masked)
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

// MaskDSN replaces the password of every URL-style DSN in s with ****.
func MaskDSN(s string) string {
	if !strings.Contains(s, "://") {
		return s
	}
	return dsnPassword.ReplaceAllString(s, "${1}****${3}")
}

// IsSensitiveKey reports whether any word of key, split on _ . and -,
// names a secret.
func IsSensitiveKey(key string) bool {
	words := strings.FieldsFunc(strings.ToLower(key), func(r rune) bool {
		return r == '_' || r == '.' || r == '-'
	})
	for _, w := range words {
		if sensitiveWords[w] {
			return true
		}
	}
	return false
}
