package logging

import (
	"fmt"
	"log/slog"

	"github.com/cespare/xxhash/v2"
)

// KeyAttrs are the attribute names that carry client keys.
var KeyAttrs = map[string]bool{
	"key":        true,
	"client_key": true,
}

// RedactKey returns a stable fingerprint of a client key. The same key
// always maps to the same fingerprint, so log lines stay correlatable
// without exposing credentials used as keys.
func RedactKey(key string) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("key-%016x", xxhash.Sum64String(key))
}

// RedactKeyAttr is a slog.HandlerOptions.ReplaceAttr function that
// fingerprints client key attributes.
func RedactKeyAttr(_ []string, a slog.Attr) slog.Attr {
	if KeyAttrs[a.Key] && a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, RedactKey(a.Value.String()))
	}
	return a
}
