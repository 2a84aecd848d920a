package util

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
)

// NewID returns a kind-namespaced document id, e.g. "tab_9f2c...".
func NewID(kind string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if kind == "" {
		return hex.EncodeToString(bytes)
	}
	return kind + "_" + hex.EncodeToString(bytes)
}

// ClipboardID returns the id for a clipboard entry captured at the given
// epoch-millisecond timestamp.
func ClipboardID(millis int64) string {
	return "clipboard:" + strconv.FormatInt(millis, 10)
}
