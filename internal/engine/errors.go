package engine

import (
	"errors"
	"strings"
)

// ErrUnavailable means the native library is missing or was not built in.
var ErrUnavailable = errors.New("inference engine unavailable")

// ErrContextOverflow means generation ran out of context window.
var ErrContextOverflow = errors.New("context window exceeded")

// ErrGrammarUnsupported is returned by engines that cannot constrain output.
var ErrGrammarUnsupported = errors.New("response constraints are not supported by this engine")

// overflowMarkers are substrings native libraries use for context exhaustion.
// Matching them is a fallback for bindings that do not return ErrContextOverflow.
var overflowMarkers = []string{
	"context size",
	"context window",
	"compress chat history",
	"kv cache is full",
}

// IsContextOverflow reports whether err signals an exhausted context window.
func IsContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContextOverflow) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range overflowMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
