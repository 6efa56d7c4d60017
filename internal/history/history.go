// Package history addresses chat histories by a content fingerprint and
// persists them through an asset store.
package history

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"sessiond/internal/engine"
	"sessiond/pkg/types"
)

// fingerprintPrefix versions the hashing scheme.
const fingerprintPrefix = "h1:"

// Fingerprint hashes a turn sequence. Equal sequences always produce equal
// fingerprints; the empty sequence has one too.
func Fingerprint(turns []engine.Turn) string {
	sum := sha256.Sum256(canonical(turns))
	return fingerprintPrefix + hex.EncodeToString(sum[:])
}

func canonical(turns []engine.Turn) []byte {
	if turns == nil {
		turns = []engine.Turn{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Turn has only string fields; encoding cannot fail.
	_ = enc.Encode(turns)
	return buf.Bytes()
}

// Backend is the subset of the asset store used for histories.
type Backend interface {
	LoadChatHistory(ctx context.Context, trackingID, modelID, fingerprint string) ([]byte, bool, error)
	SaveChatHistory(ctx context.Context, trackingID, modelID, fingerprint string, blob []byte) error
	RemoveChatHistory(ctx context.Context, trackingID string) error
}

// Stats counts backend traffic.
type Stats struct {
	Loads   int64
	Hits    int64
	Saves   int64
	Removes int64
}

// Store is the fingerprint-addressed chat history cache.
type Store struct {
	backend Backend
	log     zerolog.Logger

	loads, hits, saves, removes atomic.Int64
}

// NewStore wraps backend. A nil logger disables logging.
func NewStore(backend Backend, logger *zerolog.Logger) *Store {
	s := &Store{backend: backend, log: zerolog.Nop()}
	if logger != nil {
		s.log = logger.With().Str("component", "history").Logger()
	}
	return s
}

// Load fetches the history saved for trackingID on m whose fingerprint is fp.
// A blob that no longer hashes to fp is treated as missing.
func (s *Store) Load(ctx context.Context, trackingID string, m types.Manifest, fp string) ([]engine.Turn, bool, error) {
	s.loads.Add(1)
	blob, ok, err := s.backend.LoadChatHistory(ctx, trackingID, m.ID, fp)
	if err != nil || !ok {
		return nil, false, err
	}
	var turns []engine.Turn
	if err := json.Unmarshal(blob, &turns); err != nil {
		s.log.Warn().Err(err).Str("tracking_id", trackingID).Msg("undecodable chat history ignored")
		return nil, false, nil
	}
	if got := Fingerprint(turns); got != fp {
		s.log.Warn().Str("tracking_id", trackingID).Str("want", fp).Str("got", got).Msg("chat history fingerprint mismatch")
		return nil, false, nil
	}
	s.hits.Add(1)
	return turns, true, nil
}

// Save persists turns and returns their fingerprint.
func (s *Store) Save(ctx context.Context, trackingID string, m types.Manifest, turns []engine.Turn) (string, error) {
	s.saves.Add(1)
	fp := Fingerprint(turns)
	if err := s.backend.SaveChatHistory(ctx, trackingID, m.ID, fp, canonical(turns)); err != nil {
		return "", fmt.Errorf("save chat history: %w", err)
	}
	return fp, nil
}

// Remove drops every history saved for trackingID.
func (s *Store) Remove(ctx context.Context, trackingID string) error {
	s.removes.Add(1)
	return s.backend.RemoveChatHistory(ctx, trackingID)
}

// Stats returns a snapshot of the counters.
func (s *Store) Stats() Stats {
	return Stats{Loads: s.loads.Load(), Hits: s.hits.Load(), Saves: s.saves.Load(), Removes: s.removes.Load()}
}
