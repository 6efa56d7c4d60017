package assets

import (
	"context"
	"sync"
	"time"
)

type historyKey struct{ trackingID, modelID string }

type historyEntry struct {
	fingerprint string
	blob        []byte
}

// Memory keeps everything in process memory. State is lost on restart.
type Memory struct {
	Root

	mu      sync.Mutex
	usage   map[string]Usage
	history map[historyKey]historyEntry
}

// NewMemory returns an empty in-memory store.
func NewMemory(root Root) *Memory {
	return &Memory{Root: root, usage: make(map[string]Usage), history: make(map[historyKey]historyEntry)}
}

func (m *Memory) MarkModelUsed(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.usage[ref]
	u.Count++
	u.LastUsed = time.Now()
	m.usage[ref] = u
	return nil
}

func (m *Memory) Usage(_ context.Context, ref string) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[ref], nil
}

func (m *Memory) LoadChatHistory(_ context.Context, trackingID, modelID, fingerprint string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.history[historyKey{trackingID, modelID}]
	if !ok || e.fingerprint != fingerprint {
		return nil, false, nil
	}
	return append([]byte(nil), e.blob...), true, nil
}

func (m *Memory) SaveChatHistory(_ context.Context, trackingID, modelID, fingerprint string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[historyKey{trackingID, modelID}] = historyEntry{fingerprint: fingerprint, blob: append([]byte(nil), blob...)}
	return nil
}

func (m *Memory) RemoveChatHistory(_ context.Context, trackingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.history {
		if k.trackingID == trackingID {
			delete(m.history, k)
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }
