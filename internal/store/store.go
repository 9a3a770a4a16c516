// Package store persists JSON documents by key. Documents are whole values:
// Save replaces, Load reports whether the key existed.
package store

import (
	"context"
	"sync"

	"github.com/segmentio/encoding/json"

	"boarcore.com/pkg/xerr"
)

type Store interface {
	// Load decodes the document at key into v. It returns false, nil when
	// the key has never been saved.
	Load(ctx context.Context, key string, v any) (bool, error)
	Save(ctx context.Context, key string, v any) error
}

func decode(key string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return xerr.Wrap(err, xerr.DataIntegrity, "stored document "+key+" is unreadable")
	}
	return nil
}

// Memory keeps encoded documents in a map. Values are copied through JSON
// so callers never share state with the store.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Load(_ context.Context, key string, v any) (bool, error) {
	m.mu.RLock()
	data, ok := m.docs[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, decode(key, data, v)
}

func (m *Memory) Save(_ context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[key] = data
	m.mu.Unlock()
	return nil
}

// Keys lists every saved key, unordered.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.docs))
	for k := range m.docs {
		out = append(out, k)
	}
	return out
}
