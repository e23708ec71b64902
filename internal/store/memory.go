// v1
// internal/store/memory.go
package store

import (
	"context"
	"sync"

	"github.com/Rlpzx/auto-riego/internal/zone"
)

// Memory is a map-backed Store for tests and ephemeral runs. Nothing
// survives a restart.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[string]any
}

func NewMemory() *Memory {
	return &Memory{docs: map[string]map[string]any{}}
}

func (m *Memory) Get(_ context.Context, zoneID string) (zone.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[zoneID]
	if !ok {
		return zone.DefaultState(), nil
	}
	return docToState(doc)
}

func (m *Memory) Merge(_ context.Context, zoneID string, fields map[string]any) (zone.State, error) {
	if err := rejectControlFields(fields); err != nil {
		return zone.State{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apply(zoneID, fields)
}

func (m *Memory) SetValve(_ context.Context, zoneID, valve, reason string, manualOverride bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.apply(zoneID, valveFields(valve, reason, manualOverride))
	return err
}

func (m *Memory) apply(zoneID string, fields map[string]any) (zone.State, error) {
	doc, ok := m.docs[zoneID]
	if !ok {
		doc = map[string]any{}
		m.docs[zoneID] = doc
	}
	applyFields(doc, fields)
	return docToState(doc)
}

func (m *Memory) All(_ context.Context) (map[string]zone.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]zone.State, len(m.docs))
	for id, doc := range m.docs {
		st, err := docToState(doc)
		if err != nil {
			return nil, err
		}
		out[id] = st
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
