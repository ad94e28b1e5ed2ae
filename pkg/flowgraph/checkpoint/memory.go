package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore keeps checkpoints in process memory. Used by tests and by
// the CLI when no database path is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string][]stored
	closed bool
}

type stored struct {
	cp   Checkpoint
	data []byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]stored)}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	data, err := cp.Marshal()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.runs[cp.RunID] = append(m.runs[cp.RunID], stored{cp: *cp, data: data})
	return nil
}

// Latest implements Store.
func (m *MemoryStore) Latest(_ context.Context, runID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	history := m.runs[runID]
	if len(history) == 0 {
		return nil, ErrNotFound
	}

	best := history[0]
	for _, s := range history[1:] {
		if s.cp.Sequence >= best.cp.Sequence {
			best = s
		}
	}
	return Unmarshal(best.data)
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, runID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	infos := make([]Info, 0, len(m.runs[runID]))
	for _, s := range m.runs[runID] {
		infos = append(infos, Info{
			RunID:     runID,
			NodeID:    s.cp.NodeID,
			Sequence:  s.cp.Sequence,
			Timestamp: s.cp.Timestamp,
			Size:      int64(len(s.data)),
		})
	}
	return infos, nil
}

// DeleteRun implements Store.
func (m *MemoryStore) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.runs, runID)
	return nil
}

// Close implements Store. Closing twice is a no-op.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.runs = nil
	return nil
}
