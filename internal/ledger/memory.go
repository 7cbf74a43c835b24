package ledger

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

// Memory is an in-process store. Snapshots are deep-copied on both
// save and load so callers cannot alias stored state.
type Memory struct {
	mu    sync.RWMutex
	snaps map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{snaps: make(map[string][]byte)}
}

func (m *Memory) Save(_ context.Context, snap *schema.Snapshot) error {
	if snap == nil || snap.Profile == "" {
		return errors.New("snapshot has no profile")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	m.mu.Lock()
	m.snaps[snap.Profile] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Load(_ context.Context, profile string) (*schema.Snapshot, error) {
	m.mu.RLock()
	data, ok := m.snaps[profile]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "load profile").With("profile", profile)
	}
	var snap schema.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, "unmarshal snapshot")
	}
	return &snap, nil
}

func (m *Memory) Delete(_ context.Context, profile string) error {
	m.mu.Lock()
	delete(m.snaps, profile)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Profiles(_ context.Context) ([]string, error) {
	m.mu.RLock()
	out := make([]string, 0, len(m.snaps))
	for profile := range m.snaps {
		out = append(out, profile)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }
