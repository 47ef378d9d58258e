package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrNoSnapshot is returned when a game has no stored snapshot.
var ErrNoSnapshot = errors.New("no snapshot")

// Snapshot is a cached projection of a game at Sequence. It is never
// authoritative: the log can always rebuild it.
type Snapshot struct {
	GameID    string          `json:"game_id"`
	Sequence  uint64          `json:"sequence"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}

// SnapshotStore persists snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LatestSnapshot(ctx context.Context, gameID string) (Snapshot, error)
}

// MemorySnapshotStore keeps the newest snapshot per game in memory.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// NewMemorySnapshotStore creates an empty store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string]Snapshot)}
}

// SaveSnapshot stores snap unless a newer one already exists.
func (s *MemorySnapshotStore) SaveSnapshot(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.snaps[snap.GameID]; ok && cur.Sequence > snap.Sequence {
		return nil
	}
	snap.State = append(json.RawMessage(nil), snap.State...)
	s.snaps[snap.GameID] = snap
	return nil
}

// LatestSnapshot returns the newest snapshot of gameID.
func (s *MemorySnapshotStore) LatestSnapshot(_ context.Context, gameID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[gameID]
	if !ok {
		return Snapshot{}, ErrNoSnapshot
	}
	snap.State = append(json.RawMessage(nil), snap.State...)
	return snap, nil
}

var _ SnapshotStore = (*MemorySnapshotStore)(nil)
