// Package storage persists the event log and state snapshots of every game.
// The log is the source of truth; snapshots only shorten a reload.
package storage

import (
	"context"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
)

// EventRepository stores events durably and reads them back in sequence order.
type EventRepository interface {
	events.EventPersister

	// GetByGameID retrieves every event of a game (for replay).
	GetByGameID(ctx context.Context, gameID string) ([]events.GameEvent, error)

	// GetRange retrieves the events of a game with from <= sequence <= to.
	// A zero to means "up to the newest".
	GetRange(ctx context.Context, gameID string, from, to uint64) ([]events.GameEvent, error)

	// GetByEventType retrieves all events of one type.
	GetByEventType(ctx context.Context, gameID string, eventType events.EventType) ([]events.GameEvent, error)

	// ListGames returns the ids of every persisted game.
	ListGames(ctx context.Context) ([]string, error)
}

// SnapshotRepository stores state snapshots.
type SnapshotRepository interface {
	events.SnapshotStore

	// Prune deletes all but the newest keep snapshots of a game.
	Prune(ctx context.Context, gameID string, keep int) error
}
