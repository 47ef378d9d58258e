package storage

import (
	"context"
	"fmt"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/engine"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
)

// Reconstructor rebuilds games from the persisted log. It is used for:
// 1. Resuming unfinished games after a restart
// 2. Verifying that a stored log still replays to the same outcome
// 3. The per-player recap of what happened since a given sequence
type Reconstructor struct {
	eventRepo EventRepository
	snapRepo  SnapshotRepository
}

// NewReconstructor creates a reconstructor. snapRepo may be nil.
func NewReconstructor(eventRepo EventRepository, snapRepo SnapshotRepository) *Reconstructor {
	return &Reconstructor{eventRepo: eventRepo, snapRepo: snapRepo}
}

// Rebuild loads a game from its log. New events of the rebuilt game are
// persisted to the same repository.
func (r *Reconstructor) Rebuild(ctx context.Context, gameID string, opts ...engine.GameOption) (*engine.Game, error) {
	history, err := r.history(ctx, gameID)
	if err != nil {
		return nil, err
	}
	all := []engine.GameOption{engine.WithPersister(r.eventRepo)}
	if r.snapRepo != nil {
		all = append(all, engine.WithSnapshots(r.snapRepo, 0))
	}
	return engine.LoadGame(ctx, gameID, history, append(all, opts...)...)
}

// RestoreAll loads every persisted game through reg, so the registry defaults
// (persister, snapshots, prices, logger, concurrency) apply to restored games
// as they do to new ones. It returns the ids of the games that have not
// finished.
func (r *Reconstructor) RestoreAll(ctx context.Context, reg *engine.Registry, opts ...engine.GameOption) ([]string, error) {
	ids, err := r.eventRepo.ListGames(ctx)
	if err != nil {
		return nil, err
	}
	var unfinished []string
	for _, id := range ids {
		history, err := r.history(ctx, id)
		if err != nil {
			return unfinished, err
		}
		g, err := reg.Load(ctx, id, history, opts...)
		if err != nil {
			return unfinished, fmt.Errorf("rebuild %s: %w", id, err)
		}
		if !g.State().Finished() {
			unfinished = append(unfinished, id)
		}
	}
	return unfinished, nil
}

func (r *Reconstructor) history(ctx context.Context, gameID string) ([]events.GameEvent, error) {
	history, err := r.eventRepo.GetByGameID(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events of %s: %w", gameID, err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", engine.ErrGameNotFound, gameID)
	}
	return history, nil
}

// Verify replays a stored log from scratch, rechecking every derived outcome.
func (r *Reconstructor) Verify(ctx context.Context, gameID string) (*engine.State, error) {
	history, err := r.eventRepo.GetByGameID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return engine.Replay(history)
}

// Recap renders the events after since that viewer may see, oldest first.
func (r *Reconstructor) Recap(ctx context.Context, gameID string, viewer events.Viewer, since uint64) ([]string, error) {
	tail, err := r.eventRepo.GetRange(ctx, gameID, since+1, 0)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, e := range tail {
		if !viewer.CanSee(e) {
			continue
		}
		if line := engine.Describe(e); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
