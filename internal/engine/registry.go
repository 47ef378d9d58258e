package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
	"github.com/google/uuid"
)

// Registry holds the games of one process. Games share nothing mutable; the
// registry only maps ids to them.
type Registry struct {
	mu       sync.RWMutex
	games    map[string]*Game
	defaults []GameOption
}

// NewRegistry creates a registry whose games get defaults before their own options.
func NewRegistry(defaults ...GameOption) *Registry {
	return &Registry{games: make(map[string]*Game), defaults: defaults}
}

// Create registers a new game under a fresh id.
func (r *Registry) Create(opts ...GameOption) *Game {
	all := append(append([]GameOption(nil), r.defaults...), opts...)
	g := NewGame(uuid.NewString(), all...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[g.ID()] = g
	return g
}

// Load rebuilds a persisted game and registers it.
func (r *Registry) Load(ctx context.Context, id string, history []events.GameEvent, opts ...GameOption) (*Game, error) {
	all := append(append([]GameOption(nil), r.defaults...), opts...)
	g, err := LoadGame(ctx, id, history, all...)
	if err != nil {
		return nil, err
	}
	if err := r.Add(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Add registers an existing game.
func (r *Registry) Add(g *Game) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.games[g.ID()]; ok {
		return fmt.Errorf("game %s already registered", g.ID())
	}
	r.games[g.ID()] = g
	return nil
}

// Get returns the game with id.
func (r *Registry) Get(id string) (*Game, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, id)
	}
	return g, nil
}

// List summarizes every game, ordered by id.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	games := make([]*Game, 0, len(r.games))
	for _, g := range r.games {
		games = append(games, g)
	}
	r.mu.RUnlock()

	out := make([]Summary, len(games))
	for i, g := range games {
		out[i] = g.Summary()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove forgets a game.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.games, id)
}

// StopAll stops every running game.
func (r *Registry) StopAll(ctx context.Context, reason string) {
	r.mu.RLock()
	games := make([]*Game, 0, len(r.games))
	for _, g := range r.games {
		games = append(games, g)
	}
	r.mu.RUnlock()

	for _, g := range games {
		_ = g.Stop(ctx, reason)
	}
}
