// Package cache provides in-process caching for quick state reads.
// Cached views are never the source of truth: the event log is.
package cache

import (
	"fmt"
	"strings"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/engine"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ViewSource is the part of a game the cache reads from.
type ViewSource interface {
	ID() string
	LastSequence() uint64
	View(v events.Viewer) engine.View
}

// ViewCache keeps masked views keyed by game, viewer and log sequence. A new
// event changes the sequence, so stale entries are never served; they age out.
// Returned views are shared and must be treated as read-only.
type ViewCache struct {
	views *lru.Cache[string, engine.View]
}

// NewViewCache creates a cache holding at most size views across all games.
func NewViewCache(size int) (*ViewCache, error) {
	if size <= 0 {
		size = 1
	}
	views, err := lru.New[string, engine.View](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create view cache: %w", err)
	}
	return &ViewCache{views: views}, nil
}

// View returns the view of g for v, computing it on a miss.
func (c *ViewCache) View(g ViewSource, v events.Viewer) engine.View {
	key := viewKey(g.ID(), v, g.LastSequence())
	if view, ok := c.views.Get(key); ok {
		return view
	}
	view := g.View(v)
	c.views.Add(viewKey(g.ID(), v, view.Sequence), view)
	return view
}

// Len returns the number of cached views.
func (c *ViewCache) Len() int {
	return c.views.Len()
}

// InvalidateGame drops every view of a game.
func (c *ViewCache) InvalidateGame(gameID string) {
	prefix := "game:" + gameID + ":"
	for _, key := range c.views.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.views.Remove(key)
		}
	}
}

// viewKey generates the key for one viewer of a game at a sequence.
func viewKey(gameID string, v events.Viewer, seq uint64) string {
	who := "public"
	switch {
	case v.Omniscient:
		who = "all"
	case v.PlayerID != "":
		who = "player:" + v.PlayerID
	case v.Team != "":
		who = "team:" + v.Team
	}
	return fmt.Sprintf("game:%s:%s:%d", gameID, who, seq)
}
