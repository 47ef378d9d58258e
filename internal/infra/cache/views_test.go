package cache

import (
	"testing"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/engine"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGame struct {
	id    string
	seq   uint64
	calls int
}

func (f *fakeGame) ID() string           { return f.id }
func (f *fakeGame) LastSequence() uint64 { return f.seq }
func (f *fakeGame) View(v events.Viewer) engine.View {
	f.calls++
	return engine.View{GameID: f.id, Sequence: f.seq, ViewerID: v.PlayerID}
}

func TestViewCacheHitsUntilSequenceMoves(t *testing.T) {
	c, err := NewViewCache(8)
	require.NoError(t, err)
	g := &fakeGame{id: "g1", seq: 4}
	p1 := events.Viewer{PlayerID: "p1"}

	first := c.View(g, p1)
	second := c.View(g, p1)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, g.calls)

	c.View(g, events.Viewer{PlayerID: "p2"})
	assert.Equal(t, 2, g.calls)

	g.seq = 5
	view := c.View(g, p1)
	assert.Equal(t, uint64(5), view.Sequence)
	assert.Equal(t, 3, g.calls)
}

func TestViewCacheSeparatesViewers(t *testing.T) {
	assert.NotEqual(t,
		viewKey("g", events.Viewer{}, 1),
		viewKey("g", events.Omniscient, 1))
	assert.NotEqual(t,
		viewKey("g", events.Viewer{PlayerID: "MAFIA"}, 1),
		viewKey("g", events.Viewer{Team: "MAFIA"}, 1))
}

func TestViewCacheEvictsAndInvalidates(t *testing.T) {
	c, err := NewViewCache(2)
	require.NoError(t, err)
	a := &fakeGame{id: "a", seq: 1}
	b := &fakeGame{id: "b", seq: 1}

	c.View(a, events.Viewer{PlayerID: "p1"})
	c.View(a, events.Viewer{PlayerID: "p2"})
	c.View(b, events.Viewer{PlayerID: "p1"})
	assert.Equal(t, 2, c.Len())

	c.InvalidateGame("a")
	assert.Equal(t, 1, c.Len())
	c.View(b, events.Viewer{PlayerID: "p1"})
	assert.Equal(t, 1, b.calls)
}
