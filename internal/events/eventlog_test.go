package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPersister struct {
	events []GameEvent
	fail   bool
}

func (p *recordingPersister) Append(_ context.Context, e GameEvent) error {
	if p.fail {
		return errors.New("disk full")
	}
	p.events = append(p.events, e)
	return nil
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestAppendAssignsContiguousSequence(t *testing.T) {
	p := &recordingPersister{}
	log := NewEventLog("g1", p, WithClock(LogicalClock(epoch, time.Second)))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, Draft{Type: EventTypeStatement, ActorID: "p1", Payload: map[string]int{"i": i}})
		require.NoError(t, err)
	}

	all := log.All()
	require.Len(t, all, 5)
	for i, e := range all {
		assert.Equal(t, uint64(i+1), e.Sequence)
		assert.Equal(t, epoch.Add(time.Duration(i)*time.Second), e.Timestamp)
	}
	assert.Equal(t, all, p.events)
	assert.NoError(t, ValidateSequence("g1", all))
	assert.Equal(t, uint64(5), log.LastSequence())
}

func TestAppendPersistenceFailureRecordsNothing(t *testing.T) {
	p := &recordingPersister{fail: true}
	log := NewEventLog("g1", p)

	_, err := log.Append(context.Background(), Draft{Type: EventTypeStatement})
	require.ErrorIs(t, err, ErrPersistence)
	assert.Zero(t, log.LastSequence())

	p.fail = false
	e, err := log.Append(context.Background(), Draft{Type: EventTypeStatement})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Sequence)
}

func TestAppendRejectsPrivateDraftWithoutAudience(t *testing.T) {
	log := NewEventLog("g1", nil)
	_, err := log.Append(context.Background(), Draft{Type: EventTypeInvestigation, Visibility: VisibilityActor})
	assert.ErrorIs(t, err, ErrInvalidDraft)
	_, err = log.Append(context.Background(), Draft{Type: EventTypeTeamBroadcast, Visibility: VisibilityTeam})
	assert.ErrorIs(t, err, ErrInvalidDraft)
}

func TestSinceFiltersByVisibilityAndType(t *testing.T) {
	log := NewEventLog("g1", nil)
	ctx := context.Background()
	drafts := []Draft{
		{Type: EventTypePhaseChanged},
		{Type: EventTypeInvestigation, Visibility: VisibilityActor, ActorID: "sheriff"},
		{Type: EventTypeTeamBroadcast, Visibility: VisibilityTeam, Team: "MAFIA"},
		{Type: EventTypeStatement, ActorID: "p2"},
	}
	for _, d := range drafts {
		_, err := log.Append(ctx, d)
		require.NoError(t, err)
	}

	public := log.Since(0, Filter{})
	assert.Len(t, public, 2)

	sheriff := Viewer{PlayerID: "sheriff", Team: "TOWN"}
	assert.Len(t, log.Since(0, Filter{Viewer: &sheriff}), 3)

	mafioso := Viewer{PlayerID: "m1", Team: "MAFIA"}
	seen := log.Since(0, Filter{Viewer: &mafioso})
	require.Len(t, seen, 3)
	assert.Equal(t, EventTypeTeamBroadcast, seen[1].Type)

	all := log.Since(0, Filter{Viewer: &Omniscient})
	assert.Len(t, all, 4)

	tail := log.Since(2, Filter{Viewer: &Omniscient, Types: []EventType{EventTypeStatement}})
	require.Len(t, tail, 1)
	assert.Equal(t, uint64(4), tail[0].Sequence)

	assert.Empty(t, log.Since(10, Filter{Viewer: &Omniscient}))
	assert.Len(t, log.Since(0, Filter{Viewer: &Omniscient, Limit: 1}), 1)
}

func TestSubscribeSeesEventsInOrder(t *testing.T) {
	log := NewEventLog("g1", nil)
	var got []uint64
	log.Subscribe(func(e GameEvent) { got = append(got, e.Sequence) })
	for i := 0; i < 3; i++ {
		_, err := log.Append(context.Background(), Draft{Type: EventTypeStatement})
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{1, 2, 3}, got)
}

func TestRestoreRejectsGapsAndForeignEvents(t *testing.T) {
	good := []GameEvent{{GameID: "g1", Sequence: 1}, {GameID: "g1", Sequence: 2}}
	log, err := Restore("g1", good, nil)
	require.NoError(t, err)
	e, err := log.Append(context.Background(), Draft{Type: EventTypeStatement})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), e.Sequence)

	_, err = Restore("g1", []GameEvent{{GameID: "g1", Sequence: 1}, {GameID: "g1", Sequence: 3}}, nil)
	assert.ErrorIs(t, err, ErrSequenceGap)

	_, err = Restore("g1", []GameEvent{{GameID: "g1", Sequence: 1}, {GameID: "g1", Sequence: 1}}, nil)
	assert.ErrorIs(t, err, ErrSequenceGap)

	_, err = Restore("g1", []GameEvent{{GameID: "g2", Sequence: 1}}, nil)
	assert.ErrorIs(t, err, ErrForeignEvent)
}

func TestMemorySnapshotStoreKeepsNewest(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()

	_, err := store.LatestSnapshot(ctx, "g1")
	require.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{GameID: "g1", Sequence: 10, State: []byte(`{"a":1}`)}))
	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{GameID: "g1", Sequence: 5, State: []byte(`{"a":0}`)}))

	snap, err := store.LatestSnapshot(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), snap.Sequence)
	assert.JSONEq(t, `{"a":1}`, string(snap.State))
}
