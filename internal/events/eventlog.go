// Package events provides the event sourcing core of a game: an append-only,
// contiguously sequenced log of every state transition, filtered by visibility.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// EventType defines the category of a game event.
type EventType string

const (
	EventTypeGameCreated       EventType = "GAME_CREATED"
	EventTypeRoleAssigned      EventType = "ROLE_ASSIGNED"
	EventTypePhaseChanged      EventType = "PHASE_CHANGED"
	EventTypeStatusChanged     EventType = "GAME_STATUS_CHANGED"
	EventTypeNightAction       EventType = "NIGHT_ACTION_SUBMITTED"
	EventTypeActionRejected    EventType = "ACTION_REJECTED"
	EventTypeProtectionApplied EventType = "PROTECTION_APPLIED"
	EventTypeVigilanteShot     EventType = "VIGILANTE_SHOT_FIRED"
	EventTypeVigilantePassed   EventType = "VIGILANTE_PASSED"
	EventTypeInvestigation     EventType = "INVESTIGATION_RESULT"
	EventTypeTeamBroadcast     EventType = "TEAM_BROADCAST"
	EventTypeRoleConflict      EventType = "ROLE_CONFLICT_CONTEXT"
	EventTypeNightResolved     EventType = "NIGHT_RESOLVED"
	EventTypePlayerEliminated  EventType = "PLAYER_ELIMINATED"
	EventTypeReasoning         EventType = "REASONING_RECORDED"
	EventTypeStatement         EventType = "STATEMENT_MADE"
	EventTypeVoteCast          EventType = "VOTE_CAST"
	EventTypeVoteResult        EventType = "VOTE_RESULT"
	EventTypeAgentCallCharged  EventType = "AGENT_CALL_CHARGED"
	EventTypeAgentRetry        EventType = "AGENT_RETRY"
	EventTypeAgentFallback     EventType = "AGENT_FALLBACK"
	EventTypeBudgetWarning     EventType = "BUDGET_WARNING"
	EventTypeBudgetExceeded    EventType = "BUDGET_EXCEEDED"
	EventTypeGameEnded         EventType = "GAME_ENDED"
	EventTypeReplayDivergence  EventType = "REPLAY_DIVERGENCE"
)

// Visibility decides who may read an event.
type Visibility string

const (
	VisibilityPublic Visibility = "PUBLIC"
	// VisibilityActor restricts an event to ActorID.
	VisibilityActor Visibility = "PRIVATE_ACTOR"
	// VisibilityTeam restricts an event to members of Team.
	VisibilityTeam Visibility = "PRIVATE_TEAM"
)

// GameEvent represents an immutable record of a transition in one game.
type GameEvent struct {
	GameID     string          `json:"game_id"`
	Sequence   uint64          `json:"sequence"`
	Type       EventType       `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	Visibility Visibility      `json:"visibility"`
	ActorID    string          `json:"actor_id,omitempty"`
	Team       string          `json:"team,omitempty"`
	Day        int             `json:"day"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (e GameEvent) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %d (%s): empty payload", e.Sequence, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("event %d (%s): decode payload: %w", e.Sequence, e.Type, err)
	}
	return nil
}

// Draft is an event before the log assigns it a sequence and timestamp.
type Draft struct {
	Type       EventType
	Visibility Visibility
	ActorID    string
	Team       string
	Day        int
	Payload    any
}

// EventPersister defines how an event is durably stored.
type EventPersister interface {
	Append(ctx context.Context, event GameEvent) error
}

// Errors returned by the log.
var (
	ErrPersistence  = errors.New("event persistence failed")
	ErrSequenceGap  = errors.New("event sequence gap")
	ErrForeignEvent = errors.New("event belongs to another game")
	ErrInvalidDraft = errors.New("invalid event draft")
	ErrEmptyGameID  = errors.New("game id is required")
)

// Option configures an EventLog.
type Option func(*EventLog)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(el *EventLog) {
		if now != nil {
			el.now = now
		}
	}
}

// LogicalClock returns a clock that starts at start and advances by step on each
// call. Two runs with the same clock produce byte-identical logs.
func LogicalClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start.UTC()
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(step)
		return t
	}
}

// EventLog is the append-only log of one game. It is the single writer of
// sequence numbers for that game.
type EventLog struct {
	mu        sync.RWMutex
	gameID    string
	events    []GameEvent
	persister EventPersister
	now       func() time.Time
	observers []func(GameEvent)
}

// NewEventLog creates an empty log for gameID with an optional persister.
func NewEventLog(gameID string, persister EventPersister, opts ...Option) *EventLog {
	el := &EventLog{
		gameID:    gameID,
		events:    make([]GameEvent, 0, 64),
		persister: persister,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(el)
	}
	return el
}

// Restore rebuilds a log from previously persisted events. The events must be
// contiguous from sequence 1.
func Restore(gameID string, history []GameEvent, persister EventPersister, opts ...Option) (*EventLog, error) {
	if err := ValidateSequence(gameID, history); err != nil {
		return nil, err
	}
	el := NewEventLog(gameID, persister, opts...)
	el.events = append(el.events, history...)
	return el, nil
}

// GameID returns the id of the game this log belongs to.
func (el *EventLog) GameID() string {
	return el.gameID
}

// Subscribe registers fn to receive each event after it is durably appended.
// fn runs under the log lock, in sequence order, and must not block or append.
func (el *EventLog) Subscribe(fn func(GameEvent)) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.observers = append(el.observers, fn)
}

// Append assigns the next sequence number, persists the event and returns it.
// When the persister fails nothing is recorded and the error wraps ErrPersistence.
func (el *EventLog) Append(ctx context.Context, d Draft) (GameEvent, error) {
	if el.gameID == "" {
		return GameEvent{}, ErrEmptyGameID
	}
	if d.Type == "" {
		return GameEvent{}, fmt.Errorf("%w: missing type", ErrInvalidDraft)
	}
	if d.Visibility == "" {
		d.Visibility = VisibilityPublic
	}
	if d.Visibility == VisibilityActor && d.ActorID == "" {
		return GameEvent{}, fmt.Errorf("%w: %s is actor-private without an actor", ErrInvalidDraft, d.Type)
	}
	if d.Visibility == VisibilityTeam && d.Team == "" {
		return GameEvent{}, fmt.Errorf("%w: %s is team-private without a team", ErrInvalidDraft, d.Type)
	}

	var payload json.RawMessage
	if d.Payload != nil {
		raw, err := json.Marshal(d.Payload)
		if err != nil {
			return GameEvent{}, fmt.Errorf("%w: encode %s payload: %v", ErrInvalidDraft, d.Type, err)
		}
		payload = raw
	}

	el.mu.Lock()
	defer el.mu.Unlock()

	event := GameEvent{
		GameID:     el.gameID,
		Sequence:   uint64(len(el.events)) + 1,
		Type:       d.Type,
		Timestamp:  el.now(),
		Visibility: d.Visibility,
		ActorID:    d.ActorID,
		Team:       d.Team,
		Day:        d.Day,
		Payload:    payload,
	}

	if el.persister != nil {
		if err := el.persister.Append(ctx, event); err != nil {
			return GameEvent{}, fmt.Errorf("%w: game %s seq %d: %v", ErrPersistence, el.gameID, event.Sequence, err)
		}
	}
	el.events = append(el.events, event)

	for _, fn := range el.observers {
		fn(event)
	}
	return event, nil
}

// LastSequence returns the sequence of the newest event, or 0 for an empty log.
func (el *EventLog) LastSequence() uint64 {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return uint64(len(el.events))
}

// All returns a copy of the full history.
func (el *EventLog) All() []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()
	out := make([]GameEvent, len(el.events))
	copy(out, el.events)
	return out
}

// Since returns events with a sequence greater than seq that pass the filter.
func (el *EventLog) Since(seq uint64, f Filter) []GameEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	if seq >= uint64(len(el.events)) {
		return nil
	}
	var result []GameEvent
	for _, e := range el.events[seq:] {
		if !f.Match(e) {
			continue
		}
		result = append(result, e)
		if f.Limit > 0 && len(result) >= f.Limit {
			break
		}
	}
	return result
}

// ValidateSequence checks that history belongs to gameID and is contiguous from 1.
func ValidateSequence(gameID string, history []GameEvent) error {
	for i, e := range history {
		if e.GameID != gameID {
			return fmt.Errorf("%w: seq %d has game %q, want %q", ErrForeignEvent, e.Sequence, e.GameID, gameID)
		}
		expected := uint64(i) + 1
		if e.Sequence != expected {
			return fmt.Errorf("%w: expected %d got %d", ErrSequenceGap, expected, e.Sequence)
		}
	}
	return nil
}
