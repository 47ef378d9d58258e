package engine

import (
	"encoding/json"
	"fmt"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/budget"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/player"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/rules"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
)

// maxContextNotes bounds the private addenda kept per player.
const maxContextNotes = 5

// Death is an elimination waiting to be applied.
type Death struct {
	PlayerID string `json:"player_id"`
	Cause    string `json:"cause"`
}

// State is the projection of a game's event log.
type State struct {
	GameID    string       `json:"game_id"`
	Seed      int64        `json:"seed"`
	Status    Status       `json:"status"`
	Phase     Phase        `json:"phase"`
	Day       int          `json:"day"`
	Round     int          `json:"round"`
	Winner    role.Faction `json:"winner,omitempty"`
	EndReason string       `json:"end_reason,omitempty"`
	Rules     Rules        `json:"rules"`

	Players []*player.Player `json:"players"`

	Night         NightActionSet `json:"night"`
	NightResolved bool           `json:"night_resolved"`
	Votes         []Vote         `json:"votes"`
	VoteResolved  bool           `json:"vote_resolved"`
	Spoken        map[string]int `json:"spoken"`
	Pending       []Death        `json:"pending"`

	Context    map[string][]string `json:"context"`
	Budget     *budget.Ledger      `json:"budget"`
	Rejections int                 `json:"rejections"`
	Fallbacks  int                 `json:"fallbacks"`

	LastSequence uint64 `json:"last_sequence"`
}

// NewState returns the empty projection that precedes GAME_CREATED.
func NewState() *State {
	return &State{
		Status:  StatusCreated,
		Phase:   PhaseSetup,
		Night:   make(NightActionSet),
		Spoken:  make(map[string]int),
		Context: make(map[string][]string),
		Budget:  budget.NewLedger(),
	}
}

// Apply folds one event into the state. It is the only mutator of State.
func (s *State) Apply(e events.GameEvent) error {
	if e.Sequence != s.LastSequence+1 {
		return fmt.Errorf("%w: expected %d got %d", events.ErrSequenceGap, s.LastSequence+1, e.Sequence)
	}
	if s.GameID != "" && e.GameID != s.GameID {
		return fmt.Errorf("%w: %s", events.ErrForeignEvent, e.GameID)
	}
	if err := s.apply(e); err != nil {
		return err
	}
	s.LastSequence = e.Sequence
	return nil
}

func (s *State) apply(e events.GameEvent) error {
	switch e.Type {
	case events.EventTypeGameCreated:
		var p GameCreatedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		s.GameID = p.GameID
		s.Seed = p.Seed
		s.Rules = p.Rules
		s.Players = make([]*player.Player, len(p.Seats))
		for i, seat := range p.Seats {
			s.Players[i] = player.New(seat.ID, seat.DisplayName, seat.Seat)
		}

	case events.EventTypeRoleAssigned:
		var p RoleAssignedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		pl, err := s.mustPlayer(p.PlayerID)
		if err != nil {
			return err
		}
		pl.Roles = p.Roles

	case events.EventTypeStatusChanged:
		var p StatusChangedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		s.Status = p.To

	case events.EventTypePhaseChanged:
		var p PhaseChangedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		s.Phase = p.To
		s.Day = p.Day
		s.Round = p.Round
		switch p.To {
		case PhaseNight:
			s.Night = make(NightActionSet)
			s.NightResolved = false
		case PhaseDiscussion:
			s.Spoken = make(map[string]int)
		case PhaseVoting:
			s.Votes = nil
			s.VoteResolved = false
		}

	case events.EventTypeNightAction:
		var a NightAction
		if err := e.Decode(&a); err != nil {
			return err
		}
		s.Night[a.key()] = a

	case events.EventTypeActionRejected:
		s.Rejections++

	case events.EventTypeProtectionApplied:
		var p ProtectionPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		doc, err := s.mustPlayer(p.DoctorID)
		if err != nil {
			return err
		}
		doc.Memory.LastProtectedTargetID = p.TargetID
		doc.Memory.LastProtectedNight = p.Night

	case events.EventTypeVigilanteShot, events.EventTypeVigilantePassed:
		var p ShotPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		vig, err := s.mustPlayer(p.VigilanteID)
		if err != nil {
			return err
		}
		if e.Type == events.EventTypeVigilanteShot {
			vig.Memory.HasFired = true
		} else {
			vig.Memory.HasPassed = true
		}

	case events.EventTypeInvestigation:
		var p InvestigationPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		sheriff, err := s.mustPlayer(p.SheriffID)
		if err != nil {
			return err
		}
		sheriff.RecordFinding(p.TargetID, p.Finding)

	case events.EventTypeRoleConflict:
		var p ConflictPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		notes := append(s.Context[p.PlayerID], p.Addendum)
		if len(notes) > maxContextNotes {
			notes = notes[len(notes)-maxContextNotes:]
		}
		s.Context[p.PlayerID] = notes

	case events.EventTypeNightResolved:
		var p NightResolvedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		s.NightResolved = true
		s.Pending = nil
		for _, id := range p.Deaths {
			cause := CauseVigilante
			if p.Killed != nil && *p.Killed == id {
				cause = CauseMafia
			}
			s.Pending = append(s.Pending, Death{PlayerID: id, Cause: cause})
		}

	case events.EventTypePlayerEliminated:
		var p EliminationPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		pl, err := s.mustPlayer(p.PlayerID)
		if err != nil {
			return err
		}
		pl.Eliminate(p.Day)
		kept := s.Pending[:0]
		for _, d := range s.Pending {
			if d.PlayerID != p.PlayerID {
				kept = append(kept, d)
			}
		}
		s.Pending = kept

	case events.EventTypeStatement:
		var p SpeechPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		if p.Phase == PhaseDiscussion && e.Visibility == events.VisibilityPublic {
			s.Spoken[p.PlayerID]++
		}

	case events.EventTypeVoteCast:
		var v Vote
		if err := e.Decode(&v); err != nil {
			return err
		}
		for i := range s.Votes {
			if s.Votes[i].VoterID == v.VoterID && s.Votes[i].Active() {
				s.Votes[i].SupersededBy = e.Sequence
			}
		}
		v.Sequence = e.Sequence
		v.CastAt = e.Timestamp
		s.Votes = append(s.Votes, v)

	case events.EventTypeVoteResult:
		var p VoteResultPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		s.VoteResolved = true
		s.Pending = nil
		if p.Eliminated != "" {
			s.Pending = []Death{{PlayerID: p.Eliminated, Cause: CauseVote}}
		}

	case events.EventTypeAgentCallCharged:
		var c budget.Charge
		if err := e.Decode(&c); err != nil {
			return err
		}
		s.Budget.Apply(c)

	case events.EventTypeBudgetWarning, events.EventTypeBudgetExceeded:
		var n budget.Notice
		if err := e.Decode(&n); err != nil {
			return err
		}
		if e.Type == events.EventTypeBudgetWarning {
			s.Budget.MarkWarned(n.Key)
		} else {
			s.Budget.MarkStopped(n.Key)
		}

	case events.EventTypeAgentFallback:
		s.Fallbacks++

	case events.EventTypeGameEnded:
		var p GameEndedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		s.Status = StatusFinished
		s.Phase = PhaseEnd
		s.Winner = p.Winner
		s.EndReason = p.Reason
	}
	return nil
}

func (s *State) mustPlayer(id string) (*player.Player, error) {
	if p := s.Player(id); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("unknown player %q", id)
}

// Player returns the player with id, or nil.
func (s *State) Player(id string) *player.Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Alive returns the living players in seat order.
func (s *State) Alive() []*player.Player {
	var out []*player.Player
	for _, p := range s.Players {
		if p.Alive {
			out = append(out, p)
		}
	}
	return out
}

// AliveIDs returns the ids of living players in seat order.
func (s *State) AliveIDs() []string {
	alive := s.Alive()
	ids := make([]string, len(alive))
	for i, p := range alive {
		ids[i] = p.ID
	}
	return ids
}

// Headcount counts the living players of each faction.
func (s *State) Headcount() rules.Headcount {
	return rules.Count(s.Players)
}

// Teammates returns the other mafia-aligned players of id, dead or alive.
func (s *State) Teammates(id string) []string {
	me := s.Player(id)
	if me == nil || me.Faction() != role.FactionMafia {
		return nil
	}
	var out []string
	for _, p := range s.Players {
		if p.ID != id && p.Faction() == role.FactionMafia {
			out = append(out, p.ID)
		}
	}
	return out
}

// Finished reports whether the game reached a terminal status.
func (s *State) Finished() bool {
	return s.Status == StatusFinished
}

// Canonical returns the deterministic JSON encoding used for replay comparison
// and snapshots. The state is passed through one decode so that a state
// restored from a snapshot encodes the same as one folded from the log.
func (s *State) Canonical() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	cp := NewState()
	if err := json.Unmarshal(raw, cp); err != nil {
		return nil, err
	}
	return json.Marshal(cp)
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("engine: state not serialisable: %v", err))
	}
	cp := NewState()
	if err := json.Unmarshal(raw, cp); err != nil {
		panic(fmt.Sprintf("engine: state not deserialisable: %v", err))
	}
	return cp
}
