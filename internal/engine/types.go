package engine

import (
	"time"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"
)

// Phase is a state of the phase controller.
type Phase string

const (
	PhaseSetup      Phase = "SETUP"
	PhaseNight      Phase = "NIGHT_ACTIONS"
	PhaseMorning    Phase = "MORNING_REVEAL"
	PhaseDiscussion Phase = "DAY_DISCUSSION"
	PhaseVoting     Phase = "DAY_VOTING"
	PhaseResolution Phase = "RESOLUTION"
	PhaseEnd        Phase = "END"
)

// Status is the lifecycle status of a game.
type Status string

const (
	StatusCreated  Status = "CREATED"
	StatusRunning  Status = "RUNNING"
	StatusPaused   Status = "PAUSED"
	StatusFinished Status = "FINISHED"
)

// TiePolicy decides what a tied vote does. It is fixed at setup.
type TiePolicy string

const (
	// TieBreakSeeded eliminates a seed-derived choice among the tied targets.
	TieBreakSeeded TiePolicy = "SEEDED_TIE_BREAK"
	// TieNoElimination eliminates nobody on a tie.
	TieNoElimination TiePolicy = "NO_ELIMINATION"
)

// ActionKind is a night action. PASS is the vigilante holding the shot.
type ActionKind string

const (
	ActionKill        = ActionKind(role.AbilityKill)
	ActionProtect     = ActionKind(role.AbilityProtect)
	ActionInvestigate = ActionKind(role.AbilityInvestigate)
	ActionShoot       = ActionKind(role.AbilityShoot)
	ActionPass        = ActionKind("PASS")
)

// Abstain is the vote target meaning "nobody".
const Abstain = "ABSTAIN"

// Deadlines bound each phase that waits on actors.
type Deadlines struct {
	Night      time.Duration `json:"night"`
	Discussion time.Duration `json:"discussion"`
	Voting     time.Duration `json:"voting"`
}

// Rules are the house rules chosen at setup.
type Rules struct {
	Stacking              role.StackingRules `json:"stacking"`
	TiePolicy             TiePolicy          `json:"tie_policy"`
	AllowSelfVote         bool               `json:"allow_self_vote"`
	VigilantePassConsumes bool               `json:"vigilante_pass_consumes"`
	DiscussionRounds      int                `json:"discussion_rounds"`
	// MaxDays ends the game without a winner after that many days (0 = no cap).
	MaxDays   int       `json:"max_days"`
	Deadlines Deadlines `json:"deadlines"`
}

// DefaultRules are the classic single-role rules.
func DefaultRules() Rules {
	return Rules{
		Stacking:         role.DefaultStackingRules(),
		TiePolicy:        TieBreakSeeded,
		DiscussionRounds: 1,
		Deadlines: Deadlines{
			Night:      90 * time.Second,
			Discussion: 3 * time.Minute,
			Voting:     90 * time.Second,
		},
	}
}

func (r Rules) withDefaults() Rules {
	d := DefaultRules()
	if r.TiePolicy == "" {
		r.TiePolicy = d.TiePolicy
	}
	if r.DiscussionRounds <= 0 {
		r.DiscussionRounds = d.DiscussionRounds
	}
	if r.Stacking.MaxRolesPerPlayer == 0 {
		r.Stacking.MaxRolesPerPlayer = 1
		if r.Stacking.MultiRole {
			r.Stacking.MaxRolesPerPlayer = 2
		}
	}
	if r.Deadlines.Night <= 0 {
		r.Deadlines.Night = d.Deadlines.Night
	}
	if r.Deadlines.Discussion <= 0 {
		r.Deadlines.Discussion = d.Deadlines.Discussion
	}
	if r.Deadlines.Voting <= 0 {
		r.Deadlines.Voting = d.Deadlines.Voting
	}
	return r
}

// SeatSpec describes one player at setup.
type SeatSpec struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Roles       role.Set `json:"roles,omitempty"`
}

// Setup is everything needed to start a game.
type Setup struct {
	Seed  int64      `json:"seed"`
	Seats []SeatSpec `json:"seats"`
	// Deck is dealt to seats with a seed-derived shuffle when no seat has explicit roles.
	Deck  []role.Set `json:"deck,omitempty"`
	Rules Rules      `json:"rules"`
}

// NightAction is one submitted night action.
type NightAction struct {
	ActorID  string     `json:"actor_id"`
	Kind     ActionKind `json:"kind"`
	TargetID string     `json:"target_id,omitempty"`
	Fallback bool       `json:"fallback,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

func (a NightAction) key() string {
	kind := a.Kind
	if kind == ActionPass {
		kind = ActionShoot
	}
	return a.ActorID + "/" + string(kind)
}

// NightActionSet holds the actions of one night keyed by actor and ability.
// A later submission for the same key replaces the earlier one.
type NightActionSet map[string]NightAction

// Vote is one ballot. SupersededBy is the sequence of the later vote that replaced it.
type Vote struct {
	VoterID      string    `json:"voter_id"`
	TargetID     string    `json:"target_id"`
	CastAt       time.Time `json:"cast_at"`
	Sequence     uint64    `json:"sequence"`
	SupersededBy uint64    `json:"superseded_by,omitempty"`
	Fallback     bool      `json:"fallback,omitempty"`
}

// Active reports whether the vote still counts.
func (v Vote) Active() bool {
	return v.SupersededBy == 0
}
