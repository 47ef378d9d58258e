package engine

import (
	"github.com/MRamiBalles/MafiaGemelos/server/internal/budget"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/rules"
)

// SeatPayload is the public identity of a seat.
type SeatPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Seat        int    `json:"seat"`
}

// GameCreatedPayload is the data for EventTypeGameCreated.
type GameCreatedPayload struct {
	GameID string        `json:"game_id"`
	Seed   int64         `json:"seed"`
	Rules  Rules         `json:"rules"`
	Seats  []SeatPayload `json:"seats"`
	Budget budget.Config `json:"budget"`
}

// RoleAssignedPayload is the data for EventTypeRoleAssigned, private to the player.
type RoleAssignedPayload struct {
	PlayerID  string   `json:"player_id"`
	Roles     role.Set `json:"roles"`
	Teammates []string `json:"teammates,omitempty"`
}

// PhaseChangedPayload is the data for EventTypePhaseChanged.
type PhaseChangedPayload struct {
	From     Phase  `json:"from"`
	To       Phase  `json:"to"`
	Day      int    `json:"day"`
	Round    int    `json:"round"`
	Deadline string `json:"deadline,omitempty"`
}

// StatusChangedPayload is the data for EventTypeStatusChanged.
type StatusChangedPayload struct {
	From   Status `json:"from"`
	To     Status `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// RejectionPayload is the data for EventTypeActionRejected.
type RejectionPayload struct {
	ActorID  string `json:"actor_id"`
	Phase    Phase  `json:"phase"`
	Action   string `json:"action"`
	TargetID string `json:"target_id,omitempty"`
	Code     string `json:"code"`
	Reason   string `json:"reason"`
}

// ProtectionPayload is the data for EventTypeProtectionApplied, private to the doctor.
type ProtectionPayload struct {
	DoctorID string `json:"doctor_id"`
	TargetID string `json:"target_id"`
	Night    int    `json:"night"`
	// Waived is set when the no-repeat rule was lifted for lack of another target.
	Waived bool `json:"waived,omitempty"`
}

// ShotPayload is the data for EventTypeVigilanteShot and EventTypeVigilantePassed.
type ShotPayload struct {
	VigilanteID string `json:"vigilante_id"`
	TargetID    string `json:"target_id,omitempty"`
	Night       int    `json:"night"`
}

// InvestigationPayload is the data for EventTypeInvestigation, private to the sheriff.
type InvestigationPayload struct {
	SheriffID string   `json:"sheriff_id"`
	TargetID  string   `json:"target_id"`
	Finding   role.Set `json:"finding"`
	Night     int      `json:"night"`
}

// ConflictPayload is the data for EventTypeRoleConflict, private to the player.
type ConflictPayload struct {
	PlayerID string `json:"player_id"`
	Addendum string `json:"addendum"`
}

// NightResolvedPayload is the public summary of a night. It reports deaths,
// never investigation outcomes or protections.
type NightResolvedPayload struct {
	Night  int      `json:"night"`
	Killed *string  `json:"killed"`
	Deaths []string `json:"deaths"`
}

// EliminationPayload is the data for EventTypePlayerEliminated.
type EliminationPayload struct {
	PlayerID string   `json:"player_id"`
	Cause    string   `json:"cause"`
	Day      int      `json:"day"`
	Revealed role.Set `json:"revealed"`
}

// Elimination causes.
const (
	CauseMafia     = "MAFIA_KILL"
	CauseVigilante = "VIGILANTE_SHOT"
	CauseVote      = "VOTE"
)

// SpeechPayload is the data for EventTypeStatement and EventTypeReasoning.
type SpeechPayload struct {
	PlayerID string `json:"player_id"`
	Phase    Phase  `json:"phase"`
	Text     string `json:"text"`
}

// VoteResultPayload is the data for EventTypeVoteResult.
type VoteResultPayload struct {
	Day          int            `json:"day"`
	Distribution map[string]int `json:"distribution"`
	Abstentions  int            `json:"abstentions"`
	Tie          bool           `json:"tie"`
	Tied         []string       `json:"tied,omitempty"`
	Policy       TiePolicy      `json:"policy"`
	Eliminated   string         `json:"eliminated,omitempty"`
}

// FallbackPayload is the data for EventTypeAgentFallback.
type FallbackPayload struct {
	PlayerID string `json:"player_id"`
	TurnID   string `json:"turn_id"`
	Phase    Phase  `json:"phase"`
	Reason   string `json:"reason"`
	Blocked  bool   `json:"blocked,omitempty"`
}

// GameEndedPayload is the data for EventTypeGameEnded. Roles are revealed to everyone.
type GameEndedPayload struct {
	Winner    role.Faction        `json:"winner,omitempty"`
	Reason    string              `json:"reason"`
	Day       int                 `json:"day"`
	Headcount rules.Headcount     `json:"headcount"`
	Roles     map[string]role.Set `json:"roles"`
}
