package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/budget"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/player"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
)

// PlayerView is a seat as one viewer may see it. Roles are shown for the
// viewer itself, for revealed (dead) players and after the game.
type PlayerView struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"display_name"`
	Seat         int      `json:"seat"`
	Alive        bool     `json:"alive"`
	EliminatedOn int      `json:"eliminated_on,omitempty"`
	Roles        role.Set `json:"roles,omitempty"`
}

// View is the state masked for one viewer.
type View struct {
	GameID  string       `json:"game_id"`
	Status  Status       `json:"status"`
	Phase   Phase        `json:"phase"`
	Day     int          `json:"day"`
	Round   int          `json:"round"`
	Winner  role.Faction `json:"winner,omitempty"`
	Players []PlayerView `json:"players"`
	// Votes are the active ballots of the current day; ballots are public.
	Votes    []Vote `json:"votes,omitempty"`
	Sequence uint64 `json:"sequence"`

	ViewerID  string         `json:"viewer_id,omitempty"`
	Roles     role.Set       `json:"roles,omitempty"`
	Teammates []string       `json:"teammates,omitempty"`
	Memory    *player.Memory `json:"memory,omitempty"`
	Spent     *budget.Usage  `json:"spent,omitempty"`
}

// ViewFor masks s for v.
func (s *State) ViewFor(v events.Viewer) View {
	view := View{
		GameID:   s.GameID,
		Status:   s.Status,
		Phase:    s.Phase,
		Day:      s.Day,
		Round:    s.Round,
		Winner:   s.Winner,
		Sequence: s.LastSequence,
		ViewerID: v.PlayerID,
	}
	me := s.Player(v.PlayerID)
	teammates := map[string]bool{}
	if me != nil {
		for _, id := range s.Teammates(me.ID) {
			teammates[id] = true
		}
	}
	for _, p := range s.Players {
		pv := PlayerView{ID: p.ID, DisplayName: p.DisplayName, Seat: p.Seat, Alive: p.Alive, EliminatedOn: p.EliminatedOn}
		if v.Omniscient || s.Finished() || !p.Alive || (me != nil && p.ID == me.ID) || teammates[p.ID] {
			pv.Roles = p.Roles
		}
		view.Players = append(view.Players, pv)
	}
	for _, vote := range s.Votes {
		if vote.Active() {
			view.Votes = append(view.Votes, vote)
		}
	}
	if me != nil {
		view.Roles = me.Roles
		view.Teammates = s.Teammates(me.ID)
		mem := me.Clone().Memory
		view.Memory = &mem
		spent := s.Budget.Usage(budget.ScopePlayerGame, me.ID, "")
		view.Spent = &spent
	}
	return view
}

// Describe renders an event as one line of agent history.
func Describe(e events.GameEvent) string {
	prefix := fmt.Sprintf("[day %d] ", e.Day)
	switch e.Type {
	case events.EventTypePhaseChanged:
		var p PhaseChangedPayload
		if e.Decode(&p) == nil {
			return prefix + "phase " + string(p.To)
		}
	case events.EventTypeRoleAssigned:
		var p RoleAssignedPayload
		if e.Decode(&p) == nil {
			line := fmt.Sprintf("%syou are %s", prefix, p.Roles)
			if len(p.Teammates) > 0 {
				line += "; teammates " + strings.Join(p.Teammates, ", ")
			}
			return line
		}
	case events.EventTypeStatement:
		var p SpeechPayload
		if e.Decode(&p) == nil {
			return fmt.Sprintf("%s%s says: %s", prefix, p.PlayerID, p.Text)
		}
	case events.EventTypeNightAction:
		var a NightAction
		if e.Decode(&a) == nil {
			return fmt.Sprintf("%s%s chose %s %s", prefix, a.ActorID, a.Kind, a.TargetID)
		}
	case events.EventTypeNightResolved:
		var p NightResolvedPayload
		if e.Decode(&p) == nil {
			if len(p.Deaths) == 0 {
				return prefix + "nobody died in the night"
			}
			return prefix + "died in the night: " + strings.Join(p.Deaths, ", ")
		}
	case events.EventTypePlayerEliminated:
		var p EliminationPayload
		if e.Decode(&p) == nil {
			return fmt.Sprintf("%s%s eliminated (%s), was %s", prefix, p.PlayerID, p.Cause, p.Revealed)
		}
	case events.EventTypeVoteCast:
		var v Vote
		if e.Decode(&v) == nil {
			return fmt.Sprintf("%s%s votes %s", prefix, v.VoterID, v.TargetID)
		}
	case events.EventTypeVoteResult:
		var p VoteResultPayload
		if e.Decode(&p) == nil {
			return fmt.Sprintf("%svote result %s, eliminated %q", prefix, formatDistribution(p.Distribution), p.Eliminated)
		}
	case events.EventTypeInvestigation:
		var p InvestigationPayload
		if e.Decode(&p) == nil {
			return fmt.Sprintf("%sinvestigation: %s is %s", prefix, p.TargetID, p.Finding)
		}
	case events.EventTypeTeamBroadcast:
		var b role.Broadcast
		if e.Decode(&b) == nil {
			return prefix + "team: " + b.Message
		}
	case events.EventTypeRoleConflict:
		var p ConflictPayload
		if e.Decode(&p) == nil {
			return prefix + "note: " + p.Addendum
		}
	case events.EventTypeBudgetWarning, events.EventTypeBudgetExceeded:
		var n budget.Notice
		if e.Decode(&n) == nil {
			return prefix + n.Summary()
		}
	case events.EventTypeGameEnded:
		var p GameEndedPayload
		if e.Decode(&p) == nil {
			return fmt.Sprintf("%sgame over: %s (%s)", prefix, p.Winner, p.Reason)
		}
	}
	return ""
}

// historyFor returns the lines of the log visible to v, oldest first.
func historyFor(log []events.GameEvent, v events.Viewer) []string {
	var lines []string
	for _, e := range log {
		if !v.CanSee(e) {
			continue
		}
		if line := Describe(e); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func formatDistribution(d map[string]int) string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, d[k])
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// ViewerFor returns the log viewer of a seated player. Only the mafia has a
// team channel.
func (s *State) ViewerFor(playerID string) events.Viewer {
	v := events.Viewer{PlayerID: playerID}
	if p := s.Player(playerID); p != nil && p.Faction() == role.FactionMafia {
		v.Team = string(role.FactionMafia)
	}
	return v
}
