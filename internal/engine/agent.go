package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/budget"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"
)

// Agent is an autonomous participant. Act is called once per attempt; it must
// report the usage of the attempt even when it fails.
type Agent interface {
	Model() string
	Act(ctx context.Context, req TurnRequest) (Response, budget.CallUsage, error)
}

// Options are the legal choices offered for one turn.
type Options struct {
	Night   map[role.Ability][]string `json:"night,omitempty"`
	CanPass bool                      `json:"can_pass,omitempty"`
	Vote    []string                  `json:"vote,omitempty"`
	Speak   bool                      `json:"speak"`
}

// TurnRequest is the input of one agent turn.
type TurnRequest struct {
	GameID   string   `json:"game_id"`
	PlayerID string   `json:"player_id"`
	Phase    Phase    `json:"phase"`
	Day      int      `json:"day"`
	Round    int      `json:"round"`
	TurnID   string   `json:"turn_id"`
	Attempt  int      `json:"attempt"`
	View     View     `json:"view"`
	Options  Options  `json:"options"`
	History  []string `json:"history"`
	Omitted  int      `json:"omitted,omitempty"`
	Addendum []string `json:"addendum,omitempty"`
}

// ActionChoice is one night action picked by an agent.
type ActionChoice struct {
	Kind     ActionKind `json:"kind"`
	TargetID string     `json:"target_id,omitempty"`
}

// Response is what an agent returns. Reasoning is private; Statement is public.
type Response struct {
	Reasoning string         `json:"reasoning"`
	Statement string         `json:"statement,omitempty"`
	Actions   []ActionChoice `json:"actions,omitempty"`
	Vote      string         `json:"vote,omitempty"`
}

// validateResponse checks a response against the offered options. An invalid
// response is retryable: the agent gets another attempt.
func validateResponse(req TurnRequest, resp Response) error {
	if strings.TrimSpace(resp.Reasoning) == "" {
		return fmt.Errorf("%w: empty reasoning", budget.ErrRetryable)
	}
	for _, a := range resp.Actions {
		if a.Kind == ActionPass {
			if !req.Options.CanPass {
				return fmt.Errorf("%w: pass not offered", budget.ErrRetryable)
			}
			continue
		}
		targets, ok := req.Options.Night[role.Ability(a.Kind)]
		if !ok {
			return fmt.Errorf("%w: action %s not offered", budget.ErrRetryable, a.Kind)
		}
		if !contains(targets, a.TargetID) {
			return fmt.Errorf("%w: %s target %q not offered", budget.ErrRetryable, a.Kind, a.TargetID)
		}
	}
	if resp.Vote != "" && !contains(req.Options.Vote, resp.Vote) {
		return fmt.Errorf("%w: vote %q not offered", budget.ErrRetryable, resp.Vote)
	}
	return nil
}
