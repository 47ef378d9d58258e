package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/engine"
)

// Command types accepted over the websocket and the HTTP API.
const (
	CmdAction    = "action"
	CmdVote      = "vote"
	CmdStatement = "statement"
)

// Command is one submission by a seated player.
type Command struct {
	Type     string            `json:"type"`
	PlayerID string            `json:"player_id"`
	Kind     engine.ActionKind `json:"kind,omitempty"`
	TargetID string            `json:"target_id,omitempty"`
	Text     string            `json:"text,omitempty"`
}

var errUnknownCommand = errors.New("unknown command")

// submit routes cmd to g. Rejections come back as *engine.ActionError and are
// already recorded in the log.
func submit(ctx context.Context, g *engine.Game, cmd Command) error {
	if strings.TrimSpace(cmd.PlayerID) == "" {
		return fmt.Errorf("%w: missing player_id", errUnknownCommand)
	}
	switch cmd.Type {
	case CmdAction:
		kind := engine.ActionKind(strings.ToUpper(string(cmd.Kind)))
		return g.SubmitNightAction(ctx, engine.NightAction{ActorID: cmd.PlayerID, Kind: kind, TargetID: cmd.TargetID})
	case CmdVote:
		return g.SubmitVote(ctx, cmd.PlayerID, cmd.TargetID)
	case CmdStatement:
		return g.SubmitStatement(ctx, cmd.PlayerID, cmd.Text)
	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, cmd.Type)
	}
}

// errorStatus maps an engine error to an HTTP status and a short code.
func errorStatus(err error) (int, string) {
	var aerr *engine.ActionError
	switch {
	case errors.As(err, &aerr):
		return http.StatusUnprocessableEntity, aerr.Code
	case errors.Is(err, errUnknownCommand):
		return http.StatusBadRequest, "BAD_COMMAND"
	case errors.Is(err, engine.ErrGameNotFound):
		return http.StatusNotFound, "GAME_NOT_FOUND"
	case errors.Is(err, engine.ErrGameFinished):
		return http.StatusConflict, "GAME_FINISHED"
	case errors.Is(err, engine.ErrNotSetUp):
		return http.StatusConflict, "NOT_SET_UP"
	case errors.Is(err, engine.ErrReplayDivergence):
		return http.StatusConflict, "REPLAY_DIVERGENCE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
