// Package network - replay.go
// Replay endpoints: a readable, masked history of a game plus an on-demand
// check that the log still rebuilds the live state.
package network

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/engine"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/logger"
)

// ReplayHandler provides the replay API.
type ReplayHandler struct {
	reg    *engine.Registry
	logger *logger.Logger
}

// NewReplayHandler creates a new replay handler.
func NewReplayHandler(reg *engine.Registry, log *logger.Logger) *ReplayHandler {
	return &ReplayHandler{reg: reg, logger: log}
}

// ReplayEvent is one event as a line of history.
type ReplayEvent struct {
	Sequence   uint64            `json:"sequence"`
	Timestamp  string            `json:"timestamp"`
	Day        int               `json:"day"`
	Type       string            `json:"type"`
	ActorID    string            `json:"actor_id,omitempty"`
	Visibility events.Visibility `json:"visibility"`
	Summary    string            `json:"summary"`
}

// ReplayResponse is the API response for a replay.
type ReplayResponse struct {
	GameID      string        `json:"game_id"`
	TotalEvents int           `json:"total_events"`
	FilteredBy  string        `json:"filtered_by,omitempty"`
	GeneratedAt string        `json:"generated_at"`
	Events      []ReplayEvent `json:"events"`
}

// VerifyResponse reports the result of a replay check.
type VerifyResponse struct {
	GameID   string `json:"game_id"`
	OK       bool   `json:"ok"`
	Sequence uint64 `json:"sequence"`
	Field    string `json:"field,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HandleReplay returns the history of a game as ?viewer= may see it.
// GET /api/games/{id}/replay?viewer=p1&day=N&type=VOTE_CAST
func (rh *ReplayHandler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	g, err := rh.reg.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	q := r.URL.Query()
	viewer, ok := viewerFor(g, q.Get("viewer"))
	if !ok {
		jsonError(w, "Unknown viewer", http.StatusBadRequest)
		return
	}

	filterDesc := ""
	day := -1
	if s := q.Get("day"); s != "" {
		if day, err = strconv.Atoi(s); err != nil {
			jsonError(w, "Invalid day", http.StatusBadRequest)
			return
		}
		filterDesc = "Day " + s
	}

	replayEvents := []ReplayEvent{}
	for _, e := range g.Events(0, events.Filter{Viewer: &viewer, Types: parseTypes(q.Get("type"))}) {
		if day >= 0 && e.Day != day {
			continue
		}
		replayEvents = append(replayEvents, toReplayEvent(e))
	}

	response := ReplayResponse{
		GameID:      g.ID(),
		TotalEvents: len(replayEvents),
		FilteredBy:  filterDesc,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Events:      replayEvents,
	}
	rh.logger.Event("REPLAY", viewer.PlayerID, "GameID:"+g.ID()+" Events:"+strconv.Itoa(len(replayEvents)))
	jsonSuccess(w, http.StatusOK, response)
}

// HandleVerify replays the full log and compares it with the live state.
// GET /api/games/{id}/verify
func (rh *ReplayHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	g, err := rh.reg.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	history := g.History()
	resp := VerifyResponse{GameID: g.ID(), OK: true}
	if len(history) > 0 {
		resp.Sequence = history[len(history)-1].Sequence
	}
	if err := engine.VerifyReplay(g.State(), history); err != nil {
		resp.OK = false
		resp.Error = err.Error()
		var div *engine.DivergenceError
		if errors.As(err, &div) {
			resp.Field = div.Field
		}
		rh.logger.Warnf("game %s failed verification: %v", g.ID(), err)
	}
	jsonSuccess(w, http.StatusOK, resp)
}

// HandleStats counts the events of each type visible to ?viewer=.
// GET /api/games/{id}/stats
func (rh *ReplayHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	g, err := rh.reg.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	viewer, ok := viewerFor(g, r.URL.Query().Get("viewer"))
	if !ok {
		jsonError(w, "Unknown viewer", http.StatusBadRequest)
		return
	}

	stats := map[events.EventType]int{}
	visible := g.Events(0, events.Filter{Viewer: &viewer})
	for _, e := range visible {
		stats[e.Type]++
	}
	jsonSuccess(w, http.StatusOK, map[string]any{
		"game_id":      g.ID(),
		"generated_at": time.Now().UTC().Format(time.RFC3339),
		"total_events": len(visible),
		"stats":        stats,
	})
}

// RegisterRoutes sets up the replay API routes.
func (rh *ReplayHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/games/{id}/replay", rh.HandleReplay)
	mux.HandleFunc("GET /api/games/{id}/verify", rh.HandleVerify)
	mux.HandleFunc("GET /api/games/{id}/stats", rh.HandleStats)
}

// toReplayEvent renders an event as a history line.
func toReplayEvent(e events.GameEvent) ReplayEvent {
	summary := engine.Describe(e)
	if summary == "" {
		summary = "[day " + strconv.Itoa(e.Day) + "] " + string(e.Type)
	}
	return ReplayEvent{
		Sequence:   e.Sequence,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		Day:        e.Day,
		Type:       string(e.Type),
		ActorID:    e.ActorID,
		Visibility: e.Visibility,
		Summary:    summary,
	}
}
