package network

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/engine"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/infra/cache"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/logger"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/metrics"
)

// Seater provides the agents of a new game.
type Seater interface {
	Seat(seed int64, playerIDs []string) map[string]engine.Agent
}

// API serves the game query and submission endpoints.
type API struct {
	ctx    context.Context
	reg    *engine.Registry
	hub    *Hub
	views  *cache.ViewCache
	seats  Seater
	logger *logger.Logger
}

// NewAPI creates the HTTP API. Games created through it run until ctx ends.
func NewAPI(ctx context.Context, reg *engine.Registry, hub *Hub, views *cache.ViewCache, seats Seater, log *logger.Logger) *API {
	return &API{ctx: ctx, reg: reg, hub: hub, views: views, seats: seats, logger: log.With("api")}
}

// RegisterRoutes sets up the API, websocket and metrics routes.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/games", a.HandleList)
	mux.HandleFunc("POST /api/games", a.HandleCreate)
	mux.HandleFunc("GET /api/games/{id}/state", a.HandleState)
	mux.HandleFunc("GET /api/games/{id}/events", a.HandleEvents)
	mux.HandleFunc("GET /api/games/{id}/snapshot", a.HandleSnapshot)
	mux.HandleFunc("POST /api/games/{id}/actions", a.handleCommand(CmdAction))
	mux.HandleFunc("POST /api/games/{id}/votes", a.handleCommand(CmdVote))
	mux.HandleFunc("POST /api/games/{id}/statements", a.handleCommand(CmdStatement))
	mux.HandleFunc("POST /api/games/{id}/{control}", a.HandleControl)

	replay := NewReplayHandler(a.reg, a.logger)
	replay.RegisterRoutes(mux)

	mux.HandleFunc("GET /ws", a.hub.ServeWS(a.reg))
	mux.HandleFunc("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /metrics/prometheus", metrics.PrometheusHandler())
}

// HandleList returns every registered game.
// GET /api/games
func (a *API) HandleList(w http.ResponseWriter, r *http.Request) {
	jsonSuccess(w, http.StatusOK, map[string]any{"games": a.reg.List()})
}

// HandleCreate sets up a game from an engine.Setup body and starts it.
// POST /api/games
func (a *API) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var setup engine.Setup
	if err := json.NewDecoder(r.Body).Decode(&setup); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	ids := make([]string, len(setup.Seats))
	for i, s := range setup.Seats {
		ids[i] = s.ID
	}

	g := a.reg.Create(engine.WithAgents(a.seats.Seat(setup.Seed, ids)))
	if err := g.Setup(r.Context(), setup); err != nil {
		a.reg.Remove(g.ID())
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.Start(g)
	jsonSuccess(w, http.StatusCreated, g.Summary())
}

// Start watches g and runs it in the background.
func (a *API) Start(g *engine.Game) {
	a.hub.Watch(g)
	go func() {
		if err := g.Run(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Errorf("game %s halted: %v", g.ID(), err)
		}
	}()
}

// HandleState returns the state masked for ?viewer=.
// GET /api/games/{id}/state
func (a *API) HandleState(w http.ResponseWriter, r *http.Request) {
	g, viewer, ok := a.lookup(w, r)
	if !ok {
		return
	}
	jsonSuccess(w, http.StatusOK, a.views.View(g, viewer))
}

// HandleEvents returns the events after ?since= visible to ?viewer=,
// optionally narrowed to a comma-separated ?type= list.
// GET /api/games/{id}/events
func (a *API) HandleEvents(w http.ResponseWriter, r *http.Request) {
	g, viewer, ok := a.lookup(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	since, err := parseUint(q.Get("since"))
	if err != nil {
		jsonError(w, "Invalid since", http.StatusBadRequest)
		return
	}
	limit, err := parseUint(q.Get("limit"))
	if err != nil {
		jsonError(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	f := events.Filter{Viewer: &viewer, Limit: int(limit), Types: parseTypes(q.Get("type"))}
	jsonSuccess(w, http.StatusOK, map[string]any{
		"game_id":       g.ID(),
		"last_sequence": g.LastSequence(),
		"events":        g.Events(since, f),
	})
}

// HandleSnapshot returns the newest snapshot. The unmasked state is only
// included once the game is over.
// GET /api/games/{id}/snapshot
func (a *API) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	g, err := a.reg.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	snap, err := g.LatestSnapshot(r.Context())
	if errors.Is(err, events.ErrNoSnapshot) {
		jsonError(w, "No snapshot", http.StatusNotFound)
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	if g.Summary().Status != engine.StatusFinished {
		snap.State = nil
	}
	jsonSuccess(w, http.StatusOK, snap)
}

func (a *API) handleCommand(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, err := a.reg.Get(r.PathValue("id"))
		if err != nil {
			writeErr(w, err)
			return
		}
		var cmd Command
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			jsonError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		cmd.Type = kind
		if err := submit(r.Context(), g, cmd); err != nil {
			writeErr(w, err)
			return
		}
		jsonSuccess(w, http.StatusAccepted, map[string]any{"accepted": true, "sequence": g.LastSequence()})
	}
}

// HandleControl pauses, resumes or stops a game.
// POST /api/games/{id}/pause|resume|stop
func (a *API) HandleControl(w http.ResponseWriter, r *http.Request) {
	g, err := a.reg.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	switch r.PathValue("control") {
	case "pause":
		err = g.Pause(r.Context())
	case "resume":
		err = g.Resume(r.Context())
	case "stop":
		err = g.Stop(r.Context(), r.URL.Query().Get("reason"))
	default:
		jsonError(w, "Not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	a.logger.Infof("game %s: %s", g.ID(), r.PathValue("control"))
	jsonSuccess(w, http.StatusOK, g.Summary())
}

// lookup resolves the game and ?viewer= of a request.
func (a *API) lookup(w http.ResponseWriter, r *http.Request) (*engine.Game, events.Viewer, bool) {
	g, err := a.reg.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return nil, events.Viewer{}, false
	}
	viewer, ok := viewerFor(g, r.URL.Query().Get("viewer"))
	if !ok {
		jsonError(w, "Unknown viewer", http.StatusBadRequest)
		return nil, events.Viewer{}, false
	}
	return g, viewer, true
}

// viewerFor trusts the viewer parameter: empty means a public spectator.
func viewerFor(g *engine.Game, playerID string) (events.Viewer, bool) {
	if playerID == "" {
		return events.Viewer{}, true
	}
	if !g.Seated(playerID) {
		return events.Viewer{}, false
	}
	return g.ViewerFor(playerID), true
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func parseTypes(s string) []events.EventType {
	var out []events.EventType
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, events.EventType(strings.ToUpper(t)))
		}
	}
	return out
}

func writeErr(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": code})
}

// jsonError sends an error response.
func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// jsonSuccess sends a success response.
func jsonSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
