package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/agent"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/engine"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/infra/cache"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/config"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/logger"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/optimization"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const classicSetup = `{
	"seed": 42,
	"seats": [
		{"id": "p1", "roles": "MAFIA"},
		{"id": "p2", "roles": "DOCTOR"},
		{"id": "p3", "roles": "SHERIFF"},
		{"id": "p4", "roles": "VILLAGER"},
		{"id": "p5", "roles": "VILLAGER"},
		{"id": "p6", "roles": "VILLAGER"}
	],
	"rules": {"max_days": 4}
}`

type fixture struct {
	api *API
	reg *engine.Registry
	hub *Hub
	srv *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := logger.NewNopLogger()
	reg := engine.NewRegistry(engine.WithClock(events.LogicalClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), time.Second)))
	hub := NewHub(optimization.LowResourceConfig(), log)
	go hub.Run(ctx)
	views, err := cache.NewViewCache(16)
	require.NoError(t, err)
	seats, err := agent.NewFactory(config.Server{Provider: "heuristic"}, log)
	require.NoError(t, err)

	api := NewAPI(ctx, reg, hub, views, seats, log)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &fixture{api: api, reg: reg, hub: hub, srv: srv}
}

// idle sets up a game that nobody runs, so it stays in the first night.
func (f *fixture) idle(t *testing.T) *engine.Game {
	t.Helper()
	var setup engine.Setup
	require.NoError(t, json.Unmarshal([]byte(classicSetup), &setup))
	g := f.reg.Create()
	require.NoError(t, g.Setup(context.Background(), setup))
	return g
}

func (f *fixture) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestCreateRunsGameToTheEnd(t *testing.T) {
	f := newFixture(t)

	var created engine.Summary
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/games", classicSetup, &created))
	require.NotEmpty(t, created.ID)

	g, err := f.reg.Get(created.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return g.State().Finished() }, 10*time.Second, 10*time.Millisecond)

	var list struct {
		Games []engine.Summary `json:"games"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/games", "", &list))
	require.Len(t, list.Games, 1)
	assert.Equal(t, engine.StatusFinished, list.Games[0].Status)

	var verify VerifyResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/games/"+g.ID()+"/verify", "", &verify))
	assert.True(t, verify.OK, verify.Error)
	assert.Equal(t, g.LastSequence(), verify.Sequence)
}

func TestCreateRejectsBadSetup(t *testing.T) {
	f := newFixture(t)
	bad := `{"seed": 1, "seats": [{"id": "p1", "roles": "MAFIA"}, {"id": "p2", "roles": "MAFIA"}]}`
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/games", bad, nil))
	assert.Empty(t, f.reg.List())
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/games", "{", nil))
}

func TestStateAndEventsAreMasked(t *testing.T) {
	f := newFixture(t)
	g := f.idle(t)
	base := "/api/games/" + g.ID()

	var view engine.View
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, base+"/state?viewer=p3", "", &view))
	assert.Equal(t, engine.PhaseNight, view.Phase)
	assert.Equal(t, "p3", view.ViewerID)
	for _, p := range view.Players {
		if p.ID != "p3" {
			assert.Empty(t, p.Roles, p.ID)
		}
	}

	var own struct {
		Events []events.GameEvent `json:"events"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, base+"/events?viewer=p3&type=role_assigned", "", &own))
	require.Len(t, own.Events, 1)
	assert.Equal(t, "p3", own.Events[0].ActorID)

	var public struct {
		Events       []events.GameEvent `json:"events"`
		LastSequence uint64             `json:"last_sequence"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, base+"/events?since=1", "", &public))
	assert.Equal(t, g.LastSequence(), public.LastSequence)
	for _, e := range public.Events {
		assert.Equal(t, events.VisibilityPublic, e.Visibility, e.Type)
		assert.Greater(t, e.Sequence, uint64(1))
	}

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, base+"/state?viewer=nobody", "", nil))
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, base+"/events?since=x", "", nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/games/missing/state", "", nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, base+"/snapshot", "", nil))
}

func TestSubmissionsAreCheckedAgainstThePhase(t *testing.T) {
	f := newFixture(t)
	g := f.idle(t)
	base := "/api/games/" + g.ID()

	var rejected map[string]string
	assert.Equal(t, http.StatusUnprocessableEntity,
		f.do(t, http.MethodPost, base+"/votes", `{"player_id":"p4","target_id":"p1"}`, &rejected))
	assert.Equal(t, engine.CodeInvalidPhase, rejected["code"])

	assert.Equal(t, http.StatusUnprocessableEntity,
		f.do(t, http.MethodPost, base+"/statements", `{"player_id":"p4","text":"hello?"}`, nil))

	assert.Equal(t, http.StatusAccepted,
		f.do(t, http.MethodPost, base+"/actions", `{"player_id":"p1","kind":"kill","target_id":"p4"}`, nil))
	assert.Equal(t, http.StatusAccepted,
		f.do(t, http.MethodPost, base+"/statements", `{"player_id":"p1","text":"p4 tonight"}`, nil))

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, base+"/actions", `{"kind":"kill"}`, nil))
	assert.Len(t, g.Events(0, events.Filter{Viewer: &events.Omniscient, Types: []events.EventType{events.EventTypeActionRejected}}), 2)
}

func TestControlEndpoints(t *testing.T) {
	f := newFixture(t)
	g := f.idle(t)
	base := "/api/games/" + g.ID()

	var s engine.Summary
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/pause", "", &s))
	assert.Equal(t, engine.StatusPaused, s.Status)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/resume", "", &s))
	assert.Equal(t, engine.StatusRunning, s.Status)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/stop?reason=operator", "", &s))
	assert.Equal(t, engine.StatusFinished, s.Status)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, base+"/pause", "", nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, base+"/explode", "", nil))
}

func TestReplayEndpoint(t *testing.T) {
	f := newFixture(t)
	g := f.idle(t)

	var replay ReplayResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/games/"+g.ID()+"/replay?viewer=p2&day=0", "", &replay))
	require.NotEmpty(t, replay.Events)
	assert.Equal(t, "Day 0", replay.FilteredBy)
	var lines []string
	for _, e := range replay.Events {
		assert.Zero(t, e.Day)
		lines = append(lines, e.Summary)
	}
	assert.Contains(t, lines, "[day 0] you are DOCTOR")
	assert.NotContains(t, lines, "[day 0] you are MAFIA")

	var stats struct {
		Stats map[string]int `json:"stats"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/games/"+g.ID()+"/stats", "", &stats))
	assert.Zero(t, stats.Stats[string(events.EventTypeRoleAssigned)])
	assert.Equal(t, 1, stats.Stats[string(events.EventTypeGameCreated)])
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func dial(t *testing.T, f *fixture, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebsocketStreamsVisibleEvents(t *testing.T) {
	f := newFixture(t)
	g := f.idle(t)

	mafia := dial(t, f, "game="+g.ID()+"&viewer=p1")
	backlog := readMessage(t, mafia)
	require.Equal(t, MsgTypeBacklog, backlog.Type)
	for _, e := range backlog.Events {
		if e.Type == events.EventTypeRoleAssigned {
			assert.Equal(t, "p1", e.ActorID)
		}
	}
	require.Eventually(t, func() bool { return f.hub.Connected(g.ID()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, mafia.WriteJSON(Command{Type: CmdAction, Kind: engine.ActionKill, TargetID: "p4"}))
	got := map[string]Message{}
	for len(got) < 2 {
		msg := readMessage(t, mafia)
		got[msg.Type] = msg
	}
	require.Contains(t, got, MsgTypeAccepted)
	require.Contains(t, got, MsgTypeEvent)
	assert.Equal(t, events.EventTypeNightAction, got[MsgTypeEvent].Event.Type)
	assert.Equal(t, events.VisibilityTeam, got[MsgTypeEvent].Event.Visibility)

	// resuming after the backlog only delivers newer events
	again := dial(t, f, "game="+g.ID()+"&viewer=p1&since="+strconv.FormatUint(g.LastSequence(), 10))
	assert.Empty(t, readMessage(t, again).Events)
}

func TestWebsocketRejectsSpectatorCommands(t *testing.T) {
	f := newFixture(t)
	g := f.idle(t)

	spectator := dial(t, f, "game="+g.ID())
	readMessage(t, spectator)
	require.NoError(t, spectator.WriteJSON(Command{Type: CmdVote, TargetID: "p1"}))
	msg := readMessage(t, spectator)
	assert.Equal(t, MsgTypeError, msg.Type)
	assert.Equal(t, engine.CodeInvalidActor, msg.Code)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http")+"/ws?game=missing", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
