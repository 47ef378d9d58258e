package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotAggregates(t *testing.T) {
	c := New()
	c.RecordGame(false)
	c.RecordGame(true)
	c.RecordPhase(2 * time.Second)
	c.RecordPhase(4 * time.Second)
	c.RecordEventWrite(time.Millisecond, nil)
	c.RecordEventWrite(3*time.Millisecond, assert.AnError)
	c.RecordAgentCall(120, 0.25, time.Second)
	c.RecordFallback(true)
	c.RecordFallback(false)

	s := c.Snapshot()
	phases := s["phases"].(map[string]interface{})
	assert.Equal(t, int64(2), phases["transitions"])
	assert.InDelta(t, 3000.0, phases["avg_latency_ms"], 0.001)
	assert.InDelta(t, 4000.0, phases["max_latency_ms"], 0.001)

	ev := s["events"].(map[string]interface{})
	assert.Equal(t, int64(1), ev["errors"])
	assert.InDelta(t, 3.0, ev["max_write_lat_ms"], 0.001)

	agents := s["agents"].(map[string]interface{})
	assert.Equal(t, int64(2), agents["fallbacks"])
	assert.Equal(t, int64(1), agents["budget_blocks"])
	assert.Equal(t, int64(120), agents["tokens_used"])
	assert.InDelta(t, 0.25, agents["cost_usd"], 1e-9)
}

func TestHandlers(t *testing.T) {
	Get().RecordWSConnection(1)
	defer Get().RecordWSConnection(-1)

	rec := httptest.NewRecorder()
	Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "websocket")

	rec = httptest.NewRecorder()
	PrometheusHandler()(rec, httptest.NewRequest("GET", "/metrics/prometheus", nil))
	assert.Contains(t, rec.Body.String(), "# TYPE mafia_ws_connections gauge")
	assert.Contains(t, rec.Body.String(), "mafia_games_started")
}
