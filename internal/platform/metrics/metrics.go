// Package metrics provides observability for the game server.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Collector gathers engine, storage and agent metrics.
type Collector struct {
	// Phase metrics
	PhaseTransitions int64
	PhaseLatencySum  int64 // nanoseconds spent inside a phase
	PhaseLatencyMax  int64
	GamesStarted     int64
	GamesFinished    int64
	LastPhaseTime    time.Time

	// Event metrics
	EventsWritten    int64
	EventWriteLatSum int64
	EventWriteLatMax int64
	EventWriteErrors int64
	ActionsRejected  int64

	// WebSocket metrics
	WSConnectionsActive int64
	WSMessagesOut       int64
	WSErrors            int64

	// Agent metrics
	AgentCalls     int64
	AgentRetries   int64
	AgentFallbacks int64
	BudgetBlocks   int64
	TokensUsed     int64
	CostUSD        float64
	CallLatencySum int64

	StartTime time.Time
	mu        sync.RWMutex
}

var collector = New()

// New returns an empty collector. Tests use private collectors; the server uses Get.
func New() *Collector {
	return &Collector{StartTime: time.Now()}
}

// Get returns the global collector.
func Get() *Collector {
	return collector
}

func storeMax(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if v <= cur || atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}

// RecordPhase records the end of a phase that lasted d.
func (c *Collector) RecordPhase(d time.Duration) {
	atomic.AddInt64(&c.PhaseTransitions, 1)
	atomic.AddInt64(&c.PhaseLatencySum, int64(d))
	storeMax(&c.PhaseLatencyMax, int64(d))

	c.mu.Lock()
	c.LastPhaseTime = time.Now()
	c.mu.Unlock()
}

// RecordGame records a game start (finished=false) or end.
func (c *Collector) RecordGame(finished bool) {
	if finished {
		atomic.AddInt64(&c.GamesFinished, 1)
		return
	}
	atomic.AddInt64(&c.GamesStarted, 1)
}

// RecordEventWrite records an event write to the database.
func (c *Collector) RecordEventWrite(latency time.Duration, err error) {
	atomic.AddInt64(&c.EventsWritten, 1)
	atomic.AddInt64(&c.EventWriteLatSum, int64(latency))
	storeMax(&c.EventWriteLatMax, int64(latency))

	if err != nil {
		atomic.AddInt64(&c.EventWriteErrors, 1)
	}
}

// RecordRejection records an action refused by phase or target validation.
func (c *Collector) RecordRejection() {
	atomic.AddInt64(&c.ActionsRejected, 1)
}

// RecordWSConnection records WebSocket connection changes.
func (c *Collector) RecordWSConnection(delta int64) {
	atomic.AddInt64(&c.WSConnectionsActive, delta)
}

// RecordWSMessage records an outbound WebSocket message.
func (c *Collector) RecordWSMessage() {
	atomic.AddInt64(&c.WSMessagesOut, 1)
}

// RecordWSError records a WebSocket error.
func (c *Collector) RecordWSError() {
	atomic.AddInt64(&c.WSErrors, 1)
}

// RecordAgentCall records one charged provider call.
func (c *Collector) RecordAgentCall(tokens int, cost float64, latency time.Duration) {
	atomic.AddInt64(&c.AgentCalls, 1)
	atomic.AddInt64(&c.TokensUsed, int64(tokens))
	atomic.AddInt64(&c.CallLatencySum, int64(latency))

	c.mu.Lock()
	c.CostUSD += cost
	c.mu.Unlock()
}

// RecordRetry records a retried provider call.
func (c *Collector) RecordRetry() {
	atomic.AddInt64(&c.AgentRetries, 1)
}

// RecordFallback records a synthesized default action. blocked marks budget blocks.
func (c *Collector) RecordFallback(blocked bool) {
	atomic.AddInt64(&c.AgentFallbacks, 1)
	if blocked {
		atomic.AddInt64(&c.BudgetBlocks, 1)
	}
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	phases := atomic.LoadInt64(&c.PhaseTransitions)
	eventsWritten := atomic.LoadInt64(&c.EventsWritten)
	calls := atomic.LoadInt64(&c.AgentCalls)

	var phaseAvg, eventAvg, callAvg float64
	if phases > 0 {
		phaseAvg = float64(atomic.LoadInt64(&c.PhaseLatencySum)) / float64(phases) / 1e6 // ms
	}
	if eventsWritten > 0 {
		eventAvg = float64(atomic.LoadInt64(&c.EventWriteLatSum)) / float64(eventsWritten) / 1e6
	}
	if calls > 0 {
		callAvg = float64(atomic.LoadInt64(&c.CallLatencySum)) / float64(calls) / 1e9 // seconds
	}

	lastPhase := ""
	if !c.LastPhaseTime.IsZero() {
		lastPhase = c.LastPhaseTime.Format(time.RFC3339)
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.StartTime).Seconds(),

		"games": map[string]interface{}{
			"started":  atomic.LoadInt64(&c.GamesStarted),
			"finished": atomic.LoadInt64(&c.GamesFinished),
		},

		"phases": map[string]interface{}{
			"transitions":    phases,
			"avg_latency_ms": phaseAvg,
			"max_latency_ms": float64(atomic.LoadInt64(&c.PhaseLatencyMax)) / 1e6,
			"last_phase":     lastPhase,
		},

		"events": map[string]interface{}{
			"written":          eventsWritten,
			"avg_write_lat_ms": eventAvg,
			"max_write_lat_ms": float64(atomic.LoadInt64(&c.EventWriteLatMax)) / 1e6,
			"errors":           atomic.LoadInt64(&c.EventWriteErrors),
			"rejected_actions": atomic.LoadInt64(&c.ActionsRejected),
		},

		"websocket": map[string]interface{}{
			"active_connections": atomic.LoadInt64(&c.WSConnectionsActive),
			"messages_out":       atomic.LoadInt64(&c.WSMessagesOut),
			"errors":             atomic.LoadInt64(&c.WSErrors),
		},

		"agents": map[string]interface{}{
			"calls":           calls,
			"retries":         atomic.LoadInt64(&c.AgentRetries),
			"fallbacks":       atomic.LoadInt64(&c.AgentFallbacks),
			"budget_blocks":   atomic.LoadInt64(&c.BudgetBlocks),
			"tokens_used":     atomic.LoadInt64(&c.TokensUsed),
			"cost_usd":        c.CostUSD,
			"avg_latency_sec": callAvg,
		},
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		_ = json.NewEncoder(w).Encode(collector.Snapshot())
	}
}

// PrometheusHandler returns metrics in Prometheus format.
func PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		writeCounter := func(name, help string, v int64) {
			fmt.Fprintf(w, "# HELP %s %s\n", name, help)
			fmt.Fprintf(w, "# TYPE %s counter\n", name)
			fmt.Fprintf(w, "%s %d\n\n", name, v)
		}

		c := collector
		writeCounter("mafia_games_started", "Games started", atomic.LoadInt64(&c.GamesStarted))
		writeCounter("mafia_games_finished", "Games finished", atomic.LoadInt64(&c.GamesFinished))
		writeCounter("mafia_phase_transitions", "Phase transitions", atomic.LoadInt64(&c.PhaseTransitions))
		writeCounter("mafia_events_written", "Total events written", atomic.LoadInt64(&c.EventsWritten))
		writeCounter("mafia_event_write_errors", "Total event write errors", atomic.LoadInt64(&c.EventWriteErrors))
		writeCounter("mafia_actions_rejected", "Actions rejected by validation", atomic.LoadInt64(&c.ActionsRejected))
		writeCounter("mafia_agent_calls", "Charged agent calls", atomic.LoadInt64(&c.AgentCalls))
		writeCounter("mafia_agent_retries", "Retried agent calls", atomic.LoadInt64(&c.AgentRetries))
		writeCounter("mafia_agent_fallbacks", "Synthesized default actions", atomic.LoadInt64(&c.AgentFallbacks))
		writeCounter("mafia_budget_blocks", "Calls blocked by a budget ceiling", atomic.LoadInt64(&c.BudgetBlocks))
		writeCounter("mafia_tokens_used", "Total tokens consumed", atomic.LoadInt64(&c.TokensUsed))

		fmt.Fprintf(w, "# HELP mafia_ws_connections Active WebSocket connections\n")
		fmt.Fprintf(w, "# TYPE mafia_ws_connections gauge\n")
		fmt.Fprintf(w, "mafia_ws_connections %d\n\n", atomic.LoadInt64(&c.WSConnectionsActive))

		c.mu.RLock()
		fmt.Fprintf(w, "# HELP mafia_cost_usd Total agent cost in USD\n")
		fmt.Fprintf(w, "# TYPE mafia_cost_usd counter\n")
		fmt.Fprintf(w, "mafia_cost_usd %.4f\n", c.CostUSD)
		c.mu.RUnlock()
	}
}
