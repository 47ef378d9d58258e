// Package optimization provides concurrency tuning for running many tables at once.
package optimization

import (
	"runtime"
)

// Config holds tuned parameters for the engine and its transports.
type Config struct {
	// AgentConcurrency bounds outbound agent calls per phase. 1 means strictly sequential.
	AgentConcurrency int

	// Channel buffer sizes
	BroadcastChannelBuffer int
	ClientSendBuffer       int

	// Connection pools
	DBMaxOpenConns int
	DBMaxIdleConns int

	// ViewCacheSize is the number of masked state views kept across all games.
	ViewCacheSize int

	// SnapshotEvery writes a snapshot after this many events (0 disables).
	SnapshotEvery int
	// SnapshotsKept is how many snapshots per game survive a save (0 keeps all).
	SnapshotsKept int

	MaxClientsPerGame int
}

// DefaultConfig returns sensible defaults for production.
func DefaultConfig() *Config {
	numCPU := runtime.NumCPU()

	return &Config{
		AgentConcurrency: 4,

		BroadcastChannelBuffer: 256,
		ClientSendBuffer:       64,

		DBMaxOpenConns: numCPU * 4,
		DBMaxIdleConns: numCPU * 2,

		ViewCacheSize: 1024,
		SnapshotEvery: 50,
		SnapshotsKept: 3,

		MaxClientsPerGame: 200,
	}
}

// StressTestConfig returns aggressive settings for stress testing.
func StressTestConfig() *Config {
	numCPU := runtime.NumCPU()

	return &Config{
		AgentConcurrency: numCPU * 2,

		BroadcastChannelBuffer: 512,
		ClientSendBuffer:       128,

		DBMaxOpenConns: numCPU * 8,
		DBMaxIdleConns: numCPU * 4,

		ViewCacheSize: 8192,
		SnapshotEvery: 200,
		SnapshotsKept: 2,

		MaxClientsPerGame: 500,
	}
}

// LowResourceConfig returns minimal settings for development and deterministic runs.
func LowResourceConfig() *Config {
	return &Config{
		AgentConcurrency: 1,

		BroadcastChannelBuffer: 16,
		ClientSendBuffer:       8,

		DBMaxOpenConns: 1,
		DBMaxIdleConns: 1,

		ViewCacheSize: 64,
		SnapshotEvery: 25,
		SnapshotsKept: 1,

		MaxClientsPerGame: 20,
	}
}

// Recommendations provides suggestions based on observed metrics.
type Recommendations struct {
	IncreaseAgentConcurrency bool
	IncreaseBroadcastBuffer  bool
	IncreaseDBConnections    bool
	Notes                    []string
}

// Analyze examines a metrics snapshot and returns optimization recommendations.
func Analyze(metrics map[string]interface{}) *Recommendations {
	rec := &Recommendations{
		Notes: make([]string, 0),
	}

	if phases, ok := metrics["phases"].(map[string]interface{}); ok {
		if maxLat, ok := phases["max_latency_ms"].(float64); ok && maxLat > 30000 {
			rec.IncreaseAgentConcurrency = true
			rec.Notes = append(rec.Notes, "Phase latency exceeds 30s - raise agent concurrency")
		}
	}

	if events, ok := metrics["events"].(map[string]interface{}); ok {
		if maxLat, ok := events["max_write_lat_ms"].(float64); ok && maxLat > 50 {
			rec.IncreaseDBConnections = true
			rec.Notes = append(rec.Notes, "Event write latency exceeds 50ms - increase DB connections")
		}
		if errors, ok := events["errors"].(int64); ok && errors > 0 {
			rec.IncreaseDBConnections = true
			rec.Notes = append(rec.Notes, "Event write errors detected - check DB connection pool")
		}
	}

	if ws, ok := metrics["websocket"].(map[string]interface{}); ok {
		if errors, ok := ws["errors"].(int64); ok && errors > 0 {
			rec.IncreaseBroadcastBuffer = true
			rec.Notes = append(rec.Notes, "WebSocket errors detected - increase client send buffer")
		}
	}

	return rec
}

// ApplyRecommendations modifies config based on recommendations.
func ApplyRecommendations(config *Config, rec *Recommendations) *Config {
	if rec.IncreaseAgentConcurrency {
		config.AgentConcurrency *= 2
	}
	if rec.IncreaseBroadcastBuffer {
		config.BroadcastChannelBuffer *= 2
		config.ClientSendBuffer *= 2
	}
	if rec.IncreaseDBConnections {
		config.DBMaxOpenConns = int(float64(config.DBMaxOpenConns) * 1.5)
		config.DBMaxIdleConns = int(float64(config.DBMaxIdleConns) * 1.5)
	}
	return config
}
