// Package budget wraps every outbound agent call in cost accounting, spending
// ceilings and a bounded retry policy, and trims prompt history to a size budget.
package budget

import (
	"fmt"
	"time"
)

// Config holds the recognised budget options. A ceiling of 0 disables that scope.
type Config struct {
	// PerPlayerPerTurn caps the spend of one agent turn, retries included.
	PerPlayerPerTurn float64 `env:"MAFIA_BUDGET_PER_PLAYER_PER_TURN" envDefault:"0.05" json:"per_player_per_turn"`
	// PerPlayerPerGame caps the spend of one player over the whole game.
	PerPlayerPerGame float64 `env:"MAFIA_BUDGET_PER_PLAYER_PER_GAME" envDefault:"0" json:"per_player_per_game"`
	// PerGameTotal caps the spend of the whole table.
	PerGameTotal float64 `env:"MAFIA_BUDGET_PER_GAME_TOTAL" envDefault:"2.00" json:"per_game_total"`
	// WarningThreshold is the fraction of a ceiling that raises a warning event.
	WarningThreshold float64 `env:"MAFIA_BUDGET_WARNING_THRESHOLD" envDefault:"0.8" json:"warning_threshold"`
	// StopThreshold is the fraction of a ceiling past which paid calls are blocked.
	StopThreshold float64 `env:"MAFIA_BUDGET_STOP_THRESHOLD" envDefault:"1.0" json:"stop_threshold"`
	// MaxRetries is the number of extra attempts after the first one.
	MaxRetries int `env:"MAFIA_BUDGET_MAX_RETRIES" envDefault:"2" json:"max_retries"`
	// RetryDelay is the constant wait between attempts.
	RetryDelay time.Duration `env:"MAFIA_BUDGET_RETRY_DELAY" envDefault:"1s" json:"retry_delay"`
	// MaxContextChars bounds the history handed to an agent.
	MaxContextChars int `env:"MAFIA_BUDGET_MAX_CONTEXT_CHARS" envDefault:"12000" json:"max_context_chars"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		PerPlayerPerTurn: 0.05,
		PerGameTotal:     2.00,
		WarningThreshold: 0.8,
		StopThreshold:    1.0,
		MaxRetries:       2,
		RetryDelay:       time.Second,
		MaxContextChars:  12000,
	}
}

// Validate rejects nonsensical values.
func (c Config) Validate() error {
	if c.PerPlayerPerTurn < 0 || c.PerPlayerPerGame < 0 || c.PerGameTotal < 0 {
		return fmt.Errorf("budget: ceilings must not be negative")
	}
	if c.WarningThreshold <= 0 || c.StopThreshold <= 0 {
		return fmt.Errorf("budget: thresholds must be positive")
	}
	if c.WarningThreshold > c.StopThreshold {
		return fmt.Errorf("budget: warning threshold %.2f above stop threshold %.2f", c.WarningThreshold, c.StopThreshold)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("budget: max retries must not be negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("budget: retry delay must not be negative")
	}
	if c.MaxContextChars < 0 {
		return fmt.Errorf("budget: max context chars must not be negative")
	}
	return nil
}
