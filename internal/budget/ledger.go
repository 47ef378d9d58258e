package budget

import "fmt"

// Scope is a level at which spend is capped.
type Scope string

const (
	ScopeTurn       Scope = "PLAYER_TURN"
	ScopePlayerGame Scope = "PLAYER_GAME"
	ScopeGame       Scope = "GAME"
)

// ScopeKey identifies one capped bucket.
func ScopeKey(scope Scope, playerID, turnID string) string {
	switch scope {
	case ScopeTurn:
		return fmt.Sprintf("turn:%s:%s", playerID, turnID)
	case ScopePlayerGame:
		return "player:" + playerID
	default:
		return "game"
	}
}

// Usage is the cumulative spend of one bucket.
type Usage struct {
	Calls            int     `json:"calls"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

func (u *Usage) add(c Charge) {
	u.Calls++
	u.PromptTokens += c.PromptTokens
	u.CompletionTokens += c.CompletionTokens
	u.CostUSD += c.CostUSD
}

// Tokens returns prompt plus completion tokens.
func (u Usage) Tokens() int {
	return u.PromptTokens + u.CompletionTokens
}

// Charge is the recorded cost of one provider attempt.
type Charge struct {
	PlayerID         string  `json:"player_id"`
	TurnID           string  `json:"turn_id"`
	Model            string  `json:"model"`
	Attempt          int     `json:"attempt"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Ledger is the budget state of one game, per game, player, turn and model.
// It is a projection: the engine rebuilds it from charge and budget events.
type Ledger struct {
	Game    Usage            `json:"game"`
	Players map[string]Usage `json:"players"`
	Turns   map[string]Usage `json:"turns"`
	Models  map[string]Usage `json:"models"`
	Warned  map[string]bool  `json:"warned"`
	Stopped map[string]bool  `json:"stopped"`
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		Players: make(map[string]Usage),
		Turns:   make(map[string]Usage),
		Models:  make(map[string]Usage),
		Warned:  make(map[string]bool),
		Stopped: make(map[string]bool),
	}
}

// Apply adds a charge to every bucket it belongs to.
func (l *Ledger) Apply(c Charge) {
	l.Game.add(c)

	p := l.Players[c.PlayerID]
	p.add(c)
	l.Players[c.PlayerID] = p

	key := ScopeKey(ScopeTurn, c.PlayerID, c.TurnID)
	t := l.Turns[key]
	t.add(c)
	l.Turns[key] = t

	m := l.Models[c.Model]
	m.add(c)
	l.Models[c.Model] = m
}

// MarkWarned records that the warning threshold of key was crossed.
func (l *Ledger) MarkWarned(key string) { l.Warned[key] = true }

// MarkStopped records that the stop threshold of key was reached.
func (l *Ledger) MarkStopped(key string) { l.Stopped[key] = true }

// Usage returns the bucket of a scope.
func (l *Ledger) Usage(scope Scope, playerID, turnID string) Usage {
	switch scope {
	case ScopeTurn:
		return l.Turns[ScopeKey(scope, playerID, turnID)]
	case ScopePlayerGame:
		return l.Players[playerID]
	default:
		return l.Game
	}
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	cp := NewLedger()
	cp.Game = l.Game
	for k, v := range l.Players {
		cp.Players[k] = v
	}
	for k, v := range l.Turns {
		cp.Turns[k] = v
	}
	for k, v := range l.Models {
		cp.Models[k] = v
	}
	for k, v := range l.Warned {
		cp.Warned[k] = v
	}
	for k, v := range l.Stopped {
		cp.Stopped[k] = v
	}
	return cp
}
