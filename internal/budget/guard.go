package budget

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
)

// NoticeKind classifies what happened during an invocation.
type NoticeKind string

const (
	NoticeCharge   NoticeKind = "CHARGE"
	NoticeRetry    NoticeKind = "RETRY"
	NoticeWarning  NoticeKind = "WARNING"
	NoticeExceeded NoticeKind = "EXCEEDED"
)

// Notice is one budget-relevant fact produced by an invocation, in the order
// it happened. The engine turns notices into events.
type Notice struct {
	Kind     NoticeKind `json:"kind"`
	PlayerID string     `json:"player_id"`
	TurnID   string     `json:"turn_id"`
	Scope    Scope      `json:"scope,omitempty"`
	Key      string     `json:"key,omitempty"`
	Spent    float64    `json:"spent_usd,omitempty"`
	Ceiling  float64    `json:"ceiling_usd,omitempty"`
	Attempt  int        `json:"attempt,omitempty"`
	Error    string     `json:"error,omitempty"`
	Charge   *Charge    `json:"charge,omitempty"`
}

// Summary renders a notice for logs.
func (n Notice) Summary() string {
	switch n.Kind {
	case NoticeCharge:
		return fmt.Sprintf("%s charged $%.4f (%s tokens) on %s", n.PlayerID, n.Charge.CostUSD,
			humanize.Comma(int64(n.Charge.PromptTokens+n.Charge.CompletionTokens)), n.Charge.Model)
	case NoticeRetry:
		return fmt.Sprintf("%s attempt %d failed: %s", n.PlayerID, n.Attempt, n.Error)
	default:
		pct := 0.0
		if n.Ceiling > 0 {
			pct = 100 * n.Spent / n.Ceiling
		}
		return fmt.Sprintf("%s %s at $%.4f of $%.4f (%.0f%%)", n.Key, n.Kind, n.Spent, n.Ceiling, pct)
	}
}

// Request identifies one agent turn.
type Request struct {
	GameID   string
	PlayerID string
	TurnID   string
	Model    string
}

// CallUsage is what a provider attempt consumed.
type CallUsage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
}

const epsilon = 1e-9

// Guard enforces ceilings for one game. It is safe for concurrent invocations
// and keeps a live ledger; the engine resets it from the authoritative projection.
type Guard struct {
	mu     sync.Mutex
	cfg    Config
	prices *PriceTable
	ledger *Ledger

	// reserved is the projected game spend of forks not yet settled.
	reserved Usage
}

// NewGuard creates a guard with an empty ledger.
func NewGuard(cfg Config, prices *PriceTable) *Guard {
	if prices == nil {
		prices = DefaultPriceTable()
	}
	return &Guard{cfg: cfg, prices: prices, ledger: NewLedger()}
}

// Config returns the guard configuration.
func (g *Guard) Config() Config { return g.cfg }

// Prices returns the price table.
func (g *Guard) Prices() *PriceTable { return g.prices }

// Reset replaces the live ledger with a copy of l.
func (g *Guard) Reset(l *Ledger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l == nil {
		g.ledger = NewLedger()
		return
	}
	g.ledger = l.Clone()
}

// Ledger returns a copy of the live ledger.
func (g *Guard) Ledger() *Ledger {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ledger.Clone()
}

func (g *Guard) ceiling(scope Scope) float64 {
	switch scope {
	case ScopeTurn:
		return g.cfg.PerPlayerPerTurn
	case ScopePlayerGame:
		return g.cfg.PerPlayerPerGame
	default:
		return g.cfg.PerGameTotal
	}
}

var scopes = []Scope{ScopeGame, ScopePlayerGame, ScopeTurn}

// Admit decides whether a paid call may start. A call is blocked when a scope
// already sits at its stop threshold, or when its spend plus the mean cost of
// its previous calls would pass it.
func (g *Guard) Admit(req Request) ([]Notice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, scope := range scopes {
		limit := g.ceiling(scope)
		if limit <= 0 {
			continue
		}
		stop := limit * g.cfg.StopThreshold
		u := g.ledger.Usage(scope, req.PlayerID, req.TurnID)
		projected := u.CostUSD
		if u.Calls > 0 {
			projected += u.CostUSD / float64(u.Calls)
		}
		if u.CostUSD+epsilon < stop && projected <= stop+epsilon {
			continue
		}

		key := ScopeKey(scope, req.PlayerID, req.TurnID)
		var notices []Notice
		if !g.ledger.Stopped[key] {
			g.ledger.MarkStopped(key)
			notices = append(notices, Notice{
				Kind: NoticeExceeded, PlayerID: req.PlayerID, TurnID: req.TurnID,
				Scope: scope, Key: key, Spent: u.CostUSD, Ceiling: limit,
			})
		}
		return notices, fmt.Errorf("%w: %s at $%.4f of $%.4f", ErrBudgetExceeded, key, u.CostUSD, limit)
	}
	return nil, nil
}

// Charge records one attempt and reports threshold crossings it caused.
func (g *Guard) Charge(req Request, usage CallUsage, attempt int) []Notice {
	model := usage.Model
	if model == "" {
		model = req.Model
	}
	c := Charge{
		PlayerID:         req.PlayerID,
		TurnID:           req.TurnID,
		Model:            model,
		Attempt:          attempt,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CostUSD:          g.prices.Cost(model, usage.PromptTokens, usage.CompletionTokens),
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chargeLocked(req, c)
}

func (g *Guard) chargeLocked(req Request, c Charge) []Notice {
	g.ledger.Apply(c)
	notices := []Notice{{Kind: NoticeCharge, PlayerID: req.PlayerID, TurnID: req.TurnID, Attempt: c.Attempt, Charge: &c}}

	for _, scope := range scopes {
		limit := g.ceiling(scope)
		if limit <= 0 {
			continue
		}
		key := ScopeKey(scope, req.PlayerID, req.TurnID)
		spent := g.ledger.Usage(scope, req.PlayerID, req.TurnID).CostUSD
		if spent+epsilon >= limit*g.cfg.WarningThreshold && !g.ledger.Warned[key] {
			g.ledger.MarkWarned(key)
			notices = append(notices, Notice{
				Kind: NoticeWarning, PlayerID: req.PlayerID, TurnID: req.TurnID,
				Scope: scope, Key: key, Spent: spent, Ceiling: limit,
			})
		}
		if spent+epsilon >= limit*g.cfg.StopThreshold && !g.ledger.Stopped[key] {
			g.ledger.MarkStopped(key)
			notices = append(notices, Notice{
				Kind: NoticeExceeded, PlayerID: req.PlayerID, TurnID: req.TurnID,
				Scope: scope, Key: key, Spent: spent, Ceiling: limit,
			})
		}
	}
	return notices
}

// Fork returns a guard for one call of a concurrent batch. Forks are taken in
// seat order: each sees the live ledger plus the mean call cost of every
// earlier fork of the batch charged to the game, so admission does not depend
// on which sibling finishes first. Fork notices go back through Settle.
func (g *Guard) Fork() *Guard {
	g.mu.Lock()
	defer g.mu.Unlock()

	l := g.ledger.Clone()
	l.Game.Calls += g.reserved.Calls
	l.Game.CostUSD += g.reserved.CostUSD
	if g.ledger.Game.Calls > 0 {
		g.reserved.Calls++
		g.reserved.CostUSD += g.ledger.Game.CostUSD / float64(g.ledger.Game.Calls)
	}
	return &Guard{cfg: g.cfg, prices: g.prices, ledger: l}
}

// Release drops the reservations of a batch once every fork is settled.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reserved = Usage{}
}

// Settle applies the notices of a forked invocation to the live ledger and
// returns the notices the live ledger produces. Charges are replayed and
// their threshold crossings recomputed; retries pass through; a stop the fork
// hit is reported once unless the live ledger already reported it.
func (g *Guard) Settle(req Request, notices []Notice) []Notice {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []Notice
	for _, n := range notices {
		switch n.Kind {
		case NoticeCharge:
			out = append(out, g.chargeLocked(req, *n.Charge)...)
		case NoticeRetry:
			out = append(out, n)
		case NoticeExceeded:
			if g.ledger.Stopped[n.Key] {
				continue
			}
			g.ledger.MarkStopped(n.Key)
			n.Spent = g.ledger.Usage(n.Scope, n.PlayerID, n.TurnID).CostUSD
			out = append(out, n)
		}
	}
	return out
}
