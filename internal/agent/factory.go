package agent

import (
	"fmt"
	"strings"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/engine"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/infra/ai"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/config"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/logger"
)

// Factory seats agents for new games.
type Factory struct {
	provider ai.LLMProvider
	model    string
	logger   *logger.Logger
}

// NewFactory builds the provider named by cfg.Provider: "heuristic", "openai"
// or "anthropic".
func NewFactory(cfg config.Server, log *logger.Logger) (*Factory, error) {
	f := &Factory{model: cfg.Model, logger: log}
	switch strings.ToLower(cfg.Provider) {
	case "", HeuristicModel:
	case "openai":
		f.provider = ai.NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIBase, cfg.Model, cfg.CallTimeout)
	case "anthropic":
		f.provider = ai.NewAnthropicProvider(cfg.AnthropicKey, cfg.Model, cfg.CallTimeout)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if f.provider != nil && !f.provider.IsAvailable() {
		return nil, fmt.Errorf("%s: %w", f.provider.Name(), ai.ErrNotConfigured)
	}
	return f, nil
}

// Seat returns one agent per player id. Heuristic agents are seeded from the
// game seed and the seat so every player decides independently.
func (f *Factory) Seat(seed int64, playerIDs []string) map[string]engine.Agent {
	out := make(map[string]engine.Agent, len(playerIDs))
	for i, id := range playerIDs {
		if f.provider == nil {
			out[id] = NewHeuristic(seed*31 + int64(i))
			continue
		}
		out[id] = NewLLMAgent(f.provider, f.model, f.logger)
	}
	return out
}

// Model names what the factory's agents are charged as.
func (f *Factory) Model() string {
	if f.provider == nil {
		return HeuristicModel
	}
	return NewLLMAgent(f.provider, f.model, f.logger).Model()
}
