package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/budget"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/engine"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/infra/ai"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/logger"
)

// modeler is implemented by providers that know their default model.
type modeler interface {
	Model() string
}

// LLMAgent plays through a language model. It never invents a reply: every
// failure goes back to the budget orchestrator, which retries or falls back.
type LLMAgent struct {
	provider    ai.LLMProvider
	model       string
	logger      *logger.Logger
	maxTokens   int
	temperature float64
}

// NewLLMAgent creates an agent on provider. An empty model uses the provider default.
func NewLLMAgent(provider ai.LLMProvider, model string, log *logger.Logger) *LLMAgent {
	if model == "" {
		if m, ok := provider.(modeler); ok {
			model = m.Model()
		}
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &LLMAgent{provider: provider, model: model, logger: log, maxTokens: 600, temperature: 0.8}
}

// Model returns the model the agent is charged for.
func (a *LLMAgent) Model() string {
	return a.model
}

// Act runs one attempt. Transport failures and unparseable replies are
// retryable; tokens of a malformed reply are still reported for charging.
func (a *LLMAgent) Act(ctx context.Context, req engine.TurnRequest) (engine.Response, budget.CallUsage, error) {
	if !a.provider.IsAvailable() {
		return engine.Response{}, budget.CallUsage{}, fmt.Errorf("%s: %w", a.provider.Name(), ai.ErrNotConfigured)
	}
	resp, err := a.provider.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: ai.SystemPrompt},
			{Role: "user", Content: Perceive(req)},
		},
		MaxTokens:      a.maxTokens,
		Temperature:    a.temperature,
		Model:          a.model,
		ResponseFormat: "json",
	})
	var usage budget.CallUsage
	if resp != nil {
		usage = budget.CallUsage{Model: resp.Model, PromptTokens: resp.PromptTokens, CompletionTokens: resp.OutputTokens}
	}
	if err != nil {
		if errors.Is(err, ai.ErrTransient) || errors.Is(err, ai.ErrInvalidResponse) {
			err = fmt.Errorf("%w: %w", budget.ErrRetryable, err)
		}
		a.logger.Warnf("%s attempt %d: %v", req.PlayerID, req.Attempt, err)
		return engine.Response{}, usage, err
	}

	reply, err := ai.ParseReply(resp.Content)
	if err != nil {
		a.logger.Event("LLM_RAW", req.PlayerID, resp.Content)
		return engine.Response{}, usage, fmt.Errorf("%w: %w", budget.ErrRetryable, err)
	}
	return toResponse(reply), usage, nil
}

func toResponse(r ai.Reply) engine.Response {
	out := engine.Response{Reasoning: r.Think, Statement: r.Says}
	for _, act := range r.Actions {
		out.Actions = append(out.Actions, engine.ActionChoice{Kind: engine.ActionKind(act.Kind), TargetID: act.Target})
	}
	if r.Vote != "" {
		out.Vote = r.Vote
		if strings.EqualFold(r.Vote, engine.Abstain) {
			out.Vote = engine.Abstain
		}
	}
	return out
}

var _ engine.Agent = (*LLMAgent)(nil)
