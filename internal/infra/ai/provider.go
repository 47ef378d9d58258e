// Package ai provides the LLM integration layer. Providers are interchangeable
// behind LLMProvider; the engine never sees which backend produced a reply.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// CompletionRequest is the input for LLM inference.
type CompletionRequest struct {
	Messages       []Message `json:"messages"`
	MaxTokens      int       `json:"max_tokens"`
	Temperature    float64   `json:"temperature"`
	Model          string    `json:"model,omitempty"`           // Override default model
	ResponseFormat string    `json:"response_format,omitempty"` // "json" for structured output
}

// CompletionResponse is the output from LLM inference.
type CompletionResponse struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	PromptTokens int           `json:"prompt_tokens"`
	OutputTokens int           `json:"output_tokens"`
	TotalTokens  int           `json:"total_tokens"`
	Latency      time.Duration `json:"latency"`
	FinishReason string        `json:"finish_reason"`
}

// UsageStats tracks API usage of one provider instance.
type UsageStats struct {
	TotalRequests int       `json:"total_requests"`
	FailedCalls   int       `json:"failed_calls"`
	TotalTokens   int       `json:"total_tokens"`
	LastReset     time.Time `json:"last_reset"`
}

// LLMProvider is the agnostic interface for LLM backends.
type LLMProvider interface {
	// Complete sends a prompt and returns the LLM response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// GetUsageStats returns current API usage.
	GetUsageStats() UsageStats

	// ResetUsage resets the usage counters.
	ResetUsage()

	// Name returns the provider name (for logging).
	Name() string

	// IsAvailable checks if the provider is configured.
	IsAvailable() bool
}

var (
	// ErrTransient marks network failures, rate limits and server errors.
	ErrTransient = errors.New("transient provider failure")
	// ErrInvalidResponse marks a reply that does not fit the expected schema.
	ErrInvalidResponse = errors.New("invalid agent response")
	// ErrNotConfigured is returned when a provider has no credentials.
	ErrNotConfigured = errors.New("provider not configured")
)

// classifyStatus maps a non-200 HTTP status to an error. Rate limits and
// server-side failures are transient; the rest are permanent.
func classifyStatus(provider string, status int, body []byte) error {
	if len(body) > 512 {
		body = body[:512]
	}
	err := fmt.Errorf("%s error (status %d): %s", provider, status, string(body))
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

// usageTracker is the concurrency-safe usage counter shared by the adapters.
type usageTracker struct {
	mu    sync.Mutex
	stats UsageStats
}

func (u *usageTracker) record(tokens int, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stats.TotalRequests++
	u.stats.TotalTokens += tokens
	if err != nil {
		u.stats.FailedCalls++
	}
}

func (u *usageTracker) get() UsageStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stats
}

func (u *usageTracker) reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stats = UsageStats{LastReset: time.Now()}
}
