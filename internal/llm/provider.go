package llm

import (
	"context"
	"sync"
)

// CompletionRequest is one prompt sent to a language model.
type CompletionRequest struct {
	Prompt        string
	MaxTokens     int
	Temperature   float64
	SystemPrompt  string
	StopSequences []string
}

// Completion carries the generated text plus reproducible token/cost
// accounting. Cost is always computed from the local rate tables, never
// taken from the provider's billing response.
type Completion struct {
	Content      string
	Model        string
	Provider     string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	FinishReason string
}

// Provider sends completion requests to an LLM API. Implementations do not
// retry; callers own the retry policy.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, request CompletionRequest) (Completion, error)
	CalculateCost(inputTokens, outputTokens int) float64
	Stats() CostStats
	ResetStats()
}

// CostStats is a running accumulator per provider instance. It is reset only
// between independent generation runs, never mid-run.
type CostStats struct {
	Requests      int     `json:"requests"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	CostUSD       float64 `json:"cost_usd"`
	Errors        int     `json:"errors"`
	RateLimitsHit int     `json:"rate_limits_hit"`
}

// statsRecorder guards a CostStats accumulator for concurrent use inside one
// provider instance.
type statsRecorder struct {
	mu    sync.Mutex
	stats CostStats
}

func (r *statsRecorder) record(completion Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Requests++
	r.stats.InputTokens += completion.InputTokens
	r.stats.OutputTokens += completion.OutputTokens
	r.stats.CostUSD += completion.CostUSD
}

func (r *statsRecorder) recordError(rateLimited bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Errors++
	if rateLimited {
		r.stats.RateLimitsHit++
	}
}

func (r *statsRecorder) snapshot() CostStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *statsRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = CostStats{}
}

// EstimateTokens approximates token count at four characters per token.
// Exact counts would need the provider tokenizer; this is only used to
// reject oversize prompts before spending a network call.
func EstimateTokens(text string) int {
	return len(text) / 4
}
