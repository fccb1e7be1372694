package llm

import "fmt"

// ModelInfo describes one model's context budget and per-token pricing.
// Rates are maintained locally so cost accounting stays reproducible
// offline; if provider pricing changes the tables must be updated by hand.
type ModelInfo struct {
	ID                   string
	Name                 string
	Provider             string
	ContextLength        int
	InputCostPerMillion  float64
	OutputCostPerMillion float64
}

// contextOverheadFraction of the context window is reserved for message
// framing and response headroom when validating prompt size.
const contextOverheadFraction = 0.20

// MaxPromptTokens is the largest estimated prompt the model accepts after
// reserving overhead and the requested output budget.
func (m ModelInfo) MaxPromptTokens(maxOutputTokens int) int {
	budget := int(float64(m.ContextLength)*(1-contextOverheadFraction)) - maxOutputTokens
	if budget < 0 {
		return 0
	}
	return budget
}

// Cost computes the USD cost of a request from the local rate table. Pure
// function of its inputs.
func (m ModelInfo) Cost(inputTokens, outputTokens int) float64 {
	inputCost := float64(inputTokens) * m.InputCostPerMillion / 1_000_000
	outputCost := float64(outputTokens) * m.OutputCostPerMillion / 1_000_000
	return inputCost + outputCost
}

var anthropicModels = map[string]ModelInfo{
	"claude-3-5-haiku-20241022": {
		ID:                   "claude-3-5-haiku-20241022",
		Name:                 "Claude 3.5 Haiku",
		Provider:             "anthropic",
		ContextLength:        200_000,
		InputCostPerMillion:  0.25,
		OutputCostPerMillion: 1.25,
	},
	"claude-3-5-sonnet-20241022": {
		ID:                   "claude-3-5-sonnet-20241022",
		Name:                 "Claude 3.5 Sonnet",
		Provider:             "anthropic",
		ContextLength:        200_000,
		InputCostPerMillion:  3.00,
		OutputCostPerMillion: 15.00,
	},
	"claude-sonnet-4-20250514": {
		ID:                   "claude-sonnet-4-20250514",
		Name:                 "Claude Sonnet 4",
		Provider:             "anthropic",
		ContextLength:        200_000,
		InputCostPerMillion:  3.00,
		OutputCostPerMillion: 15.00,
	},
	"claude-opus-4-20250514": {
		ID:                   "claude-opus-4-20250514",
		Name:                 "Claude Opus 4",
		Provider:             "anthropic",
		ContextLength:        200_000,
		InputCostPerMillion:  15.00,
		OutputCostPerMillion: 75.00,
	},
}

var openRouterModels = map[string]ModelInfo{
	"deepseek/deepseek-chat": {
		ID:                   "deepseek/deepseek-chat",
		Name:                 "DeepSeek V3",
		Provider:             "deepseek",
		ContextLength:        64_000,
		InputCostPerMillion:  0.27,
		OutputCostPerMillion: 1.10,
	},
	"deepseek/deepseek-r1": {
		ID:                   "deepseek/deepseek-r1",
		Name:                 "DeepSeek R1",
		Provider:             "deepseek",
		ContextLength:        64_000,
		InputCostPerMillion:  0.55,
		OutputCostPerMillion: 2.19,
	},
	"anthropic/claude-3.5-haiku": {
		ID:                   "anthropic/claude-3.5-haiku",
		Name:                 "Claude 3.5 Haiku",
		Provider:             "anthropic",
		ContextLength:        200_000,
		InputCostPerMillion:  0.80,
		OutputCostPerMillion: 4.00,
	},
	"anthropic/claude-sonnet-4": {
		ID:                   "anthropic/claude-sonnet-4",
		Name:                 "Claude Sonnet 4",
		Provider:             "anthropic",
		ContextLength:        200_000,
		InputCostPerMillion:  3.00,
		OutputCostPerMillion: 15.00,
	},
	"anthropic/claude-opus-4": {
		ID:                   "anthropic/claude-opus-4",
		Name:                 "Claude Opus 4",
		Provider:             "anthropic",
		ContextLength:        200_000,
		InputCostPerMillion:  15.00,
		OutputCostPerMillion: 75.00,
	},
	"openai/gpt-4o": {
		ID:                   "openai/gpt-4o",
		Name:                 "GPT-4o",
		Provider:             "openai",
		ContextLength:        128_000,
		InputCostPerMillion:  2.50,
		OutputCostPerMillion: 10.00,
	},
}

// validateRequest rejects bad prompts locally so no network call is wasted.
func validateRequest(request CompletionRequest, model ModelInfo) error {
	if request.Prompt == "" {
		return &ValidationError{Message: "prompt is empty"}
	}
	maxOutput := request.MaxTokens
	if maxOutput <= 0 {
		maxOutput = defaultMaxTokens
	}
	estimated := EstimateTokens(request.Prompt) + EstimateTokens(request.SystemPrompt)
	if budget := model.MaxPromptTokens(maxOutput); estimated > budget {
		return &ValidationError{
			Message: fmt.Sprintf(
				"prompt too long: ~%d tokens exceeds budget of %d for model %s",
				estimated, budget, model.ID,
			),
		}
	}
	return nil
}
