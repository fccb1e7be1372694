package llm

import (
	"fmt"
	"time"
)

// ValidationError marks bad input rejected before any network call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid completion request: " + e.Message
}

// AuthenticationError marks a rejected API key (HTTP 401/403).
type AuthenticationError struct {
	Provider string
	Message  string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s authentication failed: %s", e.Provider, e.Message)
}

// RateLimitError marks a provider 429. RetryAfter is zero when the provider
// did not send a Retry-After header.
type RateLimitError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded: %s", e.Provider, e.Message)
}

// ModelNotFoundError marks a request for a model the provider does not serve.
type ModelNotFoundError struct {
	Provider string
	Model    string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("%s model not found: %s", e.Provider, e.Model)
}

// ProviderError covers remaining 4xx/5xx failures and transport errors.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
