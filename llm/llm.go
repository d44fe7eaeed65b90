// Package llm defines the model interface used by the generation pipeline
// and the functional options shared by its provider implementations.
package llm

import "context"

// LLM is a text-generation model. Implementations live under providers.
// They are stateless and safe for concurrent use across sessions.
type LLM interface {
	// Name identifies the provider and model, e.g. "openai-gpt-4o".
	Name() string

	// Generate submits a prompt and returns the model's text response.
	Generate(ctx context.Context, prompt string, opts ...Option) (*Response, error)
}

// Option configures a single generation call.
type Option func(*Config)

// Config holds per-call generation parameters.
type Config struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  *float64
	JSONOutput   bool
}

// Apply applies the given options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) { c.SystemPrompt = prompt }
}

// WithMaxTokens sets the response token cap.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = &t }
}

// WithJSONOutput asks the model to return a single JSON document.
func WithJSONOutput() Option {
	return func(c *Config) { c.JSONOutput = true }
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the model's reply.
type Response struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}
