// Package ollama implements the llm.LLM interface against a local Ollama
// server's OpenAI-compatible chat completions endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/deepnoodle-ai/wireflow/llm"
	"github.com/deepnoodle-ai/wireflow/llm/providers"
)

var (
	DefaultModel     = "llama3.1:8b"
	DefaultEndpoint  = "http://localhost:11434/v1/chat/completions"
	DefaultMaxTokens = 4096
)

var _ llm.LLM = &Provider{}

// Provider talks to an Ollama server over plain HTTP.
type Provider struct {
	apiKey    string
	endpoint  string
	model     string
	maxTokens int
	client    *http.Client
}

// New creates a Provider pointed at a local Ollama instance.
func New(opts ...Option) *Provider {
	p := &Provider{
		apiKey:   getAPIKey(),
		endpoint: DefaultEndpoint,
		client:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.model == "" {
		p.model = DefaultModel
	}
	if p.maxTokens == 0 {
		p.maxTokens = DefaultMaxTokens
	}
	return p
}

func getAPIKey() string {
	if key := os.Getenv("OLLAMA_API_KEY"); key != "" {
		return key
	}
	// Local Ollama needs no key, but the OpenAI-compatible API expects one.
	return "ollama"
}

func (p *Provider) Name() string {
	return fmt.Sprintf("ollama-%s", p.model)
}

// request mirrors the OpenAI chat completions wire format.
type request struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type response struct {
	Model   string `json:"model"`
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *Provider) Generate(ctx context.Context, prompt string, opts ...llm.Option) (*llm.Response, error) {
	config := &llm.Config{}
	config.Apply(opts...)

	model := p.model
	if config.Model != "" {
		model = config.Model
	}
	maxTokens := p.maxTokens
	if config.MaxTokens > 0 {
		maxTokens = config.MaxTokens
	}

	var messages []message
	if config.SystemPrompt != "" {
		messages = append(messages, message{Role: "system", Content: config.SystemPrompt})
	}
	messages = append(messages, message{Role: "user", Content: prompt})

	req := request{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: config.Temperature,
	}
	if config.JSONOutput {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, providers.NewError(httpResp.StatusCode, string(respBody))
	}

	var result response
	if err := json.NewDecoder(httpResp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("empty response from model")
	}
	return &llm.Response{
		Text:  result.Choices[0].Message.Content,
		Model: result.Model,
		Usage: llm.Usage{
			InputTokens:  result.Usage.PromptTokens,
			OutputTokens: result.Usage.CompletionTokens,
		},
	}, nil
}
