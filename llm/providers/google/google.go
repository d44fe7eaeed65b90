// Package google implements the llm.LLM interface on Google's Gemini
// models via the genai SDK.
package google

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/deepnoodle-ai/wireflow/llm"
	"google.golang.org/genai"
)

var (
	DefaultModel     = "gemini-2.5-flash"
	DefaultMaxTokens = 4096
)

var _ llm.LLM = &Provider{}

// Provider calls the Gemini API. The client is created lazily on first use.
type Provider struct {
	client    *genai.Client
	apiKey    string
	projectID string
	location  string
	model     string
	maxTokens int
	mutex     sync.Mutex
}

// New creates a Provider. The API key defaults to GEMINI_API_KEY, then
// GOOGLE_API_KEY.
func New(opts ...Option) *Provider {
	var apiKey string
	if value := os.Getenv("GEMINI_API_KEY"); value != "" {
		apiKey = value
	} else if value := os.Getenv("GOOGLE_API_KEY"); value != "" {
		apiKey = value
	}
	p := &Provider{
		apiKey:    apiKey,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string {
	return fmt.Sprintf("google-%s", p.model)
}

func (p *Provider) initClient(ctx context.Context) (*genai.Client, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:   p.apiKey,
		Project:  p.projectID,
		Location: p.location,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google genai client: %w", err)
	}
	p.client = client
	return p.client, nil
}

func (p *Provider) Generate(ctx context.Context, prompt string, opts ...llm.Option) (*llm.Response, error) {
	client, err := p.initClient(ctx)
	if err != nil {
		return nil, err
	}

	config := &llm.Config{}
	config.Apply(opts...)

	model := p.model
	if config.Model != "" {
		model = config.Model
	}

	genConfig := &genai.GenerateContentConfig{}
	maxTokens := p.maxTokens
	if config.MaxTokens > 0 {
		maxTokens = config.MaxTokens
	}
	if maxTokens > 0 {
		genConfig.MaxOutputTokens = int32(maxTokens)
	}
	if config.Temperature != nil {
		temp := float32(*config.Temperature)
		genConfig.Temperature = &temp
	}
	if config.SystemPrompt != "" {
		genConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(config.SystemPrompt)},
		}
	}
	if config.JSONOutput {
		genConfig.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{genai.NewPartFromText(prompt)},
	}}

	resp, err := client.Models.GenerateContent(ctx, model, contents, genConfig)
	if err != nil {
		return nil, fmt.Errorf("error generating content: %w", err)
	}
	return convertResponse(resp, model)
}

func convertResponse(resp *genai.GenerateContentResponse, model string) (*llm.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from model")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return nil, fmt.Errorf("no content in response")
	}
	var text string
	for _, part := range candidate.Content.Parts {
		text += part.Text
	}
	if text == "" {
		return nil, fmt.Errorf("no text in response")
	}
	out := &llm.Response{Text: text, Model: model}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}
