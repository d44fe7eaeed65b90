// Package openai implements the llm.LLM interface on the OpenAI
// Responses API.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/wireflow/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

var (
	DefaultModel     = "gpt-4o"
	DefaultMaxTokens = 4096
)

var _ llm.LLM = &Provider{}

// Provider calls the OpenAI Responses API via the official SDK.
type Provider struct {
	client    openai.Client
	model     string
	maxTokens int
	options   []option.RequestOption
}

// New creates a Provider. The API key defaults to OPENAI_API_KEY.
func New(opts ...Option) *Provider {
	p := &Provider{
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.client = openai.NewClient(p.options...)
	return p
}

func (p *Provider) Name() string {
	return fmt.Sprintf("openai-%s", p.model)
}

func (p *Provider) Generate(ctx context.Context, prompt string, opts ...llm.Option) (*llm.Response, error) {
	config := &llm.Config{}
	config.Apply(opts...)

	model := p.model
	if config.Model != "" {
		model = config.Model
	}

	params := responses.ResponseNewParams{
		Model: model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{{
				OfMessage: &responses.EasyInputMessageParam{
					Role: responses.EasyInputMessageRole("user"),
					Content: responses.EasyInputMessageContentUnionParam{
						OfInputItemContentList: []responses.ResponseInputContentUnionParam{{
							OfInputText: &responses.ResponseInputTextParam{Text: prompt},
						}},
					},
				},
			}},
		},
	}

	instructions := config.SystemPrompt
	if config.JSONOutput {
		// The Responses API has no plain json_object switch; the
		// instruction carries the constraint and the caller re-validates.
		if instructions != "" {
			instructions += "\n\n"
		}
		instructions += "Respond with a single JSON document and nothing else."
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}

	maxTokens := p.maxTokens
	if config.MaxTokens > 0 {
		maxTokens = config.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(maxTokens))
	}
	if config.Temperature != nil {
		params.Temperature = openai.Float(*config.Temperature)
	}

	response, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	return convertResponse(response)
}

func convertResponse(response *responses.Response) (*llm.Response, error) {
	var text strings.Builder
	for _, item := range response.Output {
		if item.Type != "message" {
			continue
		}
		message := item.AsMessage()
		for _, content := range message.Content {
			if content.Type == "output_text" {
				text.WriteString(content.AsOutputText().Text)
			}
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("empty response from model")
	}
	return &llm.Response{
		Text:  text.String(),
		Model: string(response.Model),
		Usage: llm.Usage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}
