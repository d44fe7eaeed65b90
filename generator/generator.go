// Package generator wraps a model behind the structural contract of the
// edit pipeline: it enforces per-call timeouts, retries transport failures
// with backoff, and parses and validates the returned document before
// anything downstream sees it.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deepnoodle-ai/wireflow"
	"github.com/deepnoodle-ai/wireflow/llm"
	"github.com/deepnoodle-ai/wireflow/retry"
	"github.com/deepnoodle-ai/wireflow/slogger"
	"github.com/deepnoodle-ai/wireflow/wireframe"
	"github.com/tidwall/gjson"
)

const (
	DefaultTimeout    = 3 * time.Second
	DefaultMaxRetries = 2
	DefaultBaseWait   = 500 * time.Millisecond
)

// SystemPrompt frames every generation call. The JSON-only demand is
// re-validated on the way back; the model is not trusted.
const SystemPrompt = "You are a UI layout expert. You design wireframes as JSON documents. " +
	"Always return exactly one JSON object describing the complete wireframe, " +
	"with no commentary, no markdown, and no diff syntax. Every node has a " +
	"\"type\", a \"componentName\", an optional \"props\" object, and an " +
	"optional \"children\" array."

// Generator is the model adapter. It is stateless apart from configuration
// and safe for concurrent use across sessions.
type Generator struct {
	model      llm.LLM
	validator  *wireframe.Validator
	timeout    time.Duration
	maxRetries int
	baseWait   time.Duration
	logger     slogger.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithTimeout sets the per-attempt model call timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.timeout = d }
}

// WithMaxRetries sets how many extra attempts follow a transport failure.
func WithMaxRetries(n int) Option {
	return func(g *Generator) { g.maxRetries = n }
}

// WithBaseWait sets the retry backoff base.
func WithBaseWait(d time.Duration) Option {
	return func(g *Generator) { g.baseWait = d }
}

// WithValidator overrides the default structural validator.
func WithValidator(v *wireframe.Validator) Option {
	return func(g *Generator) { g.validator = v }
}

// WithLogger sets the logger.
func WithLogger(logger slogger.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// New creates a Generator around the given model.
func New(model llm.LLM, opts ...Option) (*Generator, error) {
	g := &Generator{
		model:      model,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		baseWait:   DefaultBaseWait,
		logger:     slogger.DefaultLogger,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.validator == nil {
		v, err := wireframe.NewValidator(nil)
		if err != nil {
			return nil, err
		}
		g.validator = v
	}
	return g, nil
}

// Generate submits the prompt and returns the validated wireframe. Timeouts
// and model failures are retried with exponential backoff; a structurally
// invalid document is not.
func (g *Generator) Generate(ctx context.Context, prompt string) (*wireframe.Node, error) {
	var node *wireframe.Node
	err := retry.Do(ctx, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		start := time.Now()
		resp, err := g.model.Generate(attemptCtx, prompt,
			llm.WithSystemPrompt(SystemPrompt),
			llm.WithJSONOutput(),
		)
		if err != nil {
			if ctx.Err() != nil {
				// The caller's budget or cancellation, not ours to retry.
				return retry.MarkPermanent(ctx.Err())
			}
			if errors.Is(err, context.DeadlineExceeded) {
				g.logger.Warn("model call timed out", "model", g.model.Name(), "timeout", g.timeout)
				return fmt.Errorf("model timeout: %w", err)
			}
			return fmt.Errorf("%w: %s", wireflow.ErrModelFailure, err)
		}
		g.logger.Debug("model call complete",
			"model", g.model.Name(),
			"duration", time.Since(start),
			"output_tokens", resp.Usage.OutputTokens)

		parsed, parseErr := parseWireframe(resp.Text)
		if parseErr != nil {
			return retry.MarkPermanent(fmt.Errorf("%w: %s", wireflow.ErrInvalidOutput, parseErr))
		}
		if err := g.validator.Validate(parsed); err != nil {
			return retry.MarkPermanent(fmt.Errorf("%w: %s", wireflow.ErrInvalidOutput, err))
		}
		node = parsed
		return nil
	}, retry.WithMaxRetries(g.maxRetries), retry.WithBaseWait(g.baseWait))

	if err != nil {
		switch {
		case errors.Is(err, wireflow.ErrInvalidOutput),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			return nil, err
		case errors.Is(err, wireflow.ErrModelFailure):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %s", wireflow.ErrModelFailure, err)
		}
	}
	return node, nil
}

// parseWireframe locates the JSON document inside the raw model text,
// tolerating markdown fences and stray prose, then parses and sanitizes it.
func parseWireframe(text string) (*wireframe.Node, error) {
	doc, ok := extractJSON(text)
	if !ok {
		return nil, fmt.Errorf("no JSON document in model output")
	}
	node, err := wireframe.Parse([]byte(doc))
	if err != nil {
		return nil, err
	}
	wireframe.Sanitize(node)
	return node, nil
}

func extractJSON(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if gjson.Valid(trimmed) && strings.HasPrefix(trimmed, "{") {
		return trimmed, true
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := trimmed[start : end+1]
	if !gjson.Valid(candidate) {
		return "", false
	}
	return candidate, true
}
