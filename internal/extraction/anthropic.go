package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/sashabaranov/go-openai/jsonschema"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// anthropicBackend talks to the Anthropic Messages API. The API has no
// response schema parameter, so the schema travels in the system prompt.
type anthropicBackend struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float32
}

func newAnthropicBackend(cred config.Credential, cfg Config) *anthropicBackend {
	opts := []anthropicopt.RequestOption{
		anthropicopt.WithAPIKey(cred.APIKey.Value()),
		anthropicopt.WithRequestTimeout(cfg.Timeout),
		// Retries belong to client.Generate.
		anthropicopt.WithMaxRetries(0),
	}
	if cred.BaseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(cred.BaseURL))
	}

	model := cred.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &anthropicBackend{
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (b *anthropicBackend) name() string {
	return "anthropic:" + b.model
}

func (b *anthropicBackend) complete(ctx context.Context, prompt string, schema *jsonschema.Definition) (string, error) {
	system := systemPrompt
	if schema != nil {
		raw, err := schema.MarshalJSON()
		if err != nil {
			return "", fmt.Errorf("encode schema: %w", err)
		}
		system += "\n\nRespond with a single JSON object matching this JSON Schema:\n" + string(raw)
	}

	msg, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(b.model),
		MaxTokens:   int64(b.maxTokens),
		Temperature: anthropic.Float(float64(b.temperature)),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(tb.Text)
		}
	}
	if out.Len() == 0 {
		return "", errors.New("anthropic: empty response")
	}
	return out.String(), nil
}

func (b *anthropicBackend) transient(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.StatusCode)
	}
	return false
}
