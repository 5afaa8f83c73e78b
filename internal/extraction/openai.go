package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

const (
	defaultOpenAIModel     = openai.GPT4oMini
	defaultOpenRouterModel = "openai/gpt-4o-mini"
	openRouterBaseURL      = "https://openrouter.ai/api/v1"
)

// openAIBackend talks to the OpenAI chat completions API, or to OpenRouter
// through its OpenAI-compatible endpoint.
type openAIBackend struct {
	client      *openai.Client
	provider    string
	model       string
	maxTokens   int
	temperature float32

	// OpenRouter routes to models without json_schema support, so it only
	// asks for a JSON object.
	jsonObjectOnly bool
}

func newOpenAIBackend(cred config.Credential, cfg Config, openRouter bool) *openAIBackend {
	clientCfg := openai.DefaultConfig(cred.APIKey.Value())
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	b := &openAIBackend{
		provider:       "openai",
		model:          cred.Model,
		maxTokens:      cfg.MaxTokens,
		temperature:    cfg.Temperature,
		jsonObjectOnly: openRouter,
	}
	if openRouter {
		b.provider = "openrouter"
		clientCfg.BaseURL = openRouterBaseURL
		if b.model == "" {
			b.model = defaultOpenRouterModel
		}
	} else if b.model == "" {
		b.model = defaultOpenAIModel
	}
	if cred.BaseURL != "" {
		clientCfg.BaseURL = cred.BaseURL
	}

	b.client = openai.NewClientWithConfig(clientCfg)
	return b
}

func (b *openAIBackend) name() string {
	return b.provider + ":" + b.model
}

func (b *openAIBackend) complete(ctx context.Context, prompt string, schema *jsonschema.Definition) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       b.model,
		MaxTokens:   b.maxTokens,
		Temperature: b.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if b.jsonObjectOnly || schema == nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	} else {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName,
				Schema: schema,
			},
		}
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", b.provider, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: empty response", b.provider)
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *openAIBackend) transient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return false
}
