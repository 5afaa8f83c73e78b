package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultGeminiModel = "gemini-1.5-flash"

// geminiBackend talks to Google Gemini with a native response schema.
type geminiBackend struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
}

func newGeminiBackend(cred config.Credential, cfg Config) (*geminiBackend, error) {
	opts := []option.ClientOption{option.WithAPIKey(cred.APIKey.Value())}
	if cred.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cred.BaseURL))
	}

	client, err := genai.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}

	model := cred.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &geminiBackend{
		client:      client,
		model:       model,
		maxTokens:   int32(cfg.MaxTokens),
		temperature: cfg.Temperature,
	}, nil
}

func (b *geminiBackend) name() string {
	return "google:" + b.model
}

func (b *geminiBackend) complete(ctx context.Context, prompt string, schema *jsonschema.Definition) (string, error) {
	model := b.client.GenerativeModel(b.model)
	model.SetTemperature(b.temperature)
	model.SetMaxOutputTokens(b.maxTokens)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	model.ResponseMIMEType = "application/json"
	if schema != nil {
		model.ResponseSchema = toGeminiSchema(*schema)
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini: empty response")
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out.WriteString(string(text))
		}
	}
	return out.String(), nil
}

func (b *geminiBackend) transient(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return retryableStatus(gErr.Code)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted, codes.Unavailable, codes.Internal:
			return true
		}
	}
	return false
}

// Close releases the gRPC connection.
func (b *geminiBackend) Close() error {
	return b.client.Close()
}

// toGeminiSchema converts a JSON Schema definition to the Gemini schema
// subset. Gemini has no additionalProperties, so it is dropped.
func toGeminiSchema(d jsonschema.Definition) *genai.Schema {
	s := &genai.Schema{
		Description: d.Description,
		Enum:        d.Enum,
		Required:    d.Required,
	}
	switch d.Type {
	case jsonschema.Object:
		s.Type = genai.TypeObject
	case jsonschema.Array:
		s.Type = genai.TypeArray
	case jsonschema.Number:
		s.Type = genai.TypeNumber
	case jsonschema.Integer:
		s.Type = genai.TypeInteger
	case jsonschema.Boolean:
		s.Type = genai.TypeBoolean
	default:
		s.Type = genai.TypeString
	}
	if len(d.Properties) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(d.Properties))
		for name, prop := range d.Properties {
			s.Properties[name] = toGeminiSchema(prop)
		}
	}
	if d.Items != nil {
		s.Items = toGeminiSchema(*d.Items)
	}
	return s
}
