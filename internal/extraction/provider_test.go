package extraction

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retries int) Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = retries
	cfg.BaseBackoff = time.Millisecond
	cfg.RateLimit = 1000
	cfg.RateBurst = 100
	cfg.Timeout = 5 * time.Second
	return cfg
}

func chatCompletion(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return string(body)
}

// openAIServer replies with statuses in order, then succeeds.
func openAIServer(t *testing.T, statuses []int, calls *int32, gotBody *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(calls, 1)) - 1
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		if gotBody != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, gotBody)
		}

		w.Header().Set("Content-Type", "application/json")
		if n < len(statuses) {
			w.WriteHeader(statuses[n])
			_, _ = w.Write([]byte(`{"error":{"message":"try later","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(chatCompletion(`{"reasoning":"ok","rerankedRelevance":7}`)))
	}))
}

func TestOpenAIProvider_Success(t *testing.T) {
	var calls int32
	var body map[string]any
	srv := openAIServer(t, nil, &calls, &body)
	defer srv.Close()

	p, err := NewProvider(config.Credential{Provider: "openai", APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, fastConfig(2))
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4o-mini", p.Name())

	out, err := p.Generate(context.Background(), "prompt", ResultSchema())
	require.NoError(t, err)
	assert.JSONEq(t, `{"reasoning":"ok","rerankedRelevance":7}`, out)
	assert.Equal(t, int32(1), calls)

	format, ok := body["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
}

func TestOpenRouterProvider_JSONObjectMode(t *testing.T) {
	var calls int32
	var body map[string]any
	srv := openAIServer(t, nil, &calls, &body)
	defer srv.Close()

	p, err := NewProvider(config.Credential{Provider: "openrouter", APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, fastConfig(0))
	require.NoError(t, err)
	assert.Equal(t, "openrouter:openai/gpt-4o-mini", p.Name())

	_, err = p.Generate(context.Background(), "prompt", ResultSchema())
	require.NoError(t, err)

	format, ok := body["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
}

func TestOpenAIProvider_Retries(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		retries   int
		wantErr   bool
		wantCalls int32
	}{
		{"429 then success", []int{429}, 2, false, 2},
		{"two 5xx then success", []int{500, 503}, 2, false, 3},
		{"budget exhausted", []int{503, 503, 503}, 2, true, 3},
		{"zero budget", []int{429}, 0, true, 1},
		{"client error not retried", []int{400}, 2, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := openAIServer(t, tt.statuses, &calls, nil)
			defer srv.Close()

			p, err := NewProvider(config.Credential{Provider: "openai", APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, fastConfig(tt.retries))
			require.NoError(t, err)

			_, err = p.Generate(context.Background(), "prompt", nil)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestAnthropicProvider(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "{\"reasoning\":\"ok\"}"}],
			"stop_reason": "end_turn", "stop_sequence": null,
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	p, err := NewProvider(config.Credential{Provider: "anthropic", APIKey: "sk-ant-test", BaseURL: srv.URL}, fastConfig(1))
	require.NoError(t, err)
	assert.Equal(t, "anthropic:claude-3-5-haiku-latest", p.Name())

	out, err := p.Generate(context.Background(), "prompt", ResultSchema())
	require.NoError(t, err)
	assert.Equal(t, `{"reasoning":"ok"}`, out)
	assert.Equal(t, int32(2), calls)
}

func TestNewProvider_Rejections(t *testing.T) {
	_, err := NewProvider(config.Credential{Provider: "bard", APIKey: "x"}, DefaultConfig())
	assert.ErrorContains(t, err, "unknown provider")

	_, err = NewProvider(config.Credential{Provider: "openai"}, DefaultConfig())
	assert.ErrorContains(t, err, "api key required")
}

func TestToGeminiSchema(t *testing.T) {
	s := toGeminiSchema(*ResultSchema())

	assert.Equal(t, genai.TypeObject, s.Type)
	require.Contains(t, s.Properties, "clientUpdates")

	clients := s.Properties["clientUpdates"]
	assert.Equal(t, genai.TypeArray, clients.Type)
	require.NotNil(t, clients.Items)
	assert.Equal(t, genai.TypeObject, clients.Items.Type)
	assert.Equal(t, []string{"name"}, clients.Items.Required)
	assert.Equal(t, genai.TypeString, clients.Items.Properties["painPoints"].Items.Type)

	assert.Equal(t, genai.TypeNumber, s.Properties["rerankedRelevance"].Type)
	assert.Equal(t, genai.TypeString, toGeminiSchema(jsonschema.Definition{Type: jsonschema.String}).Type)
}
