package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/telemetry"
	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	response string
	err      error
	prompts  []string
	schemas  []*jsonschema.Definition
}

func (f *fakeProvider) Name() string { return "fake:model" }

func (f *fakeProvider) Generate(_ context.Context, prompt string, schema *jsonschema.Definition) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.schemas = append(f.schemas, schema)
	return f.response, f.err
}

func testMemory() memory.Memory {
	return memory.Memory{
		ID:                  "m1",
		Summary:             "Agreed Q3 pricing with Dana",
		Tags:                []string{"pricing", "q3"},
		ConversationSnippet: "dana: here is my key sk-abcdefghijklmnopqrstuvwx1234",
		Relevance:           6,
	}
}

func TestEngine_Extract(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	p := &fakeProvider{response: `{"clientUpdates":[{"name":"Dana"}],"rerankedRelevance":9,"reasoning":"decision"}`}
	e, err := NewEngine(p, DefaultConfig(), nil, WithTracer(tel.Tracer("test")))
	require.NoError(t, err)

	res, err := e.Extract(context.Background(), testMemory(), Context{
		Clients: []intel.ClientProfile{{ID: "c1", Name: "Dana"}},
	})
	require.NoError(t, err)

	assert.Len(t, res.ClientUpdates, 1)
	assert.InDelta(t, 9.0, res.RerankedRelevance, 1e-9)

	require.Len(t, p.prompts, 1)
	assert.Contains(t, p.prompts[0], "Agreed Q3 pricing with Dana")
	assert.Contains(t, p.prompts[0], `"id": "c1"`)
	assert.Contains(t, p.prompts[0], "[REDACTED:openai-key]")
	assert.NotContains(t, p.prompts[0], "sk-abcdefghij")
	assert.NotNil(t, p.schemas[0])

	tel.AssertSpanExists(t, "extraction.Extract")
	tel.AssertSpanAttribute(t, "extraction.Extract", "provider", "fake:model")
}

func TestEngine_ScrubDisabled(t *testing.T) {
	p := &fakeProvider{response: `{}`}
	cfg := DefaultConfig()
	cfg.ScrubSecrets = false
	e, err := NewEngine(p, cfg, nil)
	require.NoError(t, err)

	_, err = e.Extract(context.Background(), testMemory(), Context{})
	require.NoError(t, err)
	assert.Contains(t, p.prompts[0], "sk-abcdefghijklmnopqrstuvwx1234")
}

func TestEngine_Errors(t *testing.T) {
	tests := []struct {
		name       string
		provider   *fakeProvider
		wantReason string
	}{
		{"provider failure", &fakeProvider{err: errors.New("max retries exceeded: 503")}, ReasonProvider},
		{"prose response", &fakeProvider{response: "I could not find anything."}, ReasonParse},
		{"array response", &fakeProvider{response: `[]`}, ReasonParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEngine(tt.provider, DefaultConfig(), nil)
			require.NoError(t, err)

			_, err = e.Extract(context.Background(), testMemory(), Context{})
			require.Error(t, err)

			var xerr *ExtractionError
			require.ErrorAs(t, err, &xerr)
			assert.Equal(t, tt.wantReason, xerr.Reason)
			assert.Equal(t, "fake:model", xerr.Provider)
			assert.True(t, IsExtractionError(err))
		})
	}
}

func TestNewEngine_RequiresProvider(t *testing.T) {
	_, err := NewEngine(nil, DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestBuildPrompt_Bounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSnippetChars = 10
	cfg.MaxClients = 1
	cfg.MaxPerformers = 1
	cfg.MaxKnowledge = 1

	ectx := Context{
		Clients:    []intel.ClientProfile{{ID: "c1", Name: "One"}, {ID: "c2", Name: "Two"}},
		Performers: []intel.Performer{{ID: "p1", Name: "Nova"}, {ID: "p2", Name: "Orion"}},
		Knowledge: []intel.KnowledgeEntity{
			{Name: "Acme", Relationships: map[string][]string{"uses": {"Go"}, "mentions": {"B"}}},
			{Name: "Globex"},
		},
	}
	prompt, err := BuildPrompt(memory.Memory{Summary: "s", Tags: []string{"t"}}, "0123456789abcdef", ectx, cfg)
	require.NoError(t, err)

	assert.Contains(t, prompt, `"conversationSnippet": "0123456789…"`)
	assert.Contains(t, prompt, `"c1"`)
	assert.NotContains(t, prompt, `"c2"`)
	assert.NotContains(t, prompt, "Orion")
	assert.NotContains(t, prompt, "Globex")
	assert.Contains(t, prompt, `"mentions",`)
	assert.Contains(t, prompt, `"brandRecord": null`)
}
