package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/router"
	"github.com/fyrsmithlabs/memoryd/internal/selector"
	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

var (
	errInvalidArgument = errors.New("invalid argument")
	errDisabled        = errors.New("not configured")
)

const defaultSearchLimit = 10

// memoryOutput is the wire form of a memory. Timestamps are RFC 3339.
type memoryOutput struct {
	ID                  string   `json:"id" jsonschema:"Memory ID"`
	Timestamp           string   `json:"timestamp" jsonschema:"When the memory was recorded"`
	Summary             string   `json:"summary" jsonschema:"Summary, scrubbed of secrets"`
	Tags                []string `json:"tags" jsonschema:"Normalized tags"`
	ConversationSnippet string   `json:"conversation_snippet,omitempty" jsonschema:"Conversation excerpt, scrubbed of secrets"`
	Relevance           float64  `json:"relevance" jsonschema:"Relevance between 0 and 1"`
}

func (s *Server) memoryOutput(m memory.Memory) memoryOutput {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return memoryOutput{
		ID:                  m.ID,
		Timestamp:           m.Timestamp.UTC().Format(time.RFC3339),
		Summary:             s.deps.Scrubber.String(m.Summary),
		Tags:                tags,
		ConversationSnippet: s.deps.Scrubber.String(m.ConversationSnippet),
		Relevance:           m.Relevance,
	}
}

type memoryAddInput struct {
	Summary             string   `json:"summary" jsonschema:"What happened, in one or two sentences"`
	Tags                []string `json:"tags" jsonschema:"Topic tags, normalized to lowercase kebab-case"`
	ConversationSnippet string   `json:"conversation_snippet,omitempty" jsonschema:"Excerpt of the conversation the memory came from"`
	Relevance           float64  `json:"relevance,omitempty" jsonschema:"Relevance between 0 and 1"`
	Timestamp           string   `json:"timestamp,omitempty" jsonschema:"RFC 3339 timestamp (default now)"`
}

type turnInput struct {
	Role       string   `json:"role" jsonschema:"Speaker role such as user or assistant"`
	Content    string   `json:"content" jsonschema:"What was said"`
	MemoryTags []string `json:"memory_tags,omitempty" jsonschema:"Tags of memories already used in this turn"`
}

type memoryContextInput struct {
	Utterance string      `json:"utterance" jsonschema:"The latest user utterance"`
	History   []turnInput `json:"history,omitempty" jsonschema:"Recent conversation turns, oldest first"`
	Limit     int         `json:"limit,omitempty" jsonschema:"Maximum memories to select"`
}

type memoryContextOutput struct {
	Primer          string         `json:"primer" jsonschema:"Memories rendered for a system prompt"`
	Memories        []memoryOutput `json:"memories" jsonschema:"Selected memories, best first"`
	PrioritizedTags []string       `json:"prioritized_tags" jsonschema:"Tags the selection favoured"`
	Keywords        []string       `json:"keywords" jsonschema:"Keywords extracted from the conversation"`
}

type performerContextInput struct {
	PerformerID string `json:"performer_id" jsonschema:"Performer whose memories to select from"`
	Utterance   string `json:"utterance" jsonschema:"The latest user utterance"`
	Limit       int    `json:"limit,omitempty" jsonschema:"Maximum memories to select"`
}

type performerContextOutput struct {
	PerformerID string   `json:"performer_id" jsonschema:"Performer ID"`
	Primer      string   `json:"primer" jsonschema:"Memories rendered for a system prompt"`
	MemoryIDs   []string `json:"memory_ids" jsonschema:"Selected performer memory IDs, best first"`
}

type memoryProcessInput struct {
	MemoryID string `json:"memory_id" jsonschema:"Memory to extract intelligence from"`
}

type memoryProcessOutput struct {
	MemoryID string            `json:"memory_id" jsonschema:"Memory ID"`
	Status   string            `json:"status" jsonschema:"applied, partial or failed"`
	Provider string            `json:"provider,omitempty" jsonschema:"Extractor that produced the intelligence"`
	Applied  map[string]int    `json:"applied" jsonschema:"Records written per destination"`
	Failures map[string]string `json:"failures,omitempty" jsonschema:"Failed destinations and why"`
}

type tagScoresInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum tags to return, highest score first"`
}

type tagScoreOutput struct {
	Tag            string  `json:"tag" jsonschema:"Tag"`
	MemoryCount    int     `json:"memory_count" jsonschema:"Memories carrying the tag"`
	KnowledgeCount int     `json:"knowledge_count" jsonschema:"Knowledge entities carrying the tag"`
	Score          float64 `json:"score" jsonschema:"Combined score"`
}

type tagScoresOutput struct {
	Tags []tagScoreOutput `json:"tags" jsonschema:"Tag scores"`
}

type memorySearchInput struct {
	Query string `json:"query" jsonschema:"Free text to match against memories"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum results (default 10)"`
}

type searchHitOutput struct {
	Memory     memoryOutput `json:"memory" jsonschema:"Matching memory"`
	Similarity float32      `json:"similarity" jsonschema:"Cosine similarity to the query"`
}

type memorySearchOutput struct {
	Results []searchHitOutput `json:"results" jsonschema:"Matches, most similar first"`
}

// track starts tool metrics; call the returned func with the tool's error.
func (s *Server) track(ctx context.Context, tool string) func(error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, tool)
	return func(err error) {
		s.metrics.DecrementActive(ctx, tool)
		s.metrics.RecordInvocation(ctx, tool, time.Since(start), err)
		if err != nil {
			s.logger.Warn(ctx, "tool failed", zap.String("tool", tool), zap.Error(err))
		}
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_add",
		Description: "Record a conversation memory with a summary and topic tags",
	}, s.memoryAdd)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_context",
		Description: "Select the memories most relevant to the current conversation and render them as a primer",
	}, s.memoryContext)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "performer_context",
		Description: "Select a performer's memories relevant to the latest utterance",
	}, s.performerContext)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_process",
		Description: "Extract business intelligence from a memory and apply it to the client, brand, performer, journal and knowledge stores",
	}, s.memoryProcess)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "tag_scores",
		Description: "List tags by how often memories and knowledge use them",
	}, s.tagScores)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_search",
		Description: "Find memories semantically similar to a query",
	}, s.memorySearch)
}

func (s *Server) memoryAdd(ctx context.Context, _ *mcp.CallToolRequest, args memoryAddInput) (_ *mcp.CallToolResult, _ memoryOutput, toolErr error) {
	done := s.track(ctx, "memory_add")
	defer func() { done(toolErr) }()

	m := memory.Memory{
		Summary:             args.Summary,
		Tags:                args.Tags,
		ConversationSnippet: args.ConversationSnippet,
		Relevance:           args.Relevance,
	}
	if args.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, args.Timestamp)
		if err != nil {
			return nil, memoryOutput{}, fmt.Errorf("%w: timestamp must be RFC 3339", errInvalidArgument)
		}
		m.Timestamp = ts
	}

	stored, err := s.deps.Memories.AddMemory(ctx, m)
	if err != nil {
		return nil, memoryOutput{}, err
	}
	out := s.memoryOutput(stored)
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Memory saved: %s", out.ID)},
		},
	}, out, nil
}

func (s *Server) memoryContext(ctx context.Context, _ *mcp.CallToolRequest, args memoryContextInput) (_ *mcp.CallToolResult, _ memoryContextOutput, toolErr error) {
	done := s.track(ctx, "memory_context")
	defer func() { done(toolErr) }()

	if args.Limit < 0 {
		return nil, memoryContextOutput{}, fmt.Errorf("%w: limit must not be negative", errInvalidArgument)
	}
	req := selector.Request{Utterance: args.Utterance, Limit: args.Limit}
	for _, t := range args.History {
		req.History = append(req.History, selector.Turn{Role: t.Role, Content: t.Content, MemoryTags: t.MemoryTags})
	}

	res, err := s.deps.Context.Context(ctx, req)
	if err != nil {
		return nil, memoryContextOutput{}, err
	}

	out := memoryContextOutput{
		Primer:          s.deps.Scrubber.String(res.Primer),
		Memories:        make([]memoryOutput, 0, len(res.Memories)),
		PrioritizedTags: nonNil(res.PrioritizedTags),
		Keywords:        nonNil(res.Keywords),
	}
	for _, m := range res.Memories {
		out.Memories = append(out.Memories, s.memoryOutput(m))
	}

	text := out.Primer
	if text == "" {
		text = "No relevant memories."
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, out, nil
}

func (s *Server) performerContext(ctx context.Context, _ *mcp.CallToolRequest, args performerContextInput) (_ *mcp.CallToolResult, _ performerContextOutput, toolErr error) {
	done := s.track(ctx, "performer_context")
	defer func() { done(toolErr) }()

	if strings.TrimSpace(args.PerformerID) == "" {
		return nil, performerContextOutput{}, fmt.Errorf("%w: performer_id is required", errInvalidArgument)
	}
	ctx = logging.WithPerformerID(ctx, args.PerformerID)
	res, err := s.deps.Context.PerformerContext(ctx, args.PerformerID, selector.Request{Utterance: args.Utterance, Limit: args.Limit})
	if err != nil {
		return nil, performerContextOutput{}, err
	}

	out := performerContextOutput{
		PerformerID: args.PerformerID,
		Primer:      s.deps.Scrubber.String(res.Primer),
		MemoryIDs:   make([]string, 0, len(res.Memories)),
	}
	for _, m := range res.Memories {
		out.MemoryIDs = append(out.MemoryIDs, m.ID)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: out.Primer}},
	}, out, nil
}

// memoryProcess reports a partial application as a result, not an error:
// the destinations that succeeded stay written.
func (s *Server) memoryProcess(ctx context.Context, _ *mcp.CallToolRequest, args memoryProcessInput) (_ *mcp.CallToolResult, _ memoryProcessOutput, toolErr error) {
	done := s.track(ctx, "memory_process")
	defer func() { done(toolErr) }()

	if s.deps.Processor == nil {
		return nil, memoryProcessOutput{}, fmt.Errorf("extraction is %w", errDisabled)
	}
	ctx = logging.WithMemoryID(ctx, args.MemoryID)
	outcome, err := s.deps.Processor.Process(ctx, args.MemoryID)
	if err != nil && !(outcome.Status == intel.StatusPartial && router.IsApplicationError(err)) {
		return nil, memoryProcessOutput{}, err
	}

	out := memoryProcessOutput{
		MemoryID: outcome.MemoryID,
		Status:   string(outcome.Status),
		Provider: outcome.Provider,
		Applied:  map[string]int{},
		Failures: outcome.Failures,
	}
	if outcome.Report != nil && outcome.Report.Applied != nil {
		out.Applied = outcome.Report.Applied
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Memory %s: %s (%d destinations written)", out.MemoryID, out.Status, len(out.Applied))},
		},
	}, out, nil
}

func (s *Server) tagScores(ctx context.Context, _ *mcp.CallToolRequest, args tagScoresInput) (_ *mcp.CallToolResult, _ tagScoresOutput, toolErr error) {
	done := s.track(ctx, "tag_scores")
	defer func() { done(toolErr) }()

	scores, err := s.deps.Tags.TagScores(ctx)
	if err != nil {
		return nil, tagScoresOutput{}, err
	}
	tagscore.SortByScore(scores)
	if args.Limit > 0 && len(scores) > args.Limit {
		scores = scores[:args.Limit]
	}

	out := tagScoresOutput{Tags: make([]tagScoreOutput, 0, len(scores))}
	lines := make([]string, 0, len(scores))
	for _, sc := range scores {
		out.Tags = append(out.Tags, tagScoreOutput{
			Tag:            sc.Tag,
			MemoryCount:    sc.MemoryCount,
			KnowledgeCount: sc.KnowledgeCount,
			Score:          sc.Score,
		})
		lines = append(lines, fmt.Sprintf("#%s %.2f", sc.Tag, sc.Score))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: strings.Join(lines, "\n")}},
	}, out, nil
}

func (s *Server) memorySearch(ctx context.Context, _ *mcp.CallToolRequest, args memorySearchInput) (_ *mcp.CallToolResult, _ memorySearchOutput, toolErr error) {
	done := s.track(ctx, "memory_search")
	defer func() { done(toolErr) }()

	if s.deps.Searcher == nil {
		return nil, memorySearchOutput{}, fmt.Errorf("recall search is %w", errDisabled)
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, memorySearchOutput{}, fmt.Errorf("%w: query is required", errInvalidArgument)
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	hits, err := s.deps.Searcher.Search(ctx, args.Query, limit)
	if err != nil {
		return nil, memorySearchOutput{}, err
	}
	out := memorySearchOutput{Results: make([]searchHitOutput, 0, len(hits))}
	for _, h := range hits {
		m, err := s.deps.Memories.Get(ctx, h.MemoryID)
		if errors.Is(err, memory.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, memorySearchOutput{}, err
		}
		out.Results = append(out.Results, searchHitOutput{Memory: s.memoryOutput(m), Similarity: h.Similarity})
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%d memories found", len(out.Results))}},
	}, out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
