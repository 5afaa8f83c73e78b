// Package recall keeps a similarity index over memory summaries so memories
// can be found by meaning as well as by tag.
package recall

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// ErrNoEmbedder is returned when recall is enabled without an embedding backend.
var ErrNoEmbedder = errors.New("recall requires ollama_url or openai_key")

// Hit is one search result.
type Hit struct {
	MemoryID   string  `json:"memoryId"`
	Similarity float32 `json:"similarity"`
}

// Index is a chromem collection of memory documents.
type Index struct {
	collection *chromem.Collection
	logger     *logging.Logger
}

// NewEmbeddingFunc picks the embedding backend from cfg, preferring a local
// Ollama server.
func NewEmbeddingFunc(cfg config.RecallConfig) (chromem.EmbeddingFunc, error) {
	switch {
	case cfg.OllamaURL != "":
		return chromem.NewEmbeddingFuncOllama(cfg.EmbeddingModel, strings.TrimSuffix(cfg.OllamaURL, "/")+"/api"), nil
	case cfg.OpenAIKey.IsSet():
		return chromem.NewEmbeddingFuncOpenAI(cfg.OpenAIKey.Value(), chromem.EmbeddingModelOpenAI3Small), nil
	default:
		return nil, ErrNoEmbedder
	}
}

// Open opens the persistent index at cfg.Path.
func Open(cfg config.RecallConfig, logger *logging.Logger) (*Index, error) {
	embed, err := NewEmbeddingFunc(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Path, 0700); err != nil {
		return nil, fmt.Errorf("create recall dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(cfg.Path, false)
	if err != nil {
		return nil, fmt.Errorf("open recall db: %w", err)
	}
	return New(db, cfg.Collection, embed, logger)
}

// New creates an index in collection of db.
func New(db *chromem.DB, collection string, embed chromem.EmbeddingFunc, logger *logging.Logger) (*Index, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	c, err := db.GetOrCreateCollection(collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("recall collection %s: %w", collection, err)
	}
	return &Index{collection: c, logger: logger.Named("recall")}, nil
}

// IndexMemory adds or replaces the document for m.
func (i *Index) IndexMemory(ctx context.Context, m memory.Memory) error {
	doc := chromem.Document{
		ID:      m.ID,
		Content: documentText(m),
		Metadata: map[string]string{
			"tags": strings.Join(m.Tags, ","),
			"date": m.Timestamp.UTC().Format(time.DateOnly),
		},
	}
	if err := i.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("index memory %s: %w", m.ID, err)
	}
	i.logger.Debug(ctx, "memory indexed", zap.String("memory_id", m.ID))
	return nil
}

// RemoveMemory drops the document for id.
func (i *Index) RemoveMemory(ctx context.Context, id string) error {
	if err := i.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("remove memory %s: %w", id, err)
	}
	return nil
}

// Count returns the number of indexed memories.
func (i *Index) Count() int {
	return i.collection.Count()
}

// Search returns up to limit memories most similar to query, best first.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is required")
	}
	if limit <= 0 {
		limit = 10
	}
	n := min(limit, i.collection.Count())
	if n == 0 {
		return []Hit{}, nil
	}

	results, err := i.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("recall query: %w", err)
	}
	hits := make([]Hit, len(results))
	for n, r := range results {
		hits[n] = Hit{MemoryID: r.ID, Similarity: r.Similarity}
	}
	return hits, nil
}

// documentText is what gets embedded: the summary followed by its tags.
func documentText(m memory.Memory) string {
	if len(m.Tags) == 0 {
		return m.Summary
	}
	return m.Summary + "\n#" + strings.Join(m.Tags, " #")
}

var _ memory.Indexer = (*Index)(nil)
