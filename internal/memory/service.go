package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/events"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
	"go.uber.org/zap"
)

// Store persists memories and performer memories.
type Store interface {
	InsertMemory(ctx context.Context, m Memory) error
	GetMemory(ctx context.Context, id string) (Memory, error)
	ListMemories(ctx context.Context, opts ListOptions) ([]Memory, error)
	ReplaceMemory(ctx context.Context, m Memory) error
	DeleteMemory(ctx context.Context, id string) error

	InsertPerformerMemory(ctx context.Context, m PerformerMemory) error
	ListPerformerMemories(ctx context.Context, performerID string, opts ListOptions) ([]PerformerMemory, error)
	DeletePerformerMemory(ctx context.Context, performerID, id string) error
}

// TagRecorder is the write side of the tag score index.
type TagRecorder interface {
	RecordTagUsage(ctx context.Context, tags []string, kind tagscore.Kind) error
}

// Indexer mirrors memories into a secondary search index.
type Indexer interface {
	IndexMemory(ctx context.Context, m Memory) error
	RemoveMemory(ctx context.Context, id string) error
}

// Service is the ingestion and maintenance entry point for memories.
type Service struct {
	store   Store
	tags    TagRecorder
	events  events.Publisher
	indexer Indexer
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithIndexer mirrors every memory write into idx.
func WithIndexer(idx Indexer) Option {
	return func(s *Service) { s.indexer = idx }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a memory service.
func NewService(store Store, tags TagRecorder, pub events.Publisher, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Service{
		store:  store,
		tags:   tags,
		events: pub,
		logger: logger.Named("memory"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddMemory validates and stores m, records its tags once and emits
// memories-updated. The stored copy is returned.
func (s *Service) AddMemory(ctx context.Context, m Memory) (Memory, error) {
	m, err := Prepare(m, s.now().UTC())
	if err != nil {
		return Memory{}, err
	}
	if err := s.store.InsertMemory(ctx, m); err != nil {
		return Memory{}, fmt.Errorf("insert memory: %w", err)
	}
	if err := s.tags.RecordTagUsage(ctx, m.Tags, tagscore.KindMemory); err != nil {
		// The tags were never counted, so the memory must not stay stored.
		if derr := s.store.DeleteMemory(context.WithoutCancel(ctx), m.ID); derr != nil {
			s.logger.Error(logging.WithMemoryID(ctx, m.ID), "failed to roll back memory insert", zap.Error(derr))
		}
		return Memory{}, fmt.Errorf("record tag usage: %w", err)
	}
	s.index(ctx, m)

	ctx = logging.WithMemoryID(ctx, m.ID)
	s.logger.Info(ctx, "memory added", zap.Strings("tags", m.Tags), zap.Float64("relevance", m.Relevance))
	s.events.Publish(ctx, events.MemoriesUpdated)
	return m, nil
}

// AddPerformerMemory validates and stores a performer memory, records its
// tags once and emits performer-memories-updated.
func (s *Service) AddPerformerMemory(ctx context.Context, m PerformerMemory) (PerformerMemory, error) {
	m, err := PreparePerformer(m, s.now().UTC())
	if err != nil {
		return PerformerMemory{}, err
	}
	if err := s.store.InsertPerformerMemory(ctx, m); err != nil {
		return PerformerMemory{}, fmt.Errorf("insert performer memory: %w", err)
	}
	if err := s.tags.RecordTagUsage(ctx, m.Tags, tagscore.KindMemory); err != nil {
		if derr := s.store.DeletePerformerMemory(context.WithoutCancel(ctx), m.PerformerID, m.ID); derr != nil {
			s.logger.Error(logging.WithMemoryID(ctx, m.ID), "failed to roll back performer memory insert", zap.Error(derr))
		}
		return PerformerMemory{}, fmt.Errorf("record tag usage: %w", err)
	}

	ctx = logging.WithPerformerID(logging.WithMemoryID(ctx, m.ID), m.PerformerID)
	s.logger.Info(ctx, "performer memory added", zap.Strings("tags", m.Tags))
	s.events.Publish(ctx, events.PerformerMemoriesUpdated)
	return m, nil
}

// Get returns a memory by id.
func (s *Service) Get(ctx context.Context, id string) (Memory, error) {
	return s.store.GetMemory(ctx, id)
}

// List returns memories newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]Memory, error) {
	return s.store.ListMemories(ctx, opts)
}

// ListPerformer returns one performer's memories newest first.
func (s *Service) ListPerformer(ctx context.Context, performerID string, opts ListOptions) ([]PerformerMemory, error) {
	return s.store.ListPerformerMemories(ctx, performerID, opts)
}

// Update applies p to a memory. Only tags the memory did not already carry
// are recorded in the tag index.
func (s *Service) Update(ctx context.Context, id string, p Patch) (Memory, error) {
	cur, err := s.store.GetMemory(ctx, id)
	if err != nil {
		return Memory{}, err
	}

	next := cur
	if p.Summary != nil {
		next.Summary = *p.Summary
	}
	if p.Tags != nil {
		next.Tags = p.Tags
	}
	if p.Relevance != nil {
		next.Relevance = *p.Relevance
	}
	next, err = Prepare(next, cur.Timestamp)
	if err != nil {
		return Memory{}, err
	}

	if err := s.store.ReplaceMemory(ctx, next); err != nil {
		return Memory{}, fmt.Errorf("update memory: %w", err)
	}
	if added := newTags(cur.Tags, next.Tags); len(added) > 0 {
		if err := s.tags.RecordTagUsage(ctx, added, tagscore.KindMemory); err != nil {
			return Memory{}, err
		}
	}
	s.index(ctx, next)

	s.logger.Info(logging.WithMemoryID(ctx, id), "memory updated")
	s.events.Publish(ctx, events.MemoriesUpdated)
	return next, nil
}

// Delete removes a memory. The tag index is not decremented.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteMemory(ctx, id); err != nil {
		return err
	}
	if s.indexer != nil {
		if err := s.indexer.RemoveMemory(ctx, id); err != nil {
			s.logger.Warn(ctx, "recall index remove failed", zap.String("memory_id", id), zap.Error(err))
		}
	}
	s.logger.Info(logging.WithMemoryID(ctx, id), "memory deleted")
	s.events.Publish(ctx, events.MemoriesUpdated)
	return nil
}

// DeletePerformerMemory removes one of a performer's memories.
func (s *Service) DeletePerformerMemory(ctx context.Context, performerID, id string) error {
	if err := s.store.DeletePerformerMemory(ctx, performerID, id); err != nil {
		return err
	}
	s.events.Publish(ctx, events.PerformerMemoriesUpdated)
	return nil
}

func (s *Service) index(ctx context.Context, m Memory) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.IndexMemory(ctx, m); err != nil {
		s.logger.Warn(ctx, "recall index update failed", zap.String("memory_id", m.ID), zap.Error(err))
	}
}

func newTags(before, after []string) []string {
	had := make(map[string]bool, len(before))
	for _, t := range before {
		had[t] = true
	}
	var added []string
	for _, t := range after {
		if !had[t] {
			added = append(added, t)
		}
	}
	return added
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
