package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/pipeline"
	"github.com/fyrsmithlabs/memoryd/internal/router"
	"github.com/fyrsmithlabs/memoryd/internal/selector"
	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
	"github.com/labstack/echo/v4"
)

const defaultAuditLimit = 50

func (s *Server) handleAddMemory(c echo.Context) error {
	var m memory.Memory
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	stored, err := s.deps.Memories.AddMemory(c.Request().Context(), m)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, stored)
}

func (s *Server) handleListMemories(c echo.Context) error {
	opts, err := listOptions(c)
	if err != nil {
		return err
	}
	ms, err := s.deps.Memories.List(c.Request().Context(), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newList(ms))
}

func (s *Server) handleGetMemory(c echo.Context) error {
	m, err := s.deps.Memories.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleUpdateMemory(c echo.Context) error {
	var p memory.Patch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := s.deps.Memories.Update(c.Request().Context(), c.Param("id"), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleDeleteMemory(c echo.Context) error {
	if err := s.deps.Memories.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSearch(c echo.Context) error {
	if s.deps.Searcher == nil {
		return errRecallDisabled
	}
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	limit, err := queryInt(c, "limit", 10)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	hits, err := s.deps.Searcher.Search(ctx, q, limit)
	if err != nil {
		return err
	}
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		m, err := s.deps.Memories.Get(ctx, h.MemoryID)
		if errors.Is(err, memory.ErrNotFound) {
			// Deleted after it was indexed.
			continue
		}
		if err != nil {
			return err
		}
		results = append(results, SearchResult{Memory: m, Similarity: h.Similarity})
	}
	return c.JSON(http.StatusOK, newList(results))
}

func (s *Server) handleProcessingState(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.deps.Memories.Get(ctx, id); err != nil {
		return err
	}
	st, err := s.deps.Intel.GetProcessingState(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

// handleProcess answers 200 when every destination was written, 207 with
// the outcome when some failed, and 502 when extraction failed.
func (s *Server) handleProcess(c echo.Context) error {
	if s.deps.Processor == nil {
		return errExtractionDisabled
	}
	out, err := s.deps.Processor.Process(c.Request().Context(), c.Param("id"))
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, out)
	case out.Status == intel.StatusPartial && router.IsApplicationError(err):
		return c.JSON(http.StatusMultiStatus, out)
	case errors.Is(err, memory.ErrNotFound):
		return err
	default:
		return c.JSON(statusFor(err), out)
	}
}

func (s *Server) handleProcessBatch(c echo.Context) error {
	if s.deps.Processor == nil {
		return errExtractionDisabled
	}
	var req ProcessBatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	outcomes, err := s.deps.Processor.ProcessBatch(c.Request().Context(), req.IDs)
	if err != nil {
		return err
	}
	if outcomes == nil {
		outcomes = []pipeline.Outcome{}
	}
	return c.JSON(http.StatusOK, ProcessBatchResponse{Outcomes: outcomes, Counts: pipeline.Summarize(outcomes)})
}

func (s *Server) handleContext(c echo.Context) error {
	var req selector.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Limit < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must not be negative")
	}
	res, err := s.deps.Context.Context(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleTags(c echo.Context) error {
	scores, err := s.deps.Tags.TagScores(c.Request().Context())
	if err != nil {
		return err
	}
	tagscore.SortByScore(scores)
	if scores == nil {
		scores = []tagscore.TagScore{}
	}
	return c.JSON(http.StatusOK, TagsResponse{Tags: scores})
}

func (s *Server) handleAddPerformerMemory(c echo.Context) error {
	var m memory.PerformerMemory
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m.PerformerID = c.Param("pid")
	stored, err := s.deps.Memories.AddPerformerMemory(c.Request().Context(), m)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, stored)
}

func (s *Server) handleListPerformerMemories(c echo.Context) error {
	opts, err := listOptions(c)
	if err != nil {
		return err
	}
	ms, err := s.deps.Memories.ListPerformer(c.Request().Context(), c.Param("pid"), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newList(ms))
}

func (s *Server) handleDeletePerformerMemory(c echo.Context) error {
	if err := s.deps.Memories.DeletePerformerMemory(c.Request().Context(), c.Param("pid"), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handlePerformerContext(c echo.Context) error {
	var req selector.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Limit < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must not be negative")
	}
	res, err := s.deps.Context.PerformerContext(c.Request().Context(), c.Param("pid"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleClients(c echo.Context) error {
	clients, err := s.deps.Intel.ListClients(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newList(clients))
}

func (s *Server) handleBrand(c echo.Context) error {
	b, err := s.deps.Intel.GetBrand(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (s *Server) handlePerformers(c echo.Context) error {
	ps, err := s.deps.Intel.ListPerformers(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newList(ps))
}

func (s *Server) handleJournal(c echo.Context) error {
	entries, err := s.deps.Intel.ListJournal(c.Request().Context(), c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newList(entries))
}

func (s *Server) handleKnowledge(c echo.Context) error {
	e, err := s.deps.Intel.GetKnowledgeEntity(c.Request().Context(), c.Param("name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) handleInteractions(c echo.Context) error {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return err
	}
	evs, err := s.deps.Intel.ListInteractions(c.Request().Context(), c.QueryParam("memoryId"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newList(evs))
}

func (s *Server) handleAudit(c echo.Context) error {
	limit, err := queryInt(c, "limit", defaultAuditLimit)
	if err != nil {
		return err
	}
	recs, err := s.deps.Intel.ListAudit(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newList(recs))
}

func listOptions(c echo.Context) (memory.ListOptions, error) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return memory.ListOptions{}, err
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return memory.ListOptions{}, err
	}
	return memory.ListOptions{Limit: limit, Offset: offset}, nil
}

// queryInt parses a non-negative integer query parameter.
func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative integer")
	}
	return n, nil
}
