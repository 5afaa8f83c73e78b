package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/mcp"
)

// runMCP serves the MCP tools over stdio. Logs go to stderr because stdout
// carries the protocol.
func runMCP(ctx context.Context, configPath string) error {
	cfg, logger, tel, cleanup, err := setup(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, logger, tel)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Warn(context.Background(), "close services", zap.Error(err))
		}
	}()

	deps := mcp.Deps{
		Memories: a.memories,
		Context:  a.selector,
		Tags:     a.tags,
		Scrubber: a.scrubber,
	}
	if a.pipeline != nil {
		deps.Processor = a.pipeline
	}
	if a.recall != nil {
		deps.Searcher = a.recall
	}

	srv, err := mcp.NewServer(&mcp.Config{Name: "memoryd", Version: version, Logger: logger}, deps)
	if err != nil {
		return fmt.Errorf("create mcp server: %w", err)
	}
	return srv.Run(ctx)
}
