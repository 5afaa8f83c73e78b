package http_test

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/events"
	httpserver "github.com/fyrsmithlabs/memoryd/internal/http"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/selector"
	"github.com/fyrsmithlabs/memoryd/internal/store"
	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
)

// ExampleNewServer wires the API over a sqlite store and serves it until
// the context is cancelled.
func ExampleNewServer() {
	db, err := store.Open("/tmp/memoryd-example.db")
	if err != nil {
		panic(err)
	}
	defer db.Close()

	logger := logging.Nop()
	index := tagscore.NewIndex(db, memory.NormalizeTag)
	bus := events.NewBus(logger)

	server, err := httpserver.NewServer(httpserver.Deps{
		Memories: memory.NewService(db, index, bus, logger),
		Context:  selector.NewService(selector.New(selector.DefaultConfig()), db, index, logger),
		Tags:     index,
		Intel:    db,
		Health:   db,
	}, logger, &httpserver.Config{Host: "localhost", Port: 9191})
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	go func() {
		if err := server.Start(); err != nil {
			fmt.Println("server stopped:", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
