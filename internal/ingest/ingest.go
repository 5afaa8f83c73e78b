// Package ingest imports memories from JSON files dropped into a directory.
//
// Each *.json file holds one memory object or an array of them. After import
// the file moves to processed/, or to failed/ with a .err file listing the
// problems when any memory was rejected. Writers should create the file
// elsewhere and rename it into the directory so it is never read half-written.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	maxFileSize = 10 * 1024 * 1024

	processedDir = "processed"
	failedDir    = "failed"
)

var (
	// ErrFileTooLarge is returned for drop files over 10MB.
	ErrFileTooLarge = errors.New("file too large")

	// ErrNotMemoryJSON is returned when a file is neither an object nor an array.
	ErrNotMemoryJSON = errors.New("expected a memory object or an array of memories")
)

// Adder stores a memory.
type Adder interface {
	AddMemory(ctx context.Context, m memory.Memory) (memory.Memory, error)
}

// Result reports one imported file.
type Result struct {
	File   string   `json:"file"`
	Added  []string `json:"added"`
	Errors []string `json:"errors,omitempty"`
}

// Decode reads one memory or an array of memories.
func Decode(r io.Reader) ([]memory.Memory, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxFileSize {
		return nil, ErrFileTooLarge
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}

	switch parsed := gjson.ParseBytes(data); {
	case parsed.IsArray():
		var ms []memory.Memory
		if err := json.Unmarshal(data, &ms); err != nil {
			return nil, err
		}
		return ms, nil
	case parsed.IsObject():
		var m memory.Memory
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return []memory.Memory{m}, nil
	default:
		return nil, ErrNotMemoryJSON
	}
}

// Import adds every memory in ms. Rejected memories are reported in the
// result; the rest are still stored.
func Import(ctx context.Context, adder Adder, ms []memory.Memory) Result {
	var res Result
	res.Added = []string{}
	for i, m := range ms {
		stored, err := adder.AddMemory(ctx, m)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("memory %d: %v", i, err))
			continue
		}
		res.Added = append(res.Added, stored.ID)
	}
	return res
}

// Watcher imports drop files as they appear.
type Watcher struct {
	dir    string
	adder  Adder
	logger *logging.Logger
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, adder Adder, logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Watcher{dir: dir, adder: adder, logger: logger.Named("ingest")}
}

// Run imports files already in the directory, then watches for new ones
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for _, sub := range []string{"", processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o700); err != nil {
			return fmt.Errorf("create ingest directory: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	// Scan after Add so files created in between are not missed.
	if err := w.scan(ctx); err != nil {
		return err
	}
	w.logger.Info(ctx, "watching ingest directory", zap.String("dir", w.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create == fsnotify.Create && isDropFile(ev.Name) {
				w.ImportFile(ctx, ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "ingest watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read ingest directory: %w", err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() && isDropFile(e.Name()) {
			w.ImportFile(ctx, filepath.Join(w.dir, e.Name()))
		}
	}
	return nil
}

// ImportFile imports one drop file and moves it out of the watched
// directory. A file that vanished before it was read is ignored.
func (w *Watcher) ImportFile(ctx context.Context, path string) Result {
	res := Result{File: filepath.Base(path), Added: []string{}}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return res
	}
	if err != nil {
		res.Errors = []string{err.Error()}
		w.finish(ctx, path, res)
		return res
	}
	ms, err := Decode(f)
	f.Close()
	if err != nil {
		res.Errors = []string{err.Error()}
		w.finish(ctx, path, res)
		return res
	}

	imported := Import(ctx, w.adder, ms)
	imported.File = res.File
	w.finish(ctx, path, imported)
	return imported
}

func (w *Watcher) finish(ctx context.Context, path string, res Result) {
	dest := processedDir
	if len(res.Errors) > 0 {
		dest = failedDir
	}
	target := filepath.Join(w.dir, dest, res.File)
	if err := os.Rename(path, target); err != nil {
		w.logger.Error(ctx, "move ingest file", zap.String("file", res.File), zap.Error(err))
	}

	if len(res.Errors) == 0 {
		w.logger.Info(ctx, "ingest file imported", zap.String("file", res.File), zap.Int("memories", len(res.Added)))
		return
	}
	report := strings.Join(res.Errors, "\n") + "\n"
	if err := os.WriteFile(target+".err", []byte(report), 0o600); err != nil {
		w.logger.Error(ctx, "write ingest error report", zap.String("file", res.File), zap.Error(err))
	}
	w.logger.Warn(ctx, "ingest file rejected",
		zap.String("file", res.File),
		zap.Int("added", len(res.Added)),
		zap.Strings("errors", res.Errors),
	)
}

func isDropFile(name string) bool {
	base := filepath.Base(name)
	return strings.EqualFold(filepath.Ext(base), ".json") && !strings.HasPrefix(base, ".")
}
