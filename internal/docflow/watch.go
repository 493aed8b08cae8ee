package docflow

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDelay collapses the burst of events an editor save produces into one reload.
var reloadDelay = 200 * time.Millisecond

// Holder serves the current catalogue to request handlers while a watcher swaps it.
type Holder struct {
	current atomic.Pointer[Catalog]
}

func NewHolder(c *Catalog) *Holder {
	h := &Holder{}
	h.current.Store(c)
	return h
}

func (h *Holder) Catalog() *Catalog { return h.current.Load() }

func (h *Holder) Store(c *Catalog) { h.current.Store(c) }

// Watch reloads path whenever it changes and blocks until ctx is done. A file that fails to
// parse is logged and the previous catalogue stays active.
func (h *Holder) Watch(ctx context.Context, path string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("catalog watcher: %w", err)
	}
	// Editors replace files on save, so watch the directory rather than the file.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("catalog watcher: watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("watching catalog", zap.String("path", abs))

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(reloadDelay)
		case <-pending:
			pending = nil
			next, err := LoadCatalog(abs)
			if err != nil {
				logger.Warn("catalog reload failed", zap.String("path", abs), zap.Error(err))
				continue
			}
			h.Store(next)
			logger.Info("catalog reloaded", zap.String("path", abs), zap.Int("kinds", len(next.Entries)))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("catalog watcher error", zap.Error(err))
		}
	}
}
