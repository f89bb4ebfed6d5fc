package ingestion_engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher queues PDFs dropped into a directory. Writes to the same file are
// coalesced until the file has been quiet for the settle period.
type Watcher struct {
	dir     string
	settle  time.Duration
	enqueue func(context.Context, IngestJob) error
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func NewWatcher(dir string, settle time.Duration, enqueue func(context.Context, IngestJob) error, log zerolog.Logger) *Watcher {
	if settle <= 0 {
		settle = time.Second
	}
	return &Watcher{
		dir:     dir,
		settle:  settle,
		enqueue: enqueue,
		log:     log.With().Str("component", "watcher").Str("dir", dir).Logger(),
		pending: map[string]*time.Timer{},
	}
}

// Run watches until ctx is done. It returns once the watch is established or failed;
// events are handled on a background goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	go func() {
		defer fw.Close()
		defer w.stopPending()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
					w.schedule(ctx, ev.Name)
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.log.Warn().Err(err).Msg("watch error")
			}
		}
	}()
	w.log.Info().Msg("watching for new pdf files")
	return nil
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.log.Debug().Str("path", path).Msg("queueing file")
		if err := w.enqueue(ctx, IngestJob{Path: path}); err != nil {
			w.log.Debug().Err(err).Str("path", path).Msg("file not queued")
		}
	})
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
