package inbox

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/raaihank/phi-deid/internal/extraction"
	"github.com/raaihank/phi-deid/internal/queue"
	"go.uber.org/zap"
)

// Config contains drop folder configuration
type Config struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
	// DoneDir receives files once they are enqueued. Empty leaves them in place.
	DoneDir     string        `yaml:"done_dir" mapstructure:"done_dir"`
	Settle      time.Duration `yaml:"settle" mapstructure:"settle"`
	AutoProcess bool          `yaml:"auto_process" mapstructure:"auto_process"`
}

// Watcher enqueues files dropped into a directory
type Watcher struct {
	config  Config
	queue   *queue.Coordinator
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	seen    map[string]bool
	wg      sync.WaitGroup
	drainMu sync.Mutex
}

// New creates a watcher on cfg.Dir
func New(cfg Config, q *queue.Coordinator, logger *zap.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("inbox directory is required")
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}
	if cfg.DoneDir != "" {
		if err := os.MkdirAll(cfg.DoneDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create done directory: %w", err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(cfg.Dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", cfg.Dir, err)
	}

	return &Watcher{
		config:  cfg,
		queue:   q,
		watcher: fw,
		logger:  logger.With(zap.String("component", "inbox")),
		timers:  make(map[string]*time.Timer),
		seen:    make(map[string]bool),
	}, nil
}

// Run processes watcher events until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("Watching inbox",
		zap.String("dir", w.config.Dir),
		zap.Bool("auto_process", w.config.AutoProcess),
	)

	defer func() {
		w.watcher.Close()
		w.mu.Lock()
		for _, t := range w.timers {
			if t.Stop() {
				w.wg.Done()
			}
		}
		w.mu.Unlock()
		w.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Inbox watcher error", zap.Error(err))
		}
	}
}

// schedule ingests path once no event for it arrived for the settle period
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.seen[path] {
		return
	}
	if t, ok := w.timers[path]; ok {
		// a timer that already fired is ingesting the file
		if t.Stop() {
			t.Reset(w.config.Settle)
		}
		return
	}

	w.wg.Add(1)
	w.timers[path] = time.AfterFunc(w.config.Settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.ingest(ctx, path)
	})
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if !w.queue.Accepts(name, mimeType) {
		w.logger.Warn("Skipping unsupported inbox file", zap.String("file", name))
		w.markSeen(path)
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		w.logger.Error("Failed to read inbox file", zap.String("file", name), zap.Error(err))
		return
	}

	w.markSeen(path)
	result := w.queue.Enqueue([]extraction.Source{{
		Name:    name,
		Size:    info.Size(),
		MIME:    strings.SplitN(mimeType, ";", 2)[0],
		Content: content,
	}})
	w.logger.Info("Inbox file enqueued", zap.String("file", name), zap.Int("jobs", len(result.Jobs)))

	if w.config.DoneDir != "" {
		if err := os.Rename(path, filepath.Join(w.config.DoneDir, name)); err != nil {
			w.logger.Warn("Failed to move inbox file", zap.String("file", name), zap.Error(err))
		} else {
			w.mu.Lock()
			delete(w.seen, path)
			w.mu.Unlock()
		}
	}

	if w.config.AutoProcess {
		w.drain(ctx)
	}
}

func (w *Watcher) markSeen(path string) {
	w.mu.Lock()
	w.seen[path] = true
	w.mu.Unlock()
}

// drain runs the queue until it is empty. A drain already running elsewhere
// picks up the new job itself.
func (w *Watcher) drain(ctx context.Context) {
	w.drainMu.Lock()
	defer w.drainMu.Unlock()

	for ctx.Err() == nil {
		result, err := w.queue.ProcessAll(ctx)
		if errors.Is(err, queue.ErrBusy) {
			return
		}
		if err != nil {
			w.logger.Warn("Inbox drain stopped", zap.Error(err))
			return
		}
		if result.Processed == 0 || len(w.queue.Pending()) == 0 {
			return
		}
	}
}
