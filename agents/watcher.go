package agents

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/types"
)

// FileOp classifies a change to an agent file.
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
)

func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one observed change to an agent definition file.
type FileEvent struct {
	AgentID   string    `json:"agent_id"`
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// Watcher polls the agents directory and reports created, modified and
// removed definition files. Polling keeps it working on every
// filesystem the store can live on; the debounce window collapses
// editor write bursts into one event per agent.
type Watcher struct {
	mu sync.RWMutex

	dir           string
	interval      time.Duration
	debounceDelay time.Duration

	running   bool
	stopChan  chan struct{}
	eventChan chan FileEvent

	callbacks []func(FileEvent)

	logger *zap.Logger

	lastModTimes map[string]time.Time
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithPollInterval sets how often the directory is scanned.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDebounceDelay sets the quiet period before events are dispatched.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounceDelay = d
		}
	}
}

// WithWatcherLogger sets the logger. Defaults to a no-op logger.
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher over the given agents directory.
func NewWatcher(dir string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		dir:           dir,
		interval:      time.Second,
		debounceDelay: 100 * time.Millisecond,
		stopChan:      make(chan struct{}),
		eventChan:     make(chan FileEvent, 64),
		lastModTimes:  make(map[string]time.Time),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "agent_watcher"))

	if _, err := os.Stat(dir); err != nil {
		return nil, types.NewError(types.ErrConfig, "stat agents directory").WithCause(err)
	}
	return w, nil
}

// OnChange registers a callback. Callbacks run on the watcher's
// dispatch goroutine and must not block.
func (w *Watcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start snapshots the current directory state and begins polling.
// Files present at start do not produce create events.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return types.NewError(types.ErrInternal, "watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	for path, mod := range w.scan() {
		w.lastModTimes[path] = mod
	}

	go w.pollLoop(ctx)
	go w.dispatchLoop(ctx)

	w.logger.Info("agent watcher started",
		zap.String("dir", w.dir),
		zap.Duration("interval", w.interval))
	return nil
}

// Stop halts polling and dispatching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopChan)
	w.running = false
	w.logger.Info("agent watcher stopped")
}

// IsRunning reports whether the watcher has been started and not stopped.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.checkDir()
		}
	}
}

// scan lists the definition files currently in the directory with their
// modification times.
func (w *Watcher) scan() map[string]time.Time {
	found := make(map[string]time.Time)
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("scan agents directory", zap.Error(err))
		return found
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found[filepath.Join(w.dir, name)] = info.ModTime()
	}
	return found
}

func (w *Watcher) checkDir() {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := w.scan()
	now := time.Now()

	for path, mod := range current {
		last, seen := w.lastModTimes[path]
		switch {
		case !seen:
			w.lastModTimes[path] = mod
			w.emit(FileEvent{AgentID: agentIDFromPath(path), Path: path, Op: FileOpCreate, Timestamp: now})
		case mod.After(last):
			w.lastModTimes[path] = mod
			w.emit(FileEvent{AgentID: agentIDFromPath(path), Path: path, Op: FileOpWrite, Timestamp: now})
		}
	}
	for path := range w.lastModTimes {
		if _, still := current[path]; !still {
			delete(w.lastModTimes, path)
			w.emit(FileEvent{AgentID: agentIDFromPath(path), Path: path, Op: FileOpRemove, Timestamp: now})
		}
	}
}

func (w *Watcher) emit(event FileEvent) {
	select {
	case w.eventChan <- event:
	default:
		w.logger.Warn("event channel full, dropping",
			zap.String("agent_id", event.AgentID),
			zap.String("op", event.Op.String()))
	}
}

func (w *Watcher) dispatchLoop(ctx context.Context) {
	pending := make(map[string]FileEvent)
	timer := time.NewTimer(w.debounceDelay)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event := <-w.eventChan:
			// Later events for the same agent replace earlier ones.
			pending[event.AgentID] = event
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounceDelay)
		case <-timer.C:
			w.mu.RLock()
			callbacks := make([]func(FileEvent), len(w.callbacks))
			copy(callbacks, w.callbacks)
			w.mu.RUnlock()

			for _, evt := range pending {
				w.logger.Debug("agent file changed",
					zap.String("agent_id", evt.AgentID),
					zap.String("op", evt.Op.String()))
				for _, cb := range callbacks {
					cb(evt)
				}
			}
			pending = make(map[string]FileEvent)
		}
	}
}

func agentIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json")
}
