// Package watcher reports studies whose files change below the source root.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// eventChannelBuffer is the size of the study event channel.
	eventChannelBuffer = 64

	defaultDebounceDelay = 2 * time.Second
)

// Config configures study watching.
type Config struct {
	// DebounceDelay is the quiet period a study must observe before it is reported.
	DebounceDelay time.Duration
	// ExcludeDirs lists directory names that are never watched.
	ExcludeDirs []string
}

// Event announces a study that changed and then stayed quiet.
type Event struct {
	Study string
	// Paths are the changed paths relative to the source root, sorted.
	Paths []string
}

type pendingStudy struct {
	paths map[string]struct{}
	last  time.Time
}

// Watcher watches the source root and emits one event per settled study.
type Watcher struct {
	root     string
	delay    time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	excludes map[string]bool
	now      func() time.Time

	pendingMu sync.Mutex
	pending   map[string]*pendingStudy

	events chan Event

	droppedEvents atomic.Int64
}

// New creates a watcher for sourceRoot.
func New(cfg Config, sourceRoot string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	delay := cfg.DebounceDelay
	if delay <= 0 {
		delay = defaultDebounceDelay
	}

	excludes := make(map[string]bool, len(cfg.ExcludeDirs))
	for _, dir := range cfg.ExcludeDirs {
		excludes[dir] = true
	}

	return &Watcher{
		root:     filepath.Clean(sourceRoot),
		delay:    delay,
		watcher:  fsw,
		logger:   logger,
		excludes: excludes,
		now:      time.Now,
		pending:  make(map[string]*pendingStudy),
		events:   make(chan Event, eventChannelBuffer),
	}, nil
}

// Events returns the channel of study events. It is closed when watching ends.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start begins watching. The source root must exist.
func (w *Watcher) Start(ctx context.Context) error {
	info, err := os.Stat(w.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("source root %s is not a directory", w.root)
	}

	if err := w.addWatchesRecursive(w.root); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Study watcher started",
		"source_root", w.root,
		"debounce", w.delay)
	return nil
}

// Stop stops the watcher.
// The events channel is closed by processEvents when it exits.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// DroppedEvents returns the number of events dropped due to channel overflow.
func (w *Watcher) DroppedEvents() int64 {
	return w.droppedEvents.Load()
}

func (w *Watcher) skipDir(base string) bool {
	return w.excludes[base] || strings.HasPrefix(base, ".")
}

// addWatchesRecursive adds watches to all directories below root.
func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.logger.Warn("Failed to walk directory", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skipDir(d.Name()) {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory",
				"path", path,
				"error", err)
		} else {
			w.logger.Debug("Watching directory", "path", path)
		}
		return nil
	})
}

// processEvents handles fsnotify events with debouncing.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.events)
	tick := w.delay / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushSettled(ctx)
		}
	}
}

// studyOf returns the study a path belongs to: the first path element
// below the root.
func (w *Watcher) studyOf(path string) (string, string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, p := range parts[:len(parts)-1] {
		if w.skipDir(p) {
			return "", "", false
		}
	}
	if len(parts) == 1 && w.skipDir(parts[0]) {
		return "", "", false
	}
	return parts[0], filepath.ToSlash(rel), true
}

// handleFSEvent processes a single fsnotify event.
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	study, rel, ok := w.studyOf(event.Name)
	if !ok {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.handleNewDirectory(event.Name)
		}
	}

	w.pendingMu.Lock()
	p, exists := w.pending[study]
	if !exists {
		p = &pendingStudy{paths: make(map[string]struct{})}
		w.pending[study] = p
	}
	p.paths[rel] = struct{}{}
	p.last = w.now()
	w.pendingMu.Unlock()

	w.logger.Debug("Study change detected",
		"study", study,
		"path", rel,
		"op", event.Op.String())
}

// handleNewDirectory watches a new directory and everything already inside it.
func (w *Watcher) handleNewDirectory(path string) {
	if w.skipDir(filepath.Base(path)) {
		return
	}
	if err := w.addWatchesRecursive(path); err != nil {
		w.logger.Warn("Failed to watch new directory",
			"path", path,
			"error", err)
		return
	}
	w.logger.Debug("Added watch for new directory", "path", path)
}

// flushSettled emits every study that has been quiet for the debounce delay.
func (w *Watcher) flushSettled(ctx context.Context) {
	now := w.now()

	w.pendingMu.Lock()
	var ready []Event
	for study, p := range w.pending {
		if now.Sub(p.last) < w.delay {
			continue
		}
		paths := make([]string, 0, len(p.paths))
		for path := range p.paths {
			paths = append(paths, path)
		}
		slices.Sort(paths)
		ready = append(ready, Event{Study: study, Paths: paths})
		delete(w.pending, study)
	}
	w.pendingMu.Unlock()

	slices.SortFunc(ready, func(a, b Event) int { return strings.Compare(a.Study, b.Study) })
	for _, event := range ready {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.sendEvent(event)
	}
}

// sendEvent sends an event to the output channel.
func (w *Watcher) sendEvent(event Event) {
	select {
	case w.events <- event:
		w.logger.Debug("Sent study event",
			"study", event.Study,
			"paths", len(event.Paths))
	default:
		dropped := w.droppedEvents.Add(1)
		w.logger.Warn("Event channel full, dropping event",
			"study", event.Study,
			"total_dropped", dropped)
	}
}
