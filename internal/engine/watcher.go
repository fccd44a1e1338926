package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	DefaultIgnoreTimeout   = time.Second
	defaultCleanupInterval = 15 * time.Second
	eventBufferSize        = 64
	defaultDebounceTimeout = 50 * time.Millisecond
)

// FilterCallback returns true if the event for path should be dropped.
type FilterCallback func(path string) bool

// RootWatcher watches both sync roots recursively and surfaces debounced
// change events. Paths the engine writes itself are registered through
// IgnoreOnce so a run does not retrigger itself.
type RootWatcher struct {
	roots           []string
	events          chan notify.EventInfo
	rawEvents       chan notify.EventInfo
	ignore          map[string]time.Time
	ignoreMu        sync.RWMutex
	cleanupInterval time.Duration
	done            chan struct{}
	wg              sync.WaitGroup
	pendingEvents   map[string]notify.EventInfo
	eventTimers     map[string]*time.Timer
	debounceMu      sync.Mutex
	debounceTimeout time.Duration
	ignoreCallback  FilterCallback
	callbackMu      sync.RWMutex
}

func NewRootWatcher(roots ...string) *RootWatcher {
	return &RootWatcher{
		roots:           roots,
		ignore:          make(map[string]time.Time),
		cleanupInterval: defaultCleanupInterval,
		done:            make(chan struct{}),
		pendingEvents:   make(map[string]notify.EventInfo),
		eventTimers:     make(map[string]*time.Timer),
		debounceTimeout: defaultDebounceTimeout,
	}
}

func (w *RootWatcher) SetDebounceTimeout(timeout time.Duration) {
	w.debounceTimeout = timeout
}

// FilterPaths installs a callback that drops raw events before
// debouncing. Used to keep ignored paths from waking the sync loop.
func (w *RootWatcher) FilterPaths(callback FilterCallback) {
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.ignoreCallback = callback
}

func (w *RootWatcher) Start(ctx context.Context) error {
	slog.Info("root watcher start", "roots", w.roots)

	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	w.events = make(chan notify.EventInfo, eventBufferSize)

	for _, root := range w.roots {
		if err := notify.Watch(root+"/...", w.rawEvents, notify.All); err != nil {
			notify.Stop(w.rawEvents)
			return err
		}
	}

	w.wg.Add(1)
	go w.filterEvents(ctx)

	w.wg.Add(1)
	go w.cleanupExpired(ctx)

	return nil
}

func (w *RootWatcher) Stop() {
	slog.Info("root watcher stopping")

	close(w.done)
	if w.rawEvents != nil {
		notify.Stop(w.rawEvents)
	}
	w.wg.Wait()

	slog.Info("root watcher stopped")
}

func (w *RootWatcher) Events() <-chan notify.EventInfo {
	return w.events
}

// IgnoreOnce suppresses the next event for path within the default
// timeout window.
func (w *RootWatcher) IgnoreOnce(path string) {
	w.IgnoreOnceFor(path, DefaultIgnoreTimeout)
}

// IgnoreOnceFor suppresses the next event for path within the given
// window.
func (w *RootWatcher) IgnoreOnceFor(path string, timeout time.Duration) {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()
	w.ignore[path] = time.Now().Add(timeout)
}

// consumeIgnore reports whether path has a pending one-shot ignore and
// clears it either way.
func (w *RootWatcher) consumeIgnore(path string) bool {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()

	expiry, exists := w.ignore[path]
	if !exists {
		return false
	}
	delete(w.ignore, path)
	return !time.Now().After(expiry)
}

// filterEvents drops filtered paths and debounces the rest. On linux a
// single write produces a burst of inotify events until the file is
// fully written; debouncing collapses the burst at the cost of a small
// added latency.
func (w *RootWatcher) filterEvents(ctx context.Context) {
	defer func() {
		w.debounceMu.Lock()
		for path, timer := range w.eventTimers {
			timer.Stop()
			if event, exists := w.pendingEvents[path]; exists {
				select {
				case w.events <- event:
				default:
					slog.Warn("root watcher channel full during exit, dropping event", "path", path)
				}
			}
		}
		// a timer that already fired blocks on debounceMu; emptied maps
		// turn its flush into a no-op instead of a send on a closed channel
		clear(w.pendingEvents)
		clear(w.eventTimers)
		w.debounceMu.Unlock()

		w.wg.Done()
		close(w.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}
			w.callbackMu.RLock()
			filter := w.ignoreCallback
			w.callbackMu.RUnlock()
			if filter != nil && filter(event.Path()) {
				continue
			}
			w.debounceEvent(event)
		}
	}
}

func (w *RootWatcher) debounceEvent(event notify.EventInfo) {
	path := event.Path()

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.eventTimers[path]; exists {
		timer.Stop()
		delete(w.eventTimers, path)
	}
	w.pendingEvents[path] = event
	w.eventTimers[path] = time.AfterFunc(w.debounceTimeout, func() {
		w.flushEvent(path)
	})
}

func (w *RootWatcher) flushEvent(path string) {
	w.debounceMu.Lock()
	event, exists := w.pendingEvents[path]
	if !exists {
		w.debounceMu.Unlock()
		return
	}
	delete(w.pendingEvents, path)
	delete(w.eventTimers, path)
	w.debounceMu.Unlock()

	// the ignore check runs at flush time so a write that happened while
	// the event was pending still suppresses it
	if w.consumeIgnore(path) {
		return
	}

	select {
	case w.events <- event:
		slog.Debug("root watcher", "event", event.Event(), "path", path)
	default:
		slog.Warn("root watcher dropped", "reason", "channel full", "path", path)
	}
}

func (w *RootWatcher) cleanupExpired(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.ignoreMu.Lock()
			now := time.Now()
			for path, expiry := range w.ignore {
				if now.After(expiry) {
					delete(w.ignore, path)
				}
			}
			w.ignoreMu.Unlock()
		}
	}
}
