// Package watcher turns filesystem notifications under the source root into
// incremental engine calls.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize        = 64
	defaultDebounceTimeout = 50 * time.Millisecond
	watchedEvents          = notify.Create | notify.Write | notify.Rename
)

// FilterCallback returns true if the event for path should be dropped
type FilterCallback func(path string) bool

type FileWatcher struct {
	watchDir  string
	logger    *slog.Logger
	events    chan notify.EventInfo
	rawEvents chan notify.EventInfo
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// debouncing
	pendingEvents   map[string]notify.EventInfo
	eventTimers     map[string]*time.Timer
	debounceMu      sync.Mutex
	debounceTimeout time.Duration
	closed          bool

	filter   FilterCallback
	filterMu sync.RWMutex
}

func NewFileWatcher(watchDir string, logger *slog.Logger) *FileWatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FileWatcher{
		watchDir:        watchDir,
		logger:          logger.With("component", "watcher"),
		done:            make(chan struct{}),
		pendingEvents:   make(map[string]notify.EventInfo),
		eventTimers:     make(map[string]*time.Timer),
		debounceTimeout: defaultDebounceTimeout,
	}
}

// SetDebounceTimeout sets how long a path must stay quiet before its event
// is delivered. Call before Start.
func (fw *FileWatcher) SetDebounceTimeout(timeout time.Duration) {
	fw.debounceTimeout = timeout
}

// FilterPaths sets a callback that drops raw events before debouncing.
func (fw *FileWatcher) FilterPaths(callback FilterCallback) {
	fw.filterMu.Lock()
	defer fw.filterMu.Unlock()
	fw.filter = callback
}

func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.logger.Info("file watcher start", "dir", fw.watchDir)

	fw.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	fw.events = make(chan notify.EventInfo, eventBufferSize)

	recursivePath := fw.watchDir + "/..."
	if err := notify.Watch(recursivePath, fw.rawEvents, watchedEvents); err != nil {
		return err
	}

	fw.wg.Add(1)
	go fw.filterEvents(ctx)

	return nil
}

func (fw *FileWatcher) Stop() {
	fw.stopOnce.Do(func() {
		fw.logger.Info("file watcher stopping")
		close(fw.done)
		if fw.rawEvents != nil {
			notify.Stop(fw.rawEvents)
		}
		fw.wg.Wait()
		fw.logger.Info("file watcher stopped")
	})
}

// Events is closed once the watcher stops.
func (fw *FileWatcher) Events() <-chan notify.EventInfo {
	return fw.events
}

func (fw *FileWatcher) shouldDrop(path string) bool {
	fw.filterMu.RLock()
	defer fw.filterMu.RUnlock()
	return fw.filter != nil && fw.filter(path)
}

func (fw *FileWatcher) filterEvents(ctx context.Context) {
	defer func() {
		fw.debounceMu.Lock()
		fw.closed = true
		for path, timer := range fw.eventTimers {
			timer.Stop()
			if event, ok := fw.pendingEvents[path]; ok {
				fw.send(event)
			}
		}
		clear(fw.eventTimers)
		clear(fw.pendingEvents)
		close(fw.events)
		fw.debounceMu.Unlock()

		fw.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.rawEvents:
			if !ok {
				return
			}
			if fw.shouldDrop(event.Path()) {
				continue
			}
			// writing a file raises a burst of events until it is complete
			fw.debounceEvent(event)
		}
	}
}

func (fw *FileWatcher) debounceEvent(event notify.EventInfo) {
	path := event.Path()

	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if timer, ok := fw.eventTimers[path]; ok {
		timer.Stop()
	}
	fw.pendingEvents[path] = event
	fw.eventTimers[path] = time.AfterFunc(fw.debounceTimeout, func() {
		fw.flushEvent(path)
	})
}

func (fw *FileWatcher) flushEvent(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if fw.closed {
		return
	}
	event, ok := fw.pendingEvents[path]
	if !ok {
		return
	}
	delete(fw.pendingEvents, path)
	delete(fw.eventTimers, path)
	fw.send(event)
}

// send must be called with debounceMu held.
func (fw *FileWatcher) send(event notify.EventInfo) {
	select {
	case fw.events <- event:
		fw.logger.Debug("file watcher", "event", event.Event(), "path", event.Path())
	default:
		fw.logger.Warn("file watcher dropped", "reason", "channel full", "path", event.Path())
	}
}
