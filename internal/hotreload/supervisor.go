// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

// Package hotreload watches the bundle directory and drives plugin
// reloads when bundles change on disk. Off by default; enabled only by
// explicit configuration.
package hotreload

import (
	"archive/zip"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"
	retry "github.com/sethvargo/go-retry"
)

// EnvVar is the environment switch for hot reload. Any value other
// than a true-equivalent literal, including unset, means disabled.
const EnvVar = "QUILLBOOKS_PLUGIN_RELOAD"

// EnabledFromEnv reports whether hot reload is switched on via EnvVar.
func EnabledFromEnv() bool {
	v, err := strconv.ParseBool(os.Getenv(EnvVar))
	return err == nil && v
}

// DefaultDebounce is how long the supervisor waits after the last
// change before reloading. MinDebounce is the floor.
const (
	DefaultDebounce = 500 * time.Millisecond
	MinDebounce     = time.Millisecond
)

// Phase identifies a point in a reload cycle.
type Phase uint8

const (
	// PhaseStarted fires before any lifecycle step runs.
	PhaseStarted Phase = iota
	// PhaseCompleted fires after a successful reload.
	PhaseCompleted
	// PhaseFailed fires when a lifecycle step errors; Err carries the
	// cause.
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseStarted:
		return "started"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Notification is delivered to the listener once per reload phase.
type Notification struct {
	PluginID string
	Phase    Phase
	Err      error
}

// Listener receives reload notifications. Called from the supervisor's
// reload goroutine.
type Listener func(Notification)

// Reloader tears a plugin down and brings it back up from its bundle.
type Reloader interface {
	Reload(ctx context.Context, pluginID string) error
}

// Option configures the Supervisor.
type Option func(*Supervisor)

// WithDebounce sets the debounce delay, clamped to MinDebounce.
func WithDebounce(d time.Duration) Option {
	return func(s *Supervisor) {
		if d < MinDebounce {
			d = MinDebounce
		}
		s.debounce = d
	}
}

// WithListener sets the reload notification listener.
func WithListener(l Listener) Option {
	return func(s *Supervisor) { s.listener = l }
}

// Supervisor watches one directory for bundle changes and schedules
// debounced reloads of the plugins registered with it. A second change
// to the same plugin inside the debounce window cancels and reschedules
// the pending reload, so a burst of writes produces one cycle.
type Supervisor struct {
	dir      string
	reloader Reloader
	debounce time.Duration
	listener Listener

	mu      sync.Mutex
	plugins map[string]string      // bundle path -> plugin id
	timers  map[string]*time.Timer // plugin id -> pending reload
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	running bool

	loopDone sync.WaitGroup
	inflight sync.WaitGroup
}

// New creates a supervisor over dir. It does nothing until Start.
func New(dir string, reloader Reloader, opts ...Option) *Supervisor {
	s := &Supervisor{
		dir:      dir,
		reloader: reloader,
		debounce: DefaultDebounce,
		plugins:  make(map[string]string),
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterPlugin maps a bundle path to the plugin reloaded when that
// path changes.
func (s *Supervisor) RegisterPlugin(pluginID, bundlePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugins[filepath.Clean(bundlePath)] = pluginID
}

// UnregisterPlugin stops watching for a plugin and cancels any pending
// reload.
func (s *Supervisor) UnregisterPlugin(pluginID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for path, id := range s.plugins {
		if id == pluginID {
			delete(s.plugins, path)
		}
	}
	if timer, ok := s.timers[pluginID]; ok {
		timer.Stop()
		delete(s.timers, pluginID)
	}
}

// Start begins watching the bundle directory. Idempotent.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.Code("RELOAD_WATCH_FAILED").
			Wrapf(err, "create filesystem watcher")
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return oops.Code("RELOAD_WATCH_FAILED").
			With("dir", s.dir).
			Wrapf(err, "watch bundle directory")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.watcher = watcher
	s.cancel = cancel
	s.running = true

	s.loopDone.Add(1)
	go s.loop(loopCtx, watcher)

	slog.Info("hot reload enabled",
		"dir", s.dir,
		"debounce", s.debounce)
	return nil
}

// Stop cancels pending reload timers and closes the watcher, waiting
// for the watch loop and any in-flight reloads to finish. Idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.cancel()
	_ = s.watcher.Close()
	s.watcher = nil
	s.mu.Unlock()

	s.loopDone.Wait()
	s.inflight.Wait()
	slog.Info("hot reload stopped", "dir", s.dir)
}

func (s *Supervisor) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer s.loopDone.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			s.handleChange(ctx, ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("bundle watcher error", "error", err)
		}
	}
}

// handleChange schedules a debounced reload for the plugin registered
// at path, replacing any reload already pending for it.
func (s *Supervisor) handleChange(ctx context.Context, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	id, ok := s.plugins[filepath.Clean(path)]
	if !ok {
		return
	}

	if timer, pending := s.timers[id]; pending {
		timer.Stop()
	}
	s.timers[id] = time.AfterFunc(s.debounce, func() {
		s.reload(ctx, id)
	})
}

func (s *Supervisor) reload(ctx context.Context, id string) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	bundlePath := ""
	for path, pid := range s.plugins {
		if pid == id {
			bundlePath = path
			break
		}
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	s.notify(Notification{PluginID: id, Phase: PhaseStarted})
	slog.Info("reload started", "plugin", id)

	// The bundle may still be mid-write when the debounce fires.
	// Wait for it to open cleanly before reloading.
	if bundlePath != "" {
		if err := waitReadable(ctx, bundlePath); err != nil {
			s.notify(Notification{PluginID: id, Phase: PhaseFailed, Err: err})
			slog.Error("reload failed", "plugin", id, "error", err)
			return
		}
	}

	if err := s.reloader.Reload(ctx, id); err != nil {
		s.notify(Notification{PluginID: id, Phase: PhaseFailed, Err: err})
		slog.Error("reload failed", "plugin", id, "error", err)
		return
	}

	s.notify(Notification{PluginID: id, Phase: PhaseCompleted})
	slog.Info("reload completed", "plugin", id)
}

func (s *Supervisor) notify(n Notification) {
	if s.listener != nil {
		s.listener(n)
	}
}

// waitReadable retries opening the bundle as an archive until it reads
// cleanly or the retry budget runs out.
func waitReadable(ctx context.Context, path string) error {
	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(50*time.Millisecond))
	return retry.Do(ctx, backoff, func(context.Context) error {
		r, err := zip.OpenReader(path)
		if err != nil {
			return retry.RetryableError(err)
		}
		_ = r.Close()
		return nil
	})
}
