// Package watcher polls a file's modification time and reports changes.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dosplay/internal/debounce"
)

// Default timings. Both were tuned by hand against the DOS runtime's write
// pattern and are configurable.
const (
	DefaultPollInterval = 300 * time.Millisecond
	DefaultDebounce     = 350 * time.Millisecond
)

// StatFunc returns the modification time of path.
type StatFunc func(path string) (time.Time, error)

// Option configures a Watcher.
type Option func(*Watcher)

// WithPollInterval sets how often the file is polled.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDebounce sets the quiet period before onChange runs.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounceDelay = d
		}
	}
}

// WithLogger sets the logger used for transient stat failures.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher monitors one path. The first successful stat after starting, or
// after a failed stat, only records a baseline; later stats that differ from
// the baseline trigger a debounced onChange.
type Watcher struct {
	stat          StatFunc
	path          string
	onChange      func()
	interval      time.Duration
	debounceDelay time.Duration
	logger        *slog.Logger

	// State tracking: last observed modification time
	stateMu sync.Mutex
	known   bool
	last    time.Time

	debouncer *debounce.Debouncer

	// Control
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher for path. It does nothing until Start is called.
func New(stat StatFunc, path string, onChange func(), opts ...Option) *Watcher {
	w := &Watcher{
		stat:          stat,
		path:          path,
		onChange:      onChange,
		interval:      DefaultPollInterval,
		debounceDelay: DefaultDebounce,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.debouncer = debounce.New(w.debounceDelay, w.onChange)
	return w
}

// Start begins polling. Polling runs until ctx is cancelled or Stop is
// called; a watcher is meant to live as long as its session. Calling Start
// on a running watcher does nothing.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.pollLoop(ctx)
}

// Stop ends polling, drops a pending onChange and waits for the poll
// goroutine to exit. The watcher can be started again afterwards.
func (w *Watcher) Stop() {
	w.halt()
	w.debouncer.Cancel()
}

// Drain ends polling like Stop, but runs a pending onChange before it
// returns instead of dropping it.
func (w *Watcher) Drain() {
	w.halt()
	w.debouncer.Flush()
}

func (w *Watcher) halt() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	w.wg.Wait()
}

// Path returns the watched path.
func (w *Watcher) Path() string {
	return w.path
}

// Baseline returns the last observed modification time, and false when the
// watcher has no baseline.
func (w *Watcher) Baseline() (time.Time, bool) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.last, w.known
}

// pollLoop ticks until the context ends.
func (w *Watcher) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll performs one stat and updates the baseline. It reports whether a
// change was detected.
func (w *Watcher) poll() bool {
	modified, err := w.stat(w.path)

	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if err != nil {
		// the file may be mid-write; start over from the next good read
		if w.known {
			w.logger.Debug("watched file unavailable", "path", w.path, "error", err)
		}
		w.known = false
		w.last = time.Time{}
		return false
	}

	if !w.known {
		w.known = true
		w.last = modified
		return false
	}

	if modified.Equal(w.last) {
		return false
	}

	w.last = modified
	w.debouncer.Trigger()
	return true
}
