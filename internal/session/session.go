// Package session runs one game: it boots the embedded runtime with its
// keyboard handlers intercepted, restores and persists the save file, and
// feeds remapped keyboard and joystick input to the runtime.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"dosplay/internal/intercept"
	"dosplay/internal/keyevent"
	"dosplay/internal/keymap"
	"dosplay/internal/metrics"
	"dosplay/internal/notify"
	"dosplay/internal/store"
	"dosplay/internal/vfs"
	"dosplay/internal/watcher"
)

var (
	// ErrBoot is returned by Start when the runtime cannot be created, the
	// game archive cannot be extracted or the program cannot be launched.
	ErrBoot = errors.New("boot failed")

	// ErrNoSave is returned when there is no stored save file.
	ErrNoSave = errors.New("no stored save file")

	// ErrNotStarted is returned by operations that need a started session.
	ErrNotStarted = errors.New("session not started")
)

// DefaultSafeExitWindow is how long after an autosave SafeToExit reports
// true.
const DefaultSafeExitWindow = 5 * time.Second

// Files is the persistent store holding a game's save file.
type Files interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// OpenFunc opens the store for the named game at the given version.
type OpenFunc func(ctx context.Context, name string, version int) (Files, error)

// StoreOpener returns an OpenFunc opening SQLite stores under dir.
func StoreOpener(dir string) OpenFunc {
	return func(ctx context.Context, name string, version int) (Files, error) {
		st, err := store.Open(ctx, dir, name, version)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}

// Options describes the game to run.
type Options struct {
	Mod      string
	Entry    string
	SaveFile string
	// Archive is the host path of the zip holding the game files.
	Archive string
	Runtime RuntimeOptions

	// StoreVersion defaults to 1.
	StoreVersion int
	// Zero selects the watcher defaults.
	PollInterval time.Duration
	Debounce     time.Duration
	// SafeExitWindow defaults to DefaultSafeExitWindow.
	SafeExitWindow time.Duration
	// KeyMap defaults to keymap.Default().
	KeyMap *keymap.Table
}

// Deps are the collaborators of a session. Document, Factory and Open are
// required.
type Deps struct {
	Document intercept.EventTarget
	Factory  Factory
	Open     OpenFunc
	Registry *intercept.Registry
	Notifier notify.Notifier
	Metrics  *metrics.Dosplay
	Logger   *slog.Logger
}

// Session is a running game.
type Session struct {
	opts     Options
	document intercept.EventTarget
	factory  Factory
	open     OpenFunc
	registry *intercept.Registry
	notifier notify.Notifier
	metrics  *metrics.Dosplay
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	started   bool
	closed    bool
	runtime   Runtime
	files     Files
	watcher   *watcher.Watcher
	captured  map[string][]intercept.Handler
	stick     *keymap.Stick
	safeUntil time.Time
}

// New returns a session that has not been started.
func New(opts Options, deps Deps) (*Session, error) {
	if deps.Document == nil || deps.Factory == nil || deps.Open == nil {
		return nil, errors.New("new session: document, factory and store opener are required")
	}
	if opts.Mod == "" || opts.Entry == "" || opts.SaveFile == "" {
		return nil, errors.New("new session: mod, entry and save file are required")
	}
	if opts.StoreVersion <= 0 {
		opts.StoreVersion = 1
	}
	if opts.SafeExitWindow <= 0 {
		opts.SafeExitWindow = DefaultSafeExitWindow
	}
	if opts.KeyMap == nil {
		opts.KeyMap = keymap.Default()
	}

	s := &Session{
		opts:     opts,
		document: deps.Document,
		factory:  deps.Factory,
		open:     deps.Open,
		registry: deps.Registry,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      time.Now,
		stick:    keymap.NewStick(opts.KeyMap),
	}
	if s.registry == nil {
		s.registry = intercept.NewRegistry()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "session", "mod", opts.Mod)
	if s.notifier == nil {
		s.notifier = notify.Log{Logger: s.logger}
	}
	return s, nil
}

// Start boots the game:
//
//  1. keyboard handler registration on the document is intercepted;
//  2. the store is opened (failure only disables persistence);
//  3. the runtime is created on the intercepted document;
//  4. the game archive is extracted into the runtime's filesystem;
//  5. a stored save file, if any, is written into the filesystem;
//  6. the entry program is launched with -c;
//  7. the captured handlers are taken over and the document restored;
//  8. the save file is watched and stored whenever it changes.
//
// Failures in steps 3 to 6 wrap ErrBoot.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	s.mu.Unlock()

	begin := time.Now()
	shim := s.registry.Block(s.document, keyevent.KeyDown, keyevent.KeyUp, keyevent.KeyPress)

	files, err := s.open(ctx, s.opts.Mod, s.opts.StoreVersion)
	if err != nil {
		s.report("Save storage is unavailable; progress will not be kept", err)
		files = nil
	}

	rt, err := s.factory.Create(ctx, shim, s.opts.Runtime)
	if err != nil {
		return s.abort(files, nil, fmt.Errorf("%w: create runtime: %w", ErrBoot, err))
	}
	fsys := rt.FS()
	if err := fsys.Extract(ctx, s.opts.Archive); err != nil {
		return s.abort(files, rt, fmt.Errorf("%w: extract %s: %w", ErrBoot, s.opts.Archive, err))
	}
	if err := s.injectSave(ctx, files, fsys); err != nil {
		return s.abort(files, rt, fmt.Errorf("%w: restore save file: %w", ErrBoot, err))
	}
	if err := rt.Launch(ctx, []string{"-c", s.opts.Entry}); err != nil {
		return s.abort(files, rt, fmt.Errorf("%w: launch %s: %w", ErrBoot, s.opts.Entry, err))
	}

	captured := map[string][]intercept.Handler{
		keyevent.KeyDown: s.registry.CapturedHandlers(s.document, keyevent.KeyDown),
		keyevent.KeyUp:   s.registry.CapturedHandlers(s.document, keyevent.KeyUp),
	}
	s.registry.Restore(s.document)

	var wopts []watcher.Option
	wopts = append(wopts, watcher.WithLogger(s.logger))
	if s.opts.PollInterval > 0 {
		wopts = append(wopts, watcher.WithPollInterval(s.opts.PollInterval))
	}
	if s.opts.Debounce > 0 {
		wopts = append(wopts, watcher.WithDebounce(s.opts.Debounce))
	}
	w := watcher.New(vfs.ModTime(fsys), s.opts.SaveFile, s.saveChanged(ctx, fsys), wopts...)

	s.mu.Lock()
	s.runtime = rt
	s.files = files
	s.captured = captured
	s.watcher = w
	s.mu.Unlock()

	s.document.AddEventListener(keyevent.KeyDown, s.onKey)
	s.document.AddEventListener(keyevent.KeyUp, s.onKey)
	w.Start(ctx)

	n := len(captured[keyevent.KeyDown]) + len(captured[keyevent.KeyUp])
	s.metrics.SetCapturedHandlers(n)
	if s.metrics != nil {
		s.metrics.BootDuration.Since(begin)
	}
	s.logger.Info("session started", "entry", s.opts.Entry, "captured_handlers", n, "persistent", files != nil)
	return nil
}

// abort undoes a partial start.
func (s *Session) abort(files Files, rt Runtime, err error) error {
	s.registry.Restore(s.document)
	if rt != nil {
		rt.Close()
	}
	if files != nil {
		files.Close()
	}
	s.metrics.Error()
	s.logger.Error("session start failed", "error", err)
	return err
}

// injectSave writes the stored save file into the virtual filesystem. A
// missing save writes nothing.
func (s *Session) injectSave(ctx context.Context, files Files, fsys vfs.FS) error {
	if files == nil {
		return nil
	}
	data, err := files.Load(ctx, s.opts.SaveFile)
	if err != nil {
		s.report("Could not read the stored save file", err)
		return nil
	}
	if data == nil {
		return nil
	}
	if err := fsys.WriteFile(s.opts.SaveFile, data); err != nil {
		return err
	}
	s.metrics.SaveLoaded()
	s.notifier.Notify(notify.SaveLoaded, "Save file restored")
	return nil
}

// saveChanged persists the save file after the watcher reports a change.
// The store write outlives ctx because Close drains a pending change after
// the session context is gone.
func (s *Session) saveChanged(ctx context.Context, fsys vfs.FS) func() {
	ctx = context.WithoutCancel(ctx)
	return func() {
		s.metrics.ChangeDetected()
		data, err := fsys.ReadFile(s.opts.SaveFile)
		if err != nil {
			s.report("Could not read the save file", err)
			return
		}

		s.mu.Lock()
		files := s.files
		s.mu.Unlock()
		if files == nil {
			s.logger.Debug("save file changed, no store to persist to")
			return
		}
		if err := files.Save(ctx, s.opts.SaveFile, data); err != nil {
			s.report("Could not store the save file", err)
			return
		}

		s.mu.Lock()
		s.safeUntil = s.now().Add(s.opts.SafeExitWindow)
		s.mu.Unlock()
		s.metrics.SaveStored()
		s.notifier.Notify(notify.SaveStored, "Game saved")
		s.logger.Info("save file stored", "file", s.opts.SaveFile, "size", len(data))
	}
}

func (s *Session) report(message string, err error) {
	s.metrics.Error()
	s.logger.Warn(message, "error", err)
	s.notifier.Notify(notify.Failure, message)
}

// onKey translates a physical key event through the key map.
func (s *Session) onKey(ev intercept.Event) {
	switch e := ev.(type) {
	case keyevent.Physical:
		s.dispatch(e.Kind, s.opts.KeyMap.Resolve(e.Code, e.KeyCode))
	case keyevent.Coded:
		s.dispatch(e.Type(), e.KeyCode())
	}
}

// dispatch delivers a synthetic event to every captured handler of kind in
// registration order.
func (s *Session) dispatch(kind string, code int) {
	s.mu.Lock()
	handlers := s.captured[kind]
	s.mu.Unlock()

	ev := keyevent.New(kind, code)
	for _, h := range handlers {
		h(ev)
	}
	s.metrics.KeyEvent()
}

// KeyDown sends a key press with a raw keypad code, as an on-screen button
// would.
func (s *Session) KeyDown(code int) {
	s.dispatch(keyevent.KeyDown, code)
}

// KeyUp sends a key release with a raw keypad code.
func (s *Session) KeyUp(code int) {
	s.dispatch(keyevent.KeyUp, code)
}

// Joystick updates the virtual joystick. force is in 0..1 and bearing in
// degrees clockwise from up.
func (s *Session) Joystick(force, bearing float64) {
	s.mu.Lock()
	tr := s.stick.Move(force, bearing)
	s.mu.Unlock()
	s.apply(tr)
}

// JoystickEnd releases the joystick.
func (s *Session) JoystickEnd() {
	s.mu.Lock()
	tr := s.stick.End()
	s.mu.Unlock()
	s.apply(tr)
}

func (s *Session) apply(tr keymap.Transition) {
	if tr.Release != 0 {
		s.dispatch(keyevent.KeyUp, tr.Release)
	}
	if tr.Press != 0 {
		s.dispatch(keyevent.KeyDown, tr.Press)
	}
}

// SafeToExit reports whether the save file was stored recently enough that
// quitting now loses nothing.
func (s *Session) SafeToExit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.safeUntil)
}

// Runtime returns the running runtime, or nil before Start.
func (s *Session) Runtime() Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtime
}

func (s *Session) store() (Files, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.runtime == nil {
		return nil, ErrNotStarted
	}
	if s.files == nil {
		return nil, store.ErrUnavailable
	}
	return s.files, nil
}

// ResetSave deletes the stored save file. The running game keeps its copy
// until it is restarted.
func (s *Session) ResetSave(ctx context.Context) error {
	files, err := s.store()
	if err != nil {
		return err
	}
	if err := files.Delete(ctx, s.opts.SaveFile); err != nil {
		s.report("Could not delete the save file", err)
		return fmt.Errorf("delete save file: %w", err)
	}
	s.notifier.Notify(notify.SaveDeleted, "Save file deleted")
	return nil
}

// ExportSave writes the stored save file to w.
func (s *Session) ExportSave(ctx context.Context, w io.Writer) error {
	files, err := s.store()
	if err != nil {
		return err
	}
	data, err := files.Load(ctx, s.opts.SaveFile)
	if err != nil {
		s.report("Could not read the stored save file", err)
		return fmt.Errorf("load save file: %w", err)
	}
	if data == nil {
		s.notifier.Notify(notify.Failure, "There is no save file yet")
		return ErrNoSave
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write save file: %w", err)
	}
	s.notifier.Notify(notify.SaveExported, "Save file exported")
	return nil
}

// ImportSave replaces the stored save file with the contents of r. The
// running game picks it up on its next start.
func (s *Session) ImportSave(ctx context.Context, r io.Reader) error {
	files, err := s.store()
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read save file: %w", err)
	}
	if err := files.Save(ctx, s.opts.SaveFile, data); err != nil {
		s.report("Could not store the save file", err)
		return fmt.Errorf("save file: %w", err)
	}
	s.notifier.Notify(notify.SaveImported, "Save file imported")
	return nil
}

// Close stops watching, stores a save change still waiting on the debounce
// and releases the runtime and the store. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	w, rt, files := s.watcher, s.runtime, s.files
	s.mu.Unlock()

	if w != nil {
		w.Drain()
	}
	var errs []error
	if rt != nil {
		errs = append(errs, rt.Close())
	}
	if files != nil {
		errs = append(errs, files.Close())
	}
	return errors.Join(errs...)
}
