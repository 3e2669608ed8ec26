// Package jsdos hosts the embedded DOS front-end runtime on a goja event
// loop.
//
// The runtime evaluates a bootstrap script with these globals:
//
//	document.addEventListener(type, fn)  registers a keyboard handler
//	fs.readFile(path)                    Uint8Array contents of a C: file
//	fs.readText(path)                    contents as a string
//	fs.writeFile(path, data)             string, ArrayBuffer or Uint8Array
//	fs.exists(path)                      boolean
//	fs.stat(path)                        {size, mtime} (mtime in ms)
//	dos.cycles                           configured CPU speed hint
//	console.log/info/debug/warn/error    routed to the logger
//	setTimeout, setInterval, require     from goja_nodejs
//
// Launch calls the script's main(argv) and waits for it to return or, when
// it returns a promise, to settle. Handlers the script registers are invoked
// on the loop goroutine in the order their events are dispatched.
package jsdos

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"

	"dosplay/internal/intercept"
	"dosplay/internal/vfs"
)

//go:embed bootstrap.js
var defaultBootstrap string

// DefaultBootstrapName is the script name reported for the built-in
// bootstrap.
const DefaultBootstrapName = "bootstrap.js"

var (
	// ErrClosed is returned by operations on a closed runtime.
	ErrClosed = errors.New("runtime closed")

	// ErrNoMain is returned by Launch when the bootstrap defines no main.
	ErrNoMain = errors.New("bootstrap defines no main function")

	// ErrMain wraps an exception thrown or a rejection returned by main.
	ErrMain = errors.New("main failed")
)

// Options configures Boot.
type Options struct {
	// Bootstrap is the host path of the script to evaluate. Empty selects
	// the built-in script.
	Bootstrap string
	Cycles    int
	// Drive is the host directory backing the C: drive.
	Drive  string
	Logger *slog.Logger
}

// Runtime is a booted script runtime.
type Runtime struct {
	loop     *eventloop.EventLoop
	drive    *vfs.Dir
	document intercept.EventTarget
	cycles   int
	logger   *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// Boot starts an event loop, installs the globals and evaluates the
// bootstrap script. Handlers the script registers go to document.
func Boot(ctx context.Context, document intercept.EventTarget, opts Options) (*Runtime, error) {
	if document == nil {
		return nil, errors.New("boot runtime: nil document")
	}
	name, src, err := loadBootstrap(opts.Bootstrap)
	if err != nil {
		return nil, fmt.Errorf("load bootstrap: %w", err)
	}
	drive, err := vfs.NewDir(opts.Drive)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var base string
	if name != DefaultBootstrapName {
		base = filepath.Dir(name)
	}
	registry := require.NewRegistry(require.WithLoader(moduleLoader(base)))
	loop := eventloop.NewEventLoop(
		eventloop.WithRegistry(registry),
		eventloop.EnableConsole(false),
	)

	r := &Runtime{
		loop:     loop,
		drive:    drive,
		document: document,
		cycles:   opts.Cycles,
		logger:   logger.With("component", "jsdos"),
	}
	loop.Start()

	err = r.run(ctx, func(vm *goja.Runtime) error {
		if err := r.install(vm); err != nil {
			return err
		}
		_, err := vm.RunScript(name, src)
		return err
	})
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("evaluate bootstrap: %w", err)
	}
	r.logger.Debug("runtime booted", "bootstrap", name, "drive", drive.Root())
	return r, nil
}

func loadBootstrap(path string) (name, src string, err error) {
	if path == "" {
		return DefaultBootstrapName, defaultBootstrap, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", "", err
	}
	return abs, string(data), nil
}

// moduleLoader confines require() to files below base. With no base every
// lookup fails.
func moduleLoader(base string) require.SourceLoader {
	return func(p string) ([]byte, error) {
		if base == "" {
			return nil, require.ModuleFileDoesNotExistError
		}
		full := filepath.FromSlash(p)
		if !filepath.IsAbs(full) {
			full = filepath.Join(base, full)
		}
		rel, err := filepath.Rel(base, full)
		if err != nil || !filepath.IsLocal(rel) {
			return nil, require.ModuleFileDoesNotExistError
		}
		data, err := os.ReadFile(full)
		if errors.Is(err, os.ErrNotExist) {
			return nil, require.ModuleFileDoesNotExistError
		}
		return data, err
	}
}

// FS returns the C: drive.
func (r *Runtime) FS() vfs.FS {
	return r.drive
}

// Drive returns the directory-backed C: drive.
func (r *Runtime) Drive() *vfs.Dir {
	return r.drive
}

// run executes fn on the loop goroutine and waits for its result.
func (r *Runtime) run(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	if r.closed.Load() {
		return ErrClosed
	}
	errCh := make(chan error, 1)
	if !r.loop.RunOnLoop(func(vm *goja.Runtime) { errCh <- fn(vm) }) {
		return ErrClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Launch calls main(argv).
func (r *Runtime) Launch(ctx context.Context, argv []string) error {
	done := make(chan error, 1)
	err := r.run(ctx, func(vm *goja.Runtime) error {
		if _, ok := goja.AssertFunction(vm.Get("main")); !ok {
			return ErrNoMain
		}
		launch, ok := goja.AssertFunction(vm.Get(launchHelper))
		if !ok {
			return errors.New("launch helper missing")
		}
		args := make([]any, len(argv))
		for i, a := range argv {
			args[i] = a
		}
		_, err := launch(goja.Undefined(), vm.Get("main"), vm.NewArray(args...), vm.ToValue(func(call goja.FunctionCall) goja.Value {
			if msg := call.Argument(0); goja.IsNull(msg) || goja.IsUndefined(msg) {
				done <- nil
			} else {
				done <- fmt.Errorf("%w: %s", ErrMain, msg.String())
			}
			return goja.Undefined()
		}))
		return err
	})
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("launch: %w", err)
		}
		r.logger.Info("program launched", "argv", argv)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settle waits until every job queued on the loop before the call has run.
func (r *Runtime) Settle(ctx context.Context) error {
	return r.run(ctx, func(*goja.Runtime) error { return nil })
}

// Eval evaluates src on the loop and returns the exported result.
func (r *Runtime) Eval(ctx context.Context, src string) (any, error) {
	var out any
	err := r.run(ctx, func(vm *goja.Runtime) error {
		v, err := vm.RunString(src)
		if err != nil {
			return err
		}
		out = v.Export()
		return nil
	})
	return out, err
}

// Close stops the event loop. It is safe to call more than once.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.loop.Stop()
	})
	return nil
}
