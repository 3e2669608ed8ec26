package jsdos

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"dosplay/internal/intercept"
	"dosplay/internal/keyevent"
)

const launchHelper = "__launch"

// prelude bridges main's completion, synchronous or promised, to a
// callback.
const prelude = `
globalThis.__launch = function (main, argv, done) {
	var fail = function (err) {
		done(String(err instanceof Error ? err.message : err));
	};
	try {
		var result = main(argv);
		if (result && typeof result.then === 'function') {
			result.then(function () { done(null); }, fail);
		} else {
			done(null);
		}
	} catch (err) {
		fail(err);
	}
};
`

func (r *Runtime) install(vm *goja.Runtime) error {
	document := vm.NewObject()
	if err := document.Set("addEventListener", r.addEventListener(vm)); err != nil {
		return err
	}

	dos := vm.NewObject()
	if err := dos.Set("cycles", r.cycles); err != nil {
		return err
	}

	for name, v := range map[string]any{
		"document": document,
		"fs":       r.fsObject(vm),
		"dos":      dos,
		"console":  r.consoleObject(vm),
	} {
		if err := vm.Set(name, v); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	_, err := vm.RunString(prelude)
	return err
}

func (r *Runtime) addEventListener(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		event := call.Argument(0).String()
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(vm.NewTypeError("addEventListener: listener is not a function"))
		}
		r.document.AddEventListener(event, r.handler(fn))
		return goja.Undefined()
	}
}

// handler wraps a script function as a Go handler. Invocations are queued on
// the loop, which runs them in FIFO order.
func (r *Runtime) handler(fn goja.Callable) intercept.Handler {
	return func(ev intercept.Event) {
		if r.closed.Load() {
			return
		}
		r.loop.RunOnLoop(func(vm *goja.Runtime) {
			if _, err := fn(goja.Undefined(), eventObject(vm, ev)); err != nil {
				r.logger.Warn("script handler failed", "event", ev.Type(), "error", err)
			}
		})
	}
}

// eventObject converts ev to a frozen script object.
func eventObject(vm *goja.Runtime, ev intercept.Event) *goja.Object {
	obj := vm.NewObject()
	define := func(name string, v any) {
		_ = obj.DefineDataProperty(name, vm.ToValue(v), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}
	define("type", ev.Type())
	switch e := ev.(type) {
	case keyevent.Physical:
		define("code", e.Code)
		define("keyCode", e.KeyCode)
		define("which", e.KeyCode)
	case keyevent.Synthetic:
		define("keyCode", e.KeyCode())
		define("which", e.Which())
	case keyevent.Coded:
		define("keyCode", e.KeyCode())
		define("which", e.KeyCode())
	}
	return obj
}

func (r *Runtime) fsObject(vm *goja.Runtime) *goja.Object {
	fail := func(err error) {
		panic(vm.NewGoError(err))
	}
	obj := vm.NewObject()
	_ = obj.Set("readFile", func(name string) goja.Value {
		data, err := r.drive.ReadFile(name)
		if err != nil {
			fail(err)
		}
		u8, err := vm.New(vm.Get("Uint8Array"), vm.ToValue(vm.NewArrayBuffer(data)))
		if err != nil {
			fail(err)
		}
		return u8
	})
	_ = obj.Set("readText", func(name string) string {
		data, err := r.drive.ReadFile(name)
		if err != nil {
			fail(err)
		}
		return string(data)
	})
	_ = obj.Set("writeFile", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		data, err := exportBytes(call.Argument(1))
		if err != nil {
			panic(vm.NewTypeError("writeFile: %v", err))
		}
		if err := r.drive.WriteFile(name, data); err != nil {
			fail(err)
		}
		return goja.Undefined()
	})
	_ = obj.Set("exists", func(name string) bool {
		return r.drive.Exists(name)
	})
	_ = obj.Set("stat", func(name string) map[string]any {
		fi, err := r.drive.Stat(name)
		if err != nil {
			fail(err)
		}
		return map[string]any{
			"size":  fi.Size,
			"mtime": fi.ModTime.UnixMilli(),
		}
	})
	return obj
}

func exportBytes(v goja.Value) ([]byte, error) {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("missing data")
	}
	switch x := v.Export().(type) {
	case string:
		return []byte(x), nil
	case []byte:
		return append([]byte(nil), x...), nil
	case goja.ArrayBuffer:
		return append([]byte(nil), x.Bytes()...), nil
	}
	// typed array views that do not export as a byte slice
	if obj, ok := v.(*goja.Object); ok && obj.Get("buffer") != nil {
		if buf, ok := obj.Get("buffer").Export().(goja.ArrayBuffer); ok {
			off := obj.Get("byteOffset").ToInteger()
			n := obj.Get("byteLength").ToInteger()
			b := buf.Bytes()
			if off >= 0 && n >= 0 && off+n <= int64(len(b)) {
				return append([]byte(nil), b[off:off+n]...), nil
			}
		}
	}
	return nil, fmt.Errorf("unsupported data type %s", v.ExportType())
}

func (r *Runtime) consoleObject(vm *goja.Runtime) *goja.Object {
	obj := vm.NewObject()
	logAt := func(log func(msg string, args ...any)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			log(strings.Join(parts, " "), "source", "script")
			return goja.Undefined()
		}
	}
	_ = obj.Set("log", logAt(r.logger.Info))
	_ = obj.Set("info", logAt(r.logger.Info))
	_ = obj.Set("debug", logAt(r.logger.Debug))
	_ = obj.Set("warn", logAt(r.logger.Warn))
	_ = obj.Set("error", logAt(r.logger.Error))
	return obj
}
