// Package keyevent defines the keyboard events exchanged between physical
// input sources, the session and the embedded runtime's handlers.
package keyevent

// Keyboard event names.
const (
	KeyDown  = "keydown"
	KeyUp    = "keyup"
	KeyPress = "keypress"
)

// Synthetic is a fabricated keyboard event carrying only a type and a
// numeric key code. It is read-only once created.
type Synthetic struct {
	kind string
	code int
}

// New returns a synthetic event of the given type and code.
func New(kind string, code int) Synthetic {
	return Synthetic{kind: kind, code: code}
}

// Type returns the event name.
func (e Synthetic) Type() string { return e.kind }

// KeyCode returns the numeric key code.
func (e Synthetic) KeyCode() int { return e.code }

// Which returns the numeric key code. It mirrors KeyCode for handlers that
// read the legacy field.
func (e Synthetic) Which() int { return e.code }

// Physical is a key event as reported by a physical input source: a
// symbolic code name (ArrowUp, KeyR, Enter) plus the raw key code.
type Physical struct {
	Kind    string
	Code    string
	KeyCode int
}

// Type returns the event name.
func (e Physical) Type() string { return e.Kind }

// Coded is implemented by events carrying a numeric key code.
type Coded interface {
	Type() string
	KeyCode() int
}
