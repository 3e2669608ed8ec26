// Package keymap translates physical input identifiers into the numeric
// keypad codes understood by the emulated DOS program.
package keymap

import "math"

// Numeric keypad codes as seen by the DOS program.
const (
	CodeEnter    = 13
	CodeMultiply = 106
	CodeAdd      = 107
	CodeSubtract = 109
	CodeDivide   = 111

	CodeLeftDown  = 97
	CodeDown      = 98
	CodeRightDown = 99
	CodeLeft      = 100
	CodeRight     = 102
	CodeLeftUp    = 103
	CodeUp        = 104
	CodeRightUp   = 105
)

// ActivationThreshold is the joystick force at or below which no direction
// is reported.
const ActivationThreshold = 0.3

// Table is an immutable mapping from symbolic input identifier to keypad
// code.
type Table struct {
	codes map[string]int
}

// New returns a table holding a copy of codes.
func New(codes map[string]int) *Table {
	t := &Table{codes: make(map[string]int, len(codes))}
	for id, code := range codes {
		t.codes[id] = code
	}
	return t
}

// Default returns the keypad layout used by the Koei strategy titles.
func Default() *Table {
	return New(DefaultCodes())
}

// DefaultCodes returns a fresh copy of the default identifier to code
// mapping, suitable for extending before calling New.
func DefaultCodes() map[string]int {
	return map[string]int{
		"KeyR": CodeAdd,
		"KeyE": CodeSubtract,
		"KeyW": CodeMultiply,
		"KeyQ": CodeDivide,

		"Enter": CodeEnter,

		"ArrowLeft":  CodeLeft,
		"ArrowUp":    CodeUp,
		"ArrowRight": CodeRight,
		"ArrowDown":  CodeDown,

		// diagonals have no physical key but share the joystick path
		"ArrowLeftDown":  CodeLeftDown,
		"ArrowRightDown": CodeRightDown,
		"ArrowLeftUp":    CodeLeftUp,
		"ArrowRightUp":   CodeRightUp,
	}
}

// Resolve returns the code mapped to id, or fallback when id is not in the
// table.
func (t *Table) Resolve(id string, fallback int) int {
	if t == nil {
		return fallback
	}
	if code, ok := t.codes[id]; ok {
		return code
	}
	return fallback
}

// Len returns the number of mapped identifiers.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.codes)
}

// Direction is one of the eight 45 degree joystick sectors.
type Direction int

// Directions in clockwise order starting from the sector centred on a
// bearing of 45 degrees. Up is last because its sector straddles 0.
const (
	RightUp Direction = iota
	Right
	RightDown
	Down
	LeftDown
	Left
	LeftUp
	Up
)

var directionIDs = [...]string{
	RightUp:   "ArrowRightUp",
	Right:     "ArrowRight",
	RightDown: "ArrowRightDown",
	Down:      "ArrowDown",
	LeftDown:  "ArrowLeftDown",
	Left:      "ArrowLeft",
	LeftUp:    "ArrowLeftUp",
	Up:        "ArrowUp",
}

// ID returns the arrow identifier the direction resolves through.
func (d Direction) ID() string {
	if d < RightUp || d > Up {
		return ""
	}
	return directionIDs[d]
}

func (d Direction) String() string {
	return d.ID()
}

// Bucket returns the sector containing bearing (degrees clockwise from up).
// Sectors are 45 degrees wide and offset by 22.5 degrees, so 0 and 360 fall
// in the same sector.
func Bucket(bearing float64) Direction {
	n := int(math.Floor((bearing-22.5)/45)) % 8
	if n < 0 {
		n += 8
	}
	return Direction(n)
}

// FromMathAngle converts an angle measured counter-clockwise from the
// positive x axis, as reported by most on-screen joystick widgets, into a
// bearing.
func FromMathAngle(deg float64) float64 {
	b := math.Mod(90-deg, 360)
	if b < 0 {
		b += 360
	}
	return b
}

// Joystick resolves a joystick reading given as a force in 0..1 and a
// bearing in degrees. ok is false when the force does not exceed
// ActivationThreshold.
func (t *Table) Joystick(force, bearing float64) (code int, ok bool) {
	if math.IsNaN(force) || math.IsNaN(bearing) || math.IsInf(bearing, 0) {
		return 0, false
	}
	if force <= ActivationThreshold {
		return 0, false
	}
	return t.Resolve(Bucket(bearing).ID(), 0), true
}
