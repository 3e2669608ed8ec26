package keymap

// Transition is a key release and/or press produced by a joystick update.
// A zero code means no event of that kind.
type Transition struct {
	Release int
	Press   int
}

// Empty reports whether the transition carries no events.
func (tr Transition) Empty() bool {
	return tr.Release == 0 && tr.Press == 0
}

// Stick tracks the keypad code currently held down by a virtual joystick.
// It is not safe for concurrent use.
type Stick struct {
	table *Table
	held  int
}

// NewStick returns a stick resolving directions through table.
func NewStick(table *Table) *Stick {
	return &Stick{table: table}
}

// Held returns the code currently held, or zero.
func (s *Stick) Held() int {
	return s.held
}

// Move updates the stick with a new reading. The previously held code is
// released before a different one is pressed; an unchanged reading yields
// an empty transition.
func (s *Stick) Move(force, bearing float64) Transition {
	code, ok := s.table.Joystick(force, bearing)
	if !ok {
		code = 0
	}
	return s.set(code)
}

// End releases whatever the stick holds.
func (s *Stick) End() Transition {
	return s.set(0)
}

func (s *Stick) set(code int) Transition {
	if code == s.held {
		return Transition{}
	}
	tr := Transition{Release: s.held, Press: code}
	s.held = code
	return tr
}
