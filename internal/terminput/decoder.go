// Package terminput turns raw terminal input into physical key events.
//
// Terminals report key presses only, so every decoded key produces a
// keydown immediately followed by a keyup. Cursor keys map to the arrow
// identifiers. Home, End, PgUp and PgDn keep their own identifiers and key
// codes; bind them to the diagonal arrows with key aliases if a game wants
// them.
package terminput

import (
	"strings"

	"dosplay/internal/keyevent"
)

// Interrupt is the code reported for Ctrl-C.
const Interrupt = "CtrlC"

// maxEscape bounds how long an unfinished escape sequence may grow before it
// is discarded.
const maxEscape = 16

type key struct {
	code    string
	keyCode int
}

var (
	keyUp        = key{"ArrowUp", 38}
	keyDown      = key{"ArrowDown", 40}
	keyRight     = key{"ArrowRight", 39}
	keyLeft      = key{"ArrowLeft", 37}
	keyHome      = key{"Home", 36}
	keyEnd       = key{"End", 35}
	keyPageUp    = key{"PageUp", 33}
	keyPageDown  = key{"PageDown", 34}
	keyEscape    = key{"Escape", 27}
)

// cursor keys by final byte, shared by CSI and SS3 forms
var cursorKeys = map[byte]key{
	'A': keyUp,
	'B': keyDown,
	'C': keyRight,
	'D': keyLeft,
	'H': keyHome,
	'F': keyEnd,
}

// CSI n ~ forms
var tildeKeys = map[string]key{
	"1": keyHome,
	"7": keyHome,
	"4": keyEnd,
	"8": keyEnd,
	"5": keyPageUp,
	"6": keyPageDown,
}

var symbolKeys = map[byte]key{
	'+': {"NumpadAdd", 107},
	'-': {"NumpadSubtract", 109},
	'*': {"NumpadMultiply", 106},
	'/': {"NumpadDivide", 111},
	'=': {"NumpadEqual", 187},
	'.': {"NumpadDecimal", 110},
}

// Decoder decodes a byte stream. Escape sequences may be split across Feed
// calls. It is not safe for concurrent use.
type Decoder struct {
	pending []byte
}

// Feed decodes p and returns the resulting events.
func (d *Decoder) Feed(p []byte) []keyevent.Physical {
	buf := append(d.pending, p...)
	d.pending = nil

	var out []keyevent.Physical
	for i := 0; i < len(buf); {
		if buf[i] != 0x1b {
			if k, ok := byteKey(buf[i]); ok {
				out = press(out, k)
			}
			i++
			continue
		}
		n, k, complete := parseEscape(buf[i:])
		if !complete {
			d.pending = append([]byte(nil), buf[i:]...)
			break
		}
		if k.code != "" {
			out = press(out, k)
		}
		i += n
	}
	return out
}

// Flush reports a lone pending Escape and drops any other unfinished
// sequence. Call it when input has been idle.
func (d *Decoder) Flush() []keyevent.Physical {
	pending := d.pending
	d.pending = nil
	if len(pending) == 1 && pending[0] == 0x1b {
		return press(nil, keyEscape)
	}
	return nil
}

// Pending reports whether an unfinished escape sequence is buffered.
func (d *Decoder) Pending() bool {
	return len(d.pending) > 0
}

// loneEscape reports whether the buffered bytes are a single Escape, the
// only unfinished input that can also stand alone.
func (d *Decoder) loneEscape() bool {
	return len(d.pending) == 1 && d.pending[0] == 0x1b
}

func press(out []keyevent.Physical, k key) []keyevent.Physical {
	return append(out,
		keyevent.Physical{Kind: keyevent.KeyDown, Code: k.code, KeyCode: k.keyCode},
		keyevent.Physical{Kind: keyevent.KeyUp, Code: k.code, KeyCode: k.keyCode},
	)
}

func byteKey(b byte) (key, bool) {
	switch {
	case b == '\r' || b == '\n':
		return key{"Enter", 13}, true
	case b == '\t':
		return key{"Tab", 9}, true
	case b == 0x7f || b == 0x08:
		return key{"Backspace", 8}, true
	case b == 0x03:
		return key{Interrupt, 3}, true
	case b == ' ':
		return key{"Space", 32}, true
	case b >= 'a' && b <= 'z':
		b -= 'a' - 'A'
		return key{"Key" + string(rune(b)), int(b)}, true
	case b >= 'A' && b <= 'Z':
		return key{"Key" + string(rune(b)), int(b)}, true
	case b >= '0' && b <= '9':
		return key{"Digit" + string(rune(b)), int(b)}, true
	}
	if k, ok := symbolKeys[b]; ok {
		return k, true
	}
	return key{}, false
}

// parseEscape decodes the escape sequence at the start of seq. It returns
// the number of bytes consumed, the key (empty for unrecognised sequences)
// and whether the sequence was complete.
func parseEscape(seq []byte) (n int, k key, complete bool) {
	if len(seq) < 2 {
		return 0, key{}, false
	}
	switch seq[1] {
	case 'O':
		if len(seq) < 3 {
			return 0, key{}, false
		}
		return 3, cursorKeys[seq[2]], true
	case '[':
		for j := 2; j < len(seq); j++ {
			c := seq[j]
			if c < 0x40 || c > 0x7e {
				continue
			}
			return j + 1, csiKey(string(seq[2:j]), c), true
		}
		if len(seq) >= maxEscape {
			return len(seq), key{}, true
		}
		return 0, key{}, false
	default:
		return 1, keyEscape, true
	}
}

func csiKey(params string, final byte) key {
	if final == '~' {
		return tildeKeys[params]
	}
	// modifiers (1;5A) are ignored
	if p, _, _ := strings.Cut(params, ";"); p != "" && p != "1" {
		return key{}
	}
	return cursorKeys[final]
}
