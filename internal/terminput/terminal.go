package terminput

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/term"

	"dosplay/internal/keyevent"
)

// MakeRaw puts the terminal on fd into raw mode and returns a function
// restoring it. It fails when fd is not a terminal.
func MakeRaw(fd int) (restore func() error, err error) {
	if !term.IsTerminal(fd) {
		return nil, errors.New("input is not a terminal")
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("enable raw mode: %w", err)
	}
	return func() error { return term.Restore(fd, state) }, nil
}

// Pump reads r until it fails, ctx is done or Ctrl-C is read, passing every
// decoded event to fn. A lone Escape is reported once a short read ends
// with it; any other unfinished sequence waits for the next read. Ctrl-C
// itself is not passed on.
func Pump(ctx context.Context, r io.Reader, fn func(keyevent.Physical)) error {
	var d Decoder
	buf := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		events := d.Feed(buf[:n])
		if d.Pending() && (err != nil || (n < len(buf) && d.loneEscape())) {
			events = append(events, d.Flush()...)
		}
		for _, ev := range events {
			if ev.Code == Interrupt {
				return nil
			}
			fn(ev)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
	}
}
