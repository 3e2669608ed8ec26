package cloudsync

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Prompt returns a ConfirmFunc asking on w and reading the answer from r.
// Only an answer starting with y or Y confirms; end of input declines.
func Prompt(r io.Reader, w io.Writer) ConfirmFunc {
	br := bufio.NewReader(r)
	return func(ctx context.Context, question string) bool {
		if ctx.Err() != nil {
			return false
		}
		fmt.Fprintf(w, "%s [y/N] ", question)
		line, err := br.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(w)
			return false
		}
		answer := strings.TrimSpace(line)
		return strings.HasPrefix(answer, "y") || strings.HasPrefix(answer, "Y")
	}
}

// Always returns a ConfirmFunc that answers yes without asking.
func Always() ConfirmFunc {
	return func(context.Context, string) bool { return true }
}
