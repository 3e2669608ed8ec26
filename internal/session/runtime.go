package session

import (
	"context"

	"dosplay/internal/intercept"
	"dosplay/internal/vfs"
)

// RuntimeOptions configures an embedded runtime instance.
type RuntimeOptions struct {
	// Bootstrap is the host path of the script the runtime evaluates at boot.
	Bootstrap string
	// Cycles is the emulated CPU speed hint passed through to the script.
	Cycles int
	// Drive is the host directory backing the virtual C: drive.
	Drive string
}

// Runtime is a booted embedded runtime.
type Runtime interface {
	FS() vfs.FS
	// Launch runs the program with argv and returns once it has started.
	Launch(ctx context.Context, argv []string) error
	// Settle blocks until every handler invocation queued so far has run.
	Settle(ctx context.Context) error
	Close() error
}

// Factory boots runtimes. Create receives the document the runtime must
// register its keyboard handlers on.
type Factory interface {
	Create(ctx context.Context, document intercept.EventTarget, opts RuntimeOptions) (Runtime, error)
}
