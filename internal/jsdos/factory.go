package jsdos

import (
	"context"
	"log/slog"

	"dosplay/internal/intercept"
	"dosplay/internal/session"
)

// Factory boots Runtimes for a session.
type Factory struct {
	Logger *slog.Logger
}

// Create implements session.Factory.
func (f Factory) Create(ctx context.Context, document intercept.EventTarget, opts session.RuntimeOptions) (session.Runtime, error) {
	r, err := Boot(ctx, document, Options{
		Bootstrap: opts.Bootstrap,
		Cycles:    opts.Cycles,
		Drive:     opts.Drive,
		Logger:    f.Logger,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

var _ session.Factory = Factory{}
