package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dosplay/internal/store"
)

// Local is the local side of a sync. *store.Store satisfies it.
type Local interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

// ConfirmFunc asks the user a yes/no question.
type ConfirmFunc func(ctx context.Context, question string) bool

// Syncer pushes and pulls one game's save file.
type Syncer struct {
	Remote   Remote
	Local    Local
	Mod      string
	SaveFile string
	// Confirm is asked before anything is overwritten. A nil Confirm
	// declines.
	Confirm ConfirmFunc
	Logger  *slog.Logger
}

// Path returns the remote path of the save file.
func (s *Syncer) Path() string {
	return RemotePath(s.Mod, s.SaveFile)
}

func (s *Syncer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Syncer) confirm(ctx context.Context, question string) bool {
	return s.Confirm != nil && s.Confirm(ctx, question)
}

// Push uploads the local save file. An existing remote copy with different
// contents is only overwritten after confirmation; an identical one is left
// alone.
func (s *Syncer) Push(ctx context.Context) error {
	data, err := s.Local.Load(ctx, s.SaveFile)
	if err != nil {
		return fmt.Errorf("%w: load local save: %w", ErrSync, err)
	}
	if data == nil {
		return ErrNoSave
	}

	p := s.Path()
	meta, err := s.Remote.Metadata(ctx, p)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return fmt.Errorf("%w: get metadata %s: %w", ErrSync, p, err)
	case meta.Digest == store.Digest(data):
		s.logger().Info("cloud save already up to date", "path", p)
		return nil
	default:
		if !s.confirm(ctx, fmt.Sprintf("A save file already exists at %s. Overwrite it?", p)) {
			return ErrDeclined
		}
	}

	if err := s.Remote.Upload(ctx, p, data); err != nil {
		return fmt.Errorf("%w: upload %s: %w", ErrSync, p, err)
	}
	s.logger().Info("save file pushed", "path", p, "size", len(data))
	return nil
}

// Pull replaces the local save file with the remote copy after
// confirmation. Nothing is asked when both copies are identical.
func (s *Syncer) Pull(ctx context.Context) error {
	p := s.Path()
	data, err := s.Remote.Download(ctx, p)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("download %s: %w", p, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: download %s: %w", ErrSync, p, err)
	}

	local, err := s.Local.Load(ctx, s.SaveFile)
	if err != nil {
		return fmt.Errorf("%w: load local save: %w", ErrSync, err)
	}
	if local != nil && store.Digest(local) == store.Digest(data) {
		s.logger().Info("local save already up to date", "path", p)
		return nil
	}
	if !s.confirm(ctx, fmt.Sprintf("Replace the local save file with the copy at %s?", p)) {
		return ErrDeclined
	}

	if err := s.Local.Save(ctx, s.SaveFile, data); err != nil {
		return fmt.Errorf("%w: save local copy: %w", ErrSync, err)
	}
	s.logger().Info("save file pulled", "path", p, "size", len(data))
	return nil
}
