// Package cloudsync copies the save file between the local store and a
// cloud folder.
package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"dosplay/internal/store"
)

var (
	// ErrSync wraps every transport or storage failure during a sync.
	ErrSync = errors.New("cloud sync failed")

	// ErrNotFound is returned when the remote file does not exist.
	ErrNotFound = errors.New("remote file not found")

	// ErrDeclined is returned when the user refuses an overwrite.
	ErrDeclined = errors.New("overwrite declined")

	// ErrNoSave is returned by Push when there is no local save file.
	ErrNoSave = errors.New("no local save file")
)

// RemoteFile describes the cloud copy of a file.
type RemoteFile struct {
	Path    string
	Size    int64
	Digest  [32]byte
	ModTime time.Time
}

// Remote is a cloud storage backend. Paths are slash separated and rooted,
// as returned by RemotePath.
type Remote interface {
	// Metadata returns ErrNotFound when path does not exist.
	Metadata(ctx context.Context, path string) (*RemoteFile, error)
	// Upload creates or overwrites path.
	Upload(ctx context.Context, path string, data []byte) error
	// Download returns ErrNotFound when path does not exist.
	Download(ctx context.Context, path string) ([]byte, error)
}

// RemotePath returns the cloud path of a game's save file.
func RemotePath(mod, file string) string {
	return path.Join("/", mod, file)
}

// Folder is a Remote backed by a locally mounted cloud folder, such as the
// directory kept in sync by a desktop client.
type Folder struct {
	root string
}

// NewFolder returns a Folder rooted at root. The directory must exist.
func NewFolder(root string) (*Folder, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open cloud folder: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("open cloud folder: %s is not a directory", root)
	}
	return &Folder{root: root}, nil
}

func (f *Folder) resolve(p string) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	if rel == "" || strings.Contains(p, "..") {
		return "", fmt.Errorf("invalid remote path %q", p)
	}
	return filepath.Join(f.root, filepath.FromSlash(rel)), nil
}

// Metadata implements Remote.
func (f *Folder) Metadata(ctx context.Context, p string) (*RemoteFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	return &RemoteFile{
		Path:    p,
		Size:    int64(len(data)),
		Digest:  store.Digest(data),
		ModTime: fi.ModTime(),
	}, nil
}

// Upload implements Remote. The file is replaced atomically.
func (f *Folder) Upload(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := f.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), full)
}

// Download implements Remote.
func (f *Folder) Download(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

var _ Remote = (*Folder)(nil)
