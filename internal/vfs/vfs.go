// Package vfs defines the narrow virtual filesystem the session needs from
// an embedded runtime, and a directory-backed implementation of it.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrBadPath is returned for paths that escape the filesystem root.
var ErrBadPath = errors.New("bad virtual path")

// FileInfo describes a virtual file.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// FS is the virtual filesystem exposed by an embedded runtime.
type FS interface {
	// Extract unpacks an archive into the filesystem root.
	Extract(ctx context.Context, archive string) error
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
	Stat(name string) (FileInfo, error)
}

// ModTime adapts fsys to a stat function reporting modification times.
func ModTime(fsys FS) func(string) (time.Time, error) {
	return func(name string) (time.Time, error) {
		fi, err := fsys.Stat(name)
		if err != nil {
			return time.Time{}, err
		}
		return fi.ModTime, nil
	}
}

// Dir is an FS rooted at a host directory, the DOS C: drive.
type Dir struct {
	root string
}

// NewDir returns an FS rooted at root, creating the directory if needed.
func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create drive directory: %w", err)
	}
	return &Dir{root: abs}, nil
}

// Root returns the host directory backing the filesystem.
func (d *Dir) Root() string {
	return d.root
}

// resolve maps a virtual path onto the host. Virtual paths use forward
// slashes and are relative to the root; a leading slash is allowed.
func (d *Dir) resolve(name string) (string, error) {
	n := strings.ReplaceAll(name, `\`, "/")
	n = strings.TrimPrefix(path.Clean("/"+n), "/")
	if n == "" {
		return "", fmt.Errorf("%w: %q", ErrBadPath, name)
	}
	// path.Clean on a rooted path cannot leave "..", but a raw ".." element
	// in the input means the caller tried to escape
	for _, elem := range strings.Split(strings.ReplaceAll(name, `\`, "/"), "/") {
		if elem == ".." {
			return "", fmt.Errorf("%w: %q", ErrBadPath, name)
		}
	}
	return filepath.Join(d.root, filepath.FromSlash(n)), nil
}

// ReadFile returns the contents of name.
func (d *Dir) ReadFile(name string) ([]byte, error) {
	p, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// WriteFile replaces the contents of name, creating parent directories.
func (d *Dir) WriteFile(name string, data []byte) error {
	p, err := d.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0644)
}

// Stat returns information about name.
func (d *Dir) Stat(name string) (FileInfo, error) {
	p, err := d.resolve(name)
	if err != nil {
		return FileInfo{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return FileInfo{}, err
	}
	if fi.IsDir() {
		return FileInfo{}, &fs.PathError{Op: "stat", Path: name, Err: errors.New("is a directory")}
	}
	return FileInfo{Name: fi.Name(), Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// Exists reports whether name is a regular file.
func (d *Dir) Exists(name string) bool {
	_, err := d.Stat(name)
	return err == nil
}
