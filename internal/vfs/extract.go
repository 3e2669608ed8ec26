package vfs

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extract unpacks the zip archive at the host path archive into the root.
// Existing files are overwritten.
func (d *Dir) Extract(ctx context.Context, archive string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.extractFile(f); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func (d *Dir) extractFile(f *zip.File) error {
	if strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir() {
		p, err := d.resolve(f.Name)
		if err != nil {
			return err
		}
		return os.MkdirAll(p, 0755)
	}

	p, err := d.resolve(f.Name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if mod := f.Modified; !mod.IsZero() {
		// keep archive timestamps so a freshly extracted save does not look
		// modified
		_ = os.Chtimes(p, mod, mod)
	}
	return nil
}
