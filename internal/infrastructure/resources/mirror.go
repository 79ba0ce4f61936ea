// Package resources mirrors changed resource and configuration files into the
// build output and server directories.
package resources

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Mirror implements application.FileMirror on the local file system.
type Mirror struct {
	Log zerolog.Logger
}

// NewMirror creates a file mirror.
func NewMirror(log zerolog.Logger) *Mirror {
	return &Mirror{Log: log}
}

// Copy copies src to dst, creating parent directories. Directories are copied
// recursively. The file mode of src is kept.
func (m *Mirror) Copy(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if info.IsDir() {
		return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			target := filepath.Join(dst, rel)
			if d.IsDir() {
				return os.MkdirAll(target, 0o750)
			}
			return m.copyFile(path, target)
		})
	}
	return m.copyFile(src, dst)
}

func (m *Mirror) copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}

	// #nosec G304 -- src is a watched project file
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	m.Log.Debug().Str("src", src).Str("dst", dst).Msg("copied")
	return nil
}

// Remove deletes dst and everything below it. A missing target is not an error.
func (m *Mirror) Remove(dst string) error {
	if _, err := os.Lstat(dst); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("remove %s: %w", dst, err)
	}
	m.Log.Debug().Str("dst", dst).Msg("removed")
	return nil
}
