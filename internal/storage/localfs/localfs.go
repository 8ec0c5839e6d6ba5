// Package localfs is a storage backing over an afero.Fs. Production code uses
// the OS filesystem; tests can substitute afero.NewMemMapFs.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/mirrorbox/internal/storage"
	"github.com/spf13/afero"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

var (
	_ storage.Directory = (*Dir)(nil)
	_ storage.File      = (*File)(nil)
)

// Dir is a directory on an afero.Fs.
type Dir struct {
	fs   afero.Fs
	path string
}

// NewDir returns a handle for the directory at path.
func NewDir(fsys afero.Fs, path string) *Dir {
	return &Dir{fs: fsys, path: filepath.Clean(path)}
}

// NewOSDir returns a handle for a directory on the OS filesystem.
func NewOSDir(path string) *Dir {
	return NewDir(afero.NewOsFs(), path)
}

// Path returns the native path of the directory.
func (d *Dir) Path() string     { return d.path }
func (d *Dir) Name() string     { return filepath.Base(d.path) }
func (d *Dir) FullName() string { return filepath.ToSlash(d.path) }

func (d *Dir) Exists(ctx context.Context) (bool, error) {
	info, err := d.fs.Stat(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (d *Dir) Create(ctx context.Context) error {
	return d.fs.MkdirAll(d.path, dirPerm)
}

func (d *Dir) File(ctx context.Context, name string) (storage.File, error) {
	if !storage.ValidName(name) {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidName, name)
	}
	return NewFile(d.fs, filepath.Join(d.path, name)), nil
}

func (d *Dir) Dir(ctx context.Context, name string) (storage.Directory, error) {
	if !storage.ValidName(name) {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidName, name)
	}
	return NewDir(d.fs, filepath.Join(d.path, name)), nil
}

func (d *Dir) entries(ctx context.Context) ([]os.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(d.fs, d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return infos, err
}

func (d *Dir) Files(ctx context.Context) iter.Seq2[storage.File, error] {
	return func(yield func(storage.File, error) bool) {
		infos, err := d.entries(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, info := range infos {
			if !info.Mode().IsRegular() {
				continue
			}
			if !yield(NewFile(d.fs, filepath.Join(d.path, info.Name())), nil) {
				return
			}
		}
	}
}

func (d *Dir) Dirs(ctx context.Context) iter.Seq2[storage.Directory, error] {
	return func(yield func(storage.Directory, error) bool) {
		infos, err := d.entries(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, info := range infos {
			if !info.IsDir() {
				continue
			}
			if !yield(NewDir(d.fs, filepath.Join(d.path, info.Name())), nil) {
				return
			}
		}
	}
}

// File is a file on an afero.Fs.
type File struct {
	fs   afero.Fs
	path string
}

// NewFile returns a handle for the file at path.
func NewFile(fsys afero.Fs, path string) *File {
	return &File{fs: fsys, path: filepath.Clean(path)}
}

// NewOSFile returns a handle for a file on the OS filesystem.
func NewOSFile(path string) *File {
	return NewFile(afero.NewOsFs(), path)
}

// Path returns the native path of the file.
func (f *File) Path() string     { return f.path }
func (f *File) Name() string     { return filepath.Base(f.path) }
func (f *File) FullName() string { return filepath.ToSlash(f.path) }

func (f *File) Stat(ctx context.Context) (storage.FileInfo, error) {
	info, err := f.fs.Stat(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return storage.FileInfo{}, nil
	}
	if err != nil {
		return storage.FileInfo{}, err
	}
	if info.IsDir() {
		return storage.FileInfo{}, &fs.PathError{Op: "stat", Path: f.path, Err: fs.ErrInvalid}
	}
	return storage.FileInfo{Exists: true, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (f *File) Create(ctx context.Context) error {
	if err := f.fs.MkdirAll(filepath.Dir(f.path), dirPerm); err != nil {
		return err
	}
	file, err := f.fs.OpenFile(f.path, os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}
	return file.Close()
}

func (f *File) Open(ctx context.Context) (io.ReadCloser, error) {
	return f.fs.Open(f.path)
}

func (f *File) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	return f.fs.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
}

func (f *File) SetModTime(ctx context.Context, t time.Time) error {
	return f.fs.Chtimes(f.path, t, t)
}
