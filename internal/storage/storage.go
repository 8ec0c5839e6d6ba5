// Package storage defines the file and directory capabilities the mirror
// engine consumes. Concrete backings live in the memfs, localfs and s3fs
// subpackages; the engine depends only on the interfaces declared here.
package storage

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"time"
)

// Separator is the path separator used in every FullName.
const Separator = "/"

// ErrInvalidName is returned by lookups for names that are not a single
// path component.
var ErrInvalidName = errors.New("invalid name")

// FileInfo is the metadata of a file at the time it was read.
type FileInfo struct {
	Exists  bool
	Size    int64
	ModTime time.Time
}

// File is a handle to a file in a tree. Its identity is FullName.
type File interface {
	Name() string
	FullName() string

	// Stat reads the current metadata. A missing file is not an error,
	// it reports Exists == false.
	Stat(ctx context.Context) (FileInfo, error)

	// Create materializes an empty file if it does not exist.
	Create(ctx context.Context) error

	// Open returns a reader over the file's bytes.
	Open(ctx context.Context) (io.ReadCloser, error)

	// OpenWriter returns a writer that replaces the file's bytes. The new
	// content is committed when the writer is closed.
	OpenWriter(ctx context.Context) (io.WriteCloser, error)

	// SetModTime sets the file's modification time.
	SetModTime(ctx context.Context, t time.Time) error
}

// Directory is a handle to a directory in a tree.
type Directory interface {
	Name() string
	FullName() string

	Exists(ctx context.Context) (bool, error)
	Create(ctx context.Context) error

	// File returns the handle of the named child file. Repeated lookups
	// for the same name return the same logical file; the backing entry is
	// only written by File.Create or File.OpenWriter.
	File(ctx context.Context, name string) (File, error)

	// Dir returns the handle of the named child directory, with the same
	// idempotence guarantee as File.
	Dir(ctx context.Context, name string) (Directory, error)

	// Files enumerates existing child files. The sequence reads the backing
	// store when iterated and is not cached. A yielded error ends it.
	Files(ctx context.Context) iter.Seq2[File, error]

	// Dirs enumerates existing child directories, like Files.
	Dirs(ctx context.Context) iter.Seq2[Directory, error]
}

// Join joins FullName components with Separator.
func Join(parent, name string) string {
	if parent == "" {
		return name
	}
	return strings.TrimSuffix(parent, Separator) + Separator + name
}

// ValidName reports whether name can be used as a single path component.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
