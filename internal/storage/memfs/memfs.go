// Package memfs is an in-memory storage backing. Children are enumerated in
// insertion order, which makes it the backing of choice for tests that
// assert on traversal order.
package memfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"sync"
	"time"

	"github.com/openmined/mirrorbox/internal/storage"
)

var (
	_ storage.Directory = (*Dir)(nil)
	_ storage.File      = (*File)(nil)
)

// Dir is an in-memory directory.
type Dir struct {
	name     string
	fullName string
	parent   *Dir

	mu      sync.RWMutex
	exists  bool
	files   []*File
	fileIdx map[string]*File
	dirs    []*Dir
	dirIdx  map[string]*Dir
}

// NewDir returns an existing root directory.
func NewDir(name string) *Dir {
	d := newDir(nil, name, storage.Separator+name)
	d.exists = true
	return d
}

func newDir(parent *Dir, name, fullName string) *Dir {
	return &Dir{
		name:     name,
		fullName: fullName,
		parent:   parent,
		fileIdx:  make(map[string]*File),
		dirIdx:   make(map[string]*Dir),
	}
}

func (d *Dir) Name() string     { return d.name }
func (d *Dir) FullName() string { return d.fullName }

func (d *Dir) Exists(ctx context.Context) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.exists, nil
}

func (d *Dir) Create(ctx context.Context) error {
	d.materialize()
	return nil
}

// materialize marks d and all of its ancestors as existing.
func (d *Dir) materialize() {
	for cur := d; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		already := cur.exists
		cur.exists = true
		cur.mu.Unlock()
		if already {
			return
		}
	}
}

func (d *Dir) File(ctx context.Context, name string) (storage.File, error) {
	return d.lookupFile(name)
}

func (d *Dir) lookupFile(name string) (*File, error) {
	if !storage.ValidName(name) {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidName, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if f, ok := d.fileIdx[name]; ok {
		return f, nil
	}
	f := &File{name: name, fullName: storage.Join(d.fullName, name), parent: d}
	d.fileIdx[name] = f
	d.files = append(d.files, f)
	return f, nil
}

func (d *Dir) Dir(ctx context.Context, name string) (storage.Directory, error) {
	return d.lookupDir(name)
}

func (d *Dir) lookupDir(name string) (*Dir, error) {
	if !storage.ValidName(name) {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidName, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if sub, ok := d.dirIdx[name]; ok {
		return sub, nil
	}
	sub := newDir(d, name, storage.Join(d.fullName, name))
	d.dirIdx[name] = sub
	d.dirs = append(d.dirs, sub)
	return sub, nil
}

func (d *Dir) Files(ctx context.Context) iter.Seq2[storage.File, error] {
	return func(yield func(storage.File, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		d.mu.RLock()
		files := append([]*File(nil), d.files...)
		d.mu.RUnlock()

		for _, f := range files {
			if !f.exists() {
				continue
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

func (d *Dir) Dirs(ctx context.Context) iter.Seq2[storage.Directory, error] {
	return func(yield func(storage.Directory, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		d.mu.RLock()
		dirs := append([]*Dir(nil), d.dirs...)
		d.mu.RUnlock()

		for _, sub := range dirs {
			sub.mu.RLock()
			ok := sub.exists
			sub.mu.RUnlock()
			if !ok {
				continue
			}
			if !yield(sub, nil) {
				return
			}
		}
	}
}

// AddFile creates a file with content and modification time and returns d
// so calls can be chained.
func (d *Dir) AddFile(name, content string, modTime time.Time) *Dir {
	f, err := d.lookupFile(name)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.present = true
	f.data = []byte(content)
	f.modTime = modTime
	f.mu.Unlock()
	d.materialize()
	return d
}

// MkDir creates the named child directory and returns it.
func (d *Dir) MkDir(name string) *Dir {
	sub, err := d.lookupDir(name)
	if err != nil {
		panic(err)
	}
	sub.materialize()
	return sub
}

// Lookup returns the named child file if it exists.
func (d *Dir) Lookup(name string) (*File, bool) {
	d.mu.RLock()
	f, ok := d.fileIdx[name]
	d.mu.RUnlock()
	if !ok || !f.exists() {
		return nil, false
	}
	return f, true
}

// Sub returns the named child directory if it exists.
func (d *Dir) Sub(name string) (*Dir, bool) {
	d.mu.RLock()
	sub, ok := d.dirIdx[name]
	d.mu.RUnlock()
	if !ok {
		return nil, false
	}
	sub.mu.RLock()
	defer sub.mu.RUnlock()
	return sub, sub.exists
}

// File is an in-memory file.
type File struct {
	name     string
	fullName string
	parent   *Dir

	mu       sync.RWMutex
	present  bool
	data     []byte
	modTime  time.Time
	openErr  error
	writeErr error
}

func (f *File) Name() string     { return f.name }
func (f *File) FullName() string { return f.fullName }

func (f *File) exists() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.present
}

func (f *File) Stat(ctx context.Context) (storage.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.present {
		return storage.FileInfo{}, nil
	}
	return storage.FileInfo{Exists: true, Size: int64(len(f.data)), ModTime: f.modTime}, nil
}

func (f *File) Create(ctx context.Context) error {
	f.mu.Lock()
	if !f.present {
		f.present = true
		f.data = nil
		f.modTime = time.Now()
	}
	f.mu.Unlock()
	f.parent.materialize()
	return nil
}

func (f *File) Open(ctx context.Context) (io.ReadCloser, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	if !f.present {
		return nil, &fs.PathError{Op: "open", Path: f.fullName, Err: fs.ErrNotExist}
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(f.data))), nil
}

func (f *File) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	f.mu.RLock()
	writeErr := f.writeErr
	f.mu.RUnlock()
	return &writer{file: f, err: writeErr}, nil
}

func (f *File) SetModTime(ctx context.Context, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.present {
		return &fs.PathError{Op: "chtimes", Path: f.fullName, Err: fs.ErrNotExist}
	}
	f.modTime = t
	return nil
}

// Bytes returns a copy of the file's content.
func (f *File) Bytes() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return bytes.Clone(f.data)
}

// FailOpen makes every later Open return err.
func (f *File) FailOpen(err error) {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
}

// FailWrite makes writes through later writers return err.
func (f *File) FailWrite(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

type writer struct {
	file   *File
	buf    bytes.Buffer
	err    error
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}
	if w.err != nil {
		return 0, w.err
	}
	return w.buf.Write(p)
}

func (w *writer) Close() error {
	if w.closed {
		return fs.ErrClosed
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}

	f := w.file
	f.mu.Lock()
	f.present = true
	f.data = bytes.Clone(w.buf.Bytes())
	f.modTime = time.Now()
	f.mu.Unlock()
	f.parent.materialize()
	return nil
}
