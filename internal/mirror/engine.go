// Package mirror is a one-way, last-write-wins directory mirror. An Engine
// diffs a source tree against a target tree, copies new and modified files
// and reports progress after every file it resolves.
package mirror

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/openmined/mirrorbox/internal/storage"
	"golang.org/x/sync/semaphore"
)

type subscriber struct {
	id uint64
	fn func(Snapshot)
}

// Engine mirrors one source directory into one target directory. All entry
// points are safe for concurrent use; byte copies are serialized.
type Engine struct {
	id        string
	source    storage.Directory
	target    storage.Directory
	logger    *slog.Logger
	ignore    Matcher
	cacheSize int

	resolver *Resolver
	differ   *differ
	progress *Progress
	slot     *semaphore.Weighted

	subsMu  sync.RWMutex
	subs    []subscriber
	nextSub uint64
}

func New(source, target storage.Directory, opts ...Option) *Engine {
	e := &Engine{
		id:        uuid.NewString(),
		source:    source,
		target:    target,
		logger:    slog.New(slog.DiscardHandler),
		cacheSize: defaultResolverCacheSize,
		progress:  NewProgress(),
		slot:      semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("component", "mirror", "run", e.id)
	e.resolver = NewResolver(source.FullName(), target, e.cacheSize)
	e.differ = &differ{root: source.FullName(), ignore: e.ignore}
	return e
}

// ID identifies the engine in logs and history.
func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) Source() storage.Directory {
	return e.source
}

func (e *Engine) Target() storage.Directory {
	return e.target
}

// Progress returns the latest snapshot.
func (e *Engine) Progress() Snapshot {
	return e.progress.Current()
}

// Subscribe registers fn to receive every snapshot, in order, on the
// goroutine that resolved the file. The returned func removes it.
func (e *Engine) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	e.nextSub++
	id := e.nextSub
	e.subs = append(e.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subsMu.Lock()
			defer e.subsMu.Unlock()
			for i, s := range e.subs {
				if s.id == id {
					e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (e *Engine) emit(snap Snapshot) {
	e.subsMu.RLock()
	subs := e.subs
	e.subsMu.RUnlock()

	for _, s := range subs {
		s.fn(snap)
	}
}

// Run mirrors the whole source tree into the target tree.
func (e *Engine) Run(ctx context.Context) error {
	start := time.Now()
	e.logger.Info("sync started", "source", e.source.FullName(), "target", e.target.FullName())

	if err := ensureDir(ctx, e.target); err != nil {
		e.logger.Error("sync failed", "error", err)
		return err
	}

	n, err := e.syncTree(ctx, e.source, e.target)
	if err != nil {
		e.logger.Error("sync failed", "error", err, "resolved", n)
		return err
	}

	snap := e.progress.Current()
	e.logger.Info("sync completed",
		"resolved", n,
		"processed", snap.ProcessedFiles,
		"bytes", humanize.Bytes(uint64(snap.ProcessedBytes)),
		"took", time.Since(start),
	)
	return nil
}

// SyncDirectory mirrors dir, a directory somewhere under the source root,
// into its counterpart in the target tree.
func (e *Engine) SyncDirectory(ctx context.Context, dir storage.Directory) error {
	if e.differ.skip(dir.FullName(), true) {
		e.logger.Debug("directory ignored", "path", dir.FullName())
		return nil
	}
	dst, err := e.resolver.ResolveDir(ctx, dir.FullName())
	if err != nil {
		return err
	}
	if err := ensureDir(ctx, dst); err != nil {
		return err
	}

	n, err := e.syncTree(ctx, dir, dst)
	if err != nil {
		return err
	}
	e.logger.Debug("directory synced", "path", dir.FullName(), "resolved", n)
	return nil
}

// SyncFile mirrors a single file under the source root. Ignored files are
// a no-op.
func (e *Engine) SyncFile(ctx context.Context, file storage.File) error {
	if e.differ.skip(file.FullName(), false) {
		e.logger.Debug("file ignored", "path", file.FullName())
		return nil
	}
	dst, err := e.resolver.ResolveParent(ctx, file.FullName())
	if err != nil {
		return err
	}
	info, err := file.Stat(ctx)
	if err != nil {
		return err
	}

	entry := Entry{File: file, Info: info, target: dst}
	e.progress.Register(entry)
	return e.transfer(ctx, entry)
}

// SyncPath mirrors the source file named by path, either absolute under the
// source root or relative to it with a leading "./".
func (e *Engine) SyncPath(ctx context.Context, path string) error {
	file, err := e.resolver.lookupFile(ctx, e.source, path)
	if err != nil {
		return err
	}
	return e.SyncFile(ctx, file)
}

// syncTree diffs src against dst, registers every entry and transfers them
// in diff order. It stops at the first failure and returns the number of
// files resolved before it.
func (e *Engine) syncTree(ctx context.Context, src, dst storage.Directory) (int, error) {
	entries, err := e.differ.diff(ctx, src, dst)
	if err != nil {
		return 0, err
	}

	for _, entry := range entries {
		e.progress.Register(entry)
	}
	for i, entry := range entries {
		if err := e.transfer(ctx, entry); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}

// transfer copies a single entry while holding the transfer slot. Waiting
// for the slot honours ctx; the copy itself does not.
func (e *Engine) transfer(ctx context.Context, entry Entry) error {
	if err := e.slot.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.slot.Release(1)
	ctx = context.WithoutCancel(ctx)

	dir := entry.target
	if dir == nil {
		var err error
		if dir, err = e.resolver.ResolveParent(ctx, entry.File.FullName()); err != nil {
			return err
		}
	}
	if err := ensureDir(ctx, dir); err != nil {
		return err
	}

	dst, err := dir.File(ctx, entry.File.Name())
	if err != nil {
		return err
	}
	dstInfo, err := dst.Stat(ctx)
	if err != nil {
		return err
	}

	if NeedsTransfer(entry.Info, dstInfo) {
		if err := copyFile(ctx, entry, dst, dstInfo.Exists); err != nil {
			return err
		}
		e.logger.Debug("copied", "path", entry.File.FullName(), "size", humanize.Bytes(uint64(entry.Info.Size)))
	} else {
		e.logger.Debug("skipped", "path", entry.File.FullName(), "reason", "target is newer")
	}

	e.emit(e.progress.Complete(entry))
	return nil
}

func copyFile(ctx context.Context, src Entry, dst storage.File, exists bool) error {
	r, err := src.File.Open(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	if !exists {
		if err := dst.Create(ctx); err != nil {
			return err
		}
	}

	w, err := dst.OpenWriter(ctx)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return dst.SetModTime(ctx, src.Info.ModTime)
}
