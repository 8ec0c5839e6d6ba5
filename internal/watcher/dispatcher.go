package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/openmined/mirrorbox/internal/storage"
	"github.com/openmined/mirrorbox/internal/storage/localfs"
	"github.com/rjeczalik/notify"
	"github.com/spf13/afero"
)

// Syncer is the part of the engine the dispatcher drives.
type Syncer interface {
	SyncDirectory(ctx context.Context, dir storage.Directory) error
	SyncFile(ctx context.Context, file storage.File) error
}

// Dispatcher maps changed local paths to engine calls. Every path is synced
// on its own goroutine so a slow copy never blocks the event loop.
type Dispatcher struct {
	syncer Syncer
	fs     afero.Fs
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewDispatcher(syncer Syncer, fsys afero.Fs, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		syncer: syncer,
		fs:     fsys,
		logger: logger.With("component", "dispatcher"),
	}
}

// Run consumes events until the channel is closed or ctx is done, then waits
// for the dispatches it started.
func (d *Dispatcher) Run(ctx context.Context, events <-chan notify.EventInfo) {
	defer d.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			d.Dispatch(ctx, event.Path())
		}
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, path string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sync(ctx, path); err != nil {
			if errors.Is(err, context.Canceled) {
				d.logger.Debug("sync cancelled", "path", path)
				return
			}
			d.logger.Error("sync failed", "path", path, "error", err)
		}
	}()
}

func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) sync(ctx context.Context, path string) error {
	info, err := d.fs.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		// removed or renamed away before we got to it
		d.logger.Debug("path vanished", "path", path)
		return nil
	} else if err != nil {
		return err
	}

	if info.IsDir() {
		d.logger.Debug("sync directory", "path", path)
		return d.syncer.SyncDirectory(ctx, localfs.NewDir(d.fs, path))
	}
	d.logger.Debug("sync file", "path", path)
	return d.syncer.SyncFile(ctx, localfs.NewFile(d.fs, path))
}
