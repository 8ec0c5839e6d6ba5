// Package daemon runs a long-lived mirror: an initial full sync, then
// incremental syncs driven by the watcher and the control plane.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/openmined/mirrorbox/internal/backend"
	"github.com/openmined/mirrorbox/internal/config"
	"github.com/openmined/mirrorbox/internal/controlplane"
	"github.com/openmined/mirrorbox/internal/history"
	"github.com/openmined/mirrorbox/internal/ignore"
	"github.com/openmined/mirrorbox/internal/mirror"
	"github.com/openmined/mirrorbox/internal/report"
	"github.com/openmined/mirrorbox/internal/utils"
	"github.com/openmined/mirrorbox/internal/watcher"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const (
	MetadataDir = ".mirrorbox"
	lockFile    = "mirrorbox.lock"
)

var ErrAlreadyRunning = errors.New("another daemon is mirroring this source")

type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	engine  *mirror.Engine
	ignore  *ignore.List
	history *history.Store
	flock   *flock.Flock
	fs      afero.Fs

	watcher  *watcher.FileWatcher
	cps      *controlplane.Server
	cpsReady chan struct{}
}

// New validates cfg and builds the engine and its collaborators. Nothing
// runs until Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ignoreList, err := ignore.Load(cfg.SourceDir, cfg.IgnoreFile)
	if err != nil {
		return nil, err
	}

	target, err := backend.Target(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open target: %w", err)
	}

	engine := mirror.New(backend.Source(cfg), target,
		mirror.WithLogger(logger),
		mirror.WithIgnore(ignoreList),
	)

	d := &Daemon{
		cfg:    cfg,
		logger: logger.With("component", "daemon"),
		engine: engine,
		ignore: ignoreList,
		flock:  flock.New(filepath.Join(cfg.SourceDir, MetadataDir, lockFile)),
		fs:     afero.NewOsFs(),

		cpsReady: make(chan struct{}),
	}
	if cfg.HistoryDB != "" {
		d.history = history.NewStore(cfg.HistoryDB, logger)
	}
	return d, nil
}

func (d *Daemon) Engine() *mirror.Engine {
	return d.engine
}

// ControlPlaneAddr returns the bound control plane address once it is
// listening. It fails if the control plane is disabled.
func (d *Daemon) ControlPlaneAddr(ctx context.Context) (string, error) {
	if !d.cfg.ControlPlane.Enabled {
		return "", errors.New("control plane disabled")
	}
	select {
	case <-d.cpsReady:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	addr, err := d.cps.Addr(ctx)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

func (d *Daemon) lock() error {
	if err := utils.EnsureDir(filepath.Dir(d.flock.Path())); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	locked, err := d.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock source: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	return nil
}

func (d *Daemon) unlock() {
	if !d.flock.Locked() {
		return
	}
	if err := d.flock.Unlock(); err != nil {
		d.logger.Warn("unlock source", "error", err)
	}
}

// Start blocks until ctx is done or a component fails.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.unlock()

	d.logger.Info("daemon start",
		"source", d.engine.Source().FullName(),
		"target", d.engine.Target().FullName(),
		"ignoreRules", d.ignore.Rules(),
		"watch", d.cfg.Watch,
		"controlPlane", d.cfg.ControlPlane.Enabled,
	)

	if d.history != nil {
		if err := d.history.Open(); err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer d.history.Close()
		defer d.engine.Subscribe(history.Recorder(d.history, d.engine.ID(), d.logger))()
	}
	defer d.engine.Subscribe(report.Logger(d.logger))()

	if err := d.engine.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		// the watcher picks the failed files up again once they change
		d.logger.Error("initial sync failed", "error", err)
	}

	eg, egCtx := errgroup.WithContext(ctx)

	if d.cfg.Watch {
		d.watcher = watcher.NewFileWatcher(d.cfg.SourceDir, d.logger)
		d.watcher.FilterPaths(d.filter)
		if err := d.watcher.Start(egCtx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		dispatcher := watcher.NewDispatcher(d.engine, d.fs, d.logger)
		eg.Go(func() error {
			dispatcher.Run(egCtx, d.watcher.Events())
			return nil
		})
	}

	if d.cfg.ControlPlane.Enabled {
		var hist controlplane.HistoryReader
		if d.history != nil {
			hist = d.history
		}
		d.cps = controlplane.New(egCtx, controlplane.Config{
			Addr:  d.cfg.ControlPlane.Addr,
			Token: d.cfg.ControlPlane.Token,
		}, d.engine, hist, d.logger)
		close(d.cpsReady)
		eg.Go(d.cps.Start)
	}

	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return d.stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("daemon failure", "error", err)
		return err
	}

	d.logger.Info("daemon stopped")
	return nil
}

func (d *Daemon) stop(ctx context.Context) error {
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.cps != nil {
		if err := d.cps.Stop(ctx); err != nil {
			return fmt.Errorf("stop control plane: %w", err)
		}
	}
	return nil
}

func (d *Daemon) filter(path string) bool {
	info, err := d.fs.Stat(path)
	isDir := err == nil && info.IsDir()
	return d.ignore.ShouldIgnoreAbs(path, isDir)
}
