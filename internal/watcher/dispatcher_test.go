package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openmined/mirrorbox/internal/mirror"
	"github.com/openmined/mirrorbox/internal/storage"
	"github.com/openmined/mirrorbox/internal/storage/localfs"
	"github.com/openmined/mirrorbox/internal/storage/memfs"
	"github.com/rjeczalik/notify"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	mu    sync.Mutex
	dirs  []string
	files []string
	err   error
}

func (s *fakeSyncer) SyncDirectory(_ context.Context, dir storage.Directory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs = append(s.dirs, dir.FullName())
	return s.err
}

func (s *fakeSyncer) SyncFile(_ context.Context, file storage.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, file.FullName())
	return s.err
}

func newSourceFs(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/src/sub", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/src/a.txt", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/src/sub/b.txt", []byte("bb"), 0o644))
	return fsys
}

func TestDispatcher_RoutesByKind(t *testing.T) {
	syncer := &fakeSyncer{}
	d := NewDispatcher(syncer, newSourceFs(t), nil)

	d.Dispatch(t.Context(), "/src/a.txt")
	d.Dispatch(t.Context(), "/src/sub")
	d.Dispatch(t.Context(), "/src/gone.txt")
	d.Wait()

	assert.Equal(t, []string{"/src/a.txt"}, syncer.files)
	assert.Equal(t, []string{"/src/sub"}, syncer.dirs)
}

func TestDispatcher_ErrorsAreNotFatal(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("disk full")}
	d := NewDispatcher(syncer, newSourceFs(t), nil)

	d.Dispatch(t.Context(), "/src/a.txt")
	d.Dispatch(t.Context(), "/src/sub/b.txt")
	d.Wait()

	assert.ElementsMatch(t, []string{"/src/a.txt", "/src/sub/b.txt"}, syncer.files)
}

func TestDispatcher_RunStopsWhenEventsClose(t *testing.T) {
	syncer := &fakeSyncer{}
	d := NewDispatcher(syncer, newSourceFs(t), nil)

	events := make(chan notify.EventInfo, 2)
	events <- fakeEvent{"/src/a.txt", notify.Write}
	events <- fakeEvent{"/src/sub", notify.Create}
	close(events)

	done := make(chan struct{})
	go func() {
		d.Run(t.Context(), events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "dispatcher did not stop")
	}
	assert.Equal(t, []string{"/src/a.txt"}, syncer.files)
	assert.Equal(t, []string{"/src/sub"}, syncer.dirs)
}

func TestDispatcher_DrivesEngine(t *testing.T) {
	fsys := newSourceFs(t)
	dst := memfs.NewDir("dst")
	engine := mirror.New(localfs.NewDir(fsys, "/src"), dst)
	d := NewDispatcher(engine, fsys, nil)

	d.Dispatch(t.Context(), "/src/sub/b.txt")
	d.Wait()

	sub, ok := dst.Sub("sub")
	require.True(t, ok)
	b, ok := sub.Lookup("b.txt")
	require.True(t, ok)
	assert.Equal(t, "bb", string(b.Bytes()))
	assert.Equal(t, 1, engine.Progress().ProcessedFiles)
}
