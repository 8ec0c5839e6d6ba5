package localfs

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/mirrorbox/internal/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect[T interface{ Name() string }](t *testing.T, seq func(func(T, error) bool)) []string {
	t.Helper()
	var out []string
	for item, err := range seq {
		require.NoError(t, err)
		out = append(out, item.Name())
	}
	return out
}

func TestDir_EnumeratesFilesAndDirs(t *testing.T) {
	ctx := t.Context()
	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/src/b.txt", []byte("b"), 0o644))
	require.NoError(t, afero.WriteFile(mem, "/src/a.txt", []byte("a"), 0o644))
	require.NoError(t, mem.MkdirAll("/src/sub", 0o755))

	root := NewDir(mem, "/src")
	assert.Equal(t, []string{"a.txt", "b.txt"}, collect(t, root.Files(ctx)))
	assert.Equal(t, []string{"sub"}, collect(t, root.Dirs(ctx)))
}

func TestDir_MissingDirectoryEnumeratesNothing(t *testing.T) {
	ctx := t.Context()
	root := NewDir(afero.NewMemMapFs(), "/nope")

	ok, err := root.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, collect(t, root.Files(ctx)))
	assert.Empty(t, collect(t, root.Dirs(ctx)))
}

func TestDir_LookupAndCreate(t *testing.T) {
	ctx := t.Context()
	mem := afero.NewMemMapFs()
	root := NewDir(mem, "/dst")

	sub, err := root.Dir(ctx, "nested")
	require.NoError(t, err)
	assert.Equal(t, "/dst/nested", sub.FullName())

	ok, err := sub.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, sub.Create(ctx))
	ok, err = sub.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = root.File(ctx, "../escape")
	assert.ErrorIs(t, err, storage.ErrInvalidName)
}

func TestFile_WriteStatAndModTime(t *testing.T) {
	ctx := t.Context()
	mem := afero.NewMemMapFs()
	f := NewFile(mem, "/dst/out.txt")

	info, err := f.Stat(ctx)
	require.NoError(t, err)
	assert.False(t, info.Exists)

	require.NoError(t, f.Create(ctx))
	w, err := f.OpenWriter(ctx)
	require.NoError(t, err)
	_, err = io.WriteString(w, "payload")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	mod := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.SetModTime(ctx, mod))

	info, err = f.Stat(ctx)
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.EqualValues(t, len("payload"), info.Size)
	assert.True(t, mod.Equal(info.ModTime))

	r, err := f.Open(ctx)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestFile_OverwriteTruncates(t *testing.T) {
	ctx := t.Context()
	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/f.txt", []byte("a much longer body"), 0o644))
	f := NewFile(mem, "/f.txt")

	w, err := f.OpenWriter(ctx)
	require.NoError(t, err)
	_, err = io.WriteString(w, "short")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := afero.ReadFile(mem, "/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "short", string(data))
}

func TestOSDir_RealFilesystem(t *testing.T) {
	ctx := t.Context()
	tmp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "x.txt"), []byte("x"), 0o644))

	root := NewOSDir(tmp)
	assert.Equal(t, []string{"x.txt"}, collect(t, root.Files(ctx)))
	assert.Equal(t, filepath.ToSlash(tmp), root.FullName())

	f := NewOSFile(filepath.Join(tmp, "x.txt"))
	info, err := f.Stat(ctx)
	require.NoError(t, err)
	assert.True(t, info.Exists)
}
