package mirror

import (
	"testing"

	"github.com/openmined/mirrorbox/internal/storage"
	"github.com/openmined/mirrorbox/internal/storage/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryNames(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.File.FullName()
	}
	return out
}

func TestNeedsTransfer(t *testing.T) {
	tests := []struct {
		name string
		src  storage.FileInfo
		dst  storage.FileInfo
		want bool
	}{
		{"missing target", storage.FileInfo{Exists: true, ModTime: older}, storage.FileInfo{}, true},
		{"newer source", storage.FileInfo{Exists: true, ModTime: newer}, storage.FileInfo{Exists: true, ModTime: base}, true},
		{"equal times", storage.FileInfo{Exists: true, ModTime: base}, storage.FileInfo{Exists: true, ModTime: base}, true},
		{"older source", storage.FileInfo{Exists: true, ModTime: older}, storage.FileInfo{Exists: true, ModTime: base}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsTransfer(tt.src, tt.dst))
		})
	}
}

func TestDiff_SelectsChangedFilesInTraversalOrder(t *testing.T) {
	ctx := t.Context()
	src := memfs.NewDir("src").
		AddFile("missing.txt", "m", base).
		AddFile("stale.txt", "s", older).
		AddFile("same.txt", "e", base)
	src.MkDir("sub").AddFile("inner.txt", "i", newer)
	src.AddFile("late.txt", "l", newer)

	dst := memfs.NewDir("dst").
		AddFile("stale.txt", "x", base).
		AddFile("same.txt", "x", base).
		AddFile("late.txt", "x", base)
	dst.MkDir("sub").AddFile("inner.txt", "x", base)

	entries, err := Diff(ctx, src, dst)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"/src/missing.txt", "/src/same.txt", "/src/late.txt", "/src/sub/inner.txt"},
		entryNames(entries),
	)
	assert.EqualValues(t, 1, entries[0].Info.Size)
	assert.True(t, base.Equal(entries[0].Info.ModTime))
}

func TestDiff_CreatesMissingTargetDirectories(t *testing.T) {
	ctx := t.Context()
	src := memfs.NewDir("src")
	src.MkDir("a").MkDir("b")
	dst := memfs.NewDir("dst")

	entries, err := Diff(ctx, src, dst)
	require.NoError(t, err)
	assert.Empty(t, entries)

	a, ok := dst.Sub("a")
	require.True(t, ok)
	_, ok = a.Sub("b")
	assert.True(t, ok)
}

func TestDiff_DoesNotTouchFiles(t *testing.T) {
	ctx := t.Context()
	src := memfs.NewDir("src").AddFile("a.txt", "new", newer)
	dst := memfs.NewDir("dst").AddFile("a.txt", "old", older)

	_, err := Diff(ctx, src, dst)
	require.NoError(t, err)

	f, ok := dst.Lookup("a.txt")
	require.True(t, ok)
	assert.Equal(t, "old", string(f.Bytes()))
}

func TestDiff_IgnoreMatcherSeesRelativePaths(t *testing.T) {
	ctx := t.Context()
	src := memfs.NewDir("src").AddFile("a.txt", "a", base)
	src.MkDir("d").AddFile("b.txt", "b", base)

	var seen []string
	d := &differ{root: src.FullName(), ignore: ignoreFunc(func(p string) bool {
		seen = append(seen, p)
		return false
	})}
	_, err := d.diff(ctx, src, memfs.NewDir("dst"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "d/", "d/b.txt"}, seen)
}
