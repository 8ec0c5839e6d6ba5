package mirror

import (
	"sync"
	"testing"
	"time"

	"github.com/openmined/mirrorbox/internal/storage/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memEntry(t *testing.T, dir *memfs.Dir, name string) Entry {
	t.Helper()
	f, ok := dir.Lookup(name)
	require.True(t, ok)
	info, err := f.Stat(t.Context())
	require.NoError(t, err)
	return Entry{File: f, Info: info}
}

func TestProgress_RegisterDeduplicates(t *testing.T) {
	dir := memfs.NewDir("src").
		AddFile("a.txt", "aaaa", time.Now()).
		AddFile("b.txt", "bb", time.Now())
	a := memEntry(t, dir, "a.txt")
	b := memEntry(t, dir, "b.txt")

	p := NewProgress()
	assert.True(t, p.Register(a))
	assert.True(t, p.Register(b))
	assert.False(t, p.Register(a))

	snap := p.Current()
	assert.Equal(t, 2, snap.TotalFiles)
	assert.EqualValues(t, 6, snap.TotalBytes)
	assert.Zero(t, snap.ProcessedFiles)
	assert.Nil(t, snap.CurrentFile)
	assert.Equal(t, []string{"/src/a.txt", "/src/b.txt"}, p.Queued())
}

func TestProgress_CompleteAccumulates(t *testing.T) {
	dir := memfs.NewDir("src").
		AddFile("a.txt", "aaaa", time.Now()).
		AddFile("b.txt", "bb", time.Now())
	a := memEntry(t, dir, "a.txt")
	b := memEntry(t, dir, "b.txt")

	p := NewProgress()
	p.Register(a)
	p.Register(b)

	first := p.Complete(a)
	assert.Equal(t, Snapshot{ProcessedFiles: 1, TotalFiles: 2, ProcessedBytes: 4, TotalBytes: 6, CurrentFile: a.File}, first)

	second := p.Complete(a)
	assert.Equal(t, 2, second.ProcessedFiles, "completion counts every resolution")
	assert.EqualValues(t, 8, second.ProcessedBytes)

	third := p.Complete(b)
	assert.Same(t, b.File, third.CurrentFile)
	assert.Equal(t, 1, first.ProcessedFiles, "snapshots are values")
}

func TestProgress_ConcurrentUse(t *testing.T) {
	dir := memfs.NewDir("src")
	var entries []Entry
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		dir.AddFile(name, name, time.Now())
		entries = append(entries, memEntry(t, dir, name))
	}

	p := NewProgress()
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, e := range entries {
				p.Register(e)
				p.Complete(e)
			}
		}()
	}
	wg.Wait()

	snap := p.Current()
	assert.Equal(t, len(entries), snap.TotalFiles)
	assert.Equal(t, 4*len(entries), snap.ProcessedFiles)
}

func TestProgress_ReRegisterTracksLatestSize(t *testing.T) {
	dir := memfs.NewDir("src").
		AddFile("a.txt", "", time.Now()).
		AddFile("b.txt", "bb", time.Now())
	empty := memEntry(t, dir, "a.txt")
	b := memEntry(t, dir, "b.txt")

	p := NewProgress()
	p.Register(empty)
	p.Register(b)
	p.Complete(empty)

	dir.AddFile("a.txt", "0123456789", time.Now())
	grown := memEntry(t, dir, "a.txt")
	assert.False(t, p.Register(grown))

	snap := p.Complete(grown)
	assert.Equal(t, 2, snap.TotalFiles)
	assert.EqualValues(t, 12, snap.TotalBytes)
	assert.EqualValues(t, 10, snap.ProcessedBytes)

	dir.AddFile("a.txt", "abc", time.Now())
	p.Register(memEntry(t, dir, "a.txt"))
	assert.EqualValues(t, 5, p.Current().TotalBytes, "shrinking is tracked too")
	assert.Equal(t, []string{"/src/a.txt", "/src/b.txt"}, p.Queued())
}
