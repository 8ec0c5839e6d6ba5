package mirror

import (
	"context"
	"strings"

	"github.com/openmined/mirrorbox/internal/storage"
)

// Matcher decides whether a source path is left out of a sync. Paths are
// relative to the source root and slash separated; directories carry a
// trailing slash.
type Matcher interface {
	ShouldIgnore(path string) bool
}

// Entry is a source file selected for transfer together with the metadata
// read while diffing.
type Entry struct {
	File storage.File
	Info storage.FileInfo

	// target directory found by the differ; nil for entries built elsewhere
	target storage.Directory
}

// NeedsTransfer reports whether src must be copied over dst. Equal modify
// times count as changed.
func NeedsTransfer(src, dst storage.FileInfo) bool {
	return !dst.Exists || !src.ModTime.Before(dst.ModTime)
}

// Diff returns the files of source that are missing from target or not
// older than their target counterpart. Direct files come first, followed by
// each subdirectory's files in enumeration order. Missing target
// subdirectories are created along the way.
func Diff(ctx context.Context, source, target storage.Directory) ([]Entry, error) {
	return (&differ{}).diff(ctx, source, target)
}

type differ struct {
	root   string
	ignore Matcher
}

func (d *differ) skip(fullName string, dir bool) bool {
	if d.ignore == nil {
		return false
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(fullName, d.root), storage.Separator)
	if rel == "" {
		return false
	}
	if dir {
		rel += storage.Separator
	}
	return d.ignore.ShouldIgnore(rel)
}

func (d *differ) diff(ctx context.Context, source, target storage.Directory) ([]Entry, error) {
	var entries []Entry

	for file, err := range source.Files(ctx) {
		if err != nil {
			return nil, err
		}
		if d.skip(file.FullName(), false) {
			continue
		}

		info, err := file.Stat(ctx)
		if err != nil {
			return nil, err
		}
		if !info.Exists {
			continue
		}

		dst, err := target.File(ctx, file.Name())
		if err != nil {
			return nil, err
		}
		dstInfo, err := dst.Stat(ctx)
		if err != nil {
			return nil, err
		}

		if NeedsTransfer(info, dstInfo) {
			entries = append(entries, Entry{File: file, Info: info, target: target})
		}
	}

	for dir, err := range source.Dirs(ctx) {
		if err != nil {
			return nil, err
		}
		if d.skip(dir.FullName(), true) {
			continue
		}

		dst, err := target.Dir(ctx, dir.Name())
		if err != nil {
			return nil, err
		}
		if err := ensureDir(ctx, dst); err != nil {
			return nil, err
		}

		sub, err := d.diff(ctx, dir, dst)
		if err != nil {
			return nil, err
		}
		entries = append(entries, sub...)
	}

	return entries, nil
}

func ensureDir(ctx context.Context, dir storage.Directory) error {
	ok, err := dir.Exists(ctx)
	if err != nil || ok {
		return err
	}
	return dir.Create(ctx)
}
