package mirror

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openmined/mirrorbox/internal/storage"
)

const relativeMarker = "./"

var (
	ErrInvalidPath     = errors.New("invalid path")
	ErrPathOutsideRoot = errors.New("path outside source root")
)

// Resolver maps source paths onto directories of the target tree, creating
// intermediate target directory handles on demand.
type Resolver struct {
	sourceRoot string
	target     storage.Directory
	cache      *lru.Cache[string, storage.Directory]
}

// NewResolver returns a resolver for paths under sourceRoot. A cacheSize of
// zero or less disables the directory cache.
func NewResolver(sourceRoot string, target storage.Directory, cacheSize int) *Resolver {
	r := &Resolver{
		sourceRoot: strings.TrimRight(filepath.ToSlash(sourceRoot), storage.Separator),
		target:     target,
	}
	if cacheSize > 0 {
		r.cache, _ = lru.New[string, storage.Directory](cacheSize)
	}
	return r
}

// ResolveParent returns the target directory that holds the file named by
// the last component of path. path is either absolute under the source root
// or relative to it with a leading "./".
func (r *Resolver) ResolveParent(ctx context.Context, path string) (storage.Directory, error) {
	parts, err := r.components(path)
	if err != nil {
		return nil, err
	}
	if len(parts) <= 1 {
		return r.target, nil
	}
	return r.walk(ctx, parts[:len(parts)-1])
}

// ResolveDir returns the target directory mirroring the source directory at
// path. The source root itself maps to the target root.
func (r *Resolver) ResolveDir(ctx context.Context, path string) (storage.Directory, error) {
	parts, err := r.components(path)
	if err != nil {
		return nil, err
	}
	return r.walk(ctx, parts)
}

// Relative returns path relative to the source root, slash separated.
func (r *Resolver) Relative(path string) (string, error) {
	parts, err := r.components(path)
	if err != nil {
		return "", err
	}
	return strings.Join(parts, storage.Separator), nil
}

func (r *Resolver) components(path string) ([]string, error) {
	p := filepath.ToSlash(path)
	if p == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	var rel string
	switch {
	case p == ".":
	case strings.HasPrefix(p, relativeMarker):
		rel = strings.TrimPrefix(p, relativeMarker)
	case p == r.sourceRoot:
	case strings.HasPrefix(p, r.sourceRoot+storage.Separator):
		rel = p[len(r.sourceRoot)+1:]
	default:
		return nil, fmt.Errorf("%w: %q", ErrPathOutsideRoot, path)
	}

	var parts []string
	for _, part := range strings.Split(rel, storage.Separator) {
		switch part {
		case "", ".":
			continue
		case "..":
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

func (r *Resolver) walk(ctx context.Context, parts []string) (storage.Directory, error) {
	if len(parts) == 0 {
		return r.target, nil
	}

	key := strings.Join(parts, storage.Separator)
	if r.cache != nil {
		if dir, ok := r.cache.Get(key); ok {
			return dir, nil
		}
	}

	parent, err := r.walk(ctx, parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}
	dir, err := parent.Dir(ctx, parts[len(parts)-1])
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Add(key, dir)
	}
	return dir, nil
}

// lookupFile walks the source tree to the file named by path.
func (r *Resolver) lookupFile(ctx context.Context, source storage.Directory, path string) (storage.File, error) {
	parts, err := r.components(path)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: %q names the source root", ErrInvalidPath, path)
	}

	dir := source
	for _, part := range parts[:len(parts)-1] {
		if dir, err = dir.Dir(ctx, part); err != nil {
			return nil, err
		}
	}
	return dir.File(ctx, parts[len(parts)-1])
}
