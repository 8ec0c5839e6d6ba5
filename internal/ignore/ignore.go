// Package ignore decides which source paths are never mirrored, using
// gitignore syntax.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultFile is looked up in the source root when no ignore file is
// configured.
const DefaultFile = ".mirrorignore"

var defaultIgnoreLines = []string{
	// mirrorbox
	".mirrorbox/",
	DefaultFile,
	// vcs
	".git",
	// editors
	"*.tmp",
	"*.swp",
	"*~",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
}

type List struct {
	baseDir string
	rules   int
	ignore  *gitignore.GitIgnore
}

// Load compiles the default rules plus the rules in file. A relative file is
// taken relative to baseDir; an empty file means DefaultFile. A missing file
// is not an error.
func Load(baseDir, file string) (*List, error) {
	if file == "" {
		file = DefaultFile
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(baseDir, file)
	}

	lines := append([]string(nil), defaultIgnoreLines...)
	extra, err := readLines(file)
	if err != nil {
		return nil, err
	}

	return &List{
		baseDir: baseDir,
		rules:   len(extra),
		ignore:  gitignore.CompileIgnoreLines(append(lines, extra...)...),
	}, nil
}

// Defaults returns a list with the built-in rules only.
func Defaults() *List {
	return &List{ignore: gitignore.CompileIgnoreLines(defaultIgnoreLines...)}
}

// Rules is the number of rules read from the ignore file.
func (l *List) Rules() int {
	return l.rules
}

// ShouldIgnore reports whether path, relative to the source root, is
// ignored. Directories should carry a trailing slash.
func (l *List) ShouldIgnore(path string) bool {
	return l.ignore.MatchesPath(filepath.ToSlash(path))
}

// ShouldIgnoreAbs is ShouldIgnore for a native absolute path under the base
// directory. Paths outside it are never ignored.
func (l *List) ShouldIgnoreAbs(path string, isDir bool) bool {
	rel, err := filepath.Rel(l.baseDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	if isDir {
		rel += "/"
	}
	return l.ShouldIgnore(rel)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ignore file: %w", err)
	}
	return lines, nil
}
