package xref

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/jward/xref/internal/runtime"
)

// skipDirs are never descended into, in addition to hidden directories.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"target":       true,
	"dist":         true,
	"build":        true,
}

// discoverer finds source files under a root.
type discoverer struct {
	root      string
	languages map[runtime.Language]bool // nil means all
	excludes  []string
	gitignore bool
	logger    *slog.Logger
}

type ignoreScope struct {
	dir     string // slash-separated, relative to root; "" for the root
	matcher *ignore.GitIgnore
}

// discover walks the root and returns the absolute paths of supported
// files, sorted. Unreadable directories are logged and skipped.
func (d *discoverer) discover() ([]string, error) {
	info, err := os.Stat(d.root)
	if err != nil {
		return nil, ioError("stat root", d.root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidArgument, d.root)
	}

	var (
		paths  []string
		scopes []ignoreScope
	)
	err = filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		rel := d.rel(p)
		if err != nil {
			if p == d.root {
				return err
			}
			d.logger.Warn("skipping unreadable path", "path", rel, "error", err)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if entry.IsDir() {
			if p == d.root {
				scopes = d.pushIgnore(scopes, p, "")
				return nil
			}
			name := entry.Name()
			if skipDir(name) || d.excluded(rel+"/") || d.ignored(scopes, rel, true) {
				return filepath.SkipDir
			}
			scopes = d.pushIgnore(scopes, p, rel)
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		lang, ok := runtime.LanguageForFile(p)
		if !ok {
			return nil
		}
		if d.languages != nil && !d.languages[lang] {
			return nil
		}
		if d.excluded(rel) || d.ignored(scopes, rel, false) {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, ioError("walk", d.root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (d *discoverer) rel(p string) string {
	rel, err := filepath.Rel(d.root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

func (d *discoverer) excluded(rel string) bool {
	for _, pattern := range d.excludes {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
		// A directory pattern like "gen/**" also excludes the directory itself.
		if strings.HasSuffix(rel, "/") {
			if matched, err := doublestar.Match(pattern, strings.TrimSuffix(rel, "/")); err == nil && matched {
				return true
			}
		}
	}
	return false
}

// pushIgnore drops scopes that no longer contain dir and adds dir's own
// .gitignore, if any.
func (d *discoverer) pushIgnore(scopes []ignoreScope, abs, rel string) []ignoreScope {
	if !d.gitignore {
		return scopes
	}
	for len(scopes) > 0 && !within(rel, scopes[len(scopes)-1].dir) {
		scopes = scopes[:len(scopes)-1]
	}
	file := filepath.Join(abs, ".gitignore")
	if _, err := os.Stat(file); err != nil {
		return scopes
	}
	m, err := ignore.CompileIgnoreFile(file)
	if err != nil {
		d.logger.Warn("ignoring unreadable .gitignore", "path", d.rel(file), "error", err)
		return scopes
	}
	return append(scopes, ignoreScope{dir: rel, matcher: m})
}

func (d *discoverer) ignored(scopes []ignoreScope, rel string, isDir bool) bool {
	for _, s := range scopes {
		if !within(rel, s.dir) {
			continue
		}
		sub := rel
		if s.dir != "" {
			sub = strings.TrimPrefix(rel, s.dir+"/")
		}
		if isDir {
			sub += "/"
		}
		if s.matcher.MatchesPath(sub) {
			return true
		}
	}
	return false
}

func within(rel, dir string) bool {
	if dir == "" {
		return true
	}
	return rel == dir || strings.HasPrefix(rel, dir+"/")
}

// stem returns a slash path's base name without its extension.
func stem(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}
