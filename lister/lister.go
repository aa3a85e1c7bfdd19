// Package lister lists the files under a directory tree, filtered by
// regular expressions over their relative paths.
package lister

import (
	"io/fs"
	"net/url"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Lister lists the regular files under Dir.  A file is listed if its
// slash-separated path relative to Dir matches at least one include
// pattern (or there are none), matches no exclude pattern, and is not
// hidden.  Patterns must match the whole relative path.
type Lister struct {
	Dir      string
	includes []*regexp.Regexp
	excludes []*regexp.Regexp
}

// New compiles the include and exclude patterns for a lister rooted
// at dir.
func New(dir string, includes, excludes []string) (l *Lister, err error) {
	if dir == "" {
		return nil, errors.New("lister: empty directory")
	}
	l = &Lister{Dir: dir}
	l.includes, err = compile(includes)
	if err != nil {
		return nil, errors.Wrap(err, "include")
	}
	l.excludes, err = compile(excludes)
	if err != nil {
		return nil, errors.Wrap(err, "exclude")
	}
	return
}

func compile(patterns []string) (res []*regexp.Regexp, err error) {
	for _, pat := range patterns {
		re, err := regexp.Compile(`^(?:` + pat + `)$`)
		if err != nil {
			return nil, err
		}
		res = append(res, re)
	}
	return
}

// List walks Dir and returns a file URL for every listed file, in
// lexical order of relative path.  Directories that can't be read,
// Dir included, are skipped.  Symlinks are listed, not followed.
func (l *Lister) List() (urls []*url.URL, err error) {
	root, err := filepath.Abs(l.Dir)
	if err != nil {
		return
	}
	rels, err := l.files(root)
	if err != nil {
		return
	}
	for _, rel := range rels {
		if !l.matchesIncludes(rel) || l.matchesExcludes(rel) {
			continue
		}
		if hidden(rel) {
			continue
		}
		abspath := filepath.Join(root, filepath.FromSlash(rel))
		urls = append(urls, &url.URL{Scheme: "file", Path: filepath.ToSlash(abspath)})
	}
	return
}

// files returns the slash-separated relative paths of every
// non-directory entry under root.
func (l *Lister) files(root string) (rels []string, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Debugf("lister: skipping %s: %v", path, err)
			if path == root || (d != nil && d.IsDir()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(rels)
	return
}

func (l *Lister) matchesIncludes(rel string) bool {
	if len(l.includes) == 0 {
		return true
	}
	for _, re := range l.includes {
		if re.MatchString(rel) {
			return true
		}
	}
	return false
}

func (l *Lister) matchesExcludes(rel string) bool {
	for _, re := range l.excludes {
		if re.MatchString(rel) {
			return true
		}
	}
	return false
}

// hidden is true for dotfiles, and for anything under a dot
// directory at the top of the tree.  Dot directories deeper down are
// walked like any other.
func hidden(rel string) bool {
	return strings.HasPrefix(rel, ".") || strings.HasPrefix(filepath.Base(rel), ".")
}
