// Package pipeline implements the file-set primitives shared by every task:
// reading a source set, concatenating, renaming and writing to a destination.
package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/poltergeist/haunt/pkg/utils"
)

// ErrNoSources is returned when a literal (non-glob) source path is missing
var ErrNoSources = errors.New("no source files")

// File is one member of a source set
type File struct {
	// Path is the file's location on disk, relative to the project root
	Path string
	// Base is the static directory prefix of the glob that matched the file
	Base string
	// Rel is Path relative to Base, slash separated; Dest writes to dir/Rel
	Rel      string
	Contents []byte
}

// Name returns the file's base name
func (f *File) Name() string {
	return path.Base(f.Rel)
}

// Ext returns the file's extension including the dot
func (f *File) Ext() string {
	return path.Ext(f.Rel)
}

// Src expands patterns under root into an ordered source set. Patterns are
// processed in order; each pattern's matches are sorted lexically and files
// already selected by an earlier pattern are skipped. Patterns prefixed with
// "!" remove matching files from the whole set.
func Src(root string, patterns ...string) ([]*File, error) {
	matcher, err := utils.NewPatternMatcher(patterns)
	if err != nil {
		return nil, err
	}

	fsys := os.DirFS(root)
	seen := make(map[string]bool)
	var files []*File

	for _, pattern := range matcher.Include() {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		if len(matches) == 0 && !utils.IsGlobPattern(pattern) {
			return nil, fmt.Errorf("%w: %s", ErrNoSources, pattern)
		}
		sort.Strings(matches)

		base := utils.StaticBase(pattern)
		for _, m := range matches {
			if seen[m] || matcher.Excluded(m) {
				continue
			}

			full := filepath.Join(root, filepath.FromSlash(m))
			info, err := os.Stat(full)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", m, err)
			}
			if info.IsDir() {
				continue
			}

			contents, err := os.ReadFile(full)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", m, err)
			}

			rel := m
			if base != "." {
				if r, err := filepath.Rel(filepath.FromSlash(base), filepath.FromSlash(m)); err == nil {
					rel = filepath.ToSlash(r)
				}
			}

			seen[m] = true
			files = append(files, &File{
				Path:     m,
				Base:     base,
				Rel:      rel,
				Contents: contents,
			})
		}
	}

	return files, nil
}

// Concat joins files in order into a single file named name. Each file's
// contents are separated by sep. Concat of an empty set returns nil.
func Concat(name string, files []*File, sep string) *File {
	if len(files) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for i, f := range files {
		if i > 0 {
			buf.WriteString(sep)
		}
		buf.Write(f.Contents)
	}

	first := files[0]
	return &File{
		Path:     path.Join(first.Base, name),
		Base:     first.Base,
		Rel:      name,
		Contents: buf.Bytes(),
	}
}

// Rename replaces the file's base name, keeping its directory
func Rename(f *File, name string) *File {
	dir := path.Dir(f.Rel)
	renamed := *f
	if dir == "." {
		renamed.Rel = name
	} else {
		renamed.Rel = path.Join(dir, name)
	}
	renamed.Path = path.Join(path.Dir(f.Path), name)
	return &renamed
}

// Dest writes each file to root/dir/file.Rel and returns the written paths
// relative to root
func Dest(root, dir string, files ...*File) ([]string, error) {
	written := make([]string, 0, len(files))
	for _, f := range files {
		if f == nil {
			continue
		}
		rel := path.Join(filepath.ToSlash(dir), f.Rel)
		if err := utils.WriteFile(filepath.Join(root, filepath.FromSlash(rel)), f.Contents); err != nil {
			return written, fmt.Errorf("write %s: %w", rel, err)
		}
		written = append(written, rel)
	}
	return written, nil
}
