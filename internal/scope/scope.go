// Package scope resolves node scopes into the ordered set of files they cover.
package scope

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
)

// File is a regular file inside a scope. Path is slash separated and
// relative to the root, or absolute when it lies outside the root.
type File struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Tokens estimates the token count of the file as ceil(bytes/4)
func (f File) Tokens() int {
	return int((f.Size + 3) / 4)
}

// EstimateTokens sums the token estimates of files
func EstimateTokens(files []File) int {
	total := 0
	for _, f := range files {
		total += f.Tokens()
	}
	return total
}

// Expander walks scope items below a root
type Expander struct {
	Root   string
	Ignore []string
}

// NewExpander creates an Expander; ignore entries are base-name globs
func NewExpander(root string, ignore []string) *Expander {
	return &Expander{Root: root, Ignore: ignore}
}

// Abs returns the filesystem path of a scope item
func (e *Expander) Abs(item string) string {
	p := filepath.FromSlash(item)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.Root, p)
}

// IsDir reports whether a scope item names an existing directory
func (e *Expander) IsDir(item string) bool {
	info, err := os.Stat(e.Abs(item))
	return err == nil && info.IsDir()
}

// Ignored reports whether a base name matches an ignore pattern
func (e *Expander) Ignored(name string) bool {
	for _, pattern := range e.Ignore {
		if pattern == name {
			return true
		}
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Expand returns the files covered by items in lexical walk order.
// Items are walked in the given order and files reached twice are kept
// at their first position. Missing items contribute nothing. The items
// themselves are never filtered by the ignore list.
func (e *Expander) Expand(items []string) ([]File, error) {
	var files []File
	seen := make(map[string]struct{})

	add := func(p string, size int64) {
		rel := e.rel(p)
		if _, dup := seen[rel]; dup {
			return
		}
		seen[rel] = struct{}{}
		files = append(files, File{Path: rel, Size: size})
	}

	for _, item := range items {
		abs := e.Abs(item)
		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", item, err)
		}
		if !info.IsDir() {
			if info.Mode().IsRegular() {
				add(abs, info.Size())
			}
			continue
		}

		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p == abs {
				return nil
			}
			if e.Ignored(d.Name()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			add(p, fi.Size())
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", item, err)
		}
	}
	return files, nil
}

func (e *Expander) rel(p string) string {
	rel, err := filepath.Rel(e.Root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// Normalize converts user supplied paths into scope items relative to
// root, keeping the first occurrence of duplicates. Every path must exist.
func Normalize(root string, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: at least one root scope path is required", domain.ErrInvalidConfig)
	}
	e := &Expander{Root: root}
	var items []string
	seen := make(map[string]struct{})
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(root, abs)
		}
		abs = filepath.Clean(abs)
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("%w: scope path %s: %v", domain.ErrInvalidConfig, p, err)
		}
		item := e.rel(abs)
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		items = append(items, item)
	}
	return items, nil
}

// Contains reports whether file lies inside the scope item
func Contains(item, file string) bool {
	if item == "." {
		return !path.IsAbs(file)
	}
	return file == item || strings.HasPrefix(file, strings.TrimSuffix(item, "/")+"/")
}
