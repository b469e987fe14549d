package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultEntryFile is the file name of a directory-style entry.
const DefaultEntryFile = "ENTRY.md"

// Layout describes how entries are laid out on disk.
type Layout struct {
	// EntryFile names the document inside a directory-style entry
	// (<name>/ENTRY.md). The entry name is the directory name.
	EntryFile string
	// Patterns are doublestar globs, relative to a location root, matching
	// entry documents. Files not named EntryFile take their name from the
	// file name without extension.
	Patterns []string
	// Ignore lists base names that are never entries.
	Ignore []string
}

// DefaultLayout matches <name>/ENTRY.md at any depth and flat <name>.md
// files at the top of each location.
func DefaultLayout() Layout {
	return Layout{
		EntryFile: DefaultEntryFile,
		Patterns:  []string{"**/" + DefaultEntryFile, "*.md"},
		Ignore:    []string{"README.md", "INDEX.md"},
	}
}

// Summary is the light-weight record produced by List.
type Summary struct {
	Name     string
	Location Location
	Path     string
}

// Filter restricts List to one location. The zero value lists both.
type Filter struct {
	Location Location
}

// Library reads entries from the primary and extended locations.
// It never mutates entries except through Save.
type Library struct {
	roots  map[Location]string
	layout Layout
}

// Open creates a library over the two location roots. A missing root is
// treated as empty.
func Open(primaryDir, extendedDir string, layout Layout) *Library {
	if layout.EntryFile == "" {
		layout.EntryFile = DefaultEntryFile
	}
	if len(layout.Patterns) == 0 {
		layout.Patterns = DefaultLayout().Patterns
	}
	return &Library{
		roots: map[Location]string{
			LocationPrimary:  primaryDir,
			LocationExtended: extendedDir,
		},
		layout: layout,
	}
}

// Root returns the directory for a location.
func (l *Library) Root(loc Location) string {
	return l.roots[loc]
}

// scan maps entry names to paths within one location. Names matched by more
// than one file are returned separately in dups.
func (l *Library) scan(loc Location) (found map[string]string, dups map[string][]string, err error) {
	root := l.roots[loc]
	found = make(map[string]string)
	dups = make(map[string][]string)
	if root == "" {
		return found, dups, nil
	}
	if _, statErr := os.Stat(root); errors.Is(statErr, fs.ErrNotExist) {
		return found, dups, nil
	}

	fsys := os.DirFS(root)
	for _, pattern := range l.layout.Patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, nil, fmt.Errorf("glob %s in %s: %w", pattern, root, err)
		}
		for _, rel := range matches {
			name, ok := l.nameFor(rel)
			if !ok {
				continue
			}
			full := filepath.Join(root, filepath.FromSlash(rel))
			if prev, seen := found[name]; seen && prev != full {
				dups[name] = sortedPair(prev, full)
				continue
			}
			found[name] = full
		}
	}
	return found, dups, nil
}

// nameFor derives the entry name from a slash-separated relative path.
func (l *Library) nameFor(rel string) (string, bool) {
	base := path.Base(rel)
	for _, ignored := range l.layout.Ignore {
		if base == ignored {
			return "", false
		}
	}
	if base == l.layout.EntryFile {
		dir := path.Dir(rel)
		if dir == "." {
			return "", false
		}
		return path.Base(dir), true
	}
	name := strings.TrimSuffix(base, path.Ext(base))
	return name, name != ""
}

// index scans both locations and fails on any name found twice.
func (l *Library) index() (map[string]Summary, error) {
	primary, pdups, err := l.scan(LocationPrimary)
	if err != nil {
		return nil, err
	}
	extended, edups, err := l.scan(LocationExtended)
	if err != nil {
		return nil, err
	}

	dups := make(map[string][]string)
	for name, paths := range pdups {
		dups[name] = paths
	}
	for name, paths := range edups {
		dups[name] = paths
	}
	for name, p := range primary {
		if ep, ok := extended[name]; ok {
			dups[name] = sortedPair(p, ep)
		}
	}
	if len(dups) > 0 {
		names := make([]string, 0, len(dups))
		for n := range dups {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, &DuplicateLocationError{Name: names[0], Paths: dups[names[0]]}
	}

	out := make(map[string]Summary, len(primary)+len(extended))
	for name, p := range primary {
		out[name] = Summary{Name: name, Location: LocationPrimary, Path: p}
	}
	for name, p := range extended {
		out[name] = Summary{Name: name, Location: LocationExtended, Path: p}
	}
	return out, nil
}

// locate finds one entry, primary first. It only fails on duplicates that
// involve the requested name, so a corrupt neighbour does not hide a
// healthy entry.
func (l *Library) locate(name string) (Summary, error) {
	primary, pdups, err := l.scan(LocationPrimary)
	if err != nil {
		return Summary{}, err
	}
	extended, edups, err := l.scan(LocationExtended)
	if err != nil {
		return Summary{}, err
	}
	if paths, ok := pdups[name]; ok {
		return Summary{}, &DuplicateLocationError{Name: name, Paths: paths}
	}
	if paths, ok := edups[name]; ok {
		return Summary{}, &DuplicateLocationError{Name: name, Paths: paths}
	}

	pp, inPrimary := primary[name]
	ep, inExtended := extended[name]
	switch {
	case inPrimary && inExtended:
		return Summary{}, &DuplicateLocationError{Name: name, Paths: sortedPair(pp, ep)}
	case inPrimary:
		return Summary{Name: name, Location: LocationPrimary, Path: pp}, nil
	case inExtended:
		return Summary{Name: name, Location: LocationExtended, Path: ep}, nil
	}

	names := make([]string, 0, len(primary)+len(extended))
	for n := range primary {
		names = append(names, n)
	}
	for n := range extended {
		names = append(names, n)
	}
	return Summary{}, &NotFoundError{Name: name, Suggestions: Suggest(name, names, 3)}
}

// Load reads and parses one entry, resolving its references.
func (l *Library) Load(name string) (*Entry, error) {
	sum, err := l.locate(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(sum.Path)
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", name, err)
	}
	entry := Parse(sum.Name, sum.Location, sum.Path, data)
	if err := l.Resolve(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Resolve marks each reference of entry as resolved or not. Entry links
// resolve against the combined namespace, file links against the entry's
// directory.
func (l *Library) Resolve(entry *Entry) error {
	if len(entry.References) == 0 {
		return nil
	}
	known, err := l.knownNames()
	if err != nil {
		return err
	}
	dir := filepath.Dir(entry.Path)
	for i, ref := range entry.References {
		switch ref.Kind {
		case RefEntry:
			entry.References[i].Resolved = known[ref.Target]
		case RefFile:
			target := filepath.Join(dir, filepath.FromSlash(ref.Target))
			_, statErr := os.Stat(target)
			entry.References[i].Resolved = statErr == nil
		}
	}
	return nil
}

// knownNames collects every name on disk, duplicates included, so reference
// resolution does not depend on the health of unrelated entries.
func (l *Library) knownNames() (map[string]bool, error) {
	known := make(map[string]bool)
	for _, loc := range []Location{LocationPrimary, LocationExtended} {
		found, dups, err := l.scan(loc)
		if err != nil {
			return nil, err
		}
		for n := range found {
			known[n] = true
		}
		for n := range dups {
			known[n] = true
		}
	}
	return known, nil
}

// Namespace returns every entry name across both locations, sorted.
func (l *Library) Namespace() ([]string, error) {
	idx, err := l.index()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(idx))
	for n := range idx {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// List returns a lazy sequence of entry summaries ordered by name. Each
// iteration rescans the disk, so the sequence can be ranged over again.
// A duplicate entry yields a DuplicateLocationError and ends the sequence.
func (l *Library) List(ctx context.Context, filter Filter) iter.Seq2[Summary, error] {
	return func(yield func(Summary, error) bool) {
		idx, err := l.index()
		if err != nil {
			yield(Summary{}, err)
			return
		}
		names := make([]string, 0, len(idx))
		for n, s := range idx {
			if filter.Location != "" && s.Location != filter.Location {
				continue
			}
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			if err := ctx.Err(); err != nil {
				yield(Summary{}, err)
				return
			}
			if !yield(idx[n], nil) {
				return
			}
		}
	}
}

func sortedPair(a, b string) []string {
	if a > b {
		a, b = b, a
	}
	return []string{a, b}
}

// NameForPath maps a file under one of the location roots to the entry it
// belongs to. Files inside a directory-style entry, such as assets next to
// ENTRY.md, map to that entry. It reports false for paths outside both
// roots and for files the layout does not treat as entries.
func (l *Library) NameForPath(p string) (string, Location, bool) {
	for _, loc := range []Location{LocationPrimary, LocationExtended} {
		root := l.roots[loc]
		if root == "" {
			continue
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
			continue
		}
		rel = filepath.ToSlash(rel)
		if dir := path.Dir(rel); dir != "." {
			if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(dir), l.layout.EntryFile)); err == nil {
				return path.Base(dir), loc, true
			}
		}
		for _, pattern := range l.layout.Patterns {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				if name, ok := l.nameFor(rel); ok {
					return name, loc, true
				}
			}
		}
		return "", "", false
	}
	return "", "", false
}
