// Package source provides the byte images of compiled types.
//
// Every CodeSource fails soft: a type that cannot be found or read is
// reported as absent, never as an error. All implementations are safe for
// concurrent use.
package source

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/715d/staticinit/pkg/bytecode"
)

const classSuffix = ".class"

// CodeSource yields the byte image of a type by name.
type CodeSource interface {
	BytesFor(name bytecode.TypeName) ([]byte, bool)
}

// Lister is implemented by sources that can enumerate their types.
type Lister interface {
	Names() ([]bytecode.TypeName, error)
}

// FSSource reads class files laid out by package under a root directory.
type FSSource struct {
	fs   afero.Fs
	root string
}

// NewFSSource returns a source reading "<root>/<name>.class" from fsys.
func NewFSSource(fsys afero.Fs, root string) *FSSource {
	return &FSSource{fs: fsys, root: root}
}

func (s *FSSource) BytesFor(name bytecode.TypeName) ([]byte, bool) {
	if !validName(name) {
		return nil, false
	}
	b, err := afero.ReadFile(s.fs, filepath.Join(s.root, filepath.FromSlash(string(name)+classSuffix)))
	if err != nil {
		return nil, false
	}
	return b, true
}

// Names walks the root directory and returns every class file's type name, sorted.
func (s *FSSource) Names() ([]bytecode.TypeName, error) {
	var names []bytecode.TypeName
	err := afero.Walk(s.fs, s.root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(p, classSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		names = append(names, bytecode.TypeName(strings.TrimSuffix(filepath.ToSlash(rel), classSuffix)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", s.root, err)
	}
	slices.Sort(names)
	return names, nil
}

// JarSource reads class files from a jar archive.
type JarSource struct {
	path    string
	entries map[bytecode.TypeName]*zip.File
	closer  io.Closer

	// Entry reads share one file offset on some afero backends.
	mu sync.Mutex
}

// OpenJar opens the archive at p on fsys. Close releases it.
func OpenJar(fsys afero.Fs, p string) (*JarSource, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return nil, fmt.Errorf("opening jar %s: %w", p, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat jar %s: %w", p, err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading jar %s: %w", p, err)
	}

	entries := make(map[bytecode.TypeName]*zip.File)
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || !strings.HasSuffix(zf.Name, classSuffix) {
			continue
		}
		// Multi-release and module descriptors are not types of this archive.
		if strings.HasPrefix(zf.Name, "META-INF/") || strings.HasSuffix(zf.Name, "module-info.class") {
			continue
		}
		entries[bytecode.TypeName(strings.TrimSuffix(zf.Name, classSuffix))] = zf
	}
	return &JarSource{path: p, entries: entries, closer: f}, nil
}

func (s *JarSource) BytesFor(name bytecode.TypeName) ([]byte, bool) {
	zf, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, err := zf.Open()
	if err != nil {
		return nil, false
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, false
	}
	return b, true
}

// Names returns the archive's type names, sorted.
func (s *JarSource) Names() ([]bytecode.TypeName, error) {
	names := make([]bytecode.TypeName, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

// Close releases the underlying file.
func (s *JarSource) Close() error {
	return s.closer.Close()
}

func (s *JarSource) String() string {
	return s.path
}

// MapSource serves images from memory. It must not be modified after first use.
type MapSource map[bytecode.TypeName][]byte

func (s MapSource) BytesFor(name bytecode.TypeName) ([]byte, bool) {
	b, ok := s[name]
	return b, ok
}

func (s MapSource) Names() ([]bytecode.TypeName, error) {
	names := make([]bytecode.TypeName, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

// Multi searches sources in order; the first hit wins.
type Multi []CodeSource

func (m Multi) BytesFor(name bytecode.TypeName) ([]byte, bool) {
	for _, s := range m {
		if b, ok := s.BytesFor(name); ok {
			return b, true
		}
	}
	return nil, false
}

// Names merges the names of every listing source, deduplicated and sorted.
func (m Multi) Names() ([]bytecode.TypeName, error) {
	var names []bytecode.TypeName
	for _, s := range m {
		l, ok := s.(Lister)
		if !ok {
			continue
		}
		n, err := l.Names()
		if err != nil {
			return nil, err
		}
		names = append(names, n...)
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

type lookup struct {
	image []byte
	ok    bool
}

// Cached memoizes another source. Concurrent misses for the same type
// result in a single load.
type Cached struct {
	next  CodeSource
	cache *xsync.Map[bytecode.TypeName, lookup]
	group singleflight.Group
}

// NewCached wraps next.
func NewCached(next CodeSource) *Cached {
	return &Cached{next: next, cache: xsync.NewMap[bytecode.TypeName, lookup]()}
}

func (c *Cached) BytesFor(name bytecode.TypeName) ([]byte, bool) {
	if l, ok := c.cache.Load(name); ok {
		return l.image, l.ok
	}
	v, _, _ := c.group.Do(string(name), func() (any, error) {
		if l, ok := c.cache.Load(name); ok {
			return l, nil
		}
		image, ok := c.next.BytesFor(name)
		l := lookup{image: image, ok: ok}
		c.cache.Store(name, l)
		return l, nil
	})
	l := v.(lookup)
	return l.image, l.ok
}

// Names delegates to the wrapped source when it can list.
func (c *Cached) Names() ([]bytecode.TypeName, error) {
	l, ok := c.next.(Lister)
	if !ok {
		return nil, fmt.Errorf("source %T cannot list types", c.next)
	}
	return l.Names()
}

// validName rejects names that would escape the source root.
func validName(name bytecode.TypeName) bool {
	s := string(name)
	if s == "" || strings.HasPrefix(s, "/") {
		return false
	}
	for _, part := range strings.Split(s, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
