package scan

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/715d/staticinit/pkg/bytecode"
	"github.com/715d/staticinit/pkg/source"
)

// LoaderOptions configures code source loading.
type LoaderOptions struct {
	// Paths are class directories and jar files, searched in order.
	Paths []string

	// Fs is the filesystem to read from. If nil, the OS filesystem is used.
	Fs afero.Fs
}

// Sources is a loaded set of code sources.
type Sources struct {
	// Source serves every path, first hit wins, with loads cached.
	Source source.CodeSource

	// Names are the types found in all paths, sorted and deduplicated.
	Names []bytecode.TypeName

	closers []io.Closer
}

// Close releases open jar files.
func (s *Sources) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// LoadSources opens every path as a class directory or jar file.
func LoadSources(opts LoaderOptions) (*Sources, error) {
	if len(opts.Paths) == 0 {
		return nil, fmt.Errorf("no class paths provided")
	}
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	s := &Sources{}
	var multi source.Multi
	for _, p := range opts.Paths {
		src, err := open(fsys, p)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		if c, ok := src.(io.Closer); ok {
			s.closers = append(s.closers, c)
		}
		multi = append(multi, src)
	}

	names, err := multi.Names()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("listing types: %w", err)
	}
	if len(names) == 0 {
		_ = s.Close()
		return nil, fmt.Errorf("no class files found in %v", opts.Paths)
	}

	s.Source = source.NewCached(multi)
	s.Names = names
	return s, nil
}

func open(fsys afero.Fs, p string) (source.CodeSource, error) {
	info, err := fsys.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", p, err)
	}
	if info.IsDir() {
		return source.NewFSSource(fsys, p), nil
	}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".jar", ".zip":
		jar, err := source.OpenJar(fsys, p)
		if err != nil {
			return nil, err
		}
		return jar, nil
	}
	return nil, fmt.Errorf("%s is neither a directory nor a jar", p)
}

// FilterNames keeps the names matching any of the given dotted or internal
// prefixes. An empty prefix list keeps every name.
func FilterNames(names []bytecode.TypeName, prefixes []string) []bytecode.TypeName {
	if len(prefixes) == 0 {
		return names
	}
	return slices.DeleteFunc(slices.Clone(names), func(n bytecode.TypeName) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(string(n), string(bytecode.TypeNameOf(p))) {
				return false
			}
		}
		return true
	})
}
