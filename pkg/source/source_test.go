package source

import (
	"archive/zip"
	"bytes"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/715d/staticinit/pkg/bytecode"
)

func TestFSSource(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "classes/com/example/Foo.class", []byte("foo"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "classes/com/example/Foo$Inner.class", []byte("inner"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "classes/com/example/readme.txt", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "secret.class", []byte("nope"), 0o644))

	src := NewFSSource(fsys, "classes")

	b, ok := src.BytesFor("com/example/Foo")
	require.True(t, ok)
	require.Equal(t, []byte("foo"), b)

	_, ok = src.BytesFor("com/example/Missing")
	require.False(t, ok)

	for _, bad := range []bytecode.TypeName{"", "../secret", "/secret", "com//example/Foo", "com/./Foo"} {
		_, ok := src.BytesFor(bad)
		require.False(t, ok, "name %q", bad)
	}

	names, err := src.Names()
	require.NoError(t, err)
	require.Equal(t, []bytecode.TypeName{"com/example/Foo", "com/example/Foo$Inner"}, names)
}

func TestFSSource_MissingRoot(t *testing.T) {
	src := NewFSSource(afero.NewMemMapFs(), "nowhere")
	_, err := src.Names()
	require.Error(t, err)
}

func writeJar(t *testing.T, fsys afero.Fs, p string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, afero.WriteFile(fsys, p, buf.Bytes(), 0o644))
}

func TestJarSource(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeJar(t, fsys, "lib/app.jar", map[string]string{
		"com/example/Foo.class":                      "foo",
		"com/example/Bar.class":                      "bar",
		"module-info.class":                          "module",
		"META-INF/versions/11/com/example/Foo.class": "foo11",
		"META-INF/MANIFEST.MF":                       "Manifest-Version: 1.0",
	})

	src, err := OpenJar(fsys, "lib/app.jar")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, src.Close()) })

	b, ok := src.BytesFor("com/example/Foo")
	require.True(t, ok)
	require.Equal(t, []byte("foo"), b)

	_, ok = src.BytesFor("module-info")
	require.False(t, ok)

	names, err := src.Names()
	require.NoError(t, err)
	require.Equal(t, []bytecode.TypeName{"com/example/Bar", "com/example/Foo"}, names)
	require.Equal(t, "lib/app.jar", src.String())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, ok := src.BytesFor("com/example/Bar")
			require.True(t, ok)
			require.Equal(t, []byte("bar"), b)
		}()
	}
	wg.Wait()
}

func TestOpenJar_Errors(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "broken.jar", []byte("not a zip"), 0o644))

	_, err := OpenJar(fsys, "missing.jar")
	require.Error(t, err)

	_, err = OpenJar(fsys, "broken.jar")
	require.Error(t, err)
}

func TestMulti(t *testing.T) {
	first := MapSource{"a/A": []byte("first")}
	second := MapSource{"a/A": []byte("second"), "b/B": []byte("b")}
	m := Multi{first, second}

	b, ok := m.BytesFor("a/A")
	require.True(t, ok)
	require.Equal(t, []byte("first"), b)

	b, ok = m.BytesFor("b/B")
	require.True(t, ok)
	require.Equal(t, []byte("b"), b)

	_, ok = m.BytesFor("c/C")
	require.False(t, ok)

	names, err := m.Names()
	require.NoError(t, err)
	require.Equal(t, []bytecode.TypeName{"a/A", "b/B"}, names)
}

type countingSource struct {
	calls atomic.Int32
	next  CodeSource
}

func (c *countingSource) BytesFor(name bytecode.TypeName) ([]byte, bool) {
	c.calls.Add(1)
	return c.next.BytesFor(name)
}

func TestCached(t *testing.T) {
	counter := &countingSource{next: MapSource{"a/A": []byte("a")}}
	c := NewCached(counter)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, ok := c.BytesFor("a/A")
			require.True(t, ok)
			require.Equal(t, []byte("a"), b)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, counter.calls.Load())

	// Misses are remembered too.
	_, ok := c.BytesFor("z/Z")
	require.False(t, ok)
	_, ok = c.BytesFor("z/Z")
	require.False(t, ok)
	require.EqualValues(t, 2, counter.calls.Load())

	_, err := c.Names()
	require.Error(t, err)

	listing := NewCached(MapSource{"b/B": nil})
	names, err := listing.Names()
	require.NoError(t, err)
	require.Equal(t, []bytecode.TypeName{"b/B"}, names)
}
