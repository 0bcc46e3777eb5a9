package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/staticinit/pkg/bytecode"
	"github.com/715d/staticinit/pkg/classfile"
)

func TestMain(m *testing.M) {
	initConfig()
	os.Exit(m.Run())
}

func writeClass(t *testing.T, dir string, name bytecode.TypeName, build func(b *classfile.Builder)) {
	t.Helper()
	b := classfile.NewBuilder(name, "java/lang/Object", bytecode.Public)
	build(b)
	img, err := b.Bytes()
	require.NoError(t, err)
	path := filepath.Join(dir, filepath.FromSlash(string(name)+".class"))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, img, 0o644))
}

func asm(t *testing.T, m *classfile.MethodBuilder, lines ...string) {
	t.Helper()
	for _, l := range lines {
		require.NoError(t, m.Asm(l))
	}
}

func classDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeClass(t, dir, "com/example/Registry", func(b *classfile.Builder) {
		asm(t, b.Method(bytecode.Static, "<clinit>", "()V"), "invokestatic com/example/Registry.load()V", "return")
		asm(t, b.Method(bytecode.Private|bytecode.Static, "load", "()V"), "iconst_1", "pop", "return")
		asm(t, b.Method(bytecode.Public|bytecode.Static, "get", "()I"), "iconst_0", "ireturn")
	})
	writeClass(t, dir, "com/example/Plain", func(b *classfile.Builder) {
		asm(t, b.Method(bytecode.Public, "run", "()V"), "return")
	})
	return dir
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestAnalyze_JSON(t *testing.T) {
	dir := classDir(t)
	stdout, _, err := execute(t, "analyze", "--json", dir)
	require.NoError(t, err)

	var out jOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Len(t, out.Methods, 2)
	require.Equal(t, "com.example.Registry.<clinit>()", out.Methods[0].Name)
	require.Equal(t, "type initializer", out.Methods[0].Reason)
	require.Equal(t, "load()V", out.Methods[1].Method)
	require.Equal(t, 2, out.Stats.Types)
	require.Equal(t, 2, out.Stats.FilteredMethods)
	require.Equal(t, 5, out.Stats.SuppressedPoints)
	require.Equal(t, 8, out.Stats.Points)
	require.Empty(t, out.Diagnostics)
}

func TestAnalyze_Table(t *testing.T) {
	dir := classDir(t)
	stdout, _, err := execute(t, "analyze", dir)
	require.NoError(t, err)
	require.Contains(t, stdout, "com.example.Registry.load()")
	require.Contains(t, stdout, "only called during type initialization")
	require.NotContains(t, stdout, "com.example.Plain.run()")

	stdout, _, err = execute(t, "analyze", "--all", dir)
	require.NoError(t, err)
	require.Contains(t, stdout, "com.example.Plain.run()")
}

func TestAnalyze_FeatureDisabled(t *testing.T) {
	dir := classDir(t)
	stdout, _, err := execute(t, "analyze", "--json", "--features=-auto_static_initializer", dir)
	require.NoError(t, err)

	var out jOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Empty(t, out.Methods)
	require.Zero(t, out.Stats.SuppressedPoints)
}

func TestAnalyze_ExcludeAndTypes(t *testing.T) {
	dir := classDir(t)
	stdout, _, err := execute(t, "analyze", "--json", "-x", "com.example.Registry // generated", dir)
	require.NoError(t, err)
	var out jOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Empty(t, out.Methods)
	require.Equal(t, 1, out.Stats.ExcludedTypes)

	stdout, _, err = execute(t, "analyze", "--json", "--types", "com.example.Plain", dir)
	require.NoError(t, err)
	out = jOutput{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Equal(t, 1, out.Stats.Types)
}

func TestAnalyze_Points(t *testing.T) {
	dir := classDir(t)
	points := filepath.Join(t.TempDir(), "points.yaml")
	require.NoError(t, os.WriteFile(points, []byte(`
- type: com.example.Registry
  method: load()V
  index: 0
- type: com/example/Registry
  method: get()I
  index: 1
`), 0o644))

	stdout, _, err := execute(t, "analyze", "--json", "--points", points, "--types", "com/example/Registry", dir)
	require.NoError(t, err)
	var out jOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Equal(t, 2, out.Stats.Points)
	require.Equal(t, 1, out.Stats.SuppressedPoints)
	require.Len(t, out.Methods, 1)
	require.Equal(t, "load()V", out.Methods[0].Method)
}

func TestAnalyze_Diagnostics(t *testing.T) {
	dir := classDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "com", "example", "Broken.class"), []byte{0xca, 0xfe}, 0o644))

	_, stderr, err := execute(t, "analyze", dir)
	require.NoError(t, err)
	require.Contains(t, stderr, "warning: auto_static_initializer: com/example/Broken")

	_, _, err = execute(t, "analyze", "--fail-on-diagnostics", dir)
	var cErr *codedError
	require.ErrorAs(t, err, &cErr)
	require.Equal(t, exitDiagnostics, cErr.code)
}

func TestAnalyze_Errors(t *testing.T) {
	_, _, err := execute(t, "analyze", filepath.Join(t.TempDir(), "missing"))
	var cErr *codedError
	require.ErrorAs(t, err, &cErr)
	require.Equal(t, exitError, cErr.code)

	_, _, err = execute(t, "analyze", "--features=nope", classDir(t))
	require.ErrorAs(t, err, &cErr)
	require.ErrorContains(t, err, `unknown feature "nope"`)

	_, _, err = execute(t, "analyze")
	require.Error(t, err)
}

func TestFeatures(t *testing.T) {
	stdout, _, err := execute(t, "features", "--json")
	require.NoError(t, err)

	var out []jFeature
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Len(t, out, 1)
	require.Equal(t, "auto_static_initializer", out[0].Name)
	require.True(t, out[0].DefaultOn)
	require.True(t, out[0].Enabled)

	stdout, _, err = execute(t, "features", "--features", "-auto_static_initializer")
	require.NoError(t, err)
	require.Contains(t, stdout, "auto_static_initializer")
	require.Contains(t, stdout, "false")
}

func TestInternalNames(t *testing.T) {
	got := internalNames([]string{"java.util.stream.", "java.util.List#forEach", "com/example/Step"})
	require.Equal(t, []string{"java/util/stream/", "java/util/List#forEach", "com/example/Step"}, got)
}

func TestAnalyze_Methods(t *testing.T) {
	dir := classDir(t)

	stdout, _, err := execute(t, "analyze", "--json", "--methods", "load,get()I", "--types", "com/example/Registry", dir)
	require.NoError(t, err)
	var out jOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Equal(t, 5, out.Stats.Points)
	require.Equal(t, 3, out.Stats.SuppressedPoints)
	require.Len(t, out.Methods, 1)
	require.Equal(t, "load()V", out.Methods[0].Method)
}
