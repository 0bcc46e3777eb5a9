package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	yaml "gopkg.in/yaml.v3"

	"github.com/stretchr/testify/require"

	"github.com/715d/staticinit/pkg/bytecode"
	"github.com/715d/staticinit/pkg/classfile"
	"github.com/715d/staticinit/pkg/source"
)

const defaultSuper = "java/lang/Object"

// LoadTestCase loads a test case from a directory with a specified testdata root.
func LoadTestCase(t *testing.T, dir, root string) *TestCase {
	t.Helper()
	yamlPath := filepath.Join(dir, "expected.yaml")

	tc := &TestCase{}
	data, err := os.ReadFile(yamlPath)
	require.NoError(t, err)
	err = yaml.Unmarshal(data, tc)
	require.NoError(t, err)

	// Use relative path from testdata root if provided.
	if root != "" {
		relPath, err := filepath.Rel(root, dir)
		if err != nil {
			tc.Dir = filepath.Base(dir)
		} else {
			tc.Dir = relPath
		}
		return tc
	}

	tc.Dir = filepath.Base(dir)
	return tc
}

// Assemble builds the class file image of every type in the test case.
func Assemble(shapes []TypeShape) (source.MapSource, error) {
	src := make(source.MapSource, len(shapes))
	for _, s := range shapes {
		img, err := assembleType(s)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", s.Name, err)
		}
		name := bytecode.TypeName(s.Name)
		if _, dup := src[name]; dup {
			return nil, fmt.Errorf("type %s declared twice", s.Name)
		}
		src[name] = img
	}
	return src, nil
}

func assembleType(s TypeShape) ([]byte, error) {
	flags, err := bytecode.ParseAccessFlags(s.Flags)
	if err != nil {
		return nil, err
	}
	super := s.Super
	if super == "" {
		super = defaultSuper
	}

	b := classfile.NewBuilder(bytecode.TypeName(s.Name), bytecode.TypeName(super), flags)
	for _, f := range s.Fields {
		ff, err := bytecode.ParseAccessFlags(f.Flags)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		b.Field(ff, f.Name, f.Desc)
	}
	for _, m := range s.Methods {
		mf, err := bytecode.ParseAccessFlags(m.Flags)
		if err != nil {
			return nil, fmt.Errorf("method %s%s: %w", m.Name, m.Desc, err)
		}
		mb := b.Method(mf, m.Name, m.Desc)
		for _, line := range m.Code {
			if err := mb.Asm(line); err != nil {
				return nil, fmt.Errorf("method %s%s: %w", m.Name, m.Desc, err)
			}
		}
	}
	return b.Bytes()
}
