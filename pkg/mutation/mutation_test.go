package mutation

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/staticinit/pkg/bytecode"
)

func sampleType() *bytecode.TypeBody {
	k := func(name string) bytecode.MethodKey {
		return bytecode.MethodKey{Owner: "a/B", Name: name, Desc: "()V"}
	}
	ret := bytecode.Instruction{Op: bytecode.OpOther, Opcode: 0xb1}
	return &bytecode.TypeBody{Name: "a/B", Methods: []*bytecode.MethodBody{
		{Key: k("<clinit>"), Instructions: []bytecode.Instruction{
			{Op: bytecode.OpInvocation, Kind: bytecode.KindStatic, Target: k("x")},
			ret,
		}},
		{Key: k("x"), Instructions: []bytecode.Instruction{ret}},
		{Key: k("y")},
	}}
}

func TestEveryInstruction(t *testing.T) {
	points := slices.Collect(EveryInstruction(sampleType()))
	require.Len(t, points, 3)

	require.Equal(t, "a/B.<clinit>()V#0", points[0].ID)
	require.Equal(t, "invoke[static] a/B.x()V", points[0].Description)
	require.Equal(t, 1, points[1].Index)
	require.Equal(t, "x", points[2].Location.Name)
	require.Equal(t, "op 0xb1", points[2].Description)
}

func TestEveryInstruction_StopsEarly(t *testing.T) {
	n := 0
	for range EveryInstruction(sampleType()) {
		n++
		break
	}
	require.Equal(t, 1, n)
}

func TestInMethods(t *testing.T) {
	points := slices.Collect(InMethods(sampleType(), "x", "<clinit>()V"))
	require.Len(t, points, 3)

	points = slices.Collect(InMethods(sampleType(), "x()V"))
	require.Len(t, points, 1)

	require.Empty(t, slices.Collect(InMethods(sampleType(), "y")))
}

func TestPoint_WithTag(t *testing.T) {
	p := NewPoint(bytecode.MethodKey{Owner: "a/B", Name: "x", Desc: "()V"}, 0, "d")
	tagged := p.WithTag(Tag{Feature: "f", Reason: "r"})
	again := tagged.WithTag(Tag{Feature: "g"})

	require.Empty(t, p.Tags)
	require.Len(t, tagged.Tags, 1)
	require.Len(t, again.Tags, 2)
}

func TestReadYAML(t *testing.T) {
	in := `
- type: com.example.Foo
  method: helper(I)V
  index: 2
  description: negated conditional
- type: com/example/Bar
  method: <clinit>()V
  index: 0
`
	points, err := ReadYAML(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.Equal(t, bytecode.MethodKey{Owner: "com/example/Foo", Name: "helper", Desc: "(I)V"}, points[0].Location)
	require.Equal(t, "negated conditional", points[0].Description)
	require.Equal(t, "com/example/Bar.<clinit>()V#0", points[1].ID)

	grouped := ByType(points)
	require.Len(t, grouped, 2)
	require.Len(t, grouped["com/example/Foo"], 1)
}

func TestReadYAML_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "not a list", in: "type: x"},
		{name: "missing type", in: "- method: a()V"},
		{name: "missing descriptor", in: "- type: a/B\n  method: a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadYAML(strings.NewReader(tt.in))
			require.Error(t, err)
		})
	}

	points, err := ReadYAML(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, points)
}
