package callgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/staticinit/pkg/bytecode"
)

const owner bytecode.TypeName = "com/example/Foo"

func key(name, desc string) bytecode.MethodKey {
	return bytecode.MethodKey{Owner: owner, Name: name, Desc: desc}
}

func invoke(kind bytecode.InvocationKind, target bytecode.MethodKey) bytecode.Instruction {
	return bytecode.Instruction{Op: bytecode.OpInvocation, Kind: kind, Target: target}
}

func method(name, desc string, ins ...bytecode.Instruction) *bytecode.MethodBody {
	return &bytecode.MethodBody{Key: key(name, desc), Instructions: ins}
}

func TestBuild(t *testing.T) {
	typ := &bytecode.TypeBody{
		Name: owner,
		Methods: []*bytecode.MethodBody{
			method("<clinit>", "()V",
				invoke(bytecode.KindStatic, key("a", "()V")),
				invoke(bytecode.KindStatic, key("a", "()V")),
				invoke(bytecode.KindDynamicLambda, key("lambda$0", "()V")),
				invoke(bytecode.KindStatic, bytecode.MethodKey{Owner: "java/lang/System", Name: "gc", Desc: "()V"}),
				invoke(bytecode.KindStatic, key("missing", "()V")),
				bytecode.Instruction{Op: bytecode.OpFieldAccess},
			),
			method("a", "()V", invoke(bytecode.KindDirectPrivate, key("a", "(I)V"))),
			method("a", "(I)V", invoke(bytecode.KindMethodHandle, key("lambda$0", "()V")), invoke(bytecode.KindStatic, key("lambda$0", "()V"))),
			method("lambda$0", "()V"),
		},
	}

	g := Build(typ)
	require.Equal(t, 4, g.Len())
	require.Equal(t, owner, g.Type)
	require.Equal(t, []Edge{
		{From: 0, To: 1},
		{From: 0, To: 3, Delayed: true},
		{From: 1, To: 2},
		{From: 2, To: 3, Delayed: true},
		{From: 2, To: 3},
	}, g.Edges)

	v, ok := g.Lookup(key("a", "(I)V"))
	require.True(t, ok)
	require.Equal(t, 2, v)
	require.Equal(t, "a", g.Method(v).Key.Name)
	_, ok = g.Lookup(key("a", "(J)V"))
	require.False(t, ok)

	require.Equal(t, []Edge{{From: 0, To: 1}, {From: 0, To: 3, Delayed: true}}, g.Succs(0))
	require.Len(t, g.Preds(3), 3)
	require.Empty(t, g.Preds(0))

	require.True(t, g.Captured(3))
	require.False(t, g.Captured(1))

	require.Equal(t, `<clinit>()V -> a()V
<clinit>()V ~> lambda$0()V
a()V -> a(I)V
a(I)V -> lambda$0()V
a(I)V ~> lambda$0()V
`, g.String())
}

func TestBuild_Empty(t *testing.T) {
	g := Build(&bytecode.TypeBody{Name: owner})
	require.Zero(t, g.Len())
	require.Empty(t, g.Edges)
	require.Empty(t, g.String())
}

func TestBuild_SelfLoop(t *testing.T) {
	g := Build(&bytecode.TypeBody{Name: owner, Methods: []*bytecode.MethodBody{
		method("loop", "()V", invoke(bytecode.KindDirectPrivate, key("loop", "()V"))),
	}})
	require.Equal(t, []Edge{{From: 0, To: 0}}, g.Edges)
	require.Equal(t, g.Succs(0), g.Preds(0))
}
