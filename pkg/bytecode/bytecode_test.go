package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeName(t *testing.T) {
	n := TypeNameOf("com.example.Outer$Inner")
	require.Equal(t, TypeName("com/example/Outer$Inner"), n)
	require.Equal(t, "com.example.Outer$Inner", n.Dotted())
	require.Equal(t, "Lcom/example/Outer$Inner;", n.Descriptor())
}

func TestMethodKey(t *testing.T) {
	clinit := MethodKey{Owner: "a/B", Name: "<clinit>", Desc: "()V"}
	require.True(t, clinit.IsTypeInitializer())
	require.False(t, clinit.IsConstructor())
	require.True(t, clinit.NoArgs())
	require.Equal(t, "a/B.<clinit>()V", clinit.String())

	ctor := MethodKey{Owner: "a/B", Name: "<init>", Desc: "(I)V"}
	require.True(t, ctor.IsConstructor())
	require.False(t, ctor.NoArgs())
}

func TestParseAccessFlags(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    AccessFlags
		wantErr bool
	}{
		{name: "empty", in: nil, want: 0},
		{name: "package is implicit", in: []string{"package", "static"}, want: Static},
		{name: "case and space", in: []string{" Private ", "SYNTHETIC"}, want: Private | Synthetic},
		{name: "round trip", in: []string{"public", "enum-constant-init", "constructor"}, want: Public | EnumConstantInit | Constructor},
		{name: "unknown", in: []string{"volatile"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAccessFlags(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)

			back, err := ParseAccessFlags(splitFlags(got.String()))
			require.NoError(t, err)
			require.Equal(t, got, back)
		})
	}
}

func splitFlags(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '|' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

func TestInvocationKind(t *testing.T) {
	require.True(t, KindDynamicLambda.IsCapture())
	require.True(t, KindMethodHandle.IsCapture())
	require.False(t, KindInlineLambda.IsCapture())
	require.False(t, KindStatic.IsCapture())
	require.Equal(t, "dynamic-lambda", KindDynamicLambda.String())
	require.Equal(t, "kind(99)", InvocationKind(99).String())
}

func TestInstructionString(t *testing.T) {
	tests := []struct {
		in   Instruction
		want string
	}{
		{
			in:   Instruction{Op: OpInvocation, Kind: KindStatic, Target: MethodKey{Owner: "a/B", Name: "c", Desc: "()V"}},
			want: "invoke[static] a/B.c()V",
		},
		{
			in:   Instruction{Op: OpInvocation, Kind: KindDynamicLambda, Target: MethodKey{Owner: "a/B", Name: "l", Desc: "()V"}, Interface: "java/lang/Runnable"},
			want: "invoke[dynamic-lambda] a/B.l()V as java/lang/Runnable",
		},
		{
			in:   Instruction{Op: OpFieldAccess, Put: true, Static: true, Field: FieldRef{Owner: "a/B", Name: "X", Desc: "I"}},
			want: "putstatic a/B.X I",
		},
		{
			in:   Instruction{Op: OpFieldAccess, Field: FieldRef{Owner: "a/B", Name: "y", Desc: "J"}},
			want: "getfield a/B.y J",
		},
		{in: Instruction{Op: OpObjectConstruction, Type: "a/B"}, want: "new a/B"},
		{in: Instruction{Op: OpOther, Opcode: 0xb1}, want: "op 0xb1"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, tt.in.String())
		})
	}
}

func lambda(iface TypeName, target string) Instruction {
	return Instruction{
		Op:        OpInvocation,
		Kind:      KindDynamicLambda,
		Interface: iface,
		Target:    MethodKey{Owner: "a/B", Name: target, Desc: "()Ljava/lang/Object;"},
	}
}

func call(owner TypeName, name string) Instruction {
	return Instruction{Op: OpInvocation, Kind: KindInterface, Target: MethodKey{Owner: owner, Name: name, Desc: "(Ljava/lang/Object;)Z"}}
}

func put(desc string) Instruction {
	return Instruction{Op: OpFieldAccess, Put: true, Static: true, Field: FieldRef{Owner: "a/B", Name: "F", Desc: desc}}
}

// own calls the second method of the type under test.
func own() Instruction {
	return Instruction{Op: OpInvocation, Kind: KindSpecial, Target: MethodKey{Owner: "a/B", Name: "b", Desc: "()V"}}
}

func TestResolveCaptures(t *testing.T) {
	const (
		supplier TypeName = "java/util/function/Supplier"
		consumer TypeName = "java/util/function/Consumer"
		runnable TypeName = "java/lang/Runnable"
	)

	tests := []struct {
		name    string
		methods [][]Instruction
		want    InvocationKind
	}{
		{
			name:    "deferred interface stored in field",
			methods: [][]Instruction{{lambda(supplier, "l"), put(supplier.Descriptor())}},
			want:    KindDynamicLambda,
		},
		{
			name:    "other interface stored in field",
			methods: [][]Instruction{{lambda(runnable, "l"), put(runnable.Descriptor())}},
			want:    KindDynamicLambda,
		},
		{
			name:    "custom interface stored in field",
			methods: [][]Instruction{{lambda("com/example/Custom", "l"), put("Lcom/example/Custom;")}},
			want:    KindDynamicLambda,
		},
		{
			name: "handed to own constructor that keeps it",
			methods: [][]Instruction{
				{lambda(supplier, "l"), own()},
				{put(supplier.Descriptor())},
			},
			want: KindDynamicLambda,
		},
		{
			name: "handed to own method that runs it",
			methods: [][]Instruction{
				{lambda(supplier, "l"), own()},
				{call(supplier, "get")},
			},
			want: KindInlineLambda,
		},
		{
			name: "field of the same type written elsewhere",
			methods: [][]Instruction{
				{lambda(supplier, "l"), call(supplier, "get")},
				{put(supplier.Descriptor())},
			},
			want: KindInlineLambda,
		},
		{
			name:    "deferred interface added to a collection",
			methods: [][]Instruction{{lambda(supplier, "l"), lambda(supplier, "m"), call("java/util/List", "add")}},
			want:    KindDynamicLambda,
		},
		{
			name:    "custom interface added to a collection",
			methods: [][]Instruction{{lambda("com/example/Custom", "l"), call("java/util/List", "add")}},
			want:    KindInlineLambda,
		},
		{
			name:    "passed to a stream",
			methods: [][]Instruction{{lambda(consumer, "l"), call("java/util/stream/Stream", "forEach")}},
			want:    KindInlineLambda,
		},
		{
			name:    "passed to a collector",
			methods: [][]Instruction{{lambda(supplier, "l"), call("java/util/stream/Collectors", "toMap")}},
			want:    KindInlineLambda,
		},
		{
			name:    "passed to forEach of a list",
			methods: [][]Instruction{{lambda(consumer, "l"), call("java/util/List", "forEach")}},
			want:    KindInlineLambda,
		},
		{
			name:    "deferred interface consumed by own method",
			methods: [][]Instruction{{lambda(supplier, "l"), call(supplier, "get")}},
			want:    KindInlineLambda,
		},
		{
			name:    "deferred interface passed to non-container",
			methods: [][]Instruction{{lambda(supplier, "l"), call("com/example/Util", "run")}},
			want:    KindInlineLambda,
		},
		{
			name:    "field of a different type",
			methods: [][]Instruction{{lambda(supplier, "l"), put("Ljava/util/function/Function;")}},
			want:    KindInlineLambda,
		},
		{
			name:    "no following call",
			methods: [][]Instruction{{lambda(supplier, "l")}},
			want:    KindInlineLambda,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ := &TypeBody{Name: "a/B"}
			for i, ins := range tt.methods {
				typ.Methods = append(typ.Methods, &MethodBody{
					Key:          MethodKey{Owner: "a/B", Name: string(rune('a' + i)), Desc: "()V"},
					Instructions: ins,
				})
			}
			ResolveCaptures(typ, DefaultCapturePolicy())
			require.Equal(t, tt.want, typ.Methods[0].Instructions[0].Kind)
		})
	}
}

func TestResolveCaptures_LeavesMethodHandles(t *testing.T) {
	typ := &TypeBody{Name: "a/B", Methods: []*MethodBody{{
		Key: MethodKey{Owner: "a/B", Name: "<clinit>", Desc: "()V"},
		Instructions: []Instruction{
			{Op: OpInvocation, Kind: KindMethodHandle, Target: MethodKey{Owner: "a/B", Name: "h", Desc: "()V"}},
		},
	}}}
	ResolveCaptures(typ, DefaultCapturePolicy())
	require.Equal(t, KindMethodHandle, typ.Methods[0].Instructions[0].Kind)
}

func TestCapturePolicy_Matching(t *testing.T) {
	p := CapturePolicy{
		DeferredInterfaces: []string{"java/util/function/", "java/lang/Runnable"},
		ContainerPrefixes:  []string{"java/util/"},
	}
	require.True(t, p.isDeferred("java/util/function/Supplier"))
	require.True(t, p.isDeferred("java/lang/Runnable"))
	require.False(t, p.isDeferred("java/lang/RunnableFuture"))
	require.True(t, p.isContainer("java/util/ArrayList"))
	require.False(t, p.isContainer("java/util/function/Supplier"))

	d := DefaultCapturePolicy()
	require.True(t, d.runsImmediately(MethodKey{Owner: "java/util/stream/Stream", Name: "map"}))
	require.True(t, d.runsImmediately(MethodKey{Owner: "java/util/Optional", Name: "map"}))
	require.True(t, d.runsImmediately(MethodKey{Owner: "java/util/Map", Name: "computeIfAbsent"}))
	require.False(t, d.runsImmediately(MethodKey{Owner: "java/util/Map", Name: "put"}))
	require.False(t, d.runsImmediately(MethodKey{Owner: "java/util/OptionalInt", Name: "map"}))
}
