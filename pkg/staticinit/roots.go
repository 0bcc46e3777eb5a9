package staticinit

import (
	"golang.org/x/tools/container/intsets"

	"github.com/715d/staticinit/pkg/bytecode"
	"github.com/715d/staticinit/pkg/callgraph"
)

// RootKind says why a method runs as part of type initialization.
type RootKind int

const (
	NotRoot RootKind = iota
	TypeInitializerRoot
	EnumConstructorRoot
	SingletonConstructorRoot
)

func (k RootKind) String() string {
	switch k {
	case TypeInitializerRoot:
		return "type initializer"
	case EnumConstructorRoot:
		return "enum constant constructor"
	case SingletonConstructorRoot:
		return "singleton constructor"
	}
	return "not a root"
}

// Roots are the initializer roots of a type.
type Roots struct {
	Set  intsets.Sparse
	Kind map[int]RootKind
}

func (r *Roots) add(v int, k RootKind) {
	if r.Set.Insert(v) {
		r.Kind[v] = k
	}
}

// FindRoots returns the methods of t that run as part of its one-shot
// initialization:
//
//   - the type initializer <clinit>()V;
//   - every constructor of an enum type, since constructors of an enum can only
//     be called while its constants are built;
//   - the private no-argument constructor of a self-initializing singleton,
//     whose type initializer does new T, invokespecial T.<init>()V and stores
//     the instance in a static field of type T.
//
// Singletons built through factory methods or reflection are not detected.
func FindRoots(t *bytecode.TypeBody, g *callgraph.Graph) *Roots {
	r := &Roots{Kind: make(map[int]RootKind)}

	clinit := t.TypeInitializer()
	if clinit == nil {
		// Without a type initializer there is nothing to filter: enum
		// constants and singletons are always created by one.
		return r
	}
	if v, ok := g.Lookup(clinit.Key); ok {
		r.add(v, TypeInitializerRoot)
	}

	if t.IsEnum() {
		for v, m := range g.Methods {
			if m.Key.IsConstructor() {
				r.add(v, EnumConstructorRoot)
			}
		}
	}

	for _, desc := range singletonConstructors(t.Name, clinit) {
		v, ok := g.Lookup(bytecode.MethodKey{Owner: t.Name, Name: bytecode.ConstructorName, Desc: desc})
		if !ok {
			continue
		}
		m := g.Method(v)
		if m.IsPrivate() && m.Key.NoArgs() {
			r.add(v, SingletonConstructorRoot)
		}
	}
	return r
}

// singletonConstructors returns the descriptors of the constructors the type
// initializer uses to build an instance it then stores in a static field of
// the type's own type. The three steps must appear in order.
func singletonConstructors(self bytecode.TypeName, clinit *bytecode.MethodBody) []string {
	const (
		idle = iota
		allocated
		constructed
	)
	var (
		out   []string
		state = idle
		desc  string
	)
	for _, in := range clinit.Instructions {
		switch {
		case in.Op == bytecode.OpObjectConstruction && in.Type == self:
			state, desc = allocated, ""
		case state == allocated && in.Op == bytecode.OpInvocation && in.Kind == bytecode.KindSpecial &&
			in.Target.Owner == self && in.Target.IsConstructor():
			state, desc = constructed, in.Target.Desc
		case state == constructed && in.Op == bytecode.OpFieldAccess && in.Put && in.Static &&
			in.Field.Owner == self && in.Field.Desc == self.Descriptor():
			out = append(out, desc)
			state = idle
		}
	}
	return out
}
