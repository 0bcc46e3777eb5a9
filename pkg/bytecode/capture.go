package bytecode

import "strings"

// CapturePolicy decides which lambda captures hold code for later execution.
type CapturePolicy struct {
	// DeferredInterfaces are functional interfaces, or package prefixes ending
	// in "/", whose instances are treated as delayed-execution containers.
	DeferredInterfaces []string

	// ContainerPrefixes are owner prefixes of collection types. A deferred
	// capture handed to one of their methods is stored, not run.
	ContainerPrefixes []string

	// ImmediateCalls are calls that run the captures they receive before
	// returning. Entries are package prefixes ending in "/", type names, or
	// "type#method". They take precedence over ContainerPrefixes.
	ImmediateCalls []string
}

// DefaultCapturePolicy returns the policy used when none is configured.
func DefaultCapturePolicy() CapturePolicy {
	return CapturePolicy{
		DeferredInterfaces: []string{
			"java/util/function/",
			"java/util/concurrent/Callable",
			"java/util/Comparator",
		},
		ContainerPrefixes: []string{
			"java/util/",
			"com/google/common/collect/",
		},
		ImmediateCalls: []string{
			"java/util/stream/",
			"java/util/Optional",
			"java/util/Iterator#forEachRemaining",
			"java/util/Collection#removeIf",
			"java/util/List#forEach",
			"java/util/List#replaceAll",
			"java/util/List#sort",
			"java/util/Set#forEach",
			"java/util/Map#forEach",
			"java/util/Map#compute",
			"java/util/Map#computeIfAbsent",
			"java/util/Map#computeIfPresent",
			"java/util/Map#merge",
			"java/util/Map#replaceAll",
			"java/util/Arrays#setAll",
			"java/util/Collections#sort",
		},
	}
}

func (p CapturePolicy) isDeferred(iface TypeName) bool {
	return matchesAny(string(iface), p.DeferredInterfaces)
}

func (p CapturePolicy) isContainer(owner TypeName) bool {
	if p.isDeferred(owner) {
		return false
	}
	return matchesAny(string(owner), p.ContainerPrefixes)
}

func (p CapturePolicy) runsImmediately(target MethodKey) bool {
	return matchesAny(string(target.Owner), p.ImmediateCalls) ||
		matchesAny(string(target.Owner)+"#"+target.Name, p.ImmediateCalls)
}

func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(s, p) {
				return true
			}
			continue
		}
		if s == p {
			return true
		}
	}
	return false
}

// ResolveCaptures rewrites lambda captures of t whose value is consumed in
// place to KindInlineLambda. The consumer of a capture is the first field
// write or non-capture invocation after it in the same method. The capture
// stays KindDynamicLambda when that consumer
//
//   - writes a field whose type is the capture's functional interface;
//   - is a method of t that writes a field of that type, as an enum
//     constructor keeping its argument does;
//   - belongs to a container type and the interface is deferred under p.
//
// Calls listed in p.ImmediateCalls always consume in place. Method handle
// constants are always left as captures.
func ResolveCaptures(t *TypeBody, p CapturePolicy) {
	for _, m := range t.Methods {
		for i := range m.Instructions {
			in := &m.Instructions[i]
			if in.Op != OpInvocation || in.Kind != KindDynamicLambda {
				continue
			}
			if !stored(t, p, *in, m.Instructions[i+1:]) {
				in.Kind = KindInlineLambda
			}
		}
	}
}

func stored(t *TypeBody, p CapturePolicy, capture Instruction, rest []Instruction) bool {
	desc := capture.Interface.Descriptor()
	next, ok := consumer(rest)
	if !ok {
		return false
	}
	if next.Op == OpFieldAccess {
		return next.Field.Desc == desc
	}
	if p.runsImmediately(next.Target) {
		return false
	}
	if next.Target.Owner == t.Name {
		if callee := t.Method(next.Target.Name, next.Target.Desc); callee != nil && writesField(callee, desc) {
			return true
		}
	}
	return p.isDeferred(capture.Interface) && p.isContainer(next.Target.Owner)
}

// consumer returns the first field write or non-capture invocation in ins.
func consumer(ins []Instruction) (Instruction, bool) {
	for _, in := range ins {
		switch {
		case in.Op == OpFieldAccess && in.Put:
			return in, true
		case in.Op == OpInvocation && !in.Kind.IsCapture() && in.Kind != KindInlineLambda:
			return in, true
		}
	}
	return Instruction{}, false
}

func writesField(m *MethodBody, desc string) bool {
	for _, in := range m.Instructions {
		if in.Op == OpFieldAccess && in.Put && in.Field.Desc == desc {
			return true
		}
	}
	return false
}
