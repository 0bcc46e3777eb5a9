// Package bytecode defines a minimal typed view of compiled JVM types: methods,
// their access flags and an ordered instruction list with the operand metadata
// needed for intra-type call analysis.
package bytecode

import (
	"fmt"
	"strings"
)

// Well-known method names.
const (
	TypeInitializerName = "<clinit>"
	ConstructorName     = "<init>"
)

// TypeName is a fully-qualified type in internal form, e.g. "com/example/Foo".
type TypeName string

// Dotted returns the name in source form ("com.example.Foo").
func (n TypeName) Dotted() string {
	return strings.ReplaceAll(string(n), "/", ".")
}

// Descriptor returns the field descriptor of a reference to n ("Lcom/example/Foo;").
func (n TypeName) Descriptor() string {
	return "L" + string(n) + ";"
}

// TypeNameOf converts a dotted or internal name to internal form.
func TypeNameOf(s string) TypeName {
	return TypeName(strings.ReplaceAll(s, ".", "/"))
}

// MethodKey identifies a method by owner, name and descriptor.
type MethodKey struct {
	Owner TypeName
	Name  string
	Desc  string
}

func (k MethodKey) String() string {
	return fmt.Sprintf("%s.%s%s", k.Owner, k.Name, k.Desc)
}

// IsTypeInitializer reports whether k names the one-shot type initializer.
func (k MethodKey) IsTypeInitializer() bool {
	return k.Name == TypeInitializerName
}

// IsConstructor reports whether k names an instance constructor.
func (k MethodKey) IsConstructor() bool {
	return k.Name == ConstructorName
}

// NoArgs reports whether the descriptor declares no parameters.
func (k MethodKey) NoArgs() bool {
	return strings.HasPrefix(k.Desc, "()")
}

// AccessFlags is a set of method or type modifiers.
type AccessFlags uint32

const (
	Public AccessFlags = 1 << iota
	Private
	Protected
	Static
	Final
	Synthetic
	Bridge
	Abstract
	Interface
	// Enum marks an enum type, or a field holding an enum constant.
	Enum
	// EnumConstantInit marks a constructor that builds enum constants.
	EnumConstantInit
	Constructor
	TypeInitializer
)

var flagNames = []struct {
	flag AccessFlags
	name string
}{
	{Public, "public"},
	{Private, "private"},
	{Protected, "protected"},
	{Static, "static"},
	{Final, "final"},
	{Synthetic, "synthetic"},
	{Bridge, "bridge"},
	{Abstract, "abstract"},
	{Interface, "interface"},
	{Enum, "enum"},
	{EnumConstantInit, "enum-constant-init"},
	{Constructor, "constructor"},
	{TypeInitializer, "type-initializer"},
}

// Has reports whether all bits of f are set.
func (a AccessFlags) Has(f AccessFlags) bool {
	return a&f == f
}

func (a AccessFlags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if a.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseAccessFlags parses flag names as printed by String. Unknown names are an error.
func ParseAccessFlags(names []string) (AccessFlags, error) {
	var a AccessFlags
outer:
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || n == "package" {
			continue
		}
		for _, fn := range flagNames {
			if fn.name == n {
				a |= fn.flag
				continue outer
			}
		}
		return 0, fmt.Errorf("unknown access flag %q", n)
	}
	return a, nil
}

// Op discriminates the Instruction variants.
type Op int

const (
	OpOther Op = iota
	OpInvocation
	OpFieldAccess
	OpObjectConstruction
)

// InvocationKind says how an invocation binds its target.
type InvocationKind int

const (
	KindDirectPrivate InvocationKind = iota + 1
	KindStatic
	KindVirtual
	KindInterface
	KindSpecial
	// KindDynamicLambda is a lambda or method reference captured for later execution.
	KindDynamicLambda
	// KindMethodHandle is a method handle constant loaded as a value.
	KindMethodHandle
	// KindInlineLambda is a lambda capture whose value is consumed where it is
	// created instead of being stored; its body runs as part of the caller.
	KindInlineLambda
)

var kindNames = map[InvocationKind]string{
	KindDirectPrivate: "direct-private",
	KindStatic:        "static",
	KindVirtual:       "virtual",
	KindInterface:     "interface",
	KindSpecial:       "special",
	KindDynamicLambda: "dynamic-lambda",
	KindMethodHandle:  "method-handle",
	KindInlineLambda:  "inline-lambda",
}

func (k InvocationKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsCapture reports whether the target is captured rather than invoked.
func (k InvocationKind) IsCapture() bool {
	return k == KindDynamicLambda || k == KindMethodHandle
}

// Instruction is one decoded bytecode instruction. Only the fields relevant
// to Op are populated.
type Instruction struct {
	Op Op

	// Opcode is the raw JVM opcode.
	Opcode byte

	// Invocation operands.
	Target MethodKey
	Kind   InvocationKind
	// Interface is the functional interface produced by a lambda capture.
	Interface TypeName

	// FieldAccess operands.
	Field  FieldRef
	Put    bool
	Static bool

	// ObjectConstruction operand.
	Type TypeName
}

// FieldRef names a field.
type FieldRef struct {
	Owner TypeName
	Name  string
	Desc  string
}

func (in Instruction) String() string {
	switch in.Op {
	case OpInvocation:
		if in.Interface != "" {
			return fmt.Sprintf("invoke[%s] %s as %s", in.Kind, in.Target, in.Interface)
		}
		return fmt.Sprintf("invoke[%s] %s", in.Kind, in.Target)
	case OpFieldAccess:
		verb := "get"
		if in.Put {
			verb = "put"
		}
		if in.Static {
			verb += "static"
		} else {
			verb += "field"
		}
		return fmt.Sprintf("%s %s.%s %s", verb, in.Field.Owner, in.Field.Name, in.Field.Desc)
	case OpObjectConstruction:
		return "new " + string(in.Type)
	default:
		return fmt.Sprintf("op 0x%02x", in.Opcode)
	}
}

// MethodBody is a decoded method.
type MethodBody struct {
	Key          MethodKey
	Flags        AccessFlags
	Instructions []Instruction
}

// IsPrivate reports whether the method is private.
func (m *MethodBody) IsPrivate() bool {
	return m.Flags.Has(Private)
}

// IsCompilerGenerated reports whether the method is synthetic or a bridge.
func (m *MethodBody) IsCompilerGenerated() bool {
	return m.Flags.Has(Synthetic) || m.Flags.Has(Bridge)
}

// Field is a declared field.
type Field struct {
	Name  string
	Desc  string
	Flags AccessFlags
}

// TypeBody is a decoded type.
type TypeBody struct {
	Name    TypeName
	Super   TypeName
	Flags   AccessFlags
	Fields  []Field
	Methods []*MethodBody
}

// IsEnum reports whether the type is an enum.
func (t *TypeBody) IsEnum() bool {
	return t.Flags.Has(Enum)
}

// Method returns the method with the given name and descriptor, or nil.
func (t *TypeBody) Method(name, desc string) *MethodBody {
	for _, m := range t.Methods {
		if m.Key.Name == name && m.Key.Desc == desc {
			return m
		}
	}
	return nil
}

// TypeInitializer returns the type's <clinit> method, or nil.
func (t *TypeBody) TypeInitializer() *MethodBody {
	return t.Method(TypeInitializerName, "()V")
}
