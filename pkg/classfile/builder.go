package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/715d/staticinit/pkg/bytecode"
)

// Handle is a method handle constant.
type Handle struct {
	Kind  RefKind
	Owner bytecode.TypeName
	Name  string
	Desc  string
	// Interface marks a target declared on an interface.
	Interface bool
}

// Builder assembles a class file. Errors are sticky and reported by Bytes.
type Builder struct {
	name    bytecode.TypeName
	super   bytecode.TypeName
	flags   bytecode.AccessFlags
	pool    pool
	fields  []fieldInfo
	methods []*MethodBuilder
	bsms    []bootstrap
	err     error
}

type fieldInfo struct {
	acc        uint16
	name, desc uint16
}

// NewBuilder starts a class named name extending super.
func NewBuilder(name, super bytecode.TypeName, flags bytecode.AccessFlags) *Builder {
	return &Builder{name: name, super: super, flags: flags, pool: newPool()}
}

// Field declares a field.
func (b *Builder) Field(flags bytecode.AccessFlags, name, desc string) *Builder {
	b.fields = append(b.fields, fieldInfo{
		acc:  accessBits(flags, false),
		name: b.pool.utf8(name),
		desc: b.pool.utf8(desc),
	})
	return b
}

// Method declares a method and returns a builder for its code.
func (b *Builder) Method(flags bytecode.AccessFlags, name, desc string) *MethodBuilder {
	m := &MethodBuilder{owner: b, flags: flags, name: name, desc: desc}
	b.methods = append(b.methods, m)
	return m
}

// Bytes encodes the class file.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, m := range b.methods {
		if m.err != nil {
			return nil, fmt.Errorf("method %s%s: %w", m.name, m.desc, m.err)
		}
	}

	// Every pool entry must exist before the pool is written.
	this := b.pool.class(string(b.name))
	var super uint16
	if b.super != "" {
		super = b.pool.class(string(b.super))
	}
	type methodInfo struct {
		acc, name, desc, codeAttr uint16
		code                      []byte
	}
	methods := make([]methodInfo, 0, len(b.methods))
	for _, m := range b.methods {
		methods = append(methods, methodInfo{
			acc:      accessBits(m.flags, true),
			name:     b.pool.utf8(m.name),
			desc:     b.pool.utf8(m.desc),
			codeAttr: b.pool.utf8("Code"),
			code:     m.code,
		})
	}
	var bsmAttr uint16
	if len(b.bsms) > 0 {
		bsmAttr = b.pool.utf8("BootstrapMethods")
	}
	if b.pool.size() > 0xffff {
		return nil, errors.New("constant pool overflow")
	}

	out := binary.BigEndian.AppendUint32(nil, magic)
	out = binary.BigEndian.AppendUint16(out, 0)  // minor
	out = binary.BigEndian.AppendUint16(out, 55) // major: Java 11
	out = b.pool.appendTo(out)
	out = binary.BigEndian.AppendUint16(out, accessBits(b.flags, false)|accSuper)
	out = binary.BigEndian.AppendUint16(out, this)
	out = binary.BigEndian.AppendUint16(out, super)
	out = binary.BigEndian.AppendUint16(out, 0) // interfaces

	out = binary.BigEndian.AppendUint16(out, uint16(len(b.fields)))
	for _, f := range b.fields {
		out = binary.BigEndian.AppendUint16(out, f.acc)
		out = binary.BigEndian.AppendUint16(out, f.name)
		out = binary.BigEndian.AppendUint16(out, f.desc)
		out = binary.BigEndian.AppendUint16(out, 0)
	}

	out = binary.BigEndian.AppendUint16(out, uint16(len(methods)))
	for _, m := range methods {
		out = binary.BigEndian.AppendUint16(out, m.acc)
		out = binary.BigEndian.AppendUint16(out, m.name)
		out = binary.BigEndian.AppendUint16(out, m.desc)
		if m.acc&accAbstract != 0 {
			out = binary.BigEndian.AppendUint16(out, 0)
			continue
		}
		out = binary.BigEndian.AppendUint16(out, 1)
		out = binary.BigEndian.AppendUint16(out, m.codeAttr)
		out = binary.BigEndian.AppendUint32(out, uint32(12+len(m.code)))
		out = binary.BigEndian.AppendUint16(out, 16) // max_stack
		out = binary.BigEndian.AppendUint16(out, 16) // max_locals
		out = binary.BigEndian.AppendUint32(out, uint32(len(m.code)))
		out = append(out, m.code...)
		out = binary.BigEndian.AppendUint16(out, 0) // exception table
		out = binary.BigEndian.AppendUint16(out, 0) // attributes
	}

	if len(b.bsms) == 0 {
		return binary.BigEndian.AppendUint16(out, 0), nil
	}
	var attr []byte
	attr = binary.BigEndian.AppendUint16(attr, uint16(len(b.bsms)))
	for _, bsm := range b.bsms {
		attr = binary.BigEndian.AppendUint16(attr, bsm.method)
		attr = binary.BigEndian.AppendUint16(attr, uint16(len(bsm.args)))
		for _, a := range bsm.args {
			attr = binary.BigEndian.AppendUint16(attr, a)
		}
	}
	out = binary.BigEndian.AppendUint16(out, 1)
	out = binary.BigEndian.AppendUint16(out, bsmAttr)
	out = binary.BigEndian.AppendUint32(out, uint32(len(attr)))
	return append(out, attr...), nil
}

// MethodBuilder emits the code of one method.
type MethodBuilder struct {
	owner *Builder
	flags bytecode.AccessFlags
	name  string
	desc  string
	code  []byte
	err   error
}

// Op emits an opcode without operands.
func (m *MethodBuilder) Op(op byte) *MethodBuilder {
	if n := operandSize(op); n != 0 {
		m.setErr(fmt.Errorf("opcode 0x%02x takes operands", op))
		return m
	}
	m.code = append(m.code, op)
	return m
}

// Raw appends raw code bytes.
func (m *MethodBuilder) Raw(code ...byte) *MethodBuilder {
	m.code = append(m.code, code...)
	return m
}

// Invoke emits invokevirtual, invokespecial, invokestatic or invokeinterface.
func (m *MethodBuilder) Invoke(op byte, owner bytecode.TypeName, name, desc string) *MethodBuilder {
	p := &m.owner.pool
	switch op {
	case OpInvokeinterface:
		idx := p.member(tagInterfaceMethodref, string(owner), name, desc)
		m.code = append(m.code, op)
		m.code = binary.BigEndian.AppendUint16(m.code, idx)
		m.code = append(m.code, byte(argSlots(desc)+1), 0)
	case OpInvokevirtual, OpInvokespecial, OpInvokestatic:
		m.code = append(m.code, op)
		m.code = binary.BigEndian.AppendUint16(m.code, p.member(tagMethodref, string(owner), name, desc))
	default:
		m.setErr(fmt.Errorf("opcode 0x%02x is not an invocation", op))
	}
	return m
}

// FieldInsn emits getstatic, putstatic, getfield or putfield.
func (m *MethodBuilder) FieldInsn(op byte, owner bytecode.TypeName, name, desc string) *MethodBuilder {
	if op < OpGetstatic || op > OpPutfield {
		m.setErr(fmt.Errorf("opcode 0x%02x is not a field access", op))
		return m
	}
	m.code = append(m.code, op)
	m.code = binary.BigEndian.AppendUint16(m.code, m.owner.pool.member(tagFieldref, string(owner), name, desc))
	return m
}

// TypeInsn emits new, anewarray, checkcast or instanceof.
func (m *MethodBuilder) TypeInsn(op byte, t bytecode.TypeName) *MethodBuilder {
	switch op {
	case OpNew, OpAnewarray, OpCheckcast, OpInstanceof:
	default:
		m.setErr(fmt.Errorf("opcode 0x%02x takes no type operand", op))
		return m
	}
	m.code = append(m.code, op)
	m.code = binary.BigEndian.AppendUint16(m.code, m.owner.pool.class(string(t)))
	return m
}

// New emits new t.
func (m *MethodBuilder) New(t bytecode.TypeName) *MethodBuilder {
	return m.TypeInsn(OpNew, t)
}

// Local emits a one-byte-operand instruction such as aload or bipush.
func (m *MethodBuilder) Local(op byte, v uint8) *MethodBuilder {
	if operandSize(op) != 1 || op == OpLdc {
		m.setErr(fmt.Errorf("opcode 0x%02x does not take a one-byte operand", op))
		return m
	}
	m.code = append(m.code, op, v)
	return m
}

// LdcString loads a string constant.
func (m *MethodBuilder) LdcString(s string) *MethodBuilder {
	return m.ldc(m.owner.pool.str(s))
}

// LdcHandle loads a method handle constant.
func (m *MethodBuilder) LdcHandle(h Handle) *MethodBuilder {
	return m.ldc(m.owner.pool.handle(h))
}

func (m *MethodBuilder) ldc(idx uint16) *MethodBuilder {
	if idx <= 0xff {
		m.code = append(m.code, OpLdc, byte(idx))
		return m
	}
	m.code = append(m.code, OpLdcW)
	m.code = binary.BigEndian.AppendUint16(m.code, idx)
	return m
}

// Lambda emits an invokedynamic bootstrapped by LambdaMetafactory.metafactory.
// name and desc describe the call site, e.g. "get" and
// "()Ljava/util/function/Supplier;"; impl is the lambda body.
func (m *MethodBuilder) Lambda(name, desc string, impl Handle) *MethodBuilder {
	b := m.owner
	p := &b.pool
	factory := p.handle(Handle{Kind: RefInvokeStatic, Owner: lambdaMetafactory, Name: "metafactory", Desc: metafactoryDesc})
	samType := p.methodType(impl.Desc)
	b.bsms = append(b.bsms, bootstrap{method: factory, args: []uint16{samType, p.handle(impl), samType}})
	site := p.invokeDynamic(uint16(len(b.bsms)-1), name, desc)
	m.code = append(m.code, OpInvokedynamic)
	m.code = binary.BigEndian.AppendUint16(m.code, site)
	m.code = append(m.code, 0, 0)
	return m
}

func (m *MethodBuilder) setErr(err error) {
	if m.err == nil {
		m.err = err
	}
}

var zeroOperandOps = map[string]byte{
	"nop": OpNop, "aconst_null": OpAconstNull,
	"iconst_m1": 0x02, "iconst_0": 0x03, "iconst_1": 0x04, "iconst_2": 0x05,
	"iconst_3": 0x06, "iconst_4": 0x07, "iconst_5": 0x08,
	"iload_0": 0x1a, "iload_1": 0x1b, "iload_2": 0x1c, "iload_3": 0x1d,
	"aload_0": 0x2a, "aload_1": 0x2b, "aload_2": 0x2c, "aload_3": 0x2d,
	"istore_0": 0x3b, "istore_1": 0x3c, "astore_0": 0x4b, "astore_1": 0x4c,
	"aastore": OpAastore, "pop": OpPop, "dup": OpDup, "iadd": 0x60, "isub": 0x64,
	"ireturn": OpIreturn, "areturn": OpAreturn, "return": OpReturn,
	"arraylength": OpArraylength, "athrow": OpAthrow,
}

var oneByteOps = map[string]byte{
	"bipush": OpBipush, "iload": OpIload, "aload": OpAload, "istore": OpIstore, "astore": OpAstore,
}

var invokeOps = map[string]byte{
	"invokevirtual": OpInvokevirtual, "invokespecial": OpInvokespecial,
	"invokestatic": OpInvokestatic, "invokeinterface": OpInvokeinterface,
}

var fieldOps = map[string]byte{
	"getstatic": OpGetstatic, "putstatic": OpPutstatic, "getfield": OpGetfield, "putfield": OpPutfield,
}

var typeOps = map[string]byte{
	"new": OpNew, "anewarray": OpAnewarray, "checkcast": OpCheckcast, "instanceof": OpInstanceof,
}

// Asm emits one instruction written in a small assembly syntax:
//
//	return
//	bipush 7
//	invokestatic com/example/Foo.a()V
//	putstatic com/example/Foo.INSTANCE Lcom/example/Foo;
//	new com/example/Foo
//	ldc "text"
//	handle invokestatic com/example/Foo.b()V
//	lambda get()Ljava/util/function/Supplier; invokestatic com/example/Foo.lambda$0()Ljava/lang/Object;
func (m *MethodBuilder) Asm(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	op, args := strings.ToLower(fields[0]), fields[1:]
	before := m.err
	if err := m.asm(op, args, line); err != nil {
		return fmt.Errorf("asm %q: %w", line, err)
	}
	if m.err != nil && before == nil {
		return fmt.Errorf("asm %q: %w", line, m.err)
	}
	return nil
}

func (m *MethodBuilder) asm(op string, args []string, line string) error {
	want := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d operand(s), got %d", op, n, len(args))
		}
		return nil
	}

	if code, ok := zeroOperandOps[op]; ok {
		if err := want(0); err != nil {
			return err
		}
		m.Op(code)
		return nil
	}
	if code, ok := oneByteOps[op]; ok {
		if err := want(1); err != nil {
			return err
		}
		v, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return err
		}
		m.Local(code, uint8(v))
		return nil
	}
	if code, ok := invokeOps[op]; ok {
		if err := want(1); err != nil {
			return err
		}
		owner, name, desc, err := ParseMember(args[0])
		if err != nil {
			return err
		}
		m.Invoke(code, owner, name, desc)
		return nil
	}
	if code, ok := fieldOps[op]; ok {
		if err := want(2); err != nil {
			return err
		}
		owner, name, err := splitOwner(args[0])
		if err != nil {
			return err
		}
		m.FieldInsn(code, owner, name, args[1])
		return nil
	}
	if code, ok := typeOps[op]; ok {
		if err := want(1); err != nil {
			return err
		}
		m.TypeInsn(code, bytecode.TypeName(args[0]))
		return nil
	}

	switch op {
	case "ldc":
		rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), strings.Fields(line)[0]))
		s, err := strconv.Unquote(rest)
		if err != nil {
			return fmt.Errorf("ldc operand must be a quoted string: %w", err)
		}
		m.LdcString(s)
		return nil
	case "handle":
		if err := want(2); err != nil {
			return err
		}
		h, err := parseHandle(args[0], args[1])
		if err != nil {
			return err
		}
		m.LdcHandle(h)
		return nil
	case "lambda":
		if err := want(3); err != nil {
			return err
		}
		i := strings.IndexByte(args[0], '(')
		if i <= 0 {
			return fmt.Errorf("bad call site %q", args[0])
		}
		h, err := parseHandle(args[1], args[2])
		if err != nil {
			return err
		}
		m.Lambda(args[0][:i], args[0][i:], h)
		return nil
	}
	return fmt.Errorf("unknown instruction %q", op)
}

func parseHandle(kind, member string) (Handle, error) {
	k, ok := refKindNames[strings.ToLower(kind)]
	if !ok {
		return Handle{}, fmt.Errorf("unknown reference kind %q", kind)
	}
	owner, name, desc, err := ParseMember(member)
	if err != nil {
		return Handle{}, err
	}
	return Handle{Kind: k, Owner: owner, Name: name, Desc: desc, Interface: k == RefInvokeInterface}, nil
}

// ParseMember splits "owner.name(desc)ret" into its parts.
func ParseMember(s string) (bytecode.TypeName, string, string, error) {
	i := strings.IndexByte(s, '(')
	if i < 0 {
		return "", "", "", fmt.Errorf("member %q has no descriptor", s)
	}
	owner, name, err := splitOwner(s[:i])
	if err != nil {
		return "", "", "", err
	}
	return owner, name, s[i:], nil
}

func splitOwner(s string) (bytecode.TypeName, string, error) {
	dot := strings.LastIndexByte(s, '.')
	if dot <= 0 || dot == len(s)-1 {
		return "", "", fmt.Errorf("member %q is not owner.name", s)
	}
	return bytecode.TypeName(s[:dot]), s[dot+1:], nil
}

// argSlots counts the local-variable slots taken by a method's parameters.
func argSlots(desc string) int {
	n := 0
	for i := 1; i < len(desc) && desc[i] != ')'; i++ {
		switch desc[i] {
		case 'J', 'D':
			n += 2
		case 'L':
			n++
			for i < len(desc) && desc[i] != ';' {
				i++
			}
		case '[':
			n++
			for i < len(desc) && desc[i] == '[' {
				i++
			}
			if i < len(desc) && desc[i] == 'L' {
				for i < len(desc) && desc[i] != ';' {
					i++
				}
			}
		default:
			n++
		}
	}
	return n
}
