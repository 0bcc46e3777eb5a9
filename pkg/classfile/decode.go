package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/715d/staticinit/pkg/bytecode"
)

// ErrMalformed is wrapped by every decoding error.
var ErrMalformed = errors.New("malformed class file")

type cpEntry struct {
	tag  byte
	a, b uint16
	kind RefKind
	utf8 string
}

type bootstrap struct {
	method uint16
	args   []uint16
}

type rawMethod struct {
	acc        uint16
	name, desc string
	code       []byte
}

type decoder struct {
	buf  []byte
	off  int
	err  error
	pool []cpEntry
	this bytecode.TypeName

	bootstraps []bootstrap
	privates   map[string]bool // name+desc of private methods declared by this type
}

// Decode parses a class file image into a TypeBody. Lambda captures are
// reported as bytecode.KindDynamicLambda; call bytecode.ResolveCaptures to
// classify them.
func Decode(image []byte) (*bytecode.TypeBody, error) {
	d := &decoder{buf: image}
	t, err := d.decode()
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
	}
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.fail("truncated at offset %d", d.off)
		return false
	}
	return true
}

func (d *decoder) u1() byte {
	if !d.need(1) {
		return 0
	}
	v := d.buf[d.off]
	d.off++
	return v
}

func (d *decoder) u2() uint16 {
	if !d.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v
}

func (d *decoder) u4() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *decoder) bytes(n int) []byte {
	if !d.need(n) {
		return nil
	}
	v := d.buf[d.off : d.off+n]
	d.off += n
	return v
}

func (d *decoder) decode() (*bytecode.TypeBody, error) {
	if m := d.u4(); d.err == nil && m != magic {
		d.fail("bad magic 0x%08x", m)
	}
	d.u2() // minor
	d.u2() // major
	d.readPool()
	acc := d.u2()
	d.this = d.className(d.u2())
	var super bytecode.TypeName
	if idx := d.u2(); idx != 0 {
		super = d.className(idx)
	}
	for n := d.u2(); n > 0 && d.err == nil; n-- {
		d.u2() // interfaces
	}

	t := &bytecode.TypeBody{Name: d.this, Super: super, Flags: typeFlags(acc)}

	for n := d.u2(); n > 0 && d.err == nil; n-- {
		facc := d.u2()
		name := d.utf8(d.u2())
		desc := d.utf8(d.u2())
		d.skipAttributes()
		t.Fields = append(t.Fields, bytecode.Field{Name: name, Desc: desc, Flags: commonFlags(facc)})
	}

	var methods []rawMethod
	for n := d.u2(); n > 0 && d.err == nil; n-- {
		methods = append(methods, d.readMethod())
	}

	for n := d.u2(); n > 0 && d.err == nil; n-- {
		name := d.utf8(d.u2())
		body := d.bytes(int(d.u4()))
		if name == "BootstrapMethods" && d.err == nil {
			d.readBootstraps(body)
		}
	}
	if d.err != nil {
		return nil, d.err
	}

	d.privates = make(map[string]bool)
	for _, m := range methods {
		if m.acc&accPrivate != 0 {
			d.privates[m.name+m.desc] = true
		}
	}

	for _, m := range methods {
		key := bytecode.MethodKey{Owner: d.this, Name: m.name, Desc: m.desc}
		ins, err := d.decodeCode(m.code)
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", key, err)
		}
		t.Methods = append(t.Methods, &bytecode.MethodBody{
			Key:          key,
			Flags:        methodFlags(m.acc, m.name, t.IsEnum()),
			Instructions: ins,
		})
	}
	return t, nil
}

func (d *decoder) readPool() {
	count := int(d.u2())
	if d.err != nil {
		return
	}
	d.pool = make([]cpEntry, count)
	for i := 1; i < count && d.err == nil; i++ {
		e := cpEntry{tag: d.u1()}
		switch e.tag {
		case tagUtf8:
			e.utf8 = string(d.bytes(int(d.u2())))
		case tagInteger, tagFloat:
			d.u4()
		case tagLong, tagDouble:
			d.u4()
			d.u4()
			d.pool[i] = e
			i++ // takes two slots
			continue
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			e.a = d.u2()
		case tagFieldref, tagMethodref, tagInterfaceMethodref, tagNameAndType, tagDynamic, tagInvokeDynamic:
			e.a = d.u2()
			e.b = d.u2()
		case tagMethodHandle:
			e.kind = RefKind(d.u1())
			e.a = d.u2()
		default:
			d.fail("unknown constant pool tag %d at index %d", e.tag, i)
		}
		d.pool[i] = e
	}
}

func (d *decoder) entry(idx uint16, tags ...byte) cpEntry {
	if d.err != nil {
		return cpEntry{}
	}
	if idx == 0 || int(idx) >= len(d.pool) {
		d.fail("constant pool index %d out of range", idx)
		return cpEntry{}
	}
	e := d.pool[idx]
	for _, t := range tags {
		if e.tag == t {
			return e
		}
	}
	d.fail("constant pool index %d has tag %d, want %v", idx, e.tag, tags)
	return cpEntry{}
}

func (d *decoder) utf8(idx uint16) string {
	return d.entry(idx, tagUtf8).utf8
}

func (d *decoder) className(idx uint16) bytecode.TypeName {
	return bytecode.TypeName(d.utf8(d.entry(idx, tagClass).a))
}

func (d *decoder) nameAndType(idx uint16) (string, string) {
	e := d.entry(idx, tagNameAndType)
	return d.utf8(e.a), d.utf8(e.b)
}

func (d *decoder) memberRef(idx uint16) (bytecode.TypeName, string, string, byte) {
	e := d.entry(idx, tagFieldref, tagMethodref, tagInterfaceMethodref)
	owner := d.className(e.a)
	name, desc := d.nameAndType(e.b)
	return owner, name, desc, e.tag
}

func (d *decoder) skipAttributes() {
	for n := d.u2(); n > 0 && d.err == nil; n-- {
		d.u2()
		d.bytes(int(d.u4()))
	}
}

func (d *decoder) readMethod() rawMethod {
	m := rawMethod{acc: d.u2()}
	m.name = d.utf8(d.u2())
	m.desc = d.utf8(d.u2())
	for n := d.u2(); n > 0 && d.err == nil; n-- {
		name := d.utf8(d.u2())
		body := d.bytes(int(d.u4()))
		if name != "Code" || d.err != nil {
			continue
		}
		// max_stack u2, max_locals u2, code_length u4, code
		if len(body) < 8 {
			d.fail("short Code attribute in %s%s", m.name, m.desc)
			continue
		}
		codeLen := binary.BigEndian.Uint32(body[4:])
		if uint64(codeLen) > uint64(len(body)-8) {
			d.fail("code length %d exceeds attribute in %s%s", codeLen, m.name, m.desc)
			continue
		}
		m.code = body[8 : 8+codeLen]
	}
	return m
}

func (d *decoder) readBootstraps(body []byte) {
	sub := &decoder{buf: body}
	for n := sub.u2(); n > 0 && sub.err == nil; n-- {
		b := bootstrap{method: sub.u2()}
		for k := sub.u2(); k > 0 && sub.err == nil; k-- {
			b.args = append(b.args, sub.u2())
		}
		d.bootstraps = append(d.bootstraps, b)
	}
	if sub.err != nil {
		d.fail("BootstrapMethods: %v", sub.err)
	}
}

func (d *decoder) decodeCode(code []byte) ([]bytecode.Instruction, error) {
	var out []bytecode.Instruction
	for pc := 0; pc < len(code); {
		op := code[pc]
		start := pc
		pc++
		n := operandSize(op)
		switch op {
		case OpTableswitch:
			pc = align4(pc)
			if pc+12 > len(code) {
				return nil, fmt.Errorf("%w: truncated tableswitch at %d", ErrMalformed, start)
			}
			low := int32(binary.BigEndian.Uint32(code[pc+4:]))
			high := int32(binary.BigEndian.Uint32(code[pc+8:]))
			if high < low {
				return nil, fmt.Errorf("%w: tableswitch bounds %d..%d at %d", ErrMalformed, low, high, start)
			}
			n = 12 + 4*int(int64(high)-int64(low)+1)
		case OpLookupswitch:
			pc = align4(pc)
			if pc+8 > len(code) {
				return nil, fmt.Errorf("%w: truncated lookupswitch at %d", ErrMalformed, start)
			}
			pairs := binary.BigEndian.Uint32(code[pc+4:])
			if pairs > math.MaxInt32/8 {
				return nil, fmt.Errorf("%w: lookupswitch pairs %d at %d", ErrMalformed, pairs, start)
			}
			n = 8 + 8*int(pairs)
		case OpWide:
			if pc >= len(code) {
				return nil, fmt.Errorf("%w: truncated wide at %d", ErrMalformed, start)
			}
			n = 3
			if code[pc] == OpIinc {
				n = 5
			}
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: unknown opcode 0x%02x at %d", ErrMalformed, op, start)
		}
		if pc+n > len(code) {
			return nil, fmt.Errorf("%w: truncated operands of 0x%02x at %d", ErrMalformed, op, start)
		}
		operands := code[pc : pc+n]
		pc += n

		in := d.instruction(op, operands)
		if d.err != nil {
			return nil, d.err
		}
		out = append(out, in)
	}
	return out, nil
}

func align4(pc int) int {
	return (pc + 3) &^ 3
}

func (d *decoder) instruction(op byte, operands []byte) bytecode.Instruction {
	in := bytecode.Instruction{Op: bytecode.OpOther, Opcode: op}
	u2 := func() uint16 { return binary.BigEndian.Uint16(operands) }

	switch op {
	case OpGetstatic, OpPutstatic, OpGetfield, OpPutfield:
		owner, name, desc, _ := d.memberRef(u2())
		in.Op = bytecode.OpFieldAccess
		in.Field = bytecode.FieldRef{Owner: owner, Name: name, Desc: desc}
		in.Put = op == OpPutstatic || op == OpPutfield
		in.Static = op == OpGetstatic || op == OpPutstatic

	case OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface:
		owner, name, desc, _ := d.memberRef(u2())
		in.Op = bytecode.OpInvocation
		in.Target = bytecode.MethodKey{Owner: owner, Name: name, Desc: desc}
		in.Kind = d.invocationKind(op, in.Target)

	case OpInvokedynamic:
		d.lambda(&in, u2())

	case OpLdc, OpLdcW:
		idx := uint16(operands[0])
		if op == OpLdcW {
			idx = u2()
		}
		if e := d.entry(idx, tagInteger, tagFloat, tagString, tagClass, tagMethodType, tagMethodHandle, tagDynamic); e.tag == tagMethodHandle {
			if target, ok := d.handleTarget(e); ok {
				in.Op = bytecode.OpInvocation
				in.Target = target
				in.Kind = bytecode.KindMethodHandle
			}
		}

	case OpNew:
		in.Op = bytecode.OpObjectConstruction
		in.Type = d.className(u2())
	}
	return in
}

func (d *decoder) invocationKind(op byte, target bytecode.MethodKey) bytecode.InvocationKind {
	private := target.Owner == d.this && d.privates[target.Name+target.Desc]
	switch op {
	case OpInvokestatic:
		return bytecode.KindStatic
	case OpInvokespecial:
		if target.IsConstructor() {
			return bytecode.KindSpecial
		}
		if private {
			return bytecode.KindDirectPrivate
		}
		return bytecode.KindSpecial
	case OpInvokeinterface:
		if private {
			return bytecode.KindDirectPrivate
		}
		return bytecode.KindInterface
	default:
		if private {
			return bytecode.KindDirectPrivate
		}
		return bytecode.KindVirtual
	}
}

// lambda fills in a capture when the call site is bootstrapped by
// LambdaMetafactory; any other invokedynamic stays OpOther.
func (d *decoder) lambda(in *bytecode.Instruction, idx uint16) {
	site := d.entry(idx, tagInvokeDynamic)
	_, siteDesc := d.nameAndType(site.b)
	if d.err != nil {
		return
	}
	if int(site.a) >= len(d.bootstraps) {
		d.fail("invokedynamic bootstrap index %d out of range", site.a)
		return
	}
	bsm := d.bootstraps[site.a]
	owner, name, _, _ := d.memberRef(d.entry(bsm.method, tagMethodHandle).a)
	if d.err != nil || owner != lambdaMetafactory || (name != "metafactory" && name != "altMetafactory") {
		return
	}
	if len(bsm.args) < 2 {
		d.fail("lambda bootstrap with %d arguments", len(bsm.args))
		return
	}
	target, ok := d.handleTarget(d.entry(bsm.args[1], tagMethodHandle))
	if !ok {
		return
	}
	in.Op = bytecode.OpInvocation
	in.Target = target
	in.Kind = bytecode.KindDynamicLambda
	in.Interface = returnType(siteDesc)
}

func (d *decoder) handleTarget(h cpEntry) (bytecode.MethodKey, bool) {
	if d.err != nil {
		return bytecode.MethodKey{}, false
	}
	owner, name, desc, tag := d.memberRef(h.a)
	if tag == tagFieldref {
		return bytecode.MethodKey{}, false
	}
	return bytecode.MethodKey{Owner: owner, Name: name, Desc: desc}, d.err == nil
}

// returnType extracts the reference return type of a method descriptor.
func returnType(desc string) bytecode.TypeName {
	i := strings.LastIndexByte(desc, ')')
	if i < 0 {
		return ""
	}
	ret := desc[i+1:]
	if strings.HasPrefix(ret, "L") && strings.HasSuffix(ret, ";") {
		return bytecode.TypeName(ret[1 : len(ret)-1])
	}
	return ""
}
