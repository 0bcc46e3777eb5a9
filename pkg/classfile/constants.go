// Package classfile decodes JVM class files into the bytecode instruction
// model and assembles class files for fixtures.
package classfile

import "github.com/715d/staticinit/pkg/bytecode"

const magic = 0xCAFEBABE

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

// JVM access flags.
const (
	accPublic    = 0x0001
	accPrivate   = 0x0002
	accProtected = 0x0004
	accStatic    = 0x0008
	accFinal     = 0x0010
	accSuper     = 0x0020
	accBridge    = 0x0040
	accInterface = 0x0200
	accAbstract  = 0x0400
	accSynthetic = 0x1000
	accEnum      = 0x4000
)

// RefKind is a method handle reference kind.
type RefKind uint8

const (
	RefGetField         RefKind = 1
	RefGetStatic        RefKind = 2
	RefPutField         RefKind = 3
	RefPutStatic        RefKind = 4
	RefInvokeVirtual    RefKind = 5
	RefInvokeStatic     RefKind = 6
	RefInvokeSpecial    RefKind = 7
	RefNewInvokeSpecial RefKind = 8
	RefInvokeInterface  RefKind = 9
)

var refKindNames = map[string]RefKind{
	"getfield":         RefGetField,
	"getstatic":        RefGetStatic,
	"putfield":         RefPutField,
	"putstatic":        RefPutStatic,
	"invokevirtual":    RefInvokeVirtual,
	"invokestatic":     RefInvokeStatic,
	"invokespecial":    RefInvokeSpecial,
	"newinvokespecial": RefNewInvokeSpecial,
	"invokeinterface":  RefInvokeInterface,
}

// Opcodes referenced by the decoder and assembler.
const (
	OpNop             byte = 0x00
	OpAconstNull      byte = 0x01
	OpIconst0         byte = 0x03
	OpBipush          byte = 0x10
	OpSipush          byte = 0x11
	OpLdc             byte = 0x12
	OpLdcW            byte = 0x13
	OpLdc2W           byte = 0x14
	OpIload           byte = 0x15
	OpAload           byte = 0x19
	OpAload0          byte = 0x2a
	OpIstore          byte = 0x36
	OpAstore          byte = 0x3a
	OpAastore         byte = 0x53
	OpPop             byte = 0x57
	OpDup             byte = 0x59
	OpIinc            byte = 0x84
	OpIfeq            byte = 0x99
	OpGoto            byte = 0xa7
	OpRet             byte = 0xa9
	OpTableswitch     byte = 0xaa
	OpLookupswitch    byte = 0xab
	OpIreturn         byte = 0xac
	OpAreturn         byte = 0xb0
	OpReturn          byte = 0xb1
	OpGetstatic       byte = 0xb2
	OpPutstatic       byte = 0xb3
	OpGetfield        byte = 0xb4
	OpPutfield        byte = 0xb5
	OpInvokevirtual   byte = 0xb6
	OpInvokespecial   byte = 0xb7
	OpInvokestatic    byte = 0xb8
	OpInvokeinterface byte = 0xb9
	OpInvokedynamic   byte = 0xba
	OpNew             byte = 0xbb
	OpNewarray        byte = 0xbc
	OpAnewarray       byte = 0xbd
	OpArraylength     byte = 0xbe
	OpAthrow          byte = 0xbf
	OpCheckcast       byte = 0xc0
	OpInstanceof      byte = 0xc1
	OpWide            byte = 0xc4
	OpMultianewarray  byte = 0xc5
	OpIfnull          byte = 0xc6
	OpIfnonnull       byte = 0xc7
	OpGotoW           byte = 0xc8
	OpJsrW            byte = 0xc9
	OpBreakpoint      byte = 0xca
)

// operandSize returns the fixed operand length of op, or -1 for variable
// length (tableswitch, lookupswitch, wide) and unknown opcodes.
func operandSize(op byte) int {
	switch {
	case op <= 0x0f:
		return 0
	case op == OpBipush, op == OpLdc:
		return 1
	case op == OpSipush, op == OpLdcW, op == OpLdc2W:
		return 2
	case op >= 0x15 && op <= 0x19: // xload
		return 1
	case op >= 0x1a && op <= 0x35:
		return 0
	case op >= 0x36 && op <= 0x3a: // xstore
		return 1
	case op >= 0x3b && op <= 0x83:
		return 0
	case op == OpIinc:
		return 2
	case op >= 0x85 && op <= 0x98:
		return 0
	case op >= 0x99 && op <= 0xa8: // branches, goto, jsr
		return 2
	case op == OpRet:
		return 1
	case op >= 0xac && op <= 0xb1:
		return 0
	case op >= OpGetstatic && op <= OpInvokestatic:
		return 2
	case op == OpInvokeinterface, op == OpInvokedynamic:
		return 4
	case op == OpNew:
		return 2
	case op == OpNewarray:
		return 1
	case op == OpAnewarray:
		return 2
	case op == OpArraylength, op == OpAthrow:
		return 0
	case op == OpCheckcast, op == OpInstanceof:
		return 2
	case op == 0xc2, op == 0xc3: // monitorenter, monitorexit
		return 0
	case op == OpMultianewarray:
		return 3
	case op == OpIfnull, op == OpIfnonnull:
		return 2
	case op == OpGotoW, op == OpJsrW:
		return 4
	case op == OpBreakpoint:
		return 0
	}
	return -1
}

const (
	lambdaMetafactory = "java/lang/invoke/LambdaMetafactory"
	metafactoryDesc   = "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodHandle;Ljava/lang/invoke/MethodType;)Ljava/lang/invoke/CallSite;"
)

func methodFlags(acc uint16, name string, enumType bool) bytecode.AccessFlags {
	f := commonFlags(acc)
	if acc&accBridge != 0 {
		f |= bytecode.Bridge
	}
	switch name {
	case bytecode.ConstructorName:
		f |= bytecode.Constructor
		if enumType {
			f |= bytecode.EnumConstantInit
		}
	case bytecode.TypeInitializerName:
		f |= bytecode.TypeInitializer
	}
	return f
}

func typeFlags(acc uint16) bytecode.AccessFlags {
	f := commonFlags(acc)
	if acc&accInterface != 0 {
		f |= bytecode.Interface
	}
	return f
}

func commonFlags(acc uint16) bytecode.AccessFlags {
	var f bytecode.AccessFlags
	for _, m := range []struct {
		acc  uint16
		flag bytecode.AccessFlags
	}{
		{accPublic, bytecode.Public},
		{accPrivate, bytecode.Private},
		{accProtected, bytecode.Protected},
		{accStatic, bytecode.Static},
		{accFinal, bytecode.Final},
		{accAbstract, bytecode.Abstract},
		{accSynthetic, bytecode.Synthetic},
		{accEnum, bytecode.Enum},
	} {
		if acc&m.acc != 0 {
			f |= m.flag
		}
	}
	return f
}

// accessBits converts model flags back to JVM access bits.
func accessBits(f bytecode.AccessFlags, method bool) uint16 {
	var acc uint16
	for _, m := range []struct {
		flag bytecode.AccessFlags
		acc  uint16
	}{
		{bytecode.Public, accPublic},
		{bytecode.Private, accPrivate},
		{bytecode.Protected, accProtected},
		{bytecode.Static, accStatic},
		{bytecode.Final, accFinal},
		{bytecode.Abstract, accAbstract},
		{bytecode.Synthetic, accSynthetic},
		{bytecode.Enum, accEnum},
		{bytecode.Interface, accInterface},
	} {
		if f.Has(m.flag) {
			acc |= m.acc
		}
	}
	if method && f.Has(bytecode.Bridge) {
		acc |= accBridge
	}
	return acc
}
