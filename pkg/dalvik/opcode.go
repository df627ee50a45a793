package dalvik

// Opcode is a dalvik instruction opcode (the low byte of the first code unit)
type Opcode uint8

// Flag describes static properties of an opcode
type Flag uint16

const (
	// CanThrow marks instructions that may raise an exception
	CanThrow Flag = 1 << iota
	// CanContinue marks instructions that may fall through to the next instruction
	CanContinue
	// Odex marks platform-optimized instructions that only appear in odex files
	Odex
	// SetsRegister marks instructions that write register A
	SetsRegister
	// SetsWide marks instructions that write the register pair A, A+1
	SetsWide
	// SetsResult marks instructions whose result is picked up by a following move-result
	SetsResult
	// Branch marks goto, if-* and switch instructions
	Branch
)

// RefKind is the kind of constant pool item an opcode's index refers to
type RefKind uint8

const (
	RefNone RefKind = iota
	RefString
	RefType
	RefField
	RefMethod
)

type opInfo struct {
	name   string
	format Format
	ref    RefKind
	flags  Flag
}

const (
	Nop                   Opcode = 0x00
	Move                  Opcode = 0x01
	MoveFrom16            Opcode = 0x02
	Move16                Opcode = 0x03
	MoveWide              Opcode = 0x04
	MoveWideFrom16        Opcode = 0x05
	MoveWide16            Opcode = 0x06
	MoveObject            Opcode = 0x07
	MoveObjectFrom16      Opcode = 0x08
	MoveObject16          Opcode = 0x09
	MoveResult            Opcode = 0x0a
	MoveResultWide        Opcode = 0x0b
	MoveResultObject      Opcode = 0x0c
	MoveException         Opcode = 0x0d
	ReturnVoid            Opcode = 0x0e
	Return                Opcode = 0x0f
	ReturnWide            Opcode = 0x10
	ReturnObject          Opcode = 0x11
	Const4                Opcode = 0x12
	Const16               Opcode = 0x13
	Const                 Opcode = 0x14
	ConstHigh16           Opcode = 0x15
	ConstWide16           Opcode = 0x16
	ConstWide32           Opcode = 0x17
	ConstWide             Opcode = 0x18
	ConstWideHigh16       Opcode = 0x19
	ConstString           Opcode = 0x1a
	ConstStringJumbo      Opcode = 0x1b
	ConstClass            Opcode = 0x1c
	MonitorEnter          Opcode = 0x1d
	MonitorExit           Opcode = 0x1e
	CheckCast             Opcode = 0x1f
	InstanceOf            Opcode = 0x20
	ArrayLength           Opcode = 0x21
	NewInstance           Opcode = 0x22
	NewArray              Opcode = 0x23
	FilledNewArray        Opcode = 0x24
	FilledNewArrayRange   Opcode = 0x25
	FillArrayData         Opcode = 0x26
	Throw                 Opcode = 0x27
	Goto                  Opcode = 0x28
	Goto16                Opcode = 0x29
	Goto32                Opcode = 0x2a
	PackedSwitch          Opcode = 0x2b
	SparseSwitch          Opcode = 0x2c
	CmplFloat             Opcode = 0x2d
	CmpgFloat             Opcode = 0x2e
	CmplDouble            Opcode = 0x2f
	CmpgDouble            Opcode = 0x30
	CmpLong               Opcode = 0x31
	IfEq                  Opcode = 0x32
	IfNe                  Opcode = 0x33
	IfLt                  Opcode = 0x34
	IfGe                  Opcode = 0x35
	IfGt                  Opcode = 0x36
	IfLe                  Opcode = 0x37
	IfEqz                 Opcode = 0x38
	IfNez                 Opcode = 0x39
	IfLtz                 Opcode = 0x3a
	IfGez                 Opcode = 0x3b
	IfGtz                 Opcode = 0x3c
	IfLez                 Opcode = 0x3d
	Aget                  Opcode = 0x44
	AgetWide              Opcode = 0x45
	AgetObject            Opcode = 0x46
	AgetBoolean           Opcode = 0x47
	AgetByte              Opcode = 0x48
	AgetChar              Opcode = 0x49
	AgetShort             Opcode = 0x4a
	Aput                  Opcode = 0x4b
	AputWide              Opcode = 0x4c
	AputObject            Opcode = 0x4d
	AputBoolean           Opcode = 0x4e
	AputByte              Opcode = 0x4f
	AputChar              Opcode = 0x50
	AputShort             Opcode = 0x51
	Iget                  Opcode = 0x52
	IgetWide              Opcode = 0x53
	IgetObject            Opcode = 0x54
	IgetBoolean           Opcode = 0x55
	IgetByte              Opcode = 0x56
	IgetChar              Opcode = 0x57
	IgetShort             Opcode = 0x58
	Iput                  Opcode = 0x59
	IputWide              Opcode = 0x5a
	IputObject            Opcode = 0x5b
	IputBoolean           Opcode = 0x5c
	IputByte              Opcode = 0x5d
	IputChar              Opcode = 0x5e
	IputShort             Opcode = 0x5f
	Sget                  Opcode = 0x60
	SgetWide              Opcode = 0x61
	SgetObject            Opcode = 0x62
	SgetBoolean           Opcode = 0x63
	SgetByte              Opcode = 0x64
	SgetChar              Opcode = 0x65
	SgetShort             Opcode = 0x66
	Sput                  Opcode = 0x67
	SputWide              Opcode = 0x68
	SputObject            Opcode = 0x69
	SputBoolean           Opcode = 0x6a
	SputByte              Opcode = 0x6b
	SputChar              Opcode = 0x6c
	SputShort             Opcode = 0x6d
	InvokeVirtual         Opcode = 0x6e
	InvokeSuper           Opcode = 0x6f
	InvokeDirect          Opcode = 0x70
	InvokeStatic          Opcode = 0x71
	InvokeInterface       Opcode = 0x72
	InvokeVirtualRange    Opcode = 0x74
	InvokeSuperRange      Opcode = 0x75
	InvokeDirectRange     Opcode = 0x76
	InvokeStaticRange     Opcode = 0x77
	InvokeInterfaceRange  Opcode = 0x78
	NegInt                Opcode = 0x7b
	NotInt                Opcode = 0x7c
	NegLong               Opcode = 0x7d
	NotLong               Opcode = 0x7e
	NegFloat              Opcode = 0x7f
	NegDouble             Opcode = 0x80
	IntToLong             Opcode = 0x81
	IntToFloat            Opcode = 0x82
	IntToDouble           Opcode = 0x83
	LongToInt             Opcode = 0x84
	LongToFloat           Opcode = 0x85
	LongToDouble          Opcode = 0x86
	FloatToInt            Opcode = 0x87
	FloatToLong           Opcode = 0x88
	FloatToDouble         Opcode = 0x89
	DoubleToInt           Opcode = 0x8a
	DoubleToLong          Opcode = 0x8b
	DoubleToFloat         Opcode = 0x8c
	IntToByte             Opcode = 0x8d
	IntToChar             Opcode = 0x8e
	IntToShort            Opcode = 0x8f
	AddInt                Opcode = 0x90
	AddLong               Opcode = 0x9b
	AddFloat              Opcode = 0xa6
	AddDouble             Opcode = 0xab
	AddInt2Addr           Opcode = 0xb0
	AddLong2Addr          Opcode = 0xbb
	AddFloat2Addr         Opcode = 0xc6
	AddDouble2Addr        Opcode = 0xcb
	AddIntLit16           Opcode = 0xd0
	AddIntLit8            Opcode = 0xd8
	IgetVolatile          Opcode = 0xe3
	IputVolatile          Opcode = 0xe4
	SgetVolatile          Opcode = 0xe5
	SputVolatile          Opcode = 0xe6
	IgetObjectVolatile    Opcode = 0xe7
	IgetWideVolatile      Opcode = 0xe8
	IputWideVolatile      Opcode = 0xe9
	SgetWideVolatile      Opcode = 0xea
	SputWideVolatile      Opcode = 0xeb
	ThrowVerificationErr  Opcode = 0xed
	ExecuteInline         Opcode = 0xee
	ExecuteInlineRange    Opcode = 0xef
	InvokeDirectEmpty     Opcode = 0xf0
	IgetQuick             Opcode = 0xf2
	IgetWideQuick         Opcode = 0xf3
	IgetObjectQuick       Opcode = 0xf4
	IputQuick             Opcode = 0xf5
	IputWideQuick         Opcode = 0xf6
	IputObjectQuick       Opcode = 0xf7
	InvokeVirtualQuick    Opcode = 0xf8
	InvokeVirtualQuickRng Opcode = 0xf9
	InvokeSuperQuick      Opcode = 0xfa
	InvokeSuperQuickRng   Opcode = 0xfb
)

const (
	flow     = CanContinue
	throwing = CanThrow | CanContinue
	sets     = SetsRegister | CanContinue
	setsWide = SetsRegister | SetsWide | CanContinue
	invoke   = CanThrow | CanContinue | SetsResult
)

var opcodes [256]opInfo

func init() {
	for i := range opcodes {
		opcodes[i] = opInfo{name: "unused", format: Format10x, flags: 0}
	}
	def := func(op Opcode, name string, f Format, ref RefKind, flags Flag) {
		opcodes[op] = opInfo{name: name, format: f, ref: ref, flags: flags}
	}

	def(Nop, "nop", Format10x, RefNone, flow)
	def(Move, "move", Format12x, RefNone, sets)
	def(MoveFrom16, "move/from16", Format22x, RefNone, sets)
	def(Move16, "move/16", Format32x, RefNone, sets)
	def(MoveWide, "move-wide", Format12x, RefNone, setsWide)
	def(MoveWideFrom16, "move-wide/from16", Format22x, RefNone, setsWide)
	def(MoveWide16, "move-wide/16", Format32x, RefNone, setsWide)
	def(MoveObject, "move-object", Format12x, RefNone, sets)
	def(MoveObjectFrom16, "move-object/from16", Format22x, RefNone, sets)
	def(MoveObject16, "move-object/16", Format32x, RefNone, sets)
	def(MoveResult, "move-result", Format11x, RefNone, sets)
	def(MoveResultWide, "move-result-wide", Format11x, RefNone, setsWide)
	def(MoveResultObject, "move-result-object", Format11x, RefNone, sets)
	def(MoveException, "move-exception", Format11x, RefNone, sets)
	def(ReturnVoid, "return-void", Format10x, RefNone, 0)
	def(Return, "return", Format11x, RefNone, 0)
	def(ReturnWide, "return-wide", Format11x, RefNone, 0)
	def(ReturnObject, "return-object", Format11x, RefNone, 0)
	def(Const4, "const/4", Format11n, RefNone, sets)
	def(Const16, "const/16", Format21s, RefNone, sets)
	def(Const, "const", Format31i, RefNone, sets)
	def(ConstHigh16, "const/high16", Format21h, RefNone, sets)
	def(ConstWide16, "const-wide/16", Format21s, RefNone, setsWide)
	def(ConstWide32, "const-wide/32", Format31i, RefNone, setsWide)
	def(ConstWide, "const-wide", Format51l, RefNone, setsWide)
	def(ConstWideHigh16, "const-wide/high16", Format21h, RefNone, setsWide)
	def(ConstString, "const-string", Format21c, RefString, sets|CanThrow)
	def(ConstStringJumbo, "const-string/jumbo", Format31c, RefString, sets|CanThrow)
	def(ConstClass, "const-class", Format21c, RefType, sets|CanThrow)
	def(MonitorEnter, "monitor-enter", Format11x, RefNone, throwing)
	def(MonitorExit, "monitor-exit", Format11x, RefNone, throwing)
	def(CheckCast, "check-cast", Format21c, RefType, sets|CanThrow)
	def(InstanceOf, "instance-of", Format22c, RefType, sets|CanThrow)
	def(ArrayLength, "array-length", Format12x, RefNone, sets|CanThrow)
	def(NewInstance, "new-instance", Format21c, RefType, sets|CanThrow)
	def(NewArray, "new-array", Format22c, RefType, sets|CanThrow)
	def(FilledNewArray, "filled-new-array", Format35c, RefType, invoke)
	def(FilledNewArrayRange, "filled-new-array/range", Format3rc, RefType, invoke)
	def(FillArrayData, "fill-array-data", Format31t, RefNone, throwing)
	def(Throw, "throw", Format11x, RefNone, CanThrow)
	def(Goto, "goto", Format10t, RefNone, Branch)
	def(Goto16, "goto/16", Format20t, RefNone, Branch)
	def(Goto32, "goto/32", Format30t, RefNone, Branch)
	def(PackedSwitch, "packed-switch", Format31t, RefNone, flow|Branch)
	def(SparseSwitch, "sparse-switch", Format31t, RefNone, flow|Branch)

	for i, name := range []string{"cmpl-float", "cmpg-float", "cmpl-double", "cmpg-double", "cmp-long"} {
		def(CmplFloat+Opcode(i), name, Format23x, RefNone, sets)
	}
	for i, name := range []string{"if-eq", "if-ne", "if-lt", "if-ge", "if-gt", "if-le"} {
		def(IfEq+Opcode(i), name, Format22t, RefNone, flow|Branch)
	}
	for i, name := range []string{"if-eqz", "if-nez", "if-ltz", "if-gez", "if-gtz", "if-lez"} {
		def(IfEqz+Opcode(i), name, Format21t, RefNone, flow|Branch)
	}

	suffixes := []string{"", "-wide", "-object", "-boolean", "-byte", "-char", "-short"}
	for i, sfx := range suffixes {
		getFlags := sets | CanThrow
		if sfx == "-wide" {
			getFlags = setsWide | CanThrow
		}
		def(Aget+Opcode(i), "aget"+sfx, Format23x, RefNone, getFlags)
		def(Aput+Opcode(i), "aput"+sfx, Format23x, RefNone, throwing)
		def(Iget+Opcode(i), "iget"+sfx, Format22c, RefField, getFlags)
		def(Iput+Opcode(i), "iput"+sfx, Format22c, RefField, throwing)
		def(Sget+Opcode(i), "sget"+sfx, Format21c, RefField, getFlags)
		def(Sput+Opcode(i), "sput"+sfx, Format21c, RefField, throwing)
	}

	for i, kind := range []string{"virtual", "super", "direct", "static", "interface"} {
		def(InvokeVirtual+Opcode(i), "invoke-"+kind, Format35c, RefMethod, invoke)
		def(InvokeVirtualRange+Opcode(i), "invoke-"+kind+"/range", Format3rc, RefMethod, invoke)
	}

	unops := []struct {
		name string
		wide bool
	}{
		{"neg-int", false}, {"not-int", false}, {"neg-long", true}, {"not-long", true},
		{"neg-float", false}, {"neg-double", true}, {"int-to-long", true}, {"int-to-float", false},
		{"int-to-double", true}, {"long-to-int", false}, {"long-to-float", false}, {"long-to-double", true},
		{"float-to-int", false}, {"float-to-long", true}, {"float-to-double", true}, {"double-to-int", false},
		{"double-to-long", true}, {"double-to-float", false}, {"int-to-byte", false}, {"int-to-char", false},
		{"int-to-short", false},
	}
	for i, u := range unops {
		f := sets
		if u.wide {
			f = setsWide
		}
		def(NegInt+Opcode(i), u.name, Format12x, RefNone, f)
	}

	intOps := []string{"add", "sub", "mul", "div", "rem", "and", "or", "xor", "shl", "shr", "ushr"}
	floatOps := []string{"add", "sub", "mul", "div", "rem"}
	binops := func(base, base2addr Opcode, ops []string, typ string, wide bool) {
		for i, op := range ops {
			f := sets
			if wide {
				f = setsWide
			}
			if (op == "div" || op == "rem") && (typ == "int" || typ == "long") {
				f |= CanThrow
			}
			def(base+Opcode(i), op+"-"+typ, Format23x, RefNone, f)
			def(base2addr+Opcode(i), op+"-"+typ+"/2addr", Format12x, RefNone, f)
		}
	}
	binops(AddInt, AddInt2Addr, intOps, "int", false)
	binops(AddLong, AddLong2Addr, intOps, "long", true)
	binops(AddFloat, AddFloat2Addr, floatOps, "float", false)
	binops(AddDouble, AddDouble2Addr, floatOps, "double", true)

	for i, op := range []string{"add-int", "rsub-int", "mul-int", "div-int", "rem-int", "and-int", "or-int", "xor-int"} {
		f := sets
		if op == "div-int" || op == "rem-int" {
			f |= CanThrow
		}
		name := op + "/lit16"
		if op == "rsub-int" {
			name = op
		}
		def(AddIntLit16+Opcode(i), name, Format22s, RefNone, f)
	}
	for i, op := range []string{"add-int", "rsub-int", "mul-int", "div-int", "rem-int", "and-int", "or-int", "xor-int", "shl-int", "shr-int", "ushr-int"} {
		f := sets
		if op == "div-int" || op == "rem-int" {
			f |= CanThrow
		}
		def(AddIntLit8+Opcode(i), op+"/lit8", Format22b, RefNone, f)
	}

	def(IgetVolatile, "iget-volatile", Format22c, RefField, sets|CanThrow|Odex)
	def(IputVolatile, "iput-volatile", Format22c, RefField, throwing|Odex)
	def(SgetVolatile, "sget-volatile", Format21c, RefField, sets|CanThrow|Odex)
	def(SputVolatile, "sput-volatile", Format21c, RefField, throwing|Odex)
	def(IgetObjectVolatile, "iget-object-volatile", Format22c, RefField, sets|CanThrow|Odex)
	def(IgetWideVolatile, "iget-wide-volatile", Format22c, RefField, setsWide|CanThrow|Odex)
	def(IputWideVolatile, "iput-wide-volatile", Format22c, RefField, throwing|Odex)
	def(SgetWideVolatile, "sget-wide-volatile", Format21c, RefField, setsWide|CanThrow|Odex)
	def(SputWideVolatile, "sput-wide-volatile", Format21c, RefField, throwing|Odex)
	def(ThrowVerificationErr, "throw-verification-error", Format20bc, RefNone, CanThrow|Odex)
	def(ExecuteInline, "execute-inline", Format35mi, RefNone, invoke|Odex)
	def(ExecuteInlineRange, "execute-inline/range", Format3rmi, RefNone, invoke|Odex)
	def(InvokeDirectEmpty, "invoke-direct-empty", Format35c, RefMethod, invoke|Odex)
	def(IgetQuick, "iget-quick", Format22cs, RefNone, sets|CanThrow|Odex)
	def(IgetWideQuick, "iget-wide-quick", Format22cs, RefNone, setsWide|CanThrow|Odex)
	def(IgetObjectQuick, "iget-object-quick", Format22cs, RefNone, sets|CanThrow|Odex)
	def(IputQuick, "iput-quick", Format22cs, RefNone, throwing|Odex)
	def(IputWideQuick, "iput-wide-quick", Format22cs, RefNone, throwing|Odex)
	def(IputObjectQuick, "iput-object-quick", Format22cs, RefNone, throwing|Odex)
	def(InvokeVirtualQuick, "invoke-virtual-quick", Format35ms, RefNone, invoke|Odex)
	def(InvokeVirtualQuickRng, "invoke-virtual-quick/range", Format3rms, RefNone, invoke|Odex)
	def(InvokeSuperQuick, "invoke-super-quick", Format35ms, RefNone, invoke|Odex)
	def(InvokeSuperQuickRng, "invoke-super-quick/range", Format3rms, RefNone, invoke|Odex)
}

// Name returns the smali mnemonic of the opcode
func (o Opcode) Name() string { return opcodes[o].name }

// Format returns the encoding format of the opcode
func (o Opcode) Format() Format { return opcodes[o].format }

// Ref returns the kind of constant pool item the opcode's index refers to
func (o Opcode) Ref() RefKind { return opcodes[o].ref }

// Has reports whether the opcode carries all of the given flags
func (o Opcode) Has(f Flag) bool { return opcodes[o].flags&f == f }

// Valid reports whether the opcode is assigned
func (o Opcode) Valid() bool { return opcodes[o].name != "unused" }

func (o Opcode) String() string { return o.Name() }

// IsQuick reports whether resolving the opcode needs the type of an object register.
func (o Opcode) IsQuick() bool {
	switch o {
	case IgetQuick, IgetWideQuick, IgetObjectQuick, IputQuick, IputWideQuick, IputObjectQuick,
		InvokeVirtualQuick, InvokeVirtualQuickRng, InvokeSuperQuick, InvokeSuperQuickRng:
		return true
	}
	return false
}

// NeedsResolution reports whether the opcode must be rewritten into its symbolic form.
// Volatile field accesses keep their field reference and need no rewrite.
func (o Opcode) NeedsResolution() bool {
	switch o {
	case ExecuteInline, ExecuteInlineRange, InvokeDirectEmpty:
		return true
	}
	return o.IsQuick()
}

// IsInvoke reports whether the opcode is a symbolic method invocation
func (o Opcode) IsInvoke() bool {
	return (o >= InvokeVirtual && o <= InvokeInterface) || (o >= InvokeVirtualRange && o <= InvokeInterfaceRange)
}

// Lookup returns the opcode with the given mnemonic.
func Lookup(name string) (Opcode, bool) {
	for i := range opcodes {
		if opcodes[i].name == name {
			return Opcode(i), true
		}
	}
	return 0, false
}
