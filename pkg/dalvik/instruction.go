package dalvik

import (
	"fmt"
	"strings"
)

// Instruction is a single decoded dalvik instruction. Which operand fields are
// meaningful is determined by Format.
type Instruction struct {
	Opcode Opcode
	Format Format

	A, B, C uint16   // register operands in encoding order (vA, vB, vC)
	Literal int64    // 11n, 21s, 21h, 31i, 22b, 22s, 51l
	Target  int32    // branch offset relative to the instruction, in code units
	Index   uint32   // constant pool index, field offset, vtable slot or inline index
	Args    []uint16 // argument registers of 35x/3rx formats, first argument first
	Ref     string   // resolved constant pool item (string, type, field or method)

	Payload *Payload // switch/array payloads
	Units   uint32   // encoded size in code units
}

// Payload holds the contents of a packed-switch, sparse-switch or fill-array-data payload
type Payload struct {
	FirstKey int32    // packed-switch only
	Keys     []int32  // sparse-switch only
	Targets  []int32  // offsets relative to the referencing switch instruction
	Width    uint16   // array element width in bytes
	Data     []uint64 // array elements
}

// Size returns the size of the instruction in code units
func (i *Instruction) Size() uint32 {
	return i.Units
}

// IsPayload reports whether the instruction is switch or array data rather than code
func (i *Instruction) IsPayload() bool {
	switch i.Format {
	case FormatPackedSwitchPayload, FormatSparseSwitchPayload, FormatArrayPayload:
		return true
	}
	return false
}

// IsUnresolvedNullReference reports whether the instruction replaced an odexed access through a
// register that is always null.
func (i *Instruction) IsUnresolvedNullReference() bool {
	return i.Format == FormatUnresolvedNullReference
}

// CanThrow reports whether executing the instruction may raise an exception
func (i *Instruction) CanThrow() bool {
	if i.IsPayload() {
		return false
	}
	if i.IsUnresolvedNullReference() {
		return true
	}
	return i.Opcode.Has(CanThrow)
}

// CanContinue reports whether execution may fall through to the next instruction
func (i *Instruction) CanContinue() bool {
	if i.IsPayload() || i.IsUnresolvedNullReference() {
		return false
	}
	return i.Opcode.Has(CanContinue)
}

// ObjectRegister returns the register holding the object an odexed quick instruction operates on.
func (i *Instruction) ObjectRegister() (uint16, bool) {
	switch i.Format {
	case Format22cs:
		return i.B, true
	case Format35ms, Format3rms:
		if len(i.Args) == 0 {
			return 0, false
		}
		return i.Args[0], true
	}
	return 0, false
}

// Resolved returns a copy of the odexed instruction rewritten to the symbolic opcode op
// referencing ref. Register operands are preserved.
func (i *Instruction) Resolved(op Opcode, ref string) *Instruction {
	out := *i
	out.Opcode = op
	out.Format = i.Format.symbolic()
	out.Ref = ref
	out.Index = 0
	if i.Args != nil {
		out.Args = append([]uint16(nil), i.Args...)
	}
	return &out
}

// NewUnresolvedNullReference wraps an odexed instruction whose object register is always null.
// It keeps the original opcode and size and records the null register in A.
func NewUnresolvedNullReference(orig *Instruction, reg uint16) *Instruction {
	return &Instruction{
		Opcode: orig.Opcode,
		Format: FormatUnresolvedNullReference,
		A:      reg,
		Units:  orig.Units,
	}
}

func reg(r uint16) string {
	return fmt.Sprintf("v%d", r)
}

func regList(args []uint16, isRange bool) string {
	if len(args) == 0 {
		return "{}"
	}
	if isRange {
		return fmt.Sprintf("{v%d .. v%d}", args[0], args[len(args)-1])
	}
	parts := make([]string, len(args))
	for idx, a := range args {
		parts[idx] = reg(a)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (i *Instruction) operandRef() string {
	if i.Ref != "" {
		if i.Opcode.Ref() == RefString {
			return fmt.Sprintf("%q", i.Ref)
		}
		return i.Ref
	}
	switch i.Format {
	case Format22cs:
		return fmt.Sprintf("field@0x%x", i.Index)
	case Format35ms, Format3rms:
		return fmt.Sprintf("vtable@0x%x", i.Index)
	case Format35mi, Format3rmi:
		return fmt.Sprintf("inline@0x%x", i.Index)
	}
	switch i.Opcode.Ref() {
	case RefString:
		return fmt.Sprintf("string@%d", i.Index)
	case RefType:
		return fmt.Sprintf("type@%d", i.Index)
	case RefField:
		return fmt.Sprintf("field@%d", i.Index)
	case RefMethod:
		return fmt.Sprintf("method@%d", i.Index)
	}
	return fmt.Sprintf("@%d", i.Index)
}

// String renders the instruction in smali syntax. Branch targets are rendered as relative offsets.
func (i *Instruction) String() string {
	name := i.Opcode.Name()
	switch i.Format {
	case Format10x:
		return name
	case Format12x:
		return fmt.Sprintf("%s %s, %s", name, reg(i.A), reg(i.B))
	case Format11n, Format21s, Format31i, Format51l:
		return fmt.Sprintf("%s %s, %#x", name, reg(i.A), i.Literal)
	case Format21h:
		return fmt.Sprintf("%s %s, %#x", name, reg(i.A), uint64(i.Literal))
	case Format11x:
		return fmt.Sprintf("%s %s", name, reg(i.A))
	case Format10t, Format20t, Format30t:
		return fmt.Sprintf("%s %+d", name, i.Target)
	case Format20bc:
		return fmt.Sprintf("%s %d, %s", name, i.A, i.operandRef())
	case Format22x, Format32x:
		return fmt.Sprintf("%s %s, %s", name, reg(i.A), reg(i.B))
	case Format21t, Format31t:
		return fmt.Sprintf("%s %s, %+d", name, reg(i.A), i.Target)
	case Format21c, Format31c:
		return fmt.Sprintf("%s %s, %s", name, reg(i.A), i.operandRef())
	case Format23x:
		return fmt.Sprintf("%s %s, %s, %s", name, reg(i.A), reg(i.B), reg(i.C))
	case Format22b, Format22s:
		return fmt.Sprintf("%s %s, %s, %#x", name, reg(i.A), reg(i.B), i.Literal)
	case Format22t:
		return fmt.Sprintf("%s %s, %s, %+d", name, reg(i.A), reg(i.B), i.Target)
	case Format22c, Format22cs:
		return fmt.Sprintf("%s %s, %s, %s", name, reg(i.A), reg(i.B), i.operandRef())
	case Format35c, Format35ms, Format35mi, Format3rc, Format3rms, Format3rmi:
		return fmt.Sprintf("%s %s, %s", name, regList(i.Args, i.Format.IsRange()), i.operandRef())
	case FormatPackedSwitchPayload:
		return fmt.Sprintf(".packed-switch %#x (%d targets)", i.Payload.FirstKey, len(i.Payload.Targets))
	case FormatSparseSwitchPayload:
		return fmt.Sprintf(".sparse-switch (%d targets)", len(i.Payload.Targets))
	case FormatArrayPayload:
		return fmt.Sprintf(".array-data %d (%d elements)", i.Payload.Width, len(i.Payload.Data))
	case FormatUnresolvedNullReference:
		return fmt.Sprintf("#Replaced unresolvable odex instruction with a throw\nthrow %s", reg(i.A))
	}
	return name
}
