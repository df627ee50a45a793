package dalvik

import (
	"errors"
	"fmt"
)

// ErrTruncated is returned when an instruction extends past the end of the code buffer
var ErrTruncated = errors.New("truncated instruction stream")

// Pool resolves constant pool indices referenced by instructions.
type Pool interface {
	String(idx uint32) (string, error)
	Type(idx uint32) (string, error)
	Field(idx uint32) (string, error)
	Method(idx uint32) (string, error)
}

const (
	packedSwitchIdent = 0x0100
	sparseSwitchIdent = 0x0200
	arrayDataIdent    = 0x0300
)

// Decode decodes a method's code units into instructions in address order.
// If pool is nil, references are left unresolved (Ref is empty).
func Decode(code []uint16, pool Pool) ([]*Instruction, error) {
	var insns []*Instruction
	for pos := uint32(0); pos < uint32(len(code)); {
		insn, err := decodeAt(code, pos)
		if err != nil {
			return nil, fmt.Errorf("failed to decode instruction at %#x: %w", pos, err)
		}
		if pool != nil && insn.Opcode.Ref() != RefNone && !insn.IsPayload() {
			if insn.Ref, err = resolveRef(pool, insn.Opcode.Ref(), insn.Index); err != nil {
				return nil, fmt.Errorf("failed to resolve %s reference at %#x: %w", insn.Opcode, pos, err)
			}
		}
		insns = append(insns, insn)
		pos += insn.Units
	}
	return insns, nil
}

func resolveRef(pool Pool, kind RefKind, idx uint32) (string, error) {
	switch kind {
	case RefString:
		return pool.String(idx)
	case RefType:
		return pool.Type(idx)
	case RefField:
		return pool.Field(idx)
	case RefMethod:
		return pool.Method(idx)
	}
	return "", nil
}

func need(code []uint16, pos, n uint32) error {
	if uint64(pos)+uint64(n) > uint64(len(code)) {
		return ErrTruncated
	}
	return nil
}

func u32(code []uint16, pos uint32) uint32 {
	return uint32(code[pos]) | uint32(code[pos+1])<<16
}

func decodeAt(code []uint16, pos uint32) (*Instruction, error) {
	w := uint32(code[pos])
	op := Opcode(w & 0xFF)

	if op == Nop {
		switch w {
		case packedSwitchIdent, sparseSwitchIdent, arrayDataIdent:
			return decodePayload(code, pos)
		}
	}
	if !op.Valid() {
		return nil, fmt.Errorf("invalid opcode %#02x", uint8(op))
	}

	f := op.Format()
	insn := &Instruction{Opcode: op, Format: f, Units: f.Units()}
	if err := need(code, pos, insn.Units); err != nil {
		return nil, err
	}

	switch f {
	case Format10x:
	case Format12x:
		insn.A = uint16((w >> 8) & 0xF)
		insn.B = uint16(w >> 12)
	case Format11n:
		insn.A = uint16((w >> 8) & 0xF)
		insn.Literal = int64(int8(uint8(w>>12)<<4) >> 4)
	case Format11x:
		insn.A = uint16(w >> 8)
	case Format10t:
		insn.Target = int32(int8(w >> 8))
	case Format20t:
		insn.Target = int32(int16(code[pos+1]))
	case Format20bc:
		insn.A = uint16(w >> 8)
		insn.Index = uint32(code[pos+1])
	case Format22x:
		insn.A = uint16(w >> 8)
		insn.B = code[pos+1]
	case Format21t:
		insn.A = uint16(w >> 8)
		insn.Target = int32(int16(code[pos+1]))
	case Format21s:
		insn.A = uint16(w >> 8)
		insn.Literal = int64(int16(code[pos+1]))
	case Format21h:
		insn.A = uint16(w >> 8)
		if op == ConstHigh16 {
			insn.Literal = int64(int32(uint32(code[pos+1]) << 16))
		} else {
			insn.Literal = int64(uint64(code[pos+1]) << 48)
		}
	case Format21c:
		insn.A = uint16(w >> 8)
		insn.Index = uint32(code[pos+1])
	case Format23x:
		insn.A = uint16(w >> 8)
		insn.B = code[pos+1] & 0xFF
		insn.C = code[pos+1] >> 8
	case Format22b:
		insn.A = uint16(w >> 8)
		insn.B = code[pos+1] & 0xFF
		insn.Literal = int64(int8(code[pos+1] >> 8))
	case Format22t:
		insn.A = uint16((w >> 8) & 0xF)
		insn.B = uint16(w >> 12)
		insn.Target = int32(int16(code[pos+1]))
	case Format22s:
		insn.A = uint16((w >> 8) & 0xF)
		insn.B = uint16(w >> 12)
		insn.Literal = int64(int16(code[pos+1]))
	case Format22c, Format22cs:
		insn.A = uint16((w >> 8) & 0xF)
		insn.B = uint16(w >> 12)
		insn.Index = uint32(code[pos+1])
	case Format30t:
		insn.Target = int32(u32(code, pos+1))
	case Format32x:
		insn.A = code[pos+1]
		insn.B = code[pos+2]
	case Format31i:
		insn.A = uint16(w >> 8)
		insn.Literal = int64(int32(u32(code, pos+1)))
	case Format31t:
		insn.A = uint16(w >> 8)
		insn.Target = int32(u32(code, pos+1))
	case Format31c:
		insn.A = uint16(w >> 8)
		insn.Index = u32(code, pos+1)
	case Format35c, Format35ms, Format35mi:
		count := w >> 12
		if count > 5 {
			return nil, fmt.Errorf("%s: invalid register count %d", op, count)
		}
		insn.Index = uint32(code[pos+1])
		w3 := code[pos+2]
		regs := [5]uint16{w3 & 0xF, (w3 >> 4) & 0xF, (w3 >> 8) & 0xF, w3 >> 12, uint16((w >> 8) & 0xF)}
		insn.Args = append([]uint16(nil), regs[:count]...)
	case Format3rc, Format3rms, Format3rmi:
		count := uint32(w >> 8)
		insn.Index = uint32(code[pos+1])
		start := uint32(code[pos+2])
		if start+count > 0x10000 {
			return nil, fmt.Errorf("%s: register range v%d+%d overflows", op, start, count)
		}
		insn.Args = make([]uint16, count)
		for n := uint32(0); n < count; n++ {
			insn.Args[n] = uint16(start + n)
		}
	case Format51l:
		insn.A = uint16(w >> 8)
		var v uint64
		for n := uint32(0); n < 4; n++ {
			v |= uint64(code[pos+1+n]) << (16 * n)
		}
		insn.Literal = int64(v)
	default:
		return nil, fmt.Errorf("unhandled format %s", f)
	}

	return insn, nil
}

func decodePayload(code []uint16, pos uint32) (*Instruction, error) {
	if err := need(code, pos, 2); err != nil {
		return nil, err
	}
	p := &Payload{}
	insn := &Instruction{Opcode: Nop, Payload: p}

	switch uint32(code[pos]) {
	case packedSwitchIdent:
		size := uint32(code[pos+1])
		insn.Format = FormatPackedSwitchPayload
		insn.Units = 4 + size*2
		if err := need(code, pos, insn.Units); err != nil {
			return nil, err
		}
		p.FirstKey = int32(u32(code, pos+2))
		p.Targets = make([]int32, size)
		for n := uint32(0); n < size; n++ {
			p.Targets[n] = int32(u32(code, pos+4+n*2))
		}
	case sparseSwitchIdent:
		size := uint32(code[pos+1])
		insn.Format = FormatSparseSwitchPayload
		insn.Units = 2 + size*4
		if err := need(code, pos, insn.Units); err != nil {
			return nil, err
		}
		p.Keys = make([]int32, size)
		p.Targets = make([]int32, size)
		for n := uint32(0); n < size; n++ {
			p.Keys[n] = int32(u32(code, pos+2+n*2))
			p.Targets[n] = int32(u32(code, pos+2+size*2+n*2))
		}
	case arrayDataIdent:
		if err := need(code, pos, 4); err != nil {
			return nil, err
		}
		width := uint32(code[pos+1])
		size := u32(code, pos+2)
		insn.Format = FormatArrayPayload
		insn.Units = 4 + (size*width+1)/2
		if err := need(code, pos, insn.Units); err != nil {
			return nil, err
		}
		p.Width = uint16(width)
		p.Data = make([]uint64, size)
		for n := uint32(0); n < size; n++ {
			off := n * width // byte offset into the data block
			var v uint64
			for b := uint32(0); b < width; b++ {
				unit := code[pos+4+(off+b)/2]
				byt := uint64(unit & 0xFF)
				if (off+b)%2 == 1 {
					byt = uint64(unit >> 8)
				}
				v |= byt << (8 * b)
			}
			p.Data[n] = v
		}
	}
	return insn, nil
}

// Encode is the inverse of Decode for a single non-payload instruction.
func Encode(insn *Instruction) ([]uint16, error) {
	op := uint16(insn.Opcode)
	switch insn.Format {
	case Format10x:
		return []uint16{op}, nil
	case Format12x:
		return []uint16{op | (insn.A&0xF)<<8 | insn.B<<12}, nil
	case Format11n:
		return []uint16{op | (insn.A&0xF)<<8 | uint16(insn.Literal&0xF)<<12}, nil
	case Format11x:
		return []uint16{op | insn.A<<8}, nil
	case Format10t:
		return []uint16{op | uint16(uint8(int8(insn.Target)))<<8}, nil
	case Format20t:
		return []uint16{op, uint16(int16(insn.Target))}, nil
	case Format20bc, Format21c:
		return []uint16{op | insn.A<<8, uint16(insn.Index)}, nil
	case Format22x:
		return []uint16{op | insn.A<<8, insn.B}, nil
	case Format21t:
		return []uint16{op | insn.A<<8, uint16(int16(insn.Target))}, nil
	case Format21s:
		return []uint16{op | insn.A<<8, uint16(int16(insn.Literal))}, nil
	case Format21h:
		if insn.Opcode == ConstHigh16 {
			return []uint16{op | insn.A<<8, uint16(uint32(insn.Literal) >> 16)}, nil
		}
		return []uint16{op | insn.A<<8, uint16(uint64(insn.Literal) >> 48)}, nil
	case Format23x:
		return []uint16{op | insn.A<<8, insn.B&0xFF | insn.C<<8}, nil
	case Format22b:
		return []uint16{op | insn.A<<8, insn.B&0xFF | uint16(uint8(int8(insn.Literal)))<<8}, nil
	case Format22t:
		return []uint16{op | (insn.A&0xF)<<8 | insn.B<<12, uint16(int16(insn.Target))}, nil
	case Format22s:
		return []uint16{op | (insn.A&0xF)<<8 | insn.B<<12, uint16(int16(insn.Literal))}, nil
	case Format22c, Format22cs:
		return []uint16{op | (insn.A&0xF)<<8 | insn.B<<12, uint16(insn.Index)}, nil
	case Format30t:
		return []uint16{op, uint16(uint32(insn.Target)), uint16(uint32(insn.Target) >> 16)}, nil
	case Format32x:
		return []uint16{op, insn.A, insn.B}, nil
	case Format31i:
		return []uint16{op | insn.A<<8, uint16(uint32(insn.Literal)), uint16(uint32(insn.Literal) >> 16)}, nil
	case Format31t:
		return []uint16{op | insn.A<<8, uint16(uint32(insn.Target)), uint16(uint32(insn.Target) >> 16)}, nil
	case Format31c:
		return []uint16{op | insn.A<<8, uint16(insn.Index), uint16(insn.Index >> 16)}, nil
	case Format35c, Format35ms, Format35mi:
		if len(insn.Args) > 5 {
			return nil, fmt.Errorf("%s: too many registers (%d)", insn.Opcode, len(insn.Args))
		}
		var regs [5]uint16
		copy(regs[:], insn.Args)
		return []uint16{
			op | (regs[4]&0xF)<<8 | uint16(len(insn.Args))<<12,
			uint16(insn.Index),
			regs[0]&0xF | (regs[1]&0xF)<<4 | (regs[2]&0xF)<<8 | (regs[3]&0xF)<<12,
		}, nil
	case Format3rc, Format3rms, Format3rmi:
		var start uint16
		if len(insn.Args) > 0 {
			start = insn.Args[0]
		}
		return []uint16{op | uint16(len(insn.Args))<<8, uint16(insn.Index), start}, nil
	case Format51l:
		v := uint64(insn.Literal)
		return []uint16{op | insn.A<<8, uint16(v), uint16(v >> 16), uint16(v >> 32), uint16(v >> 48)}, nil
	case FormatPackedSwitchPayload, FormatSparseSwitchPayload, FormatArrayPayload:
		return encodePayload(insn)
	}
	return nil, fmt.Errorf("cannot encode format %s", insn.Format)
}

func encodePayload(insn *Instruction) ([]uint16, error) {
	p := insn.Payload
	if p == nil {
		return nil, fmt.Errorf("%s: missing payload", insn.Format)
	}
	put32 := func(units []uint16, v uint32) []uint16 {
		return append(units, uint16(v), uint16(v>>16))
	}
	switch insn.Format {
	case FormatPackedSwitchPayload:
		units := []uint16{packedSwitchIdent, uint16(len(p.Targets))}
		units = put32(units, uint32(p.FirstKey))
		for _, t := range p.Targets {
			units = put32(units, uint32(t))
		}
		return units, nil
	case FormatSparseSwitchPayload:
		if len(p.Keys) != len(p.Targets) {
			return nil, fmt.Errorf("sparse-switch payload has %d keys and %d targets", len(p.Keys), len(p.Targets))
		}
		units := []uint16{sparseSwitchIdent, uint16(len(p.Targets))}
		for _, k := range p.Keys {
			units = put32(units, uint32(k))
		}
		for _, t := range p.Targets {
			units = put32(units, uint32(t))
		}
		return units, nil
	default:
		width := uint32(p.Width)
		units := []uint16{arrayDataIdent, p.Width}
		units = put32(units, uint32(len(p.Data)))
		data := make([]byte, uint32(len(p.Data))*width+1)
		for n, v := range p.Data {
			for b := uint32(0); b < width; b++ {
				data[uint32(n)*width+b] = byte(v >> (8 * b))
			}
		}
		for n := 0; n+1 < len(data); n += 2 {
			units = append(units, uint16(data[n])|uint16(data[n+1])<<8)
		}
		return units, nil
	}
}

// Assemble encodes a sequence of instructions into code units.
func Assemble(insns ...*Instruction) ([]uint16, error) {
	var code []uint16
	for _, insn := range insns {
		units, err := Encode(insn)
		if err != nil {
			return nil, err
		}
		code = append(code, units...)
	}
	return code, nil
}
