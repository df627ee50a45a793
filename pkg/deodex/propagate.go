package deodex

import (
	"fmt"

	"github.com/apex/log"
	"github.com/blacktop/deodex/pkg/dalvik"
)

// seed merges the parameter types into every entry node
func (s *analysis) seed() error {
	regs := s.g.Registers
	params := s.ref.ParameterRegisters()
	if !s.method.Static {
		params++
	}
	if params > regs {
		return fmt.Errorf("%w: %d parameter registers do not fit in %d registers", ErrMalformed, params, regs)
	}

	start := make([]RegisterType, regs)
	r := regs - params
	if !s.method.Static {
		start[r] = NewReference(s.ref.Class)
		r++
	}
	for _, p := range s.ref.Params {
		if dalvik.IsWide(p) {
			start[r] = nonReferenceType
			start[r+1] = nonReferenceType
			r += 2
			continue
		}
		start[r] = typeOf(p)
		r++
	}

	for _, e := range s.g.Entries {
		if err := s.mergeInto(e, start); err != nil {
			return err
		}
		s.work.push(e, propagate)
	}
	return nil
}

// destination returns the register written by insn
func destination(insn *dalvik.Instruction) (reg uint16, wide bool, ok bool) {
	if insn.IsUnresolvedNullReference() || insn.IsPayload() || !insn.Opcode.Has(dalvik.SetsRegister) {
		return 0, false, false
	}
	return insn.A, insn.Opcode.Has(dalvik.SetsWide), true
}

func (s *analysis) checkRegister(n *Node, r int) error {
	if r >= s.g.Registers {
		return fmt.Errorf("%w: %s at %#x uses v%d but the method has %d registers", ErrMalformed, n.Insn.Opcode, n.Address, r, s.g.Registers)
	}
	return nil
}

// propagateFrom pushes the register types leaving n into each of its successors
func (s *analysis) propagateFrom(n *Node) error {
	if n.Dead {
		return nil
	}
	insn := n.Instruction()
	if insn.IsUnresolvedNullReference() {
		return nil
	}

	out := n.regs
	if dest, wide, ok := destination(insn); ok {
		last := int(dest)
		if wide {
			last++
		}
		if err := s.checkRegister(n, last); err != nil {
			return err
		}
		typ, err := s.destinationType(n, insn)
		if err != nil {
			return err
		}
		out = n.Registers()
		out[dest] = typ
		if wide {
			out[dest+1] = nonReferenceType
		}
	}

	for _, succ := range n.Successors {
		if err := s.mergeInto(succ, out); err != nil {
			return err
		}
	}
	return nil
}

// mergeInto joins in into the register types on entry to succ, queueing succ for propagation
// if anything changed. An odexed successor is queued for resolution and, if the type of its
// object register changed, its previous resolution is discarded.
func (s *analysis) mergeInto(succ *Node, in []RegisterType) error {
	objReg := -1
	if succ.Insn.Opcode.IsQuick() {
		if r, ok := succ.Insn.ObjectRegister(); ok {
			objReg = int(r)
		}
	}

	var changed, objChanged bool
	for r := range succ.regs {
		merged, err := succ.regs[r].Merge(in[r], s.oracle)
		if err != nil {
			return fmt.Errorf("failed to merge v%d into %#x: %w", r, succ.Address, err)
		}
		if merged != succ.regs[r] {
			succ.regs[r] = merged
			changed = true
			if r == objReg {
				objChanged = true
			}
		}
	}
	if !changed {
		return nil
	}

	s.work.push(succ, propagate)
	if succ.Insn.Opcode.NeedsResolution() && !succ.Dead {
		if objChanged && succ.Fixed != nil {
			log.WithFields(log.Fields{
				"method":  s.method.Name,
				"address": fmt.Sprintf("%#x", succ.Address),
				"type":    succ.regs[objReg].String(),
			}).Debug("Object register changed, resolving again")
			succ.Fixed = nil
		}
		s.work.push(succ, resolve)
	}
	return nil
}

func (s *analysis) destinationType(n *Node, insn *dalvik.Instruction) (RegisterType, error) {
	switch insn.Opcode {
	case dalvik.Move, dalvik.MoveFrom16, dalvik.Move16,
		dalvik.MoveObject, dalvik.MoveObjectFrom16, dalvik.MoveObject16:
		if err := s.checkRegister(n, int(insn.B)); err != nil {
			return RegisterType{}, err
		}
		return n.regs[insn.B], nil
	case dalvik.MoveResult, dalvik.MoveResultWide, dalvik.MoveResultObject:
		return s.resultType(n, insn)
	case dalvik.MoveException:
		return s.exceptionType(n)
	case dalvik.Const4, dalvik.Const16, dalvik.Const, dalvik.ConstHigh16:
		if insn.Literal == 0 {
			return nullType, nil
		}
		return nonReferenceType, nil
	case dalvik.ConstString, dalvik.ConstStringJumbo:
		return NewReference(dalvik.StringType), nil
	case dalvik.ConstClass:
		return NewReference(dalvik.ClassType), nil
	case dalvik.CheckCast, dalvik.NewInstance, dalvik.NewArray:
		return NewReference(insn.Ref), nil
	case dalvik.AgetObject:
		if err := s.checkRegister(n, int(insn.B)); err != nil {
			return RegisterType{}, err
		}
		arr := n.regs[insn.B]
		if arr.Category == Null {
			return nullType, nil
		}
		if arr.Category == Reference && dalvik.IsArray(arr.Type) {
			return typeOf(arr.Type[1:]), nil
		}
		return NewReference(""), nil
	case dalvik.IgetObject, dalvik.SgetObject, dalvik.IgetObjectVolatile:
		if insn.Ref == "" {
			return NewReference(""), nil
		}
		f, err := dalvik.ParseField(insn.Ref)
		if err != nil {
			return RegisterType{}, fmt.Errorf("%w: %s at %#x: %w", ErrMalformed, insn.Opcode, n.Address, err)
		}
		return typeOf(f.Type), nil
	case dalvik.IgetObjectQuick:
		// not resolved yet
		return NewReference(""), nil
	}
	return nonReferenceType, nil
}

// resultType types a move-result from the instruction immediately before it
func (s *analysis) resultType(n *Node, insn *dalvik.Instruction) (RegisterType, error) {
	if n.Index == 0 {
		return RegisterType{}, fmt.Errorf("%w: %s is the first instruction", ErrMalformed, insn.Opcode)
	}
	prev := s.g.Nodes[n.Index-1].Instruction()
	if prev.IsPayload() || !prev.Opcode.Has(dalvik.SetsResult) {
		return RegisterType{}, fmt.Errorf("%w: %s at %#x does not follow an invoke or filled-new-array", ErrMalformed, insn.Opcode, n.Address)
	}
	if insn.Opcode != dalvik.MoveResultObject {
		return nonReferenceType, nil
	}

	switch {
	case prev.IsUnresolvedNullReference() || prev.Ref == "":
		return NewReference(""), nil
	case prev.Opcode == dalvik.FilledNewArray || prev.Opcode == dalvik.FilledNewArrayRange:
		return typeOf(prev.Ref), nil
	case prev.Opcode.IsInvoke():
		m, err := dalvik.ParseMethod(prev.Ref)
		if err != nil {
			return RegisterType{}, fmt.Errorf("%w: %s at %#x: %w", ErrMalformed, prev.Opcode, n.Address-prev.Size(), err)
		}
		return typeOf(m.Return), nil
	}
	// odexed invoke that is not resolved yet
	return NewReference(""), nil
}

// exceptionType joins the exception types of every handler starting at n. A catch-all
// handler catches everything, so it always yields Throwable.
func (s *analysis) exceptionType(n *Node) (RegisterType, error) {
	types, catchAll := s.g.handlerTypes(n.Address)
	if catchAll {
		return NewReference(dalvik.ThrowableType), nil
	}
	if len(types) == 0 {
		return RegisterType{}, fmt.Errorf("%w: move-exception at %#x is not an exception handler", ErrMalformed, n.Address)
	}
	typ := NewReference(types[0])
	for _, t := range types[1:] {
		var err error
		if typ, err = typ.Merge(NewReference(t), s.oracle); err != nil {
			return RegisterType{}, fmt.Errorf("failed to type move-exception at %#x: %w", n.Address, err)
		}
	}
	return typ, nil
}
