package deodex

import (
	"fmt"

	"github.com/apex/log"
	"github.com/blacktop/deodex/pkg/classpath"
	"github.com/blacktop/deodex/pkg/dalvik"
)

type fieldFamily uint8

const (
	numericField fieldFamily = iota
	wideField
	objectField
)

func familyOf(typ string) (fieldFamily, bool) {
	if typ == "" {
		return 0, false
	}
	switch typ[0] {
	case 'Z', 'B', 'S', 'C', 'I', 'F':
		return numericField, true
	case 'J', 'D':
		return wideField, true
	case 'L', '[':
		return objectField, true
	}
	return 0, false
}

var quickFields = map[dalvik.Opcode]struct {
	family fieldFamily
	op     dalvik.Opcode
}{
	dalvik.IgetQuick:       {numericField, dalvik.Iget},
	dalvik.IgetWideQuick:   {wideField, dalvik.IgetWide},
	dalvik.IgetObjectQuick: {objectField, dalvik.IgetObject},
	dalvik.IputQuick:       {numericField, dalvik.Iput},
	dalvik.IputWideQuick:   {wideField, dalvik.IputWide},
	dalvik.IputObjectQuick: {objectField, dalvik.IputObject},
}

var quickMethods = map[dalvik.Opcode]dalvik.Opcode{
	dalvik.InvokeVirtualQuick:    dalvik.InvokeVirtual,
	dalvik.InvokeVirtualQuickRng: dalvik.InvokeVirtualRange,
	dalvik.InvokeSuperQuick:      dalvik.InvokeSuper,
	dalvik.InvokeSuperQuickRng:   dalvik.InvokeSuperRange,
}

// fieldOpcode picks the symbolic field access for a quick field access of a field of type typ.
// Sub-word fields collapse to the plain 32-bit access.
func fieldOpcode(quick dalvik.Opcode, typ string) (dalvik.Opcode, error) {
	q, ok := quickFields[quick]
	if !ok {
		return 0, fmt.Errorf("%s is not a quick field access", quick)
	}
	fam, ok := familyOf(typ)
	if !ok {
		return 0, fmt.Errorf("%w: invalid field type %q", classpath.ErrHierarchy, typ)
	}
	if fam != q.family {
		return 0, fmt.Errorf("%w: %s cannot access a field of type %s", classpath.ErrHierarchy, quick, typ)
	}
	return q.op, nil
}

// resolve rewrites an odexed node into its symbolic form. Quick accesses whose object register
// has no known reference type yet are left for a later visit.
func (s *analysis) resolve(n *Node) error {
	if n.Dead || n.Fixed != nil || !n.Insn.Opcode.NeedsResolution() {
		return nil
	}
	insn := n.Insn

	var fixed *dalvik.Instruction
	switch insn.Opcode {
	case dalvik.InvokeDirectEmpty:
		fixed = insn.Resolved(dalvik.InvokeDirect, insn.Ref)
	case dalvik.ExecuteInline, dalvik.ExecuteInlineRange:
		var err error
		if fixed, err = s.resolveInline(n); err != nil {
			return err
		}
	default:
		reg, ok := insn.ObjectRegister()
		if !ok {
			return fmt.Errorf("%w: %s at %#x has no object register", ErrMalformed, insn.Opcode, n.Address)
		}
		if err := s.checkRegister(n, int(reg)); err != nil {
			return err
		}
		obj := n.regs[reg]
		switch {
		case obj.Category == Null:
			s.resolveNull(n, reg)
			return nil
		case obj.Category != Reference || obj.Type == "":
			log.WithFields(log.Fields{
				"method":  s.method.Name,
				"address": fmt.Sprintf("%#x", n.Address),
				"type":    obj.String(),
			}).Debugf("Cannot resolve %s yet", insn.Opcode)
			return nil
		}
		var err error
		if _, isField := quickFields[insn.Opcode]; isField {
			fixed, err = s.resolveField(n, obj.Type)
		} else {
			fixed, err = s.resolveMethod(n, obj.Type)
		}
		if err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"method":  s.method.Name,
		"address": fmt.Sprintf("%#x", n.Address),
	}).Debugf("Resolved %s to %s", insn.Opcode, fixed)

	n.Fixed = fixed
	s.changes++
	// the destination type may have changed, as may the type of a following move-result
	s.work.push(n, propagate)
	if fixed.Opcode.Has(dalvik.SetsResult) && n.Index+1 < len(s.g.Nodes) {
		if next := s.g.Nodes[n.Index+1]; !next.Dead {
			s.work.push(next, propagate)
		}
	}
	return nil
}

// resolveNull replaces an access through an always-null register, which can only throw
func (s *analysis) resolveNull(n *Node, reg uint16) {
	log.WithFields(log.Fields{
		"method":   s.method.Name,
		"address":  fmt.Sprintf("%#x", n.Address),
		"register": fmt.Sprintf("v%d", reg),
	}).Debugf("%s through a null reference", n.Insn.Opcode)

	n.Fixed = dalvik.NewUnresolvedNullReference(n.Insn, reg)
	s.changes++
	s.changes += s.propagateDeadness(n)
}

func (s *analysis) resolveField(n *Node, typ string) (*dalvik.Instruction, error) {
	f, err := classpath.FieldAt(s.oracle, typ, n.Insn.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s at %#x: %w", n.Insn.Opcode, n.Address, err)
	}
	op, err := fieldOpcode(n.Insn.Opcode, f.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s at %#x: %w", n.Insn.Opcode, n.Address, err)
	}
	ref := dalvik.FieldRef{Class: typ, Name: f.Name, Type: f.Type}
	return n.Insn.Resolved(op, ref.String()), nil
}

func (s *analysis) resolveMethod(n *Node, typ string) (*dalvik.Instruction, error) {
	op := quickMethods[n.Insn.Opcode]
	lookup := typ
	isSuper := op == dalvik.InvokeSuper || op == dalvik.InvokeSuperRange
	if isSuper {
		super, err := s.oracle.Superclass(s.ref.Class)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s at %#x: %w", n.Insn.Opcode, n.Address, err)
		}
		if super != "" {
			lookup = super
		}
	}
	sig, err := classpath.VirtualMethodAt(s.oracle, lookup, n.Insn.Index)
	if err != nil && isSuper && lookup != s.ref.Class {
		// the superclass vtable may not have the slot, retry on the declaring class
		lookup = s.ref.Class
		sig, err = classpath.VirtualMethodAt(s.oracle, lookup, n.Insn.Index)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s at %#x: %w", n.Insn.Opcode, n.Address, err)
	}
	return n.Insn.Resolved(op, lookup+"->"+sig), nil
}

func (s *analysis) resolveInline(n *Node) (*dalvik.Instruction, error) {
	if s.inline == nil {
		return nil, fmt.Errorf("%s at %#x: no inline method table", n.Insn.Opcode, n.Address)
	}
	m, err := s.inline.Resolve(n.Insn.Index, len(n.Insn.Args))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s at %#x: %w", n.Insn.Opcode, n.Address, err)
	}
	isRange := n.Insn.Opcode == dalvik.ExecuteInlineRange
	var op dalvik.Opcode
	switch m.Kind {
	case classpath.InlineVirtual:
		op = dalvik.InvokeVirtual
	case classpath.InlineDirect:
		op = dalvik.InvokeDirect
	case classpath.InlineStatic:
		op = dalvik.InvokeStatic
	default:
		return nil, fmt.Errorf("invalid inline method kind %s", m.Kind)
	}
	if isRange {
		op += dalvik.InvokeVirtualRange - dalvik.InvokeVirtual
	}
	return n.Insn.Resolved(op, m.Method), nil
}
