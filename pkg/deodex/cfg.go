package deodex

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/blacktop/deodex/pkg/dalvik"
)

// ErrMalformed is returned for method bodies whose control flow cannot be reconstructed
var ErrMalformed = errors.New("malformed method")

// Handler is a typed exception handler of a try region
type Handler struct {
	Type    string `json:"type" yaml:"type"`
	Address uint32 `json:"address" yaml:"address"`
}

// Try is a region of code covered by exception handlers. Start and Count are in code units.
type Try struct {
	Start    uint32    `json:"start" yaml:"start"`
	Count    uint32    `json:"count" yaml:"count"`
	Handlers []Handler `json:"handlers,omitempty" yaml:"handlers,omitempty"`
	CatchAll *uint32   `json:"catch_all,omitempty" yaml:"catch_all,omitempty"`
}

// End returns the first address past the region
func (t Try) End() uint32 {
	return t.Start + t.Count
}

// Method is a single method body to deodex
type Method struct {
	Name      string // full method reference, e.g. Lcom/Foo;->bar(I)V
	Static    bool
	Registers uint16
	Code      []uint16
	Tries     []Try
	Pool      dalvik.Pool
}

// Node is one instruction of a method's control-flow graph. Register types are the types on
// entry to the instruction.
type Node struct {
	Index   int
	Address uint32
	Insn    *dalvik.Instruction
	// Fixed is the resolved replacement of an odexed instruction
	Fixed *dalvik.Instruction
	Dead  bool

	Successors   []*Node
	Predecessors []*Node
	// Handlers are the handler entries control reaches if this instruction throws
	Handlers []*Node

	entry bool
	regs  []RegisterType
}

// Instruction returns the resolved instruction if there is one, otherwise the decoded one
func (n *Node) Instruction() *dalvik.Instruction {
	if n.Fixed != nil {
		return n.Fixed
	}
	return n.Insn
}

// IsEntry reports whether control can reach the node directly from the start of the method
func (n *Node) IsEntry() bool {
	return n.entry
}

// Register returns the type of register r on entry to the instruction
func (n *Node) Register(r int) RegisterType {
	if r < 0 || r >= len(n.regs) {
		return unknownType
	}
	return n.regs[r]
}

// Registers returns a copy of the register types on entry to the instruction
func (n *Node) Registers() []RegisterType {
	return append([]RegisterType(nil), n.regs...)
}

// Pending reports whether the node is an odexed instruction that is neither resolved nor dead
func (n *Node) Pending() bool {
	return n.Insn.Opcode.NeedsResolution() && !n.Insn.IsPayload() && n.Fixed == nil && !n.Dead
}

func (n *Node) hasPredecessor(p *Node) bool {
	for _, pred := range n.Predecessors {
		if pred == p {
			return true
		}
	}
	return false
}

func (n *Node) String() string {
	return fmt.Sprintf("%#04x: %s", n.Address, n.Instruction())
}

// Graph is the control-flow graph of a method
type Graph struct {
	Nodes []*Node
	// Entries are the nodes reachable from the start of the method without executing anything
	Entries   []*Node
	Registers int
	End       uint32 // size of the code in code units

	tries []Try
}

// NodeAt returns the node starting at the given address
func (g *Graph) NodeAt(addr uint32) (*Node, bool) {
	i := sort.Search(len(g.Nodes), func(i int) bool {
		return g.Nodes[i].Address >= addr
	})
	if i < len(g.Nodes) && g.Nodes[i].Address == addr {
		return g.Nodes[i], true
	}
	return nil, false
}

func (g *Graph) target(n *Node, offset int32) (*Node, error) {
	addr := int64(n.Address) + int64(offset)
	if addr < 0 || addr >= int64(g.End) {
		return nil, fmt.Errorf("%w: %s at %#x targets %#x outside of the method", ErrMalformed, n.Insn.Opcode, n.Address, addr)
	}
	t, ok := g.NodeAt(uint32(addr))
	if !ok {
		return nil, fmt.Errorf("%w: %s at %#x targets %#x which is not an instruction", ErrMalformed, n.Insn.Opcode, n.Address, addr)
	}
	return t, nil
}

// handlerTypes returns the exception types caught by handlers starting at addr
func (g *Graph) handlerTypes(addr uint32) (types []string, catchAll bool) {
	for _, t := range g.tries {
		for _, h := range t.Handlers {
			if h.Address == addr {
				types = append(types, h.Type)
			}
		}
		if t.CatchAll != nil && *t.CatchAll == addr {
			catchAll = true
		}
	}
	return types, catchAll
}

// BuildGraph decodes a method body and links its reachable instructions into a control-flow graph.
// Instructions that cannot be reached from the start of the method are marked dead.
func BuildGraph(m *Method) (*Graph, error) {
	insns, err := dalvik.Decode(m.Code, m.Pool)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(insns) == 0 {
		return nil, fmt.Errorf("%w: no instructions", ErrMalformed)
	}

	g := &Graph{
		Nodes:     make([]*Node, len(insns)),
		Registers: int(m.Registers),
		tries:     m.Tries,
	}
	for i, insn := range insns {
		g.Nodes[i] = &Node{
			Index:   i,
			Address: g.End,
			Insn:    insn,
			regs:    make([]RegisterType, m.Registers),
		}
		g.End += insn.Size()
	}

	if err := g.assignHandlers(); err != nil {
		return nil, err
	}
	if err := g.link(); err != nil {
		return nil, err
	}
	return g, nil
}

// assignHandlers gives every covered instruction that can throw the handlers of its try region,
// typed handlers in declaration order followed by the catch-all.
func (g *Graph) assignHandlers() error {
	for _, t := range g.tries {
		if t.Count == 0 {
			return fmt.Errorf("%w: empty try region at %#x", ErrMalformed, t.Start)
		}
		if _, ok := g.NodeAt(t.Start); !ok {
			return fmt.Errorf("%w: try region starts at %#x which is not an instruction", ErrMalformed, t.Start)
		}
		if end := t.End(); end != g.End {
			if _, ok := g.NodeAt(end); !ok {
				return fmt.Errorf("%w: try region ends at %#x which is not an instruction", ErrMalformed, end)
			}
		}

		var handlers []*Node
		addHandler := func(addr uint32) error {
			h, ok := g.NodeAt(addr)
			if !ok || h.Insn.IsPayload() {
				return fmt.Errorf("%w: exception handler at %#x is not an instruction", ErrMalformed, addr)
			}
			handlers = append(handlers, h)
			return nil
		}
		for _, h := range t.Handlers {
			if err := addHandler(h.Address); err != nil {
				return err
			}
		}
		if t.CatchAll != nil {
			if err := addHandler(*t.CatchAll); err != nil {
				return err
			}
		}

		for _, n := range g.Nodes {
			if n.Address < t.Start || n.Address >= t.End() {
				continue
			}
			// the first region listed wins for overlapping regions
			if n.Handlers == nil && n.Insn.CanThrow() {
				n.Handlers = handlers
			}
		}
	}
	return nil
}

type linker struct {
	g       *Graph
	seen    *bitset.BitSet
	pending *bitset.BitSet
}

func (l *linker) visit(n *Node) {
	if !l.seen.Test(uint(n.Index)) {
		l.seen.Set(uint(n.Index))
		l.pending.Set(uint(n.Index))
	}
}

// addEntry marks n as reachable from the start of the method, along with its handlers
func (l *linker) addEntry(n *Node, exceptional bool) error {
	if n.entry {
		return nil
	}
	if !exceptional && n.Insn.Opcode == dalvik.MoveException {
		return fmt.Errorf("%w: the first instruction is move-exception", ErrMalformed)
	}
	n.entry = true
	l.g.Entries = append(l.g.Entries, n)
	l.visit(n)
	for _, h := range n.Handlers {
		if err := l.addEntry(h, true); err != nil {
			return err
		}
	}
	return nil
}

// addEdge links pred to succ. If succ can throw, pred is also linked to succ's handlers since
// the exception is raised with the registers as pred left them.
func (l *linker) addEdge(pred, succ *Node, exceptional bool) error {
	if !exceptional && succ.Insn.Opcode == dalvik.MoveException {
		return fmt.Errorf("%w: %s at %#x falls through to move-exception at %#x", ErrMalformed, pred.Insn.Opcode, pred.Address, succ.Address)
	}
	if succ.hasPredecessor(pred) {
		return nil
	}
	pred.Successors = append(pred.Successors, succ)
	succ.Predecessors = append(succ.Predecessors, pred)
	l.visit(succ)

	for _, h := range succ.Handlers {
		if err := l.addEdge(pred, h, true); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) link() error {
	l := &linker{
		g:       g,
		seen:    bitset.New(uint(len(g.Nodes))),
		pending: bitset.New(uint(len(g.Nodes))),
	}
	if err := l.addEntry(g.Nodes[0], false); err != nil {
		return err
	}

	for i, ok := l.pending.NextSet(0); ok; i, ok = l.pending.NextSet(0) {
		l.pending.Clear(i)
		n := g.Nodes[i]
		succs, err := g.successors(n)
		if err != nil {
			return err
		}
		for _, s := range succs {
			if err := l.addEdge(n, s, false); err != nil {
				return err
			}
		}
	}

	for _, n := range g.Nodes {
		if !l.seen.Test(uint(n.Index)) && !n.Insn.IsPayload() {
			n.Dead = true
		}
	}
	return nil
}

// successors returns the normal (non-exceptional) successors of n: fall-through first, then
// branch and switch targets.
func (g *Graph) successors(n *Node) ([]*Node, error) {
	insn := n.Insn
	if insn.IsPayload() {
		return nil, fmt.Errorf("%w: execution reaches %s data at %#x", ErrMalformed, insn.Format, n.Address)
	}

	var succs []*Node
	if insn.CanContinue() {
		if n.Index+1 >= len(g.Nodes) {
			return nil, fmt.Errorf("%w: execution can continue past the last instruction", ErrMalformed)
		}
		succs = append(succs, g.Nodes[n.Index+1])
	}

	switch insn.Opcode {
	case dalvik.Goto, dalvik.Goto16, dalvik.Goto32,
		dalvik.IfEq, dalvik.IfNe, dalvik.IfLt, dalvik.IfGe, dalvik.IfGt, dalvik.IfLe,
		dalvik.IfEqz, dalvik.IfNez, dalvik.IfLtz, dalvik.IfGez, dalvik.IfGtz, dalvik.IfLez:
		t, err := g.target(n, insn.Target)
		if err != nil {
			return nil, err
		}
		succs = append(succs, t)
	case dalvik.PackedSwitch, dalvik.SparseSwitch:
		want := dalvik.FormatPackedSwitchPayload
		if insn.Opcode == dalvik.SparseSwitch {
			want = dalvik.FormatSparseSwitchPayload
		}
		payload, err := g.payload(n, want)
		if err != nil {
			return nil, err
		}
		for _, off := range payload.Insn.Payload.Targets {
			t, err := g.target(n, off)
			if err != nil {
				return nil, err
			}
			succs = append(succs, t)
		}
	case dalvik.FillArrayData:
		if _, err := g.payload(n, dalvik.FormatArrayPayload); err != nil {
			return nil, err
		}
	}

	for _, s := range succs {
		if s.Insn.IsPayload() {
			return nil, fmt.Errorf("%w: %s at %#x continues into %s data at %#x", ErrMalformed, insn.Opcode, n.Address, s.Insn.Format, s.Address)
		}
	}
	return succs, nil
}

func (g *Graph) payload(n *Node, want dalvik.Format) (*Node, error) {
	addr := int64(n.Address) + int64(n.Insn.Target)
	if addr >= 0 && addr < int64(g.End) {
		if p, ok := g.NodeAt(uint32(addr)); ok && p.Insn.Format == want {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s at %#x does not point at %s data", ErrMalformed, n.Insn.Opcode, n.Address, want)
}
