package deodex

import (
	"errors"
	"strings"
	"testing"

	"github.com/blacktop/deodex/pkg/classpath"
	"github.com/blacktop/deodex/pkg/dalvik"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiverTypeAtEntry(t *testing.T) {
	cp := loadTestClassPath(t)

	res := deodex(t, cp, &Method{
		Name:      "Lcom/Foo;->set(JLjava/lang/String;)V",
		Registers: 5,
		Code: assemble(t,
			const4(0, 1),
			ins(dalvik.ReturnVoid),
		),
	})

	entry := res.Graph.Nodes[0]
	assert.Equal(t, unknownType, entry.Register(0))
	assert.Equal(t, NewReference("Lcom/Foo;"), entry.Register(1))
	assert.Equal(t, nonReferenceType, entry.Register(2))
	assert.Equal(t, nonReferenceType, entry.Register(3))
	assert.Equal(t, NewReference("Ljava/lang/String;"), entry.Register(4))

	next := res.Graph.Nodes[1]
	assert.Equal(t, nonReferenceType, next.Register(0))
	assert.Equal(t, NewReference("Lcom/Foo;"), next.Register(1))

	for i, dead := range res.Dead {
		assert.False(t, dead, "instruction %d", i)
	}
	assert.False(t, res.Incomplete)
	assert.Empty(t, res.Warning())
}

func TestNullReceiver(t *testing.T) {
	oracle := &countingOracle{ClassPath: loadTestClassPath(t)}

	res := deodex(t, oracle, &Method{
		Name:      "Lcom/Foo;->nul()I",
		Static:    true,
		Registers: 2,
		Code: assemble(t,
			const4(0, 0),                          // 0x0
			quickField(dalvik.IgetQuick, 1, 0, 8), // 0x1
			regs(dalvik.Return, 1, 0),             // 0x3
		),
	})

	assert.True(t, res.Instructions[1].IsUnresolvedNullReference())
	assert.Equal(t, uint16(0), res.Instructions[1].A)
	assert.Equal(t, []bool{false, false, true}, res.Dead)
	assert.False(t, res.Incomplete)
	assert.Zero(t, oracle.fieldQueries, "a null receiver must not query the field table")

	out := res.String()
	assert.Contains(t, out, "throw v0")
	assert.Contains(t, out, "#return v1")
}

func TestMoveObjectFromParameter(t *testing.T) {
	cp := loadTestClassPath(t)
	bar := fieldOffset(t, cp, "Lcom/Foo;", "bar")

	res := deodex(t, cp, &Method{
		Name:      "Lcom/Baz;->get(Lcom/Foo;)I",
		Static:    true,
		Registers: 3,
		Code: assemble(t,
			regs(dalvik.MoveObject, 0, 2),
			quickField(dalvik.IgetQuick, 1, 0, bar),
			regs(dalvik.Return, 1, 0),
		),
	})

	got := res.Instructions[1]
	assert.Equal(t, dalvik.Iget, got.Opcode)
	assert.Equal(t, dalvik.Format22c, got.Format)
	assert.Equal(t, "Lcom/Foo;->bar:I", got.Ref)
	assert.Equal(t, "iget v1, v0, Lcom/Foo;->bar:I", got.String())
	assert.Equal(t, NewReference("Lcom/Foo;"), res.Graph.Nodes[1].Register(0))
	assert.False(t, res.Incomplete)
}

func TestCatchAllMoveException(t *testing.T) {
	cp := loadTestClassPath(t)
	div := op(t, "div-int/2addr")

	code := assemble(t,
		const4(0, 1),                     // 0x0
		regs(div, 1, 0),                  // 0x1
		ins(dalvik.ReturnVoid),           // 0x2
		regs(dalvik.MoveException, 0, 0), // 0x3
		ins(dalvik.ReturnVoid),           // 0x4
	)
	typed := []Handler{
		{Type: "Ljava/lang/IllegalStateException;", Address: 3},
		{Type: "Ljava/lang/IllegalArgumentException;", Address: 3},
	}

	tests := []struct {
		name string
		try  Try
		want RegisterType
	}{
		{"catch-all", Try{Start: 1, Count: 1, Handlers: typed[:1], CatchAll: u32p(3)}, NewReference(dalvik.ThrowableType)},
		{"typed", Try{Start: 1, Count: 1, Handlers: typed}, NewReference("Ljava/lang/RuntimeException;")},
		{"single", Try{Start: 1, Count: 1, Handlers: typed[1:]}, NewReference("Ljava/lang/IllegalArgumentException;")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := deodex(t, cp, &Method{
				Name:      "Lcom/Foo;->safe(I)V",
				Static:    true,
				Registers: 2,
				Code:      code,
				Tries:     []Try{tt.try},
			})
			assert.Equal(t, tt.want, res.Graph.Nodes[4].Register(0))
			// the handler sees v0 as it was before the division
			assert.Equal(t, nonReferenceType, res.Graph.Nodes[3].Register(0))
		})
	}
}

func TestLoopReachesFixedPoint(t *testing.T) {
	cp := loadTestClassPath(t)
	bar := fieldOffset(t, cp, "Lcom/Foo;", "bar")

	m := &Method{
		Name:      "Lcom/Baz;->loop(Lcom/Bar;Lcom/Foo;)I",
		Static:    true,
		Registers: 4,
		Code: assemble(t,
			regs(dalvik.MoveObject, 0, 2),           // 0x0
			quickField(dalvik.IgetQuick, 1, 0, bar), // 0x1
			branch(dalvik.IfEqz, 1, 4),              // 0x3 -> 0x7
			regs(dalvik.MoveObject, 0, 3),           // 0x5
			branch(dalvik.Goto, 0, -5),              // 0x6 -> 0x1
			regs(dalvik.Return, 1, 0),               // 0x7
		),
	}
	g, err := BuildGraph(m)
	require.NoError(t, err)
	s, err := NewAnalyzer(cp, nil).analyze(m, g)
	require.NoError(t, err)

	header := g.Nodes[1]
	assert.Equal(t, NewReference("Lcom/Foo;"), header.Register(0))
	assert.Equal(t, nonReferenceType, g.Nodes[5].Register(1))
	require.NotNil(t, header.Fixed)
	assert.Equal(t, "Lcom/Foo;->bar:I", header.Fixed.Ref)

	// every register can be raised at most a few times, so the number of visits is bounded
	bound := len(g.Nodes) * g.Registers * 4
	assert.LessOrEqual(t, s.work.pushes, bound)
	assert.Zero(t, s.work.len())
}

func TestDeadCodePropagation(t *testing.T) {
	cp := loadTestClassPath(t)

	t.Run("all predecessors dead", func(t *testing.T) {
		res := deodex(t, cp, &Method{
			Name:      "Lcom/Foo;->d(I)I",
			Static:    true,
			Registers: 3,
			Code: assemble(t,
				const4(0, 0),                          // 0x0
				quickField(dalvik.IgetQuick, 1, 0, 8), // 0x1 X
				branch(dalvik.IfEqz, 1, 3),            // 0x3 -> 0x6
				const4(1, 1),                          // 0x5
				regs(dalvik.Return, 1, 0),             // 0x6 Y
			),
		})
		assert.True(t, res.Instructions[1].IsUnresolvedNullReference())
		assert.Equal(t, []bool{false, false, true, true, true}, res.Dead)
	})

	t.Run("live predecessor", func(t *testing.T) {
		res := deodex(t, cp, &Method{
			Name:      "Lcom/Foo;->d(I)V",
			Static:    true,
			Registers: 3,
			Code: assemble(t,
				const4(0, 0),                          // 0x0
				branch(dalvik.IfEqz, 2, 4),            // 0x1 -> 0x5
				quickField(dalvik.IgetQuick, 1, 0, 8), // 0x3 X
				ins(dalvik.ReturnVoid),                // 0x5 Y
			),
		})
		assert.True(t, res.Instructions[2].IsUnresolvedNullReference())
		assert.Equal(t, []bool{false, false, false, false}, res.Dead)
	})

	t.Run("handler stays reachable", func(t *testing.T) {
		res := deodex(t, cp, &Method{
			Name:      "Lcom/Foo;->d()V",
			Static:    true,
			Registers: 2,
			Code: assemble(t,
				const4(0, 0),                          // 0x0
				quickField(dalvik.IputQuick, 0, 0, 8), // 0x1 X
				ins(dalvik.ReturnVoid),                // 0x3
				regs(dalvik.MoveException, 1, 0),      // 0x4
				ins(dalvik.ReturnVoid),                // 0x5
			),
			Tries: []Try{{Start: 1, Count: 2, CatchAll: u32p(4)}},
		})
		assert.True(t, res.Instructions[1].IsUnresolvedNullReference())
		assert.Equal(t, []bool{false, false, true, false, false}, res.Dead)
	})
}

func TestPropagateDeadnessNeverMarksEntries(t *testing.T) {
	g, err := BuildGraph(&Method{
		Name:      "Lcom/Foo;->f()V",
		Static:    true,
		Registers: 1,
		Code: assemble(t,
			quickField(dalvik.IputQuick, 0, 0, 8), // 0x0 X, also the loop target
			branch(dalvik.Goto, 0, -2),            // 0x2 -> 0x0
		),
	})
	require.NoError(t, err)
	s := &analysis{Analyzer: NewAnalyzer(nil, nil), method: &Method{Name: "Lcom/Foo;->f()V"}, g: g}

	assert.Equal(t, 1, s.propagateDeadness(g.Nodes[0]))
	assert.False(t, g.Nodes[0].Dead)
	assert.True(t, g.Nodes[1].Dead)
}

func TestResolveInvokes(t *testing.T) {
	cp := loadTestClassPath(t)
	count := fieldOffset(t, cp, "Ljava/lang/String;", "count")
	name := fieldOffset(t, cp, "Lcom/Foo;", "name")
	pool := &testPool{methods: []string{"Ljava/lang/Object;-><init>()V"}}

	res := deodex(t, cp, &Method{
		Name:      "Lcom/Baz;->name(Lcom/Bar;)I",
		Static:    true,
		Registers: 3,
		Pool:      pool,
		Code: assemble(t,
			invoke(dalvik.InvokeVirtualQuick, 3, 2),        // 0x0 getName
			regs(dalvik.MoveResultObject, 0, 0),            // 0x3
			quickField(dalvik.IgetQuick, 1, 0, count),      // 0x4
			invoke(dalvik.InvokeVirtualQuick, 4, 2),        // 0x6 run
			invoke(dalvik.InvokeDirectEmpty, 0, 2),         // 0x9
			quickField(dalvik.IgetObjectQuick, 0, 2, name), // 0xc
			invoke(dalvik.ExecuteInline, 6, 0),             // 0xe String.length
			regs(dalvik.MoveResult, 1, 0),                  // 0x11
			regs(dalvik.Return, 1, 0),                      // 0x12
		),
	})
	require.False(t, res.Incomplete, res.String())

	want := []string{
		"invoke-virtual {v2}, Lcom/Bar;->getName()Ljava/lang/String;",
		"move-result-object v0",
		"iget v1, v0, Ljava/lang/String;->count:I",
		"invoke-virtual {v2}, Lcom/Bar;->run()V",
		"invoke-direct {v2}, Ljava/lang/Object;-><init>()V",
		"iget-object v0, v2, Lcom/Bar;->name:Ljava/lang/String;",
		"invoke-virtual {v0}, Ljava/lang/String;->length()I",
		"move-result v1",
		"return v1",
	}
	for i, insn := range res.Instructions {
		assert.Equal(t, want[i], insn.String(), "instruction %d", i)
	}
	assert.Equal(t, NewReference("Ljava/lang/String;"), res.Graph.Nodes[2].Register(0))
	assert.Equal(t, NewReference("Ljava/lang/String;"), res.Graph.Nodes[6].Register(0))
}

func TestResolveInvokeSuper(t *testing.T) {
	cp := loadTestClassPath(t)

	res := deodex(t, cp, &Method{
		Name:      "Lcom/Bar;->run()V",
		Registers: 1,
		Code: assemble(t,
			invoke(dalvik.InvokeSuperQuick, 4, 0),
			ins(dalvik.ReturnVoid),
		),
	})
	assert.Equal(t, "invoke-super {v0}, Lcom/Foo;->run()V", res.Instructions[0].String())
}

func TestResolveInvokeSuperDeclaringClassFallback(t *testing.T) {
	cp := loadTestClassPath(t)

	// slot 5 is past the end of Lcom/Foo;'s vtable
	res := deodex(t, cp, &Method{
		Name:      "Lcom/Qux;->stop()V",
		Registers: 1,
		Code: assemble(t,
			invoke(dalvik.InvokeSuperQuick, 5, 0),
			ins(dalvik.ReturnVoid),
		),
	})
	assert.Equal(t, "invoke-super {v0}, Lcom/Qux;->stop()V", res.Instructions[0].String())
	assert.False(t, res.Incomplete)
}

func TestResolveRange(t *testing.T) {
	cp := loadTestClassPath(t)

	res := deodex(t, cp, &Method{
		Name:      "Lcom/Bar;->run()V",
		Registers: 1,
		Code: assemble(t,
			invoke(dalvik.InvokeVirtualQuickRng, 3, 0),
			regs(dalvik.MoveResultObject, 0, 0),
			invoke(dalvik.ExecuteInlineRange, 6, 0),
			ins(dalvik.ReturnVoid),
		),
	})
	require.False(t, res.Incomplete)
	assert.Equal(t, dalvik.InvokeVirtualRange, res.Instructions[0].Opcode)
	assert.Equal(t, dalvik.Format3rc, res.Instructions[0].Format)
	assert.Equal(t, "invoke-virtual/range {v0 .. v0}, Ljava/lang/String;->length()I", res.Instructions[2].String())
}

func TestFieldOpcode(t *testing.T) {
	tests := []struct {
		quick   dalvik.Opcode
		typ     string
		want    dalvik.Opcode
		wantErr bool
	}{
		{dalvik.IgetQuick, "I", dalvik.Iget, false},
		{dalvik.IgetQuick, "F", dalvik.Iget, false},
		{dalvik.IgetQuick, "Z", dalvik.Iget, false},
		{dalvik.IgetQuick, "B", dalvik.Iget, false},
		{dalvik.IgetQuick, "S", dalvik.Iget, false},
		{dalvik.IgetQuick, "C", dalvik.Iget, false},
		{dalvik.IgetQuick, "J", 0, true},
		{dalvik.IgetWideQuick, "J", dalvik.IgetWide, false},
		{dalvik.IgetWideQuick, "D", dalvik.IgetWide, false},
		{dalvik.IgetWideQuick, "Lcom/Foo;", 0, true},
		{dalvik.IgetObjectQuick, "Lcom/Foo;", dalvik.IgetObject, false},
		{dalvik.IgetObjectQuick, "[I", dalvik.IgetObject, false},
		{dalvik.IgetObjectQuick, "I", 0, true},
		{dalvik.IputQuick, "Z", dalvik.Iput, false},
		{dalvik.IputWideQuick, "D", dalvik.IputWide, false},
		{dalvik.IputObjectQuick, "[Lcom/Foo;", dalvik.IputObject, false},
		{dalvik.IputObjectQuick, "", 0, true},
	}
	for _, tt := range tests {
		got, err := fieldOpcode(tt.quick, tt.typ)
		if (err != nil) != tt.wantErr {
			t.Errorf("fieldOpcode(%s, %q) error = %v, wantErr %v", tt.quick, tt.typ, err, tt.wantErr)
			continue
		}
		if err != nil {
			if !errors.Is(err, classpath.ErrHierarchy) {
				t.Errorf("fieldOpcode(%s, %q) error = %v, want %v", tt.quick, tt.typ, err, classpath.ErrHierarchy)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("fieldOpcode(%s, %q) = %s, want %s", tt.quick, tt.typ, got, tt.want)
		}
	}
}

func TestResolverIdempotent(t *testing.T) {
	cp := loadTestClassPath(t)
	bar := fieldOffset(t, cp, "Lcom/Foo;", "bar")

	m := &Method{
		Name:      "Lcom/Baz;->mixed(Lcom/Bar;I)V",
		Static:    true,
		Registers: 4,
		Code: assemble(t,
			quickField(dalvik.IgetQuick, 0, 2, bar),
			invoke(dalvik.InvokeVirtualQuick, 4, 2),
			quickField(dalvik.IputQuick, 3, 2, bar),
			const4(1, 0),
			quickField(dalvik.IgetQuick, 0, 1, bar),
			ins(dalvik.ReturnVoid),
		),
	}
	a := NewAnalyzer(cp, nil)
	res, err := a.Deodex(m)
	require.NoError(t, err)
	before := res.String()

	changes, err := a.Analyze(m, res.Graph)
	require.NoError(t, err)
	assert.Zero(t, changes)
	assert.Equal(t, before, newResult(m, res.Graph).String())
}

func TestUnresolvableReceiver(t *testing.T) {
	cp := loadTestClassPath(t)

	tests := []struct {
		name string
		m    *Method
	}{
		{
			name: "primitive receiver",
			m: &Method{
				Name:      "Lcom/Baz;->bad(I)I",
				Static:    true,
				Registers: 2,
				Code: assemble(t,
					quickField(dalvik.IgetQuick, 0, 1, 8),
					regs(dalvik.Return, 0, 0),
				),
			},
		},
		{
			name: "conflicted receiver",
			m: &Method{
				Name:      "Lcom/Baz;->bad(ILcom/Foo;)I",
				Static:    true,
				Registers: 3,
				Code: assemble(t,
					regs(dalvik.Move, 0, 1),               // 0x0
					branch(dalvik.IfEqz, 1, 3),            // 0x1 -> 0x4
					regs(dalvik.MoveObject, 0, 2),         // 0x3
					quickField(dalvik.IgetQuick, 0, 0, 8), // 0x4
					regs(dalvik.Return, 0, 0),             // 0x6
				),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := deodex(t, cp, tt.m)
			assert.True(t, res.Incomplete)
			assert.Equal(t, "could not fully deodex the method "+tt.m.Name, res.Warning())

			var pending int
			for i, l := range res.Lines {
				if l.Pending {
					pending++
					assert.Equal(t, dalvik.IgetQuick, res.Instructions[i].Opcode, "the odexed instruction is kept")
					assert.True(t, strings.HasPrefix(l.Instruction, "iget-quick"))
				}
			}
			assert.Equal(t, 1, pending)
		})
	}
}

func TestResolveErrors(t *testing.T) {
	cp := loadTestClassPath(t)
	bar := fieldOffset(t, cp, "Lcom/Foo;", "bar")

	tests := []struct {
		name string
		code []*dalvik.Instruction
		want error
	}{
		{"missing field offset", []*dalvik.Instruction{quickField(dalvik.IgetQuick, 0, 2, 100), ins(dalvik.ReturnVoid)}, classpath.ErrHierarchy},
		{"field type mismatch", []*dalvik.Instruction{quickField(dalvik.IgetWideQuick, 0, 2, bar), ins(dalvik.ReturnVoid)}, classpath.ErrHierarchy},
		{"missing vtable slot", []*dalvik.Instruction{invoke(dalvik.InvokeVirtualQuick, 42, 2), ins(dalvik.ReturnVoid)}, classpath.ErrHierarchy},
		{"move-result without invoke", []*dalvik.Instruction{const4(0, 0), regs(dalvik.MoveResult, 0, 0), ins(dalvik.ReturnVoid)}, ErrMalformed},
		{"register out of range", []*dalvik.Instruction{const4(9, 0), ins(dalvik.ReturnVoid)}, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAnalyzer(cp, nil).Deodex(&Method{
				Name:      "Lcom/Baz;->f(Lcom/Foo;)V",
				Static:    true,
				Registers: 3,
				Code:      assemble(t, tt.code...),
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Deodex() error = %v, want %v", err, tt.want)
			}
		})
	}

	_, err := NewAnalyzer(cp, nil).Deodex(&Method{
		Name:      "Lcom/Baz;->f(Ljava/lang/String;)V",
		Static:    true,
		Registers: 1,
		Code:      assemble(t, invoke(dalvik.ExecuteInline, 6, 0), ins(dalvik.ReturnVoid)),
	})
	assert.Error(t, err, "execute-inline without an inline table")

	_, err = NewAnalyzer(cp, nil).Deodex(&Method{
		Name:      "Lcom/Baz;->f(JJ)V",
		Static:    true,
		Registers: 3,
		Code:      assemble(t, ins(dalvik.ReturnVoid)),
	})
	assert.ErrorIs(t, err, ErrMalformed, "parameters do not fit")
}

func TestWorklistOrder(t *testing.T) {
	nodes := []*Node{{Index: 0}, {Index: 1}, {Index: 2}}
	w := newWorklist(len(nodes))
	w.push(nodes[2], resolve)
	w.push(nodes[0], propagate)
	w.push(nodes[1], propagate)
	w.push(nodes[0], propagate)
	assert.Equal(t, 3, w.len())

	var got []workItem
	for {
		item, ok := w.pop()
		if !ok {
			break
		}
		got = append(got, item)
	}
	assert.Equal(t, []workItem{
		{nodes[0], propagate},
		{nodes[1], propagate},
		{nodes[2], resolve},
	}, got)

	// popped items can be queued again
	w.push(nodes[0], propagate)
	assert.Equal(t, 1, w.len())
}
