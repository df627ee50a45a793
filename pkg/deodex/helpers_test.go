package deodex

import (
	"fmt"
	"testing"

	"github.com/blacktop/deodex/pkg/classpath"
	"github.com/blacktop/deodex/pkg/dalvik"
	"github.com/stretchr/testify/require"
)

const testHierarchy = `
classes:
  - name: Ljava/lang/Object;
    virtual_methods:
      - equals(Ljava/lang/Object;)Z
      - hashCode()I
      - toString()Ljava/lang/String;
  - name: Ljava/lang/String;
    super: Ljava/lang/Object;
    virtual_methods: [length()I]
    instance_fields: ["count:I"]
  - name: Ljava/lang/Throwable;
    super: Ljava/lang/Object;
  - name: Ljava/lang/Exception;
    super: Ljava/lang/Throwable;
  - name: Ljava/lang/RuntimeException;
    super: Ljava/lang/Exception;
  - name: Ljava/lang/IllegalStateException;
    super: Ljava/lang/RuntimeException;
  - name: Ljava/lang/IllegalArgumentException;
    super: Ljava/lang/RuntimeException;
  - name: Lcom/Foo;
    super: Ljava/lang/Object;
    virtual_methods: [getName()Ljava/lang/String;, run()V]
    instance_fields: ["bar:I", "name:Ljava/lang/String;", "big:J", "flag:Z"]
  - name: Lcom/Bar;
    super: Lcom/Foo;
    virtual_methods: [run()V]
  - name: Lcom/Qux;
    super: Lcom/Foo;
    virtual_methods: [stop()V]
`

func loadTestClassPath(t *testing.T) *classpath.ClassPath {
	t.Helper()
	defs, err := classpath.ParseDefinitions([]byte(testHierarchy))
	require.NoError(t, err)
	cp, err := classpath.New(defs.Classes, nil)
	require.NoError(t, err)
	return cp
}

func fieldOffset(t *testing.T, o classpath.Oracle, typ, name string) uint32 {
	t.Helper()
	fields, err := o.InstanceFields(typ)
	require.NoError(t, err)
	for _, f := range fields {
		if f.Name == name {
			return f.Offset
		}
	}
	t.Fatalf("%s has no field %s", typ, name)
	return 0
}

// countingOracle records how often the member tables are queried
type countingOracle struct {
	*classpath.ClassPath
	fieldQueries  int
	vtableQueries int
}

func (o *countingOracle) InstanceFields(typ string) ([]classpath.Field, error) {
	o.fieldQueries++
	return o.ClassPath.InstanceFields(typ)
}

func (o *countingOracle) VirtualMethods(typ string) ([]string, error) {
	o.vtableQueries++
	return o.ClassPath.VirtualMethods(typ)
}

type testPool struct {
	strings, types, fields, methods []string
}

func lookup(kind string, items []string, idx uint32) (string, error) {
	if int(idx) >= len(items) {
		return "", fmt.Errorf("%s index %d out of range", kind, idx)
	}
	return items[idx], nil
}

func (p *testPool) String(idx uint32) (string, error) { return lookup("string", p.strings, idx) }
func (p *testPool) Type(idx uint32) (string, error)   { return lookup("type", p.types, idx) }
func (p *testPool) Field(idx uint32) (string, error)  { return lookup("field", p.fields, idx) }
func (p *testPool) Method(idx uint32) (string, error) { return lookup("method", p.methods, idx) }

func op(t *testing.T, name string) dalvik.Opcode {
	t.Helper()
	o, ok := dalvik.Lookup(name)
	if !ok {
		t.Fatalf("unknown opcode %s", name)
	}
	return o
}

func ins(o dalvik.Opcode) *dalvik.Instruction {
	return &dalvik.Instruction{Opcode: o, Format: o.Format()}
}

func regs(o dalvik.Opcode, a, b uint16) *dalvik.Instruction {
	i := ins(o)
	i.A, i.B = a, b
	return i
}

func const4(a uint16, lit int64) *dalvik.Instruction {
	i := ins(dalvik.Const4)
	i.A, i.Literal = a, lit
	return i
}

func branch(o dalvik.Opcode, a uint16, target int32) *dalvik.Instruction {
	i := ins(o)
	i.A, i.Target = a, target
	return i
}

func quickField(o dalvik.Opcode, a, obj uint16, offset uint32) *dalvik.Instruction {
	i := ins(o)
	i.A, i.B, i.Index = a, obj, offset
	return i
}

func invoke(o dalvik.Opcode, index uint32, args ...uint16) *dalvik.Instruction {
	i := ins(o)
	i.Index, i.Args = index, args
	return i
}

func assemble(t *testing.T, insns ...*dalvik.Instruction) []uint16 {
	t.Helper()
	code, err := dalvik.Assemble(insns...)
	require.NoError(t, err)
	return code
}

func deodex(t *testing.T, o classpath.Oracle, m *Method) *Result {
	t.Helper()
	inline, err := classpath.NewInlineResolver(36)
	require.NoError(t, err)
	res, err := NewAnalyzer(o, inline).Deodex(m)
	require.NoError(t, err)
	return res
}
