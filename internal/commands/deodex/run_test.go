package deodex

import (
	"context"
	"strings"
	"testing"

	"github.com/blacktop/deodex/pkg/classpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testClasses = `
classes:
  - name: Ljava/lang/Object;
    virtual_methods: [hashCode()I, toString()Ljava/lang/String;]
  - name: Ljava/lang/Throwable;
    super: Ljava/lang/Object;
  - name: Lcom/Foo;
    super: Ljava/lang/Object;
    instance_fields: ["bar:I"]
`

const testBundle = `
odex_version: 36
pool:
  strings: [hello]
  types: [Lcom/Foo;]
methods:
  - method: Lcom/Foo;->get()I
    registers: 2
    code: "10f2 0008 000f"
  - method: Lcom/Foo;->s(I)I
    static: true
    registers: 2
    code: "10f2 0008 000f"
  - method: Lcom/Foo;->broken()V
    registers: 1
    code: "10f2"
  - method: Lcom/Foo;->guarded()V
    registers: 2
    code: "000e"
    tries:
      - start: 0
        count: 1
        catch_all: 0
`

func testOracle(t *testing.T) *classpath.ClassPath {
	t.Helper()
	defs, err := classpath.ParseDefinitions([]byte(testClasses))
	require.NoError(t, err)
	cp, err := classpath.New(defs.Classes, nil)
	require.NoError(t, err)
	return cp
}

func TestParseBundle(t *testing.T) {
	b, err := ParseBundle([]byte(testBundle))
	require.NoError(t, err)
	assert.Equal(t, 36, b.OdexVersion)
	require.Len(t, b.Methods, 4)

	m, err := b.Method(0)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x10f2, 0x0008, 0x000f}, m.Code)
	assert.Equal(t, uint16(2), m.Registers)
	assert.False(t, m.Static)

	guarded, err := b.Method(3)
	require.NoError(t, err)
	require.Len(t, guarded.Tries, 1)
	require.NotNil(t, guarded.Tries[0].CatchAll)
	assert.Equal(t, uint32(0), *guarded.Tries[0].CatchAll)

	_, err = b.Method(4)
	assert.Error(t, err)

	s, err := b.Pool.String(0)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
	_, err = b.Pool.Method(0)
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	b, err := ParseBundle([]byte(testBundle))
	require.NoError(t, err)
	inline, err := InlineResolver(testOracle(t), b.OdexVersion)
	require.NoError(t, err)

	r, err := Run(context.Background(), b, &Config{
		Oracle:  testOracle(t),
		Inline:  inline,
		Workers: 2,
	})
	require.NoError(t, err)

	require.NotNil(t, r.Results[0])
	assert.Equal(t, "iget v0, v1, Lcom/Foo;->bar:I", r.Results[0].Lines[0].Instruction)
	assert.False(t, r.Results[0].Incomplete)

	// the receiver of the static method is an int
	require.NotNil(t, r.Results[1])
	assert.True(t, r.Results[1].Incomplete)

	assert.Nil(t, r.Results[2])
	assert.Error(t, r.Errors[2])

	assert.Equal(t, 1, r.Resolved)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Incomplete)
	assert.Equal(t, []string{"could not fully deodex the method Lcom/Foo;->s(I)I"}, r.Warnings)
}

func TestRunAllFailed(t *testing.T) {
	b, err := ParseBundle([]byte(testBundle))
	require.NoError(t, err)
	b.Methods = b.Methods[2:3]

	var progress strings.Builder
	r, err := Run(context.Background(), b, &Config{Oracle: testOracle(t), Workers: 1, Progress: &progress})
	assert.ErrorIs(t, err, ErrAllFailed)
	require.NotNil(t, r)
	assert.Equal(t, 1, r.Failed)
}

func TestRunCanceled(t *testing.T) {
	b, err := ParseBundle([]byte(testBundle))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Run(ctx, b, &Config{Oracle: testOracle(t), Workers: 1})
	assert.ErrorIs(t, err, context.Canceled)
}
