package classpath

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHierarchy = `
classes:
  - name: Ljava/lang/Object;
    virtual_methods:
      - equals(Ljava/lang/Object;)Z
      - hashCode()I
      - toString()Ljava/lang/String;
  - name: Ljava/lang/Cloneable;
    super: Ljava/lang/Object;
    interface: true
  - name: Ljava/io/Serializable;
    super: Ljava/lang/Object;
    interface: true
  - name: Ljava/lang/Runnable;
    super: Ljava/lang/Object;
    interface: true
    virtual_methods: [run()V]
  - name: Ljava/lang/CharSequence;
    super: Ljava/lang/Object;
    interface: true
  - name: Ljava/lang/String;
    super: Ljava/lang/Object;
    interfaces: [Ljava/io/Serializable;, Ljava/lang/CharSequence;]
    virtual_methods:
      - charAt(I)C
      - length()I
      - toString()Ljava/lang/String;
    instance_fields: ["value:[C", "hashCode:I", "offset:I", "count:I"]
  - name: Ljava/lang/Throwable;
    super: Ljava/lang/Object;
    interfaces: [Ljava/io/Serializable;]
    virtual_methods: [getMessage()Ljava/lang/String;]
    instance_fields: ["detailMessage:Ljava/lang/String;"]
  - name: Ljava/lang/Exception;
    super: Ljava/lang/Throwable;
  - name: Ljava/lang/RuntimeException;
    super: Ljava/lang/Exception;
  - name: Ljava/lang/IllegalStateException;
    super: Ljava/lang/RuntimeException;
  - name: Ljava/io/IOException;
    super: Ljava/lang/Exception;
  - name: Lcom/Foo;
    super: Ljava/lang/Object;
    interfaces: [Ljava/lang/Runnable;]
    virtual_methods: [run()V, toString()Ljava/lang/String;]
    instance_fields: ["bar:I"]
  - name: Lcom/Bar;
    super: Lcom/Foo;
    virtual_methods: [run()V, baz(J)V]
    instance_fields: ["flag:Z", "big:J", "name:Ljava/lang/String;"]
  - name: Lcom/Baz;
    super: Lcom/Foo;
  - name: Lcom/Wide;
    super: Lcom/Foo;
    instance_fields: ["a:J", "b:I"]
  - name: Lcom/Padded;
    super: Lcom/Foo;
    instance_fields: ["a:J"]
inline:
  - static Ljava/lang/Math;->abs(I)I
  - virtual Ljava/lang/String;->length()I
`

func loadTestHierarchy(t *testing.T) *ClassPath {
	t.Helper()
	defs, err := ParseDefinitions([]byte(testHierarchy))
	require.NoError(t, err)
	var inline []InlineMethod
	for _, s := range defs.Inline {
		m, err := ParseInlineMethod(s)
		require.NoError(t, err)
		inline = append(inline, m)
	}
	cp, err := New(defs.Classes, inline)
	require.NoError(t, err)
	return cp
}

var testTypes = []string{
	"Ljava/lang/Object;",
	"Ljava/lang/Cloneable;",
	"Ljava/io/Serializable;",
	"Ljava/lang/Runnable;",
	"Ljava/lang/CharSequence;",
	"Ljava/lang/String;",
	"Ljava/lang/Throwable;",
	"Ljava/lang/Exception;",
	"Ljava/lang/RuntimeException;",
	"Ljava/lang/IllegalStateException;",
	"Ljava/io/IOException;",
	"Lcom/Foo;",
	"Lcom/Bar;",
	"Lcom/Baz;",
	"Lcom/Wide;",
	"[I",
	"[J",
	"[Lcom/Foo;",
	"[Lcom/Bar;",
	"[Lcom/Baz;",
	"[[Ljava/lang/String;",
	"[Ljava/lang/Object;",
}

func TestVTable(t *testing.T) {
	cp := loadTestHierarchy(t)

	tests := []struct {
		typ  string
		want []string
	}{
		{"Ljava/lang/Object;", []string{"equals(Ljava/lang/Object;)Z", "hashCode()I", "toString()Ljava/lang/String;"}},
		{"Lcom/Foo;", []string{"equals(Ljava/lang/Object;)Z", "hashCode()I", "toString()Ljava/lang/String;", "run()V"}},
		{"Lcom/Bar;", []string{"equals(Ljava/lang/Object;)Z", "hashCode()I", "toString()Ljava/lang/String;", "run()V", "baz(J)V"}},
		{"Ljava/lang/Runnable;", []string{"equals(Ljava/lang/Object;)Z", "hashCode()I", "toString()Ljava/lang/String;"}},
		{"[Lcom/Foo;", []string{"equals(Ljava/lang/Object;)Z", "hashCode()I", "toString()Ljava/lang/String;"}},
		{"I", nil},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, err := cp.VirtualMethods(tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	bar, err := cp.Class("Lcom/Bar;")
	require.NoError(t, err)
	idx, ok := bar.VirtualMethodIndex("run()V")
	assert.True(t, ok)
	assert.Equal(t, 3, idx)
}

func TestFieldLayout(t *testing.T) {
	cp := loadTestHierarchy(t)

	tests := []struct {
		typ  string
		want []Field
	}{
		{"Lcom/Foo;", []Field{{8, "bar", "I"}}},
		// references first, then the wide field aligned to 8
		{"Lcom/Bar;", []Field{{8, "bar", "I"}, {12, "name", "Ljava/lang/String;"}, {16, "big", "J"}, {24, "flag", "Z"}}},
		// a 32-bit field is moved in front of the unaligned wide field
		{"Lcom/Wide;", []Field{{8, "bar", "I"}, {12, "b", "I"}, {16, "a", "J"}}},
		// no 32-bit field to move, so the wide field is padded
		{"Lcom/Padded;", []Field{{8, "bar", "I"}, {16, "a", "J"}}},
		{"Ljava/lang/String;", []Field{{8, "value", "[C"}, {12, "hashCode", "I"}, {16, "offset", "I"}, {20, "count", "I"}}},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, err := cp.InstanceFields(tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	f, err := FieldAt(cp, "Lcom/Bar;", 16)
	require.NoError(t, err)
	assert.Equal(t, "big:J", f.String())

	_, err = FieldAt(cp, "Lcom/Bar;", 20)
	assert.ErrorIs(t, err, ErrHierarchy)
}

func TestLayoutFieldsUnalignedStart(t *testing.T) {
	inherited := []Field{{8, "a", "I"}}
	got := layoutFields(inherited, []Field{
		{Name: "w", Type: "D"},
		{Name: "o", Type: "Ljava/lang/Object;"},
		{Name: "x", Type: "J"},
		{Name: "i", Type: "I"},
	})
	want := []Field{
		{8, "a", "I"},
		{12, "o", "Ljava/lang/Object;"},
		{16, "w", "D"},
		{24, "x", "J"},
		{32, "i", "I"},
	}
	assert.Equal(t, want, got)
}

func TestClassMetadata(t *testing.T) {
	cp := loadTestHierarchy(t)

	bar, err := cp.Class("Lcom/Bar;")
	require.NoError(t, err)
	assert.Equal(t, 2, bar.Depth)
	assert.True(t, bar.Implements("Ljava/lang/Runnable;"))
	assert.Equal(t, []string{"Ljava/lang/Runnable;"}, bar.Interfaces())

	arr, err := cp.Class("[[Lcom/Bar;")
	require.NoError(t, err)
	assert.True(t, arr.IsArray())
	assert.Equal(t, 2, arr.Dimensions)
	assert.Equal(t, 1, arr.Depth)
	assert.Equal(t, "Lcom/Bar;", arr.Element.Name)
	assert.Equal(t, []string{"Ljava/io/Serializable;", "Ljava/lang/Cloneable;"}, arr.Interfaces())

	super, err := cp.Superclass("[I")
	require.NoError(t, err)
	assert.Equal(t, "Ljava/lang/Object;", super)

	super, err = cp.Superclass("Ljava/lang/Object;")
	require.NoError(t, err)
	assert.Empty(t, super)

	super, err = cp.Superclass("J")
	require.NoError(t, err)
	assert.Empty(t, super)

	_, err = cp.Class("Lcom/Missing;")
	assert.ErrorIs(t, err, ErrClassNotFound)
	_, err = cp.Class("[Lcom/Missing;")
	assert.ErrorIs(t, err, ErrClassNotFound)

	order := cp.Classes()
	seen := make(map[string]bool)
	for _, c := range order {
		if c.Super != nil {
			assert.True(t, seen[c.Super.Name], "%s loaded before its superclass", c.Name)
		}
		seen[c.Name] = true
	}
}

func TestHierarchyValidation(t *testing.T) {
	object := ClassDef{Name: "Ljava/lang/Object;"}
	tests := []struct {
		name string
		defs []ClassDef
		want error
	}{
		{
			name: "missing object",
			defs: []ClassDef{{Name: "Lcom/A;", Super: "Lcom/B;"}, {Name: "Lcom/B;", Super: "Lcom/A;"}},
			want: ErrClassNotFound,
		},
		{
			name: "object with superclass",
			defs: []ClassDef{{Name: "Ljava/lang/Object;", Super: "Lcom/A;"}, {Name: "Lcom/A;", Super: "Ljava/lang/Object;"}},
			want: ErrHierarchy,
		},
		{
			name: "cycle",
			defs: []ClassDef{object, {Name: "Lcom/A;", Super: "Lcom/B;"}, {Name: "Lcom/B;", Super: "Lcom/A;"}},
			want: ErrHierarchy,
		},
		{
			name: "class extends interface",
			defs: []ClassDef{object, {Name: "Lcom/I;", Super: "Ljava/lang/Object;", Interface: true}, {Name: "Lcom/A;", Super: "Lcom/I;"}},
			want: ErrHierarchy,
		},
		{
			name: "interface extends class",
			defs: []ClassDef{object, {Name: "Lcom/A;", Super: "Ljava/lang/Object;"}, {Name: "Lcom/I;", Super: "Lcom/A;", Interface: true}},
			want: ErrHierarchy,
		},
		{
			name: "no superclass",
			defs: []ClassDef{object, {Name: "Lcom/A;"}},
			want: ErrHierarchy,
		},
		{
			name: "unknown superclass",
			defs: []ClassDef{object, {Name: "Lcom/A;", Super: "Lcom/Missing;"}},
			want: ErrClassNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.defs, nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}
