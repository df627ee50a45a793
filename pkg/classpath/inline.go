package classpath

import "fmt"

// InlineResolver maps an execute-inline index to the method it stands for.
type InlineResolver interface {
	// Resolve returns the inline method at index. registers is the number of argument registers
	// of the execute-inline instruction, used to tell apart slots that differ between builds.
	Resolve(index uint32, registers int) (InlineMethod, error)
}

type inlineTable []InlineMethod

// NewInlineTable returns a resolver backed by a fixed table, e.g. one reported by a device.
func NewInlineTable(methods []InlineMethod) InlineResolver {
	return inlineTable(methods)
}

func (t inlineTable) Resolve(index uint32, _ int) (InlineMethod, error) {
	if int(index) >= len(t) {
		return InlineMethod{}, fmt.Errorf("invalid inline method index %d (table has %d entries)", index, len(t))
	}
	return t[index], nil
}

const (
	harmonyTestTarget = "Lorg/apache/harmony/dalvik/NativeTestTarget;"
	javaString        = "Ljava/lang/String;"
	javaMath          = "Ljava/lang/Math;"
	javaFloat         = "Ljava/lang/Float;"
	javaDouble        = "Ljava/lang/Double;"
)

func inline(kind InlineKind, class, sig string) InlineMethod {
	return InlineMethod{Kind: kind, Method: class + "->" + sig}
}

var mathInlines = []InlineMethod{
	inline(InlineStatic, javaMath, "abs(I)I"),
	inline(InlineStatic, javaMath, "abs(J)J"),
	inline(InlineStatic, javaMath, "abs(F)F"),
	inline(InlineStatic, javaMath, "abs(D)D"),
	inline(InlineStatic, javaMath, "min(II)I"),
	inline(InlineStatic, javaMath, "max(II)I"),
	inline(InlineStatic, javaMath, "sqrt(D)D"),
	inline(InlineStatic, javaMath, "cos(D)D"),
	inline(InlineStatic, javaMath, "sin(D)D"),
}

var stringInlines = []InlineMethod{
	inline(InlineStatic, harmonyTestTarget, "emptyInlineMethod()V"),
	inline(InlineVirtual, javaString, "charAt(I)C"),
	inline(InlineVirtual, javaString, "compareTo(Ljava/lang/String;)I"),
	inline(InlineVirtual, javaString, "equals(Ljava/lang/Object;)Z"),
}

func version35Table() inlineTable {
	var t inlineTable
	t = append(t, stringInlines...)
	t = append(t, inline(InlineVirtual, javaString, "length()I"))
	t = append(t, mathInlines...)
	return t
}

// version36 differs between platform builds in slots 4 and 5; the argument register count
// tells them apart.
type version36 struct {
	table inlineTable
}

var (
	indexOfI    = inline(InlineVirtual, javaString, "indexOf(I)I")
	indexOfII   = inline(InlineVirtual, javaString, "indexOf(II)I")
	fastIndexOf = inline(InlineDirect, javaString, "fastIndexOf(II)I")
	isEmpty     = inline(InlineVirtual, javaString, "isEmpty()Z")
)

func newVersion36() *version36 {
	var t inlineTable
	t = append(t, stringInlines...)
	t = append(t, InlineMethod{}, InlineMethod{}) // slots 4 and 5
	t = append(t, inline(InlineVirtual, javaString, "length()I"))
	t = append(t, mathInlines...)
	t = append(t,
		inline(InlineStatic, javaFloat, "floatToIntBits(F)I"),
		inline(InlineStatic, javaFloat, "floatToRawIntBits(F)I"),
		inline(InlineStatic, javaFloat, "intBitsToFloat(I)F"),
		inline(InlineStatic, javaDouble, "doubleToLongBits(D)J"),
		inline(InlineStatic, javaDouble, "doubleToRawLongBits(D)J"),
		inline(InlineStatic, javaDouble, "longBitsToDouble(J)D"),
	)
	return &version36{table: t}
}

func (v *version36) Resolve(index uint32, registers int) (InlineMethod, error) {
	switch index {
	case 4:
		switch registers {
		case 2:
			return indexOfI, nil
		case 3:
			return fastIndexOf, nil
		}
		return InlineMethod{}, fmt.Errorf("could not determine inline method %d for %d argument registers", index, registers)
	case 5:
		switch registers {
		case 3:
			return indexOfII, nil
		case 1:
			return isEmpty, nil
		}
		return InlineMethod{}, fmt.Errorf("could not determine inline method %d for %d argument registers", index, registers)
	}
	return v.table.Resolve(index, registers)
}

// NewInlineResolver returns the built-in inline method table for an odex version.
func NewInlineResolver(version int) (InlineResolver, error) {
	switch version {
	case 35:
		return version35Table(), nil
	case 36:
		return newVersion36(), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
}
