package dalvik

import (
	"fmt"
	"strings"
)

// Well known type descriptors
const (
	ObjectType       = "Ljava/lang/Object;"
	ThrowableType    = "Ljava/lang/Throwable;"
	StringType       = "Ljava/lang/String;"
	ClassType        = "Ljava/lang/Class;"
	CloneableType    = "Ljava/lang/Cloneable;"
	SerializableType = "Ljava/io/Serializable;"
)

// IsPrimitive reports whether desc names a primitive type (including void)
func IsPrimitive(desc string) bool {
	if len(desc) != 1 {
		return false
	}
	switch desc[0] {
	case 'Z', 'B', 'S', 'C', 'I', 'J', 'F', 'D', 'V':
		return true
	}
	return false
}

// IsReference reports whether desc names a class or array type
func IsReference(desc string) bool {
	return len(desc) > 0 && (desc[0] == 'L' || desc[0] == '[')
}

// IsWide reports whether desc names a 64-bit primitive
func IsWide(desc string) bool {
	return desc == "J" || desc == "D"
}

// IsArray reports whether desc names an array type
func IsArray(desc string) bool {
	return len(desc) > 0 && desc[0] == '['
}

// ArrayDimensions splits an array descriptor into its dimension count and element type.
func ArrayDimensions(desc string) (int, string) {
	n := 0
	for n < len(desc) && desc[n] == '[' {
		n++
	}
	return n, desc[n:]
}

// ArrayOf returns the descriptor of a dims-dimensional array of elem.
func ArrayOf(elem string, dims int) string {
	return strings.Repeat("[", dims) + elem
}

// ValidType reports whether desc is a well formed field type descriptor
func ValidType(desc string) bool {
	n, elem := ArrayDimensions(desc)
	if n > 255 || elem == "" {
		return false
	}
	if len(elem) == 1 {
		return IsPrimitive(elem) && elem != "V"
	}
	return elem[0] == 'L' && strings.IndexByte(elem, ';') == len(elem)-1 && len(elem) > 2
}

// MethodRef is a parsed method reference "Lclass;->name(params)ret"
type MethodRef struct {
	Class  string
	Name   string
	Params []string
	Return string
}

// FieldRef is a parsed field reference "Lclass;->name:type"
type FieldRef struct {
	Class string
	Name  string
	Type  string
}

func (m MethodRef) String() string {
	return m.Class + "->" + m.Signature()
}

// Signature returns the method name and prototype without the declaring class
func (m MethodRef) Signature() string {
	return m.Name + "(" + strings.Join(m.Params, "") + ")" + m.Return
}

// ParameterRegisters returns the number of registers the parameters occupy, excluding any receiver
func (m MethodRef) ParameterRegisters() int {
	n := 0
	for _, p := range m.Params {
		if IsWide(p) {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func (f FieldRef) String() string {
	return f.Class + "->" + f.Name + ":" + f.Type
}

// ParseTypeList splits concatenated type descriptors, e.g. "IJLjava/lang/String;[B".
func ParseTypeList(s string) ([]string, error) {
	var types []string
	for i := 0; i < len(s); {
		start := i
		for i < len(s) && s[i] == '[' {
			i++
		}
		if i >= len(s) {
			return nil, fmt.Errorf("invalid type list %q: dangling array prefix", s)
		}
		switch s[i] {
		case 'Z', 'B', 'S', 'C', 'I', 'J', 'F', 'D':
			i++
		case 'L':
			end := strings.IndexByte(s[i:], ';')
			if end < 0 {
				return nil, fmt.Errorf("invalid type list %q: unterminated class name", s)
			}
			i += end + 1
		default:
			return nil, fmt.Errorf("invalid type list %q: unexpected %q", s, s[i])
		}
		types = append(types, s[start:i])
	}
	return types, nil
}

// ParseSignature parses "name(params)ret" into a MethodRef with an empty class.
func ParseSignature(sig string) (MethodRef, error) {
	open := strings.IndexByte(sig, '(')
	cls := strings.IndexByte(sig, ')')
	if open <= 0 || cls < open {
		return MethodRef{}, fmt.Errorf("invalid method signature %q", sig)
	}
	params, err := ParseTypeList(sig[open+1 : cls])
	if err != nil {
		return MethodRef{}, err
	}
	ret := sig[cls+1:]
	if ret != "V" && !ValidType(ret) {
		return MethodRef{}, fmt.Errorf("invalid return type in method signature %q", sig)
	}
	return MethodRef{Name: sig[:open], Params: params, Return: ret}, nil
}

// ParseMethod parses a full method reference "Lclass;->name(params)ret".
func ParseMethod(ref string) (MethodRef, error) {
	arrow := strings.Index(ref, "->")
	if arrow <= 0 {
		return MethodRef{}, fmt.Errorf("invalid method reference %q", ref)
	}
	m, err := ParseSignature(ref[arrow+2:])
	if err != nil {
		return MethodRef{}, err
	}
	m.Class = ref[:arrow]
	return m, nil
}

// ParseFieldSpec parses "name:type".
func ParseFieldSpec(spec string) (name, typ string, err error) {
	colon := strings.LastIndexByte(spec, ':')
	if colon <= 0 || colon == len(spec)-1 {
		return "", "", fmt.Errorf("invalid field %q", spec)
	}
	name, typ = spec[:colon], spec[colon+1:]
	if !ValidType(typ) {
		return "", "", fmt.Errorf("invalid field type in %q", spec)
	}
	return name, typ, nil
}

// ParseField parses a full field reference "Lclass;->name:type".
func ParseField(ref string) (FieldRef, error) {
	arrow := strings.Index(ref, "->")
	if arrow <= 0 {
		return FieldRef{}, fmt.Errorf("invalid field reference %q", ref)
	}
	name, typ, err := ParseFieldSpec(ref[arrow+2:])
	if err != nil {
		return FieldRef{}, err
	}
	return FieldRef{Class: ref[:arrow], Name: name, Type: typ}, nil
}
