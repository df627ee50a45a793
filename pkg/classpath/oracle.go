// Package classpath answers class hierarchy questions (superclasses, vtables, field layouts and
// inline method tables) either from an in-process set of class definitions or from a remote
// deodexerant-style server.
package classpath

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClassNotFound is returned when a type is not part of the hierarchy
	ErrClassNotFound = errors.New("class not found")
	// ErrHierarchy is returned when the hierarchy is inconsistent with the code being analyzed
	ErrHierarchy = errors.New("inconsistent class hierarchy")
	// ErrUnsupportedVersion is returned for odex versions without a known inline method table
	ErrUnsupportedVersion = errors.New("unsupported odex version")
)

// Oracle is the class hierarchy as seen by the deodexer.
type Oracle interface {
	// Superclass returns the direct superclass of typ, or "" for the root type and primitives.
	Superclass(typ string) (string, error)
	// CommonSuperclass returns the least common ancestor of two reference types.
	CommonSuperclass(a, b string) (string, error)
	// VirtualMethods returns the vtable of typ as "name(params)ret" entries in slot order.
	VirtualMethods(typ string) ([]string, error)
	// InstanceFields returns the instance field layout of typ including inherited fields.
	InstanceFields(typ string) ([]Field, error)
	// InlineMethods returns the platform inline method table, or nil if the oracle has none.
	InlineMethods() ([]InlineMethod, error)
}

// Field is an instance field at a byte offset into the object
type Field struct {
	Offset uint32 `json:"offset"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

func (f Field) String() string {
	return f.Name + ":" + f.Type
}

// IsWide reports whether the field occupies 8 bytes
func (f Field) IsWide() bool {
	return f.Type == "J" || f.Type == "D"
}

// Size returns the number of bytes the field occupies
func (f Field) Size() uint32 {
	if f.IsWide() {
		return 8
	}
	return 4
}

// InlineKind is the invoke kind an inline method is rewritten to
type InlineKind uint8

const (
	InlineVirtual InlineKind = iota
	InlineDirect
	InlineStatic
)

func (k InlineKind) String() string {
	switch k {
	case InlineVirtual:
		return "virtual"
	case InlineDirect:
		return "direct"
	case InlineStatic:
		return "static"
	}
	return fmt.Sprintf("InlineKind(%d)", uint8(k))
}

// ParseInlineKind parses "virtual", "direct" or "static"
func ParseInlineKind(s string) (InlineKind, error) {
	switch s {
	case "virtual":
		return InlineVirtual, nil
	case "direct":
		return InlineDirect, nil
	case "static":
		return InlineStatic, nil
	}
	return 0, fmt.Errorf("invalid inline method kind %q", s)
}

// InlineMethod is an entry of the execute-inline table
type InlineMethod struct {
	Kind   InlineKind `json:"kind"`
	Method string     `json:"method"` // Lclass;->name(params)ret
}

func (m InlineMethod) String() string {
	return m.Kind.String() + " " + m.Method
}

// ParseInlineMethod parses "<kind> Lclass;->name(params)ret"
func ParseInlineMethod(s string) (InlineMethod, error) {
	kind, method, ok := strings.Cut(s, " ")
	if !ok || !strings.Contains(method, "->") {
		return InlineMethod{}, fmt.Errorf("invalid inline method %q", s)
	}
	k, err := ParseInlineKind(kind)
	if err != nil {
		return InlineMethod{}, err
	}
	return InlineMethod{Kind: k, Method: method}, nil
}

// FieldAt returns the field of typ stored at the given byte offset.
func FieldAt(o Oracle, typ string, offset uint32) (Field, error) {
	fields, err := o.InstanceFields(typ)
	if err != nil {
		return Field{}, err
	}
	for _, f := range fields {
		if f.Offset == offset {
			return f, nil
		}
	}
	return Field{}, fmt.Errorf("%w: no field at offset %d in %s", ErrHierarchy, offset, typ)
}

// VirtualMethodAt returns the vtable entry of typ at the given slot.
func VirtualMethodAt(o Oracle, typ string, slot uint32) (string, error) {
	vtable, err := o.VirtualMethods(typ)
	if err != nil {
		return "", err
	}
	if int(slot) >= len(vtable) {
		return "", fmt.Errorf("%w: vtable index %d out of range for %s (%d entries)", ErrHierarchy, slot, typ, len(vtable))
	}
	return vtable[slot], nil
}
