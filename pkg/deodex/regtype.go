package deodex

import (
	"fmt"
)

// Category is the coarse class of value a register holds at a program point
type Category uint8

const (
	// Unknown is the bottom of the lattice: nothing has flowed into the register yet
	Unknown Category = iota
	// Null is the constant zero, usable as either a reference or a primitive
	Null
	// NonReference is any primitive value
	NonReference
	// Reference is an object or array reference of some declared type
	Reference
	// Conflicted is the top of the lattice: the paths disagree
	Conflicted
)

var categoryNames = [...]string{
	Unknown:      "Unknown",
	Null:         "Null",
	NonReference: "NonReference",
	Reference:    "Reference",
	Conflicted:   "Conflicted",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("Category(%d)", c)
}

var mergeTable = [5][5]Category{
	/*             Unknown       Null          NonReference  Reference     Conflicted */
	Unknown:      {Unknown, Null, NonReference, Reference, Conflicted},
	Null:         {Null, Null, NonReference, Reference, Conflicted},
	NonReference: {NonReference, NonReference, NonReference, Conflicted, Conflicted},
	Reference:    {Reference, Reference, Conflicted, Reference, Conflicted},
	Conflicted:   {Conflicted, Conflicted, Conflicted, Conflicted, Conflicted},
}

// Merge returns the join of two categories
func (c Category) Merge(other Category) Category {
	return mergeTable[c][other]
}

// Joiner computes the common superclass of two reference types. An empty type is the identity.
type Joiner interface {
	CommonSuperclass(a, b string) (string, error)
}

// RegisterType is a register's lattice value. Type is only meaningful for Reference and may be
// empty when the reference's declared type is not known.
type RegisterType struct {
	Category Category `json:"category"`
	Type     string   `json:"type,omitempty"`
}

var (
	unknownType      = RegisterType{}
	nullType         = RegisterType{Category: Null}
	nonReferenceType = RegisterType{Category: NonReference}
	conflictedType   = RegisterType{Category: Conflicted}
)

// NewReference returns a Reference register type of the given declared type
func NewReference(typ string) RegisterType {
	return RegisterType{Category: Reference, Type: typ}
}

// Merge joins two register types. Reference types are joined with j, which is only consulted
// when both sides carry distinct non-empty types.
func (r RegisterType) Merge(other RegisterType, j Joiner) (RegisterType, error) {
	cat := r.Category.Merge(other.Category)
	if cat != Reference {
		return RegisterType{Category: cat}, nil
	}
	var a, b string
	if r.Category == Reference {
		a = r.Type
	}
	if other.Category == Reference {
		b = other.Type
	}
	switch {
	case a == b || b == "":
		return NewReference(a), nil
	case a == "":
		return NewReference(b), nil
	}
	if j == nil {
		return RegisterType{}, fmt.Errorf("cannot join %s and %s without a class hierarchy", a, b)
	}
	typ, err := j.CommonSuperclass(a, b)
	if err != nil {
		return RegisterType{}, fmt.Errorf("failed to join %s and %s: %w", a, b, err)
	}
	return NewReference(typ), nil
}

func (r RegisterType) String() string {
	if r.Category == Reference && r.Type != "" {
		return fmt.Sprintf("Reference(%s)", r.Type)
	}
	return r.Category.String()
}

// typeOf returns the register type holding a value of the given field, parameter or return descriptor
func typeOf(desc string) RegisterType {
	switch {
	case desc == "":
		return unknownType
	case desc[0] == 'L' || desc[0] == '[':
		return NewReference(desc)
	}
	return nonReferenceType
}
