package classpath

import (
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/apex/log"
	"github.com/blacktop/deodex/pkg/dalvik"
	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ClassDef is the definition of a single class as found in a class definition file
type ClassDef struct {
	Name           string   `yaml:"name" json:"name"`
	Super          string   `yaml:"super,omitempty" json:"super,omitempty"`
	Interface      bool     `yaml:"interface,omitempty" json:"interface,omitempty"`
	Interfaces     []string `yaml:"interfaces,omitempty" json:"interfaces,omitempty"`
	VirtualMethods []string `yaml:"virtual_methods,omitempty" json:"virtual_methods,omitempty"` // name(params)ret
	InstanceFields []string `yaml:"instance_fields,omitempty" json:"instance_fields,omitempty"` // name:type
}

// Definitions is the contents of a class definition file
type Definitions struct {
	Classes []ClassDef `yaml:"classes"`
	Inline  []string   `yaml:"inline,omitempty"` // "<kind> Lclass;->name(params)ret"
}

// Class is a fully linked hierarchy entry
type Class struct {
	Name        string
	Super       *Class
	IsInterface bool
	Depth       int
	VTable      []string
	Fields      []Field

	// all interfaces implemented by the class, its superclasses and their super-interfaces
	interfaces map[string]struct{}
	vtableIdx  map[string]int

	Dimensions int    // arrays only
	Element    *Class // arrays only
	Primitive  bool
}

// IsArray reports whether the class is a synthetic array class
func (c *Class) IsArray() bool { return c.Dimensions > 0 }

// Implements reports whether the class implements the interface iface
func (c *Class) Implements(iface string) bool {
	_, ok := c.interfaces[iface]
	return ok
}

// Interfaces returns the sorted list of implemented interfaces
func (c *Class) Interfaces() []string {
	out := make([]string, 0, len(c.interfaces))
	for i := range c.interfaces {
		out = append(out, i)
	}
	sort.Strings(out)
	return out
}

// VirtualMethodIndex returns the vtable slot of a "name(params)ret" method
func (c *Class) VirtualMethodIndex(sig string) (int, bool) {
	idx, ok := c.vtableIdx[sig]
	return idx, ok
}

// ClassPath is an in-process class hierarchy. It is immutable once built and safe for
// concurrent use.
type ClassPath struct {
	classes map[string]*Class
	order   []string
	object  *Class
	inline  []InlineMethod
}

// ParseDefinitions parses a YAML class definition file.
func ParseDefinitions(data []byte) (*Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse class definitions: %w", err)
	}
	return &defs, nil
}

// LoadFile builds a ClassPath from a YAML class definition file
func LoadFile(path string) (*ClassPath, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read class definitions %s", path)
	}
	defs, err := ParseDefinitions(data)
	if err != nil {
		return nil, err
	}
	var inline []InlineMethod
	for _, s := range defs.Inline {
		m, err := ParseInlineMethod(s)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", path)
		}
		inline = append(inline, m)
	}
	return New(defs.Classes, inline)
}

// New links a set of class definitions into a ClassPath. The set must contain
// Ljava/lang/Object; and be closed under superclasses and interfaces.
func New(defs []ClassDef, inline []InlineMethod) (*ClassPath, error) {
	byName := make(map[string]*ClassDef, len(defs))
	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())

	for i := range defs {
		def := &defs[i]
		if !dalvik.IsReference(def.Name) || dalvik.IsArray(def.Name) {
			return nil, fmt.Errorf("invalid class name %q", def.Name)
		}
		if err := g.AddVertex(def.Name); err != nil {
			if errors.Is(err, graph.ErrVertexAlreadyExists) {
				return nil, fmt.Errorf("duplicate class definition %s", def.Name)
			}
			return nil, err
		}
		byName[def.Name] = def
	}
	if _, ok := byName[dalvik.ObjectType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, dalvik.ObjectType)
	}

	// edges point from a type to the types that depend on it, so a topological sort yields
	// superclasses and interfaces before their subtypes
	link := func(from, to string) error {
		if _, ok := byName[from]; !ok {
			return fmt.Errorf("%w: %s (referenced by %s)", ErrClassNotFound, from, to)
		}
		if err := g.AddEdge(from, to); err != nil {
			switch {
			case errors.Is(err, graph.ErrEdgeAlreadyExists):
				return nil
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				return fmt.Errorf("%w: cyclic inheritance involving %s and %s", ErrHierarchy, from, to)
			}
			return fmt.Errorf("failed to add edge %s -> %s: %v", from, to, err)
		}
		return nil
	}
	for _, def := range defs {
		if def.Super != "" {
			if err := link(def.Super, def.Name); err != nil {
				return nil, err
			}
		}
		for _, iface := range def.Interfaces {
			if err := link(iface, def.Name); err != nil {
				return nil, err
			}
		}
	}

	order, err := graph.TopologicalSort(g)
	if err != nil {
		return nil, fmt.Errorf("failed to order class definitions: %v", err)
	}

	cp := &ClassPath{
		classes: make(map[string]*Class, len(defs)),
		order:   order,
		inline:  inline,
	}
	for _, name := range order {
		c, err := cp.link(byName[name])
		if err != nil {
			return nil, err
		}
		cp.classes[name] = c
		if name == dalvik.ObjectType {
			cp.object = c
		}
	}

	log.WithFields(log.Fields{
		"classes": len(cp.classes),
		"inline":  len(inline),
	}).Debug("Loaded class path")

	return cp, nil
}

func (cp *ClassPath) link(def *ClassDef) (*Class, error) {
	c := &Class{
		Name:        def.Name,
		IsInterface: def.Interface,
		interfaces:  make(map[string]struct{}),
		vtableIdx:   make(map[string]int),
	}

	if def.Name == dalvik.ObjectType {
		if def.Super != "" {
			return nil, fmt.Errorf("%w: %s cannot have a superclass (got %s)", ErrHierarchy, def.Name, def.Super)
		}
		if def.Interface {
			return nil, fmt.Errorf("%w: %s cannot be an interface", ErrHierarchy, def.Name)
		}
	} else {
		if def.Super == "" {
			return nil, fmt.Errorf("%w: %s has no superclass", ErrHierarchy, def.Name)
		}
		super := cp.classes[def.Super]
		switch {
		case !c.IsInterface && super.IsInterface:
			return nil, fmt.Errorf("%w: class %s has the interface %s as its superclass", ErrHierarchy, c.Name, super.Name)
		case c.IsInterface && !super.IsInterface && super.Name != dalvik.ObjectType:
			return nil, fmt.Errorf("%w: interface %s has the non-interface class %s as its superclass", ErrHierarchy, c.Name, super.Name)
		}
		c.Super = super
		c.Depth = super.Depth + 1
		for i := range super.interfaces {
			c.interfaces[i] = struct{}{}
		}
		if super.IsInterface {
			c.interfaces[super.Name] = struct{}{}
		}
	}

	for _, name := range def.Interfaces {
		iface := cp.classes[name]
		if !iface.IsInterface {
			return nil, fmt.Errorf("%w: %s implements the non-interface class %s", ErrHierarchy, c.Name, name)
		}
		c.interfaces[name] = struct{}{}
		for i := range iface.interfaces {
			c.interfaces[i] = struct{}{}
		}
	}

	if err := c.loadVTable(def, cp.object); err != nil {
		return nil, err
	}
	if err := c.loadFields(def); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Class) loadVTable(def *ClassDef, object *Class) error {
	if c.IsInterface {
		// interface methods are never reached through a vtable slot
		c.VTable = slices.Clone(object.VTable)
	} else if c.Super != nil {
		c.VTable = slices.Clone(c.Super.VTable)
	}
	for i, m := range c.VTable {
		c.vtableIdx[m] = i
	}
	if c.IsInterface {
		return nil
	}
	for _, m := range def.VirtualMethods {
		if _, err := dalvik.ParseSignature(m); err != nil {
			return errors.Wrapf(err, "%s", c.Name)
		}
		if _, ok := c.vtableIdx[m]; ok {
			continue
		}
		c.vtableIdx[m] = len(c.VTable)
		c.VTable = append(c.VTable, m)
	}
	return nil
}

func (c *Class) loadFields(def *ClassDef) error {
	declared := make([]Field, 0, len(def.InstanceFields))
	for _, spec := range def.InstanceFields {
		name, typ, err := dalvik.ParseFieldSpec(spec)
		if err != nil {
			return errors.Wrapf(err, "%s", c.Name)
		}
		declared = append(declared, Field{Name: name, Type: typ})
	}
	var inherited []Field
	if c.Super != nil {
		inherited = c.Super.Fields
	}
	c.Fields = layoutFields(inherited, declared)
	return nil
}

type fieldKind uint8

const (
	referenceField fieldKind = iota
	wideField
	otherField
)

func kindOf(f Field) fieldKind {
	switch {
	case dalvik.IsReference(f.Type):
		return referenceField
	case f.IsWide():
		return wideField
	}
	return otherField
}

// layoutFields assigns offsets the way the VM lays out instance fields: references first, then
// 64-bit fields aligned to 8 bytes, then everything else. If the first 64-bit field would be
// unaligned a 32-bit field is moved in front of it.
func layoutFields(inherited, declared []Field) []Field {
	fields := slices.Clone(declared)
	n := len(fields)
	swap := func(i, j int) { fields[i], fields[j] = fields[j], fields[i] }

	back := n - 1
	front := 0
	for ; front < n; front++ {
		if kindOf(fields[front]) != referenceField {
			for back > front {
				if kindOf(fields[back]) == referenceField {
					swap(front, back)
					back--
					break
				}
				back--
			}
		}
		if kindOf(fields[front]) != referenceField {
			break
		}
	}

	start := uint32(8) // object header
	if len(inherited) > 0 {
		last := inherited[len(inherited)-1]
		start = last.Offset + last.Size()
	}

	if front < n && (start/4+uint32(front))%2 != 0 {
		if kindOf(fields[front]) == wideField {
			for back = n - 1; back > front; back-- {
				if kindOf(fields[back]) == otherField {
					swap(front, back)
					front++
					break
				}
			}
		} else {
			front++
		}
	}

	back = n - 1
	for ; front < n; front++ {
		if kindOf(fields[front]) != wideField {
			for back > front {
				if kindOf(fields[back]) == wideField {
					swap(front, back)
					back--
					break
				}
				back--
			}
		}
		if kindOf(fields[front]) != wideField {
			break
		}
	}

	out := make([]Field, 0, len(inherited)+n)
	out = append(out, inherited...)
	offset := start
	aligned := false
	for _, f := range fields {
		if f.IsWide() && !aligned {
			if offset%8 != 0 {
				offset += 4
			}
			aligned = true
		}
		f.Offset = offset
		out = append(out, f)
		offset += f.Size()
	}
	return out
}

// Class returns the hierarchy entry for a type descriptor. Array and primitive entries are
// synthesized on demand.
func (cp *ClassPath) Class(typ string) (*Class, error) {
	if c, ok := cp.classes[typ]; ok {
		return c, nil
	}
	if dalvik.IsPrimitive(typ) {
		return &Class{Name: typ, Primitive: true}, nil
	}
	if dalvik.IsArray(typ) {
		return cp.arrayClass(typ)
	}
	return nil, fmt.Errorf("%w: %s", ErrClassNotFound, typ)
}

func (cp *ClassPath) arrayClass(typ string) (*Class, error) {
	dims, elem := dalvik.ArrayDimensions(typ)
	if dims > 255 {
		return nil, fmt.Errorf("array class %s has more than 255 dimensions", typ)
	}
	if elem == "V" {
		return nil, fmt.Errorf("invalid array class %s", typ)
	}
	ec, err := cp.Class(elem)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create array class %s", typ)
	}
	return &Class{
		Name:       typ,
		Super:      cp.object,
		Depth:      1,
		VTable:     cp.object.VTable,
		Fields:     cp.object.Fields,
		vtableIdx:  cp.object.vtableIdx,
		Dimensions: dims,
		Element:    ec,
		interfaces: map[string]struct{}{
			dalvik.CloneableType:    {},
			dalvik.SerializableType: {},
		},
	}, nil
}

// Classes returns every defined class, superclasses before subclasses
func (cp *ClassPath) Classes() []*Class {
	out := make([]*Class, 0, len(cp.order))
	for _, name := range cp.order {
		out = append(out, cp.classes[name])
	}
	return out
}

// Superclass implements Oracle
func (cp *ClassPath) Superclass(typ string) (string, error) {
	c, err := cp.Class(typ)
	if err != nil {
		return "", err
	}
	if c.Super == nil {
		return "", nil
	}
	return c.Super.Name, nil
}

// VirtualMethods implements Oracle
func (cp *ClassPath) VirtualMethods(typ string) ([]string, error) {
	c, err := cp.Class(typ)
	if err != nil {
		return nil, err
	}
	return c.VTable, nil
}

// InstanceFields implements Oracle
func (cp *ClassPath) InstanceFields(typ string) ([]Field, error) {
	c, err := cp.Class(typ)
	if err != nil {
		return nil, err
	}
	return c.Fields, nil
}

// InlineMethods implements Oracle. It returns the table from the class definitions, if any.
func (cp *ClassPath) InlineMethods() ([]InlineMethod, error) {
	return cp.inline, nil
}
