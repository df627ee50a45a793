// Package model contains the class hierarchy snapshot model for the database.
package model

import (
	"errors"
	"time"

	"github.com/blacktop/deodex/pkg/classpath"
)

var (
	ErrNotFound = errors.New("no class found")
	ErrEmpty    = errors.New("no class hierarchy stored")
)

// Class is the model for a single class definition.
type Class struct {
	Name      string `gorm:"primaryKey" json:"name"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Super      string      `json:"super,omitempty"`
	Interface  bool        `json:"interface,omitempty"`
	Interfaces []Interface `gorm:"foreignKey:ClassName;constraint:OnDelete:CASCADE" json:"interfaces,omitempty"`
	Methods    []Method    `gorm:"foreignKey:ClassName;constraint:OnDelete:CASCADE" json:"virtual_methods,omitempty"`
	Fields     []Field     `gorm:"foreignKey:ClassName;constraint:OnDelete:CASCADE" json:"instance_fields,omitempty"`
}

// Interface is an interface directly implemented by a class.
type Interface struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	ClassName string `gorm:"index" json:"-"`
	Position  int    `json:"-"`
	Name      string `json:"name"`
}

// Method is a virtual method declared by a class, in declaration order.
type Method struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	ClassName string `gorm:"index" json:"-"`
	Position  int    `json:"-"`
	Signature string `json:"signature"` // name(params)ret
}

// Field is an instance field declared by a class, in declaration order.
type Field struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	ClassName string `gorm:"index" json:"-"`
	Position  int    `json:"-"`
	Spec      string `json:"spec"` // name:type
}

// InlineMethod is one slot of the execute-inline table.
type InlineMethod struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	Position int    `gorm:"uniqueIndex" json:"index"`
	Method   string `json:"method"` // <kind> Lclass;->name(params)ret
}

// NewClass converts a class definition into its model.
func NewClass(def classpath.ClassDef) *Class {
	c := &Class{
		Name:      def.Name,
		Super:     def.Super,
		Interface: def.Interface,
	}
	for i, iface := range def.Interfaces {
		c.Interfaces = append(c.Interfaces, Interface{Position: i, Name: iface})
	}
	for i, sig := range def.VirtualMethods {
		c.Methods = append(c.Methods, Method{Position: i, Signature: sig})
	}
	for i, spec := range def.InstanceFields {
		c.Fields = append(c.Fields, Field{Position: i, Spec: spec})
	}
	return c
}

// ClassDef converts the model back into a class definition. Child rows are expected
// to be ordered by Position.
func (c *Class) ClassDef() classpath.ClassDef {
	def := classpath.ClassDef{
		Name:      c.Name,
		Super:     c.Super,
		Interface: c.Interface,
	}
	for _, iface := range c.Interfaces {
		def.Interfaces = append(def.Interfaces, iface.Name)
	}
	for _, m := range c.Methods {
		def.VirtualMethods = append(def.VirtualMethods, m.Signature)
	}
	for _, f := range c.Fields {
		def.InstanceFields = append(def.InstanceFields, f.Spec)
	}
	return def
}
