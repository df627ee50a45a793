package classpath

import (
	"fmt"

	"github.com/blacktop/deodex/pkg/dalvik"
)

// CommonSuperclass implements Oracle. An empty type is the identity of the join.
func (cp *ClassPath) CommonSuperclass(a, b string) (string, error) {
	switch {
	case a == b:
		return a, nil
	case a == "":
		return b, nil
	case b == "":
		return a, nil
	}
	c1, err := cp.Class(a)
	if err != nil {
		return "", err
	}
	c2, err := cp.Class(b)
	if err != nil {
		return "", err
	}
	c, err := cp.commonSuperclass(c1, c2)
	if err != nil {
		return "", err
	}
	return c.Name, nil
}

func (cp *ClassPath) commonSuperclass(c1, c2 *Class) (*Class, error) {
	if c1.Name == c2.Name {
		return c1, nil
	}
	if c1.Primitive || c2.Primitive {
		return nil, fmt.Errorf("cannot join %s and %s: primitive types have no superclass", c1.Name, c2.Name)
	}

	if !c1.IsInterface && c2.IsInterface {
		if c1.Implements(c2.Name) {
			return c2, nil
		}
		return cp.object, nil
	}
	if !c2.IsInterface && c1.IsInterface {
		if c2.Implements(c1.Name) {
			return c1, nil
		}
		return cp.object, nil
	}

	if c1.IsArray() && c2.IsArray() {
		return cp.commonArraySuperclass(c1, c2)
	}

	d1, d2 := c1.Depth, c2.Depth
	for d1 > d2 {
		c1 = c1.Super
		d1--
	}
	for d2 > d1 {
		c2 = c2.Super
		d2--
	}
	for d1 > 0 {
		if c1.Name == c2.Name {
			return c1, nil
		}
		c1, c2 = c1.Super, c2.Super
		d1--
	}
	return c1, nil
}

func (cp *ClassPath) commonArraySuperclass(c1, c2 *Class) (*Class, error) {
	// int[] and short[] share nothing but Object
	if c1.Element.Primitive || c2.Element.Primitive {
		return cp.object, nil
	}
	if c1.Dimensions == c2.Dimensions {
		elem, err := cp.commonSuperclass(c1.Element, c2.Element)
		if err != nil {
			return nil, err
		}
		return cp.Class(dalvik.ArrayOf(elem.Name, c1.Dimensions))
	}
	// String[][][] and Integer[][] join to Object[][]
	return cp.Class(dalvik.ArrayOf(dalvik.ObjectType, min(c1.Dimensions, c2.Dimensions)))
}
