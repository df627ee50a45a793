package deodex

import (
	"fmt"
	"os"

	"github.com/blacktop/deodex/internal/utils"
	"github.com/blacktop/deodex/pkg/deodex"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Pool is the constant pool of a bundle. It implements dalvik.Pool.
type Pool struct {
	Strings []string `yaml:"strings,omitempty" json:"strings,omitempty"`
	Types   []string `yaml:"types,omitempty" json:"types,omitempty"`
	Fields  []string `yaml:"fields,omitempty" json:"fields,omitempty"`
	Methods []string `yaml:"methods,omitempty" json:"methods,omitempty"`
}

func lookup(kind string, pool []string, idx uint32) (string, error) {
	if int(idx) >= len(pool) {
		return "", fmt.Errorf("%s index %d out of range (pool has %d entries)", kind, idx, len(pool))
	}
	return pool[idx], nil
}

func (p *Pool) String(idx uint32) (string, error) { return lookup("string", p.Strings, idx) }
func (p *Pool) Type(idx uint32) (string, error)   { return lookup("type", p.Types, idx) }
func (p *Pool) Field(idx uint32) (string, error)  { return lookup("field", p.Fields, idx) }
func (p *Pool) Method(idx uint32) (string, error) { return lookup("method", p.Methods, idx) }

// MethodDef is one method body of a bundle
type MethodDef struct {
	Method    string       `yaml:"method" json:"method"`
	Static    bool         `yaml:"static,omitempty" json:"static,omitempty"`
	Registers uint16       `yaml:"registers" json:"registers"`
	Code      string       `yaml:"code" json:"code"` // hex code units, see utils.ParseCodeUnits
	Tries     []deodex.Try `yaml:"tries,omitempty" json:"tries,omitempty"`
}

// Bundle is a set of odexed methods sharing one constant pool
type Bundle struct {
	OdexVersion int         `yaml:"odex_version,omitempty" json:"odex_version,omitempty"`
	Pool        Pool        `yaml:"pool" json:"pool"`
	Methods     []MethodDef `yaml:"methods" json:"methods"`
}

// ParseBundle parses a YAML method bundle
func ParseBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse method bundle: %w", err)
	}
	return &b, nil
}

// LoadBundle reads a YAML method bundle from path
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read method bundle %s", path)
	}
	b, err := ParseBundle(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return b, nil
}

// Method returns the i'th method of the bundle ready for analysis
func (b *Bundle) Method(i int) (*deodex.Method, error) {
	if i < 0 || i >= len(b.Methods) {
		return nil, fmt.Errorf("method index %d out of range", i)
	}
	def := b.Methods[i]
	code, err := utils.ParseCodeUnits(def.Code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", def.Method, err)
	}
	return &deodex.Method{
		Name:      def.Method,
		Static:    def.Static,
		Registers: def.Registers,
		Code:      code,
		Tries:     def.Tries,
		Pool:      &b.Pool,
	}, nil
}
