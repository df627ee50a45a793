// Package deodex rewrites the odexed instructions of a dalvik method into their symbolic
// equivalents. It builds the method's control-flow graph, infers the type of every register at
// every instruction and uses a class hierarchy to turn field offsets, vtable slots and inline
// indices back into field and method references.
package deodex

import (
	"fmt"
	"strings"

	"github.com/apex/log"
	"github.com/blacktop/deodex/pkg/classpath"
	"github.com/blacktop/deodex/pkg/dalvik"
	"github.com/pkg/errors"
)

// Analyzer deodexes methods against a class hierarchy. It keeps no per-method state and may be
// shared between goroutines as long as its oracle can.
type Analyzer struct {
	oracle classpath.Oracle
	inline classpath.InlineResolver
}

// NewAnalyzer creates an analyzer. inline may be nil if no method uses execute-inline.
func NewAnalyzer(oracle classpath.Oracle, inline classpath.InlineResolver) *Analyzer {
	return &Analyzer{
		oracle: oracle,
		inline: inline,
	}
}

// analysis is the state of deodexing one method
type analysis struct {
	*Analyzer
	method  *Method
	ref     dalvik.MethodRef
	g       *Graph
	work    *worklist
	changes int
}

// Line is one rendered instruction of a Result
type Line struct {
	Address     uint32 `json:"address"`
	Instruction string `json:"instruction"`
	Dead        bool   `json:"dead,omitempty"`
	Resolved    bool   `json:"resolved,omitempty"`
	Pending     bool   `json:"pending,omitempty"`
}

// Result is a deodexed method. Instructions has one entry per decoded instruction, in address
// order, with resolved instructions substituted for odexed ones.
type Result struct {
	Method       string                `json:"method"`
	Instructions []*dalvik.Instruction `json:"-"`
	Dead         []bool                `json:"-"`
	Lines        []Line                `json:"instructions"`
	// Incomplete is set when some reachable odexed instruction could not be resolved
	Incomplete bool   `json:"incomplete"`
	Graph      *Graph `json:"-"`
}

// Warning returns the diagnostic for an incomplete result, or "" if the method was fully deodexed
func (r *Result) Warning() string {
	if !r.Incomplete {
		return ""
	}
	return fmt.Sprintf("could not fully deodex the method %s", r.Method)
}

// String renders the method in smali syntax. Dead instructions are commented out.
func (r *Result) String() string {
	var sb strings.Builder
	for _, l := range r.Lines {
		for _, text := range strings.Split(l.Instruction, "\n") {
			if l.Dead {
				text = "#" + text
			}
			fmt.Fprintf(&sb, "    %s\n", text)
		}
	}
	return sb.String()
}

// Deodex builds the control-flow graph of m and resolves as many of its odexed instructions as
// the class hierarchy allows. Unresolvable instructions are not an error: they are kept as is
// and the result is flagged Incomplete.
func (a *Analyzer) Deodex(m *Method) (*Result, error) {
	g, err := BuildGraph(m)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build the control flow graph of %s", m.Name)
	}
	if _, err := a.Analyze(m, g); err != nil {
		return nil, errors.Wrapf(err, "failed to deodex %s", m.Name)
	}
	return newResult(m, g), nil
}

// Analyze propagates register types through g and resolves its odexed instructions until
// nothing changes. It returns the number of instructions it resolved or marked dead, so running
// it again over an analyzed graph returns 0.
func (a *Analyzer) Analyze(m *Method, g *Graph) (int, error) {
	s, err := a.analyze(m, g)
	if err != nil {
		return 0, err
	}
	return s.changes, nil
}

func (a *Analyzer) analyze(m *Method, g *Graph) (*analysis, error) {
	ref, err := dalvik.ParseMethod(m.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	s := &analysis{
		Analyzer: a,
		method:   m,
		ref:      ref,
		g:        g,
		work:     newWorklist(len(g.Nodes)),
	}
	if err := s.seed(); err != nil {
		return nil, err
	}
	for _, n := range g.Nodes {
		if n.Pending() {
			s.work.push(n, resolve)
		}
	}
	if err := s.run(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *analysis) run() error {
	for {
		item, ok := s.work.pop()
		if !ok {
			return nil
		}
		var err error
		switch item.reason {
		case propagate:
			err = s.propagateFrom(item.node)
		case resolve:
			err = s.resolve(item.node)
		}
		if err != nil {
			return err
		}
	}
}

func newResult(m *Method, g *Graph) *Result {
	r := &Result{
		Method:       m.Name,
		Instructions: make([]*dalvik.Instruction, len(g.Nodes)),
		Dead:         make([]bool, len(g.Nodes)),
		Lines:        make([]Line, len(g.Nodes)),
		Graph:        g,
	}
	for i, n := range g.Nodes {
		insn := n.Instruction()
		r.Instructions[i] = insn
		r.Dead[i] = n.Dead
		r.Lines[i] = Line{
			Address:     n.Address,
			Instruction: insn.String(),
			Dead:        n.Dead,
			Resolved:    n.Fixed != nil,
			Pending:     n.Pending(),
		}
		if n.Pending() {
			r.Incomplete = true
			log.WithFields(log.Fields{
				"method":  m.Name,
				"address": fmt.Sprintf("%#x", n.Address),
			}).Debugf("Unresolved %s", n.Insn.Opcode)
		}
	}
	return r
}
