package deodex

import (
	"github.com/bits-and-blooms/bitset"
)

type reason uint8

const (
	// propagate pushes a node's register types into its successors
	propagate reason = iota
	// resolve rewrites an odexed node from the types on entry to it
	resolve
	numReasons
)

func (r reason) String() string {
	if r == resolve {
		return "resolve"
	}
	return "propagate"
}

type workItem struct {
	node   *Node
	reason reason
}

// worklist is a FIFO of (node, reason) items. A node is queued at most once per reason.
// Propagation items are always drained before resolution items so that an instruction is
// only resolved from register types at a fixed point.
type worklist struct {
	queued [numReasons]*bitset.BitSet
	items  [numReasons][]*Node
	pushes int
}

func newWorklist(size int) *worklist {
	w := &worklist{}
	for r := range w.queued {
		w.queued[r] = bitset.New(uint(size))
	}
	return w
}

func (w *worklist) push(n *Node, r reason) {
	if w.queued[r].Test(uint(n.Index)) {
		return
	}
	w.queued[r].Set(uint(n.Index))
	w.items[r] = append(w.items[r], n)
	w.pushes++
}

func (w *worklist) pop() (workItem, bool) {
	for r := propagate; r < numReasons; r++ {
		if len(w.items[r]) == 0 {
			continue
		}
		n := w.items[r][0]
		w.items[r] = w.items[r][1:]
		w.queued[r].Clear(uint(n.Index))
		return workItem{node: n, reason: r}, true
	}
	return workItem{}, false
}

func (w *worklist) len() int {
	return len(w.items[propagate]) + len(w.items[resolve])
}
