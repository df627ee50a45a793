package deodex

import (
	"fmt"

	"github.com/apex/log"
	"github.com/bits-and-blooms/bitset"
)

// propagateDeadness marks every node that can only be reached through x dead. x itself stays
// live, as do entry nodes. It returns the number of nodes newly marked dead.
func (s *analysis) propagateDeadness(x *Node) int {
	isDead := func(n *Node) bool {
		return n == x || n.Dead
	}

	queue := bitset.New(uint(len(s.g.Nodes)))
	for _, succ := range x.Successors {
		queue.Set(uint(succ.Index))
	}

	marked := 0
	for i, ok := queue.NextSet(0); ok; i, ok = queue.NextSet(0) {
		queue.Clear(i)
		n := s.g.Nodes[i]
		if isDead(n) || n.entry {
			continue
		}
		live := false
		for _, p := range n.Predecessors {
			if !isDead(p) {
				live = true
				break
			}
		}
		if live {
			continue
		}

		n.Dead = true
		marked++
		log.WithFields(log.Fields{
			"method":  s.method.Name,
			"address": fmt.Sprintf("%#x", n.Address),
		}).Debug("Marking dead")
		for _, succ := range n.Successors {
			queue.Set(uint(succ.Index))
		}
	}
	return marked
}
