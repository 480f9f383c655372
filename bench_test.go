package olc

import (
	"math/rand"
	"sync"
	"testing"
)

var workloads = []struct {
	name      string
	writePerc int
}{
	{"ReadOnly", 0},
	{"Mixed", 10},
	{"HeavyWrite", 50},
	{"WriteOnly", 100},
}

/* A three-node chain standing in for a tiny database index: node1 is the
 * root, node2 and node3 hang off it, each guarded by its own lock.
 * getAll simulates `select *`, get2 a point lookup, set2/set3 point
 * updates.  The same workload runs against per-node Mutex, per-node
 * RWMutex, and per-node optimistic locks. */
type chain interface {
	getAll() (int, int, int)
	get2() int
	set2()
	set3()
}

type mutexNode struct {
	mu   sync.Mutex
	head int
	tail *mutexNode
}

func newMutexChain() *mutexNode {
	n3 := &mutexNode{}
	n2 := &mutexNode{tail: n3}
	return &mutexNode{tail: n2}
}

func (n *mutexNode) getAll() (int, int, int) {
	h1 := n.head
	t1 := n.tail
	t1.mu.Lock()
	h2 := t1.head
	t2 := t1.tail
	t2.mu.Lock()
	h3 := t2.head
	t2.mu.Unlock()
	t1.mu.Unlock()
	return h1, h2, h3
}

func (n *mutexNode) get2() int {
	t1 := n.tail
	t1.mu.Lock()
	h2 := t1.head
	t1.mu.Unlock()
	return h2
}

func (n *mutexNode) set2() {
	t1 := n.tail
	t1.mu.Lock()
	t1.head++
	t1.mu.Unlock()
}

func (n *mutexNode) set3() {
	t1 := n.tail
	t1.mu.Lock()
	t2 := t1.tail
	t2.mu.Lock()
	t2.head++
	t2.mu.Unlock()
	t1.mu.Unlock()
}

type rwNode struct {
	mu   sync.RWMutex
	head int
	tail *rwNode
}

func newRWChain() *rwNode {
	n3 := &rwNode{}
	n2 := &rwNode{tail: n3}
	return &rwNode{tail: n2}
}

func (n *rwNode) getAll() (int, int, int) {
	h1 := n.head
	t1 := n.tail
	t1.mu.RLock()
	h2 := t1.head
	t2 := t1.tail
	t2.mu.RLock()
	h3 := t2.head
	t2.mu.RUnlock()
	t1.mu.RUnlock()
	return h1, h2, h3
}

func (n *rwNode) get2() int {
	t1 := n.tail
	t1.mu.RLock()
	h2 := t1.head
	t1.mu.RUnlock()
	return h2
}

func (n *rwNode) set2() {
	t1 := n.tail
	t1.mu.Lock()
	t1.head++
	t1.mu.Unlock()
}

func (n *rwNode) set3() {
	t1 := n.tail
	t1.mu.RLock()
	t2 := t1.tail
	t2.mu.Lock()
	t2.head++
	t2.mu.Unlock()
	t1.mu.RUnlock()
}

type optNode struct {
	head int
	tail *Lock[optNode]
}

func newOptChain() *optNode {
	n3 := New(optNode{})
	n2 := New(optNode{tail: n3})
	return &optNode{tail: n2}
}

func (n *optNode) getAll() (int, int, int) {
	type pair struct{ h2, h3 int }
	for {
		h1 := n.head
		p, err := ReadTxn(n.tail, func(g *ReadGuard[optNode]) (pair, error) {
			h2 := g.Value().head
			h3, err := ReadTxn(g.Value().tail, func(g2 *ReadGuard[optNode]) (int, error) {
				return g2.Value().head, nil
			})
			if err != nil {
				return pair{}, err
			}
			return pair{h2, h3}, nil
		})
		if err != nil {
			continue
		}
		return h1, p.h2, p.h3
	}
}

func (n *optNode) get2() int {
	for {
		h2, err := ReadTxn(n.tail, func(g *ReadGuard[optNode]) (int, error) {
			return g.Value().head, nil
		})
		if err != nil {
			continue
		}
		return h2
	}
}

func (n *optNode) set2() {
	for {
		w, err := n.tail.Write()
		if err != nil {
			continue
		}
		w.Value().head++
		w.Unlock()
		return
	}
}

func (n *optNode) set3() {
	for {
		t2, err := ReadTxn(n.tail, func(g *ReadGuard[optNode]) (*Lock[optNode], error) {
			return g.Value().tail, nil
		})
		if err != nil {
			continue
		}
		w, err := t2.Write()
		if err != nil {
			continue
		}
		w.Value().head++
		w.Unlock()
		return
	}
}

func benchmarkChain(b *testing.B, c chain, writePerc int) {
	b.RunParallel(func(pb *testing.PB) {
		rng := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			switch {
			case rng.Intn(100) < writePerc:
				if rng.Intn(2) == 0 {
					c.set2()
				} else {
					c.set3()
				}
			case rng.Intn(2) == 0:
				c.getAll()
			default:
				c.get2()
			}
		}
	})
}

func BenchmarkChainMutex(b *testing.B) {
	for _, w := range workloads {
		b.Run(w.name, func(b *testing.B) {
			benchmarkChain(b, newMutexChain(), w.writePerc)
		})
	}
}

func BenchmarkChainRWMutex(b *testing.B) {
	for _, w := range workloads {
		b.Run(w.name, func(b *testing.B) {
			benchmarkChain(b, newRWChain(), w.writePerc)
		})
	}
}

func BenchmarkChainOptimistic(b *testing.B) {
	for _, w := range workloads {
		b.Run(w.name, func(b *testing.B) {
			benchmarkChain(b, newOptChain(), w.writePerc)
		})
	}
}
