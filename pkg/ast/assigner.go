package ast

import "fmt"

// NodeID uniquely identifies a node within one compilation. The parser mints
// IDs for the initial tree; passes mint new ones for every node they rebuild,
// so a NodeID never refers to two different nodes.
type NodeID uint32

// Assigner is the per-compilation source of fresh node IDs and fresh
// variable names. It is threaded explicitly through every pass invocation;
// independent compilations each get their own so a parallel driver needs no
// synchronization.
type Assigner struct {
	nextNode NodeID
	nextName uint64
}

func NewAssigner() *Assigner { return &Assigner{nextNode: 1} }

func (a *Assigner) nextID() NodeID {
	id := a.nextNode
	a.nextNode++
	return id
}

// Fresh returns a new globally-unique name derived from base. The '$'
// separator cannot appear in a source identifier, so fresh names never
// collide with user names.
func (a *Assigner) Fresh(base string) string {
	a.nextName++
	return fmt.Sprintf("%s$%d", base, a.nextName)
}
