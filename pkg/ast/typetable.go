package ast

// TypeTable is the node-identifier-keyed side table holding each expression's
// resolved type. The type checker populates it; later passes consult it and
// register entries for the nodes they rebuild, so the tree itself stays
// read-only during traversal.
type TypeTable struct {
	types map[NodeID]*Type
}

func NewTypeTable() *TypeTable {
	return &TypeTable{types: make(map[NodeID]*Type)}
}

func (tt *TypeTable) Set(n *Node, typ *Type) {
	if n != nil && typ != nil {
		tt.types[n.ID] = typ
	}
}

// TypeOf returns the resolved type of a node, or TypeUntyped when the node
// was never checked (only possible on invalid input).
func (tt *TypeTable) TypeOf(n *Node) *Type {
	if n == nil {
		return TypeUntyped
	}
	if t, ok := tt.types[n.ID]; ok {
		return t
	}
	return TypeUntyped
}

// Has reports whether the node has a resolved type.
func (tt *TypeTable) Has(n *Node) bool {
	if n == nil {
		return false
	}
	_, ok := tt.types[n.ID]
	return ok
}

// Transfer records the source node's type for a rebuilt replacement node.
func (tt *TypeTable) Transfer(from, to *Node) {
	if t, ok := tt.types[from.ID]; ok {
		tt.types[to.ID] = t
	}
}

func (tt *TypeTable) Len() int { return len(tt.types) }
