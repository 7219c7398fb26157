package lower

import (
	"math/big"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/diag"
)

func bigInt(v int) *big.Int { return big.NewInt(int64(v)) }

// constIndex extracts a non-negative machine-sized index from a literal.
func constIndex(n *ast.Node) (int, bool) {
	lit, ok := n.Data.(ast.LiteralNode)
	if !ok || lit.LitKind != ast.LitInteger || !lit.Int.IsInt64() {
		return 0, false
	}
	v := lit.Int.Int64()
	if v < 0 {
		return 0, false
	}
	return int(v), true
}

// ValidateIndices runs after unrolling and the second fold, when every array
// index must have reduced to a literal. It checks each index against the
// array's length.
func ValidateIndices(prog *ast.Program, types *ast.TypeTable, bag *diag.Bag) {
	v := &indexValidator{types: types, bag: bag}
	for _, scope := range prog.Scopes {
		for _, fn := range scope.Functions {
			d := fn.Data.(ast.FuncDeclNode)
			v.stmt(d.Body)
		}
	}
}

type indexValidator struct {
	types *ast.TypeTable
	bag   *diag.Bag
}

func (v *indexValidator) stmt(n *ast.Node) {
	if n == nil {
		return
	}
	switch d := n.Data.(type) {
	case ast.BlockNode:
		for _, s := range d.Stmts {
			v.stmt(s)
		}
	case ast.VarDeclNode:
		v.expr(d.Value)
	case ast.ConstDeclNode:
		v.expr(d.Value)
	case ast.AssignNode:
		v.expr(d.Target)
		v.expr(d.Value)
	case ast.ConditionalNode:
		v.expr(d.Cond)
		v.stmt(d.Then)
		v.stmt(d.Else)
	case ast.IterationNode:
		v.expr(d.Start)
		v.expr(d.End)
		v.stmt(d.Body)
	case ast.ReturnNode:
		v.expr(d.Expr)
	case ast.ExprStmtNode:
		v.expr(d.Expr)
	case ast.ConsoleNode:
		for _, arg := range d.Args {
			v.expr(arg)
		}
	case ast.MappingUpdateNode:
		v.expr(d.Key)
		v.expr(d.Value)
	case ast.FinalizeCallNode:
		for _, arg := range d.Args {
			v.expr(arg)
		}
	}
}

func (v *indexValidator) expr(n *ast.Node) {
	if n == nil {
		return
	}
	switch d := n.Data.(type) {
	case ast.BinaryNode:
		v.expr(d.Left)
		v.expr(d.Right)
	case ast.UnaryNode:
		v.expr(d.Expr)
	case ast.CallNode:
		for _, arg := range d.Args {
			v.expr(arg)
		}
	case ast.ArrayAccessNode:
		v.expr(d.Array)
		v.expr(d.Index)
		arrType := v.types.TypeOf(d.Array)
		idx, ok := constIndex(d.Index)
		if !ok {
			v.bag.Add(diag.ConstantRequired, d.Index.Span, "array index must reduce to a constant")
			return
		}
		if arrType.Kind == ast.TYPE_ARRAY && idx >= arrType.Size {
			v.bag.Add(diag.Structural, n.Span, "array index %d out of bounds for length %d", idx, arrType.Size)
		}
	case ast.MemberAccessNode:
		v.expr(d.Expr)
	case ast.TupleAccessNode:
		v.expr(d.Expr)
	case ast.CastNode:
		v.expr(d.Expr)
	case ast.TernaryNode:
		v.expr(d.Cond)
		v.expr(d.Then)
		v.expr(d.Else)
	case ast.StructInitNode:
		for _, f := range d.Fields {
			v.expr(f.Value)
		}
	case ast.ArrayInitNode:
		for _, e := range d.Elems {
			v.expr(e)
		}
		v.expr(d.Repeat)
		v.expr(d.Count)
	case ast.TupleInitNode:
		for _, e := range d.Elems {
			v.expr(e)
		}
	}
}
