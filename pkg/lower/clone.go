// Package lower holds the passes that turn a type-checked tree into the
// final branch-free, single-assignment form: loop unrolling, SSA conversion,
// conditional flattening, inlining, destructuring and dead code elimination.
package lower

import (
	"github.com/lumen-lang/lumc/pkg/ast"
)

// cloner deep-copies a subtree through the Assigner so every copy carries
// fresh node IDs. subst replaces identifier uses by an expression (itself
// cloned per use); rename gives declarations and uses a new name. Both are
// keyed by source name.
type cloner struct {
	a      *ast.Assigner
	types  *ast.TypeTable
	subst  map[string]*ast.Node
	rename map[string]string
}

func newCloner(a *ast.Assigner, types *ast.TypeTable) *cloner {
	return &cloner{a: a, types: types, subst: map[string]*ast.Node{}, rename: map[string]string{}}
}

func (c *cloner) name(n string) string {
	if to, ok := c.rename[n]; ok {
		return to
	}
	return n
}

// declaredNames collects every name a statement subtree declares: variables,
// constants and loop variables.
func declaredNames(n *ast.Node, out map[string]bool) {
	if n == nil {
		return
	}
	switch d := n.Data.(type) {
	case ast.BlockNode:
		for _, s := range d.Stmts {
			declaredNames(s, out)
		}
	case ast.VarDeclNode:
		out[d.Name] = true
	case ast.ConstDeclNode:
		out[d.Name] = true
	case ast.ConditionalNode:
		declaredNames(d.Then, out)
		declaredNames(d.Else, out)
	case ast.IterationNode:
		out[d.Var] = true
		declaredNames(d.Body, out)
	}
}

func (c *cloner) stmt(n *ast.Node) *ast.Node {
	if n == nil {
		return nil
	}
	var out *ast.Node
	switch d := n.Data.(type) {
	case ast.BlockNode:
		out = c.block(n)
	case ast.VarDeclNode:
		out = c.a.NewVarDecl(n.Span, c.name(d.Name), d.Mutable, d.Type, c.expr(d.Value))
	case ast.ConstDeclNode:
		out = c.a.NewConstDecl(n.Span, c.name(d.Name), d.Type, c.expr(d.Value))
	case ast.AssignNode:
		out = c.a.NewAssign(n.Span, d.Op, c.expr(d.Target), c.expr(d.Value))
	case ast.ConditionalNode:
		out = c.a.NewConditional(n.Span, c.expr(d.Cond), c.stmt(d.Then), c.stmt(d.Else))
	case ast.IterationNode:
		out = c.a.NewIteration(n.Span, c.name(d.Var), d.VarType, c.expr(d.Start), c.expr(d.End), d.Inclusive, c.block(d.Body))
	case ast.ReturnNode:
		out = c.a.NewReturn(n.Span, c.expr(d.Expr))
	case ast.ExprStmtNode:
		out = c.a.NewExprStmt(n.Span, c.expr(d.Expr))
	case ast.ConsoleNode:
		out = c.a.NewGuardedConsole(n.Span, d.ConsoleKind, c.exprs(d.Args), c.expr(d.Guard))
	case ast.MappingUpdateNode:
		out = c.a.NewGuardedMappingUpdate(n.Span, d.Mapping, c.expr(d.Key), c.expr(d.Value), c.expr(d.Guard))
	case ast.FinalizeCallNode:
		out = c.a.NewGuardedFinalizeCall(n.Span, c.exprs(d.Args), c.expr(d.Guard))
	default:
		return n
	}
	c.types.Transfer(n, out)
	return out
}

func (c *cloner) block(n *ast.Node) *ast.Node {
	if n == nil {
		return nil
	}
	d := n.Data.(ast.BlockNode)
	stmts := make([]*ast.Node, 0, len(d.Stmts))
	for _, s := range d.Stmts {
		stmts = append(stmts, c.stmt(s))
	}
	out := c.a.NewBlock(n.Span, stmts)
	c.types.Transfer(n, out)
	return out
}

func (c *cloner) exprs(list []*ast.Node) []*ast.Node {
	if list == nil {
		return nil
	}
	out := make([]*ast.Node, len(list))
	for i, e := range list {
		out[i] = c.expr(e)
	}
	return out
}

func (c *cloner) expr(n *ast.Node) *ast.Node {
	if n == nil {
		return nil
	}
	var out *ast.Node
	switch d := n.Data.(type) {
	case ast.LiteralNode:
		out = c.cloneLiteral(n, d)
	case ast.IdentNode:
		if repl, ok := c.subst[d.Name]; ok {
			// Substitutions are cloned per use so IDs stay unique.
			inner := newCloner(c.a, c.types)
			return inner.expr(repl)
		}
		out = c.a.NewIdent(n.Span, c.name(d.Name))
	case ast.BinaryNode:
		out = c.a.NewBinary(n.Span, d.Op, c.expr(d.Left), c.expr(d.Right))
	case ast.UnaryNode:
		out = c.a.NewUnary(n.Span, d.Op, c.expr(d.Expr))
	case ast.CallNode:
		out = c.a.NewCall(n.Span, d.Program, d.Callee, d.Builtin, c.exprs(d.Args))
	case ast.ArrayAccessNode:
		out = c.a.NewArrayAccess(n.Span, c.expr(d.Array), c.expr(d.Index))
	case ast.MemberAccessNode:
		out = c.a.NewMemberAccess(n.Span, c.expr(d.Expr), d.Member)
	case ast.TupleAccessNode:
		out = c.a.NewTupleAccess(n.Span, c.expr(d.Expr), d.Index)
	case ast.CastNode:
		out = c.a.NewCast(n.Span, c.expr(d.Expr), d.Target)
	case ast.TernaryNode:
		out = c.a.NewTernary(n.Span, c.expr(d.Cond), c.expr(d.Then), c.expr(d.Else))
	case ast.StructInitNode:
		fields := make([]ast.FieldInit, len(d.Fields))
		for i, f := range d.Fields {
			fields[i] = ast.FieldInit{Name: f.Name, Value: c.expr(f.Value)}
		}
		out = c.a.NewStructInit(n.Span, d.Name, fields)
	case ast.ArrayInitNode:
		if d.Repeat != nil {
			out = c.a.NewArrayRepeat(n.Span, c.expr(d.Repeat), c.expr(d.Count))
		} else {
			out = c.a.NewArrayInit(n.Span, c.exprs(d.Elems))
		}
	case ast.TupleInitNode:
		out = c.a.NewTupleInit(n.Span, c.exprs(d.Elems))
	default:
		return n
	}
	c.types.Transfer(n, out)
	return out
}

func (c *cloner) cloneLiteral(n *ast.Node, d ast.LiteralNode) *ast.Node {
	switch d.LitKind {
	case ast.LitInteger:
		return c.a.NewIntLiteral(n.Span, d.Int, d.Typ)
	case ast.LitField:
		return c.a.NewFieldLiteral(n.Span, d.Int)
	case ast.LitGroup:
		return c.a.NewGroupLiteral(n.Span, d.Int)
	case ast.LitScalar:
		return c.a.NewScalarLiteral(n.Span, d.Int)
	case ast.LitBool:
		return c.a.NewBoolLiteral(n.Span, d.Bool)
	default:
		return c.a.NewAddressLiteral(n.Span, d.Text)
	}
}
