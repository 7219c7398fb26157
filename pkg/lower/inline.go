package lower

import (
	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/config"
	"github.com/lumen-lang/lumc/pkg/diag"
	"github.com/lumen-lang/lumc/pkg/span"
	"github.com/lumen-lang/lumc/pkg/typeChecker"
)

// Inliner replaces every local function call by the callee's body: argument
// bindings, the body's statements with freshly renamed locals, and a result
// binding from the callee's return expression. Functions are processed in
// reverse topological order of the call graph, so a callee is fully inlined
// before any of its callers; recursion is rejected.
//
// After this pass only transitions and finalize functions remain; helper
// functions have been absorbed into their callers.
type Inliner struct {
	a          *ast.Assigner
	types      *ast.TypeTable
	cfg        *config.Config
	bag        *diag.Bag
	calls      *typeChecker.CallGraph
	indicators map[ast.NodeID]*ast.Node

	funcs     map[string]*ast.Node // qualified name -> current declaration
	scopeName string
	depth     int
}

func NewInliner(a *ast.Assigner, types *ast.TypeTable, cfg *config.Config, bag *diag.Bag,
	calls *typeChecker.CallGraph, indicators map[ast.NodeID]*ast.Node) *Inliner {
	return &Inliner{a: a, types: types, cfg: cfg, bag: bag, calls: calls, indicators: indicators}
}

func (in *Inliner) Run(prog *ast.Program) *ast.Program {
	order, cyclic := in.calls.ReverseTopo()
	if cyclic != "" {
		in.bag.Add(diag.Structural, span.Span{}, "recursive call involving '%s'; recursion cannot be lowered to a circuit", cyclic)
		return prog
	}

	in.funcs = make(map[string]*ast.Node)
	scopeOf := make(map[string]string)
	for _, scope := range prog.Scopes {
		for _, fn := range scope.Functions {
			d := fn.Data.(ast.FuncDeclNode)
			qual := scope.Name + "/" + d.Name
			in.funcs[qual] = fn
			scopeOf[qual] = scope.Name
		}
	}

	for _, qual := range order {
		fn, ok := in.funcs[qual]
		if !ok {
			continue
		}
		in.scopeName = scopeOf[qual]
		in.funcs[qual] = in.inlineFunc(fn)
	}

	out := &ast.Program{}
	for _, scope := range prog.Scopes {
		newScope := &ast.Scope{
			Name:     scope.Name,
			Structs:  scope.Structs,
			Mappings: scope.Mappings,
			Consts:   scope.Consts,
		}
		for _, fn := range scope.Functions {
			d := fn.Data.(ast.FuncDeclNode)
			if d.FuncKind != ast.FuncTransition && d.FuncKind != ast.FuncFinalize {
				continue
			}
			newScope.Functions = append(newScope.Functions, in.funcs[scope.Name+"/"+d.Name])
		}
		out.Scopes = append(out.Scopes, newScope)
	}
	return out
}

func (in *Inliner) inlineFunc(n *ast.Node) *ast.Node {
	d := n.Data.(ast.FuncDeclNode)
	body := d.Body.Data.(ast.BlockNode)
	var stmts []*ast.Node
	for _, stmt := range body.Stmts {
		stmts = append(stmts, in.inlineStmt(stmt)...)
	}
	newBody := in.a.NewBlock(d.Body.Span, stmts)
	in.types.Transfer(d.Body, newBody)
	rebuilt := in.a.NewFuncDecl(n.Span, d.Name, d.FuncKind, d.Params, d.ReturnType, d.ReturnMode, newBody)
	in.types.Transfer(n, rebuilt)
	return rebuilt
}

func (in *Inliner) inlineStmt(n *ast.Node) []*ast.Node {
	ind := in.indicators[n.ID]
	switch d := n.Data.(type) {
	case ast.VarDeclNode:
		value, prelude := in.inlineExpr(d.Value, ind)
		if value == d.Value {
			return append(prelude, n)
		}
		rebuilt := in.a.NewVarDecl(n.Span, d.Name, d.Mutable, d.Type, value)
		in.types.Transfer(n, rebuilt)
		in.transferIndicator(n, rebuilt)
		return append(prelude, rebuilt)
	case ast.ConstDeclNode:
		value, prelude := in.inlineExpr(d.Value, ind)
		if value == d.Value {
			return append(prelude, n)
		}
		rebuilt := in.a.NewConstDecl(n.Span, d.Name, d.Type, value)
		in.types.Transfer(n, rebuilt)
		in.transferIndicator(n, rebuilt)
		return append(prelude, rebuilt)
	case ast.ReturnNode:
		if d.Expr == nil {
			return []*ast.Node{n}
		}
		expr, prelude := in.inlineExpr(d.Expr, ind)
		if expr == d.Expr {
			return append(prelude, n)
		}
		rebuilt := in.a.NewReturn(n.Span, expr)
		in.types.Transfer(n, rebuilt)
		return append(prelude, rebuilt)
	case ast.ExprStmtNode:
		expr, prelude := in.inlineExpr(d.Expr, ind)
		if expr == nil {
			// A unit-returning call dissolved entirely into its body.
			return prelude
		}
		if expr == d.Expr {
			return append(prelude, n)
		}
		rebuilt := in.a.NewExprStmt(n.Span, expr)
		in.types.Transfer(n, rebuilt)
		in.transferIndicator(n, rebuilt)
		return append(prelude, rebuilt)
	case ast.ConsoleNode:
		args, prelude, changed := in.inlineExprs(d.Args, ind)
		if !changed {
			return append(prelude, n)
		}
		rebuilt := in.a.NewGuardedConsole(n.Span, d.ConsoleKind, args, d.Guard)
		in.types.Transfer(n, rebuilt)
		in.transferIndicator(n, rebuilt)
		return append(prelude, rebuilt)
	case ast.MappingUpdateNode:
		key, p1 := in.inlineExpr(d.Key, ind)
		value, p2 := in.inlineExpr(d.Value, ind)
		prelude := append(p1, p2...)
		if key == d.Key && value == d.Value {
			return append(prelude, n)
		}
		rebuilt := in.a.NewGuardedMappingUpdate(n.Span, d.Mapping, key, value, d.Guard)
		in.types.Transfer(n, rebuilt)
		in.transferIndicator(n, rebuilt)
		return append(prelude, rebuilt)
	case ast.FinalizeCallNode:
		args, prelude, changed := in.inlineExprs(d.Args, ind)
		if !changed {
			return append(prelude, n)
		}
		rebuilt := in.a.NewGuardedFinalizeCall(n.Span, args, d.Guard)
		in.types.Transfer(n, rebuilt)
		in.transferIndicator(n, rebuilt)
		return append(prelude, rebuilt)
	}
	return []*ast.Node{n}
}

func (in *Inliner) transferIndicator(from, to *ast.Node) {
	if ind, ok := in.indicators[from.ID]; ok {
		in.indicators[to.ID] = ind
	}
}

func (in *Inliner) inlineExprs(list []*ast.Node, ind *ast.Node) ([]*ast.Node, []*ast.Node, bool) {
	out := make([]*ast.Node, len(list))
	var prelude []*ast.Node
	changed := false
	for i, e := range list {
		expr, p := in.inlineExpr(e, ind)
		out[i] = expr
		prelude = append(prelude, p...)
		if expr != e {
			changed = true
		}
	}
	return out, prelude, changed
}

// inlineExpr rewrites an expression, expanding local calls. It returns the
// replacement expression (nil when a unit call dissolved) and the statements
// that must precede the enclosing statement.
func (in *Inliner) inlineExpr(n *ast.Node, ind *ast.Node) (*ast.Node, []*ast.Node) {
	if n == nil {
		return nil, nil
	}
	switch d := n.Data.(type) {
	case ast.CallNode:
		if d.Builtin || d.Program != "" {
			args, prelude, changed := in.inlineExprs(d.Args, ind)
			if !changed {
				return n, prelude
			}
			rebuilt := in.a.NewCall(n.Span, d.Program, d.Callee, d.Builtin, args)
			in.types.Transfer(n, rebuilt)
			return rebuilt, prelude
		}
		return in.expandCall(n, d, ind)
	case ast.BinaryNode:
		left, p1 := in.inlineExpr(d.Left, ind)
		right, p2 := in.inlineExpr(d.Right, ind)
		prelude := append(p1, p2...)
		if left == d.Left && right == d.Right {
			return n, prelude
		}
		rebuilt := in.a.NewBinary(n.Span, d.Op, left, right)
		in.types.Transfer(n, rebuilt)
		return rebuilt, prelude
	case ast.UnaryNode:
		expr, prelude := in.inlineExpr(d.Expr, ind)
		if expr == d.Expr {
			return n, prelude
		}
		rebuilt := in.a.NewUnary(n.Span, d.Op, expr)
		in.types.Transfer(n, rebuilt)
		return rebuilt, prelude
	case ast.CastNode:
		expr, prelude := in.inlineExpr(d.Expr, ind)
		if expr == d.Expr {
			return n, prelude
		}
		rebuilt := in.a.NewCast(n.Span, expr, d.Target)
		in.types.Transfer(n, rebuilt)
		return rebuilt, prelude
	case ast.TernaryNode:
		cond, p1 := in.inlineExpr(d.Cond, ind)
		then, p2 := in.inlineExpr(d.Then, ind)
		els, p3 := in.inlineExpr(d.Else, ind)
		prelude := append(append(p1, p2...), p3...)
		if cond == d.Cond && then == d.Then && els == d.Else {
			return n, prelude
		}
		rebuilt := in.a.NewTernary(n.Span, cond, then, els)
		in.types.Transfer(n, rebuilt)
		return rebuilt, prelude
	case ast.ArrayAccessNode:
		array, p1 := in.inlineExpr(d.Array, ind)
		index, p2 := in.inlineExpr(d.Index, ind)
		prelude := append(p1, p2...)
		if array == d.Array && index == d.Index {
			return n, prelude
		}
		rebuilt := in.a.NewArrayAccess(n.Span, array, index)
		in.types.Transfer(n, rebuilt)
		return rebuilt, prelude
	case ast.MemberAccessNode:
		expr, prelude := in.inlineExpr(d.Expr, ind)
		if expr == d.Expr {
			return n, prelude
		}
		rebuilt := in.a.NewMemberAccess(n.Span, expr, d.Member)
		in.types.Transfer(n, rebuilt)
		return rebuilt, prelude
	case ast.TupleAccessNode:
		expr, prelude := in.inlineExpr(d.Expr, ind)
		if expr == d.Expr {
			return n, prelude
		}
		rebuilt := in.a.NewTupleAccess(n.Span, expr, d.Index)
		in.types.Transfer(n, rebuilt)
		return rebuilt, prelude
	case ast.StructInitNode:
		fields := make([]ast.FieldInit, len(d.Fields))
		var prelude []*ast.Node
		changed := false
		for i, f := range d.Fields {
			value, p := in.inlineExpr(f.Value, ind)
			fields[i] = ast.FieldInit{Name: f.Name, Value: value}
			prelude = append(prelude, p...)
			if value != f.Value {
				changed = true
			}
		}
		if !changed {
			return n, prelude
		}
		rebuilt := in.a.NewStructInit(n.Span, d.Name, fields)
		in.types.Transfer(n, rebuilt)
		return rebuilt, prelude
	case ast.ArrayInitNode:
		if d.Repeat != nil {
			repeat, prelude := in.inlineExpr(d.Repeat, ind)
			if repeat == d.Repeat {
				return n, prelude
			}
			rebuilt := in.a.NewArrayRepeat(n.Span, repeat, d.Count)
			in.types.Transfer(n, rebuilt)
			return rebuilt, prelude
		}
		elems, prelude, changed := in.inlineExprs(d.Elems, ind)
		if !changed {
			return n, prelude
		}
		rebuilt := in.a.NewArrayInit(n.Span, elems)
		in.types.Transfer(n, rebuilt)
		return rebuilt, prelude
	case ast.TupleInitNode:
		elems, prelude, changed := in.inlineExprs(d.Elems, ind)
		if !changed {
			return n, prelude
		}
		rebuilt := in.a.NewTupleInit(n.Span, elems)
		in.types.Transfer(n, rebuilt)
		return rebuilt, prelude
	}
	return n, nil
}

// expandCall splices the callee body at the call site: argument bindings,
// renamed body statements with the caller's indicator conjoined onto every
// effect, then a binding for the return value.
func (in *Inliner) expandCall(n *ast.Node, d ast.CallNode, ind *ast.Node) (*ast.Node, []*ast.Node) {
	callee, ok := in.funcs[in.scopeName+"/"+d.Callee]
	if !ok {
		return n, nil
	}
	if in.depth >= in.cfg.Limits.MaxInlineDepth {
		in.bag.Add(diag.Structural, n.Span, "inlining depth exceeds the limit (%d)", in.cfg.Limits.MaxInlineDepth)
		return n, nil
	}
	in.depth++
	defer func() { in.depth-- }()
	cd := callee.Data.(ast.FuncDeclNode)

	var prelude []*ast.Node
	c := newCloner(in.a, in.types)

	for i, p := range cd.Params {
		arg, argPrelude := in.inlineExpr(d.Args[i], ind)
		prelude = append(prelude, argPrelude...)
		fresh := in.a.Fresh(p.Name)
		bind := in.a.NewVarDecl(n.Span, fresh, false, p.Type, arg)
		in.types.Set(bind, p.Type)
		if ind != nil {
			in.indicators[bind.ID] = ind
		}
		prelude = append(prelude, bind)
		c.rename[p.Name] = fresh
	}

	locals := make(map[string]bool)
	declaredNames(cd.Body, locals)
	for name := range locals {
		c.rename[name] = in.a.Fresh(name)
	}

	var result *ast.Node
	body := cd.Body.Data.(ast.BlockNode)
	for _, stmt := range body.Stmts {
		if ret, isReturn := stmt.Data.(ast.ReturnNode); isReturn {
			if ret.Expr != nil {
				retName := in.a.Fresh(d.Callee)
				retType := in.types.TypeOf(ret.Expr)
				bind := in.a.NewVarDecl(stmt.Span, retName, false, retType, c.expr(ret.Expr))
				in.types.Set(bind, retType)
				if ind != nil {
					in.indicators[bind.ID] = ind
				}
				prelude = append(prelude, bind)
				result = in.a.NewIdent(n.Span, retName)
				in.types.Set(result, retType)
			}
			continue
		}
		cloned := c.stmt(stmt)
		cloned = in.applyGuard(cloned, ind)
		if ind != nil {
			in.indicators[cloned.ID] = ind
		}
		prelude = append(prelude, cloned)
	}
	return result, prelude
}

// applyGuard conjoins the caller's indicator onto an inlined effectful
// statement's guard.
func (in *Inliner) applyGuard(n *ast.Node, ind *ast.Node) *ast.Node {
	if ind == nil {
		return n
	}
	conj := func(existing *ast.Node) *ast.Node {
		c := newCloner(in.a, in.types)
		if existing == nil {
			return c.expr(ind)
		}
		g := in.a.NewBinary(n.Span, ast.OpAnd, c.expr(ind), existing)
		in.types.Set(g, ast.TypeBool)
		return g
	}
	switch d := n.Data.(type) {
	case ast.ConsoleNode:
		out := in.a.NewGuardedConsole(n.Span, d.ConsoleKind, d.Args, conj(d.Guard))
		in.types.Transfer(n, out)
		return out
	case ast.MappingUpdateNode:
		out := in.a.NewGuardedMappingUpdate(n.Span, d.Mapping, d.Key, d.Value, conj(d.Guard))
		in.types.Transfer(n, out)
		return out
	case ast.FinalizeCallNode:
		out := in.a.NewGuardedFinalizeCall(n.Span, d.Args, conj(d.Guard))
		in.types.Transfer(n, out)
		return out
	}
	return n
}
