// Package fold implements compile-time constant evaluation: arithmetic on
// literals is computed exactly at the declared width, constant bindings are
// propagated forward, and conditionals with constant conditions collapse to
// the taken branch. The pass runs twice, before and after loop unrolling, so
// expressions over loop variables fold once the unroller substitutes them.
//
// Field, group and scalar arithmetic is never folded: those operations are
// defined modulo the target curve's primes, which belong to the backend.
package fold

import (
	"math/big"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/config"
	"github.com/lumen-lang/lumc/pkg/diag"
	"github.com/lumen-lang/lumc/pkg/span"
)

type Folder struct {
	a     *ast.Assigner
	types *ast.TypeTable
	cfg   *config.Config
	bag   *diag.Bag
}

func New(a *ast.Assigner, types *ast.TypeTable, cfg *config.Config, bag *diag.Bag) *Folder {
	return &Folder{a: a, types: types, cfg: cfg, bag: bag}
}

// env maps in-scope names to the literal node they are known to hold.
type env map[string]*ast.Node

func (e env) clone() env {
	out := make(env, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Run folds every function in the program and returns the rebuilt program.
// Nodes are never mutated; changed subtrees are rebuilt through the Assigner
// and inherit their type table entries.
func (f *Folder) Run(prog *ast.Program) *ast.Program {
	out := &ast.Program{}
	for _, scope := range prog.Scopes {
		newScope := &ast.Scope{
			Name:     scope.Name,
			Structs:  scope.Structs,
			Mappings: scope.Mappings,
		}
		consts := make(env)
		for _, c := range scope.Consts {
			newScope.Consts = append(newScope.Consts, f.foldConstDecl(c, consts))
		}
		for _, fn := range scope.Functions {
			newScope.Functions = append(newScope.Functions, f.foldFunc(fn, consts))
		}
		out.Scopes = append(out.Scopes, newScope)
	}
	return out
}

// FoldExpr folds a single expression with no name bindings in scope. The
// loop unroller uses it to reduce loop bounds after substitution.
func (f *Folder) FoldExpr(n *ast.Node) *ast.Node {
	return f.foldExpr(n, make(env))
}

func (f *Folder) foldConstDecl(n *ast.Node, e env) *ast.Node {
	d := n.Data.(ast.ConstDeclNode)
	value := f.foldExpr(d.Value, e)
	if isLiteral(value) {
		e[d.Name] = value
	}
	if value == d.Value {
		return n
	}
	rebuilt := f.a.NewConstDecl(n.Span, d.Name, d.Type, value)
	f.types.Transfer(n, rebuilt)
	return rebuilt
}

func (f *Folder) foldFunc(n *ast.Node, consts env) *ast.Node {
	d := n.Data.(ast.FuncDeclNode)
	body := f.foldBlock(d.Body, consts.clone())
	if body == d.Body {
		return n
	}
	rebuilt := f.a.NewFuncDecl(n.Span, d.Name, d.FuncKind, d.Params, d.ReturnType, d.ReturnMode, body)
	f.types.Transfer(n, rebuilt)
	return rebuilt
}

// foldBlock folds a block's statements against e, mutating e so bindings
// established by one statement reach the next. Callers pass a clone when the
// block's bindings must not escape.
func (f *Folder) foldBlock(block *ast.Node, e env) *ast.Node {
	d := block.Data.(ast.BlockNode)
	stmts := make([]*ast.Node, 0, len(d.Stmts))
	changed := false
	for _, stmt := range d.Stmts {
		out := f.foldStmt(stmt, e)
		if out != stmt {
			changed = true
		}
		if out != nil {
			stmts = append(stmts, out)
		}
	}
	if !changed {
		return block
	}
	rebuilt := f.a.NewBlock(block.Span, stmts)
	f.types.Transfer(block, rebuilt)
	return rebuilt
}

func (f *Folder) foldStmt(n *ast.Node, e env) *ast.Node {
	switch d := n.Data.(type) {
	case ast.BlockNode:
		// A nested block runs exactly once, so assignments flow through to
		// the enclosing bindings. Its own declarations stay block-local:
		// any binding they shadow is restored on exit.
		declared := blockDecls(n)
		saved := make(env, len(declared))
		for name := range declared {
			if v, ok := e[name]; ok {
				saved[name] = v
			}
		}
		out := f.foldBlock(n, e)
		for name := range declared {
			if v, ok := saved[name]; ok {
				e[name] = v
			} else {
				delete(e, name)
			}
		}
		return out
	case ast.VarDeclNode:
		value := f.foldExpr(d.Value, e)
		if isLiteral(value) {
			e[d.Name] = value
		} else {
			delete(e, d.Name)
		}
		if value == d.Value {
			return n
		}
		rebuilt := f.a.NewVarDecl(n.Span, d.Name, d.Mutable, d.Type, value)
		f.types.Transfer(n, rebuilt)
		return rebuilt
	case ast.ConstDeclNode:
		return f.foldConstDecl(n, e)
	case ast.AssignNode:
		return f.foldAssign(n, d, e)
	case ast.ConditionalNode:
		return f.foldConditional(n, d, e)
	case ast.IterationNode:
		return f.foldIteration(n, d, e)
	case ast.ReturnNode:
		if d.Expr == nil {
			return n
		}
		expr := f.foldExpr(d.Expr, e)
		if expr == d.Expr {
			return n
		}
		rebuilt := f.a.NewReturn(n.Span, expr)
		f.types.Transfer(n, rebuilt)
		return rebuilt
	case ast.ExprStmtNode:
		expr := f.foldExpr(d.Expr, e)
		if expr == d.Expr {
			return n
		}
		rebuilt := f.a.NewExprStmt(n.Span, expr)
		f.types.Transfer(n, rebuilt)
		return rebuilt
	case ast.ConsoleNode:
		args, changed := f.foldExprs(d.Args, e)
		guard := f.foldGuard(d.Guard, e)
		if !changed && guard == d.Guard {
			return n
		}
		rebuilt := f.a.NewGuardedConsole(n.Span, d.ConsoleKind, args, guard)
		f.types.Transfer(n, rebuilt)
		return rebuilt
	case ast.MappingUpdateNode:
		key, value := f.foldExpr(d.Key, e), f.foldExpr(d.Value, e)
		guard := f.foldGuard(d.Guard, e)
		if key == d.Key && value == d.Value && guard == d.Guard {
			return n
		}
		rebuilt := f.a.NewGuardedMappingUpdate(n.Span, d.Mapping, key, value, guard)
		f.types.Transfer(n, rebuilt)
		return rebuilt
	case ast.FinalizeCallNode:
		args, changed := f.foldExprs(d.Args, e)
		guard := f.foldGuard(d.Guard, e)
		if !changed && guard == d.Guard {
			return n
		}
		rebuilt := f.a.NewGuardedFinalizeCall(n.Span, args, guard)
		f.types.Transfer(n, rebuilt)
		return rebuilt
	}
	return n
}

func (f *Folder) foldGuard(guard *ast.Node, e env) *ast.Node {
	if guard == nil {
		return nil
	}
	return f.foldExpr(guard, e)
}

func (f *Folder) foldAssign(n *ast.Node, d ast.AssignNode, e env) *ast.Node {
	value := f.foldExpr(d.Value, e)
	target := d.Target
	if target.Kind != ast.Ident {
		target = f.foldExpr(target, e)
	}
	op := d.Op
	if ident, ok := d.Target.Data.(ast.IdentNode); ok {
		// An op-assign over a known binding folds like its desugared
		// binary form.
		if bin, isOp := op.BinaryFor(); isOp {
			if bound, known := e[ident.Name]; known {
				if folded := f.evalBinary(n, bin, bound, value); folded != nil {
					value, op = folded, ast.AssignSet
				}
			}
		}
		if op == ast.AssignSet && isLiteral(value) {
			e[ident.Name] = value
		} else {
			delete(e, ident.Name)
		}
	}
	if value == d.Value && target == d.Target && op == d.Op {
		return n
	}
	rebuilt := f.a.NewAssign(n.Span, op, target, value)
	f.types.Transfer(n, rebuilt)
	return rebuilt
}

// foldConditional collapses the conditional to the taken branch when the
// condition folds to a constant. Otherwise both branches are folded with
// bindings that survive assignment in either branch.
func (f *Folder) foldConditional(n *ast.Node, d ast.ConditionalNode, e env) *ast.Node {
	cond := f.foldExpr(d.Cond, e)
	if lit, ok := literalBool(cond); ok {
		taken := d.Then
		if !lit {
			taken = d.Else
		}
		f.killAssigned(d.Then, e)
		if d.Else != nil {
			f.killAssigned(d.Else, e)
		}
		if taken == nil {
			return nil
		}
		return f.foldStmt(taken, e.clone())
	}

	branchEnv := func() env {
		if f.cfg.IsFeatureEnabled(config.FeatConstPropBranches) {
			inner := e.clone()
			f.killAssigned(d.Then, inner)
			if d.Else != nil {
				f.killAssigned(d.Else, inner)
			}
			return inner
		}
		return make(env)
	}
	then := f.foldStmt(d.Then, branchEnv())
	var els *ast.Node
	if d.Else != nil {
		els = f.foldStmt(d.Else, branchEnv())
	}
	f.killAssigned(d.Then, e)
	if d.Else != nil {
		f.killAssigned(d.Else, e)
	}
	if cond == d.Cond && then == d.Then && els == d.Else {
		return n
	}
	rebuilt := f.a.NewConditional(n.Span, cond, then, els)
	f.types.Transfer(n, rebuilt)
	return rebuilt
}

func (f *Folder) foldIteration(n *ast.Node, d ast.IterationNode, e env) *ast.Node {
	start, end := f.foldExpr(d.Start, e), f.foldExpr(d.End, e)
	inner := e.clone()
	f.killAssigned(d.Body, inner)
	delete(inner, d.Var)
	body := f.foldBlock(d.Body, inner)
	f.killAssigned(d.Body, e)
	if start == d.Start && end == d.End && body == d.Body {
		return n
	}
	rebuilt := f.a.NewIteration(n.Span, d.Var, d.VarType, start, end, d.Inclusive, body)
	f.types.Transfer(n, rebuilt)
	return rebuilt
}

// blockDecls collects the names declared at the top level of a block.
// Deeper blocks scope their own declarations when their statements fold.
func blockDecls(n *ast.Node) map[string]bool {
	d := n.Data.(ast.BlockNode)
	out := make(map[string]bool, len(d.Stmts))
	for _, s := range d.Stmts {
		switch sd := s.Data.(type) {
		case ast.VarDeclNode:
			out[sd.Name] = true
		case ast.ConstDeclNode:
			out[sd.Name] = true
		}
	}
	return out
}

// killAssigned drops every binding whose name is assigned anywhere within
// the statement subtree.
func (f *Folder) killAssigned(n *ast.Node, e env) {
	if n == nil {
		return
	}
	switch d := n.Data.(type) {
	case ast.BlockNode:
		for _, s := range d.Stmts {
			f.killAssigned(s, e)
		}
	case ast.AssignNode:
		root := d.Target
		for {
			switch t := root.Data.(type) {
			case ast.ArrayAccessNode:
				root = t.Array
				continue
			case ast.MemberAccessNode:
				root = t.Expr
				continue
			case ast.TupleAccessNode:
				root = t.Expr
				continue
			case ast.IdentNode:
				delete(e, t.Name)
			}
			break
		}
	case ast.ConditionalNode:
		f.killAssigned(d.Then, e)
		f.killAssigned(d.Else, e)
	case ast.IterationNode:
		f.killAssigned(d.Body, e)
	}
}

// --- expression folding ---

func isLiteral(n *ast.Node) bool {
	_, ok := n.Data.(ast.LiteralNode)
	return ok
}

func literalBool(n *ast.Node) (bool, bool) {
	lit, ok := n.Data.(ast.LiteralNode)
	if !ok || lit.LitKind != ast.LitBool {
		return false, false
	}
	return lit.Bool, true
}

func literalInt(n *ast.Node) (*big.Int, *ast.Type, bool) {
	lit, ok := n.Data.(ast.LiteralNode)
	if !ok || lit.LitKind != ast.LitInteger {
		return nil, nil, false
	}
	return lit.Int, lit.Typ, true
}

func (f *Folder) foldExprs(exprs []*ast.Node, e env) ([]*ast.Node, bool) {
	out := make([]*ast.Node, len(exprs))
	changed := false
	for i, expr := range exprs {
		out[i] = f.foldExpr(expr, e)
		if out[i] != expr {
			changed = true
		}
	}
	if !changed {
		return exprs, false
	}
	return out, true
}

func (f *Folder) foldExpr(n *ast.Node, e env) *ast.Node {
	switch d := n.Data.(type) {
	case ast.LiteralNode:
		return n
	case ast.IdentNode:
		if lit, ok := e[d.Name]; ok {
			return f.cloneLiteral(lit, n.Span)
		}
		return n
	case ast.BinaryNode:
		return f.foldBinary(n, d, e)
	case ast.UnaryNode:
		return f.foldUnary(n, d, e)
	case ast.CastNode:
		return f.foldCast(n, d, e)
	case ast.TernaryNode:
		cond := f.foldExpr(d.Cond, e)
		if b, ok := literalBool(cond); ok {
			if b {
				return f.foldExpr(d.Then, e)
			}
			return f.foldExpr(d.Else, e)
		}
		then, els := f.foldExpr(d.Then, e), f.foldExpr(d.Else, e)
		if cond == d.Cond && then == d.Then && els == d.Else {
			return n
		}
		rebuilt := f.a.NewTernary(n.Span, cond, then, els)
		f.types.Transfer(n, rebuilt)
		return rebuilt
	case ast.CallNode:
		args, changed := f.foldExprs(d.Args, e)
		if !changed {
			return n
		}
		rebuilt := f.a.NewCall(n.Span, d.Program, d.Callee, d.Builtin, args)
		f.types.Transfer(n, rebuilt)
		return rebuilt
	case ast.ArrayAccessNode:
		array, index := f.foldExpr(d.Array, e), f.foldExpr(d.Index, e)
		if array == d.Array && index == d.Index {
			return n
		}
		rebuilt := f.a.NewArrayAccess(n.Span, array, index)
		f.types.Transfer(n, rebuilt)
		return rebuilt
	case ast.MemberAccessNode:
		expr := f.foldExpr(d.Expr, e)
		if expr == d.Expr {
			return n
		}
		rebuilt := f.a.NewMemberAccess(n.Span, expr, d.Member)
		f.types.Transfer(n, rebuilt)
		return rebuilt
	case ast.TupleAccessNode:
		expr := f.foldExpr(d.Expr, e)
		if expr == d.Expr {
			return n
		}
		rebuilt := f.a.NewTupleAccess(n.Span, expr, d.Index)
		f.types.Transfer(n, rebuilt)
		return rebuilt
	case ast.StructInitNode:
		fields := make([]ast.FieldInit, len(d.Fields))
		changed := false
		for i, fd := range d.Fields {
			fields[i] = ast.FieldInit{Name: fd.Name, Value: f.foldExpr(fd.Value, e)}
			if fields[i].Value != fd.Value {
				changed = true
			}
		}
		if !changed {
			return n
		}
		rebuilt := f.a.NewStructInit(n.Span, d.Name, fields)
		f.types.Transfer(n, rebuilt)
		return rebuilt
	case ast.ArrayInitNode:
		if d.Repeat != nil {
			repeat := f.foldExpr(d.Repeat, e)
			if repeat == d.Repeat {
				return n
			}
			rebuilt := f.a.NewArrayRepeat(n.Span, repeat, d.Count)
			f.types.Transfer(n, rebuilt)
			return rebuilt
		}
		elems, changed := f.foldExprs(d.Elems, e)
		if !changed {
			return n
		}
		rebuilt := f.a.NewArrayInit(n.Span, elems)
		f.types.Transfer(n, rebuilt)
		return rebuilt
	case ast.TupleInitNode:
		elems, changed := f.foldExprs(d.Elems, e)
		if !changed {
			return n
		}
		rebuilt := f.a.NewTupleInit(n.Span, elems)
		f.types.Transfer(n, rebuilt)
		return rebuilt
	}
	return n
}

func (f *Folder) cloneLiteral(lit *ast.Node, sp span.Span) *ast.Node {
	d := lit.Data.(ast.LiteralNode)
	var out *ast.Node
	switch d.LitKind {
	case ast.LitInteger:
		out = f.a.NewIntLiteral(sp, d.Int, d.Typ)
	case ast.LitField:
		out = f.a.NewFieldLiteral(sp, d.Int)
	case ast.LitGroup:
		out = f.a.NewGroupLiteral(sp, d.Int)
	case ast.LitScalar:
		out = f.a.NewScalarLiteral(sp, d.Int)
	case ast.LitBool:
		out = f.a.NewBoolLiteral(sp, d.Bool)
	default:
		out = f.a.NewAddressLiteral(sp, d.Text)
	}
	f.types.Transfer(lit, out)
	return out
}

func (f *Folder) foldBinary(n *ast.Node, d ast.BinaryNode, e env) *ast.Node {
	left, right := f.foldExpr(d.Left, e), f.foldExpr(d.Right, e)
	if out := f.evalBinary(n, d.Op, left, right); out != nil {
		return out
	}
	if left == d.Left && right == d.Right {
		return n
	}
	rebuilt := f.a.NewBinary(n.Span, d.Op, left, right)
	f.types.Transfer(n, rebuilt)
	return rebuilt
}

// evalBinary computes a binary operation over two literals; nil means the
// operation does not fold (non-literal operands or a non-folding type).
func (f *Folder) evalBinary(n *ast.Node, op ast.BinaryOp, left, right *ast.Node) *ast.Node {
	if lb, ok := literalBool(left); ok {
		rb, ok := literalBool(right)
		if !ok {
			return nil
		}
		var v bool
		switch op {
		case ast.OpAnd, ast.OpBitAnd:
			v = lb && rb
		case ast.OpOr, ast.OpBitOr:
			v = lb || rb
		case ast.OpBitXor, ast.OpNeq:
			v = lb != rb
		case ast.OpEq:
			v = lb == rb
		default:
			return nil
		}
		return f.a.NewBoolLiteral(n.Span, v)
	}

	lv, lt, ok := literalInt(left)
	if !ok {
		return nil
	}
	rv, _, ok := literalInt(right)
	if !ok {
		return nil
	}

	if op.IsComparison() {
		cmp := lv.Cmp(rv)
		var v bool
		switch op {
		case ast.OpEq:
			v = cmp == 0
		case ast.OpNeq:
			v = cmp != 0
		case ast.OpLt:
			v = cmp < 0
		case ast.OpGt:
			v = cmp > 0
		case ast.OpLte:
			v = cmp <= 0
		case ast.OpGte:
			v = cmp >= 0
		}
		return f.a.NewBoolLiteral(n.Span, v)
	}

	result := new(big.Int)
	switch op {
	case ast.OpAdd:
		result.Add(lv, rv)
	case ast.OpSub:
		result.Sub(lv, rv)
	case ast.OpMul:
		result.Mul(lv, rv)
	case ast.OpDiv:
		if rv.Sign() == 0 {
			f.bag.Add(diag.Overflow, n.Span, "division by zero in constant expression")
			return nil
		}
		result.Quo(lv, rv)
	case ast.OpRem:
		if rv.Sign() == 0 {
			f.bag.Add(diag.Overflow, n.Span, "remainder by zero in constant expression")
			return nil
		}
		result.Rem(lv, rv)
	case ast.OpPow:
		if !f.evalPow(n, result, lv, rv, lt) {
			return nil
		}
	case ast.OpBitAnd:
		result.And(lv, rv)
	case ast.OpBitOr:
		result.Or(lv, rv)
	case ast.OpBitXor:
		result.Xor(lv, rv)
	case ast.OpShl, ast.OpShr:
		if !rv.IsUint64() || rv.Uint64() >= uint64(lt.Bits) {
			f.bag.Add(diag.Overflow, n.Span, "shift amount %s exceeds the width of '%s'", rv, lt.Name)
			return nil
		}
		if op == ast.OpShl {
			result.Lsh(lv, uint(rv.Uint64()))
		} else {
			result.Rsh(lv, uint(rv.Uint64()))
		}
	default:
		return nil
	}

	if !lt.FitsInteger(result) {
		f.bag.Add(diag.Overflow, n.Span,
			"constant expression %s %s %s overflows '%s'", lv, op, rv, lt.Name)
		return nil
	}
	return f.a.NewIntLiteral(n.Span, result, lt)
}

// evalPow bounds the exponent before computing, so a constant like
// 2u8 ** 200u8 reports overflow instead of allocating a huge integer.
func (f *Folder) evalPow(n *ast.Node, result, base, exp *big.Int, t *ast.Type) bool {
	if exp.Sign() < 0 {
		f.bag.Add(diag.Overflow, n.Span, "negative exponent in constant expression")
		return false
	}
	absBase := new(big.Int).Abs(base)
	if absBase.Cmp(big.NewInt(1)) > 0 && (!exp.IsUint64() || exp.Uint64() > 256) {
		f.bag.Add(diag.Overflow, n.Span, "constant exponentiation overflows '%s'", t.Name)
		return false
	}
	result.Exp(base, exp, nil)
	return true
}

func (f *Folder) foldUnary(n *ast.Node, d ast.UnaryNode, e env) *ast.Node {
	expr := f.foldExpr(d.Expr, e)
	if b, ok := literalBool(expr); ok && d.Op == ast.OpNot {
		return f.a.NewBoolLiteral(n.Span, !b)
	}
	if v, t, ok := literalInt(expr); ok {
		result := new(big.Int)
		switch d.Op {
		case ast.OpNeg:
			result.Neg(v)
		case ast.OpNot:
			// Bitwise complement within the declared width.
			if t.Signed {
				result.Neg(v)
				result.Sub(result, big.NewInt(1))
			} else {
				max := new(big.Int).Lsh(big.NewInt(1), uint(t.Bits))
				max.Sub(max, big.NewInt(1))
				result.Xor(v, max)
			}
		}
		if !t.FitsInteger(result) {
			f.bag.Add(diag.Overflow, n.Span, "constant expression %s%s overflows '%s'", d.Op, v, t.Name)
		} else {
			return f.a.NewIntLiteral(n.Span, result, t)
		}
	}
	if expr == d.Expr {
		return n
	}
	rebuilt := f.a.NewUnary(n.Span, d.Op, expr)
	f.types.Transfer(n, rebuilt)
	return rebuilt
}

func (f *Folder) foldCast(n *ast.Node, d ast.CastNode, e env) *ast.Node {
	expr := f.foldExpr(d.Expr, e)
	if v, _, ok := literalInt(expr); ok && d.Target.IsInteger() {
		if !d.Target.FitsInteger(v) {
			f.bag.Add(diag.Overflow, n.Span, "constant %s is out of range for cast to '%s'", v, d.Target.Name)
		} else {
			return f.a.NewIntLiteral(n.Span, v, d.Target)
		}
	}
	if b, ok := literalBool(expr); ok && d.Target.IsInteger() {
		v := big.NewInt(0)
		if b {
			v = big.NewInt(1)
		}
		return f.a.NewIntLiteral(n.Span, v, d.Target)
	}
	if expr == d.Expr {
		return n
	}
	rebuilt := f.a.NewCast(n.Span, expr, d.Target)
	f.types.Transfer(n, rebuilt)
	return rebuilt
}
