package lower

import (
	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/diag"
)

// Flattener removes conditional statements: both branches' statements are
// spliced into the enclosing block in order, and every effectful statement
// (assert, mapping update, finalize invocation) receives a guard, the
// conjunction of the enclosing branch conditions, negated on the else side.
// Pure bindings are hoisted unguarded; computing both branches is exactly
// what the circuit does anyway.
//
// The flattener records the indicator in force for every hoisted statement,
// so the inliner can re-guard effects inside functions called from a branch.
type Flattener struct {
	a     *ast.Assigner
	types *ast.TypeTable
	bag   *diag.Bag

	indicators map[ast.NodeID]*ast.Node
}

func NewFlattener(a *ast.Assigner, types *ast.TypeTable, bag *diag.Bag) *Flattener {
	return &Flattener{a: a, types: types, bag: bag, indicators: make(map[ast.NodeID]*ast.Node)}
}

// Indicators returns the indicator identifier in force for each statement,
// keyed by node ID. Statements at the top level have no entry.
func (f *Flattener) Indicators() map[ast.NodeID]*ast.Node { return f.indicators }

func (f *Flattener) Run(prog *ast.Program) *ast.Program {
	out := &ast.Program{}
	for _, scope := range prog.Scopes {
		newScope := &ast.Scope{
			Name:     scope.Name,
			Structs:  scope.Structs,
			Mappings: scope.Mappings,
			Consts:   scope.Consts,
		}
		for _, fn := range scope.Functions {
			newScope.Functions = append(newScope.Functions, f.flattenFunc(fn))
		}
		out.Scopes = append(out.Scopes, newScope)
	}
	return out
}

func (f *Flattener) flattenFunc(n *ast.Node) *ast.Node {
	d := n.Data.(ast.FuncDeclNode)
	stmts := f.flattenBlock(d.Body, nil)
	body := f.a.NewBlock(d.Body.Span, stmts)
	f.types.Transfer(d.Body, body)
	rebuilt := f.a.NewFuncDecl(n.Span, d.Name, d.FuncKind, d.Params, d.ReturnType, d.ReturnMode, body)
	f.types.Transfer(n, rebuilt)
	return rebuilt
}

// flattenBlock splices a block's statements into a flat sequence under the
// given indicator identifier (nil at the top level).
func (f *Flattener) flattenBlock(block *ast.Node, ind *ast.Node) []*ast.Node {
	d := block.Data.(ast.BlockNode)
	var out []*ast.Node
	for _, stmt := range d.Stmts {
		out = append(out, f.flattenStmt(stmt, ind)...)
	}
	return out
}

func (f *Flattener) flattenStmt(n *ast.Node, ind *ast.Node) []*ast.Node {
	switch d := n.Data.(type) {
	case ast.BlockNode:
		return f.flattenBlock(n, ind)
	case ast.ConditionalNode:
		return f.flattenConditional(n, d, ind)
	case ast.ConsoleNode:
		guarded := f.a.NewGuardedConsole(n.Span, d.ConsoleKind, d.Args, f.combineGuard(ind, d.Guard, n))
		f.types.Transfer(n, guarded)
		f.record(guarded, ind)
		return []*ast.Node{guarded}
	case ast.MappingUpdateNode:
		guarded := f.a.NewGuardedMappingUpdate(n.Span, d.Mapping, d.Key, d.Value, f.combineGuard(ind, d.Guard, n))
		f.types.Transfer(n, guarded)
		f.record(guarded, ind)
		return []*ast.Node{guarded}
	case ast.FinalizeCallNode:
		guarded := f.a.NewGuardedFinalizeCall(n.Span, d.Args, f.combineGuard(ind, d.Guard, n))
		f.types.Transfer(n, guarded)
		f.record(guarded, ind)
		return []*ast.Node{guarded}
	case ast.ReturnNode:
		if ind != nil {
			f.bag.Add(diag.Structural, n.Span, "return reached under a condition; this is rejected during type checking")
		}
		return []*ast.Node{n}
	case ast.ExprStmtNode:
		// A mapping removal has no inactive form: a false guard would have
		// to leave the entry present, which set cannot express. Writes are
		// select-composed instead; removals are rejected under a condition.
		if ind != nil && removesMapping(d.Expr) {
			f.bag.Add(diag.Structural, n.Span, "mapping removal cannot depend on a condition")
		}
		f.record(n, ind)
		return []*ast.Node{n}
	default:
		f.record(n, ind)
		return []*ast.Node{n}
	}
}

// removesMapping matches a bare mapping_remove call; the builtin returns
// unit, so it can only appear as the whole expression of its statement.
func removesMapping(n *ast.Node) bool {
	call, ok := n.Data.(ast.CallNode)
	return ok && call.Program == "" && call.Callee == "mapping_remove"
}

func (f *Flattener) record(n *ast.Node, ind *ast.Node) {
	if ind != nil {
		f.indicators[n.ID] = ind
	}
}

func (f *Flattener) flattenConditional(n *ast.Node, d ast.ConditionalNode, ind *ast.Node) []*ast.Node {
	var out []*ast.Node

	thenInd, decls := f.conjoin(n, ind, d.Cond, false)
	out = append(out, decls...)
	out = append(out, f.flattenBlock(d.Then, thenInd)...)

	if d.Else != nil {
		elseInd, decls := f.conjoin(n, ind, d.Cond, true)
		out = append(out, decls...)
		if d.Else.Kind == ast.Conditional {
			out = append(out, f.flattenStmt(d.Else, elseInd)...)
		} else {
			out = append(out, f.flattenBlock(d.Else, elseInd)...)
		}
	}
	return out
}

// conjoin builds the indicator for one branch: enclosing indicator AND the
// condition (negated for the else side). The result is always an identifier;
// a fresh binding is emitted when a new expression is needed.
func (f *Flattener) conjoin(at *ast.Node, ind, cond *ast.Node, negate bool) (*ast.Node, []*ast.Node) {
	condUse := f.cloneExpr(cond)
	if negate {
		neg := f.a.NewUnary(cond.Span, ast.OpNot, condUse)
		f.types.Set(neg, ast.TypeBool)
		condUse = neg
	} else if ind == nil {
		// The then-branch of a top-level conditional reuses the SSA-bound
		// condition identifier directly.
		return condUse, nil
	}

	expr := condUse
	if ind != nil {
		conj := f.a.NewBinary(cond.Span, ast.OpAnd, f.cloneExpr(ind), condUse)
		f.types.Set(conj, ast.TypeBool)
		expr = conj
	}
	name := f.a.Fresh("ind")
	decl := f.a.NewVarDecl(at.Span, name, false, ast.TypeBool, expr)
	f.types.Set(decl, ast.TypeBool)
	f.record(decl, ind)
	ident := f.a.NewIdent(at.Span, name)
	f.types.Set(ident, ast.TypeBool)
	return ident, []*ast.Node{decl}
}

func (f *Flattener) combineGuard(ind, existing *ast.Node, at *ast.Node) *ast.Node {
	switch {
	case ind == nil:
		return existing
	case existing == nil:
		return f.cloneExpr(ind)
	}
	conj := f.a.NewBinary(at.Span, ast.OpAnd, f.cloneExpr(ind), f.cloneExpr(existing))
	f.types.Set(conj, ast.TypeBool)
	return conj
}

func (f *Flattener) cloneExpr(n *ast.Node) *ast.Node {
	c := newCloner(f.a, f.types)
	return c.expr(n)
}
