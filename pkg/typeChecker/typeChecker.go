// Package typeChecker resolves every expression's type, validates call
// signatures and argument modes, and builds the call graph and the struct
// dependency graph. It accumulates diagnostics instead of stopping at the
// first error, suppressing cascades from subtrees that already failed.
package typeChecker

import (
	"sort"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/config"
	"github.com/lumen-lang/lumc/pkg/diag"
	"github.com/lumen-lang/lumc/pkg/symtab"
)

// Result is the type checker's output: the node-keyed type table and the
// call graph consumed by later passes.
type Result struct {
	Types   *ast.TypeTable
	Calls   *CallGraph
	Symbols *symtab.Table
}

type TypeChecker struct {
	cfg     *config.Config
	bag     *diag.Bag
	symbols *symtab.Table
	types   *ast.TypeTable
	calls   *CallGraph

	moduleName   string
	module       *symtab.Scope
	currentScope *symtab.Scope
	currentFunc  *ast.FuncDeclNode
	currentName  string // scope-qualified name of the current function

	unreadVars   map[string]*ast.Node // function-local lets not yet read
	suppressRead *ast.Node            // plain-assign target; writing is not reading
}

func NewTypeChecker(cfg *config.Config, bag *diag.Bag, symbols *symtab.Table) *TypeChecker {
	return &TypeChecker{
		cfg:     cfg,
		bag:     bag,
		symbols: symbols,
		types:   ast.NewTypeTable(),
		calls:   NewCallGraph(),
	}
}

// Check type-checks the whole program. The Result is usable even when
// diagnostics were reported; the driver decides whether to continue.
func (tc *TypeChecker) Check(prog *ast.Program) *Result {
	for _, scope := range prog.Scopes {
		tc.moduleName = scope.Name
		tc.module = tc.symbols.ModuleScope(scope.Name)
		if tc.module == nil {
			continue
		}
		tc.checkStructGraph(scope)
		tc.currentScope = tc.module
		for _, c := range scope.Consts {
			typ := tc.checkConstDecl(c)
			name := c.Data.(ast.ConstDeclNode).Name
			if sym := tc.module.LookupVariableLocal(name); sym != nil && sym.Type != nil && sym.Type.Kind == ast.TYPE_STRUCT && len(sym.Type.Fields) == 0 {
				sym.Type = typ
			} else if sym != nil && sym.Type == nil {
				sym.Type = typ
			}
		}
		for _, fn := range scope.Functions {
			tc.checkFunc(scope, fn)
		}
	}
	return &Result{Types: tc.types, Calls: tc.calls, Symbols: tc.symbols}
}

// checkStructGraph rejects cyclic struct definitions, which would have
// infinite size in a flattened representation.
func (tc *TypeChecker) checkStructGraph(scope *ast.Scope) {
	deps := make(map[string][]string)
	spans := make(map[string]*ast.Node)
	for _, n := range scope.Structs {
		d := n.Data.(ast.StructDeclNode)
		spans[d.Name] = n
		for _, f := range d.Fields {
			for _, ref := range structRefs(f.Type) {
				deps[d.Name] = append(deps[d.Name], ref)
			}
		}
	}

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)
	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case done:
			return true
		case visiting:
			return false
		}
		state[name] = visiting
		for _, dep := range deps[name] {
			if _, known := spans[dep]; !known {
				continue
			}
			if !visit(dep) {
				return false
			}
		}
		state[name] = done
		return true
	}
	for _, n := range scope.Structs {
		d := n.Data.(ast.StructDeclNode)
		if !visit(d.Name) {
			tc.bag.Add(diag.Structural, n.Span, "struct '%s' is part of a definition cycle", d.Name)
		}
	}
}

func structRefs(t *ast.Type) []string {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case ast.TYPE_STRUCT:
		return []string{t.Name}
	case ast.TYPE_TUPLE:
		var refs []string
		for _, e := range t.Elems {
			refs = append(refs, structRefs(e)...)
		}
		return refs
	case ast.TYPE_ARRAY:
		return structRefs(t.Base)
	}
	return nil
}

func (tc *TypeChecker) checkConstDecl(n *ast.Node) *ast.Type {
	d := n.Data.(ast.ConstDeclNode)
	declared := tc.resolve(d.Type, n)
	got := tc.checkExpr(d.Value)
	if !tc.isConstExpr(d.Value) {
		tc.bag.Add(diag.ConstantRequired, n.Span, "constant '%s' requires a constant initializer", d.Name)
	}
	if declared != nil && got.Kind != ast.TYPE_UNTYPED && !ast.TypesEqual(declared, got) {
		tc.bag.Add(diag.TypeMismatch, n.Span,
			"constant '%s' declared as '%s' but initialized with '%s'",
			d.Name, ast.TypeToString(declared), ast.TypeToString(got))
	}
	if declared == nil {
		declared = got
	}
	return declared
}

func (tc *TypeChecker) checkFunc(scope *ast.Scope, fn *ast.Node) {
	d := fn.Data.(ast.FuncDeclNode)
	prevFunc, prevName, prevScope := tc.currentFunc, tc.currentName, tc.currentScope
	tc.currentFunc = &d
	tc.currentName = scope.Name + "/" + d.Name
	tc.calls.AddFunc(tc.currentName)
	defer func() { tc.currentFunc, tc.currentName, tc.currentScope = prevFunc, prevName, prevScope }()

	fnScope := tc.module.NewChild()
	for _, p := range d.Params {
		typ := tc.resolve(p.Type, fn)
		kind := symtab.DeclParam
		if !fnScope.DeclareVariable(&symtab.VariableSymbol{
			Name: p.Name, Type: typ, Kind: kind, Mode: p.Mode, Span: p.Span,
		}) {
			// Already reported by the symbol table builder.
			continue
		}
	}
	tc.currentScope = fnScope
	tc.unreadVars = make(map[string]*ast.Node)
	tc.checkBlock(d.Body, false, false)
	tc.checkFinalReturn(fn, d)
	tc.reportUnread()
	tc.unreadVars = nil
}

// reportUnread warns about locals that were declared (or only written) but
// never read anywhere in the function.
func (tc *TypeChecker) reportUnread() {
	if !tc.cfg.IsWarningEnabled(config.WarnUnusedVariable) {
		return
	}
	names := make([]string, 0, len(tc.unreadVars))
	for name := range tc.unreadVars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tc.bag.Warn(tc.unreadVars[name].Span, "variable '%s' is never read", name)
	}
}

// checkFinalReturn verifies a non-unit function returns at its top level.
// The return need not be the last statement: trailing statements are only
// worth the unreachable-code warning.
func (tc *TypeChecker) checkFinalReturn(fn *ast.Node, d ast.FuncDeclNode) {
	if d.ReturnType == nil || d.ReturnType.Kind == ast.TYPE_UNIT {
		return
	}
	for _, stmt := range d.Body.Data.(ast.BlockNode).Stmts {
		if stmt.Kind == ast.Return {
			return
		}
	}
	tc.bag.Add(diag.TypeMismatch, fn.Span,
		"function '%s' must end with a return of type '%s'", d.Name, ast.TypeToString(d.ReturnType))
}

// checkBlock opens a child scope per block. inBranch marks blocks nested
// under a conditional or loop, where return statements cannot appear: the
// branch-free target has no early exit.
func (tc *TypeChecker) checkBlock(block *ast.Node, inBranch, sameScope bool) {
	if block == nil {
		return
	}
	d := block.Data.(ast.BlockNode)
	if !sameScope {
		prev := tc.currentScope
		tc.currentScope = prev.NewChild()
		defer func() { tc.currentScope = prev }()
	}
	returned := false
	for _, stmt := range d.Stmts {
		if returned && tc.cfg.IsWarningEnabled(config.WarnUnreachableCode) {
			tc.bag.Warn(stmt.Span, "unreachable statement after return")
		}
		tc.checkStmt(stmt, inBranch)
		if stmt.Kind == ast.Return {
			returned = true
		}
	}
}

func (tc *TypeChecker) checkStmt(n *ast.Node, inBranch bool) {
	switch d := n.Data.(type) {
	case ast.BlockNode:
		tc.checkBlock(n, inBranch, false)
	case ast.VarDeclNode:
		tc.checkVarDecl(n, d)
	case ast.ConstDeclNode:
		typ := tc.checkConstDecl(n)
		tc.declareLocal(n, &symtab.VariableSymbol{
			Name: d.Name, Type: typ, Kind: symtab.DeclConst,
			Mode: ast.ModeConstant, Span: n.Span,
		})
	case ast.AssignNode:
		tc.checkAssign(n, d)
	case ast.ConditionalNode:
		tc.checkCondition(d.Cond)
		tc.checkBlock(d.Then, true, false)
		if d.Else != nil {
			if d.Else.Kind == ast.Conditional {
				tc.checkStmt(d.Else, true)
			} else {
				tc.checkBlock(d.Else, true, false)
			}
		}
	case ast.IterationNode:
		tc.checkIteration(n, d)
	case ast.ReturnNode:
		tc.checkReturn(n, d, inBranch)
	case ast.ExprStmtNode:
		tc.checkExpr(d.Expr)
	case ast.ConsoleNode:
		tc.checkConsole(n, d)
	case ast.MappingUpdateNode:
		tc.checkMappingUpdate(n, d)
	case ast.FinalizeCallNode:
		tc.checkFinalizeCall(n, d)
	}
}

func (tc *TypeChecker) declareLocal(n *ast.Node, sym *symtab.VariableSymbol) {
	if outer := tc.currentScope.LookupVariable(sym.Name); outer != nil && tc.cfg.IsWarningEnabled(config.WarnShadowing) {
		tc.bag.Warn(n.Span, "declaration of '%s' shadows an outer binding", sym.Name)
	}
	if !tc.currentScope.DeclareVariable(sym) {
		tc.bag.Add(diag.NameResolution, n.Span, "redefinition of '%s' in the same scope", sym.Name)
	}
	if sym.Kind == symtab.DeclLet && tc.unreadVars != nil {
		tc.unreadVars[sym.Name] = n
	}
}

func (tc *TypeChecker) checkVarDecl(n *ast.Node, d ast.VarDeclNode) {
	got := tc.checkExpr(d.Value)
	typ := got
	if d.Type != nil {
		typ = tc.resolve(d.Type, n)
		if typ != nil && got.Kind != ast.TYPE_UNTYPED && !ast.TypesEqual(typ, got) {
			tc.bag.Add(diag.TypeMismatch, n.Span,
				"cannot initialize '%s' of type '%s' with expression of type '%s'",
				d.Name, ast.TypeToString(typ), ast.TypeToString(got))
		}
	}
	tc.declareLocal(n, &symtab.VariableSymbol{
		Name: d.Name, Type: typ, Mutable: d.Mutable, Kind: symtab.DeclLet, Span: n.Span,
	})
	tc.types.Set(n, typ)
}

func (tc *TypeChecker) checkAssign(n *ast.Node, d ast.AssignNode) {
	if d.Op == ast.AssignSet && d.Target.Kind == ast.Ident {
		tc.suppressRead = d.Target
	}
	targetType := tc.checkExpr(d.Target)
	tc.suppressRead = nil
	valueType := tc.checkExpr(d.Value)
	tc.checkAssignable(d.Target)
	if targetType.Kind == ast.TYPE_UNTYPED || valueType.Kind == ast.TYPE_UNTYPED {
		return
	}
	// An op-assign is checked as its desugared binary form, so the operator
	// table's allowances apply: a shift magnitude may be any unsigned width.
	if bin, ok := d.Op.BinaryFor(); ok {
		result := tc.binaryResult(bin, targetType, valueType)
		switch {
		case result == nil:
			tc.bag.Add(diag.TypeMismatch, n.Span,
				"operator '%s' is not defined for operands '%s' and '%s'",
				bin, ast.TypeToString(targetType), ast.TypeToString(valueType))
		case !ast.TypesEqual(result, targetType):
			tc.bag.Add(diag.TypeMismatch, n.Span,
				"operator '%s' yields '%s', which cannot be stored back into '%s'",
				bin, ast.TypeToString(result), ast.TypeToString(targetType))
		}
		return
	}
	if !ast.TypesEqual(targetType, valueType) {
		tc.bag.Add(diag.TypeMismatch, n.Span,
			"cannot assign '%s' to target of type '%s'",
			ast.TypeToString(valueType), ast.TypeToString(targetType))
	}
}

// checkAssignable walks an lvalue to its root identifier and verifies the
// root was declared mutable.
func (tc *TypeChecker) checkAssignable(target *ast.Node) {
	root := target
	for {
		switch d := root.Data.(type) {
		case ast.ArrayAccessNode:
			root = d.Array
			continue
		case ast.MemberAccessNode:
			root = d.Expr
			continue
		case ast.TupleAccessNode:
			root = d.Expr
			continue
		case ast.IdentNode:
			sym := tc.currentScope.LookupVariable(d.Name)
			if sym == nil {
				return // undefined, reported by checkExpr
			}
			switch {
			case sym.Kind == symtab.DeclConst:
				tc.bag.Add(diag.TypeMismatch, target.Span, "cannot assign to constant '%s'", d.Name)
			case sym.Kind == symtab.DeclLoopVar:
				tc.bag.Add(diag.TypeMismatch, target.Span, "cannot assign to loop variable '%s'", d.Name)
			case sym.Kind == symtab.DeclParam:
				tc.bag.Add(diag.TypeMismatch, target.Span, "cannot assign to parameter '%s'", d.Name)
			case !sym.Mutable:
				tc.bag.Add(diag.TypeMismatch, target.Span, "cannot assign to immutable variable '%s'", d.Name)
			}
			return
		default:
			tc.bag.Add(diag.TypeMismatch, target.Span, "expression is not assignable")
			return
		}
	}
}

func (tc *TypeChecker) checkIteration(n *ast.Node, d ast.IterationNode) {
	varType := tc.resolve(d.VarType, n)
	if varType != nil && !varType.IsInteger() {
		tc.bag.Add(diag.TypeMismatch, n.Span, "loop variable must have an integer type, got '%s'", ast.TypeToString(varType))
	}
	startType := tc.checkExpr(d.Start)
	endType := tc.checkExpr(d.End)
	for _, bound := range []*ast.Type{startType, endType} {
		if varType != nil && bound.Kind != ast.TYPE_UNTYPED && !ast.TypesEqual(varType, bound) {
			tc.bag.Add(diag.TypeMismatch, n.Span,
				"loop bound of type '%s' does not match loop variable type '%s'",
				ast.TypeToString(bound), ast.TypeToString(varType))
		}
	}

	prev := tc.currentScope
	tc.currentScope = prev.NewChild()
	tc.currentScope.DeclareVariable(&symtab.VariableSymbol{
		Name: d.Var, Type: varType, Kind: symtab.DeclLoopVar, Span: n.Span,
	})
	tc.checkBlock(d.Body, true, true)
	tc.currentScope = prev
}

func (tc *TypeChecker) checkReturn(n *ast.Node, d ast.ReturnNode, inBranch bool) {
	if inBranch {
		tc.bag.Add(diag.Structural, n.Span, "return inside a conditional or loop is not supported by the branch-free target")
	}
	if tc.currentFunc == nil {
		return
	}
	want := tc.resolve(tc.currentFunc.ReturnType, n)
	if d.Expr == nil {
		if want != nil && want.Kind != ast.TYPE_UNIT {
			tc.bag.Add(diag.TypeMismatch, n.Span, "return with no value in function returning '%s'", ast.TypeToString(want))
		}
		return
	}
	got := tc.checkExpr(d.Expr)
	if want == nil || got.Kind == ast.TYPE_UNTYPED {
		return
	}
	if want.Kind == ast.TYPE_UNIT {
		tc.bag.Add(diag.TypeMismatch, n.Span, "return with a value in function returning nothing")
	} else if !ast.TypesEqual(want, got) {
		tc.bag.Add(diag.TypeMismatch, n.Span,
			"returning '%s' from function declared to return '%s'",
			ast.TypeToString(got), ast.TypeToString(want))
	}
}

func (tc *TypeChecker) checkCondition(cond *ast.Node) {
	t := tc.checkExpr(cond)
	if t.Kind != ast.TYPE_UNTYPED && !t.IsBool() {
		tc.bag.Add(diag.TypeMismatch, cond.Span, "condition must be 'bool', got '%s'", ast.TypeToString(t))
	}
}

func (tc *TypeChecker) checkConsole(n *ast.Node, d ast.ConsoleNode) {
	switch d.ConsoleKind {
	case ast.ConsoleAssert:
		if len(d.Args) != 1 {
			tc.bag.Add(diag.TypeMismatch, n.Span, "assert takes exactly one argument")
			return
		}
		tc.checkCondition(d.Args[0])
	default:
		if len(d.Args) != 2 {
			tc.bag.Add(diag.TypeMismatch, n.Span, "%s takes exactly two arguments", d.ConsoleKind)
			return
		}
		left, right := tc.checkExpr(d.Args[0]), tc.checkExpr(d.Args[1])
		if left.Kind != ast.TYPE_UNTYPED && right.Kind != ast.TYPE_UNTYPED && !ast.TypesEqual(left, right) {
			tc.bag.Add(diag.TypeMismatch, n.Span,
				"%s arguments have mismatched types '%s' and '%s'",
				d.ConsoleKind, ast.TypeToString(left), ast.TypeToString(right))
		}
	}
}

func (tc *TypeChecker) checkMappingUpdate(n *ast.Node, d ast.MappingUpdateNode) {
	if tc.currentFunc == nil || tc.currentFunc.FuncKind != ast.FuncFinalize {
		tc.bag.Add(diag.Structural, n.Span, "mapping updates are only allowed inside a finalize function")
	}
	sym := tc.module.LookupMapping(d.Mapping)
	if sym == nil {
		tc.bag.Add(diag.NameResolution, n.Span, "undefined mapping '%s'", d.Mapping)
		tc.checkExpr(d.Key)
		tc.checkExpr(d.Value)
		return
	}
	keyType, valueType := tc.checkExpr(d.Key), tc.checkExpr(d.Value)
	if keyType.Kind != ast.TYPE_UNTYPED && !ast.TypesEqual(keyType, sym.Key) {
		tc.bag.Add(diag.TypeMismatch, d.Key.Span,
			"mapping '%s' key is '%s', got '%s'", d.Mapping, ast.TypeToString(sym.Key), ast.TypeToString(keyType))
	}
	if valueType.Kind != ast.TYPE_UNTYPED && !ast.TypesEqual(valueType, sym.Value) {
		tc.bag.Add(diag.TypeMismatch, d.Value.Span,
			"mapping '%s' value is '%s', got '%s'", d.Mapping, ast.TypeToString(sym.Value), ast.TypeToString(valueType))
	}
}

func (tc *TypeChecker) checkFinalizeCall(n *ast.Node, d ast.FinalizeCallNode) {
	if tc.currentFunc == nil || tc.currentFunc.FuncKind != ast.FuncTransition {
		tc.bag.Add(diag.Structural, n.Span, "finalize may only be invoked from a transition")
		return
	}
	// A transition's finalize counterpart is registered as a separate
	// function named "<transition>_finalize".
	fin := tc.module.LookupFunction(tc.currentFunc.Name + "_finalize")
	if fin == nil || fin.FuncKind != ast.FuncFinalize {
		tc.bag.Add(diag.NameResolution, n.Span,
			"transition '%s' has no matching finalize function", tc.currentFunc.Name)
		for _, arg := range d.Args {
			tc.checkExpr(arg)
		}
		return
	}
	tc.checkArgs(n, fin.Name, fin.Params, d.Args)
}

func (tc *TypeChecker) checkArgs(n *ast.Node, callee string, params []ast.Param, args []*ast.Node) {
	if len(args) != len(params) {
		tc.bag.Add(diag.TypeMismatch, n.Span,
			"'%s' expects %d argument(s), got %d", callee, len(params), len(args))
		for _, arg := range args {
			tc.checkExpr(arg)
		}
		return
	}
	for i, arg := range args {
		got := tc.checkExpr(arg)
		want := tc.resolve(params[i].Type, n)
		if want != nil && got.Kind != ast.TYPE_UNTYPED && !ast.TypesEqual(want, got) {
			tc.bag.Add(diag.TypeMismatch, arg.Span,
				"argument %d of '%s' has type '%s', want '%s'",
				i+1, callee, ast.TypeToString(got), ast.TypeToString(want))
		}
		if params[i].Mode == ast.ModeConstant && tc.cfg.IsFeatureEnabled(config.FeatStrictModes) && !tc.isConstExpr(arg) {
			tc.bag.Add(diag.ConstantRequired, arg.Span,
				"argument %d of '%s' must be a constant (parameter has constant mode)", i+1, callee)
		}
	}
}

// resolve expands named struct references; a failed resolution reports once
// and yields nil.
func (tc *TypeChecker) resolve(t *ast.Type, at *ast.Node) *ast.Type {
	if t == nil {
		return nil
	}
	resolved := tc.module.ResolveType(t)
	if resolved == nil {
		tc.bag.Add(diag.NameResolution, at.Span, "undefined type '%s'", ast.TypeToString(t))
	}
	return resolved
}

// --- expression checking ---

func (tc *TypeChecker) checkExpr(n *ast.Node) *ast.Type {
	if n == nil {
		return ast.TypeUntyped
	}
	t := tc.exprType(n)
	if t == nil {
		t = ast.TypeUntyped
	}
	tc.types.Set(n, t)
	return t
}

func (tc *TypeChecker) exprType(n *ast.Node) *ast.Type {
	switch d := n.Data.(type) {
	case ast.LiteralNode:
		return tc.literalType(n, d)
	case ast.IdentNode:
		sym := tc.currentScope.LookupVariable(d.Name)
		if sym == nil {
			tc.bag.Add(diag.NameResolution, n.Span, "undefined variable '%s'", d.Name)
			return ast.TypeUntyped
		}
		if n != tc.suppressRead {
			delete(tc.unreadVars, d.Name)
		}
		if sym.Type == nil {
			return ast.TypeUntyped
		}
		return sym.Type
	case ast.BinaryNode:
		return tc.checkBinary(n, d)
	case ast.UnaryNode:
		return tc.checkUnary(n, d)
	case ast.CallNode:
		return tc.checkCall(n, d)
	case ast.ArrayAccessNode:
		arrType := tc.checkExpr(d.Array)
		idxType := tc.checkExpr(d.Index)
		if idxType.Kind != ast.TYPE_UNTYPED && !idxType.IsInteger() {
			tc.bag.Add(diag.TypeMismatch, d.Index.Span, "array index must be an integer, got '%s'", ast.TypeToString(idxType))
		}
		if arrType.Kind == ast.TYPE_UNTYPED {
			return ast.TypeUntyped
		}
		if arrType.Kind != ast.TYPE_ARRAY {
			tc.bag.Add(diag.TypeMismatch, n.Span, "cannot index into value of type '%s'", ast.TypeToString(arrType))
			return ast.TypeUntyped
		}
		return arrType.Base
	case ast.MemberAccessNode:
		exprType := tc.checkExpr(d.Expr)
		if exprType.Kind == ast.TYPE_UNTYPED {
			return ast.TypeUntyped
		}
		if exprType.Kind != ast.TYPE_STRUCT {
			tc.bag.Add(diag.TypeMismatch, n.Span, "member access on non-struct type '%s'", ast.TypeToString(exprType))
			return ast.TypeUntyped
		}
		resolved := tc.resolve(exprType, n)
		if resolved == nil {
			return ast.TypeUntyped
		}
		for _, f := range resolved.Fields {
			if f.Name == d.Member {
				return tc.module.ResolveType(f.Type)
			}
		}
		tc.bag.Add(diag.NameResolution, n.Span, "struct '%s' has no member '%s'", resolved.Name, d.Member)
		return ast.TypeUntyped
	case ast.TupleAccessNode:
		exprType := tc.checkExpr(d.Expr)
		if exprType.Kind == ast.TYPE_UNTYPED {
			return ast.TypeUntyped
		}
		if exprType.Kind != ast.TYPE_TUPLE {
			tc.bag.Add(diag.TypeMismatch, n.Span, "tuple access on non-tuple type '%s'", ast.TypeToString(exprType))
			return ast.TypeUntyped
		}
		if d.Index < 0 || d.Index >= len(exprType.Elems) {
			tc.bag.Add(diag.TypeMismatch, n.Span, "tuple index %d out of range for '%s'", d.Index, ast.TypeToString(exprType))
			return ast.TypeUntyped
		}
		return exprType.Elems[d.Index]
	case ast.CastNode:
		return tc.checkCast(n, d)
	case ast.TernaryNode:
		tc.checkCondition(d.Cond)
		thenType, elseType := tc.checkExpr(d.Then), tc.checkExpr(d.Else)
		if thenType.Kind == ast.TYPE_UNTYPED || elseType.Kind == ast.TYPE_UNTYPED {
			return ast.TypeUntyped
		}
		if !ast.TypesEqual(thenType, elseType) {
			tc.bag.Add(diag.TypeMismatch, n.Span,
				"ternary branches have mismatched types '%s' and '%s'",
				ast.TypeToString(thenType), ast.TypeToString(elseType))
			return ast.TypeUntyped
		}
		return thenType
	case ast.StructInitNode:
		return tc.checkStructInit(n, d)
	case ast.ArrayInitNode:
		return tc.checkArrayInit(n, d)
	case ast.TupleInitNode:
		elems := make([]*ast.Type, len(d.Elems))
		for i, e := range d.Elems {
			elems[i] = tc.checkExpr(e)
			if elems[i].Kind == ast.TYPE_UNTYPED {
				return ast.TypeUntyped
			}
		}
		return ast.NewTupleType(elems)
	}
	return ast.TypeUntyped
}

func (tc *TypeChecker) literalType(n *ast.Node, d ast.LiteralNode) *ast.Type {
	if d.LitKind != ast.LitInteger {
		return d.Typ
	}
	if d.Typ == nil || !d.Typ.IsInteger() {
		tc.bag.Add(diag.TypeMismatch, n.Span, "integer literal requires a type suffix")
		return ast.TypeUntyped
	}
	if !d.Typ.FitsInteger(d.Int) {
		tc.bag.Add(diag.Overflow, n.Span, "literal %s is out of range for '%s'", d.Int, d.Typ.Name)
	}
	return d.Typ
}

// binaryResult implements the operator table: the explicit set of allowed
// operand-type combinations per operator, with no implicit widening.
func (tc *TypeChecker) binaryResult(op ast.BinaryOp, left, right *ast.Type) *ast.Type {
	// group * scalar is the one mixed-type combination.
	if op == ast.OpMul && left.Kind == ast.TYPE_GROUP && right.Kind == ast.TYPE_SCALAR {
		return ast.TypeGroup
	}
	if op == ast.OpMul && left.Kind == ast.TYPE_SCALAR && right.Kind == ast.TYPE_GROUP {
		return ast.TypeGroup
	}
	// Shift magnitudes may be any unsigned integer width.
	if op == ast.OpShl || op == ast.OpShr {
		if left.IsInteger() && right.IsInteger() && !right.Signed {
			return left
		}
		return nil
	}
	if !ast.TypesEqual(left, right) {
		return nil
	}
	switch op {
	case ast.OpAdd:
		switch left.Kind {
		case ast.TYPE_INTEGER, ast.TYPE_FIELD, ast.TYPE_GROUP, ast.TYPE_SCALAR:
			return left
		}
	case ast.OpSub:
		switch left.Kind {
		case ast.TYPE_INTEGER, ast.TYPE_FIELD, ast.TYPE_GROUP:
			return left
		}
	case ast.OpMul, ast.OpDiv, ast.OpPow:
		switch left.Kind {
		case ast.TYPE_INTEGER, ast.TYPE_FIELD:
			return left
		}
	case ast.OpRem:
		if left.Kind == ast.TYPE_INTEGER {
			return left
		}
	case ast.OpBitAnd, ast.OpBitOr, ast.OpBitXor:
		switch left.Kind {
		case ast.TYPE_INTEGER, ast.TYPE_BOOL:
			return left
		}
	case ast.OpAnd, ast.OpOr:
		if left.Kind == ast.TYPE_BOOL {
			return ast.TypeBool
		}
	case ast.OpEq, ast.OpNeq:
		if left.IsScalarKind() {
			return ast.TypeBool
		}
	case ast.OpLt, ast.OpGt, ast.OpLte, ast.OpGte:
		switch left.Kind {
		case ast.TYPE_INTEGER, ast.TYPE_FIELD, ast.TYPE_SCALAR:
			return ast.TypeBool
		}
	}
	return nil
}

func (tc *TypeChecker) checkBinary(n *ast.Node, d ast.BinaryNode) *ast.Type {
	left, right := tc.checkExpr(d.Left), tc.checkExpr(d.Right)
	if left.Kind == ast.TYPE_UNTYPED || right.Kind == ast.TYPE_UNTYPED {
		return ast.TypeUntyped
	}
	result := tc.binaryResult(d.Op, left, right)
	if result == nil {
		tc.bag.Add(diag.TypeMismatch, n.Span,
			"operator '%s' is not defined for operand types '%s' and '%s'",
			d.Op, ast.TypeToString(left), ast.TypeToString(right))
		return ast.TypeUntyped
	}
	return result
}

func (tc *TypeChecker) checkUnary(n *ast.Node, d ast.UnaryNode) *ast.Type {
	t := tc.checkExpr(d.Expr)
	if t.Kind == ast.TYPE_UNTYPED {
		return ast.TypeUntyped
	}
	switch d.Op {
	case ast.OpNeg:
		if (t.IsInteger() && t.Signed) || t.Kind == ast.TYPE_FIELD || t.Kind == ast.TYPE_GROUP {
			return t
		}
	case ast.OpNot:
		if t.IsBool() || t.IsInteger() {
			return t
		}
	}
	tc.bag.Add(diag.TypeMismatch, n.Span,
		"operator '%s' is not defined for type '%s'", d.Op, ast.TypeToString(t))
	return ast.TypeUntyped
}

func (tc *TypeChecker) checkCast(n *ast.Node, d ast.CastNode) *ast.Type {
	from := tc.checkExpr(d.Expr)
	target := tc.resolve(d.Target, n)
	if target == nil || from.Kind == ast.TYPE_UNTYPED {
		return ast.TypeUntyped
	}
	// External program calls carry no local signature; the cast pins their
	// result type.
	if call, ok := d.Expr.Data.(ast.CallNode); ok && call.Program != "" {
		tc.types.Set(d.Expr, target)
		return target
	}
	if castAllowed(from, target) {
		return target
	}
	tc.bag.Add(diag.TypeMismatch, n.Span,
		"cannot cast '%s' to '%s'", ast.TypeToString(from), ast.TypeToString(target))
	return ast.TypeUntyped
}

func castAllowed(from, to *ast.Type) bool {
	numeric := func(t *ast.Type) bool {
		switch t.Kind {
		case ast.TYPE_INTEGER, ast.TYPE_FIELD, ast.TYPE_SCALAR:
			return true
		}
		return false
	}
	if numeric(from) && numeric(to) {
		return true
	}
	if from.Kind == ast.TYPE_GROUP && to.Kind == ast.TYPE_FIELD {
		return true // x-coordinate projection
	}
	if from.Kind == ast.TYPE_BOOL && to.IsInteger() {
		return true
	}
	return false
}

func (tc *TypeChecker) checkStructInit(n *ast.Node, d ast.StructInitNode) *ast.Type {
	sym := tc.module.LookupStruct(d.Name)
	if sym == nil {
		tc.bag.Add(diag.NameResolution, n.Span, "undefined struct '%s'", d.Name)
		for _, f := range d.Fields {
			tc.checkExpr(f.Value)
		}
		return ast.TypeUntyped
	}
	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		got := tc.checkExpr(f.Value)
		if seen[f.Name] {
			tc.bag.Add(diag.NameResolution, n.Span, "duplicate field '%s' in initializer of '%s'", f.Name, d.Name)
			continue
		}
		seen[f.Name] = true
		var want *ast.Type
		for _, sf := range sym.Fields {
			if sf.Name == f.Name {
				want = tc.module.ResolveType(sf.Type)
				break
			}
		}
		if want == nil {
			tc.bag.Add(diag.NameResolution, f.Value.Span, "struct '%s' has no field '%s'", d.Name, f.Name)
			continue
		}
		if got.Kind != ast.TYPE_UNTYPED && !ast.TypesEqual(want, got) {
			tc.bag.Add(diag.TypeMismatch, f.Value.Span,
				"field '%s' of '%s' has type '%s', got '%s'",
				f.Name, d.Name, ast.TypeToString(want), ast.TypeToString(got))
		}
	}
	for _, sf := range sym.Fields {
		if !seen[sf.Name] {
			tc.bag.Add(diag.TypeMismatch, n.Span, "initializer of '%s' is missing field '%s'", d.Name, sf.Name)
		}
	}
	return ast.NewStructType(sym.Name, sym.Fields)
}

func (tc *TypeChecker) checkArrayInit(n *ast.Node, d ast.ArrayInitNode) *ast.Type {
	if d.Repeat != nil {
		elemType := tc.checkExpr(d.Repeat)
		count := -1
		if lit, ok := d.Count.Data.(ast.LiteralNode); ok && lit.LitKind == ast.LitInteger {
			count = int(lit.Int.Int64())
		}
		if count < 0 {
			tc.bag.Add(diag.ConstantRequired, d.Count.Span, "array repeat count must be a constant integer literal")
			return ast.TypeUntyped
		}
		if elemType.Kind == ast.TYPE_UNTYPED {
			return ast.TypeUntyped
		}
		return ast.NewArrayType(elemType, count)
	}
	if len(d.Elems) == 0 {
		tc.bag.Add(diag.TypeMismatch, n.Span, "array initializer cannot be empty")
		return ast.TypeUntyped
	}
	first := tc.checkExpr(d.Elems[0])
	for _, e := range d.Elems[1:] {
		t := tc.checkExpr(e)
		if first.Kind != ast.TYPE_UNTYPED && t.Kind != ast.TYPE_UNTYPED && !ast.TypesEqual(first, t) {
			tc.bag.Add(diag.TypeMismatch, e.Span,
				"array element of type '%s' does not match '%s'",
				ast.TypeToString(t), ast.TypeToString(first))
		}
	}
	if first.Kind == ast.TYPE_UNTYPED {
		return ast.TypeUntyped
	}
	return ast.NewArrayType(first, len(d.Elems))
}

func (tc *TypeChecker) checkCall(n *ast.Node, d ast.CallNode) *ast.Type {
	if d.Builtin {
		return tc.checkBuiltin(n, d)
	}
	if d.Program != "" {
		// External program call: signature lives in the imported program,
		// which is resolved outside this pipeline. Arguments are checked
		// locally; the result type comes from an enclosing cast.
		for _, arg := range d.Args {
			tc.checkExpr(arg)
		}
		return ast.TypeUntyped
	}
	callee := tc.module.LookupFunction(d.Callee)
	if callee == nil {
		tc.bag.Add(diag.NameResolution, n.Span, "undefined function '%s'", d.Callee)
		for _, arg := range d.Args {
			tc.checkExpr(arg)
		}
		return ast.TypeUntyped
	}
	switch callee.FuncKind {
	case ast.FuncTransition:
		tc.bag.Add(diag.Structural, n.Span, "transition '%s' cannot be called from within the program", d.Callee)
	case ast.FuncFinalize:
		tc.bag.Add(diag.Structural, n.Span, "finalize function '%s' cannot be called directly", d.Callee)
	}
	if tc.currentName != "" {
		tc.calls.AddEdge(tc.currentName, tc.moduleName+"/"+d.Callee)
	}
	tc.checkArgs(n, d.Callee, callee.Params, d.Args)
	return tc.resolve(callee.ReturnType, n)
}

// Builtin cryptographic and mapping primitives stay opaque through the whole
// pipeline; only their signatures are known here.
func (tc *TypeChecker) checkBuiltin(n *ast.Node, d ast.CallNode) *ast.Type {
	inFinalize := tc.currentFunc != nil && tc.currentFunc.FuncKind == ast.FuncFinalize
	mappingArg := func() *symtab.MappingSymbol {
		if len(d.Args) == 0 {
			return nil
		}
		ident, ok := d.Args[0].Data.(ast.IdentNode)
		if !ok {
			tc.bag.Add(diag.TypeMismatch, d.Args[0].Span, "first argument of '%s' must name a mapping", d.Callee)
			return nil
		}
		sym := tc.module.LookupMapping(ident.Name)
		if sym == nil {
			tc.bag.Add(diag.NameResolution, d.Args[0].Span, "undefined mapping '%s'", ident.Name)
			return nil
		}
		tc.types.Set(d.Args[0], ast.NewMappingType(sym.Key, sym.Value))
		return sym
	}
	checkKey := func(sym *symtab.MappingSymbol, key *ast.Node) {
		got := tc.checkExpr(key)
		if sym != nil && got.Kind != ast.TYPE_UNTYPED && !ast.TypesEqual(got, sym.Key) {
			tc.bag.Add(diag.TypeMismatch, key.Span,
				"mapping '%s' key is '%s', got '%s'", sym.Name, ast.TypeToString(sym.Key), ast.TypeToString(got))
		}
	}

	switch d.Callee {
	case "mapping_get", "mapping_contains", "mapping_remove", "mapping_get_or_use":
		if !inFinalize {
			tc.bag.Add(diag.Structural, n.Span, "'%s' is only allowed inside a finalize function", d.Callee)
		}
		wantArgs := 2
		if d.Callee == "mapping_get_or_use" {
			wantArgs = 3
		}
		if len(d.Args) != wantArgs {
			tc.bag.Add(diag.TypeMismatch, n.Span, "'%s' expects %d argument(s), got %d", d.Callee, wantArgs, len(d.Args))
			return ast.TypeUntyped
		}
		sym := mappingArg()
		checkKey(sym, d.Args[1])
		if d.Callee == "mapping_get_or_use" {
			def := tc.checkExpr(d.Args[2])
			if sym != nil && def.Kind != ast.TYPE_UNTYPED && !ast.TypesEqual(def, sym.Value) {
				tc.bag.Add(diag.TypeMismatch, d.Args[2].Span,
					"default value has type '%s', mapping '%s' holds '%s'",
					ast.TypeToString(def), sym.Name, ast.TypeToString(sym.Value))
			}
		}
		switch d.Callee {
		case "mapping_contains":
			return ast.TypeBool
		case "mapping_remove":
			return ast.TypeUnit
		default:
			if sym == nil {
				return ast.TypeUntyped
			}
			return sym.Value
		}
	case "bhp256_hash", "bhp512_hash", "bhp768_hash", "bhp1024_hash",
		"pedersen64_hash", "pedersen128_hash",
		"poseidon2_hash", "poseidon4_hash", "poseidon8_hash":
		if len(d.Args) != 1 {
			tc.bag.Add(diag.TypeMismatch, n.Span, "'%s' expects exactly one argument", d.Callee)
			return ast.TypeField
		}
		argType := tc.checkExpr(d.Args[0])
		if argType.Kind != ast.TYPE_UNTYPED && !argType.IsScalarKind() && argType.Kind != ast.TYPE_STRUCT {
			tc.bag.Add(diag.TypeMismatch, d.Args[0].Span,
				"cannot hash value of type '%s'", ast.TypeToString(argType))
		}
		return ast.TypeField
	}
	tc.bag.Add(diag.NameResolution, n.Span, "unknown builtin '%s'", d.Callee)
	for _, arg := range d.Args {
		tc.checkExpr(arg)
	}
	return ast.TypeUntyped
}

// isConstExpr reports whether an expression is built only from literals,
// declared constants, constant-mode parameters and loop variables; the fold
// pass evaluates such expressions exactly.
func (tc *TypeChecker) isConstExpr(n *ast.Node) bool {
	switch d := n.Data.(type) {
	case ast.LiteralNode:
		return true
	case ast.IdentNode:
		sym := tc.currentScope.LookupVariable(d.Name)
		if sym == nil {
			return false
		}
		switch sym.Kind {
		case symtab.DeclConst, symtab.DeclLoopVar:
			return true
		case symtab.DeclParam:
			return sym.Mode == ast.ModeConstant
		}
		return false
	case ast.BinaryNode:
		return tc.isConstExpr(d.Left) && tc.isConstExpr(d.Right)
	case ast.UnaryNode:
		return tc.isConstExpr(d.Expr)
	case ast.CastNode:
		return tc.isConstExpr(d.Expr)
	case ast.TernaryNode:
		return tc.isConstExpr(d.Cond) && tc.isConstExpr(d.Then) && tc.isConstExpr(d.Else)
	case ast.TupleInitNode:
		for _, e := range d.Elems {
			if !tc.isConstExpr(e) {
				return false
			}
		}
		return true
	case ast.ArrayInitNode:
		for _, e := range d.Elems {
			if !tc.isConstExpr(e) {
				return false
			}
		}
		if d.Repeat != nil && !tc.isConstExpr(d.Repeat) {
			return false
		}
		return true
	case ast.StructInitNode:
		for _, f := range d.Fields {
			if !tc.isConstExpr(f.Value) {
				return false
			}
		}
		return true
	}
	return false
}
