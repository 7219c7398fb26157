package lower

import (
	"github.com/lumen-lang/lumc/pkg/ast"
)

// EliminateDeadCode removes bindings whose value never reaches a return, an
// assert, a mapping update or a finalize invocation. The body is flat and
// single-assignment by now, so one reverse sweep computes liveness exactly
// and the pass is idempotent. Statements that call into another program or
// remove a mapping entry are kept: those effects are externally observable.
func EliminateDeadCode(prog *ast.Program, a *ast.Assigner, types *ast.TypeTable) *ast.Program {
	out := &ast.Program{}
	for _, scope := range prog.Scopes {
		newScope := &ast.Scope{
			Name:     scope.Name,
			Structs:  scope.Structs,
			Mappings: scope.Mappings,
			Consts:   scope.Consts,
		}
		for _, fn := range scope.Functions {
			newScope.Functions = append(newScope.Functions, sweepFunc(fn, a, types))
		}
		out.Scopes = append(out.Scopes, newScope)
	}
	return out
}

func sweepFunc(n *ast.Node, a *ast.Assigner, types *ast.TypeTable) *ast.Node {
	d := n.Data.(ast.FuncDeclNode)
	body := d.Body.Data.(ast.BlockNode)

	live := make(map[string]bool)
	kept := make([]*ast.Node, 0, len(body.Stmts))
	for i := len(body.Stmts) - 1; i >= 0; i-- {
		stmt := body.Stmts[i]
		switch sd := stmt.Data.(type) {
		case ast.VarDeclNode:
			if !live[sd.Name] && !hasEffects(sd.Value) {
				continue
			}
			markUses(sd.Value, live)
		case ast.ConstDeclNode:
			if !live[sd.Name] && !hasEffects(sd.Value) {
				continue
			}
			markUses(sd.Value, live)
		case ast.ExprStmtNode:
			// A bare expression only matters if it calls out or removes a
			// mapping entry.
			if !hasEffects(sd.Expr) {
				continue
			}
			markUses(sd.Expr, live)
		case ast.ReturnNode:
			markUses(sd.Expr, live)
		case ast.ConsoleNode:
			for _, arg := range sd.Args {
				markUses(arg, live)
			}
			markUses(sd.Guard, live)
		case ast.MappingUpdateNode:
			markUses(sd.Key, live)
			markUses(sd.Value, live)
			markUses(sd.Guard, live)
		case ast.FinalizeCallNode:
			for _, arg := range sd.Args {
				markUses(arg, live)
			}
			markUses(sd.Guard, live)
		}
		kept = append(kept, stmt)
	}

	if len(kept) == len(body.Stmts) {
		return n
	}
	// Restore source order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	newBody := a.NewBlock(d.Body.Span, kept)
	types.Transfer(d.Body, newBody)
	rebuilt := a.NewFuncDecl(n.Span, d.Name, d.FuncKind, d.Params, d.ReturnType, d.ReturnMode, newBody)
	types.Transfer(n, rebuilt)
	return rebuilt
}

func markUses(n *ast.Node, live map[string]bool) {
	if n == nil {
		return
	}
	switch d := n.Data.(type) {
	case ast.IdentNode:
		live[d.Name] = true
	case ast.BinaryNode:
		markUses(d.Left, live)
		markUses(d.Right, live)
	case ast.UnaryNode:
		markUses(d.Expr, live)
	case ast.CallNode:
		for _, arg := range d.Args {
			markUses(arg, live)
		}
	case ast.ArrayAccessNode:
		markUses(d.Array, live)
		markUses(d.Index, live)
	case ast.MemberAccessNode:
		markUses(d.Expr, live)
	case ast.TupleAccessNode:
		markUses(d.Expr, live)
	case ast.CastNode:
		markUses(d.Expr, live)
	case ast.TernaryNode:
		markUses(d.Cond, live)
		markUses(d.Then, live)
		markUses(d.Else, live)
	case ast.StructInitNode:
		for _, f := range d.Fields {
			markUses(f.Value, live)
		}
	case ast.ArrayInitNode:
		for _, e := range d.Elems {
			markUses(e, live)
		}
		markUses(d.Repeat, live)
		markUses(d.Count, live)
	case ast.TupleInitNode:
		for _, e := range d.Elems {
			markUses(e, live)
		}
	}
}

// hasEffects reports whether evaluating the expression is externally
// observable: it calls into another program, or it removes a mapping entry
// (the one effectful builtin).
func hasEffects(n *ast.Node) bool {
	if n == nil {
		return false
	}
	switch d := n.Data.(type) {
	case ast.CallNode:
		if d.Program != "" || d.Callee == "mapping_remove" {
			return true
		}
		for _, arg := range d.Args {
			if hasEffects(arg) {
				return true
			}
		}
	case ast.BinaryNode:
		return hasEffects(d.Left) || hasEffects(d.Right)
	case ast.UnaryNode:
		return hasEffects(d.Expr)
	case ast.ArrayAccessNode:
		return hasEffects(d.Array) || hasEffects(d.Index)
	case ast.MemberAccessNode:
		return hasEffects(d.Expr)
	case ast.TupleAccessNode:
		return hasEffects(d.Expr)
	case ast.CastNode:
		return hasEffects(d.Expr)
	case ast.TernaryNode:
		return hasEffects(d.Cond) || hasEffects(d.Then) || hasEffects(d.Else)
	case ast.StructInitNode:
		for _, f := range d.Fields {
			if hasEffects(f.Value) {
				return true
			}
		}
	case ast.ArrayInitNode:
		for _, e := range d.Elems {
			if hasEffects(e) {
				return true
			}
		}
		return hasEffects(d.Repeat)
	case ast.TupleInitNode:
		for _, e := range d.Elems {
			if hasEffects(e) {
				return true
			}
		}
	}
	return false
}
