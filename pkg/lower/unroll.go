package lower

import (
	"math/big"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/config"
	"github.com/lumen-lang/lumc/pkg/diag"
	"github.com/lumen-lang/lumc/pkg/fold"
)

// Unroller replaces every iteration statement by one copy of its body per
// loop index, substituting the loop variable with the index literal. Bounds
// must reduce to integer literals by the time the loop is reached; nested
// loops whose bounds depend on an outer loop variable become constant as the
// outer copies are made.
type Unroller struct {
	a      *ast.Assigner
	types  *ast.TypeTable
	folder *fold.Folder
	cfg    *config.Config
	bag    *diag.Bag

	emitted int // statements emitted for the current function
	blown   bool
}

func NewUnroller(a *ast.Assigner, types *ast.TypeTable, folder *fold.Folder, cfg *config.Config, bag *diag.Bag) *Unroller {
	return &Unroller{a: a, types: types, folder: folder, cfg: cfg, bag: bag}
}

func (u *Unroller) Run(prog *ast.Program) *ast.Program {
	out := &ast.Program{}
	for _, scope := range prog.Scopes {
		newScope := &ast.Scope{
			Name:     scope.Name,
			Structs:  scope.Structs,
			Mappings: scope.Mappings,
			Consts:   scope.Consts,
		}
		for _, fn := range scope.Functions {
			newScope.Functions = append(newScope.Functions, u.unrollFunc(fn))
		}
		out.Scopes = append(out.Scopes, newScope)
	}
	return out
}

func (u *Unroller) unrollFunc(n *ast.Node) *ast.Node {
	d := n.Data.(ast.FuncDeclNode)
	u.emitted, u.blown = 0, false
	body := u.unrollBlock(d.Body)
	if body == d.Body {
		return n
	}
	rebuilt := u.a.NewFuncDecl(n.Span, d.Name, d.FuncKind, d.Params, d.ReturnType, d.ReturnMode, body)
	u.types.Transfer(n, rebuilt)
	return rebuilt
}

func (u *Unroller) unrollBlock(block *ast.Node) *ast.Node {
	d := block.Data.(ast.BlockNode)
	stmts := make([]*ast.Node, 0, len(d.Stmts))
	changed := false
	for _, stmt := range d.Stmts {
		out := u.unrollStmt(stmt)
		if len(out) != 1 || out[0] != stmt {
			changed = true
		}
		stmts = append(stmts, out...)
	}
	if !changed {
		return block
	}
	rebuilt := u.a.NewBlock(block.Span, stmts)
	u.types.Transfer(block, rebuilt)
	return rebuilt
}

func (u *Unroller) unrollStmt(n *ast.Node) []*ast.Node {
	u.emitted++
	switch d := n.Data.(type) {
	case ast.BlockNode:
		return []*ast.Node{u.unrollBlock(n)}
	case ast.ConditionalNode:
		then := u.unrollBlock(d.Then)
		var els *ast.Node
		if d.Else != nil {
			if d.Else.Kind == ast.Conditional {
				parts := u.unrollStmt(d.Else)
				els = parts[0]
			} else {
				els = u.unrollBlock(d.Else)
			}
		}
		if then == d.Then && els == d.Else {
			return []*ast.Node{n}
		}
		rebuilt := u.a.NewConditional(n.Span, d.Cond, then, els)
		u.types.Transfer(n, rebuilt)
		return []*ast.Node{rebuilt}
	case ast.IterationNode:
		return u.unrollIteration(n, d)
	}
	return []*ast.Node{n}
}

func (u *Unroller) unrollIteration(n *ast.Node, d ast.IterationNode) []*ast.Node {
	if u.blown {
		return nil
	}
	start, startOK := u.boundValue(d.Start)
	end, endOK := u.boundValue(d.End)
	if !startOK || !endOK {
		return []*ast.Node{n}
	}
	if start.Cmp(end) > 0 {
		u.bag.Add(diag.Structural, n.Span, "loop range is reversed: %s..%s", start, end)
		return nil
	}

	last := new(big.Int).Set(end)
	if d.Inclusive {
		last.Add(last, big.NewInt(1))
	}
	count := new(big.Int).Sub(last, start)
	limit := big.NewInt(int64(u.cfg.Limits.MaxUnrolledStmts))
	if count.Cmp(limit) > 0 {
		u.bag.Add(diag.Structural, n.Span, "unrolling this loop would exceed the statement limit (%d)", u.cfg.Limits.MaxUnrolledStmts)
		u.blown = true
		return nil
	}

	locals := make(map[string]bool)
	declaredNames(d.Body, locals)

	var out []*ast.Node
	for i := new(big.Int).Set(start); i.Cmp(last) < 0; i.Add(i, big.NewInt(1)) {
		if u.emitted > u.cfg.Limits.MaxUnrolledStmts {
			u.bag.Add(diag.Structural, n.Span, "loop unrolling exceeded the statement limit (%d)", u.cfg.Limits.MaxUnrolledStmts)
			u.blown = true
			return out
		}
		c := newCloner(u.a, u.types)
		indexLit := u.a.NewIntLiteral(n.Span, new(big.Int).Set(i), d.VarType)
		u.types.Set(indexLit, d.VarType)
		c.subst[d.Var] = indexLit
		for name := range locals {
			c.rename[name] = u.a.Fresh(name)
		}
		copyBody := c.block(d.Body)
		// Inner loops may have become constant-bounded after substitution.
		copyBody = u.foldBounds(copyBody)
		copyBody = u.unrollBlock(copyBody)
		u.emitted += blockLen(copyBody)
		out = append(out, copyBody)
	}
	return out
}

// boundValue reduces a loop bound to its integer value; it reports
// ConstantRequired when the bound does not fold to a literal.
func (u *Unroller) boundValue(n *ast.Node) (*big.Int, bool) {
	folded := u.folder.FoldExpr(n)
	if lit, ok := folded.Data.(ast.LiteralNode); ok && lit.LitKind == ast.LitInteger {
		return lit.Int, true
	}
	u.bag.Add(diag.ConstantRequired, n.Span, "loop bound must be a constant expression")
	return nil, false
}

// foldBounds folds iteration bounds one statement level at a time, so a
// nested loop's bounds reduce after the outer loop variable was substituted.
func (u *Unroller) foldBounds(block *ast.Node) *ast.Node {
	d := block.Data.(ast.BlockNode)
	stmts := make([]*ast.Node, len(d.Stmts))
	changed := false
	for i, stmt := range d.Stmts {
		stmts[i] = stmt
		switch sd := stmt.Data.(type) {
		case ast.IterationNode:
			start, end := u.folder.FoldExpr(sd.Start), u.folder.FoldExpr(sd.End)
			body := u.foldBounds(sd.Body)
			if start != sd.Start || end != sd.End || body != sd.Body {
				stmts[i] = u.a.NewIteration(stmt.Span, sd.Var, sd.VarType, start, end, sd.Inclusive, body)
				u.types.Transfer(stmt, stmts[i])
				changed = true
			}
		case ast.BlockNode:
			if out := u.foldBounds(stmt); out != stmt {
				stmts[i], changed = out, true
			}
		case ast.ConditionalNode:
			then := u.foldBounds(sd.Then)
			els := sd.Else
			if els != nil && els.Kind == ast.Block {
				els = u.foldBounds(els)
			}
			if then != sd.Then || els != sd.Else {
				stmts[i] = u.a.NewConditional(stmt.Span, sd.Cond, then, els)
				u.types.Transfer(stmt, stmts[i])
				changed = true
			}
		}
	}
	if !changed {
		return block
	}
	rebuilt := u.a.NewBlock(block.Span, stmts)
	u.types.Transfer(block, rebuilt)
	return rebuilt
}

func blockLen(block *ast.Node) int {
	d, ok := block.Data.(ast.BlockNode)
	if !ok {
		return 1
	}
	total := 0
	for _, s := range d.Stmts {
		switch sd := s.Data.(type) {
		case ast.BlockNode:
			total += blockLen(s)
		case ast.ConditionalNode:
			total += 1 + blockLen(sd.Then)
			if sd.Else != nil {
				total += blockLen(sd.Else)
			}
		default:
			total++
		}
	}
	return total
}
