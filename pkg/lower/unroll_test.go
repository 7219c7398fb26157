package lower

import (
	"testing"

	"github.com/nalgeon/be"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/config"
	"github.com/lumen-lang/lumc/pkg/diag"
	"github.com/lumen-lang/lumc/pkg/fold"
)

type unrollEnv struct {
	a     *ast.Assigner
	types *ast.TypeTable
	bag   *diag.Bag
	cfg   *config.Config
	u     *Unroller
}

func newUnrollEnv() *unrollEnv {
	a := ast.NewAssigner()
	types := ast.NewTypeTable()
	bag := diag.NewBag(nil)
	cfg := config.NewConfig()
	folder := fold.New(a, types, cfg, bag)
	return &unrollEnv{a: a, types: types, bag: bag, cfg: cfg, u: NewUnroller(a, types, folder, cfg, bag)}
}

func countVarDecls(stmts []*ast.Node) int {
	n := 0
	for _, s := range stmts {
		switch d := s.Data.(type) {
		case ast.BlockNode:
			n += countVarDecls(d.Stmts)
		case ast.VarDeclNode:
			n++
		}
	}
	return n
}

func TestUnrollCopiesBody(t *testing.T) {
	e := newUnrollEnv()
	sp := testSpan()
	body := e.a.NewBlock(sp, []*ast.Node{
		e.a.NewVarDecl(sp, "y", false, ast.TypeU32, e.a.NewIdent(sp, "i")),
	})
	loop := e.a.NewIteration(sp, "i", ast.TypeU32, u32lit(e.a, e.types, 0), u32lit(e.a, e.types, 3), false, body)
	prog := transitionOf(e.a, nil, ast.TypeUnit, []*ast.Node{loop})

	out := e.u.Run(prog)
	be.True(t, !e.bag.HasErrors())

	stmts := bodyStmts(out)
	be.Equal(t, len(stmts), 3)
	seen := map[string]bool{}
	for i, blk := range stmts {
		be.Equal(t, blk.Kind, ast.Block)
		inner := blk.Data.(ast.BlockNode).Stmts
		be.Equal(t, len(inner), 1)
		d := inner[0].Data.(ast.VarDeclNode)
		be.True(t, !seen[d.Name])
		seen[d.Name] = true
		lit := d.Value.Data.(ast.LiteralNode)
		be.Equal(t, lit.Int.Int64(), int64(i))
	}
}

func TestUnrollInclusiveRange(t *testing.T) {
	e := newUnrollEnv()
	sp := testSpan()
	body := e.a.NewBlock(sp, []*ast.Node{
		e.a.NewVarDecl(sp, "y", false, ast.TypeU32, e.a.NewIdent(sp, "i")),
	})
	loop := e.a.NewIteration(sp, "i", ast.TypeU32, u32lit(e.a, e.types, 0), u32lit(e.a, e.types, 2), true, body)
	prog := transitionOf(e.a, nil, ast.TypeUnit, []*ast.Node{loop})

	out := e.u.Run(prog)
	be.True(t, !e.bag.HasErrors())
	be.Equal(t, len(bodyStmts(out)), 3)
}

func TestUnrollRenamesLocalsPerIteration(t *testing.T) {
	e := newUnrollEnv()
	sp := testSpan()
	body := e.a.NewBlock(sp, []*ast.Node{
		e.a.NewVarDecl(sp, "y", false, ast.TypeU32, e.a.NewIdent(sp, "i")),
		e.a.NewVarDecl(sp, "z", false, ast.TypeU32, e.a.NewBinary(sp, ast.OpAdd, e.a.NewIdent(sp, "y"), u32lit(e.a, e.types, 1))),
	})
	loop := e.a.NewIteration(sp, "i", ast.TypeU32, u32lit(e.a, e.types, 0), u32lit(e.a, e.types, 2), false, body)
	prog := transitionOf(e.a, nil, ast.TypeUnit, []*ast.Node{loop})

	out := e.u.Run(prog)
	stmts := bodyStmts(out)
	be.Equal(t, len(stmts), 2)

	// Uses of a renamed local stay consistent within one copy.
	for _, blk := range stmts {
		inner := blk.Data.(ast.BlockNode).Stmts
		yDecl := inner[0].Data.(ast.VarDeclNode)
		zDecl := inner[1].Data.(ast.VarDeclNode)
		add := zDecl.Value.Data.(ast.BinaryNode)
		be.Equal(t, add.Left.Data.(ast.IdentNode).Name, yDecl.Name)
	}
	first := stmts[0].Data.(ast.BlockNode).Stmts[0].Data.(ast.VarDeclNode)
	second := stmts[1].Data.(ast.BlockNode).Stmts[0].Data.(ast.VarDeclNode)
	be.True(t, first.Name != second.Name)
}

func TestUnrollNestedBoundsFoldAfterSubstitution(t *testing.T) {
	e := newUnrollEnv()
	sp := testSpan()
	innerBody := e.a.NewBlock(sp, []*ast.Node{
		e.a.NewVarDecl(sp, "y", false, ast.TypeU32, e.a.NewIdent(sp, "j")),
	})
	innerEnd := e.a.NewBinary(sp, ast.OpAdd, typedIdent(e.a, e.types, "i", ast.TypeU32), u32lit(e.a, e.types, 1))
	e.types.Set(innerEnd, ast.TypeU32)
	inner := e.a.NewIteration(sp, "j", ast.TypeU32, u32lit(e.a, e.types, 0), innerEnd, false, innerBody)
	outer := e.a.NewIteration(sp, "i", ast.TypeU32, u32lit(e.a, e.types, 0), u32lit(e.a, e.types, 2), false,
		e.a.NewBlock(sp, []*ast.Node{inner}))
	prog := transitionOf(e.a, nil, ast.TypeUnit, []*ast.Node{outer})

	out := e.u.Run(prog)
	be.True(t, !e.bag.HasErrors())
	// i=0 gives one inner copy, i=1 gives two.
	be.Equal(t, countVarDecls(bodyStmts(out)), 3)
}

func TestUnrollReversedRange(t *testing.T) {
	e := newUnrollEnv()
	sp := testSpan()
	loop := e.a.NewIteration(sp, "i", ast.TypeU32, u32lit(e.a, e.types, 5), u32lit(e.a, e.types, 2), false,
		e.a.NewBlock(sp, nil))
	prog := transitionOf(e.a, nil, ast.TypeUnit, []*ast.Node{loop})

	out := e.u.Run(prog)
	be.True(t, hasDiag(e.bag, diag.Structural, "loop range is reversed"))
	be.Equal(t, len(bodyStmts(out)), 0)
}

func TestUnrollNonConstantBound(t *testing.T) {
	e := newUnrollEnv()
	sp := testSpan()
	loop := e.a.NewIteration(sp, "i", ast.TypeU32, u32lit(e.a, e.types, 0), typedIdent(e.a, e.types, "n", ast.TypeU32), false,
		e.a.NewBlock(sp, nil))
	prog := transitionOf(e.a, []ast.Param{{Name: "n", Type: ast.TypeU32, Mode: ast.ModePrivate}}, ast.TypeUnit, []*ast.Node{loop})

	out := e.u.Run(prog)
	be.True(t, hasDiag(e.bag, diag.ConstantRequired, "loop bound must be a constant expression"))
	// The loop is left in place; the pipeline stops on the error anyway.
	stmts := bodyStmts(out)
	be.Equal(t, len(stmts), 1)
	be.Equal(t, stmts[0].Kind, ast.Iteration)
}

func TestUnrollStatementLimit(t *testing.T) {
	e := newUnrollEnv()
	e.cfg.Limits.MaxUnrolledStmts = 10
	sp := testSpan()
	body := e.a.NewBlock(sp, []*ast.Node{
		e.a.NewVarDecl(sp, "y", false, ast.TypeU32, e.a.NewIdent(sp, "i")),
	})
	loop := e.a.NewIteration(sp, "i", ast.TypeU32, u32lit(e.a, e.types, 0), u32lit(e.a, e.types, 100), false, body)
	prog := transitionOf(e.a, nil, ast.TypeUnit, []*ast.Node{loop})

	e.u.Run(prog)
	be.True(t, hasDiag(e.bag, diag.Structural, "statement limit (10)"))
}
