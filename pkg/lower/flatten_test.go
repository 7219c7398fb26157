package lower

import (
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/diag"
)

func newFlattenEnv() (*ast.Assigner, *ast.TypeTable, *diag.Bag, *Flattener) {
	a := ast.NewAssigner()
	types := ast.NewTypeTable()
	bag := diag.NewBag(nil)
	return a, types, bag, NewFlattener(a, types, bag)
}

func TestFlattenSplicesBranches(t *testing.T) {
	a, types, bag, f := newFlattenEnv()
	sp := testSpan()

	condDecl := a.NewVarDecl(sp, "c", false, ast.TypeBool, boolLit(a, types, true))
	then := a.NewBlock(sp, []*ast.Node{
		a.NewVarDecl(sp, "t", false, ast.TypeU32, u32lit(a, types, 1)),
		a.NewConsole(sp, ast.ConsoleAssert, []*ast.Node{typedIdent(a, types, "ok", ast.TypeBool)}),
	})
	els := a.NewBlock(sp, []*ast.Node{
		a.NewMappingUpdate(sp, "balances", typedIdent(a, types, "k", ast.TypeAddress), u32lit(a, types, 0)),
	})
	cond := a.NewConditional(sp, typedIdent(a, types, "c", ast.TypeBool), then, els)
	prog := transitionOf(a, nil, ast.TypeUnit, []*ast.Node{condDecl, cond})

	out := f.Run(prog)
	be.True(t, !bag.HasErrors())

	body := bodyStmts(out)
	be.Equal(t, len(body), 5)
	for _, st := range body {
		be.True(t, st.Kind != ast.Conditional)
	}

	// The then-branch reuses the bound condition as its guard directly.
	console := body[2].Data.(ast.ConsoleNode)
	be.Equal(t, console.Guard.Data.(ast.IdentNode).Name, "c")

	// The else side binds the negation once and guards through it.
	indDecl := body[3].Data.(ast.VarDeclNode)
	be.True(t, strings.HasPrefix(indDecl.Name, "ind$"))
	neg := indDecl.Value.Data.(ast.UnaryNode)
	be.Equal(t, neg.Op, ast.OpNot)
	be.Equal(t, neg.Expr.Data.(ast.IdentNode).Name, "c")

	update := body[4].Data.(ast.MappingUpdateNode)
	be.Equal(t, update.Guard.Data.(ast.IdentNode).Name, indDecl.Name)
}

func TestFlattenNestedConditionsConjoin(t *testing.T) {
	a, types, bag, f := newFlattenEnv()
	sp := testSpan()

	inner := a.NewConditional(sp, typedIdent(a, types, "c2", ast.TypeBool),
		a.NewBlock(sp, []*ast.Node{a.NewFinalizeCall(sp, nil)}), nil)
	outer := a.NewConditional(sp, typedIdent(a, types, "c1", ast.TypeBool),
		a.NewBlock(sp, []*ast.Node{inner}), nil)
	prog := transitionOf(a, nil, ast.TypeUnit, []*ast.Node{outer})

	out := f.Run(prog)
	be.True(t, !bag.HasErrors())

	body := bodyStmts(out)
	be.Equal(t, len(body), 2)

	indDecl := body[0].Data.(ast.VarDeclNode)
	be.True(t, strings.HasPrefix(indDecl.Name, "ind$"))
	conj := indDecl.Value.Data.(ast.BinaryNode)
	be.Equal(t, conj.Op, ast.OpAnd)
	be.Equal(t, conj.Left.Data.(ast.IdentNode).Name, "c1")
	be.Equal(t, conj.Right.Data.(ast.IdentNode).Name, "c2")

	fin := body[1].Data.(ast.FinalizeCallNode)
	be.Equal(t, fin.Guard.Data.(ast.IdentNode).Name, indDecl.Name)
}

func TestFlattenConjoinsExistingGuard(t *testing.T) {
	a, types, _, f := newFlattenEnv()
	sp := testSpan()

	guarded := a.NewGuardedConsole(sp, ast.ConsoleAssert,
		[]*ast.Node{typedIdent(a, types, "ok", ast.TypeBool)},
		typedIdent(a, types, "g", ast.TypeBool))
	cond := a.NewConditional(sp, typedIdent(a, types, "c", ast.TypeBool),
		a.NewBlock(sp, []*ast.Node{guarded}), nil)
	prog := transitionOf(a, nil, ast.TypeUnit, []*ast.Node{cond})

	body := bodyStmts(f.Run(prog))
	console := body[0].Data.(ast.ConsoleNode)
	conj := console.Guard.Data.(ast.BinaryNode)
	be.Equal(t, conj.Op, ast.OpAnd)
	be.Equal(t, conj.Left.Data.(ast.IdentNode).Name, "c")
	be.Equal(t, conj.Right.Data.(ast.IdentNode).Name, "g")
}

func TestFlattenRecordsIndicators(t *testing.T) {
	a, types, _, f := newFlattenEnv()
	sp := testSpan()

	hoisted := a.NewVarDecl(sp, "t", false, ast.TypeU32, u32lit(a, types, 1))
	cond := a.NewConditional(sp, typedIdent(a, types, "c", ast.TypeBool),
		a.NewBlock(sp, []*ast.Node{hoisted}), nil)
	top := a.NewVarDecl(sp, "u", false, ast.TypeU32, u32lit(a, types, 2))
	prog := transitionOf(a, nil, ast.TypeUnit, []*ast.Node{top, cond})

	f.Run(prog)

	ind := f.Indicators()[hoisted.ID]
	be.True(t, ind != nil)
	be.Equal(t, ind.Data.(ast.IdentNode).Name, "c")

	// Top-level statements carry no indicator.
	_, found := f.Indicators()[top.ID]
	be.True(t, !found)
}

func TestFlattenRejectsConditionalMappingRemoval(t *testing.T) {
	a, types, bag, f := newFlattenEnv()
	sp := testSpan()

	remove := a.NewExprStmt(sp, a.NewCall(sp, "", "mapping_remove", true, []*ast.Node{
		a.NewIdent(sp, "balances"),
		typedIdent(a, types, "who", ast.TypeAddress),
	}))
	cond := a.NewConditional(sp, typedIdent(a, types, "c", ast.TypeBool),
		a.NewBlock(sp, []*ast.Node{remove}), nil)
	prog := transitionOf(a, nil, ast.TypeUnit, []*ast.Node{cond})

	f.Run(prog)
	be.True(t, hasDiag(bag, diag.Structural, "mapping removal cannot depend on a condition"))
}

func TestFlattenPassesUnconditionalMappingRemoval(t *testing.T) {
	a, types, bag, f := newFlattenEnv()
	sp := testSpan()

	remove := a.NewExprStmt(sp, a.NewCall(sp, "", "mapping_remove", true, []*ast.Node{
		a.NewIdent(sp, "balances"),
		typedIdent(a, types, "who", ast.TypeAddress),
	}))
	prog := transitionOf(a, nil, ast.TypeUnit, []*ast.Node{remove})

	body := bodyStmts(f.Run(prog))
	be.True(t, !bag.HasErrors())
	be.Equal(t, len(body), 1)
	be.Equal(t, body[0].Kind, ast.ExprStmt)
}

func TestFlattenRejectsReturnUnderBranch(t *testing.T) {
	a, types, bag, f := newFlattenEnv()
	sp := testSpan()

	cond := a.NewConditional(sp, typedIdent(a, types, "c", ast.TypeBool),
		a.NewBlock(sp, []*ast.Node{a.NewReturn(sp, u32lit(a, types, 1))}), nil)
	prog := transitionOf(a, nil, ast.TypeU32, []*ast.Node{cond})

	f.Run(prog)
	be.True(t, hasDiag(bag, diag.Structural, "return reached under a condition"))
}
