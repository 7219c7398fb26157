package lower

import (
	"testing"

	"github.com/nalgeon/be"

	"github.com/lumen-lang/lumc/pkg/ast"
)

func TestDCEDropsDeadBindings(t *testing.T) {
	a := ast.NewAssigner()
	types := ast.NewTypeTable()
	sp := testSpan()
	prog := transitionOf(a, nil, ast.TypeU32, []*ast.Node{
		a.NewVarDecl(sp, "dead", false, ast.TypeU32, u32lit(a, types, 1)),
		a.NewVarDecl(sp, "v", false, ast.TypeU32, u32lit(a, types, 2)),
		a.NewReturn(sp, a.NewIdent(sp, "v")),
	})

	body := bodyStmts(EliminateDeadCode(prog, a, types))
	be.Equal(t, len(body), 2)
	be.Equal(t, body[0].Data.(ast.VarDeclNode).Name, "v")
}

func TestDCELivenessIsTransitive(t *testing.T) {
	a := ast.NewAssigner()
	types := ast.NewTypeTable()
	sp := testSpan()
	sum := a.NewBinary(sp, ast.OpAdd, a.NewIdent(sp, "base"), u32lit(a, types, 1))
	prog := transitionOf(a, nil, ast.TypeU32, []*ast.Node{
		a.NewVarDecl(sp, "base", false, ast.TypeU32, u32lit(a, types, 1)),
		a.NewVarDecl(sp, "unused", false, ast.TypeU32, u32lit(a, types, 5)),
		a.NewVarDecl(sp, "total", false, ast.TypeU32, sum),
		a.NewReturn(sp, a.NewIdent(sp, "total")),
	})

	body := bodyStmts(EliminateDeadCode(prog, a, types))
	be.Equal(t, len(body), 3)
	be.Equal(t, body[0].Data.(ast.VarDeclNode).Name, "base")
	be.Equal(t, body[1].Data.(ast.VarDeclNode).Name, "total")
}

func TestDCEKeepsExternalCalls(t *testing.T) {
	a := ast.NewAssigner()
	types := ast.NewTypeTable()
	sp := testSpan()
	extDecl := a.NewVarDecl(sp, "receipt", false, ast.TypeU64,
		a.NewCall(sp, "credits", "mint", false, []*ast.Node{u32lit(a, types, 10)}))
	extStmt := a.NewExprStmt(sp, a.NewCall(sp, "credits", "burn", false, nil))
	pureStmt := a.NewExprStmt(sp, u32lit(a, types, 1))
	prog := transitionOf(a, nil, ast.TypeUnit, []*ast.Node{
		extDecl,
		extStmt,
		pureStmt,
		a.NewReturn(sp, nil),
	})

	body := bodyStmts(EliminateDeadCode(prog, a, types))
	be.Equal(t, len(body), 3)
	be.Equal(t, body[0].Data.(ast.VarDeclNode).Name, "receipt")
	be.Equal(t, body[1].Kind, ast.ExprStmt)
	be.Equal(t, body[2].Kind, ast.Return)
}

func TestDCEKeepsMappingRemoval(t *testing.T) {
	a := ast.NewAssigner()
	types := ast.NewTypeTable()
	sp := testSpan()
	remove := a.NewExprStmt(sp, a.NewCall(sp, "", "mapping_remove", true, []*ast.Node{
		a.NewIdent(sp, "balances"),
		typedIdent(a, types, "who", ast.TypeAddress),
	}))
	pure := a.NewExprStmt(sp, u32lit(a, types, 1))
	prog := transitionOf(a, nil, ast.TypeUnit, []*ast.Node{
		remove,
		pure,
		a.NewReturn(sp, nil),
	})

	body := bodyStmts(EliminateDeadCode(prog, a, types))
	be.Equal(t, len(body), 2)
	call := body[0].Data.(ast.ExprStmtNode).Expr.Data.(ast.CallNode)
	be.Equal(t, call.Callee, "mapping_remove")
	be.Equal(t, body[1].Kind, ast.Return)
}

func TestDCEGuardsAndEffectsAreRoots(t *testing.T) {
	a := ast.NewAssigner()
	types := ast.NewTypeTable()
	sp := testSpan()
	prog := transitionOf(a, nil, ast.TypeUnit, []*ast.Node{
		a.NewVarDecl(sp, "ok", false, ast.TypeBool, boolLit(a, types, true)),
		a.NewVarDecl(sp, "ind", false, ast.TypeBool, boolLit(a, types, true)),
		a.NewVarDecl(sp, "key", false, ast.TypeU32, u32lit(a, types, 3)),
		a.NewGuardedConsole(sp, ast.ConsoleAssert, []*ast.Node{a.NewIdent(sp, "ok")}, a.NewIdent(sp, "ind")),
		a.NewGuardedMappingUpdate(sp, "counts", a.NewIdent(sp, "key"), u32lit(a, types, 1), a.NewIdent(sp, "ind")),
	})

	body := bodyStmts(EliminateDeadCode(prog, a, types))
	be.Equal(t, len(body), 5)
}

func TestDCEIsIdempotent(t *testing.T) {
	a := ast.NewAssigner()
	types := ast.NewTypeTable()
	sp := testSpan()
	prog := transitionOf(a, nil, ast.TypeU32, []*ast.Node{
		a.NewVarDecl(sp, "dead", false, ast.TypeU32, u32lit(a, types, 1)),
		a.NewVarDecl(sp, "v", false, ast.TypeU32, u32lit(a, types, 2)),
		a.NewReturn(sp, a.NewIdent(sp, "v")),
	})

	once := EliminateDeadCode(prog, a, types)
	twice := EliminateDeadCode(once, a, types)
	// Nothing left to remove: the function node is reused as-is.
	be.True(t, twice.Scopes[0].Functions[0] == once.Scopes[0].Functions[0])
}
