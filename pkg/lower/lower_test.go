package lower

import (
	"math/big"
	"strings"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/diag"
	"github.com/lumen-lang/lumc/pkg/span"
)

func testSpan() span.Span { return span.Span{Line: 1, Column: 1} }

func u32lit(a *ast.Assigner, types *ast.TypeTable, v int64) *ast.Node {
	lit := a.NewIntLiteral(testSpan(), big.NewInt(v), ast.TypeU32)
	types.Set(lit, ast.TypeU32)
	return lit
}

func boolLit(a *ast.Assigner, types *ast.TypeTable, v bool) *ast.Node {
	lit := a.NewBoolLiteral(testSpan(), v)
	types.Set(lit, ast.TypeBool)
	return lit
}

func typedIdent(a *ast.Assigner, types *ast.TypeTable, name string, typ *ast.Type) *ast.Node {
	id := a.NewIdent(testSpan(), name)
	types.Set(id, typ)
	return id
}

// transitionOf wraps statements into a single transition in scope "demo".
func transitionOf(a *ast.Assigner, params []ast.Param, ret *ast.Type, stmts []*ast.Node) *ast.Program {
	sp := testSpan()
	body := a.NewBlock(sp, stmts)
	fn := a.NewFuncDecl(sp, "main", ast.FuncTransition, params, ret, ast.ModePrivate, body)
	return &ast.Program{Scopes: []*ast.Scope{{Name: "demo", Functions: []*ast.Node{fn}}}}
}

func bodyStmts(prog *ast.Program) []*ast.Node {
	d := prog.Scopes[0].Functions[0].Data.(ast.FuncDeclNode)
	return d.Body.Data.(ast.BlockNode).Stmts
}

func hasDiag(bag *diag.Bag, kind diag.Kind, fragment string) bool {
	for _, d := range bag.Errors() {
		if d.Kind == kind && strings.Contains(d.Msg, fragment) {
			return true
		}
	}
	return false
}
