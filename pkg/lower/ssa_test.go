package lower

import (
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/diag"
)

func newSSAEnv() (*ast.Assigner, *ast.TypeTable, *diag.Bag, *SSAConverter) {
	a := ast.NewAssigner()
	types := ast.NewTypeTable()
	bag := diag.NewBag(nil)
	return a, types, bag, NewSSAConverter(a, types, bag)
}

func TestSSASingleAssignment(t *testing.T) {
	a, types, bag, s := newSSAEnv()
	sp := testSpan()
	prog := transitionOf(a, nil, ast.TypeU32, []*ast.Node{
		a.NewVarDecl(sp, "x", true, ast.TypeU32, u32lit(a, types, 1)),
		a.NewAssign(sp, ast.AssignSet, a.NewIdent(sp, "x"), u32lit(a, types, 2)),
		a.NewAssign(sp, ast.AssignAdd, a.NewIdent(sp, "x"), u32lit(a, types, 3)),
		a.NewReturn(sp, a.NewIdent(sp, "x")),
	})

	out := s.Run(prog)
	be.True(t, !bag.HasErrors())

	body := bodyStmts(out)
	be.Equal(t, len(body), 4)
	var names []string
	for _, st := range body[:3] {
		d := st.Data.(ast.VarDeclNode)
		be.True(t, !d.Mutable)
		names = append(names, d.Name)
	}
	be.True(t, names[0] != names[1] && names[1] != names[2] && names[0] != names[2])

	// The op-assign desugars to a binary over the previous binding.
	add := body[2].Data.(ast.VarDeclNode).Value.Data.(ast.BinaryNode)
	be.Equal(t, add.Op, ast.OpAdd)
	be.Equal(t, add.Left.Data.(ast.IdentNode).Name, names[1])

	ret := body[3].Data.(ast.ReturnNode)
	be.Equal(t, ret.Expr.Data.(ast.IdentNode).Name, names[2])
}

func TestSSADissolvesNestedBlocks(t *testing.T) {
	a, types, _, s := newSSAEnv()
	sp := testSpan()
	nested := a.NewBlock(sp, []*ast.Node{
		a.NewVarDecl(sp, "y", false, ast.TypeU32, u32lit(a, types, 1)),
	})
	prog := transitionOf(a, nil, ast.TypeU32, []*ast.Node{
		nested,
		a.NewReturn(sp, a.NewIdent(sp, "y")),
	})

	body := bodyStmts(s.Run(prog))
	be.Equal(t, len(body), 2)
	be.Equal(t, body[0].Kind, ast.VarDecl)
	decl := body[0].Data.(ast.VarDeclNode)
	be.Equal(t, body[1].Data.(ast.ReturnNode).Expr.Data.(ast.IdentNode).Name, decl.Name)
}

func TestSSAConditionalJoin(t *testing.T) {
	a, types, bag, s := newSSAEnv()
	sp := testSpan()
	then := a.NewBlock(sp, []*ast.Node{
		a.NewAssign(sp, ast.AssignSet, a.NewIdent(sp, "x"), u32lit(a, types, 2)),
	})
	cond := a.NewConditional(sp, typedIdent(a, types, "flag", ast.TypeBool), then, nil)
	prog := transitionOf(a, []ast.Param{{Name: "flag", Type: ast.TypeBool, Mode: ast.ModePrivate}}, ast.TypeU32, []*ast.Node{
		a.NewVarDecl(sp, "x", true, ast.TypeU32, u32lit(a, types, 1)),
		cond,
		a.NewReturn(sp, a.NewIdent(sp, "x")),
	})

	out := s.Run(prog)
	be.True(t, !bag.HasErrors())

	body := bodyStmts(out)
	be.Equal(t, len(body), 5)

	first := body[0].Data.(ast.VarDeclNode)
	condDecl := body[1].Data.(ast.VarDeclNode)
	be.True(t, strings.HasPrefix(condDecl.Name, "cond$"))
	be.Equal(t, condDecl.Value.Data.(ast.IdentNode).Name, "flag")

	be.Equal(t, body[2].Kind, ast.Conditional)
	cd := body[2].Data.(ast.ConditionalNode)
	be.Equal(t, cd.Cond.Data.(ast.IdentNode).Name, condDecl.Name)

	join := body[3].Data.(ast.VarDeclNode)
	sel := join.Value.Data.(ast.TernaryNode)
	be.Equal(t, sel.Cond.Data.(ast.IdentNode).Name, condDecl.Name)
	be.True(t, strings.HasPrefix(sel.Then.Data.(ast.IdentNode).Name, "x$"))
	be.Equal(t, sel.Else.Data.(ast.IdentNode).Name, first.Name)

	ret := body[4].Data.(ast.ReturnNode)
	be.Equal(t, ret.Expr.Data.(ast.IdentNode).Name, join.Name)
}

func TestSSAJoinOrderIsDeterministic(t *testing.T) {
	a, types, _, s := newSSAEnv()
	sp := testSpan()
	then := a.NewBlock(sp, []*ast.Node{
		a.NewAssign(sp, ast.AssignSet, a.NewIdent(sp, "y"), u32lit(a, types, 4)),
		a.NewAssign(sp, ast.AssignSet, a.NewIdent(sp, "x"), u32lit(a, types, 3)),
	})
	cond := a.NewConditional(sp, typedIdent(a, types, "flag", ast.TypeBool), then, nil)
	prog := transitionOf(a, []ast.Param{{Name: "flag", Type: ast.TypeBool, Mode: ast.ModePrivate}}, ast.TypeUnit, []*ast.Node{
		a.NewVarDecl(sp, "x", true, ast.TypeU32, u32lit(a, types, 1)),
		a.NewVarDecl(sp, "y", true, ast.TypeU32, u32lit(a, types, 2)),
		cond,
	})

	body := bodyStmts(s.Run(prog))
	// x decl, y decl, cond decl, conditional, then joins sorted by source name.
	be.Equal(t, len(body), 6)
	be.True(t, strings.HasPrefix(body[4].Data.(ast.VarDeclNode).Name, "x$"))
	be.True(t, strings.HasPrefix(body[5].Data.(ast.VarDeclNode).Name, "y$"))
}

func TestSSAArrayPathAssignment(t *testing.T) {
	a, types, bag, s := newSSAEnv()
	sp := testSpan()
	arrType := ast.NewArrayType(ast.TypeU32, 3)
	init := a.NewArrayInit(sp, []*ast.Node{u32lit(a, types, 1), u32lit(a, types, 2), u32lit(a, types, 3)})
	types.Set(init, arrType)
	target := a.NewArrayAccess(sp, typedIdent(a, types, "arr", arrType), u32lit(a, types, 1))
	prog := transitionOf(a, nil, arrType, []*ast.Node{
		a.NewVarDecl(sp, "arr", true, arrType, init),
		a.NewAssign(sp, ast.AssignSet, target, u32lit(a, types, 9)),
		a.NewReturn(sp, a.NewIdent(sp, "arr")),
	})

	out := s.Run(prog)
	be.True(t, !bag.HasErrors())

	body := bodyStmts(out)
	be.Equal(t, len(body), 3)
	firstName := body[0].Data.(ast.VarDeclNode).Name

	rebuilt := body[1].Data.(ast.VarDeclNode).Value.Data.(ast.ArrayInitNode)
	be.Equal(t, len(rebuilt.Elems), 3)
	be.Equal(t, rebuilt.Elems[1].Data.(ast.LiteralNode).Int.Int64(), int64(9))
	for _, j := range []int{0, 2} {
		access := rebuilt.Elems[j].Data.(ast.ArrayAccessNode)
		be.Equal(t, access.Array.Data.(ast.IdentNode).Name, firstName)
		be.Equal(t, access.Index.Data.(ast.LiteralNode).Int.Int64(), int64(j))
	}
}

func TestSSAMemberPathAssignment(t *testing.T) {
	a, types, bag, s := newSSAEnv()
	sp := testSpan()
	pointType := ast.NewStructType("Point", []ast.StructField{
		{Name: "x", Type: ast.TypeU32},
		{Name: "y", Type: ast.TypeU32},
	})
	init := a.NewStructInit(sp, "Point", []ast.FieldInit{
		{Name: "x", Value: u32lit(a, types, 1)},
		{Name: "y", Value: u32lit(a, types, 2)},
	})
	types.Set(init, pointType)
	target := a.NewMemberAccess(sp, typedIdent(a, types, "p", pointType), "x")
	prog := transitionOf(a, nil, pointType, []*ast.Node{
		a.NewVarDecl(sp, "p", true, pointType, init),
		a.NewAssign(sp, ast.AssignSet, target, u32lit(a, types, 5)),
		a.NewReturn(sp, a.NewIdent(sp, "p")),
	})

	out := s.Run(prog)
	be.True(t, !bag.HasErrors())

	body := bodyStmts(out)
	firstName := body[0].Data.(ast.VarDeclNode).Name
	rebuilt := body[1].Data.(ast.VarDeclNode).Value.Data.(ast.StructInitNode)
	be.Equal(t, rebuilt.Fields[0].Value.Data.(ast.LiteralNode).Int.Int64(), int64(5))
	kept := rebuilt.Fields[1].Value.Data.(ast.MemberAccessNode)
	be.Equal(t, kept.Expr.Data.(ast.IdentNode).Name, firstName)
	be.Equal(t, kept.Member, "y")
}

func TestSSANonConstantIndexAssignment(t *testing.T) {
	a, types, bag, s := newSSAEnv()
	sp := testSpan()
	arrType := ast.NewArrayType(ast.TypeU32, 3)
	init := a.NewArrayInit(sp, []*ast.Node{u32lit(a, types, 1), u32lit(a, types, 2), u32lit(a, types, 3)})
	types.Set(init, arrType)
	target := a.NewArrayAccess(sp, typedIdent(a, types, "arr", arrType), typedIdent(a, types, "i", ast.TypeU32))
	prog := transitionOf(a, []ast.Param{{Name: "i", Type: ast.TypeU32, Mode: ast.ModePrivate}}, arrType, []*ast.Node{
		a.NewVarDecl(sp, "arr", true, arrType, init),
		a.NewAssign(sp, ast.AssignSet, target, u32lit(a, types, 9)),
		a.NewReturn(sp, a.NewIdent(sp, "arr")),
	})

	out := s.Run(prog)
	be.True(t, hasDiag(bag, diag.ConstantRequired, "non-constant array index"))
	be.Equal(t, len(bodyStmts(out)), 2)
}
