package lower

import (
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/diag"
)

func newDestructureEnv() (*ast.Assigner, *ast.TypeTable, *diag.Bag, *Destructurer) {
	a := ast.NewAssigner()
	types := ast.NewTypeTable()
	bag := diag.NewBag(nil)
	return a, types, bag, NewDestructurer(a, types, bag)
}

func pointStructType() *ast.Type {
	return ast.NewStructType("Point", []ast.StructField{
		{Name: "x", Type: ast.TypeU32},
		{Name: "y", Type: ast.TypeU32},
	})
}

func TestDestructureTupleBinding(t *testing.T) {
	a, types, bag, d := newDestructureEnv()
	sp := testSpan()
	tupleType := ast.NewTupleType([]*ast.Type{ast.TypeU32, ast.TypeBool})
	init := a.NewTupleInit(sp, []*ast.Node{u32lit(a, types, 1), boolLit(a, types, true)})
	types.Set(init, tupleType)
	prog := transitionOf(a, nil, ast.TypeU32, []*ast.Node{
		a.NewVarDecl(sp, "pair", false, tupleType, init),
		a.NewReturn(sp, a.NewTupleAccess(sp, a.NewIdent(sp, "pair"), 0)),
	})

	out := d.Run(prog)
	be.True(t, !bag.HasErrors())

	body := bodyStmts(out)
	be.Equal(t, len(body), 3)

	first := body[0].Data.(ast.VarDeclNode)
	be.True(t, strings.HasPrefix(first.Name, "pair$"))
	be.Equal(t, first.Value.Data.(ast.LiteralNode).Int.Int64(), int64(1))

	second := body[1].Data.(ast.VarDeclNode)
	be.True(t, second.Value.Data.(ast.LiteralNode).Bool)

	// The access resolves to the first leaf binding.
	ret := body[2].Data.(ast.ReturnNode)
	be.Equal(t, ret.Expr.Data.(ast.IdentNode).Name, first.Name)
}

func TestDestructureArrayRepeat(t *testing.T) {
	a, types, bag, d := newDestructureEnv()
	sp := testSpan()
	arrType := ast.NewArrayType(ast.TypeU32, 3)
	rep := a.NewArrayRepeat(sp, u32lit(a, types, 7), u32lit(a, types, 3))
	types.Set(rep, arrType)
	prog := transitionOf(a, nil, ast.TypeU32, []*ast.Node{
		a.NewVarDecl(sp, "arr", false, arrType, rep),
		a.NewReturn(sp, a.NewArrayAccess(sp, a.NewIdent(sp, "arr"), u32lit(a, types, 2))),
	})

	out := d.Run(prog)
	be.True(t, !bag.HasErrors())

	body := bodyStmts(out)
	be.Equal(t, len(body), 4)
	names := map[string]bool{}
	for _, st := range body[:3] {
		leaf := st.Data.(ast.VarDeclNode)
		be.Equal(t, leaf.Value.Data.(ast.LiteralNode).Int.Int64(), int64(7))
		names[leaf.Name] = true
	}
	be.Equal(t, len(names), 3)

	ret := body[3].Data.(ast.ReturnNode)
	be.Equal(t, ret.Expr.Data.(ast.IdentNode).Name, body[2].Data.(ast.VarDeclNode).Name)
}

func TestDestructureSelectPushedToLeaves(t *testing.T) {
	a, types, bag, d := newDestructureEnv()
	sp := testSpan()
	pointType := pointStructType()
	mk := func(x, y int64) *ast.Node {
		init := a.NewStructInit(sp, "Point", []ast.FieldInit{
			{Name: "x", Value: u32lit(a, types, x)},
			{Name: "y", Value: u32lit(a, types, y)},
		})
		types.Set(init, pointType)
		return init
	}
	sel := a.NewTernary(sp, typedIdent(a, types, "c", ast.TypeBool), mk(1, 2), mk(3, 4))
	types.Set(sel, pointType)
	prog := transitionOf(a, []ast.Param{{Name: "c", Type: ast.TypeBool, Mode: ast.ModePrivate}}, ast.TypeU32, []*ast.Node{
		a.NewVarDecl(sp, "p", false, pointType, sel),
		a.NewReturn(sp, a.NewMemberAccess(sp, a.NewIdent(sp, "p"), "x")),
	})

	out := d.Run(prog)
	be.True(t, !bag.HasErrors())

	// Four arm leaves, two per-field selects, then the return.
	body := bodyStmts(out)
	be.Equal(t, len(body), 7)

	xSelect := body[4].Data.(ast.VarDeclNode)
	ySelect := body[5].Data.(ast.VarDeclNode)
	for _, leaf := range []ast.VarDeclNode{xSelect, ySelect} {
		tern := leaf.Value.Data.(ast.TernaryNode)
		be.Equal(t, tern.Cond.Data.(ast.IdentNode).Name, "c")
		be.Equal(t, tern.Then.Kind, ast.Ident)
		be.Equal(t, tern.Else.Kind, ast.Ident)
	}

	ret := body[6].Data.(ast.ReturnNode)
	be.Equal(t, ret.Expr.Data.(ast.IdentNode).Name, xSelect.Name)
}

func TestDestructureOpaqueCompositeStaysWhole(t *testing.T) {
	a, types, bag, d := newDestructureEnv()
	sp := testSpan()
	pointType := pointStructType()
	get := a.NewCall(sp, "", "mapping_get", true, []*ast.Node{typedIdent(a, types, "k", ast.TypeAddress)})
	types.Set(get, pointType)
	prog := transitionOf(a, []ast.Param{{Name: "k", Type: ast.TypeAddress, Mode: ast.ModePublic}}, ast.TypeU32, []*ast.Node{
		a.NewVarDecl(sp, "v", false, pointType, get),
		a.NewReturn(sp, a.NewMemberAccess(sp, a.NewIdent(sp, "v"), "x")),
	})

	out := d.Run(prog)
	be.True(t, !bag.HasErrors())

	body := bodyStmts(out)
	be.Equal(t, len(body), 2)

	whole := body[0].Data.(ast.VarDeclNode)
	be.Equal(t, whole.Name, "v")
	be.Equal(t, whole.Value.Kind, ast.Call)

	// Member access stays on the register.
	ret := body[1].Data.(ast.ReturnNode)
	access := ret.Expr.Data.(ast.MemberAccessNode)
	be.Equal(t, access.Expr.Data.(ast.IdentNode).Name, "v")
	be.Equal(t, access.Member, "x")
}

func TestDestructureAliasSharesShape(t *testing.T) {
	a, types, bag, d := newDestructureEnv()
	sp := testSpan()
	tupleType := ast.NewTupleType([]*ast.Type{ast.TypeU32, ast.TypeU32})
	init := a.NewTupleInit(sp, []*ast.Node{u32lit(a, types, 1), u32lit(a, types, 2)})
	types.Set(init, tupleType)
	prog := transitionOf(a, nil, ast.TypeU32, []*ast.Node{
		a.NewVarDecl(sp, "pair", false, tupleType, init),
		a.NewVarDecl(sp, "alias", false, tupleType, a.NewIdent(sp, "pair")),
		a.NewReturn(sp, a.NewTupleAccess(sp, a.NewIdent(sp, "alias"), 1)),
	})

	out := d.Run(prog)
	be.True(t, !bag.HasErrors())

	// The alias emits nothing; both names resolve to the same leaves.
	body := bodyStmts(out)
	be.Equal(t, len(body), 3)
	second := body[1].Data.(ast.VarDeclNode)
	be.Equal(t, second.Value.Data.(ast.LiteralNode).Int.Int64(), int64(2))
	ret := body[2].Data.(ast.ReturnNode)
	be.Equal(t, ret.Expr.Data.(ast.IdentNode).Name, second.Name)
}

func TestDestructureMissingFieldReported(t *testing.T) {
	a, types, bag, d := newDestructureEnv()
	sp := testSpan()
	pointType := pointStructType()
	init := a.NewStructInit(sp, "Point", []ast.FieldInit{
		{Name: "x", Value: u32lit(a, types, 1)},
	})
	types.Set(init, pointType)
	prog := transitionOf(a, nil, ast.TypeUnit, []*ast.Node{
		a.NewVarDecl(sp, "p", false, pointType, init),
	})

	d.Run(prog)
	be.True(t, hasDiag(bag, diag.Structural, "missing composite element"))
}
