package symtab

import (
	"math/big"
	"testing"

	"github.com/nalgeon/be"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/diag"
	"github.com/lumen-lang/lumc/pkg/span"
)

func buildProgram(a *ast.Assigner) *ast.Program {
	sp := span.Span{Line: 1, Column: 1}
	point := a.NewStructDecl(sp, "Point", false, []ast.StructField{
		{Name: "x", Type: ast.TypeU32},
		{Name: "y", Type: ast.TypeU32},
	})
	balances := a.NewMappingDecl(sp, "balances", ast.TypeAddress, ast.TypeU64)
	limit := a.NewConstDecl(sp, "LIMIT", ast.TypeU64, a.NewIntLiteral(sp, big.NewInt(1), ast.TypeU64))
	fn := a.NewFuncDecl(sp, "main", ast.FuncTransition,
		[]ast.Param{{Name: "n", Type: ast.TypeU32, Mode: ast.ModePrivate}},
		ast.TypeU32, ast.ModePrivate,
		a.NewBlock(sp, nil))
	return &ast.Program{Scopes: []*ast.Scope{{
		Name:      "demo",
		Structs:   []*ast.Node{point},
		Mappings:  []*ast.Node{balances},
		Consts:    []*ast.Node{limit},
		Functions: []*ast.Node{fn},
	}}}
}

func TestBuildRegistersDeclarations(t *testing.T) {
	a := ast.NewAssigner()
	bag := diag.NewBag(nil)
	table := Build(buildProgram(a), bag)
	be.True(t, !bag.HasErrors())
	be.Equal(t, table.ScopeNames(), []string{"demo"})

	module := table.ModuleScope("demo")
	be.True(t, module != nil)
	be.True(t, module.LookupStruct("Point") != nil)
	be.True(t, module.LookupMapping("balances") != nil)
	be.True(t, module.LookupVariable("LIMIT") != nil)
	be.Equal(t, module.LookupVariable("LIMIT").Kind, DeclConst)

	fn := module.LookupFunction("main")
	be.True(t, fn != nil)
	be.Equal(t, fn.FuncKind, ast.FuncTransition)
	be.Equal(t, len(fn.Params), 1)
}

func TestBuildRejectsDuplicates(t *testing.T) {
	a := ast.NewAssigner()
	sp := span.Span{Line: 1, Column: 1}
	dup := func() *ast.Node {
		return a.NewStructDecl(sp, "Twice", false, nil)
	}
	prog := &ast.Program{Scopes: []*ast.Scope{{
		Name:    "demo",
		Structs: []*ast.Node{dup(), dup()},
	}}}
	bag := diag.NewBag(nil)
	Build(prog, bag)
	be.Equal(t, bag.Len(), 1)
	be.Equal(t, bag.Errors()[0].Kind, diag.NameResolution)
}

func TestBuildRejectsDuplicateFieldsAndParams(t *testing.T) {
	a := ast.NewAssigner()
	sp := span.Span{Line: 1, Column: 1}
	st := a.NewStructDecl(sp, "Bad", false, []ast.StructField{
		{Name: "x", Type: ast.TypeU32},
		{Name: "x", Type: ast.TypeU32},
	})
	fn := a.NewFuncDecl(sp, "f", ast.FuncStandard,
		[]ast.Param{{Name: "a", Type: ast.TypeU8}, {Name: "a", Type: ast.TypeU8}},
		ast.TypeUnit, ast.ModePrivate, a.NewBlock(sp, nil))
	prog := &ast.Program{Scopes: []*ast.Scope{{
		Name:      "demo",
		Structs:   []*ast.Node{st},
		Functions: []*ast.Node{fn},
	}}}
	bag := diag.NewBag(nil)
	Build(prog, bag)
	be.Equal(t, bag.Len(), 2)
}

func TestScopeShadowing(t *testing.T) {
	outer := NewScope(nil)
	be.True(t, outer.DeclareVariable(&VariableSymbol{Name: "x", Type: ast.TypeU32}))
	be.True(t, !outer.DeclareVariable(&VariableSymbol{Name: "x", Type: ast.TypeU64}))

	inner := outer.NewChild()
	be.True(t, inner.DeclareVariable(&VariableSymbol{Name: "x", Type: ast.TypeBool}))
	be.True(t, ast.TypesEqual(inner.LookupVariable("x").Type, ast.TypeBool))
	be.True(t, ast.TypesEqual(outer.LookupVariable("x").Type, ast.TypeU32))
	be.True(t, inner.LookupVariableLocal("y") == nil)
}

func TestResolveType(t *testing.T) {
	module := NewScope(nil)
	module.DeclareStruct(&StructSymbol{
		Name:   "Point",
		Fields: []ast.StructField{{Name: "x", Type: ast.TypeU32}},
	})

	resolved := module.ResolveType(&ast.Type{Kind: ast.TYPE_STRUCT, Name: "Point"})
	be.True(t, resolved != nil)
	be.Equal(t, len(resolved.Fields), 1)

	arr := module.ResolveType(ast.NewArrayType(&ast.Type{Kind: ast.TYPE_STRUCT, Name: "Point"}, 3))
	be.True(t, arr != nil)
	be.Equal(t, len(arr.Base.Fields), 1)

	be.True(t, module.ResolveType(&ast.Type{Kind: ast.TYPE_STRUCT, Name: "Ghost"}) == nil)
}
