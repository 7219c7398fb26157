package codegen

import (
	"math/big"
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/diag"
	"github.com/lumen-lang/lumc/pkg/span"
)

type genEnv struct {
	a     *ast.Assigner
	types *ast.TypeTable
	bag   *diag.Bag
}

func newGenEnv() *genEnv {
	return &genEnv{a: ast.NewAssigner(), types: ast.NewTypeTable(), bag: diag.NewBag(nil)}
}

func (e *genEnv) span() span.Span { return span.Span{Line: 1, Column: 1} }

func (e *genEnv) lit(v int64, typ *ast.Type) *ast.Node {
	n := e.a.NewIntLiteral(e.span(), big.NewInt(v), typ)
	e.types.Set(n, typ)
	return n
}

func (e *genEnv) ident(name string, typ *ast.Type) *ast.Node {
	n := e.a.NewIdent(e.span(), name)
	e.types.Set(n, typ)
	return n
}

func (e *genEnv) fn(name string, kind ast.FuncKind, params []ast.Param, ret *ast.Type, stmts []*ast.Node) *ast.Program {
	body := e.a.NewBlock(e.span(), stmts)
	fn := e.a.NewFuncDecl(e.span(), name, kind, params, ret, ast.ModePrivate, body)
	return &ast.Program{Scopes: []*ast.Scope{{Name: "token", Functions: []*ast.Node{fn}}}}
}

func (e *genEnv) generate(prog *ast.Program) string {
	return NewContext(e.types, e.bag).Generate(prog).String()
}

func TestGenerateSimpleTransition(t *testing.T) {
	e := newGenEnv()
	sp := e.span()
	mul := e.a.NewBinary(sp, ast.OpMul, e.ident("n", ast.TypeU64), e.lit(2, ast.TypeU64))
	e.types.Set(mul, ast.TypeU64)
	prog := e.fn("double", ast.FuncTransition,
		[]ast.Param{{Name: "n", Type: ast.TypeU64, Mode: ast.ModePrivate}},
		ast.TypeU64, []*ast.Node{
			e.a.NewVarDecl(sp, "m", false, ast.TypeU64, mul),
			e.a.NewReturn(sp, e.ident("m", ast.TypeU64)),
		})

	got := e.generate(prog)
	be.True(t, !e.bag.HasErrors())
	want := `transition token/double:
    input r0 as u64 (private);
    mul r0 2u64 into r1 as u64;
    output r1 as u64 (private);
`
	be.Equal(t, got, want)
}

func TestGenerateUnguardedAsserts(t *testing.T) {
	e := newGenEnv()
	sp := e.span()
	prog := e.fn("check", ast.FuncTransition,
		[]ast.Param{
			{Name: "a", Type: ast.TypeU32, Mode: ast.ModePrivate},
			{Name: "b", Type: ast.TypeU32, Mode: ast.ModePrivate},
		},
		ast.TypeUnit, []*ast.Node{
			e.a.NewConsole(sp, ast.ConsoleAssertEq, []*ast.Node{e.ident("a", ast.TypeU32), e.ident("b", ast.TypeU32)}),
			e.a.NewConsole(sp, ast.ConsoleAssertNeq, []*ast.Node{e.ident("a", ast.TypeU32), e.lit(0, ast.TypeU32)}),
		})

	got := e.generate(prog)
	be.True(t, strings.Contains(got, "    assert.eq r0 r1;\n"))
	be.True(t, strings.Contains(got, "    assert.neq r0 0u32;\n"))
}

func TestGenerateGuardedAssertRelaxes(t *testing.T) {
	e := newGenEnv()
	sp := e.span()
	prog := e.fn("checked", ast.FuncTransition,
		[]ast.Param{
			{Name: "ok", Type: ast.TypeBool, Mode: ast.ModePrivate},
			{Name: "g", Type: ast.TypeBool, Mode: ast.ModePrivate},
		},
		ast.TypeUnit, []*ast.Node{
			e.a.NewGuardedConsole(sp, ast.ConsoleAssert,
				[]*ast.Node{e.ident("ok", ast.TypeBool)}, e.ident("g", ast.TypeBool)),
		})

	got := e.generate(prog)
	be.True(t, !e.bag.HasErrors())
	want := `transition token/checked:
    input r0 as bool (private);
    input r1 as bool (private);
    not r1 into r2 as bool;
    or r2 r0 into r3 as bool;
    assert.true r3;
`
	be.Equal(t, got, want)
}

func TestGenerateGuardedMappingUpdate(t *testing.T) {
	e := newGenEnv()
	sp := e.span()
	prog := e.fn("transfer_finalize", ast.FuncFinalize,
		[]ast.Param{
			{Name: "k", Type: ast.TypeAddress, Mode: ast.ModePublic},
			{Name: "v", Type: ast.TypeU64, Mode: ast.ModePublic},
			{Name: "g", Type: ast.TypeBool, Mode: ast.ModePublic},
		},
		ast.TypeUnit, []*ast.Node{
			e.a.NewGuardedMappingUpdate(sp, "balances",
				e.ident("k", ast.TypeAddress), e.ident("v", ast.TypeU64), e.ident("g", ast.TypeBool)),
		})

	got := e.generate(prog)
	be.True(t, !e.bag.HasErrors())
	want := `finalize token/transfer_finalize:
    input r0 as address (public);
    input r1 as u64 (public);
    input r2 as bool (public);
    get.or_use balances[] r0 r1 into r3 as u64;
    select r2 r1 r3 into r4 as u64;
    set balances[] r0 r4;
`
	be.Equal(t, got, want)
}

func TestGenerateUnguardedMappingUpdate(t *testing.T) {
	e := newGenEnv()
	sp := e.span()
	prog := e.fn("credit_finalize", ast.FuncFinalize,
		[]ast.Param{
			{Name: "k", Type: ast.TypeAddress, Mode: ast.ModePublic},
			{Name: "v", Type: ast.TypeU64, Mode: ast.ModePublic},
		},
		ast.TypeUnit, []*ast.Node{
			e.a.NewMappingUpdate(sp, "balances", e.ident("k", ast.TypeAddress), e.ident("v", ast.TypeU64)),
		})

	got := e.generate(prog)
	be.True(t, strings.Contains(got, "    set balances[] r0 r1;\n"))
	be.True(t, !strings.Contains(got, "select"))
}

func TestGenerateMappingReads(t *testing.T) {
	e := newGenEnv()
	sp := e.span()
	get := e.a.NewCall(sp, "", "mapping_get_or_use", true, []*ast.Node{
		e.a.NewIdent(sp, "balances"),
		e.ident("k", ast.TypeAddress),
		e.lit(0, ast.TypeU64),
	})
	e.types.Set(get, ast.TypeU64)
	prog := e.fn("read_finalize", ast.FuncFinalize,
		[]ast.Param{{Name: "k", Type: ast.TypeAddress, Mode: ast.ModePublic}},
		ast.TypeUnit, []*ast.Node{
			e.a.NewVarDecl(sp, "cur", false, ast.TypeU64, get),
			e.a.NewConsole(sp, ast.ConsoleAssertNeq, []*ast.Node{e.ident("cur", ast.TypeU64), e.lit(0, ast.TypeU64)}),
		})

	got := e.generate(prog)
	be.True(t, !e.bag.HasErrors())
	be.True(t, strings.Contains(got, "    get.or_use balances[] r0 0u64 into r1 as u64;\n"))
}

func TestGenerateMappingRemoval(t *testing.T) {
	e := newGenEnv()
	sp := e.span()
	remove := e.a.NewCall(sp, "", "mapping_remove", true, []*ast.Node{
		e.a.NewIdent(sp, "balances"),
		e.ident("k", ast.TypeAddress),
	})
	e.types.Set(remove, ast.TypeUnit)
	prog := e.fn("evict_finalize", ast.FuncFinalize,
		[]ast.Param{{Name: "k", Type: ast.TypeAddress, Mode: ast.ModePublic}},
		ast.TypeUnit, []*ast.Node{
			e.a.NewExprStmt(sp, remove),
		})

	got := e.generate(prog)
	be.True(t, !e.bag.HasErrors())
	be.True(t, strings.Contains(got, "    remove balances[] r0;\n"))
}

func TestGenerateHashBuiltin(t *testing.T) {
	e := newGenEnv()
	sp := e.span()
	hash := e.a.NewCall(sp, "", "bhp256_hash", true, []*ast.Node{e.ident("n", ast.TypeU64)})
	e.types.Set(hash, ast.TypeField)
	prog := e.fn("seal", ast.FuncTransition,
		[]ast.Param{{Name: "n", Type: ast.TypeU64, Mode: ast.ModePrivate}},
		ast.TypeField, []*ast.Node{
			e.a.NewVarDecl(sp, "h", false, ast.TypeField, hash),
			e.a.NewReturn(sp, e.ident("h", ast.TypeField)),
		})

	got := e.generate(prog)
	be.True(t, !e.bag.HasErrors())
	be.True(t, strings.Contains(got, "    hash.bhp256 r0 into r1 as field;\n"))
	be.True(t, strings.Contains(got, "    output r1 as field (private);\n"))
}

func TestGenerateExternalCall(t *testing.T) {
	e := newGenEnv()
	sp := e.span()
	call := e.a.NewCall(sp, "credits", "transfer_public", false, []*ast.Node{e.ident("amt", ast.TypeU64)})
	e.types.Set(call, ast.TypeU64)
	prog := e.fn("forward", ast.FuncTransition,
		[]ast.Param{{Name: "amt", Type: ast.TypeU64, Mode: ast.ModePrivate}},
		ast.TypeU64, []*ast.Node{
			e.a.NewVarDecl(sp, "out", false, ast.TypeU64, call),
			e.a.NewReturn(sp, e.ident("out", ast.TypeU64)),
		})

	got := e.generate(prog)
	be.True(t, !e.bag.HasErrors())
	be.True(t, strings.Contains(got, "    call credits/transfer_public r0 into r1 as u64;\n"))
}

func TestGenerateFinalizeInvocation(t *testing.T) {
	e := newGenEnv()
	sp := e.span()
	prog := e.fn("move", ast.FuncTransition,
		[]ast.Param{{Name: "n", Type: ast.TypeU64, Mode: ast.ModePublic}},
		ast.TypeUnit, []*ast.Node{
			e.a.NewFinalizeCall(sp, []*ast.Node{e.ident("n", ast.TypeU64)}),
		})

	got := e.generate(prog)
	be.True(t, !e.bag.HasErrors())
	be.True(t, strings.Contains(got, "    async move r0;\n"))
}

func TestGenerateRejectsGuardedFinalize(t *testing.T) {
	e := newGenEnv()
	sp := e.span()
	prog := e.fn("move", ast.FuncTransition,
		[]ast.Param{
			{Name: "n", Type: ast.TypeU64, Mode: ast.ModePublic},
			{Name: "g", Type: ast.TypeBool, Mode: ast.ModePrivate},
		},
		ast.TypeUnit, []*ast.Node{
			e.a.NewGuardedFinalizeCall(sp, []*ast.Node{e.ident("n", ast.TypeU64)}, e.ident("g", ast.TypeBool)),
		})

	e.generate(prog)
	be.True(t, e.bag.HasErrors())
	be.Equal(t, e.bag.Errors()[0].Kind, diag.Structural)
	be.True(t, strings.Contains(e.bag.Errors()[0].Msg, "finalize invocation cannot depend on a condition"))
}

func TestGenerateRejectsLeftoverLocalCall(t *testing.T) {
	e := newGenEnv()
	sp := e.span()
	call := e.a.NewCall(sp, "", "helper", false, nil)
	e.types.Set(call, ast.TypeU64)
	prog := e.fn("broken", ast.FuncTransition, nil, ast.TypeU64, []*ast.Node{
		e.a.NewReturn(sp, call),
	})

	e.generate(prog)
	be.True(t, e.bag.HasErrors())
	be.True(t, strings.Contains(e.bag.Errors()[0].Msg, "call to 'helper' survived inlining"))
}

func TestGenerateProjectsOpaqueComposite(t *testing.T) {
	e := newGenEnv()
	sp := e.span()
	pointType := ast.NewStructType("Point", []ast.StructField{
		{Name: "x", Type: ast.TypeU32},
		{Name: "y", Type: ast.TypeU32},
	})
	access := e.a.NewMemberAccess(sp, e.ident("p", pointType), "x")
	e.types.Set(access, ast.TypeU32)
	prog := e.fn("pick", ast.FuncTransition,
		[]ast.Param{{Name: "p", Type: pointType, Mode: ast.ModePrivate}},
		ast.TypeU32, []*ast.Node{
			e.a.NewReturn(sp, access),
		})

	got := e.generate(prog)
	be.True(t, !e.bag.HasErrors())
	be.True(t, strings.Contains(got, "    output r0.x as u32 (private);\n"))
}

func TestGenerateTernarySelect(t *testing.T) {
	e := newGenEnv()
	sp := e.span()
	sel := e.a.NewTernary(sp, e.ident("c", ast.TypeBool), e.lit(1, ast.TypeU32), e.lit(2, ast.TypeU32))
	e.types.Set(sel, ast.TypeU32)
	prog := e.fn("choose", ast.FuncTransition,
		[]ast.Param{{Name: "c", Type: ast.TypeBool, Mode: ast.ModePrivate}},
		ast.TypeU32, []*ast.Node{
			e.a.NewVarDecl(sp, "v", false, ast.TypeU32, sel),
			e.a.NewReturn(sp, e.ident("v", ast.TypeU32)),
		})

	got := e.generate(prog)
	be.True(t, !e.bag.HasErrors())
	be.True(t, strings.Contains(got, "    select r0 1u32 2u32 into r1 as u32;\n"))
}

func TestGenerateTupleReturn(t *testing.T) {
	e := newGenEnv()
	sp := e.span()
	tup := e.a.NewTupleInit(sp, []*ast.Node{e.ident("a", ast.TypeU32), e.ident("b", ast.TypeBool)})
	e.types.Set(tup, ast.NewTupleType([]*ast.Type{ast.TypeU32, ast.TypeBool}))
	prog := e.fn("pair", ast.FuncTransition,
		[]ast.Param{
			{Name: "a", Type: ast.TypeU32, Mode: ast.ModePrivate},
			{Name: "b", Type: ast.TypeBool, Mode: ast.ModePrivate},
		},
		ast.NewTupleType([]*ast.Type{ast.TypeU32, ast.TypeBool}), []*ast.Node{
			e.a.NewReturn(sp, tup),
		})

	got := e.generate(prog)
	be.True(t, !e.bag.HasErrors())
	be.True(t, strings.Contains(got, "    output r0 as u32 (private);\n"))
	be.True(t, strings.Contains(got, "    output r1 as bool (private);\n"))
}
