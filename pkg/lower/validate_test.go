package lower

import (
	"testing"

	"github.com/nalgeon/be"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/diag"
)

func TestValidateIndicesInBounds(t *testing.T) {
	a := ast.NewAssigner()
	types := ast.NewTypeTable()
	bag := diag.NewBag(nil)
	sp := testSpan()
	arrType := ast.NewArrayType(ast.TypeU32, 3)
	access := a.NewArrayAccess(sp, typedIdent(a, types, "arr", arrType), u32lit(a, types, 2))
	prog := transitionOf(a, []ast.Param{{Name: "arr", Type: arrType, Mode: ast.ModePrivate}}, ast.TypeU32, []*ast.Node{
		a.NewReturn(sp, access),
	})

	ValidateIndices(prog, types, bag)
	be.True(t, !bag.HasErrors())
}

func TestValidateIndicesOutOfBounds(t *testing.T) {
	a := ast.NewAssigner()
	types := ast.NewTypeTable()
	bag := diag.NewBag(nil)
	sp := testSpan()
	arrType := ast.NewArrayType(ast.TypeU32, 3)
	access := a.NewArrayAccess(sp, typedIdent(a, types, "arr", arrType), u32lit(a, types, 3))
	prog := transitionOf(a, []ast.Param{{Name: "arr", Type: arrType, Mode: ast.ModePrivate}}, ast.TypeU32, []*ast.Node{
		a.NewReturn(sp, access),
	})

	ValidateIndices(prog, types, bag)
	be.True(t, hasDiag(bag, diag.Structural, "array index 3 out of bounds for length 3"))
}

func TestValidateIndicesRequireConstants(t *testing.T) {
	a := ast.NewAssigner()
	types := ast.NewTypeTable()
	bag := diag.NewBag(nil)
	sp := testSpan()
	arrType := ast.NewArrayType(ast.TypeU32, 3)
	access := a.NewArrayAccess(sp, typedIdent(a, types, "arr", arrType), typedIdent(a, types, "i", ast.TypeU32))
	prog := transitionOf(a, []ast.Param{
		{Name: "arr", Type: arrType, Mode: ast.ModePrivate},
		{Name: "i", Type: ast.TypeU32, Mode: ast.ModePrivate},
	}, ast.TypeU32, []*ast.Node{
		a.NewReturn(sp, access),
	})

	ValidateIndices(prog, types, bag)
	be.True(t, hasDiag(bag, diag.ConstantRequired, "array index must reduce to a constant"))
}
