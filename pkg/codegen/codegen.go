// Package codegen turns the fully lowered tree into the instruction form:
// every expression is flattened into registers, guards become select and
// disjunction patterns, and function signatures become input/output
// declarations.
package codegen

import (
	"fmt"
	"strings"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/diag"
	"github.com/lumen-lang/lumc/pkg/ir"
)

type Context struct {
	types *ast.TypeTable
	bag   *diag.Bag

	fn      *ir.Function
	nextReg int
	env     map[string]ir.Value // SSA name -> operand
}

func NewContext(types *ast.TypeTable, bag *diag.Bag) *Context {
	return &Context{types: types, bag: bag}
}

// Generate lowers every remaining function. By this point the tree holds
// only transitions and finalize functions with flat single-assignment
// bodies.
func (c *Context) Generate(prog *ast.Program) *ir.Program {
	out := &ir.Program{}
	for _, scope := range prog.Scopes {
		for _, fn := range scope.Functions {
			out.Functions = append(out.Functions, c.genFunc(scope.Name, fn))
		}
	}
	return out
}

func (c *Context) genFunc(scopeName string, n *ast.Node) *ir.Function {
	d := n.Data.(ast.FuncDeclNode)
	kind := ir.KindTransition
	if d.FuncKind == ast.FuncFinalize {
		kind = ir.KindFinalize
	}
	c.fn = &ir.Function{Scope: scopeName, Name: d.Name, Kind: kind}
	c.nextReg = 0
	c.env = make(map[string]ir.Value)

	for _, p := range d.Params {
		reg := c.fresh()
		c.env[p.Name] = reg
		c.fn.Inputs = append(c.fn.Inputs, ir.Input{
			Register: reg,
			Type:     ast.TypeToString(p.Type),
			Mode:     p.Mode.String(),
		})
	}

	body := d.Body.Data.(ast.BlockNode)
	for _, stmt := range body.Stmts {
		c.genStmt(stmt, d.ReturnMode)
	}
	return c.fn
}

func (c *Context) fresh() ir.Register {
	r := ir.Register{N: c.nextReg}
	c.nextReg++
	return r
}

func (c *Context) emit(ins ir.Instruction) {
	c.fn.Instructions = append(c.fn.Instructions, ins)
}

// emitInto emits an instruction producing a fresh register of the given type.
func (c *Context) emitInto(op ir.Opcode, variant string, typ *ast.Type, operands ...ir.Value) ir.Register {
	dest := c.fresh()
	as := ""
	if typ != nil && typ.Kind != ast.TYPE_UNIT {
		as = ast.TypeToString(typ)
	}
	c.emit(ir.Instruction{Op: op, Variant: variant, Operands: operands, Dest: &dest, As: as})
	return dest
}

func (c *Context) genStmt(n *ast.Node, returnMode ast.Mode) {
	switch d := n.Data.(type) {
	case ast.VarDeclNode:
		c.env[d.Name] = c.genExpr(d.Value)
	case ast.ConstDeclNode:
		c.env[d.Name] = c.genExpr(d.Value)
	case ast.ExprStmtNode:
		c.genExpr(d.Expr)
	case ast.ReturnNode:
		c.genReturn(d, returnMode)
	case ast.ConsoleNode:
		c.genConsole(n, d)
	case ast.MappingUpdateNode:
		c.genMappingUpdate(n, d)
	case ast.FinalizeCallNode:
		c.genFinalizeCall(n, d)
	}
}

func (c *Context) genReturn(d ast.ReturnNode, mode ast.Mode) {
	if d.Expr == nil {
		return
	}
	// A tuple return declares one output per element.
	if tup, ok := d.Expr.Data.(ast.TupleInitNode); ok {
		for _, e := range tup.Elems {
			c.fn.Outputs = append(c.fn.Outputs, ir.Output{
				Operand: c.genExpr(e),
				Type:    ast.TypeToString(c.types.TypeOf(e)),
				Mode:    mode.String(),
			})
		}
		return
	}
	c.fn.Outputs = append(c.fn.Outputs, ir.Output{
		Operand: c.genExpr(d.Expr),
		Type:    ast.TypeToString(c.types.TypeOf(d.Expr)),
		Mode:    mode.String(),
	})
}

// genConsole lowers asserts. A guarded assert must not fire when its guard
// is false, so the asserted condition becomes (!guard || cond).
func (c *Context) genConsole(n *ast.Node, d ast.ConsoleNode) {
	if d.Guard == nil {
		switch d.ConsoleKind {
		case ast.ConsoleAssert:
			c.emit(ir.Instruction{Op: ir.OpAssert, Operands: []ir.Value{c.genExpr(d.Args[0])}})
		case ast.ConsoleAssertEq:
			c.emit(ir.Instruction{Op: ir.OpAssertEq, Operands: []ir.Value{c.genExpr(d.Args[0]), c.genExpr(d.Args[1])}})
		default:
			c.emit(ir.Instruction{Op: ir.OpAssertNeq, Operands: []ir.Value{c.genExpr(d.Args[0]), c.genExpr(d.Args[1])}})
		}
		return
	}

	var cond ir.Value
	switch d.ConsoleKind {
	case ast.ConsoleAssert:
		cond = c.genExpr(d.Args[0])
	case ast.ConsoleAssertEq:
		cond = c.emitInto(ir.OpIsEq, "", ast.TypeBool, c.genExpr(d.Args[0]), c.genExpr(d.Args[1]))
	default:
		cond = c.emitInto(ir.OpIsNeq, "", ast.TypeBool, c.genExpr(d.Args[0]), c.genExpr(d.Args[1]))
	}
	guard := c.genExpr(d.Guard)
	notGuard := c.emitInto(ir.OpNot, "", ast.TypeBool, guard)
	relaxed := c.emitInto(ir.OpOr, "", ast.TypeBool, notGuard, cond)
	c.emit(ir.Instruction{Op: ir.OpAssert, Operands: []ir.Value{relaxed}})
}

// genMappingUpdate lowers a mapping write. Guarded writes read the current
// value first (defaulting to the new one) and select which value to store,
// so a false guard stores the value already present.
func (c *Context) genMappingUpdate(n *ast.Node, d ast.MappingUpdateNode) {
	key := c.genExpr(d.Key)
	value := c.genExpr(d.Value)
	mapping := ir.MappingRef{Name: d.Mapping}
	if d.Guard == nil {
		c.emit(ir.Instruction{Op: ir.OpMappingSet, Operands: []ir.Value{mapping, key, value}})
		return
	}
	valueType := c.types.TypeOf(d.Value)
	guard := c.genExpr(d.Guard)
	current := c.emitInto(ir.OpMappingGetOrUse, "", valueType, mapping, key, value)
	stored := c.emitInto(ir.OpSelect, "", valueType, guard, value, current)
	c.emit(ir.Instruction{Op: ir.OpMappingSet, Operands: []ir.Value{mapping, key, stored}})
}

// genFinalizeCall lowers the async invocation of the matching finalize
// function. The invocation itself cannot be conditional.
func (c *Context) genFinalizeCall(n *ast.Node, d ast.FinalizeCallNode) {
	if d.Guard != nil {
		c.bag.Add(diag.Structural, n.Span, "finalize invocation cannot depend on a condition")
		return
	}
	operands := make([]ir.Value, 0, len(d.Args)+1)
	operands = append(operands, ir.Literal{Text: c.fn.Name})
	for _, arg := range d.Args {
		operands = append(operands, c.genExpr(arg))
	}
	c.emit(ir.Instruction{Op: ir.OpAsync, Operands: operands})
}

func (c *Context) genExpr(n *ast.Node) ir.Value {
	switch d := n.Data.(type) {
	case ast.LiteralNode:
		return ir.Literal{Text: renderLiteral(d)}
	case ast.IdentNode:
		if v, ok := c.env[d.Name]; ok {
			return v
		}
		c.bag.Add(diag.NameResolution, n.Span, "unbound name '%s' during code generation", d.Name)
		return ir.Literal{Text: d.Name}
	case ast.BinaryNode:
		return c.emitInto(binaryOpcode(d.Op), "", c.types.TypeOf(n), c.genExpr(d.Left), c.genExpr(d.Right))
	case ast.UnaryNode:
		op := ir.OpNeg
		if d.Op == ast.OpNot {
			op = ir.OpNot
		}
		return c.emitInto(op, "", c.types.TypeOf(n), c.genExpr(d.Expr))
	case ast.TernaryNode:
		return c.emitInto(ir.OpSelect, "", c.types.TypeOf(n), c.genExpr(d.Cond), c.genExpr(d.Then), c.genExpr(d.Else))
	case ast.CastNode:
		return c.emitInto(ir.OpCast, "", d.Target, c.genExpr(d.Expr))
	case ast.CallNode:
		return c.genCall(n, d)
	case ast.MemberAccessNode:
		return c.project(n, d.Expr, "."+d.Member)
	case ast.TupleAccessNode:
		return c.project(n, d.Expr, fmt.Sprintf(".%d", d.Index))
	case ast.ArrayAccessNode:
		if idx, ok := d.Index.Data.(ast.LiteralNode); ok {
			return c.project(n, d.Array, fmt.Sprintf("[%s]", idx.Int))
		}
		c.bag.Add(diag.ConstantRequired, n.Span, "array index did not reduce to a constant")
		return ir.Literal{Text: "0"}
	case ast.StructInitNode:
		// Composite construction is a cast over the member operands.
		operands := make([]ir.Value, len(d.Fields))
		for i, f := range d.Fields {
			operands[i] = c.genExpr(f.Value)
		}
		return c.emitInto(ir.OpCast, "", c.types.TypeOf(n), operands...)
	case ast.ArrayInitNode:
		operands := make([]ir.Value, len(d.Elems))
		for i, e := range d.Elems {
			operands[i] = c.genExpr(e)
		}
		return c.emitInto(ir.OpCast, "", c.types.TypeOf(n), operands...)
	case ast.TupleInitNode:
		operands := make([]ir.Value, len(d.Elems))
		for i, e := range d.Elems {
			operands[i] = c.genExpr(e)
		}
		return c.emitInto(ir.OpCast, "", c.types.TypeOf(n), operands...)
	}
	c.bag.Add(diag.Structural, n.Span, "unexpected expression survived lowering")
	return ir.Literal{Text: "0"}
}

// project narrows a register operand with a member path. Anything else has
// been destructured away already.
func (c *Context) project(n *ast.Node, base *ast.Node, path string) ir.Value {
	v := c.genExpr(base)
	if reg, ok := v.(ir.Register); ok {
		reg.Path += path
		return reg
	}
	c.bag.Add(diag.Structural, n.Span, "cannot project %s out of a non-register operand", path)
	return v
}

func (c *Context) genCall(n *ast.Node, d ast.CallNode) ir.Value {
	if d.Program != "" {
		operands := append([]ir.Value{ir.ExternalRef{Program: d.Program, Function: d.Callee}}, c.genArgs(d.Args)...)
		return c.emitInto(ir.OpCallExternal, "", c.types.TypeOf(n), operands...)
	}
	// The first argument of a mapping builtin names the mapping; it is an
	// operand form of its own, never a register.
	switch {
	case strings.HasSuffix(d.Callee, "_hash"):
		algo := strings.TrimSuffix(d.Callee, "_hash")
		return c.emitInto(ir.OpHash, algo, c.types.TypeOf(n), c.genArgs(d.Args)...)
	case d.Callee == "mapping_get":
		return c.emitInto(ir.OpMappingGet, "", c.types.TypeOf(n), ir.MappingRef{Name: mappingName(d.Args[0])}, c.genExpr(d.Args[1]))
	case d.Callee == "mapping_get_or_use":
		return c.emitInto(ir.OpMappingGetOrUse, "", c.types.TypeOf(n), ir.MappingRef{Name: mappingName(d.Args[0])}, c.genExpr(d.Args[1]), c.genExpr(d.Args[2]))
	case d.Callee == "mapping_contains":
		return c.emitInto(ir.OpMappingContains, "", ast.TypeBool, ir.MappingRef{Name: mappingName(d.Args[0])}, c.genExpr(d.Args[1]))
	case d.Callee == "mapping_remove":
		c.emit(ir.Instruction{Op: ir.OpMappingRemove, Operands: []ir.Value{ir.MappingRef{Name: mappingName(d.Args[0])}, c.genExpr(d.Args[1])}})
		return ir.Literal{Text: "()"}
	}
	c.bag.Add(diag.Structural, n.Span, "call to '%s' survived inlining", d.Callee)
	return ir.Literal{Text: "0"}
}

func (c *Context) genArgs(list []*ast.Node) []ir.Value {
	out := make([]ir.Value, len(list))
	for i, arg := range list {
		out[i] = c.genExpr(arg)
	}
	return out
}

func mappingName(arg *ast.Node) string {
	if ident, ok := arg.Data.(ast.IdentNode); ok {
		return ident.Name
	}
	return "?"
}

func binaryOpcode(op ast.BinaryOp) ir.Opcode {
	switch op {
	case ast.OpAdd:
		return ir.OpAdd
	case ast.OpSub:
		return ir.OpSub
	case ast.OpMul:
		return ir.OpMul
	case ast.OpDiv:
		return ir.OpDiv
	case ast.OpRem:
		return ir.OpRem
	case ast.OpPow:
		return ir.OpPow
	case ast.OpBitAnd, ast.OpAnd:
		return ir.OpAnd
	case ast.OpBitOr, ast.OpOr:
		return ir.OpOr
	case ast.OpBitXor:
		return ir.OpXor
	case ast.OpShl:
		return ir.OpShl
	case ast.OpShr:
		return ir.OpShr
	case ast.OpEq:
		return ir.OpIsEq
	case ast.OpNeq:
		return ir.OpIsNeq
	case ast.OpLt:
		return ir.OpLt
	case ast.OpGt:
		return ir.OpGt
	case ast.OpLte:
		return ir.OpLte
	}
	return ir.OpGte
}

func renderLiteral(d ast.LiteralNode) string {
	switch d.LitKind {
	case ast.LitInteger:
		return d.Int.String() + d.Typ.Name
	case ast.LitField:
		return d.Int.String() + "field"
	case ast.LitGroup:
		return d.Int.String() + "group"
	case ast.LitScalar:
		return d.Int.String() + "scalar"
	case ast.LitBool:
		if d.Bool {
			return "true"
		}
		return "false"
	default:
		return d.Text
	}
}
