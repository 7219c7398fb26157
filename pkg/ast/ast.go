// Package ast defines the tree representation passed between compiler passes,
// the Lumen type system, and the Assigner that mints fresh node IDs and names.
package ast

import (
	"math/big"

	"github.com/lumen-lang/lumc/pkg/span"
)

// NodeKind defines the kind of a node in the tree.
type NodeKind int

// Node kinds enum
const (
	// Expressions
	Literal NodeKind = iota
	Ident
	Binary
	Unary
	Call
	ArrayAccess
	MemberAccess
	TupleAccess
	Cast
	Ternary
	StructInit
	ArrayInit
	TupleInit

	// Statements
	Block
	VarDecl
	ConstDecl
	Assign
	Conditional
	Iteration
	Return
	ExprStmt
	Console
	MappingUpdate
	FinalizeCall

	// Declarations
	FuncDecl
	StructDecl
	MappingDecl
)

// Node represents a node in the tree. Nodes are never mutated in place by a
// pass; passes rebuild the nodes they change through the constructors below.
// Resolved types live in a TypeTable keyed by ID, not on the node.
type Node struct {
	ID   NodeID
	Kind NodeKind
	Span span.Span
	Data interface{}
}

// BinaryOp enumerates binary operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpPow
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShl
	OpShr
	OpAnd // logical
	OpOr  // logical
	OpEq
	OpNeq
	OpLt
	OpGt
	OpLte
	OpGte
)

var binaryOpNames = map[BinaryOp]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpRem: "%", OpPow: "**",
	OpBitAnd: "&", OpBitOr: "|", OpBitXor: "^", OpShl: "<<", OpShr: ">>",
	OpAnd: "&&", OpOr: "||",
	OpEq: "==", OpNeq: "!=", OpLt: "<", OpGt: ">", OpLte: "<=", OpGte: ">=",
}

func (op BinaryOp) String() string { return binaryOpNames[op] }

// IsComparison reports whether the operator yields bool from non-bool operands.
func (op BinaryOp) IsComparison() bool { return op >= OpEq && op <= OpGte }

// UnaryOp enumerates unary operators.
type UnaryOp int

const (
	OpNeg UnaryOp = iota
	OpNot
)

func (op UnaryOp) String() string {
	if op == OpNeg {
		return "-"
	}
	return "!"
}

// AssignOp enumerates assignment operators; everything except AssignSet
// desugars to a Binary during SSA conversion.
type AssignOp int

const (
	AssignSet AssignOp = iota
	AssignAdd
	AssignSub
	AssignMul
	AssignDiv
	AssignRem
	AssignBitAnd
	AssignBitOr
	AssignBitXor
	AssignShl
	AssignShr
)

// BinaryFor returns the binary operator an op-assign desugars to.
func (op AssignOp) BinaryFor() (BinaryOp, bool) {
	switch op {
	case AssignAdd:
		return OpAdd, true
	case AssignSub:
		return OpSub, true
	case AssignMul:
		return OpMul, true
	case AssignDiv:
		return OpDiv, true
	case AssignRem:
		return OpRem, true
	case AssignBitAnd:
		return OpBitAnd, true
	case AssignBitOr:
		return OpBitOr, true
	case AssignBitXor:
		return OpBitXor, true
	case AssignShl:
		return OpShl, true
	case AssignShr:
		return OpShr, true
	}
	return 0, false
}

// LiteralKind classifies literal payloads.
type LiteralKind int

const (
	LitInteger LiteralKind = iota
	LitField
	LitGroup
	LitScalar
	LitBool
	LitAddress
)

// ConsoleKind classifies console statements.
type ConsoleKind int

const (
	ConsoleAssert ConsoleKind = iota
	ConsoleAssertEq
	ConsoleAssertNeq
)

func (k ConsoleKind) String() string {
	switch k {
	case ConsoleAssertEq:
		return "assert_eq"
	case ConsoleAssertNeq:
		return "assert_neq"
	}
	return "assert"
}

// FuncKind classifies function declarations.
type FuncKind int

const (
	FuncStandard FuncKind = iota
	FuncInlineOnly
	FuncTransition
	FuncFinalize
)

// --- Node Data Structs ---

type LiteralNode struct {
	LitKind LiteralKind
	Int     *big.Int // integer/field/group/scalar magnitude
	Bool    bool
	Text    string // address literal
	Typ     *Type  // from the literal suffix, e.g. 0u32
}

type IdentNode struct{ Name string }
type BinaryNode struct {
	Op          BinaryOp
	Left, Right *Node
}
type UnaryNode struct {
	Op   UnaryOp
	Expr *Node
}
type CallNode struct {
	Program string // non-empty for external program calls
	Callee  string
	Builtin bool // cryptographic/mapping primitive, never inlined
	Args    []*Node
}
type ArrayAccessNode struct{ Array, Index *Node }
type MemberAccessNode struct {
	Expr   *Node
	Member string
}
type TupleAccessNode struct {
	Expr  *Node
	Index int
}
type CastNode struct {
	Expr   *Node
	Target *Type
}
type TernaryNode struct{ Cond, Then, Else *Node }
type FieldInit struct {
	Name  string
	Value *Node
}
type StructInitNode struct {
	Name   string
	Fields []FieldInit
}
type ArrayInitNode struct {
	Elems  []*Node
	Repeat *Node // [Repeat; Count] form when non-nil
	Count  *Node
}
type TupleInitNode struct{ Elems []*Node }

type BlockNode struct{ Stmts []*Node }
type VarDeclNode struct {
	Name    string
	Mutable bool
	Type    *Type // nil when inferred from Value
	Value   *Node
}
type ConstDeclNode struct {
	Name  string
	Type  *Type
	Value *Node
}
type AssignNode struct {
	Op     AssignOp
	Target *Node
	Value  *Node
}
type ConditionalNode struct {
	Cond *Node
	Then *Node // Block
	Else *Node // Block, Conditional, or nil
}
type IterationNode struct {
	Var       string
	VarType   *Type
	Start     *Node
	End       *Node
	Inclusive bool
	Body      *Node // Block
}
type ReturnNode struct{ Expr *Node } // nil Expr returns unit
type ExprStmtNode struct{ Expr *Node }
type ConsoleNode struct {
	ConsoleKind ConsoleKind
	Args        []*Node
	Guard       *Node // indicator installed by the flattener, nil before it
}
type MappingUpdateNode struct {
	Mapping string
	Key     *Node
	Value   *Node
	Guard   *Node
}
type FinalizeCallNode struct {
	Args  []*Node
	Guard *Node
}

type Param struct {
	Name string
	Type *Type
	Mode Mode
	Span span.Span
}

type FuncDeclNode struct {
	Name       string
	FuncKind   FuncKind
	Params     []Param
	ReturnType *Type // TypeUnit when the function returns nothing
	ReturnMode Mode
	Body       *Node // Block
}
type StructDeclNode struct {
	Name     string
	IsRecord bool
	Fields   []StructField
}
type MappingDeclNode struct {
	Name  string
	Key   *Type
	Value *Type
}

// Scope is one program scope: a named collection of declarations. Order is
// preserved so diagnostics and output are deterministic.
type Scope struct {
	Name      string
	Structs   []*Node
	Mappings  []*Node
	Consts    []*Node
	Functions []*Node
}

// Program is the root of the tree: an ordered collection of scopes.
type Program struct {
	Scopes []*Scope
}

// --- Node Constructors ---

func (a *Assigner) newNode(kind NodeKind, sp span.Span, data interface{}) *Node {
	return &Node{ID: a.nextID(), Kind: kind, Span: sp, Data: data}
}

func (a *Assigner) NewIntLiteral(sp span.Span, value *big.Int, typ *Type) *Node {
	return a.newNode(Literal, sp, LiteralNode{LitKind: LitInteger, Int: value, Typ: typ})
}

func (a *Assigner) NewFieldLiteral(sp span.Span, value *big.Int) *Node {
	return a.newNode(Literal, sp, LiteralNode{LitKind: LitField, Int: value, Typ: TypeField})
}

func (a *Assigner) NewGroupLiteral(sp span.Span, value *big.Int) *Node {
	return a.newNode(Literal, sp, LiteralNode{LitKind: LitGroup, Int: value, Typ: TypeGroup})
}

func (a *Assigner) NewScalarLiteral(sp span.Span, value *big.Int) *Node {
	return a.newNode(Literal, sp, LiteralNode{LitKind: LitScalar, Int: value, Typ: TypeScalar})
}

func (a *Assigner) NewBoolLiteral(sp span.Span, value bool) *Node {
	return a.newNode(Literal, sp, LiteralNode{LitKind: LitBool, Bool: value, Typ: TypeBool})
}

func (a *Assigner) NewAddressLiteral(sp span.Span, text string) *Node {
	return a.newNode(Literal, sp, LiteralNode{LitKind: LitAddress, Text: text, Typ: TypeAddress})
}

func (a *Assigner) NewIdent(sp span.Span, name string) *Node {
	return a.newNode(Ident, sp, IdentNode{Name: name})
}

func (a *Assigner) NewBinary(sp span.Span, op BinaryOp, left, right *Node) *Node {
	return a.newNode(Binary, sp, BinaryNode{Op: op, Left: left, Right: right})
}

func (a *Assigner) NewUnary(sp span.Span, op UnaryOp, expr *Node) *Node {
	return a.newNode(Unary, sp, UnaryNode{Op: op, Expr: expr})
}

func (a *Assigner) NewCall(sp span.Span, program, callee string, builtin bool, args []*Node) *Node {
	return a.newNode(Call, sp, CallNode{Program: program, Callee: callee, Builtin: builtin, Args: args})
}

func (a *Assigner) NewArrayAccess(sp span.Span, array, index *Node) *Node {
	return a.newNode(ArrayAccess, sp, ArrayAccessNode{Array: array, Index: index})
}

func (a *Assigner) NewMemberAccess(sp span.Span, expr *Node, member string) *Node {
	return a.newNode(MemberAccess, sp, MemberAccessNode{Expr: expr, Member: member})
}

func (a *Assigner) NewTupleAccess(sp span.Span, expr *Node, index int) *Node {
	return a.newNode(TupleAccess, sp, TupleAccessNode{Expr: expr, Index: index})
}

func (a *Assigner) NewCast(sp span.Span, expr *Node, target *Type) *Node {
	return a.newNode(Cast, sp, CastNode{Expr: expr, Target: target})
}

func (a *Assigner) NewTernary(sp span.Span, cond, then, els *Node) *Node {
	return a.newNode(Ternary, sp, TernaryNode{Cond: cond, Then: then, Else: els})
}

func (a *Assigner) NewStructInit(sp span.Span, name string, fields []FieldInit) *Node {
	return a.newNode(StructInit, sp, StructInitNode{Name: name, Fields: fields})
}

func (a *Assigner) NewArrayInit(sp span.Span, elems []*Node) *Node {
	return a.newNode(ArrayInit, sp, ArrayInitNode{Elems: elems})
}

func (a *Assigner) NewArrayRepeat(sp span.Span, repeat, count *Node) *Node {
	return a.newNode(ArrayInit, sp, ArrayInitNode{Repeat: repeat, Count: count})
}

func (a *Assigner) NewTupleInit(sp span.Span, elems []*Node) *Node {
	return a.newNode(TupleInit, sp, TupleInitNode{Elems: elems})
}

func (a *Assigner) NewBlock(sp span.Span, stmts []*Node) *Node {
	return a.newNode(Block, sp, BlockNode{Stmts: stmts})
}

func (a *Assigner) NewVarDecl(sp span.Span, name string, mutable bool, typ *Type, value *Node) *Node {
	return a.newNode(VarDecl, sp, VarDeclNode{Name: name, Mutable: mutable, Type: typ, Value: value})
}

func (a *Assigner) NewConstDecl(sp span.Span, name string, typ *Type, value *Node) *Node {
	return a.newNode(ConstDecl, sp, ConstDeclNode{Name: name, Type: typ, Value: value})
}

func (a *Assigner) NewAssign(sp span.Span, op AssignOp, target, value *Node) *Node {
	return a.newNode(Assign, sp, AssignNode{Op: op, Target: target, Value: value})
}

func (a *Assigner) NewConditional(sp span.Span, cond, then, els *Node) *Node {
	return a.newNode(Conditional, sp, ConditionalNode{Cond: cond, Then: then, Else: els})
}

func (a *Assigner) NewIteration(sp span.Span, name string, varType *Type, start, end *Node, inclusive bool, body *Node) *Node {
	return a.newNode(Iteration, sp, IterationNode{Var: name, VarType: varType, Start: start, End: end, Inclusive: inclusive, Body: body})
}

func (a *Assigner) NewReturn(sp span.Span, expr *Node) *Node {
	return a.newNode(Return, sp, ReturnNode{Expr: expr})
}

func (a *Assigner) NewExprStmt(sp span.Span, expr *Node) *Node {
	return a.newNode(ExprStmt, sp, ExprStmtNode{Expr: expr})
}

func (a *Assigner) NewConsole(sp span.Span, kind ConsoleKind, args []*Node) *Node {
	return a.newNode(Console, sp, ConsoleNode{ConsoleKind: kind, Args: args})
}

func (a *Assigner) NewGuardedConsole(sp span.Span, kind ConsoleKind, args []*Node, guard *Node) *Node {
	return a.newNode(Console, sp, ConsoleNode{ConsoleKind: kind, Args: args, Guard: guard})
}

func (a *Assigner) NewMappingUpdate(sp span.Span, mapping string, key, value *Node) *Node {
	return a.newNode(MappingUpdate, sp, MappingUpdateNode{Mapping: mapping, Key: key, Value: value})
}

func (a *Assigner) NewGuardedMappingUpdate(sp span.Span, mapping string, key, value, guard *Node) *Node {
	return a.newNode(MappingUpdate, sp, MappingUpdateNode{Mapping: mapping, Key: key, Value: value, Guard: guard})
}

func (a *Assigner) NewFinalizeCall(sp span.Span, args []*Node) *Node {
	return a.newNode(FinalizeCall, sp, FinalizeCallNode{Args: args})
}

func (a *Assigner) NewGuardedFinalizeCall(sp span.Span, args []*Node, guard *Node) *Node {
	return a.newNode(FinalizeCall, sp, FinalizeCallNode{Args: args, Guard: guard})
}

func (a *Assigner) NewFuncDecl(sp span.Span, name string, kind FuncKind, params []Param, returnType *Type, returnMode Mode, body *Node) *Node {
	if returnType == nil {
		returnType = TypeUnit
	}
	return a.newNode(FuncDecl, sp, FuncDeclNode{
		Name: name, FuncKind: kind, Params: params,
		ReturnType: returnType, ReturnMode: returnMode, Body: body,
	})
}

func (a *Assigner) NewStructDecl(sp span.Span, name string, isRecord bool, fields []StructField) *Node {
	return a.newNode(StructDecl, sp, StructDeclNode{Name: name, IsRecord: isRecord, Fields: fields})
}

func (a *Assigner) NewMappingDecl(sp span.Span, name string, key, value *Type) *Node {
	return a.newNode(MappingDecl, sp, MappingDeclNode{Name: name, Key: key, Value: value})
}

// IsExpr reports whether the node is an expression kind.
func (n *Node) IsExpr() bool { return n != nil && n.Kind <= TupleInit }

// IsStmt reports whether the node is a statement kind.
func (n *Node) IsStmt() bool { return n != nil && n.Kind >= Block && n.Kind <= FinalizeCall }
