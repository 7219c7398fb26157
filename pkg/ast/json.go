package ast

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/lumen-lang/lumc/pkg/span"
)

// JSON interchange with the external parser. The parser serializes its tree
// as kind-tagged nodes; DecodeProgram rebuilds it through the compilation's
// Assigner so node IDs are unique within this compilation regardless of what
// the producer used. EncodeProgram is the inverse, used by -dump-ast and by
// tests that produce fixtures.

type jsonSpan struct {
	File int `json:"file"`
	Line int `json:"line"`
	Col  int `json:"col"`
	Len  int `json:"len,omitempty"`
}

type jsonType struct {
	Name  string      `json:"name,omitempty"`
	Tuple []*jsonType `json:"tuple,omitempty"`
	Array *jsonType   `json:"array,omitempty"`
	Size  int         `json:"size,omitempty"`
	Key   *jsonType   `json:"key,omitempty"`
	Value *jsonType   `json:"value,omitempty"`
}

type jsonField struct {
	Name  string    `json:"name"`
	Type  *jsonType `json:"type,omitempty"`
	Value *jsonNode `json:"value,omitempty"`
}

type jsonParam struct {
	Name string    `json:"name"`
	Type *jsonType `json:"type"`
	Mode string    `json:"mode,omitempty"`
}

type jsonNode struct {
	Kind string    `json:"kind"`
	Span *jsonSpan `json:"span,omitempty"`

	// literals
	LitKind string    `json:"lit,omitempty"`
	Int     string    `json:"int,omitempty"`
	Bool    bool      `json:"bool,omitempty"`
	Text    string    `json:"text,omitempty"`
	Suffix  *jsonType `json:"suffix,omitempty"`

	Name    string `json:"name,omitempty"`
	Member  string `json:"member,omitempty"`
	Index   int    `json:"index,omitempty"`
	Op      string `json:"op,omitempty"`
	Program string `json:"program,omitempty"`
	Builtin bool   `json:"builtin,omitempty"`
	Mutable bool   `json:"mutable,omitempty"`
	Record  bool   `json:"record,omitempty"`
	Incl    bool   `json:"inclusive,omitempty"`
	Console string `json:"console,omitempty"`
	Func    string `json:"func,omitempty"` // function kind
	Mode    string `json:"mode,omitempty"` // return mode

	Type *jsonType `json:"type,omitempty"`
	Key2 *jsonType `json:"keyType,omitempty"`
	Val2 *jsonType `json:"valueType,omitempty"`

	Left   *jsonNode `json:"left,omitempty"`
	Right  *jsonNode `json:"right,omitempty"`
	Expr   *jsonNode `json:"expr,omitempty"`
	Cond   *jsonNode `json:"cond,omitempty"`
	Then   *jsonNode `json:"then,omitempty"`
	Else   *jsonNode `json:"else,omitempty"`
	Target *jsonNode `json:"target,omitempty"`
	Value  *jsonNode `json:"value,omitempty"`
	Start  *jsonNode `json:"start,omitempty"`
	End    *jsonNode `json:"end,omitempty"`
	Body   *jsonNode `json:"body,omitempty"`
	Array  *jsonNode `json:"array,omitempty"`
	Idx    *jsonNode `json:"idx,omitempty"`
	Key    *jsonNode `json:"key,omitempty"`
	Repeat *jsonNode `json:"repeat,omitempty"`
	Count  *jsonNode `json:"count,omitempty"`

	Args   []*jsonNode  `json:"args,omitempty"`
	Elems  []*jsonNode  `json:"elems,omitempty"`
	Stmts  []*jsonNode  `json:"stmts,omitempty"`
	Fields []*jsonField `json:"fields,omitempty"`
	Params []*jsonParam `json:"params,omitempty"`
}

type jsonScope struct {
	Name      string      `json:"name"`
	Structs   []*jsonNode `json:"structs,omitempty"`
	Mappings  []*jsonNode `json:"mappings,omitempty"`
	Consts    []*jsonNode `json:"consts,omitempty"`
	Functions []*jsonNode `json:"functions,omitempty"`
}

type jsonProgram struct {
	Scopes []*jsonScope `json:"scopes"`
}

var binaryOpByName = map[string]BinaryOp{}
var assignOpByName = map[string]AssignOp{
	"=": AssignSet, "+=": AssignAdd, "-=": AssignSub, "*=": AssignMul,
	"/=": AssignDiv, "%=": AssignRem, "&=": AssignBitAnd, "|=": AssignBitOr,
	"^=": AssignBitXor, "<<=": AssignShl, ">>=": AssignShr,
}

func init() {
	for op, name := range binaryOpNames {
		binaryOpByName[name] = op
	}
}

// DecodeProgram parses the external parser's JSON tree.
func DecodeProgram(data []byte, a *Assigner) (*Program, error) {
	var jp jsonProgram
	if err := json.Unmarshal(data, &jp); err != nil {
		return nil, fmt.Errorf("decoding program: %w", err)
	}
	d := &decoder{a: a}
	prog := &Program{}
	for _, js := range jp.Scopes {
		scope := &Scope{Name: js.Name}
		for _, n := range js.Structs {
			scope.Structs = append(scope.Structs, d.node(n))
		}
		for _, n := range js.Mappings {
			scope.Mappings = append(scope.Mappings, d.node(n))
		}
		for _, n := range js.Consts {
			scope.Consts = append(scope.Consts, d.node(n))
		}
		for _, n := range js.Functions {
			scope.Functions = append(scope.Functions, d.node(n))
		}
		prog.Scopes = append(prog.Scopes, scope)
	}
	if d.err != nil {
		return nil, d.err
	}
	return prog, nil
}

type decoder struct {
	a   *Assigner
	err error
}

func (d *decoder) fail(format string, args ...interface{}) *Node {
	if d.err == nil {
		d.err = fmt.Errorf(format, args...)
	}
	return nil
}

func (d *decoder) span(js *jsonSpan) span.Span {
	if js == nil {
		return span.Span{}
	}
	return span.Span{FileIndex: js.File, Line: js.Line, Column: js.Col, Len: js.Len}
}

func (d *decoder) typ(jt *jsonType) *Type {
	if jt == nil {
		return nil
	}
	switch {
	case jt.Tuple != nil:
		elems := make([]*Type, len(jt.Tuple))
		for i, e := range jt.Tuple {
			elems[i] = d.typ(e)
		}
		return NewTupleType(elems)
	case jt.Array != nil:
		return NewArrayType(d.typ(jt.Array), jt.Size)
	case jt.Key != nil:
		return NewMappingType(d.typ(jt.Key), d.typ(jt.Value))
	}
	if t := NamedType(jt.Name); t != nil {
		return t
	}
	// Named struct reference; the type checker resolves its fields.
	return &Type{Kind: TYPE_STRUCT, Name: jt.Name}
}

func (d *decoder) nodes(js []*jsonNode) []*Node {
	out := make([]*Node, 0, len(js))
	for _, j := range js {
		out = append(out, d.node(j))
	}
	return out
}

func (d *decoder) bigInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		d.fail("invalid integer literal %q", s)
		return big.NewInt(0)
	}
	return v
}

func (d *decoder) node(j *jsonNode) *Node {
	if j == nil || d.err != nil {
		return nil
	}
	sp := d.span(j.Span)
	switch j.Kind {
	case "literal":
		switch j.LitKind {
		case "bool":
			return d.a.NewBoolLiteral(sp, j.Bool)
		case "address":
			return d.a.NewAddressLiteral(sp, j.Text)
		case "field":
			return d.a.NewFieldLiteral(sp, d.bigInt(j.Int))
		case "group":
			return d.a.NewGroupLiteral(sp, d.bigInt(j.Int))
		case "scalar":
			return d.a.NewScalarLiteral(sp, d.bigInt(j.Int))
		default:
			return d.a.NewIntLiteral(sp, d.bigInt(j.Int), d.typ(j.Suffix))
		}
	case "ident":
		return d.a.NewIdent(sp, j.Name)
	case "binary":
		op, ok := binaryOpByName[j.Op]
		if !ok {
			return d.fail("unknown binary operator %q", j.Op)
		}
		return d.a.NewBinary(sp, op, d.node(j.Left), d.node(j.Right))
	case "unary":
		op := OpNot
		if j.Op == "-" {
			op = OpNeg
		}
		return d.a.NewUnary(sp, op, d.node(j.Expr))
	case "call":
		return d.a.NewCall(sp, j.Program, j.Name, j.Builtin, d.nodes(j.Args))
	case "arrayAccess":
		return d.a.NewArrayAccess(sp, d.node(j.Array), d.node(j.Idx))
	case "memberAccess":
		return d.a.NewMemberAccess(sp, d.node(j.Expr), j.Member)
	case "tupleAccess":
		return d.a.NewTupleAccess(sp, d.node(j.Expr), j.Index)
	case "cast":
		return d.a.NewCast(sp, d.node(j.Expr), d.typ(j.Type))
	case "ternary":
		return d.a.NewTernary(sp, d.node(j.Cond), d.node(j.Then), d.node(j.Else))
	case "structInit":
		fields := make([]FieldInit, len(j.Fields))
		for i, f := range j.Fields {
			fields[i] = FieldInit{Name: f.Name, Value: d.node(f.Value)}
		}
		return d.a.NewStructInit(sp, j.Name, fields)
	case "arrayInit":
		if j.Repeat != nil {
			return d.a.NewArrayRepeat(sp, d.node(j.Repeat), d.node(j.Count))
		}
		return d.a.NewArrayInit(sp, d.nodes(j.Elems))
	case "tupleInit":
		return d.a.NewTupleInit(sp, d.nodes(j.Elems))
	case "block":
		return d.a.NewBlock(sp, d.nodes(j.Stmts))
	case "let":
		return d.a.NewVarDecl(sp, j.Name, j.Mutable, d.typ(j.Type), d.node(j.Value))
	case "const":
		return d.a.NewConstDecl(sp, j.Name, d.typ(j.Type), d.node(j.Value))
	case "assign":
		op, ok := assignOpByName[j.Op]
		if !ok {
			return d.fail("unknown assignment operator %q", j.Op)
		}
		return d.a.NewAssign(sp, op, d.node(j.Target), d.node(j.Value))
	case "if":
		return d.a.NewConditional(sp, d.node(j.Cond), d.node(j.Then), d.node(j.Else))
	case "for":
		return d.a.NewIteration(sp, j.Name, d.typ(j.Type), d.node(j.Start), d.node(j.End), j.Incl, d.node(j.Body))
	case "return":
		return d.a.NewReturn(sp, d.node(j.Expr))
	case "exprStmt":
		return d.a.NewExprStmt(sp, d.node(j.Expr))
	case "console":
		var kind ConsoleKind
		switch j.Console {
		case "assert":
			kind = ConsoleAssert
		case "assert_eq":
			kind = ConsoleAssertEq
		case "assert_neq":
			kind = ConsoleAssertNeq
		default:
			return d.fail("unknown console kind %q", j.Console)
		}
		return d.a.NewConsole(sp, kind, d.nodes(j.Args))
	case "mappingUpdate":
		return d.a.NewMappingUpdate(sp, j.Name, d.node(j.Key), d.node(j.Value))
	case "finalizeCall":
		return d.a.NewFinalizeCall(sp, d.nodes(j.Args))
	case "function":
		params := make([]Param, len(j.Params))
		for i, p := range j.Params {
			params[i] = Param{Name: p.Name, Type: d.typ(p.Type), Mode: modeByName(p.Mode)}
		}
		var kind FuncKind
		switch j.Func {
		case "transition":
			kind = FuncTransition
		case "finalize":
			kind = FuncFinalize
		case "inline":
			kind = FuncInlineOnly
		default:
			kind = FuncStandard
		}
		return d.a.NewFuncDecl(sp, j.Name, kind, params, d.typ(j.Type), modeByName(j.Mode), d.node(j.Body))
	case "struct":
		fields := make([]StructField, len(j.Fields))
		for i, f := range j.Fields {
			fields[i] = StructField{Name: f.Name, Type: d.typ(f.Type)}
		}
		return d.a.NewStructDecl(sp, j.Name, j.Record, fields)
	case "mapping":
		return d.a.NewMappingDecl(sp, j.Name, d.typ(j.Key2), d.typ(j.Val2))
	}
	return d.fail("unknown node kind %q", j.Kind)
}

func modeByName(name string) Mode {
	switch name {
	case "public":
		return ModePublic
	case "constant":
		return ModeConstant
	}
	return ModePrivate
}

// EncodeProgram serializes a tree back to the interchange format.
func EncodeProgram(p *Program) ([]byte, error) {
	jp := &jsonProgram{}
	for _, s := range p.Scopes {
		js := &jsonScope{Name: s.Name}
		for _, n := range s.Structs {
			js.Structs = append(js.Structs, encodeNode(n))
		}
		for _, n := range s.Mappings {
			js.Mappings = append(js.Mappings, encodeNode(n))
		}
		for _, n := range s.Consts {
			js.Consts = append(js.Consts, encodeNode(n))
		}
		for _, n := range s.Functions {
			js.Functions = append(js.Functions, encodeNode(n))
		}
		jp.Scopes = append(jp.Scopes, js)
	}
	return json.MarshalIndent(jp, "", "  ")
}

func encodeSpan(sp span.Span) *jsonSpan {
	if !sp.IsValid() {
		return nil
	}
	return &jsonSpan{File: sp.FileIndex, Line: sp.Line, Col: sp.Column, Len: sp.Len}
}

func encodeType(t *Type) *jsonType {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case TYPE_TUPLE:
		jt := &jsonType{}
		for _, e := range t.Elems {
			jt.Tuple = append(jt.Tuple, encodeType(e))
		}
		return jt
	case TYPE_ARRAY:
		return &jsonType{Array: encodeType(t.Base), Size: t.Size}
	case TYPE_MAPPING:
		return &jsonType{Key: encodeType(t.Key), Value: encodeType(t.Value)}
	}
	return &jsonType{Name: t.Name}
}

func encodeNodes(nodes []*Node) []*jsonNode {
	out := make([]*jsonNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, encodeNode(n))
	}
	return out
}

func encodeNode(n *Node) *jsonNode {
	if n == nil {
		return nil
	}
	j := &jsonNode{Span: encodeSpan(n.Span)}
	switch d := n.Data.(type) {
	case LiteralNode:
		j.Kind = "literal"
		switch d.LitKind {
		case LitBool:
			j.LitKind, j.Bool = "bool", d.Bool
		case LitAddress:
			j.LitKind, j.Text = "address", d.Text
		case LitField:
			j.LitKind, j.Int = "field", d.Int.String()
		case LitGroup:
			j.LitKind, j.Int = "group", d.Int.String()
		case LitScalar:
			j.LitKind, j.Int = "scalar", d.Int.String()
		default:
			j.LitKind, j.Int, j.Suffix = "integer", d.Int.String(), encodeType(d.Typ)
		}
	case IdentNode:
		j.Kind, j.Name = "ident", d.Name
	case BinaryNode:
		j.Kind, j.Op, j.Left, j.Right = "binary", d.Op.String(), encodeNode(d.Left), encodeNode(d.Right)
	case UnaryNode:
		j.Kind, j.Op, j.Expr = "unary", d.Op.String(), encodeNode(d.Expr)
	case CallNode:
		j.Kind, j.Program, j.Name, j.Builtin, j.Args = "call", d.Program, d.Callee, d.Builtin, encodeNodes(d.Args)
	case ArrayAccessNode:
		j.Kind, j.Array, j.Idx = "arrayAccess", encodeNode(d.Array), encodeNode(d.Index)
	case MemberAccessNode:
		j.Kind, j.Expr, j.Member = "memberAccess", encodeNode(d.Expr), d.Member
	case TupleAccessNode:
		j.Kind, j.Expr, j.Index = "tupleAccess", encodeNode(d.Expr), d.Index
	case CastNode:
		j.Kind, j.Expr, j.Type = "cast", encodeNode(d.Expr), encodeType(d.Target)
	case TernaryNode:
		j.Kind, j.Cond, j.Then, j.Else = "ternary", encodeNode(d.Cond), encodeNode(d.Then), encodeNode(d.Else)
	case StructInitNode:
		j.Kind, j.Name = "structInit", d.Name
		for _, f := range d.Fields {
			j.Fields = append(j.Fields, &jsonField{Name: f.Name, Value: encodeNode(f.Value)})
		}
	case ArrayInitNode:
		j.Kind = "arrayInit"
		if d.Repeat != nil {
			j.Repeat, j.Count = encodeNode(d.Repeat), encodeNode(d.Count)
		} else {
			j.Elems = encodeNodes(d.Elems)
		}
	case TupleInitNode:
		j.Kind, j.Elems = "tupleInit", encodeNodes(d.Elems)
	case BlockNode:
		j.Kind, j.Stmts = "block", encodeNodes(d.Stmts)
	case VarDeclNode:
		j.Kind, j.Name, j.Mutable, j.Type, j.Value = "let", d.Name, d.Mutable, encodeType(d.Type), encodeNode(d.Value)
	case ConstDeclNode:
		j.Kind, j.Name, j.Type, j.Value = "const", d.Name, encodeType(d.Type), encodeNode(d.Value)
	case AssignNode:
		op := "="
		if bin, ok := d.Op.BinaryFor(); ok {
			op = bin.String() + "="
		}
		j.Kind, j.Op, j.Target, j.Value = "assign", op, encodeNode(d.Target), encodeNode(d.Value)
	case ConditionalNode:
		j.Kind, j.Cond, j.Then, j.Else = "if", encodeNode(d.Cond), encodeNode(d.Then), encodeNode(d.Else)
	case IterationNode:
		j.Kind, j.Name, j.Type = "for", d.Var, encodeType(d.VarType)
		j.Start, j.End, j.Incl, j.Body = encodeNode(d.Start), encodeNode(d.End), d.Inclusive, encodeNode(d.Body)
	case ReturnNode:
		j.Kind, j.Expr = "return", encodeNode(d.Expr)
	case ExprStmtNode:
		j.Kind, j.Expr = "exprStmt", encodeNode(d.Expr)
	case ConsoleNode:
		j.Kind, j.Console, j.Args = "console", d.ConsoleKind.String(), encodeNodes(d.Args)
	case MappingUpdateNode:
		j.Kind, j.Name, j.Key, j.Value = "mappingUpdate", d.Mapping, encodeNode(d.Key), encodeNode(d.Value)
	case FinalizeCallNode:
		j.Kind, j.Args = "finalizeCall", encodeNodes(d.Args)
	case FuncDeclNode:
		j.Kind, j.Name = "function", d.Name
		switch d.FuncKind {
		case FuncTransition:
			j.Func = "transition"
		case FuncFinalize:
			j.Func = "finalize"
		case FuncInlineOnly:
			j.Func = "inline"
		default:
			j.Func = "function"
		}
		for _, p := range d.Params {
			j.Params = append(j.Params, &jsonParam{Name: p.Name, Type: encodeType(p.Type), Mode: p.Mode.String()})
		}
		j.Type, j.Mode, j.Body = encodeType(d.ReturnType), d.ReturnMode.String(), encodeNode(d.Body)
	case StructDeclNode:
		j.Kind, j.Name, j.Record = "struct", d.Name, d.IsRecord
		for _, f := range d.Fields {
			j.Fields = append(j.Fields, &jsonField{Name: f.Name, Type: encodeType(f.Type)})
		}
	case MappingDeclNode:
		j.Kind, j.Name, j.Key2, j.Val2 = "mapping", d.Name, encodeType(d.Key), encodeType(d.Value)
	}
	return j
}
