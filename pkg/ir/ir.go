// Package ir defines the final instruction form: a branch-free sequence of
// register-to-register circuit operations per function, with explicit input
// and output declarations. The text rendering is canonical; the digest used
// by tests and the driver is computed over it.
package ir

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

type Opcode int

const (
	OpAdd Opcode = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpPow
	OpNeg
	OpAnd
	OpOr
	OpXor
	OpNot
	OpShl
	OpShr
	OpIsEq
	OpIsNeq
	OpLt
	OpGt
	OpLte
	OpGte
	OpSelect
	OpCast
	OpHash
	OpAssert
	OpAssertEq
	OpAssertNeq
	OpMappingGet
	OpMappingGetOrUse
	OpMappingContains
	OpMappingSet
	OpMappingRemove
	OpAsync
	OpCallExternal
)

var opcodeNames = [...]string{
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpRem: "rem",
	OpPow: "pow", OpNeg: "neg",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpNot: "not",
	OpShl: "shl", OpShr: "shr",
	OpIsEq: "is.eq", OpIsNeq: "is.neq",
	OpLt: "lt", OpGt: "gt", OpLte: "lte", OpGte: "gte",
	OpSelect: "select", OpCast: "cast", OpHash: "hash",
	OpAssert: "assert.true", OpAssertEq: "assert.eq", OpAssertNeq: "assert.neq",
	OpMappingGet: "get", OpMappingGetOrUse: "get.or_use",
	OpMappingContains: "contains", OpMappingSet: "set", OpMappingRemove: "remove",
	OpAsync: "async", OpCallExternal: "call",
}

func (o Opcode) String() string {
	if int(o) < len(opcodeNames) {
		return opcodeNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Value is an instruction operand.
type Value interface {
	isValue()
	String() string
}

// Register names a single-assignment register, optionally narrowed to a
// member path for opaque composite values (r3.owner, r3[0]).
type Register struct {
	N    int
	Path string
}

func (r Register) isValue() {}
func (r Register) String() string {
	return fmt.Sprintf("r%d%s", r.N, r.Path)
}

// Literal is a constant operand in source spelling (3u32, true, 1field).
type Literal struct{ Text string }

func (l Literal) isValue()       {}
func (l Literal) String() string { return l.Text }

// MappingRef names an on-chain mapping operand.
type MappingRef struct{ Name string }

func (m MappingRef) isValue()       {}
func (m MappingRef) String() string { return m.Name + "[]" }

// ExternalRef names a function in another program.
type ExternalRef struct{ Program, Function string }

func (e ExternalRef) isValue()       {}
func (e ExternalRef) String() string { return e.Program + "/" + e.Function }

// Instruction is one circuit operation. Dest is nil for effect-only
// operations (asserts, mapping writes, async). Variant carries the hash
// algorithm for OpHash. As is the rendered result type, when the operation
// has one.
type Instruction struct {
	Op       Opcode
	Variant  string
	Operands []Value
	Dest     *Register
	As       string
}

func (ins *Instruction) render(b *strings.Builder) {
	b.WriteString("    ")
	b.WriteString(ins.Op.String())
	if ins.Variant != "" {
		b.WriteByte('.')
		b.WriteString(ins.Variant)
	}
	for _, op := range ins.Operands {
		b.WriteByte(' ')
		b.WriteString(op.String())
	}
	if ins.Dest != nil {
		b.WriteString(" into ")
		b.WriteString(ins.Dest.String())
	}
	if ins.As != "" {
		b.WriteString(" as ")
		b.WriteString(ins.As)
	}
	b.WriteString(";\n")
}

// Input declares one function input register.
type Input struct {
	Register Register
	Type     string
	Mode     string // private, public, constant
}

// Output declares one function output operand.
type Output struct {
	Operand Value
	Type    string
	Mode    string
}

type FuncKind int

const (
	KindTransition FuncKind = iota
	KindFinalize
)

func (k FuncKind) String() string {
	if k == KindFinalize {
		return "finalize"
	}
	return "transition"
}

// Function is one lowered function's instruction sequence.
type Function struct {
	Scope        string
	Name         string
	Kind         FuncKind
	Inputs       []Input
	Instructions []Instruction
	Outputs      []Output
}

func (f *Function) render(b *strings.Builder) {
	fmt.Fprintf(b, "%s %s/%s:\n", f.Kind, f.Scope, f.Name)
	for _, in := range f.Inputs {
		fmt.Fprintf(b, "    input %s as %s (%s);\n", in.Register.String(), in.Type, in.Mode)
	}
	for i := range f.Instructions {
		f.Instructions[i].render(b)
	}
	for _, out := range f.Outputs {
		fmt.Fprintf(b, "    output %s as %s (%s);\n", out.Operand.String(), out.Type, out.Mode)
	}
}

// Program is the codegen result: every lowered function, in source order.
type Program struct {
	Functions []*Function
}

// String renders the canonical text form.
func (p *Program) String() string {
	var b strings.Builder
	for i, f := range p.Functions {
		if i > 0 {
			b.WriteByte('\n')
		}
		f.render(&b)
	}
	return b.String()
}

// Digest returns a stable hash of the canonical text form; golden tests and
// the driver's -digest flag compare against it.
func (p *Program) Digest() uint64 {
	return xxhash.Sum64String(p.String())
}

// InstructionCount sums instructions across functions.
func (p *Program) InstructionCount() int {
	total := 0
	for _, f := range p.Functions {
		total += len(f.Instructions)
	}
	return total
}
