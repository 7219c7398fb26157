package ir

import (
	"strings"
	"testing"

	"github.com/nalgeon/be"
)

func sampleFunction() *Function {
	return &Function{
		Scope: "token",
		Name:  "transfer",
		Kind:  KindTransition,
		Inputs: []Input{
			{Register: Register{N: 0}, Type: "address", Mode: "public"},
			{Register: Register{N: 1}, Type: "u64", Mode: "private"},
		},
		Instructions: []Instruction{
			{Op: OpMul, Operands: []Value{Register{N: 1}, Literal{"2u64"}}, Dest: &Register{N: 2}, As: "u64"},
			{Op: OpIsEq, Operands: []Value{Register{N: 2}, Literal{"0u64"}}, Dest: &Register{N: 3}, As: "bool"},
			{Op: OpAssert, Operands: []Value{Register{N: 3}}},
		},
		Outputs: []Output{
			{Operand: Register{N: 2}, Type: "u64", Mode: "private"},
		},
	}
}

func TestFunctionRendering(t *testing.T) {
	prog := &Program{Functions: []*Function{sampleFunction()}}
	got := prog.String()
	want := `transition token/transfer:
    input r0 as address (public);
    input r1 as u64 (private);
    mul r1 2u64 into r2 as u64;
    is.eq r2 0u64 into r3 as bool;
    assert.true r3;
    output r2 as u64 (private);
`
	be.Equal(t, got, want)
}

func TestValueRendering(t *testing.T) {
	be.Equal(t, Register{N: 7}.String(), "r7")
	be.Equal(t, Register{N: 3, Path: ".owner"}.String(), "r3.owner")
	be.Equal(t, Register{N: 3, Path: ".0[2]"}.String(), "r3.0[2]")
	be.Equal(t, Literal{"5field"}.String(), "5field")
	be.Equal(t, MappingRef{"balances"}.String(), "balances[]")
	be.Equal(t, ExternalRef{"credits", "mint"}.String(), "credits/mint")
}

func TestVariantRendering(t *testing.T) {
	ins := Instruction{
		Op:       OpHash,
		Variant:  "bhp256",
		Operands: []Value{Register{N: 0}},
		Dest:     &Register{N: 1},
		As:       "field",
	}
	var b strings.Builder
	ins.render(&b)
	be.Equal(t, b.String(), "    hash.bhp256 r0 into r1 as field;\n")
}

func TestFinalizeHeader(t *testing.T) {
	fn := &Function{Scope: "token", Name: "transfer_finalize", Kind: KindFinalize}
	prog := &Program{Functions: []*Function{fn}}
	be.True(t, strings.HasPrefix(prog.String(), "finalize token/transfer_finalize:\n"))
}

func TestDigestStability(t *testing.T) {
	a := &Program{Functions: []*Function{sampleFunction()}}
	b := &Program{Functions: []*Function{sampleFunction()}}
	be.Equal(t, a.Digest(), b.Digest())

	b.Functions[0].Instructions[0].Op = OpAdd
	be.True(t, a.Digest() != b.Digest())
}

func TestInstructionCount(t *testing.T) {
	prog := &Program{Functions: []*Function{sampleFunction(), sampleFunction()}}
	be.Equal(t, prog.InstructionCount(), 6)
}
