// Package pipeline wires the passes together in their fixed order: symbol
// table, type checking, folding, unrolling, a second fold (expressions over
// loop variables only become constant after substitution), index validation,
// SSA conversion, flattening, inlining, destructuring, dead code elimination
// and code generation. The pipeline halts at the first stage that reports an
// error, with everything that stage accumulated.
package pipeline

import (
	"fmt"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/codegen"
	"github.com/lumen-lang/lumc/pkg/config"
	"github.com/lumen-lang/lumc/pkg/diag"
	"github.com/lumen-lang/lumc/pkg/fold"
	"github.com/lumen-lang/lumc/pkg/ir"
	"github.com/lumen-lang/lumc/pkg/lower"
	"github.com/lumen-lang/lumc/pkg/symtab"
	"github.com/lumen-lang/lumc/pkg/typeChecker"
)

// Options tunes one compilation.
type Options struct {
	Config *config.Config
	// Trace, when set, receives the tree after each pass.
	Trace func(stage string, prog *ast.Program)
}

// Result is a successful compilation's output.
type Result struct {
	IR    *ir.Program
	Tree  *ast.Program // final lowered tree
	Types *ast.TypeTable
}

// Compile runs the whole pipeline. Diagnostics accumulate in bag; a non-nil
// error means at least one stage reported errors and compilation stopped.
func Compile(prog *ast.Program, a *ast.Assigner, opts Options, bag *diag.Bag) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	trace := opts.Trace
	if trace == nil {
		trace = func(string, *ast.Program) {}
	}
	halt := func(stage string) error {
		return fmt.Errorf("%s: %d error(s)", stage, len(bag.Errors()))
	}

	symbols := symtab.Build(prog, bag)
	if bag.HasErrors() {
		return nil, halt("symbol table")
	}

	checked := typeChecker.NewTypeChecker(cfg, bag, symbols).Check(prog)
	if bag.HasErrors() {
		return nil, halt("type checking")
	}
	types := checked.Types

	folder := fold.New(a, types, cfg, bag)
	prog = folder.Run(prog)
	trace("fold", prog)
	if bag.HasErrors() {
		return nil, halt("constant folding")
	}

	prog = lower.NewUnroller(a, types, folder, cfg, bag).Run(prog)
	trace("unroll", prog)
	if bag.HasErrors() {
		return nil, halt("loop unrolling")
	}

	prog = folder.Run(prog)
	trace("fold2", prog)
	if bag.HasErrors() {
		return nil, halt("constant folding")
	}

	lower.ValidateIndices(prog, types, bag)
	if bag.HasErrors() {
		return nil, halt("index validation")
	}

	prog = lower.NewSSAConverter(a, types, bag).Run(prog)
	trace("ssa", prog)
	if bag.HasErrors() {
		return nil, halt("ssa conversion")
	}

	flattener := lower.NewFlattener(a, types, bag)
	prog = flattener.Run(prog)
	trace("flatten", prog)
	if bag.HasErrors() {
		return nil, halt("flattening")
	}

	prog = lower.NewInliner(a, types, cfg, bag, checked.Calls, flattener.Indicators()).Run(prog)
	trace("inline", prog)
	if bag.HasErrors() {
		return nil, halt("inlining")
	}

	prog = lower.NewDestructurer(a, types, bag).Run(prog)
	trace("destructure", prog)
	if bag.HasErrors() {
		return nil, halt("destructuring")
	}

	prog = lower.EliminateDeadCode(prog, a, types)
	trace("dce", prog)

	irProg := codegen.NewContext(types, bag).Generate(prog)
	if bag.HasErrors() {
		return nil, halt("code generation")
	}
	return &Result{IR: irProg, Tree: prog, Types: types}, nil
}
