// lumc lowers a type-checked Lumen tree (the parser's JSON serialization)
// into the branch-free instruction form and prints it.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/cli"
	"github.com/lumen-lang/lumc/pkg/config"
	"github.com/lumen-lang/lumc/pkg/diag"
	"github.com/lumen-lang/lumc/pkg/pipeline"
	"github.com/lumen-lang/lumc/pkg/span"
)

func main() {
	app := cli.NewApp("lumc")
	app.Synopsis = "[options] <program.ast.json>"
	app.Description = "Lowers a Lumen program tree into branch-free, single-assignment circuit instructions."
	app.Repository = "https://github.com/lumen-lang/lumc"

	var (
		outPath  string
		srcPath  string
		digest   bool
		dumpTree bool
		dumpAST  bool
		traceAll bool
		verbose  bool
		warnings []string
		features []string
	)
	fs := app.FlagSet
	fs.String(&outPath, "output", "o", "", "Write instructions to a file instead of stdout", "file")
	fs.String(&srcPath, "source", "s", "", "Original source file, for diagnostic carets", "file")
	fs.Bool(&digest, "digest", "", false, "Print the instruction digest instead of the text form")
	fs.Bool(&dumpTree, "dump-tree", "", false, "Print the lowered tree instead of instructions")
	fs.Bool(&dumpAST, "dump-ast", "", false, "Re-encode the input tree as JSON and exit")
	fs.Bool(&traceAll, "trace", "", false, "Print the tree after every pass to stderr")
	fs.Bool(&verbose, "verbose", "v", false, "Narrate each pass as it completes")
	fs.Prefix(&warnings, "W", "Toggle a warning")
	fs.Prefix(&features, "F", "Toggle a feature")

	cfg := config.NewConfig()
	fs.AddGroup(warningGroup(cfg))
	fs.AddGroup(featureGroup(cfg))

	app.Action = func(args []string) error {
		var toggles []string
		for _, w := range warnings {
			toggles = append(toggles, "W"+w)
		}
		for _, f := range features {
			toggles = append(toggles, "F"+f)
		}
		return run(args, cfg, options{
			outPath: outPath, srcPath: srcPath,
			digest: digest, dumpTree: dumpTree, dumpAST: dumpAST,
			trace: traceAll, verbose: verbose,
			toggles: toggles,
		})
	}
	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

type options struct {
	outPath, srcPath                          string
	digest, dumpTree, dumpAST, trace, verbose bool
	toggles                                   []string
}

func run(args []string, cfg *config.Config, opts options) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one input file, got %d", len(args))
	}
	for _, toggle := range opts.toggles {
		if err := cfg.ApplyFlag(toggle); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return err
		}
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	sources := span.NewSourceSet()
	if opts.srcPath != "" {
		src, err := os.ReadFile(opts.srcPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return err
		}
		sources.Add(opts.srcPath, []rune(string(src)))
	} else {
		sources.Add(args[0], nil)
	}

	assigner := ast.NewAssigner()
	prog, err := ast.DecodeProgram(data, assigner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
		return err
	}

	if opts.dumpAST {
		encoded, err := ast.EncodeProgram(prog)
		if err != nil {
			return err
		}
		return writeOutput(opts.outPath, append(encoded, '\n'))
	}

	bag := diag.NewBag(sources)
	pipeOpts := pipeline.Options{Config: cfg}
	if opts.trace {
		pipeOpts.Trace = treeTrace(os.Stderr)
	}
	if opts.verbose {
		pipeOpts.Trace = verboseTrace(os.Stderr, pipeOpts.Trace)
	}

	result, err := pipeline.Compile(prog, assigner, pipeOpts, bag)
	bag.Print(os.Stderr)
	if err != nil {
		return err
	}

	switch {
	case opts.digest:
		return writeOutput(opts.outPath, []byte(fmt.Sprintf("%016x\n", result.IR.Digest())))
	case opts.dumpTree:
		out := ""
		for _, scope := range result.Tree.Scopes {
			for _, fn := range scope.Functions {
				out += ast.FuncString(fn) + "\n"
			}
		}
		return writeOutput(opts.outPath, []byte(out))
	default:
		return writeOutput(opts.outPath, []byte(result.IR.String()))
	}
}

// treeTrace dumps every function's lowered tree after each pass.
func treeTrace(w io.Writer) func(string, *ast.Program) {
	return func(stage string, p *ast.Program) {
		fmt.Fprintf(w, "== after %s ==\n", stage)
		for _, scope := range p.Scopes {
			for _, fn := range scope.Functions {
				fmt.Fprintln(w, ast.FuncString(fn))
			}
		}
	}
}

// verboseTrace narrates pass completion, then defers to the tree dump when
// both flags are set.
func verboseTrace(w io.Writer, next func(string, *ast.Program)) func(string, *ast.Program) {
	return func(stage string, p *ast.Program) {
		fmt.Fprintf(w, "lumc: pass %s\n", stage)
		if next != nil {
			next(stage, p)
		}
	}
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func warningGroup(cfg *config.Config) cli.Group {
	g := cli.Group{Name: "Warnings", Prefix: "W", Kind: "warning"}
	for _, info := range cfg.Warnings {
		g.Entries = append(g.Entries, cli.GroupEntry{Name: info.Name, Usage: info.Description, Enabled: info.Enabled})
	}
	return g
}

func featureGroup(cfg *config.Config) cli.Group {
	g := cli.Group{Name: "Features", Prefix: "F", Kind: "feature"}
	for _, info := range cfg.Features {
		g.Entries = append(g.Entries, cli.GroupEntry{Name: info.Name, Usage: info.Description, Enabled: info.Enabled})
	}
	return g
}
