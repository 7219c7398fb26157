// lumtest runs the golden-output suite: every *.ast.json under the test
// directory is compiled in-process and its rendered instructions are compared
// against the neighboring *.ir file. -update rewrites the goldens.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/go-cmp/cmp"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/config"
	"github.com/lumen-lang/lumc/pkg/diag"
	"github.com/lumen-lang/lumc/pkg/pipeline"
	"github.com/lumen-lang/lumc/pkg/span"
)

type caseResult struct {
	name   string
	passed bool
	digest uint64
	detail string
}

func main() {
	dir := flag.String("dir", "testdata", "directory holding *.ast.json cases and *.ir goldens")
	update := flag.Bool("update", false, "rewrite golden files from current output")
	workers := flag.Int("jobs", 4, "number of cases compiled in parallel")
	flag.Parse()

	cases, err := filepath.Glob(filepath.Join(*dir, "*.ast.json"))
	if err != nil || len(cases) == 0 {
		fmt.Fprintf(os.Stderr, "no test cases under %s\n", *dir)
		os.Exit(1)
	}
	sort.Strings(cases)

	results := make([]caseResult, len(cases))
	sem := make(chan struct{}, *workers)
	var wg sync.WaitGroup
	for i, path := range cases {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = runCase(path, *update)
		}(i, path)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		status := "ok"
		if !r.passed {
			status = "FAIL"
			failed++
		}
		fmt.Printf("%-4s %-40s %016x\n", status, r.name, r.digest)
		if r.detail != "" {
			fmt.Print(indent(r.detail))
		}
	}
	fmt.Printf("\n%d/%d passed\n", len(results)-failed, len(results))
	if failed > 0 {
		os.Exit(1)
	}
}

func runCase(path string, update bool) caseResult {
	name := strings.TrimSuffix(filepath.Base(path), ".ast.json")
	res := caseResult{name: name}

	data, err := os.ReadFile(path)
	if err != nil {
		res.detail = err.Error()
		return res
	}
	assigner := ast.NewAssigner()
	prog, err := ast.DecodeProgram(data, assigner)
	if err != nil {
		res.detail = fmt.Sprintf("decode: %v", err)
		return res
	}

	sources := span.NewSourceSet()
	sources.Add(path, nil)
	bag := diag.NewBag(sources)
	compiled, err := pipeline.Compile(prog, assigner, pipeline.Options{Config: config.NewConfig()}, bag)
	if err != nil {
		var b strings.Builder
		bag.Print(&b)
		res.detail = b.String()
		return res
	}

	got := compiled.IR.String()
	res.digest = compiled.IR.Digest()
	golden := filepath.Join(filepath.Dir(path), name+".ir")
	if update {
		if err := os.WriteFile(golden, []byte(got), 0644); err != nil {
			res.detail = err.Error()
			return res
		}
		res.passed = true
		return res
	}

	want, err := os.ReadFile(golden)
	if err != nil {
		res.detail = fmt.Sprintf("missing golden %s (run with -update)", golden)
		return res
	}
	if diff := cmp.Diff(string(want), got); diff != "" {
		res.detail = diff
		return res
	}
	res.passed = true
	return res
}

func indent(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		b.WriteString("     ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
