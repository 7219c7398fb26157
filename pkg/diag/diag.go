// Package diag defines the compiler's diagnostic kinds and the per-compilation
// accumulator. Passes append diagnostics and keep going where they can; the
// driver decides when a pass's failure poisons everything downstream.
package diag

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/lumen-lang/lumc/pkg/span"
)

type Kind int

const (
	NameResolution Kind = iota
	TypeMismatch
	ConstantRequired
	Structural
	Overflow
	KindCount
)

var kindNames = [KindCount]string{
	NameResolution:   "name-resolution",
	TypeMismatch:     "type-mismatch",
	ConstantRequired: "constant-required",
	Structural:       "structural",
	Overflow:         "overflow",
}

func (k Kind) String() string {
	if k < 0 || k >= KindCount {
		return "unknown"
	}
	return kindNames[k]
}

type Diagnostic struct {
	Kind Kind
	Msg  string
	Span span.Span
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s: %s", d.Span, d.Kind, d.Msg)
}

// Bag accumulates diagnostics for one compilation. It is not safe for
// concurrent use; a parallel driver gives each program its own Bag.
type Bag struct {
	sources *span.SourceSet
	diags   []Diagnostic
	warns   []Diagnostic
}

func NewBag(sources *span.SourceSet) *Bag {
	return &Bag{sources: sources}
}

func (b *Bag) Add(kind Kind, sp span.Span, format string, args ...interface{}) {
	b.diags = append(b.diags, Diagnostic{Kind: kind, Msg: fmt.Sprintf(format, args...), Span: sp})
}

func (b *Bag) Warn(sp span.Span, format string, args ...interface{}) {
	b.warns = append(b.warns, Diagnostic{Msg: fmt.Sprintf(format, args...), Span: sp})
}

func (b *Bag) HasErrors() bool        { return len(b.diags) > 0 }
func (b *Bag) Errors() []Diagnostic   { return b.diags }
func (b *Bag) Warnings() []Diagnostic { return b.warns }

// Len reports the number of errors; passes snapshot it to detect whether a
// subtree produced new diagnostics.
func (b *Bag) Len() int { return len(b.diags) }

const (
	cRed    = "\033[31m"
	cYellow = "\033[33m"
	cGreen  = "\033[32m"
	cNone   = "\033[0m"
)

// Print renders every accumulated diagnostic to w with the offending source
// line and a caret, colorized when w is a terminal.
func (b *Bag) Print(w io.Writer) {
	colored := false
	if f, ok := w.(*os.File); ok {
		colored = term.IsTerminal(int(f.Fd()))
	}
	for _, d := range b.warns {
		b.printOne(w, d, "warning", cYellow, colored)
	}
	for _, d := range b.diags {
		b.printOne(w, d, "error", cRed, colored)
	}
}

func (b *Bag) printOne(w io.Writer, d Diagnostic, label, color string, colored bool) {
	filename, line, col := "unknown", d.Span.Line, d.Span.Column
	if b.sources != nil {
		filename, line, col = b.sources.Locate(d.Span)
	}
	if colored {
		fmt.Fprintf(w, "%s:%d:%d: %s%s:%s %s\n", filename, line, col, color, label, cNone, d.Msg)
	} else {
		fmt.Fprintf(w, "%s:%d:%d: %s: %s\n", filename, line, col, label, d.Msg)
	}
	b.printSourceLine(w, d.Span, colored)
}

func (b *Bag) printSourceLine(w io.Writer, sp span.Span, colored bool) {
	if b.sources == nil {
		return
	}
	text, ok := b.sources.LineText(sp)
	if !ok || sp.Column < 1 || sp.Column > len(text)+1 {
		return
	}
	fmt.Fprintf(w, "  %s\n", text)
	caret := "^"
	if sp.Len > 1 {
		caret += strings.Repeat("~", sp.Len-1)
	}
	if colored {
		fmt.Fprintf(w, "  %s%s%s%s\n", strings.Repeat(" ", sp.Column-1), cGreen, caret, cNone)
	} else {
		fmt.Fprintf(w, "  %s%s\n", strings.Repeat(" ", sp.Column-1), caret)
	}
}
