// Package cli is a small flag and help-page framework for the lumc driver.
// It supports long and short flags, repeatable flags, prefix flags like
// -Wname / -Fno-name that toggle registry entries, and grouped help output
// sized to the terminal.
package cli

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/term"
)

type Value interface {
	String() string
	Set(string) error
}

type stringValue struct{ p *string }

func (v *stringValue) Set(s string) error { *v.p = s; return nil }
func (v *stringValue) String() string     { return *v.p }

type boolValue struct{ p *bool }

func (v *boolValue) Set(s string) error {
	if s == "" {
		*v.p = true
		return nil
	}
	val, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid boolean value %q: %w", s, err)
	}
	*v.p = val
	return nil
}
func (v *boolValue) String() string { return strconv.FormatBool(*v.p) }

type listValue struct{ p *[]string }

func (v *listValue) Set(s string) error { *v.p = append(*v.p, s); return nil }
func (v *listValue) String() string     { return strings.Join(*v.p, ", ") }

type Flag struct {
	Name      string
	Shorthand string
	Usage     string
	Value     Value
	DefValue  string
	ArgName   string // rendered as <ArgName> for flags taking a value
}

func (f *Flag) isBool() bool {
	_, ok := f.Value.(*boolValue)
	return ok
}

// Group documents a family of prefix toggles (-Wname, -Fno-name) backed by a
// registry. Entries are rendered in the help page with their default state.
type Group struct {
	Name    string // "Warnings", "Features"
	Prefix  string // "W", "F"
	Kind    string // "warning", "feature"
	Entries []GroupEntry
}

type GroupEntry struct {
	Name    string
	Usage   string
	Enabled bool
}

type FlagSet struct {
	name     string
	flags    map[string]*Flag
	shorts   map[string]*Flag
	prefixes map[string]*Flag // prefix flags collect "-Xrest" as values
	groups   []Group
	args     []string
}

func NewFlagSet(name string) *FlagSet {
	return &FlagSet{
		name:     name,
		flags:    make(map[string]*Flag),
		shorts:   make(map[string]*Flag),
		prefixes: make(map[string]*Flag),
	}
}

func (f *FlagSet) Args() []string        { return f.args }
func (f *FlagSet) Lookup(n string) *Flag { return f.flags[n] }

func (f *FlagSet) Var(value Value, name, shorthand, usage, def, argName string) {
	if name == "" {
		panic("flag name cannot be empty")
	}
	if _, dup := f.flags[name]; dup {
		panic("flag redefined: " + name)
	}
	fl := &Flag{Name: name, Shorthand: shorthand, Usage: usage, Value: value, DefValue: def, ArgName: argName}
	f.flags[name] = fl
	if shorthand != "" {
		if _, dup := f.shorts[shorthand]; dup {
			panic("shorthand redefined: " + shorthand)
		}
		f.shorts[shorthand] = fl
	}
}

func (f *FlagSet) String(p *string, name, shorthand, value, usage, argName string) {
	*p = value
	f.Var(&stringValue{p}, name, shorthand, usage, value, argName)
}

func (f *FlagSet) Bool(p *bool, name, shorthand string, value bool, usage string) {
	*p = value
	f.Var(&boolValue{p}, name, shorthand, usage, strconv.FormatBool(value), "")
}

func (f *FlagSet) List(p *[]string, name, shorthand, usage, argName string) {
	*p = nil
	f.Var(&listValue{p}, name, shorthand, usage, "", argName)
}

// Prefix registers a collector for -<prefix><rest> flags; each occurrence
// appends rest to p.
func (f *FlagSet) Prefix(p *[]string, prefix, usage string) {
	*p = nil
	fl := &Flag{Name: prefix, Usage: usage, Value: &listValue{p}}
	f.flags[prefix] = fl
	f.prefixes[prefix] = fl
}

// AddGroup registers help documentation for a prefix flag family.
func (f *FlagSet) AddGroup(g Group) { f.groups = append(f.groups, g) }

func (f *FlagSet) Parse(arguments []string) error {
	f.args = nil
	for i := 0; i < len(arguments); i++ {
		arg := arguments[i]
		switch {
		case arg == "--":
			f.args = append(f.args, arguments[i+1:]...)
			return nil
		case len(arg) < 2 || arg[0] != '-':
			f.args = append(f.args, arg)
		case strings.HasPrefix(arg, "--"):
			if err := f.parseLong(arg[2:], arguments, &i); err != nil {
				return err
			}
		default:
			if err := f.parseShort(arg, arguments, &i); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *FlagSet) parseLong(body string, arguments []string, i *int) error {
	name, value, hasValue := strings.Cut(body, "=")
	fl, ok := f.flags[name]
	if !ok {
		return fmt.Errorf("unknown flag: --%s", name)
	}
	if hasValue {
		return fl.Value.Set(value)
	}
	if fl.isBool() {
		return fl.Value.Set("")
	}
	if *i+1 >= len(arguments) {
		return fmt.Errorf("flag needs an argument: --%s", name)
	}
	*i++
	return fl.Value.Set(arguments[*i])
}

func (f *FlagSet) parseShort(arg string, arguments []string, i *int) error {
	body := arg[1:]
	// Whole-name short flags (-digest) and prefix families (-Wall).
	if name, value, hasValue := strings.Cut(body, "="); true {
		if fl, ok := f.flags[name]; ok {
			switch {
			case hasValue:
				return fl.Value.Set(value)
			case fl.isBool():
				return fl.Value.Set("")
			case *i+1 < len(arguments):
				*i++
				return fl.Value.Set(arguments[*i])
			default:
				return fmt.Errorf("flag needs an argument: -%s", name)
			}
		}
	}
	for prefix, fl := range f.prefixes {
		if strings.HasPrefix(body, prefix) && len(body) > len(prefix) {
			return fl.Value.Set(body[len(prefix):])
		}
	}
	short := body[:1]
	fl, ok := f.shorts[short]
	if !ok {
		return fmt.Errorf("unknown flag: -%s", short)
	}
	if fl.isBool() {
		return fl.Value.Set("")
	}
	if rest := body[1:]; rest != "" {
		return fl.Value.Set(rest)
	}
	if *i+1 >= len(arguments) {
		return fmt.Errorf("flag needs an argument: -%s", short)
	}
	*i++
	return fl.Value.Set(arguments[*i])
}

// App ties a FlagSet to an action and renders usage and help pages.
type App struct {
	Name        string
	Synopsis    string
	Description string
	Repository  string
	FlagSet     *FlagSet
	Action      func(args []string) error
}

func NewApp(name string) *App {
	return &App{Name: name, FlagSet: NewFlagSet(name)}
}

func (a *App) Run(arguments []string) error {
	help := false
	a.FlagSet.Bool(&help, "help", "h", false, "Display this information")

	if err := a.FlagSet.Parse(arguments); err != nil {
		fmt.Fprintln(os.Stderr, err)
		a.writeUsage(os.Stderr)
		return err
	}
	if help {
		a.writeHelp(os.Stdout)
		return nil
	}
	if a.Action != nil {
		return a.Action(a.FlagSet.Args())
	}
	return nil
}

func (a *App) sortedFlags() []*Flag {
	var out []*Flag
	for name, fl := range a.FlagSet.flags {
		if _, isPrefix := a.FlagSet.prefixes[name]; isPrefix {
			continue
		}
		out = append(out, fl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func renderFlag(fl *Flag) string {
	var b strings.Builder
	if fl.Shorthand != "" {
		fmt.Fprintf(&b, "-%s, ", fl.Shorthand)
	}
	fmt.Fprintf(&b, "--%s", fl.Name)
	if !fl.isBool() && fl.ArgName != "" {
		fmt.Fprintf(&b, " <%s>", fl.ArgName)
	}
	return b.String()
}

func (a *App) writeUsage(w *os.File) {
	fmt.Fprintf(w, "Usage: %s %s\n", a.Name, a.Synopsis)
	fmt.Fprintf(w, "Run '%s --help' for all available options and flags.\n", a.Name)
}

func (a *App) writeHelp(w *os.File) {
	width := terminalWidth()
	flags := a.sortedFlags()

	left := make([]string, len(flags))
	leftWidth := 0
	for i, fl := range flags {
		left[i] = renderFlag(fl)
		if len(left[i]) > leftWidth {
			leftWidth = len(left[i])
		}
	}
	for _, g := range a.FlagSet.groups {
		for _, e := range g.Entries {
			if len(e.Name) > leftWidth {
				leftWidth = len(e.Name)
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Usage: %s %s\n", a.Name, a.Synopsis)
	if a.Description != "" {
		fmt.Fprintf(&b, "\n    %s\n", a.Description)
	}
	if a.Repository != "" {
		fmt.Fprintf(&b, "    For more details refer to %s\n", a.Repository)
	}

	b.WriteString("\n    Options\n")
	for i, fl := range flags {
		writeEntry(&b, left[i], fl.Usage, leftWidth, width)
	}

	for _, g := range a.FlagSet.groups {
		fmt.Fprintf(&b, "\n    %s\n", g.Name)
		fmt.Fprintf(&b, "        %-*s  Enable a specific %s\n", leftWidth, "-"+g.Prefix+"<"+g.Kind+">", g.Kind)
		fmt.Fprintf(&b, "        %-*s  Disable a specific %s\n", leftWidth, "-"+g.Prefix+"no-<"+g.Kind+">", g.Kind)
		entries := make([]GroupEntry, len(g.Entries))
		copy(entries, g.Entries)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		for _, e := range entries {
			state := "|-|"
			if e.Enabled {
				state = "|x|"
			}
			writeEntry(&b, e.Name, e.Usage+" "+state, leftWidth, width)
		}
	}
	fmt.Fprint(w, b.String())
}

func writeEntry(b *strings.Builder, left, usage string, leftWidth, termWidth int) {
	avail := termWidth - leftWidth - 10
	if avail < 20 {
		avail = 20
	}
	lines := wrap(usage, avail)
	if len(lines) == 0 {
		lines = []string{""}
	}
	fmt.Fprintf(b, "        %-*s  %s\n", leftWidth, left, lines[0])
	for _, line := range lines[1:] {
		fmt.Fprintf(b, "        %-*s  %s\n", leftWidth, "", line)
	}
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < 40 {
		return 80
	}
	return width
}

func wrap(text string, maxWidth int) []string {
	words := strings.Fields(text)
	var lines []string
	var line strings.Builder
	for _, word := range words {
		if line.Len() > 0 && line.Len()+1+len(word) > maxWidth {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return lines
}
