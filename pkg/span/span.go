// Package span carries source positions through the pipeline. The parser
// assigns a Span to every node it produces; passes copy spans onto the nodes
// they rebuild so diagnostics always point at original source.
package span

import "fmt"

// Span is a half-open region of one source file. FileIndex refers into the
// SourceSet the driver registered for the compilation.
type Span struct {
	FileIndex int
	Line      int
	Column    int
	Len       int
}

func (s Span) IsValid() bool { return s.Line > 0 }

func (s Span) String() string {
	return fmt.Sprintf("%d:%d", s.Line, s.Column)
}

// SourceFileRecord tracks the name and content of a single source file so
// diagnostics can print the offending line.
type SourceFileRecord struct {
	Name    string
	Content []rune
}

// SourceSet is the per-compilation registry of source files. It belongs to
// one compilation; a parallel driver gives each program its own set.
type SourceSet struct {
	files []SourceFileRecord
}

func NewSourceSet() *SourceSet { return &SourceSet{} }

// Add registers a file and returns its index for use in Spans.
func (ss *SourceSet) Add(name string, content []rune) int {
	ss.files = append(ss.files, SourceFileRecord{Name: name, Content: content})
	return len(ss.files) - 1
}

func (ss *SourceSet) File(index int) (SourceFileRecord, bool) {
	if ss == nil || index < 0 || index >= len(ss.files) {
		return SourceFileRecord{}, false
	}
	return ss.files[index], true
}

// Locate converts a span to a printable file/line/column triple.
func (ss *SourceSet) Locate(s Span) (filename string, line, col int) {
	rec, ok := ss.File(s.FileIndex)
	if !ok {
		return "unknown", s.Line, s.Column
	}
	return rec.Name, s.Line, s.Column
}

// LineText returns the full text of the line a span starts on.
func (ss *SourceSet) LineText(s Span) (string, bool) {
	rec, ok := ss.File(s.FileIndex)
	if !ok || s.Line == 0 {
		return "", false
	}
	content := rec.Content
	lineNum := s.Line
	lineStart := 0
	for i, r := range content {
		if lineNum <= 1 {
			break
		}
		if r == '\n' {
			lineNum--
			lineStart = i + 1
		}
	}
	lineEnd := len(content)
	for i := lineStart; i < len(content); i++ {
		if content[i] == '\n' {
			lineEnd = i
			break
		}
	}
	return string(content[lineStart:lineEnd]), true
}
