// Package symtab builds the symbol table: one top-down walk over the tree
// that registers functions, structs, mappings and constants per lexical
// scope, rejecting duplicate names within one scope.
package symtab

import (
	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/diag"
	"github.com/lumen-lang/lumc/pkg/span"
)

// DeclKind records how a variable symbol was introduced.
type DeclKind int

const (
	DeclLet DeclKind = iota
	DeclConst
	DeclParam
	DeclLoopVar
)

type VariableSymbol struct {
	Name    string
	Type    *ast.Type
	Mutable bool
	Kind    DeclKind
	Mode    ast.Mode
	Span    span.Span
}

type FunctionSymbol struct {
	Name       string
	FuncKind   ast.FuncKind
	Params     []ast.Param
	ReturnType *ast.Type
	ReturnMode ast.Mode
	Decl       *ast.Node
	Span       span.Span
}

type StructSymbol struct {
	Name     string
	IsRecord bool
	Fields   []ast.StructField
	Span     span.Span
}

type MappingSymbol struct {
	Name  string
	Key   *ast.Type
	Value *ast.Type
	Span  span.Span
}

// Scope is one node of the scope tree. It holds a non-owning back-reference
// to its parent; lookups walk outward.
type Scope struct {
	parent   *Scope
	vars     map[string]*VariableSymbol
	funcs    map[string]*FunctionSymbol
	structs  map[string]*StructSymbol
	mappings map[string]*MappingSymbol
}

func NewScope(parent *Scope) *Scope {
	return &Scope{
		parent:   parent,
		vars:     make(map[string]*VariableSymbol),
		funcs:    make(map[string]*FunctionSymbol),
		structs:  make(map[string]*StructSymbol),
		mappings: make(map[string]*MappingSymbol),
	}
}

func (s *Scope) Parent() *Scope { return s.parent }

// NewChild opens a nested scope; one child per block.
func (s *Scope) NewChild() *Scope { return NewScope(s) }

// DeclareVariable registers a variable in this scope. Shadowing an outer
// scope's binding is allowed; a duplicate in the same scope is not.
func (s *Scope) DeclareVariable(sym *VariableSymbol) bool {
	if _, exists := s.vars[sym.Name]; exists {
		return false
	}
	s.vars[sym.Name] = sym
	return true
}

func (s *Scope) DeclareFunction(sym *FunctionSymbol) bool {
	if _, exists := s.funcs[sym.Name]; exists {
		return false
	}
	s.funcs[sym.Name] = sym
	return true
}

func (s *Scope) DeclareStruct(sym *StructSymbol) bool {
	if _, exists := s.structs[sym.Name]; exists {
		return false
	}
	s.structs[sym.Name] = sym
	return true
}

func (s *Scope) DeclareMapping(sym *MappingSymbol) bool {
	if _, exists := s.mappings[sym.Name]; exists {
		return false
	}
	s.mappings[sym.Name] = sym
	return true
}

// LookupVariable resolves a name through this scope and its ancestors,
// nearest binding first.
func (s *Scope) LookupVariable(name string) *VariableSymbol {
	for sc := s; sc != nil; sc = sc.parent {
		if sym, ok := sc.vars[name]; ok {
			return sym
		}
	}
	return nil
}

// LookupVariableLocal resolves a name in this scope only.
func (s *Scope) LookupVariableLocal(name string) *VariableSymbol {
	return s.vars[name]
}

func (s *Scope) LookupFunction(name string) *FunctionSymbol {
	for sc := s; sc != nil; sc = sc.parent {
		if sym, ok := sc.funcs[name]; ok {
			return sym
		}
	}
	return nil
}

func (s *Scope) LookupStruct(name string) *StructSymbol {
	for sc := s; sc != nil; sc = sc.parent {
		if sym, ok := sc.structs[name]; ok {
			return sym
		}
	}
	return nil
}

func (s *Scope) LookupMapping(name string) *MappingSymbol {
	for sc := s; sc != nil; sc = sc.parent {
		if sym, ok := sc.mappings[name]; ok {
			return sym
		}
	}
	return nil
}

// ResolveType replaces named struct references (which the parser emits with
// no field information) by the declared struct type, recursively through
// tuples, arrays and mappings. Unknown names resolve to nil.
func (s *Scope) ResolveType(t *ast.Type) *ast.Type {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case ast.TYPE_STRUCT:
		if len(t.Fields) > 0 {
			return t
		}
		sym := s.LookupStruct(t.Name)
		if sym == nil {
			return nil
		}
		return ast.NewStructType(sym.Name, sym.Fields)
	case ast.TYPE_TUPLE:
		elems := make([]*ast.Type, len(t.Elems))
		for i, e := range t.Elems {
			if elems[i] = s.ResolveType(e); elems[i] == nil {
				return nil
			}
		}
		return ast.NewTupleType(elems)
	case ast.TYPE_ARRAY:
		base := s.ResolveType(t.Base)
		if base == nil {
			return nil
		}
		return ast.NewArrayType(base, t.Size)
	case ast.TYPE_MAPPING:
		key, value := s.ResolveType(t.Key), s.ResolveType(t.Value)
		if key == nil || value == nil {
			return nil
		}
		return ast.NewMappingType(key, value)
	}
	return t
}

// Table is the whole program's symbol information: one module scope per
// program scope, in program order.
type Table struct {
	order  []string
	scopes map[string]*Scope
}

func (t *Table) ModuleScope(name string) *Scope { return t.scopes[name] }
func (t *Table) ScopeNames() []string           { return t.order }

// Build runs the symbol table builder over a parsed program. It reports
// NameResolution diagnostics for duplicates and always returns a table for
// whatever it could register, so the type checker can keep accumulating.
func Build(prog *ast.Program, bag *diag.Bag) *Table {
	t := &Table{scopes: make(map[string]*Scope)}
	for _, scope := range prog.Scopes {
		if _, exists := t.scopes[scope.Name]; exists {
			bag.Add(diag.NameResolution, span.Span{}, "duplicate program scope '%s'", scope.Name)
			continue
		}
		module := NewScope(nil)
		t.order = append(t.order, scope.Name)
		t.scopes[scope.Name] = module
		buildScope(scope, module, bag)
	}
	return t
}

func buildScope(scope *ast.Scope, module *Scope, bag *diag.Bag) {
	for _, n := range scope.Structs {
		d := n.Data.(ast.StructDeclNode)
		seen := make(map[string]bool, len(d.Fields))
		for _, f := range d.Fields {
			if seen[f.Name] {
				bag.Add(diag.NameResolution, n.Span, "duplicate member '%s' in struct '%s'", f.Name, d.Name)
			}
			seen[f.Name] = true
		}
		if !module.DeclareStruct(&StructSymbol{Name: d.Name, IsRecord: d.IsRecord, Fields: d.Fields, Span: n.Span}) {
			bag.Add(diag.NameResolution, n.Span, "redefinition of struct '%s'", d.Name)
		}
	}
	for _, n := range scope.Mappings {
		d := n.Data.(ast.MappingDeclNode)
		if !module.DeclareMapping(&MappingSymbol{Name: d.Name, Key: d.Key, Value: d.Value, Span: n.Span}) {
			bag.Add(diag.NameResolution, n.Span, "redefinition of mapping '%s'", d.Name)
		}
	}
	for _, n := range scope.Consts {
		d := n.Data.(ast.ConstDeclNode)
		sym := &VariableSymbol{Name: d.Name, Type: d.Type, Kind: DeclConst, Mode: ast.ModeConstant, Span: n.Span}
		if !module.DeclareVariable(sym) {
			bag.Add(diag.NameResolution, n.Span, "redefinition of constant '%s'", d.Name)
		}
	}
	for _, n := range scope.Functions {
		d := n.Data.(ast.FuncDeclNode)
		sym := &FunctionSymbol{
			Name: d.Name, FuncKind: d.FuncKind, Params: d.Params,
			ReturnType: d.ReturnType, ReturnMode: d.ReturnMode, Decl: n, Span: n.Span,
		}
		if !module.DeclareFunction(sym) {
			bag.Add(diag.NameResolution, n.Span, "redefinition of function '%s'", d.Name)
			continue
		}
		seen := make(map[string]bool, len(d.Params))
		for _, p := range d.Params {
			if seen[p.Name] {
				bag.Add(diag.NameResolution, p.Span, "duplicate parameter '%s' in function '%s'", p.Name, d.Name)
			}
			seen[p.Name] = true
		}
	}
}
