package lower

import (
	"sort"

	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/diag"
)

// SSAConverter rewrites every function so each name is bound exactly once.
// Reassignments become fresh let bindings; assignments through an array,
// member or tuple path rebuild the whole composite with one leaf replaced;
// variables reassigned under a conditional are reconciled after it with a
// select expression over the condition.
//
// Branch-local definitions stay inside their branch blocks here. The
// flattener splices them out; until then the tree's lexical scoping is
// intentionally loose, which is why this pass runs after type checking.
type SSAConverter struct {
	a     *ast.Assigner
	types *ast.TypeTable
	bag   *diag.Bag

	current map[string]string    // source name -> current SSA name
	defType map[string]*ast.Type // SSA name -> type
}

func NewSSAConverter(a *ast.Assigner, types *ast.TypeTable, bag *diag.Bag) *SSAConverter {
	return &SSAConverter{a: a, types: types, bag: bag}
}

func (s *SSAConverter) Run(prog *ast.Program) *ast.Program {
	out := &ast.Program{}
	for _, scope := range prog.Scopes {
		newScope := &ast.Scope{
			Name:     scope.Name,
			Structs:  scope.Structs,
			Mappings: scope.Mappings,
			Consts:   scope.Consts,
		}
		for _, fn := range scope.Functions {
			newScope.Functions = append(newScope.Functions, s.convertFunc(fn))
		}
		out.Scopes = append(out.Scopes, newScope)
	}
	return out
}

func (s *SSAConverter) convertFunc(n *ast.Node) *ast.Node {
	d := n.Data.(ast.FuncDeclNode)
	s.current = make(map[string]string)
	s.defType = make(map[string]*ast.Type)
	for _, p := range d.Params {
		s.current[p.Name] = p.Name
		s.defType[p.Name] = p.Type
	}
	// Module constants keep their own names; fold already replaced most uses.
	body := s.convertBlock(d.Body)
	rebuilt := s.a.NewFuncDecl(n.Span, d.Name, d.FuncKind, d.Params, d.ReturnType, d.ReturnMode, body)
	s.types.Transfer(n, rebuilt)
	return rebuilt
}

func (s *SSAConverter) convertBlock(block *ast.Node) *ast.Node {
	d := block.Data.(ast.BlockNode)
	var stmts []*ast.Node
	for _, stmt := range d.Stmts {
		stmts = append(stmts, s.convertStmt(stmt)...)
	}
	rebuilt := s.a.NewBlock(block.Span, stmts)
	s.types.Transfer(block, rebuilt)
	return rebuilt
}

func (s *SSAConverter) convertStmt(n *ast.Node) []*ast.Node {
	switch d := n.Data.(type) {
	case ast.BlockNode:
		// Nested blocks dissolve; unrolled loop bodies arrive as blocks.
		var out []*ast.Node
		for _, stmt := range d.Stmts {
			out = append(out, s.convertStmt(stmt)...)
		}
		return out
	case ast.VarDeclNode:
		return []*ast.Node{s.define(n, d.Name, s.rewrite(d.Value), d.Type)}
	case ast.ConstDeclNode:
		return []*ast.Node{s.define(n, d.Name, s.rewrite(d.Value), d.Type)}
	case ast.AssignNode:
		return s.convertAssign(n, d)
	case ast.ConditionalNode:
		return s.convertConditional(n, d)
	case ast.ReturnNode:
		rebuilt := s.a.NewReturn(n.Span, s.rewrite(d.Expr))
		s.types.Transfer(n, rebuilt)
		return []*ast.Node{rebuilt}
	case ast.ExprStmtNode:
		rebuilt := s.a.NewExprStmt(n.Span, s.rewrite(d.Expr))
		s.types.Transfer(n, rebuilt)
		return []*ast.Node{rebuilt}
	case ast.ConsoleNode:
		rebuilt := s.a.NewGuardedConsole(n.Span, d.ConsoleKind, s.rewriteAll(d.Args), s.rewrite(d.Guard))
		s.types.Transfer(n, rebuilt)
		return []*ast.Node{rebuilt}
	case ast.MappingUpdateNode:
		rebuilt := s.a.NewGuardedMappingUpdate(n.Span, d.Mapping, s.rewrite(d.Key), s.rewrite(d.Value), s.rewrite(d.Guard))
		s.types.Transfer(n, rebuilt)
		return []*ast.Node{rebuilt}
	case ast.FinalizeCallNode:
		rebuilt := s.a.NewGuardedFinalizeCall(n.Span, s.rewriteAll(d.Args), s.rewrite(d.Guard))
		s.types.Transfer(n, rebuilt)
		return []*ast.Node{rebuilt}
	case ast.IterationNode:
		// Loops are gone after unrolling; reaching one means a prior pass
		// already reported an error.
		return []*ast.Node{n}
	}
	return []*ast.Node{n}
}

// define emits a single-assignment binding under a fresh name and records it
// as the source name's current value.
func (s *SSAConverter) define(at *ast.Node, source string, value *ast.Node, declared *ast.Type) *ast.Node {
	fresh := s.a.Fresh(source)
	typ := declared
	if typ == nil {
		typ = s.types.TypeOf(value)
	}
	s.current[source] = fresh
	s.defType[fresh] = typ
	decl := s.a.NewVarDecl(at.Span, fresh, false, typ, value)
	s.types.Set(decl, typ)
	return decl
}

func (s *SSAConverter) convertAssign(n *ast.Node, d ast.AssignNode) []*ast.Node {
	value := s.rewrite(d.Value)
	if bin, ok := d.Op.BinaryFor(); ok {
		target := s.rewrite(d.Target)
		value = s.a.NewBinary(n.Span, bin, target, value)
		s.types.Transfer(d.Target, value)
	}
	source, full := s.explodeAssign(d.Target, value)
	if source == "" {
		return nil
	}
	return []*ast.Node{s.define(n, source, full, s.defTypeOf(source))}
}

func (s *SSAConverter) defTypeOf(source string) *ast.Type {
	if ssaName, ok := s.current[source]; ok {
		return s.defType[ssaName]
	}
	return nil
}

// explodeAssign turns an assignment through an access path into a whole-value
// rebuild of the path's root: the enclosing composite is reconstructed with
// one leaf replaced, outward until the root identifier.
func (s *SSAConverter) explodeAssign(target, value *ast.Node) (string, *ast.Node) {
	switch d := target.Data.(type) {
	case ast.IdentNode:
		return d.Name, value
	case ast.ArrayAccessNode:
		base := s.rewrite(d.Array)
		baseType := s.types.TypeOf(d.Array)
		idx, ok := constIndex(d.Index)
		if !ok || baseType.Kind != ast.TYPE_ARRAY {
			s.bag.Add(diag.ConstantRequired, target.Span, "assignment through a non-constant array index")
			return "", nil
		}
		elems := make([]*ast.Node, baseType.Size)
		for j := 0; j < baseType.Size; j++ {
			if j == idx {
				elems[j] = value
				continue
			}
			c := newCloner(s.a, s.types)
			access := s.a.NewArrayAccess(target.Span, c.expr(base), s.intIndex(target, j))
			s.types.Set(access, baseType.Base)
			elems[j] = access
		}
		rebuilt := s.a.NewArrayInit(target.Span, elems)
		s.types.Set(rebuilt, baseType)
		return s.explodeAssign(d.Array, rebuilt)
	case ast.MemberAccessNode:
		base := s.rewrite(d.Expr)
		baseType := s.types.TypeOf(d.Expr)
		if baseType.Kind != ast.TYPE_STRUCT {
			return "", nil
		}
		fields := make([]ast.FieldInit, len(baseType.Fields))
		for j, f := range baseType.Fields {
			if f.Name == d.Member {
				fields[j] = ast.FieldInit{Name: f.Name, Value: value}
				continue
			}
			c := newCloner(s.a, s.types)
			access := s.a.NewMemberAccess(target.Span, c.expr(base), f.Name)
			s.types.Set(access, f.Type)
			fields[j] = ast.FieldInit{Name: f.Name, Value: access}
		}
		rebuilt := s.a.NewStructInit(target.Span, baseType.Name, fields)
		s.types.Set(rebuilt, baseType)
		return s.explodeAssign(d.Expr, rebuilt)
	case ast.TupleAccessNode:
		base := s.rewrite(d.Expr)
		baseType := s.types.TypeOf(d.Expr)
		if baseType.Kind != ast.TYPE_TUPLE {
			return "", nil
		}
		elems := make([]*ast.Node, len(baseType.Elems))
		for j := range baseType.Elems {
			if j == d.Index {
				elems[j] = value
				continue
			}
			c := newCloner(s.a, s.types)
			access := s.a.NewTupleAccess(target.Span, c.expr(base), j)
			s.types.Set(access, baseType.Elems[j])
			elems[j] = access
		}
		rebuilt := s.a.NewTupleInit(target.Span, elems)
		s.types.Set(rebuilt, baseType)
		return s.explodeAssign(d.Expr, rebuilt)
	}
	return "", nil
}

func (s *SSAConverter) intIndex(at *ast.Node, v int) *ast.Node {
	lit := s.a.NewIntLiteral(at.Span, bigInt(v), ast.TypeU32)
	s.types.Set(lit, ast.TypeU32)
	return lit
}

// convertConditional converts both branches against copies of the rename
// state, then reconciles every source name whose binding diverged with a
// select over the condition. The condition itself is bound once so branch
// guards and selects share it.
func (s *SSAConverter) convertConditional(n *ast.Node, d ast.ConditionalNode) []*ast.Node {
	cond := s.rewrite(d.Cond)
	condName := s.a.Fresh("cond")
	condDecl := s.a.NewVarDecl(d.Cond.Span, condName, false, ast.TypeBool, cond)
	s.types.Set(condDecl, ast.TypeBool)
	s.defType[condName] = ast.TypeBool
	out := []*ast.Node{condDecl}

	before := cloneNames(s.current)

	s.current = cloneNames(before)
	thenBlock := s.convertBlock(d.Then)
	thenNames := s.current

	elseNames := before
	var elseBlock *ast.Node
	if d.Else != nil {
		s.current = cloneNames(before)
		if d.Else.Kind == ast.Conditional {
			stmts := s.convertStmt(d.Else)
			elseBlock = s.a.NewBlock(d.Else.Span, stmts)
		} else {
			elseBlock = s.convertBlock(d.Else)
		}
		elseNames = s.current
	}
	s.current = cloneNames(before)

	condIdent := func() *ast.Node {
		id := s.a.NewIdent(d.Cond.Span, condName)
		s.types.Set(id, ast.TypeBool)
		return id
	}
	rebuilt := s.a.NewConditional(n.Span, condIdent(), thenBlock, elseBlock)
	s.types.Transfer(n, rebuilt)
	out = append(out, rebuilt)

	// Join diverged bindings, in deterministic name order.
	var joined []string
	for name, beforeName := range before {
		if thenNames[name] != beforeName || elseNames[name] != beforeName {
			joined = append(joined, name)
		}
	}
	sort.Strings(joined)
	for _, name := range joined {
		thenIdent := s.a.NewIdent(n.Span, thenNames[name])
		elseIdent := s.a.NewIdent(n.Span, elseNames[name])
		typ := s.defType[thenNames[name]]
		if typ == nil {
			typ = s.defType[elseNames[name]]
		}
		s.types.Set(thenIdent, typ)
		s.types.Set(elseIdent, typ)
		sel := s.a.NewTernary(n.Span, condIdent(), thenIdent, elseIdent)
		s.types.Set(sel, typ)
		out = append(out, s.define(n, name, sel, typ))
	}
	return out
}

func cloneNames(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *SSAConverter) rewriteAll(list []*ast.Node) []*ast.Node {
	if list == nil {
		return nil
	}
	out := make([]*ast.Node, len(list))
	for i, e := range list {
		out[i] = s.rewrite(e)
	}
	return out
}

// rewrite rebuilds an expression with every identifier pointing at its
// current SSA name.
func (s *SSAConverter) rewrite(n *ast.Node) *ast.Node {
	if n == nil {
		return nil
	}
	c := newCloner(s.a, s.types)
	for source, ssaName := range s.current {
		c.rename[source] = ssaName
	}
	return c.expr(n)
}
