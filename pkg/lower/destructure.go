package lower

import (
	"github.com/lumen-lang/lumc/pkg/ast"
	"github.com/lumen-lang/lumc/pkg/diag"
)

// Destructurer explodes composite bindings (tuples, structs, arrays) into
// one scalar binding per leaf, and resolves every access through them.
// Composites that come from opaque sources, a mapping read or a hash call
// returning a struct value, stay whole: the backend addresses their members
// on the register directly. Selects over composites are pushed down to the
// leaves.
type Destructurer struct {
	a     *ast.Assigner
	types *ast.TypeTable
	bag   *diag.Bag

	shapes map[string]*shape
	out    []*ast.Node
}

// shape describes what a name is known to hold: either a reference
// expression (scalar leaf or opaque composite register), or an exploded
// composite with one shape per element, in declaration order.
type shape struct {
	typ      *ast.Type
	ref      *ast.Node // nil when exploded
	children []*shape
}

func (s *shape) exploded() bool { return s.children != nil }

func NewDestructurer(a *ast.Assigner, types *ast.TypeTable, bag *diag.Bag) *Destructurer {
	return &Destructurer{a: a, types: types, bag: bag}
}

func (d *Destructurer) Run(prog *ast.Program) *ast.Program {
	out := &ast.Program{}
	for _, scope := range prog.Scopes {
		newScope := &ast.Scope{
			Name:     scope.Name,
			Structs:  scope.Structs,
			Mappings: scope.Mappings,
			Consts:   scope.Consts,
		}
		for _, fn := range scope.Functions {
			newScope.Functions = append(newScope.Functions, d.destructureFunc(fn))
		}
		out.Scopes = append(out.Scopes, newScope)
	}
	return out
}

func (d *Destructurer) destructureFunc(n *ast.Node) *ast.Node {
	fd := n.Data.(ast.FuncDeclNode)
	d.shapes = make(map[string]*shape)
	d.out = nil
	for _, p := range fd.Params {
		ident := d.a.NewIdent(p.Span, p.Name)
		d.types.Set(ident, p.Type)
		d.shapes[p.Name] = &shape{typ: p.Type, ref: ident}
	}

	body := fd.Body.Data.(ast.BlockNode)
	for _, stmt := range body.Stmts {
		d.destructureStmt(stmt)
	}
	newBody := d.a.NewBlock(fd.Body.Span, d.out)
	d.types.Transfer(fd.Body, newBody)
	rebuilt := d.a.NewFuncDecl(n.Span, fd.Name, fd.FuncKind, fd.Params, fd.ReturnType, fd.ReturnMode, newBody)
	d.types.Transfer(n, rebuilt)
	return rebuilt
}

func (d *Destructurer) emit(n *ast.Node) { d.out = append(d.out, n) }

func (d *Destructurer) destructureStmt(n *ast.Node) {
	switch sd := n.Data.(type) {
	case ast.VarDeclNode:
		d.destructureDecl(n, sd.Name, sd.Type, sd.Value)
	case ast.ConstDeclNode:
		d.destructureDecl(n, sd.Name, sd.Type, sd.Value)
	case ast.ReturnNode:
		rebuilt := d.a.NewReturn(n.Span, d.rewrite(sd.Expr))
		d.types.Transfer(n, rebuilt)
		d.emit(rebuilt)
	case ast.ExprStmtNode:
		rebuilt := d.a.NewExprStmt(n.Span, d.rewrite(sd.Expr))
		d.types.Transfer(n, rebuilt)
		d.emit(rebuilt)
	case ast.ConsoleNode:
		rebuilt := d.a.NewGuardedConsole(n.Span, sd.ConsoleKind, d.rewriteAll(sd.Args), d.rewrite(sd.Guard))
		d.types.Transfer(n, rebuilt)
		d.emit(rebuilt)
	case ast.MappingUpdateNode:
		rebuilt := d.a.NewGuardedMappingUpdate(n.Span, sd.Mapping, d.rewrite(sd.Key), d.rewrite(sd.Value), d.rewrite(sd.Guard))
		d.types.Transfer(n, rebuilt)
		d.emit(rebuilt)
	case ast.FinalizeCallNode:
		rebuilt := d.a.NewGuardedFinalizeCall(n.Span, d.rewriteAll(sd.Args), d.rewrite(sd.Guard))
		d.types.Transfer(n, rebuilt)
		d.emit(rebuilt)
	default:
		d.emit(n)
	}
}

func (d *Destructurer) destructureDecl(n *ast.Node, name string, typ *ast.Type, value *ast.Node) {
	if typ == nil {
		typ = d.types.TypeOf(value)
	}
	if !typ.IsComposite() {
		rebuilt := d.a.NewVarDecl(n.Span, name, false, typ, d.rewrite(value))
		d.types.Transfer(n, rebuilt)
		d.emit(rebuilt)
		ident := d.a.NewIdent(n.Span, name)
		d.types.Set(ident, typ)
		d.shapes[name] = &shape{typ: typ, ref: ident}
		return
	}
	d.shapes[name] = d.explode(n, name, typ, value)
}

// explode computes the shape of a composite value, emitting leaf bindings as
// needed. Aliases share the source's shape without emitting anything.
func (d *Destructurer) explode(at *ast.Node, base string, typ *ast.Type, value *ast.Node) *shape {
	if s := d.shapeOf(value); s != nil {
		return s
	}
	switch vd := value.Data.(type) {
	case ast.TupleInitNode:
		children := make([]*shape, len(vd.Elems))
		for i, e := range vd.Elems {
			children[i] = d.explodeChild(at, base, typ.Elems[i], e)
		}
		return &shape{typ: typ, children: children}
	case ast.StructInitNode:
		children := make([]*shape, len(typ.Fields))
		for i, f := range typ.Fields {
			var fieldValue *ast.Node
			for _, init := range vd.Fields {
				if init.Name == f.Name {
					fieldValue = init.Value
					break
				}
			}
			children[i] = d.explodeChild(at, base+"."+f.Name, f.Type, fieldValue)
		}
		return &shape{typ: typ, children: children}
	case ast.ArrayInitNode:
		if vd.Repeat != nil {
			children := make([]*shape, typ.Size)
			for i := range children {
				c := newCloner(d.a, d.types)
				children[i] = d.explodeChild(at, base, typ.Base, c.expr(vd.Repeat))
			}
			return &shape{typ: typ, children: children}
		}
		children := make([]*shape, len(vd.Elems))
		for i, e := range vd.Elems {
			children[i] = d.explodeChild(at, base, typ.Base, e)
		}
		return &shape{typ: typ, children: children}
	case ast.TernaryNode:
		return d.explodeSelect(at, base, typ, vd)
	}
	// Opaque composite: a mapping read, a hash over a struct, an external
	// call. Bind it whole; accesses stay on the register.
	rebuilt := d.a.NewVarDecl(at.Span, base, false, typ, d.rewrite(value))
	d.types.Set(rebuilt, typ)
	d.emit(rebuilt)
	ident := d.a.NewIdent(at.Span, base)
	d.types.Set(ident, typ)
	return &shape{typ: typ, ref: ident}
}

func (d *Destructurer) explodeChild(at *ast.Node, base string, typ *ast.Type, value *ast.Node) *shape {
	if value == nil {
		d.bag.Add(diag.Structural, at.Span, "missing composite element while destructuring '%s'", base)
		return &shape{typ: typ}
	}
	if typ.IsComposite() {
		return d.explode(at, d.a.Fresh(base), typ, value)
	}
	leaf := d.a.Fresh(base)
	decl := d.a.NewVarDecl(at.Span, leaf, false, typ, d.rewrite(value))
	d.types.Set(decl, typ)
	d.emit(decl)
	ident := d.a.NewIdent(at.Span, leaf)
	d.types.Set(ident, typ)
	return &shape{typ: typ, ref: ident}
}

// explodeSelect pushes a select over composites down to the leaves.
func (d *Destructurer) explodeSelect(at *ast.Node, base string, typ *ast.Type, vd ast.TernaryNode) *shape {
	cond := d.rewrite(vd.Cond)
	thenShape := d.valueShape(at, base+"$t", typ, vd.Then)
	elseShape := d.valueShape(at, base+"$f", typ, vd.Else)
	if !thenShape.exploded() && !elseShape.exploded() {
		// Both sides opaque: select on whole registers.
		sel := d.a.NewTernary(at.Span, cond, thenShape.ref, elseShape.ref)
		d.types.Set(sel, typ)
		decl := d.a.NewVarDecl(at.Span, base, false, typ, sel)
		d.types.Set(decl, typ)
		d.emit(decl)
		ident := d.a.NewIdent(at.Span, base)
		d.types.Set(ident, typ)
		return &shape{typ: typ, ref: ident}
	}
	return d.selectShapes(at, base, typ, cond, thenShape, elseShape)
}

func (d *Destructurer) selectShapes(at *ast.Node, base string, typ *ast.Type, cond *ast.Node, a, b *shape) *shape {
	if !typ.IsComposite() {
		c := newCloner(d.a, d.types)
		sel := d.a.NewTernary(at.Span, c.expr(cond), d.refExpr(at, a), d.refExpr(at, b))
		d.types.Set(sel, typ)
		leaf := d.a.Fresh(base)
		decl := d.a.NewVarDecl(at.Span, leaf, false, typ, sel)
		d.types.Set(decl, typ)
		d.emit(decl)
		ident := d.a.NewIdent(at.Span, leaf)
		d.types.Set(ident, typ)
		return &shape{typ: typ, ref: ident}
	}
	n := compositeArity(typ)
	children := make([]*shape, n)
	for i := 0; i < n; i++ {
		childType := compositeElem(typ, i)
		children[i] = d.selectShapes(at, base, childType, cond, d.childShape(at, a, i), d.childShape(at, b, i))
	}
	return &shape{typ: typ, children: children}
}

// childShape projects one element out of a shape, synthesizing an access
// expression when the shape is opaque.
func (d *Destructurer) childShape(at *ast.Node, s *shape, i int) *shape {
	if s.exploded() {
		return s.children[i]
	}
	childType := compositeElem(s.typ, i)
	c := newCloner(d.a, d.types)
	var access *ast.Node
	switch s.typ.Kind {
	case ast.TYPE_TUPLE:
		access = d.a.NewTupleAccess(at.Span, c.expr(s.ref), i)
	case ast.TYPE_ARRAY:
		idx := d.a.NewIntLiteral(at.Span, bigInt(i), ast.TypeU32)
		d.types.Set(idx, ast.TypeU32)
		access = d.a.NewArrayAccess(at.Span, c.expr(s.ref), idx)
	default:
		access = d.a.NewMemberAccess(at.Span, c.expr(s.ref), s.typ.Fields[i].Name)
	}
	d.types.Set(access, childType)
	return &shape{typ: childType, ref: access}
}

// valueShape resolves an arbitrary expression of composite type to a shape,
// binding opaque values so they can be projected.
func (d *Destructurer) valueShape(at *ast.Node, base string, typ *ast.Type, value *ast.Node) *shape {
	if s := d.shapeOf(value); s != nil {
		return s
	}
	switch value.Data.(type) {
	case ast.TupleInitNode, ast.StructInitNode, ast.ArrayInitNode, ast.TernaryNode:
		return d.explode(at, d.a.Fresh(base), typ, value)
	}
	name := d.a.Fresh(base)
	decl := d.a.NewVarDecl(at.Span, name, false, typ, d.rewrite(value))
	d.types.Set(decl, typ)
	d.emit(decl)
	ident := d.a.NewIdent(at.Span, name)
	d.types.Set(ident, typ)
	return &shape{typ: typ, ref: ident}
}

// shapeOf resolves identifier and access chains to a recorded shape; nil
// means the expression is not shape-tracked.
func (d *Destructurer) shapeOf(n *ast.Node) *shape {
	if n == nil {
		return nil
	}
	switch nd := n.Data.(type) {
	case ast.IdentNode:
		return d.shapes[nd.Name]
	case ast.TupleAccessNode:
		base := d.shapeOf(nd.Expr)
		if base == nil || !base.exploded() {
			return nil
		}
		return base.children[nd.Index]
	case ast.ArrayAccessNode:
		base := d.shapeOf(nd.Array)
		if base == nil || !base.exploded() {
			return nil
		}
		idx, ok := constIndex(nd.Index)
		if !ok || idx >= len(base.children) {
			return nil
		}
		return base.children[idx]
	case ast.MemberAccessNode:
		base := d.shapeOf(nd.Expr)
		if base == nil || !base.exploded() {
			return nil
		}
		for i, f := range base.typ.Fields {
			if f.Name == nd.Member {
				return base.children[i]
			}
		}
	}
	return nil
}

// refExpr materializes an expression referencing a shape's value: the ref
// for leaves and opaque composites, a rebuilt initializer for exploded ones.
func (d *Destructurer) refExpr(at *ast.Node, s *shape) *ast.Node {
	if !s.exploded() {
		c := newCloner(d.a, d.types)
		return c.expr(s.ref)
	}
	elems := make([]*ast.Node, len(s.children))
	for i, child := range s.children {
		elems[i] = d.refExpr(at, child)
	}
	var out *ast.Node
	switch s.typ.Kind {
	case ast.TYPE_TUPLE:
		out = d.a.NewTupleInit(at.Span, elems)
	case ast.TYPE_ARRAY:
		out = d.a.NewArrayInit(at.Span, elems)
	default:
		fields := make([]ast.FieldInit, len(s.typ.Fields))
		for i, f := range s.typ.Fields {
			fields[i] = ast.FieldInit{Name: f.Name, Value: elems[i]}
		}
		out = d.a.NewStructInit(at.Span, s.typ.Name, fields)
	}
	d.types.Set(out, s.typ)
	return out
}

func (d *Destructurer) rewriteAll(list []*ast.Node) []*ast.Node {
	if list == nil {
		return nil
	}
	out := make([]*ast.Node, len(list))
	for i, e := range list {
		out[i] = d.rewrite(e)
	}
	return out
}

// rewrite resolves composite accesses through shapes and rebuilds everything
// else structurally.
func (d *Destructurer) rewrite(n *ast.Node) *ast.Node {
	if n == nil {
		return nil
	}
	if s := d.shapeOf(n); s != nil {
		return d.refExpr(n, s)
	}
	switch nd := n.Data.(type) {
	case ast.BinaryNode:
		out := d.a.NewBinary(n.Span, nd.Op, d.rewrite(nd.Left), d.rewrite(nd.Right))
		d.types.Transfer(n, out)
		return out
	case ast.UnaryNode:
		out := d.a.NewUnary(n.Span, nd.Op, d.rewrite(nd.Expr))
		d.types.Transfer(n, out)
		return out
	case ast.CallNode:
		out := d.a.NewCall(n.Span, nd.Program, nd.Callee, nd.Builtin, d.rewriteAll(nd.Args))
		d.types.Transfer(n, out)
		return out
	case ast.CastNode:
		out := d.a.NewCast(n.Span, d.rewrite(nd.Expr), nd.Target)
		d.types.Transfer(n, out)
		return out
	case ast.TernaryNode:
		typ := d.types.TypeOf(n)
		if typ.IsComposite() {
			s := d.explodeSelect(n, d.a.Fresh("sel"), typ, nd)
			return d.refExpr(n, s)
		}
		out := d.a.NewTernary(n.Span, d.rewrite(nd.Cond), d.rewrite(nd.Then), d.rewrite(nd.Else))
		d.types.Transfer(n, out)
		return out
	case ast.ArrayAccessNode:
		out := d.a.NewArrayAccess(n.Span, d.rewrite(nd.Array), d.rewrite(nd.Index))
		d.types.Transfer(n, out)
		return out
	case ast.MemberAccessNode:
		out := d.a.NewMemberAccess(n.Span, d.rewrite(nd.Expr), nd.Member)
		d.types.Transfer(n, out)
		return out
	case ast.TupleAccessNode:
		out := d.a.NewTupleAccess(n.Span, d.rewrite(nd.Expr), nd.Index)
		d.types.Transfer(n, out)
		return out
	case ast.StructInitNode:
		fields := make([]ast.FieldInit, len(nd.Fields))
		for i, f := range nd.Fields {
			fields[i] = ast.FieldInit{Name: f.Name, Value: d.rewrite(f.Value)}
		}
		out := d.a.NewStructInit(n.Span, nd.Name, fields)
		d.types.Transfer(n, out)
		return out
	case ast.ArrayInitNode:
		if nd.Repeat != nil {
			out := d.a.NewArrayRepeat(n.Span, d.rewrite(nd.Repeat), nd.Count)
			d.types.Transfer(n, out)
			return out
		}
		out := d.a.NewArrayInit(n.Span, d.rewriteAll(nd.Elems))
		d.types.Transfer(n, out)
		return out
	case ast.TupleInitNode:
		out := d.a.NewTupleInit(n.Span, d.rewriteAll(nd.Elems))
		d.types.Transfer(n, out)
		return out
	}
	return n
}

func compositeArity(t *ast.Type) int {
	switch t.Kind {
	case ast.TYPE_TUPLE:
		return len(t.Elems)
	case ast.TYPE_ARRAY:
		return t.Size
	case ast.TYPE_STRUCT:
		return len(t.Fields)
	}
	return 0
}

func compositeElem(t *ast.Type, i int) *ast.Type {
	switch t.Kind {
	case ast.TYPE_TUPLE:
		return t.Elems[i]
	case ast.TYPE_ARRAY:
		return t.Base
	case ast.TYPE_STRUCT:
		return t.Fields[i].Type
	}
	return ast.TypeUntyped
}
