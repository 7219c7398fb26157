package ast

import (
	"fmt"
	"strings"
)

// ExprString renders an expression the way source code spells it. Used by
// diagnostics and tests; not a formatter.
func ExprString(n *Node) string {
	if n == nil {
		return "<nil>"
	}
	switch d := n.Data.(type) {
	case LiteralNode:
		switch d.LitKind {
		case LitBool:
			return fmt.Sprintf("%v", d.Bool)
		case LitAddress:
			return d.Text
		default:
			suffix := ""
			if d.Typ != nil {
				suffix = d.Typ.Name
			}
			return d.Int.String() + suffix
		}
	case IdentNode:
		return d.Name
	case BinaryNode:
		return fmt.Sprintf("(%s %s %s)", ExprString(d.Left), d.Op, ExprString(d.Right))
	case UnaryNode:
		return fmt.Sprintf("%s%s", d.Op, ExprString(d.Expr))
	case CallNode:
		name := d.Callee
		if d.Program != "" {
			name = d.Program + "/" + name
		}
		return name + "(" + exprList(d.Args) + ")"
	case ArrayAccessNode:
		return fmt.Sprintf("%s[%s]", ExprString(d.Array), ExprString(d.Index))
	case MemberAccessNode:
		return ExprString(d.Expr) + "." + d.Member
	case TupleAccessNode:
		return fmt.Sprintf("%s.%d", ExprString(d.Expr), d.Index)
	case CastNode:
		return fmt.Sprintf("(%s as %s)", ExprString(d.Expr), TypeToString(d.Target))
	case TernaryNode:
		return fmt.Sprintf("select(%s, %s, %s)", ExprString(d.Cond), ExprString(d.Then), ExprString(d.Else))
	case StructInitNode:
		parts := make([]string, len(d.Fields))
		for i, f := range d.Fields {
			parts[i] = f.Name + ": " + ExprString(f.Value)
		}
		return d.Name + " {" + strings.Join(parts, ", ") + "}"
	case ArrayInitNode:
		if d.Repeat != nil {
			return fmt.Sprintf("[%s; %s]", ExprString(d.Repeat), ExprString(d.Count))
		}
		return "[" + exprList(d.Elems) + "]"
	case TupleInitNode:
		return "(" + exprList(d.Elems) + ")"
	}
	return "<expr>"
}

func exprList(nodes []*Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = ExprString(n)
	}
	return strings.Join(parts, ", ")
}

// StmtString renders one statement (or a whole block) as indented text.
func StmtString(n *Node) string {
	var sb strings.Builder
	writeStmt(&sb, n, 0)
	return sb.String()
}

func writeStmt(sb *strings.Builder, n *Node, depth int) {
	if n == nil {
		return
	}
	ind := strings.Repeat("    ", depth)
	switch d := n.Data.(type) {
	case BlockNode:
		for _, s := range d.Stmts {
			writeStmt(sb, s, depth)
		}
	case VarDeclNode:
		mut := ""
		if d.Mutable {
			mut = "mut "
		}
		if d.Type != nil {
			fmt.Fprintf(sb, "%slet %s%s: %s = %s;\n", ind, mut, d.Name, TypeToString(d.Type), ExprString(d.Value))
		} else {
			fmt.Fprintf(sb, "%slet %s%s = %s;\n", ind, mut, d.Name, ExprString(d.Value))
		}
	case ConstDeclNode:
		fmt.Fprintf(sb, "%sconst %s: %s = %s;\n", ind, d.Name, TypeToString(d.Type), ExprString(d.Value))
	case AssignNode:
		op := "="
		if bin, ok := d.Op.BinaryFor(); ok {
			op = bin.String() + "="
		}
		fmt.Fprintf(sb, "%s%s %s %s;\n", ind, ExprString(d.Target), op, ExprString(d.Value))
	case ConditionalNode:
		fmt.Fprintf(sb, "%sif %s {\n", ind, ExprString(d.Cond))
		writeStmt(sb, d.Then, depth+1)
		if d.Else != nil {
			fmt.Fprintf(sb, "%s} else {\n", ind)
			writeStmt(sb, d.Else, depth+1)
		}
		fmt.Fprintf(sb, "%s}\n", ind)
	case IterationNode:
		rangeOp := ".."
		if d.Inclusive {
			rangeOp = "..="
		}
		fmt.Fprintf(sb, "%sfor %s in %s%s%s {\n", ind, d.Var, ExprString(d.Start), rangeOp, ExprString(d.End))
		writeStmt(sb, d.Body, depth+1)
		fmt.Fprintf(sb, "%s}\n", ind)
	case ReturnNode:
		if d.Expr == nil {
			fmt.Fprintf(sb, "%sreturn;\n", ind)
		} else {
			fmt.Fprintf(sb, "%sreturn %s;\n", ind, ExprString(d.Expr))
		}
	case ExprStmtNode:
		fmt.Fprintf(sb, "%s%s;\n", ind, ExprString(d.Expr))
	case ConsoleNode:
		guard := ""
		if d.Guard != nil {
			guard = " when " + ExprString(d.Guard)
		}
		fmt.Fprintf(sb, "%s%s(%s)%s;\n", ind, d.ConsoleKind, exprList(d.Args), guard)
	case MappingUpdateNode:
		guard := ""
		if d.Guard != nil {
			guard = " when " + ExprString(d.Guard)
		}
		fmt.Fprintf(sb, "%s%s[%s] = %s%s;\n", ind, d.Mapping, ExprString(d.Key), ExprString(d.Value), guard)
	case FinalizeCallNode:
		guard := ""
		if d.Guard != nil {
			guard = " when " + ExprString(d.Guard)
		}
		fmt.Fprintf(sb, "%sfinalize(%s)%s;\n", ind, exprList(d.Args), guard)
	}
}

// FuncString renders a full function declaration, body included.
func FuncString(n *Node) string {
	d, ok := n.Data.(FuncDeclNode)
	if !ok {
		return "<not a function>"
	}
	var sb strings.Builder
	params := make([]string, len(d.Params))
	for i, p := range d.Params {
		params[i] = fmt.Sprintf("%s %s: %s", p.Mode, p.Name, TypeToString(p.Type))
	}
	fmt.Fprintf(&sb, "function %s(%s) -> %s {\n", d.Name, strings.Join(params, ", "), TypeToString(d.ReturnType))
	writeStmt(&sb, d.Body, 1)
	sb.WriteString("}\n")
	return sb.String()
}
