package ast

import (
	"strconv"
	"strings"
)

// Format renders an expression back to pipeline syntax. Binary
// operations are fully parenthesized so the output is unambiguous.
func Format(e Expr) string {
	switch e := e.(type) {
	case *LiteralExpr:
		switch e.Kind {
		case "int":
			return strconv.FormatInt(e.Int, 10)
		case "float":
			return strconv.FormatFloat(e.Float, 'g', -1, 64)
		case "string":
			return strconv.Quote(e.Str)
		case "bool":
			if e.Bool {
				return "true"
			}
			return "false"
		case "null":
			return "null"
		}
		return "?"

	case *FieldExpr:
		return e.Name

	case *UnaryExpr:
		if e.Op == "not" {
			return "not " + Format(e.Operand)
		}
		return e.Op + Format(e.Operand)

	case *BinaryExpr:
		return "(" + Format(e.Left) + " " + e.Op + " " + Format(e.Right) + ")"

	case *FuncCallExpr:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = Format(a)
		}
		return e.Name + "(" + strings.Join(args, ", ") + ")"
	}
	return "?"
}
