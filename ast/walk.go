package ast

// Fields returns the names of all field references in an expression,
// left to right, duplicates included. An empty result means the
// expression is constant over any row.
func Fields(e Expr) []string {
	var out []string
	collectFields(e, &out)
	return out
}

func collectFields(e Expr, out *[]string) {
	switch e := e.(type) {
	case *FieldExpr:
		*out = append(*out, e.Name)
	case *UnaryExpr:
		collectFields(e.Operand, out)
	case *BinaryExpr:
		collectFields(e.Left, out)
		collectFields(e.Right, out)
	case *FuncCallExpr:
		for _, a := range e.Args {
			collectFields(a, out)
		}
	}
}
