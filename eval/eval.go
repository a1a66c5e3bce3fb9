// Package eval evaluates expression trees against table rows. It is
// shared by the executor (row-wise evaluation) and the optimizer
// (constant folding), which is why it lives outside both.
package eval

import (
	"fmt"
	"math"
	"strings"

	"github.com/pipelang/pipeq/ast"
	"github.com/pipelang/pipeq/plan"
	"github.com/pipelang/pipeq/table"
)

// Context provides column lookup for expression evaluation.
type Context struct {
	Table *table.Table
	Row   *table.Row
}

// Eval evaluates an expression against a row context. Referencing a
// field the table does not have fails with UnresolvedFieldError.
func Eval(expr ast.Expr, ctx *Context) (table.Value, error) {
	switch e := expr.(type) {
	case *ast.LiteralExpr:
		return Literal(e), nil
	case *ast.FieldExpr:
		return evalField(e, ctx)
	case *ast.BinaryExpr:
		return evalBinary(e, ctx)
	case *ast.UnaryExpr:
		return evalUnary(e, ctx)
	case *ast.FuncCallExpr:
		return evalFunc(e, ctx)
	default:
		return table.Null(), fmt.Errorf("unknown expression type %T", expr)
	}
}

// Literal converts a literal node to its value.
func Literal(e *ast.LiteralExpr) table.Value {
	switch e.Kind {
	case "int":
		return table.IntVal(e.Int)
	case "float":
		return table.FloatVal(e.Float)
	case "string":
		return table.StrVal(e.Str)
	case "bool":
		return table.BoolVal(e.Bool)
	default:
		return table.Null()
	}
}

// ToLiteral converts a value back to a literal node, for constant
// folding.
func ToLiteral(v table.Value) (*ast.LiteralExpr, bool) {
	switch v.Type {
	case table.TypeNull:
		return &ast.LiteralExpr{Kind: "null"}, true
	case table.TypeInt:
		return &ast.LiteralExpr{Kind: "int", Int: v.Int}, true
	case table.TypeFloat:
		return &ast.LiteralExpr{Kind: "float", Float: v.Float}, true
	case table.TypeString:
		return &ast.LiteralExpr{Kind: "string", Str: v.Str}, true
	case table.TypeBool:
		return &ast.LiteralExpr{Kind: "bool", Bool: v.Bool}, true
	default:
		return nil, false
	}
}

func evalField(e *ast.FieldExpr, ctx *Context) (table.Value, error) {
	idx := ctx.Table.ColIndex(e.Name)
	if idx < 0 {
		return table.Null(), &plan.UnresolvedFieldError{Field: e.Name}
	}
	return ctx.Row.Values[idx], nil
}

func evalBinary(e *ast.BinaryExpr, ctx *Context) (table.Value, error) {
	if e.Op == "and" || e.Op == "or" {
		return evalLogical(e, ctx)
	}

	left, err := Eval(e.Left, ctx)
	if err != nil {
		return table.Null(), err
	}
	right, err := Eval(e.Right, ctx)
	if err != nil {
		return table.Null(), err
	}

	switch e.Op {
	case "+", "-", "*", "/":
		// Null propagation for arithmetic
		if left.IsNull() || right.IsNull() {
			return table.Null(), nil
		}
		return Arith(e.Op, left, right)
	case "==", "!=", "<", ">", "<=", ">=":
		return Comparison(e.Op, left, right)
	default:
		return table.Null(), fmt.Errorf("unknown operator %q", e.Op)
	}
}

// evalLogical short-circuits: a chain of filters and the merged
// conjunction of their predicates see the same errors.
func evalLogical(e *ast.BinaryExpr, ctx *Context) (table.Value, error) {
	left, err := Eval(e.Left, ctx)
	if err != nil {
		return table.Null(), err
	}
	lb, ok := left.AsBool()
	if !ok {
		return table.Null(), fmt.Errorf("'%s' requires boolean operands", e.Op)
	}
	if e.Op == "and" && !lb {
		return table.BoolVal(false), nil
	}
	if e.Op == "or" && lb {
		return table.BoolVal(true), nil
	}

	right, err := Eval(e.Right, ctx)
	if err != nil {
		return table.Null(), err
	}
	rb, ok := right.AsBool()
	if !ok {
		return table.Null(), fmt.Errorf("'%s' requires boolean operands", e.Op)
	}
	return table.BoolVal(rb), nil
}

// Arith applies an arithmetic operator to two non-null values.
func Arith(op string, left, right table.Value) (table.Value, error) {
	// String concatenation with +
	if op == "+" && left.Type == table.TypeString && right.Type == table.TypeString {
		return table.StrVal(left.Str + right.Str), nil
	}

	lf, lok := left.AsFloat()
	rf, rok := right.AsFloat()
	if !lok || !rok {
		return table.Null(), fmt.Errorf("cannot perform %s on %v and %v", op, left.AsString(), right.AsString())
	}

	var result float64
	switch op {
	case "+":
		result = lf + rf
	case "-":
		result = lf - rf
	case "*":
		result = lf * rf
	case "/":
		if rf == 0 {
			return table.Null(), fmt.Errorf("division by zero")
		}
		result = lf / rf
	}

	// Two int operands keep an int result when it is exact
	if left.Type == table.TypeInt && right.Type == table.TypeInt {
		if op == "/" {
			if left.Int%right.Int == 0 {
				return table.IntVal(left.Int / right.Int), nil
			}
		} else if result == math.Trunc(result) {
			return table.IntVal(int64(result)), nil
		}
	}
	return table.FloatVal(result), nil
}

// Comparison applies a comparison operator. Null equals only null;
// ordering against null is itself null.
func Comparison(op string, left, right table.Value) (table.Value, error) {
	if left.IsNull() || right.IsNull() {
		bothNull := left.IsNull() && right.IsNull()
		switch op {
		case "==":
			return table.BoolVal(bothNull), nil
		case "!=":
			return table.BoolVal(!bothNull), nil
		default:
			return table.Null(), nil
		}
	}

	if left.Type == table.TypeString && right.Type == table.TypeString {
		return table.BoolVal(cmpResult(op, strings.Compare(left.Str, right.Str))), nil
	}

	if left.Type == table.TypeBool && right.Type == table.TypeBool {
		switch op {
		case "==":
			return table.BoolVal(left.Bool == right.Bool), nil
		case "!=":
			return table.BoolVal(left.Bool != right.Bool), nil
		default:
			return table.Null(), fmt.Errorf("cannot use %s on booleans", op)
		}
	}

	lf, lok := left.AsFloat()
	rf, rok := right.AsFloat()
	if lok && rok {
		var cmp int
		if lf < rf {
			cmp = -1
		} else if lf > rf {
			cmp = 1
		}
		return table.BoolVal(cmpResult(op, cmp)), nil
	}

	return table.Null(), fmt.Errorf("cannot compare %v with %v", left.AsString(), right.AsString())
}

func cmpResult(op string, cmp int) bool {
	switch op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case "<":
		return cmp < 0
	case ">":
		return cmp > 0
	case "<=":
		return cmp <= 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func evalUnary(e *ast.UnaryExpr, ctx *Context) (table.Value, error) {
	operand, err := Eval(e.Operand, ctx)
	if err != nil {
		return table.Null(), err
	}

	switch e.Op {
	case "not":
		b, ok := operand.AsBool()
		if !ok {
			return table.Null(), fmt.Errorf("'not' requires a boolean operand")
		}
		return table.BoolVal(!b), nil
	case "-":
		if operand.IsNull() {
			return table.Null(), nil
		}
		switch operand.Type {
		case table.TypeInt:
			return table.IntVal(-operand.Int), nil
		case table.TypeFloat:
			return table.FloatVal(-operand.Float), nil
		default:
			return table.Null(), fmt.Errorf("cannot negate %v", operand.AsString())
		}
	default:
		return table.Null(), fmt.Errorf("unknown unary operator %q", e.Op)
	}
}

// Truthy evaluates a predicate and coerces the result for filtering:
// booleans count as themselves, null as false.
func Truthy(expr ast.Expr, ctx *Context) (bool, error) {
	v, err := Eval(expr, ctx)
	if err != nil {
		return false, err
	}
	b, ok := v.AsBool()
	if !ok {
		return false, fmt.Errorf("predicate must be boolean, got %v", v.AsString())
	}
	return b, nil
}
