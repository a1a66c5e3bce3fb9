package eval

import (
	"errors"
	"testing"

	"github.com/pipelang/pipeq/ast"
	"github.com/pipelang/pipeq/parser"
	"github.com/pipelang/pipeq/plan"
	"github.com/pipelang/pipeq/table"
)

func salesRow(t *testing.T) *Context {
	t.Helper()
	tbl := table.NewTable([]string{"region", "amount", "qty", "note"})
	tbl.AddRow([]table.Value{table.StrVal("IT"), table.IntVal(100), table.IntVal(4), table.Null()})
	return &Context{Table: tbl, Row: &tbl.Rows[0]}
}

func parseExpr(t *testing.T, src string) ast.Expr {
	t.Helper()
	pipe, err := parser.Parse("cache=t | filter " + src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return pipe.Stages[1].(*ast.FilterStage).Pred
}

func evalStr(t *testing.T, src string, ctx *Context) table.Value {
	t.Helper()
	v, err := Eval(parseExpr(t, src), ctx)
	if err != nil {
		t.Fatalf("eval %q: %v", src, err)
	}
	return v
}

func TestEvalFieldLookup(t *testing.T) {
	ctx := salesRow(t)
	v := evalStr(t, "amount", ctx)
	if v.Type != table.TypeInt || v.Int != 100 {
		t.Errorf("expected int 100, got %v", v)
	}
}

func TestEvalUnknownField(t *testing.T) {
	ctx := salesRow(t)
	_, err := Eval(parseExpr(t, "bogus > 1"), ctx)
	var ufe *plan.UnresolvedFieldError
	if !errors.As(err, &ufe) {
		t.Fatalf("expected UnresolvedFieldError, got %v", err)
	}
	if ufe.Field != "bogus" {
		t.Errorf("expected field bogus, got %q", ufe.Field)
	}
}

func TestEvalArithmeticIntPreserved(t *testing.T) {
	ctx := salesRow(t)
	v := evalStr(t, "amount + qty", ctx)
	if v.Type != table.TypeInt || v.Int != 104 {
		t.Errorf("expected int 104, got %v", v)
	}
}

func TestEvalIntDivision(t *testing.T) {
	ctx := salesRow(t)

	v := evalStr(t, "amount / qty", ctx)
	if v.Type != table.TypeInt || v.Int != 25 {
		t.Errorf("expected exact int 25, got %v", v)
	}

	v = evalStr(t, "qty / 8", ctx)
	if v.Type != table.TypeFloat || v.Float != 0.5 {
		t.Errorf("expected float 0.5, got %v", v)
	}
}

func TestEvalDivisionByZero(t *testing.T) {
	ctx := salesRow(t)
	_, err := Eval(parseExpr(t, "amount / 0"), ctx)
	if err == nil {
		t.Fatal("expected division by zero error")
	}
}

func TestEvalStringConcat(t *testing.T) {
	ctx := salesRow(t)
	v := evalStr(t, `region + "-west"`, ctx)
	if v.Type != table.TypeString || v.Str != "IT-west" {
		t.Errorf("expected IT-west, got %v", v)
	}
}

func TestEvalNullPropagation(t *testing.T) {
	ctx := salesRow(t)
	v := evalStr(t, "note + 1", ctx)
	if !v.IsNull() {
		t.Errorf("expected null, got %v", v)
	}
}

func TestEvalNullEquality(t *testing.T) {
	ctx := salesRow(t)

	v := evalStr(t, "note == null", ctx)
	if b, _ := v.AsBool(); v.Type != table.TypeBool || !b {
		t.Errorf("null == null should be true, got %v", v)
	}

	v = evalStr(t, "amount == null", ctx)
	if b, _ := v.AsBool(); v.Type != table.TypeBool || b {
		t.Errorf("value == null should be false, got %v", v)
	}

	v = evalStr(t, "note != null", ctx)
	if b, _ := v.AsBool(); b {
		t.Errorf("null != null should be false, got %v", v)
	}
}

func TestEvalNullOrderingIsNull(t *testing.T) {
	ctx := salesRow(t)
	v := evalStr(t, "note > 5", ctx)
	if !v.IsNull() {
		t.Errorf("ordering against null should be null, got %v", v)
	}
}

func TestEvalComparisonChain(t *testing.T) {
	ctx := salesRow(t)
	v := evalStr(t, "amount >= 100 and qty < 10", ctx)
	if b, _ := v.AsBool(); !b {
		t.Errorf("expected true, got %v", v)
	}
}

func TestEvalShortCircuit(t *testing.T) {
	ctx := salesRow(t)

	v := evalStr(t, "false and (1 / 0 > 0)", ctx)
	if b, _ := v.AsBool(); b {
		t.Errorf("expected false, got %v", v)
	}

	v = evalStr(t, "true or (1 / 0 > 0)", ctx)
	if b, _ := v.AsBool(); !b {
		t.Errorf("expected true, got %v", v)
	}
}

func TestEvalLogicalRequiresBool(t *testing.T) {
	ctx := salesRow(t)
	_, err := Eval(parseExpr(t, "amount and true"), ctx)
	if err == nil {
		t.Fatal("expected type error for non-boolean and operand")
	}
}

func TestEvalNot(t *testing.T) {
	ctx := salesRow(t)
	v := evalStr(t, "not (amount > 200)", ctx)
	if b, _ := v.AsBool(); !b {
		t.Errorf("expected true, got %v", v)
	}
}

func TestEvalUnaryMinus(t *testing.T) {
	ctx := salesRow(t)
	v := evalStr(t, "-qty", ctx)
	if v.Type != table.TypeInt || v.Int != -4 {
		t.Errorf("expected -4, got %v", v)
	}
}

func TestEvalStringComparison(t *testing.T) {
	ctx := salesRow(t)
	v := evalStr(t, `region < "Sales"`, ctx)
	if b, _ := v.AsBool(); !b {
		t.Errorf("expected IT < Sales, got %v", v)
	}
}

func TestTruthyNullIsFalse(t *testing.T) {
	ctx := salesRow(t)
	ok, err := Truthy(parseExpr(t, "note > 5"), ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("null predicate should not keep the row")
	}
}

func TestTruthyRejectsNonBool(t *testing.T) {
	ctx := salesRow(t)
	if _, err := Truthy(parseExpr(t, "amount + 1"), ctx); err == nil {
		t.Fatal("expected error for numeric predicate")
	}
}

func TestToLiteralRoundTrip(t *testing.T) {
	ctx := salesRow(t)
	v := evalStr(t, "amount * 2 + 1", ctx)
	lit, ok := ToLiteral(v)
	if !ok {
		t.Fatal("expected literal conversion")
	}
	back := Literal(lit)
	if back.Type != table.TypeInt || back.Int != 201 {
		t.Errorf("round trip lost value: %v", back)
	}
}

func TestToLiteralRejectsList(t *testing.T) {
	v := table.ListVal([]table.Value{table.IntVal(1)})
	if _, ok := ToLiteral(v); ok {
		t.Error("lists should not fold to literals")
	}
}
