package eval

import (
	"strings"
	"testing"

	"github.com/pipelang/pipeq/table"
)

func TestFuncMath(t *testing.T) {
	ctx := salesRow(t)

	v := evalStr(t, "abs(0 - 7)", ctx)
	if v.Type != table.TypeInt || v.Int != 7 {
		t.Errorf("abs: expected int 7, got %v", v)
	}

	v = evalStr(t, "ceil(2.1)", ctx)
	if v.Type != table.TypeInt || v.Int != 3 {
		t.Errorf("ceil: expected 3, got %v", v)
	}

	v = evalStr(t, "floor(2.9)", ctx)
	if v.Int != 2 {
		t.Errorf("floor: expected 2, got %v", v)
	}

	v = evalStr(t, "round(2.567, 2)", ctx)
	if v.Type != table.TypeFloat || v.Float != 2.57 {
		t.Errorf("round: expected 2.57, got %v", v)
	}

	v = evalStr(t, "round(2.5)", ctx)
	if v.Type != table.TypeInt || v.Int != 3 {
		t.Errorf("round: expected int 3, got %v", v)
	}

	v = evalStr(t, "pow(2, 10)", ctx)
	if v.Type != table.TypeInt || v.Int != 1024 {
		t.Errorf("pow: expected int 1024, got %v", v)
	}

	v = evalStr(t, "sqrt(9)", ctx)
	if v.Type != table.TypeFloat || v.Float != 3 {
		t.Errorf("sqrt: expected 3, got %v", v)
	}
}

func TestFuncSqrtNegative(t *testing.T) {
	ctx := salesRow(t)
	if _, err := Eval(parseExpr(t, "sqrt(0 - 1) > 0"), ctx); err == nil {
		t.Fatal("expected error for sqrt of negative")
	}
}

func TestFuncStrings(t *testing.T) {
	ctx := salesRow(t)

	v := evalStr(t, "upper(region)", ctx)
	if v.Str != "IT" {
		t.Errorf("upper: got %v", v)
	}

	v = evalStr(t, `lower("HeLLo")`, ctx)
	if v.Str != "hello" {
		t.Errorf("lower: got %v", v)
	}

	v = evalStr(t, `trim("  hi  ")`, ctx)
	if v.Str != "hi" {
		t.Errorf("trim: got %q", v.Str)
	}

	v = evalStr(t, `ltrim("  hi  ")`, ctx)
	if v.Str != "hi  " {
		t.Errorf("ltrim: got %q", v.Str)
	}

	v = evalStr(t, `rtrim("  hi  ")`, ctx)
	if v.Str != "  hi" {
		t.Errorf("rtrim: got %q", v.Str)
	}

	v = evalStr(t, `len("hello")`, ctx)
	if v.Int != 5 {
		t.Errorf("len: got %v", v)
	}

	v = evalStr(t, `substr("hello", 1, 3)`, ctx)
	if v.Str != "ell" {
		t.Errorf("substr: got %q", v.Str)
	}

	v = evalStr(t, `substr("hello", 3, 10)`, ctx)
	if v.Str != "lo" {
		t.Errorf("substr past end: got %q", v.Str)
	}

	v = evalStr(t, `replace("a-b-c", "-", "+")`, ctx)
	if v.Str != "a+b+c" {
		t.Errorf("replace: got %q", v.Str)
	}
}

func TestFuncSplit(t *testing.T) {
	ctx := salesRow(t)
	v := evalStr(t, `split("a,b,c", ",")`, ctx)
	if v.Type != table.TypeList || len(v.List) != 3 {
		t.Fatalf("split: expected list of 3, got %v", v)
	}
	if v.List[1].Str != "b" {
		t.Errorf("split: got %v", v.List)
	}

	v = evalStr(t, `len(split("a,b,c", ","))`, ctx)
	if v.Int != 3 {
		t.Errorf("len over list: got %v", v)
	}
}

func TestFuncTonumber(t *testing.T) {
	ctx := salesRow(t)

	v := evalStr(t, `tonumber("42")`, ctx)
	if v.Type != table.TypeInt || v.Int != 42 {
		t.Errorf("tonumber int: got %v", v)
	}

	v = evalStr(t, `tonumber("3.5")`, ctx)
	if v.Type != table.TypeFloat || v.Float != 3.5 {
		t.Errorf("tonumber float: got %v", v)
	}

	v = evalStr(t, `tonumber("abc")`, ctx)
	if !v.IsNull() {
		t.Errorf("tonumber garbage should be null, got %v", v)
	}

	v = evalStr(t, "tonumber(true)", ctx)
	if v.Type != table.TypeInt || v.Int != 1 {
		t.Errorf("tonumber bool: got %v", v)
	}
}

func TestFuncTostring(t *testing.T) {
	ctx := salesRow(t)
	v := evalStr(t, "tostring(amount)", ctx)
	if v.Type != table.TypeString || v.Str != "100" {
		t.Errorf("tostring: got %v", v)
	}
}

func TestFuncNullChecks(t *testing.T) {
	ctx := salesRow(t)

	v := evalStr(t, "isnull(note)", ctx)
	if b, _ := v.AsBool(); !b {
		t.Errorf("isnull(note) should be true")
	}

	v = evalStr(t, "isnotnull(amount)", ctx)
	if b, _ := v.AsBool(); !b {
		t.Errorf("isnotnull(amount) should be true")
	}
}

func TestFuncLike(t *testing.T) {
	ctx := salesRow(t)

	v := evalStr(t, `like("widget-42", "widget%")`, ctx)
	if b, _ := v.AsBool(); !b {
		t.Errorf("prefix wildcard should match")
	}

	v = evalStr(t, `like("cat", "c_t")`, ctx)
	if b, _ := v.AsBool(); !b {
		t.Errorf("underscore should match one char")
	}

	v = evalStr(t, `like("cart", "c_t")`, ctx)
	if b, _ := v.AsBool(); b {
		t.Errorf("underscore should not match two chars")
	}

	v = evalStr(t, `like("a.b", "a.b")`, ctx)
	if b, _ := v.AsBool(); !b {
		t.Errorf("dot must be literal in like patterns")
	}

	v = evalStr(t, `like("axb", "a.b")`, ctx)
	if b, _ := v.AsBool(); b {
		t.Errorf("dot must not act as a regex wildcard")
	}

	v = evalStr(t, "like(note, \"%\")", ctx)
	if b, _ := v.AsBool(); b {
		t.Errorf("like on null should be false")
	}
}

func TestFuncMatch(t *testing.T) {
	ctx := salesRow(t)

	v := evalStr(t, `match("order-123", "^order-\d+$")`, ctx)
	if b, _ := v.AsBool(); !b {
		t.Errorf("regex should match")
	}

	if _, err := Eval(parseExpr(t, `match("x", "(unclosed")`), ctx); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestFuncIn(t *testing.T) {
	ctx := salesRow(t)

	v := evalStr(t, `in(region, "Sales", "IT", "HR")`, ctx)
	if b, _ := v.AsBool(); !b {
		t.Errorf("in should find IT")
	}

	v = evalStr(t, "in(amount, 1, 2, 3)", ctx)
	if b, _ := v.AsBool(); b {
		t.Errorf("in should not find 100")
	}
}

func TestFuncIfIsLazy(t *testing.T) {
	ctx := salesRow(t)
	v := evalStr(t, "if(amount > 0, amount, amount / 0)", ctx)
	if v.Int != 100 {
		t.Errorf("if: got %v", v)
	}
}

func TestFuncCase(t *testing.T) {
	ctx := salesRow(t)

	v := evalStr(t, `case(amount > 500, "large", amount > 50, "medium", "small")`, ctx)
	if v.Str != "medium" {
		t.Errorf("case: got %v", v)
	}

	v = evalStr(t, `case(amount > 500, "large")`, ctx)
	if !v.IsNull() {
		t.Errorf("case without default should be null, got %v", v)
	}
}

func TestFuncCoalesce(t *testing.T) {
	ctx := salesRow(t)
	v := evalStr(t, "coalesce(note, amount, 0)", ctx)
	if v.Type != table.TypeInt || v.Int != 100 {
		t.Errorf("coalesce: got %v", v)
	}
}

func TestFuncNullif(t *testing.T) {
	ctx := salesRow(t)

	v := evalStr(t, "nullif(amount, 100)", ctx)
	if !v.IsNull() {
		t.Errorf("nullif equal should be null, got %v", v)
	}

	v = evalStr(t, "nullif(amount, 99)", ctx)
	if v.Int != 100 {
		t.Errorf("nullif unequal should pass through, got %v", v)
	}
}

func TestFuncDateParts(t *testing.T) {
	ctx := salesRow(t)

	v := evalStr(t, `year("2024-03-15")`, ctx)
	if v.Int != 2024 {
		t.Errorf("year: got %v", v)
	}

	v = evalStr(t, `month("2024-03-15")`, ctx)
	if v.Int != 3 {
		t.Errorf("month: got %v", v)
	}

	v = evalStr(t, `day("3/15/2024")`, ctx)
	if v.Int != 15 {
		t.Errorf("day with slash format: got %v", v)
	}

	if _, err := Eval(parseExpr(t, `year("not a date") > 0`), ctx); err == nil {
		t.Fatal("expected parse failure for garbage date")
	}
}

func TestFuncUnknown(t *testing.T) {
	ctx := salesRow(t)
	if _, err := Eval(parseExpr(t, "frobnicate(1) > 0"), ctx); err == nil {
		t.Fatal("expected unknown function error")
	}
}

func TestFuncAggregateOutsideStats(t *testing.T) {
	ctx := salesRow(t)
	_, err := Eval(parseExpr(t, "sum(amount) > 0"), ctx)
	if err == nil {
		t.Fatal("expected error for aggregate in a row expression")
	}
	if !strings.Contains(err.Error(), "only valid in stats") {
		t.Errorf("error should point at stats, got %q", err)
	}
}

func TestFuncArity(t *testing.T) {
	ctx := salesRow(t)
	if _, err := Eval(parseExpr(t, "abs(1, 2) > 0"), ctx); err == nil {
		t.Fatal("expected arity error")
	}
}
