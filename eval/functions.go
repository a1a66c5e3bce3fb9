package eval

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grafana/regexp"

	"github.com/pipelang/pipeq/ast"
	"github.com/pipelang/pipeq/table"
)

// evalFunc dispatches function calls. if, case, coalesce, and nullif
// evaluate their arguments lazily; everything else is strict.
func evalFunc(e *ast.FuncCallExpr, ctx *Context) (table.Value, error) {
	switch e.Name {
	case "if":
		return callIf(e.Args, ctx)
	case "case":
		return callCase(e.Args, ctx)
	case "coalesce":
		return callCoalesce(e.Args, ctx)
	case "nullif":
		return callNullif(e.Args, ctx)
	}

	args := make([]table.Value, len(e.Args))
	for i, a := range e.Args {
		v, err := Eval(a, ctx)
		if err != nil {
			return table.Null(), err
		}
		args[i] = v
	}

	fn, ok := functions[e.Name]
	if !ok {
		if IsAggregate(e.Name) {
			return table.Null(), fmt.Errorf("aggregate function %q is only valid in stats", e.Name)
		}
		return table.Null(), fmt.Errorf("unknown function %q", e.Name)
	}
	return fn(args)
}

type scalarFunc func(args []table.Value) (table.Value, error)

var functions = map[string]scalarFunc{
	"abs":       callAbs,
	"ceil":      callCeil,
	"floor":     callFloor,
	"round":     callRound,
	"sqrt":      callSqrt,
	"pow":       callPow,
	"upper":     callUpper,
	"lower":     callLower,
	"trim":      makeTrim(strings.TrimSpace),
	"ltrim":     makeTrim(func(s string) string { return strings.TrimLeft(s, " \t\n") }),
	"rtrim":     makeTrim(func(s string) string { return strings.TrimRight(s, " \t\n") }),
	"len":       callLen,
	"substr":    callSubstr,
	"replace":   callReplace,
	"split":     callSplit,
	"tonumber":  callTonumber,
	"tostring":  callTostring,
	"isnull":    callIsnull,
	"isnotnull": callIsnotnull,
	"like":      callLike,
	"match":     callMatch,
	"in":        callIn,
	"year":      makeDatePart("year"),
	"month":     makeDatePart("month"),
	"day":       makeDatePart("day"),
}

func arity(name string, args []table.Value, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s() takes %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

func numArg(name string, v table.Value) (float64, error) {
	f, ok := v.AsFloat()
	if !ok {
		return 0, fmt.Errorf("%s: expected a number, got %v", name, v.AsString())
	}
	return f, nil
}

// --- Math ---

func callAbs(args []table.Value) (table.Value, error) {
	if err := arity("abs", args, 1); err != nil {
		return table.Null(), err
	}
	if args[0].IsNull() {
		return table.Null(), nil
	}
	if args[0].Type == table.TypeInt {
		if args[0].Int < 0 {
			return table.IntVal(-args[0].Int), nil
		}
		return args[0], nil
	}
	f, err := numArg("abs", args[0])
	if err != nil {
		return table.Null(), err
	}
	return table.FloatVal(math.Abs(f)), nil
}

func callCeil(args []table.Value) (table.Value, error) {
	if err := arity("ceil", args, 1); err != nil {
		return table.Null(), err
	}
	if args[0].IsNull() {
		return table.Null(), nil
	}
	f, err := numArg("ceil", args[0])
	if err != nil {
		return table.Null(), err
	}
	return table.IntVal(int64(math.Ceil(f))), nil
}

func callFloor(args []table.Value) (table.Value, error) {
	if err := arity("floor", args, 1); err != nil {
		return table.Null(), err
	}
	if args[0].IsNull() {
		return table.Null(), nil
	}
	f, err := numArg("floor", args[0])
	if err != nil {
		return table.Null(), err
	}
	return table.IntVal(int64(math.Floor(f))), nil
}

func callRound(args []table.Value) (table.Value, error) {
	if len(args) != 1 && len(args) != 2 {
		return table.Null(), fmt.Errorf("round() takes 1 or 2 arguments, got %d", len(args))
	}
	if args[0].IsNull() {
		return table.Null(), nil
	}
	f, err := numArg("round", args[0])
	if err != nil {
		return table.Null(), err
	}
	digits := 0
	if len(args) == 2 {
		d, err := numArg("round", args[1])
		if err != nil {
			return table.Null(), err
		}
		digits = int(d)
	}
	if digits == 0 {
		return table.IntVal(int64(math.Round(f))), nil
	}
	scale := math.Pow(10, float64(digits))
	return table.FloatVal(math.Round(f*scale) / scale), nil
}

func callSqrt(args []table.Value) (table.Value, error) {
	if err := arity("sqrt", args, 1); err != nil {
		return table.Null(), err
	}
	if args[0].IsNull() {
		return table.Null(), nil
	}
	f, err := numArg("sqrt", args[0])
	if err != nil {
		return table.Null(), err
	}
	if f < 0 {
		return table.Null(), fmt.Errorf("sqrt: negative argument %g", f)
	}
	return table.FloatVal(math.Sqrt(f)), nil
}

func callPow(args []table.Value) (table.Value, error) {
	if err := arity("pow", args, 2); err != nil {
		return table.Null(), err
	}
	if args[0].IsNull() || args[1].IsNull() {
		return table.Null(), nil
	}
	base, err := numArg("pow", args[0])
	if err != nil {
		return table.Null(), err
	}
	exp, err := numArg("pow", args[1])
	if err != nil {
		return table.Null(), err
	}
	result := math.Pow(base, exp)
	if args[0].Type == table.TypeInt && args[1].Type == table.TypeInt && exp >= 0 && result == math.Trunc(result) {
		return table.IntVal(int64(result)), nil
	}
	return table.FloatVal(result), nil
}

// --- Strings ---

func callUpper(args []table.Value) (table.Value, error) {
	if err := arity("upper", args, 1); err != nil {
		return table.Null(), err
	}
	if args[0].IsNull() {
		return table.Null(), nil
	}
	return table.StrVal(strings.ToUpper(args[0].AsString())), nil
}

func callLower(args []table.Value) (table.Value, error) {
	if err := arity("lower", args, 1); err != nil {
		return table.Null(), err
	}
	if args[0].IsNull() {
		return table.Null(), nil
	}
	return table.StrVal(strings.ToLower(args[0].AsString())), nil
}

func makeTrim(trim func(string) string) scalarFunc {
	return func(args []table.Value) (table.Value, error) {
		if len(args) != 1 {
			return table.Null(), fmt.Errorf("trim() takes 1 argument, got %d", len(args))
		}
		if args[0].IsNull() {
			return table.Null(), nil
		}
		return table.StrVal(trim(args[0].AsString())), nil
	}
}

func callLen(args []table.Value) (table.Value, error) {
	if err := arity("len", args, 1); err != nil {
		return table.Null(), err
	}
	if args[0].IsNull() {
		return table.Null(), nil
	}
	if args[0].Type == table.TypeList {
		return table.IntVal(int64(len(args[0].List))), nil
	}
	return table.IntVal(int64(len(args[0].AsString()))), nil
}

func callSubstr(args []table.Value) (table.Value, error) {
	if err := arity("substr", args, 3); err != nil {
		return table.Null(), err
	}
	if args[0].IsNull() {
		return table.Null(), nil
	}
	s := args[0].AsString()
	startF, err := numArg("substr", args[1])
	if err != nil {
		return table.Null(), err
	}
	lenF, err := numArg("substr", args[2])
	if err != nil {
		return table.Null(), err
	}

	start := int(startF)
	length := int(lenF)
	if start < 0 {
		start = 0
	}
	if start >= len(s) || length <= 0 {
		return table.StrVal(""), nil
	}
	end := start + length
	if end > len(s) {
		end = len(s)
	}
	return table.StrVal(s[start:end]), nil
}

func callReplace(args []table.Value) (table.Value, error) {
	if err := arity("replace", args, 3); err != nil {
		return table.Null(), err
	}
	if args[0].IsNull() {
		return table.Null(), nil
	}
	return table.StrVal(strings.ReplaceAll(args[0].AsString(), args[1].AsString(), args[2].AsString())), nil
}

func callSplit(args []table.Value) (table.Value, error) {
	if err := arity("split", args, 2); err != nil {
		return table.Null(), err
	}
	if args[0].IsNull() {
		return table.Null(), nil
	}
	parts := strings.Split(args[0].AsString(), args[1].AsString())
	vals := make([]table.Value, len(parts))
	for i, p := range parts {
		vals[i] = table.StrVal(p)
	}
	return table.ListVal(vals), nil
}

// --- Conversions and null handling ---

func callTonumber(args []table.Value) (table.Value, error) {
	if err := arity("tonumber", args, 1); err != nil {
		return table.Null(), err
	}
	v := args[0]
	switch v.Type {
	case table.TypeNull, table.TypeInt, table.TypeFloat:
		return v, nil
	case table.TypeString:
		s := strings.TrimSpace(v.Str)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return table.IntVal(n), nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return table.FloatVal(f), nil
		}
		return table.Null(), nil
	case table.TypeBool:
		if v.Bool {
			return table.IntVal(1), nil
		}
		return table.IntVal(0), nil
	}
	return table.Null(), nil
}

func callTostring(args []table.Value) (table.Value, error) {
	if err := arity("tostring", args, 1); err != nil {
		return table.Null(), err
	}
	if args[0].IsNull() {
		return table.Null(), nil
	}
	return table.StrVal(args[0].AsString()), nil
}

func callIsnull(args []table.Value) (table.Value, error) {
	if err := arity("isnull", args, 1); err != nil {
		return table.Null(), err
	}
	return table.BoolVal(args[0].IsNull()), nil
}

func callIsnotnull(args []table.Value) (table.Value, error) {
	if err := arity("isnotnull", args, 1); err != nil {
		return table.Null(), err
	}
	return table.BoolVal(!args[0].IsNull()), nil
}

// --- Pattern matching ---

var (
	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}
)

// compilePattern caches compiled regexes so row-wise like/match calls
// compile each pattern once.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := patternCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache[pattern] = re
	return re, nil
}

// likeToRegexp translates a SQL-style like pattern (% and _ wildcards)
// into an anchored regex.
func likeToRegexp(pattern string) string {
	var sb strings.Builder
	sb.WriteString("^")
	for _, ch := range pattern {
		switch ch {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	sb.WriteString("$")
	return sb.String()
}

func callLike(args []table.Value) (table.Value, error) {
	if err := arity("like", args, 2); err != nil {
		return table.Null(), err
	}
	if args[0].IsNull() {
		return table.BoolVal(false), nil
	}
	re, err := compilePattern(likeToRegexp(args[1].AsString()))
	if err != nil {
		return table.Null(), fmt.Errorf("like: %w", err)
	}
	return table.BoolVal(re.MatchString(args[0].AsString())), nil
}

func callMatch(args []table.Value) (table.Value, error) {
	if err := arity("match", args, 2); err != nil {
		return table.Null(), err
	}
	if args[0].IsNull() {
		return table.BoolVal(false), nil
	}
	re, err := compilePattern(args[1].AsString())
	if err != nil {
		return table.Null(), fmt.Errorf("match: invalid pattern: %w", err)
	}
	return table.BoolVal(re.MatchString(args[0].AsString())), nil
}

func callIn(args []table.Value) (table.Value, error) {
	if len(args) < 2 {
		return table.Null(), fmt.Errorf("in() takes at least 2 arguments, got %d", len(args))
	}
	needle := args[0]
	for _, v := range args[1:] {
		eq, err := Comparison("==", needle, v)
		if err != nil {
			continue
		}
		if b, ok := eq.AsBool(); ok && b {
			return table.BoolVal(true), nil
		}
	}
	return table.BoolVal(false), nil
}

// --- Dates ---

var dateFormats = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
}

func makeDatePart(part string) scalarFunc {
	return func(args []table.Value) (table.Value, error) {
		if len(args) != 1 {
			return table.Null(), fmt.Errorf("%s() takes 1 argument, got %d", part, len(args))
		}
		if args[0].IsNull() {
			return table.Null(), nil
		}
		s := args[0].AsString()

		var t time.Time
		var err error
		parsed := false
		for _, layout := range dateFormats {
			if t, err = time.Parse(layout, s); err == nil {
				parsed = true
				break
			}
		}
		if !parsed {
			return table.Null(), fmt.Errorf("%s(): cannot parse %q as a date", part, s)
		}

		switch part {
		case "year":
			return table.IntVal(int64(t.Year())), nil
		case "month":
			return table.IntVal(int64(t.Month())), nil
		case "day":
			return table.IntVal(int64(t.Day())), nil
		}
		return table.Null(), nil
	}
}

// --- Lazy conditionals ---

func callIf(args []ast.Expr, ctx *Context) (table.Value, error) {
	if len(args) != 3 {
		return table.Null(), fmt.Errorf("if() takes 3 arguments (condition, then, else), got %d", len(args))
	}
	cond, err := Eval(args[0], ctx)
	if err != nil {
		return table.Null(), err
	}
	b, ok := cond.AsBool()
	if !ok {
		return table.Null(), fmt.Errorf("if: condition must be boolean")
	}
	if b {
		return Eval(args[1], ctx)
	}
	return Eval(args[2], ctx)
}

// callCase evaluates condition/value pairs in order, returning the
// value of the first true condition. A trailing unpaired argument is
// the default; without one, no match yields null.
func callCase(args []ast.Expr, ctx *Context) (table.Value, error) {
	if len(args) < 2 {
		return table.Null(), fmt.Errorf("case() takes at least 2 arguments, got %d", len(args))
	}
	i := 0
	for ; i+1 < len(args); i += 2 {
		cond, err := Eval(args[i], ctx)
		if err != nil {
			return table.Null(), err
		}
		b, ok := cond.AsBool()
		if !ok {
			return table.Null(), fmt.Errorf("case: condition %d must be boolean", i/2+1)
		}
		if b {
			return Eval(args[i+1], ctx)
		}
	}
	if i < len(args) {
		return Eval(args[i], ctx)
	}
	return table.Null(), nil
}

func callCoalesce(args []ast.Expr, ctx *Context) (table.Value, error) {
	if len(args) == 0 {
		return table.Null(), fmt.Errorf("coalesce() requires at least 1 argument")
	}
	for _, arg := range args {
		v, err := Eval(arg, ctx)
		if err != nil {
			return table.Null(), err
		}
		if !v.IsNull() {
			return v, nil
		}
	}
	return table.Null(), nil
}

func callNullif(args []ast.Expr, ctx *Context) (table.Value, error) {
	if len(args) != 2 {
		return table.Null(), fmt.Errorf("nullif() takes 2 arguments, got %d", len(args))
	}
	a, err := Eval(args[0], ctx)
	if err != nil {
		return table.Null(), err
	}
	b, err := Eval(args[1], ctx)
	if err != nil {
		return table.Null(), err
	}
	eq, err := Comparison("==", a, b)
	if err != nil {
		return table.Null(), err
	}
	if isEq, ok := eq.AsBool(); ok && isEq {
		return table.Null(), nil
	}
	return a, nil
}
