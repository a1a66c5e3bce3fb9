package engine

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/grafana/regexp"

	"github.com/pipelang/pipeq/eval"
	"github.com/pipelang/pipeq/plan"
	"github.com/pipelang/pipeq/table"
)

func (e *Engine) registerBuiltins() {
	e.ops["rename"] = opRename
	e.ops["fillnull"] = opFillnull
	e.ops["replace"] = opReplace
	e.ops["rex"] = opRex
	e.ops["mvexpand"] = opMvexpand
	e.ops["transpose"] = opTranspose
	e.ops["reverse"] = opReverse
	e.ops["top"] = opTop
	e.ops["sample"] = opSample
	e.ops["dropnull"] = opDropnull
	e.ops["bucket"] = opBucket
}

func opRename(in *table.Table, args plan.Args) (*table.Table, error) {
	a, ok := args.(*plan.RenameArgs)
	if !ok {
		return nil, fmt.Errorf("wrong argument type %T", args)
	}
	cols := append([]string{}, in.Columns...)
	for _, p := range a.Pairs {
		idx := in.ColIndex(p.Old)
		if idx < 0 {
			return nil, unresolved("rename", p.Old)
		}
		cols[idx] = p.New
	}
	out := table.NewTable(cols)
	out.Rows = append(out.Rows, in.Rows...)
	return out, nil
}

func opFillnull(in *table.Table, args plan.Args) (*table.Table, error) {
	a, ok := args.(*plan.FillnullArgs)
	if !ok {
		return nil, fmt.Errorf("wrong argument type %T", args)
	}
	idxs, err := allOrListed(in, a.Fields, "fillnull")
	if err != nil {
		return nil, err
	}

	switch a.Method {
	case "ffill":
		return fillDirectional(in, idxs, false), nil
	case "bfill":
		return fillDirectional(in, idxs, true), nil
	}

	out := table.NewTable(in.Columns)
	ctx := &eval.Context{Table: in}
	for ri := range in.Rows {
		row := &in.Rows[ri]
		hasNull := false
		for _, idx := range idxs {
			if row.Values[idx].IsNull() {
				hasNull = true
				break
			}
		}
		if !hasNull {
			out.AddRow(row.Values)
			continue
		}
		fill := table.IntVal(0)
		if a.Value != nil {
			ctx.Row = row
			fill, err = eval.Eval(a.Value, ctx)
			if err != nil {
				return nil, err
			}
		}
		vals := make([]table.Value, len(row.Values))
		copy(vals, row.Values)
		for _, idx := range idxs {
			if vals[idx].IsNull() {
				vals[idx] = fill
			}
		}
		out.AddRow(vals)
	}
	return out, nil
}

// fillDirectional carries the nearest non-null value of each column
// downward (ffill) or upward (bfill). Nulls before the first carried
// value stay null.
func fillDirectional(in *table.Table, idxs []int, up bool) *table.Table {
	out := table.NewTable(in.Columns)
	for _, row := range in.Rows {
		vals := make([]table.Value, len(row.Values))
		copy(vals, row.Values)
		out.AddRow(vals)
	}

	for _, idx := range idxs {
		carry := table.Null()
		if up {
			for i := len(out.Rows) - 1; i >= 0; i-- {
				if out.Rows[i].Values[idx].IsNull() {
					out.Rows[i].Values[idx] = carry
				} else {
					carry = out.Rows[i].Values[idx]
				}
			}
		} else {
			for i := range out.Rows {
				if out.Rows[i].Values[idx].IsNull() {
					out.Rows[i].Values[idx] = carry
				} else {
					carry = out.Rows[i].Values[idx]
				}
			}
		}
	}
	return out
}

func opReplace(in *table.Table, args plan.Args) (*table.Table, error) {
	a, ok := args.(*plan.ReplaceArgs)
	if !ok {
		return nil, fmt.Errorf("wrong argument type %T", args)
	}
	idx := in.ColIndex(a.Field)
	if idx < 0 {
		return nil, unresolved("replace", a.Field)
	}

	patterns := map[string]*regexp.Regexp{}
	out := table.NewTable(in.Columns)
	ctx := &eval.Context{Table: in}
	for ri := range in.Rows {
		row := &in.Rows[ri]
		ctx.Row = row
		oldV, err := eval.Eval(a.Old, ctx)
		if err != nil {
			return nil, err
		}
		newV, err := eval.Eval(a.New, ctx)
		if err != nil {
			return nil, err
		}

		cell := row.Values[idx]
		replaced := cell
		if a.Regex {
			if cell.Type == table.TypeString {
				pat := oldV.AsString()
				re := patterns[pat]
				if re == nil {
					re, err = regexp.Compile(pat)
					if err != nil {
						return nil, fmt.Errorf("invalid pattern %q: %v", pat, err)
					}
					patterns[pat] = re
				}
				replaced = table.StrVal(re.ReplaceAllString(cell.Str, newV.AsString()))
			}
		} else {
			eq, err := eval.Comparison("==", cell, oldV)
			if err != nil {
				return nil, err
			}
			if eq.Type == table.TypeBool && eq.Bool {
				replaced = newV
			}
		}

		vals := make([]table.Value, len(row.Values))
		copy(vals, row.Values)
		vals[idx] = replaced
		out.AddRow(vals)
	}
	return out, nil
}

func opRex(in *table.Table, args plan.Args) (*table.Table, error) {
	a, ok := args.(*plan.RexArgs)
	if !ok {
		return nil, fmt.Errorf("wrong argument type %T", args)
	}
	idx := in.ColIndex(a.Field)
	if idx < 0 {
		return nil, unresolved("rex", a.Field)
	}
	if a.Sed {
		return rexSed(in, idx, a.Pattern)
	}
	return rexExtract(in, idx, a)
}

func rexSed(in *table.Table, idx int, expr string) (*table.Table, error) {
	re, repl, global, err := parseSed(expr)
	if err != nil {
		return nil, err
	}
	out := table.NewTable(in.Columns)
	for _, row := range in.Rows {
		cell := row.Values[idx]
		if cell.Type != table.TypeString {
			out.AddRow(row.Values)
			continue
		}
		s := cell.Str
		if global {
			s = re.ReplaceAllString(s, repl)
		} else {
			s = replaceFirst(re, s, repl)
		}
		vals := make([]table.Value, len(row.Values))
		copy(vals, row.Values)
		vals[idx] = table.StrVal(s)
		out.AddRow(vals)
	}
	return out, nil
}

// parseSed splits a sed substitution like s/pat/repl/g. Any delimiter
// character works; a backslash escapes it inside a part.
func parseSed(expr string) (*regexp.Regexp, string, bool, error) {
	if len(expr) < 4 || expr[0] != 's' {
		return nil, "", false, fmt.Errorf("sed expression must look like s/pattern/replacement/")
	}
	delim := expr[1]
	var parts []string
	var cur strings.Builder
	body := expr[2:]
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '\\' && i+1 < len(body) && body[i+1] == delim {
			cur.WriteByte(delim)
			i++
			continue
		}
		if c == delim {
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	parts = append(parts, cur.String())
	if len(parts) < 2 {
		return nil, "", false, fmt.Errorf("sed expression must look like s%cpattern%creplacement%c", delim, delim, delim)
	}
	flags := ""
	if len(parts) >= 3 {
		flags = parts[2]
	}
	re, err := regexp.Compile(parts[0])
	if err != nil {
		return nil, "", false, fmt.Errorf("invalid pattern %q: %v", parts[0], err)
	}
	return re, parts[1], strings.Contains(flags, "g"), nil
}

func replaceFirst(re *regexp.Regexp, s, repl string) string {
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil {
		return s
	}
	var b []byte
	b = append(b, s[:loc[0]]...)
	b = re.ExpandString(b, repl, s, loc)
	b = append(b, s[loc[1]:]...)
	return string(b)
}

func rexExtract(in *table.Table, idx int, a *plan.RexArgs) (*table.Table, error) {
	re, err := regexp.Compile(convertNamedGroups(a.Pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %v", a.Pattern, err)
	}

	// One output column per capture group; unnamed groups become
	// extract_N by ordinal.
	names := re.SubexpNames()
	var groups []int
	var base []string
	for gi := 1; gi < len(names); gi++ {
		n := names[gi]
		if n == "" {
			n = fmt.Sprintf("extract_%d", gi)
		}
		groups = append(groups, gi)
		base = append(base, n)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("pattern %q has no capture groups", a.Pattern)
	}

	max := a.MaxMatch
	if max < 1 {
		max = 1
	}

	cols := append([]string{}, in.Columns...)
	slots := make([][]int, max)
	for m := 0; m < max; m++ {
		slots[m] = make([]int, len(base))
		for g, b := range base {
			name := b
			if m > 0 {
				name = fmt.Sprintf("%s_%d", b, m+1)
			}
			s := -1
			for ci, c := range cols {
				if c == name {
					s = ci
					break
				}
			}
			if s < 0 {
				s = len(cols)
				cols = append(cols, name)
			}
			slots[m][g] = s
		}
	}

	out := table.NewTable(cols)
	for _, row := range in.Rows {
		vals := make([]table.Value, len(cols))
		copy(vals, row.Values)
		for i := len(row.Values); i < len(vals); i++ {
			vals[i] = table.Null()
		}
		cell := row.Values[idx]
		if !cell.IsNull() {
			s := cell.AsString()
			for m, loc := range re.FindAllStringSubmatchIndex(s, max) {
				for g, gi := range groups {
					if loc[2*gi] >= 0 {
						vals[slots[m][g]] = table.StrVal(s[loc[2*gi]:loc[2*gi+1]])
					}
				}
			}
		}
		out.AddRow(vals)
	}
	return out, nil
}

// convertNamedGroups rewrites (?<name>...) groups to Go's (?P<name>...)
// form.
func convertNamedGroups(pattern string) string {
	return strings.ReplaceAll(pattern, "(?<", "(?P<")
}

func opMvexpand(in *table.Table, args plan.Args) (*table.Table, error) {
	a, ok := args.(*plan.MvexpandArgs)
	if !ok {
		return nil, fmt.Errorf("wrong argument type %T", args)
	}
	idx := in.ColIndex(a.Field)
	if idx < 0 {
		return nil, unresolved("mvexpand", a.Field)
	}

	out := table.NewTable(in.Columns)
	for _, row := range in.Rows {
		var elems []table.Value
		switch cell := row.Values[idx]; cell.Type {
		case table.TypeList:
			elems = cell.List
		case table.TypeString:
			for _, part := range strings.Split(cell.Str, a.Delim) {
				elems = append(elems, table.StrVal(strings.TrimSpace(part)))
			}
		default:
			out.AddRow(row.Values)
			continue
		}
		if a.Limit > 0 && len(elems) > a.Limit {
			elems = elems[:a.Limit]
		}
		for _, el := range elems {
			vals := make([]table.Value, len(row.Values))
			copy(vals, row.Values)
			vals[idx] = el
			out.AddRow(vals)
		}
	}
	return out, nil
}

// opTranspose rotates the table: each input column becomes a row whose
// first cell is the column name. Output columns are row_1..row_N, or
// the values of HeaderField when set.
func opTranspose(in *table.Table, args plan.Args) (*table.Table, error) {
	a, ok := args.(*plan.TransposeArgs)
	if !ok {
		return nil, fmt.Errorf("wrong argument type %T", args)
	}
	headerIdx := -1
	if a.HeaderField != "" {
		headerIdx = in.ColIndex(a.HeaderField)
		if headerIdx < 0 {
			return nil, unresolved("transpose", a.HeaderField)
		}
	}

	cols := make([]string, 0, len(in.Rows)+1)
	cols = append(cols, "field")
	for ri, row := range in.Rows {
		if headerIdx >= 0 {
			cols = append(cols, row.Values[headerIdx].AsString())
		} else {
			cols = append(cols, fmt.Sprintf("row_%d", ri+1))
		}
	}

	out := table.NewTable(cols)
	for ci, c := range in.Columns {
		if ci == headerIdx && !a.IncludeHeader {
			continue
		}
		vals := make([]table.Value, 0, len(cols))
		vals = append(vals, table.StrVal(c))
		for _, row := range in.Rows {
			vals = append(vals, row.Values[ci])
		}
		out.AddRow(vals)
	}
	return out, nil
}

func opReverse(in *table.Table, args plan.Args) (*table.Table, error) {
	if _, ok := args.(*plan.ReverseArgs); !ok {
		return nil, fmt.Errorf("wrong argument type %T", args)
	}
	out := table.NewTable(in.Columns)
	for i := len(in.Rows) - 1; i >= 0; i-- {
		out.AddRow(in.Rows[i].Values)
	}
	return out, nil
}

// opTop counts distinct value combinations of Fields, per By group, and
// keeps the N most frequent (least frequent with Rare). Groups emit
// sorted ascending by key; combinations within a group by count, ties
// in first-seen order.
func opTop(in *table.Table, args plan.Args) (*table.Table, error) {
	a, ok := args.(*plan.TopArgs)
	if !ok {
		return nil, fmt.Errorf("wrong argument type %T", args)
	}
	byIdx, err := keyIndexes(in, a.By, "top")
	if err != nil {
		return nil, err
	}
	fieldIdx, err := keyIndexes(in, a.Fields, "top")
	if err != nil {
		return nil, err
	}

	type combo struct {
		vals []table.Value
		n    int
	}
	type group struct {
		keys   []table.Value
		combos []*combo
		byKey  map[string]*combo
		total  int
	}

	groups := map[string]*group{}
	var order []*group
	for _, row := range in.Rows {
		gk := rowKey(row, byIdx)
		g := groups[gk]
		if g == nil {
			keys := make([]table.Value, len(byIdx))
			for i, idx := range byIdx {
				keys[i] = row.Values[idx]
			}
			g = &group{keys: keys, byKey: map[string]*combo{}}
			groups[gk] = g
			order = append(order, g)
		}
		g.total++

		fk := rowKey(row, fieldIdx)
		c := g.byKey[fk]
		if c == nil {
			vals := make([]table.Value, len(fieldIdx))
			for i, idx := range fieldIdx {
				vals[i] = row.Values[idx]
			}
			c = &combo{vals: vals}
			g.byKey[fk] = c
			g.combos = append(g.combos, c)
		}
		c.n++
	}

	sort.SliceStable(order, func(i, j int) bool {
		for k := range order[i].keys {
			if c := table.Compare(order[i].keys[k], order[j].keys[k]); c != 0 {
				return c < 0
			}
		}
		return false
	})

	cols := make([]string, 0, len(a.By)+len(a.Fields)+2)
	cols = append(cols, a.By...)
	cols = append(cols, a.Fields...)
	if a.ShowCount {
		cols = append(cols, "count")
	}
	if a.ShowPerc {
		cols = append(cols, "percent")
	}

	out := table.NewTable(cols)
	for _, g := range order {
		sort.SliceStable(g.combos, func(i, j int) bool {
			if a.Rare {
				return g.combos[i].n < g.combos[j].n
			}
			return g.combos[i].n > g.combos[j].n
		})
		n := a.N
		if n > len(g.combos) {
			n = len(g.combos)
		}
		for _, c := range g.combos[:n] {
			vals := make([]table.Value, 0, len(cols))
			vals = append(vals, g.keys...)
			vals = append(vals, c.vals...)
			if a.ShowCount {
				vals = append(vals, table.IntVal(int64(c.n)))
			}
			if a.ShowPerc {
				perc := float64(c.n) / float64(g.total) * 100
				vals = append(vals, table.FloatVal(math.Round(perc*100)/100))
			}
			out.AddRow(vals)
		}
	}
	return out, nil
}

func opSample(in *table.Table, args plan.Args) (*table.Table, error) {
	a, ok := args.(*plan.SampleArgs)
	if !ok {
		return nil, fmt.Errorf("wrong argument type %T", args)
	}
	seed := a.Seed
	if !a.SeedSet {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	out := table.NewTable(in.Columns)
	if a.Ratio > 0 {
		for _, row := range in.Rows {
			if rng.Float64() < a.Ratio {
				out.AddRow(row.Values)
			}
		}
		return out, nil
	}

	n := a.N
	if n > len(in.Rows) {
		n = len(in.Rows)
	}
	picked := rng.Perm(len(in.Rows))[:n]
	sort.Ints(picked)
	for _, i := range picked {
		out.AddRow(in.Rows[i].Values)
	}
	return out, nil
}

func opDropnull(in *table.Table, args plan.Args) (*table.Table, error) {
	a, ok := args.(*plan.DropnullArgs)
	if !ok {
		return nil, fmt.Errorf("wrong argument type %T", args)
	}
	idxs, err := allOrListed(in, a.Fields, "dropnull")
	if err != nil {
		return nil, err
	}

	out := table.NewTable(in.Columns)
	for _, row := range in.Rows {
		nulls := 0
		for _, idx := range idxs {
			if row.Values[idx].IsNull() {
				nulls++
			}
		}
		drop := nulls > 0
		if a.All {
			drop = len(idxs) > 0 && nulls == len(idxs)
		}
		if !drop {
			out.AddRow(row.Values)
		}
	}
	return out, nil
}

func opBucket(in *table.Table, args plan.Args) (*table.Table, error) {
	a, ok := args.(*plan.BucketArgs)
	if !ok {
		return nil, fmt.Errorf("wrong argument type %T", args)
	}
	idx := in.ColIndex(a.Field)
	if idx < 0 {
		return nil, unresolved("bucket", a.Field)
	}
	if a.Span <= 0 {
		return nil, fmt.Errorf("span must be positive, got %g", a.Span)
	}

	out := table.NewTable(in.Columns)
	for _, row := range in.Rows {
		cell := row.Values[idx]
		if cell.IsNull() {
			out.AddRow(row.Values)
			continue
		}
		f, okNum := cell.AsFloat()
		if !okNum {
			return nil, fmt.Errorf("field %q is not numeric", a.Field)
		}
		b := math.Floor(f/a.Span) * a.Span
		binned := table.FloatVal(b)
		if cell.Type == table.TypeInt && a.Span == math.Trunc(a.Span) {
			binned = table.IntVal(int64(b))
		}
		vals := make([]table.Value, len(row.Values))
		copy(vals, row.Values)
		vals[idx] = binned
		out.AddRow(vals)
	}
	return out, nil
}

// allOrListed resolves the listed fields, or every column when the list
// is empty.
func allOrListed(t *table.Table, fields []string, op string) ([]int, error) {
	if len(fields) == 0 {
		idxs := make([]int, len(t.Columns))
		for i := range t.Columns {
			idxs[i] = i
		}
		return idxs, nil
	}
	return keyIndexes(t, fields, op)
}
