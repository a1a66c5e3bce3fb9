// Package engine executes logical plans against tables served by a
// registry.Resolver. Nodes evaluate bottom-up and are memoized per
// execution, so shared sub-plans run once. Input tables are treated as
// read-only: operators that change cells allocate fresh rows.
package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pipelang/pipeq/ast"
	"github.com/pipelang/pipeq/eval"
	"github.com/pipelang/pipeq/plan"
	"github.com/pipelang/pipeq/registry"
	"github.com/pipelang/pipeq/table"
)

// ExecutionError reports an operator-level failure: a type mismatch,
// division by zero, or a bad argument discovered on real data.
type ExecutionError struct {
	Op  string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// opErr tags an error with the failing operator. Errors that already
// identify themselves (unresolved fields, resolver misses, nested
// operators) pass through unchanged.
func opErr(op string, err error) error {
	var ufe *plan.UnresolvedFieldError
	if errors.As(err, &ufe) {
		if ufe.Op == "" {
			ufe.Op = op
		}
		return err
	}
	var ee *ExecutionError
	var snf *registry.SourceNotFoundError
	if errors.As(err, &ee) || errors.As(err, &snf) {
		return err
	}
	return &ExecutionError{Op: op, Err: err}
}

func unresolved(op, field string) error {
	return &plan.UnresolvedFieldError{Field: field, Op: op}
}

// OperatorFunc implements one Custom plan operator.
type OperatorFunc func(in *table.Table, args plan.Args) (*table.Table, error)

// Engine executes plans. One engine can serve many queries.
type Engine struct {
	resolver registry.Resolver
	ops      map[string]OperatorFunc
}

// New builds an engine over a resolver with the builtin operators
// registered.
func New(r registry.Resolver) *Engine {
	e := &Engine{resolver: r, ops: map[string]OperatorFunc{}}
	e.registerBuiltins()
	return e
}

// RegisterOperator adds or replaces a Custom operator implementation.
func (e *Engine) RegisterOperator(name string, fn OperatorFunc) {
	e.ops[name] = fn
}

// Execute runs the plan and returns the root node's table.
func (e *Engine) Execute(p *plan.Plan) (*table.Table, error) {
	ex := &executor{eng: e, p: p, memo: map[plan.NodeID]*table.Table{}}
	return ex.exec(p.Root())
}

type executor struct {
	eng  *Engine
	p    *plan.Plan
	memo map[plan.NodeID]*table.Table
}

func (ex *executor) exec(id plan.NodeID) (*table.Table, error) {
	if t, ok := ex.memo[id]; ok {
		return t, nil
	}
	t, err := ex.execNode(id)
	if err != nil {
		return nil, err
	}
	ex.memo[id] = t
	return t, nil
}

func (ex *executor) execNode(id plan.NodeID) (*table.Table, error) {
	switch n := ex.p.Node(id).(type) {
	case *plan.Source:
		return ex.execSource(n)

	case *plan.Filter:
		in, err := ex.exec(n.Input)
		if err != nil {
			return nil, err
		}
		return execFilter(n, in)

	case *plan.Project:
		in, err := ex.exec(n.Input)
		if err != nil {
			return nil, err
		}
		return execProject(n, in)

	case *plan.Extend:
		in, err := ex.exec(n.Input)
		if err != nil {
			return nil, err
		}
		return execExtend(n, in)

	case *plan.Aggregate:
		in, err := ex.exec(n.Input)
		if err != nil {
			return nil, err
		}
		return execAggregate(n, in)

	case *plan.Join:
		left, err := ex.exec(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := ex.exec(n.Right)
		if err != nil {
			return nil, err
		}
		if n.Lookup {
			return execLookup(n, left, right)
		}
		return execJoin(n, left, right)

	case *plan.Sort:
		in, err := ex.exec(n.Input)
		if err != nil {
			return nil, err
		}
		return execSort(n.Keys, in)

	case *plan.Limit:
		in, err := ex.exec(n.Input)
		if err != nil {
			return nil, err
		}
		return execLimit(n.N, n.FromTail, in), nil

	case *plan.TopK:
		in, err := ex.exec(n.Input)
		if err != nil {
			return nil, err
		}
		sorted, err := execSort(n.Keys, in)
		if err != nil {
			return nil, err
		}
		return execLimit(n.N, n.FromTail, sorted), nil

	case *plan.Dedup:
		in, err := ex.exec(n.Input)
		if err != nil {
			return nil, err
		}
		return execDedup(n, in)

	case *plan.Append:
		left, err := ex.exec(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := ex.exec(n.Right)
		if err != nil {
			return nil, err
		}
		return execAppend(left, right), nil

	case *plan.Custom:
		in, err := ex.exec(n.Input)
		if err != nil {
			return nil, err
		}
		fn, ok := ex.eng.ops[n.Op]
		if !ok {
			return nil, &ExecutionError{Op: n.Op, Err: fmt.Errorf("no such operator")}
		}
		out, err := fn(in, n.Args)
		if err != nil {
			return nil, opErr(n.Op, err)
		}
		return out, nil

	default:
		return nil, &ExecutionError{Op: "plan", Err: fmt.Errorf("unknown node %T", ex.p.Node(id))}
	}
}

func (ex *executor) execSource(n *plan.Source) (*table.Table, error) {
	t, err := ex.eng.resolver.Resolve(n.Name)
	if err != nil {
		return nil, err
	}
	if n.Kind != plan.SourceSearch || len(n.Params) == 0 {
		return t, nil
	}

	// Search parameters are equality terms over the index's rows. A
	// row without the field does not match.
	keys := make([]string, 0, len(n.Params))
	for k := range n.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := table.NewTable(t.Columns)
	for _, row := range t.Rows {
		match := true
		for _, k := range keys {
			idx := t.ColIndex(k)
			if idx < 0 || row.Values[idx].IsNull() || row.Values[idx].AsString() != n.Params[k] {
				match = false
				break
			}
		}
		if match {
			out.AddRow(row.Values)
		}
	}
	return out, nil
}

func execFilter(n *plan.Filter, in *table.Table) (*table.Table, error) {
	out := table.NewTable(in.Columns)
	ctx := &eval.Context{Table: in}
	for i := range in.Rows {
		ctx.Row = &in.Rows[i]
		keep, err := eval.Truthy(n.Pred, ctx)
		if err != nil {
			return nil, opErr("filter", err)
		}
		if keep {
			out.AddRow(in.Rows[i].Values)
		}
	}
	return out, nil
}

func execProject(n *plan.Project, in *table.Table) (*table.Table, error) {
	var keep []int
	var cols []string
	if n.Exclude {
		for i, c := range in.Columns {
			if !containsStr(n.Fields, c) {
				keep = append(keep, i)
				cols = append(cols, c)
			}
		}
	} else {
		keep = make([]int, len(n.Fields))
		for i, f := range n.Fields {
			idx := in.ColIndex(f)
			if idx < 0 {
				return nil, unresolved("select", f)
			}
			keep[i] = idx
		}
		cols = append([]string{}, n.Fields...)
	}

	out := table.NewTable(cols)
	for _, row := range in.Rows {
		vals := make([]table.Value, len(keep))
		for i, idx := range keep {
			vals[i] = row.Values[idx]
		}
		out.AddRow(vals)
	}
	return out, nil
}

// execExtend evaluates assignments left to right. Each assignment sees
// the targets assigned before it; a new column only becomes visible
// once its own assignment has run.
func execExtend(n *plan.Extend, in *table.Table) (*table.Table, error) {
	cols := append([]string{}, in.Columns...)
	slot := make([]int, len(n.Assignments))
	visible := make([]int, len(n.Assignments))
	for i, a := range n.Assignments {
		visible[i] = len(cols)
		idx := -1
		for j, c := range cols {
			if c == a.Field {
				idx = j
				break
			}
		}
		if idx < 0 {
			idx = len(cols)
			cols = append(cols, a.Field)
		}
		slot[i] = idx
	}

	// One view per assignment exposing the columns visible to it; the
	// row value slices are shared by prefix.
	views := make([]*table.Table, len(n.Assignments))
	for i := range n.Assignments {
		views[i] = table.NewTable(cols[:visible[i]])
	}

	out := table.NewTable(cols)
	ctx := &eval.Context{}
	for _, row := range in.Rows {
		vals := make([]table.Value, len(cols))
		copy(vals, row.Values)
		for i := len(row.Values); i < len(vals); i++ {
			vals[i] = table.Null()
		}
		for i, a := range n.Assignments {
			r := table.Row{Values: vals[:visible[i]]}
			ctx.Table = views[i]
			ctx.Row = &r
			v, err := eval.Eval(a.Expr, ctx)
			if err != nil {
				return nil, opErr("eval", err)
			}
			vals[slot[i]] = v
		}
		out.AddRow(vals)
	}
	return out, nil
}

func execAggregate(n *plan.Aggregate, in *table.Table) (*table.Table, error) {
	byIdx, err := keyIndexes(in, n.By, "stats")
	if err != nil {
		return nil, err
	}
	aggIdx := make([]int, len(n.Aggs))
	for i, a := range n.Aggs {
		aggIdx[i] = -1
		if a.Field != "" {
			idx := in.ColIndex(a.Field)
			if idx < 0 {
				return nil, unresolved("stats", a.Field)
			}
			aggIdx[i] = idx
		}
	}

	type group struct {
		keys []table.Value
		aggs []eval.Aggregator
	}
	newGroup := func(keys []table.Value) (*group, error) {
		g := &group{keys: keys, aggs: make([]eval.Aggregator, len(n.Aggs))}
		for i, a := range n.Aggs {
			agg, err := eval.NewAggregator(a.Func)
			if err != nil {
				return nil, opErr("stats", err)
			}
			g.aggs[i] = agg
		}
		return g, nil
	}

	groups := map[string]*group{}
	var order []*group

	// Grouping by nothing aggregates the whole table into one row,
	// even when it is empty.
	if len(n.By) == 0 {
		g, err := newGroup(nil)
		if err != nil {
			return nil, err
		}
		groups[""] = g
		order = append(order, g)
	}

	rowMarker := table.IntVal(1)
	for _, row := range in.Rows {
		key := ""
		var keys []table.Value
		if len(n.By) > 0 {
			keys = make([]table.Value, len(byIdx))
			for i, idx := range byIdx {
				keys[i] = row.Values[idx]
				key += keys[i].Key() + "\x00"
			}
		}
		g, ok := groups[key]
		if !ok {
			g, err = newGroup(keys)
			if err != nil {
				return nil, err
			}
			groups[key] = g
			order = append(order, g)
		}
		for i, idx := range aggIdx {
			v := rowMarker
			if idx >= 0 {
				v = row.Values[idx]
			}
			if err := g.aggs[i].Add(v); err != nil {
				return nil, opErr("stats", err)
			}
		}
	}

	// Groups emit sorted ascending by key, nulls last.
	sort.SliceStable(order, func(i, j int) bool {
		for k := range order[i].keys {
			if c := table.Compare(order[i].keys[k], order[j].keys[k]); c != 0 {
				return c < 0
			}
		}
		return false
	})

	cols := make([]string, 0, len(n.By)+len(n.Aggs))
	cols = append(cols, n.By...)
	for _, a := range n.Aggs {
		cols = append(cols, a.As)
	}
	out := table.NewTable(cols)
	for _, g := range order {
		vals := make([]table.Value, 0, len(cols))
		vals = append(vals, g.keys...)
		for _, agg := range g.aggs {
			vals = append(vals, agg.Result())
		}
		out.AddRow(vals)
	}
	return out, nil
}

func keyIndexes(t *table.Table, keys []string, op string) ([]int, error) {
	idxs := make([]int, len(keys))
	for i, k := range keys {
		idx := t.ColIndex(k)
		if idx < 0 {
			return nil, unresolved(op, k)
		}
		idxs[i] = idx
	}
	return idxs, nil
}

func rowKey(row table.Row, idxs []int) string {
	key := ""
	for _, idx := range idxs {
		key += row.Values[idx].Key() + "\x00"
	}
	return key
}

func execJoin(n *plan.Join, left, right *table.Table) (*table.Table, error) {
	leftIdx, err := keyIndexes(left, n.LeftKeys, "join")
	if err != nil {
		return nil, err
	}
	rightIdx, err := keyIndexes(right, n.RightKeys, "join")
	if err != nil {
		return nil, err
	}

	// Right columns carried into the output: everything but the keys,
	// suffixed when the name collides with a left column.
	var carry []int
	for i := range right.Columns {
		if !containsInt(rightIdx, i) {
			carry = append(carry, i)
		}
	}
	cols := append([]string{}, left.Columns...)
	for _, idx := range carry {
		name := right.Columns[idx]
		if left.ColIndex(name) >= 0 {
			name += n.Suffix
		}
		cols = append(cols, name)
	}

	byKey := map[string][]int{}
	for i, row := range right.Rows {
		k := rowKey(row, rightIdx)
		byKey[k] = append(byKey[k], i)
	}

	out := table.NewTable(cols)
	for _, lrow := range left.Rows {
		matches := byKey[rowKey(lrow, leftIdx)]
		if len(matches) == 0 {
			if n.Kind == plan.JoinInner {
				continue
			}
			vals := make([]table.Value, len(cols))
			copy(vals, lrow.Values)
			for i := len(lrow.Values); i < len(vals); i++ {
				vals[i] = table.Null()
			}
			out.AddRow(vals)
			continue
		}
		for _, ri := range matches {
			vals := make([]table.Value, 0, len(cols))
			vals = append(vals, lrow.Values...)
			for _, idx := range carry {
				vals = append(vals, right.Rows[ri].Values[idx])
			}
			out.AddRow(vals)
		}
	}
	return out, nil
}

// execLookup enriches left rows from the right table, keeping the
// first right row per key. Output fields overwrite left columns of the
// same name; misses fill with Default (null when unset).
func execLookup(n *plan.Join, left, right *table.Table) (*table.Table, error) {
	leftIdx, err := keyIndexes(left, n.LeftKeys, "lookup")
	if err != nil {
		return nil, err
	}
	rightIdx, err := keyIndexes(right, n.RightKeys, "lookup")
	if err != nil {
		return nil, err
	}

	outFields := n.Output
	if outFields == nil {
		for i, c := range right.Columns {
			if !containsInt(rightIdx, i) {
				outFields = append(outFields, c)
			}
		}
	}
	fieldIdx, err := keyIndexes(right, outFields, "lookup")
	if err != nil {
		return nil, err
	}

	byKey := map[string]int{}
	for i, row := range right.Rows {
		k := rowKey(row, rightIdx)
		if _, ok := byKey[k]; !ok {
			byKey[k] = i
		}
	}

	cols := append([]string{}, left.Columns...)
	slot := make([]int, len(outFields))
	for i, f := range outFields {
		idx := left.ColIndex(f)
		if idx < 0 {
			idx = len(cols)
			cols = append(cols, f)
		}
		slot[i] = idx
	}

	out := table.NewTable(cols)
	ctx := &eval.Context{Table: left}
	for li := range left.Rows {
		lrow := &left.Rows[li]
		vals := make([]table.Value, len(cols))
		copy(vals, lrow.Values)
		for i := len(lrow.Values); i < len(vals); i++ {
			vals[i] = table.Null()
		}

		if ri, ok := byKey[rowKey(*lrow, leftIdx)]; ok {
			for i, idx := range fieldIdx {
				vals[slot[i]] = right.Rows[ri].Values[idx]
			}
		} else {
			fill := table.Null()
			if n.Default != nil {
				ctx.Row = lrow
				fill, err = eval.Eval(n.Default, ctx)
				if err != nil {
					return nil, opErr("lookup", err)
				}
			}
			for _, s := range slot {
				vals[s] = fill
			}
		}
		out.AddRow(vals)
	}
	return out, nil
}

func execSort(keys []ast.SortKey, in *table.Table) (*table.Table, error) {
	idxs := make([]int, len(keys))
	for i, k := range keys {
		idx := in.ColIndex(k.Field)
		if idx < 0 {
			return nil, unresolved("sort", k.Field)
		}
		idxs[i] = idx
	}

	out := table.NewTable(in.Columns)
	out.Rows = append(out.Rows, in.Rows...)
	sort.SliceStable(out.Rows, func(a, b int) bool {
		for i, idx := range idxs {
			c := table.Compare(out.Rows[a].Values[idx], out.Rows[b].Values[idx])
			if keys[i].Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	return out, nil
}

func execLimit(n int, fromTail bool, in *table.Table) *table.Table {
	if n > len(in.Rows) {
		n = len(in.Rows)
	}
	out := table.NewTable(in.Columns)
	if fromTail {
		out.Rows = append(out.Rows, in.Rows[len(in.Rows)-n:]...)
	} else {
		out.Rows = append(out.Rows, in.Rows[:n]...)
	}
	return out
}

func execDedup(n *plan.Dedup, in *table.Table) (*table.Table, error) {
	var idxs []int
	if len(n.Fields) == 0 {
		idxs = make([]int, len(in.Columns))
		for i := range in.Columns {
			idxs[i] = i
		}
	} else {
		var err error
		idxs, err = keyIndexes(in, n.Fields, "dedup")
		if err != nil {
			return nil, err
		}
	}

	out := table.NewTable(in.Columns)
	if n.Consecutive {
		start := 0
		for i := 1; i <= len(in.Rows); i++ {
			if i < len(in.Rows) && rowKey(in.Rows[i], idxs) == rowKey(in.Rows[start], idxs) {
				continue
			}
			if n.KeepLast {
				out.AddRow(in.Rows[i-1].Values)
			} else {
				out.AddRow(in.Rows[start].Values)
			}
			start = i
		}
		return out, nil
	}

	if n.KeepLast {
		last := map[string]int{}
		for i := range in.Rows {
			last[rowKey(in.Rows[i], idxs)] = i
		}
		for i := range in.Rows {
			if last[rowKey(in.Rows[i], idxs)] == i {
				out.AddRow(in.Rows[i].Values)
			}
		}
		return out, nil
	}

	seen := map[string]bool{}
	for i := range in.Rows {
		k := rowKey(in.Rows[i], idxs)
		if seen[k] {
			continue
		}
		seen[k] = true
		out.AddRow(in.Rows[i].Values)
	}
	return out, nil
}

func execAppend(left, right *table.Table) *table.Table {
	cols := append([]string{}, left.Columns...)
	for _, c := range right.Columns {
		if !containsStr(cols, c) {
			cols = append(cols, c)
		}
	}

	out := table.NewTable(cols)
	addAligned := func(t *table.Table) {
		colIdx := make([]int, len(cols))
		for i, c := range cols {
			colIdx[i] = t.ColIndex(c)
		}
		for _, row := range t.Rows {
			vals := make([]table.Value, len(cols))
			for i, idx := range colIdx {
				if idx < 0 {
					vals[i] = table.Null()
				} else {
					vals[i] = row.Values[idx]
				}
			}
			out.AddRow(vals)
		}
	}
	addAligned(left)
	addAligned(right)
	return out
}

func containsStr(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func containsInt(list []int, n int) bool {
	for _, x := range list {
		if x == n {
			return true
		}
	}
	return false
}
