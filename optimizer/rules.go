package optimizer

import (
	"github.com/pipelang/pipeq/ast"
	"github.com/pipelang/pipeq/eval"
	"github.com/pipelang/pipeq/plan"
	"github.com/pipelang/pipeq/table"
)

// foldCtx is the row context for folding field-free expressions; field
// lookups cannot occur on them.
var foldCtx = &eval.Context{Table: table.NewTable(nil)}

// foldConstants replaces field-free subexpressions with their literal
// value. Expressions that fail to evaluate (division by zero, bad
// arguments) are left alone so the error surfaces at execution.
func foldConstants(r *rewriter, id plan.NodeID) (plan.NodeID, bool) {
	changed := false
	fold := func(e ast.Expr) ast.Expr {
		out, c := foldExpr(e)
		changed = changed || c
		return out
	}

	switch n := r.p.Node(id).(type) {
	case *plan.Filter:
		n.Pred = fold(n.Pred)
	case *plan.Extend:
		for i := range n.Assignments {
			n.Assignments[i].Expr = fold(n.Assignments[i].Expr)
		}
	case *plan.Join:
		if n.Default != nil {
			n.Default = fold(n.Default)
		}
	case *plan.Custom:
		switch a := n.Args.(type) {
		case *plan.FillnullArgs:
			if a.Value != nil {
				a.Value = fold(a.Value)
			}
		case *plan.ReplaceArgs:
			a.Old = fold(a.Old)
			a.New = fold(a.New)
		}
	}
	return id, changed
}

// foldExpr rewrites bottom-up without mutating the input tree.
func foldExpr(e ast.Expr) (ast.Expr, bool) {
	if _, isLit := e.(*ast.LiteralExpr); !isLit && len(ast.Fields(e)) == 0 {
		if v, err := eval.Eval(e, foldCtx); err == nil {
			if lit, ok := eval.ToLiteral(v); ok {
				return lit, true
			}
		}
		// Fall through on error: children may still fold, and the
		// failing part keeps its error for execution time.
	}

	switch n := e.(type) {
	case *ast.UnaryExpr:
		if op, c := foldExpr(n.Operand); c {
			return &ast.UnaryExpr{Op: n.Op, Operand: op}, true
		}
	case *ast.BinaryExpr:
		left, lc := foldExpr(n.Left)
		right, rc := foldExpr(n.Right)
		if out, ok := simplifyLogical(n.Op, left, right); ok {
			return out, true
		}
		if lc || rc {
			return &ast.BinaryExpr{Op: n.Op, Left: left, Right: right}, true
		}
	case *ast.FuncCallExpr:
		args := make([]ast.Expr, len(n.Args))
		c := false
		for i, a := range n.Args {
			var ac bool
			args[i], ac = foldExpr(a)
			c = c || ac
		}
		if c {
			return &ast.FuncCallExpr{Name: n.Name, Args: args}, true
		}
	}
	return e, false
}

// simplifyLogical removes boolean identities that short-circuit
// evaluation makes safe: a literal left operand decides or defers; a
// literal-true right operand of and (or false of or) never changes the
// result once the left side type-checked.
func simplifyLogical(op string, left, right ast.Expr) (ast.Expr, bool) {
	if op != "and" && op != "or" {
		return nil, false
	}
	if lb, ok := boolLit(left); ok {
		if op == "and" {
			if lb {
				return right, true
			}
			return left, true
		}
		if lb {
			return left, true
		}
		return right, true
	}
	if rb, ok := boolLit(right); ok {
		if (op == "and" && rb) || (op == "or" && !rb) {
			return left, true
		}
	}
	return nil, false
}

func boolLit(e ast.Expr) (bool, bool) {
	lit, ok := e.(*ast.LiteralExpr)
	if !ok || lit.Kind != "bool" {
		return false, false
	}
	return lit.Bool, true
}

// mergeFilters conjoins a filter directly above another. The inner
// predicate becomes the left conjunct, so it still evaluates first.
func mergeFilters(r *rewriter, id plan.NodeID) (plan.NodeID, bool) {
	f, ok := r.p.Node(id).(*plan.Filter)
	if !ok {
		return id, false
	}
	inner, ok := r.p.Node(f.Input).(*plan.Filter)
	if !ok {
		return id, false
	}
	f.Pred = &ast.BinaryExpr{Op: "and", Left: inner.Pred, Right: f.Pred}
	f.Input = inner.Input
	return id, true
}

// removeTrueFilter drops filters whose predicate folded to true.
func removeTrueFilter(r *rewriter, id plan.NodeID) (plan.NodeID, bool) {
	f, ok := r.p.Node(id).(*plan.Filter)
	if !ok {
		return id, false
	}
	if b, ok := boolLit(f.Pred); !ok || !b {
		return id, false
	}
	return f.Input, true
}

// pushDownFilter moves a filter toward its source through operators
// that cannot change which rows satisfy it, one level per firing.
//
// Sort always commutes: a filter keeps the relative order of the rows
// it keeps. A projection commutes when every predicate field survives
// it. An extend commutes when the predicate reads none of the assigned
// fields. A dedup commutes when the predicate reads only dedup key
// fields, so whole key groups pass or fail together; consecutive dedup
// is excluded because dropping a run can merge its neighbors into one.
// Filters never move below Limit, TopK or Aggregate.
func pushDownFilter(r *rewriter, id plan.NodeID) (plan.NodeID, bool) {
	f, ok := r.p.Node(id).(*plan.Filter)
	if !ok {
		return id, false
	}

	switch in := r.p.Node(f.Input).(type) {
	case *plan.Join:
		return pushFilterIntoJoin(r, id, f, in)
	case *plan.Sort:
		return sinkFilter(f, id, &in.Input)
	case *plan.Project:
		fields := ast.Fields(f.Pred)
		if in.Exclude && anyIn(fields, in.Fields) {
			return id, false
		}
		if !in.Exclude && !allIn(fields, in.Fields) {
			return id, false
		}
		return sinkFilter(f, id, &in.Input)
	case *plan.Extend:
		fields := ast.Fields(f.Pred)
		for _, a := range in.Assignments {
			if contains(fields, a.Field) {
				return id, false
			}
		}
		return sinkFilter(f, id, &in.Input)
	case *plan.Dedup:
		if in.Consecutive {
			return id, false
		}
		if len(in.Fields) > 0 && !allIn(ast.Fields(f.Pred), in.Fields) {
			return id, false
		}
		return sinkFilter(f, id, &in.Input)
	}
	return id, false
}

// sinkFilter swaps a filter with its input node, whose input pointer
// is passed in. The former input becomes the new subtree top.
func sinkFilter(f *plan.Filter, id plan.NodeID, input *plan.NodeID) (plan.NodeID, bool) {
	top := f.Input
	f.Input = *input
	*input = id
	return top, true
}

// pushFilterIntoJoin moves filter conjuncts below a join, toward the
// side that owns their fields.
//
// A conjunct can move left when every field it references is a known
// left column: colliding right columns get suffixed, so those names
// always bind left, and both join kinds keep left rows' values intact.
// For a lookup the conjunct additionally must not touch the copied
// output fields, which may overwrite left columns.
//
// A conjunct can move right only for an inner join when the left shape
// is closed and owns none of its fields, so every name binds an
// unsuffixed right column. Left joins never push right: the filter
// must still see the null-extended rows.
func pushFilterIntoJoin(r *rewriter, id plan.NodeID, f *plan.Filter, j *plan.Join) (plan.NodeID, bool) {
	leftShape := r.p.OutputShape(j.Left)
	rightShape := r.p.OutputShape(j.Right)

	var toLeft, toRight, rest []ast.Expr
	for _, c := range splitConjuncts(f.Pred) {
		fields := ast.Fields(c)
		switch {
		case len(fields) == 0:
			rest = append(rest, c)
		case pushableLeft(j, fields, leftShape):
			toLeft = append(toLeft, c)
		case pushableRight(j, fields, leftShape, rightShape):
			toRight = append(toRight, c)
		default:
			rest = append(rest, c)
		}
	}
	if len(toLeft) == 0 && len(toRight) == 0 {
		return id, false
	}

	if len(toLeft) > 0 {
		j.Left = r.p.Add(&plan.Filter{Input: j.Left, Pred: joinConjuncts(toLeft)})
	}
	if len(toRight) > 0 {
		j.Right = r.p.Add(&plan.Filter{Input: j.Right, Pred: joinConjuncts(toRight)})
	}
	if len(rest) == 0 {
		return f.Input, true
	}
	f.Pred = joinConjuncts(rest)
	return id, true
}

func pushableLeft(j *plan.Join, fields []string, left plan.Shape) bool {
	if !allIn(fields, left.Fields) {
		return false
	}
	if j.Lookup {
		if j.Output == nil {
			return false
		}
		return !anyIn(fields, j.Output)
	}
	return true
}

func pushableRight(j *plan.Join, fields []string, left, right plan.Shape) bool {
	if j.Kind != plan.JoinInner || j.Lookup || left.Open {
		return false
	}
	return allIn(fields, right.Fields) && !anyIn(fields, left.Fields)
}

// splitConjuncts flattens a tree of and nodes into its conjuncts in
// evaluation order.
func splitConjuncts(e ast.Expr) []ast.Expr {
	if b, ok := e.(*ast.BinaryExpr); ok && b.Op == "and" {
		return append(splitConjuncts(b.Left), splitConjuncts(b.Right)...)
	}
	return []ast.Expr{e}
}

func joinConjuncts(es []ast.Expr) ast.Expr {
	out := es[0]
	for _, e := range es[1:] {
		out = &ast.BinaryExpr{Op: "and", Left: out, Right: e}
	}
	return out
}

// collapseProjects combines two stacked projections into one.
func collapseProjects(r *rewriter, id plan.NodeID) (plan.NodeID, bool) {
	outer, ok := r.p.Node(id).(*plan.Project)
	if !ok {
		return id, false
	}
	inner, ok := r.p.Node(outer.Input).(*plan.Project)
	if !ok {
		return id, false
	}

	switch {
	case !outer.Exclude:
		// The outer include list fully determines the output; the
		// planner already checked it against the inner projection.
		outer.Input = inner.Input
	case inner.Exclude:
		outer.Fields = union(inner.Fields, outer.Fields)
		outer.Input = inner.Input
	default:
		// include then exclude: keep the included fields that survive.
		outer.Exclude = false
		outer.Fields = minus(inner.Fields, outer.Fields)
		outer.Input = inner.Input
	}
	return id, true
}

// pruneExtend drops computed fields that the consumer above cannot
// observe. Assignments are scanned right to left so a kept assignment
// protects the fields its expression reads, including targets of
// earlier assignments.
func pruneExtend(r *rewriter, id plan.NodeID) (plan.NodeID, bool) {
	var needed []string
	var input *plan.NodeID

	switch n := r.p.Node(id).(type) {
	case *plan.Project:
		if n.Exclude {
			return id, false
		}
		needed = n.Fields
		input = &n.Input
	case *plan.Aggregate:
		needed = append(needed, n.By...)
		for _, a := range n.Aggs {
			if a.Field != "" {
				needed = append(needed, a.Field)
			}
		}
		input = &n.Input
	default:
		return id, false
	}

	ext, ok := r.p.Node(*input).(*plan.Extend)
	if !ok {
		return id, false
	}

	need := map[string]bool{}
	for _, f := range needed {
		need[f] = true
	}
	keep := make([]bool, len(ext.Assignments))
	kept := 0
	for i := len(ext.Assignments) - 1; i >= 0; i-- {
		a := ext.Assignments[i]
		if !need[a.Field] {
			continue
		}
		keep[i] = true
		kept++
		delete(need, a.Field)
		for _, f := range ast.Fields(a.Expr) {
			need[f] = true
		}
	}
	if kept == len(ext.Assignments) {
		return id, false
	}
	if kept == 0 {
		*input = ext.Input
		return id, true
	}
	out := ext.Assignments[:0]
	for i, a := range ext.Assignments {
		if keep[i] {
			out = append(out, a)
		}
	}
	ext.Assignments = out
	return id, true
}

// fuseSortLimit turns a limit directly above a sort into a TopK node,
// which selects without ordering the whole input.
func fuseSortLimit(r *rewriter, id plan.NodeID) (plan.NodeID, bool) {
	l, ok := r.p.Node(id).(*plan.Limit)
	if !ok {
		return id, false
	}
	s, ok := r.p.Node(l.Input).(*plan.Sort)
	if !ok {
		return id, false
	}
	return r.p.Add(&plan.TopK{
		Input:    s.Input,
		N:        l.N,
		Keys:     s.Keys,
		FromTail: l.FromTail,
	}), true
}

// mergeLimits combines stacked limits taking from the same end, and
// absorbs a limit into a TopK below it.
func mergeLimits(r *rewriter, id plan.NodeID) (plan.NodeID, bool) {
	l, ok := r.p.Node(id).(*plan.Limit)
	if !ok {
		return id, false
	}
	switch in := r.p.Node(l.Input).(type) {
	case *plan.Limit:
		if in.FromTail != l.FromTail {
			return id, false
		}
		if l.N < in.N {
			in.N = l.N
		}
		return l.Input, true
	case *plan.TopK:
		if in.FromTail != l.FromTail {
			return id, false
		}
		if l.N < in.N {
			in.N = l.N
		}
		return l.Input, true
	}
	return id, false
}

// dropDuplicateSort removes a sort whose input is already ordered by
// the same keys. Sorts with different keys are kept: the stable sort
// contract makes the inner order observable through ties.
func dropDuplicateSort(r *rewriter, id plan.NodeID) (plan.NodeID, bool) {
	s, ok := r.p.Node(id).(*plan.Sort)
	if !ok {
		return id, false
	}
	switch in := r.p.Node(s.Input).(type) {
	case *plan.Sort:
		if keysEqual(s.Keys, in.Keys) {
			return s.Input, true
		}
	case *plan.TopK:
		if keysEqual(s.Keys, in.Keys) {
			return s.Input, true
		}
	}
	return id, false
}

// dropDuplicateDedup removes a dedup over input that a full dedup on a
// subset of its fields already made distinct.
func dropDuplicateDedup(r *rewriter, id plan.NodeID) (plan.NodeID, bool) {
	d, ok := r.p.Node(id).(*plan.Dedup)
	if !ok {
		return id, false
	}
	inner, ok := r.p.Node(d.Input).(*plan.Dedup)
	if !ok || inner.Consecutive {
		return id, false
	}
	// Empty field lists mean all fields.
	if len(inner.Fields) == 0 {
		if len(d.Fields) != 0 {
			return id, false
		}
		return d.Input, true
	}
	if len(d.Fields) != 0 && !allIn(inner.Fields, d.Fields) {
		return id, false
	}
	return d.Input, true
}

// cancelReverse removes back-to-back reversals.
func cancelReverse(r *rewriter, id plan.NodeID) (plan.NodeID, bool) {
	outer, ok := r.p.Node(id).(*plan.Custom)
	if !ok || outer.Op != "reverse" {
		return id, false
	}
	inner, ok := r.p.Node(outer.Input).(*plan.Custom)
	if !ok || inner.Op != "reverse" {
		return id, false
	}
	return inner.Input, true
}

func allIn(fields, in []string) bool {
	for _, f := range fields {
		if !contains(in, f) {
			return false
		}
	}
	return true
}

func anyIn(fields, in []string) bool {
	for _, f := range fields {
		if contains(in, f) {
			return true
		}
	}
	return false
}

func contains(list []string, f string) bool {
	for _, x := range list {
		if x == f {
			return true
		}
	}
	return false
}

func union(a, b []string) []string {
	out := append([]string{}, a...)
	for _, f := range b {
		if !contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

func minus(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, f := range a {
		if !contains(b, f) {
			out = append(out, f)
		}
	}
	return out
}

func keysEqual(a, b []ast.SortKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
