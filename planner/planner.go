package planner

import (
	"fmt"

	"github.com/pipelang/pipeq/ast"
	"github.com/pipelang/pipeq/eval"
	"github.com/pipelang/pipeq/plan"
)

// Plan lowers a parsed pipeline into a logical plan. Stages map one to
// one onto plan nodes (commands without a dedicated node type become
// Custom operators); sub-searches are lowered recursively into the
// same arena as independent subgraphs.
//
// Field references are validated against each node's statically known
// output shape. References into an open shape (sources, rex output)
// are deferred to execution time.
func Plan(pipeline *ast.Pipeline) (*plan.Plan, error) {
	l := &lowerer{p: plan.New()}
	root, err := l.lowerPipeline(pipeline)
	if err != nil {
		return nil, err
	}
	l.p.SetRoot(root)
	return l.p, nil
}

type lowerer struct {
	p *plan.Plan
}

func (l *lowerer) lowerPipeline(pipeline *ast.Pipeline) (plan.NodeID, error) {
	if len(pipeline.Stages) == 0 {
		return plan.Invalid, fmt.Errorf("empty pipeline")
	}
	cur, err := l.lowerSource(pipeline.Stages[0])
	if err != nil {
		return plan.Invalid, err
	}
	for _, stage := range pipeline.Stages[1:] {
		cur, err = l.lowerStage(cur, stage)
		if err != nil {
			return plan.Invalid, err
		}
	}
	return cur, nil
}

func (l *lowerer) lowerSource(stage ast.Stage) (plan.NodeID, error) {
	switch s := stage.(type) {
	case *ast.CacheStage:
		return l.p.Add(&plan.Source{Kind: plan.SourceCache, Name: s.Name}), nil
	case *ast.SearchStage:
		return l.p.Add(&plan.Source{Kind: plan.SourceSearch, Name: s.Index, Params: s.Params}), nil
	case *ast.SourceStage:
		return l.p.Add(&plan.Source{Kind: plan.SourceTable, Name: s.Name}), nil
	}
	return plan.Invalid, fmt.Errorf("pipeline must start with a source stage, got %T", stage)
}

func (l *lowerer) lowerStage(cur plan.NodeID, stage ast.Stage) (plan.NodeID, error) {
	switch s := stage.(type) {
	case *ast.CacheStage, *ast.SearchStage, *ast.SourceStage:
		return plan.Invalid, fmt.Errorf("source stage %T after the first stage", stage)

	case *ast.FilterStage:
		if err := l.checkFields(cur, "filter", ast.Fields(s.Pred)...); err != nil {
			return plan.Invalid, err
		}
		return l.p.Add(&plan.Filter{Input: cur, Pred: s.Pred}), nil

	case *ast.HeadStage:
		return l.p.Add(&plan.Limit{Input: cur, N: s.N}), nil

	case *ast.TailStage:
		return l.p.Add(&plan.Limit{Input: cur, N: s.N, FromTail: true}), nil

	case *ast.SampleStage:
		return l.p.Add(&plan.Custom{Input: cur, Op: "sample", Args: &plan.SampleArgs{
			N: s.N, Ratio: s.Ratio, Seed: s.Seed, SeedSet: s.SeedSet,
		}}), nil

	case *ast.DedupStage:
		if err := l.checkFields(cur, "dedup", s.Fields...); err != nil {
			return plan.Invalid, err
		}
		if len(s.SortBy) > 0 {
			if err := l.checkFields(cur, "dedup", sortFields(s.SortBy)...); err != nil {
				return plan.Invalid, err
			}
			cur = l.p.Add(&plan.Sort{Input: cur, Keys: s.SortBy})
		}
		return l.p.Add(&plan.Dedup{Input: cur, Fields: s.Fields, KeepLast: s.KeepLast, Consecutive: s.Consecutive}), nil

	case *ast.DropnullStage:
		if err := l.checkFields(cur, "dropnull", s.Fields...); err != nil {
			return plan.Invalid, err
		}
		return l.p.Add(&plan.Custom{Input: cur, Op: "dropnull", Args: &plan.DropnullArgs{
			Fields: s.Fields, All: s.All,
		}}), nil

	case *ast.SelectStage:
		if err := l.checkFields(cur, "select", s.Fields...); err != nil {
			return plan.Invalid, err
		}
		return l.p.Add(&plan.Project{Input: cur, Fields: s.Fields, Exclude: s.Exclude}), nil

	case *ast.RenameStage:
		olds := make([]string, len(s.Pairs))
		for i, pair := range s.Pairs {
			olds[i] = pair.Old
		}
		if err := l.checkFields(cur, "rename", olds...); err != nil {
			return plan.Invalid, err
		}
		return l.p.Add(&plan.Custom{Input: cur, Op: "rename", Args: &plan.RenameArgs{Pairs: s.Pairs}}), nil

	case *ast.EvalStage:
		if err := l.checkAssignments(cur, s.Assignments); err != nil {
			return plan.Invalid, err
		}
		return l.p.Add(&plan.Extend{Input: cur, Assignments: s.Assignments}), nil

	case *ast.StatsStage:
		aggs := make([]ast.AggSpec, len(s.Aggs))
		for i, a := range s.Aggs {
			if !eval.IsAggregate(a.Func) {
				return plan.Invalid, fmt.Errorf("stats: unknown aggregate function %q", a.Func)
			}
			if a.Field != "" {
				if err := l.checkFields(cur, "stats", a.Field); err != nil {
					return plan.Invalid, err
				}
			}
			if a.As == "" {
				a.As = aggName(a)
			}
			aggs[i] = a
		}
		if err := l.checkFields(cur, "stats", s.By...); err != nil {
			return plan.Invalid, err
		}
		return l.p.Add(&plan.Aggregate{Input: cur, By: s.By, Aggs: aggs}), nil

	case *ast.TopStage:
		if err := l.checkFields(cur, "top", s.Fields...); err != nil {
			return plan.Invalid, err
		}
		if err := l.checkFields(cur, "top", s.By...); err != nil {
			return plan.Invalid, err
		}
		return l.p.Add(&plan.Custom{Input: cur, Op: "top", Args: &plan.TopArgs{
			N: s.N, Fields: s.Fields, By: s.By,
			ShowCount: s.ShowCount, ShowPerc: s.ShowPerc, Rare: s.Rare,
		}}), nil

	case *ast.SortStage:
		if err := l.checkFields(cur, "sort", sortFields(s.Keys)...); err != nil {
			return plan.Invalid, err
		}
		return l.p.Add(&plan.Sort{Input: cur, Keys: s.Keys}), nil

	case *ast.ReverseStage:
		return l.p.Add(&plan.Custom{Input: cur, Op: "reverse", Args: &plan.ReverseArgs{}}), nil

	case *ast.TransposeStage:
		if s.HeaderField != "" {
			if err := l.checkFields(cur, "transpose", s.HeaderField); err != nil {
				return plan.Invalid, err
			}
		}
		return l.p.Add(&plan.Custom{Input: cur, Op: "transpose", Args: &plan.TransposeArgs{
			HeaderField: s.HeaderField, IncludeHeader: s.IncludeHeader,
		}}), nil

	case *ast.FillnullStage:
		if err := l.checkFields(cur, "fillnull", s.Fields...); err != nil {
			return plan.Invalid, err
		}
		return l.p.Add(&plan.Custom{Input: cur, Op: "fillnull", Args: &plan.FillnullArgs{
			Value: s.Value, Fields: s.Fields, Method: s.Method,
		}}), nil

	case *ast.ReplaceStage:
		if err := l.checkFields(cur, "replace", s.Field); err != nil {
			return plan.Invalid, err
		}
		return l.p.Add(&plan.Custom{Input: cur, Op: "replace", Args: &plan.ReplaceArgs{
			Field: s.Field, Old: s.Old, New: s.New, Regex: s.Regex,
		}}), nil

	case *ast.MvexpandStage:
		if err := l.checkFields(cur, "mvexpand", s.Field); err != nil {
			return plan.Invalid, err
		}
		return l.p.Add(&plan.Custom{Input: cur, Op: "mvexpand", Args: &plan.MvexpandArgs{
			Field: s.Field, Delim: s.Delim, Limit: s.Limit,
		}}), nil

	case *ast.RexStage:
		if err := l.checkFields(cur, "rex", s.Field); err != nil {
			return plan.Invalid, err
		}
		return l.p.Add(&plan.Custom{Input: cur, Op: "rex", Args: &plan.RexArgs{
			Field: s.Field, Pattern: s.Pattern, Sed: s.Sed, MaxMatch: s.MaxMatch,
		}}), nil

	case *ast.JoinStage:
		if err := l.checkFields(cur, "join", s.Fields...); err != nil {
			return plan.Invalid, err
		}
		right, err := l.lowerPipeline(s.Sub)
		if err != nil {
			return plan.Invalid, err
		}
		if err := l.checkFields(right, "join", s.Fields...); err != nil {
			return plan.Invalid, err
		}
		kind := plan.JoinLeft
		if s.Kind == "inner" {
			kind = plan.JoinInner
		}
		return l.p.Add(&plan.Join{
			Left: cur, Right: right, Kind: kind,
			LeftKeys: s.Fields, RightKeys: s.Fields,
			Suffix: "_right",
		}), nil

	case *ast.LookupStage:
		if err := l.checkFields(cur, "lookup", s.Field); err != nil {
			return plan.Invalid, err
		}
		right := l.p.Add(&plan.Source{Kind: plan.SourceCache, Name: s.Table})
		return l.p.Add(&plan.Join{
			Left: cur, Right: right, Kind: plan.JoinLeft,
			LeftKeys: []string{s.Field}, RightKeys: []string{s.LookupField},
			Lookup: true, Output: s.Output, Default: s.Default,
		}), nil

	case *ast.AppendStage:
		right, err := l.lowerPipeline(s.Sub)
		if err != nil {
			return plan.Invalid, err
		}
		return l.p.Add(&plan.Append{Left: cur, Right: right}), nil

	case *ast.BucketStage:
		if err := l.checkFields(cur, "bucket", s.Field); err != nil {
			return plan.Invalid, err
		}
		return l.p.Add(&plan.Custom{Input: cur, Op: "bucket", Args: &plan.BucketArgs{
			Field: s.Field, Span: s.Span,
		}}), nil
	}

	return plan.Invalid, fmt.Errorf("unsupported stage type %T", stage)
}

// checkFields validates field references against a node's output
// shape. Open shapes defer to execution time.
func (l *lowerer) checkFields(id plan.NodeID, op string, fields ...string) error {
	shape := l.p.OutputShape(id)
	if shape.Open {
		return nil
	}
	for _, f := range fields {
		if !shape.Has(f) {
			return &plan.UnresolvedFieldError{Field: f, Op: op}
		}
	}
	return nil
}

// checkAssignments validates eval expressions, letting later
// assignments reference fields created by earlier ones.
func (l *lowerer) checkAssignments(id plan.NodeID, assignments []ast.Assignment) error {
	shape := l.p.OutputShape(id)
	if shape.Open {
		return nil
	}
	known := make(map[string]bool, len(shape.Fields))
	for _, f := range shape.Fields {
		known[f] = true
	}
	for _, a := range assignments {
		for _, f := range ast.Fields(a.Expr) {
			if !known[f] {
				return &plan.UnresolvedFieldError{Field: f, Op: "eval"}
			}
		}
		known[a.Field] = true
	}
	return nil
}

// aggName builds the default output field name of an unaliased
// aggregation: func_field, or the bare function name without a field.
func aggName(a ast.AggSpec) string {
	if a.Field == "" {
		return a.Func
	}
	return a.Func + "_" + a.Field
}

func sortFields(keys []ast.SortKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Field
	}
	return out
}
