// Package optimizer rewrites logical plans into equivalent cheaper
// ones. Rules are applied bottom-up over the node arena; passes repeat
// until a fixed point or the pass cap is reached. Every rule preserves
// row multisets and each node's ordering contract.
package optimizer

import (
	"github.com/pipelang/pipeq/plan"
)

// DefaultMaxPasses bounds the fixed-point loop. Well-formed rule sets
// converge in two or three passes; the cap guards against rule bugs.
const DefaultMaxPasses = 10

// Optimizer applies the rewrite rules to a plan.
type Optimizer struct {
	// MaxPasses overrides DefaultMaxPasses when positive.
	MaxPasses int
	// Trace, when set, is called once per rule application.
	Trace func(rule string, pass int)
}

// New returns an optimizer with default settings.
func New() *Optimizer {
	return &Optimizer{}
}

// Optimize rewrites the plan in place and returns it. New nodes are
// appended to the arena; detached ones stay behind unreferenced.
func (o *Optimizer) Optimize(p *plan.Plan) *plan.Plan {
	max := o.MaxPasses
	if max <= 0 {
		max = DefaultMaxPasses
	}
	for pass := 0; pass < max; pass++ {
		r := &rewriter{p: p, opt: o, pass: pass, memo: map[plan.NodeID]plan.NodeID{}}
		p.SetRoot(r.visit(p.Root()))
		if !r.changed {
			break
		}
	}
	return p
}

type rewriter struct {
	p       *plan.Plan
	opt     *Optimizer
	pass    int
	memo    map[plan.NodeID]plan.NodeID
	changed bool
}

func (r *rewriter) fired(rule string) {
	r.changed = true
	if r.opt.Trace != nil {
		r.opt.Trace(rule, r.pass)
	}
}

// visit rewrites the subtree under id and returns its replacement.
// Children are rewritten first so every rule sees already-simplified
// inputs; each rule is applied at most once per node per pass.
func (r *rewriter) visit(id plan.NodeID) plan.NodeID {
	if out, ok := r.memo[id]; ok {
		return out
	}

	switch n := r.p.Node(id).(type) {
	case *plan.Source:
	case *plan.Filter:
		n.Input = r.visit(n.Input)
	case *plan.Project:
		n.Input = r.visit(n.Input)
	case *plan.Extend:
		n.Input = r.visit(n.Input)
	case *plan.Aggregate:
		n.Input = r.visit(n.Input)
	case *plan.Join:
		n.Left = r.visit(n.Left)
		n.Right = r.visit(n.Right)
	case *plan.Sort:
		n.Input = r.visit(n.Input)
	case *plan.Limit:
		n.Input = r.visit(n.Input)
	case *plan.TopK:
		n.Input = r.visit(n.Input)
	case *plan.Dedup:
		n.Input = r.visit(n.Input)
	case *plan.Append:
		n.Left = r.visit(n.Left)
		n.Right = r.visit(n.Right)
	case *plan.Custom:
		n.Input = r.visit(n.Input)
	}

	out := id
	for _, rule := range rules {
		next, ok := rule.fn(r, out)
		if ok {
			r.fired(rule.name)
			out = next
		}
	}
	r.memo[id] = out
	return out
}

// A rule inspects one node (with already-rewritten children) and
// either returns a replacement ID or reports no change.
type rule struct {
	name string
	fn   func(r *rewriter, id plan.NodeID) (plan.NodeID, bool)
}

// Rule order matters within a pass: folding first so literal-true
// predicates are visible to removeTrueFilter, merging before pushdown
// so a single conjunction is split across the join.
var rules = []rule{
	{"foldConstants", foldConstants},
	{"mergeFilters", mergeFilters},
	{"removeTrueFilter", removeTrueFilter},
	{"pushDownFilter", pushDownFilter},
	{"collapseProjects", collapseProjects},
	{"pruneExtend", pruneExtend},
	{"fuseSortLimit", fuseSortLimit},
	{"mergeLimits", mergeLimits},
	{"dropDuplicateSort", dropDuplicateSort},
	{"dropDuplicateDedup", dropDuplicateDedup},
	{"cancelReverse", cancelReverse},
}
