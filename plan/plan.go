package plan

import (
	"github.com/pipelang/pipeq/ast"
)

// NodeID indexes a node inside a Plan arena. Nodes reference their
// children by ID rather than by pointer, so sub-plans can share nodes
// without ownership cycles.
type NodeID int

// Invalid marks an unset node reference.
const Invalid NodeID = -1

// Node is one logical operator in the plan DAG.
type Node interface {
	planNode()
	// Inputs lists the child node IDs in evaluation order.
	Inputs() []NodeID
}

// Plan is an arena of logical nodes plus the ID of the root. Rewrites
// may leave unreferenced nodes behind; consumers walk from the root
// and ignore them.
type Plan struct {
	nodes []Node
	root  NodeID
}

// New creates an empty plan.
func New() *Plan {
	return &Plan{root: Invalid}
}

// Add appends a node and returns its ID.
func (p *Plan) Add(n Node) NodeID {
	p.nodes = append(p.nodes, n)
	return NodeID(len(p.nodes) - 1)
}

// Node returns the node for an ID.
func (p *Plan) Node(id NodeID) Node {
	if id < 0 || int(id) >= len(p.nodes) {
		return nil
	}
	return p.nodes[id]
}

// Root returns the root node ID.
func (p *Plan) Root() NodeID {
	return p.root
}

// SetRoot marks the plan's output node.
func (p *Plan) SetRoot(id NodeID) {
	p.root = id
}

// Len returns the number of nodes in the arena, dead ones included.
func (p *Plan) Len() int {
	return len(p.nodes)
}

// SourceKind tells the executor how a Source leaf finds its table.
type SourceKind int

const (
	// SourceCache resolves a named table: cache=name.
	SourceCache SourceKind = iota
	// SourceSearch resolves an index and filters rows by the search
	// parameters.
	SourceSearch
	// SourceTable is a bare name, resolved like a cache entry.
	SourceTable
)

func (k SourceKind) String() string {
	switch k {
	case SourceCache:
		return "cache"
	case SourceSearch:
		return "search"
	case SourceTable:
		return "table"
	default:
		return "unknown"
	}
}

// JoinKind selects join semantics.
type JoinKind int

const (
	// JoinLeft keeps every left row, filling unmatched right fields
	// with null (or the Default expression for lookups).
	JoinLeft JoinKind = iota
	// JoinInner keeps only matching rows.
	JoinInner
)

func (k JoinKind) String() string {
	if k == JoinInner {
		return "inner"
	}
	return "left"
}

// Source is a leaf reading a named table through the resolver.
type Source struct {
	Kind   SourceKind
	Name   string
	Params map[string]string // search: extra field=value equality terms
}

func (n *Source) planNode()        {}
func (n *Source) Inputs() []NodeID { return nil }

// Filter keeps rows where the predicate evaluates to true.
type Filter struct {
	Input NodeID
	Pred  ast.Expr
}

func (n *Filter) planNode()        {}
func (n *Filter) Inputs() []NodeID { return []NodeID{n.Input} }

// Project keeps (or with Exclude, drops) the listed fields.
type Project struct {
	Input   NodeID
	Fields  []string
	Exclude bool
}

func (n *Project) planNode()        {}
func (n *Project) Inputs() []NodeID { return []NodeID{n.Input} }

// Extend computes new fields row by row, overwriting on name collision.
type Extend struct {
	Input       NodeID
	Assignments []ast.Assignment
}

func (n *Extend) planNode()        {}
func (n *Extend) Inputs() []NodeID { return []NodeID{n.Input} }

// Aggregate groups rows and computes aggregation outputs. The planner
// fills every spec's As with its output field name.
type Aggregate struct {
	Input NodeID
	By    []string
	Aggs  []ast.AggSpec
}

func (n *Aggregate) planNode()        {}
func (n *Aggregate) Inputs() []NodeID { return []NodeID{n.Input} }

// Join matches left rows against right rows on key equality. A plain
// join suffixes colliding right fields; a lookup (Lookup set) copies
// the Output fields (all right fields when nil) onto matching rows and
// fills misses with Default.
type Join struct {
	Left      NodeID
	Right     NodeID
	Kind      JoinKind
	LeftKeys  []string
	RightKeys []string
	Lookup    bool
	Output    []string // lookup: right fields to copy, nil = all
	Default   ast.Expr // lookup: value for unmatched rows, nil = null
	Suffix    string   // plain join: suffix for colliding right fields
}

func (n *Join) planNode()        {}
func (n *Join) Inputs() []NodeID { return []NodeID{n.Left, n.Right} }

// Sort orders rows by the given keys, stable.
type Sort struct {
	Input NodeID
	Keys  []ast.SortKey
}

func (n *Sort) planNode()        {}
func (n *Sort) Inputs() []NodeID { return []NodeID{n.Input} }

// Limit keeps the first N rows, or the last N with FromTail.
type Limit struct {
	Input    NodeID
	N        int
	FromTail bool
}

func (n *Limit) planNode()        {}
func (n *Limit) Inputs() []NodeID { return []NodeID{n.Input} }

// TopK is the fused form of Limit over Sort: the N first (or with
// FromTail, last) rows under Keys order, emitted in Keys order. Only
// the optimizer creates this node.
type TopK struct {
	Input    NodeID
	N        int
	Keys     []ast.SortKey
	FromTail bool
}

func (n *TopK) planNode()        {}
func (n *TopK) Inputs() []NodeID { return []NodeID{n.Input} }

// Dedup removes duplicate rows over the listed fields (all fields when
// empty), keeping the first or last occurrence.
type Dedup struct {
	Input       NodeID
	Fields      []string
	KeepLast    bool
	Consecutive bool
}

func (n *Dedup) planNode()        {}
func (n *Dedup) Inputs() []NodeID { return []NodeID{n.Input} }

// Append concatenates the rows of two plans, unioning their field sets.
type Append struct {
	Left  NodeID
	Right NodeID
}

func (n *Append) planNode()        {}
func (n *Append) Inputs() []NodeID { return []NodeID{n.Left, n.Right} }

// Custom is a name-tagged operator dispatched through the executor's
// operator registry. Commands without a dedicated node type (rename,
// fillnull, rex, transpose, ...) lower to this.
type Custom struct {
	Input NodeID
	Op    string
	Args  Args
}

func (n *Custom) planNode()        {}
func (n *Custom) Inputs() []NodeID { return []NodeID{n.Input} }
