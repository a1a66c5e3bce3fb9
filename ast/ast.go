package ast

// Expr represents an expression tree used in filter, eval, and stats.
type Expr interface {
	exprNode()
}

// LiteralExpr represents a literal value: number, string, bool, null.
type LiteralExpr struct {
	// Kind: "int", "float", "string", "bool", "null"
	Kind  string
	Int   int64
	Float float64
	Str   string
	Bool  bool
}

func (e *LiteralExpr) exprNode() {}

// FieldExpr references a field by name.
type FieldExpr struct {
	Name string
}

func (e *FieldExpr) exprNode() {}

// BinaryExpr represents a binary operation: a op b.
type BinaryExpr struct {
	Op    string // +, -, *, /, ==, !=, <, >, <=, >=, and, or
	Left  Expr
	Right Expr
}

func (e *BinaryExpr) exprNode() {}

// UnaryExpr represents a unary operation (e.g. not, unary minus).
type UnaryExpr struct {
	Op      string // "not", "-"
	Operand Expr
}

func (e *UnaryExpr) exprNode() {}

// FuncCallExpr represents a function call: func(arg1, arg2, ...).
type FuncCallExpr struct {
	Name string
	Args []Expr
}

func (e *FuncCallExpr) exprNode() {}

// Assignment represents "field = expr" in eval.
type Assignment struct {
	Field string
	Expr  Expr
}

// SortKey is one sort field with its direction.
type SortKey struct {
	Field string
	Desc  bool
}

// AggSpec is one aggregation in a stats stage: func[(field)] [as alias].
// As is empty when the user gave no alias.
type AggSpec struct {
	Func  string
	Field string // empty for bare count
	As    string
}

// RenamePair maps an old field name to a new one.
type RenamePair struct {
	Old string
	New string
}

// --- Stages (pipeline commands) ---

// Stage is a single command invocation in the pipeline. Each stage
// records the byte offset of its command token for error reporting.
type Stage interface {
	stageNode()
}

// CacheStage reads a named table from the source resolver: cache=name.
type CacheStage struct {
	Name string
	Pos  int
}

func (s *CacheStage) stageNode() {}

// SearchStage reads an indexed source: search index=name [k=v ...].
// Parameters beyond index are carried opaquely for the resolver.
type SearchStage struct {
	Index  string
	Params map[string]string
	Pos    int
}

func (s *SearchStage) stageNode() {}

// SourceStage is a bare-identifier source: the name is resolved as-is.
type SourceStage struct {
	Name string
	Pos  int
}

func (s *SourceStage) stageNode() {}

// FilterStage keeps rows where the predicate holds.
type FilterStage struct {
	Pred Expr
	Pos  int
}

func (s *FilterStage) stageNode() {}

// HeadStage keeps the first N rows.
type HeadStage struct {
	N   int
	Pos int
}

func (s *HeadStage) stageNode() {}

// TailStage keeps the last N rows.
type TailStage struct {
	N   int
	Pos int
}

func (s *TailStage) stageNode() {}

// SampleStage picks N rows (or a ratio of all rows), optionally seeded.
type SampleStage struct {
	N       int
	Ratio   float64 // 0 = unset
	Seed    int64
	SeedSet bool
	Pos     int
}

func (s *SampleStage) stageNode() {}

// DedupStage removes duplicate rows over the given fields.
type DedupStage struct {
	Fields      []string
	KeepLast    bool // keep=last
	Consecutive bool // only collapse adjacent duplicates
	SortBy      []SortKey
	Pos         int
}

func (s *DedupStage) stageNode() {}

// DropnullStage removes rows with null fields. With All set a row is
// dropped only when every listed field is null.
type DropnullStage struct {
	Fields []string // empty = all fields
	All    bool     // how=all
	Pos    int
}

func (s *DropnullStage) stageNode() {}

// SelectStage keeps (or with Exclude, removes) the listed fields.
type SelectStage struct {
	Fields  []string
	Exclude bool
	Pos     int
}

func (s *SelectStage) stageNode() {}

// RenameStage renames fields.
type RenameStage struct {
	Pairs []RenamePair
	Pos   int
}

func (s *RenameStage) stageNode() {}

// EvalStage creates or overwrites fields with computed values.
type EvalStage struct {
	Assignments []Assignment
	Pos         int
}

func (s *EvalStage) stageNode() {}

// StatsStage aggregates rows, optionally grouped by fields.
type StatsStage struct {
	Aggs []AggSpec
	By   []string
	Pos  int
}

func (s *StatsStage) stageNode() {}

// TopStage counts value combinations and keeps the N most frequent
// (least frequent when Rare is set).
type TopStage struct {
	N         int
	Fields    []string
	By        []string
	ShowCount bool
	ShowPerc  bool
	Rare      bool
	Pos       int
}

func (s *TopStage) stageNode() {}

// SortStage sorts rows by the given keys.
type SortStage struct {
	Keys []SortKey
	Pos  int
}

func (s *SortStage) stageNode() {}

// ReverseStage flips the row order.
type ReverseStage struct {
	Pos int
}

func (s *ReverseStage) stageNode() {}

// TransposeStage turns fields into rows.
type TransposeStage struct {
	HeaderField   string
	IncludeHeader bool
	Pos           int
}

func (s *TransposeStage) stageNode() {}

// FillnullStage replaces nulls with a value or via directional fill.
type FillnullStage struct {
	Value  Expr     // nil = default 0
	Fields []string // empty = all fields
	Method string   // "", "ffill", "bfill"
	Pos    int
}

func (s *FillnullStage) stageNode() {}

// ReplaceStage substitutes values in a field: replace field old with new.
type ReplaceStage struct {
	Field string
	Old   Expr
	New   Expr
	Regex bool
	Pos   int
}

func (s *ReplaceStage) stageNode() {}

// MvexpandStage expands multi-value or delimited fields into rows.
type MvexpandStage struct {
	Field string
	Delim string // default ","
	Limit int    // 0 = unlimited, per input row
	Pos   int
}

func (s *MvexpandStage) stageNode() {}

// RexStage extracts fields via regex named groups, or rewrites the
// field in place in sed mode.
type RexStage struct {
	Field    string
	Pattern  string // extract pattern, or "s/pat/repl/[g]" in sed mode
	Sed      bool
	MaxMatch int // extract mode: max matches per row, default 1
	Pos      int
}

func (s *RexStage) stageNode() {}

// JoinStage joins the pipeline against a sub-search on key equality.
type JoinStage struct {
	Fields []string
	Kind   string // "left" (default) or "inner"
	Sub    *Pipeline
	Pos    int
}

func (s *JoinStage) stageNode() {}

// LookupStage enriches rows from a named resolver table.
type LookupStage struct {
	Table       string
	Field       string
	LookupField string // field name in the lookup table, default Field
	Output      []string
	Default     Expr
	Pos         int
}

func (s *LookupStage) stageNode() {}

// AppendStage unions the rows of a sub-search onto the pipeline.
type AppendStage struct {
	Sub *Pipeline
	Pos int
}

func (s *AppendStage) stageNode() {}

// BucketStage floors a numeric field to span boundaries.
type BucketStage struct {
	Field string
	Span  float64
	Pos   int
}

func (s *BucketStage) stageNode() {}

// Pipeline represents a full parsed query: an ordered stage sequence.
// The first stage is always a source stage.
type Pipeline struct {
	Stages []Stage
}
