package plan

import (
	"github.com/pipelang/pipeq/ast"
)

// Args carries the parameters of one Custom operator. Each args type
// also states how the operator transforms its input shape, so the
// planner and optimizer can reason about every node's output fields
// without knowing operator internals.
type Args interface {
	customArgs()
	// OutShape maps the input shape to the operator's output shape.
	OutShape(in Shape) Shape
}

// RenameArgs renames fields.
type RenameArgs struct {
	Pairs []ast.RenamePair
}

func (*RenameArgs) customArgs() {}

func (a *RenameArgs) OutShape(in Shape) Shape {
	out := in.clone()
	for i, f := range out.Fields {
		for _, p := range a.Pairs {
			if f == p.Old {
				out.Fields[i] = p.New
				break
			}
		}
	}
	return out
}

// FillnullArgs replaces nulls with a literal or via directional fill.
type FillnullArgs struct {
	Value  ast.Expr // nil = 0
	Fields []string // empty = all fields
	Method string   // "", "ffill", "bfill"
}

func (*FillnullArgs) customArgs() {}
func (a *FillnullArgs) OutShape(in Shape) Shape { return in.clone() }

// ReplaceArgs substitutes values inside one field.
type ReplaceArgs struct {
	Field string
	Old   ast.Expr
	New   ast.Expr
	Regex bool
}

func (*ReplaceArgs) customArgs() {}
func (a *ReplaceArgs) OutShape(in Shape) Shape { return in.clone() }

// RexArgs extracts fields from a string field via regex named groups,
// or rewrites it in place in sed mode.
type RexArgs struct {
	Field    string
	Pattern  string
	Sed      bool
	MaxMatch int
}

func (*RexArgs) customArgs() {}

func (a *RexArgs) OutShape(in Shape) Shape {
	if a.Sed {
		return in.clone()
	}
	// Extraction adds fields named by the pattern's groups; which ones
	// actually appear is only known at runtime.
	out := in.clone()
	out.Open = true
	return out
}

// MvexpandArgs expands a list or delimited field into one row per
// element.
type MvexpandArgs struct {
	Field string
	Delim string
	Limit int
}

func (*MvexpandArgs) customArgs() {}
func (a *MvexpandArgs) OutShape(in Shape) Shape { return in.clone() }

// TransposeArgs rotates rows into columns.
type TransposeArgs struct {
	HeaderField   string
	IncludeHeader bool
}

func (*TransposeArgs) customArgs() {}

func (a *TransposeArgs) OutShape(in Shape) Shape {
	// Output columns depend on row count and header values.
	return Shape{Open: true}
}

// ReverseArgs flips row order.
type ReverseArgs struct{}

func (*ReverseArgs) customArgs() {}
func (a *ReverseArgs) OutShape(in Shape) Shape { return in.clone() }

// TopArgs counts value combinations and keeps the most frequent
// (or with Rare, least frequent) per group.
type TopArgs struct {
	N         int
	Fields    []string
	By        []string
	ShowCount bool
	ShowPerc  bool
	Rare      bool
}

func (*TopArgs) customArgs() {}

func (a *TopArgs) OutShape(in Shape) Shape {
	fields := make([]string, 0, len(a.By)+len(a.Fields)+2)
	fields = append(fields, a.By...)
	fields = append(fields, a.Fields...)
	if a.ShowCount {
		fields = append(fields, "count")
	}
	if a.ShowPerc {
		fields = append(fields, "percent")
	}
	return Shape{Fields: fields}
}

// SampleArgs picks N random rows, or a ratio of all rows.
type SampleArgs struct {
	N       int
	Ratio   float64
	Seed    int64
	SeedSet bool
}

func (*SampleArgs) customArgs() {}
func (a *SampleArgs) OutShape(in Shape) Shape { return in.clone() }

// DropnullArgs removes rows with null fields.
type DropnullArgs struct {
	Fields []string // empty = all fields
	All    bool     // drop only when every listed field is null
}

func (*DropnullArgs) customArgs() {}
func (a *DropnullArgs) OutShape(in Shape) Shape { return in.clone() }

// BucketArgs floors a numeric field to multiples of Span.
type BucketArgs struct {
	Field string
	Span  float64
}

func (*BucketArgs) customArgs() {}
func (a *BucketArgs) OutShape(in Shape) Shape { return in.clone() }
