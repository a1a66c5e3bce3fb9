package plan

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pipelang/pipeq/ast"
)

// String renders the plan as an indented tree from the root, one node
// per line, children below their parent. Dead arena nodes are not
// shown.
func (p *Plan) String() string {
	var sb strings.Builder
	p.render(&sb, p.root, 0)
	return strings.TrimRight(sb.String(), "\n")
}

func (p *Plan) render(sb *strings.Builder, id NodeID, depth int) {
	n := p.Node(id)
	if n == nil {
		return
	}
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(Describe(n))
	sb.WriteString("\n")
	for _, in := range n.Inputs() {
		p.render(sb, in, depth+1)
	}
}

// Describe renders one node as a single line.
func Describe(n Node) string {
	switch n := n.(type) {
	case *Source:
		s := fmt.Sprintf("source %s=%s", n.Kind, n.Name)
		if len(n.Params) > 0 {
			keys := make([]string, 0, len(n.Params))
			for k := range n.Params {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				s += fmt.Sprintf(" %s=%s", k, n.Params[k])
			}
		}
		return s

	case *Filter:
		return "filter " + ast.Format(n.Pred)

	case *Project:
		if n.Exclude {
			return "project -" + strings.Join(n.Fields, ", -")
		}
		return "project " + strings.Join(n.Fields, ", ")

	case *Extend:
		parts := make([]string, len(n.Assignments))
		for i, a := range n.Assignments {
			parts[i] = a.Field + "=" + ast.Format(a.Expr)
		}
		return "extend " + strings.Join(parts, ", ")

	case *Aggregate:
		parts := make([]string, len(n.Aggs))
		for i, a := range n.Aggs {
			if a.Field == "" {
				parts[i] = a.Func + " as " + a.As
			} else {
				parts[i] = a.Func + "(" + a.Field + ") as " + a.As
			}
		}
		s := "aggregate " + strings.Join(parts, ", ")
		if len(n.By) > 0 {
			s += " by " + strings.Join(n.By, ", ")
		}
		return s

	case *Join:
		keys := make([]string, len(n.LeftKeys))
		for i := range n.LeftKeys {
			if n.LeftKeys[i] == n.RightKeys[i] {
				keys[i] = n.LeftKeys[i]
			} else {
				keys[i] = n.LeftKeys[i] + "=" + n.RightKeys[i]
			}
		}
		name := "join"
		if n.Lookup {
			name = "lookup"
		}
		s := fmt.Sprintf("%s %s on %s", name, n.Kind, strings.Join(keys, ", "))
		if n.Output != nil {
			s += " output " + strings.Join(n.Output, ", ")
		}
		if n.Default != nil {
			s += " default " + ast.Format(n.Default)
		}
		return s

	case *Sort:
		return "sort " + formatKeys(n.Keys)

	case *Limit:
		if n.FromTail {
			return fmt.Sprintf("limit tail %d", n.N)
		}
		return fmt.Sprintf("limit %d", n.N)

	case *TopK:
		if n.FromTail {
			return fmt.Sprintf("topk tail %d %s", n.N, formatKeys(n.Keys))
		}
		return fmt.Sprintf("topk %d %s", n.N, formatKeys(n.Keys))

	case *Dedup:
		s := "dedup"
		if len(n.Fields) > 0 {
			s += " " + strings.Join(n.Fields, ", ")
		}
		if n.KeepLast {
			s += " keep=last"
		}
		if n.Consecutive {
			s += " consecutive"
		}
		return s

	case *Append:
		return "append"

	case *Custom:
		return describeCustom(n)
	}
	return "?"
}

func describeCustom(n *Custom) string {
	switch a := n.Args.(type) {
	case *RenameArgs:
		parts := make([]string, len(a.Pairs))
		for i, p := range a.Pairs {
			parts[i] = p.Old + "=" + p.New
		}
		return "rename " + strings.Join(parts, ", ")

	case *FillnullArgs:
		s := "fillnull"
		if a.Value != nil {
			s += " value=" + ast.Format(a.Value)
		}
		if a.Method != "" {
			s += " method=" + a.Method
		}
		if len(a.Fields) > 0 {
			s += " " + strings.Join(a.Fields, ", ")
		}
		return s

	case *ReplaceArgs:
		s := fmt.Sprintf("replace %s %s with %s", a.Field, ast.Format(a.Old), ast.Format(a.New))
		if a.Regex {
			s += " regex"
		}
		return s

	case *RexArgs:
		s := fmt.Sprintf("rex field=%s %s", a.Field, strconv.Quote(a.Pattern))
		if a.Sed {
			s += " mode=sed"
		} else if a.MaxMatch != 1 {
			s += fmt.Sprintf(" max_match=%d", a.MaxMatch)
		}
		return s

	case *MvexpandArgs:
		s := "mvexpand " + a.Field
		if a.Delim != "," {
			s += " delim=" + strconv.Quote(a.Delim)
		}
		if a.Limit > 0 {
			s += fmt.Sprintf(" limit=%d", a.Limit)
		}
		return s

	case *TransposeArgs:
		s := "transpose"
		if a.HeaderField != "" {
			s += " header_field=" + a.HeaderField
		}
		if !a.IncludeHeader {
			s += " include_header=false"
		}
		return s

	case *ReverseArgs:
		return "reverse"

	case *TopArgs:
		name := "top"
		if a.Rare {
			name = "rare"
		}
		s := fmt.Sprintf("%s %d %s", name, a.N, strings.Join(a.Fields, ", "))
		if len(a.By) > 0 {
			s += " by " + strings.Join(a.By, ", ")
		}
		if !a.ShowCount {
			s += " showcount=false"
		}
		if a.ShowPerc {
			s += " showperc"
		}
		return s

	case *SampleArgs:
		s := "sample"
		if a.Ratio > 0 {
			s += fmt.Sprintf(" ratio=%g", a.Ratio)
		} else {
			s += fmt.Sprintf(" %d", a.N)
		}
		if a.SeedSet {
			s += fmt.Sprintf(" seed=%d", a.Seed)
		}
		return s

	case *DropnullArgs:
		s := "dropnull"
		if len(a.Fields) > 0 {
			s += " " + strings.Join(a.Fields, ", ")
		}
		if a.All {
			s += " how=all"
		}
		return s

	case *BucketArgs:
		return fmt.Sprintf("bucket %s span=%g", a.Field, a.Span)
	}
	return n.Op
}

func formatKeys(keys []ast.SortKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		if k.Desc {
			parts[i] = "-" + k.Field
		} else {
			parts[i] = k.Field
		}
	}
	return strings.Join(parts, ", ")
}
