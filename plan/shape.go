package plan

// Shape is the statically known output field set of a plan node. An
// open shape means more fields may exist at runtime than are listed
// (sources before execution, rex extraction, transpose); a closed
// shape lists the output fields exactly, in order.
type Shape struct {
	Open   bool
	Fields []string
}

// Has reports whether the field is in the known field list.
func (s Shape) Has(name string) bool {
	for _, f := range s.Fields {
		if f == name {
			return true
		}
	}
	return false
}

func (s Shape) clone() Shape {
	out := Shape{Open: s.Open}
	out.Fields = append(out.Fields, s.Fields...)
	return out
}

// OutputShape computes the output shape of a node by walking its
// inputs. Plans are small; shapes are recomputed per call rather than
// cached across rewrites.
func (p *Plan) OutputShape(id NodeID) Shape {
	memo := make(map[NodeID]Shape)
	return p.shapeOf(id, memo)
}

func (p *Plan) shapeOf(id NodeID, memo map[NodeID]Shape) Shape {
	if s, ok := memo[id]; ok {
		return s
	}
	n := p.Node(id)
	if n == nil {
		return Shape{Open: true}
	}

	var out Shape
	switch n := n.(type) {
	case *Source:
		// The resolver supplies the field set at execution time.
		out = Shape{Open: true}

	case *Filter:
		out = p.shapeOf(n.Input, memo)

	case *Project:
		in := p.shapeOf(n.Input, memo)
		if n.Exclude {
			out = Shape{Open: in.Open}
			for _, f := range in.Fields {
				if !contains(n.Fields, f) {
					out.Fields = append(out.Fields, f)
				}
			}
		} else {
			out = Shape{Fields: append([]string(nil), n.Fields...)}
		}

	case *Extend:
		out = p.shapeOf(n.Input, memo).clone()
		for _, a := range n.Assignments {
			if !out.Has(a.Field) {
				out.Fields = append(out.Fields, a.Field)
			}
		}

	case *Aggregate:
		out = Shape{}
		out.Fields = append(out.Fields, n.By...)
		for _, a := range n.Aggs {
			out.Fields = append(out.Fields, a.As)
		}

	case *Join:
		left := p.shapeOf(n.Left, memo)
		right := p.shapeOf(n.Right, memo)
		out = left.clone()
		switch {
		case n.Lookup && n.Output != nil:
			for _, f := range n.Output {
				if !out.Has(f) {
					out.Fields = append(out.Fields, f)
				}
			}
		case n.Lookup:
			// Copies every lookup-table field; the set is only known
			// once the table resolves.
			out.Open = true
		default:
			out.Open = left.Open || right.Open
			for _, f := range right.Fields {
				if contains(n.RightKeys, f) {
					continue
				}
				if left.Has(f) {
					f += n.Suffix
				}
				if !out.Has(f) {
					out.Fields = append(out.Fields, f)
				}
			}
		}

	case *Sort:
		out = p.shapeOf(n.Input, memo)

	case *Limit:
		out = p.shapeOf(n.Input, memo)

	case *TopK:
		out = p.shapeOf(n.Input, memo)

	case *Dedup:
		out = p.shapeOf(n.Input, memo)

	case *Append:
		left := p.shapeOf(n.Left, memo)
		right := p.shapeOf(n.Right, memo)
		out = left.clone()
		out.Open = left.Open || right.Open
		for _, f := range right.Fields {
			if !out.Has(f) {
				out.Fields = append(out.Fields, f)
			}
		}

	case *Custom:
		out = n.Args.OutShape(p.shapeOf(n.Input, memo))
	}

	memo[id] = out
	return out
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
