package eval

import (
	"fmt"

	"github.com/pipelang/pipeq/table"
)

// Aggregator accumulates one column of one group. Null inputs are
// skipped; count over a whole group is driven by feeding a non-null
// marker per row.
type Aggregator interface {
	Add(v table.Value) error
	Result() table.Value
}

// NewAggregator returns a fresh accumulator for the named function.
func NewAggregator(fn string) (Aggregator, error) {
	switch fn {
	case "count":
		return &countAgg{}, nil
	case "sum":
		return &sumAgg{isInt: true}, nil
	case "avg", "mean":
		return &avgAgg{}, nil
	case "min":
		return &minMaxAgg{want: -1}, nil
	case "max":
		return &minMaxAgg{want: 1}, nil
	case "first":
		return &firstAgg{}, nil
	case "last":
		return &lastAgg{}, nil
	case "values":
		return &valuesAgg{seen: map[string]bool{}}, nil
	case "dc", "distinct_count":
		return &dcAgg{seen: map[string]bool{}}, nil
	default:
		return nil, fmt.Errorf("unknown aggregate function %q", fn)
	}
}

// IsAggregate reports whether name is a known aggregate function.
func IsAggregate(name string) bool {
	switch name {
	case "count", "sum", "avg", "mean", "min", "max", "first", "last", "values", "dc", "distinct_count":
		return true
	}
	return false
}

type countAgg struct {
	n int64
}

func (a *countAgg) Add(v table.Value) error {
	if !v.IsNull() {
		a.n++
	}
	return nil
}

func (a *countAgg) Result() table.Value {
	return table.IntVal(a.n)
}

// sumAgg keeps an integer total until a float shows up.
type sumAgg struct {
	isInt  bool
	intSum int64
	fltSum float64
	seen   bool
}

func (a *sumAgg) Add(v table.Value) error {
	if v.IsNull() {
		return nil
	}
	f, ok := v.AsFloat()
	if !ok {
		return fmt.Errorf("sum: cannot add %v", v.AsString())
	}
	a.seen = true
	if v.Type == table.TypeInt && a.isInt {
		a.intSum += v.Int
	} else {
		if a.isInt {
			a.fltSum = float64(a.intSum)
			a.isInt = false
		}
		a.fltSum += f
	}
	return nil
}

func (a *sumAgg) Result() table.Value {
	if !a.seen {
		return table.Null()
	}
	if a.isInt {
		return table.IntVal(a.intSum)
	}
	return table.FloatVal(a.fltSum)
}

type avgAgg struct {
	sum float64
	n   int64
}

func (a *avgAgg) Add(v table.Value) error {
	if v.IsNull() {
		return nil
	}
	f, ok := v.AsFloat()
	if !ok {
		return fmt.Errorf("avg: cannot average %v", v.AsString())
	}
	a.sum += f
	a.n++
	return nil
}

func (a *avgAgg) Result() table.Value {
	if a.n == 0 {
		return table.Null()
	}
	return table.FloatVal(a.sum / float64(a.n))
}

// minMaxAgg keeps the extreme value; want is the Compare result that
// replaces the current best (-1 for min, 1 for max).
type minMaxAgg struct {
	want int
	best table.Value
	seen bool
}

func (a *minMaxAgg) Add(v table.Value) error {
	if v.IsNull() {
		return nil
	}
	if !a.seen || table.Compare(v, a.best) == a.want {
		a.best = v
		a.seen = true
	}
	return nil
}

func (a *minMaxAgg) Result() table.Value {
	if !a.seen {
		return table.Null()
	}
	return a.best
}

type firstAgg struct {
	val  table.Value
	seen bool
}

func (a *firstAgg) Add(v table.Value) error {
	if v.IsNull() || a.seen {
		return nil
	}
	a.val = v
	a.seen = true
	return nil
}

func (a *firstAgg) Result() table.Value {
	if !a.seen {
		return table.Null()
	}
	return a.val
}

type lastAgg struct {
	val  table.Value
	seen bool
}

func (a *lastAgg) Add(v table.Value) error {
	if v.IsNull() {
		return nil
	}
	a.val = v
	a.seen = true
	return nil
}

func (a *lastAgg) Result() table.Value {
	if !a.seen {
		return table.Null()
	}
	return a.val
}

// valuesAgg collects distinct non-null values in first-seen order.
type valuesAgg struct {
	seen map[string]bool
	vals []table.Value
}

func (a *valuesAgg) Add(v table.Value) error {
	if v.IsNull() {
		return nil
	}
	k := v.Key()
	if a.seen[k] {
		return nil
	}
	a.seen[k] = true
	a.vals = append(a.vals, v)
	return nil
}

func (a *valuesAgg) Result() table.Value {
	return table.ListVal(a.vals)
}

type dcAgg struct {
	seen map[string]bool
}

func (a *dcAgg) Add(v table.Value) error {
	if !v.IsNull() {
		a.seen[v.Key()] = true
	}
	return nil
}

func (a *dcAgg) Result() table.Value {
	return table.IntVal(int64(len(a.seen)))
}
