package registry

import (
	"errors"
	"testing"

	"github.com/pipelang/pipeq/table"
)

func smallTable(name string) *table.Table {
	t := table.NewTable([]string{"id"})
	t.AddRow([]table.Value{table.StrVal(name)})
	return t
}

func TestRegisterResolve(t *testing.T) {
	r := NewInMemory()
	r.Register("sales", smallTable("sales"))

	got, err := r.Resolve("sales")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Rows[0].Values[0].Str != "sales" {
		t.Errorf("wrong table resolved")
	}
}

func TestResolveMiss(t *testing.T) {
	r := NewInMemory()
	_, err := r.Resolve("nope")
	var snf *SourceNotFoundError
	if !errors.As(err, &snf) {
		t.Fatalf("expected SourceNotFoundError, got %v", err)
	}
	if snf.Name != "nope" {
		t.Errorf("expected name nope, got %q", snf.Name)
	}
}

func TestRegisterReplaces(t *testing.T) {
	r := NewInMemory()
	r.Register("t", smallTable("old"))
	r.Register("t", smallTable("new"))
	got, _ := r.Resolve("t")
	if got.Rows[0].Values[0].Str != "new" {
		t.Errorf("expected replacement to win")
	}
}

func TestDelete(t *testing.T) {
	r := NewInMemory()
	r.Register("t", smallTable("t"))
	if !r.Delete("t") {
		t.Error("expected delete to report existing entry")
	}
	if r.Delete("t") {
		t.Error("expected second delete to report missing entry")
	}
	if _, err := r.Resolve("t"); err == nil {
		t.Error("expected resolve to miss after delete")
	}
}

func TestNamesSorted(t *testing.T) {
	r := NewInMemory()
	r.Register("b", smallTable("b"))
	r.Register("a", smallTable("a"))
	r.Register("c", smallTable("c"))
	names := r.Names()
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Errorf("expected sorted names, got %v", names)
	}
}

func TestClear(t *testing.T) {
	r := NewInMemory()
	r.Register("a", smallTable("a"))
	r.Clear()
	if r.Len() != 0 {
		t.Errorf("expected empty store, got %d entries", r.Len())
	}
}

type countingResolver struct {
	base  *InMemory
	calls int
}

func (c *countingResolver) Resolve(name string) (*table.Table, error) {
	c.calls++
	return c.base.Resolve(name)
}

func TestCachedHitSkipsBackend(t *testing.T) {
	base := NewInMemory()
	base.Register("t", smallTable("t"))
	counting := &countingResolver{base: base}

	c, err := NewCached(counting, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := c.Resolve("t"); err != nil {
			t.Fatal(err)
		}
	}
	if counting.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", counting.calls)
	}
}

func TestCachedDoesNotCacheMisses(t *testing.T) {
	base := NewInMemory()
	counting := &countingResolver{base: base}
	c, _ := NewCached(counting, 4)

	c.Resolve("missing")
	c.Resolve("missing")
	if counting.calls != 2 {
		t.Errorf("expected misses to hit the backend every time, got %d calls", counting.calls)
	}

	base.Register("missing", smallTable("missing"))
	if _, err := c.Resolve("missing"); err != nil {
		t.Errorf("expected hit after registration: %v", err)
	}
}

func TestCachedEvicts(t *testing.T) {
	base := NewInMemory()
	base.Register("a", smallTable("a"))
	base.Register("b", smallTable("b"))
	base.Register("c", smallTable("c"))
	counting := &countingResolver{base: base}
	c, _ := NewCached(counting, 2)

	c.Resolve("a")
	c.Resolve("b")
	c.Resolve("c") // evicts a
	c.Resolve("a") // reload
	if counting.calls != 4 {
		t.Errorf("expected 4 backend calls with eviction, got %d", counting.calls)
	}
}

func TestCachedInvalidate(t *testing.T) {
	base := NewInMemory()
	base.Register("t", smallTable("old"))
	counting := &countingResolver{base: base}
	c, _ := NewCached(counting, 4)

	c.Resolve("t")
	base.Register("t", smallTable("new"))
	got, _ := c.Resolve("t")
	if got.Rows[0].Values[0].Str != "old" {
		t.Fatalf("expected stale cache before invalidation")
	}

	c.Invalidate("t")
	got, _ = c.Resolve("t")
	if got.Rows[0].Values[0].Str != "new" {
		t.Errorf("expected fresh table after invalidation")
	}
}

func TestChain(t *testing.T) {
	first := NewInMemory()
	second := NewInMemory()
	second.Register("t", smallTable("t"))

	chain := Chain{first, second}
	if _, err := chain.Resolve("t"); err != nil {
		t.Fatalf("expected chain to fall through: %v", err)
	}

	var snf *SourceNotFoundError
	_, err := chain.Resolve("nope")
	if !errors.As(err, &snf) {
		t.Fatalf("expected SourceNotFoundError, got %v", err)
	}
}
