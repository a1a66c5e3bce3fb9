// Package registry maps source names to tables. The engine resolves
// every cache/search/lookup reference through a Resolver, so callers
// can back pipelines with an in-memory store, a file loader, or both.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pipelang/pipeq/table"
)

// Resolver finds the table behind a source name. Implementations
// return tables the engine treats as read-only.
type Resolver interface {
	Resolve(name string) (*table.Table, error)
}

// SourceNotFoundError reports a name no resolver could serve.
type SourceNotFoundError struct {
	Name string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source %q not found", e.Name)
}

// InMemory is a concurrency-safe named table store.
type InMemory struct {
	mu     sync.RWMutex
	tables map[string]*table.Table
}

// NewInMemory returns an empty store.
func NewInMemory() *InMemory {
	return &InMemory{tables: map[string]*table.Table{}}
}

// Register stores a table under a name, replacing any previous entry.
func (r *InMemory) Register(name string, t *table.Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[name] = t
}

// Resolve returns the table registered under name.
func (r *InMemory) Resolve(name string) (*table.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[name]
	if !ok {
		return nil, &SourceNotFoundError{Name: name}
	}
	return t, nil
}

// Delete removes an entry, reporting whether it existed.
func (r *InMemory) Delete(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tables[name]
	delete(r.tables, name)
	return ok
}

// Names lists the registered names, sorted.
func (r *InMemory) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tables))
	for n := range r.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clear removes every entry.
func (r *InMemory) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables = map[string]*table.Table{}
}

// Len returns the number of registered tables.
func (r *InMemory) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables)
}

// Chain tries each resolver in order, returning the first hit. A miss
// is only reported when every resolver missed; other errors stop the
// chain immediately.
type Chain []Resolver

func (c Chain) Resolve(name string) (*table.Table, error) {
	for _, r := range c {
		t, err := r.Resolve(name)
		if err == nil {
			return t, nil
		}
		var miss *SourceNotFoundError
		if !errors.As(err, &miss) {
			return nil, err
		}
	}
	return nil, &SourceNotFoundError{Name: name}
}
