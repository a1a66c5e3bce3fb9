package loader

import (
	"os"
	"sync"

	"github.com/pipelang/pipeq/registry"
	"github.com/pipelang/pipeq/table"
)

// Mounts resolves source names to files on disk, loading a file each
// time its name is resolved. It does not cache; wrap it in
// registry.NewCached when the same table is read more than once.
//
// A name with no mount falls back to being tried as a file path, so a
// query can reference "users.csv" directly without mounting it first.
type Mounts struct {
	mu    sync.RWMutex
	paths map[string]string
}

// NewMounts returns an empty mount set.
func NewMounts() *Mounts {
	return &Mounts{paths: map[string]string{}}
}

// Mount binds a source name to a file path, replacing any previous
// binding for that name.
func (m *Mounts) Mount(name, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths[name] = path
}

// Resolve loads the file mounted under name. Unmounted names that
// name a readable file are loaded directly; anything else reports
// registry.SourceNotFoundError.
func (m *Mounts) Resolve(name string) (*table.Table, error) {
	m.mu.RLock()
	path, ok := m.paths[name]
	m.mu.RUnlock()
	if ok {
		return Load(path)
	}
	if _, err := os.Stat(name); err == nil {
		return Load(name)
	}
	return nil, &registry.SourceNotFoundError{Name: name}
}
