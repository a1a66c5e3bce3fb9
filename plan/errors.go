package plan

import "fmt"

// UnresolvedFieldError reports a reference to a field that does not
// exist, either statically during planning (closed shapes) or at
// execution time.
type UnresolvedFieldError struct {
	Field string
	Op    string // operator that referenced the field, may be empty
}

func (e *UnresolvedFieldError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("field %q not found", e.Field)
	}
	return fmt.Sprintf("field %q not found in %s", e.Field, e.Op)
}
