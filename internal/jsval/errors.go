package jsval

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported marks a value whose type has no JavaScript source form.
	ErrUnsupported = errors.New("unsupported value")
	// ErrCircular marks a value that refers back to one of its ancestors.
	ErrCircular = errors.New("circular reference")
)

// SerializationError reports which value could not be rendered and where it
// sits inside the serialized graph.
type SerializationError struct {
	Path string // e.g. $[2].headers["x-id"]
	Type string // Go type of the offending value
	Err  error  // ErrUnsupported, ErrCircular or a more specific cause
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("jsval: cannot serialize %s at %s: %v", e.Type, e.Path, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
