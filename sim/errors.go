package sim

import (
	"errors"
	"fmt"
)

// ErrElementNotFound is matched (via errors.Is) by every lookup failure.
var ErrElementNotFound = errors.New("element not found")

// ElementNotFoundError reports a failed lookup of a specific element.
// An operation failing with it is aborted as a whole; the draft it worked on
// is discarded.
type ElementNotFoundError struct {
	Kind ElementKind
	ID   string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("%s with id %q not found", e.Kind, e.ID)
}

// Is makes errors.Is(err, ErrElementNotFound) hold for every ElementNotFoundError.
func (e *ElementNotFoundError) Is(target error) bool {
	return target == ErrElementNotFound
}

// lookup is the typed "get element of kind K with id I, or fail" accessor.
func lookup[T any](elements map[string]*T, kind ElementKind, id string) (*T, error) {
	if element, ok := elements[id]; ok && element != nil {
		return element, nil
	}
	return nil, &ElementNotFoundError{Kind: kind, ID: id}
}
