package store

import "fmt"

// NotFoundError indicates a lookup by UUID that matched no document.
type NotFoundError struct {
	Collection string
	UUID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s document '%s' not found", e.Collection, e.UUID)
}

// IsNotFound reports whether an error is a NotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}
