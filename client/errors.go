package client

import "fmt"

// StatusError indicates a non-2xx response from the LTA DB service.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// IsNotFound reports whether an error is a 404 from the service.
func IsNotFound(err error) bool {
	statusError, ok := err.(*StatusError)
	return ok && statusError.Code == 404
}
