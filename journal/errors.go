package journal

import "fmt"

// CantOpenError occurs when the journal database cannot be opened, most
// commonly because another component instance holds the file lock.
type CantOpenError struct {
	Message string
}

func (e CantOpenError) Error() string {
	return fmt.Sprintf("The journal database could not be opened: %s", e.Message)
}

// NotOpenError occurs when a journal is used after Close.
type NotOpenError struct{}

func (e NotOpenError) Error() string {
	return "The journal database is not open"
}
