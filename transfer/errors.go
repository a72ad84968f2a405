package transfer

import (
	"errors"
	"fmt"
	"strings"
)

// DuplicateError reports that the provider refused to start a transfer
// because an identical one is already in flight. Reference identifies the
// prior transfer when the provider discloses it.
type DuplicateError struct {
	Reference string
}

func (e *DuplicateError) Error() string {
	if e.Reference != "" {
		return fmt.Sprintf("identical transfer already in flight: %s", e.Reference)
	}
	return "identical transfer already in flight"
}

// IsDuplicate reports whether the error indicates a duplicate in-flight
// transfer.
func IsDuplicate(err error) bool {
	var duplicate *DuplicateError
	return errors.As(err, &duplicate)
}

// CommandError reports the failure of a transfer subprocess, preserving
// the command line and its captured output for quarantine provenance.
type CommandError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s Command Failed - %v - %d - %s - %s",
		e.Args[0], e.Args, e.ExitCode, e.Stdout, e.Stderr)
}

// Details renders the captured output of a failed command for the
// reason_details field of a quarantine patch.
func (e *CommandError) Details() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command: %v\n", e.Args)
	fmt.Fprintf(&b, "returncode: %d\n", e.ExitCode)
	fmt.Fprintf(&b, "stdout: %s\n", e.Stdout)
	fmt.Fprintf(&b, "stderr: %s\n", e.Stderr)
	return b.String()
}
