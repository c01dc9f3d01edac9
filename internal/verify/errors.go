package verify

import (
	"fmt"
	"strings"
)

// NoEntity marks an AssertionError that is not about a single listing.
const NoEntity = -1

// AssertionError reports a rendered value that violates the checked constraint.
type AssertionError struct {
	Check    string
	Index    int
	Expected string
	Actual   string
	// Err is the underlying cause when the value could not be read at all.
	Err error
}

func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "assertion failed: %s", e.Check)
	if e.Index != NoEntity {
		fmt.Fprintf(&b, " (listing #%d)", e.Index+1)
	}
	fmt.Fprintf(&b, ": expected %s, got %s", e.Expected, e.Actual)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *AssertionError) Unwrap() error { return e.Err }
