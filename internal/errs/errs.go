// Package errs classifies errors per the node's error handling design:
// Transient, Malformed, Inconsistent and Fatal. No error is allowed to
// unwind across a worker boundary; every worker converts an error to one
// of these classes before reporting it to a supervisor.
package errs

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Class identifies how a worker must react to an error.
type Class int

const (
	// Transient errors are retried or dropped silently; never surfaced.
	Transient Class = iota
	// Malformed errors increment an invalid-X counter and may close the
	// offending peer session after a threshold is reached.
	Malformed
	// Inconsistent errors indicate a broken invariant (e.g. a milestone
	// merkle mismatch); the supervisor logs them and takes no further action.
	Inconsistent
	// Fatal errors initiate a graceful node shutdown.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Malformed:
		return "malformed"
	case Inconsistent:
		return "inconsistent"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classified pairs an error with the class a worker decided it belongs to.
type Classified struct {
	Err   error
	Class Class
}

func (c *Classified) Error() string { return fmt.Sprintf("%s: %v", c.Class, c.Err) }

func (c *Classified) Unwrap() error { return c.Err }

// Wrap tags err with class, capturing a stack trace for Fatal errors so a
// shutdown log line has a useful trace.
func Wrap(err error, class Class) *Classified {
	if class == Fatal {
		err = pkgerrors.WithStack(err)
	}
	return &Classified{Err: err, Class: class}
}

// ClassOf extracts the Class a Classified error was tagged with, defaulting
// to Transient for plain errors (fail open: never surfaced, just retried).
func ClassOf(err error) Class {
	var c *Classified
	if errors.As(err, &c) {
		return c.Class
	}
	return Transient
}
