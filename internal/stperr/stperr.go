// Package stperr centralizes the error-wrapping conventions used
// across the sender and receiver: contextual wraps via
// github.com/pkg/errors, and a Fatal helper for the top-level command
// entry points.
package stperr

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// Wrap adds context to err in the style used throughout this module:
// "<context>: <cause>", with a stack trace recorded at the wrap site.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, context)
}

// Wrapf is Wrap with a formatted context, for call sites that need to
// name a path, port, or other runtime value in the wrap.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// Fatal prints err (with its wrapped stack, if any) to stderr and exits
// the process with status 1. Reserved for cmd/ main functions; library
// code always returns errors instead.
func Fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%+v\n", err)
	os.Exit(1)
}
