// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memrune

import (
	"errors"
	"fmt"
)

// Sentinel errors for the memrune package.
var (
	// ErrParse is returned when rune annotation text is malformed or the
	// mandatory MEM fragment is missing. Parse failures are fatal to the
	// caller and never retried.
	ErrParse = errors.New("rune parse error")

	// ErrValidation is returned when a structurally valid profile violates
	// an invariant (for example a hard cap below the soft cap). Validation
	// failures surface before any scheduling happens.
	ErrValidation = errors.New("rune validation error")
)

// FragmentError wraps a parse failure with the fragment that caused it.
type FragmentError struct {
	Fragment string
	Err      error
}

// Error returns the error message.
func (e *FragmentError) Error() string {
	return fmt.Sprintf("fragment %s: %v", e.Fragment, e.Err)
}

// Unwrap returns the underlying error.
func (e *FragmentError) Unwrap() error {
	return e.Err
}

// newFragmentError creates a FragmentError wrapping ErrParse.
func newFragmentError(fragment, format string, args ...any) *FragmentError {
	return &FragmentError{
		Fragment: fragment,
		Err:      fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, args...)),
	}
}
