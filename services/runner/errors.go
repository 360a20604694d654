// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runner

import (
	"errors"
	"fmt"
)

// Sentinel errors for the runner package.
var (
	// ErrExecutionTimeout is recorded when a subprocess or HTTP call
	// exceeded its bound. Process execution is never retried on timeout;
	// HTTP execution retries only transient network/5xx conditions.
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrProtocol is recorded when a subprocess or HTTP response could not
	// be parsed as expected. Carried inside a failed InvocationResult, not
	// raised past the runner boundary.
	ErrProtocol = errors.New("protocol error")

	// ErrBadRequest marks an invocation request missing required fields.
	ErrBadRequest = errors.New("invalid invocation request")
)

// snippetLimit bounds how much raw output a ProtocolError carries.
const snippetLimit = 200

// ProtocolError describes an unparseable response with a truncated snippet
// of the raw output for diagnosis.
type ProtocolError struct {
	Snippet string
	Reason  string
}

// newProtocolError truncates raw output into a ProtocolError.
func newProtocolError(reason string, raw []byte) *ProtocolError {
	snippet := string(raw)
	if len(snippet) > snippetLimit {
		snippet = snippet[:snippetLimit] + "..."
	}
	return &ProtocolError{Snippet: snippet, Reason: reason}
}

// Error returns the error message.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %q", e.Reason, e.Snippet)
}

// Unwrap marks every ProtocolError as an ErrProtocol.
func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}
