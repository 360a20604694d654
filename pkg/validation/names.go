// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for identifiers that cross
// the trust boundary: overlay names that are resolved against the overlay
// directory, and request ids that end up in subprocess input, audit lines,
// and index keys.
//
// Overlay names reach the filesystem and subprocess argument vectors, so
// the rules here are deliberately strict: a short allow-listed character
// set rather than a deny-list of known-bad sequences.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sentinel errors for identifier validation.
var (
	// ErrInvalidOverlayName is returned for overlay names that could be
	// used for path traversal or argument injection.
	ErrInvalidOverlayName = errors.New("invalid overlay name")

	// ErrInvalidRequestID is returned for request ids outside the accepted
	// character set or length bound.
	ErrInvalidRequestID = errors.New("invalid request id")
)

const (
	maxOverlayNameLen = 64
	maxRequestIDLen   = 128
)

var (
	// Overlay names: lowercase alphanumerics with single internal
	// hyphens/underscores, starting with a letter. Matches the directory
	// naming convention under the overlay root.
	overlayNamePattern = regexp.MustCompile(`^[a-z][a-z0-9]*([_-][a-z0-9]+)*$`)

	// Request ids: UUIDs plus the common caller-supplied forms.
	requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// ValidateOverlayName checks that name is safe to resolve against the
// overlay directory and to place in a subprocess argument vector.
//
// # Description
//
// Rejects empty names, names over 64 characters, anything containing a
// path separator or "..", and anything outside the lowercase
// letter/digit/hyphen/underscore alphabet.
func ValidateOverlayName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidOverlayName)
	}
	if len(name) > maxOverlayNameLen {
		return fmt.Errorf("%w: %d characters exceeds limit of %d",
			ErrInvalidOverlayName, len(name), maxOverlayNameLen)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q contains path elements", ErrInvalidOverlayName, name)
	}
	if !overlayNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s",
			ErrInvalidOverlayName, name, overlayNamePattern.String())
	}
	return nil
}

// ValidateRequestID checks that id is safe to embed in audit lines, index
// keys, and subprocess input. Empty ids are valid; the gateway mints a
// UUID when the caller supplies none.
func ValidateRequestID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > maxRequestIDLen {
		return fmt.Errorf("%w: %d characters exceeds limit of %d",
			ErrInvalidRequestID, len(id), maxRequestIDLen)
	}
	if !requestIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q must match %s",
			ErrInvalidRequestID, id, requestIDPattern.String())
	}
	return nil
}
