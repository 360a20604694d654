// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registry loads and caches overlay manifests from the overlay
// directory.
//
// Each overlay lives at <root>/<name>/manifest.json. Parsed manifests are
// cached keyed by a content hash of the raw bytes: an unchanged file is
// never re-parsed, an edited file is re-parsed on the next lookup, and a
// removed overlay directory is pruned from the cache by the fsnotify
// watcher.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/wardstone-io/wardstone/pkg/validation"
	"github.com/wardstone-io/wardstone/services/phasepolicy"
)

// Sentinel errors for the registry package.
var (
	// ErrOverlayNotFound is returned when no manifest exists for a name.
	ErrOverlayNotFound = errors.New("overlay not found")

	// ErrManifestInvalid is returned for manifests that fail structural or
	// semantic validation.
	ErrManifestInvalid = errors.New("overlay manifest invalid")
)

// Overlay lifecycle statuses.
const (
	StatusInstalled = "installed"
	StatusEnabled   = "enabled"
	StatusDisabled  = "disabled"
)

// Manifest describes one installed overlay. Supplied by overlay authors as
// manifest.json; the governor consumes it and never writes it back.
type Manifest struct {
	// Name must match the overlay's directory name.
	Name string `json:"name" validate:"required"`

	// Version is the overlay's own version string.
	Version string `json:"version" validate:"required"`

	// Status is installed, enabled, or disabled. Only enabled overlays
	// may be invoked.
	Status string `json:"status" validate:"oneof=installed enabled disabled"`

	// Phases are the execution phases the overlay declares support for.
	Phases []phasepolicy.Phase `json:"phases" validate:"min=1"`

	// Entrypoint is the command line or URL used to execute the overlay.
	Entrypoint string `json:"entrypoint" validate:"required"`

	// Capabilities are the capabilities the overlay declares.
	Capabilities []string `json:"capabilities"`

	// OpPolicy optionally maps named operations to the capability subsets
	// they use; consumed by callers that resolve an operation to a
	// capability path.
	OpPolicy map[string][]string `json:"op_policy,omitempty"`

	// Rune is an optional memory rune annotation describing the overlay's
	// memory profile. Parsed by the gateway; absent means the overlay runs
	// under a default profile.
	Rune string `json:"rune,omitempty"`

	// TimeoutMS is the overlay's configured execution timeout.
	TimeoutMS int `json:"timeout_ms" validate:"gt=0"`
}

// Enabled reports whether the overlay may be invoked.
func (m *Manifest) Enabled() bool {
	return m.Status == StatusEnabled
}

// SupportsPhase reports whether the manifest declares the given phase.
func (m *Manifest) SupportsPhase(phase phasepolicy.Phase) bool {
	for _, p := range m.Phases {
		if p == phase {
			return true
		}
	}
	return false
}

var manifestValidator = validator.New()

// ParseManifest decodes and validates raw manifest bytes.
//
// # Outputs
//
//   - *Manifest: validated manifest
//   - error: ErrManifestInvalid-wrapped on malformed JSON, failed struct
//     validation, an unsafe overlay name, or an unknown phase
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	if err := manifestValidator.Struct(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	if err := validation.ValidateOverlayName(m.Name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	for _, phase := range m.Phases {
		if !phasepolicy.ValidPhase(phase) {
			return nil, fmt.Errorf("%w: unknown phase %q", ErrManifestInvalid, phase)
		}
	}
	return &m, nil
}

// ContentHash returns the lowercase hex SHA-256 of raw manifest bytes.
// Cache keys use this so whitespace-only edits still invalidate.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
