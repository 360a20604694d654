// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phasepolicy

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Phase is a declared execution context for one overlay invocation. Phases
// are named per request; there is no persistent per-overlay state machine.
type Phase string

const (
	PhaseOpen   Phase = "OPEN"
	PhaseAlign  Phase = "ALIGN"
	PhaseAscend Phase = "ASCEND"
	PhaseClear  Phase = "CLEAR"
	PhaseSeal   Phase = "SEAL"
)

// AllPhases is the closed set of recognized phases, in canonical order.
var AllPhases = []Phase{PhaseOpen, PhaseAlign, PhaseAscend, PhaseClear, PhaseSeal}

// validPhases supports O(1) membership checks.
var validPhases = map[Phase]bool{
	PhaseOpen:   true,
	PhaseAlign:  true,
	PhaseAscend: true,
	PhaseClear:  true,
	PhaseSeal:   true,
}

// ValidPhase reports whether p is one of the five recognized phases.
func ValidPhase(p Phase) bool {
	return validPhases[p]
}

// UnmarshalYAML validates phase names at decode time so a typo in the
// policy file fails the load rather than creating an unreachable entry.
func (p *Phase) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := Phase(s)
	if !validPhases[incoming] {
		return fmt.Errorf("invalid phase %q", s)
	}
	*p = incoming
	return nil
}

// PhasePolicy is the declarative rule record for one phase.
//
// The policy table is loaded once at startup and treated as read-only for
// the process lifetime; no locking is needed on the enforcement path.
type PhasePolicy struct {
	// AllowedCapabilities is an allow-list; when non-empty, every
	// capability the overlay declares must be a member. Empty means no
	// allow-list is enforced.
	AllowedCapabilities []string `yaml:"allowed_capabilities"`

	// ForbiddenCapabilities always deny, regardless of the allow-list.
	ForbiddenCapabilities []string `yaml:"forbidden_capabilities"`

	// ForbiddenEntrypointSubstrings deny any overlay whose resolved
	// entrypoint contains one of these substrings.
	ForbiddenEntrypointSubstrings []string `yaml:"forbidden_entrypoint_substrings"`

	// MaxDurationMS is the ceiling on the overlay's configured timeout.
	MaxDurationMS int `yaml:"max_duration_ms"`

	// RequireAudit marks invocations in this phase for audit logging.
	RequireAudit bool `yaml:"require_audit"`

	// RequireApproval gates invocations behind an ApprovalProvider.
	RequireApproval bool `yaml:"require_approval"`

	// RequireProvenance marks invocations for provenance hashing.
	RequireProvenance bool `yaml:"require_provenance"`

	// Deterministic declares that overlays in this phase must produce
	// reproducible output. Advisory; recorded in audit entries.
	Deterministic bool `yaml:"deterministic"`

	// Immutable declares that overlays in this phase may not modify
	// external state. Advisory; recorded in audit entries.
	Immutable bool `yaml:"immutable"`

	// allowed and forbidden are membership sets built at load time.
	allowed   map[string]bool
	forbidden map[string]bool
}

// compile builds the capability membership sets.
func (p *PhasePolicy) compile() {
	p.allowed = make(map[string]bool, len(p.AllowedCapabilities))
	for _, c := range p.AllowedCapabilities {
		p.allowed[c] = true
	}
	p.forbidden = make(map[string]bool, len(p.ForbiddenCapabilities))
	for _, c := range p.ForbiddenCapabilities {
		p.forbidden[c] = true
	}
}

// PolicyFile is the on-disk shape of the phase policy configuration.
type PolicyFile struct {
	// Version identifies the policy revision; recorded in audit entries.
	Version int `yaml:"version"`

	// Phases maps each of the five phase names to its rule record.
	Phases map[Phase]*PhasePolicy `yaml:"phases"`
}
