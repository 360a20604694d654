// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package phasepolicy enforces the phase-based capability security policy
// ahead of any sandboxed execution.
//
// Every invocation names the phase it wants to run under (OPEN, ALIGN,
// ASCEND, CLEAR, SEAL). The engine checks the request against the phase's
// declarative rule record in a fixed order and aborts at the first
// violation:
//
//  1. the requested phase must be one of the five recognized phases
//  2. the overlay manifest must declare support for that phase
//  3. the resolved entrypoint must not contain a forbidden substring
//  4. declared capabilities must clear the phase's deny list and, when the
//     phase carries a non-empty allow-list, be members of it; ASCEND
//     additionally requires an explicit "exec" capability regardless of
//     either list
//  5. the overlay's configured timeout must not exceed the phase ceiling
//
// The policy table is loaded once from YAML (file or embedded default) and
// the engine fails closed: all five phases must be defined or the load is
// rejected.
package phasepolicy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wardstone-io/wardstone/services/phasepolicy/enforcement"
)

// CapabilityExec is the capability ASCEND requires overlays to declare
// explicitly. There is no implicit allow: an empty allow-list never grants
// exec in ASCEND.
const CapabilityExec = "exec"

// CheckRequest carries everything the engine needs to judge one invocation.
// The fields mirror the overlay manifest; the engine does not depend on the
// registry's manifest type so the two packages can evolve independently.
type CheckRequest struct {
	// Phase is the requested execution phase.
	Phase Phase

	// Overlay is the overlay name, used only for violation messages.
	Overlay string

	// SupportedPhases are the phases the overlay manifest declares.
	SupportedPhases []Phase

	// Entrypoint is the resolved entrypoint string (or URL).
	Entrypoint string

	// Capabilities are the capabilities the overlay declares.
	Capabilities []string

	// TimeoutMS is the overlay's configured execution timeout.
	TimeoutMS int
}

// Engine holds the compiled read-only policy table.
//
// # Thread Safety
//
// The table is immutable after construction; Check is safe for unlimited
// concurrent use without locking.
type Engine struct {
	version  int
	policies map[Phase]*PhasePolicy
}

// Load parses and compiles a policy table from YAML bytes.
//
// # Outputs
//
//   - *Engine: ready for Check calls
//   - error: ErrPolicyLoad-wrapped when the YAML is malformed, a phase name
//     is unknown, a duration ceiling is missing, or any of the five phases
//     is undefined (fail closed)
func Load(data []byte) (*Engine, error) {
	var file PolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyLoad, err)
	}
	for _, phase := range AllPhases {
		policy, ok := file.Phases[phase]
		if !ok || policy == nil {
			return nil, fmt.Errorf("%w: phase %s is undefined", ErrPolicyLoad, phase)
		}
		if policy.MaxDurationMS <= 0 {
			return nil, fmt.Errorf("%w: phase %s has no max_duration_ms", ErrPolicyLoad, phase)
		}
	}
	if len(file.Phases) != len(AllPhases) {
		return nil, fmt.Errorf("%w: policy defines %d phases, want exactly %d",
			ErrPolicyLoad, len(file.Phases), len(AllPhases))
	}
	for _, policy := range file.Phases {
		policy.compile()
	}
	return &Engine{version: file.Version, policies: file.Phases}, nil
}

// LoadFile reads a policy table from a YAML file on disk.
func LoadFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrPolicyLoad, path, err)
	}
	return Load(data)
}

// LoadDefault compiles the embedded default policy shipped in the binary.
func LoadDefault() (*Engine, error) {
	return Load(enforcement.DefaultPhasePolicy)
}

// Version returns the loaded policy revision.
func (e *Engine) Version() int {
	return e.version
}

// Policy returns the rule record for a phase, or nil for unknown phases.
func (e *Engine) Policy(phase Phase) *PhasePolicy {
	return e.policies[phase]
}

// Check judges one invocation request against the policy table.
//
// Checks run in the documented order and the first violation aborts; a nil
// return means the invocation may proceed to scheduling and execution.
func (e *Engine) Check(req CheckRequest) error {
	if !ValidPhase(req.Phase) {
		return &Violation{
			Rule:    RulePhaseUnknown,
			Phase:   req.Phase,
			Overlay: req.Overlay,
			Detail:  fmt.Sprintf("phase %q is not one of %v", req.Phase, AllPhases),
		}
	}

	supported := false
	for _, p := range req.SupportedPhases {
		if p == req.Phase {
			supported = true
			break
		}
	}
	if !supported {
		return &Violation{
			Rule:    RulePhaseUnsupported,
			Phase:   req.Phase,
			Overlay: req.Overlay,
			Detail: fmt.Sprintf("overlay declares phases %v, not %s",
				req.SupportedPhases, req.Phase),
		}
	}

	policy := e.policies[req.Phase]

	for _, pattern := range policy.ForbiddenEntrypointSubstrings {
		if strings.Contains(req.Entrypoint, pattern) {
			return &Violation{
				Rule:    RuleEntrypointForbidden,
				Phase:   req.Phase,
				Overlay: req.Overlay,
				Pattern: pattern,
				Detail:  fmt.Sprintf("entrypoint contains forbidden substring %q", pattern),
			}
		}
	}

	if req.Phase == PhaseAscend && !hasCapability(req.Capabilities, CapabilityExec) {
		return &Violation{
			Rule:       RuleExecRequired,
			Phase:      req.Phase,
			Overlay:    req.Overlay,
			Capability: CapabilityExec,
			Detail:     "ASCEND requires an explicitly declared exec capability",
		}
	}

	for _, capability := range req.Capabilities {
		if policy.forbidden[capability] {
			return &Violation{
				Rule:       RuleCapabilityForbidden,
				Phase:      req.Phase,
				Overlay:    req.Overlay,
				Capability: capability,
				Detail:     fmt.Sprintf("capability %q is forbidden in phase %s", capability, req.Phase),
			}
		}
		if len(policy.allowed) > 0 && !policy.allowed[capability] {
			return &Violation{
				Rule:       RuleCapabilityNotAllowed,
				Phase:      req.Phase,
				Overlay:    req.Overlay,
				Capability: capability,
				Detail: fmt.Sprintf("capability %q is not in the %s allow-list %v",
					capability, req.Phase, policy.AllowedCapabilities),
			}
		}
	}

	if req.TimeoutMS > policy.MaxDurationMS {
		return &Violation{
			Rule:     RuleDurationExceeded,
			Phase:    req.Phase,
			Overlay:  req.Overlay,
			LimitMS:  policy.MaxDurationMS,
			ActualMS: req.TimeoutMS,
			Detail: fmt.Sprintf("timeout %dms exceeds phase ceiling %dms",
				req.TimeoutMS, policy.MaxDurationMS),
		}
	}

	return nil
}

func hasCapability(capabilities []string, want string) bool {
	for _, c := range capabilities {
		if c == want {
			return true
		}
	}
	return false
}
