// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phasepolicy

import (
	"errors"
	"fmt"
)

// Sentinel errors for the phase policy package.
var (
	// ErrPolicyLoad is returned when the policy table cannot be loaded or
	// does not define all five phases. The engine fails closed: a process
	// without a complete table must not execute anything.
	ErrPolicyLoad = errors.New("phase policy load failed")

	// ErrPolicyViolation is the class wrapped by every Violation. Callers
	// use errors.Is against this to distinguish policy denials from
	// execution failures.
	ErrPolicyViolation = errors.New("phase policy violation")
)

// Rule identifies which enforcement check a Violation came from.
type Rule string

const (
	RulePhaseUnknown         Rule = "phase_unknown"
	RulePhaseUnsupported     Rule = "phase_unsupported"
	RuleEntrypointForbidden  Rule = "entrypoint_forbidden"
	RuleExecRequired         Rule = "exec_required"
	RuleCapabilityForbidden  Rule = "capability_forbidden"
	RuleCapabilityNotAllowed Rule = "capability_not_allowed"
	RuleDurationExceeded     Rule = "duration_exceeded"
)

// Violation is a structured policy denial. Only the fields relevant to the
// violated rule are populated; Detail always carries a human-readable
// explanation.
type Violation struct {
	Rule       Rule   `json:"rule"`
	Phase      Phase  `json:"phase"`
	Overlay    string `json:"overlay"`
	Capability string `json:"capability,omitempty"`
	Pattern    string `json:"pattern,omitempty"`
	LimitMS    int    `json:"limit_ms,omitempty"`
	ActualMS   int    `json:"actual_ms,omitempty"`
	Detail     string `json:"detail"`
}

// Error returns the violation message.
func (v *Violation) Error() string {
	return fmt.Sprintf("policy violation [%s] overlay %q phase %s: %s",
		v.Rule, v.Overlay, v.Phase, v.Detail)
}

// Unwrap marks every Violation as an ErrPolicyViolation.
func (v *Violation) Unwrap() error {
	return ErrPolicyViolation
}
