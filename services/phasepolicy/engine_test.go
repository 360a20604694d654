// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phasepolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPolicy = `
version: 7
phases:
  OPEN:
    forbidden_capabilities: [exec]
    forbidden_entrypoint_substrings: ["rm -rf"]
    max_duration_ms: 30000
  ALIGN:
    forbidden_capabilities: [exec]
    max_duration_ms: 60000
  ASCEND:
    allowed_capabilities: [exec, fs_read]
    max_duration_ms: 120000
    require_approval: true
  CLEAR:
    allowed_capabilities: [fs_read, report]
    max_duration_ms: 30000
  SEAL:
    allowed_capabilities: [report]
    max_duration_ms: 15000
`

func loadTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := Load([]byte(testPolicy))
	require.NoError(t, err)
	return engine
}

func baseRequest() CheckRequest {
	return CheckRequest{
		Phase:           PhaseOpen,
		Overlay:         "scribe",
		SupportedPhases: []Phase{PhaseOpen, PhaseAlign},
		Entrypoint:      "python3 overlays/scribe/main.py",
		Capabilities:    []string{"fs_read"},
		TimeoutMS:       5000,
	}
}

func TestLoadParsesVersionAndPhases(t *testing.T) {
	engine := loadTestEngine(t)
	assert.Equal(t, 7, engine.Version())
	for _, phase := range AllPhases {
		assert.NotNil(t, engine.Policy(phase), "phase=%s", phase)
	}
}

func TestLoadFailsClosedOnMissingPhase(t *testing.T) {
	partial := `
version: 1
phases:
  OPEN:
    max_duration_ms: 1000
  ALIGN:
    max_duration_ms: 1000
  ASCEND:
    max_duration_ms: 1000
  CLEAR:
    max_duration_ms: 1000
`
	_, err := Load([]byte(partial))
	assert.ErrorIs(t, err, ErrPolicyLoad)
}

func TestLoadRejectsUnknownPhaseName(t *testing.T) {
	bad := `
version: 1
phases:
  TRANSCEND:
    max_duration_ms: 1000
`
	_, err := Load([]byte(bad))
	assert.ErrorIs(t, err, ErrPolicyLoad)
}

func TestLoadRejectsMissingDuration(t *testing.T) {
	bad := `
version: 1
phases:
  OPEN: {}
  ALIGN: {max_duration_ms: 1}
  ASCEND: {max_duration_ms: 1}
  CLEAR: {max_duration_ms: 1}
  SEAL: {max_duration_ms: 1}
`
	_, err := Load([]byte(bad))
	assert.ErrorIs(t, err, ErrPolicyLoad)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load([]byte("phases: ["))
	assert.ErrorIs(t, err, ErrPolicyLoad)
}

func TestLoadDefaultEmbeddedPolicy(t *testing.T) {
	engine, err := LoadDefault()
	require.NoError(t, err)
	for _, phase := range AllPhases {
		require.NotNil(t, engine.Policy(phase))
		assert.Positive(t, engine.Policy(phase).MaxDurationMS)
	}
	// The shipped table gates ASCEND and SEAL behind approval.
	assert.True(t, engine.Policy(PhaseAscend).RequireApproval)
	assert.True(t, engine.Policy(PhaseSeal).RequireApproval)
}

func TestCheckAllowsCleanRequest(t *testing.T) {
	engine := loadTestEngine(t)
	assert.NoError(t, engine.Check(baseRequest()))
}

func TestCheckUnknownPhase(t *testing.T) {
	engine := loadTestEngine(t)
	req := baseRequest()
	req.Phase = Phase("TRANSCEND")

	err := engine.Check(req)
	require.ErrorIs(t, err, ErrPolicyViolation)
	var violation *Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, RulePhaseUnknown, violation.Rule)
}

func TestCheckUnsupportedPhaseBeforeCapabilityChecks(t *testing.T) {
	// The overlay declares [OPEN, CLEAR] only and carries no exec
	// capability; an ASCEND request must fail at the manifest-support
	// check, not the exec-capability check.
	engine := loadTestEngine(t)
	req := baseRequest()
	req.Phase = PhaseAscend
	req.SupportedPhases = []Phase{PhaseOpen, PhaseClear}
	req.Capabilities = []string{"fs_read"}

	err := engine.Check(req)
	var violation *Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, RulePhaseUnsupported, violation.Rule)
}

func TestCheckForbiddenEntrypointSubstring(t *testing.T) {
	engine := loadTestEngine(t)
	req := baseRequest()
	req.Entrypoint = "sh -c 'rm -rf /tmp/work'"

	err := engine.Check(req)
	var violation *Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, RuleEntrypointForbidden, violation.Rule)
	assert.Equal(t, "rm -rf", violation.Pattern)
}

func TestCheckAscendRequiresExplicitExec(t *testing.T) {
	engine := loadTestEngine(t)
	req := baseRequest()
	req.Phase = PhaseAscend
	req.SupportedPhases = []Phase{PhaseAscend}
	req.Capabilities = []string{"fs_read"}

	err := engine.Check(req)
	var violation *Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, RuleExecRequired, violation.Rule)
	assert.Equal(t, "exec", violation.Capability)

	// With exec declared the same request passes.
	req.Capabilities = []string{"fs_read", "exec"}
	assert.NoError(t, engine.Check(req))
}

func TestCheckAscendExecRequiredEvenWithEmptyAllowList(t *testing.T) {
	noList := `
version: 1
phases:
  OPEN: {max_duration_ms: 1000}
  ALIGN: {max_duration_ms: 1000}
  ASCEND: {max_duration_ms: 1000}
  CLEAR: {max_duration_ms: 1000}
  SEAL: {max_duration_ms: 1000}
`
	engine, err := Load([]byte(noList))
	require.NoError(t, err)

	req := CheckRequest{
		Phase:           PhaseAscend,
		Overlay:         "scribe",
		SupportedPhases: []Phase{PhaseAscend},
		Entrypoint:      "python3 main.py",
		Capabilities:    []string{"fs_read"},
		TimeoutMS:       500,
	}
	var violation *Violation
	require.ErrorAs(t, engine.Check(req), &violation)
	assert.Equal(t, RuleExecRequired, violation.Rule)
}

func TestCheckForbiddenCapability(t *testing.T) {
	engine := loadTestEngine(t)
	req := baseRequest()
	req.Capabilities = []string{"fs_read", "exec"}

	err := engine.Check(req)
	var violation *Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, RuleCapabilityForbidden, violation.Rule)
	assert.Equal(t, "exec", violation.Capability)
}

func TestCheckAllowListMembership(t *testing.T) {
	engine := loadTestEngine(t)
	req := baseRequest()
	req.Phase = PhaseClear
	req.SupportedPhases = []Phase{PhaseClear}
	req.Capabilities = []string{"fs_read", "net_fetch"}

	err := engine.Check(req)
	var violation *Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, RuleCapabilityNotAllowed, violation.Rule)
	assert.Equal(t, "net_fetch", violation.Capability)
}

func TestCheckDurationCeiling(t *testing.T) {
	engine := loadTestEngine(t)
	req := baseRequest()
	req.TimeoutMS = 31000

	err := engine.Check(req)
	var violation *Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, RuleDurationExceeded, violation.Rule)
	assert.Equal(t, 30000, violation.LimitMS)
	assert.Equal(t, 31000, violation.ActualMS)

	req.TimeoutMS = 30000
	assert.NoError(t, engine.Check(req))
}

func TestCheckFirstViolationWins(t *testing.T) {
	// Request violates entrypoint, capability, and duration rules at once;
	// the entrypoint check runs first.
	engine := loadTestEngine(t)
	req := baseRequest()
	req.Entrypoint = "rm -rf /"
	req.Capabilities = []string{"exec"}
	req.TimeoutMS = 999999

	var violation *Violation
	require.ErrorAs(t, engine.Check(req), &violation)
	assert.Equal(t, RuleEntrypointForbidden, violation.Rule)
}
