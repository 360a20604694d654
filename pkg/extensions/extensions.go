// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the governor's pluggable extension points.
//
// Phases may be configured with require_approval, and callers sometimes
// want heuristic text scanning over overlay output; neither concern belongs
// inside the core enforcement path, so both are expressed as interfaces
// injected via ServiceOptions. The defaults are no-ops: approval always
// granted, no findings ever reported.
//
// # Usage
//
//	opts := extensions.DefaultOptions()
//	svc := gateway.New(cfg, deps, opts)
//
// A deployment that wants human-in-the-loop approval for SEAL-phase
// invocations injects its own provider:
//
//	opts := extensions.ServiceOptions{
//	    Approval: ticketing.NewApprovalBridge(client),
//	    Drift:    scanners.NewKeywordScanner(rules),
//	}
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package extensions

import "context"

// ApprovalProvider decides whether an invocation requiring approval may
// proceed. Called only for phases whose policy sets require_approval.
type ApprovalProvider interface {
	// Approve returns nil to allow the invocation, or an error describing
	// why it was withheld. overlay and phase identify the request.
	Approve(ctx context.Context, overlay, phase, requestID string) error
}

// Finding is one hit reported by a DriftScanner.
type Finding struct {
	// Rule names the matched rule or pattern.
	Rule string `json:"rule"`

	// Excerpt is a short slice of the offending text.
	Excerpt string `json:"excerpt"`

	// Severity is scanner-defined, conventionally low/medium/high.
	Severity string `json:"severity"`
}

// DriftScanner scans free text and reports findings. The contract is
// deliberately minimal so heuristic classifiers can evolve independently of
// the governor: text in, findings out, no side effects.
type DriftScanner interface {
	Scan(text string) []Finding
}

// ServiceOptions groups the extension points for service construction.
// Nil fields are replaced with no-op defaults by Normalize.
type ServiceOptions struct {
	// Approval gates invocations in require_approval phases.
	// Default: NopApprovalProvider (always allows).
	Approval ApprovalProvider

	// Drift scans overlay output text when a caller requests it.
	// Default: NopDriftScanner (never reports findings).
	Drift DriftScanner
}

// DefaultOptions returns ServiceOptions with no-op defaults.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		Approval: &NopApprovalProvider{},
		Drift:    &NopDriftScanner{},
	}
}

// Normalize returns a copy of opts with nil fields replaced by no-op
// defaults, so services never have to nil-check extension points.
func (opts ServiceOptions) Normalize() ServiceOptions {
	if opts.Approval == nil {
		opts.Approval = &NopApprovalProvider{}
	}
	if opts.Drift == nil {
		opts.Drift = &NopDriftScanner{}
	}
	return opts
}

// WithApproval returns a copy of opts with the given ApprovalProvider.
func (opts ServiceOptions) WithApproval(p ApprovalProvider) ServiceOptions {
	opts.Approval = p
	return opts
}

// WithDrift returns a copy of opts with the given DriftScanner.
func (opts ServiceOptions) WithDrift(s DriftScanner) ServiceOptions {
	opts.Drift = s
	return opts
}

// NopApprovalProvider approves everything.
type NopApprovalProvider struct{}

// Approve always returns nil.
func (p *NopApprovalProvider) Approve(ctx context.Context, overlay, phase, requestID string) error {
	return nil
}

// NopDriftScanner never reports findings.
type NopDriftScanner struct{}

// Scan always returns nil.
func (s *NopDriftScanner) Scan(text string) []Finding {
	return nil
}

var (
	_ ApprovalProvider = (*NopApprovalProvider)(nil)
	_ DriftScanner     = (*NopDriftScanner)(nil)
)
