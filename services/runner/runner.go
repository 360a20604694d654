// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package runner executes overlays in a sandbox: as a subprocess speaking a
// stdin/stdout JSON protocol, or as an HTTP call with bounded retries.
//
// Isolation is process-boundary only: a scrubbed environment, canonical
// JSON over the process's streams, and a hard timeout. There is no syscall
// filtering or container runtime. Both strategies compute the invocation's
// provenance hash before execution is attempted, so a hash exists even for
// failed and timed-out attempts.
//
// All failures come back as a structured InvocationResult with OK=false;
// errors are returned only for requests the runner could not even attempt
// (missing fields, unserializable payloads).
package runner

import (
	"bytes"
	"context"
	"fmt"

	"github.com/wardstone-io/wardstone/services/provenance"
)

// Request is the common input contract for both execution strategies.
type Request struct {
	// Overlay is the overlay name.
	Overlay string

	// Version is the overlay's manifest version, hashed into provenance.
	Version string

	// Phase is the execution phase this invocation was approved for.
	Phase string

	// Entrypoint is the resolved command line (process strategy) or URL
	// (HTTP strategy).
	Entrypoint string

	// RequestID identifies the invocation in audit and index records.
	RequestID string

	// TimestampMS is the caller-assigned invocation timestamp.
	TimestampMS int64

	// Payload is the request payload forwarded to the overlay.
	Payload any

	// TimeoutMS bounds execution. Callers pass the effective timeout:
	// the lesser of the manifest timeout and the phase duration ceiling.
	TimeoutMS int
}

// validate checks the fields every strategy requires.
func (r *Request) validate() error {
	if r.Overlay == "" {
		return fmt.Errorf("%w: overlay is required", ErrBadRequest)
	}
	if r.Entrypoint == "" {
		return fmt.Errorf("%w: entrypoint is required", ErrBadRequest)
	}
	if r.RequestID == "" {
		return fmt.Errorf("%w: request id is required", ErrBadRequest)
	}
	if r.TimeoutMS <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrBadRequest)
	}
	return nil
}

// InvocationResult is the immutable outcome of one invocation attempt.
type InvocationResult struct {
	OK             bool   `json:"ok"`
	Overlay        string `json:"overlay"`
	Phase          string `json:"phase"`
	Stdout         string `json:"stdout,omitempty"`
	Stderr         string `json:"stderr,omitempty"`
	ExitCode       int    `json:"exit_code"`
	DurationMS     int64  `json:"duration_ms"`
	ProvenanceHash string `json:"provenance_hash"`

	// OutputJSON holds the parsed response when the overlay's output
	// looked like a JSON object; otherwise nil and Stdout carries the
	// opaque text.
	OutputJSON map[string]any `json:"output_json,omitempty"`

	// PolicyChecked records that the invocation passed the phase policy
	// engine before reaching the runner. Set by the dispatching layer;
	// the runner itself never consults policy.
	PolicyChecked bool `json:"policy_checked"`

	// PolicyViolation carries the violation rule when a dispatcher
	// records a denied attempt. Empty on any result that executed.
	PolicyViolation string `json:"policy_violation,omitempty"`

	// Error describes the failure class when OK is false.
	Error string `json:"error,omitempty"`
}

// Runner is the common execution contract. ProcessRunner and HTTPRunner
// both satisfy it; the scheduler's executor wraps one of them.
type Runner interface {
	// Invoke executes one overlay invocation. May block up to the
	// request's timeout. A non-nil error means the request could not be
	// attempted at all; execution failures come back inside the result.
	Invoke(ctx context.Context, req Request) (*InvocationResult, error)
}

// protocolRequest is the JSON object written to the overlay (subprocess
// stdin, or HTTP body).
type protocolRequest struct {
	Overlay     string `json:"overlay"`
	Version     string `json:"version"`
	Phase       string `json:"phase"`
	RequestID   string `json:"request_id"`
	TimestampMS int64  `json:"timestamp_ms"`
	Payload     any    `json:"payload"`
}

// encodeProtocolRequest serializes the wire object in canonical form and
// returns it alongside the invocation's provenance hash. The hash is
// computed here, before any execution, so both strategies share the
// hash-before-execute guarantee.
func encodeProtocolRequest(req Request) ([]byte, string, error) {
	hash, err := provenance.EventHash(provenance.Event{
		Overlay:     req.Overlay,
		Version:     req.Version,
		Phase:       req.Phase,
		Entrypoint:  req.Entrypoint,
		RequestID:   req.RequestID,
		TimestampMS: req.TimestampMS,
		Payload:     req.Payload,
	})
	if err != nil {
		return nil, "", fmt.Errorf("provenance hash: %w", err)
	}

	body, err := provenance.CanonicalJSON(protocolRequest{
		Overlay:     req.Overlay,
		Version:     req.Version,
		Phase:       req.Phase,
		RequestID:   req.RequestID,
		TimestampMS: req.TimestampMS,
		Payload:     req.Payload,
	})
	if err != nil {
		return nil, "", fmt.Errorf("encode request: %w", err)
	}
	return body, hash, nil
}

// looksLikeJSONObject reports whether raw output should be parsed as a
// JSON object: first non-space byte is '{'.
func looksLikeJSONObject(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
