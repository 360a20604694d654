// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package provenance implements deterministic hashing primitives and the
// append-only audit log.
//
// Canonical JSON means keys sorted, no incidental whitespace, so the same
// logical object hashes identically across processes and languages. The
// provenance hash of an invocation attempt is computed over a fixed field
// set before execution is attempted, so a hash exists even for failed or
// timed-out attempts. Audit entries are additionally hash-chained: each
// line carries sha256(prev_chain_hash + canonical(entry)), letting an
// offline verifier detect truncation or tampering.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON serializes v with sorted keys and no incidental whitespace.
//
// # Description
//
// The value is marshaled, decoded into generic form, and re-marshaled;
// encoding/json emits map keys in sorted order, which gives the canonical
// byte form regardless of struct field order or the key order of the
// caller's maps.
//
// # Limitations
//
// Struct field names pass through their json tags; two structs that encode
// the same logical object with different tags canonicalize differently.
// Floats follow Go's shortest-representation formatting.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical re-marshal: %w", err)
	}
	return canonical, nil
}

// Hash returns the lowercase hex SHA-256 of v's canonical JSON form.
func Hash(v any) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ChainHash computes one link of the audit hash chain:
// sha256(prev + canonical). prev is the previous link's hex digest, empty
// for the first line of a log.
func ChainHash(prev string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// Event is the exact field set hashed for an invocation attempt. Changing
// any field changes the hash; the hash is computed before execution so it
// exists for failed and timed-out attempts too.
type Event struct {
	Overlay     string `json:"overlay"`
	Version     string `json:"version"`
	Phase       string `json:"phase"`
	Entrypoint  string `json:"entrypoint"`
	RequestID   string `json:"request_id"`
	TimestampMS int64  `json:"timestamp_ms"`
	Payload     any    `json:"payload"`
}

// EventHash returns the provenance hash of one invocation attempt.
func EventHash(ev Event) (string, error) {
	return Hash(ev)
}
