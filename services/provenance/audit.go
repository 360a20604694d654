// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provenance

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// PayloadEnvVar is the boolean-like environment toggle that enables raw
// payload logging in audit entries. Off by default; payloads are the only
// conditional field and their absence does not change the hash contract.
const PayloadEnvVar = "WARDSTONE_LOG_PAYLOADS"

// Sentinel errors for the audit log.
var (
	// ErrChainBroken is returned by Verify when a recomputed chain hash
	// disagrees with the one recorded on a line.
	ErrChainBroken = errors.New("audit hash chain broken")

	// ErrMalformedEntry is returned when an audit line is not valid JSON.
	ErrMalformedEntry = errors.New("malformed audit entry")
)

// Entry is one audit log line. Every field except Payload is always
// present; Payload appears only when payload logging is enabled.
type Entry struct {
	RequestID       string `json:"request_id"`
	TimestampMS     int64  `json:"timestamp_ms"`
	Overlay         string `json:"overlay"`
	Phase           string `json:"phase"`
	ManifestVersion string `json:"manifest_version"`
	Entrypoint      string `json:"entrypoint"`
	OK              bool   `json:"ok"`
	ExitCode        int    `json:"exit_code"`
	DurationMS      int64  `json:"duration_ms"`
	ProvenanceHash  string `json:"provenance_hash"`
	Payload         any    `json:"payload,omitempty"`

	// ChainHash is sha256(prev_chain_hash + canonical(entry without this
	// field)); set by Append, recomputed by Verify.
	ChainHash string `json:"chain_hash,omitempty"`
}

// PayloadLoggingEnabled reads the payload toggle from the environment.
// Truthy values: 1, true, yes, on (case-insensitive).
func PayloadLoggingEnabled() bool {
	switch strings.ToLower(os.Getenv(PayloadEnvVar)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// AuditLog is an append-only JSON-lines writer.
//
// # Description
//
// One canonical-JSON object per line; each Append holds the mutex for the
// full serialize-and-write, and the line is written with a single Write
// call, so concurrent appends interleave at line granularity and readers
// never observe a partial line. The file is opened O_APPEND and is never
// rewritten or truncated.
//
// # Thread Safety
//
// Safe for concurrent Append calls on one AuditLog value. Two AuditLog
// values on the same file would interleave whole lines via O_APPEND but
// would fork the hash chain; open one writer per file.
type AuditLog struct {
	mu          sync.Mutex
	file        *os.File
	prevChain   string
	logPayloads bool
}

// OpenAuditLog opens (creating if needed) the append-only log at path.
//
// An existing log is scanned so the hash chain continues from its last
// line. logPayloads controls whether Entry.Payload survives into the file;
// callers normally pass PayloadLoggingEnabled().
func OpenAuditLog(path string, logPayloads bool) (*AuditLog, error) {
	prev, err := lastChainHash(path)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return &AuditLog{file: file, prevChain: prev, logPayloads: logPayloads}, nil
}

// PayloadsEnabled reports whether this log was opened with payload
// logging. Callers use it to keep downstream records (like the replay
// index) consistent with the log itself.
func (l *AuditLog) PayloadsEnabled() bool {
	return l.logPayloads
}

// Append writes one entry as a single canonical-JSON line.
//
// The payload is dropped unless payload logging was enabled at open. The
// chain hash is computed over the canonical form of the entry without its
// ChainHash field, then attached before the line is written.
func (l *AuditLog) Append(entry Entry) error {
	if !l.logPayloads {
		entry.Payload = nil
	}
	entry.ChainHash = ""

	l.mu.Lock()
	defer l.mu.Unlock()

	canonical, err := CanonicalJSON(entry)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	entry.ChainHash = ChainHash(l.prevChain, canonical)

	line, err := CanonicalJSON(entry)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	l.prevChain = entry.ChainHash
	return nil
}

// Close syncs and closes the underlying file.
func (l *AuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit close: %w", err)
	}
	return l.file.Close()
}

// lastChainHash returns the chain hash on the final line of an existing
// log, or "" when the file is absent or empty.
func lastChainHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("open audit log %s: %w", path, err)
	}
	defer file.Close()

	var last string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan audit log %s: %w", path, err)
	}
	if last == "" {
		return "", nil
	}
	var entry Entry
	if err := json.Unmarshal([]byte(last), &entry); err != nil {
		return "", fmt.Errorf("%w: last line of %s", ErrMalformedEntry, path)
	}
	return entry.ChainHash, nil
}

// VerifyResult summarizes one chain verification pass.
type VerifyResult struct {
	// Lines is the number of entries examined.
	Lines int

	// BrokenAt is the 1-based line number of the first chain break, or 0
	// when the chain is intact.
	BrokenAt int
}

// Verify re-reads a log stream and recomputes the hash chain.
//
// Returns ErrChainBroken (with BrokenAt set) on the first mismatch and
// ErrMalformedEntry on unparseable lines; a nil error means every line
// chains correctly from the first.
func Verify(r io.Reader) (VerifyResult, error) {
	result := VerifyResult{}
	prev := ""

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		result.Lines++

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			result.BrokenAt = result.Lines
			return result, fmt.Errorf("%w: line %d", ErrMalformedEntry, result.Lines)
		}
		recorded := entry.ChainHash
		entry.ChainHash = ""
		canonical, err := CanonicalJSON(entry)
		if err != nil {
			result.BrokenAt = result.Lines
			return result, fmt.Errorf("%w: line %d: %v", ErrMalformedEntry, result.Lines, err)
		}
		if ChainHash(prev, canonical) != recorded {
			result.BrokenAt = result.Lines
			return result, fmt.Errorf("%w: line %d", ErrChainBroken, result.Lines)
		}
		prev = recorded
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("verify scan: %w", err)
	}
	return result, nil
}
