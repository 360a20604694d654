// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provenance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry(requestID string) Entry {
	return Entry{
		RequestID:       requestID,
		TimestampMS:     1756100000000,
		Overlay:         "scribe",
		Phase:           "OPEN",
		ManifestVersion: "1.2.0",
		Entrypoint:      "python3 main.py",
		OK:              true,
		ExitCode:        0,
		DurationMS:      42,
		ProvenanceHash:  "deadbeef",
	}
}

func TestAppendWritesRequiredFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := OpenAuditLog(path, false)
	require.NoError(t, err)

	require.NoError(t, log.Append(sampleEntry("req-1")))
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	for _, field := range []string{
		"request_id", "timestamp_ms", "overlay", "phase", "manifest_version",
		"entrypoint", "ok", "exit_code", "duration_ms", "provenance_hash",
		"chain_hash",
	} {
		assert.Contains(t, record, field, "field=%s", field)
	}
	assert.NotContains(t, record, "payload")
}

func TestAppendIncludesPayloadOnlyWhenEnabled(t *testing.T) {
	dir := t.TempDir()

	withPayload := filepath.Join(dir, "dev.jsonl")
	log, err := OpenAuditLog(withPayload, true)
	require.NoError(t, err)
	entry := sampleEntry("req-1")
	entry.Payload = map[string]any{"topic": "runes"}
	require.NoError(t, log.Append(entry))
	require.NoError(t, log.Close())

	data, err := os.ReadFile(withPayload)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"payload":{"topic":"runes"}`)

	withoutPayload := filepath.Join(dir, "prod.jsonl")
	log, err = OpenAuditLog(withoutPayload, false)
	require.NoError(t, err)
	require.NoError(t, log.Append(entry))
	require.NoError(t, log.Close())

	data, err = os.ReadFile(withoutPayload)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "payload")
}

func TestVerifyIntactChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := OpenAuditLog(path, false)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(sampleEntry(fmt.Sprintf("req-%d", i))))
	}
	require.NoError(t, log.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	result, err := Verify(file)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Lines)
	assert.Equal(t, 0, result.BrokenAt)
}

func TestChainContinuesAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	log, err := OpenAuditLog(path, false)
	require.NoError(t, err)
	require.NoError(t, log.Append(sampleEntry("req-1")))
	require.NoError(t, log.Close())

	log, err = OpenAuditLog(path, false)
	require.NoError(t, err)
	require.NoError(t, log.Append(sampleEntry("req-2")))
	require.NoError(t, log.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	result, err := Verify(file)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Lines)
}

func TestVerifyDetectsTamper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := OpenAuditLog(path, false)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, log.Append(sampleEntry(fmt.Sprintf("req-%d", i))))
	}
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"ok":true`, `"ok":false`, 1)
	require.NotEqual(t, string(data), tampered)

	result, err := Verify(strings.NewReader(tampered))
	assert.ErrorIs(t, err, ErrChainBroken)
	assert.Equal(t, 1, result.BrokenAt)
}

func TestVerifyDetectsDeletedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := OpenAuditLog(path, false)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, log.Append(sampleEntry(fmt.Sprintf("req-%d", i))))
	}
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	// Drop the middle line; the third line no longer chains from the first.
	truncated := lines[0] + "\n" + lines[2] + "\n"

	result, err := Verify(strings.NewReader(truncated))
	assert.ErrorIs(t, err, ErrChainBroken)
	assert.Equal(t, 2, result.BrokenAt)
}

func TestVerifyMalformedLine(t *testing.T) {
	_, err := Verify(strings.NewReader("not json\n"))
	assert.ErrorIs(t, err, ErrMalformedEntry)
}

func TestConcurrentAppendsNeverCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := OpenAuditLog(path, false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				entry := sampleEntry(fmt.Sprintf("req-%d-%d", g, i))
				assert.NoError(t, log.Append(entry))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, log.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	result, err := Verify(file)
	require.NoError(t, err)
	assert.Equal(t, 200, result.Lines)
}

func TestPayloadLoggingEnabled(t *testing.T) {
	for value, want := range map[string]bool{
		"1": true, "true": true, "YES": true, "on": true,
		"": false, "0": false, "off": false, "nope": false,
	} {
		t.Setenv(PayloadEnvVar, value)
		assert.Equal(t, want, PayloadLoggingEnabled(), "value=%q", value)
	}
}
