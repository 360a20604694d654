// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type denyAll struct{}

func (d *denyAll) Approve(ctx context.Context, overlay, phase, requestID string) error {
	return errors.New("approval withheld")
}

type keywordScanner struct{ word string }

func (s *keywordScanner) Scan(text string) []Finding {
	if strings.Contains(text, s.word) {
		return []Finding{{Rule: "keyword", Excerpt: s.word, Severity: "low"}}
	}
	return nil
}

func TestDefaultOptionsAreNops(t *testing.T) {
	opts := DefaultOptions()
	require.NotNil(t, opts.Approval)
	require.NotNil(t, opts.Drift)

	assert.NoError(t, opts.Approval.Approve(t.Context(), "scribe", "OPEN", "req-1"))
	assert.Nil(t, opts.Drift.Scan("anything at all"))
}

func TestNormalizeFillsNilFields(t *testing.T) {
	opts := ServiceOptions{}.Normalize()
	require.NotNil(t, opts.Approval)
	require.NotNil(t, opts.Drift)
	assert.NoError(t, opts.Approval.Approve(t.Context(), "scribe", "SEAL", "req-1"))
}

func TestNormalizeKeepsInjectedImplementations(t *testing.T) {
	opts := ServiceOptions{Approval: &denyAll{}}.Normalize()
	assert.Error(t, opts.Approval.Approve(t.Context(), "scribe", "SEAL", "req-1"))
	assert.Nil(t, opts.Drift.Scan("text"))
}

func TestWithBuilders(t *testing.T) {
	base := DefaultOptions()
	custom := base.WithApproval(&denyAll{}).WithDrift(&keywordScanner{word: "leak"})

	// Base is unchanged.
	assert.NoError(t, base.Approval.Approve(t.Context(), "o", "p", "r"))

	assert.Error(t, custom.Approval.Approve(t.Context(), "o", "p", "r"))
	findings := custom.Drift.Scan("possible leak in output")
	require.Len(t, findings, 1)
	assert.Equal(t, "keyword", findings[0].Rule)
}
