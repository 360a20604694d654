// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardstone-io/wardstone/pkg/validation"
	"github.com/wardstone-io/wardstone/services/phasepolicy"
)

func validManifest(name string) Manifest {
	return Manifest{
		Name:         name,
		Version:      "1.0.0",
		Status:       StatusEnabled,
		Phases:       []phasepolicy.Phase{phasepolicy.PhaseOpen, phasepolicy.PhaseClear},
		Entrypoint:   "python3 main.py",
		Capabilities: []string{"fs_read"},
		TimeoutMS:    5000,
	}
}

func writeManifest(t *testing.T, root, name string, m Manifest) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0750))
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), data, 0640))
}

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	r, err := New(root, nil)
	require.NoError(t, err)
	return r, root
}

func TestParseManifestValid(t *testing.T) {
	data, err := json.Marshal(validManifest("scribe"))
	require.NoError(t, err)

	m, err := ParseManifest(data)
	require.NoError(t, err)
	assert.Equal(t, "scribe", m.Name)
	assert.True(t, m.Enabled())
	assert.True(t, m.SupportsPhase(phasepolicy.PhaseOpen))
	assert.False(t, m.SupportsPhase(phasepolicy.PhaseAscend))
}

func TestParseManifestRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Manifest)
	}{
		{"missing name", func(m *Manifest) { m.Name = "" }},
		{"unsafe name", func(m *Manifest) { m.Name = "../escape" }},
		{"missing version", func(m *Manifest) { m.Version = "" }},
		{"bad status", func(m *Manifest) { m.Status = "pending" }},
		{"no phases", func(m *Manifest) { m.Phases = nil }},
		{"missing entrypoint", func(m *Manifest) { m.Entrypoint = "" }},
		{"zero timeout", func(m *Manifest) { m.TimeoutMS = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := validManifest("scribe")
			tc.mutate(&m)
			data, err := json.Marshal(m)
			require.NoError(t, err)
			_, err = ParseManifest(data)
			assert.Error(t, err)
		})
	}
}

func TestParseManifestRejectsUnknownPhase(t *testing.T) {
	_, err := ParseManifest([]byte(`{
		"name": "scribe", "version": "1.0.0", "status": "enabled",
		"phases": ["TRANSCEND"], "entrypoint": "python3 main.py",
		"timeout_ms": 5000
	}`))
	assert.ErrorIs(t, err, ErrManifestInvalid)
}

func TestGetCachesByContentHash(t *testing.T) {
	r, root := newTestRegistry(t)
	writeManifest(t, root, "scribe", validManifest("scribe"))

	first, err := r.Get("scribe")
	require.NoError(t, err)
	second, err := r.Get("scribe")
	require.NoError(t, err)
	assert.Same(t, first, second, "unchanged manifest must be served from cache")
	assert.Equal(t, 1, r.CachedCount())
}

func TestGetInvalidatesOnContentChange(t *testing.T) {
	r, root := newTestRegistry(t)
	writeManifest(t, root, "scribe", validManifest("scribe"))

	first, err := r.Get("scribe")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", first.Version)

	updated := validManifest("scribe")
	updated.Version = "1.1.0"
	writeManifest(t, root, "scribe", updated)

	second, err := r.Get("scribe")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", second.Version)
	assert.NotSame(t, first, second)
}

func TestGetUnknownOverlay(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Get("ghost")
	assert.ErrorIs(t, err, ErrOverlayNotFound)
}

func TestGetRejectsUnsafeName(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Get("../../etc")
	assert.ErrorIs(t, err, validation.ErrInvalidOverlayName)
}

func TestGetRejectsNameMismatch(t *testing.T) {
	r, root := newTestRegistry(t)
	writeManifest(t, root, "scribe", validManifest("imposter"))

	_, err := r.Get("scribe")
	assert.ErrorIs(t, err, ErrManifestInvalid)
}

func TestListSortsAndSkipsBroken(t *testing.T) {
	r, root := newTestRegistry(t)
	writeManifest(t, root, "sigil", validManifest("sigil"))
	writeManifest(t, root, "scribe", validManifest("scribe"))

	brokenDir := filepath.Join(root, "broken")
	require.NoError(t, os.MkdirAll(brokenDir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(brokenDir, ManifestFileName), []byte("{"), 0640))

	// A directory with no manifest at all is silently ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0750))

	manifests, err := r.List()
	require.NoError(t, err)
	require.Len(t, manifests, 2)
	assert.Equal(t, "scribe", manifests[0].Name)
	assert.Equal(t, "sigil", manifests[1].Name)
}

func TestGetPrunesDeletedOverlay(t *testing.T) {
	r, root := newTestRegistry(t)
	writeManifest(t, root, "scribe", validManifest("scribe"))

	_, err := r.Get("scribe")
	require.NoError(t, err)
	require.Equal(t, 1, r.CachedCount())

	require.NoError(t, os.RemoveAll(filepath.Join(root, "scribe")))

	_, err = r.Get("scribe")
	assert.ErrorIs(t, err, ErrOverlayNotFound)
	assert.Equal(t, 0, r.CachedCount())
}

func TestWatchPrunesRemovedOverlayDirectory(t *testing.T) {
	r, root := newTestRegistry(t)
	writeManifest(t, root, "scribe", validManifest("scribe"))

	_, err := r.Get("scribe")
	require.NoError(t, err)
	require.Equal(t, 1, r.CachedCount())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()

	// Give the watcher time to register before removing the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "scribe")))

	assert.Eventually(t, func() bool {
		return r.CachedCount() == 0
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
