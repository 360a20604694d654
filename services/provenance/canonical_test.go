// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provenance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	canonical, err := CanonicalJSON(map[string]any{"b": 2, "a": 1, "c": []any{"x"}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":["x"]}`, string(canonical))
}

func TestHashIsKeyOrderIndependent(t *testing.T) {
	h1, err := Hash(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashDiffersWhenValueChanges(t *testing.T) {
	h1, err := Hash(map[string]any{"a": 1})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"a": 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestEventHashStableAcrossInstances(t *testing.T) {
	ev := Event{
		Overlay:     "scribe",
		Version:     "1.2.0",
		Phase:       "OPEN",
		Entrypoint:  "python3 main.py",
		RequestID:   "req-1",
		TimestampMS: 1756100000000,
		Payload:     map[string]any{"topic": "runes", "depth": 3},
	}

	h1, err := EventHash(ev)
	require.NoError(t, err)
	h2, err := EventHash(ev)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestEventHashSensitiveToEachField(t *testing.T) {
	base := Event{
		Overlay:     "scribe",
		Version:     "1.2.0",
		Phase:       "OPEN",
		Entrypoint:  "python3 main.py",
		RequestID:   "req-1",
		TimestampMS: 1756100000000,
		Payload:     map[string]any{"topic": "runes"},
	}
	baseHash, err := EventHash(base)
	require.NoError(t, err)

	mutations := []func(Event) Event{
		func(e Event) Event { e.Overlay = "sigil"; return e },
		func(e Event) Event { e.Version = "1.2.1"; return e },
		func(e Event) Event { e.Phase = "CLEAR"; return e },
		func(e Event) Event { e.Entrypoint = "python3 other.py"; return e },
		func(e Event) Event { e.RequestID = "req-2"; return e },
		func(e Event) Event { e.TimestampMS++; return e },
		func(e Event) Event { e.Payload = map[string]any{"topic": "wards"}; return e },
	}
	for i, mutate := range mutations {
		h, err := EventHash(mutate(base))
		require.NoError(t, err)
		assert.NotEqual(t, baseHash, h, "mutation %d", i)
	}
}

func TestChainHashDependsOnPrev(t *testing.T) {
	canonical := []byte(`{"a":1}`)
	assert.NotEqual(t, ChainHash("", canonical), ChainHash("abc", canonical))
	assert.Equal(t, ChainHash("abc", canonical), ChainHash("abc", canonical))
}

func TestCanonicalJSONRejectsUnencodable(t *testing.T) {
	_, err := CanonicalJSON(map[string]any{"fn": func() {}})
	assert.Error(t, err)
}
