// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memrune

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullAnnotation(t *testing.T) {
	text := `job annotation: MEM[SOFT=512,HARD=1024,VOL=HIGH] KV[CAP=0.5,POLICY=WINDOW,PURGE=ON_STRESS_OR_EVENT]
TIER=EXTENDED PRIORITY=8 DEGRADE{STEP1:SHRINK_KV(0.5), STEP2:CONTEXT(2048), STEP3:DISABLE(speculative_decode)}`

	p, err := Parse(text)
	require.NoError(t, err)

	assert.Equal(t, 512, p.Mem.SoftCapMB)
	assert.Equal(t, 1024, p.Mem.HardCapMB)
	assert.Equal(t, VolatilityHigh, p.Mem.Volatility)

	require.NotNil(t, p.KV)
	assert.Equal(t, 0.5, p.KV.CapFraction)
	assert.Equal(t, CacheWindow, p.KV.Policy)
	assert.True(t, p.KV.PurgeOnStress)
	assert.True(t, p.KV.PurgeOnEvent)

	assert.Equal(t, TierExtended, p.Tier)
	assert.Equal(t, 8, p.Priority)

	require.Len(t, p.Degrade, 3)
	assert.Equal(t, DegradeStep{Order: 1, Action: ActionShrinkKV, Args: []string{"0.5"}}, p.Degrade[0])
	assert.Equal(t, DegradeStep{Order: 2, Action: ActionContext, Args: []string{"2048"}}, p.Degrade[1])
	assert.Equal(t, DegradeStep{Order: 3, Action: ActionDisable, Args: []string{"speculative_decode"}}, p.Degrade[2])
}

func TestParseDefaults(t *testing.T) {
	p, err := Parse("MEM[SOFT=128,HARD=128]")
	require.NoError(t, err)

	assert.Equal(t, VolatilityMed, p.Mem.Volatility)
	assert.Nil(t, p.KV)
	assert.Equal(t, TierLocal, p.Tier)
	assert.Equal(t, DefaultPriority, p.Priority)
	assert.Empty(t, p.Degrade)
}

func TestParseFragmentOrderIrrelevant(t *testing.T) {
	a, err := Parse("PRIORITY=2 TIER=COLD MEM[SOFT=64,HARD=256,VOL=LOW]")
	require.NoError(t, err)
	b, err := Parse("MEM[HARD=256,SOFT=64,VOL=LOW] TIER=COLD PRIORITY=2")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseMissingMemIsFatal(t *testing.T) {
	_, err := Parse("TIER=LOCAL PRIORITY=3")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseHardBelowSoftFailsValidation(t *testing.T) {
	_, err := Parse("MEM[SOFT=1024,HARD=512]")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseRoundTripsCapBounds(t *testing.T) {
	tests := []struct {
		name string
		soft int
		hard int
		ok   bool
	}{
		{name: "equal caps", soft: 256, hard: 256, ok: true},
		{name: "hard above soft", soft: 1, hard: 4096, ok: true},
		{name: "zero soft", soft: 0, hard: 256, ok: false},
		{name: "hard below soft", soft: 300, hard: 299, ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			text := fmt.Sprintf("MEM[SOFT=%d,HARD=%d,VOL=MED]", tc.soft, tc.hard)
			p, err := Parse(text)
			if !tc.ok {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.soft, p.Mem.SoftCapMB)
			assert.Equal(t, tc.hard, p.Mem.HardCapMB)
		})
	}
}

func TestParseMalformedFragments(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "non numeric soft cap", text: "MEM[SOFT=abc,HARD=256]"},
		{name: "unknown mem key", text: "MEM[SOFT=64,HARD=128,COLOR=RED]"},
		{name: "unknown volatility", text: "MEM[SOFT=64,HARD=128,VOL=EXTREME]"},
		{name: "bad kv cap", text: "MEM[SOFT=64,HARD=128] KV[CAP=lots,POLICY=LRU]"},
		{name: "kv cap above one", text: "MEM[SOFT=64,HARD=128] KV[CAP=1.5,POLICY=LRU]"},
		{name: "unknown purge mode", text: "MEM[SOFT=64,HARD=128] KV[CAP=0.3,POLICY=LRU,PURGE=SOMETIMES]"},
		{name: "unknown degrade action", text: "MEM[SOFT=64,HARD=128] DEGRADE{STEP1:EXPLODE(now)}"},
		{name: "degrade without steps", text: "MEM[SOFT=64,HARD=128] DEGRADE{nothing here}"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.text)
			require.Error(t, err)
			if !errors.Is(err, ErrParse) && !errors.Is(err, ErrValidation) {
				t.Fatalf("error is neither a parse nor a validation error: %v", err)
			}
		})
	}
}

func TestSortedStepsIgnoresTextualOrder(t *testing.T) {
	p, err := Parse("MEM[SOFT=64,HARD=128] DEGRADE{STEP2:DISABLE(X), STEP1:SHRINK_KV(0.5)}")
	require.NoError(t, err)

	// Textual order preserved in the raw plan.
	assert.Equal(t, 2, p.Degrade[0].Order)
	assert.Equal(t, 1, p.Degrade[1].Order)

	// Execution order sorts by STEP index.
	steps := p.SortedSteps()
	require.Len(t, steps, 2)
	assert.Equal(t, ActionShrinkKV, steps[0].Action)
	assert.Equal(t, ActionDisable, steps[1].Action)
}
