// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ramwatch

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fixedReader returns a reader reporting the given used fraction of a 16GiB
// machine.
func fixedReader(usedFraction float64) MemReader {
	const total = uint64(16) << 30
	available := uint64(float64(total) * (1 - usedFraction))
	return func() (MemStats, bool) {
		return MemStats{Total: total, Available: available}, true
	}
}

func TestScoreUsedFractionGentleBranch(t *testing.T) {
	for _, used := range []float64{0, 0.1, 0.25, 0.4, 0.6} {
		assert.InDelta(t, used*0.5, ScoreUsedFraction(used), 1e-9, "used=%v", used)
	}
}

func TestScoreUsedFractionContinuityAtBreakpoint(t *testing.T) {
	below := ScoreUsedFraction(0.6)
	above := ScoreUsedFraction(0.6 + 1e-12)
	assert.InDelta(t, below, above, 1e-9)
	assert.InDelta(t, 0.3, below, 1e-9)
}

func TestScoreUsedFractionSaturates(t *testing.T) {
	assert.Equal(t, 1.0, ScoreUsedFraction(0.95))
	assert.Equal(t, 1.0, ScoreUsedFraction(0.99))
	assert.Equal(t, 1.0, ScoreUsedFraction(1.5))
}

func TestScoreUsedFractionSteepBranch(t *testing.T) {
	// Midpoint of [0.6, 0.95] interpolates the midpoint of [0.3, 1.0].
	mid := ScoreUsedFraction(0.775)
	assert.InDelta(t, 0.65, mid, 1e-9)
}

func TestComputeStressNeutralWhenUnsupported(t *testing.T) {
	broken := func() (MemStats, bool) { return MemStats{}, false }
	assert.Equal(t, NeutralStress, computeStress(broken))

	zeroTotal := func() (MemStats, bool) { return MemStats{}, true }
	assert.Equal(t, NeutralStress, computeStress(zeroTotal))
}

func TestMonitorRespectsMinInterval(t *testing.T) {
	current := time.Unix(1000, 0)
	m := NewMonitor(
		WithMemReader(fixedReader(0.4)),
		WithMinInterval(time.Second),
		WithClock(func() time.Time { return current }),
	)

	m.Sample(false)
	assert.Equal(t, 1, m.WindowLen())

	// Too soon: no new OS reading.
	current = current.Add(200 * time.Millisecond)
	m.Sample(false)
	assert.Equal(t, 1, m.WindowLen())

	// Forced: reads anyway.
	m.Sample(true)
	assert.Equal(t, 2, m.WindowLen())

	// Interval elapsed: reads again.
	current = current.Add(2 * time.Second)
	m.Sample(false)
	assert.Equal(t, 3, m.WindowLen())
}

func TestMonitorWindowEvictsOldest(t *testing.T) {
	used := 0.2
	reader := func() (MemStats, bool) {
		return fixedReader(used)()
	}
	m := NewMonitor(WithMemReader(reader), WithWindowSize(3), WithMinInterval(0))

	for i := 0; i < 3; i++ {
		m.Sample(true)
	}
	assert.Equal(t, 3, m.WindowLen())
	assert.InDelta(t, 0.1, m.Current(), 1e-3)

	// New readings at a higher level push the old ones out.
	used = 0.9
	for i := 0; i < 3; i++ {
		m.Sample(true)
	}
	assert.Equal(t, 3, m.WindowLen())
	expected := ScoreUsedFraction(0.9)
	assert.InDelta(t, expected, m.Current(), 1e-3)
}

func TestMonitorCurrentWithEmptyWindowIsInstant(t *testing.T) {
	m := NewMonitor(WithMemReader(fixedReader(0.5)))
	assert.Equal(t, 0, m.WindowLen())
	assert.InDelta(t, 0.25, m.Current(), 1e-3)
}

func TestClassifyValueBands(t *testing.T) {
	tests := []struct {
		value float64
		level StressLevel
	}{
		{0.0, LevelLow},
		{0.249, LevelLow},
		{0.25, LevelModerate},
		{0.499, LevelModerate},
		{0.5, LevelHigh},
		{0.749, LevelHigh},
		{0.75, LevelCritical},
		{1.0, LevelCritical},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.level, ClassifyValue(tc.value), "value=%v", tc.value)
	}
}

func TestMonitorConcurrentSampling(t *testing.T) {
	m := NewMonitor(WithMemReader(fixedReader(0.7)), WithWindowSize(8), WithMinInterval(0))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Sample(true)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, m.WindowLen())
	assert.False(t, math.IsNaN(m.Current()))
}
