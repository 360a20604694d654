// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ramwatch samples system memory pressure into a normalized [0,1]
// stress signal and a smoothed sliding-window average.
//
// The instant stress score is piecewise linear in the used-memory fraction:
// gentle below 60% use, steep between 60% and 95%, and saturated at 1.0 from
// 95% up. A stateful Monitor smooths instant readings over a fixed-size
// window and classifies the result into LOW / MODERATE / HIGH / CRITICAL
// bands for the admission-control layer.
//
// The governor built on this signal is advisory: it degrades and rejects
// work, it does not enforce memory limits.
package ramwatch

// Piecewise-linear breakpoints for the stress curve. The two branches meet
// at usedFraction=0.6 where both evaluate to 0.3.
const (
	gentleUpperBound  = 0.6
	saturationBound   = 0.95
	gentleSlope       = 0.5
	steepRangeFloor   = 0.3
	steepRangeCeiling = 1.0
)

// NeutralStress is reported when the platform cannot provide memory
// statistics. A mid-scale value keeps admission control and degradation in a
// sane regime instead of failing open or closed.
const NeutralStress = 0.5

// MemStats is a snapshot of system memory in bytes.
type MemStats struct {
	Total     uint64
	Available uint64
}

// MemReader reports current system memory. Implementations must be safe for
// concurrent use. The production reader lives in stress_linux.go; tests
// inject fixed readers.
type MemReader func() (MemStats, bool)

// ComputeInstantStress reads system memory and scores it.
//
// Returns NeutralStress when the platform cannot report memory rather than
// failing.
func ComputeInstantStress() float64 {
	return computeStress(readSystemMemory)
}

// computeStress applies the stress curve to a memory reading.
func computeStress(read MemReader) float64 {
	stats, ok := read()
	if !ok || stats.Total == 0 {
		return NeutralStress
	}
	used := 1.0 - float64(stats.Available)/float64(stats.Total)
	return ScoreUsedFraction(used)
}

// ScoreUsedFraction maps a used-memory fraction to a [0,1] stress score.
//
//   - used <= 0.6: used * 0.5 (gentle)
//   - used >= 0.95: exactly 1.0
//   - otherwise: linear interpolation of [0.3, 1.0] across used in [0.6, 0.95]
func ScoreUsedFraction(used float64) float64 {
	switch {
	case used <= 0:
		return 0
	case used <= gentleUpperBound:
		return used * gentleSlope
	case used >= saturationBound:
		return 1.0
	default:
		span := saturationBound - gentleUpperBound
		return steepRangeFloor + (used-gentleUpperBound)/span*(steepRangeCeiling-steepRangeFloor)
	}
}
