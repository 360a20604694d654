// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ramwatch

import (
	"sync"
	"time"
)

// StressLevel classifies a smoothed stress value into bands used by
// admission control and operator dashboards.
type StressLevel string

const (
	LevelLow      StressLevel = "LOW"
	LevelModerate StressLevel = "MODERATE"
	LevelHigh     StressLevel = "HIGH"
	LevelCritical StressLevel = "CRITICAL"
)

// Classification thresholds (upper bounds, exclusive). At or above
// highUpperBound the level is CRITICAL.
const (
	lowUpperBound      = 0.25
	moderateUpperBound = 0.50
	highUpperBound     = 0.75
)

// Defaults for Monitor construction.
const (
	DefaultWindowSize  = 20
	DefaultMinInterval = 500 * time.Millisecond
)

// Monitor keeps a fixed-size sliding window of stress samples.
//
// # Description
//
// Sample() only takes a fresh OS reading when at least the configured
// minimum interval has elapsed since the previous sample, or when forced;
// between readings it returns the smoothed current value. Current() is the
// arithmetic mean of the window, or a fresh instant reading when the window
// is empty.
//
// # Thread Safety
//
// The sliding window is the only shared mutable state touched by concurrent
// job submissions, so every method takes the monitor's mutex. A Monitor is
// safe for concurrent use; the window cannot be corrupted by concurrent
// Sample() calls.
type Monitor struct {
	mu          sync.Mutex
	window      []float64
	windowSize  int
	minInterval time.Duration
	lastSample  time.Time

	// read and now are injection points for tests.
	read MemReader
	now  func() time.Time
}

// MonitorOption customizes a Monitor.
type MonitorOption func(*Monitor)

// WithWindowSize overrides the sliding-window capacity (default 20).
func WithWindowSize(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.windowSize = n
		}
	}
}

// WithMinInterval overrides the minimum wall-clock gap between OS readings
// (default 500ms).
func WithMinInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d >= 0 {
			m.minInterval = d
		}
	}
}

// WithMemReader injects a memory source. Used by tests to feed deterministic
// readings.
func WithMemReader(read MemReader) MonitorOption {
	return func(m *Monitor) {
		if read != nil {
			m.read = read
		}
	}
}

// WithClock injects a time source. Used by tests.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMonitor creates a Monitor with the given options.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		windowSize:  DefaultWindowSize,
		minInterval: DefaultMinInterval,
		read:        readSystemMemory,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.window = make([]float64, 0, m.windowSize)
	return m
}

// Sample records a stress reading and returns the smoothed current value.
//
// A fresh OS reading is taken only if the minimum interval has elapsed since
// the last one, or if force is true. The window holds at most windowSize
// readings; the oldest is evicted first.
func (m *Monitor) Sample(force bool) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if force || m.lastSample.IsZero() || now.Sub(m.lastSample) >= m.minInterval {
		value := computeStress(m.read)
		if len(m.window) == m.windowSize {
			m.window = append(m.window[:0], m.window[1:]...)
		}
		m.window = append(m.window, value)
		m.lastSample = now
	}
	return m.currentLocked()
}

// Current returns the arithmetic mean of the window, or a fresh instant
// reading when the window is empty. Does not record a sample.
func (m *Monitor) Current() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked()
}

// Classify maps the current smoothed value to a stress level.
func (m *Monitor) Classify() StressLevel {
	return ClassifyValue(m.Current())
}

// WindowLen reports how many samples the window currently holds.
func (m *Monitor) WindowLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.window)
}

// currentLocked computes the smoothed value. Caller holds m.mu.
func (m *Monitor) currentLocked() float64 {
	if len(m.window) == 0 {
		return computeStress(m.read)
	}
	var sum float64
	for _, v := range m.window {
		sum += v
	}
	return sum / float64(len(m.window))
}

// ClassifyValue maps a stress value to its level band.
func ClassifyValue(v float64) StressLevel {
	switch {
	case v < lowUpperBound:
		return LevelLow
	case v < moderateUpperBound:
		return LevelModerate
	case v < highUpperBound:
		return LevelHigh
	default:
		return LevelCritical
	}
}
