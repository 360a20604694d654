// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler implements memory-aware admission control and
// degradation around a pluggable job executor.
//
// On each submission the scheduler samples current RAM stress, rejects
// low-priority work under extreme pressure, computes degradation directives
// from the job's memory rune profile, injects them into the job metadata,
// and delegates to the wrapped executor. The scheduler never enforces hard
// memory limits itself; it only signals degraded operating parameters.
// True limiting belongs to an external resource controller.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/wardstone-io/wardstone/pkg/logging"
	"github.com/wardstone-io/wardstone/services/memrune"
	"github.com/wardstone-io/wardstone/services/ramwatch"
)

// =============================================================================
// Job Model
// =============================================================================

// Metadata keys written by the degradation pass. The executor reads these to
// adjust its runtime parameters.
const (
	// MetaKVShrinkFactor is a float64 multiplier on the KV cache size.
	// Compounds across SHRINK_KV steps (two 0.5 steps yield 0.25).
	MetaKVShrinkFactor = "kv_shrink_factor"

	// MetaMaxContextTokens is an int ceiling on the context window. Repeated
	// CONTEXT steps keep the minimum.
	MetaMaxContextTokens = "max_context_tokens"

	// MetaDisabledFeatures is a map[string]bool set of disabled feature
	// flags accumulated from DISABLE steps.
	MetaDisabledFeatures = "disabled_features"

	// MetaBatchMode is the batch mode string; last BATCH step wins.
	MetaBatchMode = "batch_mode"

	// MetaOffloadTier is the offload tier string; last OFFLOAD step wins.
	MetaOffloadTier = "offload_tier"
)

// JobContext is one unit of submitted work.
//
// The caller supplies JobID and Profile; Metadata is mutated in place by the
// scheduler to carry degradation directives to the executor and is discarded
// after the executor returns.
type JobContext struct {
	// JobID is an opaque caller-supplied identifier.
	JobID string

	// Profile is the job's validated memory rune profile.
	Profile *memrune.MemoryProfile

	// Metadata carries caller context in and degradation directives out.
	Metadata map[string]any
}

// Executor runs a job. The sandboxed runner satisfies this in production;
// tests supply fakes. Execute may block up to the job's configured timeout,
// so callers should treat Submit as a potentially slow synchronous call.
type Executor interface {
	Execute(ctx context.Context, job *JobContext) (any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job *JobContext) (any, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, job *JobContext) (any, error) {
	return f(ctx, job)
}

// =============================================================================
// Scheduler
// =============================================================================

// Config holds the admission-control knobs. The defaults mirror the
// constants the governor has always shipped with; they are configuration,
// not derived values, so deployments can tune them without a rebuild.
type Config struct {
	// HardCutoff is the smoothed stress level at or above which rejectable
	// jobs are refused outright. Default 0.98.
	HardCutoff float64

	// RejectablePriorityMax is the highest priority subject to admission
	// rejection. Default 3.
	RejectablePriorityMax int

	// ActivationBase and ActivationPerPriority define the degradation
	// activation threshold: base + perPriority * priority. Defaults 0.3 and
	// 0.05, so higher-priority jobs start degrading later.
	ActivationBase        float64
	ActivationPerPriority float64
}

// DefaultConfig returns the shipped admission-control constants.
func DefaultConfig() Config {
	return Config{
		HardCutoff:            0.98,
		RejectablePriorityMax: 3,
		ActivationBase:        0.3,
		ActivationPerPriority: 0.05,
	}
}

// Stats are monotonically increasing submission counters.
type Stats struct {
	Submitted uint64
	Rejected  uint64
	Degraded  uint64
}

// Scheduler wraps an Executor with admission control and degradation.
//
// # Thread Safety
//
// Safe for concurrent Submit calls: the monitor serializes its own window,
// the counters are atomic, and everything else is read-only after
// construction. Jobs themselves must not be shared across submissions.
type Scheduler struct {
	cfg     Config
	monitor *ramwatch.Monitor
	exec    Executor
	logger  *logging.Logger

	submitted atomic.Uint64
	rejected  atomic.Uint64
	degraded  atomic.Uint64
}

// New creates a Scheduler.
//
// # Inputs
//
//   - cfg: admission-control knobs; zero fields take the shipped defaults
//   - monitor: RAM stress monitor (required)
//   - exec: wrapped executor (required)
//   - logger: structured logger; nil falls back to the default logger
func New(cfg Config, monitor *ramwatch.Monitor, exec Executor, logger *logging.Logger) (*Scheduler, error) {
	if monitor == nil {
		return nil, fmt.Errorf("monitor must not be nil")
	}
	if exec == nil {
		return nil, fmt.Errorf("executor must not be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	def := DefaultConfig()
	if cfg.HardCutoff == 0 {
		cfg.HardCutoff = def.HardCutoff
	}
	if cfg.RejectablePriorityMax == 0 {
		cfg.RejectablePriorityMax = def.RejectablePriorityMax
	}
	if cfg.ActivationBase == 0 {
		cfg.ActivationBase = def.ActivationBase
	}
	if cfg.ActivationPerPriority == 0 {
		cfg.ActivationPerPriority = def.ActivationPerPriority
	}
	return &Scheduler{cfg: cfg, monitor: monitor, exec: exec, logger: logger}, nil
}

// Submit runs one job through admission control and degradation, then
// delegates to the wrapped executor.
//
// # Description
//
// Order of operations:
//
//  1. Sample current stress and classification.
//  2. Admission control: stress >= HardCutoff and priority <=
//     RejectablePriorityMax rejects immediately; the job is neither run nor
//     queued.
//  3. Degradation: below the activation threshold nothing is touched;
//     otherwise every DegradeStep is applied in ascending STEP order,
//     mutating job.Metadata.
//  4. Delegation: the executor's return value is passed through unchanged.
//
// # Outputs
//
//   - any: the executor's result, untouched
//   - error: ErrAdmissionRejected-wrapped on rejection, ErrDegradeStep on a
//     malformed plan, otherwise whatever the executor returns
func (s *Scheduler) Submit(ctx context.Context, job *JobContext) (any, error) {
	if job == nil {
		return nil, ErrNilJob
	}
	if job.Profile == nil {
		return nil, fmt.Errorf("%w: job %q", ErrNilProfile, job.JobID)
	}
	s.submitted.Add(1)

	stress := s.monitor.Sample(false)
	level := ramwatch.ClassifyValue(stress)

	if stress >= s.cfg.HardCutoff && job.Profile.Priority <= s.cfg.RejectablePriorityMax {
		s.rejected.Add(1)
		s.logger.Warn("admission rejected",
			"job_id", job.JobID,
			"stress", stress,
			"level", string(level),
			"priority", job.Profile.Priority,
		)
		return nil, &AdmissionError{
			JobID:    job.JobID,
			Stress:   stress,
			Priority: job.Profile.Priority,
			Cutoff:   s.cfg.HardCutoff,
		}
	}

	activation := s.cfg.ActivationBase + s.cfg.ActivationPerPriority*float64(job.Profile.Priority)
	if stress >= activation && len(job.Profile.Degrade) > 0 {
		if err := s.applyDegradation(job); err != nil {
			return nil, err
		}
		s.degraded.Add(1)
		s.logger.Info("degradation applied",
			"job_id", job.JobID,
			"stress", stress,
			"activation_threshold", activation,
			"steps", len(job.Profile.Degrade),
		)
	}

	return s.exec.Execute(ctx, job)
}

// Stats returns a snapshot of the submission counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Submitted: s.submitted.Load(),
		Rejected:  s.rejected.Load(),
		Degraded:  s.degraded.Load(),
	}
}

// applyDegradation applies the profile's plan in ascending STEP order,
// mutating job.Metadata in place.
func (s *Scheduler) applyDegradation(job *JobContext) error {
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	for _, step := range job.Profile.SortedSteps() {
		if err := applyStep(job.Metadata, step); err != nil {
			return fmt.Errorf("job %q step %d: %w", job.JobID, step.Order, err)
		}
	}
	return nil
}

// applyStep applies one degradation action to the metadata accumulator.
func applyStep(meta map[string]any, step memrune.DegradeStep) error {
	switch step.Action {
	case memrune.ActionShrinkKV:
		factor, err := stepFloatArg(step)
		if err != nil {
			return err
		}
		current := 1.0
		if v, ok := meta[MetaKVShrinkFactor].(float64); ok {
			current = v
		}
		meta[MetaKVShrinkFactor] = current * factor

	case memrune.ActionContext:
		tokens, err := stepIntArg(step)
		if err != nil {
			return err
		}
		if v, ok := meta[MetaMaxContextTokens].(int); ok && v < tokens {
			tokens = v
		}
		meta[MetaMaxContextTokens] = tokens

	case memrune.ActionDisable:
		flag, err := stepStringArg(step)
		if err != nil {
			return err
		}
		set, ok := meta[MetaDisabledFeatures].(map[string]bool)
		if !ok {
			set = make(map[string]bool)
			meta[MetaDisabledFeatures] = set
		}
		set[flag] = true

	case memrune.ActionBatch:
		mode, err := stepStringArg(step)
		if err != nil {
			return err
		}
		meta[MetaBatchMode] = mode

	case memrune.ActionOffload:
		tier, err := stepStringArg(step)
		if err != nil {
			return err
		}
		meta[MetaOffloadTier] = tier

	default:
		return fmt.Errorf("%w: unknown action %q", ErrDegradeStep, step.Action)
	}
	return nil
}

func stepStringArg(step memrune.DegradeStep) (string, error) {
	if len(step.Args) == 0 || step.Args[0] == "" {
		return "", fmt.Errorf("%w: %s requires an argument", ErrDegradeStep, step.Action)
	}
	return step.Args[0], nil
}

func stepFloatArg(step memrune.DegradeStep) (float64, error) {
	raw, err := stepStringArg(step)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s argument %q is not a number", ErrDegradeStep, step.Action, raw)
	}
	return v, nil
}

func stepIntArg(step memrune.DegradeStep) (int, error) {
	raw, err := stepStringArg(step)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s argument %q is not an integer", ErrDegradeStep, step.Action, raw)
	}
	return v, nil
}
