// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package memrune implements the memory rune profile model and its parser.
//
// A memory rune is a compact textual annotation describing a job's memory
// budget, cache policy, storage tier, priority, and an ordered degradation
// plan. Profiles are parsed once (or constructed programmatically), validated
// immediately, and immutable thereafter. The scheduler consults the profile
// when deciding whether to admit a job and which degradation steps to apply
// under memory pressure.
//
// # Thread Safety
//
// MemoryProfile values are immutable after construction and safe to share
// across goroutines.
package memrune

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Enumerations
// =============================================================================

// Volatility describes how quickly a job's working set churns.
type Volatility string

const (
	VolatilityLow  Volatility = "LOW"
	VolatilityMed  Volatility = "MED"
	VolatilityHigh Volatility = "HIGH"
)

// CachePolicy selects the KV cache eviction strategy.
type CachePolicy string

const (
	CacheLRU       CachePolicy = "LRU"
	CacheWindow    CachePolicy = "WINDOW"
	CacheTaskBound CachePolicy = "TASK_BOUND"
)

// Tier names the storage/compute tier a job prefers.
type Tier string

const (
	TierLocal    Tier = "LOCAL"
	TierExtended Tier = "EXTENDED"
	TierCold     Tier = "COLD"
)

// DegradeAction is one of the five recognized degradation actions.
type DegradeAction string

const (
	// ActionShrinkKV multiplies the job's kv_shrink_factor by its argument.
	ActionShrinkKV DegradeAction = "SHRINK_KV"

	// ActionContext caps the job's context window at its argument.
	ActionContext DegradeAction = "CONTEXT"

	// ActionDisable adds a feature flag to the disabled set.
	ActionDisable DegradeAction = "DISABLE"

	// ActionBatch overwrites the job's batch mode.
	ActionBatch DegradeAction = "BATCH"

	// ActionOffload overwrites the job's offload tier.
	ActionOffload DegradeAction = "OFFLOAD"
)

// validActions is the closed set of recognized degradation actions.
var validActions = map[DegradeAction]bool{
	ActionShrinkKV: true,
	ActionContext:  true,
	ActionDisable:  true,
	ActionBatch:    true,
	ActionOffload:  true,
}

// DefaultPriority is assigned when the PRIORITY fragment is absent.
const DefaultPriority = 5

// =============================================================================
// Profile Model
// =============================================================================

// MemBudget is the mandatory memory budget of a profile.
//
// Invariant: SoftCapMB > 0 and HardCapMB >= SoftCapMB.
type MemBudget struct {
	// SoftCapMB is the advisory memory ceiling in megabytes.
	SoftCapMB int `json:"soft_cap_mb" validate:"gt=0"`

	// HardCapMB is the absolute memory ceiling in megabytes.
	HardCapMB int `json:"hard_cap_mb" validate:"gtefield=SoftCapMB"`

	// Volatility describes working-set churn. Defaults to MED.
	Volatility Volatility `json:"volatility" validate:"oneof=LOW MED HIGH"`
}

// KVPolicy is the optional cache policy fragment of a profile.
type KVPolicy struct {
	// CapFraction is the fraction of the budget the KV cache may occupy.
	// Must lie in (0, 1].
	CapFraction float64 `json:"cap_fraction" validate:"gt=0,lte=1"`

	// Policy selects the eviction strategy.
	Policy CachePolicy `json:"policy" validate:"oneof=LRU WINDOW TASK_BOUND"`

	// PurgeOnStress requests a cache purge when memory stress is high.
	PurgeOnStress bool `json:"purge_on_stress"`

	// PurgeOnEvent requests a cache purge on explicit lifecycle events.
	PurgeOnEvent bool `json:"purge_on_event"`
}

// DegradeStep is one ordered action in a profile's degradation plan.
//
// Order determines application order when the plan is executed; the textual
// position of the step inside the DEGRADE fragment is irrelevant.
type DegradeStep struct {
	// Order is the STEP<n> index controlling execution order.
	Order int `json:"order" validate:"gte=0"`

	// Action is the degradation action to apply.
	Action DegradeAction `json:"action"`

	// Args are the raw action arguments, uninterpreted at parse time.
	Args []string `json:"args,omitempty"`
}

// MemoryProfile is an immutable, validated memory/resource profile.
//
// Construct via Parse (from rune annotation text) or NewMemoryProfile
// (programmatically). Both paths validate the invariants in the package
// documentation before returning; an invalid configuration never escapes
// construction.
type MemoryProfile struct {
	// Mem is the mandatory memory budget.
	Mem MemBudget `json:"mem"`

	// KV is the optional cache policy; nil when the KV fragment is absent.
	KV *KVPolicy `json:"kv,omitempty"`

	// Tier is the preferred storage/compute tier. Defaults to LOCAL.
	Tier Tier `json:"tier" validate:"oneof=LOCAL EXTENDED COLD"`

	// Priority ranges 0..9; 9 means the job is degraded last and is never
	// subject to admission rejection.
	Priority int `json:"priority" validate:"gte=0,lte=9"`

	// Degrade is the ordered degradation plan; may be empty.
	Degrade []DegradeStep `json:"degrade,omitempty"`
}

// profileValidator is shared; validator.Validate is safe for concurrent use.
var profileValidator = validator.New()

// NewMemoryProfile constructs and validates a profile programmatically.
//
// # Inputs
//
//   - mem: mandatory memory budget (Volatility defaults to MED if empty)
//   - kv: optional cache policy (nil allowed)
//   - tier: preferred tier (empty defaults to LOCAL)
//   - priority: 0..9
//   - degrade: ordered degradation plan (may be nil)
//
// # Outputs
//
//   - *MemoryProfile: validated, immutable profile
//   - error: ErrValidation-wrapped if any invariant is violated
func NewMemoryProfile(mem MemBudget, kv *KVPolicy, tier Tier, priority int, degrade []DegradeStep) (*MemoryProfile, error) {
	if mem.Volatility == "" {
		mem.Volatility = VolatilityMed
	}
	if tier == "" {
		tier = TierLocal
	}
	p := &MemoryProfile{
		Mem:      mem,
		KV:       kv,
		Tier:     tier,
		Priority: priority,
		Degrade:  degrade,
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// SortedSteps returns the degradation plan ordered by ascending Order.
//
// The receiver's Degrade slice is not modified; callers executing the plan
// must iterate the returned slice.
func (p *MemoryProfile) SortedSteps() []DegradeStep {
	steps := make([]DegradeStep, len(p.Degrade))
	copy(steps, p.Degrade)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})
	return steps
}

// validate enforces the profile invariants. Struct tags cover the numeric
// ranges; action membership needs a manual check because the valid set is a
// closed enum that validator cannot express against a custom string type
// inside a slice.
func (p *MemoryProfile) validate() error {
	if err := profileValidator.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	for _, step := range p.Degrade {
		if !validActions[step.Action] {
			return fmt.Errorf("%w: unknown degrade action %q", ErrValidation, step.Action)
		}
		if step.Order < 0 {
			return fmt.Errorf("%w: degrade step order %d must be non-negative", ErrValidation, step.Order)
		}
	}
	return nil
}
