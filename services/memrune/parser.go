// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memrune

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Fragment patterns. Each fragment is matched independently anywhere in the
// annotation text; the order fragments appear in the text is irrelevant.
var (
	memPattern      = regexp.MustCompile(`MEM\[([^\]]*)\]`)
	kvPattern       = regexp.MustCompile(`KV\[([^\]]*)\]`)
	tierPattern     = regexp.MustCompile(`TIER=(LOCAL|EXTENDED|COLD)`)
	priorityPattern = regexp.MustCompile(`PRIORITY=([0-9]+)`)
	degradePattern  = regexp.MustCompile(`DEGRADE\{([^}]*)\}`)
	stepPattern     = regexp.MustCompile(`STEP([0-9]+):([A-Z_]+)\(([^)]*)\)`)
)

// Parse reads a memory rune annotation and returns a validated profile.
//
// # Description
//
// The annotation is free-form text containing up to five recognizable
// fragments:
//
//	MEM[SOFT=<int>,HARD=<int>,VOL=<LOW|MED|HIGH>]
//	KV[CAP=<0..1 float>,POLICY=<LRU|WINDOW|TASK_BOUND>,PURGE=<...>]
//	TIER=<LOCAL|EXTENDED|COLD>
//	PRIORITY=<0-9>
//	DEGRADE{STEP<n>:ACTION(args,...), ...}
//
// Parsing is partial: TIER defaults to LOCAL, PRIORITY defaults to 5, and
// KV/DEGRADE are simply absent if their fragments are missing. The MEM
// fragment is mandatory; its absence is a fatal parse error. All numeric
// fields are parsed with strconv and carry no locale sensitivity.
//
// # Outputs
//
//   - *MemoryProfile: validated profile, immutable thereafter
//   - error: ErrParse-wrapped for malformed text or missing MEM,
//     ErrValidation-wrapped when the parsed values violate an invariant
func Parse(text string) (*MemoryProfile, error) {
	memMatch := memPattern.FindStringSubmatch(text)
	if memMatch == nil {
		return nil, fmt.Errorf("%w: mandatory MEM fragment not found", ErrParse)
	}
	mem, err := parseMemFragment(memMatch[1])
	if err != nil {
		return nil, err
	}

	var kv *KVPolicy
	if kvMatch := kvPattern.FindStringSubmatch(text); kvMatch != nil {
		kv, err = parseKVFragment(kvMatch[1])
		if err != nil {
			return nil, err
		}
	}

	tier := TierLocal
	if tierMatch := tierPattern.FindStringSubmatch(text); tierMatch != nil {
		tier = Tier(tierMatch[1])
	}

	priority := DefaultPriority
	if prioMatch := priorityPattern.FindStringSubmatch(text); prioMatch != nil {
		priority, err = strconv.Atoi(prioMatch[1])
		if err != nil {
			return nil, newFragmentError("PRIORITY", "not an integer: %q", prioMatch[1])
		}
	}

	var degrade []DegradeStep
	if degMatch := degradePattern.FindStringSubmatch(text); degMatch != nil {
		degrade, err = parseDegradeFragment(degMatch[1])
		if err != nil {
			return nil, err
		}
	}

	return NewMemoryProfile(mem, kv, tier, priority, degrade)
}

// parseMemFragment parses the body of MEM[...].
func parseMemFragment(body string) (MemBudget, error) {
	mem := MemBudget{Volatility: VolatilityMed}
	fields, err := splitKeyValues("MEM", body)
	if err != nil {
		return mem, err
	}
	for key, value := range fields {
		switch key {
		case "SOFT":
			mem.SoftCapMB, err = strconv.Atoi(value)
		case "HARD":
			mem.HardCapMB, err = strconv.Atoi(value)
		case "VOL":
			switch Volatility(value) {
			case VolatilityLow, VolatilityMed, VolatilityHigh:
				mem.Volatility = Volatility(value)
			default:
				return mem, newFragmentError("MEM", "unknown volatility %q", value)
			}
		default:
			return mem, newFragmentError("MEM", "unknown key %q", key)
		}
		if err != nil {
			return mem, newFragmentError("MEM", "%s is not an integer: %q", key, value)
		}
	}
	return mem, nil
}

// parseKVFragment parses the body of KV[...].
func parseKVFragment(body string) (*KVPolicy, error) {
	kv := &KVPolicy{Policy: CacheLRU}
	fields, err := splitKeyValues("KV", body)
	if err != nil {
		return nil, err
	}
	for key, value := range fields {
		switch key {
		case "CAP":
			kv.CapFraction, err = strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, newFragmentError("KV", "CAP is not a float: %q", value)
			}
		case "POLICY":
			switch CachePolicy(value) {
			case CacheLRU, CacheWindow, CacheTaskBound:
				kv.Policy = CachePolicy(value)
			default:
				return nil, newFragmentError("KV", "unknown cache policy %q", value)
			}
		case "PURGE":
			switch value {
			case "ON_STRESS":
				kv.PurgeOnStress = true
			case "ON_EVENT":
				kv.PurgeOnEvent = true
			case "ON_STRESS_OR_EVENT":
				kv.PurgeOnStress = true
				kv.PurgeOnEvent = true
			case "NONE":
			default:
				return nil, newFragmentError("KV", "unknown purge mode %q", value)
			}
		default:
			return nil, newFragmentError("KV", "unknown key %q", key)
		}
	}
	return kv, nil
}

// parseDegradeFragment parses the body of DEGRADE{...} into an ordered plan.
//
// Steps are kept in textual order in the returned slice; the STEP<n> index is
// recorded on each step and governs execution order later (SortedSteps).
func parseDegradeFragment(body string) ([]DegradeStep, error) {
	if strings.TrimSpace(body) == "" {
		return nil, nil
	}
	matches := stepPattern.FindAllStringSubmatch(body, -1)
	if matches == nil {
		return nil, newFragmentError("DEGRADE", "no STEP<n>:ACTION(args) entries in %q", body)
	}
	steps := make([]DegradeStep, 0, len(matches))
	for _, m := range matches {
		order, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, newFragmentError("DEGRADE", "step index is not an integer: %q", m[1])
		}
		action := DegradeAction(m[2])
		if !validActions[action] {
			return nil, newFragmentError("DEGRADE", "unknown action %q", m[2])
		}
		var args []string
		if trimmed := strings.TrimSpace(m[3]); trimmed != "" {
			for _, a := range strings.Split(trimmed, ",") {
				args = append(args, strings.TrimSpace(a))
			}
		}
		steps = append(steps, DegradeStep{Order: order, Action: action, Args: args})
	}
	return steps, nil
}

// splitKeyValues splits a comma-separated KEY=VALUE fragment body.
func splitKeyValues(fragment, body string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, part := range strings.Split(body, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, newFragmentError(fragment, "entry %q is not KEY=VALUE", part)
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if len(fields) == 0 {
		return nil, newFragmentError(fragment, "empty fragment body")
	}
	return fields, nil
}
