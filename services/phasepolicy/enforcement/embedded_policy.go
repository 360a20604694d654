// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file bridges the build system and the runtime policy table. The default
phase policy YAML is baked into the binary with the Go embed package, so a
deployment with no policy file on disk still fails closed against a complete,
known-good table rather than running unguarded.
*/

package enforcement

import (
	_ "embed"
)

// DefaultPhasePolicy holds the raw bytes of default_phase_policy.yaml.
//
// Populated at compile time via the embed directive. Deployments override it
// with WARDSTONE_PHASE_POLICY_FILE; absent that, these bytes are the policy.
//
//go:embed default_phase_policy.yaml
var DefaultPhasePolicy []byte
