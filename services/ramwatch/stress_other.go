// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build !linux

package ramwatch

// readSystemMemory is not supported on this platform; callers fall back to
// NeutralStress.
func readSystemMemory() (MemStats, bool) {
	return MemStats{}, false
}
