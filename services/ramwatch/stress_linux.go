// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build linux

package ramwatch

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// readSystemMemory reports total and available system memory.
//
// /proc/meminfo's MemAvailable is preferred because it accounts for
// reclaimable page cache; sysinfo(2) is the fallback when procfs is not
// mounted (minimal containers). Returns ok=false only when both sources
// fail, in which case callers fall back to NeutralStress.
func readSystemMemory() (MemStats, bool) {
	if stats, ok := readProcMeminfo("/proc/meminfo"); ok {
		return stats, true
	}
	return readSysinfo()
}

// readProcMeminfo parses MemTotal and MemAvailable from a meminfo file.
func readProcMeminfo(path string) (MemStats, bool) {
	f, err := os.Open(path)
	if err != nil {
		return MemStats{}, false
	}
	defer f.Close()

	var stats MemStats
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		var target *uint64
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			target = &stats.Total
		case strings.HasPrefix(line, "MemAvailable:"):
			target = &stats.Available
		default:
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return MemStats{}, false
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return MemStats{}, false
		}
		*target = kb * 1024
		if stats.Total > 0 && stats.Available > 0 {
			return stats, true
		}
	}
	return MemStats{}, false
}

// readSysinfo reads memory via sysinfo(2). Freeram plus Bufferram
// undercounts reclaimable memory relative to MemAvailable, which biases the
// stress score slightly high; acceptable for a fallback path.
func readSysinfo() (MemStats, bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return MemStats{}, false
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	return MemStats{
		Total:     uint64(info.Totalram) * unit,
		Available: (uint64(info.Freeram) + uint64(info.Bufferram)) * unit,
	}, true
}
