// Package sysinfo reads host resource facts that inform runtime defaults.
// cmd/streamhls uses it to size streaming.max_concurrent_encodes to the
// machine's real logical core count rather than the portable but coarser
// runtime.NumCPU fallback baked into internal/config.
package sysinfo

import "github.com/shirou/gopsutil/v4/cpu"

// LogicalCoreCount returns the host's logical CPU count. It falls back to
// 1 if gopsutil cannot read the host's CPU info, so callers never need to
// special-case an error return.
func LogicalCoreCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
