// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.

package affinity

import "runtime"

// SetAffinity pins the current OS thread to a given logical CPU. The caller
// must hold the thread with runtime.LockOSThread. On unsupported platforms
// it returns an error wrapping api.ErrNotSupported.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// CPUFor spreads worker indexes over the logical CPUs.
func CPUFor(worker int) int {
	n := runtime.NumCPU()
	if worker < 0 {
		worker = -worker
	}
	return worker % n
}
