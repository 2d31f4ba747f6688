// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Introspection state: named probes evaluated on demand, alongside the
// counters of a MetricsRegistry.

package control

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
)

// MetricsProbe is the probe name under which an attached registry's
// snapshot is reported.
const MetricsProbe = "metrics"

// DebugProbes maps probe names to functions computing their current value.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

// NewDebugProbes creates a probe registry with the platform probes installed.
func NewDebugProbes() *DebugProbes {
	dp := &DebugProbes{probes: make(map[string]func() any)}
	dp.RegisterProbe("platform.cpus", func() any { return runtime.NumCPU() })
	dp.RegisterProbe("platform.goroutines", func() any { return runtime.NumGoroutine() })
	return dp
}

// RegisterProbe inserts or replaces a named probe.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// UnregisterProbe removes a probe.
func (dp *DebugProbes) UnregisterProbe(name string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	delete(dp.probes, name)
}

// AttachMetrics reports the snapshot of mr under MetricsProbe.
func (dp *DebugProbes) AttachMetrics(mr *MetricsRegistry) {
	dp.RegisterProbe(MetricsProbe, func() any { return mr.GetSnapshot() })
}

// Names returns the registered probe names in order.
func (dp *DebugProbes) Names() []string {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	names := make([]string, 0, len(dp.probes))
	for k := range dp.probes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Probe evaluates one probe. A panicking probe yields an error value.
func (dp *DebugProbes) Probe(name string) (any, bool) {
	dp.mu.RLock()
	fn, ok := dp.probes[name]
	dp.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return eval(name, fn), true
}

// DumpState evaluates every probe.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	fns := make(map[string]func() any, len(dp.probes))
	for k, fn := range dp.probes {
		fns[k] = fn
	}
	dp.mu.RUnlock()

	out := make(map[string]any, len(fns))
	for k, fn := range fns {
		out[k] = eval(k, fn)
	}
	return out
}

func eval(name string, fn func() any) (v any) {
	defer func() {
		if r := recover(); r != nil {
			v = fmt.Errorf("probe %s panicked: %v", name, r)
		}
	}()
	return fn()
}
