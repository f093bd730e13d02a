// control/platform.go
// Author: momentics <momentics@gmail.com>
//
// Runtime debug probes shared by every platform.

package control

import (
	"runtime"
)

// RegisterPlatformProbes sets process-level debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.goroutines", func() any {
		return runtime.NumGoroutine()
	})
	dp.RegisterProbe("platform.go", func() any {
		return runtime.Version()
	})
}
