// internal/status/procinfo.go
package status

import (
	"os"
	"runtime"
	"time"
)

// ProcessInfo is the host-process slice of a status report.
type ProcessInfo struct {
	PID            int     `json:"pid"`
	UptimeSeconds  float64 `json:"uptimeSeconds"`
	HeapAllocBytes uint64  `json:"heapAllocBytes"`
	RuntimeVersion string  `json:"runtimeVersion"`
}

// InfoProvider supplies process metrics. Injected so status tests do not
// depend on the test runner's own process.
type InfoProvider interface {
	Info() ProcessInfo
}

type hostProvider struct {
	started time.Time
}

// NewHostProvider reports on the current process, measuring uptime from the
// moment of construction.
func NewHostProvider() InfoProvider {
	return &hostProvider{started: time.Now()}
}

func (h *hostProvider) Info() ProcessInfo {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return ProcessInfo{
		PID:            os.Getpid(),
		UptimeSeconds:  time.Since(h.started).Seconds(),
		HeapAllocBytes: mem.HeapAlloc,
		RuntimeVersion: runtime.Version(),
	}
}
