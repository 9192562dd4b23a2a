// Package health reports process resource usage alongside the live
// synchronization counters.
package health

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Counters supplies the live numbers the server wants reported.
type Counters interface {
	// Objects returns the number of live synchronized objects per channel.
	Objects() map[string]int
	Connections() int
}

type Snapshot struct {
	Status        string         `json:"status"`
	UptimeSeconds float64        `json:"uptimeSeconds"`
	Goroutines    int            `json:"goroutines"`
	CPUPercent    float64        `json:"cpuPercent"`
	RSSBytes      uint64         `json:"rssBytes"`
	Threads       int32          `json:"threads"`
	SystemMemUsed float64        `json:"systemMemUsedPercent"`
	Objects       map[string]int `json:"objects"`
	Connections   int            `json:"connections"`
	Warnings      []string       `json:"warnings,omitempty"`
}

type Reporter struct {
	started  time.Time
	proc     *process.Process
	counters Counters
}

// NewReporter inspects the current process. A process handle that cannot
// be opened only degrades the report.
func NewReporter(counters Counters) *Reporter {
	r := &Reporter{started: time.Now(), counters: counters}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		r.proc = p
	}
	return r
}

func (r *Reporter) Snapshot() Snapshot {
	s := Snapshot{
		Status:        "ok",
		UptimeSeconds: time.Since(r.started).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		Objects:       map[string]int{},
	}
	if r.counters != nil {
		s.Objects = r.counters.Objects()
		s.Connections = r.counters.Connections()
	}

	if r.proc == nil {
		s.Status = "degraded"
		s.Warnings = append(s.Warnings, "process stats unavailable")
		return s
	}
	if pct, err := r.proc.CPUPercent(); err == nil {
		s.CPUPercent = pct
	} else {
		s.Warnings = append(s.Warnings, "cpu: "+err.Error())
	}
	if m, err := r.proc.MemoryInfo(); err == nil {
		s.RSSBytes = m.RSS
	} else {
		s.Warnings = append(s.Warnings, "memory: "+err.Error())
	}
	if n, err := r.proc.NumThreads(); err == nil {
		s.Threads = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.SystemMemUsed = vm.UsedPercent
	}
	if len(s.Warnings) > 0 {
		s.Status = "degraded"
	}
	return s
}
