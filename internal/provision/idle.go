package provision

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Sample is one reading of process activity.
type Sample struct {
	CPUPercent float64
	ReadCount  uint64
	WriteCount uint64
}

// MetricsProbe samples the activity of the process running the install.
type MetricsProbe interface {
	Sample() (Sample, error)
}

// IdleDetector decides when an install has stalled: CPU below the threshold
// and no new I/O operations for at least timeout.
type IdleDetector struct {
	threshold float64
	timeout   time.Duration

	last      *Sample
	idleSince time.Time
}

// NewIdleDetector creates a detector.
func NewIdleDetector(cpuThreshold float64, timeout time.Duration) *IdleDetector {
	return &IdleDetector{threshold: cpuThreshold, timeout: timeout}
}

// Observe records a sample taken at now and reports whether the process has
// been idle for the whole timeout window.
func (d *IdleDetector) Observe(s Sample, now time.Time) bool {
	prev := d.last
	d.last = &s
	if prev == nil {
		return false
	}

	idle := s.CPUPercent < d.threshold &&
		s.ReadCount == prev.ReadCount &&
		s.WriteCount == prev.WriteCount
	if !idle {
		d.idleSince = time.Time{}
		return false
	}
	if d.idleSince.IsZero() {
		d.idleSince = now
		return false
	}
	return now.Sub(d.idleSince) >= d.timeout
}

// IdleFor returns how long the detector has seen no activity.
func (d *IdleDetector) IdleFor(now time.Time) time.Duration {
	if d.idleSince.IsZero() {
		return 0
	}
	return now.Sub(d.idleSince)
}

// ProcessProbe samples a process through gopsutil.
type ProcessProbe struct {
	proc *process.Process
}

// NewProcessProbe probes the process with the given pid.
func NewProcessProbe(pid int32) (*ProcessProbe, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	return &ProcessProbe{proc: p}, nil
}

// NewSelfProbe probes the current process.
func NewSelfProbe() (*ProcessProbe, error) {
	return NewProcessProbe(int32(os.Getpid()))
}

// Sample reads CPU usage since the previous call and cumulative I/O counts.
// Platforms without I/O counters report zero counts, leaving CPU as the only
// signal.
func (p *ProcessProbe) Sample() (Sample, error) {
	cpu, err := p.proc.Percent(0)
	if err != nil {
		return Sample{}, fmt.Errorf("cpu percent: %w", err)
	}
	s := Sample{CPUPercent: cpu}
	if io, err := p.proc.IOCounters(); err == nil && io != nil {
		s.ReadCount = io.ReadCount
		s.WriteCount = io.WriteCount
	}
	return s, nil
}
