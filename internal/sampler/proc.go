package sampler

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/miradorstack/mirador-chaos/internal/models"
)

// Proc samples the current process via /proc. CPU percent is derived from the
// CPU time consumed since the previous sample, so the first sample reports 0.
type Proc struct {
	mu       sync.Mutex
	proc     procfs.Proc
	now      func() time.Time
	lastAt   time.Time
	lastCPUs float64
}

// NewProc creates a Proc sampler for the calling process.
func NewProc() (*Proc, error) {
	proc, err := procfs.Self()
	if err != nil {
		return nil, fmt.Errorf("open /proc for self: %w", err)
	}
	return &Proc{proc: proc, now: time.Now}, nil
}

// Sample reads resident memory and CPU usage from /proc.
func (p *Proc) Sample() (models.ResourceSample, error) {
	stat, err := p.proc.Stat()
	if err != nil {
		return models.ResourceSample{}, fmt.Errorf("read proc stat: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	cpuSeconds := stat.CPUTime()

	sample := models.ResourceSample{
		MemoryMB:  float64(stat.ResidentMemory()) / (1024 * 1024),
		Timestamp: now,
	}

	if !p.lastAt.IsZero() {
		elapsed := now.Sub(p.lastAt).Seconds()
		if elapsed > 0 {
			sample.CPUPercent = (cpuSeconds - p.lastCPUs) / elapsed * 100
			if sample.CPUPercent < 0 {
				sample.CPUPercent = 0
			}
		}
	}
	p.lastAt = now
	p.lastCPUs = cpuSeconds

	return sample, nil
}
