package sampler

import (
	"sync"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/models"
)

// Sampler provides point-in-time process resource usage for readiness
// evaluation.
type Sampler interface {
	Sample() (models.ResourceSample, error)
}

// Fixed is a Sampler returning operator-controlled values. It backs tests and
// local development where /proc is unavailable.
type Fixed struct {
	mu     sync.Mutex
	sample models.ResourceSample
	now    func() time.Time
}

// NewFixed creates a Fixed sampler seeded with the given usage values.
func NewFixed(cpuPercent, memoryMB float64) *Fixed {
	return &Fixed{
		sample: models.ResourceSample{CPUPercent: cpuPercent, MemoryMB: memoryMB},
		now:    time.Now,
	}
}

// Set replaces the values returned by subsequent samples.
func (f *Fixed) Set(cpuPercent, memoryMB float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sample.CPUPercent = cpuPercent
	f.sample.MemoryMB = memoryMB
}

// Sample returns the configured usage stamped with the current time.
func (f *Fixed) Sample() (models.ResourceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sample := f.sample
	sample.Timestamp = f.now()
	return sample, nil
}
