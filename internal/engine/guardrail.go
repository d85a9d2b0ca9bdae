package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/config"
	"github.com/miradorstack/mirador-chaos/internal/models"
)

// RejectionReason labels why the guardrail declined an injection.
type RejectionReason string

const (
	RejectConcurrencyLimit RejectionReason = "concurrency_limit"
	RejectCooldownActive   RejectionReason = "cooldown_active"
)

// RejectionError is returned by TryAdmit when an injection is declined. It is
// recoverable: the caller surfaces it as a declined action, never as a fault.
type RejectionError struct {
	Class      models.FailureClass
	Reason     RejectionReason
	RetryAfter time.Duration
}

func (e *RejectionError) Error() string {
	if e.Reason == RejectCooldownActive {
		return fmt.Sprintf("chaos cooldown active for %s, wait %s", e.Class, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("too many concurrent chaos actions (%s rejected)", e.Class)
}

// Guardrail is the counting-semaphore-plus-cooldown gate in front of fault
// injection. Admission fails fast rather than queueing; the per-class cooldown
// window is measured from the previous action's release.
type Guardrail struct {
	mu            sync.Mutex
	maxConcurrent int
	cooldown      time.Duration
	active        int
	lastRelease   map[models.FailureClass]time.Time
	now           func() time.Time
}

// NewGuardrail constructs a Guardrail from the chaos limits.
func NewGuardrail(cfg config.ChaosConfig) *Guardrail {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Guardrail{
		maxConcurrent: maxConcurrent,
		cooldown:      cfg.Cooldown,
		lastRelease:   make(map[models.FailureClass]time.Time),
		now:           time.Now,
	}
}

// TryAdmit admits one injection for the class or returns a *RejectionError.
// The concurrency limit is checked before the cooldown. The returned Admission
// must be released exactly once when the injected action completes; callers
// defer the release so panics inside the action still release the slot.
func (g *Guardrail) TryAdmit(class models.FailureClass) (*Admission, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active >= g.maxConcurrent {
		return nil, &RejectionError{Class: class, Reason: RejectConcurrencyLimit}
	}
	if g.cooldown > 0 {
		if last, ok := g.lastRelease[class]; ok {
			remaining := g.cooldown - g.now().Sub(last)
			if remaining > 0 {
				return nil, &RejectionError{Class: class, Reason: RejectCooldownActive, RetryAfter: remaining}
			}
		}
	}

	g.active++
	return &Admission{guardrail: g, class: class}, nil
}

// Snapshot exposes the gate state for status payloads.
func (g *Guardrail) Snapshot() models.GuardrailSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := models.GuardrailSnapshot{
		Active:        g.active,
		MaxConcurrent: g.maxConcurrent,
	}
	now := g.now()
	for class, last := range g.lastRelease {
		remaining := g.cooldown - now.Sub(last)
		if remaining > 0 {
			if snap.CooldownRemaining == nil {
				snap.CooldownRemaining = make(map[models.FailureClass]time.Duration)
			}
			snap.CooldownRemaining[class] = remaining
		}
	}
	return snap
}

func (g *Guardrail) release(class models.FailureClass) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active > 0 {
		g.active--
	}
	g.lastRelease[class] = g.now()
}

// Admission is a held guardrail slot.
type Admission struct {
	guardrail *Guardrail
	class     models.FailureClass
	once      sync.Once
}

// Class returns the failure class the admission was granted for.
func (a *Admission) Class() models.FailureClass { return a.class }

// Release returns the slot and starts the class cooldown. It is idempotent.
func (a *Admission) Release() {
	a.once.Do(func() {
		a.guardrail.release(a.class)
	})
}
