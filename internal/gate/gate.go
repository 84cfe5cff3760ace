// Package gate enforces payload format validity and the scan cooldown so a
// badge held in front of the camera across many frames yields one submission.
package gate

import (
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/trillsolutions/scanner-app/internal/model"
)

const (
	// MinPayloadLen and MaxPayloadLen bound a valid badge payload.
	MinPayloadLen = 4
	MaxPayloadLen = 10

	// DefaultCooldown is the minimum interval between two accepted scans.
	DefaultCooldown = 2 * time.Second
)

// Gate debounces accepted scans. It is safe for concurrent use: the last
// accepted timestamp advances through a compare-and-swap so two
// near-simultaneous evaluations can never both accept.
type Gate struct {
	cooldown     atomic.Int64 // nanoseconds
	lastAccepted atomic.Int64 // unix nanoseconds of the last accepted scan
	now          func() time.Time
}

// New builds a gate with the given cooldown; zero or negative falls back to
// the default.
func New(cooldown time.Duration) *Gate {
	g := &Gate{now: time.Now}
	g.SetCooldown(cooldown)
	return g
}

// SetCooldown updates the debounce interval. Safe to call while evaluations
// are in flight; the new interval applies to the next decision.
func (g *Gate) SetCooldown(cooldown time.Duration) {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	g.cooldown.Store(int64(cooldown))
}

// Cooldown returns the active debounce interval.
func (g *Gate) Cooldown() time.Duration {
	return time.Duration(g.cooldown.Load())
}

// Evaluate applies the format check, then the cooldown check. Rejections
// leave the cooldown state untouched; acceptance atomically records the scan
// time before the decision is returned.
func (g *Gate) Evaluate(payload string) model.ScanDecision {
	// Length is counted in characters, not bytes; payloads carry no
	// charset constraint.
	length := utf8.RuneCountInString(payload)
	if length < MinPayloadLen {
		return model.ScanDecision{Payload: payload, Reason: model.RejectTooShort}
	}
	if length > MaxPayloadLen {
		return model.ScanDecision{Payload: payload, Reason: model.RejectTooLong}
	}

	cooldown := g.cooldown.Load()
	for {
		last := g.lastAccepted.Load()
		now := g.now().UnixNano()
		if last != 0 && now-last < cooldown {
			return model.ScanDecision{Payload: payload, Reason: model.RejectCooldown}
		}
		if g.lastAccepted.CompareAndSwap(last, now) {
			return model.ScanDecision{Accepted: true, Payload: payload}
		}
		// Another evaluation accepted first; re-check against its timestamp.
	}
}
