package proctoring

import (
	"sync"

	"github.com/stemsi/mockdrive-backend/internal/model"
)

// Sink receives normalized violations. Both monitors feed an Escalator
// through this interface.
type Sink interface {
	Record(v model.Violation) bool
}

// Escalator counts violations for one proctored session and fires a single
// termination signal when the counter reaches MaxWarnings. Once locked it
// ignores everything until Reset.
type Escalator struct {
	maxWarnings     int
	onViolation     func(model.Violation)
	onMaxViolations func([]model.Violation)

	mu    sync.Mutex
	count int
	log   []model.Violation
}

// NewEscalator creates an Escalator. A non-positive maxWarnings is treated as 1.
func NewEscalator(maxWarnings int, onViolation func(model.Violation), onMaxViolations func([]model.Violation)) *Escalator {
	if maxWarnings < 1 {
		maxWarnings = 1
	}
	return &Escalator{
		maxWarnings:     maxWarnings,
		onViolation:     onViolation,
		onMaxViolations: onMaxViolations,
	}
}

// Record appends v and fires callbacks. It returns false when the
// escalator is already locked and v was dropped.
func (e *Escalator) Record(v model.Violation) bool {
	e.mu.Lock()
	if e.count >= e.maxWarnings {
		e.mu.Unlock()
		return false
	}
	e.log = append(e.log, v)
	e.count++
	reachedMax := e.count == e.maxWarnings
	var snapshot []model.Violation
	if reachedMax {
		snapshot = make([]model.Violation, len(e.log))
		copy(snapshot, e.log)
	}
	e.mu.Unlock()

	// Callbacks run outside the lock so they may call Count or Log.

	if e.onViolation != nil {
		e.onViolation(v)
	}
	if reachedMax && e.onMaxViolations != nil {
		e.onMaxViolations(snapshot)
	}
	return true
}

// Reset clears the counter and log for a fresh session.
func (e *Escalator) Reset() {
	e.mu.Lock()
	e.count = 0
	e.log = nil
	e.mu.Unlock()
}

// Count returns the current warning count.
func (e *Escalator) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// MaxWarnings returns the configured cap.
func (e *Escalator) MaxWarnings() int {
	return e.maxWarnings
}

// Locked reports whether the cap has been reached.
func (e *Escalator) Locked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count >= e.maxWarnings
}

// Log returns a copy of the recorded violations in order.
func (e *Escalator) Log() []model.Violation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Violation, len(e.log))
	copy(out, e.log)
	return out
}
