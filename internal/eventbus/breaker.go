package eventbus

import "sync"

// breaker is a per-subscriber circuit breaker: a (failure-count,
// threshold) pair with atomic updates. Open iff failure-count >=
// threshold. Reset by an explicit Reset call or any successful
// delivery.
type breaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
}

func newBreaker(threshold int) *breaker {
	return &breaker{threshold: threshold}
}

// Open reports whether the breaker is currently tripped.
func (b *breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures >= b.threshold
}

// RecordSuccess resets the failure counter to 0.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// RecordFailure increments the failure counter and reports whether the
// breaker is now open.
func (b *breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	return b.failures >= b.threshold
}

// Reset clears the failure counter, independent of success/failure
// history.
func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}
