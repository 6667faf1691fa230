package risk

// BreakerState is the circuit-breaker phase.
type BreakerState int8

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// BreakerConfig tunes the failure window and recovery cooldown, both in
// block heights.
type BreakerConfig struct {
	FailureThreshold int64 // failures inside the window that open the breaker
	WindowBlocks     int64 // rolling failure-count window
	CooldownBlocks   int64 // blocks open before a half-open probe is allowed
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 10,
		WindowBlocks:     144,
		CooldownBlocks:   72,
	}
}

// BreakerStatus is a read-only snapshot for queries and events.
// FailureRateBps is failures over total recorded outcomes in the
// current window, in basis points.
type BreakerStatus struct {
	State          BreakerState
	FailureCount   int64
	SuccessCount   int64
	FailureRateBps int64
	WindowStart    int64
	OpenedAt       int64
}

// Breaker gates risky operations after repeated failures. Failures are
// counted inside a rolling block window; crossing the threshold opens
// the breaker, and after the cooldown a half-open probe decides whether
// it closes again. Not safe for concurrent use; the engine serializes.
type Breaker struct {
	cfg         BreakerConfig
	state       BreakerState
	failures    int64
	successes   int64
	windowStart int64
	openedAt    int64
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg}
}

// Allow reports whether an operation may proceed at the given height,
// transitioning OPEN to HALF_OPEN once the cooldown has elapsed.
func (b *Breaker) Allow(height int64) bool {
	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	default:
		if height-b.openedAt >= b.cfg.CooldownBlocks {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	}
}

// RecordFailure counts a failed operation. The count resets when the
// window has rolled past; the threshold failure opens the breaker, and
// any failure during a half-open probe reopens it.
func (b *Breaker) RecordFailure(height int64) {
	if b.state == BreakerHalfOpen {
		b.open(height)
		return
	}
	if b.state == BreakerOpen {
		return
	}

	if height-b.windowStart >= b.cfg.WindowBlocks {
		b.failures = 0
		b.successes = 0
		b.windowStart = height
	}
	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.open(height)
	}
}

// RecordSuccess clears accumulated failures; a successful half-open
// probe closes the breaker.
func (b *Breaker) RecordSuccess(height int64) {
	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
	}
	if b.state == BreakerClosed {
		b.failures = 0
		b.windowStart = height
		b.successes++
	}
}

// Trip opens the breaker unconditionally (operator action).
func (b *Breaker) Trip(height int64) {
	b.open(height)
}

// Reset closes the breaker and clears all counters (operator action).
func (b *Breaker) Reset(height int64) {
	b.state = BreakerClosed
	b.failures = 0
	b.successes = 0
	b.windowStart = height
	b.openedAt = 0
}

func (b *Breaker) Status() BreakerStatus {
	var rate int64
	if total := b.failures + b.successes; total > 0 {
		rate = b.failures * 10_000 / total
	}
	return BreakerStatus{
		State:          b.state,
		FailureCount:   b.failures,
		SuccessCount:   b.successes,
		FailureRateBps: rate,
		WindowStart:    b.windowStart,
		OpenedAt:       b.openedAt,
	}
}

func (b *Breaker) open(height int64) {
	b.state = BreakerOpen
	b.openedAt = height
	b.failures = b.cfg.FailureThreshold
}
