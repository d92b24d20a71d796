package kitchen

import (
	"math/rand/v2"
	"sync"
	"time"

	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
)

const (
	DefaultMinPrepMs = 800
	DefaultMaxPrepMs = 4000
)

// PrepTimer draws preparation times from its own random source. It is safe
// for concurrent use.
type PrepTimer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPrepTimer returns a timer whose draws are fully determined by seed.
func NewPrepTimer(seed uint64) *PrepTimer {
	return &PrepTimer{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandomPrepTimer returns a timer seeded from the runtime's random source.
func NewRandomPrepTimer() *PrepTimer {
	return &PrepTimer{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// Draw returns a value uniformly distributed over [minMs, maxMs].
func (p *PrepTimer) Draw(minMs, maxMs int) (int, error) {
	if err := CheckRange(minMs, maxMs); err != nil {
		return 0, err
	}
	span := uint64(maxMs-minMs) + 1

	p.mu.Lock()
	n := p.rng.Uint64N(span)
	p.mu.Unlock()

	return minMs + int(n), nil
}

// CheckRange reports a *errors.InvalidRangeError when minMs > maxMs or minMs < 0.
func CheckRange(minMs, maxMs int) error {
	if minMs > maxMs || minMs < 0 {
		return &errspkg.InvalidRangeError{Min: minMs, Max: maxMs}
	}
	return nil
}

var defaultPrepTimer = NewRandomPrepTimer()

// PrepTime draws from the process wide timer. Use a PrepTimer when the
// sequence has to be reproducible.
func PrepTime(minMs, maxMs int) (int, error) {
	return defaultPrepTimer.Draw(minMs, maxMs)
}

// Millis converts a millisecond count into a time.Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
