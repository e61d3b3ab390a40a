package signal

import (
	"sync"

	"github.com/dkeye/roomcast/internal/domain"
	"golang.org/x/time/rate"
)

// senderLimiter keeps one token bucket per remote sender.
type senderLimiter struct {
	mu      sync.Mutex
	buckets map[domain.PeerID]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func newSenderLimiter(perSecond float64, burst int) *senderLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &senderLimiter{
		buckets: make(map[domain.PeerID]*rate.Limiter),
		limit:   rate.Limit(perSecond),
		burst:   burst,
	}
}

func (sl *senderLimiter) Allow(sender domain.PeerID) bool {
	if sl.limit <= 0 {
		return true
	}
	sl.mu.Lock()
	b, ok := sl.buckets[sender]
	if !ok {
		b = rate.NewLimiter(sl.limit, sl.burst)
		sl.buckets[sender] = b
	}
	sl.mu.Unlock()
	return b.Allow()
}
