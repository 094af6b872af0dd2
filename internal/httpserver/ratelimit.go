package httpserver

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterSweepAbove = 10_000
)

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// senderLimiter is a token bucket per authenticated sender.
type senderLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	senders map[string]*limiterEntry
	now     func() time.Time
}

func newSenderLimiter(perSecond float64, burst int) *senderLimiter {
	return &senderLimiter{
		every:   rate.Limit(perSecond),
		burst:   burst,
		senders: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

func (l *senderLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.senders) > limiterSweepAbove {
		for id, e := range l.senders {
			if now.Sub(e.seen) > limiterIdleTTL {
				delete(l.senders, id)
			}
		}
	}

	e, ok := l.senders[userID]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.every, l.burst)}
		l.senders[userID] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

func (l *senderLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(CurrentUserID(r)) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many messages, slow down"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
