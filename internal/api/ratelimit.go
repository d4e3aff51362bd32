package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused actor limiter is kept.
const idleLimiterTTL = 10 * time.Minute

type actorEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ActorLimiter keeps one token bucket per actor.
type ActorLimiter struct {
	mu     sync.Mutex
	limit  rate.Limit
	burst  int
	actors map[string]*actorEntry
	now    func() time.Time
	lastGC time.Time
}

// NewActorLimiter allows perSecond sustained events per actor with the given
// burst. A burst below 1 is raised to 1.
func NewActorLimiter(perSecond float64, burst int) *ActorLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ActorLimiter{
		limit:  rate.Limit(perSecond),
		burst:  burst,
		actors: make(map[string]*actorEntry),
		now:    time.Now,
	}
}

// Allow reports whether actor may act now and consumes a token if so.
func (l *ActorLimiter) Allow(actor string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.gc(now)
	e, ok := l.actors[actor]
	if !ok {
		e = &actorEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.actors[actor] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked actors.
func (l *ActorLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.actors)
}

func (l *ActorLimiter) gc(now time.Time) {
	if now.Sub(l.lastGC) < idleLimiterTTL {
		return
	}
	l.lastGC = now
	for actor, e := range l.actors {
		if now.Sub(e.lastSeen) > idleLimiterTTL {
			delete(l.actors, actor)
		}
	}
}
