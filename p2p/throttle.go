package p2p

import (
	"sync"

	"golang.org/x/time/rate"
)

// defaultPeerRate and defaultPeerBurst bound how many gossiped
// UserOperations a single peer may push before its messages are dropped;
// spec §6 calls this "a separate peer-reputation counter (out of core
// scope)" — this package implements only the throttle, not a persisted
// ban list the way reputation.Manager bans entities.
const (
	defaultPeerRate  = 20 // messages/sec
	defaultPeerBurst = 40
)

// peerLimiter hands out one token-bucket limiter per peer id, so one
// noisy or misbehaving peer can't starve the inbound channel for others.
type peerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newPeerLimiter() *peerLimiter {
	return &peerLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(defaultPeerRate),
		burst:    defaultPeerBurst,
	}
}

// allow reports whether peerID may deliver another message right now,
// creating that peer's bucket on first contact.
func (p *peerLimiter) allow(peerID string) bool {
	p.mu.Lock()
	limiter, ok := p.limiters[peerID]
	if !ok {
		limiter = rate.NewLimiter(p.r, p.burst)
		p.limiters[peerID] = limiter
	}
	p.mu.Unlock()
	return limiter.Allow()
}

// forget drops peerID's bucket, used when a peer disconnects so the map
// doesn't grow unbounded across peer churn.
func (p *peerLimiter) forget(peerID string) {
	p.mu.Lock()
	delete(p.limiters, peerID)
	p.mu.Unlock()
}
