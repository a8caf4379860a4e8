// modgate/models/services.go
package models

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// --- Stateful Services ---

type RateLimiter struct {
	Mu       sync.RWMutex
	Limiters map[string]*rate.Limiter
	LastSeen map[string]time.Time

	every  time.Duration
	burst  int
	expire time.Duration
	stop   chan struct{}
	once   sync.Once
}

// NewRateLimiter creates and starts a new rate limiter.
func NewRateLimiter(every time.Duration, burst int, prune, expire time.Duration) *RateLimiter {
	rl := &RateLimiter{
		Limiters: make(map[string]*rate.Limiter),
		LastSeen: make(map[string]time.Time),
		every:    every,
		burst:    burst,
		expire:   expire,
		stop:     make(chan struct{}),
	}
	go rl.cleanup(prune)
	return rl
}

// GetLimiter retrieves or creates a rate limiter for a given key (usually an IP address).
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.Mu.Lock()
	defer rl.Mu.Unlock()
	limiter, exists := rl.Limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(rl.every), rl.burst)
		rl.Limiters[key] = limiter
	}
	rl.LastSeen[key] = time.Now()
	return limiter
}

// Stop ends the background cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// cleanup periodically removes old entries from the rate limiter maps.
func (rl *RateLimiter) cleanup(prune time.Duration) {
	ticker := time.NewTicker(prune)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.prune(time.Now().Add(-rl.expire))
		}
	}
}

func (rl *RateLimiter) prune(cutoff time.Time) {
	rl.Mu.Lock()
	defer rl.Mu.Unlock()
	for key, lastSeen := range rl.LastSeen {
		if lastSeen.Before(cutoff) {
			delete(rl.Limiters, key)
			delete(rl.LastSeen, key)
		}
	}
}

// TaskGroup tracks work that continues after an HTTP response was written,
// so shutdown can wait for it.
type TaskGroup struct {
	wg sync.WaitGroup
}

// Go runs fn in a new goroutine tracked by the group.
func (g *TaskGroup) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// Wait blocks until every task has returned.
func (g *TaskGroup) Wait() {
	g.wg.Wait()
}
