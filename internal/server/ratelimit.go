package server

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter tracks a rate limiter and its last access time
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client address. It runs after
// chi's RealIP, so RemoteAddr already holds the forwarded client.
type rateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	rate     rate.Limit
	burst    int
	idle     time.Duration
	interval time.Duration
	stopCh   chan struct{}
	now      func() time.Time
}

func newRateLimiter(perMin, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl := &rateLimiter{
		clients:  make(map[string]*clientLimiter),
		rate:     rate.Limit(float64(perMin) / 60.0),
		burst:    burst,
		idle:     10 * time.Minute,
		interval: time.Minute,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *rateLimiter) stop() {
	close(rl.stopCh)
}

func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *rateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idle)
	for addr, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, addr)
		}
	}
}

func (rl *rateLimiter) get(addr string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if c, ok := rl.clients[addr]; ok {
		c.lastSeen = rl.now()
		return c.limiter
	}
	l := rate.NewLimiter(rl.rate, rl.burst)
	rl.clients[addr] = &clientLimiter{limiter: l, lastSeen: rl.now()}
	return l
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isProbe(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.get(clientAddr(r)).Allow() {
			retry := 60
			if rl.rate > 0 {
				retry = int(1/float64(rl.rate)) + 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "too many requests, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientAddr strips the port so that one client shares one bucket
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
