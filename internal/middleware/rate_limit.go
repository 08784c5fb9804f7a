// internal/middleware/rate_limit.go
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/masumi-network/payment-coordinator/internal/utils"
)

const callerIdleTimeout = 3 * time.Minute

// callerEntry is one API caller's token bucket. Callers are keyed by client
// IP; agents run headless from a fixed host, so the IP is identity enough
// for throttling.
type callerEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type callerLimiter struct {
	callers map[string]*callerEntry
	mtx     sync.Mutex
	rate    rate.Limit
	burst   int
}

func newCallerLimiter(perSecond, burst int) *callerLimiter {
	cl := &callerLimiter{
		callers: make(map[string]*callerEntry),
		rate:    rate.Limit(perSecond),
		burst:   burst,
	}
	go cl.evictIdle()
	return cl
}

// evictIdle drops callers not seen within the idle timeout so the map stays
// bounded.
func (cl *callerLimiter) evictIdle() {
	for {
		time.Sleep(time.Minute)
		cl.mtx.Lock()
		for ip, c := range cl.callers {
			if time.Since(c.lastSeen) > callerIdleTimeout {
				delete(cl.callers, ip)
			}
		}
		cl.mtx.Unlock()
	}
}

func (cl *callerLimiter) limiterFor(ip string) *rate.Limiter {
	cl.mtx.Lock()
	defer cl.mtx.Unlock()

	c, ok := cl.callers[ip]
	if !ok {
		limiter := rate.NewLimiter(cl.rate, cl.burst)
		cl.callers[ip] = &callerEntry{limiter, time.Now()}
		return limiter
	}
	c.lastSeen = time.Now()
	return c.limiter
}

// APIRateLimit throttles requests per client IP. Limits come from the server
// configuration so operators can tune them per deployment.
func APIRateLimit(perSecond, burst int) gin.HandlerFunc {
	cl := newCallerLimiter(perSecond, burst)

	return func(c *gin.Context) {
		if !cl.limiterFor(c.ClientIP()).Allow() {
			utils.ErrorResponse(c, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}
