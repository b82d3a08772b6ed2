// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements an in-memory token-bucket limiter with one bucket per
// (class, client) pair. Short-link traffic is lopsided: creates and admin
// changes are rare and worth protecting, while redirects are frequent and
// cheap. Each class therefore gets its own rule, and a visitor exhausting the
// write budget can still follow links.
//
// The limiter is process-local; run several replicas and the effective limit
// is multiplied by the replica count. Idempotent replays flagged by
// IdempotencyValidator never consume tokens.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Rate classes returned by ClassifyByMethod.
const (
	RateClassRead  = "read"
	RateClassWrite = "write"
)

// maxRetryAfter caps the advertised Retry-After when a bucket never refills.
const maxRetryAfter = 60 * time.Second

// keyFunc selects the client identity of a bucket.
type keyFunc func(*gin.Context) string

// RateClass maps a request to a rule name. An empty class, or one without a
// rule, is not limited.
type RateClass func(*gin.Context) string

// RateRule is the refill rate and bucket size for one class.
type RateRule struct {
	RPS   float64
	Burst int
}

// KeyByIP buckets requests by client IP as resolved by gin, which honours the
// engine's trusted proxies.
func KeyByIP() keyFunc {
	return func(c *gin.Context) string {
		return "ip:" + c.ClientIP()
	}
}

// ClassifyByMethod puts GET, HEAD and OPTIONS in the read class and every
// other method in the write class. Requests on exempt routes (probes,
// /metrics) are not limited.
func ClassifyByMethod(exempt ...string) RateClass {
	skip := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) string {
		if _, ok := skip[c.FullPath()]; ok {
			return ""
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return RateClassRead
		default:
			return RateClassWrite
		}
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	rules    map[string]RateRule
	classify RateClass
	keyFn    keyFunc
	now      func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	cleanupN uint64
}

// NewRateLimiter builds a limiter. Bursts <= 0 are coerced to 1.
func NewRateLimiter(keyFn keyFunc, classify RateClass, rules map[string]RateRule) *RateLimiter {
	rs := make(map[string]RateRule, len(rules))
	for class, r := range rules {
		if r.Burst <= 0 {
			r.Burst = 1
		}
		rs[class] = r
	}
	return &RateLimiter{
		rules:    rs,
		classify: classify,
		keyFn:    keyFn,
		now:      time.Now,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
	}
}

// getVisitor returns the bucket for key, creating it from rule if absent.
// Every 5000 lookups idle buckets are evicted; this runs before the lookup so
// a stale bucket is replaced rather than refreshed.
func (rl *RateLimiter) getVisitor(key string, rule RateRule) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rate.Limit(rule.RPS), rule.Burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked the request as a
// replay.
func IsRateBypass(c *gin.Context) bool {
	return c.GetBool(ctxKeyRateBypass)
}

// Handler enforces the limits. A denied request gets 429 with Retry-After set
// to the whole seconds until its bucket holds a token again.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		class := rl.classify(c)
		rule, ok := rl.rules[class]
		if class == "" || !ok {
			c.Next()
			return
		}

		lim := rl.getVisitor(class+"|"+rl.keyFn(c), rule)
		now := rl.now()
		res := lim.ReserveN(now, 1)
		delay := res.DelayFrom(now)
		if res.OK() && delay == 0 {
			c.Next()
			return
		}
		res.CancelAt(now)

		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(res.OK(), delay)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": RequestIDFrom(c),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}

func retryAfterSeconds(ok bool, delay time.Duration) int {
	if !ok || delay > maxRetryAfter {
		delay = maxRetryAfter
	}
	if s := int(math.Ceil(delay.Seconds())); s > 1 {
		return s
	}
	return 1
}
