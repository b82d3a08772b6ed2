// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements AccessLog, one structured line per request with
// personal data scrubbed before it reaches the log sink.
//
// What is logged: method, route, link id, client IP, status, sizes and
// latency, the redacted query string, and an allowlist of request headers.
// Never logged: bodies and response headers. The Location of a redirect is
// the destination a visitor asked for, so it stays out of the access log; the
// access ledger is the place for per-visit records.
package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	redacted          = "[REDACTED]"
	maxQueryLogLength = 1024
	maxHeaderLogLen   = 256
)

// defaultLoggedHeaders is the request header allowlist.
var defaultLoggedHeaders = []string{
	"User-Agent",
	"Referer",
	"Content-Type",
	"X-Forwarded-For",
	HeaderIdempotencyKey,
}

// alwaysMasked are logged as present but never with their value, even when
// listed in LogHeaders.
var alwaysMasked = []string{"Authorization", "Cookie", "X-Admin-Token"}

// UUIDs run first: the phone pattern would otherwise eat their digit groups.
var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// RedactOptions configures AccessLog.
type RedactOptions struct {
	// LogHeaders extends the request header allowlist.
	LogHeaders []string
	// MaskHeaders are logged as "[REDACTED]" when present.
	MaskHeaders []string
}

// redactPII replaces UUIDs, e-mail addresses and phone numbers in s.
func redactPII(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// AccessLog installs the request-scoped logger (request_id, route, link_id)
// for LoggerFrom and writes the access line once the handler returns: info
// below 400, warn for 4xx, error for 5xx or when handlers attached errors.
func AccessLog(opts RedactOptions) gin.HandlerFunc {
	masked := make(map[string]struct{})
	for _, h := range append(append([]string{}, alwaysMasked...), opts.MaskHeaders...) {
		if h = strings.TrimSpace(h); h != "" {
			masked[http.CanonicalHeaderKey(h)] = struct{}{}
		}
	}
	var logged []string
	for _, h := range append(append([]string{}, defaultLoggedHeaders...), opts.LogHeaders...) {
		if h = strings.TrimSpace(h); h != "" {
			logged = append(logged, http.CanonicalHeaderKey(h))
		}
	}
	for h := range masked {
		logged = append(logged, h)
	}

	return func(c *gin.Context) {
		start := time.Now()

		route := c.FullPath()
		if route == "" {
			route = UnmatchedRoute
		}
		rl := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("route", route).
			Str("link_id", c.Param("id")).
			Logger()
		c.Set(loggerKey, &rl)

		headers := zerolog.Dict()
		seen := make(map[string]struct{}, len(logged))
		for _, k := range logged {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			v := c.Request.Header.Get(k)
			if v == "" {
				continue
			}
			if _, ok := masked[k]; ok {
				headers.Str(k, redacted)
				continue
			}
			headers.Str(k, truncate(redactPII(v), maxHeaderLogLen))
		}
		query := truncate(redactPII(c.Request.URL.RawQuery), maxQueryLogLength)

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= 500 || len(c.Errors) > 0:
			ev = rl.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = rl.Warn()
		default:
			ev = rl.Info()
		}
		ev.
			Str("method", c.Request.Method).
			Str("remote_ip", c.ClientIP()).
			Str("query", query).
			Int("status", status).
			Int64("bytes_in", c.Request.ContentLength).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Dict("headers", headers).
			Msg("http_request")
	}
}
