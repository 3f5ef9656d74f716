// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the request ID injector, the structured access logger
// with redaction, and panic recovery. Install them in that order:
//
//  1. RequestID()
//  2. Logger(opts)
//  3. Recovery()
//
// so that panics and error envelopes carry the correlation ID. The access
// logger attaches a request-scoped zerolog.Logger to the Gin context; handlers
// retrieve it with LoggerFrom.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"
	// HeaderOutletID optionally names the outlet a till or device acts for.
	HeaderOutletID = "X-Outlet-ID"
	// maxQueryLogLength caps the number of bytes of the raw query string logged.
	maxQueryLogLength = 2048
)

// RequestID attaches (or propagates) a correlation identifier per request.
//
// Behavior:
//   - An incoming X-Request-ID is reused as is. Otherwise a UUIDv4 is
//     generated.
//   - The ID is written to the X-Request-ID response header and stored in the
//     Gin context under "requestID".
//
// Place it first so error envelopes, access logs and idempotent replays all
// carry the same ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RedactOptions configures scrubbing for Logger.
//
// MaskHeaders lists extra header names (case-insensitive) whose values are
// replaced with "[REDACTED]", on top of Authorization, Cookie and Set-Cookie.
// LogHeaders turns on logging of the scrubbed request headers.
type RedactOptions struct {
	MaskHeaders []string
	LogHeaders  bool
}

// redactor scrubs customer contact details that tills sometimes put in query
// strings (guest name lookups, delivery phone numbers).
type redactor struct {
	email *regexp.Regexp
	phone *regexp.Regexp
	mask  map[string]struct{}
}

func newRedactor(opts RedactOptions) *redactor {
	r := &redactor{
		email: regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`),
		// Digits only, so hex ids and UUIDs are left intact.
		phone: regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`),
		mask: map[string]struct{}{
			"authorization": {},
			"cookie":        {},
			"set-cookie":    {},
		},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			r.mask[h] = struct{}{}
		}
	}
	return r
}

func (r *redactor) scrub(s string) string {
	if s == "" {
		return s
	}
	s = r.email.ReplaceAllString(s, "[REDACTED:email]")
	return r.phone.ReplaceAllString(s, "[REDACTED:phone]")
}

func (r *redactor) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.mask[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = r.scrub(strings.Join(vv, ", "))
	}
	return out
}

// Logger writes a structured access log for each request and response.
//
// Features:
//   - Records method, route (raw path when unmatched), remote IP, user agent,
//     request ID, outlet ID (from X-Outlet-ID, when sent), request size,
//     status, latency and bytes written.
//   - Scrubs e-mail addresses and phone numbers from the query string and
//     truncates it to 2 KiB.
//   - When opts.LogHeaders is set, logs request headers with Authorization,
//     Cookie, Set-Cookie and opts.MaskHeaders replaced by "[REDACTED]".
//   - Stores a request-scoped zerolog.Logger in the Gin context (key
//     "logger"); handlers fetch it with LoggerFrom.
//   - Level: error for 5xx or when Gin collected errors, warn for 4xx,
//     info otherwise.
//
// Note: for /ws/devices the line is written when the socket closes, so the
// latency field is the connection lifetime.
func Logger(opts RedactOptions) gin.HandlerFunc {
	rd := newRedactor(opts)
	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		path := c.FullPath()
		if path == "" {
			// Fallback when route not matched / 404.
			path = c.Request.URL.Path
		}

		lc := log.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("query", truncate(rd.scrub(c.Request.URL.RawQuery), maxQueryLogLength)).
			Int64("bytes_in", c.Request.ContentLength)
		if outlet := c.GetHeader(HeaderOutletID); outlet != "" {
			lc = lc.Str("outlet_id", outlet)
		}
		l := lc.Logger()
		c.Set("logger", &l)

		var hdrs map[string]string
		if opts.LogHeaders {
			hdrs = rd.headers(c.Request.Header)
		}

		c.Next()

		ev := l.With().
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Logger()

		var e *zerolog.Event
		switch status := c.Writer.Status(); {
		case len(c.Errors) > 0:
			e = ev.Error().Str("errors", c.Errors.String())
		case status >= 500:
			e = ev.Error()
		case status >= 400:
			e = ev.Warn()
		default:
			e = ev.Info()
		}
		if hdrs != nil {
			e = e.Interface("headers", hdrs)
		}
		e.Msg("request")
	}
}

// Recovery intercepts panics, logs a stack trace, and returns a JSON 500 error.
//
// Behavior:
//   - Logs the panic value and stack with the request ID.
//   - If nothing has been written yet, responds with
//     { "request_id": "...", "code": "internal_error", "message": "internal server error" }
//     and sets X-Request-ID. Otherwise it only aborts with 500.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid, _ := c.Get(requestIDKey)
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", asString(rid)).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header(requestIDHeader, asString(rid))
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": asString(rid),
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// Logger() is not installed.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes. A max <= 0 disables truncation.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
