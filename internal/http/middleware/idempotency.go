// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key handling for unsafe requests. The
// first successful response produced for a key is kept in an in-memory
// go-cache store and written back verbatim, with "Idempotent-Replay: true",
// when the client retries. A till that resubmits an order after a timeout
// therefore gets the original broadcast summary and no second print.
package middleware

import (
	"bytes"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

const (
	// HeaderIdempotencyKey carries the client's idempotency key.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay marks a response served from the replay store.
	HeaderIdempotentReplay = "Idempotent-Replay"
)

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// GetIdempotencyKey returns the validated key stashed by Idempotency.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the response was served from the replay store.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures Idempotency.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; defaults to ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// TTL is how long a stored response can be replayed. Defaults to 10m.
	TTL time.Duration
	// Routes limits replay handling to these registered route paths
	// (c.FullPath()). Empty means every POST, PUT, PATCH and DELETE.
	Routes []string
}

type storedResponse struct {
	status      int
	contentType string
	body        []byte
}

// inFlight marks a key whose first request has not finished yet.
type inFlight struct{}

type bodyCacheWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyCacheWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCacheWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// NewIdempotencyStore returns the replay store used by Idempotency.
func NewIdempotencyStore(ttl time.Duration) *cache.Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return cache.New(ttl, 2*ttl)
}

// Idempotency validates the Idempotency-Key header and replays stored
// responses.
//
//   - No header: pass through.
//   - Malformed header: 400 bad_idempotency_key.
//   - Stored response: written back with Idempotent-Replay: true; the
//     request is marked for rate-limit bypass and the handler is skipped.
//   - Same key still being processed: 409 idempotency_in_progress.
//   - Otherwise the handler runs; a 2xx response is stored for TTL, anything
//     else releases the key so the client can retry.
//
// Keys are scoped by method and route, so the same key on different
// endpoints does not collide.
func Idempotency(store *cache.Cache, opts IdempotencyOptions) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	routes := make(map[string]struct{}, len(opts.Routes))
	for _, r := range opts.Routes {
		routes[r] = struct{}{}
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || !unsafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if len(routes) > 0 {
			if _, ok := routes[c.FullPath()]; !ok {
				c.Next()
				return
			}
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)
		storeKey := c.Request.Method + " " + c.FullPath() + " " + key

		if err := store.Add(storeKey, inFlight{}, ttl); err != nil {
			v, _ := store.Get(storeKey)
			resp, ok := v.(storedResponse)
			if !ok {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{
					"request_id": c.Writer.Header().Get(requestIDHeader),
					"code":       "idempotency_in_progress",
					"message":    "a request with this Idempotency-Key is still in progress",
				})
				return
			}
			c.Set(ctxKeyIdemReplay, true)
			c.Set(ctxKeyRateBypass, true)
			h := c.Writer.Header()
			if resp.contentType != "" {
				h.Set("Content-Type", resp.contentType)
			}
			h.Set(HeaderIdempotentReplay, "true")
			c.Writer.WriteHeader(resp.status)
			_, _ = c.Writer.Write(resp.body)
			c.Abort()
			return
		}

		stored := false
		defer func() {
			// Failed or panicking requests release the key.
			if !stored {
				store.Delete(storeKey)
			}
		}()

		w := &bodyCacheWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		if status := w.Status(); status >= 200 && status < 300 {
			store.Set(storeKey, storedResponse{
				status:      status,
				contentType: w.Header().Get("Content-Type"),
				body:        bytes.Clone(w.body.Bytes()),
			}, ttl)
			stored = true
		}
	}
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
