package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
)

// ResponseTTL is how long API GET responses are served from cache.
const ResponseTTL = 15 * time.Minute

// ViewerFunc names the requester so that per-user responses are cached
// separately. Anonymous requesters return "".
type ViewerFunc func(r *http.Request) string

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	ETag        string `json:"etag"`
	Body        []byte `json:"body"`
}

// ETag returns a strong entity tag for body. JSON bodies are canonicalised
// first, so equal documents share a tag regardless of key order.
func ETag(body []byte, contentType string) string {
	data := body
	if strings.HasPrefix(contentType, "application/json") {
		if canon, err := jcs.Transform(body); err == nil {
			data = canon
		}
	}
	sum := sha256.Sum256(data)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		c := strings.TrimSpace(candidate)
		if c == "*" || c == etag || strings.TrimPrefix(c, "W/") == etag {
			return true
		}
	}
	return false
}

type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

// ResponseCache caches successful GET responses per path, query and viewer.
type ResponseCache struct {
	cache  *Cache
	ttl    time.Duration
	viewer ViewerFunc
	logger *slog.Logger
}

// NewResponseCache creates a response cache keeping entries for ttl.
func NewResponseCache(c *Cache, ttl time.Duration, viewer ViewerFunc) *ResponseCache {
	if viewer == nil {
		viewer = func(*http.Request) string { return "" }
	}
	return &ResponseCache{cache: c, ttl: ttl, viewer: viewer, logger: slog.Default().With("component", "cache")}
}

func (rc *ResponseCache) key(r *http.Request) string {
	return "response:" + r.Method + ":" + r.URL.Path + "?" + r.URL.RawQuery + "#" + rc.viewer(r)
}

func (rc *ResponseCache) write(w http.ResponseWriter, r *http.Request, resp *cachedResponse, hit bool) {
	w.Header().Set("ETag", resp.ETag)
	w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(int(rc.ttl.Seconds())))
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" && etagMatches(inm, resp.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// Middleware serves cached GET responses and stores fresh 200 responses.
func (rc *ResponseCache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		key := rc.key(r)
		var cached cachedResponse
		if ok, err := rc.cache.Get(r.Context(), key, &cached); err == nil && ok {
			rc.write(w, r, &cached, true)
			return
		}

		buf := &bufferedWriter{header: http.Header{}}
		next.ServeHTTP(buf, r)
		if buf.status == 0 {
			buf.status = http.StatusOK
		}
		for k, v := range buf.header {
			w.Header()[k] = v
		}
		if buf.status != http.StatusOK {
			w.WriteHeader(buf.status)
			_, _ = w.Write(buf.body.Bytes())
			return
		}

		resp := &cachedResponse{
			Status:      buf.status,
			ContentType: buf.header.Get("Content-Type"),
			Body:        buf.body.Bytes(),
		}
		resp.ETag = ETag(resp.Body, resp.ContentType)
		if err := rc.cache.Set(context.WithoutCancel(r.Context()), key, resp, rc.ttl); err != nil {
			rc.logger.Warn("response cache store failed", "key", key, "error", err)
		}
		rc.write(w, r, resp, false)
	})
}
