package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/inkwell-labs/forum/pkg/kvstore"
)

// CachedResponse is a previously served response replayed for a repeated
// Idempotency-Key.
type CachedResponse struct {
	StatusCode int         `json:"status"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body"`
	CachedAt   time.Time   `json:"cached_at"`
	// RequestHash is the SHA-256 of the request body that produced the
	// response.
	RequestHash string `json:"request_hash,omitempty"`
}

// IdempotencyStorer is the backend of IdempotencyMiddleware.
type IdempotencyStorer interface {
	Check(ctx context.Context, key string) (*CachedResponse, bool)
	Set(ctx context.Context, key string, resp *CachedResponse)
}

// MemoryIdempotencyStore keeps responses in process.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*CachedResponse
	ttl     time.Duration
}

// NewMemoryIdempotencyStore creates an in-memory store. Entries older than
// ttl are ignored and removed by Sweep.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]*CachedResponse), ttl: ttl}
}

func (s *MemoryIdempotencyStore) Check(_ context.Context, key string) (*CachedResponse, bool) {
	s.mu.RLock()
	cached, ok := s.entries[key]
	s.mu.RUnlock()
	if ok && time.Since(cached.CachedAt) < s.ttl {
		return cached, true
	}
	return nil, false
}

func (s *MemoryIdempotencyStore) Set(_ context.Context, key string, resp *CachedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = resp
}

// Sweep removes expired entries.
func (s *MemoryIdempotencyStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.entries {
		if time.Since(v.CachedAt) > s.ttl {
			delete(s.entries, k)
		}
	}
}

// KVIdempotencyStore keeps responses in the key-value store so that every
// server instance sees them.
type KVIdempotencyStore struct {
	kv  kvstore.Store
	ttl time.Duration
}

// NewKVIdempotencyStore creates a store over kv.
func NewKVIdempotencyStore(kv kvstore.Store, ttl time.Duration) *KVIdempotencyStore {
	return &KVIdempotencyStore{kv: kv, ttl: ttl}
}

func (s *KVIdempotencyStore) key(k string) string { return "idempotency:" + k }

func (s *KVIdempotencyStore) Check(ctx context.Context, key string) (*CachedResponse, bool) {
	raw, ok, err := s.kv.Get(ctx, s.key(key))
	if err != nil {
		slog.Warn("idempotency lookup failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var resp CachedResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

func (s *KVIdempotencyStore) Set(ctx context.Context, key string, resp *CachedResponse) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.kv.Set(ctx, s.key(key), string(raw), s.ttl); err != nil {
		slog.Warn("idempotency store failed", "error", err)
	}
}

// responseCapture tees the response body while passing it through.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// IdempotencyScope names the caller a key belongs to, so that two callers
// sending the same Idempotency-Key never see each other's responses.
type IdempotencyScope func(r *http.Request) string

// IdempotencyMiddleware replays the stored 2xx response for a repeated
// POST/PUT/PATCH carrying the same Idempotency-Key. Keys are scoped by caller
// and path; reusing a key with a different body is a conflict.
func IdempotencyMiddleware(store IdempotencyStorer, scope IdempotencyScope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			caller := ""
			if scope != nil {
				caller = scope(r)
			}
			key = caller + "|" + r.URL.Path + "|" + key

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				WriteBadRequest(w, "Request body could not be read")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)
			hash := hex.EncodeToString(sum[:])

			if cached, ok := store.Check(r.Context(), key); ok {
				if cached.RequestHash != "" && cached.RequestHash != hash {
					WriteConflict(w, "Idempotency-Key was already used with a different request body")
					return
				}
				for k, vals := range cached.Headers {
					for _, v := range vals {
						w.Header().Add(k, v)
					}
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode >= 200 && capture.statusCode < 300 {
				headers := http.Header{}
				if ct := w.Header().Get("Content-Type"); ct != "" {
					headers.Set("Content-Type", ct)
				}
				store.Set(r.Context(), key, &CachedResponse{
					StatusCode:  capture.statusCode,
					Headers:     headers,
					Body:        capture.body.Bytes(),
					CachedAt:    time.Now(),
					RequestHash: hash,
				})
			}
		})
	}
}
