package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inkwell-labs/forum/pkg/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestThrottleMiddleware_OverLimit(t *testing.T) {
	h := auth.ThrottleMiddleware(auth.NewMemoryLimiter(), "login", auth.Policy{RPM: 1, Burst: 1})(okHandler())

	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, httptest.NewRequest(http.MethodPost, "/account/login/", nil))
	assert.Equal(t, http.StatusOK, w1.Code)

	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, httptest.NewRequest(http.MethodPost, "/account/login/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.Equal(t, "60", w2.Header().Get("Retry-After"))
}

func TestThrottleMiddleware_PerUser(t *testing.T) {
	h := auth.ThrottleMiddleware(auth.NewMemoryLimiter(), "code", auth.Policy{RPM: 1, Burst: 1})(okHandler())

	for _, id := range []int64{1, 2} {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r = r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{UserID: id}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code, "user %d has its own bucket", id)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, auth.Policy, int) (bool, error) {
	return false, errors.New("redis down")
}

func TestThrottleMiddleware_FailOpen(t *testing.T) {
	for _, store := range []auth.LimiterStore{nil, brokenLimiter{}} {
		h := auth.ThrottleMiddleware(store, "login", auth.Policy{RPM: 1, Burst: 1})(okHandler())
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
