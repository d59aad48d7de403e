package auth

import (
	"fmt"
	"net/http"

	"github.com/inkwell-labs/forum/pkg/api"
)

// ThrottleMiddleware limits an endpoint per actor: the user when logged in,
// the client IP otherwise. Limiter errors fail open.
func ThrottleMiddleware(store LimiterStore, scope string, policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			actorID := scope + ":ip:" + api.ClientIP(r)
			if p, err := GetPrincipal(r.Context()); err == nil {
				actorID = fmt.Sprintf("%s:user:%d", scope, p.UserID)
			}

			allowed, err := store.Allow(r.Context(), actorID, policy, 1)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				retryAfter := 1
				if policy.RPM > 0 && 60/policy.RPM > 1 {
					retryAfter = 60 / policy.RPM
				}
				api.WriteTooManyRequests(w, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
