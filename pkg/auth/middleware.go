package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/inkwell-labs/forum/pkg/api"
	"github.com/inkwell-labs/forum/pkg/kvstore"
	"github.com/inkwell-labs/forum/pkg/session"
)

// ErrUnknownUser is returned by a UserLookup for ids with no account.
var ErrUnknownUser = errors.New("unknown user")

// UserLookup resolves user ids to principals.
type UserLookup interface {
	PrincipalByID(ctx context.Context, id int64) (*Principal, error)
}

// Authenticator builds the request principal from the session or an API
// token.
type Authenticator struct {
	users  UserLookup
	kv     kvstore.Store
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(users UserLookup, kv kvstore.Store) *Authenticator {
	return &Authenticator{users: users, kv: kv, logger: slog.Default().With("component", "auth")}
}

// TokenFromHeader extracts the token of an "Authorization: Token <t>" header.
func TokenFromHeader(h string) (string, bool) {
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Token") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (a *Authenticator) resolve(r *http.Request) (*Principal, error) {
	if token, ok := TokenFromHeader(r.Header.Get("Authorization")); ok {
		raw, found, err := a.kv.Get(r.Context(), kvstore.TokenUserKey(token))
		if err != nil || !found {
			return nil, err
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, nil
		}
		return a.users.PrincipalByID(r.Context(), id)
	}
	if id, ok := session.From(r.Context()).UserID(); ok {
		return a.users.PrincipalByID(r.Context(), id)
	}
	return nil, nil
}

// Middleware attaches the principal of logged-in requests. Anonymous and
// unresolvable requests pass through without one.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.resolve(r)
		if err != nil && !errors.Is(err, ErrUnknownUser) {
			a.logger.Warn("principal lookup failed", "error", err, "request_id", GetRequestID(r.Context()))
		}
		if p != nil {
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := GetPrincipal(r.Context()); err != nil {
			api.WriteUnauthorized(w, "Authentication credentials were not provided")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUserFunc is RequireUser for handler functions.
func RequireUserFunc(h http.HandlerFunc) http.Handler {
	return RequireUser(h)
}
