package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/inkwell-labs/forum/pkg/kvstore"
)

const (
	// CookieName is the session cookie.
	CookieName = "forum_session"
	// DefaultTTL matches a two-week browser session.
	DefaultTTL = 14 * 24 * time.Hour
)

// Claims is the payload of the session cookie.
type Claims struct {
	jwt.RegisteredClaims
	SID string `json:"sid"`
}

// Store persists sessions in the key-value store.
type Store struct {
	kv     kvstore.Store
	secret []byte
	ttl    time.Duration
	secure bool
	logger *slog.Logger
}

// NewStore creates a store signing cookies with secret.
func NewStore(kv kvstore.Store, secret string, secure bool) *Store {
	return &Store{
		kv:     kv,
		secret: []byte(secret),
		ttl:    DefaultTTL,
		secure: secure,
		logger: slog.Default().With("component", "session"),
	}
}

func (st *Store) sign(sid string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(st.ttl)),
		},
		SID: sid,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(st.secret)
}

func (st *Store) parse(token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return st.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("session cookie: %w", err)
	}
	if !parsed.Valid || claims.SID == "" {
		return "", errors.New("session cookie: invalid")
	}
	return claims.SID, nil
}

// Load resolves the request's session. Missing, tampered or expired
// cookies yield a fresh session.
func (st *Store) Load(ctx context.Context, r *http.Request) *Session {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return New()
	}
	sid, err := st.parse(c.Value)
	if err != nil {
		st.logger.Debug("discarding session cookie", "error", err)
		return New()
	}
	raw, ok, err := st.kv.Get(ctx, kvstore.SessionKey(sid))
	if err != nil {
		st.logger.Warn("session load failed", "error", err)
		return New()
	}
	if !ok {
		return New()
	}
	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return New()
	}
	return restore(sid, values)
}

// Save persists a modified session and sets the cookie. Unmodified
// sessions are left alone.
func (st *Store) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	id, values, retired, dirty := s.snapshot()
	if len(retired) > 0 {
		keys := make([]string, len(retired))
		for i, r := range retired {
			keys[i] = kvstore.SessionKey(r)
		}
		if err := st.kv.Delete(ctx, keys...); err != nil {
			return err
		}
	}
	if !dirty {
		return nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := st.kv.Set(ctx, kvstore.SessionKey(id), string(raw), st.ttl); err != nil {
		return err
	}
	token, err := st.sign(id)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(st.ttl.Seconds()),
		HttpOnly: true,
		Secure:   st.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// saveWriter flushes the session right before the response headers go out.
type saveWriter struct {
	http.ResponseWriter
	ctx   context.Context
	store *Store
	sess  *Session
	saved bool
}

func (sw *saveWriter) flush() {
	if sw.saved {
		return
	}
	sw.saved = true
	if err := sw.store.Save(sw.ctx, sw.ResponseWriter, sw.sess); err != nil {
		sw.store.logger.Error("session save failed", "error", err)
	}
}

func (sw *saveWriter) WriteHeader(code int) {
	sw.flush()
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *saveWriter) Write(b []byte) (int, error) {
	sw.flush()
	return sw.ResponseWriter.Write(b)
}

// Middleware loads the session into the request context and saves it
// before the response is written.
func (st *Store) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := st.Load(r.Context(), r)
		sw := &saveWriter{ResponseWriter: w, ctx: r.Context(), store: st, sess: sess}
		next.ServeHTTP(sw, r.WithContext(WithSession(r.Context(), sess)))
		sw.flush()
	})
}
