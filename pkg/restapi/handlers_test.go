package restapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-labs/forum/pkg/account"
	"github.com/inkwell-labs/forum/pkg/api"
	"github.com/inkwell-labs/forum/pkg/auth"
	"github.com/inkwell-labs/forum/pkg/blog"
	"github.com/inkwell-labs/forum/pkg/blog/blogtest"
	"github.com/inkwell-labs/forum/pkg/cache"
	"github.com/inkwell-labs/forum/pkg/kvstore"
	"github.com/inkwell-labs/forum/pkg/restapi"
)

var (
	alice = &auth.Principal{UserID: 1, Username: "alice"}
	bob   = &auth.Principal{UserID: 2, Username: "bob"}
)

type staticUsers []account.UserWithComments

func (s staticUsers) Users(context.Context) ([]account.UserWithComments, error) { return s, nil }

type fixture struct {
	repo *blogtest.Repository
	mux  *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := blogtest.NewRepository()
	kv := kvstore.NewMemoryStore()
	c := cache.New(kv)
	svc := blog.NewService(repo, nil, blog.NewViewCounter(kv, nil))
	users := staticUsers{{
		User: account.User{ID: 1, Username: "alice", Email: "alice@example.com", PasswordHash: "secret-hash"},
		CommentsPublished: []account.CommentBrief{{Author: "alice", Body: "hi"}},
	}}
	mux := http.NewServeMux()
	restapi.NewHandler(svc, users,
		cache.NewResponseCache(c, cache.ResponseTTL, restapi.ViewerKey),
		api.NewKVIdempotencyStore(kv, time.Hour),
	).RegisterRoutes(mux)
	return &fixture{repo: repo, mux: mux}
}

func (f *fixture) do(user *auth.Principal, method, path, body string, header ...string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		r.Header.Set(header[i], header[i+1])
	}
	if user != nil {
		r = r.WithContext(auth.WithPrincipal(r.Context(), user))
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	return w
}

func day(n int) time.Time {
	return time.Date(2024, 2, n, 8, 0, 0, 0, time.UTC)
}

func id(a *blog.Article) string { return strconv.FormatInt(a.ID, 10) }

func TestList_VisibleAndCachedPerViewer(t *testing.T) {
	f := newFixture(t)
	golang := f.repo.SeedTag(t, "Go")
	f.repo.Seed("Public", alice, blog.StatusPublished, day(1), golang.ID)
	f.repo.Seed("Alice draft", alice, blog.StatusDraft, day(2))

	w := f.do(nil, http.MethodGet, "/api/", "")
	require.Equal(t, http.StatusOK, w.Code)
	var anon []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &anon))
	require.Len(t, anon, 1)
	assert.Equal(t, "alice", anon[0]["author"])
	assert.Equal(t, []any{map[string]any{"name": "Go"}}, anon[0]["tags"])
	assert.NotContains(t, anon[0], "body")

	w = f.do(alice, http.MethodGet, "/api/", "")
	require.Equal(t, http.StatusOK, w.Code)
	var own []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &own))
	assert.Len(t, own, 2)

	f.repo.Seed("Later", bob, blog.StatusPublished, day(3))
	w = f.do(nil, http.MethodGet, "/api/", "")
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &anon))
	assert.Len(t, anon, 1)
}

func TestDetail(t *testing.T) {
	f := newFixture(t)
	pub := f.repo.Seed("Public", alice, blog.StatusPublished, day(1))
	draft := f.repo.Seed("Draft", alice, blog.StatusDraft, day(2))

	w := f.do(nil, http.MethodGet, "/api/"+id(pub)+"/", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "public", got["slug"])
	assert.Equal(t, "PB", got["status"])
	assert.Equal(t, []any{}, got["comments"])

	assert.Equal(t, http.StatusNotFound, f.do(bob, http.MethodGet, "/api/"+id(draft)+"/", "").Code)
	assert.Equal(t, http.StatusOK, f.do(alice, http.MethodGet, "/api/"+id(draft)+"/", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(nil, http.MethodGet, "/api/999/", "").Code)
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	body := `{"title":"From the API","body":"text","status":"PB"}`

	assert.Equal(t, http.StatusUnauthorized, f.do(nil, http.MethodPost, "/api/article/create/", body).Code)

	w := f.do(alice, http.MethodPost, "/api/article/create/", `{"title":"","body":"text","status":"XX"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "status")

	w = f.do(alice, http.MethodPost, "/api/article/create/", body, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "from-the-api", got["slug"])
	assert.Equal(t, "alice", got["author"])

	w = f.do(alice, http.MethodPost, "/api/article/create/", body, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	n, err := f.repo.CountPublished(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreate_IdempotencyKeyIsPerUser(t *testing.T) {
	f := newFixture(t)
	draft := `{"title":"Secret plan","body":"alice only","status":"DF"}`
	w := f.do(alice, http.MethodPost, "/api/article/create/", draft, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(bob, http.MethodPost, "/api/article/create/", `{"title":"Bob's post","body":"text","status":"PB"}`, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Empty(t, w.Header().Get("Idempotent-Replayed"))
	assert.NotContains(t, w.Body.String(), "alice only")
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "bob", got["author"])
	assert.Equal(t, "Bob's post", got["title"])

	w = f.do(alice, http.MethodPost, "/api/article/create/", `{"title":"Other","body":"x"}`, "Idempotency-Key", "k1")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreate_IgnoresReadOnlyFields(t *testing.T) {
	f := newFixture(t)
	body := `{"title":"Extra","body":"text","status":"PB","slug":"custom","author":"bob","tags":[{"name":"Go"}]}`
	w := f.do(alice, http.MethodPost, "/api/article/create/", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "extra", got["slug"])
	assert.Equal(t, "alice", got["author"])
	assert.Equal(t, []any{}, got["tags"])
}

func TestDeleteArticle(t *testing.T) {
	f := newFixture(t)
	a := f.repo.Seed("Doomed", alice, blog.StatusPublished, day(1))
	path := "/api/article/" + id(a) + "/delete/"

	assert.Equal(t, http.StatusUnauthorized, f.do(nil, http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(bob, http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNoContent, f.do(alice, http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(alice, http.MethodDelete, path, "").Code)
}

func TestComments(t *testing.T) {
	f := newFixture(t)
	pub := f.repo.Seed("Open", alice, blog.StatusPublished, day(1))
	draft := f.repo.Seed("Closed", alice, blog.StatusDraft, day(2))

	w := f.do(bob, http.MethodPost, "/api/article/"+id(draft)+"/comment/create/", `{"body":"hi"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(bob, http.MethodPost, "/api/article/"+id(pub)+"/comment/create/", `{"body":"hi"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"author":"bob","body":"hi"}`, w.Body.String())

	comments, err := f.repo.Comments(context.Background(), pub.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	path := "/api/comment/" + strconv.FormatInt(comments[0].ID, 10) + "/delete/"

	assert.Equal(t, http.StatusNotFound, f.do(alice, http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNoContent, f.do(bob, http.MethodDelete, path, "").Code)
}

func TestUsers(t *testing.T) {
	f := newFixture(t)
	w := f.do(nil, http.MethodGet, "/api/user/", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0]["username"])
	assert.NotContains(t, got[0], "password")
	assert.NotContains(t, got[0], "avatar")
	assert.Equal(t, []any{map[string]any{"author": "alice", "body": "hi"}}, got[0]["comments_published"])
}
