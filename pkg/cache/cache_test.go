package cache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-labs/forum/pkg/kvstore"
)

type page struct {
	Items  []string `json:"items"`
	Number int      `json:"number"`
}

func TestCache_SetGet(t *testing.T) {
	c := New(kvstore.NewMemoryStore())
	ctx := context.Background()

	var got page
	ok, err := c.Get(ctx, "blog:list::1", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "blog:list::1", page{Items: []string{"a"}, Number: 1}, 0))
	ok, err = c.Get(ctx, "blog:list::1", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, page{Items: []string{"a"}, Number: 1}, got)

	require.NoError(t, c.Delete(ctx, "blog:list::1"))
	ok, _ = c.Get(ctx, "blog:list::1", &got)
	assert.False(t, ok)
}

func TestGetOrLoad(t *testing.T) {
	c := New(kvstore.NewMemoryStore())
	ctx := context.Background()
	calls := 0
	load := func(context.Context) ([]int, error) {
		calls++
		return []int{1, 2}, nil
	}

	for i := 0; i < 3; i++ {
		v, err := GetOrLoad(ctx, c, "k", 0, load)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, v)
	}
	assert.Equal(t, 1, calls)

	_, err := GetOrLoad(ctx, c, "other", 0, func(context.Context) (int, error) {
		return 0, errors.New("db down")
	})
	assert.Error(t, err)

	v, err := GetOrLoad[int](ctx, nil, "nil-cache", 0, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestETag_CanonicalJSON(t *testing.T) {
	a := ETag([]byte(`{"b":1,"a":2}`), "application/json")
	b := ETag([]byte(`{"a":2, "b":1}`), "application/json")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ETag([]byte(`{"a":3}`), "application/json"))
}

func TestResponseCache(t *testing.T) {
	calls := 0
	viewer := ""
	rc := NewResponseCache(New(kvstore.NewMemoryStore()), ResponseTTL, func(*http.Request) string { return viewer })
	h := rc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path == "/api/404/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"viewer":"` + viewer + `"}`))
	}))

	get := func(path, inm string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		if inm != "" {
			r.Header.Set("If-None-Match", inm)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	first := get("/api/", "")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	second := get("/api/", "")
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, 1, calls)

	notModified := get("/api/", etag)
	assert.Equal(t, http.StatusNotModified, notModified.Code)
	assert.Empty(t, notModified.Body.String())

	viewer = "7"
	own := get("/api/", "")
	assert.Equal(t, 2, calls, "each viewer gets its own entry")
	assert.JSONEq(t, `{"viewer":"7"}`, own.Body.String())

	get("/api/404/", "")
	get("/api/404/", "")
	assert.Equal(t, 4, calls, "errors are not cached")
}
