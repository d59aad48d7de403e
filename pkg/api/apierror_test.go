package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-labs/forum/pkg/api"
)

func TestWriteError_ContentType(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteError(w, http.StatusBadRequest, "Bad Request", "title is required")

	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var problem api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
	assert.Equal(t, 400, problem.Status)
	assert.Equal(t, "Bad Request", problem.Title)
	assert.Equal(t, "title is required", problem.Detail)
	assert.Equal(t, "https://forum.inkwell.dev/errors/400", problem.Type)
}

func TestWriteErrorR_CarriesRequestContext(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-42")
	r := httptest.NewRequest(http.MethodGet, "/blog/article-detail/x/9/", nil)
	api.WriteErrorR(w, r, http.StatusNotFound, "Not Found", "no article")

	var problem api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
	assert.Equal(t, "/blog/article-detail/x/9/", problem.Instance)
	assert.Equal(t, "req-42", problem.TraceID)
}

func TestWriteInternal_SanitizesError(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteInternal(w, errors.New("pq: connection refused to host=10.0.0.1"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.1")
}

func TestWriteTooManyRequests_RetryAfterHeader(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 30)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestWriteValidation_Fields(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteValidation(w, "invalid form", map[string]string{"email": "already used"})

	var problem api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
	assert.Equal(t, "already used", problem.Errors["email"])
}

func TestDecodeJSON(t *testing.T) {
	type form struct {
		Title string `json:"title"`
	}

	t.Run("ok", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"hi"}`))
		r.Header.Set("Content-Type", "application/json")
		var f form
		require.NoError(t, api.DecodeJSON(r, &f))
		assert.Equal(t, "hi", f.Title)
	})

	t.Run("empty", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		var f form
		assert.ErrorIs(t, api.DecodeJSON(r, &f), api.ErrEmptyBody)
	})

	t.Run("unknown field", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nope":1}`))
		var f form
		assert.Error(t, api.DecodeJSON(r, &f))
	})

	t.Run("trailing data", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"a"}{"title":"b"}`))
		var f form
		assert.Error(t, api.DecodeJSON(r, &f))
	})

	t.Run("wrong content type", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
		r.Header.Set("Content-Type", "text/plain")
		var f form
		assert.Error(t, api.DecodeJSON(r, &f))
	})
}
