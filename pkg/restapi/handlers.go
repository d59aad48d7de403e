// Package restapi serves the JSON API under /api/: articles, comments and
// users for programmatic clients authenticating with API tokens.
package restapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/inkwell-labs/forum/pkg/account"
	"github.com/inkwell-labs/forum/pkg/api"
	"github.com/inkwell-labs/forum/pkg/auth"
	"github.com/inkwell-labs/forum/pkg/blog"
	"github.com/inkwell-labs/forum/pkg/cache"
)

const articleCreateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["title", "body"],
  "properties": {
    "title":  {"type": "string", "minLength": 1, "maxLength": 250},
    "body":   {"type": "string", "minLength": 1},
    "status": {"type": "string", "enum": ["DF", "PB"]}
  }
}`

// Read-only fields such as slug, author and tags are accepted and ignored.
var articleCreate = api.MustValidator("article-create", articleCreateSchema)

// UserLister lists users with their published comments.
type UserLister interface {
	Users(ctx context.Context) ([]account.UserWithComments, error)
}

// Handler serves the REST API.
type Handler struct {
	articles *blog.Service
	users    UserLister
	cache    *cache.ResponseCache
	idem     api.IdempotencyStorer
}

// NewHandler creates a Handler. A nil response cache or idempotency store
// disables that layer.
func NewHandler(articles *blog.Service, users UserLister, rc *cache.ResponseCache, idem api.IdempotencyStorer) *Handler {
	return &Handler{articles: articles, users: users, cache: rc, idem: idem}
}

// ViewerKey keys cached responses by the authenticated user.
func ViewerKey(r *http.Request) string {
	if p := auth.Viewer(r.Context()); p != nil {
		return strconv.FormatInt(p.UserID, 10)
	}
	return ""
}

func (h *Handler) cached(f http.HandlerFunc) http.Handler {
	if h.cache == nil {
		return f
	}
	return h.cache.Middleware(f)
}

func (h *Handler) idempotent(next http.Handler) http.Handler {
	if h.idem == nil {
		return next
	}
	return api.IdempotencyMiddleware(h.idem, ViewerKey)(next)
}

// RegisterRoutes registers the API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/{$}", h.cached(h.handleList))
	mux.Handle("GET /api/{id}/{$}", h.cached(h.handleDetail))
	mux.Handle("GET /api/user/{$}", h.cached(h.handleUsers))
	mux.Handle("POST /api/article/create/{$}", auth.RequireUser(h.idempotent(http.HandlerFunc(h.handleCreate))))
	mux.Handle("DELETE /api/article/{id}/delete/{$}", auth.RequireUserFunc(h.handleDeleteArticle))
	mux.Handle("POST /api/article/{article_id}/comment/create/{$}", auth.RequireUserFunc(h.handleCreateComment))
	mux.Handle("DELETE /api/comment/{id}/delete/{$}", auth.RequireUserFunc(h.handleDeleteComment))
}

func writeError(w http.ResponseWriter, err error) {
	var ve *api.ValidationError
	switch {
	case errors.As(err, &ve):
		api.WriteValidation(w, "Request body failed validation", ve.Fields)
	case errors.Is(err, blog.ErrNotFound):
		api.WriteNotFound(w, "Not found.")
	case errors.Is(err, blog.ErrForbidden):
		api.WriteForbidden(w, "You do not have permission to perform this action.")
	default:
		api.WriteInternal(w, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		api.WriteNotFound(w, "Not found.")
		return 0, false
	}
	return id, true
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.articles.Visible(r.Context(), auth.Viewer(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]articleListItem, len(list))
	for i := range list {
		out[i] = listItem(&list[i])
	}
	api.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	a, comments, err := h.articles.Get(r.Context(), auth.Viewer(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, fullArticle(a, comments))
}

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.Users(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]userOut, len(users))
	for i := range users {
		out[i] = userItem(&users[i])
	}
	api.WriteJSON(w, http.StatusOK, out)
}

type articleCreateRequest struct {
	Title  string      `json:"title"`
	Body   string      `json:"body"`
	Status blog.Status `json:"status"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req articleCreateRequest
	if err := articleCreate.DecodeValid(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	a, err := h.articles.CreateUntagged(r.Context(), auth.Viewer(r.Context()), blog.ArticleForm{
		Title:  req.Title,
		Body:   req.Body,
		Status: req.Status,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, fullArticle(a, nil))
}

func (h *Handler) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.articles.Delete(r.Context(), auth.Viewer(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type commentCreateRequest struct {
	Body string `json:"body"`
}

func (h *Handler) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "article_id")
	if !ok {
		return
	}
	var req commentCreateRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	c, err := h.articles.Comment(r.Context(), auth.Viewer(r.Context()), id, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, commentOut{Author: c.Author, Body: c.Body})
}

func (h *Handler) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	// Other users' comments are reported as missing.
	_, err := h.articles.DeleteComment(r.Context(), auth.Viewer(r.Context()), id)
	if errors.Is(err, blog.ErrForbidden) {
		err = blog.ErrNotFound
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
