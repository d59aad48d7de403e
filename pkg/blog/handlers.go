package blog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/inkwell-labs/forum/pkg/api"
	"github.com/inkwell-labs/forum/pkg/auth"
	"github.com/inkwell-labs/forum/pkg/i18n"
	"github.com/inkwell-labs/forum/pkg/session"
)

// Handler serves the blog site routes, the feed and the sitemap.
type Handler struct {
	svc     *Service
	users   UserSource
	baseURL string
}

// NewHandler creates a Handler. users feeds the sitemap and may be nil.
func NewHandler(svc *Service, users UserSource, baseURL string) *Handler {
	return &Handler{svc: svc, users: users, baseURL: baseURL}
}

// RegisterRoutes registers the blog routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	private := auth.RequireUserFunc

	mux.HandleFunc("GET /blog/{$}", h.handleList)
	mux.HandleFunc("GET /blog/tag/{tag}/{$}", h.handleList)
	mux.HandleFunc("GET /blog/article-detail/{slug}/{id}/{$}", h.handleDetail)
	mux.Handle("POST /blog/article-comment/{id}/{$}", private(h.handleComment))
	mux.HandleFunc("GET /blog/search/{$}", h.handleSearch)
	mux.HandleFunc("GET /blog/tags/{$}", h.handleTags)
	mux.Handle("POST /blog/article/create/{$}", private(h.handleCreate))
	mux.Handle("POST /blog/article/edit/{id}/{$}", private(h.handleEdit))
	mux.Handle("POST /blog/article/delete/{id}/{$}", private(h.handleDelete))
	mux.Handle("POST /blog/comment/{comment_id}/edit/{$}", private(h.handleCommentEdit))
	mux.Handle("POST /blog/comment/{comment_id}/delete/{$}", private(h.handleCommentDelete))
	mux.HandleFunc("GET /blog/feed/{$}", h.handleFeed)
	mux.HandleFunc("GET /sitemap.xml", h.handleSitemap)
}

type articleResponse struct {
	Detail  string   `json:"detail"`
	Article *Article `json:"article"`
}

type commentResponse struct {
	Detail  string   `json:"detail"`
	Comment *Comment `json:"comment"`
}

type commentRequest struct {
	Body string `json:"body"`
}

// writeError maps service errors to problem responses. Site routes hide
// other users' content behind 404.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *api.ValidationError
	switch {
	case errors.As(err, &ve):
		api.WriteValidation(w, "Form is not valid", ve.Fields)
	case errors.Is(err, ErrTagsRequired):
		msg := i18n.T(r.Context(), i18n.MsgTagsRequired)
		api.WriteValidation(w, msg, map[string]string{"tags": msg})
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
		api.WriteErrorR(w, r, http.StatusNotFound, "Not Found", "Not found")
	case errors.Is(err, ErrTagExists):
		api.WriteConflict(w, "Tag already exists")
	default:
		api.WriteInternal(w, err)
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	if tag == "" {
		tag = r.URL.Query().Get("tag")
	}
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			api.WriteNotFound(w, "Invalid page")
			return
		}
		page = n
	}
	listing, err := h.svc.List(r.Context(), tag, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, listing)
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		api.WriteNotFound(w, "")
		return
	}
	detail, err := h.svc.Detail(r.Context(), auth.Viewer(r.Context()), session.From(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		api.WriteNotFound(w, "")
		return
	}
	var req commentRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	c, err := h.svc.Comment(r.Context(), auth.Viewer(r.Context()), id, req.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, commentResponse{Detail: i18n.T(r.Context(), i18n.MsgCommentAdded), Comment: c})
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	results, err := h.svc.Search(r.Context(), query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"query": query, "results": results})
}

func (h *Handler) handleTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.Tags(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, tags)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var form ArticleForm
	if err := api.DecodeJSON(r, &form); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	a, err := h.svc.Create(r.Context(), auth.Viewer(r.Context()), form)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msg := i18n.MsgArticleCreatedDraft
	if a.Published() {
		msg = i18n.MsgArticleCreatedPublished
	}
	api.WriteJSON(w, http.StatusCreated, articleResponse{Detail: i18n.T(r.Context(), msg), Article: a})
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		api.WriteNotFound(w, "")
		return
	}
	var form ArticleForm
	if err := api.DecodeJSON(r, &form); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	a, err := h.svc.Edit(r.Context(), auth.Viewer(r.Context()), id, form)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msg := i18n.MsgArticleUpdatedDraft
	if a.Published() {
		msg = i18n.MsgArticleUpdatedPublished
	}
	api.WriteJSON(w, http.StatusOK, articleResponse{Detail: i18n.T(r.Context(), msg), Article: a})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		api.WriteNotFound(w, "")
		return
	}
	if err := h.svc.Delete(r.Context(), auth.Viewer(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{
		"detail": i18n.T(r.Context(), i18n.MsgArticleDeleted),
		"next":   "/blog/",
	})
}

func (h *Handler) handleCommentEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "comment_id")
	if !ok {
		api.WriteNotFound(w, "")
		return
	}
	var req commentRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	c, err := h.svc.EditComment(r.Context(), auth.Viewer(r.Context()), id, req.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, commentResponse{Detail: i18n.T(r.Context(), i18n.MsgCommentUpdated), Comment: c})
}

func (h *Handler) handleCommentDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "comment_id")
	if !ok {
		api.WriteNotFound(w, "")
		return
	}
	a, err := h.svc.DeleteComment(r.Context(), auth.Viewer(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"detail":     i18n.T(r.Context(), i18n.MsgCommentDeleted),
		"article_id": a.ID,
		"next":       "/blog/article-detail/" + a.Slug + "/" + strconv.FormatInt(a.ID, 10) + "/",
	})
}

func (h *Handler) handleFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := h.svc.Feed(ctx, FeedMeta{
		Title:       i18n.T(ctx, i18n.MsgFeedTitle),
		Description: i18n.T(ctx, i18n.MsgFeedDescription),
		BaseURL:     h.baseURL,
		Language:    w.Header().Get("Content-Language"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	_, _ = w.Write(body)
}

func (h *Handler) handleSitemap(w http.ResponseWriter, r *http.Request) {
	body, err := h.svc.Sitemap(r.Context(), h.baseURL, h.users)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	_, _ = w.Write(body)
}
