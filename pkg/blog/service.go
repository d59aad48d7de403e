package blog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/inkwell-labs/forum/pkg/api"
	"github.com/inkwell-labs/forum/pkg/auth"
	"github.com/inkwell-labs/forum/pkg/cache"
	"github.com/inkwell-labs/forum/pkg/kvstore"
	"github.com/inkwell-labs/forum/pkg/markdown"
	"github.com/inkwell-labs/forum/pkg/session"
	"github.com/inkwell-labs/forum/pkg/slug"
)

const (
	PageSize          = 5
	RelatedLimit      = 5
	FeedSize          = 5
	FeedWords         = 25
	SearchThreshold   = 0.1
	maxTitleLen       = 250
	maxTagNameLen     = 100
	listCachePrefix   = "articles:list:"
	searchCachePrefix = "articles:search:"
)

// Repository is the persistence the service needs. Store implements it.
type Repository interface {
	ListPublished(ctx context.Context, tagSlug string, limit, offset int) ([]Article, error)
	CountPublished(ctx context.Context, tagSlug string) (int, error)
	ListVisible(ctx context.Context, viewerID int64) ([]Article, error)
	Get(ctx context.Context, id int64) (*Article, error)
	Related(ctx context.Context, articleID int64, limit int) ([]Article, error)
	Search(ctx context.Context, query string, threshold float64) ([]Article, error)
	Create(ctx context.Context, a *Article, tagIDs []int64) error
	Update(ctx context.Context, a *Article) error
	AddTags(ctx context.Context, articleID int64, tagIDs []int64) error
	Delete(ctx context.Context, id int64) error
	Tags(ctx context.Context) ([]Tag, error)
	TagsByIDs(ctx context.Context, ids []int64) ([]Tag, error)
	CreateTag(ctx context.Context, t *Tag) error
	Comments(ctx context.Context, articleID int64) ([]Comment, error)
	CreateComment(ctx context.Context, c *Comment) error
	GetComment(ctx context.Context, id int64) (*Comment, error)
	UpdateComment(ctx context.Context, c *Comment) error
	DeleteComment(ctx context.Context, id int64) error
	LatestPublished(ctx context.Context, n int) ([]Article, error)
	AllPublished(ctx context.Context) ([]Article, error)
}

// Service implements the blog operations.
type Service struct {
	repo   Repository
	cache  *cache.Cache
	views  *ViewCounter
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a Service. A nil cache disables caching.
func NewService(repo Repository, c *cache.Cache, views *ViewCounter) *Service {
	return &Service{
		repo:   repo,
		cache:  c,
		views:  views,
		now:    time.Now,
		logger: slog.Default().With("component", "blog"),
	}
}

func viewerID(viewer *auth.Principal) int64 {
	if viewer == nil {
		return 0
	}
	return viewer.UserID
}

// List returns a page of published articles, optionally for one tag.
// Pages are numbered from 1; a page past the end is ErrNotFound.
func (s *Service) List(ctx context.Context, tagSlug string, page int) (*Listing, error) {
	if page < 1 {
		return nil, ErrNotFound
	}
	key := fmt.Sprintf("%s%s:%d", listCachePrefix, tagSlug, page)
	return cache.GetOrLoad(ctx, s.cache, key, cache.DefaultTTL, func(ctx context.Context) (*Listing, error) {
		return s.loadListing(ctx, tagSlug, page)
	})
}

func (s *Service) loadListing(ctx context.Context, tagSlug string, page int) (*Listing, error) {
	total, err := s.repo.CountPublished(ctx, tagSlug)
	if err != nil {
		return nil, err
	}
	numPages := (total + PageSize - 1) / PageSize
	if numPages == 0 {
		numPages = 1
	}
	if page > numPages {
		return nil, ErrNotFound
	}
	items, err := s.repo.ListPublished(ctx, tagSlug, PageSize, (page-1)*PageSize)
	if err != nil {
		return nil, err
	}
	all := total
	if tagSlug != "" {
		if all, err = s.repo.CountPublished(ctx, ""); err != nil {
			return nil, err
		}
	}
	tags, err := s.repo.Tags(ctx)
	if err != nil {
		return nil, err
	}
	return &Listing{
		Page: Page{
			Items:    items,
			Number:   page,
			NumPages: numPages,
			Total:    total,
			HasNext:  page < numPages,
			HasPrev:  page > 1,
		},
		Tag:         tagSlug,
		AllArticles: all,
		AllTags:     tags,
	}, nil
}

// Visible returns the articles viewer may read: published ones and their
// own drafts.
func (s *Service) Visible(ctx context.Context, viewer *auth.Principal) ([]Article, error) {
	return s.repo.ListVisible(ctx, viewerID(viewer))
}

// Get returns an article the viewer may read with its comments.
func (s *Service) Get(ctx context.Context, viewer *auth.Principal, id int64) (*Article, []Comment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !a.VisibleTo(viewerID(viewer)) {
		return nil, nil, ErrNotFound
	}
	comments, err := s.repo.Comments(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return a, comments, nil
}

// Related returns up to RelatedLimit published articles sharing tags with
// articleID, cached per article.
func (s *Service) Related(ctx context.Context, articleID int64) ([]Article, error) {
	related, err := cache.GetOrLoad(ctx, s.cache, kvstore.RelatedArticlesKey(articleID), cache.DefaultTTL,
		func(ctx context.Context) ([]Article, error) {
			return s.repo.Related(ctx, articleID, RelatedLimit)
		})
	if err != nil {
		return nil, err
	}
	out := related[:0:0]
	for _, a := range related {
		if a.ID != articleID && a.Published() && len(out) < RelatedLimit {
			out = append(out, a)
		}
	}
	return out, nil
}

// Detail builds the article page and counts the view.
func (s *Service) Detail(ctx context.Context, viewer *auth.Principal, sess *session.Session, id int64) (*ArticleDetail, error) {
	a, comments, err := s.Get(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	related, err := s.Related(ctx, id)
	if err != nil {
		return nil, err
	}
	views, err := s.views.Count(ctx, viewer, sess, id)
	if err != nil {
		return nil, err
	}
	return &ArticleDetail{
		Article:  a,
		BodyHTML: markdown.Render(a.Body),
		Comments: comments,
		Related:  related,
		Views:    views,
	}, nil
}

// Comment adds a comment by viewer to a published article.
func (s *Service) Comment(ctx context.Context, viewer *auth.Principal, articleID int64, body string) (*Comment, error) {
	a, err := s.repo.Get(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if !a.Published() {
		return nil, ErrNotFound
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fieldError("body", "This field is required.")
	}
	c := &Comment{ArticleID: a.ID, AuthorID: viewer.UserID, Author: viewer.Username, Body: body}
	if err := s.repo.CreateComment(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Search returns published articles with titles similar to query. An empty
// query returns no results without touching the database.
func (s *Service) Search(ctx context.Context, query string) ([]Article, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Article{}, nil
	}
	return cache.GetOrLoad(ctx, s.cache, searchCachePrefix+query, cache.DefaultTTL,
		func(ctx context.Context) ([]Article, error) {
			return s.repo.Search(ctx, query, SearchThreshold)
		})
}

func fieldError(field, msg string) error {
	return &api.ValidationError{Fields: map[string]string{field: msg}}
}

func validateArticle(form *ArticleForm) error {
	form.Title = strings.TrimSpace(form.Title)
	if form.Status == "" {
		form.Status = StatusDraft
	}
	fields := map[string]string{}
	switch {
	case form.Title == "":
		fields["title"] = "This field is required."
	case utf8.RuneCountInString(form.Title) > maxTitleLen:
		fields["title"] = fmt.Sprintf("Ensure this value has at most %d characters.", maxTitleLen)
	case slug.Make(form.Title) == "":
		fields["title"] = "The title must contain letters or digits."
	}
	if strings.TrimSpace(form.Body) == "" {
		fields["body"] = "This field is required."
	}
	if !form.Status.Valid() {
		fields["status"] = fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", form.Status)
	}
	if len(fields) > 0 {
		return &api.ValidationError{Fields: fields}
	}
	return nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Create publishes a new article by viewer. At least one tag is required
// and every tag id must exist.
func (s *Service) Create(ctx context.Context, viewer *auth.Principal, form ArticleForm) (*Article, error) {
	if err := validateArticle(&form); err != nil {
		return nil, err
	}
	ids := dedupe(form.Tags)
	if len(ids) == 0 {
		return nil, ErrTagsRequired
	}
	tags, err := s.repo.TagsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(tags) != len(ids) {
		known := make(map[int64]bool, len(tags))
		for _, t := range tags {
			known[t.ID] = true
		}
		for _, id := range ids {
			if !known[id] {
				return nil, fieldError("tags", fmt.Sprintf("Select a valid choice. %d is not one of the available choices.", id))
			}
		}
	}
	a, err := s.create(ctx, viewer, form, ids)
	if err != nil {
		return nil, err
	}
	a.Tags = tags
	return a, nil
}

// CreateUntagged creates an article without tags.
func (s *Service) CreateUntagged(ctx context.Context, viewer *auth.Principal, form ArticleForm) (*Article, error) {
	if err := validateArticle(&form); err != nil {
		return nil, err
	}
	return s.create(ctx, viewer, form, nil)
}

func (s *Service) create(ctx context.Context, viewer *auth.Principal, form ArticleForm, tagIDs []int64) (*Article, error) {
	a := &Article{
		Title:    form.Title,
		Slug:     slug.Make(form.Title),
		Body:     form.Body,
		Publish:  s.now().UTC(),
		AuthorID: viewer.UserID,
		Author:   viewer.Username,
		Status:   form.Status,
		Tags:     []Tag{},
	}
	if err := s.repo.Create(ctx, a, tagIDs); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "article created", "article_id", a.ID, "status", a.Status)
	return a, nil
}

// ownArticle loads an article and checks viewer wrote it.
func (s *Service) ownArticle(ctx context.Context, viewer *auth.Principal, id int64) (*Article, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.AuthorID != viewerID(viewer) {
		return nil, ErrForbidden
	}
	return a, nil
}

// Edit updates an article of viewer. The given tags are added to the
// article's tags; unknown tag ids are skipped.
func (s *Service) Edit(ctx context.Context, viewer *auth.Principal, id int64, form ArticleForm) (*Article, error) {
	a, err := s.ownArticle(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	if err := validateArticle(&form); err != nil {
		return nil, err
	}
	ids := dedupe(form.Tags)
	if len(ids) == 0 {
		return nil, ErrTagsRequired
	}
	tags, err := s.repo.TagsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	known := make([]int64, len(tags))
	for i, t := range tags {
		known[i] = t.ID
	}
	a.Title, a.Body, a.Status = form.Title, form.Body, form.Status
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	if err := s.repo.AddTags(ctx, a.ID, known); err != nil {
		return nil, err
	}
	if err := s.cache.Delete(ctx, kvstore.RelatedArticlesKey(a.ID)); err != nil {
		s.logger.WarnContext(ctx, "related cache not invalidated", "article_id", a.ID, "error", err)
	}
	return s.repo.Get(ctx, a.ID)
}

// Delete removes an article of viewer.
func (s *Service) Delete(ctx context.Context, viewer *auth.Principal, id int64) error {
	if _, err := s.ownArticle(ctx, viewer, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, kvstore.RelatedArticlesKey(id)); err != nil {
		s.logger.WarnContext(ctx, "related cache not invalidated", "article_id", id, "error", err)
	}
	s.logger.InfoContext(ctx, "article deleted", "article_id", id)
	return nil
}

func (s *Service) ownComment(ctx context.Context, viewer *auth.Principal, id int64) (*Comment, error) {
	c, err := s.repo.GetComment(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.AuthorID != viewerID(viewer) {
		return nil, ErrForbidden
	}
	return c, nil
}

// EditComment changes the body of a comment by viewer.
func (s *Service) EditComment(ctx context.Context, viewer *auth.Principal, id int64, body string) (*Comment, error) {
	c, err := s.ownComment(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fieldError("body", "This field is required.")
	}
	c.Body = body
	if err := s.repo.UpdateComment(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteComment removes a comment by viewer and returns the article it
// belonged to.
func (s *Service) DeleteComment(ctx context.Context, viewer *auth.Principal, id int64) (*Article, error) {
	c, err := s.ownComment(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	a, err := s.repo.Get(ctx, c.ArticleID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteComment(ctx, id); err != nil {
		return nil, err
	}
	return a, nil
}

// Tags returns every tag.
func (s *Service) Tags(ctx context.Context) ([]Tag, error) {
	return s.repo.Tags(ctx)
}

// CreateTag adds a tag named name.
func (s *Service) CreateTag(ctx context.Context, name string) (*Tag, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return nil, fieldError("name", "This field is required.")
	case utf8.RuneCountInString(name) > maxTagNameLen:
		return nil, fieldError("name", fmt.Sprintf("Ensure this value has at most %d characters.", maxTagNameLen))
	}
	t := &Tag{Name: name, Slug: slug.Make(name)}
	if t.Slug == "" {
		return nil, fieldError("name", "The name must contain letters or digits.")
	}
	if err := s.repo.CreateTag(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}
