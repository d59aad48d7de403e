// Package blogtest provides an in-memory blog repository for tests.
package blogtest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-labs/forum/pkg/auth"
	"github.com/inkwell-labs/forum/pkg/blog"
)

// Repository is an in-memory blog.Repository.
type Repository struct {
	mu          sync.Mutex
	articles    map[int64]*blog.Article
	articleTags map[int64][]int64
	tags        map[int64]blog.Tag
	comments    map[int64]*blog.Comment
	nextID      int64
	now         time.Time
	searches    int
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{
		articles:    map[int64]*blog.Article{},
		articleTags: map[int64][]int64{},
		tags:        map[int64]blog.Tag{},
		comments:    map[int64]*blog.Comment{},
		now:         time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *Repository) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Repository) withTags(a blog.Article) blog.Article {
	a.Tags = []blog.Tag{}
	for _, id := range m.articleTags[a.ID] {
		a.Tags = append(a.Tags, m.tags[id])
	}
	return a
}

func (m *Repository) hasTag(articleID int64, tagSlug string) bool {
	for _, id := range m.articleTags[articleID] {
		if m.tags[id].Slug == tagSlug {
			return true
		}
	}
	return false
}

func (m *Repository) filter(keep func(*blog.Article) bool) []blog.Article {
	out := []blog.Article{}
	for _, a := range m.articles {
		if keep(a) {
			out = append(out, m.withTags(*a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Publish.Equal(out[j].Publish) {
			return out[i].Publish.After(out[j].Publish)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *Repository) published(tagSlug string) []blog.Article {
	return m.filter(func(a *blog.Article) bool {
		return a.Published() && (tagSlug == "" || m.hasTag(a.ID, tagSlug))
	})
}

func (m *Repository) ListPublished(_ context.Context, tagSlug string, limit, offset int) ([]blog.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.published(tagSlug)
	if offset >= len(all) {
		return []blog.Article{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *Repository) CountPublished(_ context.Context, tagSlug string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published(tagSlug)), nil
}

func (m *Repository) ListVisible(_ context.Context, viewerID int64) ([]blog.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(a *blog.Article) bool { return a.VisibleTo(viewerID) }), nil
}

func (m *Repository) Get(_ context.Context, id int64) (*blog.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return nil, blog.ErrNotFound
	}
	cp := m.withTags(*a)
	return &cp, nil
}

func (m *Repository) Related(_ context.Context, articleID int64, limit int) ([]blog.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	own := map[int64]bool{}
	for _, id := range m.articleTags[articleID] {
		own[id] = true
	}
	out := m.filter(func(a *blog.Article) bool {
		if a.ID == articleID || !a.Published() {
			return false
		}
		for _, id := range m.articleTags[a.ID] {
			if own[id] {
				return true
			}
		}
		return false
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Repository) Search(_ context.Context, query string, _ float64) ([]blog.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches++
	q := strings.ToLower(query)
	return m.filter(func(a *blog.Article) bool {
		return a.Published() && strings.Contains(strings.ToLower(a.Title), q)
	}), nil
}

func (m *Repository) Create(_ context.Context, a *blog.Article, tagIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.id()
	a.Created, a.Updated = m.now, m.now
	cp := *a
	m.articles[a.ID] = &cp
	m.articleTags[a.ID] = append([]int64(nil), tagIDs...)
	return nil
}

func (m *Repository) Update(_ context.Context, a *blog.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.articles[a.ID]; !ok {
		return blog.ErrNotFound
	}
	cp := *a
	m.articles[a.ID] = &cp
	return nil
}

func (m *Repository) AddTags(_ context.Context, articleID int64, tagIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range tagIDs {
		if !m.hasTag(articleID, m.tags[id].Slug) {
			m.articleTags[articleID] = append(m.articleTags[articleID], id)
		}
	}
	return nil
}

func (m *Repository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.articles[id]; !ok {
		return blog.ErrNotFound
	}
	delete(m.articles, id)
	delete(m.articleTags, id)
	for cid, c := range m.comments {
		if c.ArticleID == id {
			delete(m.comments, cid)
		}
	}
	return nil
}

func (m *Repository) Tags(context.Context) ([]blog.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []blog.Tag{}
	for _, t := range m.tags {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Repository) TagsByIDs(_ context.Context, ids []int64) ([]blog.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []blog.Tag{}
	for _, id := range ids {
		if t, ok := m.tags[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Repository) CreateTag(_ context.Context, t *blog.Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.tags {
		if other.Slug == t.Slug || other.Name == t.Name {
			return blog.ErrTagExists
		}
	}
	t.ID = m.id()
	m.tags[t.ID] = *t
	return nil
}

func (m *Repository) Comments(_ context.Context, articleID int64) ([]blog.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []blog.Comment{}
	for _, c := range m.comments {
		if c.ArticleID == articleID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *Repository) CreateComment(_ context.Context, c *blog.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	c.Created, c.Updated = m.now, m.now
	cp := *c
	m.comments[c.ID] = &cp
	return nil
}

func (m *Repository) GetComment(_ context.Context, id int64) (*blog.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[id]
	if !ok {
		return nil, blog.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Repository) UpdateComment(_ context.Context, c *blog.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.comments[c.ID] = &cp
	return nil
}

func (m *Repository) DeleteComment(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.comments, id)
	return nil
}

func (m *Repository) LatestPublished(_ context.Context, n int) ([]blog.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.published("")
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (m *Repository) AllPublished(context.Context) ([]blog.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published(""), nil
}

// Seed stores an article directly, bypassing validation. The returned
// article is the stored one.
func (m *Repository) Seed(title string, author *auth.Principal, status blog.Status, publish time.Time, tagIDs ...int64) *blog.Article {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &blog.Article{
		ID:       m.id(),
		Title:    title,
		Slug:     strings.ReplaceAll(strings.ToLower(title), " ", "-"),
		Body:     "Body of " + title,
		Publish:  publish,
		Created:  publish,
		Updated:  publish,
		AuthorID: author.UserID,
		Author:   author.Username,
		Status:   status,
	}
	m.articles[a.ID] = a
	m.articleTags[a.ID] = tagIDs
	return a
}

// SeedTag creates a tag named name.
func (m *Repository) SeedTag(t testing.TB, name string) blog.Tag {
	t.Helper()
	tag := blog.Tag{Name: name, Slug: strings.ToLower(name)}
	require.NoError(t, m.CreateTag(context.Background(), &tag))
	return tag
}

// Searches counts the Search calls that reached the repository.
func (m *Repository) Searches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searches
}

// TagIDs returns the tag ids linked to an article.
func (m *Repository) TagIDs(articleID int64) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.articleTags[articleID]...)
}

var _ blog.Repository = (*Repository)(nil)
