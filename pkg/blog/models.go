// Package blog implements articles, tags and comments: listing, detail
// pages with view counting and related articles, search, authoring, and
// the RSS feed and sitemap built from them.
package blog

import (
	"errors"
	"time"
)

// Status is the publication state of an article.
type Status string

const (
	StatusDraft     Status = "DF"
	StatusPublished Status = "PB"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusPublished
}

// Tag labels articles.
type Tag struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Slug string `db:"slug" json:"slug"`
}

// Article is a post with its author's username and tags.
type Article struct {
	ID       int64     `db:"id" json:"id"`
	Title    string    `db:"title" json:"title"`
	Slug     string    `db:"slug" json:"slug"`
	Body     string    `db:"body" json:"body"`
	Created  time.Time `db:"created" json:"created"`
	Updated  time.Time `db:"updated" json:"updated"`
	Publish  time.Time `db:"publish" json:"publish"`
	AuthorID int64     `db:"author_id" json:"author_id"`
	Author   string    `db:"author" json:"author"`
	Status   Status    `db:"status" json:"status"`
	Tags     []Tag     `db:"-" json:"tags"`
}

// Published reports whether the article is publicly visible.
func (a *Article) Published() bool { return a.Status == StatusPublished }

// VisibleTo reports whether viewerID may read the article. Drafts are
// visible only to their author.
func (a *Article) VisibleTo(viewerID int64) bool {
	return a.Published() || (viewerID != 0 && a.AuthorID == viewerID)
}

// Comment is a reader response to an article.
type Comment struct {
	ID        int64     `db:"id" json:"id"`
	ArticleID int64     `db:"article_id" json:"article_id"`
	AuthorID  int64     `db:"author_id" json:"author_id"`
	Author    string    `db:"author" json:"author"`
	Body      string    `db:"body" json:"body"`
	Created   time.Time `db:"created" json:"created"`
	Updated   time.Time `db:"updated" json:"updated"`
}

// ArticleDetail is everything the article page shows.
type ArticleDetail struct {
	Article  *Article  `json:"article"`
	BodyHTML string    `json:"body_html"`
	Comments []Comment `json:"comments"`
	Related  []Article `json:"related"`
	Views    int64     `json:"views"`
}

// Page is one page of a paginated article list.
type Page struct {
	Items    []Article `json:"items"`
	Number   int       `json:"number"`
	NumPages int       `json:"num_pages"`
	Total    int       `json:"total"`
	HasNext  bool      `json:"has_next"`
	HasPrev  bool      `json:"has_previous"`
}

// Listing is the article list page.
type Listing struct {
	Page        Page   `json:"page"`
	Tag         string `json:"tag,omitempty"`
	AllArticles int    `json:"all_articles"`
	AllTags     []Tag  `json:"all_tags"`
}

// ArticleForm is the create and edit request.
type ArticleForm struct {
	Title  string  `json:"title"`
	Body   string  `json:"body"`
	Status Status  `json:"status"`
	Tags   []int64 `json:"tags"`
}

var (
	ErrNotFound     = errors.New("blog: not found")
	ErrForbidden    = errors.New("blog: not the author")
	ErrTagsRequired = errors.New("blog: at least one tag is required")
	ErrTagExists    = errors.New("blog: tag already exists")
)
