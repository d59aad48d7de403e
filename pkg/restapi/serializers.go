package restapi

import (
	"time"

	"github.com/inkwell-labs/forum/pkg/account"
	"github.com/inkwell-labs/forum/pkg/blog"
)

type tagOut struct {
	Name string `json:"name"`
}

type commentOut struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

// articleListItem is the shape of one entry of GET /api/.
type articleListItem struct {
	ID      int64     `json:"id"`
	Author  string    `json:"author"`
	Title   string    `json:"title"`
	Publish time.Time `json:"publish"`
	Updated time.Time `json:"updated"`
	Tags    []tagOut  `json:"tags"`
}

// articleFull is the shape of a single article.
type articleFull struct {
	ID       int64        `json:"id"`
	Author   string       `json:"author"`
	Title    string       `json:"title"`
	Slug     string       `json:"slug"`
	Body     string       `json:"body"`
	Publish  time.Time    `json:"publish"`
	Updated  time.Time    `json:"updated"`
	Status   blog.Status  `json:"status"`
	Comments []commentOut `json:"comments"`
	Tags     []tagOut     `json:"tags"`
}

type userOut struct {
	ID                int64        `json:"id"`
	Username          string       `json:"username"`
	FirstName         string       `json:"first_name"`
	LastName          string       `json:"last_name"`
	Email             string       `json:"email"`
	DateJoined        time.Time    `json:"date_joined"`
	AboutSelf         string       `json:"about_self"`
	CommentsPublished []commentOut `json:"comments_published"`
}

func tagsOut(tags []blog.Tag) []tagOut {
	out := make([]tagOut, len(tags))
	for i, t := range tags {
		out[i] = tagOut{Name: t.Name}
	}
	return out
}

func listItem(a *blog.Article) articleListItem {
	return articleListItem{
		ID:      a.ID,
		Author:  a.Author,
		Title:   a.Title,
		Publish: a.Publish,
		Updated: a.Updated,
		Tags:    tagsOut(a.Tags),
	}
}

func fullArticle(a *blog.Article, comments []blog.Comment) articleFull {
	cs := make([]commentOut, len(comments))
	for i, c := range comments {
		cs[i] = commentOut{Author: c.Author, Body: c.Body}
	}
	return articleFull{
		ID:       a.ID,
		Author:   a.Author,
		Title:    a.Title,
		Slug:     a.Slug,
		Body:     a.Body,
		Publish:  a.Publish,
		Updated:  a.Updated,
		Status:   a.Status,
		Comments: cs,
		Tags:     tagsOut(a.Tags),
	}
}

func userItem(u *account.UserWithComments) userOut {
	cs := make([]commentOut, len(u.CommentsPublished))
	for i, c := range u.CommentsPublished {
		cs[i] = commentOut{Author: c.Author, Body: c.Body}
	}
	return userOut{
		ID:                u.ID,
		Username:          u.Username,
		FirstName:         u.FirstName,
		LastName:          u.LastName,
		Email:             u.Email,
		DateJoined:        u.DateJoined,
		AboutSelf:         u.AboutSelf,
		CommentsPublished: cs,
	}
}
