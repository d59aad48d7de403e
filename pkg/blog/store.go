package blog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/inkwell-labs/forum/pkg/account"
)

const dialectPostgres = "postgres"

var dialect = goqu.Dialect(dialectPostgres)

var articleColumns = []any{
	"a.id", "a.title", "a.slug", "a.body", "a.created", "a.updated", "a.publish", "a.author_id",
	goqu.I("u.username").As("author"), "a.status",
}

var commentColumns = []any{
	"c.id", "c.article_id", "c.author_id", goqu.I("u.username").As("author"), "c.body", "c.created", "c.updated",
}

// Store persists articles, tags and comments in Postgres.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func articles() *goqu.SelectDataset {
	return dialect.From(goqu.T("articles").As("a")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("a.author_id")))).
		Select(articleColumns...).
		Prepared(true)
}

func comments() *goqu.SelectDataset {
	return dialect.From(goqu.T("comments").As("c")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("c.author_id")))).
		Select(commentColumns...).
		Prepared(true)
}

func published() exp.Expression {
	return goqu.I("a.status").Eq(string(StatusPublished))
}

func newestFirst(ds *goqu.SelectDataset) *goqu.SelectDataset {
	return ds.Order(goqu.I("a.publish").Desc(), goqu.I("a.id").Desc())
}

// taggedWith restricts a query on "a" to articles carrying tagSlug.
func taggedWith(tagSlug string) exp.Expression {
	return goqu.I("a.id").In(
		dialect.From(goqu.T("article_tags").As("at")).
			Join(goqu.T("tags").As("t"), goqu.On(goqu.I("t.id").Eq(goqu.I("at.tag_id")))).
			Select("at.article_id").
			Where(goqu.I("t.slug").Eq(tagSlug)),
	)
}

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

func (s *Store) selectInto(ctx context.Context, dst any, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return s.db.SelectContext(ctx, dst, query, args...)
}

func (s *Store) getInto(ctx context.Context, dst any, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	err = s.db.GetContext(ctx, dst, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *Store) exec(ctx context.Context, ext sqlx.ExtContext, b sqlBuilder) (int64, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build statement: %w", err)
	}
	res, err := ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// listArticles runs ds and, when withTags is set, attaches each article's
// tags.
func (s *Store) listArticles(ctx context.Context, ds *goqu.SelectDataset, withTags bool) ([]Article, error) {
	var out []Article
	if err := s.selectInto(ctx, &out, ds); err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	if out == nil {
		out = []Article{}
	}
	if withTags {
		if err := s.loadTags(ctx, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) loadTags(ctx context.Context, list []Article) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, len(list))
	index := make(map[int64][]int, len(list))
	for i := range list {
		ids[i] = list[i].ID
		index[list[i].ID] = append(index[list[i].ID], i)
		list[i].Tags = []Tag{}
	}
	ds := dialect.From(goqu.T("article_tags").As("at")).
		Join(goqu.T("tags").As("t"), goqu.On(goqu.I("t.id").Eq(goqu.I("at.tag_id")))).
		Select("at.article_id", "t.id", "t.name", "t.slug").
		Where(goqu.I("at.article_id").In(ids)).
		Order(goqu.I("t.name").Asc()).
		Prepared(true)
	var rows []struct {
		ArticleID int64 `db:"article_id"`
		Tag
	}
	if err := s.selectInto(ctx, &rows, ds); err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	for _, r := range rows {
		for _, i := range index[r.ArticleID] {
			list[i].Tags = append(list[i].Tags, r.Tag)
		}
	}
	return nil
}

// ListPublished returns a page of published articles, newest first,
// optionally restricted to a tag slug.
func (s *Store) ListPublished(ctx context.Context, tagSlug string, limit, offset int) ([]Article, error) {
	ds := articles().Where(published())
	if tagSlug != "" {
		ds = ds.Where(taggedWith(tagSlug))
	}
	ds = newestFirst(ds).Limit(uint(limit)).Offset(uint(offset))
	return s.listArticles(ctx, ds, true)
}

// CountPublished counts published articles, optionally with a tag slug.
func (s *Store) CountPublished(ctx context.Context, tagSlug string) (int, error) {
	ds := dialect.From(goqu.T("articles").As("a")).
		Select(goqu.COUNT("*")).
		Where(published()).
		Prepared(true)
	if tagSlug != "" {
		ds = ds.Where(taggedWith(tagSlug))
	}
	var n int
	if err := s.getInto(ctx, &n, ds); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

// ListVisible returns published articles plus the drafts of viewerID.
func (s *Store) ListVisible(ctx context.Context, viewerID int64) ([]Article, error) {
	ds := articles().Where(goqu.Or(published(), goqu.I("a.author_id").Eq(viewerID)))
	return s.listArticles(ctx, newestFirst(ds), true)
}

// Get returns the article with id and its tags.
func (s *Store) Get(ctx context.Context, id int64) (*Article, error) {
	var a Article
	if err := s.getInto(ctx, &a, articles().Where(goqu.I("a.id").Eq(id))); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get article: %w", err)
	}
	list := []Article{a}
	if err := s.loadTags(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// Related returns published articles sharing at least one tag with
// articleID, most shared tags first.
func (s *Store) Related(ctx context.Context, articleID int64, limit int) ([]Article, error) {
	shared := dialect.From("article_tags").Select("tag_id").Where(goqu.C("article_id").Eq(articleID))
	ds := dialect.From(goqu.T("articles").As("a")).
		Join(goqu.T("article_tags").As("at"), goqu.On(goqu.I("at.article_id").Eq(goqu.I("a.id")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("a.author_id")))).
		Select(append(articleColumns, goqu.COUNT("at.tag_id").As("same_tags"))...).
		Where(
			goqu.I("at.tag_id").In(shared),
			goqu.I("a.id").Neq(articleID),
			published(),
		).
		GroupBy(goqu.I("a.id"), goqu.I("u.username")).
		Order(goqu.C("same_tags").Desc(), goqu.I("a.publish").Desc()).
		Limit(uint(limit)).
		Prepared(true)
	var rows []struct {
		Article
		SameTags int `db:"same_tags"`
	}
	if err := s.selectInto(ctx, &rows, ds); err != nil {
		return nil, fmt.Errorf("related articles: %w", err)
	}
	out := make([]Article, len(rows))
	for i, r := range rows {
		out[i] = r.Article
	}
	if err := s.loadTags(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Search returns published articles whose title trigram similarity to
// query exceeds threshold, most similar first.
func (s *Store) Search(ctx context.Context, query string, threshold float64) ([]Article, error) {
	sim := goqu.Func("similarity", goqu.I("a.title"), query)
	ds := articles().
		SelectAppend(sim.As("similarity")).
		Where(published(), sim.Gt(threshold)).
		Order(goqu.C("similarity").Desc(), goqu.I("a.publish").Desc())
	var rows []struct {
		Article
		Similarity float64 `db:"similarity"`
	}
	if err := s.selectInto(ctx, &rows, ds); err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}
	out := make([]Article, len(rows))
	for i, r := range rows {
		out[i] = r.Article
	}
	if err := s.loadTags(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func tagRows(articleID int64, tagIDs []int64) []any {
	rows := make([]any, len(tagIDs))
	for i, id := range tagIDs {
		rows[i] = goqu.Record{"article_id": articleID, "tag_id": id}
	}
	return rows
}

func (s *Store) addTags(ctx context.Context, ext sqlx.ExtContext, articleID int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	ds := dialect.Insert("article_tags").
		Rows(tagRows(articleID, tagIDs)...).
		OnConflict(goqu.DoNothing()).
		Prepared(true)
	if _, err := s.exec(ctx, ext, ds); err != nil {
		return fmt.Errorf("tag article: %w", err)
	}
	return nil
}

// Create inserts a and links it to tagIDs in one transaction.
func (s *Store) Create(ctx context.Context, a *Article, tagIDs []int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create article begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := dialect.Insert("articles").
		Rows(goqu.Record{
			"title":     a.Title,
			"slug":      a.Slug,
			"body":      a.Body,
			"publish":   a.Publish,
			"author_id": a.AuthorID,
			"status":    string(a.Status),
		}).
		Returning("id", "created", "updated").
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if err := tx.QueryRowxContext(ctx, query, args...).Scan(&a.ID, &a.Created, &a.Updated); err != nil {
		return fmt.Errorf("create article: %w", err)
	}
	if err := s.addTags(ctx, tx, a.ID, tagIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create article commit: %w", err)
	}
	return nil
}

// Update stores the title, body and status of a.
func (s *Store) Update(ctx context.Context, a *Article) error {
	query, args, err := dialect.Update("articles").
		Set(goqu.Record{
			"title":   a.Title,
			"body":    a.Body,
			"status":  string(a.Status),
			"updated": goqu.L("now()"),
		}).
		Where(goqu.C("id").Eq(a.ID)).
		Returning("updated").
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	err = s.db.QueryRowxContext(ctx, query, args...).Scan(&a.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update article: %w", err)
	}
	return nil
}

// AddTags links more tags to an article. Existing links are kept.
func (s *Store) AddTags(ctx context.Context, articleID int64, tagIDs []int64) error {
	return s.addTags(ctx, s.db, articleID, tagIDs)
}

// Delete removes an article with its comments and tag links.
func (s *Store) Delete(ctx context.Context, id int64) error {
	n, err := s.exec(ctx, s.db, dialect.Delete("articles").Where(goqu.C("id").Eq(id)).Prepared(true))
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Tags returns every tag ordered by name.
func (s *Store) Tags(ctx context.Context) ([]Tag, error) {
	out := []Tag{}
	ds := dialect.From("tags").Select("id", "name", "slug").Order(goqu.C("name").Asc()).Prepared(true)
	if err := s.selectInto(ctx, &out, ds); err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return out, nil
}

// TagsByIDs returns the tags among ids that exist.
func (s *Store) TagsByIDs(ctx context.Context, ids []int64) ([]Tag, error) {
	out := []Tag{}
	if len(ids) == 0 {
		return out, nil
	}
	ds := dialect.From("tags").Select("id", "name", "slug").Where(goqu.C("id").In(ids)).Prepared(true)
	if err := s.selectInto(ctx, &out, ds); err != nil {
		return nil, fmt.Errorf("tags by id: %w", err)
	}
	return out, nil
}

// CreateTag inserts t and fills in its id.
func (s *Store) CreateTag(ctx context.Context, t *Tag) error {
	query, args, err := dialect.Insert("tags").
		Rows(goqu.Record{"name": t.Name, "slug": t.Slug}).
		Returning("id").
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&t.ID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrTagExists
		}
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

// Comments returns the comments of an article, newest first.
func (s *Store) Comments(ctx context.Context, articleID int64) ([]Comment, error) {
	out := []Comment{}
	ds := comments().Where(goqu.I("c.article_id").Eq(articleID)).Order(goqu.I("c.created").Desc())
	if err := s.selectInto(ctx, &out, ds); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return out, nil
}

// CreateComment inserts c and fills in its id and timestamps.
func (s *Store) CreateComment(ctx context.Context, c *Comment) error {
	query, args, err := dialect.Insert("comments").
		Rows(goqu.Record{"article_id": c.ArticleID, "author_id": c.AuthorID, "body": c.Body}).
		Returning("id", "created", "updated").
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&c.ID, &c.Created, &c.Updated); err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

// GetComment returns the comment with id.
func (s *Store) GetComment(ctx context.Context, id int64) (*Comment, error) {
	var c Comment
	if err := s.getInto(ctx, &c, comments().Where(goqu.I("c.id").Eq(id))); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return &c, nil
}

// UpdateComment stores the body of c.
func (s *Store) UpdateComment(ctx context.Context, c *Comment) error {
	query, args, err := dialect.Update("comments").
		Set(goqu.Record{"body": c.Body, "updated": goqu.L("now()")}).
		Where(goqu.C("id").Eq(c.ID)).
		Returning("updated").
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	err = s.db.QueryRowxContext(ctx, query, args...).Scan(&c.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return nil
}

// DeleteComment removes the comment with id.
func (s *Store) DeleteComment(ctx context.Context, id int64) error {
	n, err := s.exec(ctx, s.db, dialect.Delete("comments").Where(goqu.C("id").Eq(id)).Prepared(true))
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CommentsByAuthor implements account.Activity.
func (s *Store) CommentsByAuthor(ctx context.Context, authorID int64) ([]account.CommentRef, error) {
	out := []account.CommentRef{}
	ds := dialect.From(goqu.T("comments").As("c")).
		Join(goqu.T("articles").As("a"), goqu.On(goqu.I("a.id").Eq(goqu.I("c.article_id")))).
		Select("c.id", "c.body", "c.created", "c.article_id",
			goqu.I("a.title").As("article_title"), goqu.I("a.slug").As("article_slug")).
		Where(goqu.I("c.author_id").Eq(authorID)).
		Order(goqu.I("c.created").Desc()).
		Prepared(true)
	if err := s.selectInto(ctx, &out, ds); err != nil {
		return nil, fmt.Errorf("comments by author: %w", err)
	}
	return out, nil
}

// ArticlesByAuthor implements account.Activity.
func (s *Store) ArticlesByAuthor(ctx context.Context, authorID int64, includeDrafts bool) ([]account.ArticleRef, error) {
	out := []account.ArticleRef{}
	ds := dialect.From(goqu.T("articles").As("a")).
		Select("a.id", "a.title", "a.slug", "a.status", "a.publish").
		Where(goqu.I("a.author_id").Eq(authorID))
	if !includeDrafts {
		ds = ds.Where(published())
	}
	ds = newestFirst(ds).Prepared(true)
	if err := s.selectInto(ctx, &out, ds); err != nil {
		return nil, fmt.Errorf("articles by author: %w", err)
	}
	return out, nil
}

// LatestPublished returns the n newest published articles.
func (s *Store) LatestPublished(ctx context.Context, n int) ([]Article, error) {
	return s.listArticles(ctx, newestFirst(articles().Where(published())).Limit(uint(n)), false)
}

// AllPublished returns every published article without tags.
func (s *Store) AllPublished(ctx context.Context) ([]Article, error) {
	return s.listArticles(ctx, newestFirst(articles().Where(published())), false)
}
