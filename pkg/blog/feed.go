package blog

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/inkwell-labs/forum/pkg/account"
	"github.com/inkwell-labs/forum/pkg/markdown"
)

// ArticleURL is the absolute address of an article page.
func ArticleURL(baseURL string, a *Article) string {
	return fmt.Sprintf("%s/blog/article-detail/%s/%d/", strings.TrimRight(baseURL, "/"), a.Slug, a.ID)
}

// ProfileURL is the absolute address of a user page.
func ProfileURL(baseURL string, userID int64) string {
	return fmt.Sprintf("%s/account/profile/%d/", strings.TrimRight(baseURL, "/"), userID)
}

// FeedMeta describes the channel of the RSS feed.
type FeedMeta struct {
	Title       string
	Description string
	BaseURL     string
	Language    string
}

type rss struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	Language      string    `xml:"language,omitempty"`
	LastBuildDate string    `xml:"lastBuildDate,omitempty"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string  `xml:"title"`
	Link        string  `xml:"link"`
	Description string  `xml:"description"`
	PubDate     string  `xml:"pubDate"`
	GUID        rssGUID `xml:"guid"`
}

type rssGUID struct {
	Value       string `xml:",chardata"`
	IsPermaLink bool   `xml:"isPermaLink,attr"`
}

// Feed renders the latest published articles as RSS 2.0.
func (s *Service) Feed(ctx context.Context, meta FeedMeta) ([]byte, error) {
	latest, err := s.repo.LatestPublished(ctx, FeedSize)
	if err != nil {
		return nil, err
	}
	ch := rssChannel{
		Title:       meta.Title,
		Link:        strings.TrimRight(meta.BaseURL, "/") + "/blog/",
		Description: meta.Description,
		Language:    meta.Language,
		Items:       make([]rssItem, 0, len(latest)),
	}
	if len(latest) > 0 {
		ch.LastBuildDate = latest[0].Publish.UTC().Format(time.RFC1123Z)
	}
	for i := range latest {
		a := &latest[i]
		link := ArticleURL(meta.BaseURL, a)
		ch.Items = append(ch.Items, rssItem{
			Title:       a.Title,
			Link:        link,
			Description: markdown.TruncateWords(markdown.Render(a.Body), FeedWords),
			PubDate:     a.Publish.UTC().Format(time.RFC1123Z),
			GUID:        rssGUID{Value: link, IsPermaLink: true},
		})
	}
	out, err := xml.MarshalIndent(rss{Version: "2.0", Channel: ch}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode feed: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// UserSource lists the users to include in the sitemap.
type UserSource interface {
	SitemapUsers(ctx context.Context) ([]account.SitemapEntry, error)
}

type urlset struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

// ViewPriority maps an article's view count to its sitemap priority. An
// article without a counter gets 0.5; fewer than 100 views get none.
func ViewPriority(views int64, recorded bool) string {
	switch {
	case !recorded:
		return "0.5"
	case views >= 300:
		return "0.8"
	case views >= 100:
		return "0.7"
	default:
		return ""
	}
}

const sitemapDate = "2006-01-02"

// Sitemap renders published articles and user pages as a sitemaps.org
// urlset. users may be nil.
func (s *Service) Sitemap(ctx context.Context, baseURL string, users UserSource) ([]byte, error) {
	all, err := s.repo.AllPublished(ctx)
	if err != nil {
		return nil, err
	}
	set := urlset{Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9"}
	for i := range all {
		a := &all[i]
		views, recorded, err := s.views.Recorded(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		set.URLs = append(set.URLs, sitemapURL{
			Loc:        ArticleURL(baseURL, a),
			LastMod:    a.Updated.UTC().Format(sitemapDate),
			ChangeFreq: "never",
			Priority:   ViewPriority(views, recorded),
		})
	}
	if users != nil {
		entries, err := users.SitemapUsers(ctx)
		if err != nil {
			return nil, err
		}
		for _, u := range entries {
			set.URLs = append(set.URLs, sitemapURL{
				Loc:      ProfileURL(baseURL, u.ID),
				LastMod:  u.UserUpdated.UTC().Format(sitemapDate),
				Priority: "0.4",
			})
		}
	}
	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode sitemap: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
