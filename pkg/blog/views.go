package blog

import (
	"context"
	"fmt"
	"strconv"

	"github.com/inkwell-labs/forum/pkg/auth"
	"github.com/inkwell-labs/forum/pkg/kvstore"
	"github.com/inkwell-labs/forum/pkg/observability"
	"github.com/inkwell-labs/forum/pkg/session"
)

// ViewCounter counts article views once per user, or once per session for
// anonymous readers.
type ViewCounter struct {
	kv      kvstore.Store
	metrics *observability.Metrics
}

// NewViewCounter creates a ViewCounter. metrics may be nil.
func NewViewCounter(kv kvstore.Store, metrics *observability.Metrics) *ViewCounter {
	return &ViewCounter{kv: kv, metrics: metrics}
}

func sessionViewKey(articleID int64) string {
	return fmt.Sprintf("viewed_article_%d", articleID)
}

// Count records a view of articleID by viewer (nil when anonymous) and
// returns the article's view total.
func (v *ViewCounter) Count(ctx context.Context, viewer *auth.Principal, sess *session.Session, articleID int64) (int64, error) {
	counterKey := kvstore.ArticleViewsKey(articleID)
	member := strconv.FormatInt(articleID, 10)

	if viewer != nil {
		userKey := kvstore.ViewedArticlesKey(viewer.UserID)
		seen, err := v.kv.SIsMember(ctx, userKey, member)
		if err != nil {
			return 0, fmt.Errorf("check viewed articles: %w", err)
		}
		if !seen {
			if _, err := v.kv.Incr(ctx, counterKey); err != nil {
				return 0, fmt.Errorf("count view: %w", err)
			}
			if err := v.kv.SAdd(ctx, userKey, member); err != nil {
				return 0, fmt.Errorf("mark viewed: %w", err)
			}
			v.metrics.ViewCounted()
		}
	} else if _, seen := sess.Get(sessionViewKey(articleID)); !seen {
		if _, err := v.kv.Incr(ctx, counterKey); err != nil {
			return 0, fmt.Errorf("count view: %w", err)
		}
		sess.Set(sessionViewKey(articleID), "1")
		v.metrics.ViewCounted()
	}
	return v.Views(ctx, articleID)
}

// Views returns the stored view total of articleID, 0 when absent.
func (v *ViewCounter) Views(ctx context.Context, articleID int64) (int64, error) {
	n, _, err := v.kv.GetInt(ctx, kvstore.ArticleViewsKey(articleID))
	if err != nil {
		return 0, fmt.Errorf("read views: %w", err)
	}
	return n, nil
}

// Recorded reports whether the article has a view counter at all.
func (v *ViewCounter) Recorded(ctx context.Context, articleID int64) (int64, bool, error) {
	n, ok, err := v.kv.GetInt(ctx, kvstore.ArticleViewsKey(articleID))
	if err != nil {
		return 0, false, fmt.Errorf("read views: %w", err)
	}
	return n, ok, nil
}
