package kvstore

import (
	"fmt"
	"time"
)

// TTLs of the application keyspace.
const (
	ConfirmationCodeTTL = 180 * time.Second
	RedirectTokenTTL    = 20 * time.Second
	AuthTokenTTL        = 360000 * time.Second
	PasswordResetTTL    = time.Hour
)

// RegistrationCodeKey holds the code mailed to a pending registration.
func RegistrationCodeKey(username string) string {
	return fmt.Sprintf("user:%s:confirmation_code", username)
}

// OldEmailCodeKey holds the code mailed to a user's current address.
func OldEmailCodeKey(userID int64) string {
	return fmt.Sprintf("user:%d:old_email_conf_code", userID)
}

// RedirectTokenKey holds the one-shot token that unlocks the new-email step.
func RedirectTokenKey(userID int64) string {
	return fmt.Sprintf("user:%d:redirect_token", userID)
}

// NewEmailCodeKey holds the code mailed to the requested new address.
func NewEmailCodeKey(userID int64) string {
	return fmt.Sprintf("user:%d:new_email_conf_code", userID)
}

// UserTokenKey maps a user to their API token.
func UserTokenKey(userID int64) string {
	return fmt.Sprintf("user:%d:authentication_token", userID)
}

// TokenUserKey maps an API token back to its user.
func TokenUserKey(token string) string {
	return fmt.Sprintf("auth_token:%s:user", token)
}

// ViewedArticlesKey is the set of article ids a user has already viewed.
func ViewedArticlesKey(userID int64) string {
	return fmt.Sprintf("user:%d:viewed_articles", userID)
}

// ArticleViewsKey is the view counter of an article.
func ArticleViewsKey(articleID int64) string {
	return fmt.Sprintf("article:%d:views", articleID)
}

// RelatedArticlesKey caches the related-article list of an article.
func RelatedArticlesKey(articleID int64) string {
	return fmt.Sprintf("article:%d:same_articles", articleID)
}

// PasswordResetKey maps a reset token to a user id.
func PasswordResetKey(token string) string {
	return "password_reset:" + token
}

// SessionKey holds the data of a server-side session.
func SessionKey(sid string) string {
	return "session:" + sid
}
