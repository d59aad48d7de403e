// Package i18n holds the English and Russian message catalogs and picks the
// request language.
package i18n

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys. The English text doubles as the key.
const (
	MsgArticleCreatedPublished = "Your article has been successfully created. It will be shown in the list of articles within 15 minutes"
	MsgArticleCreatedDraft     = "Your article has been created with draft status. Only you can see this"
	MsgArticleUpdatedPublished = "Your article has been updated. You will see changes within 15 minutes."
	MsgArticleUpdatedDraft     = "Your article has been updated. Only you can see this article."
	MsgArticleDeleted          = "Your article has been deleted"
	MsgTagsRequired            = "You must choose at least 1 tag"
	MsgCommentAdded            = "Your comment has been added"
	MsgCommentUpdated          = "Your comment has been updated"
	MsgCommentDeleted          = "Your comment has been deleted"
	MsgCodeInvalid             = "Confirmation code is not valid"
	MsgCodeSent                = "A confirmation code has been sent to %s"
	MsgRegistrationSubject     = "Finish the registration"
	MsgRegistrationBody        = "Your confirmation code to complete the registration: %s"
	MsgRegistrationDone        = "Registration complete. Welcome, %s!"
	MsgEmailEditSubject        = "Edit your email"
	MsgEmailEditBody           = "The confirmation code to change your email: %s"
	MsgNewEmailSubject         = "New email confirmation"
	MsgNewEmailBody            = "Here is your code to confirm your new email: %s"
	MsgEmailChanged            = "Your email has been changed"
	MsgTokenCreated            = "New authentication token has been created"
	MsgPasswordIncorrect       = "Password incorrect"
	MsgPasswordChanged         = "Your password has been changed"
	MsgPasswordResetSubject    = "Password reset"
	MsgPasswordResetBody       = "Use this link to choose a new password: %s"
	MsgPasswordResetSent       = "If an account with this email exists, we have sent instructions to reset the password"
	MsgProfileUpdated          = "Your profile has been updated"
	MsgLoggedOut               = "You have been logged out"
	MsgFeedTitle               = "Forum"
	MsgFeedDescription         = "Recent topics and publications"
)

var russian = map[string]string{
	MsgArticleCreatedPublished: "Ваша статья успешно создана. Она появится в списке статей в течение 15 минут",
	MsgArticleCreatedDraft:     "Ваша статья создана в статусе черновика. Только вы можете её видеть",
	MsgArticleUpdatedPublished: "Ваша статья обновлена. Изменения появятся в течение 15 минут.",
	MsgArticleUpdatedDraft:     "Ваша статья обновлена. Только вы можете видеть эту статью.",
	MsgArticleDeleted:          "Ваша статья удалена",
	MsgTagsRequired:            "Необходимо выбрать хотя бы 1 тег",
	MsgCommentAdded:            "Ваш комментарий добавлен",
	MsgCommentUpdated:          "Ваш комментарий обновлён",
	MsgCommentDeleted:          "Ваш комментарий удалён",
	MsgCodeInvalid:             "Код подтверждения недействителен",
	MsgCodeSent:                "Код подтверждения отправлен на %s",
	MsgRegistrationSubject:     "Завершение регистрации",
	MsgRegistrationBody:        "Ваш код подтверждения для завершения регистрации: %s",
	MsgRegistrationDone:        "Регистрация завершена. Добро пожаловать, %s!",
	MsgEmailEditSubject:        "Изменение email",
	MsgEmailEditBody:           "Код подтверждения для изменения email: %s",
	MsgNewEmailSubject:         "Подтверждение нового email",
	MsgNewEmailBody:            "Ваш код для подтверждения нового email: %s",
	MsgEmailChanged:            "Ваш email изменён",
	MsgTokenCreated:            "Новый токен аутентификации создан",
	MsgPasswordIncorrect:       "Неверный пароль",
	MsgPasswordChanged:         "Ваш пароль изменён",
	MsgPasswordResetSubject:    "Сброс пароля",
	MsgPasswordResetBody:       "Перейдите по ссылке, чтобы задать новый пароль: %s",
	MsgPasswordResetSent:       "Если аккаунт с таким email существует, мы отправили инструкции по сбросу пароля",
	MsgProfileUpdated:          "Ваш профиль обновлён",
	MsgLoggedOut:               "Вы вышли из аккаунта",
	MsgFeedTitle:               "Форум",
	MsgFeedDescription:         "Последние темы и публикации",
}

// Supported lists the languages with catalogs; the first is the fallback.
var Supported = []language.Tag{language.English, language.Russian}

var (
	cat     = buildCatalog()
	matcher = language.NewMatcher(Supported)
)

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, ru := range russian {
		_ = b.SetString(language.English, key, key)
		_ = b.SetString(language.Russian, key, ru)
	}
	return b
}

type printerKey struct{}

// Printer returns a printer for tag.
func Printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(cat))
}

// WithLanguage stores the printer for tag in ctx.
func WithLanguage(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, printerKey{}, Printer(tag))
}

// T translates key for the request language (English when unset).
func T(ctx context.Context, key string, args ...any) string {
	p, ok := ctx.Value(printerKey{}).(*message.Printer)
	if !ok {
		p = Printer(language.English)
	}
	return p.Sprintf(key, args...)
}

// prefixTag maps a leading "/en/" or "/ru/" path segment to its language.
func prefixTag(path string) (language.Tag, string, bool) {
	seg, rest, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	for _, t := range Supported {
		base, _ := t.Base()
		if seg == base.String() {
			return t, "/" + rest, true
		}
	}
	return language.Und, path, false
}

// Match picks the best supported language for an Accept-Language header.
func Match(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return Supported[0]
	}
	_, idx, _ := matcher.Match(tags...)
	return Supported[idx]
}

// Middleware selects the language from the URL prefix, falling back to
// Accept-Language, and strips the prefix before routing.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tag, path, ok := prefixTag(r.URL.Path)
		if ok {
			r2 := r.Clone(r.Context())
			r2.URL.Path = path
			r2.URL.RawPath = ""
			r = r2
		} else {
			tag = Match(r.Header.Get("Accept-Language"))
		}
		w.Header().Set("Content-Language", tag.String())
		next.ServeHTTP(w, r.WithContext(WithLanguage(r.Context(), tag)))
	})
}
