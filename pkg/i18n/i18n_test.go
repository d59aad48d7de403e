package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestT(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "Password incorrect", T(ctx, MsgPasswordIncorrect))

	ru := WithLanguage(ctx, language.Russian)
	assert.Equal(t, "Неверный пароль", T(ru, MsgPasswordIncorrect))
	assert.Equal(t, "Ваш код подтверждения для завершения регистрации: 123456",
		T(ru, MsgRegistrationBody, "123456"))
	assert.Equal(t, "Your confirmation code to complete the registration: 654321",
		T(ctx, MsgRegistrationBody, "654321"))
}

func TestMatch(t *testing.T) {
	assert.Equal(t, language.Russian, Match("ru-RU,ru;q=0.9,en;q=0.8"))
	assert.Equal(t, language.English, Match("de-DE"))
	assert.Equal(t, language.English, Match(""))
}

func TestMiddleware(t *testing.T) {
	var path, msg string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		msg = T(r.Context(), MsgFeedTitle)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ru/blog/", nil))
	assert.Equal(t, "/blog/", path)
	assert.Equal(t, "Форум", msg)
	assert.Equal(t, "ru", w.Header().Get("Content-Language"))

	r := httptest.NewRequest(http.MethodGet, "/blog/", nil)
	r.Header.Set("Accept-Language", "ru")
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "/blog/", path)
	assert.Equal(t, "Форум", msg)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/research/", nil))
	assert.Equal(t, "/research/", path, "only exact language segments are stripped")
	assert.Equal(t, "Forum", msg)
}
