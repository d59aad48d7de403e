package account_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/inkwell-labs/forum/pkg/account"
	"github.com/inkwell-labs/forum/pkg/api"
	"github.com/inkwell-labs/forum/pkg/auth"
	"github.com/inkwell-labs/forum/pkg/kvstore"
	"github.com/inkwell-labs/forum/pkg/mail"
	"github.com/inkwell-labs/forum/pkg/media"
	"github.com/inkwell-labs/forum/pkg/session"
)

// memUsers is an in-memory Users implementation.
type memUsers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*account.User
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[int64]*account.User{}}
}

func (m *memUsers) Create(_ context.Context, u *account.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.byID {
		if other.Username == u.Username {
			return account.ErrUsernameTaken
		}
		if other.Email == u.Email {
			return account.ErrEmailTaken
		}
	}
	m.nextID++
	u.ID = m.nextID
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *memUsers) find(match func(*account.User) bool) (*account.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, account.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*account.User, error) {
	return m.find(func(u *account.User) bool { return u.ID == id })
}

func (m *memUsers) GetByUsername(_ context.Context, name string) (*account.User, error) {
	return m.find(func(u *account.User) bool { return u.Username == name })
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*account.User, error) {
	return m.find(func(u *account.User) bool { return u.Email == email })
}

func (m *memUsers) Exists(_ context.Context, username, email string, exceptID int64) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var un, em bool
	for _, u := range m.byID {
		if u.ID == exceptID {
			continue
		}
		un = un || u.Username == username
		em = em || u.Email == email
	}
	return un, em, nil
}

func (m *memUsers) update(id int64, f func(*account.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return account.ErrNotFound
	}
	f(u)
	return nil
}

func (m *memUsers) UpdateProfile(_ context.Context, u *account.User) error {
	return m.update(u.ID, func(dst *account.User) { *dst = *u })
}

func (m *memUsers) UpdateEmail(_ context.Context, id int64, email string) error {
	return m.update(id, func(u *account.User) { u.Email = email })
}

func (m *memUsers) UpdatePassword(_ context.Context, id int64, hash string) error {
	return m.update(id, func(u *account.User) { u.PasswordHash = hash })
}

func (m *memUsers) List(context.Context) ([]account.UserWithComments, error) { return nil, nil }

func (m *memUsers) ListForSitemap(context.Context) ([]account.SitemapEntry, error) { return nil, nil }

// outbox records enqueued mail.
type outbox struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (o *outbox) Enqueue(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) last(t *testing.T) mail.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.msgs)
	return o.msgs[len(o.msgs)-1]
}

type fixture struct {
	svc   *account.Service
	users *memUsers
	kv    *kvstore.MemoryStore
	mail  *outbox
}

func newFixture(t *testing.T, opts ...account.Option) *fixture {
	t.Helper()
	f := &fixture{users: newMemUsers(), kv: kvstore.NewMemoryStore(), mail: &outbox{}}
	opts = append([]account.Option{account.WithPasswordCost(bcrypt.MinCost), account.WithBaseURL("https://forum.test/")}, opts...)
	f.svc = account.NewService(f.users, f.kv, f.mail, opts...)
	return f
}

func (f *fixture) code(t *testing.T, key string) string {
	t.Helper()
	v, ok, err := f.kv.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok, "no code at %s", key)
	return v
}

func (f *fixture) seedUser(t *testing.T, username, email, password string) *auth.Principal {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &account.User{Username: username, Email: email, PasswordHash: string(hash)}
	require.NoError(t, f.users.Create(context.Background(), u))
	return &auth.Principal{UserID: u.ID, Username: username}
}

var aliceForm = account.RegistrationForm{
	Username:       "alice",
	FirstName:      "Alice",
	Email:          "alice@example.com",
	Password:       "correct-horse",
	PasswordRepeat: "correct-horse",
}

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var ve *api.ValidationError
	require.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
	return ve.Fields
}

func TestRegistration_Flow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := session.New()

	require.NoError(t, f.svc.Register(ctx, sess, aliceForm))

	raw, ok := sess.Get("registration_data")
	require.True(t, ok)
	assert.NotContains(t, raw, "correct-horse")

	code := f.code(t, kvstore.RegistrationCodeKey("alice"))
	assert.Len(t, code, 6)
	n, err := strconv.Atoi(code)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 100000)
	assert.LessOrEqual(t, n, 999999)

	msg := f.mail.last(t)
	assert.Equal(t, "alice@example.com", msg.To)
	assert.Equal(t, "Finish the registration", msg.Subject)
	assert.Contains(t, msg.Body, code)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err = f.svc.ConfirmRegistration(ctx, sess, wrong)
	assert.ErrorIs(t, err, account.ErrInvalidCode)

	u, err := f.svc.ConfirmRegistration(ctx, sess, code)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("correct-horse")))

	_, found, _ := f.kv.Get(ctx, kvstore.RegistrationCodeKey("alice"))
	assert.False(t, found, "used code must be deleted")
	_, pending := sess.Get("registration_data")
	assert.False(t, pending)

	_, err = f.svc.ConfirmRegistration(ctx, sess, code)
	assert.ErrorIs(t, err, account.ErrNoPendingRegistration)
}

func TestRegistration_ExpiredCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := session.New()
	require.NoError(t, f.svc.Register(ctx, sess, aliceForm))
	code := f.code(t, kvstore.RegistrationCodeKey("alice"))
	require.NoError(t, f.kv.Delete(ctx, kvstore.RegistrationCodeKey("alice")))

	_, err := f.svc.ConfirmRegistration(ctx, sess, code)
	assert.ErrorIs(t, err, account.ErrInvalidCode)
}

func TestRegistration_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUser(t, "bob", "bob@example.com", "secret-pass")

	tests := []struct {
		name  string
		edit  func(*account.RegistrationForm)
		field string
	}{
		{"password mismatch", func(r *account.RegistrationForm) { r.PasswordRepeat = "other-pass" }, "password_repeat"},
		{"short password", func(r *account.RegistrationForm) { r.Password, r.PasswordRepeat = "abc", "abc" }, "password"},
		{"numeric password", func(r *account.RegistrationForm) { r.Password, r.PasswordRepeat = "12345678", "12345678" }, "password"},
		{"missing email", func(r *account.RegistrationForm) { r.Email = "" }, "email"},
		{"bad email", func(r *account.RegistrationForm) { r.Email = "not-an-email" }, "email"},
		{"bad username", func(r *account.RegistrationForm) { r.Username = "with space" }, "username"},
		{"taken username", func(r *account.RegistrationForm) { r.Username = "bob" }, "username"},
		{"taken email", func(r *account.RegistrationForm) { r.Email = "bob@example.com" }, "email"},
		{"long about", func(r *account.RegistrationForm) { r.AboutSelf = strings.Repeat("x", 301) }, "about_self"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := aliceForm
			tt.edit(&form)
			err := f.svc.Register(ctx, session.New(), form)
			assert.Contains(t, fieldsOf(t, err), tt.field)
		})
	}
}

func TestLoginLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedUser(t, "alice", "alice@example.com", "correct-horse")
	sess := session.New()

	_, err := f.svc.Login(ctx, sess, "alice", "wrong-pass")
	assert.ErrorIs(t, err, account.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, sess, "nobody", "wrong-pass")
	assert.ErrorIs(t, err, account.ErrInvalidCredentials)

	u, err := f.svc.Login(ctx, sess, "alice", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, p.UserID, u.ID)
	id, ok := sess.UserID()
	require.True(t, ok)
	assert.Equal(t, p.UserID, id)

	// Logged-in sessions get their own user regardless of credentials.
	u, err = f.svc.Login(ctx, sess, "", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	require.NoError(t, f.svc.Logout(ctx, sess))
	assert.ErrorIs(t, f.svc.Logout(ctx, sess), account.ErrNotAuthenticated)
}

func TestEmailChange_Flow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedUser(t, "alice", "alice@example.com", "correct-horse")
	f.seedUser(t, "bob", "bob@example.com", "correct-horse")
	sess := session.New()

	require.NoError(t, f.svc.StartEmailChange(ctx, p))
	msg := f.mail.last(t)
	assert.Equal(t, "alice@example.com", msg.To)
	assert.Equal(t, "Edit your email", msg.Subject)
	oldCode := f.code(t, kvstore.OldEmailCodeKey(p.UserID))

	_, err := f.svc.ConfirmOldEmail(ctx, p, "12345")
	assert.Contains(t, fieldsOf(t, err), "confirmation_code")

	token, err := f.svc.ConfirmOldEmail(ctx, p, oldCode)
	require.NoError(t, err)
	assert.Len(t, token, 30)
	_, found, _ := f.kv.Get(ctx, kvstore.OldEmailCodeKey(p.UserID))
	assert.False(t, found)

	assert.ErrorIs(t, f.svc.SubmitNewEmail(ctx, sess, p, "wrong-token", "new@example.com"), account.ErrNotFound)
	err = f.svc.SubmitNewEmail(ctx, sess, p, token, "bob@example.com")
	assert.Contains(t, fieldsOf(t, err), "email")

	require.NoError(t, f.svc.SubmitNewEmail(ctx, sess, p, token, "new@example.com"))
	msg = f.mail.last(t)
	assert.Equal(t, "new@example.com", msg.To)
	assert.Equal(t, "New email confirmation", msg.Subject)
	newCode := f.code(t, kvstore.NewEmailCodeKey(p.UserID))

	u, err := f.svc.ConfirmNewEmail(ctx, sess, p, newCode)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", u.Email)
	_, pending := sess.Get("new_email")
	assert.False(t, pending)

	_, err = f.svc.ConfirmNewEmail(ctx, sess, p, newCode)
	assert.ErrorIs(t, err, account.ErrNoPendingEmail)
}

func TestRedirectTokenExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedUser(t, "alice", "alice@example.com", "correct-horse")
	require.NoError(t, f.svc.StartEmailChange(ctx, p))
	token, err := f.svc.ConfirmOldEmail(ctx, p, f.code(t, kvstore.OldEmailCodeKey(p.UserID)))
	require.NoError(t, err)
	require.NoError(t, f.kv.Delete(ctx, kvstore.RedirectTokenKey(p.UserID)))

	assert.ErrorIs(t, f.svc.SubmitNewEmail(ctx, session.New(), p, token, "new@example.com"), account.ErrNotFound)
}

func TestAPIToken_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedUser(t, "alice", "alice@example.com", "correct-horse")

	_, err := f.svc.APITokenInfo(ctx, p)
	assert.ErrorIs(t, err, account.ErrNotFound)

	first, err := f.svc.CreateAPIToken(ctx, p, "correct-horse")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(first), 50)
	assert.LessOrEqual(t, len(first), 100)

	info, err := f.svc.APITokenInfo(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, first, info)

	owner, ok, err := f.kv.Get(ctx, kvstore.TokenUserKey(first))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, strconv.FormatInt(p.UserID, 10), owner)

	// A wrong password still revokes the existing token.
	_, err = f.svc.CreateAPIToken(ctx, p, "wrong-pass")
	assert.ErrorIs(t, err, account.ErrPasswordIncorrect)
	_, ok, _ = f.kv.Get(ctx, kvstore.TokenUserKey(first))
	assert.False(t, ok)
	_, err = f.svc.APITokenInfo(ctx, p)
	assert.ErrorIs(t, err, account.ErrNotFound)

	second, err := f.svc.CreateAPIToken(ctx, p, "correct-horse")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	sess := session.New()
	u, err := f.svc.TokenLogin(ctx, sess, second)
	require.NoError(t, err)
	assert.Equal(t, p.UserID, u.ID)
	id, _ := sess.UserID()
	assert.Equal(t, p.UserID, id)

	_, err = f.svc.TokenLogin(ctx, session.New(), first)
	assert.ErrorIs(t, err, account.ErrNotFound)
	_, err = f.svc.TokenLogin(ctx, session.New(), "short")
	assert.Contains(t, fieldsOf(t, err), "token")
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedUser(t, "alice", "alice@example.com", "correct-horse")

	err := f.svc.ChangePassword(ctx, p, account.PasswordChangeForm{OldPassword: "nope", NewPassword1: "battery-staple", NewPassword2: "battery-staple"})
	assert.Contains(t, fieldsOf(t, err), "old_password")

	err = f.svc.ChangePassword(ctx, p, account.PasswordChangeForm{OldPassword: "correct-horse", NewPassword1: "battery-staple", NewPassword2: "battery"})
	assert.Contains(t, fieldsOf(t, err), "new_password2")

	err = f.svc.ChangePassword(ctx, p, account.PasswordChangeForm{OldPassword: "correct-horse", NewPassword1: "alice", NewPassword2: "alice"})
	assert.Contains(t, fieldsOf(t, err), "new_password1")

	require.NoError(t, f.svc.ChangePassword(ctx, p, account.PasswordChangeForm{OldPassword: "correct-horse", NewPassword1: "battery-staple", NewPassword2: "battery-staple"}))
	_, err = f.svc.Login(ctx, session.New(), "alice", "battery-staple")
	assert.NoError(t, err)
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUser(t, "alice", "alice@example.com", "correct-horse")

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "ghost@example.com"))
	assert.Empty(t, f.mail.msgs, "unknown addresses get no mail")

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "alice@example.com"))
	msg := f.mail.last(t)
	assert.Equal(t, "Password reset", msg.Subject)
	_, link, ok := strings.Cut(msg.Body, "https://forum.test/account/reset/")
	require.True(t, ok, msg.Body)
	token := strings.TrimSuffix(link, "/")

	assert.ErrorIs(t, f.svc.ConfirmPasswordReset(ctx, "bogus", "battery-staple", "battery-staple"), account.ErrInvalidToken)
	require.NoError(t, f.svc.ConfirmPasswordReset(ctx, token, "battery-staple", "battery-staple"))
	assert.ErrorIs(t, f.svc.ConfirmPasswordReset(ctx, token, "battery-staple", "battery-staple"), account.ErrInvalidToken)

	_, err := f.svc.Login(ctx, session.New(), "alice", "battery-staple")
	assert.NoError(t, err)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestEditProfile(t *testing.T) {
	ctx := context.Background()
	store, err := media.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	f := newFixture(t, account.WithMedia(store))
	alice := f.seedUser(t, "alice", "alice@example.com", "correct-horse")
	bob := f.seedUser(t, "bob", "bob@example.com", "correct-horse")

	form := account.ProfileForm{Username: "alice2", FirstName: "Alice", AboutSelf: "hi"}
	_, err = f.svc.EditProfile(ctx, bob, alice.UserID, form, nil)
	assert.ErrorIs(t, err, account.ErrNotFound)

	_, err = f.svc.EditProfile(ctx, alice, alice.UserID, account.ProfileForm{Username: "bob"}, nil)
	assert.Contains(t, fieldsOf(t, err), "username")

	_, err = f.svc.EditProfile(ctx, alice, alice.UserID, form, strings.NewReader("plain text"))
	assert.Contains(t, fieldsOf(t, err), "avatar")

	u, err := f.svc.EditProfile(ctx, alice, alice.UserID, form, bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)
	assert.Equal(t, "alice2", u.Username)
	assert.True(t, strings.HasPrefix(u.Avatar, "users/"), u.Avatar)
	assert.True(t, strings.HasSuffix(u.Avatar, ".png"), u.Avatar)

	rc, err := store.Open(ctx, u.Avatar)
	require.NoError(t, err)
	_ = rc.Close()
}

type fakeActivity struct{ includeDrafts bool }

func (a *fakeActivity) ArticlesByAuthor(_ context.Context, _ int64, includeDrafts bool) ([]account.ArticleRef, error) {
	a.includeDrafts = includeDrafts
	return []account.ArticleRef{{ID: 1, Title: "t", Status: "PB"}}, nil
}

func (a *fakeActivity) CommentsByAuthor(context.Context, int64) ([]account.CommentRef, error) {
	return []account.CommentRef{{ID: 2, ArticleTitle: "t"}}, nil
}

func TestProfile_DraftsOnlyForOwner(t *testing.T) {
	ctx := context.Background()
	act := &fakeActivity{}
	f := newFixture(t, account.WithActivity(act))
	alice := f.seedUser(t, "alice", "alice@example.com", "correct-horse")
	bob := f.seedUser(t, "bob", "bob@example.com", "correct-horse")

	p, err := f.svc.Profile(ctx, alice, alice.UserID)
	require.NoError(t, err)
	assert.True(t, act.includeDrafts)
	assert.Len(t, p.Articles, 1)
	assert.Len(t, p.Comments, 1)

	_, err = f.svc.Profile(ctx, bob, alice.UserID)
	require.NoError(t, err)
	assert.False(t, act.includeDrafts)

	_, err = f.svc.Profile(ctx, nil, 999)
	assert.ErrorIs(t, err, account.ErrNotFound)
}
