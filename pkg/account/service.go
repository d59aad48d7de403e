package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/inkwell-labs/forum/pkg/auth"
	"github.com/inkwell-labs/forum/pkg/i18n"
	"github.com/inkwell-labs/forum/pkg/kvstore"
	"github.com/inkwell-labs/forum/pkg/mail"
	"github.com/inkwell-labs/forum/pkg/media"
	"github.com/inkwell-labs/forum/pkg/observability"
	"github.com/inkwell-labs/forum/pkg/session"
)

// Session keys.
const (
	registrationKey = "registration_data"
	newEmailKey     = "new_email"
)

const redirectTokenLen = 30

// Users is the persistence the service needs. UserStore implements it.
type Users interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Exists(ctx context.Context, username, email string, exceptID int64) (usernameTaken, emailTaken bool, err error)
	UpdateProfile(ctx context.Context, u *User) error
	UpdateEmail(ctx context.Context, id int64, email string) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
	List(ctx context.Context) ([]UserWithComments, error)
	ListForSitemap(ctx context.Context) ([]SitemapEntry, error)
}

// ArticleRef is an article listed on its author's profile.
type ArticleRef struct {
	ID      int64     `db:"id" json:"id"`
	Title   string    `db:"title" json:"title"`
	Slug    string    `db:"slug" json:"slug"`
	Status  string    `db:"status" json:"status"`
	Publish time.Time `db:"publish" json:"publish"`
}

// CommentRef is a comment listed on its author's profile.
type CommentRef struct {
	ID           int64     `db:"id" json:"id"`
	Body         string    `db:"body" json:"body"`
	Created      time.Time `db:"created" json:"created"`
	ArticleID    int64     `db:"article_id" json:"article_id"`
	ArticleTitle string    `db:"article_title" json:"article_title"`
	ArticleSlug  string    `db:"article_slug" json:"article_slug"`
}

// Activity supplies the content a user has written.
type Activity interface {
	ArticlesByAuthor(ctx context.Context, authorID int64, includeDrafts bool) ([]ArticleRef, error)
	CommentsByAuthor(ctx context.Context, authorID int64) ([]CommentRef, error)
}

// Profile is a user page.
type Profile struct {
	User     *User        `json:"user"`
	Articles []ArticleRef `json:"articles"`
	Comments []CommentRef `json:"comments"`
}

// RegistrationForm is the sign-up request.
type RegistrationForm struct {
	Username       string `json:"username"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	AboutSelf      string `json:"about_self"`
	Password       string `json:"password"`
	PasswordRepeat string `json:"password_repeat"`
}

// ProfileForm holds the editable profile fields.
type ProfileForm struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	AboutSelf string `json:"about_self"`
}

// PasswordChangeForm is the authenticated password change request.
type PasswordChangeForm struct {
	OldPassword  string `json:"old_password"`
	NewPassword1 string `json:"new_password1"`
	NewPassword2 string `json:"new_password2"`
}

// Service implements the account flows.
type Service struct {
	users    Users
	activity Activity
	kv       kvstore.Store
	mail     mail.Queue
	media    media.Store
	metrics  *observability.Metrics
	baseURL  string
	cost     int
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithActivity sets the source of profile articles and comments.
func WithActivity(a Activity) Option { return func(s *Service) { s.activity = a } }

// WithMedia enables avatar uploads.
func WithMedia(m media.Store) Option { return func(s *Service) { s.media = m } }

// WithMetrics records issued confirmation codes.
func WithMetrics(m *observability.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithBaseURL sets the absolute site URL used in emailed links.
func WithBaseURL(u string) Option {
	return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithPasswordCost overrides the bcrypt cost.
func WithPasswordCost(cost int) Option { return func(s *Service) { s.cost = cost } }

// NewService creates a Service.
func NewService(users Users, kv kvstore.Store, queue mail.Queue, opts ...Option) *Service {
	s := &Service{
		users:  users,
		kv:     kv,
		mail:   queue,
		cost:   bcrypt.DefaultCost,
		logger: slog.Default().With("component", "account"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func checkHash(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// sendCode stores a fresh code at key and mails it to the recipient.
func (s *Service) sendCode(ctx context.Context, flow, key, to, subject, body string) error {
	code, err := newCode()
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, key, code, kvstore.ConfirmationCodeTTL); err != nil {
		return fmt.Errorf("store %s code: %w", flow, err)
	}
	msg := mail.Message{To: to, Subject: i18n.T(ctx, subject), Body: i18n.T(ctx, body, code)}
	if err := s.mail.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s mail: %w", flow, err)
	}
	s.metrics.CodeIssued(flow)
	s.logger.InfoContext(ctx, "confirmation code issued", "flow", flow)
	return nil
}

// checkStoredCode compares code with the value at key.
func (s *Service) checkStoredCode(ctx context.Context, key, code string) error {
	if err := checkCode(code); err != nil {
		return err
	}
	expected, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load code: %w", err)
	}
	if !ok || !equalSecret(expected, code) {
		return ErrInvalidCode
	}
	return nil
}

// Register validates the form, parks it in the session and mails the
// registration code.
func (s *Service) Register(ctx context.Context, sess *session.Session, form RegistrationForm) error {
	form.Username = strings.TrimSpace(form.Username)
	form.Email = strings.TrimSpace(form.Email)

	errs := fieldErrors{}
	checkUsername(errs, form.Username)
	checkEmail(errs, form.Email)
	checkNames(errs, form.FirstName, form.LastName, form.AboutSelf)
	checkPassword(errs, "password", form.Password, form.Username)
	if form.Password != form.PasswordRepeat {
		errs.add("password_repeat", "Password mismatch")
	}
	if err := errs.err(); err != nil {
		return err
	}
	usernameTaken, emailTaken, err := s.users.Exists(ctx, form.Username, form.Email, 0)
	if err != nil {
		return err
	}
	if usernameTaken {
		errs.add("username", "A user with that username already exists.")
	}
	if emailTaken {
		errs.add("email", "User with this email address already exists.")
	}
	if err := errs.err(); err != nil {
		return err
	}

	hash, err := s.hash(form.Password)
	if err != nil {
		return err
	}
	data, err := json.Marshal(RegistrationData{
		Username:     form.Username,
		FirstName:    form.FirstName,
		LastName:     form.LastName,
		Email:        form.Email,
		AboutSelf:    form.AboutSelf,
		PasswordHash: hash,
	})
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}
	sess.Set(registrationKey, string(data))
	return s.sendCode(ctx, "registration", kvstore.RegistrationCodeKey(form.Username),
		form.Email, i18n.MsgRegistrationSubject, i18n.MsgRegistrationBody)
}

// ConfirmRegistration creates the pending account once the emailed code
// matches.
func (s *Service) ConfirmRegistration(ctx context.Context, sess *session.Session, code string) (*User, error) {
	raw, ok := sess.Get(registrationKey)
	if !ok {
		return nil, ErrNoPendingRegistration
	}
	var data RegistrationData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		sess.Delete(registrationKey)
		return nil, ErrNoPendingRegistration
	}
	key := kvstore.RegistrationCodeKey(data.Username)
	if err := s.checkStoredCode(ctx, key, code); err != nil {
		return nil, err
	}
	u := data.User()
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	if err := s.kv.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "registration code not removed", "error", err)
	}
	sess.Delete(registrationKey)
	s.logger.InfoContext(ctx, "user registered", "user_id", u.ID)
	return u, nil
}

// Login authenticates the session. A session that is already logged in
// gets its own user back.
func (s *Service) Login(ctx context.Context, sess *session.Session, username, password string) (*User, error) {
	if id, ok := sess.UserID(); ok {
		u, err := s.users.GetByID(ctx, id)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !checkHash(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	sess.Login(u.ID)
	return u, nil
}

// Logout ends the session login.
func (s *Service) Logout(_ context.Context, sess *session.Session) error {
	if _, ok := sess.UserID(); !ok {
		return ErrNotAuthenticated
	}
	sess.Logout()
	return nil
}

// Profile returns user id with their articles and comments. Drafts are
// included only when the viewer owns the profile.
func (s *Service) Profile(ctx context.Context, viewer *auth.Principal, id int64) (*Profile, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p := &Profile{User: u, Articles: []ArticleRef{}, Comments: []CommentRef{}}
	if s.activity == nil {
		return p, nil
	}
	own := viewer != nil && viewer.UserID == id
	if p.Articles, err = s.activity.ArticlesByAuthor(ctx, id, own); err != nil {
		return nil, err
	}
	if p.Comments, err = s.activity.CommentsByAuthor(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

// EditProfile updates the profile of id. Anyone but the owner gets
// ErrNotFound. avatar may be nil.
func (s *Service) EditProfile(ctx context.Context, viewer *auth.Principal, id int64, form ProfileForm, avatar io.Reader) (*User, error) {
	if viewer == nil || viewer.UserID != id {
		return nil, ErrNotFound
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	form.Username = strings.TrimSpace(form.Username)
	errs := fieldErrors{}
	checkUsername(errs, form.Username)
	checkNames(errs, form.FirstName, form.LastName, form.AboutSelf)
	if err := errs.err(); err != nil {
		return nil, err
	}
	if form.Username != u.Username {
		taken, _, err := s.users.Exists(ctx, form.Username, "", id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fieldError("username", "A user with that username already exists.")
		}
	}

	oldAvatar := ""
	if avatar != nil {
		if s.media == nil {
			return nil, fieldError("avatar", "Avatar uploads are not available.")
		}
		path, err := media.SaveAvatar(ctx, s.media, avatar)
		switch {
		case errors.Is(err, media.ErrTooLarge):
			return nil, fieldError("avatar", fmt.Sprintf("The file must be smaller than %d MiB.", media.MaxUploadSize>>20))
		case errors.Is(err, media.ErrUnsupportedType):
			return nil, fieldError("avatar", "Upload a valid image.")
		case err != nil:
			return nil, err
		}
		oldAvatar, u.Avatar = u.Avatar, path
	}
	u.Username = form.Username
	u.FirstName = form.FirstName
	u.LastName = form.LastName
	u.AboutSelf = form.AboutSelf
	if err := s.users.UpdateProfile(ctx, u); err != nil {
		return nil, err
	}
	if oldAvatar != "" {
		if err := s.media.Delete(ctx, oldAvatar); err != nil && !errors.Is(err, media.ErrNotFound) {
			s.logger.WarnContext(ctx, "old avatar not removed", "path", oldAvatar, "error", err)
		}
	}
	return u, nil
}

// StartEmailChange mails a confirmation code to the current address.
func (s *Service) StartEmailChange(ctx context.Context, viewer *auth.Principal) error {
	u, err := s.users.GetByID(ctx, viewer.UserID)
	if err != nil {
		return err
	}
	return s.sendCode(ctx, "old_email", kvstore.OldEmailCodeKey(u.ID),
		u.Email, i18n.MsgEmailEditSubject, i18n.MsgEmailEditBody)
}

// ConfirmOldEmail checks the code sent to the current address and returns
// the short-lived token that unlocks entering a new one.
func (s *Service) ConfirmOldEmail(ctx context.Context, viewer *auth.Principal, code string) (string, error) {
	key := kvstore.OldEmailCodeKey(viewer.UserID)
	if err := s.checkStoredCode(ctx, key, code); err != nil {
		return "", err
	}
	token, err := randomString(redirectTokenLen)
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, kvstore.RedirectTokenKey(viewer.UserID), token, kvstore.RedirectTokenTTL); err != nil {
		return "", fmt.Errorf("store redirect token: %w", err)
	}
	if err := s.kv.Delete(ctx, key); err != nil {
		return "", fmt.Errorf("delete old email code: %w", err)
	}
	return token, nil
}

// SubmitNewEmail accepts the new address when redirectToken is current and
// mails a code to it.
func (s *Service) SubmitNewEmail(ctx context.Context, sess *session.Session, viewer *auth.Principal, redirectToken, email string) error {
	expected, ok, err := s.kv.Get(ctx, kvstore.RedirectTokenKey(viewer.UserID))
	if err != nil {
		return fmt.Errorf("load redirect token: %w", err)
	}
	if !ok || !equalSecret(expected, redirectToken) {
		return ErrNotFound
	}
	email = strings.TrimSpace(email)
	errs := fieldErrors{}
	checkEmail(errs, email)
	if err := errs.err(); err != nil {
		return err
	}
	_, taken, err := s.users.Exists(ctx, "", email, viewer.UserID)
	if err != nil {
		return err
	}
	if taken {
		return fieldError("email", "User with this email address already exists.")
	}
	sess.Set(newEmailKey, email)
	return s.sendCode(ctx, "new_email", kvstore.NewEmailCodeKey(viewer.UserID),
		email, i18n.MsgNewEmailSubject, i18n.MsgNewEmailBody)
}

// ConfirmNewEmail stores the pending address once its code matches.
func (s *Service) ConfirmNewEmail(ctx context.Context, sess *session.Session, viewer *auth.Principal, code string) (*User, error) {
	email, ok := sess.Get(newEmailKey)
	if !ok || email == "" {
		return nil, ErrNoPendingEmail
	}
	key := kvstore.NewEmailCodeKey(viewer.UserID)
	if err := s.checkStoredCode(ctx, key, code); err != nil {
		return nil, err
	}
	if err := s.users.UpdateEmail(ctx, viewer.UserID, email); err != nil {
		return nil, err
	}
	sess.Pop(newEmailKey)
	if err := s.kv.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "new email code not removed", "error", err)
	}
	return s.users.GetByID(ctx, viewer.UserID)
}

// CreateAPIToken revokes the current API token, then issues a new one if
// password is correct.
func (s *Service) CreateAPIToken(ctx context.Context, viewer *auth.Principal, password string) (string, error) {
	userKey := kvstore.UserTokenKey(viewer.UserID)
	old, ok, err := s.kv.Get(ctx, userKey)
	if err != nil {
		return "", fmt.Errorf("load api token: %w", err)
	}
	if ok {
		if err := s.kv.Delete(ctx, userKey, kvstore.TokenUserKey(old)); err != nil {
			return "", fmt.Errorf("revoke api token: %w", err)
		}
	}

	u, err := s.users.GetByID(ctx, viewer.UserID)
	if err != nil {
		return "", err
	}
	if !checkHash(u.PasswordHash, password) {
		return "", ErrPasswordIncorrect
	}
	token, err := apiToken()
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, userKey, token, kvstore.AuthTokenTTL); err != nil {
		return "", fmt.Errorf("store api token: %w", err)
	}
	if err := s.kv.Set(ctx, kvstore.TokenUserKey(token), strconv.FormatInt(u.ID, 10), kvstore.AuthTokenTTL); err != nil {
		return "", fmt.Errorf("store api token owner: %w", err)
	}
	s.logger.InfoContext(ctx, "api token created", "user_id", u.ID)
	return token, nil
}

// APITokenInfo returns the current API token of the viewer.
func (s *Service) APITokenInfo(ctx context.Context, viewer *auth.Principal) (string, error) {
	token, ok, err := s.kv.Get(ctx, kvstore.UserTokenKey(viewer.UserID))
	if err != nil {
		return "", fmt.Errorf("load api token: %w", err)
	}
	if !ok {
		return "", ErrNotFound
	}
	return token, nil
}

// TokenLogin logs the session in as the owner of an API token.
func (s *Service) TokenLogin(ctx context.Context, sess *session.Session, token string) (*User, error) {
	if n := len(token); n < minAPITokenLen || n > maxAPITokenLen {
		return nil, fieldError("token", fmt.Sprintf("Ensure this value has between %d and %d characters.", minAPITokenLen, maxAPITokenLen))
	}
	raw, ok, err := s.kv.Get(ctx, kvstore.TokenUserKey(token))
	if err != nil {
		return nil, fmt.Errorf("resolve api token: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, ErrNotFound
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Login(u.ID)
	return u, nil
}

// ChangePassword replaces the viewer's password after checking the old one.
func (s *Service) ChangePassword(ctx context.Context, viewer *auth.Principal, form PasswordChangeForm) error {
	u, err := s.users.GetByID(ctx, viewer.UserID)
	if err != nil {
		return err
	}
	if !checkHash(u.PasswordHash, form.OldPassword) {
		return fieldError("old_password", "Your old password was entered incorrectly. Please enter it again.")
	}
	if err := s.setPassword(ctx, u, form.NewPassword1, form.NewPassword2); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "password changed", "user_id", u.ID)
	return nil
}

func (s *Service) setPassword(ctx context.Context, u *User, password, repeat string) error {
	errs := fieldErrors{}
	if password != repeat {
		errs.add("new_password2", "The two password fields didn't match.")
	}
	checkPassword(errs, "new_password1", password, u.Username)
	if err := errs.err(); err != nil {
		return err
	}
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, u.ID, hash)
}

// RequestPasswordReset mails a reset link when email belongs to a user. It
// reports success either way.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	token, err := urlSafeToken(32)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, kvstore.PasswordResetKey(token), strconv.FormatInt(u.ID, 10), kvstore.PasswordResetTTL); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	link := fmt.Sprintf("%s/account/reset/%s/", s.baseURL, token)
	msg := mail.Message{
		To:      u.Email,
		Subject: i18n.T(ctx, i18n.MsgPasswordResetSubject),
		Body:    i18n.T(ctx, i18n.MsgPasswordResetBody, link),
	}
	if err := s.mail.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue reset mail: %w", err)
	}
	s.metrics.CodeIssued("password_reset")
	return nil
}

// ConfirmPasswordReset sets a new password for the owner of token.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, password, repeat string) error {
	key := kvstore.PasswordResetKey(token)
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load reset token: %w", err)
	}
	if !ok {
		return ErrInvalidToken
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ErrInvalidToken
	}
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return err
	}
	if err := s.setPassword(ctx, u, password, repeat); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "reset token not removed", "error", err)
	}
	return nil
}

// Users lists every user with their published comments.
func (s *Service) Users(ctx context.Context) ([]UserWithComments, error) {
	return s.users.List(ctx)
}

// SitemapUsers lists every user for the sitemap.
func (s *Service) SitemapUsers(ctx context.Context) ([]SitemapEntry, error) {
	return s.users.ListForSitemap(ctx)
}
