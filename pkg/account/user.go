// Package account owns users: registration with emailed confirmation
// codes, session and API-token login, profiles, email and password changes.
package account

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/inkwell-labs/forum/pkg/api"
)

// User is a registered account.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	Email        string    `db:"email" json:"email"`
	AboutSelf    string    `db:"about_self" json:"about_self"`
	Avatar       string    `db:"avatar" json:"avatar"`
	PasswordHash string    `db:"password" json:"-"`
	DateJoined   time.Time `db:"date_joined" json:"date_joined"`
	UserUpdated  time.Time `db:"user_updated" json:"user_updated"`
}

// RegistrationData is the pending sign-up kept in the session until the
// emailed code is confirmed. It carries the bcrypt hash, never the password.
type RegistrationData struct {
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	AboutSelf    string `json:"about_self"`
	PasswordHash string `json:"password_hash"`
}

// User builds the account row the registration will create.
func (d RegistrationData) User() *User {
	return &User{
		Username:     d.Username,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		Email:        d.Email,
		AboutSelf:    d.AboutSelf,
		PasswordHash: d.PasswordHash,
	}
}

// CommentBrief is a comment as listed under its author.
type CommentBrief struct {
	Author string `db:"author" json:"author"`
	Body   string `db:"body" json:"body"`
}

// UserWithComments is a user together with the comments they published.
type UserWithComments struct {
	User
	CommentsPublished []CommentBrief `json:"comments_published"`
}

// SitemapEntry is the data the sitemap needs per user.
type SitemapEntry struct {
	ID          int64     `db:"id"`
	UserUpdated time.Time `db:"user_updated"`
}

var (
	ErrNotFound              = errors.New("account: not found")
	ErrInvalidCode           = errors.New("account: confirmation code is not valid")
	ErrNoPendingRegistration = errors.New("account: no pending registration")
	ErrNoPendingEmail        = errors.New("account: no pending email change")
	ErrPasswordIncorrect     = errors.New("account: password incorrect")
	ErrInvalidCredentials    = errors.New("account: invalid username or password")
	ErrUsernameTaken         = errors.New("account: username already taken")
	ErrEmailTaken            = errors.New("account: email already taken")
	ErrNotAuthenticated      = errors.New("account: not authenticated")
	ErrInvalidToken          = errors.New("account: token is not valid")
)

const (
	maxUsernameLen  = 150
	maxNameLen      = 150
	maxAboutSelfLen = 300
	minPasswordLen  = 8
	codeLen         = 6
	minAPITokenLen  = 50
	maxAPITokenLen  = 100
)

var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}@.+\-_]+$`)

// fieldErrors accumulates form errors keyed by field name.
type fieldErrors map[string]string

func (f fieldErrors) add(field, msg string) {
	if _, exists := f[field]; !exists {
		f[field] = msg
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &api.ValidationError{Fields: f}
}

func fieldError(field, msg string) error {
	return &api.ValidationError{Fields: map[string]string{field: msg}}
}

func checkUsername(errs fieldErrors, username string) {
	switch {
	case username == "":
		errs.add("username", "This field is required.")
	case utf8.RuneCountInString(username) > maxUsernameLen:
		errs.add("username", fmt.Sprintf("Ensure this value has at most %d characters.", maxUsernameLen))
	case !usernamePattern.MatchString(username):
		errs.add("username", "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters.")
	}
}

func checkEmail(errs fieldErrors, email string) {
	if email == "" {
		errs.add("email", "This field is required.")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		errs.add("email", "Enter a valid email address.")
	}
}

func checkNames(errs fieldErrors, first, last, about string) {
	if utf8.RuneCountInString(first) > maxNameLen {
		errs.add("first_name", fmt.Sprintf("Ensure this value has at most %d characters.", maxNameLen))
	}
	if utf8.RuneCountInString(last) > maxNameLen {
		errs.add("last_name", fmt.Sprintf("Ensure this value has at most %d characters.", maxNameLen))
	}
	if utf8.RuneCountInString(about) > maxAboutSelfLen {
		errs.add("about_self", fmt.Sprintf("Ensure this value has at most %d characters.", maxAboutSelfLen))
	}
}

// ValidatePassword applies the password policy: at least eight characters,
// not entirely numeric, and not the username.
func ValidatePassword(password, username string) error {
	errs := fieldErrors{}
	checkPassword(errs, "password", password, username)
	return errs.err()
}

func checkPassword(errs fieldErrors, field, password, username string) {
	switch {
	case password == "":
		errs.add(field, "This field is required.")
	case utf8.RuneCountInString(password) < minPasswordLen:
		errs.add(field, fmt.Sprintf("This password is too short. It must contain at least %d characters.", minPasswordLen))
	case strings.Trim(password, "0123456789") == "":
		errs.add(field, "This password is entirely numeric.")
	case username != "" && strings.EqualFold(password, username):
		errs.add(field, "The password is too similar to the username.")
	}
}

func checkCode(code string) error {
	if len(code) != codeLen {
		return fieldError("confirmation_code", fmt.Sprintf("Ensure this value has %d characters.", codeLen))
	}
	return nil
}
