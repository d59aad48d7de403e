package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/inkwell-labs/forum/pkg/auth"
)

const userColumns = `id, username, first_name, last_name, email, about_self, avatar, password, date_joined, user_updated`

// UserStore persists users in Postgres.
type UserStore struct {
	db *sqlx.DB
}

// NewUserStore creates a UserStore.
func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

// uniqueViolation maps a unique-constraint failure on users to the
// matching sentinel.
func uniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}
	switch pqErr.Constraint {
	case "users_username_key":
		return ErrUsernameTaken
	case "users_email_key":
		return ErrEmailTaken
	}
	return err
}

// Create inserts u and fills in its id and timestamps.
func (s *UserStore) Create(ctx context.Context, u *User) error {
	row := s.db.QueryRowxContext(ctx,
		`INSERT INTO users (username, first_name, last_name, email, about_self, avatar, password)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, date_joined, user_updated`,
		u.Username, u.FirstName, u.LastName, u.Email, u.AboutSelf, u.Avatar, u.PasswordHash)
	if err := row.Scan(&u.ID, &u.DateJoined, &u.UserUpdated); err != nil {
		return fmt.Errorf("create user: %w", uniqueViolation(err))
	}
	return nil
}

func (s *UserStore) getBy(ctx context.Context, column string, arg any) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by %s: %w", column, err)
	}
	return &u, nil
}

// GetByID returns the user with id or ErrNotFound.
func (s *UserStore) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.getBy(ctx, "id", id)
}

// GetByUsername returns the user with username or ErrNotFound.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.getBy(ctx, "username", username)
}

// GetByEmail returns the user with email or ErrNotFound.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getBy(ctx, "email", email)
}

// Exists reports whether another account already uses username or email.
// exceptID excludes one account from the check (0 checks all).
func (s *UserStore) Exists(ctx context.Context, username, email string, exceptID int64) (usernameTaken, emailTaken bool, err error) {
	var row struct {
		Username bool `db:"username_taken"`
		Email    bool `db:"email_taken"`
	}
	err = s.db.GetContext(ctx, &row, `SELECT
		EXISTS (SELECT 1 FROM users WHERE username = $1 AND id <> $3) AS username_taken,
		EXISTS (SELECT 1 FROM users WHERE email = $2 AND id <> $3) AS email_taken`,
		username, email, exceptID)
	if err != nil {
		return false, false, fmt.Errorf("check user uniqueness: %w", err)
	}
	return row.Username, row.Email, nil
}

// UpdateProfile stores the editable profile fields of u.
func (s *UserStore) UpdateProfile(ctx context.Context, u *User) error {
	row := s.db.QueryRowxContext(ctx,
		`UPDATE users SET username = $2, first_name = $3, last_name = $4, about_self = $5, avatar = $6, user_updated = now()
		WHERE id = $1 RETURNING user_updated`,
		u.ID, u.Username, u.FirstName, u.LastName, u.AboutSelf, u.Avatar)
	if err := row.Scan(&u.UserUpdated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update profile: %w", uniqueViolation(err))
	}
	return nil
}

func (s *UserStore) exec(ctx context.Context, what, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, uniqueViolation(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateEmail changes the email of user id.
func (s *UserStore) UpdateEmail(ctx context.Context, id int64, email string) error {
	return s.exec(ctx, "update email",
		`UPDATE users SET email = $2, user_updated = now() WHERE id = $1`, id, email)
}

// UpdatePassword replaces the password hash of user id.
func (s *UserStore) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return s.exec(ctx, "update password",
		`UPDATE users SET password = $2, user_updated = now() WHERE id = $1`, id, hash)
}

// List returns every user with the comments they published, newest first.
func (s *UserStore) List(ctx context.Context) ([]UserWithComments, error) {
	var users []User
	if err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var comments []struct {
		AuthorID int64 `db:"author_id"`
		CommentBrief
	}
	err := s.db.SelectContext(ctx, &comments,
		`SELECT c.author_id, u.username AS author, c.body
		FROM comments c JOIN users u ON u.id = c.author_id
		ORDER BY c.created DESC`)
	if err != nil {
		return nil, fmt.Errorf("list user comments: %w", err)
	}
	byAuthor := make(map[int64][]CommentBrief, len(users))
	for _, c := range comments {
		byAuthor[c.AuthorID] = append(byAuthor[c.AuthorID], c.CommentBrief)
	}
	out := make([]UserWithComments, len(users))
	for i, u := range users {
		cs := byAuthor[u.ID]
		if cs == nil {
			cs = []CommentBrief{}
		}
		out[i] = UserWithComments{User: u, CommentsPublished: cs}
	}
	return out, nil
}

// ListForSitemap returns the id and last update of every user.
func (s *UserStore) ListForSitemap(ctx context.Context) ([]SitemapEntry, error) {
	var out []SitemapEntry
	if err := s.db.SelectContext(ctx, &out, `SELECT id, user_updated FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list sitemap users: %w", err)
	}
	return out, nil
}

// PrincipalByID implements auth.UserLookup.
func (s *UserStore) PrincipalByID(ctx context.Context, id int64) (*auth.Principal, error) {
	var username string
	err := s.db.GetContext(ctx, &username, `SELECT username FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("lookup principal: %w", err)
	}
	return &auth.Principal{UserID: id, Username: username}, nil
}
