package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookreview/internal/apperr"
	"bookreview/pkg/database"
	"bookreview/pkg/models"
)

// Repo is the SQLite user store.
type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

const userColumns = `id, username, email, password_hash, role, bio, profile_picture, token_version, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	var role string
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.Bio,
		&u.ProfilePicture, &u.TokenVersion, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

func (r *Repo) CreateUser(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, bio, profile_picture, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.Email, u.PasswordHash, string(u.Role), u.Bio, u.ProfilePicture, now, now)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("User already exists")
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *Repo) getOne(ctx context.Context, op, where string, arg any) (*models.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (r *Repo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "get by email", `LOWER(email) = ?`, strings.TrimSpace(strings.ToLower(email)))
}

func (r *Repo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, "get by username", `username = ?`, strings.TrimSpace(username))
}

func (r *Repo) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, "get by id", `id = ?`, id)
}

func (r *Repo) GetTokenVersion(ctx context.Context, id string) (int, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT token_version FROM users WHERE id = ?`, id)

	var version int
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperr.ErrNotFound
		}
		return 0, fmt.Errorf("get token version: %w", err)
	}
	return version, nil
}

func (r *Repo) UpdateProfile(ctx context.Context, id string, p models.ProfilePatch) (*models.User, error) {
	var (
		sets []string
		args []any
	)
	if p.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *p.Username)
	}
	if p.Bio != nil {
		sets = append(sets, "bio = ?")
		args = append(args, *p.Bio)
	}
	if p.ProfilePicture != nil {
		sets = append(sets, "profile_picture = ?")
		args = append(args, *p.ProfilePicture)
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = ?")
		args = append(args, time.Now().UTC(), id)
		res, err := r.DB.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return nil, apperr.Conflict("Username already taken")
			}
			return nil, fmt.Errorf("update profile: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, apperr.NotFound("User not found")
		}
	}

	u, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.NotFound("User not found")
	}
	return u, nil
}

func (r *Repo) SetRole(ctx context.Context, id string, role models.Role) error {
	return r.execOne(ctx, "set role", `UPDATE users SET role = ?, token_version = token_version + 1, updated_at = ? WHERE id = ?`, string(role), time.Now().UTC(), id)
}

func (r *Repo) UpdatePasswordAndBumpTokenVersion(ctx context.Context, id, passwordHash string) error {
	return r.execOne(ctx, "update password", `
		UPDATE users
		SET password_hash = ?, token_version = token_version + 1, updated_at = ?
		WHERE id = ?
	`, passwordHash, time.Now().UTC(), id)
}

func (r *Repo) BumpTokenVersion(ctx context.Context, id string) error {
	return r.execOne(ctx, "bump token version", `
		UPDATE users
		SET token_version = token_version + 1
		WHERE id = ?
	`, id)
}

func (r *Repo) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return apperr.NotFound("User not found")
	}
	return nil
}
