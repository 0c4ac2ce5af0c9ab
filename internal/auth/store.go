package auth

import (
	"context"

	"bookreview/pkg/models"
)

// Store persists users. Lookups return (nil, nil) when nothing matches.
// CreateUser and UpdateProfile return apperr.ErrConflict on a taken
// username or email.
type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetTokenVersion(ctx context.Context, id string) (int, error)
	UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) (*models.User, error)
	SetRole(ctx context.Context, id string, role models.Role) error
	UpdatePasswordAndBumpTokenVersion(ctx context.Context, id, passwordHash string) error
	BumpTokenVersion(ctx context.Context, id string) error
}
