package books

import (
	"context"

	"bookreview/pkg/models"
)

// Store persists books. Get returns (nil, nil) for an unknown id.
// Create and Update return apperr.ErrConflict for a taken ISBN; Update and
// Delete return apperr.ErrNotFound for an unknown id. Delete also removes
// the book's reviews.
type Store interface {
	Count(ctx context.Context, q models.BookQuery) (int, error)
	List(ctx context.Context, q models.BookQuery) ([]models.Book, error)
	Get(ctx context.Context, id string) (*models.Book, error)
	Create(ctx context.Context, b *models.Book) error
	Update(ctx context.Context, id string, patch models.BookPatch) (*models.Book, error)
	Delete(ctx context.Context, id string) error
	Genres(ctx context.Context) ([]string, error)
	UpsertByISBN(ctx context.Context, b *models.Book) (created bool, err error)
}
