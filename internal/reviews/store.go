package reviews

import (
	"context"

	"bookreview/pkg/models"
)

// Store persists reviews and keeps each book's aggregate in step with them.
// Every mutation recomputes the aggregate from the full review set of the
// book in the same atomic unit as the review write, and returns it.
//
// Create fails with apperr.ErrNotFound for an unknown book and
// apperr.ErrDuplicateReview when the user already reviewed it. Get returns
// (nil, nil) for an unknown id. RecomputeAll repairs every book whose stored
// aggregate disagrees with its reviews and reports how many it changed.
type Store interface {
	Create(ctx context.Context, r *models.Review) (models.Aggregate, error)
	Get(ctx context.Context, id string) (*models.Review, error)
	Update(ctx context.Context, id string, patch models.ReviewPatch) (*models.Review, models.Aggregate, error)
	Delete(ctx context.Context, id string) (models.Aggregate, error)
	ListByBook(ctx context.Context, bookID string, page, limit int) ([]models.Review, int, error)
	ListByUser(ctx context.Context, userID string) ([]models.Review, error)
	RecomputeAll(ctx context.Context) (int, error)
}
