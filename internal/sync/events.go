package sync

import "time"

const (
	EventReviewCreated = "review.created"
	EventReviewUpdated = "review.updated"
	EventReviewDeleted = "review.deleted"
	EventBookCreated   = "book.created"
	EventBookUpdated   = "book.updated"
	EventBookDeleted   = "book.deleted"
)

// RatingEvent is pushed after a review mutation. It carries the book's
// aggregate as committed together with the review change.
type RatingEvent struct {
	Type          string    `json:"type"`
	BookID        string    `json:"bookId"`
	ReviewID      string    `json:"reviewId"`
	UserID        string    `json:"userId"`
	AverageRating float64   `json:"averageRating"`
	TotalReviews  int       `json:"totalReviews"`
	At            time.Time `json:"at"`
}

type BookEvent struct {
	Type   string    `json:"type"`
	BookID string    `json:"bookId"`
	Title  string    `json:"title,omitempty"`
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}
