package models

import "time"

type Review struct {
	ID        string        `json:"_id" bson:"_id"`
	UserID    string        `json:"userId" bson:"user_id"`
	BookID    string        `json:"bookId" bson:"book_id"`
	Rating    int           `json:"rating" bson:"rating"`
	Comment   string        `json:"comment" bson:"comment"`
	CreatedAt time.Time     `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time     `json:"updatedAt" bson:"updated_at"`
	User      *ReviewAuthor `json:"user,omitempty" bson:"-"`
	Book      *ReviewBook   `json:"book,omitempty" bson:"-"`
}

// ReviewAuthor is the reviewer identity joined onto listed reviews.
type ReviewAuthor struct {
	ID             string `json:"_id"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture"`
}

// ReviewBook is the book summary joined onto a user's own reviews.
type ReviewBook struct {
	ID    string `json:"_id"`
	Title string `json:"title"`
}

type ReviewPatch struct {
	Rating  *int
	Comment *string
}

// Aggregate is the derived rating summary stored on a book.
type Aggregate struct {
	BookID        string  `json:"bookId"`
	AverageRating float64 `json:"averageRating"`
	TotalReviews  int     `json:"totalReviews"`
}
