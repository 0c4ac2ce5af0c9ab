package models

import (
	"math"
	"time"
)

// Book is a catalogue entry. AverageRating and TotalReviews are a
// materialized view of the book's reviews and are only written by the
// review stores.
type Book struct {
	ID            string    `json:"_id" bson:"_id"`
	Title         string    `json:"title" bson:"title"`
	Author        string    `json:"author" bson:"author"`
	Description   string    `json:"description" bson:"description"`
	CoverImage    string    `json:"coverImage" bson:"cover_image"`
	Genre         string    `json:"genre" bson:"genre"`
	PublishedYear int       `json:"publishedYear" bson:"published_year"`
	ISBN          string    `json:"isbn" bson:"isbn"`
	AverageRating float64   `json:"averageRating" bson:"average_rating"`
	TotalReviews  int       `json:"totalReviews" bson:"total_reviews"`
	AddedBy       string    `json:"addedBy" bson:"added_by"`
	CreatedAt     time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" bson:"updated_at"`
}

// BookPatch carries the optional fields of a book update.
type BookPatch struct {
	Title         *string
	Author        *string
	Description   *string
	CoverImage    *string
	Genre         *string
	PublishedYear *int
	ISBN          *string
}

type BookSort string

const (
	SortNewest       BookSort = "newest"
	SortOldest       BookSort = "oldest"
	SortHighestRated BookSort = "highest-rated"
	SortTitle        BookSort = "title"
	SortMostReviewed BookSort = "reviews"
)

// ParseBookSort maps a query value onto a known sort, falling back to newest.
// "rating" is accepted as an alias of highest-rated.
func ParseBookSort(s string) BookSort {
	switch BookSort(s) {
	case SortOldest, SortHighestRated, SortTitle, SortMostReviewed:
		return BookSort(s)
	case "rating":
		return SortHighestRated
	default:
		return SortNewest
	}
}

type BookQuery struct {
	Search string // substring of title or author, case-insensitive
	Genre  string // exact match
	Sort   BookSort
	Page   int
	Limit  int
}

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
	// MaxPage keeps (page-1)*limit inside int for any allowed limit.
	MaxPage = math.MaxInt / MaxPageLimit
)

// Normalize clamps paging values into range.
func (q BookQuery) Normalize() BookQuery {
	q.Page, q.Limit = ClampPage(q.Page, q.Limit)
	if q.Sort == "" {
		q.Sort = SortNewest
	}
	return q
}

func (q BookQuery) Offset() int {
	return Offset(q.Page, q.Limit)
}

// Offset is the number of rows before page. Inputs are clamped first.
func Offset(page, limit int) int {
	page, limit = ClampPage(page, limit)
	return (page - 1) * limit
}

func ClampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

// TotalPages is ceil(total/limit).
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
