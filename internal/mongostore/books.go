package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"bookreview/internal/apperr"
	"bookreview/pkg/models"
)

type Books struct {
	coll    *mongo.Collection
	reviews *mongo.Collection
	locks   *keyedMutex
}

// bookFilter is shared by Count and List.
func bookFilter(q models.BookQuery) bson.M {
	f := bson.M{}
	if s := strings.TrimSpace(q.Search); s != "" {
		pattern := primitiveRegex(s)
		f["$or"] = bson.A{
			bson.M{"title": pattern},
			bson.M{"author": pattern},
		}
	}
	if g := strings.TrimSpace(q.Genre); g != "" {
		f["genre"] = g
	}
	return f
}

func primitiveRegex(s string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(s), "$options": "i"}
}

var bookSorts = map[models.BookSort]bson.D{
	models.SortNewest:       {{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
	models.SortOldest:       {{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
	models.SortHighestRated: {{Key: "average_rating", Value: -1}, {Key: "total_reviews", Value: -1}, {Key: "_id", Value: 1}},
	models.SortTitle:        {{Key: "title", Value: 1}, {Key: "_id", Value: 1}},
	models.SortMostReviewed: {{Key: "total_reviews", Value: -1}, {Key: "average_rating", Value: -1}, {Key: "_id", Value: 1}},
}

func (s *Books) Count(ctx context.Context, q models.BookQuery) (int, error) {
	n, err := s.coll.CountDocuments(ctx, bookFilter(q))
	if err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return int(n), nil
}

func (s *Books) List(ctx context.Context, q models.BookQuery) ([]models.Book, error) {
	q = q.Normalize()
	order, ok := bookSorts[q.Sort]
	if !ok {
		order = bookSorts[models.SortNewest]
	}
	opts := options.Find().
		SetSort(order).
		SetSkip(int64(q.Offset())).
		SetLimit(int64(q.Limit))
	if q.Sort == models.SortTitle {
		opts.SetCollation(&options.Collation{Locale: "en", Strength: 2})
	}

	cur, err := s.coll.Find(ctx, bookFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	out := make([]models.Book, 0, q.Limit)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode books: %w", err)
	}
	return out, nil
}

func (s *Books) Get(ctx context.Context, id string) (*models.Book, error) {
	var b models.Book
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&b); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return &b, nil
}

func (s *Books) Create(ctx context.Context, b *models.Book) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	b.AverageRating, b.TotalReviews = 0, 0

	if _, err := s.coll.InsertOne(ctx, b); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Conflict("A book with this ISBN already exists")
		}
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

func (s *Books) Update(ctx context.Context, id string, p models.BookPatch) (*models.Book, error) {
	set := bson.M{"updated_at": time.Now().UTC()}
	if p.Title != nil {
		set["title"] = *p.Title
	}
	if p.Author != nil {
		set["author"] = *p.Author
	}
	if p.Description != nil {
		set["description"] = *p.Description
	}
	if p.CoverImage != nil {
		set["cover_image"] = *p.CoverImage
	}
	if p.Genre != nil {
		set["genre"] = *p.Genre
	}
	if p.PublishedYear != nil {
		set["published_year"] = *p.PublishedYear
	}
	if p.ISBN != nil {
		set["isbn"] = *p.ISBN
	}

	var b models.Book
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&b)
	switch {
	case err == nil:
		return &b, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, apperr.NotFound("Book not found")
	case mongo.IsDuplicateKeyError(err):
		return nil, apperr.Conflict("A book with this ISBN already exists")
	default:
		return nil, fmt.Errorf("update book: %w", err)
	}
}

// Delete removes the book and then its reviews. Holding the book lock keeps
// a concurrent review create from landing between the two deletes.
func (s *Books) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if res.DeletedCount == 0 {
		return apperr.NotFound("Book not found")
	}
	if _, err := s.reviews.DeleteMany(ctx, bson.M{"book_id": id}); err != nil {
		return fmt.Errorf("delete book reviews: %w", err)
	}
	return nil
}

func (s *Books) Genres(ctx context.Context) ([]string, error) {
	raw, err := s.coll.Distinct(ctx, "genre", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("distinct genres: %w", err)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if g, ok := v.(string); ok {
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Books) UpsertByISBN(ctx context.Context, b *models.Book) (bool, error) {
	var existing models.Book
	err := s.coll.FindOne(ctx, bson.M{"isbn": b.ISBN}).Decode(&existing)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return true, s.Create(ctx, b)
	}
	if err != nil {
		return false, fmt.Errorf("find book by isbn: %w", err)
	}

	updated, err := s.Update(ctx, existing.ID, models.BookPatch{
		Title:         &b.Title,
		Author:        &b.Author,
		Description:   &b.Description,
		CoverImage:    &b.CoverImage,
		Genre:         &b.Genre,
		PublishedYear: &b.PublishedYear,
	})
	if err != nil {
		return false, err
	}
	*b = *updated
	return false, nil
}
