package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"bookreview/internal/apperr"
	"bookreview/pkg/models"
)

// Reviews is the MongoDB review store. A standalone server gives no
// multi-document transactions, so every write that touches a book's
// aggregate runs under that book's lock. The lock is process-local: run a
// single API instance per database.
type Reviews struct {
	coll  *mongo.Collection
	books *mongo.Collection
	users *mongo.Collection
	locks *keyedMutex
}

func (s *Reviews) Create(ctx context.Context, rv *models.Review) (models.Aggregate, error) {
	unlock := s.locks.Lock(rv.BookID)
	defer unlock()

	agg := models.Aggregate{BookID: rv.BookID}
	n, err := s.books.CountDocuments(ctx, bson.M{"_id": rv.BookID}, options.Count().SetLimit(1))
	if err != nil {
		return agg, fmt.Errorf("check book: %w", err)
	}
	if n == 0 {
		return agg, apperr.NotFound("Book not found")
	}

	n, err = s.coll.CountDocuments(ctx, bson.M{"user_id": rv.UserID, "book_id": rv.BookID}, options.Count().SetLimit(1))
	if err != nil {
		return agg, fmt.Errorf("check duplicate review: %w", err)
	}
	if n > 0 {
		return agg, apperr.ErrDuplicateReview
	}

	now := time.Now().UTC()
	rv.CreatedAt, rv.UpdatedAt = now, now
	if _, err := s.coll.InsertOne(ctx, rv); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return agg, apperr.ErrDuplicateReview
		}
		return agg, fmt.Errorf("insert review: %w", err)
	}
	return s.recompute(ctx, rv.BookID)
}

func (s *Reviews) Get(ctx context.Context, id string) (*models.Review, error) {
	var rv models.Review
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("get review: %w", err)
	}
	return &rv, nil
}

func (s *Reviews) Update(ctx context.Context, id string, p models.ReviewPatch) (*models.Review, models.Aggregate, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, models.Aggregate{}, err
	}
	if cur == nil {
		return nil, models.Aggregate{}, apperr.NotFound("Review not found")
	}

	unlock := s.locks.Lock(cur.BookID)
	defer unlock()

	set := bson.M{"updated_at": time.Now().UTC()}
	if p.Rating != nil {
		set["rating"] = *p.Rating
	}
	if p.Comment != nil {
		set["comment"] = *p.Comment
	}

	var rv models.Review
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err = s.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&rv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.Aggregate{}, apperr.NotFound("Review not found")
	}
	if err != nil {
		return nil, models.Aggregate{}, fmt.Errorf("update review: %w", err)
	}

	agg, err := s.recompute(ctx, rv.BookID)
	if err != nil {
		return nil, agg, err
	}
	return &rv, agg, nil
}

func (s *Reviews) Delete(ctx context.Context, id string) (models.Aggregate, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return models.Aggregate{}, err
	}
	if cur == nil {
		return models.Aggregate{}, apperr.NotFound("Review not found")
	}

	unlock := s.locks.Lock(cur.BookID)
	defer unlock()

	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return models.Aggregate{}, fmt.Errorf("delete review: %w", err)
	}
	if res.DeletedCount == 0 {
		return models.Aggregate{}, apperr.NotFound("Review not found")
	}
	return s.recompute(ctx, cur.BookID)
}

// recompute derives the aggregate from every review of the book and writes
// it onto the book document. Callers hold the book lock.
func (s *Reviews) recompute(ctx context.Context, bookID string) (models.Aggregate, error) {
	agg := models.Aggregate{BookID: bookID}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"book_id": bookID}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"avg":   bson.M{"$avg": "$rating"},
			"count": bson.M{"$sum": 1},
		}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return agg, fmt.Errorf("aggregate ratings: %w", err)
	}
	var rows []struct {
		Avg   float64 `bson:"avg"`
		Count int     `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return agg, fmt.Errorf("decode ratings: %w", err)
	}
	if len(rows) > 0 {
		agg.AverageRating, agg.TotalReviews = rows[0].Avg, rows[0].Count
	}

	res, err := s.books.UpdateOne(ctx, bson.M{"_id": bookID}, bson.M{"$set": bson.M{
		"average_rating": agg.AverageRating,
		"total_reviews":  agg.TotalReviews,
		"updated_at":     time.Now().UTC(),
	}})
	if err != nil {
		return agg, fmt.Errorf("write aggregate: %w", err)
	}
	if res.MatchedCount == 0 {
		return agg, apperr.NotFound("Book not found")
	}
	return agg, nil
}

func (s *Reviews) ListByBook(ctx context.Context, bookID string, page, limit int) ([]models.Review, int, error) {
	page, limit = models.ClampPage(page, limit)
	filter := bson.M{"book_id": bookID}

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count reviews: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(models.Offset(page, limit))).
		SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list reviews: %w", err)
	}
	out := make([]models.Review, 0, limit)
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, fmt.Errorf("decode reviews: %w", err)
	}

	ids := make([]string, 0, len(out))
	for _, rv := range out {
		ids = append(ids, rv.UserID)
	}
	authors, err := s.authors(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		if a, ok := authors[out[i].UserID]; ok {
			out[i].User = a
		} else {
			out[i].User = &models.ReviewAuthor{ID: out[i].UserID}
		}
	}
	return out, int(total), nil
}

func (s *Reviews) authors(ctx context.Context, ids []string) (map[string]*models.ReviewAuthor, error) {
	out := make(map[string]*models.ReviewAuthor, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"username": 1, "profile_picture": 1}))
	if err != nil {
		return nil, fmt.Errorf("load review authors: %w", err)
	}
	var users []models.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode review authors: %w", err)
	}
	for _, u := range users {
		out[u.ID] = &models.ReviewAuthor{ID: u.ID, Username: u.Username, ProfilePicture: u.ProfilePicture}
	}
	return out, nil
}

func (s *Reviews) ListByUser(ctx context.Context, userID string) ([]models.Review, error) {
	cur, err := s.coll.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list user reviews: %w", err)
	}
	out := []models.Review{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode user reviews: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(out))
	for _, rv := range out {
		ids = append(ids, rv.BookID)
	}
	bcur, err := s.books.Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"title": 1}))
	if err != nil {
		return nil, fmt.Errorf("load review books: %w", err)
	}
	var books []models.Book
	if err := bcur.All(ctx, &books); err != nil {
		return nil, fmt.Errorf("decode review books: %w", err)
	}
	titles := make(map[string]string, len(books))
	for _, b := range books {
		titles[b.ID] = b.Title
	}

	// the SQLite store inner-joins books; match it by dropping orphans
	kept := out[:0]
	for _, rv := range out {
		title, ok := titles[rv.BookID]
		if !ok {
			continue
		}
		rv.Book = &models.ReviewBook{ID: rv.BookID, Title: title}
		kept = append(kept, rv)
	}
	return kept, nil
}

// RecomputeAll walks every book and rewrites the aggregates that drifted,
// taking each book's lock in turn.
func (s *Reviews) RecomputeAll(ctx context.Context) (int, error) {
	ids, err := s.books.Distinct(ctx, "_id", bson.M{})
	if err != nil {
		return 0, fmt.Errorf("list book ids: %w", err)
	}

	changed := 0
	for _, raw := range ids {
		id, ok := raw.(string)
		if !ok {
			continue
		}
		fixed, err := s.recomputeIfDrifted(ctx, id)
		if err != nil {
			return changed, err
		}
		if fixed {
			changed++
		}
	}
	return changed, nil
}

func (s *Reviews) recomputeIfDrifted(ctx context.Context, bookID string) (bool, error) {
	unlock := s.locks.Lock(bookID)
	defer unlock()

	var before models.Book
	opts := options.FindOne().SetProjection(bson.M{"average_rating": 1, "total_reviews": 1})
	if err := s.books.FindOne(ctx, bson.M{"_id": bookID}, opts).Decode(&before); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("load aggregate: %w", err)
	}

	agg, err := s.recompute(ctx, bookID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return agg.AverageRating != before.AverageRating || agg.TotalReviews != before.TotalReviews, nil
}
