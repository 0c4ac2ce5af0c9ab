package reviews

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bookreview/internal/apperr"
	"bookreview/pkg/database"
	"bookreview/pkg/models"
)

// Repo is the SQLite review store. The database is opened with
// _txlock=immediate, so every transaction below takes the write lock at
// BEGIN and the read-recompute-write sequence cannot interleave with
// another writer.
type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

func (r *Repo) Create(ctx context.Context, rv *models.Review) (agg models.Aggregate, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return agg, fmt.Errorf("begin create review: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM books WHERE id = ?`, rv.BookID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return agg, apperr.NotFound("Book not found")
	}
	if err != nil {
		return agg, fmt.Errorf("check book: %w", err)
	}

	// existence check and insert share the write lock; the unique index
	// backs it up
	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM reviews WHERE user_id = ? AND book_id = ?`, rv.UserID, rv.BookID).Scan(&existing)
	switch {
	case err == nil:
		return agg, apperr.ErrDuplicateReview
	case !errors.Is(err, sql.ErrNoRows):
		return agg, fmt.Errorf("check duplicate review: %w", err)
	}

	now := time.Now().UTC()
	rv.CreatedAt, rv.UpdatedAt = now, now
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reviews (id, user_id, book_id, rating, comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rv.ID, rv.UserID, rv.BookID, rv.Rating, rv.Comment, now, now)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return agg, apperr.ErrDuplicateReview
		}
		return agg, fmt.Errorf("insert review: %w", err)
	}

	if agg, err = recompute(ctx, tx, rv.BookID); err != nil {
		return agg, err
	}
	if err = tx.Commit(); err != nil {
		return agg, fmt.Errorf("commit create review: %w", err)
	}
	return agg, nil
}

func (r *Repo) Get(ctx context.Context, id string) (*models.Review, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, user_id, book_id, rating, comment, created_at, updated_at
		FROM reviews
		WHERE id = ?
	`, id)

	var rv models.Review
	if err := row.Scan(&rv.ID, &rv.UserID, &rv.BookID, &rv.Rating, &rv.Comment, &rv.CreatedAt, &rv.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan review: %w", err)
	}
	return &rv, nil
}

func (r *Repo) Update(ctx context.Context, id string, p models.ReviewPatch) (rv *models.Review, agg models.Aggregate, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, agg, fmt.Errorf("begin update review: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var cur models.Review
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id, book_id, rating, comment, created_at
		FROM reviews WHERE id = ?
	`, id).Scan(&cur.ID, &cur.UserID, &cur.BookID, &cur.Rating, &cur.Comment, &cur.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, agg, apperr.NotFound("Review not found")
	}
	if err != nil {
		return nil, agg, fmt.Errorf("load review: %w", err)
	}

	if p.Rating != nil {
		cur.Rating = *p.Rating
	}
	if p.Comment != nil {
		cur.Comment = *p.Comment
	}
	cur.UpdatedAt = time.Now().UTC()

	if _, err = tx.ExecContext(ctx, `
		UPDATE reviews SET rating = ?, comment = ?, updated_at = ? WHERE id = ?
	`, cur.Rating, cur.Comment, cur.UpdatedAt, id); err != nil {
		return nil, agg, fmt.Errorf("update review: %w", err)
	}

	if agg, err = recompute(ctx, tx, cur.BookID); err != nil {
		return nil, agg, err
	}
	if err = tx.Commit(); err != nil {
		return nil, agg, fmt.Errorf("commit update review: %w", err)
	}
	return &cur, agg, nil
}

func (r *Repo) Delete(ctx context.Context, id string) (agg models.Aggregate, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return agg, fmt.Errorf("begin delete review: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var bookID string
	err = tx.QueryRowContext(ctx, `SELECT book_id FROM reviews WHERE id = ?`, id).Scan(&bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return agg, apperr.NotFound("Review not found")
	}
	if err != nil {
		return agg, fmt.Errorf("load review: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM reviews WHERE id = ?`, id); err != nil {
		return agg, fmt.Errorf("delete review: %w", err)
	}

	if agg, err = recompute(ctx, tx, bookID); err != nil {
		return agg, err
	}
	if err = tx.Commit(); err != nil {
		return agg, fmt.Errorf("commit delete review: %w", err)
	}
	return agg, nil
}

// recompute rewrites the book's aggregate from every review it has. With no
// reviews left both fields become 0.
func recompute(ctx context.Context, tx *sql.Tx, bookID string) (models.Aggregate, error) {
	agg := models.Aggregate{BookID: bookID}
	_, err := tx.ExecContext(ctx, `
		UPDATE books
		SET average_rating = (SELECT COALESCE(AVG(rating), 0) FROM reviews WHERE book_id = ?),
		    total_reviews  = (SELECT COUNT(*) FROM reviews WHERE book_id = ?),
		    updated_at     = ?
		WHERE id = ?
	`, bookID, bookID, time.Now().UTC(), bookID)
	if err != nil {
		return agg, fmt.Errorf("recompute aggregate: %w", err)
	}

	err = tx.QueryRowContext(ctx, `SELECT average_rating, total_reviews FROM books WHERE id = ?`, bookID).
		Scan(&agg.AverageRating, &agg.TotalReviews)
	if errors.Is(err, sql.ErrNoRows) {
		return agg, apperr.NotFound("Book not found")
	}
	if err != nil {
		return agg, fmt.Errorf("read aggregate: %w", err)
	}
	return agg, nil
}

func (r *Repo) ListByBook(ctx context.Context, bookID string, page, limit int) ([]models.Review, int, error) {
	page, limit = models.ClampPage(page, limit)

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM reviews WHERE book_id = ?`, bookID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reviews: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT r.id, r.user_id, r.book_id, r.rating, r.comment, r.created_at, r.updated_at,
		       u.username, u.profile_picture
		FROM reviews r
		JOIN users u ON u.id = r.user_id
		WHERE r.book_id = ?
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ? OFFSET ?
	`, bookID, limit, models.Offset(page, limit))
	if err != nil {
		return nil, 0, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	out := make([]models.Review, 0, limit)
	for rows.Next() {
		var rv models.Review
		author := &models.ReviewAuthor{}
		if err := rows.Scan(&rv.ID, &rv.UserID, &rv.BookID, &rv.Rating, &rv.Comment, &rv.CreatedAt, &rv.UpdatedAt,
			&author.Username, &author.ProfilePicture); err != nil {
			return nil, 0, fmt.Errorf("scan review row: %w", err)
		}
		author.ID = rv.UserID
		rv.User = author
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows err: %w", err)
	}
	return out, total, nil
}

func (r *Repo) ListByUser(ctx context.Context, userID string) ([]models.Review, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT r.id, r.user_id, r.book_id, r.rating, r.comment, r.created_at, r.updated_at, b.title
		FROM reviews r
		JOIN books b ON b.id = r.book_id
		WHERE r.user_id = ?
		ORDER BY r.created_at DESC, r.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user reviews: %w", err)
	}
	defer rows.Close()

	out := []models.Review{}
	for rows.Next() {
		var rv models.Review
		book := &models.ReviewBook{}
		if err := rows.Scan(&rv.ID, &rv.UserID, &rv.BookID, &rv.Rating, &rv.Comment, &rv.CreatedAt, &rv.UpdatedAt, &book.Title); err != nil {
			return nil, fmt.Errorf("scan user review: %w", err)
		}
		book.ID = rv.BookID
		rv.Book = book
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

const avgOf = `(SELECT COALESCE(AVG(rating), 0) FROM reviews WHERE reviews.book_id = books.id)`
const countOf = `(SELECT COUNT(*) FROM reviews WHERE reviews.book_id = books.id)`

// RecomputeAll rewrites the aggregate of every book that has drifted from
// its reviews, in one statement.
func (r *Repo) RecomputeAll(ctx context.Context) (int, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE books
		SET average_rating = `+avgOf+`,
		    total_reviews  = `+countOf+`,
		    updated_at     = ?
		WHERE average_rating != `+avgOf+` OR total_reviews != `+countOf,
		time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("recompute all aggregates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recompute all rows affected: %w", err)
	}
	return int(n), nil
}
