package books

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

// Repo is the SQLite book store.
type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

const bookColumns = `id, title, author, description, cover_image, genre, published_year, isbn,
	average_rating, total_reviews, added_by, created_at, updated_at`

func scanBook(row interface{ Scan(...any) error }) (*models.Book, error) {
	var b models.Book
	if err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Description, &b.CoverImage, &b.Genre,
		&b.PublishedYear, &b.ISBN, &b.AverageRating, &b.TotalReviews, &b.AddedBy,
		&b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repo) Get(ctx context.Context, id string) (*models.Book, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	b, err := scanBook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan get book: %w", err)
	}
	return b, nil
}

func (r *Repo) Count(ctx context.Context, q models.BookQuery) (int, error) {
	sqlStr, args := buildListSQL(q, true)
	var total int
	if err := r.DB.QueryRowContext(ctx, sqlStr, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count scan: %w", err)
	}
	return total, nil
}

func (r *Repo) List(ctx context.Context, q models.BookQuery) ([]models.Book, error) {
	q = q.Normalize()
	sqlStr, args := buildListSQL(q, false)

	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list query: %w", err)
	}
	defer rows.Close()

	out := make([]models.Book, 0, q.Limit)
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("list scan: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

var orderBy = map[models.BookSort]string{
	models.SortNewest:       "created_at DESC, id DESC",
	models.SortOldest:       "created_at ASC, id ASC",
	models.SortHighestRated: "average_rating DESC, total_reviews DESC, id ASC",
	models.SortTitle:        "title COLLATE NOCASE ASC, id ASC",
	models.SortMostReviewed: "total_reviews DESC, average_rating DESC, id ASC",
}

// likeEscaper makes user input literal inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildListSQL builds either COUNT(*) or the page query; both share the
// same WHERE clause.
func buildListSQL(q models.BookQuery, countOnly bool) (string, []any) {
	sqlStr := `SELECT ` + bookColumns + ` FROM books`
	if countOnly {
		sqlStr = `SELECT COUNT(*) FROM books`
	}

	var where []string
	var args []any

	if s := strings.TrimSpace(q.Search); s != "" {
		where = append(where, `(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(author) LIKE ? ESCAPE '\')`)
		kw := "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
		args = append(args, kw, kw)
	}
	if g := strings.TrimSpace(q.Genre); g != "" {
		where = append(where, "genre = ?")
		args = append(args, g)
	}

	if len(where) > 0 {
		sqlStr += " WHERE " + strings.Join(where, " AND ")
	}

	if !countOnly {
		q = q.Normalize()
		order, ok := orderBy[q.Sort]
		if !ok {
			order = orderBy[models.SortNewest]
		}
		sqlStr += " ORDER BY " + order + " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Offset())
	}

	return sqlStr, args
}

func (r *Repo) Create(ctx context.Context, b *models.Book) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	b.AverageRating, b.TotalReviews = 0, 0

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO books (id, title, author, description, cover_image, genre, published_year, isbn,
			average_rating, total_reviews, added_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?)
	`, b.ID, b.Title, b.Author, b.Description, b.CoverImage, b.Genre, b.PublishedYear, b.ISBN,
		b.AddedBy, b.CreatedAt.UTC(), b.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("A book with this ISBN already exists")
		}
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

func (r *Repo) Update(ctx context.Context, id string, p models.BookPatch) (*models.Book, error) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Author != nil {
		add("author", *p.Author)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.CoverImage != nil {
		add("cover_image", *p.CoverImage)
	}
	if p.Genre != nil {
		add("genre", *p.Genre)
	}
	if p.PublishedYear != nil {
		add("published_year", *p.PublishedYear)
	}
	if p.ISBN != nil {
		add("isbn", *p.ISBN)
	}
	add("updated_at", time.Now().UTC())
	args = append(args, id)

	res, err := r.DB.ExecContext(ctx, `UPDATE books SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperr.Conflict("A book with this ISBN already exists")
		}
		return nil, fmt.Errorf("update book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.NotFound("Book not found")
	}

	b, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apperr.NotFound("Book not found")
	}
	return b, nil
}

// Delete removes the book; its reviews go with it through ON DELETE CASCADE.
func (r *Repo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("Book not found")
	}
	return nil
}

func (r *Repo) Genres(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT genre FROM books ORDER BY genre`)
	if err != nil {
		return nil, fmt.Errorf("list genres: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("scan genre: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpsertByISBN inserts b or refreshes the catalogue fields of the book that
// already has its ISBN. Aggregates and ownership of an existing book are kept.
func (r *Repo) UpsertByISBN(ctx context.Context, b *models.Book) (bool, error) {
	existing, err := r.getByISBN(ctx, b.ISBN)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return true, r.Create(ctx, b)
	}
	updated, err := r.Update(ctx, existing.ID, models.BookPatch{
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

func (r *Repo) getByISBN(ctx context.Context, isbn string) (*models.Book, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE isbn = ?`, isbn)
	b, err := scanBook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan book by isbn: %w", err)
	}
	return b, nil
}
