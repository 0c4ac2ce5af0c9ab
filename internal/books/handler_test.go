package books

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"bookreview/internal/auth"
	"bookreview/pkg/database"
	"bookreview/pkg/models"
)

type fixture struct {
	router *gin.Engine
	repo   *Repo
	users  *auth.Repo
	tokens auth.TokenService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "books.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	gin.SetMode(gin.TestMode)
	f := &fixture{
		repo:   NewRepo(db),
		users:  auth.NewRepo(db),
		tokens: auth.TokenService{Secret: []byte("test-secret-0123456789"), Issuer: "test", Duration: time.Hour},
	}
	f.router = gin.New()
	NewHandler(f.repo, nil).RegisterRoutes(f.router.Group("/api/books"), auth.AuthMiddleware(f.tokens, f.users))
	return f
}

// user creates an account and returns it with a signed token.
func (f *fixture) user(t *testing.T, name string, role models.Role) (*models.User, string) {
	t.Helper()
	u := &models.User{ID: "id-" + name, Username: name, Email: name + "@example.com", PasswordHash: "x", Role: role}
	if err := f.users.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	tok, _, err := f.tokens.Sign(u)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return u, tok
}

func (f *fixture) seed(t *testing.T, owner string, n int, mutate func(i int, b *models.Book)) []models.Book {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Book, 0, n)
	for i := 1; i <= n; i++ {
		b := models.Book{
			ID:            fmt.Sprintf("book-%02d", i),
			Title:         fmt.Sprintf("Title %02d", i),
			Author:        "Author",
			Description:   "desc",
			CoverImage:    "https://img.example/cover.png",
			Genre:         "fiction",
			PublishedYear: 2000,
			ISBN:          fmt.Sprintf("isbn-%02d", i),
			AddedBy:       owner,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if mutate != nil {
			mutate(i, &b)
		}
		if err := f.repo.Create(context.Background(), &b); err != nil {
			t.Fatalf("seed book %d: %v", i, err)
		}
		out = append(out, b)
	}
	return out
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

type listResp struct {
	Books       []models.Book `json:"books"`
	CurrentPage int           `json:"currentPage"`
	TotalPages  int           `json:"totalPages"`
	TotalBooks  int           `json:"totalBooks"`
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) listResp {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}
	var out listResp
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestListSecondPageNewest(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.user(t, "owner", models.RoleUser)
	f.seed(t, owner.ID, 20, nil)

	got := decodeList(t, f.do(t, http.MethodGet, "/api/books?page=2&limit=12&sort=newest", "", nil))
	if got.TotalPages != 2 || got.TotalBooks != 20 || got.CurrentPage != 2 {
		t.Fatalf("unexpected paging: %+v", got)
	}
	if len(got.Books) != 8 {
		t.Fatalf("expected 8 books on page 2, got %d", len(got.Books))
	}
	// newest first: rank 13 is book-08, rank 20 is book-01
	for i, b := range got.Books {
		want := fmt.Sprintf("book-%02d", 8-i)
		if b.ID != want {
			t.Fatalf("rank %d: got %s want %s", 13+i, b.ID, want)
		}
	}
}

func TestListPastLastPageIsEmpty(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.user(t, "owner", models.RoleUser)
	f.seed(t, owner.ID, 20, nil)

	got := decodeList(t, f.do(t, http.MethodGet, "/api/books?page=9223372036854775807&limit=12", "", nil))
	if len(got.Books) != 0 {
		t.Fatalf("expected no books past the last page, got %d (first %s)", len(got.Books), got.Books[0].ID)
	}
	if got.TotalPages != 2 || got.TotalBooks != 20 || got.CurrentPage != models.MaxPage {
		t.Fatalf("unexpected paging: %+v", got)
	}
}

func TestListSearchGenreAndSort(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.user(t, "owner", models.RoleUser)
	f.seed(t, owner.ID, 6, func(i int, b *models.Book) {
		switch i {
		case 1:
			b.Title, b.Genre = "The Hobbit", "fantasy"
		case 2:
			b.Title, b.Author, b.Genre = "Dune", "Frank Herbert", "science-fiction"
		case 3:
			b.Title, b.Author, b.Genre = "Emma", "Jane Austen", "fiction"
		case 4:
			b.Title, b.Author, b.Genre = "100%_real", "Nobody", "fiction"
		}
	})

	got := decodeList(t, f.do(t, http.MethodGet, "/api/books?search=HOBB", "", nil))
	if got.TotalBooks != 1 || got.Books[0].Title != "The Hobbit" {
		t.Fatalf("title search failed: %+v", got)
	}

	got = decodeList(t, f.do(t, http.MethodGet, "/api/books?search=herbert", "", nil))
	if got.TotalBooks != 1 || got.Books[0].Title != "Dune" {
		t.Fatalf("author search failed: %+v", got)
	}

	got = decodeList(t, f.do(t, http.MethodGet, "/api/books?search=%25_", "", nil))
	if got.TotalBooks != 1 || got.Books[0].Title != "100%_real" {
		t.Fatalf("wildcards should match literally: %+v", got)
	}

	got = decodeList(t, f.do(t, http.MethodGet, "/api/books?genre=fiction&sort=title", "", nil))
	if got.TotalBooks != 4 || got.TotalPages != 1 {
		t.Fatalf("genre filter failed: %+v", got)
	}
	if got.Books[0].Title != "100%_real" || got.Books[1].Title != "Emma" {
		t.Fatalf("title sort failed: %q, %q", got.Books[0].Title, got.Books[1].Title)
	}

	got = decodeList(t, f.do(t, http.MethodGet, "/api/books?genre=fict", "", nil))
	if got.TotalBooks != 0 {
		t.Fatalf("genre must match exactly: %+v", got)
	}

	got = decodeList(t, f.do(t, http.MethodGet, "/api/books?sort=oldest&limit=2", "", nil))
	if got.Books[0].ID != "book-01" || got.TotalPages != 3 {
		t.Fatalf("oldest sort failed: %+v", got)
	}
}

func TestListHighestRated(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.user(t, "owner", models.RoleUser)
	f.seed(t, owner.ID, 3, nil)
	if _, err := f.repo.DB.Exec(`UPDATE books SET average_rating = 4.5, total_reviews = 2 WHERE id = 'book-02'`); err != nil {
		t.Fatalf("set rating: %v", err)
	}

	got := decodeList(t, f.do(t, http.MethodGet, "/api/books?sort=highest-rated", "", nil))
	if got.Books[0].ID != "book-02" {
		t.Fatalf("expected book-02 first, got %s", got.Books[0].ID)
	}
	got = decodeList(t, f.do(t, http.MethodGet, "/api/books?sort=rating", "", nil))
	if got.Books[0].ID != "book-02" {
		t.Fatalf("rating alias: expected book-02 first, got %s", got.Books[0].ID)
	}
}

func validBook() map[string]any {
	return map[string]any{
		"title":         "  Dune ",
		"author":        "Frank Herbert",
		"description":   "Spice.",
		"coverImage":    "https://img.example/dune.png",
		"genre":         "science-fiction",
		"publishedYear": "1965",
		"isbn":          "978-0441013593",
	}
}

func TestCreateBook(t *testing.T) {
	f := newFixture(t)
	u, tok := f.user(t, "writer", models.RoleUser)

	if rec := f.do(t, http.MethodPost, "/api/books", "", validBook()); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/api/books", tok, validBook())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var b models.Book
	_ = json.Unmarshal(rec.Body.Bytes(), &b)
	if b.Title != "Dune" || b.PublishedYear != 1965 || b.AddedBy != u.ID || b.TotalReviews != 0 {
		t.Fatalf("unexpected book %+v", b)
	}

	if rec := f.do(t, http.MethodPost, "/api/books", tok, validBook()); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate isbn, got %d", rec.Code)
	}

	missing := validBook()
	delete(missing, "genre")
	missing["isbn"] = "other"
	if rec := f.do(t, http.MethodPost, "/api/books", tok, missing); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing genre, got %d", rec.Code)
	}

	badYear := validBook()
	badYear["isbn"] = "other-2"
	badYear["publishedYear"] = "soon"
	if rec := f.do(t, http.MethodPost, "/api/books", tok, badYear); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad year, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateAndDeleteAuthorization(t *testing.T) {
	f := newFixture(t)
	owner, ownerTok := f.user(t, "owner", models.RoleUser)
	_, strangerTok := f.user(t, "stranger", models.RoleUser)
	_, adminTok := f.user(t, "admin", models.RoleAdmin)
	f.seed(t, owner.ID, 2, nil)

	rec := f.do(t, http.MethodPut, "/api/books/book-01", strangerTok, map[string]any{"title": "Hijacked"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger update, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/api/books/book-01", strangerTok, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger delete, got %d", rec.Code)
	}
	b, _ := f.repo.Get(context.Background(), "book-01")
	if b == nil || b.Title != "Title 01" {
		t.Fatalf("book changed by stranger: %+v", b)
	}

	rec = f.do(t, http.MethodPut, "/api/books/book-01", ownerTok, map[string]any{"title": "Renamed", "averageRating": 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("owner update: %d %s", rec.Code, rec.Body.String())
	}
	b, _ = f.repo.Get(context.Background(), "book-01")
	if b.Title != "Renamed" || b.AverageRating != 0 || b.Author != "Author" {
		t.Fatalf("unexpected book after update %+v", b)
	}

	if rec := f.do(t, http.MethodPut, "/api/books/book-01", ownerTok, map[string]any{"title": "  "}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank title, got %d", rec.Code)
	}

	if rec := f.do(t, http.MethodDelete, "/api/books/book-02", adminTok, nil); rec.Code != http.StatusOK {
		t.Fatalf("admin delete: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/books/book-02", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/api/books/missing", adminTok, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rec.Code)
	}
}

func TestGenres(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.user(t, "owner", models.RoleUser)
	f.seed(t, owner.ID, 3, func(i int, b *models.Book) {
		b.Genre = []string{"mystery", "fantasy", "mystery"}[i-1]
	})

	rec := f.do(t, http.MethodGet, "/api/books/genres", "", nil)
	var out struct {
		Genres []string `json:"genres"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if len(out.Genres) != 2 || out.Genres[0] != "fantasy" || out.Genres[1] != "mystery" {
		t.Fatalf("unexpected genres %v", out.Genres)
	}
}

func TestUpsertByISBNKeepsAggregate(t *testing.T) {
	f := newFixture(t)
	owner, _ := f.user(t, "owner", models.RoleUser)
	f.seed(t, owner.ID, 1, nil)
	if _, err := f.repo.DB.Exec(`UPDATE books SET average_rating = 3, total_reviews = 1`); err != nil {
		t.Fatalf("set rating: %v", err)
	}

	b := models.Book{ID: "ignored", Title: "New Title", Author: "A", Description: "d", CoverImage: "c",
		Genre: "fiction", PublishedYear: 1999, ISBN: "isbn-01", AddedBy: owner.ID}
	created, err := f.repo.UpsertByISBN(context.Background(), &b)
	if err != nil || created {
		t.Fatalf("upsert existing: created=%v err=%v", created, err)
	}
	if b.ID != "book-01" || b.Title != "New Title" || b.TotalReviews != 1 {
		t.Fatalf("unexpected upserted book %+v", b)
	}

	fresh := models.Book{ID: "book-new", Title: "T", Author: "A", Description: "d", CoverImage: "c",
		Genre: "fiction", PublishedYear: 1999, ISBN: "isbn-new", AddedBy: owner.ID}
	if created, err := f.repo.UpsertByISBN(context.Background(), &fresh); err != nil || !created {
		t.Fatalf("upsert new: created=%v err=%v", created, err)
	}
}
