package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"bookreview/internal/storage"
	"bookreview/pkg/database"
	"bookreview/pkg/models"
)

func newStores(t *testing.T) *storage.Stores {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "import.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return storage.SQLite(db)
}

func TestImportBooksUpsertsByISBN(t *testing.T) {
	s := newStores(t)
	ctx := context.Background()

	owner := &models.User{ID: "owner-1", Username: "owner", Email: "owner@example.com", PasswordHash: "x"}
	if err := s.Users.CreateUser(ctx, owner); err != nil {
		t.Fatalf("create owner: %v", err)
	}

	first := `title,author,genre,publishedYear,isbn,description,coverImage
Dune,Frank Herbert,Sci-Fi,1965,9780441013593,Spice,https://img.example/dune.png
,No Title,Sci-Fi,1999,123,,
Emma,Jane Austen,Classic,1815,9780141439587,,
`
	created, updated, err := importBooks(ctx, s.Books, strings.NewReader(first), owner.ID)
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	if created != 2 || updated != 0 {
		t.Fatalf("expected 2 created, got created=%d updated=%d", created, updated)
	}

	second := `title,author,genre,published_year,isbn
Dune (Deluxe),Frank Herbert,Sci-Fi,1965,9780441013593
`
	created, updated, err = importBooks(ctx, s.Books, strings.NewReader(second), owner.ID)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if created != 0 || updated != 1 {
		t.Fatalf("expected 1 updated, got created=%d updated=%d", created, updated)
	}

	total, err := s.Books.Count(ctx, models.BookQuery{}.Normalize())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 books, got %d", total)
	}

	list, err := s.Books.List(ctx, models.BookQuery{Search: "dune"}.Normalize())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Dune (Deluxe)" || list[0].AddedBy != owner.ID {
		t.Fatalf("unexpected upserted book: %+v", list)
	}
}

func TestImportBooksRejectsBadYear(t *testing.T) {
	s := newStores(t)
	in := "title,isbn,published_year\nDune,1,nineteen\n"
	if _, _, err := importBooks(context.Background(), s.Books, strings.NewReader(in), "nobody"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPromote(t *testing.T) {
	s := newStores(t)
	ctx := context.Background()
	u := &models.User{ID: "u-1", Username: "root", Email: "root@example.com", PasswordHash: "x"}
	if err := s.Users.CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := promote(ctx, s.Users, "root@example.com"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	got, err := s.Users.GetByID(ctx, u.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Role != models.RoleAdmin {
		t.Fatalf("expected admin, got %q", got.Role)
	}
	if err := promote(ctx, s.Users, "missing@example.com"); err == nil {
		t.Fatal("expected error for unknown email")
	}
}
