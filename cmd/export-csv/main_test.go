package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"bookreview/internal/storage"
	"bookreview/pkg/database"
	"bookreview/pkg/models"
)

func TestExportBooksPagesThroughCatalogue(t *testing.T) {
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "export.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := storage.SQLite(db)
	ctx := context.Background()

	owner := &models.User{ID: "owner", Username: "owner", Email: "owner@example.com", PasswordHash: "x"}
	if err := s.Users.CreateUser(ctx, owner); err != nil {
		t.Fatalf("create owner: %v", err)
	}

	const n = models.MaxPageLimit + 5
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		b := &models.Book{
			ID:        fmt.Sprintf("book-%03d", i),
			Title:     fmt.Sprintf("Title %03d", i),
			Author:    "Author",
			ISBN:      fmt.Sprintf("isbn-%03d", i),
			AddedBy:   owner.ID,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Books.Create(ctx, b); err != nil {
			t.Fatalf("create book %d: %v", i, err)
		}
	}

	var buf bytes.Buffer
	written, err := exportBooks(ctx, s.Books, &buf)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if written != n {
		t.Fatalf("expected %d rows, got %d", n, written)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != n+1 {
		t.Fatalf("expected header plus %d rows, got %d", n, len(rows))
	}
	if rows[1][0] != "book-000" || rows[n][0] != fmt.Sprintf("book-%03d", n-1) {
		t.Fatalf("rows not in creation order: first=%s last=%s", rows[1][0], rows[n][0])
	}
	if rows[1][8] != "0.00" || rows[1][9] != "0" {
		t.Fatalf("unexpected aggregate columns %v", rows[1][8:10])
	}
}
