package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookreview/internal/auth"
	"bookreview/internal/books"
	"bookreview/internal/storage"
	"bookreview/pkg/models"
	"bookreview/pkg/utils"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config.yaml")
		booksIn    = flag.String("books", "data/books.csv", "input CSV path for books")
		owner      = flag.String("owner", "", "email of the user recorded as addedBy (required)")
		admin      = flag.String("admin", "", "email of a user to promote to admin")
	)
	flag.Parse()

	cfg, err := utils.Load(*configPath)
	if err != nil {
		fatal("config load failed", err)
	}
	utils.InitLogger(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stores, err := storage.Open(ctx, cfg)
	if err != nil {
		fatal("store open failed", err)
	}
	defer stores.Close(context.Background())

	if *admin != "" {
		if err := promote(ctx, stores.Users, *admin); err != nil {
			fatal("promote admin failed", err)
		}
		slog.Info("promoted admin", "email", *admin)
	}

	if *owner == "" {
		if *admin != "" {
			return
		}
		fatal("missing flag", errors.New("-owner is required to import books"))
	}
	ownerUser, err := stores.Users.GetByEmail(ctx, *owner)
	if err != nil {
		fatal("owner lookup failed", err)
	}
	if ownerUser == nil {
		fatal("owner lookup failed", fmt.Errorf("no user with email %s", *owner))
	}

	f, err := os.Open(*booksIn)
	if err != nil {
		fatal("open csv failed", err)
	}
	defer f.Close()

	created, updated, err := importBooks(ctx, stores.Books, f, ownerUser.ID)
	if err != nil {
		fatal("import books failed", err)
	}
	slog.Info("imported books", "path", *booksIn, "created", created, "updated", updated)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

func promote(ctx context.Context, users auth.Store, email string) error {
	u, err := users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("no user with email %s", email)
	}
	return users.SetRole(ctx, u.ID, models.RoleAdmin)
}

// importBooks upserts every row by ISBN. Rows without a title or ISBN are
// skipped. Existing books keep their id, owner and rating aggregate.
func importBooks(ctx context.Context, store books.Store, in io.Reader, ownerID string) (created, updated int, err error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1

	header, err := readHeader(r)
	if err != nil {
		return 0, 0, err
	}

	line := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return created, updated, err
		}
		line++
		if len(row) == 0 {
			continue
		}

		b := models.Book{
			ID:          uuid.NewString(),
			Title:       valueAt(header, row, "title"),
			Author:      valueAt(header, row, "author"),
			Description: valueAt(header, row, "description"),
			CoverImage:  firstOf(header, row, "cover_image", "coverimage"),
			Genre:       valueAt(header, row, "genre"),
			ISBN:        valueAt(header, row, "isbn"),
			AddedBy:     ownerID,
		}
		if b.Title == "" || b.ISBN == "" {
			slog.Warn("skipping row", "line", line, "reason", "title and isbn are required")
			continue
		}

		if raw := firstOf(header, row, "published_year", "publishedyear"); raw != "" {
			year, err := strconv.Atoi(raw)
			if err != nil {
				return created, updated, fmt.Errorf("parse published_year on line %d: %w", line, err)
			}
			b.PublishedYear = year
		}
		if raw := firstOf(header, row, "created_at", "createdat"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return created, updated, fmt.Errorf("parse created_at on line %d: %w", line, err)
			}
			b.CreatedAt = t
		}

		isNew, err := store.UpsertByISBN(ctx, &b)
		if err != nil {
			return created, updated, fmt.Errorf("upsert %s: %w", b.ISBN, err)
		}
		if isNew {
			created++
		} else {
			updated++
		}
	}
	return created, updated, nil
}

func readHeader(r *csv.Reader) (map[string]int, error) {
	row, err := r.Read()
	if err != nil {
		return nil, err
	}
	header := make(map[string]int, len(row))
	for idx, name := range row {
		header[strings.TrimSpace(strings.ToLower(name))] = idx
	}
	return header, nil
}

func valueAt(header map[string]int, row []string, key string) string {
	idx, ok := header[key]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// firstOf accepts both snake_case and camelCase column names.
func firstOf(header map[string]int, row []string, keys ...string) string {
	for _, k := range keys {
		if v := valueAt(header, row, k); v != "" {
			return v
		}
	}
	return ""
}
