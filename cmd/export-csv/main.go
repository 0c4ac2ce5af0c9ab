package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"bookreview/internal/books"
	"bookreview/internal/storage"
	"bookreview/pkg/models"
	"bookreview/pkg/utils"
)

var header = []string{
	"id", "title", "author", "genre", "published_year", "isbn", "description", "cover_image",
	"average_rating", "total_reviews", "added_by", "created_at",
}

func main() {
	var (
		configPath = flag.String("config", "", "path to config.yaml")
		booksOut   = flag.String("books", "data/books.csv", "output CSV path for books")
	)
	flag.Parse()

	cfg, err := utils.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	utils.InitLogger(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stores, err := storage.Open(ctx, cfg)
	if err != nil {
		slog.Error("store open failed", "err", err)
		os.Exit(1)
	}
	defer stores.Close(context.Background())

	if err := os.MkdirAll(filepath.Dir(*booksOut), 0o755); err != nil {
		slog.Error("create output dir failed", "err", err)
		os.Exit(1)
	}
	f, err := os.Create(*booksOut)
	if err != nil {
		slog.Error("create output failed", "err", err)
		os.Exit(1)
	}
	defer f.Close()

	n, err := exportBooks(ctx, stores.Books, f)
	if err != nil {
		slog.Error("export books failed", "err", err)
		os.Exit(1)
	}
	slog.Info("exported books", "path", *booksOut, "rows", n)
}

// exportBooks pages through the catalogue oldest first, so rows appended
// while the export runs land at the end.
func exportBooks(ctx context.Context, store books.Store, out io.Writer) (int, error) {
	w := csv.NewWriter(out)
	if err := w.Write(header); err != nil {
		return 0, err
	}

	q := models.BookQuery{Sort: models.SortOldest, Page: 1, Limit: models.MaxPageLimit}.Normalize()
	written := 0
	for {
		page, err := store.List(ctx, q)
		if err != nil {
			return written, err
		}
		for _, b := range page {
			if err := w.Write([]string{
				b.ID,
				b.Title,
				b.Author,
				b.Genre,
				strconv.Itoa(b.PublishedYear),
				b.ISBN,
				b.Description,
				b.CoverImage,
				strconv.FormatFloat(b.AverageRating, 'f', 2, 64),
				strconv.Itoa(b.TotalReviews),
				b.AddedBy,
				b.CreatedAt.UTC().Format(time.RFC3339),
			}); err != nil {
				return written, err
			}
			written++
		}
		if len(page) < q.Limit {
			break
		}
		q.Page++
	}

	w.Flush()
	return written, w.Error()
}
