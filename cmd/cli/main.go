package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/gorilla/websocket"

	"bookreview/pkg/models"
)

const defaultBaseURL = "http://localhost:5000"

type authResponse struct {
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expiresAt"`
	User      models.User `json:"user"`
}

type bookListResponse struct {
	Books       []models.Book `json:"books"`
	CurrentPage int           `json:"currentPage"`
	TotalPages  int           `json:"totalPages"`
	TotalBooks  int           `json:"totalBooks"`
}

func main() {
	global := flag.NewFlagSet("bookreview", flag.ExitOnError)
	baseURL := global.String("api", envOr("BOOKREVIEW_API", defaultBaseURL), "API base URL")
	tokenPath := global.String("token", defaultTokenPath(), "token file path")
	_ = global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := newAPIClient(*baseURL, *tokenPath)
	cmd, sub, rest := args[0], args[1], args[2:]

	var err error
	switch cmd {
	case "auth":
		err = handleAuth(ctx, api, sub, rest)
	case "books":
		err = handleBooks(ctx, api, sub, rest)
	case "reviews":
		err = handleReviews(ctx, api, sub, rest)
	case "feed":
		err = handleFeed(ctx, *baseURL, sub)
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(cmd+" "+sub+" failed", "err", err)
		os.Exit(1)
	}
}

func handleAuth(ctx context.Context, api *apiClient, sub string, args []string) error {
	fs := flag.NewFlagSet("auth "+sub, flag.ExitOnError)
	username := fs.String("username", "", "username")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	_ = fs.Parse(args)

	switch sub {
	case "register", "login":
		payload := map[string]string{"email": *email, "password": *password}
		if sub == "register" {
			payload["username"] = *username
		}
		var resp authResponse
		if err := api.do(ctx, http.MethodPost, "/users/"+sub, nil, false, payload, &resp); err != nil {
			return err
		}
		tf := tokenFile{Token: resp.Token}
		_ = tf.ExpiresAt.UnmarshalText([]byte(resp.ExpiresAt))
		if err := api.saveToken(tf); err != nil {
			return err
		}
		fmt.Printf("logged in as %s\n", resp.User.Username)
		return nil
	case "logout":
		// revoke server side when possible, forget locally regardless
		_ = api.do(ctx, http.MethodPost, "/users/logout", nil, true, nil, nil)
		return api.clearToken()
	case "whoami":
		var u models.User
		if err := api.do(ctx, http.MethodGet, "/users/profile", nil, true, nil, &u); err != nil {
			return err
		}
		printJSON(u)
		return nil
	default:
		return fmt.Errorf("usage: bookreview auth <register|login|logout|whoami>")
	}
}

func handleBooks(ctx context.Context, api *apiClient, sub string, args []string) error {
	fs := flag.NewFlagSet("books "+sub, flag.ExitOnError)
	search := fs.String("search", "", "title or author substring")
	genre := fs.String("genre", "", "exact genre")
	sortBy := fs.String("sort", "newest", "newest|oldest|highest-rated|title|reviews")
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", models.DefaultPageLimit, "page size")
	id := fs.String("id", "", "book id")
	_ = fs.Parse(args)

	switch sub {
	case "list":
		q := url.Values{}
		if *search != "" {
			q.Set("search", *search)
		}
		if *genre != "" {
			q.Set("genre", *genre)
		}
		q.Set("sort", *sortBy)
		q.Set("page", strconv.Itoa(*page))
		q.Set("limit", strconv.Itoa(*limit))

		var resp bookListResponse
		if err := api.do(ctx, http.MethodGet, "/books", q, false, nil, &resp); err != nil {
			return err
		}
		for _, b := range resp.Books {
			fmt.Printf("%s  %-40s  %-24s  %.1f (%d)\n", b.ID, b.Title, b.Author, b.AverageRating, b.TotalReviews)
		}
		fmt.Printf("page %d/%d, %d books\n", resp.CurrentPage, resp.TotalPages, resp.TotalBooks)
		return nil
	case "show":
		if *id == "" {
			return fmt.Errorf("-id is required")
		}
		var b models.Book
		if err := api.do(ctx, http.MethodGet, "/books/"+url.PathEscape(*id), nil, false, nil, &b); err != nil {
			return err
		}
		printJSON(b)
		return nil
	case "genres":
		var resp struct {
			Genres []string `json:"genres"`
		}
		if err := api.do(ctx, http.MethodGet, "/books/genres", nil, false, nil, &resp); err != nil {
			return err
		}
		for _, g := range resp.Genres {
			fmt.Println(g)
		}
		return nil
	default:
		return fmt.Errorf("usage: bookreview books <list|show|genres>")
	}
}

func handleReviews(ctx context.Context, api *apiClient, sub string, args []string) error {
	fs := flag.NewFlagSet("reviews "+sub, flag.ExitOnError)
	bookID := fs.String("book", "", "book id")
	id := fs.String("id", "", "review id")
	rating := fs.Int("rating", 0, "rating 1..5")
	comment := fs.String("comment", "", "review text")
	page := fs.Int("page", 1, "page number")
	_ = fs.Parse(args)

	switch sub {
	case "list":
		if *bookID == "" {
			return fmt.Errorf("-book is required")
		}
		var resp json.RawMessage
		q := url.Values{"page": {strconv.Itoa(*page)}}
		if err := api.do(ctx, http.MethodGet, "/reviews/book/"+url.PathEscape(*bookID), q, false, nil, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	case "mine":
		var resp json.RawMessage
		if err := api.do(ctx, http.MethodGet, "/reviews/user", nil, true, nil, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	case "add":
		payload := map[string]any{"bookId": *bookID, "rating": *rating, "comment": *comment}
		var resp json.RawMessage
		if err := api.do(ctx, http.MethodPost, "/reviews", nil, true, payload, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	case "edit":
		if *id == "" {
			return fmt.Errorf("-id is required")
		}
		payload := map[string]any{}
		if *rating != 0 {
			payload["rating"] = *rating
		}
		if *comment != "" {
			payload["comment"] = *comment
		}
		var resp json.RawMessage
		if err := api.do(ctx, http.MethodPut, "/reviews/"+url.PathEscape(*id), nil, true, payload, &resp); err != nil {
			return err
		}
		printJSON(resp)
		return nil
	case "delete":
		if *id == "" {
			return fmt.Errorf("-id is required")
		}
		return api.do(ctx, http.MethodDelete, "/reviews/"+url.PathEscape(*id), nil, true, nil, nil)
	default:
		return fmt.Errorf("usage: bookreview reviews <list|mine|add|edit|delete>")
	}
}

func handleFeed(ctx context.Context, baseURL, sub string) error {
	if sub != "subscribe" {
		return fmt.Errorf("usage: bookreview feed subscribe")
	}
	endpoint, err := websocketURL(baseURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	slog.Info("feed connected", "url", endpoint)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Print(string(msg))
	}
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(b))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.bookreview-token.json"
	}
	return filepath.Join(home, ".bookreview", "token.json")
}

func printUsage() {
	fmt.Println("bookreview [-api url] <command> <subcommand> [flags]")
	fmt.Println("commands:")
	fmt.Println("  auth register|login|logout|whoami")
	fmt.Println("  books list|show|genres")
	fmt.Println("  reviews list|mine|add|edit|delete")
	fmt.Println("  feed subscribe")
}
