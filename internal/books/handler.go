package books

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bookreview/internal/apperr"
	"bookreview/internal/auth"
	"bookreview/internal/policy"
	"bookreview/internal/sync"
	"bookreview/pkg/models"
)

type Handler struct {
	Store Store
	Hub   *sync.Hub
}

func NewHandler(store Store, hub *sync.Hub) *Handler {
	return &Handler{Store: store, Hub: hub}
}

// RegisterRoutes mounts the book routes. authMW guards the write routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	rg.GET("", h.list)
	rg.GET("/genres", h.genres)
	rg.GET("/:id", h.getByID)
	rg.POST("", authMW, h.create)
	rg.PUT("/:id", authMW, h.update)
	rg.DELETE("/:id", authMW, h.delete)
}

func (h *Handler) list(c *gin.Context) {
	q := models.BookQuery{
		Search: c.Query("search"),
		Genre:  c.Query("genre"),
		Sort:   models.ParseBookSort(c.Query("sort")),
		Page:   parseInt(c.Query("page"), 1),
		Limit:  parseInt(c.Query("limit"), models.DefaultPageLimit),
	}.Normalize()

	// count and page are separate reads over the same predicate
	total, err := h.Store.Count(c.Request.Context(), q)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	items, err := h.Store.List(c.Request.Context(), q)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"books":       items,
		"currentPage": q.Page,
		"totalPages":  models.TotalPages(total, q.Limit),
		"totalBooks":  total,
	})
}

func (h *Handler) genres(c *gin.Context) {
	gs, err := h.Store.Genres(c.Request.Context())
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"genres": gs})
}

func (h *Handler) getByID(c *gin.Context) {
	b, err := h.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if b == nil {
		apperr.Respond(c, apperr.NotFound("Book not found"))
		return
	}
	c.JSON(http.StatusOK, b)
}

// yearValue accepts both 1999 and "1999"; form inputs post strings.
type yearValue int

func (y *yearValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return apperr.Validation("Published year must be a number")
		}
		*y = yearValue(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return apperr.Validation("Published year must be a number")
	}
	*y = yearValue(n)
	return nil
}

type bookReq struct {
	Title         *string    `json:"title"`
	Author        *string    `json:"author"`
	Description   *string    `json:"description"`
	CoverImage    *string    `json:"coverImage"`
	Genre         *string    `json:"genre"`
	PublishedYear *yearValue `json:"publishedYear"`
	ISBN          *string    `json:"isbn"`
}

const maxTextLen = 5000

// toPatch trims and validates the present fields. With requireAll, every
// field must be present and non-empty.
func (r bookReq) toPatch(requireAll bool) (models.BookPatch, error) {
	var p models.BookPatch
	fields := []struct {
		name string
		in   *string
		out  **string
	}{
		{"Title", r.Title, &p.Title},
		{"Author", r.Author, &p.Author},
		{"Description", r.Description, &p.Description},
		{"Cover image", r.CoverImage, &p.CoverImage},
		{"Genre", r.Genre, &p.Genre},
		{"ISBN", r.ISBN, &p.ISBN},
	}
	for _, f := range fields {
		if f.in == nil {
			if requireAll {
				return p, apperr.Validation(f.name + " is required")
			}
			continue
		}
		v := strings.TrimSpace(*f.in)
		if v == "" {
			return p, apperr.Validation(f.name + " is required")
		}
		if utf8.RuneCountInString(v) > maxTextLen {
			return p, apperr.Validation(f.name + " is too long")
		}
		*f.out = &v
	}

	if r.PublishedYear == nil {
		if requireAll {
			return p, apperr.Validation("Published year is required")
		}
		return p, nil
	}
	year := int(*r.PublishedYear)
	if year < 0 || year > time.Now().Year()+1 {
		return p, apperr.Validation("Published year is out of range")
	}
	p.PublishedYear = &year
	return p, nil
}

func bindBook(c *gin.Context) (bookReq, bool) {
	var req bookReq
	if err := c.ShouldBindJSON(&req); err != nil {
		var ve *apperr.ValidationError
		if errors.As(err, &ve) {
			apperr.Respond(c, ve)
		} else {
			apperr.Respond(c, apperr.Validation("Invalid JSON body"))
		}
		return req, false
	}
	return req, true
}

func (h *Handler) create(c *gin.Context) {
	user := auth.Principal(c)
	if !policy.Can(user, policy.ActionCreate, policy.Book("")) {
		apperr.Respond(c, apperr.ErrUnauthenticated)
		return
	}

	req, ok := bindBook(c)
	if !ok {
		return
	}
	p, err := req.toPatch(true)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	b := &models.Book{
		ID:            uuid.NewString(),
		Title:         *p.Title,
		Author:        *p.Author,
		Description:   *p.Description,
		CoverImage:    *p.CoverImage,
		Genre:         *p.Genre,
		PublishedYear: *p.PublishedYear,
		ISBN:          *p.ISBN,
		AddedBy:       user.ID,
	}
	if err := h.Store.Create(c.Request.Context(), b); err != nil {
		apperr.Respond(c, err)
		return
	}

	h.Hub.Publish(sync.BookEvent{Type: sync.EventBookCreated, BookID: b.ID, Title: b.Title, UserID: user.ID, At: time.Now().UTC()})
	c.JSON(http.StatusCreated, b)
}

// authorize loads the book and checks the caller may apply action to it.
func (h *Handler) authorize(c *gin.Context, action policy.Action) (*models.Book, *policy.Principal, bool) {
	user := auth.Principal(c)
	b, err := h.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperr.Respond(c, err)
		return nil, nil, false
	}
	if b == nil {
		apperr.Respond(c, apperr.NotFound("Book not found"))
		return nil, nil, false
	}
	if !policy.Can(user, action, policy.Book(b.AddedBy)) {
		apperr.Respond(c, apperr.Forbidden("Not authorized to "+string(action)+" this book"))
		return nil, nil, false
	}
	return b, user, true
}

func (h *Handler) update(c *gin.Context) {
	b, user, ok := h.authorize(c, policy.ActionUpdate)
	if !ok {
		return
	}
	req, ok := bindBook(c)
	if !ok {
		return
	}
	p, err := req.toPatch(false)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	updated, err := h.Store.Update(c.Request.Context(), b.ID, p)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	h.Hub.Publish(sync.BookEvent{Type: sync.EventBookUpdated, BookID: updated.ID, Title: updated.Title, UserID: user.ID, At: time.Now().UTC()})
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) delete(c *gin.Context) {
	b, user, ok := h.authorize(c, policy.ActionDelete)
	if !ok {
		return
	}
	if err := h.Store.Delete(c.Request.Context(), b.ID); err != nil {
		apperr.Respond(c, err)
		return
	}

	h.Hub.Publish(sync.BookEvent{Type: sync.EventBookDeleted, BookID: b.ID, Title: b.Title, UserID: user.ID, At: time.Now().UTC()})
	apperr.Message(c, http.StatusOK, "Book deleted successfully")
}

func parseInt(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
