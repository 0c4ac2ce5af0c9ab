package reviews

import (
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

const (
	minRating     = 1
	maxRating     = 5
	maxCommentLen = 2000
)

type Handler struct {
	Store Store
	Hub   *sync.Hub
}

func NewHandler(store Store, hub *sync.Hub) *Handler {
	return &Handler{Store: store, Hub: hub}
}

// RegisterRoutes mounts the review routes. authMW guards everything but the
// per-book listing.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	rg.GET("/book/:bookId", h.listByBook)
	rg.GET("/user", authMW, h.listMine)
	rg.POST("", authMW, h.create)
	rg.PUT("/:id", authMW, h.update)
	rg.DELETE("/:id", authMW, h.delete)
}

func validateRating(r int) error {
	if r < minRating || r > maxRating {
		return apperr.Validation("Rating must be between 1 and 5")
	}
	return nil
}

func normalizeComment(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperr.Validation("Comment is required")
	}
	if utf8.RuneCountInString(s) > maxCommentLen {
		return "", apperr.Validation("Comment must be at most 2000 characters")
	}
	return s, nil
}

type createReq struct {
	BookID  string `json:"bookId"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *Handler) create(c *gin.Context) {
	user := auth.Principal(c)
	if !policy.Can(user, policy.ActionCreate, policy.Review("")) {
		apperr.Respond(c, apperr.ErrUnauthenticated)
		return
	}

	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid review: rating must be a whole number"))
		return
	}
	bookID := strings.TrimSpace(req.BookID)
	if bookID == "" {
		apperr.Respond(c, apperr.Validation("bookId is required"))
		return
	}
	if err := validateRating(req.Rating); err != nil {
		apperr.Respond(c, err)
		return
	}
	comment, err := normalizeComment(req.Comment)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	rv := &models.Review{
		ID:      uuid.NewString(),
		UserID:  user.ID,
		BookID:  bookID,
		Rating:  req.Rating,
		Comment: comment,
	}
	agg, err := h.Store.Create(c.Request.Context(), rv)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	h.publish(sync.EventReviewCreated, rv, agg)
	c.JSON(http.StatusCreated, rv)
}

// authorize loads the review and checks the caller is allowed to act on it.
func (h *Handler) authorize(c *gin.Context, action policy.Action) (*models.Review, bool) {
	rv, err := h.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperr.Respond(c, err)
		return nil, false
	}
	if rv == nil {
		apperr.Respond(c, apperr.NotFound("Review not found"))
		return nil, false
	}
	if !policy.Can(auth.Principal(c), action, policy.Review(rv.UserID)) {
		apperr.Respond(c, apperr.Forbidden("Not authorized to "+string(action)+" this review"))
		return nil, false
	}
	return rv, true
}

type updateReq struct {
	Rating  *int    `json:"rating"`
	Comment *string `json:"comment"`
}

func (h *Handler) update(c *gin.Context) {
	rv, ok := h.authorize(c, policy.ActionUpdate)
	if !ok {
		return
	}

	var req updateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid review: rating must be a whole number"))
		return
	}
	var patch models.ReviewPatch
	if req.Rating != nil {
		if err := validateRating(*req.Rating); err != nil {
			apperr.Respond(c, err)
			return
		}
		patch.Rating = req.Rating
	}
	if req.Comment != nil {
		comment, err := normalizeComment(*req.Comment)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		patch.Comment = &comment
	}

	updated, agg, err := h.Store.Update(c.Request.Context(), rv.ID, patch)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	h.publish(sync.EventReviewUpdated, updated, agg)
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) delete(c *gin.Context) {
	rv, ok := h.authorize(c, policy.ActionDelete)
	if !ok {
		return
	}

	agg, err := h.Store.Delete(c.Request.Context(), rv.ID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	h.publish(sync.EventReviewDeleted, rv, agg)
	apperr.Message(c, http.StatusOK, "Review deleted successfully")
}

func (h *Handler) listByBook(c *gin.Context) {
	bookID := strings.TrimSpace(c.Param("bookId"))
	page, limit := models.ClampPage(parseInt(c.Query("page"), 1), parseInt(c.Query("limit"), models.DefaultPageLimit))

	items, total, err := h.Store.ListByBook(c.Request.Context(), bookID, page, limit)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reviews":      items,
		"currentPage":  page,
		"totalPages":   models.TotalPages(total, limit),
		"totalReviews": total,
	})
}

func (h *Handler) listMine(c *gin.Context) {
	user := auth.Principal(c)
	if user == nil {
		apperr.Respond(c, apperr.ErrUnauthenticated)
		return
	}
	items, err := h.Store.ListByUser(c.Request.Context(), user.ID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": items})
}

func (h *Handler) publish(kind string, rv *models.Review, agg models.Aggregate) {
	h.Hub.Publish(sync.RatingEvent{
		Type:          kind,
		BookID:        agg.BookID,
		ReviewID:      rv.ID,
		UserID:        rv.UserID,
		AverageRating: agg.AverageRating,
		TotalReviews:  agg.TotalReviews,
		At:            time.Now().UTC(),
	})
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
