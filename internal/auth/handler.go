package auth

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"bookreview/internal/apperr"
	"bookreview/pkg/models"
)

const (
	maxBioLen     = 500
	maxPictureLen = 2048
)

type Handler struct {
	Store  Store
	Tokens TokenService

	// Guard, when set, runs in front of register and login (rate limiting).
	Guard gin.HandlerFunc
	// IsAdmin decides whether a newly registered email gets the admin role.
	IsAdmin func(email string) bool
}

func NewHandler(store Store, tokens TokenService) *Handler {
	return &Handler{Store: store, Tokens: tokens}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/register", h.guarded(h.register)...)
	rg.POST("/login", h.guarded(h.login)...)

	authed := rg.Group("", AuthMiddleware(h.Tokens, h.Store))
	authed.GET("/profile", h.getProfile)
	authed.PUT("/profile", h.updateProfile)
	authed.POST("/change-password", h.changePassword)
	authed.POST("/logout", h.logout)
}

func (h *Handler) guarded(hf gin.HandlerFunc) []gin.HandlerFunc {
	if h.Guard == nil {
		return []gin.HandlerFunc{hf}
	}
	return []gin.HandlerFunc{h.Guard, hf}
}

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func validUsername(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= 3 && n <= 30
}

func (h *Handler) register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid JSON body"))
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	if !validUsername(req.Username) {
		apperr.Respond(c, apperr.Validation("Username must be 3-30 characters"))
		return
	}
	if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email || len(req.Email) > 255 {
		apperr.Respond(c, apperr.Validation("Invalid email"))
		return
	}
	if len(req.Password) < 8 || len(req.Password) > 72 {
		apperr.Respond(c, apperr.Validation("Password must be 8-72 characters"))
		return
	}

	ctx := c.Request.Context()
	// uniqueness checks; the unique indexes catch the race
	if u, err := h.Store.GetByEmail(ctx, req.Email); err != nil {
		apperr.Respond(c, err)
		return
	} else if u != nil {
		apperr.Respond(c, apperr.Conflict("Email already registered"))
		return
	}
	if u, err := h.Store.GetByUsername(ctx, req.Username); err != nil {
		apperr.Respond(c, err)
		return
	} else if u != nil {
		apperr.Respond(c, apperr.Conflict("Username already taken"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	u := &models.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         models.RoleUser,
	}
	if h.IsAdmin != nil && h.IsAdmin(u.Email) {
		u.Role = models.RoleAdmin
	}

	if err := h.Store.CreateUser(ctx, u); err != nil {
		apperr.Respond(c, err)
		return
	}

	// auto-login
	h.respondWithToken(c, http.StatusCreated, u)
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid JSON body"))
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		apperr.Respond(c, apperr.Validation("Email and password are required"))
		return
	}

	u, err := h.Store.GetByEmail(c.Request.Context(), email)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	// don't reveal which part failed
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		apperr.Respond(c, apperr.Unauthenticated("Invalid credentials"))
		return
	}

	h.respondWithToken(c, http.StatusOK, u)
}

func (h *Handler) respondWithToken(c *gin.Context, status int, u *models.User) {
	token, exp, err := h.Tokens.Sign(u)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(status, gin.H{
		"token":     token,
		"expiresAt": exp.UTC().Format(time.RFC3339),
		"user":      u,
	})
}

func (h *Handler) currentUser(c *gin.Context) (*models.User, bool) {
	claims := MustGetClaims(c)
	if claims == nil {
		apperr.Respond(c, apperr.ErrUnauthenticated)
		return nil, false
	}
	u, err := h.Store.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		apperr.Respond(c, err)
		return nil, false
	}
	if u == nil {
		apperr.Respond(c, apperr.NotFound("User not found"))
		return nil, false
	}
	return u, true
}

func (h *Handler) getProfile(c *gin.Context) {
	u, ok := h.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, u)
}

type profileReq struct {
	Username       *string `json:"username"`
	Bio            *string `json:"bio"`
	ProfilePicture *string `json:"profilePicture"`
}

func (h *Handler) updateProfile(c *gin.Context) {
	claims := MustGetClaims(c)
	if claims == nil {
		apperr.Respond(c, apperr.ErrUnauthenticated)
		return
	}

	var req profileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid JSON body"))
		return
	}

	var patch models.ProfilePatch
	if req.Username != nil {
		name := strings.TrimSpace(*req.Username)
		if !validUsername(name) {
			apperr.Respond(c, apperr.Validation("Username must be 3-30 characters"))
			return
		}
		patch.Username = &name
	}
	if req.Bio != nil {
		bio := strings.TrimSpace(*req.Bio)
		if utf8.RuneCountInString(bio) > maxBioLen {
			apperr.Respond(c, apperr.Validation("Bio must be at most 500 characters"))
			return
		}
		patch.Bio = &bio
	}
	if req.ProfilePicture != nil {
		pic := strings.TrimSpace(*req.ProfilePicture)
		if len(pic) > maxPictureLen {
			apperr.Respond(c, apperr.Validation("Profile picture URL is too long"))
			return
		}
		patch.ProfilePicture = &pic
	}

	u, err := h.Store.UpdateProfile(c.Request.Context(), claims.UserID, patch)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

type changePasswordReq struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) changePassword(c *gin.Context) {
	var req changePasswordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.Validation("Invalid JSON body"))
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		apperr.Respond(c, apperr.Validation("Old and new password are required"))
		return
	}
	if len(req.NewPassword) < 8 || len(req.NewPassword) > 72 {
		apperr.Respond(c, apperr.Validation("Password must be 8-72 characters"))
		return
	}

	u, ok := h.currentUser(c)
	if !ok {
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.OldPassword)); err != nil {
		apperr.Respond(c, apperr.Unauthenticated("Invalid credentials"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if err := h.Store.UpdatePasswordAndBumpTokenVersion(c.Request.Context(), u.ID, string(hash)); err != nil {
		apperr.Respond(c, err)
		return
	}

	apperr.Message(c, http.StatusOK, "Password updated")
}

func (h *Handler) logout(c *gin.Context) {
	claims := MustGetClaims(c)
	if claims == nil {
		apperr.Respond(c, apperr.ErrUnauthenticated)
		return
	}
	if err := h.Store.BumpTokenVersion(c.Request.Context(), claims.UserID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			apperr.Respond(c, apperr.ErrUnauthenticated)
			return
		}
		apperr.Respond(c, err)
		return
	}
	apperr.Message(c, http.StatusOK, "Logged out")
}
