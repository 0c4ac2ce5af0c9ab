package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"bookreview/pkg/database"
	"bookreview/pkg/models"
)

func newTestServer(t *testing.T) (*gin.Engine, *Repo) {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "auth.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	gin.SetMode(gin.TestMode)
	repo := NewRepo(db)
	h := NewHandler(repo, TokenService{Secret: []byte("test-secret-0123456789"), Issuer: "test", Duration: time.Hour})
	h.IsAdmin = func(email string) bool { return email == "boss@example.com" }

	r := gin.New()
	h.RegisterRoutes(r.Group("/api/users"))
	return r, repo
}

func doJSON(t *testing.T, r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
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
	r.ServeHTTP(rec, req)
	return rec
}

type authResp struct {
	Token string `json:"token"`
	User  struct {
		ID       string `json:"_id"`
		Username string `json:"username"`
		Email    string `json:"email"`
		Role     string `json:"role"`
		Bio      string `json:"bio"`
	} `json:"user"`
	Message string `json:"message"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) authResp {
	t.Helper()
	var out authResp
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRegisterLoginAndProfile(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doJSON(t, r, http.MethodPost, "/api/users/register", "", map[string]string{
		"username": "alice", "email": "Alice@Example.com", "password": "password123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}
	reg := decode(t, rec)
	if reg.Token == "" || reg.User.Email != "alice@example.com" || reg.User.Role != "user" {
		t.Fatalf("unexpected register response: %+v", reg)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("password")) {
		t.Fatalf("password hash leaked: %s", rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodPost, "/api/users/login", "", map[string]string{
		"email": "alice@example.com", "password": "password123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	token := decode(t, rec).Token

	rec = doJSON(t, r, http.MethodPut, "/api/users/profile", token, map[string]string{
		"bio": "  reads a lot  ", "profilePicture": "https://img.example/a.png",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update profile: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodGet, "/api/users/profile", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get profile: %d %s", rec.Code, rec.Body.String())
	}
	var profile struct {
		Bio            string `json:"bio"`
		ProfilePicture string `json:"profilePicture"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &profile)
	if profile.Bio != "reads a lot" || profile.ProfilePicture != "https://img.example/a.png" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestRegisterValidationAndConflicts(t *testing.T) {
	r, _ := newTestServer(t)

	cases := []map[string]string{
		{"username": "al", "email": "al@example.com", "password": "password123"},
		{"username": "alice", "email": "not-an-email", "password": "password123"},
		{"username": "alice", "email": "alice@example.com", "password": "short"},
	}
	for _, body := range cases {
		rec := doJSON(t, r, http.MethodPost, "/api/users/register", "", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d", body, rec.Code)
		}
		if decode(t, rec).Message == "" {
			t.Fatalf("expected message for %v", body)
		}
	}

	ok := map[string]string{"username": "alice", "email": "alice@example.com", "password": "password123"}
	if rec := doJSON(t, r, http.MethodPost, "/api/users/register", "", ok); rec.Code != http.StatusCreated {
		t.Fatalf("register: %d", rec.Code)
	}
	dupEmail := map[string]string{"username": "alice2", "email": "alice@example.com", "password": "password123"}
	if rec := doJSON(t, r, http.MethodPost, "/api/users/register", "", dupEmail); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", rec.Code)
	}
	dupName := map[string]string{"username": "alice", "email": "other@example.com", "password": "password123"}
	if rec := doJSON(t, r, http.MethodPost, "/api/users/register", "", dupName); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", rec.Code)
	}
}

func TestRegisterAdminEmailGetsAdminRole(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doJSON(t, r, http.MethodPost, "/api/users/register", "", map[string]string{
		"username": "boss", "email": "boss@example.com", "password": "password123", "role": "user",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: %d", rec.Code)
	}
	if role := decode(t, rec).User.Role; role != "admin" {
		t.Fatalf("expected admin role, got %q", role)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	r, _ := newTestServer(t)
	doJSON(t, r, http.MethodPost, "/api/users/register", "", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "password123",
	})

	rec := doJSON(t, r, http.MethodPost, "/api/users/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if msg := decode(t, rec).Message; msg != "Invalid credentials" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestProfileRequiresToken(t *testing.T) {
	r, _ := newTestServer(t)
	if rec := doJSON(t, r, http.MethodGet, "/api/users/profile", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := doJSON(t, r, http.MethodGet, "/api/users/profile", "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doJSON(t, r, http.MethodPost, "/api/users/register", "", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "password123",
	})
	token := decode(t, rec).Token

	if rec := doJSON(t, r, http.MethodPost, "/api/users/logout", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("logout: %d", rec.Code)
	}
	if rec := doJSON(t, r, http.MethodGet, "/api/users/profile", token, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to fail, got %d", rec.Code)
	}
}

func TestChangePasswordRevokesOldToken(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doJSON(t, r, http.MethodPost, "/api/users/register", "", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "password123",
	})
	token := decode(t, rec).Token

	rec = doJSON(t, r, http.MethodPost, "/api/users/change-password", token, map[string]string{
		"oldPassword": "password123", "newPassword": "newpassword456",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("change password: %d %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, r, http.MethodGet, "/api/users/profile", token, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("old token should be revoked, got %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodPost, "/api/users/login", "", map[string]string{
		"email": "alice@example.com", "password": "newpassword456",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login with new password: %d", rec.Code)
	}
}

var tokenUser = models.User{ID: "u-1", Username: "alice", Role: models.RoleAdmin, TokenVersion: 3}

func TestTokenServiceRejectsForeignSecret(t *testing.T) {
	a := TokenService{Secret: []byte("secret-a-0123456789"), Issuer: "test", Duration: time.Hour}
	b := TokenService{Secret: []byte("secret-b-0123456789"), Issuer: "test", Duration: time.Hour}

	tok, _, err := a.Sign(&tokenUser)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := b.Parse(tok); err == nil {
		t.Fatalf("expected parse with foreign secret to fail")
	}
	claims, err := a.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != tokenUser.ID || claims.Role != tokenUser.Role {
		t.Fatalf("unexpected claims %+v", claims)
	}
}
