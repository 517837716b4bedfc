package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"

	"project-tachyon/internal/apierr"
	"project-tachyon/internal/storage"
)

// tokenExpiry is the bearer-token lifetime (spec §6: "30-day expiry
// default").
const tokenExpiry = 30 * 24 * time.Hour

type ctxKey int

const userClaimsKey ctxKey = 0

// claims encodes {user_id, username, exp} exactly as spec §6 names it.
type claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	jwt.StandardClaims
}

func (s *Server) issueToken(u *storage.User) (string, error) {
	c := claims{
		UserID:   u.ID,
		Username: u.Username,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(tokenExpiry).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString([]byte(s.cfg.JWTSecret()))
}

func (s *Server) parseToken(raw string) (*claims, error) {
	c := &claims{}
	token, err := jwt.ParseWithClaims(raw, c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret()), nil
	})
	if err != nil {
		return nil, apierr.ErrUnauthorized
	}
	if !token.Valid {
		return nil, apierr.ErrUnauthorized
	}
	return c, nil
}

// authMiddleware requires a valid "Authorization: Bearer <token>" header.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, apierr.ErrUnauthorized)
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")
		c, err := s.parseToken(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userClaimsKey, c)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tokenQueryAuth authenticates via the ?token= query parameter instead
// of a header, for clients (media elements) that cannot set one (spec
// §6 GET /video/stream/:id).
func (s *Server) tokenQueryAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("token")
		if raw == "" {
			writeError(w, apierr.ErrUnauthorized)
			return
		}
		c, err := s.parseToken(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userClaimsKey, c)
		next(w, r.WithContext(ctx))
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string     `json:"token"`
	User  publicUser `json:"user"`
}

type publicUser struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, apierr.Validation("username and password required"))
		return
	}

	user, err := s.store.GetUserByUsername(req.Username)
	if err != nil {
		writeError(w, apierr.ErrUnauthorized)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, apierr.ErrUnauthorized)
		return
	}

	token, err := s.issueToken(user)
	if err != nil {
		writeError(w, apierr.StorageFailure(err))
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token: token,
		User:  publicUser{ID: user.ID, Username: user.Username},
	})
}

func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	c, _ := r.Context().Value(userClaimsKey).(*claims)
	if c == nil {
		writeError(w, apierr.ErrUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": publicUser{ID: c.UserID, Username: c.Username},
	})
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (s *Server) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	c, _ := r.Context().Value(userClaimsKey).(*claims)
	if c == nil {
		writeError(w, apierr.ErrUnauthorized)
		return
	}

	var req updatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, apierr.Validation("current_password and new_password required"))
		return
	}

	user, err := s.store.GetUserByUsername(c.Username)
	if err != nil {
		writeError(w, apierr.NotFound("user"))
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)) != nil {
		writeError(w, apierr.Validation("current password is incorrect"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, apierr.StorageFailure(err))
		return
	}
	if err := s.store.UpdateUserPasswordHash(user.ID, string(hash)); err != nil {
		writeError(w, apierr.StorageFailure(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
