package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"fundflow-server/src/ledger"
	"fundflow-server/src/middleware"
	"fundflow-server/src/models"
)

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

func Login(users UserStore, secret []byte, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var credentials struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if !decode(w, r, &credentials, "login") {
			return
		}

		user, err := users.GetUserByUsername(r.Context(), strings.ToLower(strings.TrimSpace(credentials.Username)))
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				log.Printf("ERROR: Failed to find user during login - Username: %s", credentials.Username)
				http.Error(w, "Invalid credentials", http.StatusUnauthorized)
				return
			}
			writeError(w, err, "look up user for login")
			return
		}

		if user.Locked {
			log.Printf("ERROR: Locked user attempted login - Username: %s", credentials.Username)
			http.Error(w, "User account is locked", http.StatusForbidden)
			return
		}

		if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(credentials.Password)); err != nil {
			log.Printf("ERROR: Invalid password attempt for username %s from IP %s", credentials.Username, r.RemoteAddr)
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}

		tokenString, err := middleware.IssueToken(secret, user, ttl, time.Now())
		if err != nil {
			log.Printf("ERROR: Failed to generate JWT token for user %s: %v", user.Username, err)
			http.Error(w, "Error generating token", http.StatusInternalServerError)
			return
		}

		log.Printf("INFO: Successful login - User: %s, ID: %d", user.Username, user.ID)
		writeJSON(w, http.StatusOK, map[string]any{
			"token": tokenString,
			"user":  user,
		})
	}
}
