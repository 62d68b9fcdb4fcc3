package util

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"fundflow-server/src/models"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	lowerPattern = regexp.MustCompile("[a-z]")
	upperPattern = regexp.MustCompile("[A-Z]")
	digitPattern = regexp.MustCompile("[0-9]")
	otherPattern = regexp.MustCompile(`[^A-Za-z0-9]`)
)

func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

func ValidateUsername(username string) bool {
	return len(username) >= 3 && len(username) <= 30
}

func ValidatePassword(password string) bool {
	if len(password) < 8 {
		return false
	}
	return lowerPattern.MatchString(password) &&
		upperPattern.MatchString(password) &&
		digitPattern.MatchString(password) &&
		otherPattern.MatchString(password)
}

// NewUser validates the fields and returns a user row with a bcrypt hash of
// password, ready to be stored.
func NewUser(username, email, password string, admin bool) (*models.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.ToLower(strings.TrimSpace(email))
	if !ValidateUsername(username) {
		return nil, errors.New("username must be between 3 and 30 characters")
	}
	if !ValidateEmail(email) {
		return nil, errors.New("invalid email address")
	}
	if !ValidatePassword(password) {
		return nil, errors.New("password must be at least 8 characters with uppercase, lowercase, digit, and special character")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	role := models.RoleUser
	if admin {
		role = models.RoleAdmin
	}
	return &models.User{Username: username, Email: email, PasswordHash: hash, Role: role}, nil
}
