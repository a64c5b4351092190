package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordMismatch indicates the supplied password does not match the
// stored hash.
var ErrPasswordMismatch = errors.New("auth: password mismatch")

var errEmptyPassword = errors.New("auth: password must not be empty")

// HashPassword derives a bcrypt hash for storage alongside the profile row.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a candidate password against a stored hash.
func CheckPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}
