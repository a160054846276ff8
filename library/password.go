package library

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordTooLong is returned for passwords bcrypt cannot hash.
var ErrPasswordTooLong = errors.New("password exceeds maximum length of 72 bytes")

// HashPassword creates a bcrypt hash of the password.
func HashPassword(password string, cost int) (string, error) {
	// bcrypt has a 72-byte limit
	if len(password) > 72 {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// isBcryptHash tells stored hashes apart from legacy plaintext passwords.
func isBcryptHash(stored string) bool { return strings.HasPrefix(stored, "$2") }

// CheckPassword compares a password with what is stored for the user. The
// second result is true when the stored value is legacy plaintext and should
// be rehashed.
func CheckPassword(password, stored string) (ok, legacy bool) {
	if !isBcryptHash(stored) {
		return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1, true
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil, false
}

// dummyHash is compared against for unknown usernames so that a miss costs
// the same as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("library-dummy-password"), bcrypt.DefaultCost)
