package auth

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// PasswordPolicy holds configurable password strength rules.
type PasswordPolicy struct {
	MinLength int
}

// DefaultPasswordPolicy matches the registration contract defaults.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8}
}

// Validate returns every policy violation for the candidate password.
func (p PasswordPolicy) Validate(password string) []string {
	minLength := p.MinLength
	if minLength <= 0 {
		minLength = 8
	}
	var messages []string
	if utf8.RuneCountInString(password) < minLength {
		messages = append(messages, fmt.Sprintf("password must be at least %d characters long", minLength))
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		messages = append(messages, "password must contain both letters and digits")
	}
	return messages
}

// HashPassword produces a salted bcrypt hash. Plaintext is never stored.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hashed), nil
}

// CheckPassword compares a bcrypt hash against a candidate password.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
