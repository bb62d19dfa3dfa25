package auth

import (
	"crypto/rand"
	"math/big"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minPasswordLen = 8
	strongLen      = 12
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
)

var commonPasswords = map[string]struct{}{
	"password": {}, "123456": {}, "123456789": {}, "qwerty": {}, "abc123": {},
	"password123": {}, "admin": {}, "letmein": {}, "welcome": {}, "monkey": {},
	"1234567890": {}, "password1": {}, "qwerty123": {}, "admin123": {},
}

var keyboardPatterns = []string{"qwerty", "asdfgh", "zxcvbn", "123456", "abcdef"}

// PasswordReport is the outcome of CheckPassword. Feedback entries are hard
// failures; Warnings never block.
type PasswordReport struct {
	Valid    bool     `json:"is_valid"`
	Score    int      `json:"score"`
	Feedback []string `json:"feedback"`
	Warnings []string `json:"warnings"`
}

// CheckPassword scores password and lists every rule it breaks.
func CheckPassword(password string) PasswordReport {
	rep := PasswordReport{Valid: true, Feedback: []string{}, Warnings: []string{}}
	fail := func(msg string) {
		rep.Feedback = append(rep.Feedback, msg)
		rep.Valid = false
	}

	n := utf8.RuneCountInString(password)
	switch {
	case n < minPasswordLen:
		fail("Password must be at least 8 characters long")
	case n >= strongLen:
		rep.Score++
	}
	if len(password) > maxPasswordBytes {
		fail("Password must be at most 72 bytes long")
	}

	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r):
			special = true
		}
	}
	if !lower {
		fail("Password must contain at least one lowercase letter")
	} else {
		rep.Score++
	}
	if !upper {
		fail("Password must contain at least one uppercase letter")
	} else {
		rep.Score++
	}
	if !digit {
		fail("Password must contain at least one digit")
	} else {
		rep.Score++
	}
	if special {
		rep.Score++
	} else {
		rep.Warnings = append(rep.Warnings, "Consider adding special characters for better security")
	}

	lowered := strings.ToLower(password)
	if _, ok := commonPasswords[lowered]; ok {
		fail("This password is commonly used and easily guessed")
		rep.Score = 0
	}

	if hasSequentialLetters(password) {
		rep.Warnings = append(rep.Warnings, "Avoid sequential letters (e.g., 'abc', 'xyz')")
	}
	if n > 0 && float64(distinctRunes(password)) < float64(n)*0.7 {
		rep.Warnings = append(rep.Warnings, "Avoid repeated characters")
	}
	for _, p := range keyboardPatterns {
		if strings.Contains(lowered, p) {
			rep.Warnings = append(rep.Warnings, "Avoid common keyboard patterns")
			break
		}
	}
	return rep
}

// ValidatePassword returns a *ValidationError when password fails policy.
func ValidatePassword(password string) error {
	rep := CheckPassword(password)
	if rep.Valid {
		return nil
	}
	return &ValidationError{
		Message:  "Password does not meet security requirements",
		Feedback: rep.Feedback,
	}
}

// hasSequentialLetters finds three ascending lowercase letters, wrapping
// z to a.
func hasSequentialLetters(s string) bool {
	b := []byte(s)
	for i := 0; i+2 < len(b); i++ {
		a, c, d := b[i], b[i+1], b[i+2]
		if !isLowerASCII(a) || !isLowerASCII(c) || !isLowerASCII(d) {
			continue
		}
		if next(a) == c && next(c) == d {
			return true
		}
	}
	return false
}

func isLowerASCII(b byte) bool { return b >= 'a' && b <= 'z' }

func next(b byte) byte {
	if b == 'z' {
		return 'a'
	}
	return b + 1
}

func distinctRunes(s string) int {
	seen := make(map[rune]struct{}, len(s))
	for _, r := range s {
		seen[r] = struct{}{}
	}
	return len(seen)
}

const (
	pwLower   = "abcdefghijklmnopqrstuvwxyz"
	pwUpper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	pwDigits  = "0123456789"
	pwSpecial = "!@#$%^&*()-_=+[]{};:,.?"
)

// GeneratePassword returns a random password of at least 8 characters that
// passes CheckPassword.
func GeneratePassword(length int) (string, error) {
	if length < minPasswordLen {
		length = minPasswordLen
	}
	if length > maxPasswordBytes {
		length = maxPasswordBytes
	}
	all := pwLower + pwUpper + pwDigits + pwSpecial
	for {
		out := make([]byte, 0, length)
		for _, set := range []string{pwLower, pwUpper, pwDigits, pwSpecial} {
			c, err := pick(set)
			if err != nil {
				return "", err
			}
			out = append(out, c)
		}
		for len(out) < length {
			c, err := pick(all)
			if err != nil {
				return "", err
			}
			out = append(out, c)
		}
		if err := shuffle(out); err != nil {
			return "", err
		}
		if CheckPassword(string(out)).Valid {
			return string(out), nil
		}
	}
}

func pick(set string) (byte, error) {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[i.Int64()], nil
}

func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		b[i], b[j.Int64()] = b[j.Int64()], b[i]
	}
	return nil
}
