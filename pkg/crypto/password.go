package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordLength is the longest accepted password, in characters.
const MaxPasswordLength = 128

// ErrPasswordTooLong is returned by HashPassword for over-length input.
var ErrPasswordTooLong = errors.New("Password must be shorter than 128 characters")

const punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// preHash maps any password to a 64 byte hex digest so bcrypt's 72 byte
// input limit never truncates it.
func preHash(plain string) []byte {
	sum := sha256.Sum256([]byte(plain))
	return []byte(hex.EncodeToString(sum[:]))
}

// HashPassword hashes plaintext using SHA-256 followed by bcrypt.
func HashPassword(plain string) (string, error) {
	if utf8.RuneCountInString(plain) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword(preHash(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword reports whether plain matches digest. Any error, including
// a malformed digest, yields false.
func VerifyPassword(plain, digest string) bool {
	if digest == "" || utf8.RuneCountInString(plain) > MaxPasswordLength {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), preHash(plain)) == nil
}

// ValidatePasswordStrength returns false and the first failing rule, or true
// and "Password is strong".
func ValidatePasswordStrength(plain string) (bool, string) {
	length := utf8.RuneCountInString(plain)
	switch {
	case length < 8:
		return false, "Password must be at least 8 characters long"
	case length > MaxPasswordLength:
		return false, "Password must be shorter than 128 characters"
	case !strings.ContainsFunc(plain, unicode.IsUpper):
		return false, "Password must contain at least one uppercase letter"
	case !strings.ContainsFunc(plain, unicode.IsLower):
		return false, "Password must contain at least one lowercase letter"
	case !strings.ContainsFunc(plain, unicode.IsDigit):
		return false, "Password must contain at least one digit"
	case !strings.ContainsAny(plain, punctuation):
		return false, "Password must contain at least one special character"
	}
	return true, "Password is strong"
}

// GenerateSecurePassword returns a random password of length characters drawn
// from letters, digits and punctuation.
func GenerateSecurePassword(length int) (string, error) {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789" + punctuation
	size := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}
