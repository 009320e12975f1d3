package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Hashes are encoded as dc1$<rounds>$<salt>$<digest>.
const (
	hashVersion       = "dc1"
	defaultRounds     = 120000
	minRounds         = 100000
	MinPasswordLength = 12
)

var ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

// HashPassword salts and stretches an operator password for storage.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	digest := stretch(password, salt, defaultRounds)
	return strings.Join([]string{
		hashVersion,
		strconv.Itoa(defaultRounds),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	}, "$"), nil
}

// VerifyPassword reports whether password produces the stored hash.
// Malformed hashes never verify.
func VerifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != hashVersion {
		return false
	}
	rounds, err := strconv.Atoi(parts[1])
	if err != nil || rounds < minRounds {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(want) != sha256.Size {
		return false
	}
	return subtle.ConstantTimeCompare(stretch(password, salt, rounds), want) == 1
}

func stretch(password string, salt []byte, rounds int) []byte {
	sum := sha256.Sum256(append(append([]byte(nil), salt...), password...))
	buf := sum[:]
	for i := 1; i < rounds; i++ {
		next := sha256.Sum256(append(buf, salt...))
		buf = next[:]
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out
}

// NewSecret returns n random bytes encoded for use as an API secret.
func NewSecret(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("secret length must be positive")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Mask hides all but the last four characters of a secret.
func Mask(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}
