package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// KeyPrefix identifies portal API keys.
	KeyPrefix = "portal_"
	// KeySecretLength is the number of random bytes per key (256 bits).
	KeySecretLength = 32
	// DisplayPrefixLength is how many characters of the cleartext are kept
	// for UI display. Leaks roughly 32 bits of a 256-bit secret.
	DisplayPrefixLength = 8

	maskPlaceholder = "************"
)

// Hasher computes peppered one-way digests of API-key secrets. Digests, not
// secrets, are what callers compare; hmac.Equal keeps that comparison
// constant-time.
type Hasher struct {
	pepper []byte
}

// NewHasher creates a hasher bound to the application-wide pepper.
func NewHasher(pepper string) *Hasher {
	return &Hasher{pepper: []byte(pepper)}
}

// Hash returns the peppered HMAC-SHA256 digest of secret as fixed-length hex.
func (h *Hasher) Hash(secret string) string {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares two digests in constant time.
func (h *Hasher) Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// GenerateAPIKey creates a new key secret.
// Format: portal_<base64url(32 random bytes)>.
// Returns the cleartext (shown to the caller exactly once), the stored
// digest, and the display prefix.
func (h *Hasher) GenerateAPIKey(prefixLength int) (cleartext, digest, prefix string, err error) {
	if prefixLength <= 0 {
		prefixLength = DisplayPrefixLength
	}

	randomBytes := make([]byte, KeySecretLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	cleartext = KeyPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	digest = h.Hash(cleartext)

	prefix = cleartext
	if len(cleartext) > prefixLength {
		prefix = cleartext[:prefixLength]
	}

	return cleartext, digest, prefix, nil
}

// Mask returns the display form of a key: the stored prefix followed by a
// fixed placeholder.
func Mask(prefix string) string {
	return prefix + maskPlaceholder
}

// HashPassword returns a salted bcrypt digest of the password. API keys
// are high-entropy random secrets and keep the HMAC scheme above;
// passwords are low-entropy and get a per-user salt and a work factor.
func HashPassword(password string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(digest), nil
}

// VerifyPassword reports whether password matches the stored digest.
func VerifyPassword(digest, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}
