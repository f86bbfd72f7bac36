package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const refreshSecretSize = 32

// NewRefreshToken returns an opaque 32-byte random refresh token encoded as
// unpadded base64url. The raw value is handed to the client exactly once;
// only its SHA-256 ever touches the store.
func NewRefreshToken() (string, error) {
	var secret [refreshSecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(secret[:]), nil
}

// HashToken returns the lowercase hex SHA-256 of a token string. Used both
// as the session's current-refresh-token fingerprint and as the secondary
// index key component, so a store snapshot never contains redeemable values.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CheckRefreshTokenShape rejects values that cannot be a token this engine
// minted, before any store round-trip is spent on them.
func CheckRefreshTokenShape(token string) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return errors.New("invalid refresh token encoding")
	}
	if len(raw) != refreshSecretSize {
		return errors.New("invalid refresh token size")
	}
	return nil
}
