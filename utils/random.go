package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateCode returns an uppercase hex string from n random bytes.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// NewSessionID mints an opaque session lease token.
func NewSessionID() string {
	code, err := GenerateCode(16)
	if err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return "sess_" + strings.ToLower(code)
}

// NewReservationID mints a reservation identifier, which doubles as the
// idempotency key for commit and release.
func NewReservationID() string {
	code, err := GenerateCode(16)
	if err != nil {
		panic(err)
	}
	return "res_" + strings.ToLower(code)
}
