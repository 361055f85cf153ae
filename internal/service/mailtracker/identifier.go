package mailtracker

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// TokenLength is the length of a message token.
const TokenLength = 32

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewOpaqueID returns a random TokenLength-character alphanumeric token
// drawn from crypto/rand.
func NewOpaqueID() (string, error) {
	const n = len(tokenAlphabet)
	// largest multiple of n that fits in a byte, for unbiased sampling
	const limit = 256 - 256%n

	out := make([]byte, 0, TokenLength)
	buf := make([]byte, TokenLength*2)
	for len(out) < TokenLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%n])
			if len(out) == TokenLength {
				break
			}
		}
	}
	return string(out), nil
}

// DeriveLinkID returns the link id for url within the message identified
// by token. The id is stable for a (url, token) pair and URL-safe.
func DeriveLinkID(url, token string) string {
	h := sha256.New()
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write([]byte(token))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
