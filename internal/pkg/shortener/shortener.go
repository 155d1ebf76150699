package shortener

import (
	"crypto/rand"
	"fmt"
)

// Base62 Alphabet für Slug-Suffixe (0-9, a-z, A-Z)
const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// rejectAbove is the largest multiple of len(alphabet) below 256. Bytes at
// or above it are discarded to keep the character distribution uniform.
const rejectAbove = 248

// GenerateSecureSlug returns a random Base62 string of the given length,
// drawn from crypto/rand. Used to disambiguate duplicate course slugs.
func GenerateSecureSlug(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid slug length: %d", length)
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read secure random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= rejectAbove {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
