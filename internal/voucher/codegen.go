package voucher

import (
	"crypto/rand"
	"fmt"
)

// CodeLength is the fixed length of generated voucher codes.
const CodeLength = 20

// codeAlphabet is an unambiguous 36-symbol alphabet of uppercase letters and
// digits. Codes are bearer tokens for money, so characters are drawn from a
// cryptographically secure source, never a seeded PRNG.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateCode produces a collision-resistant bearer code. Generation knows
// nothing about persisted state; the storage layer's unique constraint is
// the backstop against the negligible collision probability.
func GenerateCode() (string, error) {
	// Rejection sampling keeps each symbol uniform over the alphabet.
	const limit = byte(256 - 256%len(codeAlphabet))

	code := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)
	for len(code) < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			code = append(code, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(code) == CodeLength {
				break
			}
		}
	}
	return string(code), nil
}
