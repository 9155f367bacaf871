// Package cardkey generates and canonicalizes the credentials used by
// the activation protocol: card keys, session tokens and application
// secrets. All generation draws from crypto/rand; there is no state.
package cardkey

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

// Alphabet is the card-key alphabet. Visually ambiguous characters
// (0, O, 1, I, L) are excluded so keys survive being read aloud or
// typed from a printout.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	groupSize  = 4
	groupCount = 4
	delimiter  = "-"

	// KeyLength is the number of alphabet characters in a card key,
	// excluding delimiters. 32^16 possible keys.
	KeyLength = groupSize * groupCount

	// tokenBytes is the entropy of session tokens and app secrets.
	tokenBytes = 32
)

// GenerateCardKey produces a card key in the canonical
// XXXX-XXXX-XXXX-XXXX form from a cryptographically secure source.
func GenerateCardKey() (string, error) {
	max := big.NewInt(int64(len(Alphabet)))
	chars := make([]byte, KeyLength)
	for i := range chars {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		chars[i] = Alphabet[n.Int64()]
	}
	return group(string(chars)), nil
}

// Normalize strips whitespace and delimiters, uppercases and re-groups
// the input into the canonical delimited form. It is idempotent and
// does not check alphabet membership; Valid does that.
func Normalize(input string) string {
	cleaned := strings.ToUpper(input)
	cleaned = strings.NewReplacer(" ", "", "\t", "", delimiter, "").Replace(cleaned)
	return group(cleaned)
}

// Valid reports whether the input normalizes to a well-formed card key:
// exactly KeyLength characters, all from the alphabet.
func Valid(input string) bool {
	normalized := strings.ReplaceAll(Normalize(input), delimiter, "")
	if len(normalized) != KeyLength {
		return false
	}
	for i := 0; i < len(normalized); i++ {
		if !strings.ContainsRune(Alphabet, rune(normalized[i])) {
			return false
		}
	}
	return true
}

// GenerateToken produces a URL-safe session token with 32 bytes of
// entropy.
func GenerateToken() (string, error) {
	return randomURLSafe(tokenBytes)
}

// GenerateAppSecret produces a URL-safe application secret with 32
// bytes of entropy.
func GenerateAppSecret() (string, error) {
	return randomURLSafe(tokenBytes)
}

// GenerateAppKey produces the public application key. Same construction
// as secrets; only its handling differs (keys are public, secrets are
// not).
func GenerateAppKey() (string, error) {
	return randomURLSafe(tokenBytes)
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random source: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func group(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/groupSize)
	for i := 0; i < len(s); i += groupSize {
		if i > 0 {
			b.WriteString(delimiter)
		}
		end := i + groupSize
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[i:end])
	}
	return b.String()
}
