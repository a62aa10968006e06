// Package util provides utility functions for the CoachLink application.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomDigits generates a random numeric string of the specified length.
// Uses math/rand/v2 for non-cryptographic purposes.
func GenerateRandomDigits(length int) string {
	if length <= 0 {
		return ""
	}

	const digits = "0123456789"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(digits[rand.IntN(len(digits))])
	}

	return builder.String()
}

// GenerateRandomAlphaNumeric generates a random alphanumeric string of the specified length.
// Uses math/rand/v2 for optimal performance and modern best practices.
func GenerateRandomAlphaNumeric(length int) string {
	if length <= 0 {
		return ""
	}

	const chars = "0123456789abcdefghijklmnopqrstuvwxyz"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(chars[rand.IntN(len(chars))])
	}

	return builder.String()
}

// MnemonicPrefix derives a short lowercase prefix from a display name: the
// first maxLen alphanumeric characters. Returns an empty string when the name
// contains no alphanumerics.
func MnemonicPrefix(name string, maxLen int) string {
	var builder strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			builder.WriteRune(r)
			if builder.Len() >= maxLen {
				break
			}
		}
	}
	return builder.String()
}
