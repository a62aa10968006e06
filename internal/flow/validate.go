package flow

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/coachlinkhq/coachlink/internal/models"
)

// Field validation used across flows. Every validator wraps
// models.ErrValidation so the boundary can tell a bad answer from a defect.

// CanonicalPhone strips formatting from a phone-shaped string and returns it
// in +digits form.
func CanonicalPhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+', r == ' ', r == '-', r == '(', r == ')', r == '.':
			// formatting characters, dropped
		default:
			return "", fmt.Errorf("phone contains invalid character %q: %w", r, models.ErrValidation)
		}
	}
	digits := b.String()
	if len(digits) < models.MinPhoneDigits {
		return "", fmt.Errorf("phone has %d digits, need at least %d: %w", len(digits), models.MinPhoneDigits, models.ErrValidation)
	}
	return "+" + digits, nil
}

// ValidateName trims and bounds a display name.
func ValidateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("name is empty: %w", models.ErrValidation)
	}
	if len(name) > models.MaxNameLength {
		return "", fmt.Errorf("name exceeds %d characters: %w", models.MaxNameLength, models.ErrValidation)
	}
	return name, nil
}

// ValidateEmail accepts a single RFC 5322 address without display name.
func ValidateEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("invalid email %q: %w", email, models.ErrValidation)
	}
	return email, nil
}

// ValidatePrice accepts a non-negative decimal amount and returns it
// normalized. Currency symbols and thousands separators are rejected; users
// are prompted for a plain number.
func ValidatePrice(raw string) (string, error) {
	price := strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	v, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return "", fmt.Errorf("invalid price %q: %w", raw, models.ErrValidation)
	}
	if v < 0 {
		return "", fmt.Errorf("price must not be negative: %w", models.ErrValidation)
	}
	return strconv.FormatFloat(v, 'f', -1, 64), nil
}

// bumpRetry increments the per-field retry counter carried in the task
// payload and reports the new count. The counter survives turns with the
// rest of the payload.
func bumpRetry(p models.Payload, field string) int {
	key := "retry_" + field
	count, _ := strconv.Atoi(p[key])
	count++
	p[key] = strconv.Itoa(count)
	return count
}

// clearRetry resets the counter once the field validates. Task updates merge
// payloads, so the reset is written as zero rather than a deletion.
func clearRetry(p models.Payload, field string) {
	p["retry_"+field] = "0"
}
