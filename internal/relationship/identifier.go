// Package relationship owns the bidirectional relationship ledger and
// invitation records between coaches and clients.
package relationship

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/coachlinkhq/coachlink/internal/util"
)

// Identifier generation constants.
const (
	// idPrefixLen is how many alphanumeric characters of the display name seed
	// the mnemonic prefix.
	idPrefixLen = 4
	// idDigits is how many random digits follow the mnemonic prefix.
	idDigits = 3
	// idMaxRetries bounds collision retries before falling back.
	idMaxRetries = 10
	// tokenBytes is the entropy of an invitation token.
	tokenBytes = 16
	// fallbackIDLen is the length of the fully random last-resort identifier.
	fallbackIDLen = 12
)

// existsFunc reports whether a candidate identifier is already taken.
type existsFunc func(id string) (bool, error)

// GenerateInvitationToken returns a cryptographically random token. Tokens are
// unguessable but not checked for uniqueness against the store; they are not
// used as keys.
func GenerateInvitationToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate invitation token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// generateUniqueID derives a short mnemonic identifier from a display name:
// prefix from the name plus random digits, retried a bounded number of times
// against the exists check. On retry exhaustion it appends a timestamp
// fragment; if even that collides or errors, it falls back to a fully random
// alphanumeric string. The function never blocks indefinitely and always
// returns some identifier.
func generateUniqueID(displayName string, exists existsFunc) (string, error) {
	prefix := util.MnemonicPrefix(displayName, idPrefixLen)
	if prefix == "" {
		prefix = "u"
	}

	for i := 0; i < idMaxRetries; i++ {
		candidate := prefix + util.GenerateRandomDigits(idDigits)
		taken, err := exists(candidate)
		if err != nil {
			slog.Error("Identifier collision check failed", "error", err, "candidate", candidate)
			break
		}
		if !taken {
			return candidate, nil
		}
		slog.Debug("Identifier collision, retrying", "candidate", candidate, "attempt", i+1)
	}

	// Retries exhausted or the store errored: timestamp fragment.
	candidate := prefix + strconv.FormatInt(time.Now().UnixMilli()%100000, 10)
	taken, err := exists(candidate)
	if err == nil && !taken {
		slog.Warn("Identifier generation used timestamp fallback", "id", candidate)
		return candidate, nil
	}

	fallback := util.GenerateRandomAlphaNumeric(fallbackIDLen)
	slog.Warn("Identifier generation used fully random fallback", "id", fallback)
	return fallback, nil
}
