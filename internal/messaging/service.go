// Package messaging defines the pluggable outbound message surface and the
// inbound event stream. Interactive content (buttons, lists, forms) is
// expressed channel-independently; transports that cannot render it natively
// degrade to numbered text menus, and the service maps numeric replies back
// to the option identifiers.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/coachlinkhq/coachlink/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer size for receipt and response
	// channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds non-blocking channel sends.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Form is a channel-independent interactive form payload.
type Form struct {
	Title  string   `json:"title"`
	Fields []string `json:"fields"`
}

// Service defines the message delivery abstraction the conversation engine
// sends through. Delivery is never awaited synchronously beyond the
// transport call.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a recipient identifier and
	// returns it in canonical digits-only form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a plain text message.
	SendText(ctx context.Context, to string, body string) error

	// SendButtons sends a message with up to models.MaxButtonsPerMessage
	// tappable options.
	SendButtons(ctx context.Context, to string, body string, buttons []models.Button) error

	// SendList sends a sectioned option list.
	SendList(ctx context.Context, to string, body string, sections []models.ListSection) error

	// SendForm sends an interactive form.
	SendForm(ctx context.Context, to string, form Form) error

	// Start begins background processing (event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channels.
	Stop() error

	// Receipts returns a channel of delivery status events.
	Receipts() <-chan models.Receipt

	// Responses returns a channel of inbound participant events.
	Responses() <-chan models.Response
}

// canonicalizeRecipient strips all non-digits and enforces the minimum
// length. Shared by every transport service.
func canonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty: %w", models.ErrEmptyRecipient)
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < models.MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, models.MinPhoneDigits)
	}
	if recipient != canonical {
		slog.Debug("Messaging canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
