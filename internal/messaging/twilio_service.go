package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coachlinkhq/coachlink/internal/models"
	"github.com/coachlinkhq/coachlink/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio API. Twilio's Go SDK
// exposes no WhatsApp button affordance, so interactive sends use the same
// numbered-menu rendering as the Whatsmeow transport. Inbound events arrive
// through the HTTP webhook, not a channel subscription, so Start is a no-op
// and responses are fed in via HandleInbound.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	menus     *menuTracker
	receipts  chan models.Receipt
	responses chan models.Response
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a TwilioService wrapping the given sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:    client,
		menus:     newMenuTracker(),
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient implements Service.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

// Start is a no-op: Twilio delivers inbound events over the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channels.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	// Give in-flight HandleInbound calls a moment before closing.
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.receipts)
		close(s.responses)
	}()
	return nil
}

// SendText sends a plain message and emits a sent receipt.
func (s *TwilioService) SendText(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendText validation error", "error", err, "to", to)
		return err
	}
	if err := s.send(ctx, canonical, body); err != nil {
		return err
	}
	s.menus.remember(canonical, nil)
	return nil
}

// SendButtons renders the options as a numbered menu.
func (s *TwilioService) SendButtons(ctx context.Context, to string, body string, buttons []models.Button) error {
	if len(buttons) == 0 {
		return s.SendText(ctx, to, body)
	}
	if len(buttons) > models.MaxButtonsPerMessage {
		return fmt.Errorf("%d buttons exceeds the limit of %d: %w", len(buttons), models.MaxButtonsPerMessage, models.ErrValidation)
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendButtons validation error", "error", err, "to", to)
		return err
	}
	if err := s.send(ctx, canonical, renderButtons(body, buttons)); err != nil {
		return err
	}
	s.menus.remember(canonical, buttons)
	return nil
}

// SendList renders the sections as one numbered menu.
func (s *TwilioService) SendList(ctx context.Context, to string, body string, sections []models.ListSection) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendList validation error", "error", err, "to", to)
		return err
	}
	rendered, flat := renderList(body, sections)
	if err := s.send(ctx, canonical, rendered); err != nil {
		return err
	}
	s.menus.remember(canonical, flat)
	return nil
}

// SendForm renders the form as a text prompt.
func (s *TwilioService) SendForm(ctx context.Context, to string, form Form) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendForm validation error", "error", err, "to", to)
		return err
	}
	if err := s.send(ctx, canonical, renderForm(form)); err != nil {
		return err
	}
	s.menus.remember(canonical, nil)
	return nil
}

func (s *TwilioService) send(ctx context.Context, canonical, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		return err
	}
	s.emitReceipt(models.Receipt{To: canonical, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// HandleInbound feeds a webhook-delivered message into the response stream,
// resolving numeric menu replies into button ids.
func (s *TwilioService) HandleInbound(from, body string) {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()

	response := models.Response{From: from, Body: body, Time: time.Now().Unix()}
	if canonical, err := canonicalizeRecipient(from); err == nil {
		if buttonID, ok := s.menus.resolve(canonical, body); ok {
			response.ButtonID = buttonID
		}
	}

	select {
	case s.responses <- response:
		slog.Debug("TwilioService inbound message forwarded", "from", from, "buttonID", response.ButtonID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", from)
	}
}

// Receipts implements Service.
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses implements Service.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

func (s *TwilioService) emitReceipt(r models.Receipt) {
	select {
	case s.receipts <- r:
	default:
		slog.Warn("TwilioService receipts channel full, dropping receipt", "to", r.To)
	}
}
