package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coachlinkhq/coachlink/internal/models"
	"github.com/coachlinkhq/coachlink/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service over the Whatsmeow-based client.
// WhatsApp text messages carry no native button affordance here, so
// interactive sends render as numbered menus and numeric replies are mapped
// back to button ids before they reach the router.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // full client, when available, for event handling
	menus     *menuTracker
	receipts  chan models.Receipt
	responses chan models.Response
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewWhatsAppService creates a WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{
		client:    client,
		menus:     newMenuTracker(),
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return s
}

// ValidateAndCanonicalizeRecipient implements Service.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

// Start begins event handling when a full client is available.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	}
	return nil
}

// Stop stops background processing and closes the event channels.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.receipts)
	close(s.responses)
	slog.Info("WhatsAppService stopped")
	return nil
}

// SendText sends a plain message and emits a sent receipt.
func (s *WhatsAppService) SendText(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendText validation error", "error", err, "to", to)
		return err
	}
	if err := s.send(ctx, canonical, body); err != nil {
		return err
	}
	s.menus.remember(canonical, nil)
	return nil
}

// SendButtons renders the options as a numbered menu and remembers them for
// numeric-reply resolution.
func (s *WhatsAppService) SendButtons(ctx context.Context, to string, body string, buttons []models.Button) error {
	if len(buttons) == 0 {
		return s.SendText(ctx, to, body)
	}
	if len(buttons) > models.MaxButtonsPerMessage {
		return fmt.Errorf("%d buttons exceeds the limit of %d: %w", len(buttons), models.MaxButtonsPerMessage, models.ErrValidation)
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendButtons validation error", "error", err, "to", to)
		return err
	}
	if err := s.send(ctx, canonical, renderButtons(body, buttons)); err != nil {
		return err
	}
	s.menus.remember(canonical, buttons)
	return nil
}

// SendList renders the sections as one numbered menu.
func (s *WhatsAppService) SendList(ctx context.Context, to string, body string, sections []models.ListSection) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendList validation error", "error", err, "to", to)
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
func (s *WhatsAppService) SendForm(ctx context.Context, to string, form Form) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendForm validation error", "error", err, "to", to)
		return err
	}
	if err := s.send(ctx, canonical, renderForm(form)); err != nil {
		return err
	}
	s.menus.remember(canonical, nil)
	return nil
}

func (s *WhatsAppService) send(ctx context.Context, canonical, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("WhatsAppService send error", "error", err, "to", canonical)
		return err
	}
	s.emitReceipt(models.Receipt{To: canonical, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Receipts implements Service.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses implements Service.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

// handleEvents subscribes to whatsmeow events until the context ends.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		default:
			// other event types are irrelevant here
		}
	})
	slog.Debug("WhatsAppService event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage turns a text message into a Response, resolving
// numeric menu replies into button ids.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var messageText string
	switch {
	case evt.Message.Conversation != nil:
		messageText = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		messageText = *evt.Message.ExtendedTextMessage.Text
	default:
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	fromNumber := evt.Info.Sender.User
	if !strings.HasPrefix(fromNumber, "+") {
		fromNumber = "+" + fromNumber
	}

	response := models.Response{
		From: fromNumber,
		Body: messageText,
		Time: evt.Info.Timestamp.Unix(),
	}
	if canonical, err := canonicalizeRecipient(fromNumber); err == nil {
		if buttonID, ok := s.menus.resolve(canonical, messageText); ok {
			response.ButtonID = buttonID
		}
	}

	select {
	case s.responses <- response:
		slog.Debug("WhatsAppService incoming message forwarded", "from", response.From, "buttonID", response.ButtonID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", response.From)
	}
}

// handleMessageReceipt forwards delivery and read receipts.
func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	toNumber := evt.MessageSource.Sender.User
	if !strings.HasPrefix(toNumber, "+") {
		toNumber = "+" + toNumber
	}

	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}

	select {
	case s.receipts <- models.Receipt{To: toNumber, Status: status, Time: evt.Timestamp.Unix()}:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService receipts channel blocked, dropping receipt", "to", toNumber)
	}
}

func (s *WhatsAppService) emitReceipt(r models.Receipt) {
	select {
	case s.receipts <- r:
	default:
		slog.Warn("WhatsAppService receipts channel full, dropping receipt", "to", r.To)
	}
}
