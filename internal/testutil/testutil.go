// Package testutil provides common test utilities and helpers for CoachLink
// tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coachlinkhq/coachlink/internal/models"
	"github.com/coachlinkhq/coachlink/internal/store"
)

// SentMessage is one outbound message captured by the MessageRecorder.
type SentMessage struct {
	To      string
	Body    string
	Buttons []models.Button
}

// MessageRecorder is an in-memory stand-in for the outbound messaging
// surface. It records everything and never fails unless told to.
type MessageRecorder struct {
	mu   sync.Mutex
	sent []SentMessage

	// FailNext makes the next send return an error, for transport-failure
	// paths.
	FailNext error
}

// NewMessageRecorder creates an empty recorder.
func NewMessageRecorder() *MessageRecorder {
	return &MessageRecorder{}
}

// SendText records a plain text message.
func (r *MessageRecorder) SendText(ctx context.Context, to, body string) error {
	return r.record(SentMessage{To: to, Body: body})
}

// SendButtons records a buttoned message.
func (r *MessageRecorder) SendButtons(ctx context.Context, to, body string, buttons []models.Button) error {
	return r.record(SentMessage{To: to, Body: body, Buttons: buttons})
}

func (r *MessageRecorder) record(m SentMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailNext; err != nil {
		r.FailNext = nil
		return err
	}
	r.sent = append(r.sent, m)
	return nil
}

// Sent returns a copy of everything recorded so far.
func (r *MessageRecorder) Sent() []SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SentMessage, len(r.sent))
	copy(out, r.sent)
	return out
}

// LastTo returns the most recent message sent to the given recipient, or nil.
func (r *MessageRecorder) LastTo(to string) *SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].To == to {
			m := r.sent[i]
			return &m
		}
	}
	return nil
}

// SeedCoach writes a coach entity plus its user record.
func SeedCoach(t *testing.T, st store.Store, id, phone, name, defaultPrice string) {
	t.Helper()
	now := time.Now()
	if err := st.SaveCoach(models.Coach{ID: id, Phone: phone, Name: name, DefaultPrice: defaultPrice, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("SeedCoach SaveCoach(%s): %v", id, err)
	}
	user, err := st.GetUser(phone)
	if err != nil {
		t.Fatalf("SeedCoach GetUser(%s): %v", phone, err)
	}
	if user == nil {
		user = &models.User{Phone: phone, CreatedAt: now}
	}
	user.CoachID = id
	user.ActiveRole = models.RoleCoach
	user.UpdatedAt = now
	if err := st.SaveUser(*user); err != nil {
		t.Fatalf("SeedCoach SaveUser(%s): %v", phone, err)
	}
}

// SeedClient writes a client entity plus its user record.
func SeedClient(t *testing.T, st store.Store, id, phone, name string) {
	t.Helper()
	now := time.Now()
	if err := st.SaveClient(models.Client{ID: id, Phone: phone, Name: name, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("SeedClient SaveClient(%s): %v", id, err)
	}
	user, err := st.GetUser(phone)
	if err != nil {
		t.Fatalf("SeedClient GetUser(%s): %v", phone, err)
	}
	if user == nil {
		user = &models.User{Phone: phone, CreatedAt: now}
	}
	user.ClientID = id
	user.ActiveRole = models.RoleClient
	user.UpdatedAt = now
	if err := st.SaveUser(*user); err != nil {
		t.Fatalf("SeedClient SaveUser(%s): %v", phone, err)
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it
// doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with an optional JSON body.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
