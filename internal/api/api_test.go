package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/coachlinkhq/coachlink/internal/flow"
	"github.com/coachlinkhq/coachlink/internal/messaging"
	"github.com/coachlinkhq/coachlink/internal/models"
	"github.com/coachlinkhq/coachlink/internal/relationship"
	"github.com/coachlinkhq/coachlink/internal/router"
	"github.com/coachlinkhq/coachlink/internal/store"
	"github.com/coachlinkhq/coachlink/internal/tasks"
	"github.com/coachlinkhq/coachlink/internal/testutil"
	"github.com/coachlinkhq/coachlink/internal/twiliowhatsapp"
)

type serverFixture struct {
	server *Server
	st     store.Store
	tasks  *tasks.Store
	rels   *relationship.Service
	twilio *messaging.TwilioService
}

// newTestServer builds a server over the in-memory store with a mock Twilio
// channel, so routing runs end to end without any network.
func newTestServer(t *testing.T) *serverFixture {
	t.Helper()
	st := store.NewInMemoryStore()
	t.Cleanup(func() { st.Close() })
	taskStore := tasks.NewStore(st)
	rels := relationship.NewService(st)
	rec := testutil.NewMessageRecorder()
	engine := flow.NewEngine(flow.Deps{Store: st, Tasks: taskStore, Relationships: rels, Notifier: rec})
	rt := router.NewRouter(st, taskStore, engine, rels, rec, nil)
	twilio := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	return &serverFixture{
		server: NewServer(twilio, rt, st, taskStore, WithAddr(":0")),
		st:     st,
		tasks:  taskStore,
		rels:   rels,
		twilio: twilio,
	}
}

func TestHealthHandler(t *testing.T) {
	f := newTestServer(t)
	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health check")
	testutil.AssertJSONResponse(t, rr, "ok")
}

func TestInboundHandlerStartsOnboarding(t *testing.T) {
	f := newTestServer(t)
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/v1/inbound",
		models.InboundMessageRequest{From: "+15551234567", Body: "hello"})
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "inbound onboarding")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no result object: %v", resp)
	}
	if result["handler"] != "onboarding" {
		t.Errorf("handler = %v, want onboarding", result["handler"])
	}

	// The actor is keyed by canonical digits, not the raw webhook value.
	task, err := f.tasks.GetRunning(context.Background(), "15551234567", models.RoleClient)
	if err != nil {
		t.Fatalf("GetRunning() error: %v", err)
	}
	if task == nil || task.Type != models.FlowTypeRegistration {
		t.Errorf("running task = %+v, want a registration task", task)
	}
}

func TestInboundHandlerRejectsBadRequests(t *testing.T) {
	f := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{"from": `},
		{"missing from", `{"body":"hello"}`},
		{"missing body and button", `{"from":"+15551234567"}`},
		{"unparseable sender", `{"from":"???","body":"hello"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/inbound", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			f.server.Handler().ServeHTTP(rr, req)

			testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, tt.name)
			testutil.AssertJSONResponse(t, rr, "error")
		})
	}
}

func TestInboundHandlerMethodNotAllowed(t *testing.T) {
	f := newTestServer(t)
	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/v1/inbound", nil)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "inbound GET")
}

func TestTwilioInboundHandler(t *testing.T) {
	f := newTestServer(t)
	form := url.Values{}
	form.Set("From", "whatsapp:+15557654321")
	form.Set("Body", "hi")
	req := httptest.NewRequest(http.MethodPost, "/v1/twilio/inbound", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusNoContent, rr.Code, "twilio webhook")

	select {
	case resp := <-f.twilio.Responses():
		if resp.From != "+15557654321" {
			t.Errorf("response from = %q, want +15557654321", resp.From)
		}
		if resp.Body != "hi" {
			t.Errorf("response body = %q, want hi", resp.Body)
		}
	default:
		t.Fatal("webhook did not feed the response stream")
	}
}

func TestTwilioInboundHandlerMissingFrom(t *testing.T) {
	f := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/twilio/inbound", strings.NewReader("Body=hi"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "twilio webhook without From")
}

func TestRelationshipsHandler(t *testing.T) {
	f := newTestServer(t)
	ctx := context.Background()
	testutil.SeedCoach(t, f.st, "maria123", "+15550000001", "Maria", "100")
	testutil.SeedClient(t, f.st, "joao456", "+15550000002", "Joao")
	if err := f.rels.CreateOrUpdateRelationship(ctx, "maria123", "joao456", models.RoleCoach, "tok-1"); err != nil {
		t.Fatalf("CreateOrUpdateRelationship() error: %v", err)
	}

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/v1/relationships?coach_id=maria123", nil)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "relationships by coach")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	rels, ok := resp["result"].([]interface{})
	if !ok || len(rels) != 1 {
		t.Fatalf("result = %v, want one relationship", resp["result"])
	}

	// The mirror side answers the same question for the client.
	req = testutil.CreateHTTPRequest(t, http.MethodGet, "/v1/relationships?client_id=joao456", nil)
	rr = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "relationships by client")
	testutil.AssertJSONResponse(t, rr, "ok")
}

func TestRelationshipsHandlerRequiresOneSide(t *testing.T) {
	f := newTestServer(t)
	for _, query := range []string{"", "?coach_id=a&client_id=b"} {
		req := testutil.CreateHTTPRequest(t, http.MethodGet, "/v1/relationships"+query, nil)
		rr := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rr, req)
		testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "relationships query "+query)
	}
}

func TestInvitationsHandler(t *testing.T) {
	f := newTestServer(t)
	ctx := context.Background()
	testutil.SeedCoach(t, f.st, "maria123", "+15550000001", "Maria", "100")
	if _, err := f.rels.CreateInvitation(ctx, "maria123", "+15550000009", "Nova", "nova@example.com", "", models.InvitationPending); err != nil {
		t.Fatalf("CreateInvitation() error: %v", err)
	}

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/v1/invitations?coach_id=maria123", nil)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "invitations by coach")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	if invs, ok := resp["result"].([]interface{}); !ok || len(invs) != 1 {
		t.Fatalf("result = %v, want one invitation", resp["result"])
	}
}

func TestTasksHandler(t *testing.T) {
	f := newTestServer(t)
	ctx := context.Background()
	if _, err := f.tasks.Create(ctx, "15550000001", models.RoleCoach, models.FlowTypeClientCreation, nil); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/v1/tasks?actor=15550000001&role=coach", nil)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "running task lookup")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	task, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("result = %v, want a task object", resp["result"])
	}
	if task["type"] != string(models.FlowTypeClientCreation) {
		t.Errorf("task type = %v, want %s", task["type"], models.FlowTypeClientCreation)
	}

	// Idle actors get a null result, not an error.
	req = testutil.CreateHTTPRequest(t, http.MethodGet, "/v1/tasks?actor=15550000001&role=client", nil)
	rr = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "idle actor lookup")
	resp = testutil.AssertJSONResponse(t, rr, "ok")
	if resp["result"] != nil {
		t.Errorf("result = %v, want null", resp["result"])
	}
}

func TestTasksHandlerValidation(t *testing.T) {
	f := newTestServer(t)
	for _, query := range []string{"", "?actor=x", "?actor=x&role=superuser"} {
		req := testutil.CreateHTTPRequest(t, http.MethodGet, "/v1/tasks"+query, nil)
		rr := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rr, req)
		testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "tasks query "+query)
	}
}
