package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/coachlinkhq/coachlink/internal/flow"
	"github.com/coachlinkhq/coachlink/internal/models"
	"github.com/coachlinkhq/coachlink/internal/relationship"
	"github.com/coachlinkhq/coachlink/internal/store"
	"github.com/coachlinkhq/coachlink/internal/tasks"
	"github.com/coachlinkhq/coachlink/internal/testutil"
)

type stubClassifier struct {
	intent string
	err    error
	asked  []string
}

func (s *stubClassifier) ClassifyIntent(ctx context.Context, actor, text string) (string, error) {
	s.asked = append(s.asked, text)
	return s.intent, s.err
}

type routerFixture struct {
	router *Router
	store  store.Store
	tasks  *tasks.Store
	rels   *relationship.Service
	rec    *testutil.MessageRecorder
	intent *stubClassifier
}

func newFixture(t *testing.T) *routerFixture {
	t.Helper()
	st := store.NewInMemoryStore()
	t.Cleanup(func() { st.Close() })
	ts := tasks.NewStore(st)
	rels := relationship.NewService(st)
	rec := testutil.NewMessageRecorder()
	intent := &stubClassifier{intent: "unknown"}
	engine := flow.NewEngine(flow.Deps{Store: st, Tasks: ts, Relationships: rels, Notifier: rec})
	return &routerFixture{
		router: NewRouter(st, ts, engine, rels, rec, intent),
		store:  st,
		tasks:  ts,
		rels:   rels,
		rec:    rec,
		intent: intent,
	}
}

func TestRouteUnknownActorStartsOnboarding(t *testing.T) {
	f := newFixture(t)
	res := f.router.Route(context.Background(), "+5511988880001", "hi there", "")
	if !res.Success || res.Handler != HandlerOnboarding {
		t.Fatalf("result = %+v, want onboarding", res)
	}
	if len(res.Buttons) != 2 {
		t.Errorf("buttons = %d, want coach/client role choice", len(res.Buttons))
	}
	task, err := f.tasks.GetRunning(context.Background(), "+5511988880001", models.RoleClient)
	if err != nil || task == nil || task.Type != models.FlowTypeRegistration {
		t.Errorf("running task = %v, %v, want registration", task, err)
	}
}

func TestRouteRunningRegistrationWinsOverCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := "+5511988880002"

	f.router.Route(ctx, actor, "hello", "")
	res := f.router.Route(ctx, actor, "", flow.BtnRoleCoach)
	if res.Handler != HandlerButton {
		t.Fatalf("handler = %s, want button forwarding into registration", res.Handler)
	}
	res = f.router.Route(ctx, actor, "Maria Silva", "")
	if res.Handler != HandlerRegistration {
		t.Fatalf("handler = %s, want registration continuation", res.Handler)
	}
	if !strings.Contains(res.Response, "email") {
		t.Errorf("response = %q, want email prompt", res.Response)
	}
}

func TestRouteCancelStopsRunningTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := "+5511988880003"

	testutil.SeedCoach(t, f.store, "mari123", actor, "Maria Silva", "150")
	f.router.Route(ctx, actor, "/addclient", "")

	res := f.router.Route(ctx, actor, "/cancel", "")
	if !res.Success || res.Response != msgCancelled {
		t.Fatalf("result = %+v, want cancellation", res)
	}
	task, err := f.tasks.GetRunning(ctx, actor, models.RoleCoach)
	if err != nil {
		t.Fatalf("GetRunning() error: %v", err)
	}
	if task != nil {
		t.Errorf("task still running after /cancel: %+v", task)
	}

	res = f.router.Route(ctx, actor, "/cancel", "")
	if res.Response != msgNothingRunning {
		t.Errorf("second cancel = %q, want nothing-running notice", res.Response)
	}
}

func TestRouteMissingActiveRoleGoesToLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phone := "+5511988880004"

	testutil.SeedCoach(t, f.store, "mari123", phone, "Maria Silva", "150")
	testutil.SeedClient(t, f.store, "mari456", phone, "Maria Silva")
	user, _ := f.store.GetUser(phone)
	user.ActiveRole = ""
	if err := f.store.SaveUser(*user); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	res := f.router.Route(ctx, phone, "hello", "")
	if res.Handler != HandlerLogin {
		t.Fatalf("handler = %s, want login", res.Handler)
	}
	if len(res.Buttons) != 2 {
		t.Errorf("buttons = %d, want role choice", len(res.Buttons))
	}
}

func TestRouteMissingActiveRoleAnswersLoginByText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phone := "+5511988880019"

	testutil.SeedCoach(t, f.store, "mari123", phone, "Maria Silva", "150")
	testutil.SeedClient(t, f.store, "mari456", phone, "Maria Silva")
	user, _ := f.store.GetUser(phone)
	user.ActiveRole = ""
	if err := f.store.SaveUser(*user); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	f.router.Route(ctx, phone, "hello", "")
	res := f.router.Route(ctx, phone, "coach", "")
	if !res.Success || res.Handler != HandlerLogin {
		t.Fatalf("result = %+v, want login continuation", res)
	}
	if !strings.Contains(res.Response, "coach") {
		t.Errorf("response = %q, want role confirmation", res.Response)
	}

	user, err := f.store.GetUser(phone)
	if err != nil || user == nil {
		t.Fatalf("GetUser() = %v, %v", user, err)
	}
	if user.ActiveRole != models.RoleCoach {
		t.Errorf("ActiveRole = %q, want coach after text answer", user.ActiveRole)
	}
	for _, role := range []models.Role{models.RoleCoach, models.RoleClient} {
		task, err := f.tasks.GetRunning(ctx, phone, role)
		if err != nil {
			t.Fatalf("GetRunning(%s): %v", role, err)
		}
		if task != nil {
			t.Errorf("login task still running under %s: %+v", role, task)
		}
	}
}

func TestRouteActiveRoleTaskContinuation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := "+5511988880005"

	testutil.SeedCoach(t, f.store, "mari123", actor, "Maria Silva", "150")
	f.router.Route(ctx, actor, "/addclient", "")
	res := f.router.Route(ctx, actor, "", flow.BtnCreateNewClient)
	if res.Handler != HandlerButton {
		t.Fatalf("handler = %s, want button continuation", res.Handler)
	}
	res = f.router.Route(ctx, actor, "Joao Souza", "")
	if res.Handler != HandlerFlow {
		t.Fatalf("handler = %s, want flow continuation", res.Handler)
	}
	if !strings.Contains(res.Response, "phone") {
		t.Errorf("response = %q, want phone prompt", res.Response)
	}
}

func TestRouteFlowFailureReportsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coachPhone := "+5511988880020"
	clientPhone := "+5511999990020"

	testutil.SeedCoach(t, f.store, "mari123", coachPhone, "Maria Silva", "150")
	testutil.SeedClient(t, f.store, "joao456", clientPhone, "Joao Souza")

	f.router.Route(ctx, coachPhone, "/addclient", "")
	f.router.Route(ctx, coachPhone, "", flow.BtnLinkExistingClient)
	f.router.Route(ctx, coachPhone, clientPhone, "")

	f.rec.FailNext = errors.New("transport down")
	res := f.router.Route(ctx, coachPhone, "", flow.BtnInviteExistingYes)
	if res.Success {
		t.Fatalf("result = %+v, want failure after transport error", res)
	}
	if !strings.Contains(res.Response, "/addclient") {
		t.Errorf("response = %q, want apology with restart command", res.Response)
	}
	task, err := f.tasks.GetRunning(ctx, coachPhone, models.RoleCoach)
	if err != nil {
		t.Fatalf("GetRunning: %v", err)
	}
	if task != nil {
		t.Errorf("task still running after terminated flow: %+v", task)
	}
}

func TestRouteCommandRoleGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clientPhone := "+5511999990006"
	testutil.SeedClient(t, f.store, "joao456", clientPhone, "Joao Souza")

	res := f.router.Route(ctx, clientPhone, "/addclient", "")
	if res.Success {
		t.Errorf("client running /addclient succeeded: %+v", res)
	}
	if !strings.Contains(res.Response, "coach command") {
		t.Errorf("response = %q, want role hint", res.Response)
	}
}

func TestRouteFreeFormIntentStartsFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coachPhone := "+5511988880007"
	testutil.SeedCoach(t, f.store, "mari123", coachPhone, "Maria Silva", "150")
	f.intent.intent = "add_client"

	res := f.router.Route(ctx, coachPhone, "I want to bring in a new client", "")
	if res.Handler != HandlerIntent {
		t.Fatalf("handler = %s, want intent", res.Handler)
	}
	task, err := f.tasks.GetRunning(ctx, coachPhone, models.RoleCoach)
	if err != nil || task == nil || task.Type != models.FlowTypeClientCreation {
		t.Errorf("running task = %v, %v, want client creation", task, err)
	}
	if len(f.intent.asked) != 1 {
		t.Errorf("classifier asked %d times, want 1", len(f.intent.asked))
	}
}

func TestRouteFreeFormUnknownIntentGetsHelp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coachPhone := "+5511988880008"
	testutil.SeedCoach(t, f.store, "mari123", coachPhone, "Maria Silva", "150")

	res := f.router.Route(ctx, coachPhone, "what's the weather", "")
	if res.Handler != HandlerHelp {
		t.Fatalf("handler = %s, want help fallback", res.Handler)
	}
	if res.Response != msgNotUnderstood {
		t.Errorf("response = %q, want not-understood", res.Response)
	}
}

func TestButtonCommandShapedIDReentersRouter(t *testing.T) {
	f := newFixture(t)
	res := f.router.Route(context.Background(), "+5511988880009", "", "/help")
	if res.Response != msgHelp {
		t.Errorf("response = %q, want help text", res.Response)
	}
}

func TestButtonAcceptInvitationRegisteredClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coachPhone := "+5511988880010"
	clientPhone := "+5511999990010"

	testutil.SeedCoach(t, f.store, "mari123", coachPhone, "Maria Silva", "150")
	testutil.SeedClient(t, f.store, "joao456", clientPhone, "Joao Souza")
	inv, err := f.rels.CreateInvitation(ctx, "mari123", clientPhone, "Joao", "", "", models.InvitationPending)
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}

	res := f.router.Route(ctx, clientPhone, "", "accept_invitation_"+inv.Token)
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}
	rel, err := f.store.GetRelationship("mari123", "joao456")
	if err != nil || rel == nil || rel.Status != models.ConnectionActive {
		t.Errorf("relationship = %v, %v, want active", rel, err)
	}
	if f.rec.LastTo(coachPhone) == nil {
		t.Error("coach not notified of acceptance")
	}
}

func TestButtonAcceptInvitationUnregisteredStartsRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coachPhone := "+5511988880011"
	clientPhone := "+5511999990011"

	testutil.SeedCoach(t, f.store, "mari123", coachPhone, "Maria Silva", "150")
	inv, err := f.rels.CreateInvitation(ctx, "mari123", clientPhone, "Joao", "", "", models.InvitationPendingCompletion)
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}

	res := f.router.Route(ctx, clientPhone, "", "accept_invitation_"+inv.Token)
	if !res.Success {
		t.Fatalf("result = %+v, want registration start", res)
	}
	task, err := f.tasks.GetRunning(ctx, clientPhone, models.RoleClient)
	if err != nil || task == nil || task.Type != models.FlowTypeRegistration {
		t.Fatalf("running task = %v, %v, want registration", task, err)
	}
	if task.Payload["invitation_token"] != inv.Token {
		t.Errorf("payload token = %q, want %q", task.Payload["invitation_token"], inv.Token)
	}
}

func TestButtonDeclineInvitationFullScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coachPhone := "+5511988880012"
	clientPhone := "+5511999990012"

	testutil.SeedCoach(t, f.store, "mari123", coachPhone, "Maria Silva", "150")
	testutil.SeedClient(t, f.store, "joao456", clientPhone, "Joao Souza")
	inv, err := f.rels.CreateInvitation(ctx, "mari123", clientPhone, "Joao", "", "", models.InvitationPending)
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}
	// Pre-created relationship pair for this invitation.
	if err := f.rels.CreateOrUpdateRelationship(ctx, "mari123", "joao456", models.RoleCoach, inv.Token); err != nil {
		t.Fatalf("CreateOrUpdateRelationship: %v", err)
	}

	res := f.router.Route(ctx, clientPhone, "", "decline_invitation_"+inv.Token)
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}

	stored, err := f.store.GetInvitation(inv.ID)
	if err != nil || stored == nil || stored.Status != models.InvitationDeclined {
		t.Errorf("invitation = %v, %v, want declined", stored, err)
	}
	coachSide, _ := f.store.GetRelationship("mari123", "joao456")
	clientSide, _ := f.store.GetRelationshipMirror("joao456", "mari123")
	if coachSide == nil || clientSide == nil ||
		coachSide.Status != models.ConnectionDeclined || clientSide.Status != models.ConnectionDeclined {
		t.Errorf("mirrors = %v / %v, want both declined", coachSide, clientSide)
	}
	task, err := f.tasks.GetRunning(ctx, clientPhone, models.RoleClient)
	if err != nil {
		t.Fatalf("GetRunning: %v", err)
	}
	if task != nil {
		t.Errorf("task left running after decline: %+v", task)
	}
}

func TestButtonAcceptCoachApprovesPendingRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coachPhone := "+5511988880013"
	clientPhone := "+5511999990013"

	testutil.SeedCoach(t, f.store, "mari123", coachPhone, "Maria Silva", "150")
	testutil.SeedClient(t, f.store, "joao456", clientPhone, "Joao Souza")
	if err := f.rels.CreateOrUpdateRelationship(ctx, "mari123", "joao456", models.RoleCoach, "tok"); err != nil {
		t.Fatalf("CreateOrUpdateRelationship: %v", err)
	}

	res := f.router.Route(ctx, clientPhone, "", "accept_coach_mari123")
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}
	rel, err := f.store.GetRelationship("mari123", "joao456")
	if err != nil || rel == nil || rel.Status != models.ConnectionActive {
		t.Errorf("relationship = %v, %v, want active", rel, err)
	}
	if f.rec.LastTo(coachPhone) == nil {
		t.Error("requesting coach not notified")
	}
}

func TestButtonAcceptCoachWithoutPendingRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clientPhone := "+5511999990014"

	testutil.SeedCoach(t, f.store, "mari123", "+5511988880014", "Maria Silva", "150")
	testutil.SeedClient(t, f.store, "joao456", clientPhone, "Joao Souza")

	res := f.router.Route(ctx, clientPhone, "", "accept_coach_mari123")
	if res.Success {
		t.Fatalf("result = %+v, want failure", res)
	}
	if res.Response != msgBtnNoPendingRequest {
		t.Errorf("response = %q, want no-pending notice", res.Response)
	}
}

func TestButtonRemoveClientStartsRemovalFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coachPhone := "+5511988880015"

	testutil.SeedCoach(t, f.store, "mari123", coachPhone, "Maria Silva", "150")
	testutil.SeedClient(t, f.store, "joao456", "+5511999990015", "Joao Souza")
	if err := f.rels.CreateOrUpdateRelationship(ctx, "mari123", "joao456", models.RoleCoach, "tok"); err != nil {
		t.Fatalf("CreateOrUpdateRelationship: %v", err)
	}
	if err := f.rels.Approve(ctx, "mari123", "joao456"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	res := f.router.Route(ctx, coachPhone, "", "remove_client_joao456")
	if !res.Success || !strings.Contains(res.Response, "Joao Souza") {
		t.Fatalf("result = %+v, want removal confirm prompt", res)
	}
	task, err := f.tasks.GetRunning(ctx, coachPhone, models.RoleCoach)
	if err != nil || task == nil || task.Type != models.FlowTypeRemoval {
		t.Errorf("running task = %v, %v, want removal", task, err)
	}
}

func TestButtonUnknownIDWithoutTask(t *testing.T) {
	f := newFixture(t)
	testutil.SeedClient(t, f.store, "joao456", "+5511999990016", "Joao Souza")
	res := f.router.Route(context.Background(), "+5511999990016", "", "totally_made_up")
	if res.Success {
		t.Fatalf("result = %+v, want failure", res)
	}
	if res.Response != msgBtnUnknown {
		t.Errorf("response = %q, want unknown-button notice", res.Response)
	}
}

func TestButtonResumeAndAbandonTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coachPhone := "+5511988880017"

	testutil.SeedCoach(t, f.store, "mari123", coachPhone, "Maria Silva", "150")
	f.router.Route(ctx, coachPhone, "/addclient", "")
	task, err := f.tasks.GetRunning(ctx, coachPhone, models.RoleCoach)
	if err != nil || task == nil {
		t.Fatalf("GetRunning = %v, %v", task, err)
	}

	res := f.router.Route(ctx, coachPhone, "", "resume_task_"+task.ID)
	if !res.Success || res.Response != msgBtnResume {
		t.Fatalf("resume result = %+v", res)
	}

	res = f.router.Route(ctx, coachPhone, "", "abandon_task_"+task.ID)
	if !res.Success || res.Response != msgBtnAbandoned {
		t.Fatalf("abandon result = %+v", res)
	}
	remaining, err := f.tasks.GetRunning(ctx, coachPhone, models.RoleCoach)
	if err != nil {
		t.Fatalf("GetRunning: %v", err)
	}
	if remaining != nil {
		t.Errorf("task still running after abandon: %+v", remaining)
	}
}

func TestButtonPrefixOrdering(t *testing.T) {
	// accept_invitation_ must be matched by the invitation handler, never by
	// a shorter accept_ prefix. The invitation lookup failing proves the right
	// handler ran.
	f := newFixture(t)
	res := f.router.Route(context.Background(), "+5511999990018", "", "accept_invitation_deadbeef")
	if res.Response != msgBtnInvitationGone {
		t.Errorf("response = %q, want invitation-gone from the invitation handler", res.Response)
	}
}
