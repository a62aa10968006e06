package relationship

import (
	"context"
	"testing"
	"time"

	"github.com/coachlinkhq/coachlink/internal/models"
	"github.com/coachlinkhq/coachlink/internal/store"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	t.Cleanup(func() { st.Close() })
	return NewService(st), st
}

func seedCoach(t *testing.T, st store.Store, id, phone string) {
	t.Helper()
	now := time.Now()
	if err := st.SaveCoach(models.Coach{ID: id, Phone: phone, Name: "Coach " + id, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("SaveCoach(%s) error: %v", id, err)
	}
}

func seedClient(t *testing.T, st store.Store, id, phone string) {
	t.Helper()
	now := time.Now()
	if err := st.SaveClient(models.Client{ID: id, Phone: phone, Name: "Client " + id, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("SaveClient(%s) error: %v", id, err)
	}
}

func TestCreateOrUpdateRelationshipMirrorsStayInSync(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	if err := svc.CreateOrUpdateRelationship(ctx, "mari123", "joao456", models.RoleCoach, "tok1"); err != nil {
		t.Fatalf("CreateOrUpdateRelationship() error: %v", err)
	}

	coachSide, err := st.GetRelationship("mari123", "joao456")
	if err != nil || coachSide == nil {
		t.Fatalf("GetRelationship() = %v, %v", coachSide, err)
	}
	clientSide, err := st.GetRelationshipMirror("joao456", "mari123")
	if err != nil || clientSide == nil {
		t.Fatalf("GetRelationshipMirror() = %v, %v", clientSide, err)
	}
	if coachSide.Status != models.ConnectionPending || clientSide.Status != models.ConnectionPending {
		t.Errorf("statuses = %s / %s, want both pending", coachSide.Status, clientSide.Status)
	}
	if coachSide.InvitedBy != models.RoleCoach {
		t.Errorf("InvitedBy = %s, want coach", coachSide.InvitedBy)
	}
}

func TestApproveDeclineRemoveKeepMirrorsEqual(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	if err := svc.CreateOrUpdateRelationship(ctx, "mari123", "joao456", models.RoleClient, "tok1"); err != nil {
		t.Fatalf("CreateOrUpdateRelationship() error: %v", err)
	}

	if err := svc.Approve(ctx, "mari123", "joao456"); err != nil {
		t.Fatalf("Approve() error: %v", err)
	}
	assertMirrorStatus(t, st, "mari123", "joao456", models.ConnectionActive)

	if err := svc.Decline(ctx, "mari123", "joao456"); err != nil {
		t.Fatalf("Decline() error: %v", err)
	}
	assertMirrorStatus(t, st, "mari123", "joao456", models.ConnectionDeclined)

	if err := svc.Remove(ctx, "mari123", "joao456"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	coachSide, err := st.GetRelationship("mari123", "joao456")
	if err != nil {
		t.Fatalf("GetRelationship() error: %v", err)
	}
	clientSide, err := st.GetRelationshipMirror("joao456", "mari123")
	if err != nil {
		t.Fatalf("GetRelationshipMirror() error: %v", err)
	}
	if coachSide != nil || clientSide != nil {
		t.Errorf("after Remove: coach side = %v, client side = %v, want both nil", coachSide, clientSide)
	}
}

func assertMirrorStatus(t *testing.T, st store.Store, coachID, clientID string, want models.ConnectionStatus) {
	t.Helper()
	coachSide, err := st.GetRelationship(coachID, clientID)
	if err != nil || coachSide == nil {
		t.Fatalf("GetRelationship() = %v, %v", coachSide, err)
	}
	clientSide, err := st.GetRelationshipMirror(clientID, coachID)
	if err != nil || clientSide == nil {
		t.Fatalf("GetRelationshipMirror() = %v, %v", clientSide, err)
	}
	if coachSide.Status != want || clientSide.Status != want {
		t.Errorf("mirror statuses = %s / %s, want both %s", coachSide.Status, clientSide.Status, want)
	}
}

func TestReinviteAfterDeclineResetsToPending(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	if err := svc.CreateOrUpdateRelationship(ctx, "mari123", "joao456", models.RoleCoach, "tok1"); err != nil {
		t.Fatalf("first invite error: %v", err)
	}
	if err := svc.Decline(ctx, "mari123", "joao456"); err != nil {
		t.Fatalf("Decline() error: %v", err)
	}

	// A declined relationship is invisible to the filtered check.
	rel, err := svc.CheckRelationship(ctx, "mari123", "joao456")
	if err != nil {
		t.Fatalf("CheckRelationship() error: %v", err)
	}
	if rel != nil {
		t.Errorf("CheckRelationship after decline = %v, want nil", rel)
	}
	any, err := svc.CheckAnyRelationship(ctx, "mari123", "joao456")
	if err != nil {
		t.Fatalf("CheckAnyRelationship() error: %v", err)
	}
	if any == nil || any.Status != models.ConnectionDeclined {
		t.Fatalf("CheckAnyRelationship after decline = %v, want declined record", any)
	}

	if err := svc.CreateOrUpdateRelationship(ctx, "mari123", "joao456", models.RoleCoach, "tok2"); err != nil {
		t.Fatalf("re-invite error: %v", err)
	}
	assertMirrorStatus(t, st, "mari123", "joao456", models.ConnectionPending)
	rel, err = st.GetRelationship("mari123", "joao456")
	if err != nil {
		t.Fatalf("GetRelationship() error: %v", err)
	}
	if rel.Token != "tok2" {
		t.Errorf("re-invite token = %q, want %q", rel.Token, "tok2")
	}
}

func TestResolveClientScenario(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seedClient(t, st, "joao456", "+5511999990001")
	seedClient(t, st, "anaa789", "+5511999990002")
	seedClient(t, st, "pedr321", "+5511999990003")

	// anaa789 is active with mari123; pedr321 is active with another coach.
	for _, setup := range []struct {
		coachID, clientID string
		status            models.ConnectionStatus
	}{
		{"mari123", "anaa789", models.ConnectionActive},
		{"otto999", "pedr321", models.ConnectionActive},
		{"mari123", "joao456", models.ConnectionDeclined},
	} {
		if err := svc.CreateOrUpdateRelationship(ctx, setup.coachID, setup.clientID, models.RoleCoach, "tok"); err != nil {
			t.Fatalf("setup invite error: %v", err)
		}
		if setup.status == models.ConnectionActive {
			if err := svc.Approve(ctx, setup.coachID, setup.clientID); err != nil {
				t.Fatalf("setup approve error: %v", err)
			}
		}
		if setup.status == models.ConnectionDeclined {
			if err := svc.Decline(ctx, setup.coachID, setup.clientID); err != nil {
				t.Fatalf("setup decline error: %v", err)
			}
		}
	}

	tests := []struct {
		name  string
		phone string
		want  models.ClientScenario
	}{
		{"unregistered phone", "+5511000000000", models.ScenarioNew},
		{"declined only", "+5511999990001", models.ScenarioAvailable},
		{"active with asking coach", "+5511999990002", models.ScenarioAlreadyYours},
		{"active with another coach", "+5511999990003", models.ScenarioHasOtherCoach},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ResolveClientScenario(ctx, tt.phone, "mari123")
			if err != nil {
				t.Fatalf("ResolveClientScenario() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveClientScenario(%s) = %s, want %s", tt.phone, got, tt.want)
			}
		})
	}
}

func TestRegisterCoachLinksUserRecord(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	coach, err := svc.RegisterCoach(ctx, "+5511988880001", "Maria Silva", "maria@example.com", "150")
	if err != nil {
		t.Fatalf("RegisterCoach() error: %v", err)
	}
	if coach.ID == "" {
		t.Fatal("RegisterCoach() returned empty id")
	}

	user, err := st.GetUser("+5511988880001")
	if err != nil || user == nil {
		t.Fatalf("GetUser() = %v, %v", user, err)
	}
	if user.CoachID != coach.ID {
		t.Errorf("user.CoachID = %q, want %q", user.CoachID, coach.ID)
	}
	if user.ActiveRole != models.RoleCoach {
		t.Errorf("user.ActiveRole = %s, want coach", user.ActiveRole)
	}

	exists, err := st.CoachIDExists(coach.ID)
	if err != nil || !exists {
		t.Errorf("CoachIDExists(%s) = %v, %v, want true", coach.ID, exists, err)
	}
}

func TestRegisterClientOntoExistingUserKeepsCoachID(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	coach, err := svc.RegisterCoach(ctx, "+5511988880001", "Maria Silva", "maria@example.com", "150")
	if err != nil {
		t.Fatalf("RegisterCoach() error: %v", err)
	}
	client, err := svc.RegisterClient(ctx, "+5511988880001", "Maria Silva", "maria@example.com")
	if err != nil {
		t.Fatalf("RegisterClient() error: %v", err)
	}

	user, err := st.GetUser("+5511988880001")
	if err != nil || user == nil {
		t.Fatalf("GetUser() = %v, %v", user, err)
	}
	if user.CoachID != coach.ID {
		t.Errorf("user.CoachID = %q, want preserved %q", user.CoachID, coach.ID)
	}
	if user.ClientID != client.ID {
		t.Errorf("user.ClientID = %q, want %q", user.ClientID, client.ID)
	}
	if user.ActiveRole != models.RoleClient {
		t.Errorf("user.ActiveRole = %s, want client (most recent registration)", user.ActiveRole)
	}
}

func TestInvitationAcceptActivatesRelationship(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seedCoach(t, st, "mari123", "+5511988880001")

	inv, err := svc.CreateInvitation(ctx, "mari123", "+5511999990001", "Joao", "", "200", models.InvitationPending)
	if err != nil {
		t.Fatalf("CreateInvitation() error: %v", err)
	}
	if inv.Token == "" {
		t.Fatal("CreateInvitation() returned empty token")
	}

	seedClient(t, st, "joao456", "+5511999990001")
	accepted, err := svc.AcceptInvitation(ctx, inv.Token, "joao456")
	if err != nil {
		t.Fatalf("AcceptInvitation() error: %v", err)
	}
	if accepted.Status != models.InvitationAccepted {
		t.Errorf("invitation status = %s, want accepted", accepted.Status)
	}
	assertMirrorStatus(t, st, "mari123", "joao456", models.ConnectionActive)
}

func TestInvitationDeclineIsRecordedNotDeleted(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	inv, err := svc.CreateInvitation(ctx, "mari123", "+5511999990001", "Joao", "", "", models.InvitationPending)
	if err != nil {
		t.Fatalf("CreateInvitation() error: %v", err)
	}
	declined, err := svc.DeclineInvitation(ctx, inv.Token, "")
	if err != nil {
		t.Fatalf("DeclineInvitation() error: %v", err)
	}
	if declined.Status != models.InvitationDeclined {
		t.Errorf("invitation status = %s, want declined", declined.Status)
	}

	// The record must survive for audit.
	stored, err := st.GetInvitation(inv.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetInvitation() = %v, %v, want surviving record", stored, err)
	}
	if stored.Status != models.InvitationDeclined {
		t.Errorf("stored status = %s, want declined", stored.Status)
	}
}

func TestLookupCoachForUserDegradesToPhone(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seedCoach(t, st, "mari123", "+5511988880001")
	user := &models.User{Phone: "+5511988880001", CoachID: "stale999", ActiveRole: models.RoleCoach}

	coach, err := svc.LookupCoachForUser(ctx, user)
	if err != nil {
		t.Fatalf("LookupCoachForUser() error: %v", err)
	}
	if coach.ID != "mari123" {
		t.Errorf("coach.ID = %q, want %q via phone fallback", coach.ID, "mari123")
	}
}
