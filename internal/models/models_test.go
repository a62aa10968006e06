package models

import "testing"

func TestIsValidRole(t *testing.T) {
	tests := []struct {
		role  Role
		valid bool
	}{
		{RoleCoach, true},
		{RoleClient, true},
		{Role("admin"), false},
		{Role(""), false},
	}

	for _, tt := range tests {
		if got := IsValidRole(tt.role); got != tt.valid {
			t.Errorf("IsValidRole(%q) = %v, want %v", tt.role, got, tt.valid)
		}
	}
}

func TestUserHasRole(t *testing.T) {
	u := User{Phone: "15551234567", CoachID: "joe42"}

	if !u.HasRole(RoleCoach) {
		t.Error("expected user to hold coach role")
	}
	if u.HasRole(RoleClient) {
		t.Error("did not expect user to hold client role")
	}
	if u.HasRole(Role("other")) {
		t.Error("unknown role should never be held")
	}
}

func TestUserRoleID(t *testing.T) {
	u := User{Phone: "15551234567", CoachID: "joe42", ClientID: "ann17"}

	if got := u.RoleID(RoleCoach); got != "joe42" {
		t.Errorf("RoleID(coach) = %q, want joe42", got)
	}
	if got := u.RoleID(RoleClient); got != "ann17" {
		t.Errorf("RoleID(client) = %q, want ann17", got)
	}
	if got := u.RoleID(Role("other")); got != "" {
		t.Errorf("RoleID(other) = %q, want empty", got)
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	if TaskStatusRunning.IsTerminal() {
		t.Error("running must not be terminal")
	}
	if !TaskStatusCompleted.IsTerminal() {
		t.Error("completed must be terminal")
	}
	if !TaskStatusStopped.IsTerminal() {
		t.Error("stopped must be terminal")
	}
}

func TestPayloadCloneAndMerge(t *testing.T) {
	orig := Payload{"name": "Ann", "step_retries": "1"}
	clone := orig.Clone()
	clone["name"] = "Bob"

	if orig["name"] != "Ann" {
		t.Error("mutating a clone must not affect the original")
	}

	merged := orig.Clone().Merge(Payload{"price": "50", "name": "Cleo"})
	if merged["price"] != "50" || merged["name"] != "Cleo" || merged["step_retries"] != "1" {
		t.Errorf("unexpected merge result: %v", merged)
	}
}

func TestPayloadCloneNil(t *testing.T) {
	var p Payload
	clone := p.Clone()
	if clone == nil {
		t.Fatal("Clone of nil payload should return a usable map")
	}
	clone["k"] = "v"
	if clone["k"] != "v" {
		t.Error("clone should be writable")
	}
}

func TestAPIResponseBuilder(t *testing.T) {
	resp := NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage("done").
		WithResult(map[string]string{"id": "t1"}).
		Build()

	if resp.Status != string(APIStatusOK) {
		t.Errorf("expected status ok, got %s", resp.Status)
	}
	if resp.Message != "done" {
		t.Errorf("expected message done, got %s", resp.Message)
	}
	if resp.Result == nil {
		t.Error("expected result to be set")
	}

	errResp := Error("boom")
	if errResp.Status != string(APIStatusError) || errResp.Message != "boom" {
		t.Errorf("unexpected error response: %+v", errResp)
	}
}
