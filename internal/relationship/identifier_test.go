package relationship

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerateInvitationToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tok, err := GenerateInvitationToken()
		if err != nil {
			t.Fatalf("GenerateInvitationToken() error: %v", err)
		}
		if len(tok) != tokenBytes*2 {
			t.Errorf("token length = %d, want %d", len(tok), tokenBytes*2)
		}
		if seen[tok] {
			t.Errorf("duplicate token generated: %s", tok)
		}
		seen[tok] = true
	}
}

func TestGenerateUniqueIDMnemonicPrefix(t *testing.T) {
	noCollisions := func(string) (bool, error) { return false, nil }

	id, err := generateUniqueID("Maria Silva", noCollisions)
	if err != nil {
		t.Fatalf("generateUniqueID() error: %v", err)
	}
	if !strings.HasPrefix(id, "mari") {
		t.Errorf("id = %q, want prefix %q", id, "mari")
	}
	if len(id) != idPrefixLen+idDigits {
		t.Errorf("id length = %d, want %d", len(id), idPrefixLen+idDigits)
	}
}

func TestGenerateUniqueIDShortName(t *testing.T) {
	noCollisions := func(string) (bool, error) { return false, nil }

	id, err := generateUniqueID("Al", noCollisions)
	if err != nil {
		t.Fatalf("generateUniqueID() error: %v", err)
	}
	if !strings.HasPrefix(id, "al") {
		t.Errorf("id = %q, want prefix %q", id, "al")
	}
}

func TestGenerateUniqueIDEmptyName(t *testing.T) {
	noCollisions := func(string) (bool, error) { return false, nil }

	id, err := generateUniqueID("", noCollisions)
	if err != nil {
		t.Fatalf("generateUniqueID() error: %v", err)
	}
	if !strings.HasPrefix(id, "u") {
		t.Errorf("id = %q, want placeholder prefix %q", id, "u")
	}
}

func TestGenerateUniqueIDRetriesOnCollision(t *testing.T) {
	calls := 0
	collideTwice := func(string) (bool, error) {
		calls++
		return calls <= 2, nil
	}

	id, err := generateUniqueID("Maria", collideTwice)
	if err != nil {
		t.Fatalf("generateUniqueID() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("exists calls = %d, want 3", calls)
	}
	if !strings.HasPrefix(id, "mari") {
		t.Errorf("id = %q, want prefix %q", id, "mari")
	}
}

func TestGenerateUniqueIDForcedCollisionFallsBack(t *testing.T) {
	// Every mnemonic and timestamp candidate collides; the generator must
	// still hand back a fully random identifier rather than loop or fail.
	alwaysTaken := func(string) (bool, error) { return true, nil }

	id, err := generateUniqueID("Maria", alwaysTaken)
	if err != nil {
		t.Fatalf("generateUniqueID() error: %v", err)
	}
	if id == "" {
		t.Fatal("generateUniqueID() returned empty id under forced collision")
	}
	if len(id) != fallbackIDLen {
		t.Errorf("fallback id length = %d, want %d", len(id), fallbackIDLen)
	}
	if strings.HasPrefix(id, "mari") {
		t.Errorf("fallback id %q unexpectedly kept the mnemonic prefix", id)
	}
}

func TestGenerateUniqueIDStoreErrorFallsBack(t *testing.T) {
	broken := func(string) (bool, error) { return false, errors.New("db down") }

	id, err := generateUniqueID("Maria", broken)
	if err != nil {
		t.Fatalf("generateUniqueID() error: %v", err)
	}
	if len(id) != fallbackIDLen {
		t.Errorf("fallback id length = %d, want %d", len(id), fallbackIDLen)
	}
}
