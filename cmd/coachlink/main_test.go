package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coachlinkhq/coachlink/internal/scheduler"
)

// newTestFlags builds a Flags value without going through the flag package,
// which can only parse once per process.
func newTestFlags(dbDSN, stateDir string) Flags {
	qrOutput := ""
	numeric := false
	openaiKey := ""
	apiAddr := ""
	useTwilio := false
	nudgeCron := ""
	nudgeIdle := scheduler.DefaultIdleThreshold
	return Flags{
		qrOutput:  &qrOutput,
		numeric:   &numeric,
		stateDir:  &stateDir,
		dbDSN:     &dbDSN,
		openaiKey: &openaiKey,
		apiAddr:   &apiAddr,
		useTwilio: &useTwilio,
		nudgeCron: &nudgeCron,
		nudgeIdle: &nudgeIdle,
	}
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("COACHLINK_STATE_DIR", "")
	t.Setenv("USE_TWILIO", "")

	config := loadEnvironmentConfig()
	if config.StateDir != DefaultStateDir {
		t.Errorf("StateDir = %q, want %q", config.StateDir, DefaultStateDir)
	}
	want := filepath.Join(DefaultStateDir, DefaultDBFileName)
	if config.DatabaseDSN != want {
		t.Errorf("DatabaseDSN = %q, want %q", config.DatabaseDSN, want)
	}
	if config.UseTwilio {
		t.Error("UseTwilio defaulted to true")
	}
}

func TestLoadEnvironmentConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://coach:link@db/coachlink")
	t.Setenv("COACHLINK_STATE_DIR", "/tmp/coachlink-test")
	t.Setenv("USE_TWILIO", "yes")

	config := loadEnvironmentConfig()
	if config.DatabaseDSN != "postgres://coach:link@db/coachlink" {
		t.Errorf("DatabaseDSN = %q", config.DatabaseDSN)
	}
	if config.StateDir != "/tmp/coachlink-test" {
		t.Errorf("StateDir = %q", config.StateDir)
	}
	if !config.UseTwilio {
		t.Error("UseTwilio = false, want true")
	}
}

func TestBuildStoreOptions(t *testing.T) {
	postgres := newTestFlags("postgres://coach:link@db/coachlink", "/tmp")
	if opts := buildStoreOptions(postgres); len(opts) != 1 {
		t.Errorf("postgres DSN produced %d options, want 1", len(opts))
	}

	sqlite := newTestFlags("/tmp/coachlink.db", "/tmp")
	if opts := buildStoreOptions(sqlite); len(opts) != 1 {
		t.Errorf("sqlite DSN produced %d options, want 1", len(opts))
	}
}

func TestEnsureDirectoriesExist(t *testing.T) {
	base := t.TempDir()
	dbPath := filepath.Join(base, "state", "coachlink.db")
	flags := newTestFlags(dbPath, filepath.Join(base, "state"))

	if err := ensureDirectoriesExist(flags); err != nil {
		t.Fatalf("ensureDirectoriesExist() error: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Errorf("state directory was not created: %v", err)
	}
}

func TestEnsureDirectoriesExistSkipsPostgres(t *testing.T) {
	flags := newTestFlags("postgres://coach:link@db/coachlink", "/nonexistent")
	if err := ensureDirectoriesExist(flags); err != nil {
		t.Errorf("ensureDirectoriesExist() error for postgres DSN: %v", err)
	}
}

func TestBuildWhatsAppOptions(t *testing.T) {
	flags := newTestFlags("/tmp/state/coachlink.db", "/tmp/state")
	*flags.qrOutput = "/tmp/qr.txt"
	*flags.numeric = true

	// qr output, numeric code, and the session DB path.
	if opts := buildWhatsAppOptions(flags); len(opts) != 3 {
		t.Errorf("got %d options, want 3", len(opts))
	}
}

func TestBuildAPIOptions(t *testing.T) {
	flags := newTestFlags("/tmp/coachlink.db", "/tmp")
	if opts := buildAPIOptions(flags); len(opts) != 0 {
		t.Errorf("empty addr produced %d options, want 0", len(opts))
	}
	*flags.apiAddr = ":9090"
	if opts := buildAPIOptions(flags); len(opts) != 1 {
		t.Errorf("configured addr produced %d options, want 1", len(opts))
	}
}

func TestNudgeIdleDefault(t *testing.T) {
	flags := newTestFlags("/tmp/coachlink.db", "/tmp")
	if *flags.nudgeIdle != time.Hour {
		t.Errorf("default idle threshold = %v, want 1h", *flags.nudgeIdle)
	}
}
