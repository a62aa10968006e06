package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/coachlinkhq/coachlink/internal/api"
	"github.com/coachlinkhq/coachlink/internal/flow"
	"github.com/coachlinkhq/coachlink/internal/genai"
	"github.com/coachlinkhq/coachlink/internal/messaging"
	"github.com/coachlinkhq/coachlink/internal/recovery"
	"github.com/coachlinkhq/coachlink/internal/relationship"
	"github.com/coachlinkhq/coachlink/internal/router"
	"github.com/coachlinkhq/coachlink/internal/scheduler"
	"github.com/coachlinkhq/coachlink/internal/store"
	"github.com/coachlinkhq/coachlink/internal/tasks"
	"github.com/coachlinkhq/coachlink/internal/twiliowhatsapp"
	"github.com/coachlinkhq/coachlink/internal/util"
	"github.com/coachlinkhq/coachlink/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CoachLink state data
	DefaultStateDir = "/var/lib/coachlink"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "coachlink.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping CoachLink")
	if err := run(flags); err != nil {
		slog.Error("CoachLink failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CoachLink exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseDSN string
	StateDir    string
	OpenAIKey   string
	APIAddr     string
	UseTwilio   bool
	NudgeCron   string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	openaiKey *string
	apiAddr   *string
	useTwilio *bool
	nudgeCron *string
	nudgeIdle *time.Duration
}

// initializeLogger sets up structured logging. COACHLINK_DEBUG lowers the
// level to debug.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("COACHLINK_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseDSN: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("COACHLINK_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("COACHLINK_API_ADDR"),
		UseTwilio:   util.ParseBoolEnv("USE_TWILIO", false),
		NudgeCron:   os.Getenv("NUDGE_SCHEDULE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No COACHLINK_STATE_DIR set, using default", "state_dir", config.StateDir)
	}

	// Without a database URL, fall back to SQLite in the state directory.
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseDSN != "",
		"COACHLINK_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"COACHLINK_API_ADDR", config.APIAddr,
		"USE_TWILIO", config.UseTwilio,
		"NUDGE_SCHEDULE", config.NudgeCron)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write login QR code"),
		numeric:   flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for CoachLink data (overrides $COACHLINK_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseDSN, "database DSN (overrides $DATABASE_URL)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $COACHLINK_API_ADDR)"),
		useTwilio: flag.Bool("use-twilio", config.UseTwilio, "deliver over the Twilio WhatsApp API instead of whatsmeow (overrides $USE_TWILIO)"),
		nudgeCron: flag.String("nudge-cron", config.NudgeCron, "cron schedule for the stalled-task scan (overrides $NUDGE_SCHEDULE)"),
		nudgeIdle: flag.Duration("nudge-idle", scheduler.DefaultIdleThreshold, "how long a task may idle before its actor is nudged"),
	}

	flag.Parse()

	// Re-anchor the default SQLite path if only the state directory moved.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	}
	return storeOpts
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	// The whatsmeow session lives next to the app database.
	waOpts = append(waOpts, whatsapp.WithDBDSN(filepath.Join(filepath.Dir(*flags.dbDSN), "whatsmeow.db")))
	return waOpts
}

// buildMessagingService selects and constructs the delivery channel.
func buildMessagingService(flags Flags) (messaging.Service, error) {
	if *flags.useTwilio {
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	}
	client, err := whatsapp.NewClient(buildWhatsAppOptions(flags)...)
	if err != nil {
		return nil, err
	}
	return messaging.NewWhatsAppService(client), nil
}

// openStore opens the configured storage backend.
func openStore(flags Flags) (store.Store, error) {
	opts := buildStoreOptions(flags)
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return store.NewPostgresStore(opts...)
	}
	return store.NewSQLiteStore(opts...)
}

func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	msgService, err := buildMessagingService(flags)
	if err != nil {
		return err
	}
	defer msgService.Stop()

	taskStore := tasks.NewStore(st)
	rels := relationship.NewService(st)
	engine := flow.NewEngine(flow.Deps{Store: st, Tasks: taskStore, Relationships: rels, Notifier: msgService})

	// The intent classifier is optional; without a key, unmatched free text
	// just gets the help response.
	var intents router.IntentClassifier
	if *flags.openaiKey != "" {
		genaiClient, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			slog.Warn("GenAI client unavailable, intent classification disabled", "error", err)
		} else {
			intents = genaiClient
		}
	} else {
		slog.Info("No OpenAI API key configured, intent classification disabled")
	}

	rt := router.NewRouter(st, taskStore, engine, rels, msgService, intents)

	if err := msgService.Start(ctx); err != nil {
		return err
	}
	go runResponseLoop(ctx, msgService, rt)

	nudgeOpts := []scheduler.NudgeOption{scheduler.WithIdleThreshold(*flags.nudgeIdle)}
	if *flags.nudgeCron != "" {
		nudgeOpts = append(nudgeOpts, scheduler.WithNudgeCron(*flags.nudgeCron))
	}
	nudger := scheduler.NewNudgeService(taskStore, msgService, nudgeOpts...)

	// Before taking new traffic on a schedule, re-offer whatever was mid-flight
	// when the previous process died.
	recoveryManager := recovery.NewManager()
	recoveryManager.Register(recovery.NewTaskRecovery(nudger))
	if err := recoveryManager.RecoverAll(ctx); err != nil {
		slog.Warn("Recovery finished with errors", "error", err)
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := nudger.Schedule(sched); err != nil {
		return err
	}

	server := api.NewServer(msgService, rt, st, taskStore, buildAPIOptions(flags)...)
	if err := server.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

// runResponseLoop drains inbound events from the messaging service, routes
// each through the conversation engine, and delivers the reply.
func runResponseLoop(ctx context.Context, msgService messaging.Service, rt *router.Router) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-msgService.Responses():
			if !ok {
				return
			}
			result := rt.Route(ctx, resp.From, resp.Body, resp.ButtonID)
			if result.Response == "" {
				continue
			}
			var err error
			if len(result.Buttons) > 0 {
				err = msgService.SendButtons(ctx, resp.From, result.Response, result.Buttons)
			} else {
				err = msgService.SendText(ctx, resp.From, result.Response)
			}
			if err != nil {
				slog.Error("Failed to deliver routed reply", "error", err, "to", resp.From, "handler", result.Handler)
			}
		}
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
