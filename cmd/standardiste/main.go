package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/accueilvox/standardiste/internal/api"
	"github.com/accueilvox/standardiste/internal/calendar"
	"github.com/accueilvox/standardiste/internal/config"
	"github.com/accueilvox/standardiste/internal/decision"
	"github.com/accueilvox/standardiste/internal/events"
	"github.com/accueilvox/standardiste/internal/flow"
	"github.com/accueilvox/standardiste/internal/genai"
	"github.com/accueilvox/standardiste/internal/lock"
	"github.com/accueilvox/standardiste/internal/scheduler"
	"github.com/accueilvox/standardiste/internal/store"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Standardiste state data
	DefaultStateDir = "/var/lib/standardiste"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "standardiste.db"
	// DefaultSlotsDBFileName is the embedded calendar database filename
	DefaultSlotsDBFileName = "slots.db"
)

func main() {
	initializeLogger()

	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
	cfg := config.FromEnv(os.Getenv)
	flags := parseCommandLineFlags(cfg)

	if err := run(cfg, flags); err != nil {
		slog.Error("Standardiste failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Standardiste exited successfully")
}

// Flags holds command line flag values.
type Flags struct {
	stateDir       *string
	dbDriver       *string
	dbDSN          *string
	redisAddr      *string
	openaiKey      *string
	apiAddr        *string
	publicURL      *string
	calendarAPIURL *string
	calendarAPIKey *string
}

// initializeLogger sets up structured logging. LOG_LEVEL=debug enables
// per-turn tracing.
func initializeLogger() {
	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// parseCommandLineFlags parses command line arguments with environment defaults.
func parseCommandLineFlags(cfg config.Config) Flags {
	flags := Flags{
		stateDir:       flag.String("state-dir", envOr("STATE_DIR", DefaultStateDir), "state directory for Standardiste data (overrides $STATE_DIR)"),
		dbDriver:       flag.String("db-driver", cfg.DBDriver, "database driver, sqlite3 or postgres (overrides $DB_DRIVER)"),
		dbDSN:          flag.String("db-dsn", cfg.DBDSN, "database DSN (overrides $DB_DSN)"),
		redisAddr:      flag.String("redis-addr", cfg.RedisAddr, "Redis address for the call lock (overrides $REDIS_ADDR)"),
		openaiKey:      flag.String("openai-api-key", cfg.OpenAIKey, "OpenAI API key for the decision layer (overrides $OPENAI_API_KEY)"),
		apiAddr:        flag.String("api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)"),
		publicURL:      flag.String("public-url", os.Getenv("PUBLIC_URL"), "external base URL for webhook signature validation (overrides $PUBLIC_URL)"),
		calendarAPIURL: flag.String("calendar-api-url", os.Getenv("CALENDAR_API_URL"), "hosted calendar API base URL (overrides $CALENDAR_API_URL)"),
		calendarAPIKey: flag.String("calendar-api-key", os.Getenv("CALENDAR_API_KEY"), "hosted calendar API key (overrides $CALENDAR_API_KEY)"),
	}
	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDriver", *flags.dbDriver,
		"dbDSN_set", *flags.dbDSN != "",
		"redisAddr_set", *flags.redisAddr != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"calendarAPI_set", *flags.calendarAPIURL != "")
	return flags
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(cfg config.Config, flags Flags) error {
	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	locker := buildLocker(cfg, flags)
	resolver := config.NewResolver(st, cfg.TenantCacheTTL)
	cache := store.NewSessionCache()
	emitter := events.NewEmitter(st)

	gateway, err := buildGateway(flags)
	if err != nil {
		return err
	}

	decisions := buildDecisionLayer(flags)
	controller := flow.NewController(gateway, emitter)
	processor := flow.NewTurnProcessor(st, cache, locker, resolver, controller, emitter, decisions, cfg)

	sched := scheduler.New(st, cache, resolver, cfg.SessionTTL)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if cfg.TwilioAuthToken != "" {
		apiOpts = append(apiOpts, api.WithTwilioAuthToken(cfg.TwilioAuthToken))
	}
	if *flags.publicURL != "" {
		apiOpts = append(apiOpts, api.WithPublicURL(*flags.publicURL))
	}
	server := api.NewServer(processor, resolver, st, apiOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping Standardiste", "apiAddr", *flags.apiAddr)
	return server.Run(ctx)
}

// buildStore selects the durable backend from the DSN: a Postgres URL uses
// the Postgres store, anything else a SQLite file under the state directory.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	driver := *flags.dbDriver
	if driver == "" {
		if strings.Contains(dsn, "postgres://") || strings.Contains(dsn, "host=") {
			driver = "postgres"
		} else {
			driver = "sqlite3"
		}
	}

	switch driver {
	case "postgres":
		slog.Info("buildStore: using PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	default:
		if dsn == "" {
			dsn = filepath.Join(*flags.stateDir, DefaultDBFileName)
		}
		slog.Info("buildStore: using SQLite store", "path", dsn)
		return store.NewSQLiteStore(store.WithDSN(dsn))
	}
}

// buildLocker uses Redis when configured and reachable. A single-instance
// deployment falls back to the in-process lock.
func buildLocker(cfg config.Config, flags Flags) lock.Locker {
	if *flags.redisAddr == "" {
		slog.Info("buildLocker: no Redis configured, using in-process call lock")
		return lock.NewMemoryLocker()
	}
	locker, err := lock.NewRedisLocker(*flags.redisAddr, cfg.RedisPassword)
	if err != nil {
		slog.Warn("buildLocker: Redis unreachable, falling back to in-process call lock", "error", err)
		return lock.NewMemoryLocker()
	}
	slog.Info("buildLocker: using Redis call lock", "addr", *flags.redisAddr)
	return locker
}

// buildGateway wires the calendar providers. The embedded slot table is
// always available as the fallback; the hosted provider is added when its
// API URL is configured.
func buildGateway(flags Flags) (*calendar.Gateway, error) {
	embedded, err := calendar.NewEmbeddedProvider(filepath.Join(*flags.stateDir, DefaultSlotsDBFileName))
	if err != nil {
		return nil, err
	}
	if *flags.calendarAPIURL != "" {
		hosted := calendar.NewHostedProvider(*flags.calendarAPIURL, *flags.calendarAPIKey)
		slog.Info("buildGateway: hosted calendar provider enabled", "baseURL", *flags.calendarAPIURL)
		return calendar.NewGateway(embedded, hosted), nil
	}
	return calendar.NewGateway(embedded), nil
}

// buildDecisionLayer wires the canary decision layer when an OpenAI key is
// present. Without a key every call follows the rule-based path.
func buildDecisionLayer(flags Flags) *decision.Layer {
	if *flags.openaiKey == "" {
		slog.Info("buildDecisionLayer: no OpenAI key, decision layer disabled")
		return nil
	}
	client, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
	if err != nil {
		slog.Warn("buildDecisionLayer: GenAI client init failed, decision layer disabled", "error", err)
		return nil
	}
	return decision.NewLayer(decision.NewAdvisor(client))
}
