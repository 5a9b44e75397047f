// Command bos runs the governance pipeline server: the command bus with
// its policy stack, the business engines, and the HTTP edge.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bosworks/bos/core/pkg/audit"
	"github.com/bosworks/bos/core/pkg/command"
	"github.com/bosworks/bos/core/pkg/config"
	"github.com/bosworks/bos/core/pkg/engine"
	"github.com/bosworks/bos/core/pkg/engines/accounting"
	"github.com/bosworks/bos/core/pkg/engines/cash"
	"github.com/bosworks/bos/core/pkg/engines/inventory"
	"github.com/bosworks/bos/core/pkg/event"
	"github.com/bosworks/bos/core/pkg/featureflag"
	"github.com/bosworks/bos/core/pkg/httpapi"
	"github.com/bosworks/bos/core/pkg/kernel"
	"github.com/bosworks/bos/core/pkg/observability"
	"github.com/bosworks/bos/core/pkg/policy"
	"github.com/bosworks/bos/core/pkg/security"
	"github.com/bosworks/bos/core/pkg/store"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stderr)
	}
	switch args[1] {
	case "server", "serve":
		return runServer(stderr)
	case "health":
		return runHealth(stdout, stderr)
	case "hash-key":
		return runHashKey(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: bos <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  server    Run the pipeline server (default)")
	fmt.Fprintln(w, "  health    Check a running server over HTTP")
	fmt.Fprintln(w, "  hash-key  Print the bcrypt hash for an API key")
	fmt.Fprintln(w, "  help      Show this help")
}

func runServer(stderr io.Writer) int {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	ctx := context.Background()

	obs, err := newObservability(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "observability init: %v\n", err)
		return 1
	}

	sink, err := openSink(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "event store init: %v\n", err)
		return 1
	}
	defer sink.Close()

	clock := kernel.SystemClock{}
	ids := kernel.UUIDProvider{}
	registry := event.NewTypeRegistry()
	emitter := event.NewEmitter(registry, sink)
	factory := event.NewFactory(clock, ids)
	subs := event.NewSubscriberRegistry()

	stack, recorder := newPolicyStack(cfg, clock, logger)
	trail := audit.NewTrail(clock, ids)

	bus := command.NewBus(factory, emitter,
		command.WithGuard(stack.Guard()),
		command.WithSubscribers(subs),
		command.WithRejectionRecorder(recorder),
		command.WithAuditHook(audit.Hook(trail, logger)),
		command.WithLogger(logger),
	)

	reg := &engine.Registration{Bus: bus, Registry: registry, FlagKeys: stack.FlagKeys, Subs: subs}
	if err := engine.Install(reg,
		cash.NewEngine(factory, emitter, clock, ids, logger),
		inventory.NewEngine(factory, emitter, clock, ids, logger),
		accounting.NewEngine(factory, emitter, clock, ids, logger),
	); err != nil {
		fmt.Fprintf(stderr, "engine install: %v\n", err)
		return 1
	}
	logger.Info("engines installed", "count", 3)

	catalog, err := buildCatalog()
	if err != nil {
		fmt.Fprintf(stderr, "intent catalog: %v\n", err)
		return 1
	}
	auth, err := newAuthProvider(clock, logger)
	if err != nil {
		fmt.Fprintf(stderr, "auth init: %v\n", err)
		return 1
	}

	server := httpapi.NewServer(bus, auth, catalog, clock, ids,
		httpapi.WithEdgeLimiter(httpapi.NewEdgeLimiter(50, 100)),
		httpapi.WithObservability(obs),
		httpapi.WithLogger(logger),
	)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(stderr, "server: %v\n", err)
			return 1
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Error("observability shutdown", "error", err)
	}
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newObservability(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	obsCfg := observability.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	} else {
		obsCfg.Enabled = false
	}
	return observability.New(ctx, obsCfg)
}

// openSink connects to Postgres when DATABASE_URL is set, otherwise runs
// in lite mode against a local SQLite file.
func openSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.SQLSink, error) {
	if cfg.DatabaseURL != "" {
		sink, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("event store ready", "backend", "postgres")
		return sink, nil
	}
	sink, err := store.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	logger.Info("event store ready", "backend", "sqlite", "path", cfg.SQLitePath)
	return sink, nil
}

// newPolicyStack wires the guard dependencies from the governance profile
// named by BOS_PROFILE, falling back to the stock limits.
func newPolicyStack(cfg *config.Config, clock kernel.Clock, logger *slog.Logger) (*policy.Stack, *policy.AnomalyRecorder) {
	tiers := security.DefaultTiers()
	thresholds := security.DefaultAnomalyThresholds()

	profileCode := os.Getenv("BOS_PROFILE")
	if profileCode == "" {
		profileCode = "standard"
	}
	if profile, err := config.LoadProfile(cfg.ProfilesDir, profileCode); err == nil {
		tiers = profile.Tiers()
		thresholds = profile.Thresholds()
		logger.Info("governance profile loaded", "code", profile.Code, "name", profile.Name)
	} else {
		logger.Info("governance profile not found, using defaults", "code", profileCode)
	}

	var limiterStore security.LimiterStore
	if cfg.RedisAddr != "" {
		limiterStore = security.NewRedisLimiterStore(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		logger.Info("rate limiter ready", "backend", "redis", "addr", cfg.RedisAddr)
	} else {
		limiterStore = security.NewMemoryLimiterStore()
		logger.Info("rate limiter ready", "backend", "memory")
	}

	detector := security.NewAnomalyDetector(thresholds, clock)
	stack := &policy.Stack{
		Health:   security.NewSystemHealth(),
		Limiter:  security.NewRateLimiter(limiterStore, tiers, clock),
		Detector: detector,
		Flags:    featureflag.NewMemoryProvider(),
		FlagKeys: featureflag.NewKeyRegistry(),
		Clock:    clock,
		Logger:   logger.With("component", "policy_stack"),
	}
	return stack, &policy.AnomalyRecorder{Detector: detector, Clock: clock}
}

// buildCatalog binds the intents the server accepts to their scope and
// actor requirements.
func buildCatalog() (*httpapi.Catalog, error) {
	c := httpapi.NewCatalog()
	bindings := []struct {
		commandType string
		scope       tenancy.ScopeRequirement
		actor       tenancy.ActorRequirement
	}{
		{cash.CmdSessionOpen, tenancy.BranchRequired, tenancy.ActorRequired},
		{cash.CmdPaymentRecord, tenancy.BranchRequired, tenancy.ActorRequired},
		{cash.CmdDepositRecord, tenancy.BranchRequired, tenancy.ActorRequired},
		{cash.CmdWithdrawalRecord, tenancy.BranchRequired, tenancy.ActorRequired},
		{cash.CmdSessionClose, tenancy.BranchRequired, tenancy.ActorRequired},
		{inventory.CmdItemCreate, tenancy.BusinessAllowed, tenancy.ActorRequired},
		{inventory.CmdItemUpdate, tenancy.BusinessAllowed, tenancy.ActorRequired},
		{inventory.CmdStockReceive, tenancy.BranchRequired, tenancy.ActorRequired},
		{inventory.CmdStockIssue, tenancy.BranchRequired, tenancy.ActorRequired},
		{inventory.CmdStockAdjust, tenancy.BranchRequired, tenancy.ActorRequired},
		{inventory.CmdStockTransfer, tenancy.BranchRequired, tenancy.ActorRequired},
		{accounting.CmdJournalPost, tenancy.BusinessAllowed, tenancy.ActorRequired},
		{accounting.CmdJournalReverse, tenancy.BusinessAllowed, tenancy.ActorRequired},
	}
	for _, b := range bindings {
		if err := c.Bind(b.commandType, b.scope, b.actor); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// newAuthProvider reads credentials from the environment. BOS_TOKEN_SECRET
// selects JWT auth; otherwise a single bcrypt-hashed key is registered
// from BOS_API_KEY_HASH.
func newAuthProvider(clock kernel.Clock, logger *slog.Logger) (httpapi.AuthProvider, error) {
	if secret := os.Getenv("BOS_TOKEN_SECRET"); secret != "" {
		logger.Info("auth ready", "mode", "jwt")
		return httpapi.NewTokenProvider([]byte(secret), "bos-core", clock)
	}

	keys := httpapi.NewKeyStore()
	hash := os.Getenv("BOS_API_KEY_HASH")
	if hash == "" {
		logger.Warn("no credentials configured, all requests will be refused")
		return keys, nil
	}
	principal := httpapi.Principal{
		ActorID:   os.Getenv("BOS_API_ACTOR_ID"),
		ActorType: os.Getenv("BOS_API_ACTOR_TYPE"),
	}
	if principal.ActorType == "" {
		principal.ActorType = "HUMAN"
	}
	if ids := os.Getenv("BOS_API_BUSINESS_IDS"); ids != "" {
		principal.AllowedBusinessIDs = strings.Split(ids, ",")
	}
	if err := keys.Register(hash, principal); err != nil {
		return nil, err
	}
	logger.Info("auth ready", "mode", "api-key", "actor", principal.ActorID)
	return keys, nil
}

func runHealth(stdout, stderr io.Writer) int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	resp, err := http.Get("http://localhost:" + port + "/healthz")
	if err != nil {
		fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "OK")
	return 0
}

func runHashKey(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 || args[0] == "" {
		fmt.Fprintln(stderr, "Usage: bos hash-key <key>")
		return 2
	}
	hash, err := httpapi.HashKey(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "hash-key: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, hash)
	return 0
}
