package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wikiops/provisr/internal/creds"
	"github.com/wikiops/provisr/internal/httpapi"
	"github.com/wikiops/provisr/internal/provisr"
)

var logger zerolog.Logger

func main() {
	logger = newLogger()

	addr := os.Getenv("PROVISR_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	platformURL := strings.TrimSpace(os.Getenv("PROVISR_CONFLUENCE_URL"))
	if platformURL == "" {
		logger.Fatal().Msg("PROVISR_CONFLUENCE_URL is required")
	}

	credProvider, cleanup := buildCredentialProvider()
	defer cleanup()

	// Resolve once before serving: an unreachable secret store must
	// prevent startup, not be retried silently.
	startupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if _, err := credProvider.Credentials(startupCtx); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("credential provider unavailable")
	}
	cancel()

	backend, err := provisr.BuildStateBackendFromDSN(stateDSNFromEnv())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize state backend")
	}
	store, err := provisr.NewStoreWithBackend(backend)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open request store")
	}
	defer store.Close()

	client := provisr.NewHTTPConfluenceClient(provisr.ConfluenceHTTPClientOptions{
		BaseURL: platformURL,
		Credentials: func(ctx context.Context) (string, string, error) {
			c, err := credProvider.Credentials(ctx)
			return c.Username, c.Password, err
		},
		UserAgent: "provisr",
	})

	access := provisr.NewAccessReconciler(client, client, provisr.AccessReconcilerOptions{
		InternalDomain: os.Getenv("PROVISR_INTERNAL_DOMAIN"),
		LicensedGroup:  os.Getenv("PROVISR_LICENSED_GROUP"),
		Logger:         logger,
	})
	space := provisr.NewSpaceReconciler(client, client, provisr.SpaceReconcilerOptions{
		BaseURL:        platformURL,
		LicensedGroup:  os.Getenv("PROVISR_LICENSED_GROUP"),
		SettleAttempts: intEnv("PROVISR_SETTLE_ATTEMPTS", 0),
		SettleDelay:    durationEnv("PROVISR_SETTLE_DELAY", 0),
		SettleMaxDelay: durationEnv("PROVISR_SETTLE_MAX_DELAY", 0),
		Logger:         logger,
	})

	bus := provisr.NewEventBus()
	runner := provisr.NewWorkflowRunner(store, bus, access, space, provisr.WorkflowRunnerOptions{
		MaxConcurrent:    intEnv("PROVISR_MAX_CONCURRENT", 0),
		ReconcileTimeout: durationEnv("PROVISR_RECONCILE_TIMEOUT", 0),
		Logger:           logger,
	})

	server := httpapi.NewServerWithConfig(store, runner, bus, httpapi.ServerConfig{
		MaxBodyBytes:     int64Env("PROVISR_MAX_BODY_BYTES", 0),
		WSOriginPatterns: splitList(os.Getenv("PROVISR_WS_ORIGINS")),
	})

	logger.Info().Str("addr", addr).Msg("provisr listening")
	if err := http.ListenAndServe(addr, server); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(os.Getenv("PROVISR_LOG_LEVEL")))); err == nil && parsed != zerolog.NoLevel {
		level = parsed
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	if boolEnv("PROVISR_LOG_PRETTY", false) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}

// buildCredentialProvider prefers a watched credentials file when one is
// configured and falls back to Vault KV v2.
func buildCredentialProvider() (creds.Provider, func()) {
	if path := strings.TrimSpace(os.Getenv("PROVISR_CREDENTIALS_FILE")); path != "" {
		provider, err := creds.NewFileProvider(path, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load credentials file")
		}
		return provider, func() { _ = provider.Close() }
	}
	provider := creds.NewVaultClient(creds.VaultClientOptions{
		Addr:       os.Getenv("VAULT_ADDR"),
		Token:      os.Getenv("VAULT_TOKEN"),
		Mount:      os.Getenv("PROVISR_VAULT_MOUNT"),
		SecretPath: os.Getenv("PROVISR_VAULT_PATH"),
	})
	return provider, func() {}
}

func stateDSNFromEnv() string {
	if dsn := strings.TrimSpace(os.Getenv("PROVISR_STATE_DSN")); dsn != "" {
		return dsn
	}
	return strings.TrimSpace(os.Getenv("PROVISR_STATE_FILE"))
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn().Str("name", name).Str("value", raw).Int("fallback", fallback).Msg("invalid integer env")
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger.Warn().Str("name", name).Str("value", raw).Int64("fallback", fallback).Msg("invalid integer env")
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn().Str("name", name).Str("value", raw).Str("fallback", fallback.String()).Msg("invalid duration env")
		return fallback
	}
	return value
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
