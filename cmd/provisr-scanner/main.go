package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wikiops/provisr/internal/creds"
	"github.com/wikiops/provisr/internal/provisr"
	"github.com/wikiops/provisr/internal/scanner"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	addr := os.Getenv("PROVISR_SCANNER_ADDR")
	if addr == "" {
		addr = ":5002"
	}
	platformURL := strings.TrimSpace(os.Getenv("PROVISR_CONFLUENCE_URL"))
	if platformURL == "" {
		logger.Fatal().Msg("PROVISR_CONFLUENCE_URL is required")
	}

	vault := creds.NewVaultClient(creds.VaultClientOptions{
		Addr:       os.Getenv("VAULT_ADDR"),
		Token:      os.Getenv("VAULT_TOKEN"),
		Mount:      os.Getenv("PROVISR_VAULT_MOUNT"),
		SecretPath: os.Getenv("PROVISR_VAULT_PATH"),
	})
	startupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if _, err := vault.Credentials(startupCtx); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("credential provider unavailable")
	}
	cancel()

	client := provisr.NewHTTPConfluenceClient(provisr.ConfluenceHTTPClientOptions{
		BaseURL: platformURL,
		Credentials: func(ctx context.Context) (string, string, error) {
			c, err := vault.Credentials(ctx)
			return c.Username, c.Password, err
		},
		UserAgent: "provisr-scanner",
	})

	var extra []scanner.Pattern
	if path := strings.TrimSpace(os.Getenv("PROVISR_SCANNER_PATTERNS")); path != "" {
		loaded, err := scanner.LoadPatterns(path)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load extra patterns")
		}
		extra = loaded
	}

	handler := scanner.NewHandler(client, scanner.New(extra...), logger)
	logger.Info().Str("addr", addr).Msg("scanner listening")
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
