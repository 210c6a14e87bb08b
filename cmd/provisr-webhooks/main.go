// One-time webhook setup: registers the scanner's page_created and
// page_updated hooks with the platform, skipping registration when scanner
// hooks already exist. Safe to run repeatedly.
package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wikiops/provisr/internal/creds"
	"github.com/wikiops/provisr/internal/provisr"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	platformURL := strings.TrimSpace(os.Getenv("PROVISR_CONFLUENCE_URL"))
	if platformURL == "" {
		logger.Fatal().Msg("PROVISR_CONFLUENCE_URL is required")
	}
	scannerURL := strings.TrimSpace(os.Getenv("PROVISR_SCANNER_URL"))
	if scannerURL == "" {
		scannerURL = "http://127.0.0.1:5002"
	}
	scannerURL = strings.TrimRight(scannerURL, "/")

	vault := creds.NewVaultClient(creds.VaultClientOptions{
		Addr:       os.Getenv("VAULT_ADDR"),
		Token:      os.Getenv("VAULT_TOKEN"),
		Mount:      os.Getenv("PROVISR_VAULT_MOUNT"),
		SecretPath: os.Getenv("PROVISR_VAULT_PATH"),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := vault.Credentials(ctx); err != nil {
		logger.Fatal().Err(err).Msg("credential provider unavailable")
	}

	client := provisr.NewHTTPConfluenceClient(provisr.ConfluenceHTTPClientOptions{
		BaseURL: platformURL,
		Credentials: func(ctx context.Context) (string, string, error) {
			c, err := vault.Credentials(ctx)
			return c.Username, c.Password, err
		},
		UserAgent: "provisr-webhooks",
	})

	existing, err := client.ListWebhooks(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to list webhooks")
	}
	for _, hook := range existing {
		logger.Info().Str("name", hook.Name).Str("url", hook.URL).Msg("existing hook")
		if strings.Contains(hook.Name, "Scanner") {
			logger.Info().Msg("scanner hooks already exist")
			return
		}
	}

	hooks := map[string]string{
		"page_created": "/webhook/page-created",
		"page_updated": "/webhook/page-updated",
	}
	for event, endpoint := range hooks {
		hook := provisr.Webhook{
			Name:   "Scanner - " + event,
			URL:    scannerURL + endpoint,
			Events: []string{event},
			Active: true,
		}
		if err := client.CreateWebhook(ctx, hook); err != nil {
			logger.Error().Err(err).Str("event", event).Msg("hook creation failed")
			continue
		}
		logger.Info().Str("event", event).Msg("hook created")
	}
}
