package creds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type VaultClientOptions struct {
	Addr       string
	Token      string
	Mount      string
	SecretPath string
	HTTPClient *http.Client
}

// VaultClient reads the platform credentials from a Vault KV v2 secret.
type VaultClient struct {
	addr       string
	token      string
	mount      string
	secretPath string
	httpClient *http.Client
}

func NewVaultClient(opts VaultClientOptions) *VaultClient {
	addr := strings.TrimRight(strings.TrimSpace(opts.Addr), "/")
	if addr == "" {
		addr = "http://127.0.0.1:8200"
	}
	mount := strings.Trim(strings.TrimSpace(opts.Mount), "/")
	if mount == "" {
		mount = "kv"
	}
	secretPath := strings.Trim(strings.TrimSpace(opts.SecretPath), "/")
	if secretPath == "" {
		secretPath = "confluence"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &VaultClient{
		addr:       addr,
		token:      strings.TrimSpace(opts.Token),
		mount:      mount,
		secretPath: secretPath,
		httpClient: httpClient,
	}
}

func (c *VaultClient) Credentials(ctx context.Context) (Credentials, error) {
	endpoint := c.addr + "/v1/" + c.mount + "/data/" + url.PathEscape(c.secretPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Credentials{}, err
	}
	req.Header.Set("X-Vault-Token", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("vault request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credentials{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credentials{}, fmt.Errorf("vault read failed: status=%d message=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Data struct {
			Data Credentials `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Credentials{}, fmt.Errorf("vault response malformed: %w", err)
	}
	if parsed.Data.Data.Username == "" || parsed.Data.Data.Password == "" {
		return Credentials{}, fmt.Errorf("vault secret %s/%s missing username or password", c.mount, c.secretPath)
	}
	return parsed.Data.Data, nil
}
