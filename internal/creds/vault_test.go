package creds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestVaultClientReadsKVSecret(t *testing.T) {
	var gotToken, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Vault-Token")
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"data":{"data":{"username":"svc","password":"hunter2"}}}`))
	}))
	defer server.Close()

	client := NewVaultClient(VaultClientOptions{
		Addr:       server.URL,
		Token:      "s.token",
		Mount:      "kv",
		SecretPath: "confluence",
	})
	creds, err := client.Credentials(context.Background())
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if creds.Username != "svc" || creds.Password != "hunter2" {
		t.Fatalf("creds = %+v", creds)
	}
	if gotToken != "s.token" {
		t.Fatalf("token header = %q", gotToken)
	}
	if gotPath != "/v1/kv/data/confluence" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestVaultClientRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
	}))
	defer server.Close()

	client := NewVaultClient(VaultClientOptions{Addr: server.URL, Token: "bad"})
	_, err := client.Credentials(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "status=403") {
		t.Fatalf("error lost status detail: %v", err)
	}
}

func TestVaultClientRejectsIncompleteSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"data":{"username":"svc"}}}`))
	}))
	defer server.Close()

	client := NewVaultClient(VaultClientOptions{Addr: server.URL, Token: "s.token"})
	_, err := client.Credentials(context.Background())
	if err == nil || !strings.Contains(err.Error(), "missing username or password") {
		t.Fatalf("err = %v", err)
	}
}

func TestStaticProvider(t *testing.T) {
	provider := Static{Username: "svc", Password: "hunter2"}
	creds, err := provider.Credentials(context.Background())
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if creds.Username != "svc" || creds.Password != "hunter2" {
		t.Fatalf("creds = %+v", creds)
	}
}
