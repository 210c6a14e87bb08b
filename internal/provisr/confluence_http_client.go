package provisr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CredentialSource supplies the platform's basic-auth credentials on demand
// so that rotated secrets are picked up without restarting.
type CredentialSource func(ctx context.Context) (username, password string, err error)

type ConfluenceHTTPClientOptions struct {
	BaseURL     string
	Credentials CredentialSource
	HTTPClient  *http.Client
	UserAgent   string
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// HTTPConfluenceClient talks to the platform's REST surface with basic
// credential authentication, JSON payloads, and the 2xx success convention.
// Reads retry on 429/5xx with exponential backoff; writes are attempted
// once, because the workflow's idempotence discipline (treat "already
// exists" as success) rather than retry is what makes mutations safe.
type HTTPConfluenceClient struct {
	baseURL     string
	credentials CredentialSource
	httpClient  *http.Client
	userAgent   string
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func NewHTTPConfluenceClient(opts ConfluenceHTTPClientOptions) *HTTPConfluenceClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPConfluenceClient{
		baseURL:     baseURL,
		credentials: opts.Credentials,
		httpClient:  httpClient,
		userAgent:   strings.TrimSpace(opts.UserAgent),
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// BaseURL exposes the configured platform root so callers can derive
// user-facing links such as space URLs.
func (c *HTTPConfluenceClient) BaseURL() string { return c.baseURL }

func (c *HTTPConfluenceClient) GetUser(ctx context.Context, username string) (User, error) {
	var out struct {
		Username string `json:"username"`
		UserKey  string `json:"userKey"`
		FullName string `json:"displayName"`
		Email    string `json:"email"`
	}
	path := "/rest/api/user?username=" + url.QueryEscape(username)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return User{}, err
	}
	return User{Username: out.Username, UserKey: out.UserKey, FullName: out.FullName, Email: out.Email}, nil
}

func (c *HTTPConfluenceClient) CreateUser(ctx context.Context, req CreateUserRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/rest/api/admin/user", req, nil, false)
}

func (c *HTTPConfluenceClient) GetGroupMembers(ctx context.Context, group string) ([]User, error) {
	var out struct {
		Results []User `json:"results"`
	}
	path := "/rest/api/group/" + url.PathEscape(group) + "/member"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *HTTPConfluenceClient) CreateGroup(ctx context.Context, name string) error {
	payload := map[string]string{"name": name, "type": "GROUP"}
	return c.doJSON(ctx, http.MethodPost, "/rest/api/admin/group", payload, nil, false)
}

func (c *HTTPConfluenceClient) AddUserToGroup(ctx context.Context, username, group string) error {
	payload := map[string]string{"userName": username}
	path := "/rest/api/admin/group/" + url.PathEscape(group) + "/members"
	return c.doJSON(ctx, http.MethodPost, path, payload, nil, false)
}

func (c *HTTPConfluenceClient) GetSpacePermissions(ctx context.Context, spaceKey string) ([]SpacePermission, error) {
	var out struct {
		Results []struct {
			Operation struct {
				OperationKey string `json:"operationKey"`
			} `json:"operation"`
			Subject struct {
				Type       string `json:"type"`
				UserKey    string `json:"userKey"`
				Identifier string `json:"identifier"`
			} `json:"subject"`
		} `json:"results"`
	}
	path := "/rest/api/space/" + url.PathEscape(spaceKey) + "/permission"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	perms := make([]SpacePermission, 0, len(out.Results))
	for _, entry := range out.Results {
		perm := SpacePermission{Operation: entry.Operation.OperationKey}
		switch entry.Subject.Type {
		case "group":
			perm.SubjectGroup = entry.Subject.Identifier
		default:
			perm.SubjectUserKey = entry.Subject.UserKey
		}
		perms = append(perms, perm)
	}
	return perms, nil
}

func (c *HTTPConfluenceClient) CreateSpace(ctx context.Context, req CreateSpaceRequest) (Space, error) {
	payload := map[string]any{
		"key":  req.Key,
		"name": req.Name,
		"description": map[string]any{
			"plain": map[string]string{"value": req.Description, "representation": "plain"},
		},
		"type": "global",
	}
	var out Space
	if err := c.doJSON(ctx, http.MethodPost, "/rest/api/space", payload, &out, false); err != nil {
		return Space{}, err
	}
	if out.Key == "" {
		out.Key = req.Key
	}
	return out, nil
}

func (c *HTTPConfluenceClient) GrantSpacePermissions(ctx context.Context, spaceKey, group string, grants []PermissionGrant) error {
	path := "/rest/api/space/" + url.PathEscape(spaceKey) + "/permissions/group/" + url.PathEscape(group) + "/grant"
	return c.doJSON(ctx, http.MethodPut, path, grants, nil, false)
}

func (c *HTTPConfluenceClient) GetPage(ctx context.Context, id string) (Page, error) {
	var out struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Body  struct {
			Storage struct {
				Value string `json:"value"`
			} `json:"storage"`
		} `json:"body"`
		Version struct {
			Number int `json:"number"`
		} `json:"version"`
	}
	path := "/rest/api/content/" + url.PathEscape(id) + "?expand=body.storage,version"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return Page{}, err
	}
	return Page{ID: out.ID, Title: out.Title, Body: out.Body.Storage.Value, Version: out.Version.Number}, nil
}

func (c *HTTPConfluenceClient) UpdatePage(ctx context.Context, page Page, message string) error {
	payload := map[string]any{
		"version": map[string]any{"number": page.Version + 1, "message": message},
		"title":   page.Title,
		"type":    "page",
		"body": map[string]any{
			"storage": map[string]string{"value": page.Body, "representation": "storage"},
		},
	}
	return c.doJSON(ctx, http.MethodPut, "/rest/api/content/"+url.PathEscape(page.ID), payload, nil, false)
}

func (c *HTTPConfluenceClient) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var out struct {
		Results []Webhook `json:"results"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/rest/api/webhooks", nil, &out, true); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *HTTPConfluenceClient) CreateWebhook(ctx context.Context, hook Webhook) error {
	return c.doJSON(ctx, http.MethodPost, "/rest/api/webhooks", hook, nil, false)
}

func (c *HTTPConfluenceClient) doJSON(ctx context.Context, method, path string, payload, out any, retryable bool) error {
	if c == nil {
		return fmt.Errorf("confluence http client is nil")
	}
	if c.credentials == nil {
		return fmt.Errorf("confluence credential source is required")
	}
	username, password, err := c.credentials(ctx)
	if err != nil {
		return err
	}
	var bodyBytes []byte
	if payload != nil {
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	endpoint := c.baseURL + path
	correlationID := "prov_" + uuid.NewString()

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return err
		}
		req.SetBasicAuth(username, password)
		req.Header.Set("Accept", "application/json")
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("X-Correlation-Id", correlationID)
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if retryable && attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			return json.Unmarshal(respBody, out)
		}

		if retryable && (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		message := strings.TrimSpace(string(respBody))
		var parsed map[string]any
		if json.Unmarshal(respBody, &parsed) == nil {
			if text, ok := parsed["message"].(string); ok && strings.TrimSpace(text) != "" {
				message = text
			}
		}
		return &ProviderError{StatusCode: resp.StatusCode, Message: message}
	}
}

func (c *HTTPConfluenceClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
