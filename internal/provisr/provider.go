package provisr

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// The external identity/permission platform offers no transactional
// guarantees and no create-if-absent primitive; read-after-write may lag.
// Every consumer of these interfaces is written check-then-act and treats
// "already exists" responses from creation calls as success.

type User struct {
	Username string `json:"username"`
	UserKey  string `json:"userKey,omitempty"`
	FullName string `json:"displayName,omitempty"`
	Email    string `json:"email,omitempty"`
}

type CreateUserRequest struct {
	Username string `json:"userName"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Notify   bool   `json:"notifyViaEmail"`
}

type SpacePermission struct {
	Operation      string `json:"operation"`
	SubjectUserKey string `json:"subjectUserKey,omitempty"`
	SubjectGroup   string `json:"subjectGroup,omitempty"`
}

type PermissionGrant struct {
	TargetType   string `json:"targetType"`
	OperationKey string `json:"operationKey"`
}

type CreateSpaceRequest struct {
	Key         string
	Name        string
	Description string
}

type Space struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type Page struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Version int    `json:"version"`
}

type Webhook struct {
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Active bool     `json:"active"`
}

// IdentityProvider is the user/group surface consumed by the access
// reconciler.
type IdentityProvider interface {
	GetUser(ctx context.Context, username string) (User, error)
	CreateUser(ctx context.Context, req CreateUserRequest) error
	GetGroupMembers(ctx context.Context, group string) ([]User, error)
	CreateGroup(ctx context.Context, name string) error
	AddUserToGroup(ctx context.Context, username, group string) error
}

// SpaceProvider is the space surface consumed by both reconcilers.
type SpaceProvider interface {
	GetSpacePermissions(ctx context.Context, spaceKey string) ([]SpacePermission, error)
	CreateSpace(ctx context.Context, req CreateSpaceRequest) (Space, error)
	GrantSpacePermissions(ctx context.Context, spaceKey, group string, grants []PermissionGrant) error
}

// ContentProvider is the page surface consumed by the content scanner.
type ContentProvider interface {
	GetPage(ctx context.Context, id string) (Page, error)
	UpdatePage(ctx context.Context, page Page, message string) error
}

// WebhookProvider is the webhook surface consumed by the registrar.
type WebhookProvider interface {
	ListWebhooks(ctx context.Context) ([]Webhook, error)
	CreateWebhook(ctx context.Context, hook Webhook) error
}

// ProviderError preserves the platform's raw response text verbatim for
// operator diagnosis.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider request failed: status=%d message=%s", e.StatusCode, e.Message)
}

// Is maps common platform responses onto the package sentinels so callers
// can use errors.Is without losing the raw message.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrAlreadyExists:
		return e.StatusCode == http.StatusConflict ||
			strings.Contains(strings.ToLower(e.Message), "already exist")
	}
	return false
}
