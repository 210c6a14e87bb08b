package provisr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type SpacePayload struct {
	Name        string
	Key         string
	Description string
	Admin       string
}

func SpacePayloadFromMap(payload map[string]any) SpacePayload {
	return SpacePayload{
		Name:        stringField(payload, "space_name"),
		Key:         stringField(payload, "space_key"),
		Description: stringField(payload, "description"),
		Admin:       stringField(payload, "space_admin"),
	}
}

const (
	SpaceStatusSuccess = "success"
	SpaceStatusBlocked = "blocked"
	SpaceStatusFailed  = "failed"
)

type SpaceResult struct {
	Status   string   `json:"status"`
	Comments []string `json:"comments,omitempty"`
	SpaceURL string   `json:"space_url,omitempty"`
	SpaceKey string   `json:"space_key,omitempty"`
	// Error carries the platform's raw error text when Status is failed.
	Error string `json:"error,omitempty"`
}

func (r SpaceResult) ToMap() map[string]any {
	out := map[string]any{"status": r.Status}
	if len(r.Comments) > 0 {
		out["comments"] = r.Comments
	}
	if r.SpaceURL != "" {
		out["space_url"] = r.SpaceURL
	}
	if r.SpaceKey != "" {
		out["space_key"] = r.SpaceKey
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return out
}

type SpaceReconcilerOptions struct {
	// BaseURL is the platform root used to compute the user-facing space
	// URL in results.
	BaseURL        string
	LicensedGroup  string
	SettleAttempts int
	SettleDelay    time.Duration
	SettleMaxDelay time.Duration
	Logger         zerolog.Logger
}

// SpaceReconciler drives a single "create space" request to completion.
// Validation and precondition failures block the request before any
// mutation is attempted; a partially created space from invalid input must
// never occur.
type SpaceReconciler struct {
	identity       IdentityProvider
	spaces         SpaceProvider
	baseURL        string
	licensedGroup  string
	settleAttempts int
	settleDelay    time.Duration
	settleMaxDelay time.Duration
	log            zerolog.Logger
}

func NewSpaceReconciler(identity IdentityProvider, spaces SpaceProvider, opts SpaceReconcilerOptions) *SpaceReconciler {
	licensedGroup := opts.LicensedGroup
	if licensedGroup == "" {
		licensedGroup = defaultLicensedGroup
	}
	settleAttempts := opts.SettleAttempts
	if settleAttempts <= 0 {
		settleAttempts = 5
	}
	settleDelay := opts.SettleDelay
	if settleDelay <= 0 {
		settleDelay = 200 * time.Millisecond
	}
	settleMaxDelay := opts.SettleMaxDelay
	if settleMaxDelay <= 0 {
		settleMaxDelay = 2 * time.Second
	}
	return &SpaceReconciler{
		identity:       identity,
		spaces:         spaces,
		baseURL:        strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		licensedGroup:  licensedGroup,
		settleAttempts: settleAttempts,
		settleDelay:    settleDelay,
		settleMaxDelay: settleMaxDelay,
		log:            opts.Logger,
	}
}

func (r *SpaceReconciler) CreateSpace(ctx context.Context, payload SpacePayload) SpaceResult {
	comments := r.precheck(ctx, payload)
	if len(comments) > 0 {
		return SpaceResult{Status: SpaceStatusBlocked, Comments: comments}
	}

	_, err := r.spaces.CreateSpace(ctx, CreateSpaceRequest{
		Key:         payload.Key,
		Name:        payload.Name,
		Description: payload.Description,
	})
	if err != nil {
		raw := rawProviderMessage(err)
		return SpaceResult{
			Status:   SpaceStatusFailed,
			Comments: []string{"Creation failed: " + raw},
			Error:    raw,
		}
	}

	r.provisionGroups(ctx, payload.Key)

	adminGroup := payload.Key + "_" + AccessLevelAdmin
	if !r.waitForGroup(ctx, adminGroup) {
		comments = append(comments, fmt.Sprintf("Group %s not queryable after %d attempts", adminGroup, r.settleAttempts))
	}

	if err := r.identity.AddUserToGroup(ctx, payload.Admin, adminGroup); err != nil {
		comments = append(comments, fmt.Sprintf("Could not add %s to admin group: %s", payload.Admin, rawProviderMessage(err)))
	} else {
		comments = append(comments, fmt.Sprintf("Space %s created. %s added as admin.", payload.Key, payload.Admin))
	}

	return SpaceResult{
		Status:   SpaceStatusSuccess,
		Comments: comments,
		SpaceURL: r.baseURL + "/display/" + payload.Key,
		SpaceKey: payload.Key,
	}
}

// precheck accumulates every structural and cross-referential violation.
// Nothing is mutated until the list comes back empty.
func (r *SpaceReconciler) precheck(ctx context.Context, payload SpacePayload) []string {
	var comments []string
	comments = append(comments, ValidateSpaceName(payload.Name)...)
	comments = append(comments, ValidateSpaceKey(payload.Key)...)

	if !r.userExists(ctx, payload.Admin) {
		comments = append(comments, fmt.Sprintf("User %s not found", payload.Admin))
	} else if !r.hasLicense(ctx, payload.Admin) {
		comments = append(comments, fmt.Sprintf("User %s has no license", payload.Admin))
	}
	return comments
}

func (r *SpaceReconciler) userExists(ctx context.Context, username string) bool {
	if username == "" {
		return false
	}
	_, err := r.identity.GetUser(ctx, username)
	return err == nil
}

func (r *SpaceReconciler) hasLicense(ctx context.Context, username string) bool {
	members, err := r.identity.GetGroupMembers(ctx, r.licensedGroup)
	if err != nil {
		return false
	}
	for _, member := range members {
		if member.Username == username {
			return true
		}
	}
	return false
}

// provisionGroups creates the three standard groups with their
// differentiated permission sets. Each creation and grant is best-effort; a
// missing dev-group permission does not fail the whole request.
func (r *SpaceReconciler) provisionGroups(ctx context.Context, spaceKey string) {
	for _, role := range standardGroupRoles {
		name := spaceKey + "_" + role
		if err := r.identity.CreateGroup(ctx, name); err != nil && !errors.Is(err, ErrAlreadyExists) {
			r.log.Error().Err(err).Str("group", name).Msg("group creation failed")
		}
		if err := r.spaces.GrantSpacePermissions(ctx, spaceKey, name, roleGrants(role)); err != nil {
			r.log.Error().Err(err).Str("group", name).Msg("permission grant failed")
		}
	}
}

func roleGrants(role string) []PermissionGrant {
	switch role {
	case AccessLevelRead:
		return []PermissionGrant{{TargetType: "space", OperationKey: "read"}}
	case AccessLevelDev:
		grants := []PermissionGrant{{TargetType: "space", OperationKey: "read"}}
		for _, target := range []string{"page", "blogpost", "comment", "attachment"} {
			grants = append(grants,
				PermissionGrant{TargetType: target, OperationKey: "create"},
				PermissionGrant{TargetType: target, OperationKey: "delete"},
			)
		}
		return grants
	case AccessLevelAdmin:
		return []PermissionGrant{{TargetType: "space", OperationKey: "administer"}}
	default:
		return nil
	}
}

// waitForGroup polls the platform until the freshly created group is
// queryable, backing off exponentially. The platform propagates new spaces
// and groups asynchronously, so the read-back bounds the wait instead of a
// blind sleep.
func (r *SpaceReconciler) waitForGroup(ctx context.Context, group string) bool {
	delay := r.settleDelay
	for attempt := 0; attempt < r.settleAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, delay); err != nil {
				return false
			}
			delay *= 2
			if delay > r.settleMaxDelay {
				delay = r.settleMaxDelay
			}
		}
		if _, err := r.identity.GetGroupMembers(ctx, group); err == nil {
			return true
		}
	}
	return false
}

func rawProviderMessage(err error) string {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Message
	}
	return err.Error()
}
