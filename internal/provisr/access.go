package provisr

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

const (
	AccessLevelRead  = "read"
	AccessLevelDev   = "dev"
	AccessLevelAdmin = "admin"

	defaultInternalDomain = "r1-core"
	defaultLicensedGroup  = "confluence-users"
)

var standardGroupRoles = []string{AccessLevelRead, AccessLevelDev, AccessLevelAdmin}

type AccessPayload struct {
	LanID     string
	Email     string
	Domain    string
	Manager   string
	Requester string
	FullName  string
	SpaceKey  string
	Access    string
}

func AccessPayloadFromMap(payload map[string]any) AccessPayload {
	return AccessPayload{
		LanID:     stringField(payload, "lan_id"),
		Email:     stringField(payload, "email"),
		Domain:    stringField(payload, "domain"),
		Manager:   stringField(payload, "manager"),
		Requester: stringField(payload, "requester"),
		FullName:  stringField(payload, "full_name"),
		SpaceKey:  stringField(payload, "space_key"),
		Access:    stringField(payload, "access"),
	}
}

// AccessResult reports the level actually granted, which may be lower than
// the level requested after the admin self-escalation guard.
type AccessResult struct {
	Status        string `json:"status"`
	Username      string `json:"username"`
	AccessGranted string `json:"access_granted"`
	Group         string `json:"group"`
}

func (r AccessResult) ToMap() map[string]any {
	return map[string]any{
		"status":         r.Status,
		"username":       r.Username,
		"access_granted": r.AccessGranted,
		"group":          r.Group,
	}
}

type AccessReconcilerOptions struct {
	// InternalDomain is the one organizational domain whose users are
	// addressed by LAN id instead of email. Any new domain needs an
	// explicit rule here, not a silent default.
	InternalDomain string
	LicensedGroup  string
	Logger         zerolog.Logger
}

// AccessReconciler drives a single "grant space access" request to
// completion against the platform using idempotent check-then-act steps.
type AccessReconciler struct {
	identity       IdentityProvider
	spaces         SpaceProvider
	internalDomain string
	licensedGroup  string
	log            zerolog.Logger
}

func NewAccessReconciler(identity IdentityProvider, spaces SpaceProvider, opts AccessReconcilerOptions) *AccessReconciler {
	internalDomain := opts.InternalDomain
	if internalDomain == "" {
		internalDomain = defaultInternalDomain
	}
	licensedGroup := opts.LicensedGroup
	if licensedGroup == "" {
		licensedGroup = defaultLicensedGroup
	}
	return &AccessReconciler{
		identity:       identity,
		spaces:         spaces,
		internalDomain: internalDomain,
		licensedGroup:  licensedGroup,
		log:            opts.Logger,
	}
}

// GrantAccess reconciles one access request. Mandatory steps (user setup,
// the final group add) return an error; license assignment and group
// creation are advisory and never abort the run.
func (r *AccessReconciler) GrantAccess(ctx context.Context, payload AccessPayload) (AccessResult, error) {
	level := payload.Access
	if level == "" {
		level = AccessLevelRead
	}
	username := r.resolveUsername(payload)

	if err := r.ensureUser(ctx, payload, username); err != nil {
		return AccessResult{}, fmt.Errorf("user setup failed: %w", err)
	}
	r.ensureLicense(ctx, username)
	r.ensureSpaceGroups(ctx, payload.SpaceKey)

	if level == AccessLevelAdmin {
		if !r.isSpaceAdmin(ctx, payload.SpaceKey, payload.Manager) &&
			!r.isSpaceAdmin(ctx, payload.SpaceKey, payload.Requester) {
			r.log.Warn().
				Str("username", username).
				Str("space", payload.SpaceKey).
				Msg("admin access denied, downgrading to dev")
			level = AccessLevelDev
		}
	}

	group := payload.SpaceKey + "_" + level
	if !r.isUserInGroup(ctx, username, group) {
		if err := r.identity.AddUserToGroup(ctx, username, group); err != nil {
			return AccessResult{}, err
		}
	}
	return AccessResult{
		Status:        "success",
		Username:      username,
		AccessGranted: level,
		Group:         group,
	}, nil
}

// resolveUsername applies the closed two-branch rule: the internal domain
// uses the LAN id, every other domain uses the email address.
func (r *AccessReconciler) resolveUsername(payload AccessPayload) string {
	if payload.Domain == r.internalDomain {
		return payload.LanID
	}
	return payload.Email
}

func (r *AccessReconciler) ensureUser(ctx context.Context, payload AccessPayload, username string) error {
	_, err := r.identity.GetUser(ctx, username)
	if err == nil {
		r.log.Info().Str("username", username).Msg("user exists")
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	r.log.Info().Str("username", username).Msg("creating user")
	createErr := r.identity.CreateUser(ctx, CreateUserRequest{
		Username: username,
		FullName: payload.FullName,
		Email:    payload.Email,
		Password: generateInitialPassword(),
		Notify:   false,
	})
	if createErr != nil && !errors.Is(createErr, ErrAlreadyExists) {
		return createErr
	}
	// Re-fetch for canonical details; the admin create endpoint returns
	// nothing useful.
	if _, err := r.identity.GetUser(ctx, username); err != nil {
		return err
	}
	return nil
}

// ensureLicense is advisory: license state may already be correct via a
// path this check cannot see, so failures are logged and swallowed.
func (r *AccessReconciler) ensureLicense(ctx context.Context, username string) {
	if r.isUserInGroup(ctx, username, r.licensedGroup) {
		return
	}
	if err := r.identity.AddUserToGroup(ctx, username, r.licensedGroup); err != nil {
		r.log.Error().Err(err).Str("username", username).Msg("license assignment failed")
	}
}

// ensureSpaceGroups creates the three standard role groups. Creation errors,
// including "already exists", are swallowed: group existence is idempotent
// through blind creation, not through an existence check.
func (r *AccessReconciler) ensureSpaceGroups(ctx context.Context, spaceKey string) {
	for _, role := range standardGroupRoles {
		name := spaceKey + "_" + role
		if err := r.identity.CreateGroup(ctx, name); err != nil {
			r.log.Debug().Err(err).Str("group", name).Msg("group creation skipped")
		}
	}
}

func (r *AccessReconciler) isSpaceAdmin(ctx context.Context, spaceKey, username string) bool {
	if username == "" {
		return false
	}
	user, err := r.identity.GetUser(ctx, username)
	if err != nil {
		return false
	}
	perms, err := r.spaces.GetSpacePermissions(ctx, spaceKey)
	if err != nil {
		return false
	}
	for _, perm := range perms {
		if perm.Operation == "administer" && perm.SubjectUserKey != "" && perm.SubjectUserKey == user.UserKey {
			return true
		}
	}
	return false
}

func (r *AccessReconciler) isUserInGroup(ctx context.Context, username, group string) bool {
	members, err := r.identity.GetGroupMembers(ctx, group)
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

func generateInitialPassword() string {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	value, _ := payload[key].(string)
	return value
}
