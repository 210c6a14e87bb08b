package provisr

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newSpaceReconciler(platform *fakePlatform) *SpaceReconciler {
	return NewSpaceReconciler(platform, platform, SpaceReconcilerOptions{
		BaseURL:        "https://wiki.example.com",
		SettleAttempts: 3,
		SettleDelay:    time.Millisecond,
		SettleMaxDelay: 2 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
}

func TestCreateSpaceBlockedOnInvalidKey(t *testing.T) {
	platform := newFakePlatform()
	platform.addUser(User{Username: "admin"})
	platform.addGroup(defaultLicensedGroup, "admin")

	result := newSpaceReconciler(platform).CreateSpace(context.Background(), SpacePayload{
		Name:  "Engineering",
		Key:   "eng",
		Admin: "admin",
	})
	if result.Status != SpaceStatusBlocked {
		t.Fatalf("status = %q, want blocked", result.Status)
	}
	if len(result.Comments) != 1 || result.Comments[0] != "Key must be uppercase letters only" {
		t.Fatalf("comments = %v", result.Comments)
	}
	if countCalls(platform.callLog(), "CreateSpace:") != 0 {
		t.Fatalf("blocked request mutated the platform: %v", platform.callLog())
	}
}

func TestCreateSpaceBlockedOnMissingAdmin(t *testing.T) {
	platform := newFakePlatform()

	result := newSpaceReconciler(platform).CreateSpace(context.Background(), SpacePayload{
		Name:  "Engineering",
		Key:   "ENG",
		Admin: "ghost",
	})
	if result.Status != SpaceStatusBlocked {
		t.Fatalf("status = %q, want blocked", result.Status)
	}
	if len(result.Comments) != 1 || result.Comments[0] != "User ghost not found" {
		t.Fatalf("comments = %v", result.Comments)
	}
}

func TestCreateSpaceBlockedOnUnlicensedAdmin(t *testing.T) {
	platform := newFakePlatform()
	platform.addUser(User{Username: "admin"})
	platform.addGroup(defaultLicensedGroup)

	result := newSpaceReconciler(platform).CreateSpace(context.Background(), SpacePayload{
		Name:  "Engineering",
		Key:   "ENG",
		Admin: "admin",
	})
	if result.Status != SpaceStatusBlocked {
		t.Fatalf("status = %q, want blocked", result.Status)
	}
	if result.Comments[0] != "User admin has no license" {
		t.Fatalf("comments = %v", result.Comments)
	}
}

func TestCreateSpaceBlockedAccumulatesAllIssues(t *testing.T) {
	platform := newFakePlatform()

	result := newSpaceReconciler(platform).CreateSpace(context.Background(), SpacePayload{
		Name:  "1Team",
		Key:   "toolong",
		Admin: "ghost",
	})
	if result.Status != SpaceStatusBlocked {
		t.Fatalf("status = %q, want blocked", result.Status)
	}
	want := []string{
		"Name can't start with a number",
		"Key max 5 chars",
		"Key must be uppercase letters only",
		"User ghost not found",
	}
	if len(result.Comments) != len(want) {
		t.Fatalf("comments = %v, want %v", result.Comments, want)
	}
	for i, comment := range want {
		if result.Comments[i] != comment {
			t.Fatalf("comment[%d] = %q, want %q", i, result.Comments[i], comment)
		}
	}
}

func TestCreateSpaceFailedPreservesRawError(t *testing.T) {
	platform := newFakePlatform()
	platform.addUser(User{Username: "admin"})
	platform.addGroup(defaultLicensedGroup, "admin")
	platform.createSpaceErr = &ProviderError{StatusCode: http.StatusBadRequest, Message: "space key already in use"}

	result := newSpaceReconciler(platform).CreateSpace(context.Background(), SpacePayload{
		Name:  "Engineering",
		Key:   "ENG",
		Admin: "admin",
	})
	if result.Status != SpaceStatusFailed {
		t.Fatalf("status = %q, want failed", result.Status)
	}
	if result.Error != "space key already in use" {
		t.Fatalf("error = %q, want raw platform message", result.Error)
	}
	if len(result.Comments) != 1 || result.Comments[0] != "Creation failed: space key already in use" {
		t.Fatalf("comments = %v", result.Comments)
	}
	if countCalls(platform.callLog(), "CreateGroup:") != 0 {
		t.Fatalf("group provisioning ran after failed creation: %v", platform.callLog())
	}
}

func TestCreateSpaceSuccess(t *testing.T) {
	platform := newFakePlatform()
	platform.addUser(User{Username: "admin"})
	platform.addGroup(defaultLicensedGroup, "admin")

	result := newSpaceReconciler(platform).CreateSpace(context.Background(), SpacePayload{
		Name:        "Engineering",
		Key:         "ENG",
		Description: "Team space",
		Admin:       "admin",
	})
	if result.Status != SpaceStatusSuccess {
		t.Fatalf("status = %q, want success: %+v", result.Status, result)
	}
	if result.SpaceKey != "ENG" {
		t.Fatalf("space key = %q", result.SpaceKey)
	}
	if result.SpaceURL != "https://wiki.example.com/display/ENG" {
		t.Fatalf("space url = %q", result.SpaceURL)
	}

	calls := platform.callLog()
	for _, role := range standardGroupRoles {
		if countCalls(calls, "CreateGroup:ENG_"+role) != 1 {
			t.Fatalf("group ENG_%s not created exactly once: %v", role, calls)
		}
		if countCalls(calls, "GrantSpacePermissions:ENG:ENG_"+role+":") != 1 {
			t.Fatalf("permissions for ENG_%s not granted: %v", role, calls)
		}
	}
	if !platform.isMember("ENG_admin", "admin") {
		t.Fatal("requesting admin not added to admin group")
	}
	last := result.Comments[len(result.Comments)-1]
	if last != "Space ENG created. admin added as admin." {
		t.Fatalf("final comment = %q", last)
	}
}

func TestCreateSpaceDevGroupGrants(t *testing.T) {
	grants := roleGrants(AccessLevelDev)
	if len(grants) != 9 {
		t.Fatalf("dev role has %d grants, want 9", len(grants))
	}
	if grants[0] != (PermissionGrant{TargetType: "space", OperationKey: "read"}) {
		t.Fatalf("first dev grant = %+v", grants[0])
	}
	admin := roleGrants(AccessLevelAdmin)
	if len(admin) != 1 || admin[0].OperationKey != "administer" {
		t.Fatalf("admin grants = %+v", admin)
	}
}

func TestCreateSpaceSettleExhaustionIsAdvisory(t *testing.T) {
	platform := newFakePlatform()
	platform.addUser(User{Username: "admin"})
	platform.addGroup(defaultLicensedGroup, "admin")
	// The admin group stays invisible to read-back for longer than the
	// reconciler is willing to wait.
	platform.groupFailuresLeft["ENG_admin"] = -1

	reconciler := newSpaceReconciler(platform)
	result := reconciler.CreateSpace(context.Background(), SpacePayload{
		Name:  "Engineering",
		Key:   "ENG",
		Admin: "admin",
	})
	if result.Status != SpaceStatusSuccess {
		t.Fatalf("status = %q, want success despite settle exhaustion", result.Status)
	}
	found := false
	for _, comment := range result.Comments {
		if strings.Contains(comment, "ENG_admin not queryable after 3 attempts") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no settle-exhaustion comment in %v", result.Comments)
	}
}

func TestWaitForGroupRecoversAfterRetries(t *testing.T) {
	platform := newFakePlatform()
	platform.addGroup("ENG_admin")
	platform.groupFailuresLeft["ENG_admin"] = 2

	reconciler := newSpaceReconciler(platform)
	if !reconciler.waitForGroup(context.Background(), "ENG_admin") {
		t.Fatal("waitForGroup gave up before the group became queryable")
	}
	if got := countCalls(platform.callLog(), "GetGroupMembers:ENG_admin"); got != 3 {
		t.Fatalf("read-back attempted %d times, want 3", got)
	}
}

func TestProvisionGroupsIsIdempotent(t *testing.T) {
	platform := newFakePlatform()
	reconciler := newSpaceReconciler(platform)

	reconciler.provisionGroups(context.Background(), "ENG")
	reconciler.provisionGroups(context.Background(), "ENG")

	// Second pass hits "already exists" on every group and keeps going.
	calls := platform.callLog()
	if countCalls(calls, "GrantSpacePermissions:ENG:") != 6 {
		t.Fatalf("grants not re-applied on second pass: %v", calls)
	}
}
