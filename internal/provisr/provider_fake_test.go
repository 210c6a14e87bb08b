package provisr

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// fakePlatform is an in-memory stand-in for the external identity and
// permission provider. It records every call so tests can assert on the
// exact sequence of external mutations.
type fakePlatform struct {
	mu     sync.Mutex
	users  map[string]User
	groups map[string]map[string]bool
	perms  map[string][]SpacePermission
	spaces map[string]bool
	calls  []string

	createUserErr           error
	createUserAlreadyExists bool
	createGroupErr          map[string]error
	addToGroupErr           map[string]error
	groupFailuresLeft       map[string]int
	createSpaceErr          error
	grantErr                map[string]error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		users:             map[string]User{},
		groups:            map[string]map[string]bool{},
		perms:             map[string][]SpacePermission{},
		spaces:            map[string]bool{},
		createGroupErr:    map[string]error{},
		addToGroupErr:     map[string]error{},
		groupFailuresLeft: map[string]int{},
		grantErr:          map[string]error{},
	}
}

func (f *fakePlatform) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakePlatform) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakePlatform) addUser(user User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.Username] = user
}

func (f *fakePlatform) addGroup(name string, members ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := map[string]bool{}
	for _, member := range members {
		set[member] = true
	}
	f.groups[name] = set
}

func (f *fakePlatform) setPermissions(spaceKey string, perms ...SpacePermission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perms[spaceKey] = perms
}

func (f *fakePlatform) GetUser(_ context.Context, username string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetUser:%s", username)
	user, ok := f.users[username]
	if !ok {
		return User{}, &ProviderError{StatusCode: http.StatusNotFound, Message: "user not found"}
	}
	return user, nil
}

func (f *fakePlatform) CreateUser(_ context.Context, req CreateUserRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateUser:%s", req.Username)
	if f.createUserAlreadyExists {
		f.users[req.Username] = User{Username: req.Username, UserKey: "key-" + req.Username}
		return &ProviderError{StatusCode: http.StatusConflict, Message: "user already exists"}
	}
	if f.createUserErr != nil {
		return f.createUserErr
	}
	f.users[req.Username] = User{
		Username: req.Username,
		UserKey:  "key-" + req.Username,
		FullName: req.FullName,
		Email:    req.Email,
	}
	return nil
}

func (f *fakePlatform) GetGroupMembers(_ context.Context, group string) ([]User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetGroupMembers:%s", group)
	if left, ok := f.groupFailuresLeft[group]; ok && left != 0 {
		if left > 0 {
			f.groupFailuresLeft[group] = left - 1
		}
		return nil, &ProviderError{StatusCode: http.StatusNotFound, Message: "group not found"}
	}
	members, ok := f.groups[group]
	if !ok {
		return nil, &ProviderError{StatusCode: http.StatusNotFound, Message: "group not found"}
	}
	out := make([]User, 0, len(members))
	for username := range members {
		out = append(out, User{Username: username})
	}
	return out, nil
}

func (f *fakePlatform) CreateGroup(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateGroup:%s", name)
	if err, ok := f.createGroupErr[name]; ok {
		return err
	}
	if _, exists := f.groups[name]; exists {
		return &ProviderError{StatusCode: http.StatusConflict, Message: "group already exists"}
	}
	f.groups[name] = map[string]bool{}
	return nil
}

func (f *fakePlatform) AddUserToGroup(_ context.Context, username, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddUserToGroup:%s:%s", username, group)
	if err, ok := f.addToGroupErr[group]; ok {
		return err
	}
	if _, exists := f.groups[group]; !exists {
		f.groups[group] = map[string]bool{}
	}
	f.groups[group][username] = true
	return nil
}

func (f *fakePlatform) GetSpacePermissions(_ context.Context, spaceKey string) ([]SpacePermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetSpacePermissions:%s", spaceKey)
	return f.perms[spaceKey], nil
}

func (f *fakePlatform) CreateSpace(_ context.Context, req CreateSpaceRequest) (Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateSpace:%s", req.Key)
	if f.createSpaceErr != nil {
		return Space{}, f.createSpaceErr
	}
	f.spaces[req.Key] = true
	return Space{Key: req.Key, Name: req.Name}, nil
}

func (f *fakePlatform) GrantSpacePermissions(_ context.Context, spaceKey, group string, grants []PermissionGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GrantSpacePermissions:%s:%s:%d", spaceKey, group, len(grants))
	if err, ok := f.grantErr[group]; ok {
		return err
	}
	return nil
}

func (f *fakePlatform) isMember(group, username string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups[group][username]
}

func countCalls(calls []string, prefix string) int {
	n := 0
	for _, call := range calls {
		if call == prefix || len(call) > len(prefix) && call[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
