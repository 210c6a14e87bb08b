// Package creds resolves the platform's basic-auth credentials from a
// backing secret store. The service refuses to start when the store is
// unreachable; credentials are never retried silently at startup.
package creds

import "context"

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Provider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Static returns fixed credentials; used in tests and local development.
type Static struct {
	Username string
	Password string
}

func (s Static) Credentials(context.Context) (Credentials, error) {
	return Credentials{Username: s.Username, Password: s.Password}, nil
}
