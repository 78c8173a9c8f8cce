package testutil

import (
	"context"
	"net/http"

	gateway "github.com/eugener/marketgate/internal"
)

// FakeAuth always authenticates successfully. A nil Identity authenticates
// as admin user 1.
type FakeAuth struct {
	Identity *gateway.Identity
}

// Authenticate returns the configured identity.
func (f FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*gateway.Identity, error) {
	if f.Identity != nil {
		id := *f.Identity
		return &id, nil
	}
	return &gateway.Identity{
		Subject:    "test",
		UserID:     1,
		Role:       "admin",
		Perms:      gateway.RolePermissions["admin"],
		AuthMethod: "apikey",
	}, nil
}

// MemberIdentity returns a member identity for userID.
func MemberIdentity(userID int64) *gateway.Identity {
	return &gateway.Identity{
		Subject:    "member",
		UserID:     userID,
		Role:       "member",
		Perms:      gateway.RolePermissions["member"],
		AuthMethod: "apikey",
	}
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*gateway.Identity, error) {
	return nil, gateway.ErrUnauthorized
}
