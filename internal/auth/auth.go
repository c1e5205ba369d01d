// Package auth turns identity-provider credentials into identities and
// issues the session tokens the HTTP API accepts.
package auth

import (
	"context"
	"errors"
)

var (
	ErrInvalidCredential = errors.New("auth: invalid credential")
	ErrInvalidSession    = errors.New("auth: invalid session token")
)

// Identity is the authenticated-user handle an identity provider returns.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// Provider is an identity provider. SignIn exchanges a client credential
// (an ID token) for an identity; SignOut ends the identity's provider-side
// sessions where the provider supports it.
type Provider interface {
	SignIn(ctx context.Context, credential string) (Identity, error)
	SignOut(ctx context.Context, uid string) error
}
