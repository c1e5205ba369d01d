package auth

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
)

// firebaseClient is the part of the Admin SDK auth client we use.
type firebaseClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
	GetUser(ctx context.Context, uid string) (*fbauth.UserRecord, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

// FirebaseProvider verifies Firebase ID tokens issued to the browser.
type FirebaseProvider struct {
	client firebaseClient
}

var _ Provider = (*FirebaseProvider)(nil)

func NewFirebaseProvider(ctx context.Context, app *firebase.App) (*FirebaseProvider, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase client: %w", err)
	}
	return &FirebaseProvider{client: client}, nil
}

func (p *FirebaseProvider) SignIn(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrInvalidCredential
	}
	tok, err := p.client.VerifyIDToken(ctx, credential)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	id := Identity{UID: tok.UID}
	rec, err := p.client.GetUser(ctx, tok.UID)
	if err != nil {
		// fall back to the token claims
		id.Email, _ = tok.Claims["email"].(string)
		id.DisplayName, _ = tok.Claims["name"].(string)
		id.PhotoURL, _ = tok.Claims["picture"].(string)
		return id, nil
	}
	if rec.UserInfo != nil {
		id.Email = rec.Email
		id.DisplayName = rec.DisplayName
		id.PhotoURL = rec.PhotoURL
	}
	return id, nil
}

func (p *FirebaseProvider) SignOut(ctx context.Context, uid string) error {
	return p.client.RevokeRefreshTokens(ctx, uid)
}
