package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const devIssuer = "momento-dev"

type devClaims struct {
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// DevProvider accepts HS256 credentials minted with MintDevCredential. It
// stands in for the hosted identity provider in local setups and tests.
type DevProvider struct {
	secret []byte
}

var _ Provider = (*DevProvider)(nil)

func NewDevProvider(secret string) *DevProvider {
	return &DevProvider{secret: []byte(secret)}
}

// MintDevCredential signs a credential for id valid for ttl.
func MintDevCredential(secret string, id Identity, ttl time.Duration) (string, error) {
	if id.UID == "" {
		return "", errors.New("auth: uid required")
	}
	now := time.Now()
	claims := devClaims{
		Email:   id.Email,
		Name:    id.DisplayName,
		Picture: id.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    devIssuer,
			Subject:   id.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (p *DevProvider) SignIn(_ context.Context, credential string) (Identity, error) {
	var claims devClaims
	_, err := jwt.ParseWithClaims(credential, &claims, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(devIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.Subject == "" {
		return Identity{}, ErrInvalidCredential
	}
	return Identity{
		UID:         claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		PhotoURL:    claims.Picture,
	}, nil
}

func (p *DevProvider) SignOut(context.Context, string) error { return nil }
