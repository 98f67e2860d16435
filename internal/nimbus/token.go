// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package nimbus

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// keystoneExpiryHeadroom is subtracted from the Keystone token expiry when
// computing the access token expiry. The embedded Keystone token must
// remain usable for the whole lifetime of the access token, with enough
// headroom to finish an operation that started just before expiry.
const keystoneExpiryHeadroom = 5 * time.Minute

// TokenPrincipal identifies a user or project inside an access token.
type TokenPrincipal struct {
	ID          int64  `json:"id"`
	OpenStackID string `json:"openstack_id"`
}

// KeystoneTokenClaim carries the scoped Keystone token inside an access
// token, so that every API request can talk to OpenStack on behalf of the
// user without re-authenticating.
type KeystoneTokenClaim struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// AccessTokenClaims is the claim set of the HS256 JWTs issued at login.
type AccessTokenClaims struct {
	User     TokenPrincipal     `json:"user"`
	Project  TokenPrincipal     `json:"project"`
	Keystone KeystoneTokenClaim `json:"keystone"`
	jwt.RegisteredClaims
}

// CurrentUser is the authenticated identity that all service operations
// receive. It is reconstructed from the access token on every request.
type CurrentUser struct {
	UserID             int64
	UserOpenStackID    string
	ProjectID          int64
	ProjectOpenStackID string
	KeystoneToken      string
}

// IssueAccessToken mints the access token returned by the login endpoint.
// The token expiry is the configured duration, capped to the Keystone token
// expiry minus a safety headroom.
func IssueAccessToken(cfg Configuration, user, project TokenPrincipal, keystoneToken string, keystoneExpiresAt, now time.Time) (string, error) {
	expiresAt := now.Add(cfg.AccessTokenDuration)
	if cap := keystoneExpiresAt.Add(-keystoneExpiryHeadroom); cap.Before(expiresAt) {
		expiresAt = cap
	}
	if !expiresAt.After(now) {
		return "", fmt.Errorf("keystone token expires too soon (at %s) to issue an access token", keystoneExpiresAt.UTC().Format(time.RFC3339))
	}

	claims := AccessTokenClaims{
		User:     user,
		Project:  project,
		Keystone: KeystoneTokenClaim{Token: keystoneToken, ExpiresAt: keystoneExpiresAt.Unix()},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.JWTSecret)
}

// ParseAccessToken validates an access token and extracts the CurrentUser
// from it. Any validation failure yields INVALID_ACCESS_TOKEN.
func ParseAccessToken(cfg Configuration, tokenStr string, now time.Time) (CurrentUser, error) {
	var claims AccessTokenClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims,
		func(t *jwt.Token) (any, error) { return cfg.JWTSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return CurrentUser{}, ErrInvalidAccessToken.With("access token validation failed")
	}
	return CurrentUser{
		UserID:             claims.User.ID,
		UserOpenStackID:    claims.User.OpenStackID,
		ProjectID:          claims.Project.ID,
		ProjectOpenStackID: claims.Project.OpenStackID,
		KeystoneToken:      claims.Keystone.Token,
	}, nil
}
