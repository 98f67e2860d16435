// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package nimbus_test

import (
	"strings"
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/mock"

	"github.com/sapcc/nimbus/internal/nimbus"
)

func tokenTestConfig() nimbus.Configuration {
	return nimbus.Configuration{
		JWTSecret:           []byte("unit-test-jwt-secret-with-enough-length"),
		AccessTokenDuration: 1 * time.Hour,
	}
}

var (
	tokenTestUser    = nimbus.TokenPrincipal{ID: 42, OpenStackID: "os-user-42"}
	tokenTestProject = nimbus.TokenPrincipal{ID: 23, OpenStackID: "os-project-23"}
)

func TestAccessTokenRoundTrip(t *testing.T) {
	cfg := tokenTestConfig()
	now := mock.NewClock().Now()
	keystoneExpiresAt := now.Add(8 * time.Hour)

	tokenStr, err := nimbus.IssueAccessToken(cfg, tokenTestUser, tokenTestProject, "some-keystone-token", keystoneExpiresAt, now)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %s", err.Error())
	}

	currentUser, err := nimbus.ParseAccessToken(cfg, tokenStr, now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("ParseAccessToken failed: %s", err.Error())
	}
	assert.DeepEqual(t, "current user", currentUser, nimbus.CurrentUser{
		UserID:             42,
		UserOpenStackID:    "os-user-42",
		ProjectID:          23,
		ProjectOpenStackID: "os-project-23",
		KeystoneToken:      "some-keystone-token",
	})
}

func TestAccessTokenExpiresAfterConfiguredDuration(t *testing.T) {
	cfg := tokenTestConfig()
	now := mock.NewClock().Now()
	keystoneExpiresAt := now.Add(8 * time.Hour)

	tokenStr, err := nimbus.IssueAccessToken(cfg, tokenTestUser, tokenTestProject, "some-keystone-token", keystoneExpiresAt, now)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %s", err.Error())
	}

	// just before AccessTokenDuration: still valid
	_, err = nimbus.ParseAccessToken(cfg, tokenStr, now.Add(59*time.Minute))
	if err != nil {
		t.Errorf("token unexpectedly invalid before expiry: %s", err.Error())
	}
	// just after: rejected
	_, err = nimbus.ParseAccessToken(cfg, tokenStr, now.Add(61*time.Minute))
	expectAPIError(t, err, nimbus.ErrInvalidAccessToken)
}

func TestAccessTokenExpiryIsCappedByKeystoneToken(t *testing.T) {
	cfg := tokenTestConfig()
	now := mock.NewClock().Now()
	// the Keystone token expires before now + AccessTokenDuration, so the
	// access token expiry is capped to 5 minutes before that
	keystoneExpiresAt := now.Add(30 * time.Minute)

	tokenStr, err := nimbus.IssueAccessToken(cfg, tokenTestUser, tokenTestProject, "some-keystone-token", keystoneExpiresAt, now)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %s", err.Error())
	}

	_, err = nimbus.ParseAccessToken(cfg, tokenStr, now.Add(24*time.Minute))
	if err != nil {
		t.Errorf("token unexpectedly invalid before capped expiry: %s", err.Error())
	}
	_, err = nimbus.ParseAccessToken(cfg, tokenStr, now.Add(26*time.Minute))
	expectAPIError(t, err, nimbus.ErrInvalidAccessToken)
}

func TestAccessTokenIssuanceRequiresUsableKeystoneToken(t *testing.T) {
	cfg := tokenTestConfig()
	now := mock.NewClock().Now()

	// a Keystone token with less than 5 minutes left cannot back an access
	// token at all
	_, err := nimbus.IssueAccessToken(cfg, tokenTestUser, tokenTestProject, "some-keystone-token", now.Add(4*time.Minute), now)
	if err == nil {
		t.Error("expected issuance to fail for a nearly-expired keystone token")
	}
	_, err = nimbus.IssueAccessToken(cfg, tokenTestUser, tokenTestProject, "some-keystone-token", now.Add(-1*time.Minute), now)
	if err == nil {
		t.Error("expected issuance to fail for an expired keystone token")
	}
}

func TestParseAccessTokenRejectsForgeries(t *testing.T) {
	cfg := tokenTestConfig()
	now := mock.NewClock().Now()
	keystoneExpiresAt := now.Add(8 * time.Hour)

	tokenStr, err := nimbus.IssueAccessToken(cfg, tokenTestUser, tokenTestProject, "some-keystone-token", keystoneExpiresAt, now)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %s", err.Error())
	}

	// garbage
	_, err = nimbus.ParseAccessToken(cfg, "not-a-jwt", now)
	expectAPIError(t, err, nimbus.ErrInvalidAccessToken)

	// valid structure, but stripped signature
	parts := strings.Split(tokenStr, ".")
	_, err = nimbus.ParseAccessToken(cfg, parts[0]+"."+parts[1]+".", now)
	expectAPIError(t, err, nimbus.ErrInvalidAccessToken)

	// signed with a different secret
	otherCfg := cfg
	otherCfg.JWTSecret = []byte("a-completely-different-secret-value-here")
	foreignToken, err := nimbus.IssueAccessToken(otherCfg, tokenTestUser, tokenTestProject, "some-keystone-token", keystoneExpiresAt, now)
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %s", err.Error())
	}
	_, err = nimbus.ParseAccessToken(cfg, foreignToken, now)
	expectAPIError(t, err, nimbus.ErrInvalidAccessToken)
}
