// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor_test

import (
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/nimbus/internal/nimbus"
	"github.com/sapcc/nimbus/internal/test"
)

func TestLoginChoosesLowestProjectByDefault(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	first := s.MustCreateProject(t, domain.ID, "first", user.ID)
	s.MustCreateProject(t, domain.ID, "second", user.ID)

	result, err := s.Processor.Login(s.Ctx, "alice", test.Password, nil)
	if err != nil {
		t.Fatalf("login failed: %s", err.Error())
	}
	assert.DeepEqual(t, "project ID", result.Project.ID, first.ID)
	assert.DeepEqual(t, "user ID", result.User.ID, user.ID)

	// the token must parse back to the same principal
	currentUser, err := nimbus.ParseAccessToken(s.Cfg, result.AccessToken, s.Clock.Now())
	if err != nil {
		t.Fatalf("cannot parse access token: %s", err.Error())
	}
	assert.DeepEqual(t, "token user ID", currentUser.UserID, user.ID)
	assert.DeepEqual(t, "token project ID", currentUser.ProjectID, first.ID)
	assert.DeepEqual(t, "token keystone token", currentUser.KeystoneToken, test.SystemToken)
}

func TestLoginWithExplicitProject(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	s.MustCreateProject(t, domain.ID, "first", user.ID)
	second := s.MustCreateProject(t, domain.ID, "second", user.ID)

	result, err := s.Processor.Login(s.Ctx, "alice", test.Password, &second.ID)
	if err != nil {
		t.Fatalf("login failed: %s", err.Error())
	}
	assert.DeepEqual(t, "project ID", result.Project.ID, second.ID)
}

func TestLoginRejectsForeignProject(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	alice := s.MustCreateUser(t, domain.ID, "alice")
	bob := s.MustCreateUser(t, domain.ID, "bob")
	s.MustCreateProject(t, domain.ID, "alices-project", alice.ID)
	bobsProject := s.MustCreateProject(t, domain.ID, "bobs-project", bob.ID)

	_, err := s.Processor.Login(s.Ctx, "alice", test.Password, &bobsProject.ID)
	expectAPIError(t, err, nimbus.ErrProjectAccessDenied)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	s.MustCreateProject(t, domain.ID, "first", user.ID)

	tokenIssuances := func() int {
		return s.OpenStack.GetCallCountInfo()["POST "+s.Cfg.Endpoints.Keystone+"/auth/tokens"]
	}
	issuancesBefore := tokenIssuances()

	_, err := s.Processor.Login(s.Ctx, "alice", "wrong password", nil)
	expectAPIError(t, err, nimbus.ErrInvalidAuth)

	_, err = s.Processor.Login(s.Ctx, "nobody", test.Password, nil)
	expectAPIError(t, err, nimbus.ErrInvalidAuth)

	// both rejections happen before Keystone is consulted
	assert.DeepEqual(t, "keystone token issuances", tokenIssuances(), issuancesBefore)
}

func TestLoginRejectsUserWithoutProjects(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	s.MustCreateUser(t, domain.ID, "alice")

	_, err := s.Processor.Login(s.Ctx, "alice", test.Password, nil)
	expectAPIError(t, err, nimbus.ErrUserNotJoinedAnyProject)
}

func TestLoginTranslatesKeystoneRejection(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	s.MustCreateProject(t, domain.ID, "first", user.ID)

	// e.g. the Keystone user was disabled by an operator while our mirror
	// still has it active
	s.OpenStack.RegisterResponder("POST", s.Cfg.Endpoints.Keystone+"/auth/tokens",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"error": {"code": 401}}`))

	_, err := s.Processor.Login(s.Ctx, "alice", test.Password, nil)
	expectAPIError(t, err, nimbus.ErrInvalidAuth)
}
