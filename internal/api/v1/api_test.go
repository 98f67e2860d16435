// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package nimbusv1_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/nimbus/internal/test"
)

func TestAuthenticationErrors(t *testing.T) {
	s := test.NewSetup(t)

	// no Authorization header at all
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/users",
		ExpectStatus: http.StatusUnauthorized,
		ExpectBody: assert.JSONObject{
			"code":    "INVALID_ACCESS_TOKEN",
			"message": "missing bearer token",
		},
	}.Check(t, s.Handler)

	// a token that was not signed by us
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/users",
		Header:       map[string]string{"Authorization": "Bearer not-a-real-token"},
		ExpectStatus: http.StatusUnauthorized,
		ExpectBody: assert.JSONObject{
			"code":    "INVALID_ACCESS_TOKEN",
			"message": "access token validation failed",
		},
	}.Check(t, s.Handler)

	// a token that was valid once, but has expired since
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	project := s.MustCreateProject(t, domain.ID, "first", user.ID)
	token := s.TokenFor(t, user, project)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/users",
		Header:       map[string]string{"Authorization": "Bearer " + token},
		ExpectStatus: http.StatusOK,
	}.Check(t, s.Handler)

	s.Clock.StepBy(2 * time.Hour)
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/users",
		Header:       map[string]string{"Authorization": "Bearer " + token},
		ExpectStatus: http.StatusUnauthorized,
		ExpectBody: assert.JSONObject{
			"code":    "INVALID_ACCESS_TOKEN",
			"message": "access token validation failed",
		},
	}.Check(t, s.Handler)
}

func TestValidationErrorEnvelope(t *testing.T) {
	s := test.NewSetup(t)

	// each offending field is reported with the rule that it failed on
	assert.HTTPRequest{
		Method:       "POST",
		Path:         "/users",
		Body:         assert.JSONObject{"account_id": "ab", "password": "short"},
		ExpectStatus: http.StatusUnprocessableEntity,
		ExpectBody: assert.JSONObject{
			"code":    "VALIDATION_FAILED",
			"message": "request validation failed",
			"errors": []assert.JSONObject{
				{"field": "account_id", "message": "failed on the 'min' rule", "type": "min"},
				{"field": "name", "message": "failed on the 'required' rule", "type": "required"},
				{"field": "password", "message": "failed on the 'min' rule", "type": "min"},
			},
		},
	}.Check(t, s.Handler)

	// a request body that is not even JSON
	assert.HTTPRequest{
		Method:       "POST",
		Path:         "/users",
		Body:         assert.StringData("{{{"),
		ExpectStatus: http.StatusUnprocessableEntity,
		ExpectBody: assert.JSONObject{
			"code":    "VALIDATION_FAILED",
			"message": "request body is not valid JSON",
		},
	}.Check(t, s.Handler)
}

func TestResourceNotFoundEnvelope(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	project := s.MustCreateProject(t, domain.ID, "first", user.ID)
	token := s.TokenFor(t, user, project)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/volumes/42",
		Header:       map[string]string{"Authorization": "Bearer " + token},
		ExpectStatus: http.StatusNotFound,
		ExpectBody: assert.JSONObject{
			"code":    "VOLUME_NOT_FOUND",
			"message": "no such volume",
		},
	}.Check(t, s.Handler)
}

func TestLoginEndpoint(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	project := s.MustCreateProject(t, domain.ID, "first", user.ID)

	// wrong password: error envelope, no token
	assert.HTTPRequest{
		Method:       "POST",
		Path:         "/auth/login",
		Body:         assert.JSONObject{"account_id": "alice", "password": "wrong password"},
		ExpectStatus: http.StatusUnauthorized,
		ExpectBody: assert.JSONObject{
			"code":    "INVALID_AUTH",
			"message": "invalid credentials",
		},
	}.Check(t, s.Handler)

	// correct password: the issued token authenticates follow-up requests
	// (the response body carries timestamps, so it is checked field by field)
	body := strings.NewReader(test.JSONOf(map[string]any{"account_id": "alice", "password": test.Password}))
	req := httptest.NewRequest("POST", "/auth/login", body)
	recorder := httptest.NewRecorder()
	s.Handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200 from login, but got %d with body %s", recorder.Code, recorder.Body.String())
	}

	var loginResult struct {
		Token string `json:"token"`
		User  struct {
			ID        int64  `json:"id"`
			AccountID string `json:"account_id"`
		} `json:"user"`
		Project struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"project"`
	}
	err := json.Unmarshal(recorder.Body.Bytes(), &loginResult)
	if err != nil {
		t.Fatalf("cannot decode login response: %s", err.Error())
	}
	assert.DeepEqual(t, "user ID", loginResult.User.ID, user.ID)
	assert.DeepEqual(t, "account ID", loginResult.User.AccountID, "alice")
	assert.DeepEqual(t, "project ID", loginResult.Project.ID, project.ID)
	assert.DeepEqual(t, "project name", loginResult.Project.Name, "first")

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/projects",
		Header:       map[string]string{"Authorization": "Bearer " + loginResult.Token},
		ExpectStatus: http.StatusOK,
	}.Check(t, s.Handler)
}

func TestCreateVolumeThroughAPI(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	project := s.MustCreateProject(t, domain.ID, "first", user.ID)
	token := s.TokenFor(t, user, project)

	cinderBase := s.Cfg.Endpoints.Cinder + "/" + project.OpenStackID
	s.OpenStack.RegisterResponder("POST", cinderBase+"/volumes",
		httpmock.NewStringResponder(http.StatusAccepted,
			`{"volume": {"id": "vol-1", "status": "creating", "size": 10}}`))
	s.OpenStack.RegisterResponder("GET", cinderBase+"/volumes/vol-1",
		httpmock.NewStringResponder(http.StatusOK,
			`{"volume": {"id": "vol-1", "status": "available", "size": 10}}`))

	assert.HTTPRequest{
		Method: "POST",
		Path:   "/volumes",
		Header: map[string]string{"Authorization": "Bearer " + token},
		Body: assert.JSONObject{
			"name":                     "data",
			"size_gib":                 10,
			"volume_type_openstack_id": "ssd",
		},
		ExpectStatus: http.StatusAccepted,
	}.Check(t, s.Handler)
	s.Auditor.ExpectActions(t, "create storage/volume")

	// the creation poll was enqueued and converges the mirror
	assert.DeepEqual(t, "pending tasks", s.Deferrer.PendingNames(), []string{"poll volume creation"})
	s.Deferrer.MustRunPending(t, s.Ctx)

	status, err := s.DB.SelectStr(`SELECT status FROM volumes WHERE openstack_id = $1`, "vol-1")
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "volume status", status, "AVAILABLE")
}

func TestDeleteUserThroughAPI(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	alice := s.MustCreateUser(t, domain.ID, "alice")
	bob := s.MustCreateUser(t, domain.ID, "bob")
	project := s.MustCreateProject(t, domain.ID, "first", alice.ID, bob.ID)
	token := s.TokenFor(t, bob, project)

	s.OpenStack.RegisterResponder("DELETE", s.Cfg.Endpoints.Keystone+"/users/"+bob.OpenStackID,
		httpmock.NewStringResponder(http.StatusNoContent, ``))

	assert.HTTPRequest{
		Method:       "DELETE",
		Path:         "/users/2",
		Header:       map[string]string{"Authorization": "Bearer " + token},
		ExpectStatus: http.StatusNoContent,
	}.Check(t, s.Handler)
	s.Auditor.ExpectActions(t, "delete identity/user")
}
