// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package test contains the shared setup logic for unit tests. The OpenStack
// services are mocked on the HTTP level with httpmock, so the Gateway runs
// its real request/response code in tests.
package test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/mock"
	"github.com/sapcc/go-bits/must"
	"golang.org/x/crypto/bcrypt"

	nimbusv1 "github.com/sapcc/nimbus/internal/api/v1"
	"github.com/sapcc/nimbus/internal/models"
	"github.com/sapcc/nimbus/internal/nimbus"
	"github.com/sapcc/nimbus/internal/openstack"
	"github.com/sapcc/nimbus/internal/processor"
)

// SystemToken is the Keystone token that the default responder issues to the
// cloud-admin user at setup time.
const SystemToken = "system-keystone-token"

// Password is the password of all users created by MustCreateUser.
const Password = "correct horse battery staple"

// PasswordHash matches Password. MinCost keeps test runtime reasonable.
var PasswordHash = string(must.Return(bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)))

// Setup contains all the pieces that are needed for most tests.
type Setup struct {
	Ctx       context.Context //nolint:containedctx // only used in tests
	Cfg       nimbus.Configuration
	DB        *nimbus.DB
	Clock     *mock.Clock
	OpenStack *httpmock.MockTransport
	Gateway   *openstack.Gateway
	Tokens    *openstack.SystemTokenManager
	Deferrer  *Deferrer
	Auditor   *Auditor
	Processor *processor.Processor
	Handler   http.Handler
}

type setupParams struct {
	pollMaxAttempts int
}

// SetupOption is an optional argument for NewSetup.
type SetupOption func(*setupParams)

// WithPollMaxAttempts overrides the polling budget for all async operations.
func WithPollMaxAttempts(n int) SetupOption {
	return func(params *setupParams) {
		params.pollMaxAttempts = n
	}
}

// NewSetup prepares a fresh test environment: an empty database, a mocked
// OpenStack backend with a working system token, and the full processor/API
// stack on top.
func NewSetup(t *testing.T, opts ...SetupOption) Setup {
	t.Helper()

	params := setupParams{pollMaxAttempts: 5}
	for _, opt := range opts {
		opt(&params)
	}

	pollCfg := nimbus.PollConfig{MaxAttempts: params.pollMaxAttempts, Interval: 1 * time.Second}
	cfg := nimbus.Configuration{
		Endpoints: nimbus.ServiceEndpoints{
			Keystone: "http://keystone.nimbus.example.org/v3",
			Nova:     "http://nova.nimbus.example.org/v2.1",
			Neutron:  "http://neutron.nimbus.example.org/v2.0",
			Cinder:   "http://cinder.nimbus.example.org/v3",
		},
		CloudAdminUserID:         "cloud-admin-user-id",
		CloudAdminPassword:       "cloud-admin-password",
		CloudAdminProjectID:      "cloud-admin-project-id",
		DefaultDomainID:          1,
		DefaultDomainOpenStackID: "default-domain-id",
		DefaultRoleOpenStackID:   "member-role-id",
		DefaultNetworkID:         "default-network-id",
		FloatingIPNetworkID:      "floating-network-id",
		JWTSecret:                []byte("unit-test-jwt-secret-with-enough-length"),
		AccessTokenDuration:      1 * time.Hour,

		SystemTokenRefreshInterval: 5 * time.Minute,
		Poll: nimbus.PollConfigSet{
			VolumeCreation:     pollCfg,
			VolumeDeletion:     pollCfg,
			VolumeResizing:     pollCfg,
			VolumeAttachment:   pollCfg,
			VolumeDetachment:   pollCfg,
			ServerCreation:     pollCfg,
			ServerStatusUpdate: pollCfg,
			ServerDeletion:     pollCfg,
		},
	}

	dbConn := easypg.ConnectForTest(t, nimbus.DBConfiguration(),
		easypg.ClearTables("network_interface_security_groups", "floating_ips", "security_groups", "network_interfaces", "volumes", "servers", "project_users", "projects", "users", "domains"),
		easypg.ResetPrimaryKeys("domains", "users", "projects", "servers", "volumes", "network_interfaces", "floating_ips", "security_groups"),
	)
	db := nimbus.InitORM(dbConn)

	clock := mock.NewClock()
	clock.StepBy(time.Hour) // so that token expiries can lie before Now()

	s := Setup{
		Ctx:       t.Context(),
		Cfg:       cfg,
		DB:        db,
		Clock:     clock,
		OpenStack: httpmock.NewMockTransport(),
		Deferrer:  &Deferrer{},
		Auditor:   &Auditor{},
	}
	s.Gateway = openstack.NewGatewayWithHTTPClient(cfg, &http.Client{Transport: s.OpenStack})
	s.Tokens = openstack.NewSystemTokenManager(cfg, s.Gateway)

	// let the system token manager obtain its initial token, like cmd/api does
	s.RegisterKeystoneTokenResponder(SystemToken, clock.Now().Add(2*time.Hour))
	err := s.Tokens.Refresh(s.Ctx)
	if err != nil {
		t.Fatalf("initial system token refresh failed: %s", err.Error())
	}

	s.Processor = processor.New(cfg, db, s.Gateway, s.Tokens, s.Deferrer).
		OverrideTimeNow(clock.Now).
		OverrideSleep(func(ctx context.Context, d time.Duration) error {
			clock.StepBy(d)
			return ctx.Err()
		})
	s.Handler = httpapi.Compose(
		nimbusv1.NewAPI(cfg, s.Processor, s.Auditor).OverrideTimeNow(clock.Now),
	)
	return s
}

// RegisterKeystoneTokenResponder mocks the Keystone token issuance endpoint.
// All future password authentications will yield the given token.
func (s *Setup) RegisterKeystoneTokenResponder(token string, expiresAt time.Time) {
	s.OpenStack.RegisterResponder("POST", s.Cfg.Endpoints.Keystone+"/auth/tokens",
		func(*http.Request) (*http.Response, error) {
			body := map[string]any{
				"token": map[string]any{
					"expires_at": expiresAt.UTC().Format("2006-01-02T15:04:05.000000Z"),
					"user":       map[string]any{"id": s.Cfg.CloudAdminUserID},
					"project":    map[string]any{"id": s.Cfg.CloudAdminProjectID},
				},
			}
			resp, err := httpmock.NewJsonResponse(http.StatusCreated, body)
			if err != nil {
				return nil, err
			}
			resp.Header.Set("X-Subject-Token", token)
			return resp, nil
		},
	)
}

// MustInsert inserts the given model instances into the database, or fails
// the test.
func (s *Setup) MustInsert(t *testing.T, entities ...any) {
	t.Helper()
	err := s.DB.Insert(entities...)
	if err != nil {
		t.Fatalf("cannot insert test fixtures: %s", err.Error())
	}
}

// MustCreateDomain puts the default domain into the database.
func (s *Setup) MustCreateDomain(t *testing.T) models.Domain {
	t.Helper()
	domain := models.Domain{
		OpenStackID: s.Cfg.DefaultDomainOpenStackID,
		Name:        "default",
		CreatedAt:   s.Clock.Now(),
		UpdatedAt:   s.Clock.Now(),
	}
	s.MustInsert(t, &domain)
	return domain
}

// MustCreateUser puts a user with the given account ID into the database.
// The password for login tests is always "correct horse battery staple".
func (s *Setup) MustCreateUser(t *testing.T, domainID int64, accountID string) models.User {
	t.Helper()
	user := models.User{
		DomainID:        domainID,
		OpenStackID:     "os-user-" + accountID,
		AccountID:       accountID,
		Name:            accountID,
		PasswordHash:    PasswordHash,
		LifecycleStatus: models.LifecycleActive,
		CreatedAt:       s.Clock.Now(),
		UpdatedAt:       s.Clock.Now(),
	}
	s.MustInsert(t, &user)
	return user
}

// MustCreateProject puts a project into the database and joins the given
// users to it.
func (s *Setup) MustCreateProject(t *testing.T, domainID int64, name string, memberIDs ...int64) models.Project {
	t.Helper()
	project := models.Project{
		DomainID:        domainID,
		OpenStackID:     "os-project-" + name,
		Name:            name,
		LifecycleStatus: models.LifecycleActive,
		CreatedAt:       s.Clock.Now(),
		UpdatedAt:       s.Clock.Now(),
	}
	s.MustInsert(t, &project)
	for _, userID := range memberIDs {
		s.MustInsert(t, &models.ProjectUser{ProjectID: project.ID, UserID: userID})
	}
	return project
}

// CurrentUserFor builds the request principal for the given user/project
// pair, as if that user had logged into that project.
func (s *Setup) CurrentUserFor(user models.User, project models.Project) nimbus.CurrentUser {
	return nimbus.CurrentUser{
		UserID:             user.ID,
		UserOpenStackID:    user.OpenStackID,
		ProjectID:          project.ID,
		ProjectOpenStackID: project.OpenStackID,
		KeystoneToken:      "user-keystone-token",
	}
}

// TokenFor issues an access token for the given user/project pair, for use
// in Authorization headers of API tests.
func (s *Setup) TokenFor(t *testing.T, user models.User, project models.Project) string {
	t.Helper()
	token, err := nimbus.IssueAccessToken(s.Cfg,
		nimbus.TokenPrincipal{ID: user.ID, OpenStackID: user.OpenStackID},
		nimbus.TokenPrincipal{ID: project.ID, OpenStackID: project.OpenStackID},
		"user-keystone-token", s.Clock.Now().Add(2*time.Hour), s.Clock.Now())
	if err != nil {
		t.Fatalf("cannot issue access token: %s", err.Error())
	}
	return token
}

// ExpectServerStatus checks the mirrored status of the given server.
func (s *Setup) ExpectServerStatus(t *testing.T, serverID int64, status models.ServerStatus) {
	t.Helper()
	actual, err := s.DB.SelectStr(`SELECT status FROM servers WHERE id = $1`, serverID)
	if err != nil {
		t.Fatal(err.Error())
	}
	if actual != string(status) {
		t.Errorf("expected server %d to have status %q, but got %q", serverID, status, actual)
	}
}

// ExpectVolumeStatus checks the mirrored status of the given volume.
func (s *Setup) ExpectVolumeStatus(t *testing.T, volumeID int64, status models.VolumeStatus) {
	t.Helper()
	actual, err := s.DB.SelectStr(`SELECT status FROM volumes WHERE id = $1`, volumeID)
	if err != nil {
		t.Fatal(err.Error())
	}
	if actual != string(status) {
		t.Errorf("expected volume %d to have status %q, but got %q", volumeID, status, actual)
	}
}

// JSONOf is a more compact equivalent of json.Marshal for building test
// request bodies. It panics on error instead of returning it.
func JSONOf(x any) string {
	buf, err := json.Marshal(x)
	if err != nil {
		panic(err.Error())
	}
	return string(buf)
}
