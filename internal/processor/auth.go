// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/sapcc/nimbus/internal/models"
	"github.com/sapcc/nimbus/internal/nimbus"
	"github.com/sapcc/nimbus/internal/openstack"
)

// LoginResult is returned by Login on success.
type LoginResult struct {
	AccessToken string
	User        models.User
	Project     models.Project
}

// Login authenticates a user by account ID and password and issues an
// access token scoped to one of their projects. If projectID is nil, the
// joined project with the lowest ID is chosen, which keeps repeated logins
// deterministic.
func (p *Processor) Login(ctx context.Context, accountID, password string, projectID *int64) (LoginResult, error) {
	user, err := nimbus.FindUserByAccountID(&p.db.DbMap, p.cfg.DefaultDomainID, accountID)
	if err != nil {
		return LoginResult{}, err
	}
	if user == nil {
		return LoginResult{}, nimbus.ErrInvalidAuth.With("invalid credentials")
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if err != nil {
		return LoginResult{}, nimbus.ErrInvalidAuth.With("invalid credentials")
	}

	projects, err := nimbus.FindProjectsOfUser(&p.db.DbMap, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	project, err := chooseLoginProject(projects, projectID)
	if err != nil {
		return LoginResult{}, err
	}

	keystoneToken, err := p.gateway.IssueScopedToken(ctx, user.OpenStackID, password, project.OpenStackID)
	if err != nil {
		switch {
		case openstack.IsStatus(err, http.StatusUnauthorized):
			return LoginResult{}, nimbus.ErrInvalidAuth.With("invalid credentials")
		case openstack.IsStatus(err, http.StatusForbidden):
			return LoginResult{}, nimbus.ErrProjectAccessDenied.With("no access to project %d", project.ID)
		default:
			return LoginResult{}, wrapOpenStackError(err)
		}
	}

	accessToken, err := nimbus.IssueAccessToken(p.cfg,
		nimbus.TokenPrincipal{ID: user.ID, OpenStackID: user.OpenStackID},
		nimbus.TokenPrincipal{ID: project.ID, OpenStackID: project.OpenStackID},
		keystoneToken.TokenID, keystoneToken.ExpiresAt, p.timeNow(),
	)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{AccessToken: accessToken, User: *user, Project: project}, nil
}

// chooseLoginProject selects the project scope for a new access token.
// FindProjectsOfUser orders by ID, so the implicit choice is stable.
func chooseLoginProject(projects []models.Project, projectID *int64) (models.Project, error) {
	if projectID == nil {
		if len(projects) == 0 {
			return models.Project{}, nimbus.ErrUserNotJoinedAnyProject.With("user is not joined to any project")
		}
		return projects[0], nil
	}
	for _, project := range projects {
		if project.ID == *projectID {
			return project, nil
		}
	}
	return models.Project{}, nimbus.ErrProjectAccessDenied.With("no access to project %d", *projectID)
}
