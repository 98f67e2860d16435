// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"context"
	"time"

	"github.com/gophercloud/gophercloud/openstack/identity/v3/projects"
	"github.com/gophercloud/gophercloud/openstack/identity/v3/roles"
	"github.com/gophercloud/gophercloud/openstack/identity/v3/tokens"
	"github.com/gophercloud/gophercloud/openstack/identity/v3/users"
)

// ScopedToken is a Keystone token scoped to a project.
type ScopedToken struct {
	TokenID   string
	ExpiresAt time.Time
}

// IssueScopedToken authenticates a Keystone user by ID and password and
// returns a token scoped to the given project. A 401 from Keystone means
// wrong credentials; a 403 means the user has no role on the project.
func (g *Gateway) IssueScopedToken(ctx context.Context, userOpenStackID, password, projectOpenStackID string) (ScopedToken, error) {
	client := g.identityClient(ctx, "")
	result := tokens.Create(client, &tokens.AuthOptions{
		UserID:   userOpenStackID,
		Password: password,
		Scope:    tokens.Scope{ProjectID: projectOpenStackID},
	})
	token, err := result.ExtractToken()
	if err != nil {
		return ScopedToken{}, asOpenStackError(err)
	}
	return ScopedToken{TokenID: token.ID, ExpiresAt: token.ExpiresAt}, nil
}

// CreateUser creates a Keystone user in the given domain and returns its
// OpenStack ID.
func (g *Gateway) CreateUser(ctx context.Context, token, name, password, domainOpenStackID string) (string, error) {
	enabled := true
	user, err := users.Create(g.identityClient(ctx, token), users.CreateOpts{
		Name:     name,
		Password: password,
		DomainID: domainOpenStackID,
		Enabled:  &enabled,
	}).Extract()
	if err != nil {
		return "", asOpenStackError(err)
	}
	return user.ID, nil
}

// DeleteUser deletes a Keystone user.
func (g *Gateway) DeleteUser(ctx context.Context, token, userOpenStackID string) error {
	err := users.Delete(g.identityClient(ctx, token), userOpenStackID).ExtractErr()
	return asOpenStackError(err)
}

// SetProjectName renames a Keystone project.
func (g *Gateway) SetProjectName(ctx context.Context, token, projectOpenStackID, name string) error {
	_, err := projects.Update(g.identityClient(ctx, token), projectOpenStackID, projects.UpdateOpts{
		Name: name,
	}).Extract()
	return asOpenStackError(err)
}

// AssignRoleToUserOnProject grants a user the given role on a project, which
// is what allows them to obtain project-scoped tokens.
func (g *Gateway) AssignRoleToUserOnProject(ctx context.Context, token, roleOpenStackID, userOpenStackID, projectOpenStackID string) error {
	err := roles.Assign(g.identityClient(ctx, token), roleOpenStackID, roles.AssignOpts{
		UserID:    userOpenStackID,
		ProjectID: projectOpenStackID,
	}).ExtractErr()
	return asOpenStackError(err)
}

// UnassignRoleFromUserOnProject revokes a user's role on a project.
func (g *Gateway) UnassignRoleFromUserOnProject(ctx context.Context, token, roleOpenStackID, userOpenStackID, projectOpenStackID string) error {
	err := roles.Unassign(g.identityClient(ctx, token), roleOpenStackID, roles.UnassignOpts{
		UserID:    userOpenStackID,
		ProjectID: projectOpenStackID,
	}).ExtractErr()
	return asOpenStackError(err)
}
