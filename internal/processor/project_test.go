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

func TestUpdateProjectRenamesInKeystoneAndMirror(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	project := s.MustCreateProject(t, domain.ID, "first", user.ID)
	currentUser := s.CurrentUserFor(user, project)

	s.OpenStack.RegisterResponder("PATCH", s.Cfg.Endpoints.Keystone+"/projects/"+project.OpenStackID,
		httpmock.NewStringResponder(http.StatusOK, `{"project": {"id": "`+project.OpenStackID+`", "name": "renamed"}}`))

	updated, err := s.Processor.UpdateProject(s.Ctx, currentUser, project.ID, "renamed")
	if err != nil {
		t.Fatalf("UpdateProject failed: %s", err.Error())
	}
	assert.DeepEqual(t, "project name", updated.Name, "renamed")
	// the optimistic-locking version advanced with the rename
	assert.DeepEqual(t, "project version", updated.Version, project.Version+1)

	name, err := s.DB.SelectStr(`SELECT name FROM projects WHERE id = $1`, project.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "mirrored name", name, "renamed")
}

func TestUpdateProjectRejectsDuplicateName(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	first := s.MustCreateProject(t, domain.ID, "first", user.ID)
	s.MustCreateProject(t, domain.ID, "second", user.ID)
	currentUser := s.CurrentUserFor(user, first)

	_, err := s.Processor.UpdateProject(s.Ctx, currentUser, first.ID, "second")
	expectAPIError(t, err, nimbus.ErrProjectDuplicate)

	// the duplicate was detected before Keystone was asked to rename anything
	patchURL := s.Cfg.Endpoints.Keystone + "/projects/" + first.OpenStackID
	assert.DeepEqual(t, "keystone renames", s.OpenStack.GetCallCountInfo()["PATCH "+patchURL], 0)
}

func TestUpdateProjectRollsBackOnKeystoneFailure(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	project := s.MustCreateProject(t, domain.ID, "first", user.ID)
	currentUser := s.CurrentUserFor(user, project)

	s.OpenStack.RegisterResponder("PATCH", s.Cfg.Endpoints.Keystone+"/projects/"+project.OpenStackID,
		httpmock.NewStringResponder(http.StatusInternalServerError, `{"error": {"code": 500}}`))

	_, err := s.Processor.UpdateProject(s.Ctx, currentUser, project.ID, "renamed")
	expectAPIError(t, err, nimbus.ErrOpenStack)

	// the mirror rename was rolled back together with the transaction
	name, err := s.DB.SelectStr(`SELECT name FROM projects WHERE id = $1`, project.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "mirrored name", name, "first")
}

func TestAddUserToProject(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	alice := s.MustCreateUser(t, domain.ID, "alice")
	bob := s.MustCreateUser(t, domain.ID, "bob")
	project := s.MustCreateProject(t, domain.ID, "first", alice.ID)
	currentUser := s.CurrentUserFor(alice, project)

	assignURL := s.Cfg.Endpoints.Keystone + "/projects/" + project.OpenStackID +
		"/users/" + bob.OpenStackID + "/roles/" + s.Cfg.DefaultRoleOpenStackID
	s.OpenStack.RegisterResponder("PUT", assignURL,
		httpmock.NewStringResponder(http.StatusNoContent, ``))

	err := s.Processor.AddUserToProject(s.Ctx, currentUser, project.ID, bob.ID)
	if err != nil {
		t.Fatalf("AddUserToProject failed: %s", err.Error())
	}
	assert.DeepEqual(t, "role assignments", s.OpenStack.GetCallCountInfo()["PUT "+assignURL], 1)

	memberCount, err := s.DB.SelectInt(`SELECT COUNT(*) FROM project_users WHERE project_id = $1 AND user_id = $2`, project.ID, bob.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "membership count", memberCount, int64(1))

	// joining twice is rejected without another Keystone call
	err = s.Processor.AddUserToProject(s.Ctx, currentUser, project.ID, bob.ID)
	expectAPIError(t, err, nimbus.ErrProjectUserAlreadyJoined)
	assert.DeepEqual(t, "role assignments", s.OpenStack.GetCallCountInfo()["PUT "+assignURL], 1)
}

func TestRemoveUserFromProject(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	alice := s.MustCreateUser(t, domain.ID, "alice")
	bob := s.MustCreateUser(t, domain.ID, "bob")
	carol := s.MustCreateUser(t, domain.ID, "carol")
	project := s.MustCreateProject(t, domain.ID, "first", alice.ID, bob.ID)
	currentUser := s.CurrentUserFor(alice, project)

	unassignURL := s.Cfg.Endpoints.Keystone + "/projects/" + project.OpenStackID +
		"/users/" + bob.OpenStackID + "/roles/" + s.Cfg.DefaultRoleOpenStackID
	s.OpenStack.RegisterResponder("DELETE", unassignURL,
		httpmock.NewStringResponder(http.StatusNoContent, ``))

	err := s.Processor.RemoveUserFromProject(s.Ctx, currentUser, project.ID, bob.ID)
	if err != nil {
		t.Fatalf("RemoveUserFromProject failed: %s", err.Error())
	}
	memberCount, err := s.DB.SelectInt(`SELECT COUNT(*) FROM project_users WHERE project_id = $1`, project.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "membership count", memberCount, int64(1))

	// users that never joined cannot be removed
	err = s.Processor.RemoveUserFromProject(s.Ctx, currentUser, project.ID, carol.ID)
	expectAPIError(t, err, nimbus.ErrProjectUserNotJoined)
}

func TestProjectsAreInvisibleToNonMembers(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	alice := s.MustCreateUser(t, domain.ID, "alice")
	bob := s.MustCreateUser(t, domain.ID, "bob")
	alicesProject := s.MustCreateProject(t, domain.ID, "alices-project", alice.ID)
	bobsProject := s.MustCreateProject(t, domain.ID, "bobs-project", bob.ID)
	currentUser := s.CurrentUserFor(alice, alicesProject)

	// foreign projects are reported as nonexistent, not as forbidden
	_, err := s.Processor.GetProject(currentUser, bobsProject.ID)
	expectAPIError(t, err, nimbus.ErrProjectNotFound)

	projects, err := s.Processor.ListProjects(currentUser)
	if err != nil {
		t.Fatal(err.Error())
	}
	if len(projects) != 1 || projects[0].ID != alicesProject.ID {
		t.Errorf("unexpected project list: %+v", projects)
	}
}
