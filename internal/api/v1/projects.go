// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package nimbusv1

import (
	"net/http"

	"github.com/sapcc/go-api-declarations/cadf"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/nimbus/internal/nimbus"
)

func (a *API) handleListProjects(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/projects")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	projects, err := a.processor.ListProjects(currentUser)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"projects": renderProjects(projects)})
}

func (a *API) handleGetProject(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/projects/:id")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	project, err := a.processor.GetProject(currentUser, pathID(r, "id"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, renderProject(project))
}

type updateProjectRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

func (a *API) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/projects/:id")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	var req updateProjectRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	project, err := a.processor.UpdateProject(r.Context(), currentUser, pathID(r, "id"), req.Name)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.UpdateAction, nimbus.AuditResource{
		TypeURI: "identity/project", ID: project.ID, OpenStackID: project.OpenStackID,
	})
	respondwith.JSON(w, http.StatusOK, renderProject(project))
}

func (a *API) handleAddUserToProject(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/projects/:id/users/:uid")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	projectID := pathID(r, "id")
	err := a.processor.AddUserToProject(r.Context(), currentUser, projectID, pathID(r, "uid"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.UpdateAction, nimbus.AuditResource{
		TypeURI: "identity/project", ID: projectID, OpenStackID: currentUser.ProjectOpenStackID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRemoveUserFromProject(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/projects/:id/users/:uid")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	projectID := pathID(r, "id")
	err := a.processor.RemoveUserFromProject(r.Context(), currentUser, projectID, pathID(r, "uid"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.UpdateAction, nimbus.AuditResource{
		TypeURI: "identity/project", ID: projectID, OpenStackID: currentUser.ProjectOpenStackID,
	})
	w.WriteHeader(http.StatusNoContent)
}
