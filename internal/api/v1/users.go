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

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/users")
	if _, ok := a.checkToken(w, r); !ok {
		return
	}

	users, err := a.processor.ListUsers(r.URL.Query().Get("name"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"users": renderUsers(users)})
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/users/:id")
	if _, ok := a.checkToken(w, r); !ok {
		return
	}

	user, err := a.processor.GetUser(pathID(r, "id"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, renderUser(user))
}

type createUserRequest struct {
	AccountID string `json:"account_id" validate:"required,min=3,max=64"`
	Name      string `json:"name" validate:"required,max=255"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
}

// handleCreateUser requires no authentication. It is the signup endpoint.
func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/users")

	var req createUserRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	user, err := a.processor.CreateUser(r.Context(), req.AccountID, req.Name, req.Password)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusCreated, renderUser(user))
}

type updateUserInfoRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

func (a *API) handleUpdateUserInfo(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/users/:id/info")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	var req updateUserInfoRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	user, err := a.processor.UpdateUserInfo(r.Context(), currentUser, pathID(r, "id"), req.Name)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.UpdateAction, nimbus.AuditResource{
		TypeURI: "identity/user", ID: user.ID, OpenStackID: user.OpenStackID,
	})
	respondwith.JSON(w, http.StatusOK, renderUser(user))
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/users/:id")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	id := pathID(r, "id")
	err := a.processor.DeleteUser(r.Context(), currentUser, id)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.DeleteAction, nimbus.AuditResource{
		TypeURI: "identity/user", ID: id, OpenStackID: currentUser.UserOpenStackID,
	})
	w.WriteHeader(http.StatusNoContent)
}
