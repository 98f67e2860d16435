// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package nimbusv1

import (
	"net/http"

	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"
)

type loginRequest struct {
	AccountID string `json:"account_id" validate:"required"`
	Password  string `json:"password" validate:"required"`
	ProjectID *int64 `json:"project_id"`
}

type loginResponse struct {
	Token   string      `json:"token"`
	User    UserView    `json:"user"`
	Project ProjectView `json:"project"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/auth/login")

	var req loginRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := a.processor.Login(r.Context(), req.AccountID, req.Password, req.ProjectID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, loginResponse{
		Token:   result.AccessToken,
		User:    renderUser(result.User),
		Project: renderProject(result.Project),
	})
}
