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

func (a *API) handleListFloatingIPs(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/floating-ips")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	fips, err := a.processor.ListFloatingIPs(currentUser)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"floating_ips": renderFloatingIPs(fips)})
}

func (a *API) handleGetFloatingIP(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/floating-ips/:id")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	fip, err := a.processor.GetFloatingIP(currentUser, pathID(r, "id"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, renderFloatingIP(fip))
}

func (a *API) handleCreateFloatingIP(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/floating-ips")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	fip, err := a.processor.CreateFloatingIP(r.Context(), currentUser)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.CreateAction, nimbus.AuditResource{
		TypeURI: "network/floating-ip", ID: fip.ID, OpenStackID: fip.OpenStackID, ProjectID: currentUser.ProjectOpenStackID,
	})
	respondwith.JSON(w, http.StatusCreated, renderFloatingIP(fip))
}

func (a *API) handleDeleteFloatingIP(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/floating-ips/:id")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	id := pathID(r, "id")
	err := a.processor.DeleteFloatingIP(r.Context(), currentUser, id)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.DeleteAction, nimbus.AuditResource{
		TypeURI: "network/floating-ip", ID: id, ProjectID: currentUser.ProjectOpenStackID,
	})
	w.WriteHeader(http.StatusNoContent)
}
