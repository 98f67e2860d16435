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

func (a *API) handleGetNetworkInterface(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/network-interfaces/:id")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	details, err := a.processor.GetNetworkInterface(r.Context(), currentUser, pathID(r, "id"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, renderNetworkInterfaceDetails(details))
}

type setSecurityGroupsRequest struct {
	SecurityGroupIDs []int64 `json:"security_group_ids" validate:"required,min=1"`
}

func (a *API) handleSetNetworkInterfaceSecurityGroups(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/network-interfaces/:id/security-groups")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	var req setSecurityGroupsRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	id := pathID(r, "id")
	err := a.processor.SetNetworkInterfaceSecurityGroups(r.Context(), currentUser, id, req.SecurityGroupIDs)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.UpdateAction, nimbus.AuditResource{
		TypeURI: "network/port", ID: id, ProjectID: currentUser.ProjectOpenStackID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAttachFloatingIP(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/network-interfaces/:nid/floating-ips/:fid")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	floatingIPID := pathID(r, "fid")
	err := a.processor.AttachFloatingIP(r.Context(), currentUser, pathID(r, "nid"), floatingIPID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.UpdateAction, nimbus.AuditResource{
		TypeURI: "network/floating-ip", ID: floatingIPID, ProjectID: currentUser.ProjectOpenStackID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDetachFloatingIP(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/network-interfaces/:nid/floating-ips/:fid")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	floatingIPID := pathID(r, "fid")
	err := a.processor.DetachFloatingIP(r.Context(), currentUser, pathID(r, "nid"), floatingIPID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.UpdateAction, nimbus.AuditResource{
		TypeURI: "network/floating-ip", ID: floatingIPID, ProjectID: currentUser.ProjectOpenStackID,
	})
	w.WriteHeader(http.StatusNoContent)
}
