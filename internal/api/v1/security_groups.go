// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package nimbusv1

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-api-declarations/cadf"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/nimbus/internal/nimbus"
	"github.com/sapcc/nimbus/internal/openstack"
)

func (a *API) handleListSecurityGroups(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/security-groups")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	groups, err := a.processor.ListSecurityGroups(currentUser, r.URL.Query().Get("name"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"security_groups": renderSecurityGroups(groups)})
}

func (a *API) handleGetSecurityGroup(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/security-groups/:id")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	groupWithRules, err := a.processor.GetSecurityGroup(r.Context(), currentUser, pathID(r, "id"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, renderSecurityGroupWithRules(groupWithRules))
}

type createSecurityGroupRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=1024"`
}

func (a *API) handleCreateSecurityGroup(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/security-groups")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	var req createSecurityGroupRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	group, err := a.processor.CreateSecurityGroup(r.Context(), currentUser, req.Name, req.Description)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.CreateAction, nimbus.AuditResource{
		TypeURI: "network/security-group", ID: group.ID, OpenStackID: group.OpenStackID, ProjectID: currentUser.ProjectOpenStackID,
	})
	respondwith.JSON(w, http.StatusCreated, renderSecurityGroup(group))
}

func (a *API) handleUpdateSecurityGroup(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/security-groups/:id")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	var req createSecurityGroupRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	group, err := a.processor.UpdateSecurityGroup(r.Context(), currentUser, pathID(r, "id"), req.Name, req.Description)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.UpdateAction, nimbus.AuditResource{
		TypeURI: "network/security-group", ID: group.ID, OpenStackID: group.OpenStackID, ProjectID: currentUser.ProjectOpenStackID,
	})
	respondwith.JSON(w, http.StatusOK, renderSecurityGroup(group))
}

func (a *API) handleDeleteSecurityGroup(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/security-groups/:id")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	id := pathID(r, "id")
	err := a.processor.DeleteSecurityGroup(r.Context(), currentUser, id)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.DeleteAction, nimbus.AuditResource{
		TypeURI: "network/security-group", ID: id, ProjectID: currentUser.ProjectOpenStackID,
	})
	w.WriteHeader(http.StatusNoContent)
}

type createSecurityGroupRuleRequest struct {
	Direction      string `json:"direction" validate:"required,oneof=ingress egress"`
	EtherType      string `json:"ether_type" validate:"required,oneof=IPv4 IPv6"`
	Protocol       string `json:"protocol" validate:"max=16"`
	PortRangeMin   *int   `json:"port_range_min" validate:"omitempty,min=1,max=65535"`
	PortRangeMax   *int   `json:"port_range_max" validate:"omitempty,min=1,max=65535"`
	RemoteIPPrefix string `json:"remote_ip_prefix" validate:"omitempty,cidr"`
}

func (a *API) handleCreateSecurityGroupRule(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/security-groups/:id/rules")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	var req createSecurityGroupRuleRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	groupID := pathID(r, "id")
	newRule := openstack.SecurityGroupRule{
		Direction:      req.Direction,
		EtherType:      req.EtherType,
		Protocol:       req.Protocol,
		RemoteIPPrefix: req.RemoteIPPrefix,
	}
	if req.PortRangeMin != nil {
		newRule.PortRangeMin = *req.PortRangeMin
	}
	if req.PortRangeMax != nil {
		newRule.PortRangeMax = *req.PortRangeMax
	}
	rule, err := a.processor.CreateSecurityGroupRule(r.Context(), currentUser, groupID, newRule)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.UpdateAction, nimbus.AuditResource{
		TypeURI: "network/security-group", ID: groupID, ProjectID: currentUser.ProjectOpenStackID,
	})
	respondwith.JSON(w, http.StatusCreated, rule)
}

func (a *API) handleDeleteSecurityGroupRule(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/security-groups/:id/rules/:rule_id")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	groupID := pathID(r, "id")
	err := a.processor.DeleteSecurityGroupRule(r.Context(), currentUser, groupID, mux.Vars(r)["rule_id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.UpdateAction, nimbus.AuditResource{
		TypeURI: "network/security-group", ID: groupID, ProjectID: currentUser.ProjectOpenStackID,
	})
	w.WriteHeader(http.StatusNoContent)
}
