// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package nimbusv1

import (
	"net/http"

	"github.com/sapcc/go-api-declarations/cadf"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/nimbus/internal/models"
	"github.com/sapcc/nimbus/internal/nimbus"
	"github.com/sapcc/nimbus/internal/processor"
)

func (a *API) handleListServers(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/servers")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	servers, err := a.processor.ListServers(currentUser, r.URL.Query().Get("name"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"servers": renderServers(servers)})
}

func (a *API) handleGetServer(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/servers/:id")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	server, err := a.processor.GetServer(currentUser, pathID(r, "id"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, renderServer(server))
}

type createServerRequest struct {
	Name              string  `json:"name" validate:"required,max=255"`
	Description       string  `json:"description" validate:"max=1024"`
	FlavorOpenStackID string  `json:"flavor_openstack_id" validate:"required"`
	ImageOpenStackID  string  `json:"image_openstack_id" validate:"required"`
	RootVolumeSizeGiB int     `json:"root_volume_size_gib" validate:"required,min=1"`
	RootVolumeTypeID  string  `json:"root_volume_type_openstack_id" validate:"required"`
	SecurityGroupIDs  []int64 `json:"security_group_ids" validate:"required,min=1"`
}

func (a *API) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/servers")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	var req createServerRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	server, err := a.processor.CreateServer(r.Context(), currentUser, processor.CreateServerParams{
		Name:              req.Name,
		Description:       req.Description,
		FlavorOpenStackID: req.FlavorOpenStackID,
		ImageOpenStackID:  req.ImageOpenStackID,
		RootVolumeSizeGiB: req.RootVolumeSizeGiB,
		RootVolumeTypeID:  req.RootVolumeTypeID,
		SecurityGroupIDs:  req.SecurityGroupIDs,
	})
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.CreateAction, nimbus.AuditResource{
		TypeURI: "compute/server", ID: server.ID, OpenStackID: server.OpenStackID, ProjectID: currentUser.ProjectOpenStackID,
	})
	respondwith.JSON(w, http.StatusAccepted, renderServer(server))
}

type updateServerInfoRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=1024"`
}

func (a *API) handleUpdateServerInfo(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/servers/:id/info")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	var req updateServerInfoRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	server, err := a.processor.UpdateServerInfo(r.Context(), currentUser, pathID(r, "id"), req.Name, req.Description)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.UpdateAction, nimbus.AuditResource{
		TypeURI: "compute/server", ID: server.ID, OpenStackID: server.OpenStackID, ProjectID: currentUser.ProjectOpenStackID,
	})
	respondwith.JSON(w, http.StatusOK, renderServer(server))
}

type updateServerStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE SHUTOFF"`
}

func (a *API) handleUpdateServerStatus(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/servers/:id/status")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	var req updateServerStatusRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	id := pathID(r, "id")
	err := a.processor.UpdateServerStatus(r.Context(), currentUser, id, models.ServerStatus(req.Status))
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.UpdateAction, nimbus.AuditResource{
		TypeURI: "compute/server", ID: id, ProjectID: currentUser.ProjectOpenStackID,
	})
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/servers/:id")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	id := pathID(r, "id")
	err := a.processor.DeleteServer(r.Context(), currentUser, id)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.DeleteAction, nimbus.AuditResource{
		TypeURI: "compute/server", ID: id, ProjectID: currentUser.ProjectOpenStackID,
	})
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleGetServerVNCURL(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/servers/:id/vnc-url")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	url, err := a.processor.GetServerVNCURL(r.Context(), currentUser, pathID(r, "id"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]string{"vnc_url": url})
}

func (a *API) handleListNetworkInterfaces(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/servers/:id/network-interfaces")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	networkInterfaces, err := a.processor.ListNetworkInterfaces(currentUser, pathID(r, "id"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"network_interfaces": renderNetworkInterfaces(networkInterfaces)})
}

func (a *API) handleAttachVolume(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/servers/:id/volumes/:vid")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	volumeID := pathID(r, "vid")
	err := a.processor.AttachVolume(r.Context(), currentUser, pathID(r, "id"), volumeID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.UpdateAction, nimbus.AuditResource{
		TypeURI: "storage/volume", ID: volumeID, ProjectID: currentUser.ProjectOpenStackID,
	})
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleDetachVolume(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/servers/:id/volumes/:vid")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	volumeID := pathID(r, "vid")
	err := a.processor.DetachVolume(r.Context(), currentUser, pathID(r, "id"), volumeID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.UpdateAction, nimbus.AuditResource{
		TypeURI: "storage/volume", ID: volumeID, ProjectID: currentUser.ProjectOpenStackID,
	})
	w.WriteHeader(http.StatusAccepted)
}
