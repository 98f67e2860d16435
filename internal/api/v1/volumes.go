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

func (a *API) handleListVolumes(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/volumes")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	volumes, err := a.processor.ListVolumes(currentUser, r.URL.Query().Get("name"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, map[string]any{"volumes": renderVolumes(volumes)})
}

func (a *API) handleGetVolume(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/volumes/:id")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	volume, err := a.processor.GetVolume(currentUser, pathID(r, "id"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, renderVolume(volume))
}

func (a *API) handleGetVolumeInfo(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/volumes/:id/info")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	info, err := a.processor.GetVolumeInfo(r.Context(), currentUser, pathID(r, "id"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondwith.JSON(w, http.StatusOK, renderVolumeInfo(info))
}

type createVolumeRequest struct {
	Name             string  `json:"name" validate:"required,max=255"`
	SizeGiB          int     `json:"size_gib" validate:"required,min=1"`
	VolumeTypeID     string  `json:"volume_type_openstack_id" validate:"required"`
	ImageOpenStackID *string `json:"image_openstack_id"`
}

func (a *API) handleCreateVolume(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/volumes")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	var req createVolumeRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	volume, err := a.processor.CreateVolume(r.Context(), currentUser, req.Name, req.VolumeTypeID, req.SizeGiB, req.ImageOpenStackID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.CreateAction, nimbus.AuditResource{
		TypeURI: "storage/volume", ID: volume.ID, OpenStackID: volume.OpenStackID, ProjectID: currentUser.ProjectOpenStackID,
	})
	respondwith.JSON(w, http.StatusAccepted, renderVolume(volume))
}

type renameVolumeRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

func (a *API) handleRenameVolume(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/volumes/:id/info")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	var req renameVolumeRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	volume, err := a.processor.RenameVolume(r.Context(), currentUser, pathID(r, "id"), req.Name)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.UpdateAction, nimbus.AuditResource{
		TypeURI: "storage/volume", ID: volume.ID, OpenStackID: volume.OpenStackID, ProjectID: currentUser.ProjectOpenStackID,
	})
	respondwith.JSON(w, http.StatusOK, renderVolume(volume))
}

type resizeVolumeRequest struct {
	SizeGiB int `json:"size_gib" validate:"required,min=1"`
}

func (a *API) handleResizeVolume(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/volumes/:id/size")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	var req resizeVolumeRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	volume, err := a.processor.ResizeVolume(r.Context(), currentUser, pathID(r, "id"), req.SizeGiB)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.UpdateAction, nimbus.AuditResource{
		TypeURI: "storage/volume", ID: volume.ID, OpenStackID: volume.OpenStackID, ProjectID: currentUser.ProjectOpenStackID,
	})
	respondwith.JSON(w, http.StatusAccepted, renderVolume(volume))
}

func (a *API) handleDeleteVolume(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/volumes/:id")
	currentUser, ok := a.checkToken(w, r)
	if !ok {
		return
	}

	id := pathID(r, "id")
	err := a.processor.DeleteVolume(r.Context(), currentUser, id)
	if err != nil {
		respondWithError(w, err)
		return
	}
	a.audit(r, currentUser, cadf.DeleteAction, nimbus.AuditResource{
		TypeURI: "storage/volume", ID: id, ProjectID: currentUser.ProjectOpenStackID,
	})
	w.WriteHeader(http.StatusAccepted)
}
