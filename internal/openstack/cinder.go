// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"context"

	"github.com/gophercloud/gophercloud/openstack/blockstorage/extensions/volumeactions"
	"github.com/gophercloud/gophercloud/openstack/blockstorage/v3/volumes"
)

// VolumeObservation is the subset of a Cinder volume representation that
// the state machines poll on.
type VolumeObservation struct {
	OpenStackID string
	Status      string
	SizeGiB     int
	// AttachedServerIDs lists the OpenStack IDs of all servers this volume
	// is attached to. (At most one for the volume types we offer.)
	AttachedServerIDs []string
}

func observeVolume(volume *volumes.Volume) VolumeObservation {
	obs := VolumeObservation{
		OpenStackID: volume.ID,
		Status:      volume.Status,
		SizeGiB:     volume.Size,
	}
	for _, attachment := range volume.Attachments {
		obs.AttachedServerIDs = append(obs.AttachedServerIDs, attachment.ServerID)
	}
	return obs
}

// GetVolume reads the current state of a volume from Cinder.
func (g *Gateway) GetVolume(ctx context.Context, token, projectOpenStackID, volumeOpenStackID string) (VolumeObservation, error) {
	volume, err := volumes.Get(g.blockStorageClient(ctx, token, projectOpenStackID), volumeOpenStackID).Extract()
	if err != nil {
		return VolumeObservation{}, asOpenStackError(err)
	}
	return observeVolume(volume), nil
}

// CreateVolumeRequest contains the parameters for creating a volume.
type CreateVolumeRequest struct {
	Name             string
	SizeGiB          int
	VolumeTypeID     string
	ImageOpenStackID string // empty for blank data volumes
}

// CreateVolume asks Cinder to create a volume and returns its OpenStack ID.
// Creation continues asynchronously and has to be polled via GetVolume.
func (g *Gateway) CreateVolume(ctx context.Context, token, projectOpenStackID string, req CreateVolumeRequest) (string, error) {
	volume, err := volumes.Create(g.blockStorageClient(ctx, token, projectOpenStackID), volumes.CreateOpts{
		Name:       req.Name,
		Size:       req.SizeGiB,
		VolumeType: req.VolumeTypeID,
		ImageID:    req.ImageOpenStackID,
	}).Extract()
	if err != nil {
		return "", asOpenStackError(err)
	}
	return volume.ID, nil
}

// DeleteVolume asks Cinder to delete a volume. Deletion continues
// asynchronously; the volume is gone once GetVolume reports 404.
func (g *Gateway) DeleteVolume(ctx context.Context, token, projectOpenStackID, volumeOpenStackID string) error {
	err := volumes.Delete(g.blockStorageClient(ctx, token, projectOpenStackID), volumeOpenStackID, volumes.DeleteOpts{}).ExtractErr()
	return asOpenStackError(err)
}

// ExtendVolumeSize asks Cinder to grow a volume to the given size. Resizing
// continues asynchronously; poll via GetVolume until the new size is
// reported. Volumes can never shrink.
func (g *Gateway) ExtendVolumeSize(ctx context.Context, token, projectOpenStackID, volumeOpenStackID string, newSizeGiB int) error {
	err := volumeactions.ExtendSize(g.blockStorageClient(ctx, token, projectOpenStackID), volumeOpenStackID, volumeactions.ExtendSizeOpts{
		NewSize: newSizeGiB,
	}).ExtractErr()
	return asOpenStackError(err)
}
