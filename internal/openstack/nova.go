// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"context"

	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/bootfromvolume"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/remoteconsoles"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/startstop"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/volumeattach"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
)

// ServerObservation is the subset of a Nova server representation that the
// state machines poll on.
type ServerObservation struct {
	OpenStackID string
	Status      string
	// AttachedVolumeIDs lists the OpenStack IDs of all attached volumes,
	// including the root volume.
	AttachedVolumeIDs []string
}

func observeServer(server *servers.Server) ServerObservation {
	obs := ServerObservation{
		OpenStackID: server.ID,
		Status:      server.Status,
	}
	for _, attachment := range server.AttachedVolumes {
		obs.AttachedVolumeIDs = append(obs.AttachedVolumeIDs, attachment.ID)
	}
	return obs
}

// GetServer reads the current state of a server from Nova.
func (g *Gateway) GetServer(ctx context.Context, token, serverOpenStackID string) (ServerObservation, error) {
	server, err := servers.Get(g.computeClient(ctx, token), serverOpenStackID).Extract()
	if err != nil {
		return ServerObservation{}, asOpenStackError(err)
	}
	return observeServer(server), nil
}

// CreateServerRequest contains the parameters for booting a server from a
// freshly created root volume.
type CreateServerRequest struct {
	Name                      string
	FlavorOpenStackID         string
	ImageOpenStackID          string
	RootVolumeSizeGiB         int
	RootVolumeTypeID          string
	PortOpenStackID           string
	DeleteVolumeOnTermination bool
}

// CreateServer boots a server from a new boot volume that Nova creates out
// of the given image. The server is attached to the pre-created port, so
// its fixed IP and security groups are already decided. Returns the
// OpenStack ID of the new server; creation continues asynchronously and has
// to be polled via GetServer.
func (g *Gateway) CreateServer(ctx context.Context, token string, req CreateServerRequest) (string, error) {
	createOpts := servers.CreateOpts{
		Name:      req.Name,
		FlavorRef: req.FlavorOpenStackID,
		Networks: []servers.Network{
			{Port: req.PortOpenStackID},
		},
	}
	bootOpts := bootfromvolume.CreateOptsExt{
		CreateOptsBuilder: createOpts,
		BlockDevice: []bootfromvolume.BlockDevice{{
			UUID:                req.ImageOpenStackID,
			SourceType:          bootfromvolume.SourceImage,
			DestinationType:     bootfromvolume.DestinationVolume,
			VolumeSize:          req.RootVolumeSizeGiB,
			VolumeType:          req.RootVolumeTypeID,
			BootIndex:           0,
			DeleteOnTermination: req.DeleteVolumeOnTermination,
		}},
	}
	server, err := bootfromvolume.Create(g.computeClient(ctx, token), bootOpts).Extract()
	if err != nil {
		return "", asOpenStackError(err)
	}
	return server.ID, nil
}

// DeleteServer asks Nova to delete a server. Deletion continues
// asynchronously; the server is gone once GetServer reports 404 or status
// DELETED.
func (g *Gateway) DeleteServer(ctx context.Context, token, serverOpenStackID string) error {
	err := servers.Delete(g.computeClient(ctx, token), serverOpenStackID).ExtractErr()
	return asOpenStackError(err)
}

// StartServer asks Nova to start a stopped server.
func (g *Gateway) StartServer(ctx context.Context, token, serverOpenStackID string) error {
	err := startstop.Start(g.computeClient(ctx, token), serverOpenStackID).ExtractErr()
	return asOpenStackError(err)
}

// StopServer asks Nova to stop a running server.
func (g *Gateway) StopServer(ctx context.Context, token, serverOpenStackID string) error {
	err := startstop.Stop(g.computeClient(ctx, token), serverOpenStackID).ExtractErr()
	return asOpenStackError(err)
}

// AttachVolumeToServer asks Nova to attach a volume to a server. The
// attachment completes asynchronously; poll the volume status via GetVolume.
func (g *Gateway) AttachVolumeToServer(ctx context.Context, token, serverOpenStackID, volumeOpenStackID string) error {
	_, err := volumeattach.Create(g.computeClient(ctx, token), serverOpenStackID, volumeattach.CreateOpts{
		VolumeID: volumeOpenStackID,
	}).Extract()
	return asOpenStackError(err)
}

// DetachVolumeFromServer asks Nova to detach a volume from a server. Nova
// uses the volume ID as the attachment ID.
func (g *Gateway) DetachVolumeFromServer(ctx context.Context, token, serverOpenStackID, volumeOpenStackID string) error {
	err := volumeattach.Delete(g.computeClient(ctx, token), serverOpenStackID, volumeOpenStackID).ExtractErr()
	return asOpenStackError(err)
}

// GetVNCConsoleURL requests a one-time noVNC console URL for a server.
func (g *Gateway) GetVNCConsoleURL(ctx context.Context, token, serverOpenStackID string) (string, error) {
	console, err := remoteconsoles.Create(g.computeClient(ctx, token), serverOpenStackID, remoteconsoles.CreateOpts{
		Protocol: remoteconsoles.ConsoleProtocolVNC,
		Type:     remoteconsoles.ConsoleTypeNoVNC,
	}).Extract()
	if err != nil {
		return "", asOpenStackError(err)
	}
	return console.URL, nil
}
