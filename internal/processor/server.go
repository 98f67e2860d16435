// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"fmt"

	"github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/nimbus/internal/models"
	"github.com/sapcc/nimbus/internal/nimbus"
	"github.com/sapcc/nimbus/internal/openstack"
)

// Nova reports server statuses as uppercase strings.
const (
	novaStatusBuild   = "BUILD"
	novaStatusActive  = "ACTIVE"
	novaStatusShutoff = "SHUTOFF"
	novaStatusDeleted = "DELETED"
	novaStatusError   = "ERROR"
)

// ListServers returns the active servers of the current project.
func (p *Processor) ListServers(currentUser nimbus.CurrentUser, nameLike string) ([]models.Server, error) {
	return nimbus.FindServers(&p.db.DbMap, nimbus.ServerFilter{
		ProjectID: &currentUser.ProjectID,
		NameLike:  nameLike,
	})
}

// GetServer returns one server of the current project.
func (p *Processor) GetServer(currentUser nimbus.CurrentUser, id int64) (models.Server, error) {
	server, err := p.findProjectServer(&p.db.DbMap, currentUser, id)
	if err != nil {
		return models.Server{}, err
	}
	return *server, nil
}

// GetServerVNCURL requests a one-time noVNC console URL for a server, using
// the user's own Keystone token.
func (p *Processor) GetServerVNCURL(ctx context.Context, currentUser nimbus.CurrentUser, id int64) (string, error) {
	server, err := p.findProjectServer(&p.db.DbMap, currentUser, id)
	if err != nil {
		return "", err
	}
	url, err := p.gateway.GetVNCConsoleURL(ctx, currentUser.KeystoneToken, server.OpenStackID)
	if err != nil {
		return "", wrapOpenStackError(err)
	}
	return url, nil
}

func (p *Processor) findProjectServer(dbi gorp.SqlExecutor, currentUser nimbus.CurrentUser, id int64) (*models.Server, error) {
	server, err := nimbus.FindServerByID(dbi, id)
	if err != nil {
		return nil, err
	}
	if server == nil || server.ProjectID != currentUser.ProjectID {
		return nil, nimbus.ErrServerNotFound.With("no such server")
	}
	return server, nil
}

// CreateServerParams are the user-supplied inputs for CreateServer.
type CreateServerParams struct {
	Name              string
	Description       string
	FlavorOpenStackID string
	ImageOpenStackID  string
	RootVolumeSizeGiB int
	RootVolumeTypeID  string
	SecurityGroupIDs  []int64
}

// CreateServer starts the creation of a server. A Neutron port is created
// first (with the requested security groups applied), then Nova boots the
// server from a fresh root volume attached to that port. Either step is
// compensated if a later one fails. The mirror gets the server row in
// status BUILD plus the network interface row; the root volume row is
// inserted by the creation poll once Nova reports the server ACTIVE.
func (p *Processor) CreateServer(ctx context.Context, currentUser nimbus.CurrentUser, params CreateServerParams) (models.Server, error) {
	var server models.Server
	err := p.inUnitOfWork(ctx, func(tx *gorp.Transaction, comp *compensationScope) error {
		exists, err := nimbus.ServerExistsWithName(tx, currentUser.ProjectID, params.Name)
		if err != nil {
			return err
		}
		if exists {
			return nimbus.ErrServerDuplicate.With("a server with this name already exists")
		}

		securityGroups, err := nimbus.FindSecurityGroups(tx, nimbus.SecurityGroupFilter{
			IDs:       params.SecurityGroupIDs,
			ProjectID: &currentUser.ProjectID,
		})
		if err != nil {
			return err
		}
		if len(securityGroups) != len(params.SecurityGroupIDs) {
			return nimbus.ErrSecurityGroupNotFound.With("no such security group")
		}
		securityGroupOpenStackIDs := make([]string, len(securityGroups))
		for idx, group := range securityGroups {
			securityGroupOpenStackIDs[idx] = group.OpenStackID
		}

		port, err := p.gateway.CreatePort(ctx, currentUser.KeystoneToken, p.cfg.DefaultNetworkID, securityGroupOpenStackIDs)
		if err != nil {
			return wrapOpenStackError(err)
		}
		comp.register("delete neutron port "+port.OpenStackID, func(ctx context.Context) error {
			return p.gateway.DeletePort(ctx, currentUser.KeystoneToken, port.OpenStackID)
		})

		serverOpenStackID, err := p.gateway.CreateServer(ctx, currentUser.KeystoneToken, openstack.CreateServerRequest{
			Name:                      params.Name,
			FlavorOpenStackID:         params.FlavorOpenStackID,
			ImageOpenStackID:          params.ImageOpenStackID,
			RootVolumeSizeGiB:         params.RootVolumeSizeGiB,
			RootVolumeTypeID:          params.RootVolumeTypeID,
			PortOpenStackID:           port.OpenStackID,
			DeleteVolumeOnTermination: true,
		})
		if err != nil {
			return wrapOpenStackError(err)
		}
		comp.register("delete nova server "+serverOpenStackID, func(ctx context.Context) error {
			return p.gateway.DeleteServer(ctx, currentUser.KeystoneToken, serverOpenStackID)
		})

		now := p.timeNow()
		server = models.Server{
			ProjectID:         currentUser.ProjectID,
			OpenStackID:       serverOpenStackID,
			FlavorOpenStackID: params.FlavorOpenStackID,
			Name:              params.Name,
			Description:       params.Description,
			Status:            models.ServerStatusBuild,
			LifecycleStatus:   models.LifecycleActive,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		err = tx.Insert(&server)
		if err != nil {
			return err
		}

		networkInterface := models.NetworkInterface{
			ProjectID:       currentUser.ProjectID,
			ServerID:        &server.ID,
			OpenStackID:     port.OpenStackID,
			FixedIPAddress:  port.FixedIPAddress,
			LifecycleStatus: models.LifecycleActive,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		err = tx.Insert(&networkInterface)
		if err != nil {
			return err
		}
		for _, group := range securityGroups {
			err = tx.Insert(&models.NetworkInterfaceSecurityGroup{
				NetworkInterfaceID: networkInterface.ID,
				SecurityGroupID:    group.ID,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Server{}, err
	}

	serverID := server.ID
	projectOpenStackID := currentUser.ProjectOpenStackID
	rootVolume := rootVolumeParams{
		SizeGiB:          params.RootVolumeSizeGiB,
		VolumeTypeID:     params.RootVolumeTypeID,
		ImageOpenStackID: params.ImageOpenStackID,
	}
	p.deferrer.Defer("poll server creation", func(ctx context.Context) error {
		return p.PollServerCreation(ctx, serverID, projectOpenStackID, rootVolume)
	})
	return server, nil
}

// UpdateServerInfo changes the name and description of a server (mirror
// only).
func (p *Processor) UpdateServerInfo(ctx context.Context, currentUser nimbus.CurrentUser, id int64, name, description string) (models.Server, error) {
	var server models.Server
	err := nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		serverPtr, err := p.findProjectServer(tx, currentUser, id)
		if err != nil {
			return err
		}
		if serverPtr.Name != name {
			exists, err := nimbus.ServerExistsWithName(tx, currentUser.ProjectID, name)
			if err != nil {
				return err
			}
			if exists {
				return nimbus.ErrServerDuplicate.With("a server with this name already exists")
			}
		}
		serverPtr.Name = name
		serverPtr.Description = description
		serverPtr.UpdatedAt = p.timeNow()
		_, err = tx.Update(serverPtr)
		server = *serverPtr
		return err
	})
	return server, err
}

// UpdateServerStatus starts or stops a server. The only allowed transitions
// are ACTIVE -> SHUTOFF (stop) and SHUTOFF -> ACTIVE (start); the mirror
// keeps the old status until the poll observes the transition completing.
func (p *Processor) UpdateServerStatus(ctx context.Context, currentUser nimbus.CurrentUser, id int64, target models.ServerStatus) error {
	err := nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		server, err := p.findProjectServer(tx, currentUser, id)
		if err != nil {
			return err
		}
		switch {
		case target == models.ServerStatusActive && server.Status == models.ServerStatusShutoff:
			err = p.gateway.StartServer(ctx, currentUser.KeystoneToken, server.OpenStackID)
		case target == models.ServerStatusShutoff && server.Status == models.ServerStatusActive:
			err = p.gateway.StopServer(ctx, currentUser.KeystoneToken, server.OpenStackID)
		default:
			return nimbus.ErrServerStatusNotUpdatable.With("cannot change server status from %s to %s", server.Status, target)
		}
		if err != nil {
			return wrapOpenStackError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.deferrer.Defer("poll server status update", func(ctx context.Context) error {
		return p.PollServerStatusUpdate(ctx, id, target)
	})
	return nil
}

// DeleteServer starts the deletion of a server. Data volumes must be
// detached first. The root volume, network interfaces and their floating
// IP associations are cleaned up by the deletion poll once Nova confirms
// the server gone.
func (p *Processor) DeleteServer(ctx context.Context, currentUser nimbus.CurrentUser, id int64) error {
	err := nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		server, err := p.findProjectServer(tx, currentUser, id)
		if err != nil {
			return err
		}
		if !server.Status.IsDeletable() {
			return nimbus.ErrServerNotDeletable.With("server cannot be deleted in status %s", server.Status)
		}
		attachedCount, err := nimbus.CountDataVolumesAttachedToServer(tx, server.ID)
		if err != nil {
			return err
		}
		if attachedCount > 0 {
			return nimbus.ErrServerNotDeletable.With("%d data volume(s) are still attached to this server", attachedCount)
		}

		err = p.gateway.DeleteServer(ctx, currentUser.KeystoneToken, server.OpenStackID)
		if err != nil && !openstack.IsNotFound(err) {
			return wrapOpenStackError(err)
		}

		server.BeginDeletion(p.timeNow())
		_, err = tx.Update(server)
		return err
	})
	if err != nil {
		return err
	}

	p.deferrer.Defer("poll server deletion", func(ctx context.Context) error {
		return p.PollServerDeletion(ctx, id)
	})
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// polling state machines

func selectServerIncludingMarkDeleted(dbi gorp.SqlExecutor, serverID int64) (*models.Server, error) {
	servers, err := nimbus.FindServers(dbi, nimbus.ServerFilter{IDs: []int64{serverID}, WithDeleted: true})
	if err != nil || len(servers) == 0 {
		return nil, err
	}
	server := servers[0]
	if server.DeletedAt != nil {
		return nil, nil
	}
	return &server, nil
}

func (p *Processor) markServerFailed(serverID int64, pollErr error) {
	logg.Error("polling server %d failed: %s", serverID, pollErr.Error())
	err := nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		server, err := selectServerIncludingMarkDeleted(tx, serverID)
		if err != nil || server == nil {
			return err
		}
		server.MarkErrored(p.timeNow())
		_, err = tx.Update(server)
		return err
	})
	if err != nil {
		logg.Error("cannot mark server %d as errored: %s", serverID, err.Error())
	}
}

// rootVolumeParams carries the root volume attributes from the create
// request into the creation poll, which inserts the mirror row once Nova
// reports the boot volume attached.
type rootVolumeParams struct {
	SizeGiB          int
	VolumeTypeID     string
	ImageOpenStackID string
}

// PollServerCreation awaits a freshly booted server becoming ACTIVE. On
// success, the root volume that Nova created gets its mirror row, linked to
// the server and flagged as root volume.
func (p *Processor) PollServerCreation(ctx context.Context, serverID int64, projectOpenStackID string, rootVolume rootVolumeParams) error {
	server, err := selectServerIncludingMarkDeleted(&p.db.DbMap, serverID)
	if err != nil {
		return err
	}
	if server == nil {
		return fmt.Errorf("server %d vanished before polling started", serverID)
	}

	err = p.poll(ctx, fmt.Sprintf("creation of server %d", serverID), p.cfg.Poll.ServerCreation, func(ctx context.Context, systemToken string) (pollOutcome, error) {
		obs, err := p.gateway.GetServer(ctx, systemToken, server.OpenStackID)
		if err != nil {
			return pollFailed, err
		}
		switch obs.Status {
		case novaStatusBuild:
			return pollPending, nil
		case novaStatusActive:
			if len(obs.AttachedVolumeIDs) == 0 {
				return pollFailed, fmt.Errorf("server %d is ACTIVE but has no attached volumes", serverID)
			}
			return pollSucceeded, p.finalizeServerCreation(serverID, obs.AttachedVolumeIDs[0], rootVolume)
		case novaStatusError:
			return pollFailed, nil
		default:
			logg.Error("unexpected status %q while polling creation of server %d", obs.Status, serverID)
			return pollFailed, nil
		}
	})
	if err != nil {
		p.markServerFailed(serverID, err)
		return nimbus.ErrServerCreationFailed.With("server creation did not complete")
	}
	return nil
}

func (p *Processor) finalizeServerCreation(serverID int64, rootVolumeOpenStackID string, rootVolume rootVolumeParams) error {
	return nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		server, err := selectServerIncludingMarkDeleted(tx, serverID)
		if err != nil || server == nil {
			return err
		}
		server.CompleteCreation(p.timeNow())
		_, err = tx.Update(server)
		if err != nil {
			return err
		}

		// idempotency: a second poll run must not insert the row twice
		existing, err := nimbus.FindRootVolumeOfServer(tx, server.ID)
		if err != nil || existing != nil {
			return err
		}

		now := p.timeNow()
		imageID := rootVolume.ImageOpenStackID
		return tx.Insert(&models.Volume{
			ProjectID:             server.ProjectID,
			ServerID:              &server.ID,
			OpenStackID:           rootVolumeOpenStackID,
			VolumeTypeOpenStackID: rootVolume.VolumeTypeID,
			ImageOpenStackID:      &imageID,
			Name:                  server.Name + "-root",
			SizeGiB:               rootVolume.SizeGiB,
			Status:                models.VolumeStatusInUse,
			IsRootVolume:          true,
			LifecycleStatus:       models.LifecycleActive,
			CreatedAt:             now,
			UpdatedAt:             now,
		})
	})
}

// PollServerStatusUpdate awaits a server reaching the target status after a
// start or stop request.
func (p *Processor) PollServerStatusUpdate(ctx context.Context, serverID int64, target models.ServerStatus) error {
	server, err := selectServerIncludingMarkDeleted(&p.db.DbMap, serverID)
	if err != nil {
		return err
	}
	if server == nil {
		return fmt.Errorf("server %d vanished before polling started", serverID)
	}
	previous := string(server.Status)

	err = p.poll(ctx, fmt.Sprintf("status update of server %d", serverID), p.cfg.Poll.ServerStatusUpdate, func(ctx context.Context, systemToken string) (pollOutcome, error) {
		obs, err := p.gateway.GetServer(ctx, systemToken, server.OpenStackID)
		if err != nil {
			return pollFailed, err
		}
		switch obs.Status {
		case string(target):
			return pollSucceeded, nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
				serverPtr, err := selectServerIncludingMarkDeleted(tx, serverID)
				if err != nil || serverPtr == nil {
					return err
				}
				if target == models.ServerStatusActive {
					serverPtr.Start(p.timeNow())
				} else {
					serverPtr.Stop(p.timeNow())
				}
				_, err = tx.Update(serverPtr)
				return err
			})
		case previous:
			// transition not observed yet
			return pollPending, nil
		default:
			logg.Error("unexpected status %q while polling status update of server %d", obs.Status, serverID)
			return pollFailed, nil
		}
	})
	if err != nil {
		p.markServerFailed(serverID, err)
		return nimbus.ErrServerStatusUpdateFailed.With("server status update did not complete")
	}
	return nil
}

// PollServerDeletion awaits a server disappearing from Nova, then finalizes
// the whole deletion in the mirror: the server and its root volume are
// soft-deleted, its network interfaces are removed from Neutron and
// soft-deleted, and floating IPs attached to those interfaces are detached.
func (p *Processor) PollServerDeletion(ctx context.Context, serverID int64) error {
	server, err := selectServerIncludingMarkDeleted(&p.db.DbMap, serverID)
	if err != nil {
		return err
	}
	if server == nil {
		return nil // deletion already finalized
	}

	err = p.poll(ctx, fmt.Sprintf("deletion of server %d", serverID), p.cfg.Poll.ServerDeletion, func(ctx context.Context, systemToken string) (pollOutcome, error) {
		obs, err := p.gateway.GetServer(ctx, systemToken, server.OpenStackID)
		if openstack.IsNotFound(err) {
			return pollSucceeded, p.finalizeServerDeletion(ctx, serverID, systemToken)
		}
		if err != nil {
			return pollFailed, err
		}
		switch obs.Status {
		case novaStatusDeleted:
			return pollSucceeded, p.finalizeServerDeletion(ctx, serverID, systemToken)
		case novaStatusError:
			return pollFailed, nil
		default:
			return pollPending, nil
		}
	})
	if err != nil {
		p.markServerFailed(serverID, err)
		return nimbus.ErrServerDeletionFailed.With("server deletion did not complete")
	}
	return nil
}

func (p *Processor) finalizeServerDeletion(ctx context.Context, serverID int64, systemToken string) error {
	return nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		server, err := selectServerIncludingMarkDeleted(tx, serverID)
		if err != nil || server == nil {
			return err
		}
		now := p.timeNow()

		// the root volume was deleted by Nova (delete-on-termination)
		rootVolume, err := nimbus.FindRootVolumeOfServer(tx, server.ID)
		if err != nil {
			return err
		}
		if rootVolume != nil {
			rootVolume.CompleteDeletion(now)
			_, err = tx.Update(rootVolume)
			if err != nil {
				return err
			}
		}

		networkInterfaces, err := nimbus.FindNetworkInterfacesOfServer(tx, server.ID)
		if err != nil {
			return err
		}
		for _, networkInterface := range networkInterfaces {
			fips, err := nimbus.FindFloatingIPsOfNetworkInterface(tx, networkInterface.ID)
			if err != nil {
				return err
			}
			for _, fip := range fips {
				_, err = p.gateway.DetachFloatingIP(ctx, systemToken, fip.OpenStackID)
				if err != nil && !openstack.IsNotFound(err) {
					return wrapOpenStackError(err)
				}
				fip.DetachFromNetworkInterface(now)
				_, err = tx.Update(&fip)
				if err != nil {
					return err
				}
			}

			err = p.gateway.DeletePort(ctx, systemToken, networkInterface.OpenStackID)
			if err != nil && !openstack.IsNotFound(err) {
				return wrapOpenStackError(err)
			}
			_, err = tx.Exec(`DELETE FROM network_interface_security_groups WHERE network_interface_id = $1`, networkInterface.ID)
			if err != nil {
				return err
			}
			networkInterface.MarkDeleted(now)
			_, err = tx.Update(&networkInterface)
			if err != nil {
				return err
			}
		}

		server.CompleteDeletion(now)
		_, err = tx.Update(server)
		return err
	})
}
