// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/nimbus/internal/models"
	"github.com/sapcc/nimbus/internal/nimbus"
	"github.com/sapcc/nimbus/internal/openstack"
)

// Cinder reports volume statuses as lowercase strings. These are the ones
// our state machines know; anything else fails the respective poll.
const (
	cinderStatusCreating       = "creating"
	cinderStatusDownloading    = "downloading"
	cinderStatusAvailable      = "available"
	cinderStatusReserved       = "reserved"
	cinderStatusAttaching      = "attaching"
	cinderStatusInUse          = "in-use"
	cinderStatusDetaching      = "detaching"
	cinderStatusExtending      = "extending"
	cinderStatusDeleting       = "deleting"
	cinderStatusError          = "error"
	cinderStatusErrorExtending = "error_extending"
)

// ListVolumes returns the active volumes of the current project.
func (p *Processor) ListVolumes(currentUser nimbus.CurrentUser, nameLike string) ([]models.Volume, error) {
	return nimbus.FindVolumes(&p.db.DbMap, nimbus.VolumeFilter{
		ProjectID: &currentUser.ProjectID,
		NameLike:  nameLike,
	})
}

// GetVolume returns one volume of the current project.
func (p *Processor) GetVolume(currentUser nimbus.CurrentUser, id int64) (models.Volume, error) {
	volume, err := p.findProjectVolume(&p.db.DbMap, currentUser, id)
	if err != nil {
		return models.Volume{}, err
	}
	return *volume, nil
}

// VolumeInfo combines the mirrored volume with its live status in Cinder.
type VolumeInfo struct {
	Volume     models.Volume
	LiveStatus string
}

// GetVolumeInfo returns a volume together with its live Cinder status, read
// with the user's own Keystone token.
func (p *Processor) GetVolumeInfo(ctx context.Context, currentUser nimbus.CurrentUser, id int64) (VolumeInfo, error) {
	volume, err := p.findProjectVolume(&p.db.DbMap, currentUser, id)
	if err != nil {
		return VolumeInfo{}, err
	}
	obs, err := p.gateway.GetVolume(ctx, currentUser.KeystoneToken, currentUser.ProjectOpenStackID, volume.OpenStackID)
	if err != nil {
		return VolumeInfo{}, wrapOpenStackError(err)
	}
	return VolumeInfo{Volume: *volume, LiveStatus: obs.Status}, nil
}

func (p *Processor) findProjectVolume(dbi gorp.SqlExecutor, currentUser nimbus.CurrentUser, id int64) (*models.Volume, error) {
	volume, err := nimbus.FindVolumeByID(dbi, id)
	if err != nil {
		return nil, err
	}
	if volume == nil || volume.ProjectID != currentUser.ProjectID {
		return nil, nimbus.ErrVolumeNotFound.With("no such volume")
	}
	return volume, nil
}

// CreateVolume starts the creation of a data volume. The mirror row is
// inserted in status CREATING; a deferred poll finalizes it once Cinder is
// done.
func (p *Processor) CreateVolume(ctx context.Context, currentUser nimbus.CurrentUser, name, volumeTypeID string, sizeGiB int, imageID *string) (models.Volume, error) {
	var volume models.Volume
	err := p.inUnitOfWork(ctx, func(tx *gorp.Transaction, comp *compensationScope) error {
		exists, err := nimbus.VolumeExistsWithName(tx, currentUser.ProjectID, name)
		if err != nil {
			return err
		}
		if exists {
			return nimbus.ErrVolumeDuplicate.With("a volume with this name already exists")
		}

		req := openstack.CreateVolumeRequest{
			Name:         name,
			SizeGiB:      sizeGiB,
			VolumeTypeID: volumeTypeID,
		}
		if imageID != nil {
			req.ImageOpenStackID = *imageID
		}
		volumeOpenStackID, err := p.gateway.CreateVolume(ctx, currentUser.KeystoneToken, currentUser.ProjectOpenStackID, req)
		if err != nil {
			return wrapOpenStackError(err)
		}
		comp.register("delete cinder volume "+volumeOpenStackID, func(ctx context.Context) error {
			return p.gateway.DeleteVolume(ctx, currentUser.KeystoneToken, currentUser.ProjectOpenStackID, volumeOpenStackID)
		})

		now := p.timeNow()
		volume = models.Volume{
			ProjectID:             currentUser.ProjectID,
			OpenStackID:           volumeOpenStackID,
			VolumeTypeOpenStackID: volumeTypeID,
			ImageOpenStackID:      imageID,
			Name:                  name,
			SizeGiB:               sizeGiB,
			Status:                models.VolumeStatusCreating,
			LifecycleStatus:       models.LifecycleActive,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		return tx.Insert(&volume)
	})
	if err != nil {
		return models.Volume{}, err
	}

	volumeID := volume.ID
	projectOpenStackID := currentUser.ProjectOpenStackID
	p.deferrer.Defer("poll volume creation", func(ctx context.Context) error {
		return p.PollVolumeCreation(ctx, volumeID, projectOpenStackID)
	})
	return volume, nil
}

// RenameVolume changes the name of a volume (mirror only; the Cinder name
// is cosmetic and not kept in sync).
func (p *Processor) RenameVolume(ctx context.Context, currentUser nimbus.CurrentUser, id int64, name string) (models.Volume, error) {
	var volume models.Volume
	err := nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		volumePtr, err := p.findProjectVolume(tx, currentUser, id)
		if err != nil {
			return err
		}
		if volumePtr.Name != name {
			exists, err := nimbus.VolumeExistsWithName(tx, currentUser.ProjectID, name)
			if err != nil {
				return err
			}
			if exists {
				return nimbus.ErrVolumeDuplicate.With("a volume with this name already exists")
			}
			volumePtr.Rename(name, p.timeNow())
			_, err = tx.Update(volumePtr)
			if err != nil {
				return err
			}
		}
		volume = *volumePtr
		return nil
	})
	return volume, err
}

// ResizeVolume starts growing a volume. Only detached AVAILABLE volumes can
// be resized, and volumes can never shrink.
func (p *Processor) ResizeVolume(ctx context.Context, currentUser nimbus.CurrentUser, id int64, newSizeGiB int) (models.Volume, error) {
	var volume models.Volume
	err := nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		volumePtr, err := p.findProjectVolume(tx, currentUser, id)
		if err != nil {
			return err
		}
		if volumePtr.Status != models.VolumeStatusAvailable {
			return nimbus.ErrVolumeNotAvailable.With("volume must be available to be resized")
		}
		if newSizeGiB <= volumePtr.SizeGiB {
			return nimbus.ErrVolumeNotAvailable.With("volumes can only grow (current size is %d GiB)", volumePtr.SizeGiB)
		}

		err = p.gateway.ExtendVolumeSize(ctx, currentUser.KeystoneToken, currentUser.ProjectOpenStackID, volumePtr.OpenStackID, newSizeGiB)
		if err != nil {
			return wrapOpenStackError(err)
		}

		volumePtr.Status = models.VolumeStatusExtending
		volumePtr.UpdatedAt = p.timeNow()
		_, err = tx.Update(volumePtr)
		volume = *volumePtr
		return err
	})
	if err != nil {
		return models.Volume{}, err
	}

	projectOpenStackID := currentUser.ProjectOpenStackID
	p.deferrer.Defer("poll volume resizing", func(ctx context.Context) error {
		return p.PollVolumeResizing(ctx, id, projectOpenStackID, newSizeGiB)
	})
	return volume, nil
}

// AttachVolume starts attaching a volume to a server.
func (p *Processor) AttachVolume(ctx context.Context, currentUser nimbus.CurrentUser, serverID, volumeID int64) error {
	err := nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		server, err := p.findProjectServer(tx, currentUser, serverID)
		if err != nil {
			return err
		}
		volume, err := p.findProjectVolume(tx, currentUser, volumeID)
		if err != nil {
			return err
		}
		if volume.Status != models.VolumeStatusAvailable {
			return nimbus.ErrVolumeNotAvailable.With("volume must be available to be attached")
		}

		err = p.gateway.AttachVolumeToServer(ctx, currentUser.KeystoneToken, server.OpenStackID, volume.OpenStackID)
		if err != nil {
			return wrapOpenStackError(err)
		}

		volume.ServerID = &server.ID
		volume.Status = models.VolumeStatusAttaching
		volume.UpdatedAt = p.timeNow()
		_, err = tx.Update(volume)
		return err
	})
	if err != nil {
		return err
	}

	projectOpenStackID := currentUser.ProjectOpenStackID
	p.deferrer.Defer("poll volume attachment", func(ctx context.Context) error {
		return p.PollVolumeAttachment(ctx, volumeID, serverID, projectOpenStackID)
	})
	return nil
}

// DetachVolume starts detaching a volume from a server. Root volumes stay
// attached for the lifetime of their server.
func (p *Processor) DetachVolume(ctx context.Context, currentUser nimbus.CurrentUser, serverID, volumeID int64) error {
	err := nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		server, err := p.findProjectServer(tx, currentUser, serverID)
		if err != nil {
			return err
		}
		volume, err := p.findProjectVolume(tx, currentUser, volumeID)
		if err != nil {
			return err
		}
		if volume.IsRootVolume {
			return nimbus.ErrRootVolumeDetachNotAllowed.With("root volumes cannot be detached")
		}
		if volume.ServerID == nil || *volume.ServerID != server.ID || volume.Status != models.VolumeStatusInUse {
			return nimbus.ErrVolumeNotAvailable.With("volume is not attached to this server")
		}

		err = p.gateway.DetachVolumeFromServer(ctx, currentUser.KeystoneToken, server.OpenStackID, volume.OpenStackID)
		if err != nil {
			return wrapOpenStackError(err)
		}

		volume.Status = models.VolumeStatusDetaching
		volume.UpdatedAt = p.timeNow()
		_, err = tx.Update(volume)
		return err
	})
	if err != nil {
		return err
	}

	projectOpenStackID := currentUser.ProjectOpenStackID
	p.deferrer.Defer("poll volume detachment", func(ctx context.Context) error {
		return p.PollVolumeDetachment(ctx, volumeID, projectOpenStackID)
	})
	return nil
}

// DeleteVolume starts the deletion of a volume. Attached volumes must be
// detached first; root volumes are deleted together with their server.
func (p *Processor) DeleteVolume(ctx context.Context, currentUser nimbus.CurrentUser, id int64) error {
	err := nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		volume, err := p.findProjectVolume(tx, currentUser, id)
		if err != nil {
			return err
		}
		if volume.IsRootVolume {
			return nimbus.ErrVolumeNotDeletable.With("root volumes are deleted together with their server")
		}
		if volume.ServerID != nil {
			return nimbus.ErrVolumeNotDeletable.With("volume is attached to a server")
		}
		switch volume.Status {
		case models.VolumeStatusAvailable, models.VolumeStatusError, models.VolumeStatusErrorExtending:
			// deletable
		default:
			return nimbus.ErrVolumeNotDeletable.With("volume cannot be deleted in status %s", volume.Status)
		}

		err = p.gateway.DeleteVolume(ctx, currentUser.KeystoneToken, currentUser.ProjectOpenStackID, volume.OpenStackID)
		if err != nil && !openstack.IsNotFound(err) {
			return wrapOpenStackError(err)
		}

		volume.BeginDeletion(p.timeNow())
		_, err = tx.Update(volume)
		return err
	})
	if err != nil {
		return err
	}

	projectOpenStackID := currentUser.ProjectOpenStackID
	p.deferrer.Defer("poll volume deletion", func(ctx context.Context) error {
		return p.PollVolumeDeletion(ctx, id, projectOpenStackID)
	})
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// polling state machines

// finalizeVolume applies a terminal state transition to a volume in a short
// transaction. A vanished row is not an error: deferred polls are
// idempotent and may race with each other.
func (p *Processor) finalizeVolume(volumeID int64, action func(volume *models.Volume, now time.Time)) error {
	return nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		volume, err := selectVolumeIncludingMarkDeleted(tx, volumeID)
		if err != nil || volume == nil {
			return err
		}
		action(volume, p.timeNow())
		_, err = tx.Update(volume)
		return err
	})
}

// selectVolumeIncludingMarkDeleted is the load step of the deletion poll:
// the row is already MARK_DELETED but not yet soft-deleted.
func selectVolumeIncludingMarkDeleted(dbi gorp.SqlExecutor, volumeID int64) (*models.Volume, error) {
	volumes, err := nimbus.FindVolumes(dbi, nimbus.VolumeFilter{IDs: []int64{volumeID}, WithDeleted: true})
	if err != nil || len(volumes) == 0 {
		return nil, err
	}
	volume := volumes[0]
	if volume.DeletedAt != nil {
		return nil, nil
	}
	return &volume, nil
}

func (p *Processor) markVolumeFailed(volumeID int64, pollErr error) error {
	logg.Error("polling volume %d failed: %s", volumeID, pollErr.Error())
	err := p.finalizeVolume(volumeID, func(volume *models.Volume, now time.Time) {
		volume.MarkErrored(now)
	})
	if err != nil {
		logg.Error("cannot mark volume %d as errored: %s", volumeID, err.Error())
	}
	return err
}

// PollVolumeCreation awaits a freshly created volume becoming AVAILABLE.
func (p *Processor) PollVolumeCreation(ctx context.Context, volumeID int64, projectOpenStackID string) error {
	var volumeOpenStackID string
	err := p.withVolumeOpenStackID(volumeID, &volumeOpenStackID)
	if err != nil {
		return err
	}

	err = p.poll(ctx, fmt.Sprintf("creation of volume %d", volumeID), p.cfg.Poll.VolumeCreation, func(ctx context.Context, systemToken string) (pollOutcome, error) {
		obs, err := p.gateway.GetVolume(ctx, systemToken, projectOpenStackID, volumeOpenStackID)
		if err != nil {
			return pollFailed, err
		}
		switch obs.Status {
		case cinderStatusCreating, cinderStatusDownloading:
			return pollPending, nil
		case cinderStatusAvailable:
			return pollSucceeded, p.finalizeVolume(volumeID, func(volume *models.Volume, now time.Time) {
				volume.CompleteCreation(false, now)
			})
		case cinderStatusError:
			return pollFailed, nil
		default:
			logg.Error("unexpected status %q while polling creation of volume %d", obs.Status, volumeID)
			return pollFailed, nil
		}
	})
	if err != nil {
		p.markVolumeFailed(volumeID, err)
		return nimbus.ErrVolumeCreationFailed.With("volume creation did not complete")
	}
	return nil
}

// PollVolumeAttachment awaits a volume becoming IN_USE after an attach
// request, then links it to the server in the mirror.
func (p *Processor) PollVolumeAttachment(ctx context.Context, volumeID, serverID int64, projectOpenStackID string) error {
	var volumeOpenStackID string
	err := p.withVolumeOpenStackID(volumeID, &volumeOpenStackID)
	if err != nil {
		return err
	}

	err = p.poll(ctx, fmt.Sprintf("attachment of volume %d", volumeID), p.cfg.Poll.VolumeAttachment, func(ctx context.Context, systemToken string) (pollOutcome, error) {
		obs, err := p.gateway.GetVolume(ctx, systemToken, projectOpenStackID, volumeOpenStackID)
		if err != nil {
			return pollFailed, err
		}
		switch obs.Status {
		case cinderStatusReserved, cinderStatusAttaching:
			return pollPending, nil
		case cinderStatusInUse:
			return pollSucceeded, p.finalizeVolume(volumeID, func(volume *models.Volume, now time.Time) {
				volume.AttachToServer(serverID, now)
			})
		default:
			logg.Error("unexpected status %q while polling attachment of volume %d", obs.Status, volumeID)
			return pollFailed, nil
		}
	})
	if err != nil {
		p.markVolumeFailed(volumeID, err)
		return nimbus.ErrVolumeAttachmentFailed.With("volume attachment did not complete")
	}
	return nil
}

// PollVolumeDetachment awaits a volume becoming AVAILABLE after a detach
// request, then unlinks it from its server in the mirror.
func (p *Processor) PollVolumeDetachment(ctx context.Context, volumeID int64, projectOpenStackID string) error {
	var volumeOpenStackID string
	err := p.withVolumeOpenStackID(volumeID, &volumeOpenStackID)
	if err != nil {
		return err
	}

	err = p.poll(ctx, fmt.Sprintf("detachment of volume %d", volumeID), p.cfg.Poll.VolumeDetachment, func(ctx context.Context, systemToken string) (pollOutcome, error) {
		obs, err := p.gateway.GetVolume(ctx, systemToken, projectOpenStackID, volumeOpenStackID)
		if err != nil {
			return pollFailed, err
		}
		switch obs.Status {
		case cinderStatusInUse, cinderStatusDetaching:
			return pollPending, nil
		case cinderStatusAvailable:
			return pollSucceeded, p.finalizeVolume(volumeID, func(volume *models.Volume, now time.Time) {
				volume.DetachFromServer(now)
			})
		default:
			logg.Error("unexpected status %q while polling detachment of volume %d", obs.Status, volumeID)
			return pollFailed, nil
		}
	})
	if err != nil {
		p.markVolumeFailed(volumeID, err)
		return nimbus.ErrVolumeDetachmentFailed.With("volume detachment did not complete")
	}
	return nil
}

// PollVolumeResizing awaits a volume reporting the requested size after an
// extend request.
func (p *Processor) PollVolumeResizing(ctx context.Context, volumeID int64, projectOpenStackID string, targetSizeGiB int) error {
	var volumeOpenStackID string
	err := p.withVolumeOpenStackID(volumeID, &volumeOpenStackID)
	if err != nil {
		return err
	}

	err = p.poll(ctx, fmt.Sprintf("resizing of volume %d", volumeID), p.cfg.Poll.VolumeResizing, func(ctx context.Context, systemToken string) (pollOutcome, error) {
		obs, err := p.gateway.GetVolume(ctx, systemToken, projectOpenStackID, volumeOpenStackID)
		if err != nil {
			return pollFailed, err
		}
		switch {
		case obs.Status == cinderStatusExtending:
			return pollPending, nil
		case obs.Status == cinderStatusAvailable && obs.SizeGiB == targetSizeGiB:
			return pollSucceeded, p.finalizeVolume(volumeID, func(volume *models.Volume, now time.Time) {
				volume.CompleteResize(targetSizeGiB, now)
			})
		case obs.Status == cinderStatusAvailable:
			// extend request not picked up yet
			return pollPending, nil
		default:
			logg.Error("unexpected status %q while polling resizing of volume %d", obs.Status, volumeID)
			return pollFailed, nil
		}
	})
	if err != nil {
		p.markVolumeFailed(volumeID, err)
		return nimbus.ErrVolumeResizingFailed.With("volume resizing did not complete")
	}
	return nil
}

// PollVolumeDeletion awaits a volume disappearing from Cinder, then
// finalizes the soft deletion in the mirror.
func (p *Processor) PollVolumeDeletion(ctx context.Context, volumeID int64, projectOpenStackID string) error {
	var volumeOpenStackID string
	err := p.withVolumeOpenStackID(volumeID, &volumeOpenStackID)
	if err != nil {
		return err
	}

	err = p.poll(ctx, fmt.Sprintf("deletion of volume %d", volumeID), p.cfg.Poll.VolumeDeletion, func(ctx context.Context, systemToken string) (pollOutcome, error) {
		obs, err := p.gateway.GetVolume(ctx, systemToken, projectOpenStackID, volumeOpenStackID)
		if openstack.IsNotFound(err) {
			return pollSucceeded, p.finalizeVolume(volumeID, func(volume *models.Volume, now time.Time) {
				volume.CompleteDeletion(now)
			})
		}
		if err != nil {
			return pollFailed, err
		}
		if obs.Status == cinderStatusError {
			return pollFailed, nil
		}
		return pollPending, nil
	})
	if err != nil {
		p.markVolumeFailed(volumeID, err)
		return nimbus.ErrVolumeDeletionFailed.With("volume deletion did not complete")
	}
	return nil
}

// withVolumeOpenStackID loads the OpenStack ID of a volume before a poll
// starts. The volume may be MARK_DELETED (deletion poll) but must exist.
func (p *Processor) withVolumeOpenStackID(volumeID int64, out *string) error {
	volume, err := selectVolumeIncludingMarkDeleted(&p.db.DbMap, volumeID)
	if err != nil {
		return err
	}
	if volume == nil {
		return fmt.Errorf("volume %d vanished before polling started", volumeID)
	}
	*out = volume.OpenStackID
	return nil
}
