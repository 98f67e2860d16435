// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"
)

// Volume contains a record from the `volumes` table.
//
// ServerID is non-null exactly while the volume is attached to (or in the
// process of attaching to / detaching from) a server. A root volume is
// created together with its server and can only be deleted through it.
type Volume struct {
	ID                    int64           `db:"id"`
	ProjectID             int64           `db:"project_id"`
	ServerID              *int64          `db:"server_id"`
	OpenStackID           string          `db:"openstack_id"`
	VolumeTypeOpenStackID string          `db:"volume_type_openstack_id"`
	ImageOpenStackID      *string         `db:"image_openstack_id"`
	Name                  string          `db:"name"`
	SizeGiB               int             `db:"size_gib"`
	Status                VolumeStatus    `db:"status"`
	IsRootVolume          bool            `db:"is_root_volume"`
	LifecycleStatus       LifecycleStatus `db:"lifecycle_status"`
	CreatedAt             time.Time       `db:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at"`
	DeletedAt             *time.Time      `db:"deleted_at"`
}

// CompleteCreation is invoked by the creation poll loop once Cinder reports
// the volume as available (or in-use, for root volumes created attached).
func (v *Volume) CompleteCreation(attached bool, now time.Time) {
	if attached {
		v.Status = VolumeStatusInUse
	} else {
		v.Status = VolumeStatusAvailable
	}
	v.UpdatedAt = now
}

// AttachToServer is invoked by the attachment poll loop once Cinder reports
// the volume as in-use.
func (v *Volume) AttachToServer(serverID int64, now time.Time) {
	v.ServerID = &serverID
	v.Status = VolumeStatusInUse
	v.UpdatedAt = now
}

// DetachFromServer is invoked by the detachment poll loop once Cinder
// reports the volume as available again.
func (v *Volume) DetachFromServer(now time.Time) {
	v.ServerID = nil
	v.Status = VolumeStatusAvailable
	v.UpdatedAt = now
}

// CompleteResize is invoked by the resize poll loop once Cinder reports the
// volume as available with the requested size.
func (v *Volume) CompleteResize(sizeGiB int, now time.Time) {
	v.SizeGiB = sizeGiB
	v.Status = VolumeStatusAvailable
	v.UpdatedAt = now
}

// Rename updates the volume name.
func (v *Volume) Rename(name string, now time.Time) {
	v.Name = name
	v.UpdatedAt = now
}

// MarkErrored records that an async operation on this volume failed.
// ERROR is sticky: no further user operations are allowed, except for
// deletion. The server link is cleared so that deletion stays possible
// after a failed attach or detach.
func (v *Volume) MarkErrored(now time.Time) {
	v.ServerID = nil
	v.Status = VolumeStatusError
	v.UpdatedAt = now
}

// BeginDeletion moves the volume into the intermediate MARK_DELETED state
// while the deletion poll loop awaits its disappearance from Cinder.
func (v *Volume) BeginDeletion(now time.Time) {
	v.Status = VolumeStatusDeleting
	v.LifecycleStatus = LifecycleMarkDeleted
	v.UpdatedAt = now
}

// CompleteDeletion finalizes the soft deletion once Cinder no longer knows
// the volume.
func (v *Volume) CompleteDeletion(now time.Time) {
	v.LifecycleStatus = LifecycleDeleted
	v.DeletedAt = &now
	v.UpdatedAt = now
}
