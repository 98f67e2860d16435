// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

// LifecycleStatus tracks where a mirrored row stands in its soft-deletion
// lifecycle. Rows start out ACTIVE, move to MARK_DELETED while an async
// deletion pipeline is still running against OpenStack, and end up DELETED
// once the upstream resource is confirmed gone.
type LifecycleStatus string

const (
	LifecycleActive      LifecycleStatus = "ACTIVE"
	LifecycleMarkDeleted LifecycleStatus = "MARK_DELETED"
	LifecycleDeleted     LifecycleStatus = "DELETED"
)

// ServerStatus is the subset of Nova server states that we mirror locally.
type ServerStatus string

const (
	ServerStatusBuild       ServerStatus = "BUILD"
	ServerStatusActive      ServerStatus = "ACTIVE"
	ServerStatusShutoff     ServerStatus = "SHUTOFF"
	ServerStatusSoftDeleted ServerStatus = "SOFT_DELETED"
	ServerStatusDeleted     ServerStatus = "DELETED"
	ServerStatusError       ServerStatus = "ERROR"
)

// IsDeletable reports whether a server in this status may be deleted by a
// user operation. ERROR is included so that failed builds can be cleaned up.
func (s ServerStatus) IsDeletable() bool {
	switch s {
	case ServerStatusActive, ServerStatusShutoff, ServerStatusError:
		return true
	default:
		return false
	}
}

// VolumeStatus is the subset of Cinder volume states that we mirror locally.
type VolumeStatus string

const (
	VolumeStatusCreating       VolumeStatus = "CREATING"
	VolumeStatusAvailable      VolumeStatus = "AVAILABLE"
	VolumeStatusReserved       VolumeStatus = "RESERVED"
	VolumeStatusAttaching      VolumeStatus = "ATTACHING"
	VolumeStatusInUse          VolumeStatus = "IN_USE"
	VolumeStatusDetaching      VolumeStatus = "DETACHING"
	VolumeStatusExtending      VolumeStatus = "EXTENDING"
	VolumeStatusDeleting       VolumeStatus = "DELETING"
	VolumeStatusError          VolumeStatus = "ERROR"
	VolumeStatusErrorExtending VolumeStatus = "ERROR_EXTENDING"
)

// IsAttachedLike reports whether a volume in this status is bound to a
// server, i.e. whether Volume.ServerID must be non-null.
func (s VolumeStatus) IsAttachedLike() bool {
	switch s {
	case VolumeStatusInUse, VolumeStatusAttaching, VolumeStatusDetaching, VolumeStatusReserved:
		return true
	default:
		return false
	}
}

// FloatingIPStatus is the subset of Neutron floating IP states that we
// mirror locally.
type FloatingIPStatus string

const (
	FloatingIPStatusActive FloatingIPStatus = "ACTIVE"
	FloatingIPStatusDown   FloatingIPStatus = "DOWN"
	FloatingIPStatusError  FloatingIPStatus = "ERROR"
)
