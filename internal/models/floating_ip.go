// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"
)

// FloatingIP contains a record from the `floating_ips` table.
//
// NetworkInterfaceID is non-null iff the floating IP is attached, in which
// case its status is ACTIVE. A floating IP is attached to at most one
// network interface at a time.
type FloatingIP struct {
	ID                 int64            `db:"id"`
	ProjectID          int64            `db:"project_id"`
	NetworkInterfaceID *int64           `db:"network_interface_id"`
	OpenStackID        string           `db:"openstack_id"`
	Address            string           `db:"address"`
	Status             FloatingIPStatus `db:"status"`
	LifecycleStatus    LifecycleStatus  `db:"lifecycle_status"`
	CreatedAt          time.Time        `db:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at"`
	DeletedAt          *time.Time       `db:"deleted_at"`
}

// AttachToNetworkInterface records a successful association in Neutron.
func (f *FloatingIP) AttachToNetworkInterface(networkInterfaceID int64, now time.Time) {
	f.NetworkInterfaceID = &networkInterfaceID
	f.Status = FloatingIPStatusActive
	f.UpdatedAt = now
}

// DetachFromNetworkInterface records a successful disassociation in Neutron.
func (f *FloatingIP) DetachFromNetworkInterface(now time.Time) {
	f.NetworkInterfaceID = nil
	f.Status = FloatingIPStatusDown
	f.UpdatedAt = now
}

// MarkDeleted soft-deletes this floating IP.
func (f *FloatingIP) MarkDeleted(now time.Time) {
	f.LifecycleStatus = LifecycleDeleted
	f.DeletedAt = &now
	f.UpdatedAt = now
}
