// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"
)

// NetworkInterface contains a record from the `network_interfaces` table.
// It mirrors a Neutron port that is bound to one of our servers.
type NetworkInterface struct {
	ID              int64           `db:"id"`
	ProjectID       int64           `db:"project_id"`
	ServerID        *int64          `db:"server_id"`
	OpenStackID     string          `db:"openstack_id"`
	FixedIPAddress  string          `db:"fixed_ip_address"`
	LifecycleStatus LifecycleStatus `db:"lifecycle_status"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
	DeletedAt       *time.Time      `db:"deleted_at"`
}

// MarkDeleted soft-deletes this network interface.
func (n *NetworkInterface) MarkDeleted(now time.Time) {
	n.LifecycleStatus = LifecycleDeleted
	n.DeletedAt = &now
	n.UpdatedAt = now
}

// NetworkInterfaceSecurityGroup contains a record from the
// `network_interface_security_groups` join table.
type NetworkInterfaceSecurityGroup struct {
	NetworkInterfaceID int64 `db:"network_interface_id"`
	SecurityGroupID    int64 `db:"security_group_id"`
}
