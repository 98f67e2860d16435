// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"
)

// SecurityGroup contains a record from the `security_groups` table.
//
// Only the group itself is mirrored locally. Its rules are never stored:
// they are read from and written to Neutron on every access.
//
// Security groups carry an optimistic-locking version column; see
// nimbus.UpdateWithOptimisticLock.
type SecurityGroup struct {
	ID              int64           `db:"id"`
	ProjectID       int64           `db:"project_id"`
	OpenStackID     string          `db:"openstack_id"`
	Name            string          `db:"name"`
	Description     string          `db:"description"`
	Version         int             `db:"version"`
	LifecycleStatus LifecycleStatus `db:"lifecycle_status"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
	DeletedAt       *time.Time      `db:"deleted_at"`
}

// Update changes name and description. The change is persisted by
// nimbus.UpdateWithOptimisticLock and mirrored to Neutron by the caller.
func (g *SecurityGroup) Update(name, description string, now time.Time) {
	g.Name = name
	g.Description = description
	g.UpdatedAt = now
}

// MarkDeleted soft-deletes this security group.
func (g *SecurityGroup) MarkDeleted(now time.Time) {
	g.LifecycleStatus = LifecycleDeleted
	g.DeletedAt = &now
	g.UpdatedAt = now
}
