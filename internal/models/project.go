// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"
)

// Project contains a record from the `projects` table. A project is the
// tenant boundary: every compute, storage and networking resource belongs
// to exactly one project.
//
// Projects carry an optimistic-locking version column; see
// nimbus.UpdateWithOptimisticLock.
type Project struct {
	ID              int64           `db:"id"`
	DomainID        int64           `db:"domain_id"`
	OpenStackID     string          `db:"openstack_id"`
	Name            string          `db:"name"`
	Version         int             `db:"version"`
	LifecycleStatus LifecycleStatus `db:"lifecycle_status"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
	DeletedAt       *time.Time      `db:"deleted_at"`
}

// Rename updates the project name. The change is persisted by
// nimbus.UpdateWithOptimisticLock and mirrored to Keystone by the caller.
func (p *Project) Rename(name string, now time.Time) {
	p.Name = name
	p.UpdatedAt = now
}

// MarkDeleted soft-deletes this project.
func (p *Project) MarkDeleted(now time.Time) {
	p.LifecycleStatus = LifecycleDeleted
	p.DeletedAt = &now
	p.UpdatedAt = now
}
