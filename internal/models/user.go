// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"
)

// User contains a record from the `users` table.
//
// The AccountID is what the user types at login; it is unique among the
// active users of a domain. PasswordHash is a bcrypt hash.
type User struct {
	ID              int64           `db:"id"`
	DomainID        int64           `db:"domain_id"`
	OpenStackID     string          `db:"openstack_id"`
	AccountID       string          `db:"account_id"`
	Name            string          `db:"name"`
	PasswordHash    string          `db:"password_hash"`
	LifecycleStatus LifecycleStatus `db:"lifecycle_status"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
	DeletedAt       *time.Time      `db:"deleted_at"`
}

// Rename updates the display name.
func (u *User) Rename(name string, now time.Time) {
	u.Name = name
	u.UpdatedAt = now
}

// MarkDeleted soft-deletes this user.
func (u *User) MarkDeleted(now time.Time) {
	u.LifecycleStatus = LifecycleDeleted
	u.DeletedAt = &now
	u.UpdatedAt = now
}

// ProjectUser contains a record from the `project_users` join table.
type ProjectUser struct {
	ProjectID int64 `db:"project_id"`
	UserID    int64 `db:"user_id"`
}
