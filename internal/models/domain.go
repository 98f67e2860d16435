// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"
)

// Domain contains a record from the `domains` table. A domain is the
// Keystone authentication realm that users and projects live in.
type Domain struct {
	ID          int64     `db:"id"`
	OpenStackID string    `db:"openstack_id"`
	Name        string    `db:"name"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}
