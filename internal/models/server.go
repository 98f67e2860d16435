// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"
)

// Server contains a record from the `servers` table.
type Server struct {
	ID                int64           `db:"id"`
	ProjectID         int64           `db:"project_id"`
	OpenStackID       string          `db:"openstack_id"`
	FlavorOpenStackID string          `db:"flavor_openstack_id"`
	Name              string          `db:"name"`
	Description       string          `db:"description"`
	Status            ServerStatus    `db:"status"`
	LifecycleStatus   LifecycleStatus `db:"lifecycle_status"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
	DeletedAt         *time.Time      `db:"deleted_at"`
}

// CompleteCreation is invoked by the creation poll loop once Nova reports
// the server as ACTIVE.
func (s *Server) CompleteCreation(now time.Time) {
	s.Status = ServerStatusActive
	s.UpdatedAt = now
}

// Start is invoked by the status poll loop once Nova reports ACTIVE after
// a start request.
func (s *Server) Start(now time.Time) {
	s.Status = ServerStatusActive
	s.UpdatedAt = now
}

// Stop is invoked by the status poll loop once Nova reports SHUTOFF after
// a stop request.
func (s *Server) Stop(now time.Time) {
	s.Status = ServerStatusShutoff
	s.UpdatedAt = now
}

// MarkErrored records that an async operation on this server failed.
func (s *Server) MarkErrored(now time.Time) {
	s.Status = ServerStatusError
	s.UpdatedAt = now
}

// BeginDeletion moves the server into the intermediate MARK_DELETED state
// while the deletion poll loop awaits its disappearance from Nova.
func (s *Server) BeginDeletion(now time.Time) {
	s.LifecycleStatus = LifecycleMarkDeleted
	s.UpdatedAt = now
}

// CompleteDeletion finalizes the soft deletion once Nova no longer knows
// the server.
func (s *Server) CompleteDeletion(now time.Time) {
	s.Status = ServerStatusDeleted
	s.LifecycleStatus = LifecycleDeleted
	s.DeletedAt = &now
	s.UpdatedAt = now
}
