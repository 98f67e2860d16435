// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/nimbus/internal/nimbus"
)

// ErrSystemTokenMissing is returned by SystemTokenManager.Get when no valid
// system token is available, e.g. right after startup before the first
// refresh succeeded, or after Keystone has been unreachable for longer than
// the token lifetime.
var ErrSystemTokenMissing = errors.New("no valid system keystone token available")

// SystemTokenManager holds the Keystone token of the cloud-admin user that
// platform-level operations (user provisioning, project management, polling)
// run under. The token is refreshed on a fixed schedule by a background job,
// so request handlers only ever read it.
type SystemTokenManager struct {
	cfg     nimbus.Configuration
	gateway *Gateway
	current atomic.Pointer[ScopedToken]
}

// NewSystemTokenManager builds a SystemTokenManager. Call Refresh (or start
// the refresh job) before serving requests.
func NewSystemTokenManager(cfg nimbus.Configuration, gateway *Gateway) *SystemTokenManager {
	return &SystemTokenManager{cfg: cfg, gateway: gateway}
}

// Refresh obtains a fresh system token from Keystone. On error, the
// previous token stays in place; it usually outlives several failed refresh
// attempts.
func (m *SystemTokenManager) Refresh(ctx context.Context) error {
	token, err := m.gateway.IssueScopedToken(ctx,
		m.cfg.CloudAdminUserID, m.cfg.CloudAdminPassword, m.cfg.CloudAdminProjectID)
	if err != nil {
		return err
	}
	m.current.Store(&token)
	logg.Debug("refreshed system keystone token (expires at %s)", token.ExpiresAt.UTC().Format(time.RFC3339))
	return nil
}

// Get returns the current system token. The expiry check guards against a
// stale token surviving prolonged Keystone downtime.
func (m *SystemTokenManager) Get(now time.Time) (string, error) {
	token := m.current.Load()
	if token == nil || !token.ExpiresAt.After(now) {
		return "", ErrSystemTokenMissing
	}
	return token.TokenID, nil
}
