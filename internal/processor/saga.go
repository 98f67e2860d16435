// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/nimbus/internal/openstack"
)

// compensationScope collects inverse actions while an operation makes calls
// into OpenStack. If the operation fails, runAll executes the registered
// actions in reverse insertion order, undoing the OpenStack side effects
// that the database rollback cannot cover.
type compensationScope struct {
	compensations []compensation
}

type compensation struct {
	description string
	action      func(ctx context.Context) error
}

// register adds an inverse action. The description appears in the log when
// the action runs or fails.
func (s *compensationScope) register(description string, action func(ctx context.Context) error) {
	s.compensations = append(s.compensations, compensation{description, action})
}

// runAll executes all registered compensations in LIFO order. A failing
// compensation is logged and does not stop the remaining ones; the caller's
// original error always wins. A 404 from OpenStack counts as success, since
// it means the resource to remove is already gone.
func (s *compensationScope) runAll(ctx context.Context) {
	for idx := len(s.compensations) - 1; idx >= 0; idx-- {
		c := s.compensations[idx]
		logg.Info("compensating: %s", c.description)
		err := c.action(ctx)
		if err != nil && !openstack.IsNotFound(err) {
			logg.Error("compensation failed (%s): %s", c.description, err.Error())
		}
	}
	s.compensations = nil
}
