// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/nimbus/internal/openstack"
)

func TestCompensationRunsInReverseOrder(t *testing.T) {
	var order []string
	comp := &compensationScope{}
	for _, name := range []string{"first", "second", "third"} {
		comp.register("delete "+name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	comp.runAll(t.Context())
	assert.DeepEqual(t, "compensation order", order, []string{"third", "second", "first"})
}

func TestCompensationContinuesAfterFailure(t *testing.T) {
	var order []string
	comp := &compensationScope{}
	comp.register("delete port", func(context.Context) error {
		order = append(order, "port")
		return nil
	})
	comp.register("delete server", func(context.Context) error {
		order = append(order, "server")
		return errors.New("nova is on fire")
	})
	comp.register("delete volume", func(context.Context) error {
		order = append(order, "volume")
		return &openstack.OpenStackError{Status: 404, Body: "not found"}
	})

	// neither the hard failure nor the tolerated 404 may stop the remaining
	// compensations
	comp.runAll(t.Context())
	assert.DeepEqual(t, "compensation order", order, []string{"volume", "server", "port"})
}

func TestCompensationScopeIsSingleUse(t *testing.T) {
	runs := 0
	comp := &compensationScope{}
	comp.register("delete port", func(context.Context) error {
		runs++
		return nil
	})

	comp.runAll(t.Context())
	comp.runAll(t.Context())
	assert.DeepEqual(t, "number of runs", runs, 1)
}
