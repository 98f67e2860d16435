// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package processor contains the orchestration logic of nimbus: the
// resource services that coordinate between the OpenStack gateway and the
// local mirror database, including saga-style compensation and the polling
// loops for async OpenStack operations.
package processor

import (
	"context"
	"errors"
	"time"

	"github.com/go-gorp/gorp/v3"

	"github.com/sapcc/nimbus/internal/nimbus"
	"github.com/sapcc/nimbus/internal/openstack"
)

// Deferrer schedules work to run after the current HTTP response has been
// sent. The production implementation is tasks.DeferredRunner; tests use a
// synchronous double.
type Deferrer interface {
	// Defer enqueues the given function. Its error is logged, never
	// propagated; the context is the runner's, not the request's, so
	// client disconnects do not cancel enqueued work.
	Defer(name string, fn func(ctx context.Context) error)
}

// Processor implements the resource services of the nimbus API.
type Processor struct {
	cfg      nimbus.Configuration
	db       *nimbus.DB
	gateway  *openstack.Gateway
	tokens   *openstack.SystemTokenManager
	deferrer Deferrer

	// dependency injection slots (usually filled by New(), overridden in tests)
	timeNow func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Processor.
func New(cfg nimbus.Configuration, db *nimbus.DB, gateway *openstack.Gateway, tokens *openstack.SystemTokenManager, deferrer Deferrer) *Processor {
	return &Processor{cfg, db, gateway, tokens, deferrer, time.Now, sleepWithContext}
}

// OverrideTimeNow replaces time.Now with a test double. For use in tests only.
func (p *Processor) OverrideTimeNow(timeNow func() time.Time) *Processor {
	p.timeNow = timeNow
	return p
}

// OverrideSleep replaces the polling sleep with a test double. For use in
// tests only.
func (p *Processor) OverrideSleep(sleep func(ctx context.Context, d time.Duration) error) *Processor {
	p.sleep = sleep
	return p
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// systemToken returns the current system Keystone token. All polling loops
// and platform-level Keystone operations use this token instead of the
// user's, since the user's token may expire while an operation is running.
func (p *Processor) systemToken() (string, error) {
	return p.tokens.Get(p.timeNow())
}

// inUnitOfWork runs the action inside a database transaction with an open
// compensation scope. The transaction is the unit of work of the whole
// operation: nothing inside the action commits on its own. When the action
// fails, the transaction is rolled back first and then the registered
// compensations run in LIFO order, so the mirror never keeps rows for
// OpenStack resources that the compensations are about to remove.
func (p *Processor) inUnitOfWork(ctx context.Context, action func(tx *gorp.Transaction, comp *compensationScope) error) error {
	comp := &compensationScope{}
	err := nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		return action(tx, comp)
	})
	if err != nil {
		comp.runAll(ctx)
		return err
	}
	return nil
}

// wrapOpenStackError converts a Gateway error into the generic OPEN_STACK
// API error. Callers that want to branch on specific upstream statuses
// (404, 409) must do so before calling this. The upstream response body
// never reaches API clients.
func wrapOpenStackError(err error) error {
	var osErr *openstack.OpenStackError
	if errors.As(err, &osErr) {
		return nimbus.ErrOpenStack.With("openstack returned status %d", osErr.Status)
	}
	return err
}
