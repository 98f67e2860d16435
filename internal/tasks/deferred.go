// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package tasks contains the background workers of nimbus: the deferred
// work runner that drives polling after HTTP responses are sent, and the
// system token refresh job.
package tasks

import (
	"context"
	"sync"

	"github.com/sapcc/go-bits/logg"
)

// DeferredRunner executes follow-up work after the HTTP response for the
// triggering request has been sent. Each deferred function runs in its own
// goroutine on the runner's base context, so a client disconnect does not
// cancel polling that was already enqueued. Errors are logged and never
// propagated; deferred functions are idempotent, so a failed poll leaves
// the entity in a state that a later reconciliation can pick up.
type DeferredRunner struct {
	ctx context.Context
	wg  sync.WaitGroup
}

// NewDeferredRunner builds a DeferredRunner. The given context is the base
// context for all deferred work; canceling it (at process shutdown) stops
// in-flight polls at their next suspension point.
func NewDeferredRunner(ctx context.Context) *DeferredRunner {
	return &DeferredRunner{ctx: ctx}
}

// Defer implements the processor.Deferrer interface.
func (r *DeferredRunner) Defer(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		logg.Debug("deferred task starting: %s", name)
		err := fn(r.ctx)
		if err != nil {
			logg.Error("deferred task failed (%s): %s", name, err.Error())
		}
	}()
}

// Wait blocks until all currently enqueued deferred work has finished. For
// use during graceful shutdown, after the base context was canceled.
func (r *DeferredRunner) Wait() {
	r.wg.Wait()
}
