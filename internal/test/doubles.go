// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"context"
	"testing"

	"github.com/sapcc/go-api-declarations/cadf"
	"github.com/sapcc/go-bits/audittools"
)

type deferredTask struct {
	Name string
	Run  func(ctx context.Context) error
}

// Deferrer is a test double for the processor.Deferrer interface. Unlike
// tasks.DeferredRunner, it does not spawn goroutines: deferred work is
// collected and runs only when the test calls RunPending. This makes the
// polling pipelines fully deterministic in tests.
type Deferrer struct {
	pending []deferredTask
}

// Defer implements the processor.Deferrer interface.
func (d *Deferrer) Defer(name string, fn func(ctx context.Context) error) {
	d.pending = append(d.pending, deferredTask{name, fn})
}

// PendingNames returns the names of all tasks that have not run yet.
func (d *Deferrer) PendingNames() []string {
	var names []string
	for _, task := range d.pending {
		names = append(names, task.Name)
	}
	return names
}

// RunPending executes all deferred tasks in enqueuing order, including tasks
// that get enqueued while running. The collected errors are returned for
// inspection; in production they would only be logged.
func (d *Deferrer) RunPending(ctx context.Context) []error {
	var errs []error
	for len(d.pending) > 0 {
		task := d.pending[0]
		d.pending = d.pending[1:]
		err := task.Run(ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// MustRunPending is like RunPending, but fails the test if any task errors.
func (d *Deferrer) MustRunPending(t *testing.T, ctx context.Context) {
	t.Helper()
	for _, err := range d.RunPending(ctx) {
		t.Errorf("deferred task failed: %s", err.Error())
	}
}

// Auditor is a test recorder that satisfies the nimbus.Auditor interface.
type Auditor struct {
	events []cadf.Event
}

// Record implements the nimbus.Auditor interface.
func (a *Auditor) Record(params audittools.EventParameters) {
	a.events = append(a.events, audittools.NewEvent(params))
}

// ExpectActions checks that events with exactly the given actions and target
// type URIs were recorded since the last call, then resets the recording.
func (a *Auditor) ExpectActions(t *testing.T, expected ...string) {
	t.Helper()
	var actual []string
	for _, event := range a.events {
		actual = append(actual, string(event.Action)+" "+event.Target.TypeURI)
	}
	if len(actual) != len(expected) {
		t.Errorf("expected audit events %v, but got %v", expected, actual)
	} else {
		for idx, line := range expected {
			if actual[idx] != line {
				t.Errorf("expected audit events %v, but got %v", expected, actual)
				break
			}
		}
	}
	a.events = nil
}

// IgnoreEvents resets the recording without checking anything.
func (a *Auditor) IgnoreEvents() {
	a.events = nil
}
