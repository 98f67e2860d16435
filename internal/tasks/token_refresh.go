// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"

	"github.com/sapcc/nimbus/internal/nimbus"
	"github.com/sapcc/nimbus/internal/openstack"
)

// SystemTokenRefreshJob returns a job that periodically refreshes the
// system Keystone token. The first refresh happens synchronously at
// startup (see cmd/api); this job only keeps the token fresh afterwards.
// A failed refresh is counted and logged by the jobloop, and the previous
// token stays usable until its own expiry.
func SystemTokenRefreshJob(cfg nimbus.Configuration, tokens *openstack.SystemTokenManager, registerer prometheus.Registerer) jobloop.Job {
	return (jobloop.CronJob{
		Metadata: jobloop.JobMetadata{
			ReadableName: "refresh system keystone token",
			CounterOpts: prometheus.CounterOpts{
				Name: "nimbus_system_token_refreshes",
				Help: "Counter for refreshes of the system keystone token.",
			},
		},
		Interval: cfg.SystemTokenRefreshInterval,
		Task: func(ctx context.Context, _ prometheus.Labels) error {
			return tokens.Refresh(ctx)
		},
	}).Setup(registerer)
}
