// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package apicmd

import (
	"net/http"
	"time"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
	"github.com/spf13/cobra"

	nimbusv1 "github.com/sapcc/nimbus/internal/api/v1"
	"github.com/sapcc/nimbus/internal/nimbus"
	"github.com/sapcc/nimbus/internal/openstack"
	"github.com/sapcc/nimbus/internal/processor"
	"github.com/sapcc/nimbus/internal/tasks"
)

// AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Run the nimbus API server.",
		Long:  "Run the nimbus API server. Configuration is read from environment variables.",
		Args:  cobra.NoArgs,
		Run:   run,
	}
	parent.AddCommand(cmd)
}

func run(cmd *cobra.Command, args []string) {
	_, _ = cmd, args

	cfg := nimbus.ParseConfiguration()
	ctx := httpext.ContextWithSIGINT(cmd.Context(), 10*time.Second)

	dbURL, dbName := nimbus.GetDatabaseURLFromEnvironment()
	dbConn := must.Return(easypg.Connect(dbURL, nimbus.DBConfiguration()))
	prometheus.MustRegister(sqlstats.NewStatsCollector(dbName, dbConn))
	db := nimbus.InitORM(dbConn)

	gateway := openstack.NewGateway(cfg)
	tokens := openstack.NewSystemTokenManager(cfg, gateway)
	// the API cannot serve without a system token, so the first issuance is
	// synchronous and fatal on error
	must.Succeed(tokens.Refresh(ctx))
	go tasks.SystemTokenRefreshJob(cfg, tokens, prometheus.DefaultRegisterer).Run(ctx, jobloop.NumGoroutines(1))

	runner := tasks.NewDeferredRunner(ctx)
	proc := processor.New(cfg, db, gateway, tokens, runner)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"HEAD", "GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "User-Agent", "Authorization"},
	})
	handler := httpapi.Compose(
		nimbusv1.NewAPI(cfg, proc, nimbus.LogAuditor{}),
		httpapi.HealthCheckAPI{
			SkipRequestLog: true,
			Check: func() error {
				return db.Db.PingContext(ctx)
			},
		},
		httpapi.WithGlobalMiddleware(corsMiddleware.Handler),
	)
	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", promhttp.Handler())

	apiListenAddress := osext.GetenvOrDefault("NIMBUS_API_LISTEN_ADDRESS", ":8080")
	must.Succeed(httpext.ListenAndServeContext(ctx, apiListenAddress, mux))

	// the listener has shut down; let in-flight polls finish before exiting
	runner.Wait()
}
