// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package nimbus

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
)

// Configuration contains all configuration values for the nimbus-api
// process. It is filled from environment variables by ParseConfiguration.
type Configuration struct {
	Endpoints ServiceEndpoints

	// credentials of the privileged cloud-admin user (used for the system
	// token and for all platform-level Keystone operations)
	CloudAdminUserID    string
	CloudAdminPassword  string
	CloudAdminProjectID string

	// identifiers of well-known OpenStack objects that all tenants share
	DefaultDomainID          int64
	DefaultDomainOpenStackID string
	DefaultRoleOpenStackID   string
	DefaultNetworkID         string
	FloatingIPNetworkID      string

	JWTSecret           []byte
	AccessTokenDuration time.Duration

	SystemTokenRefreshInterval time.Duration
	Poll                       PollConfigSet
}

// ServiceEndpoints contains the base URLs of the OpenStack services that we
// orchestrate. They are derived from OPENSTACK_SERVER_URL plus the
// respective port variables.
type ServiceEndpoints struct {
	Keystone string // ".../v3"
	Nova     string // ".../v2.1"
	Neutron  string // ".../v2.0"
	Cinder   string // ".../v3" (project ID gets appended per request)
}

// PollConfig is the polling budget for one async OpenStack operation.
type PollConfig struct {
	MaxAttempts int
	Interval    time.Duration
}

// PollConfigSet contains the polling budgets for all async OpenStack
// operations, keyed by the respective *_FOR_* environment variables.
type PollConfigSet struct {
	VolumeCreation     PollConfig
	VolumeDeletion     PollConfig
	VolumeResizing     PollConfig
	VolumeAttachment   PollConfig
	VolumeDetachment   PollConfig
	ServerCreation     PollConfig
	ServerStatusUpdate PollConfig
	ServerDeletion     PollConfig
}

// GetDatabaseURLFromEnvironment reads the DATABASE_* environment variables.
func GetDatabaseURLFromEnvironment() (dbURL url.URL, dbName string) {
	dbName = osext.GetenvOrDefault("DATABASE_NAME", "nimbus")
	return must.Return(easypg.URLFrom(easypg.URLParts{
		HostName:     osext.GetenvOrDefault("DATABASE_HOST", "localhost"),
		Port:         osext.GetenvOrDefault("DATABASE_PORT", "5432"),
		UserName:     osext.MustGetenv("DATABASE_USERNAME"),
		Password:     os.Getenv("DATABASE_PASSWORD"),
		DatabaseName: dbName,
	})), dbName
}

// ParseConfiguration obtains a nimbus.Configuration instance from the
// corresponding environment variables. Aborts on error.
func ParseConfiguration() Configuration {
	logg.Debug("parsing configuration...")

	serverURL := osext.MustGetenv("OPENSTACK_SERVER_URL")
	endpointFor := func(portVar, pathSuffix string) string {
		return fmt.Sprintf("%s:%d%s", serverURL, mustGetenvInt(portVar), pathSuffix)
	}

	cfg := Configuration{
		Endpoints: ServiceEndpoints{
			Keystone: endpointFor("KEYSTONE_PORT", "/v3"),
			Nova:     endpointFor("NOVA_PORT", "/v2.1"),
			Neutron:  endpointFor("NEUTRON_PORT", "/v2.0"),
			Cinder:   endpointFor("CINDER_PORT", "/v3"),
		},
		CloudAdminUserID:         osext.MustGetenv("CLOUD_ADMIN_OPENSTACK_ID"),
		CloudAdminPassword:       osext.MustGetenv("CLOUD_ADMIN_PASSWORD"),
		CloudAdminProjectID:      osext.MustGetenv("CLOUD_ADMIN_DEFAULT_PROJECT_OPENSTACK_ID"),
		DefaultDomainID:          mustGetenvInt64("DEFAULT_DOMAIN_ID"),
		DefaultDomainOpenStackID: osext.MustGetenv("DEFAULT_DOMAIN_OPENSTACK_ID"),
		DefaultRoleOpenStackID:   osext.MustGetenv("DEFAULT_ROLE_OPENSTACK_ID"),
		DefaultNetworkID:         osext.MustGetenv("DEFAULT_NETWORK_OPENSTACK_ID"),
		FloatingIPNetworkID:      osext.MustGetenv("FLOATING_IP_NETWORK_OPENSTACK_ID"),
		JWTSecret:                []byte(osext.MustGetenv("JWT_SECRET")),
		AccessTokenDuration:      time.Duration(mustGetenvInt("ACCESS_TOKEN_DURATION_MINUTES")) * time.Minute,

		SystemTokenRefreshInterval: time.Duration(mustGetenvInt("REFRESH_INTERVAL_SECONDS_FOR_SYSTEM_KEYSTONE_TOKEN")) * time.Second,
		Poll: PollConfigSet{
			VolumeCreation:     pollConfigFromEnv("VOLUME_CREATION"),
			VolumeDeletion:     pollConfigFromEnv("VOLUME_DELETION"),
			VolumeResizing:     pollConfigFromEnv("VOLUME_RESIZING"),
			VolumeAttachment:   pollConfigFromEnv("VOLUME_ATTACHMENT"),
			VolumeDetachment:   pollConfigFromEnv("VOLUME_DETACHMENT"),
			ServerCreation:     pollConfigFromEnv("SERVER_CREATION"),
			ServerStatusUpdate: pollConfigFromEnv("SERVER_STATUS_UPDATE"),
			ServerDeletion:     pollConfigFromEnv("SERVER_DELETION"),
		},
	}

	if len(cfg.JWTSecret) < 32 {
		logg.Fatal("JWT_SECRET must be at least 32 bytes long")
	}
	return cfg
}

func pollConfigFromEnv(operation string) PollConfig {
	return PollConfig{
		MaxAttempts: mustGetenvInt("MAX_SYNC_ATTEMPTS_FOR_" + operation),
		Interval:    time.Duration(mustGetenvInt("CHECK_INTERVAL_SECONDS_FOR_"+operation)) * time.Second,
	}
}

func mustGetenvInt(key string) int {
	val, err := strconv.Atoi(osext.MustGetenv(key))
	if err != nil || val <= 0 {
		logg.Fatal("malformed %s: expected a positive integer", key)
	}
	return val
}

func mustGetenvInt64(key string) int64 {
	val, err := strconv.ParseInt(osext.MustGetenv(key), 10, 64)
	if err != nil || val <= 0 {
		logg.Fatal("malformed %s: expected a positive integer", key)
	}
	return val
}
