// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package openstack contains the gateway through which all communication
// with the OpenStack services (Keystone, Nova, Neutron, Cinder) happens.
// Each operation takes the Keystone token to act under; no tokens are
// cached here, except for the system token held by SystemTokenManager.
package openstack

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gophercloud/gophercloud"

	"github.com/sapcc/nimbus/internal/nimbus"
)

// Gateway executes requests against the OpenStack services on behalf of the
// rest of the application. All methods return *OpenStackError for unexpected
// upstream status codes.
type Gateway struct {
	endpoints  nimbus.ServiceEndpoints
	httpClient *http.Client
}

// NewGateway builds a Gateway for the configured service endpoints. All
// service clients share one HTTP client with a hard request timeout, so a
// hanging OpenStack service cannot pin API handlers forever.
func NewGateway(cfg nimbus.Configuration) *Gateway {
	return NewGatewayWithHTTPClient(cfg, &http.Client{Timeout: 30 * time.Second})
}

// NewGatewayWithHTTPClient is like NewGateway, but with a caller-supplied
// HTTP client. Tests use this to install their httpmock transport.
func NewGatewayWithHTTPClient(cfg nimbus.Configuration, client *http.Client) *Gateway {
	return &Gateway{
		endpoints:  cfg.Endpoints,
		httpClient: client,
	}
}

// serviceClient builds a throwaway gophercloud client for one request. We do
// not use gophercloud's own authentication flow: tokens are issued through
// IssueScopedToken and passed in explicitly, so the ProviderClient is just a
// carrier for the token and the shared HTTP client.
func (g *Gateway) serviceClient(ctx context.Context, token, endpoint string) *gophercloud.ServiceClient {
	provider := &gophercloud.ProviderClient{
		TokenID:    token,
		HTTPClient: *g.httpClient,
		Context:    ctx,
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return &gophercloud.ServiceClient{
		ProviderClient: provider,
		Endpoint:       endpoint,
	}
}

func (g *Gateway) identityClient(ctx context.Context, token string) *gophercloud.ServiceClient {
	return g.serviceClient(ctx, token, g.endpoints.Keystone)
}

func (g *Gateway) computeClient(ctx context.Context, token string) *gophercloud.ServiceClient {
	return g.serviceClient(ctx, token, g.endpoints.Nova)
}

func (g *Gateway) networkClient(ctx context.Context, token string) *gophercloud.ServiceClient {
	return g.serviceClient(ctx, token, g.endpoints.Neutron)
}

// blockStorageClient builds a client for the Cinder API, whose URLs are
// prefixed with the OpenStack ID of the project that owns the volumes.
func (g *Gateway) blockStorageClient(ctx context.Context, token, projectOpenStackID string) *gophercloud.ServiceClient {
	return g.serviceClient(ctx, token, g.endpoints.Cinder+"/"+projectOpenStackID)
}
