// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"context"

	"github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/layer3/floatingips"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/security/groups"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/security/rules"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/ports"
)

////////////////////////////////////////////////////////////////////////////////
// ports (the OpenStack representation of network interfaces)

// PortObservation is the subset of a Neutron port representation that we
// mirror into the network_interfaces table.
type PortObservation struct {
	OpenStackID      string
	FixedIPAddress   string
	SecurityGroupIDs []string
}

func observePort(port *ports.Port) PortObservation {
	obs := PortObservation{
		OpenStackID:      port.ID,
		SecurityGroupIDs: port.SecurityGroups,
	}
	if len(port.FixedIPs) > 0 {
		obs.FixedIPAddress = port.FixedIPs[0].IPAddress
	}
	return obs
}

// CreatePort creates a Neutron port on the given network with the given
// security groups applied. The port gets a fixed IP assigned by Neutron.
func (g *Gateway) CreatePort(ctx context.Context, token, networkOpenStackID string, securityGroupIDs []string) (PortObservation, error) {
	port, err := ports.Create(g.networkClient(ctx, token), ports.CreateOpts{
		NetworkID:      networkOpenStackID,
		SecurityGroups: &securityGroupIDs,
	}).Extract()
	if err != nil {
		return PortObservation{}, asOpenStackError(err)
	}
	return observePort(port), nil
}

// SetPortSecurityGroups replaces the set of security groups applied to a port.
func (g *Gateway) SetPortSecurityGroups(ctx context.Context, token, portOpenStackID string, securityGroupIDs []string) error {
	_, err := ports.Update(g.networkClient(ctx, token), portOpenStackID, ports.UpdateOpts{
		SecurityGroups: &securityGroupIDs,
	}).Extract()
	return asOpenStackError(err)
}

// DeletePort deletes a Neutron port.
func (g *Gateway) DeletePort(ctx context.Context, token, portOpenStackID string) error {
	err := ports.Delete(g.networkClient(ctx, token), portOpenStackID).ExtractErr()
	return asOpenStackError(err)
}

////////////////////////////////////////////////////////////////////////////////
// floating IPs

// FloatingIPObservation is the subset of a Neutron floating IP
// representation that we mirror into the floating_ips table.
type FloatingIPObservation struct {
	OpenStackID     string
	Address         string
	Status          string
	PortOpenStackID string // empty while detached
}

func observeFloatingIP(fip *floatingips.FloatingIP) FloatingIPObservation {
	return FloatingIPObservation{
		OpenStackID:     fip.ID,
		Address:         fip.FloatingIP,
		Status:          fip.Status,
		PortOpenStackID: fip.PortID,
	}
}

// CreateFloatingIP allocates a floating IP from the external network. The
// new floating IP starts out detached.
func (g *Gateway) CreateFloatingIP(ctx context.Context, token, floatingNetworkOpenStackID, projectOpenStackID string) (FloatingIPObservation, error) {
	fip, err := floatingips.Create(g.networkClient(ctx, token), floatingips.CreateOpts{
		FloatingNetworkID: floatingNetworkOpenStackID,
		ProjectID:         projectOpenStackID,
	}).Extract()
	if err != nil {
		return FloatingIPObservation{}, asOpenStackError(err)
	}
	return observeFloatingIP(fip), nil
}

// AttachFloatingIPToPort associates a floating IP with a port.
func (g *Gateway) AttachFloatingIPToPort(ctx context.Context, token, floatingIPOpenStackID, portOpenStackID string) (FloatingIPObservation, error) {
	fip, err := floatingips.Update(g.networkClient(ctx, token), floatingIPOpenStackID, floatingips.UpdateOpts{
		PortID: &portOpenStackID,
	}).Extract()
	if err != nil {
		return FloatingIPObservation{}, asOpenStackError(err)
	}
	return observeFloatingIP(fip), nil
}

// DetachFloatingIP disassociates a floating IP from whatever port it is
// attached to.
func (g *Gateway) DetachFloatingIP(ctx context.Context, token, floatingIPOpenStackID string) (FloatingIPObservation, error) {
	fip, err := floatingips.Update(g.networkClient(ctx, token), floatingIPOpenStackID, floatingips.UpdateOpts{
		PortID: new(string),
	}).Extract()
	if err != nil {
		return FloatingIPObservation{}, asOpenStackError(err)
	}
	return observeFloatingIP(fip), nil
}

// DeleteFloatingIP releases a floating IP back to the external network.
func (g *Gateway) DeleteFloatingIP(ctx context.Context, token, floatingIPOpenStackID string) error {
	err := floatingips.Delete(g.networkClient(ctx, token), floatingIPOpenStackID).ExtractErr()
	return asOpenStackError(err)
}

////////////////////////////////////////////////////////////////////////////////
// security groups

// CreateSecurityGroup creates a Neutron security group and returns its
// OpenStack ID. Neutron adds default egress rules to new groups on its own.
func (g *Gateway) CreateSecurityGroup(ctx context.Context, token, name, description, projectOpenStackID string) (string, error) {
	group, err := groups.Create(g.networkClient(ctx, token), groups.CreateOpts{
		Name:        name,
		Description: description,
		ProjectID:   projectOpenStackID,
	}).Extract()
	if err != nil {
		return "", asOpenStackError(err)
	}
	return group.ID, nil
}

// UpdateSecurityGroup changes the name and description of a security group.
func (g *Gateway) UpdateSecurityGroup(ctx context.Context, token, securityGroupOpenStackID, name, description string) error {
	_, err := groups.Update(g.networkClient(ctx, token), securityGroupOpenStackID, groups.UpdateOpts{
		Name:        name,
		Description: &description,
	}).Extract()
	return asOpenStackError(err)
}

// DeleteSecurityGroup deletes a Neutron security group.
func (g *Gateway) DeleteSecurityGroup(ctx context.Context, token, securityGroupOpenStackID string) error {
	err := groups.Delete(g.networkClient(ctx, token), securityGroupOpenStackID).ExtractErr()
	return asOpenStackError(err)
}

// SecurityGroupRule is our view of a Neutron security group rule. Rules are
// not mirrored into the database; they are read through from Neutron.
type SecurityGroupRule struct {
	OpenStackID    string `json:"id"`
	Direction      string `json:"direction"`
	EtherType      string `json:"ether_type"`
	Protocol       string `json:"protocol,omitempty"`
	PortRangeMin   int    `json:"port_range_min,omitempty"`
	PortRangeMax   int    `json:"port_range_max,omitempty"`
	RemoteIPPrefix string `json:"remote_ip_prefix,omitempty"`
}

func observeSecurityGroupRule(rule rules.SecGroupRule) SecurityGroupRule {
	return SecurityGroupRule{
		OpenStackID:    rule.ID,
		Direction:      rule.Direction,
		EtherType:      rule.EtherType,
		Protocol:       rule.Protocol,
		PortRangeMin:   rule.PortRangeMin,
		PortRangeMax:   rule.PortRangeMax,
		RemoteIPPrefix: rule.RemoteIPPrefix,
	}
}

// ListSecurityGroupRules lists all rules of a security group.
func (g *Gateway) ListSecurityGroupRules(ctx context.Context, token, securityGroupOpenStackID string) ([]SecurityGroupRule, error) {
	page, err := rules.List(g.networkClient(ctx, token), rules.ListOpts{
		SecGroupID: securityGroupOpenStackID,
	}).AllPages()
	if err != nil {
		return nil, asOpenStackError(err)
	}
	ruleList, err := rules.ExtractRules(page)
	if err != nil {
		return nil, asOpenStackError(err)
	}
	result := make([]SecurityGroupRule, len(ruleList))
	for idx, rule := range ruleList {
		result[idx] = observeSecurityGroupRule(rule)
	}
	return result, nil
}

// CreateSecurityGroupRule adds a rule to a security group and returns the
// full rule as Neutron stored it.
func (g *Gateway) CreateSecurityGroupRule(ctx context.Context, token, securityGroupOpenStackID string, rule SecurityGroupRule) (SecurityGroupRule, error) {
	created, err := rules.Create(g.networkClient(ctx, token), rules.CreateOpts{
		SecGroupID:     securityGroupOpenStackID,
		Direction:      rules.RuleDirection(rule.Direction),
		EtherType:      rules.RuleEtherType(rule.EtherType),
		Protocol:       rules.RuleProtocol(rule.Protocol),
		PortRangeMin:   rule.PortRangeMin,
		PortRangeMax:   rule.PortRangeMax,
		RemoteIPPrefix: rule.RemoteIPPrefix,
	}).Extract()
	if err != nil {
		return SecurityGroupRule{}, asOpenStackError(err)
	}
	return observeSecurityGroupRule(*created), nil
}

// DeleteSecurityGroupRule removes a rule from its security group.
func (g *Gateway) DeleteSecurityGroupRule(ctx context.Context, token, ruleOpenStackID string) error {
	err := rules.Delete(g.networkClient(ctx, token), ruleOpenStackID).ExtractErr()
	return asOpenStackError(err)
}
