// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"

	"github.com/go-gorp/gorp/v3"

	"github.com/sapcc/nimbus/internal/models"
	"github.com/sapcc/nimbus/internal/nimbus"
)

// NetworkInterfaceDetails combines a network interface with the security
// groups applied to it and the floating IPs attached to it.
type NetworkInterfaceDetails struct {
	NetworkInterface models.NetworkInterface
	SecurityGroups   []models.SecurityGroup
	FloatingIPs      []models.FloatingIP
}

// ListNetworkInterfaces returns the active network interfaces of a server
// in the current project. Network interfaces only exist as part of a
// server; they are created and deleted through the server lifecycle.
func (p *Processor) ListNetworkInterfaces(currentUser nimbus.CurrentUser, serverID int64) ([]models.NetworkInterface, error) {
	server, err := p.findProjectServer(&p.db.DbMap, currentUser, serverID)
	if err != nil {
		return nil, err
	}
	return nimbus.FindNetworkInterfacesOfServer(&p.db.DbMap, server.ID)
}

// GetNetworkInterface returns one network interface of the current project
// with its security groups and floating IPs.
func (p *Processor) GetNetworkInterface(ctx context.Context, currentUser nimbus.CurrentUser, id int64) (NetworkInterfaceDetails, error) {
	networkInterface, err := p.findProjectNetworkInterface(&p.db.DbMap, currentUser, id)
	if err != nil {
		return NetworkInterfaceDetails{}, err
	}
	securityGroups, err := nimbus.FindSecurityGroupsOfNetworkInterface(&p.db.DbMap, networkInterface.ID)
	if err != nil {
		return NetworkInterfaceDetails{}, err
	}
	fips, err := nimbus.FindFloatingIPsOfNetworkInterface(&p.db.DbMap, networkInterface.ID)
	if err != nil {
		return NetworkInterfaceDetails{}, err
	}
	return NetworkInterfaceDetails{
		NetworkInterface: *networkInterface,
		SecurityGroups:   securityGroups,
		FloatingIPs:      fips,
	}, nil
}

func (p *Processor) findProjectNetworkInterface(dbi gorp.SqlExecutor, currentUser nimbus.CurrentUser, id int64) (*models.NetworkInterface, error) {
	networkInterface, err := nimbus.FindNetworkInterfaceByID(dbi, id)
	if err != nil {
		return nil, err
	}
	if networkInterface == nil || networkInterface.ProjectID != currentUser.ProjectID {
		return nil, nimbus.ErrNetworkInterfaceNotFound.With("no such network interface")
	}
	return networkInterface, nil
}

// SetNetworkInterfaceSecurityGroups replaces the set of security groups
// applied to a network interface, in Neutron and in the join table.
func (p *Processor) SetNetworkInterfaceSecurityGroups(ctx context.Context, currentUser nimbus.CurrentUser, id int64, securityGroupIDs []int64) error {
	return p.inUnitOfWork(ctx, func(tx *gorp.Transaction, comp *compensationScope) error {
		networkInterface, err := p.findProjectNetworkInterface(tx, currentUser, id)
		if err != nil {
			return err
		}

		groups, err := nimbus.FindSecurityGroups(tx, nimbus.SecurityGroupFilter{
			IDs:       securityGroupIDs,
			ProjectID: &currentUser.ProjectID,
		})
		if err != nil {
			return err
		}
		if len(groups) != len(securityGroupIDs) {
			return nimbus.ErrSecurityGroupNotFound.With("no such security group")
		}

		oldGroups, err := nimbus.FindSecurityGroupsOfNetworkInterface(tx, networkInterface.ID)
		if err != nil {
			return err
		}
		oldOpenStackIDs := make([]string, len(oldGroups))
		for idx, group := range oldGroups {
			oldOpenStackIDs[idx] = group.OpenStackID
		}
		newOpenStackIDs := make([]string, len(groups))
		for idx, group := range groups {
			newOpenStackIDs[idx] = group.OpenStackID
		}

		err = p.gateway.SetPortSecurityGroups(ctx, currentUser.KeystoneToken, networkInterface.OpenStackID, newOpenStackIDs)
		if err != nil {
			return wrapOpenStackError(err)
		}
		comp.register("restore security groups on neutron port "+networkInterface.OpenStackID, func(ctx context.Context) error {
			return p.gateway.SetPortSecurityGroups(ctx, currentUser.KeystoneToken, networkInterface.OpenStackID, oldOpenStackIDs)
		})

		_, err = tx.Exec(`DELETE FROM network_interface_security_groups WHERE network_interface_id = $1`, networkInterface.ID)
		if err != nil {
			return err
		}
		for _, group := range groups {
			err = tx.Insert(&models.NetworkInterfaceSecurityGroup{
				NetworkInterfaceID: networkInterface.ID,
				SecurityGroupID:    group.ID,
			})
			if err != nil {
				return err
			}
		}

		networkInterface.UpdatedAt = p.timeNow()
		_, err = tx.Update(networkInterface)
		return err
	})
}
