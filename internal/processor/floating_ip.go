// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"

	"github.com/go-gorp/gorp/v3"

	"github.com/sapcc/nimbus/internal/models"
	"github.com/sapcc/nimbus/internal/nimbus"
	"github.com/sapcc/nimbus/internal/openstack"
)

// ListFloatingIPs returns the active floating IPs of the current project.
func (p *Processor) ListFloatingIPs(currentUser nimbus.CurrentUser) ([]models.FloatingIP, error) {
	return nimbus.FindFloatingIPs(&p.db.DbMap, nimbus.FloatingIPFilter{
		ProjectID: &currentUser.ProjectID,
	})
}

// GetFloatingIP returns one floating IP of the current project.
func (p *Processor) GetFloatingIP(currentUser nimbus.CurrentUser, id int64) (models.FloatingIP, error) {
	fip, err := p.findProjectFloatingIP(&p.db.DbMap, currentUser, id)
	if err != nil {
		return models.FloatingIP{}, err
	}
	return *fip, nil
}

func (p *Processor) findProjectFloatingIP(dbi gorp.SqlExecutor, currentUser nimbus.CurrentUser, id int64) (*models.FloatingIP, error) {
	fip, err := nimbus.FindFloatingIPByID(dbi, id)
	if err != nil {
		return nil, err
	}
	if fip == nil || fip.ProjectID != currentUser.ProjectID {
		return nil, nimbus.ErrFloatingIPNotFound.With("no such floating ip")
	}
	return fip, nil
}

// CreateFloatingIP allocates a floating IP from the external network and
// mirrors it locally. It starts out detached (status DOWN).
func (p *Processor) CreateFloatingIP(ctx context.Context, currentUser nimbus.CurrentUser) (models.FloatingIP, error) {
	var fip models.FloatingIP
	err := p.inUnitOfWork(ctx, func(tx *gorp.Transaction, comp *compensationScope) error {
		obs, err := p.gateway.CreateFloatingIP(ctx, currentUser.KeystoneToken, p.cfg.FloatingIPNetworkID, currentUser.ProjectOpenStackID)
		if err != nil {
			return wrapOpenStackError(err)
		}
		comp.register("delete neutron floating ip "+obs.OpenStackID, func(ctx context.Context) error {
			return p.gateway.DeleteFloatingIP(ctx, currentUser.KeystoneToken, obs.OpenStackID)
		})

		now := p.timeNow()
		fip = models.FloatingIP{
			ProjectID:       currentUser.ProjectID,
			OpenStackID:     obs.OpenStackID,
			Address:         obs.Address,
			Status:          models.FloatingIPStatusDown,
			LifecycleStatus: models.LifecycleActive,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return tx.Insert(&fip)
	})
	return fip, err
}

// DeleteFloatingIP releases a floating IP. Attached floating IPs must be
// detached first.
func (p *Processor) DeleteFloatingIP(ctx context.Context, currentUser nimbus.CurrentUser, id int64) error {
	return nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		fip, err := p.findProjectFloatingIP(tx, currentUser, id)
		if err != nil {
			return err
		}
		if fip.NetworkInterfaceID != nil {
			return nimbus.ErrFloatingIPNotDeletable.With("floating ip is attached to a network interface")
		}

		err = p.gateway.DeleteFloatingIP(ctx, currentUser.KeystoneToken, fip.OpenStackID)
		if err != nil && !openstack.IsNotFound(err) {
			return wrapOpenStackError(err)
		}

		fip.MarkDeleted(p.timeNow())
		_, err = tx.Update(fip)
		return err
	})
}

// AttachFloatingIP associates a floating IP with a network interface. A
// floating IP can be attached to at most one interface; attach attempts on
// an attached floating IP fail before any Neutron call is made.
func (p *Processor) AttachFloatingIP(ctx context.Context, currentUser nimbus.CurrentUser, networkInterfaceID, floatingIPID int64) error {
	return p.inUnitOfWork(ctx, func(tx *gorp.Transaction, comp *compensationScope) error {
		networkInterface, err := p.findProjectNetworkInterface(tx, currentUser, networkInterfaceID)
		if err != nil {
			return err
		}
		fip, err := p.findProjectFloatingIP(tx, currentUser, floatingIPID)
		if err != nil {
			return err
		}
		if fip.NetworkInterfaceID != nil {
			return nimbus.ErrFloatingIPAlreadyAttached.With("floating ip is already attached to a network interface")
		}

		_, err = p.gateway.AttachFloatingIPToPort(ctx, currentUser.KeystoneToken, fip.OpenStackID, networkInterface.OpenStackID)
		if err != nil {
			return wrapOpenStackError(err)
		}
		comp.register("detach neutron floating ip "+fip.OpenStackID, func(ctx context.Context) error {
			_, err := p.gateway.DetachFloatingIP(ctx, currentUser.KeystoneToken, fip.OpenStackID)
			return err
		})

		fip.AttachToNetworkInterface(networkInterface.ID, p.timeNow())
		_, err = tx.Update(fip)
		return err
	})
}

// DetachFloatingIP disassociates a floating IP from a network interface.
func (p *Processor) DetachFloatingIP(ctx context.Context, currentUser nimbus.CurrentUser, networkInterfaceID, floatingIPID int64) error {
	return nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		networkInterface, err := p.findProjectNetworkInterface(tx, currentUser, networkInterfaceID)
		if err != nil {
			return err
		}
		fip, err := p.findProjectFloatingIP(tx, currentUser, floatingIPID)
		if err != nil {
			return err
		}
		if fip.NetworkInterfaceID == nil || *fip.NetworkInterfaceID != networkInterface.ID {
			return nimbus.ErrFloatingIPNotAttached.With("floating ip is not attached to this network interface")
		}

		_, err = p.gateway.DetachFloatingIP(ctx, currentUser.KeystoneToken, fip.OpenStackID)
		if err != nil && !openstack.IsNotFound(err) {
			return wrapOpenStackError(err)
		}

		fip.DetachFromNetworkInterface(p.timeNow())
		_, err = tx.Update(fip)
		return err
	})
}
