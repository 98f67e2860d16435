// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"net/http"

	"github.com/go-gorp/gorp/v3"

	"github.com/sapcc/nimbus/internal/models"
	"github.com/sapcc/nimbus/internal/nimbus"
	"github.com/sapcc/nimbus/internal/openstack"
)

// ListSecurityGroups returns the active security groups of the current
// project.
func (p *Processor) ListSecurityGroups(currentUser nimbus.CurrentUser, nameLike string) ([]models.SecurityGroup, error) {
	return nimbus.FindSecurityGroups(&p.db.DbMap, nimbus.SecurityGroupFilter{
		ProjectID: &currentUser.ProjectID,
		NameLike:  nameLike,
	})
}

// SecurityGroupWithRules combines the mirrored security group with its
// rules. Rules are never mirrored; they come straight from Neutron.
type SecurityGroupWithRules struct {
	SecurityGroup models.SecurityGroup
	Rules         []openstack.SecurityGroupRule
}

// GetSecurityGroup returns one security group of the current project,
// including its rules as currently known to Neutron.
func (p *Processor) GetSecurityGroup(ctx context.Context, currentUser nimbus.CurrentUser, id int64) (SecurityGroupWithRules, error) {
	group, err := p.findProjectSecurityGroup(&p.db.DbMap, currentUser, id)
	if err != nil {
		return SecurityGroupWithRules{}, err
	}
	rules, err := p.gateway.ListSecurityGroupRules(ctx, currentUser.KeystoneToken, group.OpenStackID)
	if err != nil {
		return SecurityGroupWithRules{}, wrapOpenStackError(err)
	}
	return SecurityGroupWithRules{SecurityGroup: *group, Rules: rules}, nil
}

func (p *Processor) findProjectSecurityGroup(dbi gorp.SqlExecutor, currentUser nimbus.CurrentUser, id int64) (*models.SecurityGroup, error) {
	group, err := nimbus.FindSecurityGroupByID(dbi, id)
	if err != nil {
		return nil, err
	}
	if group == nil || group.ProjectID != currentUser.ProjectID {
		return nil, nimbus.ErrSecurityGroupNotFound.With("no such security group")
	}
	return group, nil
}

// CreateSecurityGroup creates a security group in Neutron and mirrors it
// locally.
func (p *Processor) CreateSecurityGroup(ctx context.Context, currentUser nimbus.CurrentUser, name, description string) (models.SecurityGroup, error) {
	var group models.SecurityGroup
	err := p.inUnitOfWork(ctx, func(tx *gorp.Transaction, comp *compensationScope) error {
		exists, err := nimbus.SecurityGroupExistsWithName(tx, currentUser.ProjectID, name, 0)
		if err != nil {
			return err
		}
		if exists {
			return nimbus.ErrSecurityGroupDuplicate.With("a security group with this name already exists")
		}

		groupOpenStackID, err := p.gateway.CreateSecurityGroup(ctx, currentUser.KeystoneToken, name, description, currentUser.ProjectOpenStackID)
		if err != nil {
			return wrapOpenStackError(err)
		}
		comp.register("delete neutron security group "+groupOpenStackID, func(ctx context.Context) error {
			return p.gateway.DeleteSecurityGroup(ctx, currentUser.KeystoneToken, groupOpenStackID)
		})

		now := p.timeNow()
		group = models.SecurityGroup{
			ProjectID:       currentUser.ProjectID,
			OpenStackID:     groupOpenStackID,
			Name:            name,
			Description:     description,
			LifecycleStatus: models.LifecycleActive,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return tx.Insert(&group)
	})
	return group, err
}

// UpdateSecurityGroup changes name and description, in the mirror and in
// Neutron. Like project renames, this is guarded by the optimistic-locking
// version column.
func (p *Processor) UpdateSecurityGroup(ctx context.Context, currentUser nimbus.CurrentUser, id int64, name, description string) (models.SecurityGroup, error) {
	var group models.SecurityGroup
	err := withOptimisticLockRetry(func() error {
		return p.inUnitOfWork(ctx, func(tx *gorp.Transaction, comp *compensationScope) error {
			groupPtr, err := p.findProjectSecurityGroup(tx, currentUser, id)
			if err != nil {
				return err
			}
			if groupPtr.Name == name && groupPtr.Description == description {
				group = *groupPtr
				return nil
			}

			if groupPtr.Name != name {
				exists, err := nimbus.SecurityGroupExistsWithName(tx, currentUser.ProjectID, name, groupPtr.ID)
				if err != nil {
					return err
				}
				if exists {
					return nimbus.ErrSecurityGroupDuplicate.With("a security group with this name already exists")
				}
			}

			oldName, oldDescription := groupPtr.Name, groupPtr.Description
			groupPtr.Update(name, description, p.timeNow())
			err = nimbus.UpdateWithOptimisticLock(tx, groupPtr)
			if err != nil {
				return err
			}

			err = p.gateway.UpdateSecurityGroup(ctx, currentUser.KeystoneToken, groupPtr.OpenStackID, name, description)
			if err != nil {
				return wrapOpenStackError(err)
			}
			comp.register("restore neutron security group "+groupPtr.OpenStackID, func(ctx context.Context) error {
				return p.gateway.UpdateSecurityGroup(ctx, currentUser.KeystoneToken, groupPtr.OpenStackID, oldName, oldDescription)
			})

			group = *groupPtr
			return nil
		})
	})
	return group, err
}

// DeleteSecurityGroup deletes a security group from Neutron and soft-deletes
// the mirror row. Groups that are still applied to a network interface
// cannot be deleted.
func (p *Processor) DeleteSecurityGroup(ctx context.Context, currentUser nimbus.CurrentUser, id int64) error {
	return nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		group, err := p.findProjectSecurityGroup(tx, currentUser, id)
		if err != nil {
			return err
		}

		boundCount, err := nimbus.CountNetworkInterfacesBoundToSecurityGroup(tx, group.ID)
		if err != nil {
			return err
		}
		if boundCount > 0 {
			return nimbus.ErrSecurityGroupInUse.With("security group is applied to %d network interface(s)", boundCount)
		}

		err = p.gateway.DeleteSecurityGroup(ctx, currentUser.KeystoneToken, group.OpenStackID)
		if err != nil && !openstack.IsNotFound(err) {
			return wrapOpenStackError(err)
		}

		group.MarkDeleted(p.timeNow())
		_, err = tx.Update(group)
		return err
	})
}

// CreateSecurityGroupRule adds a rule to a security group. The rule goes
// straight to Neutron; nothing is mirrored.
func (p *Processor) CreateSecurityGroupRule(ctx context.Context, currentUser nimbus.CurrentUser, groupID int64, rule openstack.SecurityGroupRule) (openstack.SecurityGroupRule, error) {
	group, err := p.findProjectSecurityGroup(&p.db.DbMap, currentUser, groupID)
	if err != nil {
		return openstack.SecurityGroupRule{}, err
	}
	created, err := p.gateway.CreateSecurityGroupRule(ctx, currentUser.KeystoneToken, group.OpenStackID, rule)
	if err != nil {
		if openstack.IsStatus(err, http.StatusConflict) {
			return openstack.SecurityGroupRule{}, nimbus.ErrSecurityGroupRuleDuplicate.With("an equivalent rule already exists")
		}
		return openstack.SecurityGroupRule{}, wrapOpenStackError(err)
	}
	return created, nil
}

// DeleteSecurityGroupRule removes a rule from a security group. The rule
// must belong to the given group; this is checked against Neutron since
// rules are not mirrored.
func (p *Processor) DeleteSecurityGroupRule(ctx context.Context, currentUser nimbus.CurrentUser, groupID int64, ruleOpenStackID string) error {
	group, err := p.findProjectSecurityGroup(&p.db.DbMap, currentUser, groupID)
	if err != nil {
		return err
	}

	rules, err := p.gateway.ListSecurityGroupRules(ctx, currentUser.KeystoneToken, group.OpenStackID)
	if err != nil {
		return wrapOpenStackError(err)
	}
	found := false
	for _, rule := range rules {
		if rule.OpenStackID == ruleOpenStackID {
			found = true
			break
		}
	}
	if !found {
		return nimbus.ErrSecurityGroupRuleNotFound.With("no such rule in this security group")
	}

	err = p.gateway.DeleteSecurityGroupRule(ctx, currentUser.KeystoneToken, ruleOpenStackID)
	if err != nil && !openstack.IsNotFound(err) {
		return wrapOpenStackError(err)
	}
	return nil
}
