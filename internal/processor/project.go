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

// ListProjects returns the active projects that the current user is joined to.
func (p *Processor) ListProjects(currentUser nimbus.CurrentUser) ([]models.Project, error) {
	return nimbus.FindProjectsOfUser(&p.db.DbMap, currentUser.UserID)
}

// GetProject returns one project. Projects that the current user is not
// joined to are reported as nonexistent.
func (p *Processor) GetProject(currentUser nimbus.CurrentUser, id int64) (models.Project, error) {
	project, err := p.findAccessibleProject(&p.db.DbMap, currentUser, id)
	if err != nil {
		return models.Project{}, err
	}
	return *project, nil
}

func (p *Processor) findAccessibleProject(dbi gorp.SqlExecutor, currentUser nimbus.CurrentUser, id int64) (*models.Project, error) {
	project, err := nimbus.FindProjectByID(dbi, id)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, nimbus.ErrProjectNotFound.With("no such project")
	}
	joined, err := nimbus.IsUserJoinedToProject(dbi, project.ID, currentUser.UserID)
	if err != nil {
		return nil, err
	}
	if !joined {
		return nil, nimbus.ErrProjectNotFound.With("no such project")
	}
	return project, nil
}

// UpdateProject renames a project, in the mirror and in Keystone. The
// rename is guarded by the optimistic-locking version column; concurrent
// renames retry and eventually surface as OPTIMISTIC_LOCK_CONFLICT.
func (p *Processor) UpdateProject(ctx context.Context, currentUser nimbus.CurrentUser, id int64, name string) (models.Project, error) {
	var project models.Project
	err := withOptimisticLockRetry(func() error {
		return p.inUnitOfWork(ctx, func(tx *gorp.Transaction, comp *compensationScope) error {
			projectPtr, err := p.findAccessibleProject(tx, currentUser, id)
			if err != nil {
				return err
			}
			if projectPtr.Name == name {
				project = *projectPtr
				return nil
			}

			exists, err := nimbus.ProjectExistsWithName(tx, projectPtr.DomainID, name, projectPtr.ID)
			if err != nil {
				return err
			}
			if exists {
				return nimbus.ErrProjectDuplicate.With("a project with this name already exists")
			}

			oldName := projectPtr.Name
			projectPtr.Rename(name, p.timeNow())
			err = nimbus.UpdateWithOptimisticLock(tx, projectPtr)
			if err != nil {
				return err
			}

			systemToken, err := p.systemToken()
			if err != nil {
				return err
			}
			err = p.gateway.SetProjectName(ctx, systemToken, projectPtr.OpenStackID, name)
			if err != nil {
				return wrapOpenStackError(err)
			}
			comp.register("restore keystone project name "+oldName, func(ctx context.Context) error {
				return p.gateway.SetProjectName(ctx, systemToken, projectPtr.OpenStackID, oldName)
			})

			project = *projectPtr
			return nil
		})
	})
	return project, err
}

// AddUserToProject joins a user to a project. The membership is recorded in
// the join table and backed by a Keystone role assignment, without which
// the user could not obtain tokens scoped to the project.
func (p *Processor) AddUserToProject(ctx context.Context, currentUser nimbus.CurrentUser, projectID, userID int64) error {
	return p.inUnitOfWork(ctx, func(tx *gorp.Transaction, comp *compensationScope) error {
		project, err := p.findAccessibleProject(tx, currentUser, projectID)
		if err != nil {
			return err
		}
		user, err := nimbus.FindUserByID(tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return nimbus.ErrUserNotFound.With("no such user")
		}

		joined, err := nimbus.IsUserJoinedToProject(tx, project.ID, user.ID)
		if err != nil {
			return err
		}
		if joined {
			return nimbus.ErrProjectUserAlreadyJoined.With("user is already joined to this project")
		}

		systemToken, err := p.systemToken()
		if err != nil {
			return err
		}
		err = p.gateway.AssignRoleToUserOnProject(ctx, systemToken, p.cfg.DefaultRoleOpenStackID, user.OpenStackID, project.OpenStackID)
		if err != nil {
			return wrapOpenStackError(err)
		}
		comp.register("unassign keystone role for user "+user.OpenStackID, func(ctx context.Context) error {
			return p.gateway.UnassignRoleFromUserOnProject(ctx, systemToken, p.cfg.DefaultRoleOpenStackID, user.OpenStackID, project.OpenStackID)
		})

		return tx.Insert(&models.ProjectUser{ProjectID: project.ID, UserID: user.ID})
	})
}

// RemoveUserFromProject revokes a user's membership in a project.
func (p *Processor) RemoveUserFromProject(ctx context.Context, currentUser nimbus.CurrentUser, projectID, userID int64) error {
	return nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		project, err := p.findAccessibleProject(tx, currentUser, projectID)
		if err != nil {
			return err
		}
		user, err := nimbus.FindUserByID(tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return nimbus.ErrUserNotFound.With("no such user")
		}

		joined, err := nimbus.IsUserJoinedToProject(tx, project.ID, user.ID)
		if err != nil {
			return err
		}
		if !joined {
			return nimbus.ErrProjectUserNotJoined.With("user is not joined to this project")
		}

		systemToken, err := p.systemToken()
		if err != nil {
			return err
		}
		err = p.gateway.UnassignRoleFromUserOnProject(ctx, systemToken, p.cfg.DefaultRoleOpenStackID, user.OpenStackID, project.OpenStackID)
		if err != nil && !openstack.IsNotFound(err) {
			return wrapOpenStackError(err)
		}

		_, err = tx.Exec(`DELETE FROM project_users WHERE project_id = $1 AND user_id = $2`, project.ID, user.ID)
		return err
	})
}
