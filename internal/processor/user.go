// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"

	"github.com/go-gorp/gorp/v3"
	"golang.org/x/crypto/bcrypt"

	"github.com/sapcc/nimbus/internal/models"
	"github.com/sapcc/nimbus/internal/nimbus"
	"github.com/sapcc/nimbus/internal/openstack"
)

// ListUsers returns all active users in the default domain.
func (p *Processor) ListUsers(nameLike string) ([]models.User, error) {
	return nimbus.FindUsers(&p.db.DbMap, nimbus.UserFilter{
		DomainID: &p.cfg.DefaultDomainID,
		NameLike: nameLike,
	})
}

// GetUser returns one active user.
func (p *Processor) GetUser(id int64) (models.User, error) {
	user, err := nimbus.FindUserByID(&p.db.DbMap, id)
	if err != nil {
		return models.User{}, err
	}
	if user == nil {
		return models.User{}, nimbus.ErrUserNotFound.With("no such user")
	}
	return *user, nil
}

// CreateUser provisions a user in Keystone and mirrors it locally. This is
// the only mutating operation without authentication: it is how tenants
// sign up. The new user is not joined to any project yet.
func (p *Processor) CreateUser(ctx context.Context, accountID, name, password string) (models.User, error) {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}

	var user models.User
	err = p.inUnitOfWork(ctx, func(tx *gorp.Transaction, comp *compensationScope) error {
		exists, err := nimbus.UserExistsWithAccountID(tx, p.cfg.DefaultDomainID, accountID)
		if err != nil {
			return err
		}
		if exists {
			return nimbus.ErrUserDuplicate.With("a user with this account ID already exists")
		}

		systemToken, err := p.systemToken()
		if err != nil {
			return err
		}
		userOpenStackID, err := p.gateway.CreateUser(ctx, systemToken, accountID, password, p.cfg.DefaultDomainOpenStackID)
		if err != nil {
			return wrapOpenStackError(err)
		}
		comp.register("delete keystone user "+userOpenStackID, func(ctx context.Context) error {
			return p.gateway.DeleteUser(ctx, systemToken, userOpenStackID)
		})

		now := p.timeNow()
		user = models.User{
			DomainID:        p.cfg.DefaultDomainID,
			OpenStackID:     userOpenStackID,
			AccountID:       accountID,
			Name:            name,
			PasswordHash:    string(passwordHash),
			LifecycleStatus: models.LifecycleActive,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return tx.Insert(&user)
	})
	return user, err
}

// UpdateUserInfo changes the display name of a user. Users can only modify
// themselves.
func (p *Processor) UpdateUserInfo(ctx context.Context, currentUser nimbus.CurrentUser, id int64, name string) (models.User, error) {
	if currentUser.UserID != id {
		return models.User{}, nimbus.ErrUserAccessDenied.With("cannot modify other users")
	}

	var user models.User
	err := nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		userPtr, err := nimbus.FindUserByID(tx, id)
		if err != nil {
			return err
		}
		if userPtr == nil {
			return nimbus.ErrUserNotFound.With("no such user")
		}
		userPtr.Rename(name, p.timeNow())
		_, err = tx.Update(userPtr)
		user = *userPtr
		return err
	})
	return user, err
}

// DeleteUser removes a user from Keystone and soft-deletes the mirror row.
// Users can only delete themselves, and the last remaining user of a domain
// cannot be deleted (someone must stay able to log in and manage the
// tenancy).
func (p *Processor) DeleteUser(ctx context.Context, currentUser nimbus.CurrentUser, id int64) error {
	if currentUser.UserID != id {
		return nimbus.ErrUserAccessDenied.With("cannot delete other users")
	}

	return nimbus.WithTransaction(p.db, func(tx *gorp.Transaction) error {
		user, err := nimbus.FindUserByID(tx, id)
		if err != nil {
			return err
		}
		if user == nil {
			return nimbus.ErrUserNotFound.With("no such user")
		}

		count, err := nimbus.CountUsersInDomain(tx, user.DomainID)
		if err != nil {
			return err
		}
		if count <= 1 {
			return nimbus.ErrLastUserDeletionNotAllowed.With("cannot delete the last user of the domain")
		}

		systemToken, err := p.systemToken()
		if err != nil {
			return err
		}
		err = p.gateway.DeleteUser(ctx, systemToken, user.OpenStackID)
		if err != nil && !openstack.IsNotFound(err) {
			return wrapOpenStackError(err)
		}

		// project memberships die with the user; Keystone dropped the role
		// assignments when the user was deleted
		_, err = tx.Exec(`DELETE FROM project_users WHERE user_id = $1`, user.ID)
		if err != nil {
			return err
		}

		user.MarkDeleted(p.timeNow())
		_, err = tx.Update(user)
		return err
	})
}
