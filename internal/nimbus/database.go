// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package nimbus

import (
	"database/sql"

	"github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/nimbus/internal/models"
)

var sqlMigrations = map[string]string{
	"001_initial.up.sql": `
		CREATE TABLE domains (
			id           BIGSERIAL   NOT NULL PRIMARY KEY,
			openstack_id TEXT        NOT NULL UNIQUE,
			name         TEXT        NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE users (
			id               BIGSERIAL   NOT NULL PRIMARY KEY,
			domain_id        BIGINT      NOT NULL REFERENCES domains ON DELETE CASCADE,
			openstack_id     TEXT        NOT NULL,
			account_id       TEXT        NOT NULL,
			name             TEXT        NOT NULL,
			password_hash    TEXT        NOT NULL,
			lifecycle_status TEXT        NOT NULL DEFAULT 'ACTIVE',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at       TIMESTAMPTZ DEFAULT NULL
		);
		CREATE UNIQUE INDEX users_domain_account_key
			ON users (domain_id, account_id) WHERE deleted_at IS NULL;

		CREATE TABLE projects (
			id               BIGSERIAL   NOT NULL PRIMARY KEY,
			domain_id        BIGINT      NOT NULL REFERENCES domains ON DELETE CASCADE,
			openstack_id     TEXT        NOT NULL,
			name             TEXT        NOT NULL,
			version          INT         NOT NULL DEFAULT 0,
			lifecycle_status TEXT        NOT NULL DEFAULT 'ACTIVE',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at       TIMESTAMPTZ DEFAULT NULL
		);
		CREATE UNIQUE INDEX projects_domain_name_key
			ON projects (domain_id, name) WHERE deleted_at IS NULL;

		CREATE TABLE project_users (
			project_id BIGINT NOT NULL REFERENCES projects ON DELETE CASCADE,
			user_id    BIGINT NOT NULL REFERENCES users ON DELETE CASCADE,
			PRIMARY KEY (project_id, user_id)
		);

		CREATE TABLE servers (
			id                  BIGSERIAL   NOT NULL PRIMARY KEY,
			project_id          BIGINT      NOT NULL REFERENCES projects ON DELETE CASCADE,
			openstack_id        TEXT        NOT NULL,
			flavor_openstack_id TEXT        NOT NULL,
			name                TEXT        NOT NULL,
			description         TEXT        NOT NULL DEFAULT '',
			status              TEXT        NOT NULL,
			lifecycle_status    TEXT        NOT NULL DEFAULT 'ACTIVE',
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at          TIMESTAMPTZ DEFAULT NULL
		);
		CREATE UNIQUE INDEX servers_project_name_key
			ON servers (project_id, name) WHERE deleted_at IS NULL;

		CREATE TABLE volumes (
			id                       BIGSERIAL   NOT NULL PRIMARY KEY,
			project_id               BIGINT      NOT NULL REFERENCES projects ON DELETE CASCADE,
			server_id                BIGINT      REFERENCES servers ON DELETE SET NULL,
			openstack_id             TEXT        NOT NULL,
			volume_type_openstack_id TEXT        NOT NULL,
			image_openstack_id       TEXT        DEFAULT NULL,
			name                     TEXT        NOT NULL,
			size_gib                 INT         NOT NULL,
			status                   TEXT        NOT NULL,
			is_root_volume           BOOLEAN     NOT NULL DEFAULT FALSE,
			lifecycle_status         TEXT        NOT NULL DEFAULT 'ACTIVE',
			created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at               TIMESTAMPTZ DEFAULT NULL
		);
		CREATE UNIQUE INDEX volumes_project_name_key
			ON volumes (project_id, name) WHERE deleted_at IS NULL;

		CREATE TABLE network_interfaces (
			id               BIGSERIAL   NOT NULL PRIMARY KEY,
			project_id       BIGINT      NOT NULL REFERENCES projects ON DELETE CASCADE,
			server_id        BIGINT      REFERENCES servers ON DELETE SET NULL,
			openstack_id     TEXT        NOT NULL,
			fixed_ip_address TEXT        NOT NULL,
			lifecycle_status TEXT        NOT NULL DEFAULT 'ACTIVE',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at       TIMESTAMPTZ DEFAULT NULL
		);

		CREATE TABLE floating_ips (
			id                   BIGSERIAL   NOT NULL PRIMARY KEY,
			project_id           BIGINT      NOT NULL REFERENCES projects ON DELETE CASCADE,
			network_interface_id BIGINT      REFERENCES network_interfaces ON DELETE SET NULL,
			openstack_id         TEXT        NOT NULL,
			address              TEXT        NOT NULL,
			status               TEXT        NOT NULL DEFAULT 'DOWN',
			lifecycle_status     TEXT        NOT NULL DEFAULT 'ACTIVE',
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at           TIMESTAMPTZ DEFAULT NULL
		);

		CREATE TABLE security_groups (
			id               BIGSERIAL   NOT NULL PRIMARY KEY,
			project_id       BIGINT      NOT NULL REFERENCES projects ON DELETE CASCADE,
			openstack_id     TEXT        NOT NULL,
			name             TEXT        NOT NULL,
			description      TEXT        NOT NULL DEFAULT '',
			version          INT         NOT NULL DEFAULT 0,
			lifecycle_status TEXT        NOT NULL DEFAULT 'ACTIVE',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at       TIMESTAMPTZ DEFAULT NULL
		);
		CREATE UNIQUE INDEX security_groups_project_name_key
			ON security_groups (project_id, name) WHERE deleted_at IS NULL;

		CREATE TABLE network_interface_security_groups (
			network_interface_id BIGINT NOT NULL REFERENCES network_interfaces ON DELETE CASCADE,
			security_group_id    BIGINT NOT NULL REFERENCES security_groups ON DELETE CASCADE,
			PRIMARY KEY (network_interface_id, security_group_id)
		);
	`,
	"001_initial.down.sql": `
		DROP TABLE network_interface_security_groups;
		DROP TABLE security_groups;
		DROP TABLE floating_ips;
		DROP TABLE network_interfaces;
		DROP TABLE volumes;
		DROP TABLE servers;
		DROP TABLE project_users;
		DROP TABLE projects;
		DROP TABLE users;
		DROP TABLE domains;
	`,
}

// DB adds convenience functions on top of gorp.DbMap.
type DB struct {
	gorp.DbMap
}

// DBConfiguration returns the easypg.Configuration object that is needed to
// initialize the database connection for this process.
func DBConfiguration() easypg.Configuration {
	return easypg.Configuration{
		Migrations: sqlMigrations,
	}
}

// InitORM wraps a database connection into a DB instance with all table
// mappings registered.
func InitORM(dbConn *sql.DB) *DB {
	result := &DB{DbMap: gorp.DbMap{Db: dbConn, Dialect: gorp.PostgresDialect{}}}
	initModels(&result.DbMap)
	return result
}

func initModels(db *gorp.DbMap) {
	db.AddTableWithName(models.Domain{}, "domains").SetKeys(true, "id")
	db.AddTableWithName(models.User{}, "users").SetKeys(true, "id")
	db.AddTableWithName(models.Project{}, "projects").SetKeys(true, "id").SetVersionCol("version")
	db.AddTableWithName(models.ProjectUser{}, "project_users").SetKeys(false, "project_id", "user_id")
	db.AddTableWithName(models.Server{}, "servers").SetKeys(true, "id")
	db.AddTableWithName(models.Volume{}, "volumes").SetKeys(true, "id")
	db.AddTableWithName(models.NetworkInterface{}, "network_interfaces").SetKeys(true, "id")
	db.AddTableWithName(models.FloatingIP{}, "floating_ips").SetKeys(true, "id")
	db.AddTableWithName(models.SecurityGroup{}, "security_groups").SetKeys(true, "id").SetVersionCol("version")
	db.AddTableWithName(models.NetworkInterfaceSecurityGroup{}, "network_interface_security_groups").SetKeys(false, "network_interface_id", "security_group_id")
}

// WithTransaction opens a transaction on the given DB, runs the action
// inside it, and commits on success or rolls back on error. This is the
// outermost unit-of-work wrapper: service methods receive the transaction
// as a gorp.SqlExecutor and never commit themselves, so nested service
// calls share the same transaction by parameter passing.
func WithTransaction(db *DB, action func(*gorp.Transaction) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	err = action(tx)
	if err != nil {
		return err
	}
	return tx.Commit()
}
