// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package nimbus

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-gorp/gorp/v3"
	"github.com/lib/pq"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/nimbus/internal/models"
)

// whereBuilder assembles a WHERE clause with numbered placeholders. All
// list queries in this file go through it so that the soft-delete filter
// cannot be forgotten.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, args ...any) {
	placeholders := make([]any, len(args))
	for idx, arg := range args {
		w.args = append(w.args, arg)
		placeholders[idx] = fmt.Sprintf("$%d", len(w.args))
	}
	w.conds = append(w.conds, fmt.Sprintf(cond, placeholders...))
}

func (w *whereBuilder) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *whereBuilder) applyLifecycle(withDeleted bool) {
	if !withDeleted {
		w.conds = append(w.conds, "deleted_at IS NULL")
	}
}

func selectOneOrNil[E any](dbi gorp.SqlExecutor, query string, args ...any) (*E, error) {
	var entity E
	err := dbi.SelectOne(&entity, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

////////////////////////////////////////////////////////////////////////////////
// domains

// FindDomainByID returns nil when no such domain exists.
func FindDomainByID(dbi gorp.SqlExecutor, id int64) (*models.Domain, error) {
	return selectOneOrNil[models.Domain](dbi, `SELECT * FROM domains WHERE id = $1`, id)
}

////////////////////////////////////////////////////////////////////////////////
// users

// UserFilter restricts FindUsers.
type UserFilter struct {
	IDs         []int64
	DomainID    *int64
	AccountID   string
	NameLike    string
	WithDeleted bool
}

// FindUsers lists users matching the filter, ordered by id.
func FindUsers(dbi gorp.SqlExecutor, filter UserFilter) ([]models.User, error) {
	var w whereBuilder
	if len(filter.IDs) > 0 {
		w.add("id = ANY(%s)", pq.Array(filter.IDs))
	}
	if filter.DomainID != nil {
		w.add("domain_id = %s", *filter.DomainID)
	}
	if filter.AccountID != "" {
		w.add("account_id = %s", filter.AccountID)
	}
	if filter.NameLike != "" {
		w.add("name LIKE %s", "%"+filter.NameLike+"%")
	}
	w.applyLifecycle(filter.WithDeleted)

	var users []models.User
	_, err := dbi.Select(&users, `SELECT * FROM users`+w.clause()+` ORDER BY id`, w.args...)
	return users, err
}

// FindUserByID returns nil when no such active user exists.
func FindUserByID(dbi gorp.SqlExecutor, id int64) (*models.User, error) {
	return selectOneOrNil[models.User](dbi,
		`SELECT * FROM users WHERE id = $1 AND deleted_at IS NULL`, id)
}

// FindUserByAccountID returns nil when no active user with this account ID
// exists in the domain.
func FindUserByAccountID(dbi gorp.SqlExecutor, domainID int64, accountID string) (*models.User, error) {
	return selectOneOrNil[models.User](dbi,
		`SELECT * FROM users WHERE domain_id = $1 AND account_id = $2 AND deleted_at IS NULL`,
		domainID, accountID)
}

// UserExistsWithAccountID checks the account ID uniqueness constraint among
// active users of a domain.
func UserExistsWithAccountID(dbi gorp.SqlExecutor, domainID int64, accountID string) (bool, error) {
	return scanExists(dbi,
		`SELECT COUNT(*) FROM users WHERE domain_id = $1 AND account_id = $2 AND deleted_at IS NULL`,
		domainID, accountID)
}

// CountUsersInDomain counts the active users of a domain.
func CountUsersInDomain(dbi gorp.SqlExecutor, domainID int64) (int64, error) {
	return scanCount(dbi,
		`SELECT COUNT(*) FROM users WHERE domain_id = $1 AND deleted_at IS NULL`, domainID)
}

////////////////////////////////////////////////////////////////////////////////
// projects

// ProjectFilter restricts FindProjects.
type ProjectFilter struct {
	IDs         []int64
	DomainID    *int64
	Name        string
	NameLike    string
	WithDeleted bool
}

// FindProjects lists projects matching the filter, ordered by id.
func FindProjects(dbi gorp.SqlExecutor, filter ProjectFilter) ([]models.Project, error) {
	var w whereBuilder
	if len(filter.IDs) > 0 {
		w.add("id = ANY(%s)", pq.Array(filter.IDs))
	}
	if filter.DomainID != nil {
		w.add("domain_id = %s", *filter.DomainID)
	}
	if filter.Name != "" {
		w.add("name = %s", filter.Name)
	}
	if filter.NameLike != "" {
		w.add("name LIKE %s", "%"+filter.NameLike+"%")
	}
	w.applyLifecycle(filter.WithDeleted)

	var projects []models.Project
	_, err := dbi.Select(&projects, `SELECT * FROM projects`+w.clause()+` ORDER BY id`, w.args...)
	return projects, err
}

// FindProjectByID returns nil when no such active project exists.
func FindProjectByID(dbi gorp.SqlExecutor, id int64) (*models.Project, error) {
	return selectOneOrNil[models.Project](dbi,
		`SELECT * FROM projects WHERE id = $1 AND deleted_at IS NULL`, id)
}

// ProjectExistsWithName checks the name uniqueness constraint among active
// projects of a domain. The project with `excludeID` is ignored so that
// renames can pass their own row.
func ProjectExistsWithName(dbi gorp.SqlExecutor, domainID int64, name string, excludeID int64) (bool, error) {
	return scanExists(dbi,
		`SELECT COUNT(*) FROM projects WHERE domain_id = $1 AND name = $2 AND id != $3 AND deleted_at IS NULL`,
		domainID, name, excludeID)
}

var projectsOfUserQuery = sqlext.SimplifyWhitespace(`
	SELECT p.* FROM projects p
	  JOIN project_users pu ON pu.project_id = p.id
	 WHERE pu.user_id = $1 AND p.deleted_at IS NULL
	 ORDER BY p.id
`)

// FindProjectsOfUser lists the active projects that a user is joined to,
// ordered by id. (The ordering makes the project choice at login
// deterministic.)
func FindProjectsOfUser(dbi gorp.SqlExecutor, userID int64) ([]models.Project, error) {
	var projects []models.Project
	_, err := dbi.Select(&projects, projectsOfUserQuery, userID)
	return projects, err
}

// IsUserJoinedToProject checks membership in the project_users join table.
func IsUserJoinedToProject(dbi gorp.SqlExecutor, projectID, userID int64) (bool, error) {
	return scanExists(dbi,
		`SELECT COUNT(*) FROM project_users WHERE project_id = $1 AND user_id = $2`,
		projectID, userID)
}

////////////////////////////////////////////////////////////////////////////////
// servers

// ServerFilter restricts FindServers.
type ServerFilter struct {
	IDs         []int64
	ProjectID   *int64
	Name        string
	NameLike    string
	WithDeleted bool
}

// FindServers lists servers matching the filter, ordered by id.
func FindServers(dbi gorp.SqlExecutor, filter ServerFilter) ([]models.Server, error) {
	var w whereBuilder
	if len(filter.IDs) > 0 {
		w.add("id = ANY(%s)", pq.Array(filter.IDs))
	}
	if filter.ProjectID != nil {
		w.add("project_id = %s", *filter.ProjectID)
	}
	if filter.Name != "" {
		w.add("name = %s", filter.Name)
	}
	if filter.NameLike != "" {
		w.add("name LIKE %s", "%"+filter.NameLike+"%")
	}
	w.applyLifecycle(filter.WithDeleted)

	var servers []models.Server
	_, err := dbi.Select(&servers, `SELECT * FROM servers`+w.clause()+` ORDER BY id`, w.args...)
	return servers, err
}

// FindServerByID returns nil when no such active server exists.
func FindServerByID(dbi gorp.SqlExecutor, id int64) (*models.Server, error) {
	return selectOneOrNil[models.Server](dbi,
		`SELECT * FROM servers WHERE id = $1 AND deleted_at IS NULL`, id)
}

// FindServerByOpenStackID returns nil when no such active server exists.
func FindServerByOpenStackID(dbi gorp.SqlExecutor, openstackID string) (*models.Server, error) {
	return selectOneOrNil[models.Server](dbi,
		`SELECT * FROM servers WHERE openstack_id = $1 AND deleted_at IS NULL`, openstackID)
}

// ServerExistsWithName checks the name uniqueness constraint among active
// servers of a project.
func ServerExistsWithName(dbi gorp.SqlExecutor, projectID int64, name string) (bool, error) {
	return scanExists(dbi,
		`SELECT COUNT(*) FROM servers WHERE project_id = $1 AND name = $2 AND deleted_at IS NULL`,
		projectID, name)
}

////////////////////////////////////////////////////////////////////////////////
// volumes

// VolumeFilter restricts FindVolumes.
type VolumeFilter struct {
	IDs         []int64
	ProjectID   *int64
	ServerID    *int64
	Name        string
	NameLike    string
	WithDeleted bool
}

// FindVolumes lists volumes matching the filter, ordered by id.
func FindVolumes(dbi gorp.SqlExecutor, filter VolumeFilter) ([]models.Volume, error) {
	var w whereBuilder
	if len(filter.IDs) > 0 {
		w.add("id = ANY(%s)", pq.Array(filter.IDs))
	}
	if filter.ProjectID != nil {
		w.add("project_id = %s", *filter.ProjectID)
	}
	if filter.ServerID != nil {
		w.add("server_id = %s", *filter.ServerID)
	}
	if filter.Name != "" {
		w.add("name = %s", filter.Name)
	}
	if filter.NameLike != "" {
		w.add("name LIKE %s", "%"+filter.NameLike+"%")
	}
	w.applyLifecycle(filter.WithDeleted)

	var volumes []models.Volume
	_, err := dbi.Select(&volumes, `SELECT * FROM volumes`+w.clause()+` ORDER BY id`, w.args...)
	return volumes, err
}

// FindVolumeByID returns nil when no such active volume exists.
func FindVolumeByID(dbi gorp.SqlExecutor, id int64) (*models.Volume, error) {
	return selectOneOrNil[models.Volume](dbi,
		`SELECT * FROM volumes WHERE id = $1 AND deleted_at IS NULL`, id)
}

// VolumeExistsWithName checks the name uniqueness constraint among active
// volumes of a project.
func VolumeExistsWithName(dbi gorp.SqlExecutor, projectID int64, name string) (bool, error) {
	return scanExists(dbi,
		`SELECT COUNT(*) FROM volumes WHERE project_id = $1 AND name = $2 AND deleted_at IS NULL`,
		projectID, name)
}

// FindVolumesOfServer lists the active volumes attached to a server.
func FindVolumesOfServer(dbi gorp.SqlExecutor, serverID int64) ([]models.Volume, error) {
	var volumes []models.Volume
	_, err := dbi.Select(&volumes,
		`SELECT * FROM volumes WHERE server_id = $1 AND deleted_at IS NULL ORDER BY id`, serverID)
	return volumes, err
}

// CountDataVolumesAttachedToServer counts the active non-root volumes
// attached to a server. A server with attached data volumes is not
// deletable.
func CountDataVolumesAttachedToServer(dbi gorp.SqlExecutor, serverID int64) (int64, error) {
	return scanCount(dbi,
		`SELECT COUNT(*) FROM volumes WHERE server_id = $1 AND NOT is_root_volume AND deleted_at IS NULL`,
		serverID)
}

// FindRootVolumeOfServer returns nil when the server has no active root
// volume (e.g. while server creation is still polling).
func FindRootVolumeOfServer(dbi gorp.SqlExecutor, serverID int64) (*models.Volume, error) {
	return selectOneOrNil[models.Volume](dbi,
		`SELECT * FROM volumes WHERE server_id = $1 AND is_root_volume AND deleted_at IS NULL`, serverID)
}

////////////////////////////////////////////////////////////////////////////////
// network interfaces

// FindNetworkInterfaceByID returns nil when no such active network
// interface exists.
func FindNetworkInterfaceByID(dbi gorp.SqlExecutor, id int64) (*models.NetworkInterface, error) {
	return selectOneOrNil[models.NetworkInterface](dbi,
		`SELECT * FROM network_interfaces WHERE id = $1 AND deleted_at IS NULL`, id)
}

// FindNetworkInterfacesOfServer lists the active network interfaces bound
// to a server.
func FindNetworkInterfacesOfServer(dbi gorp.SqlExecutor, serverID int64) ([]models.NetworkInterface, error) {
	var nics []models.NetworkInterface
	_, err := dbi.Select(&nics,
		`SELECT * FROM network_interfaces WHERE server_id = $1 AND deleted_at IS NULL ORDER BY id`, serverID)
	return nics, err
}

////////////////////////////////////////////////////////////////////////////////
// floating IPs

// FloatingIPFilter restricts FindFloatingIPs.
type FloatingIPFilter struct {
	IDs         []int64
	ProjectID   *int64
	WithDeleted bool
}

// FindFloatingIPs lists floating IPs matching the filter, ordered by id.
func FindFloatingIPs(dbi gorp.SqlExecutor, filter FloatingIPFilter) ([]models.FloatingIP, error) {
	var w whereBuilder
	if len(filter.IDs) > 0 {
		w.add("id = ANY(%s)", pq.Array(filter.IDs))
	}
	if filter.ProjectID != nil {
		w.add("project_id = %s", *filter.ProjectID)
	}
	w.applyLifecycle(filter.WithDeleted)

	var fips []models.FloatingIP
	_, err := dbi.Select(&fips, `SELECT * FROM floating_ips`+w.clause()+` ORDER BY id`, w.args...)
	return fips, err
}

// FindFloatingIPByID returns nil when no such active floating IP exists.
func FindFloatingIPByID(dbi gorp.SqlExecutor, id int64) (*models.FloatingIP, error) {
	return selectOneOrNil[models.FloatingIP](dbi,
		`SELECT * FROM floating_ips WHERE id = $1 AND deleted_at IS NULL`, id)
}

// FindFloatingIPsOfNetworkInterface lists the active floating IPs attached
// to a network interface. At most one can be attached at a time, but the
// deletion pipeline iterates over whatever rows exist.
func FindFloatingIPsOfNetworkInterface(dbi gorp.SqlExecutor, networkInterfaceID int64) ([]models.FloatingIP, error) {
	var fips []models.FloatingIP
	_, err := dbi.Select(&fips,
		`SELECT * FROM floating_ips WHERE network_interface_id = $1 AND deleted_at IS NULL ORDER BY id`,
		networkInterfaceID)
	return fips, err
}

////////////////////////////////////////////////////////////////////////////////
// security groups

// SecurityGroupFilter restricts FindSecurityGroups.
type SecurityGroupFilter struct {
	IDs         []int64
	ProjectID   *int64
	Name        string
	NameLike    string
	WithDeleted bool
}

// FindSecurityGroups lists security groups matching the filter, ordered by id.
func FindSecurityGroups(dbi gorp.SqlExecutor, filter SecurityGroupFilter) ([]models.SecurityGroup, error) {
	var w whereBuilder
	if len(filter.IDs) > 0 {
		w.add("id = ANY(%s)", pq.Array(filter.IDs))
	}
	if filter.ProjectID != nil {
		w.add("project_id = %s", *filter.ProjectID)
	}
	if filter.Name != "" {
		w.add("name = %s", filter.Name)
	}
	if filter.NameLike != "" {
		w.add("name LIKE %s", "%"+filter.NameLike+"%")
	}
	w.applyLifecycle(filter.WithDeleted)

	var groups []models.SecurityGroup
	_, err := dbi.Select(&groups, `SELECT * FROM security_groups`+w.clause()+` ORDER BY id`, w.args...)
	return groups, err
}

// FindSecurityGroupByID returns nil when no such active security group exists.
func FindSecurityGroupByID(dbi gorp.SqlExecutor, id int64) (*models.SecurityGroup, error) {
	return selectOneOrNil[models.SecurityGroup](dbi,
		`SELECT * FROM security_groups WHERE id = $1 AND deleted_at IS NULL`, id)
}

// SecurityGroupExistsWithName checks the name uniqueness constraint among
// active security groups of a project.
func SecurityGroupExistsWithName(dbi gorp.SqlExecutor, projectID int64, name string, excludeID int64) (bool, error) {
	return scanExists(dbi,
		`SELECT COUNT(*) FROM security_groups WHERE project_id = $1 AND name = $2 AND id != $3 AND deleted_at IS NULL`,
		projectID, name, excludeID)
}

// CountNetworkInterfacesBoundToSecurityGroup counts the join table rows for
// a security group. A group with bound interfaces is not deletable.
func CountNetworkInterfacesBoundToSecurityGroup(dbi gorp.SqlExecutor, securityGroupID int64) (int64, error) {
	return scanCount(dbi,
		`SELECT COUNT(*) FROM network_interface_security_groups WHERE security_group_id = $1`,
		securityGroupID)
}

var securityGroupsOfNetworkInterfaceQuery = sqlext.SimplifyWhitespace(`
	SELECT sg.* FROM security_groups sg
	  JOIN network_interface_security_groups nisg ON nisg.security_group_id = sg.id
	 WHERE nisg.network_interface_id = $1 AND sg.deleted_at IS NULL
	 ORDER BY sg.id
`)

// FindSecurityGroupsOfNetworkInterface lists the active security groups
// applied to a network interface.
func FindSecurityGroupsOfNetworkInterface(dbi gorp.SqlExecutor, networkInterfaceID int64) ([]models.SecurityGroup, error) {
	var groups []models.SecurityGroup
	_, err := dbi.Select(&groups, securityGroupsOfNetworkInterfaceQuery, networkInterfaceID)
	return groups, err
}
