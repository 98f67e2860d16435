// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package nimbusv1

import (
	"time"

	"github.com/sapcc/nimbus/internal/models"
	"github.com/sapcc/nimbus/internal/openstack"
	"github.com/sapcc/nimbus/internal/processor"
)

// The view types in this file are the JSON serializations of the mirror
// entities. OpenStack IDs are included since clients need them to correlate
// with other OpenStack tooling; internal bookkeeping columns are not.

// UserView is the JSON serialization of a user.
type UserView struct {
	ID        int64     `json:"id"`
	AccountID string    `json:"account_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func renderUser(user models.User) UserView {
	return UserView{
		ID:        user.ID,
		AccountID: user.AccountID,
		Name:      user.Name,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

func renderUsers(users []models.User) []UserView {
	result := make([]UserView, len(users))
	for idx, user := range users {
		result[idx] = renderUser(user)
	}
	return result
}

// ProjectView is the JSON serialization of a project.
type ProjectView struct {
	ID          int64     `json:"id"`
	OpenStackID string    `json:"openstack_id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func renderProject(project models.Project) ProjectView {
	return ProjectView{
		ID:          project.ID,
		OpenStackID: project.OpenStackID,
		Name:        project.Name,
		CreatedAt:   project.CreatedAt,
		UpdatedAt:   project.UpdatedAt,
	}
}

func renderProjects(projects []models.Project) []ProjectView {
	result := make([]ProjectView, len(projects))
	for idx, project := range projects {
		result[idx] = renderProject(project)
	}
	return result
}

// ServerView is the JSON serialization of a server.
type ServerView struct {
	ID                int64     `json:"id"`
	OpenStackID       string    `json:"openstack_id"`
	FlavorOpenStackID string    `json:"flavor_openstack_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func renderServer(server models.Server) ServerView {
	return ServerView{
		ID:                server.ID,
		OpenStackID:       server.OpenStackID,
		FlavorOpenStackID: server.FlavorOpenStackID,
		Name:              server.Name,
		Description:       server.Description,
		Status:            string(server.Status),
		CreatedAt:         server.CreatedAt,
		UpdatedAt:         server.UpdatedAt,
	}
}

func renderServers(servers []models.Server) []ServerView {
	result := make([]ServerView, len(servers))
	for idx, server := range servers {
		result[idx] = renderServer(server)
	}
	return result
}

// VolumeView is the JSON serialization of a volume.
type VolumeView struct {
	ID                    int64     `json:"id"`
	OpenStackID           string    `json:"openstack_id"`
	ServerID              *int64    `json:"server_id,omitempty"`
	VolumeTypeOpenStackID string    `json:"volume_type_openstack_id"`
	ImageOpenStackID      *string   `json:"image_openstack_id,omitempty"`
	Name                  string    `json:"name"`
	SizeGiB               int       `json:"size_gib"`
	Status                string    `json:"status"`
	IsRootVolume          bool      `json:"is_root_volume"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func renderVolume(volume models.Volume) VolumeView {
	return VolumeView{
		ID:                    volume.ID,
		OpenStackID:           volume.OpenStackID,
		ServerID:              volume.ServerID,
		VolumeTypeOpenStackID: volume.VolumeTypeOpenStackID,
		ImageOpenStackID:      volume.ImageOpenStackID,
		Name:                  volume.Name,
		SizeGiB:               volume.SizeGiB,
		Status:                string(volume.Status),
		IsRootVolume:          volume.IsRootVolume,
		CreatedAt:             volume.CreatedAt,
		UpdatedAt:             volume.UpdatedAt,
	}
}

func renderVolumes(volumes []models.Volume) []VolumeView {
	result := make([]VolumeView, len(volumes))
	for idx, volume := range volumes {
		result[idx] = renderVolume(volume)
	}
	return result
}

// VolumeInfoView extends VolumeView with the live status from Cinder.
type VolumeInfoView struct {
	VolumeView
	LiveStatus string `json:"live_status"`
}

func renderVolumeInfo(info processor.VolumeInfo) VolumeInfoView {
	return VolumeInfoView{
		VolumeView: renderVolume(info.Volume),
		LiveStatus: info.LiveStatus,
	}
}

// SecurityGroupView is the JSON serialization of a security group.
type SecurityGroupView struct {
	ID          int64                         `json:"id"`
	OpenStackID string                        `json:"openstack_id"`
	Name        string                        `json:"name"`
	Description string                        `json:"description"`
	Rules       []openstack.SecurityGroupRule `json:"rules,omitempty"`
	CreatedAt   time.Time                     `json:"created_at"`
	UpdatedAt   time.Time                     `json:"updated_at"`
}

func renderSecurityGroup(group models.SecurityGroup) SecurityGroupView {
	return SecurityGroupView{
		ID:          group.ID,
		OpenStackID: group.OpenStackID,
		Name:        group.Name,
		Description: group.Description,
		CreatedAt:   group.CreatedAt,
		UpdatedAt:   group.UpdatedAt,
	}
}

func renderSecurityGroups(groups []models.SecurityGroup) []SecurityGroupView {
	result := make([]SecurityGroupView, len(groups))
	for idx, group := range groups {
		result[idx] = renderSecurityGroup(group)
	}
	return result
}

func renderSecurityGroupWithRules(groupWithRules processor.SecurityGroupWithRules) SecurityGroupView {
	view := renderSecurityGroup(groupWithRules.SecurityGroup)
	view.Rules = groupWithRules.Rules
	return view
}

// NetworkInterfaceView is the JSON serialization of a network interface.
type NetworkInterfaceView struct {
	ID             int64               `json:"id"`
	OpenStackID    string              `json:"openstack_id"`
	ServerID       *int64              `json:"server_id,omitempty"`
	FixedIPAddress string              `json:"fixed_ip_address"`
	SecurityGroups []SecurityGroupView `json:"security_groups,omitempty"`
	FloatingIPs    []FloatingIPView    `json:"floating_ips,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func renderNetworkInterface(networkInterface models.NetworkInterface) NetworkInterfaceView {
	return NetworkInterfaceView{
		ID:             networkInterface.ID,
		OpenStackID:    networkInterface.OpenStackID,
		ServerID:       networkInterface.ServerID,
		FixedIPAddress: networkInterface.FixedIPAddress,
		CreatedAt:      networkInterface.CreatedAt,
		UpdatedAt:      networkInterface.UpdatedAt,
	}
}

func renderNetworkInterfaces(networkInterfaces []models.NetworkInterface) []NetworkInterfaceView {
	result := make([]NetworkInterfaceView, len(networkInterfaces))
	for idx, networkInterface := range networkInterfaces {
		result[idx] = renderNetworkInterface(networkInterface)
	}
	return result
}

func renderNetworkInterfaceDetails(details processor.NetworkInterfaceDetails) NetworkInterfaceView {
	view := renderNetworkInterface(details.NetworkInterface)
	view.SecurityGroups = renderSecurityGroups(details.SecurityGroups)
	view.FloatingIPs = renderFloatingIPs(details.FloatingIPs)
	return view
}

// FloatingIPView is the JSON serialization of a floating IP.
type FloatingIPView struct {
	ID                 int64     `json:"id"`
	OpenStackID        string    `json:"openstack_id"`
	NetworkInterfaceID *int64    `json:"network_interface_id,omitempty"`
	Address            string    `json:"address"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func renderFloatingIP(fip models.FloatingIP) FloatingIPView {
	return FloatingIPView{
		ID:                 fip.ID,
		OpenStackID:        fip.OpenStackID,
		NetworkInterfaceID: fip.NetworkInterfaceID,
		Address:            fip.Address,
		Status:             string(fip.Status),
		CreatedAt:          fip.CreatedAt,
		UpdatedAt:          fip.UpdatedAt,
	}
}

func renderFloatingIPs(fips []models.FloatingIP) []FloatingIPView {
	result := make([]FloatingIPView, len(fips))
	for idx, fip := range fips {
		result[idx] = renderFloatingIP(fip)
	}
	return result
}
