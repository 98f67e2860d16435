// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/nimbus/internal/models"
	"github.com/sapcc/nimbus/internal/nimbus"
	"github.com/sapcc/nimbus/internal/processor"
	"github.com/sapcc/nimbus/internal/test"
)

// scriptedServerResponder mocks GET /servers/{id}: each call consumes the
// next status from the script, and the last one repeats forever.
func scriptedServerResponder(serverOpenStackID, rootVolumeOpenStackID string, script ...string) httpmock.Responder {
	calls := 0
	return func(*http.Request) (*http.Response, error) {
		status := script[min(calls, len(script)-1)]
		calls++
		if status == "404" {
			return httpmock.NewStringResponse(http.StatusNotFound, `{"itemNotFound": {"code": 404}}`), nil
		}
		body := fmt.Sprintf(
			`{"server": {"id": %q, "status": %q, "os-extended-volumes:volumes_attached": [{"id": %q}]}}`,
			serverOpenStackID, status, rootVolumeOpenStackID)
		return httpmock.NewStringResponse(http.StatusOK, body), nil
	}
}

func (s serverTestFixtures) novaURL(path string) string {
	return s.setup.Cfg.Endpoints.Nova + path
}

func (s serverTestFixtures) neutronURL(path string) string {
	return s.setup.Cfg.Endpoints.Neutron + path
}

type serverTestFixtures struct {
	setup         test.Setup
	currentUser   nimbus.CurrentUser
	project       models.Project
	securityGroup models.SecurityGroup
}

func setupServerTest(t *testing.T, opts ...test.SetupOption) serverTestFixtures {
	t.Helper()
	s := test.NewSetup(t, opts...)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	project := s.MustCreateProject(t, domain.ID, "first", user.ID)
	securityGroup := models.SecurityGroup{
		ProjectID: project.ID, OpenStackID: "os-sg-default", Name: "default",
		LifecycleStatus: models.LifecycleActive, CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	s.MustInsert(t, &securityGroup)
	return serverTestFixtures{
		setup:         s,
		currentUser:   s.CurrentUserFor(user, project),
		project:       project,
		securityGroup: securityGroup,
	}
}

func TestCreateServerCompensatesPortOnNovaFailure(t *testing.T) {
	f := setupServerTest(t)
	s := f.setup

	s.OpenStack.RegisterResponder("POST", f.neutronURL("/ports"),
		httpmock.NewStringResponder(http.StatusCreated,
			`{"port": {"id": "port-1", "fixed_ips": [{"ip_address": "10.0.0.5"}]}}`))
	s.OpenStack.RegisterResponder("DELETE", f.neutronURL("/ports/port-1"),
		httpmock.NewStringResponder(http.StatusNoContent, ``))
	s.OpenStack.RegisterResponder("POST", f.novaURL("/servers"),
		httpmock.NewStringResponder(http.StatusInternalServerError, `{"computeFault": {"code": 500}}`))

	_, err := s.Processor.CreateServer(s.Ctx, f.currentUser, processorCreateServerParams(f))
	expectAPIError(t, err, nimbus.ErrOpenStack)

	// the orphaned port was cleaned up, exactly once
	assert.DeepEqual(t, "port deletions",
		s.OpenStack.GetCallCountInfo()["DELETE "+f.neutronURL("/ports/port-1")], 1)

	// the rollback left no trace in the mirror
	serverCount, err := s.DB.SelectInt(`SELECT COUNT(*) FROM servers`)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "server rows", serverCount, int64(0))
	nicCount, err := s.DB.SelectInt(`SELECT COUNT(*) FROM network_interfaces`)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "network interface rows", nicCount, int64(0))
	assert.DeepEqual(t, "pending tasks", len(s.Deferrer.PendingNames()), 0)
}

func TestServerCreationConvergesThroughPolling(t *testing.T) {
	f := setupServerTest(t)
	s := f.setup

	s.OpenStack.RegisterResponder("POST", f.neutronURL("/ports"),
		httpmock.NewStringResponder(http.StatusCreated,
			`{"port": {"id": "port-1", "fixed_ips": [{"ip_address": "10.0.0.5"}]}}`))
	s.OpenStack.RegisterResponder("POST", f.novaURL("/servers"),
		httpmock.NewStringResponder(http.StatusAccepted, `{"server": {"id": "srv-1"}}`))
	s.OpenStack.RegisterResponder("GET", f.novaURL("/servers/srv-1"),
		scriptedServerResponder("srv-1", "vol-root-1", "BUILD", "BUILD", "ACTIVE"))

	server, err := s.Processor.CreateServer(s.Ctx, f.currentUser, processorCreateServerParams(f))
	if err != nil {
		t.Fatalf("CreateServer failed: %s", err.Error())
	}
	assert.DeepEqual(t, "initial status", server.Status, models.ServerStatusBuild)

	// the network interface is mirrored right away
	nics, err := s.Processor.ListNetworkInterfaces(f.currentUser, server.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	if len(nics) != 1 || nics[0].OpenStackID != "port-1" || nics[0].FixedIPAddress != "10.0.0.5" {
		t.Errorf("unexpected network interfaces: %+v", nics)
	}

	s.Deferrer.MustRunPending(t, s.Ctx)
	s.ExpectServerStatus(t, server.ID, models.ServerStatusActive)

	// the poll inserted the root volume row from Nova's report
	volumes, err := s.Processor.ListVolumes(f.currentUser, "")
	if err != nil {
		t.Fatal(err.Error())
	}
	if len(volumes) != 1 {
		t.Fatalf("expected exactly one volume, but got: %+v", volumes)
	}
	rootVolume := volumes[0]
	assert.DeepEqual(t, "root volume openstack ID", rootVolume.OpenStackID, "vol-root-1")
	assert.DeepEqual(t, "root volume flag", rootVolume.IsRootVolume, true)
	assert.DeepEqual(t, "root volume status", rootVolume.Status, models.VolumeStatusInUse)
	if rootVolume.ServerID == nil || *rootVolume.ServerID != server.ID {
		t.Errorf("root volume not linked to server: %+v", rootVolume.ServerID)
	}
}

func TestServerCreationFailureMarksServerErrored(t *testing.T) {
	f := setupServerTest(t)
	s := f.setup

	s.OpenStack.RegisterResponder("POST", f.neutronURL("/ports"),
		httpmock.NewStringResponder(http.StatusCreated,
			`{"port": {"id": "port-1", "fixed_ips": [{"ip_address": "10.0.0.5"}]}}`))
	s.OpenStack.RegisterResponder("POST", f.novaURL("/servers"),
		httpmock.NewStringResponder(http.StatusAccepted, `{"server": {"id": "srv-1"}}`))
	s.OpenStack.RegisterResponder("GET", f.novaURL("/servers/srv-1"),
		scriptedServerResponder("srv-1", "vol-root-1", "BUILD", "ERROR"))

	server, err := s.Processor.CreateServer(s.Ctx, f.currentUser, processorCreateServerParams(f))
	if err != nil {
		t.Fatalf("CreateServer failed: %s", err.Error())
	}

	errs := s.Deferrer.RunPending(s.Ctx)
	if len(errs) != 1 {
		t.Fatalf("expected exactly one poll error, but got: %v", errs)
	}
	expectAPIError(t, errs[0], nimbus.ErrServerCreationFailed)
	s.ExpectServerStatus(t, server.ID, models.ServerStatusError)
}

func TestServerStatusUpdateRules(t *testing.T) {
	f := setupServerTest(t)
	s := f.setup

	server := models.Server{
		ProjectID: f.project.ID, OpenStackID: "srv-1", FlavorOpenStackID: "flavor-1",
		Name: "web", Status: models.ServerStatusBuild, LifecycleStatus: models.LifecycleActive,
		CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	s.MustInsert(t, &server)

	// no transitions out of BUILD
	err := s.Processor.UpdateServerStatus(s.Ctx, f.currentUser, server.ID, models.ServerStatusActive)
	expectAPIError(t, err, nimbus.ErrServerStatusNotUpdatable)
	err = s.Processor.UpdateServerStatus(s.Ctx, f.currentUser, server.ID, models.ServerStatusShutoff)
	expectAPIError(t, err, nimbus.ErrServerStatusNotUpdatable)
	// servers in BUILD cannot be deleted either
	err = s.Processor.DeleteServer(s.Ctx, f.currentUser, server.ID)
	expectAPIError(t, err, nimbus.ErrServerNotDeletable)
}

func TestStopServerConvergesThroughPolling(t *testing.T) {
	f := setupServerTest(t)
	s := f.setup

	server := models.Server{
		ProjectID: f.project.ID, OpenStackID: "srv-1", FlavorOpenStackID: "flavor-1",
		Name: "web", Status: models.ServerStatusActive, LifecycleStatus: models.LifecycleActive,
		CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	s.MustInsert(t, &server)

	s.OpenStack.RegisterResponder("POST", f.novaURL("/servers/srv-1/action"),
		httpmock.NewStringResponder(http.StatusAccepted, ``))
	s.OpenStack.RegisterResponder("GET", f.novaURL("/servers/srv-1"),
		scriptedServerResponder("srv-1", "vol-root-1", "ACTIVE", "SHUTOFF"))

	err := s.Processor.UpdateServerStatus(s.Ctx, f.currentUser, server.ID, models.ServerStatusShutoff)
	if err != nil {
		t.Fatalf("UpdateServerStatus failed: %s", err.Error())
	}
	// the mirror keeps the old status until the poll observes the change
	s.ExpectServerStatus(t, server.ID, models.ServerStatusActive)

	s.Deferrer.MustRunPending(t, s.Ctx)
	s.ExpectServerStatus(t, server.ID, models.ServerStatusShutoff)
}

func TestServerDeletionCleansUpDependentResources(t *testing.T) {
	f := setupServerTest(t)
	s := f.setup

	server := models.Server{
		ProjectID: f.project.ID, OpenStackID: "srv-1", FlavorOpenStackID: "flavor-1",
		Name: "web", Status: models.ServerStatusActive, LifecycleStatus: models.LifecycleActive,
		CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	s.MustInsert(t, &server)
	rootVolume := models.Volume{
		ProjectID: f.project.ID, ServerID: &server.ID, OpenStackID: "vol-root", VolumeTypeOpenStackID: "ssd",
		Name: "web-root", SizeGiB: 10, Status: models.VolumeStatusInUse, IsRootVolume: true,
		LifecycleStatus: models.LifecycleActive, CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	networkInterface := models.NetworkInterface{
		ProjectID: f.project.ID, ServerID: &server.ID, OpenStackID: "port-1", FixedIPAddress: "10.0.0.5",
		LifecycleStatus: models.LifecycleActive, CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	s.MustInsert(t, &rootVolume, &networkInterface)
	fip := models.FloatingIP{
		ProjectID: f.project.ID, NetworkInterfaceID: &networkInterface.ID, OpenStackID: "fip-1",
		Address: "203.0.113.10", Status: models.FloatingIPStatusActive,
		LifecycleStatus: models.LifecycleActive, CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	s.MustInsert(t, &fip)
	s.MustInsert(t, &models.NetworkInterfaceSecurityGroup{
		NetworkInterfaceID: networkInterface.ID, SecurityGroupID: f.securityGroup.ID,
	})

	s.OpenStack.RegisterResponder("DELETE", f.novaURL("/servers/srv-1"),
		httpmock.NewStringResponder(http.StatusNoContent, ``))
	s.OpenStack.RegisterResponder("GET", f.novaURL("/servers/srv-1"),
		scriptedServerResponder("srv-1", "vol-root", "ACTIVE", "404"))
	s.OpenStack.RegisterResponder("PUT", f.neutronURL("/floatingips/fip-1"),
		httpmock.NewStringResponder(http.StatusOK,
			`{"floatingip": {"id": "fip-1", "floating_ip_address": "203.0.113.10", "status": "DOWN"}}`))
	s.OpenStack.RegisterResponder("DELETE", f.neutronURL("/ports/port-1"),
		httpmock.NewStringResponder(http.StatusNoContent, ``))

	err := s.Processor.DeleteServer(s.Ctx, f.currentUser, server.ID)
	if err != nil {
		t.Fatalf("DeleteServer failed: %s", err.Error())
	}
	s.Deferrer.MustRunPending(t, s.Ctx)

	// everything that belonged to the server is soft-deleted or detached
	for _, check := range []struct {
		query    string
		expected int64
	}{
		{`SELECT COUNT(*) FROM servers WHERE deleted_at IS NULL`, 0},
		{`SELECT COUNT(*) FROM volumes WHERE deleted_at IS NULL`, 0},
		{`SELECT COUNT(*) FROM network_interfaces WHERE deleted_at IS NULL`, 0},
		{`SELECT COUNT(*) FROM network_interface_security_groups`, 0},
		{`SELECT COUNT(*) FROM floating_ips WHERE network_interface_id IS NOT NULL`, 0},
	} {
		count, err := s.DB.SelectInt(check.query)
		if err != nil {
			t.Fatal(err.Error())
		}
		if count != check.expected {
			t.Errorf("expected %d rows for %q, but got %d", check.expected, check.query, count)
		}
	}

	// the floating IP itself survives for reuse
	_, err = s.Processor.GetFloatingIP(f.currentUser, fip.ID)
	if err != nil {
		t.Errorf("floating IP unexpectedly gone: %s", err.Error())
	}
}

func TestServerDeletionBlockedWhileDataVolumesAttached(t *testing.T) {
	f := setupServerTest(t)
	s := f.setup

	server := models.Server{
		ProjectID: f.project.ID, OpenStackID: "srv-1", FlavorOpenStackID: "flavor-1",
		Name: "web", Status: models.ServerStatusActive, LifecycleStatus: models.LifecycleActive,
		CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	s.MustInsert(t, &server)
	rootVolume := models.Volume{
		ProjectID: f.project.ID, ServerID: &server.ID, OpenStackID: "vol-root", VolumeTypeOpenStackID: "ssd",
		Name: "web-root", SizeGiB: 10, Status: models.VolumeStatusInUse, IsRootVolume: true,
		LifecycleStatus: models.LifecycleActive, CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	dataVolume := models.Volume{
		ProjectID: f.project.ID, ServerID: &server.ID, OpenStackID: "vol-data", VolumeTypeOpenStackID: "ssd",
		Name: "data", SizeGiB: 10, Status: models.VolumeStatusInUse,
		LifecycleStatus: models.LifecycleActive, CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	s.MustInsert(t, &rootVolume, &dataVolume)

	// the root volume does not block deletion, the attached data volume does
	err := s.Processor.DeleteServer(s.Ctx, f.currentUser, server.ID)
	expectAPIError(t, err, nimbus.ErrServerNotDeletable)
	s.ExpectServerStatus(t, server.ID, models.ServerStatusActive)
	assert.DeepEqual(t, "pending tasks", len(s.Deferrer.PendingNames()), 0)

	// once the data volume is detached, deletion goes through
	dataVolume.DetachFromServer(s.Clock.Now())
	_, err = s.DB.Update(&dataVolume)
	if err != nil {
		t.Fatal(err.Error())
	}

	s.OpenStack.RegisterResponder("DELETE", f.novaURL("/servers/srv-1"),
		httpmock.NewStringResponder(http.StatusNoContent, ``))
	s.OpenStack.RegisterResponder("GET", f.novaURL("/servers/srv-1"),
		scriptedServerResponder("srv-1", "vol-root", "404"))

	err = s.Processor.DeleteServer(s.Ctx, f.currentUser, server.ID)
	if err != nil {
		t.Fatalf("DeleteServer failed: %s", err.Error())
	}
	s.Deferrer.MustRunPending(t, s.Ctx)

	// the detached data volume survives the server deletion
	volume, err := s.Processor.GetVolume(f.currentUser, dataVolume.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "data volume status", volume.Status, models.VolumeStatusAvailable)
}

func processorCreateServerParams(f serverTestFixtures) processor.CreateServerParams {
	return processor.CreateServerParams{
		Name:              "web",
		Description:       "frontend",
		FlavorOpenStackID: "flavor-1",
		ImageOpenStackID:  "image-1",
		RootVolumeSizeGiB: 10,
		RootVolumeTypeID:  "ssd",
		SecurityGroupIDs:  []int64{f.securityGroup.ID},
	}
}
