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
	"github.com/sapcc/nimbus/internal/test"
)

// scriptedVolumeResponder mocks GET /volumes/{id}: each call consumes the
// next status from the script, and the last one repeats forever.
func scriptedVolumeResponder(volumeOpenStackID string, sizeGiB int, script ...string) httpmock.Responder {
	calls := 0
	return func(*http.Request) (*http.Response, error) {
		status := script[min(calls, len(script)-1)]
		calls++
		if status == "404" {
			return httpmock.NewStringResponse(http.StatusNotFound, `{"itemNotFound": {"code": 404}}`), nil
		}
		body := fmt.Sprintf(`{"volume": {"id": %q, "status": %q, "size": %d}}`, volumeOpenStackID, status, sizeGiB)
		return httpmock.NewStringResponse(http.StatusOK, body), nil
	}
}

func TestVolumeCreationConvergesThroughPolling(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	project := s.MustCreateProject(t, domain.ID, "first", user.ID)
	currentUser := s.CurrentUserFor(user, project)
	cinderURL := s.Cfg.Endpoints.Cinder + "/" + project.OpenStackID

	s.OpenStack.RegisterResponder("POST", cinderURL+"/volumes",
		httpmock.NewStringResponder(http.StatusAccepted, `{"volume": {"id": "vol-1", "status": "creating", "size": 10}}`))
	s.OpenStack.RegisterResponder("GET", cinderURL+"/volumes/vol-1",
		scriptedVolumeResponder("vol-1", 10, "creating", "creating", "available"))

	volume, err := s.Processor.CreateVolume(s.Ctx, currentUser, "data", "ssd", 10, nil)
	if err != nil {
		t.Fatalf("CreateVolume failed: %s", err.Error())
	}
	assert.DeepEqual(t, "initial status", volume.Status, models.VolumeStatusCreating)
	assert.DeepEqual(t, "pending tasks", s.Deferrer.PendingNames(), []string{"poll volume creation"})

	s.Deferrer.MustRunPending(t, s.Ctx)
	s.ExpectVolumeStatus(t, volume.ID, models.VolumeStatusAvailable)
}

func TestVolumeCreationFailsWhenPollBudgetRunsOut(t *testing.T) {
	s := test.NewSetup(t, test.WithPollMaxAttempts(3))
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	project := s.MustCreateProject(t, domain.ID, "first", user.ID)
	currentUser := s.CurrentUserFor(user, project)
	cinderURL := s.Cfg.Endpoints.Cinder + "/" + project.OpenStackID

	s.OpenStack.RegisterResponder("POST", cinderURL+"/volumes",
		httpmock.NewStringResponder(http.StatusAccepted, `{"volume": {"id": "vol-1", "status": "creating", "size": 10}}`))
	s.OpenStack.RegisterResponder("GET", cinderURL+"/volumes/vol-1",
		scriptedVolumeResponder("vol-1", 10, "creating"))

	volume, err := s.Processor.CreateVolume(s.Ctx, currentUser, "data", "ssd", 10, nil)
	if err != nil {
		t.Fatalf("CreateVolume failed: %s", err.Error())
	}

	errs := s.Deferrer.RunPending(s.Ctx)
	if len(errs) != 1 {
		t.Fatalf("expected exactly one poll error, but got: %v", errs)
	}
	expectAPIError(t, errs[0], nimbus.ErrVolumeCreationFailed)
	s.ExpectVolumeStatus(t, volume.ID, models.VolumeStatusError)
	assert.DeepEqual(t, "poll attempts",
		s.OpenStack.GetCallCountInfo()["GET "+cinderURL+"/volumes/vol-1"], 3)
}

func TestVolumeCreationFailsOnUnknownStatus(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	project := s.MustCreateProject(t, domain.ID, "first", user.ID)
	currentUser := s.CurrentUserFor(user, project)
	cinderURL := s.Cfg.Endpoints.Cinder + "/" + project.OpenStackID

	s.OpenStack.RegisterResponder("POST", cinderURL+"/volumes",
		httpmock.NewStringResponder(http.StatusAccepted, `{"volume": {"id": "vol-1", "status": "creating", "size": 10}}`))
	// a status outside the known state machine must fail closed, not hang
	s.OpenStack.RegisterResponder("GET", cinderURL+"/volumes/vol-1",
		scriptedVolumeResponder("vol-1", 10, "awaiting-transfer"))

	volume, err := s.Processor.CreateVolume(s.Ctx, currentUser, "data", "ssd", 10, nil)
	if err != nil {
		t.Fatalf("CreateVolume failed: %s", err.Error())
	}

	errs := s.Deferrer.RunPending(s.Ctx)
	if len(errs) != 1 {
		t.Fatalf("expected exactly one poll error, but got: %v", errs)
	}
	expectAPIError(t, errs[0], nimbus.ErrVolumeCreationFailed)
	s.ExpectVolumeStatus(t, volume.ID, models.VolumeStatusError)
}

func TestVolumeResizingConvergesThroughPolling(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	project := s.MustCreateProject(t, domain.ID, "first", user.ID)
	currentUser := s.CurrentUserFor(user, project)
	cinderURL := s.Cfg.Endpoints.Cinder + "/" + project.OpenStackID

	volume := models.Volume{
		ProjectID: project.ID, OpenStackID: "vol-1", VolumeTypeOpenStackID: "ssd",
		Name: "data", SizeGiB: 10, Status: models.VolumeStatusAvailable,
		LifecycleStatus: models.LifecycleActive, CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	s.MustInsert(t, &volume)

	s.OpenStack.RegisterResponder("POST", cinderURL+"/volumes/vol-1/action",
		httpmock.NewStringResponder(http.StatusAccepted, ``))
	s.OpenStack.RegisterResponder("GET", cinderURL+"/volumes/vol-1",
		scriptedVolumeResponder("vol-1", 20, "extending", "available"))

	_, err := s.Processor.ResizeVolume(s.Ctx, currentUser, volume.ID, 20)
	if err != nil {
		t.Fatalf("ResizeVolume failed: %s", err.Error())
	}
	s.ExpectVolumeStatus(t, volume.ID, models.VolumeStatusExtending)

	s.Deferrer.MustRunPending(t, s.Ctx)
	s.ExpectVolumeStatus(t, volume.ID, models.VolumeStatusAvailable)
	sizeGiB, err := s.DB.SelectInt(`SELECT size_gib FROM volumes WHERE id = $1`, volume.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "size after resize", sizeGiB, int64(20))
}

func TestVolumeCannotShrink(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	project := s.MustCreateProject(t, domain.ID, "first", user.ID)
	currentUser := s.CurrentUserFor(user, project)

	volume := models.Volume{
		ProjectID: project.ID, OpenStackID: "vol-1", VolumeTypeOpenStackID: "ssd",
		Name: "data", SizeGiB: 10, Status: models.VolumeStatusAvailable,
		LifecycleStatus: models.LifecycleActive, CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	s.MustInsert(t, &volume)

	_, err := s.Processor.ResizeVolume(s.Ctx, currentUser, volume.ID, 5)
	expectAPIError(t, err, nimbus.ErrVolumeNotAvailable)
	_, err = s.Processor.ResizeVolume(s.Ctx, currentUser, volume.ID, 10)
	expectAPIError(t, err, nimbus.ErrVolumeNotAvailable)
}

func TestVolumeDeletionRules(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	project := s.MustCreateProject(t, domain.ID, "first", user.ID)
	currentUser := s.CurrentUserFor(user, project)

	server := models.Server{
		ProjectID: project.ID, OpenStackID: "srv-1", FlavorOpenStackID: "flavor-1",
		Name: "web", Status: models.ServerStatusActive, LifecycleStatus: models.LifecycleActive,
		CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	s.MustInsert(t, &server)
	rootVolume := models.Volume{
		ProjectID: project.ID, ServerID: &server.ID, OpenStackID: "vol-root", VolumeTypeOpenStackID: "ssd",
		Name: "web-root", SizeGiB: 10, Status: models.VolumeStatusInUse, IsRootVolume: true,
		LifecycleStatus: models.LifecycleActive, CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	attachedVolume := models.Volume{
		ProjectID: project.ID, ServerID: &server.ID, OpenStackID: "vol-data", VolumeTypeOpenStackID: "ssd",
		Name: "data", SizeGiB: 10, Status: models.VolumeStatusInUse,
		LifecycleStatus: models.LifecycleActive, CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	s.MustInsert(t, &rootVolume, &attachedVolume)

	// root volumes are deleted through their server only
	err := s.Processor.DeleteVolume(s.Ctx, currentUser, rootVolume.ID)
	expectAPIError(t, err, nimbus.ErrVolumeNotDeletable)
	// attached data volumes have to be detached first
	err = s.Processor.DeleteVolume(s.Ctx, currentUser, attachedVolume.ID)
	expectAPIError(t, err, nimbus.ErrVolumeNotDeletable)
	// root volumes cannot be detached either
	err = s.Processor.DetachVolume(s.Ctx, currentUser, server.ID, rootVolume.ID)
	expectAPIError(t, err, nimbus.ErrRootVolumeDetachNotAllowed)
}

func TestFailedAttachmentLeavesVolumeDeletable(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	project := s.MustCreateProject(t, domain.ID, "first", user.ID)
	currentUser := s.CurrentUserFor(user, project)
	cinderURL := s.Cfg.Endpoints.Cinder + "/" + project.OpenStackID

	server := models.Server{
		ProjectID: project.ID, OpenStackID: "srv-1", FlavorOpenStackID: "flavor-1",
		Name: "web", Status: models.ServerStatusActive, LifecycleStatus: models.LifecycleActive,
		CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	s.MustInsert(t, &server)
	volume := models.Volume{
		ProjectID: project.ID, OpenStackID: "vol-1", VolumeTypeOpenStackID: "ssd",
		Name: "data", SizeGiB: 10, Status: models.VolumeStatusAvailable,
		LifecycleStatus: models.LifecycleActive, CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	s.MustInsert(t, &volume)

	s.OpenStack.RegisterResponder("POST", s.Cfg.Endpoints.Nova+"/servers/srv-1/os-volume_attachments",
		httpmock.NewStringResponder(http.StatusOK,
			`{"volumeAttachment": {"id": "vol-1", "serverId": "srv-1", "volumeId": "vol-1"}}`))
	s.OpenStack.RegisterResponder("GET", cinderURL+"/volumes/vol-1",
		scriptedVolumeResponder("vol-1", 10, "attaching", "error"))

	err := s.Processor.AttachVolume(s.Ctx, currentUser, server.ID, volume.ID)
	if err != nil {
		t.Fatalf("AttachVolume failed: %s", err.Error())
	}
	s.ExpectVolumeStatus(t, volume.ID, models.VolumeStatusAttaching)

	errs := s.Deferrer.RunPending(s.Ctx)
	if len(errs) != 1 {
		t.Fatalf("expected exactly one poll error, but got: %v", errs)
	}
	expectAPIError(t, errs[0], nimbus.ErrVolumeAttachmentFailed)
	s.ExpectVolumeStatus(t, volume.ID, models.VolumeStatusError)

	// the failed attachment must not keep the server link, otherwise the
	// volume could neither be detached nor deleted anymore
	serverID, err := s.DB.SelectNullInt(`SELECT server_id FROM volumes WHERE id = $1`, volume.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	if serverID.Valid {
		t.Fatalf("expected server_id to be cleared after failed attachment, but got %d", serverID.Int64)
	}

	// the errored volume can still be deleted
	s.OpenStack.RegisterResponder("DELETE", cinderURL+"/volumes/vol-1",
		httpmock.NewStringResponder(http.StatusAccepted, ``))
	s.OpenStack.RegisterResponder("GET", cinderURL+"/volumes/vol-1",
		scriptedVolumeResponder("vol-1", 10, "deleting", "404"))

	err = s.Processor.DeleteVolume(s.Ctx, currentUser, volume.ID)
	if err != nil {
		t.Fatalf("DeleteVolume failed: %s", err.Error())
	}
	s.Deferrer.MustRunPending(t, s.Ctx)
	_, err = s.Processor.GetVolume(currentUser, volume.ID)
	expectAPIError(t, err, nimbus.ErrVolumeNotFound)
}

func TestVolumeDeletionConvergesThroughPolling(t *testing.T) {
	s := test.NewSetup(t)
	domain := s.MustCreateDomain(t)
	user := s.MustCreateUser(t, domain.ID, "alice")
	project := s.MustCreateProject(t, domain.ID, "first", user.ID)
	currentUser := s.CurrentUserFor(user, project)
	cinderURL := s.Cfg.Endpoints.Cinder + "/" + project.OpenStackID

	volume := models.Volume{
		ProjectID: project.ID, OpenStackID: "vol-1", VolumeTypeOpenStackID: "ssd",
		Name: "data", SizeGiB: 10, Status: models.VolumeStatusAvailable,
		LifecycleStatus: models.LifecycleActive, CreatedAt: s.Clock.Now(), UpdatedAt: s.Clock.Now(),
	}
	s.MustInsert(t, &volume)

	s.OpenStack.RegisterResponder("DELETE", cinderURL+"/volumes/vol-1",
		httpmock.NewStringResponder(http.StatusAccepted, ``))
	s.OpenStack.RegisterResponder("GET", cinderURL+"/volumes/vol-1",
		scriptedVolumeResponder("vol-1", 10, "deleting", "404"))

	err := s.Processor.DeleteVolume(s.Ctx, currentUser, volume.ID)
	if err != nil {
		t.Fatalf("DeleteVolume failed: %s", err.Error())
	}
	s.Deferrer.MustRunPending(t, s.Ctx)

	// the row is soft-deleted and no longer visible to finders
	_, err = s.Processor.GetVolume(currentUser, volume.ID)
	expectAPIError(t, err, nimbus.ErrVolumeNotFound)
	deletedAt, err := s.DB.SelectNullStr(`SELECT deleted_at FROM volumes WHERE id = $1`, volume.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	if !deletedAt.Valid {
		t.Error("expected deleted_at to be set after deletion poll finished")
	}
}
