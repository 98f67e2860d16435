// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package nimbus

import (
	"encoding/json"
	"strconv"

	"github.com/sapcc/go-api-declarations/cadf"
	"github.com/sapcc/go-bits/audittools"
	"github.com/sapcc/go-bits/logg"
)

// Auditor records CADF audit events for mutating API operations. The
// production implementation writes them to the log; tests swap in a
// recording double.
type Auditor interface {
	Record(params audittools.EventParameters)
}

// LogAuditor is the default Auditor. Nimbus has no audit message bus, so
// events are rendered and logged.
type LogAuditor struct{}

// Record implements the Auditor interface.
func (LogAuditor) Record(params audittools.EventParameters) {
	event := audittools.NewEvent(params)
	buf, err := json.Marshal(event)
	if err != nil {
		logg.Error("cannot marshal audit event: %s", err.Error())
		return
	}
	logg.Other("AUDIT", "%s", string(buf))
}

// AuditResource is an audittools.TargetRenderer for the entities of the
// nimbus API.
type AuditResource struct {
	TypeURI     string
	ID          int64
	OpenStackID string
	ProjectID   string
}

// Render implements the audittools.TargetRenderer interface.
func (r AuditResource) Render() cadf.Resource {
	return cadf.Resource{
		TypeURI:   r.TypeURI,
		ID:        strconv.FormatInt(r.ID, 10),
		Name:      r.OpenStackID,
		ProjectID: r.ProjectID,
	}
}

// UserUUID implements the audittools.UserInfo interface.
func (u CurrentUser) UserUUID() string {
	return u.UserOpenStackID
}

// UserName implements the audittools.UserInfo interface.
func (u CurrentUser) UserName() string {
	return strconv.FormatInt(u.UserID, 10)
}

// UserDomainName implements the audittools.UserInfo interface.
func (u CurrentUser) UserDomainName() string {
	return "" // not stored in the access token
}

// ProjectScopeUUID implements the audittools.UserInfo interface.
func (u CurrentUser) ProjectScopeUUID() string {
	return u.ProjectOpenStackID
}

// ProjectScopeName implements the audittools.UserInfo interface.
func (u CurrentUser) ProjectScopeName() string {
	return strconv.FormatInt(u.ProjectID, 10)
}

// ProjectScopeDomainName implements the audittools.UserInfo interface.
func (u CurrentUser) ProjectScopeDomainName() string {
	return "" // not stored in the access token
}

// DomainScopeUUID implements the audittools.UserInfo interface.
func (u CurrentUser) DomainScopeUUID() string {
	return "" // access tokens are always project-scoped
}

// DomainScopeName implements the audittools.UserInfo interface.
func (u CurrentUser) DomainScopeName() string {
	return "" // access tokens are always project-scoped
}

// ApplicationCredentialID implements the audittools.UserInfo interface.
func (u CurrentUser) ApplicationCredentialID() string {
	return ""
}
