// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package nimbusv1 implements the HTTP API of nimbus.
package nimbusv1

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sapcc/go-api-declarations/cadf"
	"github.com/sapcc/go-bits/audittools"
	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/nimbus/internal/nimbus"
	"github.com/sapcc/nimbus/internal/processor"
)

// API contains state variables used by the nimbus v1 API implementation.
type API struct {
	cfg          nimbus.Configuration
	processor    *processor.Processor
	auditor      nimbus.Auditor
	observerUUID string

	// dependency injection slot (usually filled by time.Now, overridden in tests)
	timeNow func() time.Time
}

// NewAPI constructs a new API instance.
func NewAPI(cfg nimbus.Configuration, proc *processor.Processor, auditor nimbus.Auditor) *API {
	return &API{cfg, proc, auditor, audittools.GenerateUUID(), time.Now}
}

// OverrideTimeNow replaces time.Now with a test double. For use in tests only.
func (a *API) OverrideTimeNow(timeNow func() time.Time) *API {
	a.timeNow = timeNow
	return a
}

// AddTo implements the api.API interface from go-bits/httpapi.
func (a *API) AddTo(r *mux.Router) {
	r.Methods("POST").Path("/auth/login").HandlerFunc(a.handleLogin)

	r.Methods("GET").Path("/users").HandlerFunc(a.handleListUsers)
	r.Methods("POST").Path("/users").HandlerFunc(a.handleCreateUser)
	r.Methods("GET").Path("/users/{id:[0-9]+}").HandlerFunc(a.handleGetUser)
	r.Methods("PUT").Path("/users/{id:[0-9]+}/info").HandlerFunc(a.handleUpdateUserInfo)
	r.Methods("DELETE").Path("/users/{id:[0-9]+}").HandlerFunc(a.handleDeleteUser)

	r.Methods("GET").Path("/projects").HandlerFunc(a.handleListProjects)
	r.Methods("GET").Path("/projects/{id:[0-9]+}").HandlerFunc(a.handleGetProject)
	r.Methods("PUT").Path("/projects/{id:[0-9]+}").HandlerFunc(a.handleUpdateProject)
	r.Methods("POST").Path("/projects/{id:[0-9]+}/users/{uid:[0-9]+}").HandlerFunc(a.handleAddUserToProject)
	r.Methods("DELETE").Path("/projects/{id:[0-9]+}/users/{uid:[0-9]+}").HandlerFunc(a.handleRemoveUserFromProject)

	r.Methods("GET").Path("/servers").HandlerFunc(a.handleListServers)
	r.Methods("POST").Path("/servers").HandlerFunc(a.handleCreateServer)
	r.Methods("GET").Path("/servers/{id:[0-9]+}").HandlerFunc(a.handleGetServer)
	r.Methods("PUT").Path("/servers/{id:[0-9]+}/info").HandlerFunc(a.handleUpdateServerInfo)
	r.Methods("PUT").Path("/servers/{id:[0-9]+}/status").HandlerFunc(a.handleUpdateServerStatus)
	r.Methods("DELETE").Path("/servers/{id:[0-9]+}").HandlerFunc(a.handleDeleteServer)
	r.Methods("GET").Path("/servers/{id:[0-9]+}/vnc-url").HandlerFunc(a.handleGetServerVNCURL)
	r.Methods("GET").Path("/servers/{id:[0-9]+}/network-interfaces").HandlerFunc(a.handleListNetworkInterfaces)
	r.Methods("POST").Path("/servers/{id:[0-9]+}/volumes/{vid:[0-9]+}").HandlerFunc(a.handleAttachVolume)
	r.Methods("DELETE").Path("/servers/{id:[0-9]+}/volumes/{vid:[0-9]+}").HandlerFunc(a.handleDetachVolume)

	r.Methods("GET").Path("/volumes").HandlerFunc(a.handleListVolumes)
	r.Methods("POST").Path("/volumes").HandlerFunc(a.handleCreateVolume)
	r.Methods("GET").Path("/volumes/{id:[0-9]+}").HandlerFunc(a.handleGetVolume)
	r.Methods("GET").Path("/volumes/{id:[0-9]+}/info").HandlerFunc(a.handleGetVolumeInfo)
	r.Methods("PUT").Path("/volumes/{id:[0-9]+}/info").HandlerFunc(a.handleRenameVolume)
	r.Methods("PUT").Path("/volumes/{id:[0-9]+}/size").HandlerFunc(a.handleResizeVolume)
	r.Methods("DELETE").Path("/volumes/{id:[0-9]+}").HandlerFunc(a.handleDeleteVolume)

	r.Methods("GET").Path("/security-groups").HandlerFunc(a.handleListSecurityGroups)
	r.Methods("POST").Path("/security-groups").HandlerFunc(a.handleCreateSecurityGroup)
	r.Methods("GET").Path("/security-groups/{id:[0-9]+}").HandlerFunc(a.handleGetSecurityGroup)
	r.Methods("PUT").Path("/security-groups/{id:[0-9]+}").HandlerFunc(a.handleUpdateSecurityGroup)
	r.Methods("DELETE").Path("/security-groups/{id:[0-9]+}").HandlerFunc(a.handleDeleteSecurityGroup)
	r.Methods("POST").Path("/security-groups/{id:[0-9]+}/rules").HandlerFunc(a.handleCreateSecurityGroupRule)
	r.Methods("DELETE").Path("/security-groups/{id:[0-9]+}/rules/{rule_id}").HandlerFunc(a.handleDeleteSecurityGroupRule)

	r.Methods("GET").Path("/network-interfaces/{id:[0-9]+}").HandlerFunc(a.handleGetNetworkInterface)
	r.Methods("PUT").Path("/network-interfaces/{id:[0-9]+}/security-groups").HandlerFunc(a.handleSetNetworkInterfaceSecurityGroups)
	r.Methods("POST").Path("/network-interfaces/{nid:[0-9]+}/floating-ips/{fid:[0-9]+}").HandlerFunc(a.handleAttachFloatingIP)
	r.Methods("DELETE").Path("/network-interfaces/{nid:[0-9]+}/floating-ips/{fid:[0-9]+}").HandlerFunc(a.handleDetachFloatingIP)

	r.Methods("GET").Path("/floating-ips").HandlerFunc(a.handleListFloatingIPs)
	r.Methods("POST").Path("/floating-ips").HandlerFunc(a.handleCreateFloatingIP)
	r.Methods("GET").Path("/floating-ips/{id:[0-9]+}").HandlerFunc(a.handleGetFloatingIP)
	r.Methods("DELETE").Path("/floating-ips/{id:[0-9]+}").HandlerFunc(a.handleDeleteFloatingIP)
}

// checkToken extracts and validates the access token from the Authorization
// header. On failure, the 401 response has already been written.
func (a *API) checkToken(w http.ResponseWriter, r *http.Request) (nimbus.CurrentUser, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		nimbus.ErrInvalidAccessToken.With("missing bearer token").WriteTo(w)
		return nimbus.CurrentUser{}, false
	}
	currentUser, err := nimbus.ParseAccessToken(a.cfg, token, a.timeNow())
	if err != nil {
		respondWithError(w, err)
		return nimbus.CurrentUser{}, false
	}
	return currentUser, true
}

// respondWithError reports an error in the format expected by API clients.
// Unexpected errors are logged and reported as a generic 500.
func respondWithError(w http.ResponseWriter, err error) {
	var apiErr *nimbus.APIError
	if !errors.As(err, &apiErr) {
		logg.Error("unexpected error in API handler: %s", err.Error())
	}
	nimbus.AsAPIError(err).WriteTo(w)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report field names as they appear in the JSON request body
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest parses and validates a JSON request body. On failure, the
// 422 response has already been written.
func decodeRequest(w http.ResponseWriter, r *http.Request, target any) bool {
	err := json.NewDecoder(r.Body).Decode(target)
	if err != nil {
		nimbus.ErrValidationFailed.With("request body is not valid JSON").WriteTo(w)
		return false
	}

	err = validate.Struct(target)
	if err != nil {
		apiErr := nimbus.ErrValidationFailed.With("request validation failed")
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fieldErr := range fieldErrs {
				apiErr.Fields = append(apiErr.Fields, nimbus.FieldError{
					Field:   fieldErr.Field(),
					Message: "failed on the '" + fieldErr.Tag() + "' rule",
					Type:    fieldErr.Tag(),
				})
			}
		}
		apiErr.WriteTo(w)
		return false
	}
	return true
}

// pathID parses a numeric path variable. The route patterns guarantee that
// the variable is all digits.
func pathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id
}

// audit records a CADF audit event for a successful mutating operation.
func (a *API) audit(r *http.Request, currentUser nimbus.CurrentUser, action cadf.Action, target nimbus.AuditResource) {
	params := audittools.EventParameters{
		Time:       a.timeNow(),
		Request:    r,
		User:       currentUser,
		ReasonCode: http.StatusOK,
		Action:     action,
		Target:     target,
	}
	params.Observer.TypeURI = "service/nimbus"
	params.Observer.Name = "nimbus"
	params.Observer.ID = a.observerUUID
	a.auditor.Record(params)
}
