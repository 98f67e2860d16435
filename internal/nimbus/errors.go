// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package nimbus

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sapcc/go-bits/respondwith"
)

// ErrorCode is the closed set of error codes that can appear in the error
// envelope of the nimbus API.
type ErrorCode string

// Possible values for ErrorCode.
const (
	// auth
	ErrInvalidAuth             ErrorCode = "INVALID_AUTH"
	ErrInvalidAccessToken      ErrorCode = "INVALID_ACCESS_TOKEN"
	ErrProjectAccessDenied     ErrorCode = "PROJECT_ACCESS_DENIED"
	ErrUserNotJoinedAnyProject ErrorCode = "USER_NOT_JOINED_ANY_PROJECT"

	// users
	ErrUserNotFound               ErrorCode = "USER_NOT_FOUND"
	ErrUserDuplicate              ErrorCode = "USER_DUPLICATE"
	ErrUserAccessDenied           ErrorCode = "USER_ACCESS_DENIED"
	ErrLastUserDeletionNotAllowed ErrorCode = "LAST_USER_DELETION_NOT_ALLOWED"

	// projects
	ErrProjectNotFound          ErrorCode = "PROJECT_NOT_FOUND"
	ErrProjectDuplicate         ErrorCode = "PROJECT_DUPLICATE"
	ErrProjectUserAlreadyJoined ErrorCode = "PROJECT_USER_ALREADY_JOINED"
	ErrProjectUserNotJoined     ErrorCode = "PROJECT_USER_NOT_JOINED"

	// servers
	ErrServerNotFound           ErrorCode = "SERVER_NOT_FOUND"
	ErrServerDuplicate          ErrorCode = "SERVER_DUPLICATE"
	ErrServerNotDeletable       ErrorCode = "SERVER_DELETION_NOT_ALLOWED"
	ErrServerStatusNotUpdatable ErrorCode = "SERVER_STATUS_UPDATE_NOT_ALLOWED"
	ErrServerCreationFailed     ErrorCode = "SERVER_CREATION_FAILED"
	ErrServerDeletionFailed     ErrorCode = "SERVER_DELETION_FAILED"
	ErrServerStatusUpdateFailed ErrorCode = "SERVER_STATUS_UPDATE_FAILED"

	// volumes
	ErrVolumeNotFound             ErrorCode = "VOLUME_NOT_FOUND"
	ErrVolumeDuplicate            ErrorCode = "VOLUME_DUPLICATE"
	ErrVolumeNotAvailable         ErrorCode = "VOLUME_NOT_AVAILABLE"
	ErrVolumeNotDeletable         ErrorCode = "VOLUME_DELETION_NOT_ALLOWED"
	ErrRootVolumeDetachNotAllowed ErrorCode = "ROOT_VOLUME_DETACHMENT_NOT_ALLOWED"
	ErrVolumeCreationFailed       ErrorCode = "VOLUME_CREATION_FAILED"
	ErrVolumeDeletionFailed       ErrorCode = "VOLUME_DELETION_FAILED"
	ErrVolumeResizingFailed       ErrorCode = "VOLUME_RESIZING_FAILED"
	ErrVolumeAttachmentFailed     ErrorCode = "VOLUME_ATTACHMENT_FAILED"
	ErrVolumeDetachmentFailed     ErrorCode = "VOLUME_DETACHMENT_FAILED"

	// security groups
	ErrSecurityGroupNotFound      ErrorCode = "SECURITY_GROUP_NOT_FOUND"
	ErrSecurityGroupDuplicate     ErrorCode = "SECURITY_GROUP_DUPLICATE"
	ErrSecurityGroupInUse         ErrorCode = "SECURITY_GROUP_IN_USE"
	ErrSecurityGroupRuleNotFound  ErrorCode = "SECURITY_GROUP_RULE_NOT_FOUND"
	ErrSecurityGroupRuleDuplicate ErrorCode = "SECURITY_GROUP_RULE_DUPLICATE"

	// network interfaces and floating IPs
	ErrNetworkInterfaceNotFound  ErrorCode = "NETWORK_INTERFACE_NOT_FOUND"
	ErrFloatingIPNotFound        ErrorCode = "FLOATING_IP_NOT_FOUND"
	ErrFloatingIPNotDeletable    ErrorCode = "FLOATING_IP_DELETION_NOT_ALLOWED"
	ErrFloatingIPAlreadyAttached ErrorCode = "FLOATING_IP_ALREADY_ATTACHED_TO_NETWORK_INTERFACE"
	ErrFloatingIPNotAttached     ErrorCode = "FLOATING_IP_NOT_ATTACHED_TO_NETWORK_INTERFACE"

	// cross-cutting
	ErrValidationFailed       ErrorCode = "VALIDATION_FAILED"
	ErrOptimisticLockConflict ErrorCode = "OPTIMISTIC_LOCK_CONFLICT"
	ErrOpenStack              ErrorCode = "OPEN_STACK"
	ErrInternal               ErrorCode = "INTERNAL"
)

var apiErrorStatusCodes = map[ErrorCode]int{
	ErrInvalidAuth:             http.StatusUnauthorized,
	ErrInvalidAccessToken:      http.StatusUnauthorized,
	ErrProjectAccessDenied:     http.StatusForbidden,
	ErrUserNotJoinedAnyProject: http.StatusConflict,

	ErrUserNotFound:               http.StatusNotFound,
	ErrUserDuplicate:              http.StatusConflict,
	ErrUserAccessDenied:           http.StatusForbidden,
	ErrLastUserDeletionNotAllowed: http.StatusForbidden,

	ErrProjectNotFound:          http.StatusNotFound,
	ErrProjectDuplicate:         http.StatusConflict,
	ErrProjectUserAlreadyJoined: http.StatusConflict,
	ErrProjectUserNotJoined:     http.StatusConflict,

	ErrServerNotFound:           http.StatusNotFound,
	ErrServerDuplicate:          http.StatusConflict,
	ErrServerNotDeletable:       http.StatusConflict,
	ErrServerStatusNotUpdatable: http.StatusConflict,
	ErrServerCreationFailed:     http.StatusInternalServerError,
	ErrServerDeletionFailed:     http.StatusInternalServerError,
	ErrServerStatusUpdateFailed: http.StatusInternalServerError,

	ErrVolumeNotFound:             http.StatusNotFound,
	ErrVolumeDuplicate:            http.StatusConflict,
	ErrVolumeNotAvailable:         http.StatusConflict,
	ErrVolumeNotDeletable:         http.StatusConflict,
	ErrRootVolumeDetachNotAllowed: http.StatusConflict,
	ErrVolumeCreationFailed:       http.StatusInternalServerError,
	ErrVolumeDeletionFailed:       http.StatusInternalServerError,
	ErrVolumeResizingFailed:       http.StatusInternalServerError,
	ErrVolumeAttachmentFailed:     http.StatusInternalServerError,
	ErrVolumeDetachmentFailed:     http.StatusInternalServerError,

	ErrSecurityGroupNotFound:      http.StatusNotFound,
	ErrSecurityGroupDuplicate:     http.StatusConflict,
	ErrSecurityGroupInUse:         http.StatusConflict,
	ErrSecurityGroupRuleNotFound:  http.StatusNotFound,
	ErrSecurityGroupRuleDuplicate: http.StatusConflict,

	ErrNetworkInterfaceNotFound:  http.StatusNotFound,
	ErrFloatingIPNotFound:        http.StatusNotFound,
	ErrFloatingIPNotDeletable:    http.StatusConflict,
	ErrFloatingIPAlreadyAttached: http.StatusConflict,
	ErrFloatingIPNotAttached:     http.StatusConflict,

	ErrValidationFailed:       http.StatusUnprocessableEntity,
	ErrOptimisticLockConflict: http.StatusConflict,
	ErrOpenStack:              http.StatusInternalServerError,
	ErrInternal:               http.StatusInternalServerError,
}

// With is a convenience function for constructing type APIError.
func (c ErrorCode) With(msg string, args ...any) *APIError {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	return &APIError{Code: c, Message: msg}
}

// FieldError describes a single request validation failure. It only appears
// in VALIDATION_FAILED envelopes.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// APIError is the error type that all service operations return. It renders
// into the JSON error envelope of the nimbus API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"errors,omitempty"`
}

// Error implements the builtin/error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Status returns the HTTP status code for this error.
func (e *APIError) Status() int {
	status, ok := apiErrorStatusCodes[e.Code]
	if !ok {
		return http.StatusInternalServerError
	}
	return status
}

// WriteTo reports this error in the format expected by API clients.
func (e *APIError) WriteTo(w http.ResponseWriter) {
	respondwith.JSON(w, e.Status(), e)
}

// AsAPIError casts err into an *APIError if possible. Unexpected errors are
// wrapped into a generic INTERNAL error that does not leak details upstream.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternal.With("internal server error")
}
