// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gophercloud/gophercloud"
)

// OpenStackError is returned by all Gateway operations when an OpenStack
// service responds with an unexpected status code. It preserves the status
// and response body so that callers can branch on specific upstream
// failures (e.g. treating 404 as success during compensation).
type OpenStackError struct {
	Status int
	Body   string
}

// Error implements the builtin/error interface.
func (e *OpenStackError) Error() string {
	return fmt.Sprintf("openstack returned status %d: %s", e.Status, e.Body)
}

// IsNotFound checks whether err is an OpenStackError with status 404.
func IsNotFound(err error) bool {
	var osErr *OpenStackError
	return errors.As(err, &osErr) && osErr.Status == http.StatusNotFound
}

// IsStatus checks whether err is an OpenStackError with the given status.
func IsStatus(err error, status int) bool {
	var osErr *OpenStackError
	return errors.As(err, &osErr) && osErr.Status == status
}

// asOpenStackError normalizes errors coming out of gophercloud calls. The
// gophercloud library reports unexpected status codes through a family of
// ErrDefaultXXX types that all embed ErrUnexpectedResponseCode; everything
// else (network errors, JSON errors) passes through unchanged.
func asOpenStackError(err error) error {
	if err == nil {
		return nil
	}
	if code, ok := unexpectedResponseCode(err); ok {
		return &OpenStackError{Status: code.Actual, Body: string(code.Body)}
	}
	return err
}

func unexpectedResponseCode(err error) (gophercloud.ErrUnexpectedResponseCode, bool) {
	switch e := err.(type) {
	case gophercloud.ErrUnexpectedResponseCode:
		return e, true
	case gophercloud.ErrDefault400:
		return e.ErrUnexpectedResponseCode, true
	case gophercloud.ErrDefault401:
		return e.ErrUnexpectedResponseCode, true
	case gophercloud.ErrDefault403:
		return e.ErrUnexpectedResponseCode, true
	case gophercloud.ErrDefault404:
		return e.ErrUnexpectedResponseCode, true
	case gophercloud.ErrDefault405:
		return e.ErrUnexpectedResponseCode, true
	case gophercloud.ErrDefault408:
		return e.ErrUnexpectedResponseCode, true
	case gophercloud.ErrDefault409:
		return e.ErrUnexpectedResponseCode, true
	case gophercloud.ErrDefault429:
		return e.ErrUnexpectedResponseCode, true
	case gophercloud.ErrDefault500:
		return e.ErrUnexpectedResponseCode, true
	case gophercloud.ErrDefault503:
		return e.ErrUnexpectedResponseCode, true
	default:
		return gophercloud.ErrUnexpectedResponseCode{}, false
	}
}
