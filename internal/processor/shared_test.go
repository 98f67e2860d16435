// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor_test

import (
	"errors"
	"testing"

	"github.com/sapcc/go-bits/easypg"

	"github.com/sapcc/nimbus/internal/nimbus"
)

func TestMain(m *testing.M) {
	easypg.WithTestDB(m, func() int { return m.Run() })
}

// expectAPIError checks that the error carries the given error code.
func expectAPIError(t *testing.T, err error, code nimbus.ErrorCode) {
	t.Helper()
	var apiErr *nimbus.APIError
	if !errors.As(err, &apiErr) {
		t.Errorf("expected APIError with code %s, but got: %v", code, err)
		return
	}
	if apiErr.Code != code {
		t.Errorf("expected error code %s, but got %s (%s)", code, apiErr.Code, apiErr.Message)
	}
}
