// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package nimbus

import (
	"errors"

	"github.com/go-gorp/gorp/v3"
)

// ErrStaleData is returned by UpdateWithOptimisticLock when the stored
// version of a row has advanced past the version that was loaded. Callers
// reload the row and retry with bounded backoff; see
// processor.withOptimisticLockRetry.
var ErrStaleData = errors.New("stale data: row version has advanced")

// UpdateWithOptimisticLock persists a versioned entity (Project or
// SecurityGroup). The generated UPDATE carries a `version` predicate and
// increments the version column, so concurrent updates of the same row
// version surface as ErrStaleData instead of silently losing writes.
func UpdateWithOptimisticLock(dbi gorp.SqlExecutor, entity any) error {
	_, err := dbi.Update(entity)
	var lockErr gorp.OptimisticLockError
	if errors.As(err, &lockErr) {
		return ErrStaleData
	}
	return err
}

// scanCount runs a SELECT COUNT(*) query.
func scanCount(dbi gorp.SqlExecutor, query string, args ...any) (int64, error) {
	return dbi.SelectInt(query, args...)
}

// scanExists runs an existence query.
func scanExists(dbi gorp.SqlExecutor, query string, args ...any) (bool, error) {
	count, err := scanCount(dbi, query, args...)
	return count > 0, err
}
