// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sapcc/nimbus/internal/nimbus"
)

const staleDataRetryAttempts = 3

// withOptimisticLockRetry runs the action, retrying with exponential backoff
// when it fails because of a concurrent update to a versioned row. The
// action must reload the row on each attempt; see the Update methods on the
// project and security group services. After the retry budget is exhausted,
// the conflict surfaces to the client as 409 OPTIMISTIC_LOCK_CONFLICT.
func withOptimisticLockRetry(action func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(10*time.Millisecond),
		backoff.WithMaxInterval(100*time.Millisecond),
	), staleDataRetryAttempts-1)

	err := backoff.Retry(func() error {
		err := action()
		if errors.Is(err, nimbus.ErrStaleData) {
			return err // retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, policy)

	if errors.Is(err, nimbus.ErrStaleData) {
		return nimbus.ErrOptimisticLockConflict.With("the resource was concurrently modified, please retry")
	}
	return err
}
